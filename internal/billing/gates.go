package billing

import "dirhub/internal/types"

// Feature gates used by dashboard code paths. Each consults exactly one
// capability field; none compares tiers directly.

func CanAddListing(tier types.Tier, current int) bool {
	return withinLimit(CapabilitiesFor(tier).MaxListings, current)
}

func CanAddLocation(tier types.Tier, current int) bool {
	return withinLimit(CapabilitiesFor(tier).MaxLocations, current)
}

func CanAddPhoto(tier types.Tier, current int) bool {
	return withinLimit(CapabilitiesFor(tier).MaxPhotos, current)
}

func ShowLeadCapture(tier types.Tier) bool {
	return CapabilitiesFor(tier).LeadCapture
}

func ShowAnalytics(tier types.Tier) bool {
	return CapabilitiesFor(tier).Analytics
}

func ShowFeaturedPlacement(tier types.Tier) bool {
	return CapabilitiesFor(tier).FeaturedPlacement
}

func ShowPhotoGallery(tier types.Tier) bool {
	return CapabilitiesFor(tier).PhotoGallery
}

func AllowCustomBranding(tier types.Tier) bool {
	return CapabilitiesFor(tier).CustomBranding
}

func AllowAPIAccess(tier types.Tier) bool {
	return CapabilitiesFor(tier).APIAccess
}

func HasPrioritySupport(tier types.Tier) bool {
	return CapabilitiesFor(tier).PrioritySupport
}
