// Package billing holds the subscription tier domain: the capability table,
// feature gates, checkout initiation, event-to-tier mapping and the tier
// synchronizer that is the only writer of a company's tier.
package billing

import "dirhub/internal/types"

// capabilityTable is keyed by exact tier. Capabilities are not monotonic in the
// tier ordering: featured grants placement but not priority support, and
// premium and featured both grant lead capture.
var capabilityTable = map[types.Tier]types.CapabilitySet{
	types.TierBasic: {
		MaxListings:  1,
		MaxLocations: 1,
		MaxPhotos:    3,
	},
	types.TierEnhanced: {
		MaxListings:  3,
		MaxLocations: 2,
		MaxPhotos:    10,
		Analytics:    true,
		PhotoGallery: true,
	},
	types.TierPremium: {
		MaxListings:     10,
		MaxLocations:    5,
		MaxPhotos:       25,
		Analytics:       true,
		PrioritySupport: true,
		PhotoGallery:    true,
		LeadCapture:     true,
	},
	types.TierFeatured: {
		MaxListings:       10,
		MaxLocations:      5,
		MaxPhotos:         50,
		Analytics:         true,
		FeaturedPlacement: true,
		CustomBranding:    true,
		PhotoGallery:      true,
		LeadCapture:       true,
	},
	types.TierBundleAll: {
		MaxListings:       types.Unlimited,
		MaxLocations:      types.Unlimited,
		MaxPhotos:         types.Unlimited,
		Analytics:         true,
		PrioritySupport:   true,
		FeaturedPlacement: true,
		CustomBranding:    true,
		APIAccess:         true,
		PhotoGallery:      true,
		LeadCapture:       true,
	},
}

// CapabilitiesFor returns the capability set granted by tier.
// Unknown values get the basic set so a corrupt tier never unlocks features.
func CapabilitiesFor(tier types.Tier) types.CapabilitySet {
	if caps, ok := capabilityTable[tier]; ok {
		return caps
	}
	return capabilityTable[types.TierBasic]
}

// withinLimit reports whether one more item fits under limit given current usage.
func withinLimit(limit, current int) bool {
	if limit == types.Unlimited {
		return true
	}
	return current < limit
}
