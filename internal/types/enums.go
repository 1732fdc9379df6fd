package types

import "strings"

// Tier identifies the subscription level of a company.
// Tiers are totally ordered: basic < enhanced < premium < featured < bundle_all.
type Tier string

const (
	TierBasic     Tier = "basic"
	TierEnhanced  Tier = "enhanced"
	TierPremium   Tier = "premium"
	TierFeatured  Tier = "featured"
	TierBundleAll Tier = "bundle_all"
)

// AllTiers lists every tier in ascending order.
var AllTiers = []Tier{TierBasic, TierEnhanced, TierPremium, TierFeatured, TierBundleAll}

// PaidTiers lists the tiers that have a purchasable product.
var PaidTiers = []Tier{TierEnhanced, TierPremium, TierFeatured, TierBundleAll}

// ParseTier normalizes s and returns the matching Tier.
// The second return value is false when s names no known tier.
func ParseTier(s string) (Tier, bool) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if t.Valid() {
		return t, true
	}
	return "", false
}

// Valid reports whether t is one of the enumerated tiers.
func (t Tier) Valid() bool {
	return t.rank() >= 0
}

// IsPaid reports whether t is a known tier above basic.
func (t Tier) IsPaid() bool {
	return t.rank() > 0
}

// AtLeast reports whether t is ordered at or above other.
// Feature gates must not use this; they consult the capability table.
func (t Tier) AtLeast(other Tier) bool {
	return t.Valid() && other.Valid() && t.rank() >= other.rank()
}

func (t Tier) rank() int {
	for i, v := range AllTiers {
		if v == t {
			return i
		}
	}
	return -1
}

// EventKind is the normalized kind of an inbound payment-provider notification.
type EventKind string

const (
	EventSessionCompleted    EventKind = "session_completed"
	EventSubscriptionUpdated EventKind = "subscription_updated"
	EventSubscriptionDeleted EventKind = "subscription_deleted"

	// EventIgnored marks a well-formed notification that needs no action.
	EventIgnored EventKind = "ignored"
)

// SubscriptionStatus mirrors the provider's subscription status values.
type SubscriptionStatus string

const (
	SubStatusActive            SubscriptionStatus = "active"
	SubStatusPastDue           SubscriptionStatus = "past_due"
	SubStatusCanceled          SubscriptionStatus = "canceled"
	SubStatusIncomplete        SubscriptionStatus = "incomplete"
	SubStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubStatusTrialing          SubscriptionStatus = "trialing"
	SubStatusUnpaid            SubscriptionStatus = "unpaid"
)

// Terminated reports whether the status means the subscription no longer
// grants a paid tier.
func (s SubscriptionStatus) Terminated() bool {
	switch s {
	case SubStatusCanceled, SubStatusIncompleteExpired, SubStatusUnpaid:
		return true
	default:
		return false
	}
}

// ActorType identifies the kind of authenticated entity making a request.
type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeSystem ActorType = "system"
)
