package types

import "time"

// Company is the tenant entity: one listed business on the directory sites.
type Company struct {
	ID               string    `json:"id" db:"id"`
	Name             string    `json:"name" db:"name"`
	Tier             Tier      `json:"tier" db:"tier"`
	StripeCustomerID string    `json:"-" db:"stripe_customer_id"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// HasBillingAccount reports whether the company completed a checkout before.
func (c *Company) HasBillingAccount() bool {
	return c != nil && c.StripeCustomerID != ""
}

// Unlimited is the sentinel for a capability limit with no upper bound.
const Unlimited = -1

// CapabilitySet is the concrete set of limits and flags granted by a tier.
// It is derived on every check and never stored.
type CapabilitySet struct {
	MaxListings       int  `json:"max_listings"`
	MaxLocations      int  `json:"max_locations"`
	MaxPhotos         int  `json:"max_photos"`
	Analytics         bool `json:"analytics"`
	PrioritySupport   bool `json:"priority_support"`
	FeaturedPlacement bool `json:"featured_placement"`
	CustomBranding    bool `json:"custom_branding"`
	APIAccess         bool `json:"api_access"`
	PhotoGallery      bool `json:"photo_gallery"`
	LeadCapture       bool `json:"lead_capture"`
}

// CompanyRefKind discriminates the two ways an event can identify a company.
type CompanyRefKind int

const (
	RefNone CompanyRefKind = iota
	RefByID
	RefByCustomer
)

// CompanyRef identifies the company an event applies to: either directly by
// id (new subscriptions, via checkout metadata) or by the provider customer
// reference (updates and cancellations).
type CompanyRef struct {
	Kind  CompanyRefKind
	Value string
}

// ByID references a company by its identifier.
func ByID(id string) CompanyRef {
	return CompanyRef{Kind: RefByID, Value: id}
}

// ByCustomerRef references a company by its provider customer reference.
func ByCustomerRef(ref string) CompanyRef {
	return CompanyRef{Kind: RefByCustomer, Value: ref}
}

// IsZero reports whether the reference identifies nothing.
func (r CompanyRef) IsZero() bool {
	return r.Kind == RefNone || r.Value == ""
}

// String renders the reference for logs.
func (r CompanyRef) String() string {
	switch r.Kind {
	case RefByID:
		return "id:" + r.Value
	case RefByCustomer:
		return "customer:" + r.Value
	default:
		return "none"
	}
}

// ProviderEvent is a verified provider notification decoded into the fields
// the mapper needs. It carries no tier decision yet.
type ProviderEvent struct {
	ID          string
	Kind        EventKind
	RawType     string
	Created     time.Time
	CustomerRef string
	Metadata    map[string]string
	PriceIDs    []string
	Status      SubscriptionStatus
}

// SubscriptionEvent is the normalized, mapped form of a provider notification.
// It is consumed immediately by the synchronizer and never persisted.
type SubscriptionEvent struct {
	EventID     string
	Kind        EventKind
	Ref         CompanyRef
	CustomerRef string
	Tier        Tier
	OccurredAt  time.Time
}

// Ignored reports whether applying the event is a no-op.
func (e SubscriptionEvent) Ignored() bool {
	return e.Kind == EventIgnored
}

// CheckoutIntent is the ephemeral request to open a hosted checkout.
// Metadata is echoed back verbatim on the completion notification.
type CheckoutIntent struct {
	CompanyID   string
	Tier        Tier
	PriceID     string
	CustomerRef string
	Metadata    map[string]string
	URLs        RedirectURLs
}

// RedirectURLs guides the user back after the hosted checkout.
type RedirectURLs struct {
	Success string
	Cancel  string
}

// TierUpdate is the outcome of one atomic conditional tier write.
type TierUpdate struct {
	// Found is false when no company matched the reference.
	Found        bool
	CompanyID    string
	PreviousTier Tier
	Tier         Tier
	// Changed is false when the write was a no-op (same tier, same customer).
	Changed bool
}

// TierChange describes a committed transition of a company's tier.
type TierChange struct {
	CompanyID    string    `json:"company_id"`
	PreviousTier Tier      `json:"previous_tier"`
	NewTier      Tier      `json:"new_tier"`
	CustomerRef  string    `json:"customer_ref,omitempty"`
	EventID      string    `json:"event_id"`
	EventKind    EventKind `json:"event_kind"`
	OccurredAt   time.Time `json:"occurred_at"`
}
