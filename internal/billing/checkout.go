package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"dirhub/internal/types"
)

// ErrNoBillingAccount signals that the company never completed a checkout, so
// there is no provider customer to open a portal for. Callers should route the
// user to checkout instead.
var ErrNoBillingAccount = types.NewAppError(
	types.ErrCodeValidationNoBillingAccount,
	"No billing account exists for this company; start a checkout first",
	nil,
)

// CheckoutProvider opens hosted sessions with the payment provider.
type CheckoutProvider interface {
	// CreateCheckoutSession returns the hosted checkout URL for intent.
	CreateCheckoutSession(ctx context.Context, intent types.CheckoutIntent) (string, error)
	// CreatePortalSession returns the self-service portal URL for customerRef.
	CreatePortalSession(ctx context.Context, customerRef, returnURL string) (string, error)
}

// CompanyReader loads a company by id. A missing company must be reported as
// an AppError with ErrCodeNotFoundCompany.
type CompanyReader interface {
	GetByID(ctx context.Context, id string) (*types.Company, error)
}

// CheckoutConfig holds the settings the initiator needs.
type CheckoutConfig struct {
	PublicBaseURL string
	PriceIDs      map[types.Tier]string
	Timeout       time.Duration
}

// CheckoutResult is the redirect target for the user. Degraded is true when
// the URL is a fallback rather than a provider session.
type CheckoutResult struct {
	RedirectURL string `json:"redirect_url"`
	Degraded    bool   `json:"degraded"`
}

// Checkout outcomes reported to Metrics.
const (
	checkoutSession        = "session"
	checkoutNoProvider     = "fallback_unconfigured"
	checkoutProviderFailed = "fallback_error"
	checkoutRejected       = "rejected"
)

// CheckoutInitiator starts upgrades and portal sessions. It never writes
// company state; the tier only changes when the provider's notification is
// applied by the Synchronizer.
type CheckoutInitiator struct {
	provider  CheckoutProvider
	companies CompanyReader
	cfg       CheckoutConfig
	metrics   Metrics
	logger    *slog.Logger
}

// NewCheckoutInitiator wires an initiator. provider may be nil when no payment
// provider is configured; checkout then degrades to the unconfigured fallback.
func NewCheckoutInitiator(provider CheckoutProvider, companies CompanyReader, cfg CheckoutConfig, metrics Metrics, logger *slog.Logger) *CheckoutInitiator {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &CheckoutInitiator{
		provider:  provider,
		companies: companies,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger,
	}
}

func (c *CheckoutInitiator) successURL() string {
	return c.cfg.PublicBaseURL + "/dashboard/billing?checkout=success&session_id={CHECKOUT_SESSION_ID}"
}

func (c *CheckoutInitiator) cancelURL() string {
	return c.cfg.PublicBaseURL + "/dashboard/billing?checkout=cancelled"
}

func (c *CheckoutInitiator) portalReturnURL() string {
	return c.cfg.PublicBaseURL + "/dashboard/billing"
}

// UnconfiguredFallbackURL is returned when no provider is configured.
func (c *CheckoutInitiator) UnconfiguredFallbackURL() string {
	return c.cfg.PublicBaseURL + "/dashboard?upgraded=true"
}

// UnavailableFallbackURL is returned when the provider call fails.
func (c *CheckoutInitiator) UnavailableFallbackURL() string {
	return c.cfg.PublicBaseURL + "/dashboard/billing?checkout=unavailable"
}

// StartUpgrade opens a hosted checkout for companyID at targetTier.
//
// Validation failures (basic or unknown tier, unknown company) are returned as
// errors. Provider failures are not: they degrade to a fallback redirect.
func (c *CheckoutInitiator) StartUpgrade(ctx context.Context, companyID string, targetTier types.Tier) (CheckoutResult, error) {
	if !targetTier.IsPaid() {
		c.metrics.RecordCheckout(string(targetTier), checkoutRejected)
		return CheckoutResult{}, types.NewAppErrorWithDetails(
			types.ErrCodeValidationTier,
			"Checkout requires a paid tier",
			nil,
			map[string]any{"tier": string(targetTier)},
		)
	}
	if companyID == "" {
		c.metrics.RecordCheckout(string(targetTier), checkoutRejected)
		return CheckoutResult{}, types.NewAppError(types.ErrCodeValidationMissingField, "company_id is required", nil)
	}

	company, err := c.companies.GetByID(ctx, companyID)
	if err != nil {
		c.metrics.RecordCheckout(string(targetTier), checkoutRejected)
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			return CheckoutResult{}, appErr
		}
		return CheckoutResult{}, types.NewAppError(types.ErrCodeInternalDB, "failed to load company", err)
	}

	log := c.logger.With(
		slog.String("company_id", company.ID),
		slog.String("tier", string(targetTier)),
	)

	if c.provider == nil {
		log.WarnContext(ctx, "billing provider not configured; returning upgrade fallback without payment")
		c.metrics.RecordCheckout(string(targetTier), checkoutNoProvider)
		return CheckoutResult{RedirectURL: c.UnconfiguredFallbackURL(), Degraded: true}, nil
	}

	priceID := c.cfg.PriceIDs[targetTier]
	if priceID == "" {
		log.ErrorContext(ctx, "no price configured for tier; returning checkout fallback")
		c.metrics.RecordCheckout(string(targetTier), checkoutProviderFailed)
		return CheckoutResult{RedirectURL: c.UnavailableFallbackURL(), Degraded: true}, nil
	}

	intent := types.CheckoutIntent{
		CompanyID:   company.ID,
		Tier:        targetTier,
		PriceID:     priceID,
		CustomerRef: company.StripeCustomerID,
		Metadata: map[string]string{
			MetadataCompanyID: company.ID,
			MetadataTier:      string(targetTier),
		},
		URLs: types.RedirectURLs{
			Success: c.successURL(),
			Cancel:  c.cancelURL(),
		},
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	url, err := c.provider.CreateCheckoutSession(callCtx, intent)
	if err != nil || url == "" {
		log.ErrorContext(ctx, "checkout session creation failed; returning fallback", slog.Any("error", err))
		c.metrics.RecordCheckout(string(targetTier), checkoutProviderFailed)
		return CheckoutResult{RedirectURL: c.UnavailableFallbackURL(), Degraded: true}, nil
	}

	log.InfoContext(ctx, "checkout session created", slog.Bool("existing_customer", company.HasBillingAccount()))
	c.metrics.RecordCheckout(string(targetTier), checkoutSession)
	return CheckoutResult{RedirectURL: url}, nil
}

// OpenBillingPortal opens the provider's self-service portal for customerRef.
// There is no safe fallback here, so provider failures are returned.
func (c *CheckoutInitiator) OpenBillingPortal(ctx context.Context, customerRef string) (string, error) {
	if customerRef == "" {
		return "", ErrNoBillingAccount
	}
	if c.provider == nil {
		return "", types.NewAppError(types.ErrCodeUpstreamStripe, "Billing portal is not available", nil)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	url, err := c.provider.CreatePortalSession(callCtx, customerRef, c.portalReturnURL())
	if err != nil || url == "" {
		c.logger.ErrorContext(ctx, "portal session creation failed",
			slog.String("customer_ref", customerRef),
			slog.Any("error", err),
		)
		return "", types.NewAppError(types.ErrCodeUpstreamStripe, "Billing portal is temporarily unavailable", err)
	}
	return url, nil
}
