// Package handlers contains the HTTP handlers for the directory billing API.
//
// Handlers decode and validate requests, apply actor checks and delegate to
// the billing package. They never write company state themselves.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"dirhub/internal/billing"
	"dirhub/internal/core"
	"dirhub/internal/types"
)

// UpgradeService is the subset of billing.CheckoutInitiator the handler uses.
type UpgradeService interface {
	StartUpgrade(ctx context.Context, companyID string, targetTier types.Tier) (billing.CheckoutResult, error)
	OpenBillingPortal(ctx context.Context, customerRef string) (string, error)
}

var _ UpgradeService = (*billing.CheckoutInitiator)(nil)

// CheckoutRequest is the body of POST /v1/billing/checkout.
//
// CompanyID may be omitted by an authenticated caller; the actor's company is
// used instead. Redirect targets are always built server-side.
type CheckoutRequest struct {
	Tier      types.Tier `json:"tier" validate:"required,paid_tier"`
	CompanyID string     `json:"company_id" validate:"omitempty,max=64"`
}

// PortalResponse is the body of a successful POST /v1/billing/portal.
type PortalResponse struct {
	RedirectURL string `json:"redirect_url"`
}

// BillingHandler serves the user-initiated billing actions.
type BillingHandler struct {
	service   UpgradeService
	companies billing.CompanyReader
	validator *core.Validator
	limit     func(http.Handler) http.Handler
	logger    *slog.Logger
}

// NewBillingHandler creates a BillingHandler. limit wraps the billing routes
// (normally core.Server.RateLimit) and may be nil.
func NewBillingHandler(
	svc UpgradeService,
	companies billing.CompanyReader,
	v *core.Validator,
	limit func(http.Handler) http.Handler,
	l *slog.Logger,
) *BillingHandler {
	if l == nil {
		l = slog.Default()
	}
	if v == nil {
		v = core.NewValidator(l)
	}
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}
	return &BillingHandler{
		service:   svc,
		companies: companies,
		validator: v,
		limit:     limit,
		logger:    l,
	}
}

// RegisterRoutes mounts the billing endpoints on the /v1 router.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Route("/billing", func(r chi.Router) {
		r.Use(h.limit)
		r.Post("/checkout", h.CreateCheckout)
		r.With(core.RequireActor).Post("/portal", h.CreatePortal)
	})
}

// CreateCheckout handles POST /v1/billing/checkout.
//
// Provider failures do not surface here: the initiator degrades to a fallback
// redirect and reports Degraded. Only validation and lookup errors are
// returned to the caller.
func (h *BillingHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	companyID, err := checkoutCompany(r.Context(), req.CompanyID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	result, err := h.service.StartUpgrade(r.Context(), companyID, req.Tier)
	if err != nil {
		h.logger.WarnContext(r.Context(), "checkout rejected",
			"company_id", companyID,
			"tier", req.Tier,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	if result.Degraded {
		h.logger.WarnContext(r.Context(), "checkout degraded to fallback redirect",
			"company_id", companyID,
			"tier", req.Tier,
		)
	}
	core.Data(w, r, result)
}

// checkoutCompany picks the company a checkout is for. An authenticated actor
// may only start a checkout for its own company.
func checkoutCompany(ctx context.Context, requested string) (string, error) {
	actor, ok := types.GetActor(ctx)
	if !ok || !actor.HasCompany() {
		if requested == "" {
			return "", types.NewAppErrorWithDetails(
				types.ErrCodeValidationMissingField,
				"company_id is required",
				nil,
				map[string]any{"fields": map[string]any{"company_id": "required"}},
			)
		}
		return requested, nil
	}

	if requested != "" && requested != actor.CompanyID {
		return "", types.NewAppError(
			types.ErrCodePermissionCompanyMismatch,
			"Cannot start a checkout for another company",
			nil,
		)
	}
	return actor.CompanyID, nil
}

// CreatePortal handles POST /v1/billing/portal for the actor's company.
func (h *BillingHandler) CreatePortal(w http.ResponseWriter, r *http.Request) {
	actor, _ := types.GetActor(r.Context())
	if !actor.HasCompany() {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationNoCompany,
			"No company is linked to this account",
			nil,
		))
		return
	}

	company, err := h.companies.GetByID(r.Context(), actor.CompanyID)
	if err != nil {
		if types.CodeOf(err) == types.ErrCodeNotFoundCompany {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationNoCompany,
				"No company is linked to this account",
				err,
			))
			return
		}
		h.logger.ErrorContext(r.Context(), "failed to load company for portal",
			"company_id", actor.CompanyID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	url, err := h.service.OpenBillingPortal(r.Context(), company.StripeCustomerID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "billing portal session opened",
		"company_id", company.ID,
		"customer_ref", company.StripeCustomerID,
	)
	core.Data(w, r, PortalResponse{RedirectURL: url})
}
