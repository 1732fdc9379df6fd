package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"dirhub/internal/billing"
	"dirhub/internal/core"
	"dirhub/internal/types"
)

// CapabilitiesResponse is the body of GET /v1/companies/me/capabilities.
type CapabilitiesResponse struct {
	CompanyID    string              `json:"company_id"`
	Tier         types.Tier          `json:"tier"`
	Capabilities types.CapabilitySet `json:"capabilities"`
}

// CapabilitiesHandler exposes the capability table to the dashboard.
type CapabilitiesHandler struct {
	companies billing.CompanyReader
	logger    *slog.Logger
}

// NewCapabilitiesHandler creates a CapabilitiesHandler.
func NewCapabilitiesHandler(companies billing.CompanyReader, logger *slog.Logger) *CapabilitiesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CapabilitiesHandler{companies: companies, logger: logger}
}

// RegisterRoutes mounts the capability endpoint on the /v1 router.
func (h *CapabilitiesHandler) RegisterRoutes(r chi.Router) {
	r.With(core.RequireActor).Get("/companies/me/capabilities", h.GetMine)
}

// GetMine returns the capability set for the actor's company.
func (h *CapabilitiesHandler) GetMine(w http.ResponseWriter, r *http.Request) {
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
		if types.CodeOf(err) != types.ErrCodeNotFoundCompany {
			h.logger.ErrorContext(r.Context(), "failed to load company capabilities",
				"company_id", actor.CompanyID,
				"error", err,
			)
		}
		core.Error(w, r, err)
		return
	}

	core.Data(w, r, CapabilitiesResponse{
		CompanyID:    company.ID,
		Tier:         company.Tier,
		Capabilities: billing.CapabilitiesFor(company.Tier),
	})
}
