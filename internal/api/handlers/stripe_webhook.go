package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"dirhub/internal/billing"
	"dirhub/internal/core"
	"dirhub/internal/types"
)

// maxWebhookBodySize caps a Stripe notification body. Stripe payloads are
// small; the limit protects the unauthenticated endpoint.
const maxWebhookBodySize = 64 * 1024

// WebhookProcessor is the subset of billing.WebhookProcessor the handler uses.
type WebhookProcessor interface {
	Process(ctx context.Context, payload []byte, signatureHeader string) (billing.ApplyResult, error)
}

var _ WebhookProcessor = (*billing.WebhookProcessor)(nil)

// WebhookAck is the body returned to Stripe once a notification is handled.
type WebhookAck struct {
	Received bool `json:"received"`
	Ignored  bool `json:"ignored,omitempty"`
}

// StripeWebhookHandler receives Stripe notifications. It runs outside the
// auth middleware; the Stripe-Signature header is the only credential.
type StripeWebhookHandler struct {
	processor WebhookProcessor
	logger    *slog.Logger
}

// NewStripeWebhookHandler creates a StripeWebhookHandler.
func NewStripeWebhookHandler(processor WebhookProcessor, logger *slog.Logger) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{processor: processor, logger: logger}
}

// RegisterRoutes mounts POST /stripe on the /webhooks router.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/stripe", h.Handle)
}

// Handle acknowledges a notification only after its tier write is durable.
//
// Signature and payload problems are 400 so Stripe stops retrying a request
// that can never succeed. Persistence failures are 500 so Stripe redelivers.
// Events for unknown companies and irrelevant event types are acknowledged
// with "ignored" to avoid endless redelivery.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	log := types.LoggerFromContext(r.Context(), h.logger)

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		log.WarnContext(r.Context(), "failed to read webhook body", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeWebhookPayload,
			"failed to read request body",
			err,
		))
		return
	}

	// Behind the Lambda adapter the header arrives split on its commas.
	signature := strings.Join(r.Header.Values("Stripe-Signature"), ",")

	result, err := h.processor.Process(r.Context(), payload, signature)
	if err != nil {
		h.logFailure(r.Context(), err)
		core.Error(w, r, err)
		return
	}

	ack := WebhookAck{Received: true}
	switch result.Outcome {
	case billing.OutcomeIgnored:
		ack.Ignored = true
	case billing.OutcomeNotFound:
		ack.Ignored = true
		log.WarnContext(r.Context(), "webhook event matched no company")
	default:
		log.InfoContext(r.Context(), "webhook event applied",
			"company_id", result.CompanyID,
			"outcome", result.Outcome,
			"previous_tier", result.PreviousTier,
			"tier", result.Tier,
		)
	}
	core.JSON(w, r, http.StatusOK, ack)
}

func (h *StripeWebhookHandler) logFailure(ctx context.Context, err error) {
	log := types.LoggerFromContext(ctx, h.logger)
	code := types.CodeOf(err)
	if code.HTTPStatus() < http.StatusInternalServerError {
		log.WarnContext(ctx, "webhook rejected", "code", code, "error", err)
		return
	}
	log.ErrorContext(ctx, "webhook processing failed; provider will redeliver", "code", code, "error", err)
}
