package external

import (
	"log/slog"
	"net/http"
	"time"

	"dirhub/internal/billing"
	"dirhub/internal/config"
)

// ClientRegistry holds the vendor adapters built from configuration.
type ClientRegistry struct {
	// Checkout is nil when no provider secret key is configured. The
	// checkout initiator then serves its unconfigured fallback.
	Checkout billing.CheckoutProvider
	Events   billing.EventDecoder
}

// NewClientRegistry builds the vendor adapters for cfg. The inbound decoder
// is always built because the webhook secret is required; the outbound
// client only when a secret key is set.
func NewClientRegistry(cfg config.BillingConfig, logger *slog.Logger) *ClientRegistry {
	if logger == nil {
		logger = slog.Default()
	}

	reg := &ClientRegistry{
		Events: NewStripeEventDecoder(cfg.WebhookSecret),
	}

	if !cfg.ProviderEnabled() {
		logger.Warn("STRIPE_SECRET_KEY not set; checkout will redirect to the unconfigured fallback")
		return reg
	}

	// The HTTP timeout is a backstop; the initiator bounds each call with
	// BILLING_PROVIDER_TIMEOUT.
	httpClient := &http.Client{Timeout: cfg.ProviderTimeout + 5*time.Second}
	reg.Checkout = NewStripeClient(httpClient, StripeClientConfig{
		SecretKey: cfg.SecretKey,
		BaseURL:   cfg.APIBase,
		Logger:    logger.With("client", "stripe"),
	})

	logger.Info("stripe client initialized", "api_base", cfg.APIBase)
	return reg
}
