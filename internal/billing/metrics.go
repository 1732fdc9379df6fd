package billing

import "time"

// Metrics records billing activity. Implementations live in internal/telemetry.
type Metrics interface {
	// RecordWebhookEvent counts a processed notification.
	// outcome: "applied", "unchanged", "not_found", "ignored" or "error".
	RecordWebhookEvent(kind, outcome string)

	// RecordWebhookRejected counts a notification refused at the boundary.
	// reason: "signature", "payload".
	RecordWebhookRejected(reason string)

	// RecordWebhookDuration records end-to-end handling time.
	RecordWebhookDuration(kind string, d time.Duration)

	// RecordTierChange counts a committed tier transition.
	RecordTierChange(fromTier, toTier string)

	// RecordCheckout counts checkout attempts.
	// result: "session", "fallback_unconfigured", "fallback_error", "rejected".
	RecordCheckout(tier, result string)
}

// NoopMetrics is a no-op implementation of Metrics.
type NoopMetrics struct{}

func (NoopMetrics) RecordWebhookEvent(kind, outcome string)            {}
func (NoopMetrics) RecordWebhookRejected(reason string)                {}
func (NoopMetrics) RecordWebhookDuration(kind string, d time.Duration) {}
func (NoopMetrics) RecordTierChange(fromTier, toTier string)           {}
func (NoopMetrics) RecordCheckout(tier, result string)                 {}
