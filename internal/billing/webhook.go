package billing

import (
	"context"
	"log/slog"
	"time"

	"dirhub/internal/types"
)

// EventDecoder authenticates and decodes a raw provider notification.
// It must fail closed: nothing unverified may be returned.
type EventDecoder interface {
	Decode(payload []byte, signatureHeader string) (types.ProviderEvent, error)
}

// WebhookProcessor runs one notification through decode, map and apply.
type WebhookProcessor struct {
	decoder EventDecoder
	mapper  *Mapper
	sync    *Synchronizer
	metrics Metrics
	logger  *slog.Logger
}

// NewWebhookProcessor wires the ingestion pipeline.
func NewWebhookProcessor(decoder EventDecoder, mapper *Mapper, sync *Synchronizer, metrics Metrics, logger *slog.Logger) *WebhookProcessor {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookProcessor{
		decoder: decoder,
		mapper:  mapper,
		sync:    sync,
		metrics: metrics,
		logger:  logger,
	}
}

// Process returns only after the durable write completed or the event was
// deliberately dropped. Any error means the provider should not consider the
// notification delivered.
func (p *WebhookProcessor) Process(ctx context.Context, payload []byte, signatureHeader string) (ApplyResult, error) {
	start := time.Now()

	ev, err := p.decoder.Decode(payload, signatureHeader)
	if err != nil {
		p.metrics.RecordWebhookRejected(rejectReason(err))
		return ApplyResult{}, err
	}
	kind := string(ev.Kind)
	defer func() { p.metrics.RecordWebhookDuration(kind, time.Since(start)) }()

	mapped, err := p.mapper.Map(ev)
	if err != nil {
		p.logger.WarnContext(ctx, "webhook event could not be mapped",
			slog.String("event_id", ev.ID),
			slog.String("event_type", ev.RawType),
			slog.Any("error", err),
		)
		p.metrics.RecordWebhookRejected(rejectReason(err))
		return ApplyResult{}, err
	}

	res, err := p.sync.Apply(ctx, mapped)
	if err != nil {
		p.metrics.RecordWebhookEvent(kind, "error")
		return ApplyResult{}, err
	}
	p.metrics.RecordWebhookEvent(string(mapped.Kind), string(res.Outcome))
	return res, nil
}

func rejectReason(err error) string {
	if types.CodeOf(err) == types.ErrCodeWebhookSignature {
		return "signature"
	}
	return "payload"
}
