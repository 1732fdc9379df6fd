package billing

import (
	"context"
	"errors"
	"log/slog"

	"dirhub/internal/types"
)

// TierStore performs the single durable write of the tier lifecycle.
//
// ApplyTier must be one atomic conditional update matching exactly one company
// by ref (id or provider customer reference). A non-empty customerRef is
// recorded on the company; an empty one never clears an existing reference.
// Writing the tier a company already has must leave the row untouched.
// When nothing matches, it returns TierUpdate{Found: false} and no error.
type TierStore interface {
	ApplyTier(ctx context.Context, ref types.CompanyRef, tier types.Tier, customerRef string) (types.TierUpdate, error)
}

// TierChangePublisher announces committed tier changes to downstream consumers.
type TierChangePublisher interface {
	PublishTierChange(ctx context.Context, change types.TierChange) error
}

// Outcome classifies what Apply did.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeIgnored   Outcome = "ignored"
)

// ApplyResult reports the effect of one Apply call.
type ApplyResult struct {
	Outcome      Outcome
	CompanyID    string
	PreviousTier types.Tier
	Tier         types.Tier
}

// Synchronizer applies mapped subscription events to company state. It is the
// only writer of a company's tier.
//
// Events are applied last-write-wins by delivery order. No event sequence is
// tracked, so a delayed redelivery can overwrite a newer tier.
type Synchronizer struct {
	store     TierStore
	metrics   Metrics
	publisher TierChangePublisher
	logger    *slog.Logger
}

// NewSynchronizer wires a synchronizer. publisher may be nil.
func NewSynchronizer(store TierStore, metrics Metrics, publisher TierChangePublisher, logger *slog.Logger) *Synchronizer {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		store:     store,
		metrics:   metrics,
		publisher: publisher,
		logger:    logger,
	}
}

// Apply writes the tier carried by ev. It is safe to call repeatedly for the
// same event and concurrently for events on the same company. A returned
// error means the write did not happen and the provider must redeliver.
func (s *Synchronizer) Apply(ctx context.Context, ev types.SubscriptionEvent) (ApplyResult, error) {
	log := s.logger.With(
		slog.String("event_id", ev.EventID),
		slog.String("event_kind", string(ev.Kind)),
		slog.String("company_ref", ev.Ref.String()),
		slog.String("customer_ref", ev.CustomerRef),
	)

	if ev.Ignored() {
		log.DebugContext(ctx, "event ignored")
		return ApplyResult{Outcome: OutcomeIgnored}, nil
	}
	if ev.Ref.IsZero() || !ev.Tier.Valid() {
		return ApplyResult{}, types.NewAppErrorWithDetails(
			types.ErrCodeWebhookPayload,
			"event does not identify a company and tier",
			nil,
			map[string]any{"event_id": ev.EventID, "event_kind": string(ev.Kind)},
		)
	}

	upd, err := s.store.ApplyTier(ctx, ev.Ref, ev.Tier, ev.CustomerRef)
	if err != nil {
		log.ErrorContext(ctx, "tier write failed", slog.String("tier", string(ev.Tier)), slog.Any("error", err))
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			return ApplyResult{}, appErr
		}
		return ApplyResult{}, types.NewAppError(types.ErrCodeInternalDB, "failed to apply tier", err)
	}

	if !upd.Found {
		log.WarnContext(ctx, "no company matches event; dropping", slog.String("tier", string(ev.Tier)))
		return ApplyResult{Outcome: OutcomeNotFound, Tier: ev.Tier}, nil
	}

	res := ApplyResult{
		Outcome:      OutcomeUnchanged,
		CompanyID:    upd.CompanyID,
		PreviousTier: upd.PreviousTier,
		Tier:         upd.Tier,
	}
	if upd.Changed {
		res.Outcome = OutcomeApplied
	}

	log.InfoContext(ctx, "tier applied",
		slog.String("company_id", upd.CompanyID),
		slog.String("previous_tier", string(upd.PreviousTier)),
		slog.String("tier", string(upd.Tier)),
		slog.String("outcome", string(res.Outcome)),
		slog.Time("occurred_at", ev.OccurredAt),
	)

	if upd.PreviousTier != upd.Tier {
		s.metrics.RecordTierChange(string(upd.PreviousTier), string(upd.Tier))
		s.publish(ctx, log, types.TierChange{
			CompanyID:    upd.CompanyID,
			PreviousTier: upd.PreviousTier,
			NewTier:      upd.Tier,
			CustomerRef:  ev.CustomerRef,
			EventID:      ev.EventID,
			EventKind:    ev.Kind,
			OccurredAt:   ev.OccurredAt,
		})
	}
	return res, nil
}

// publish is best-effort: the tier is already committed.
func (s *Synchronizer) publish(ctx context.Context, log *slog.Logger, change types.TierChange) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishTierChange(ctx, change); err != nil {
		log.ErrorContext(ctx, "failed to publish tier change", slog.Any("error", err))
	}
}
