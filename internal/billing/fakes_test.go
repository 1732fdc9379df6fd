package billing

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"dirhub/internal/types"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) CreateCheckoutSession(ctx context.Context, intent types.CheckoutIntent) (string, error) {
	args := m.Called(ctx, intent)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) CreatePortalSession(ctx context.Context, customerRef, returnURL string) (string, error) {
	args := m.Called(ctx, customerRef, returnURL)
	return args.String(0), args.Error(1)
}

type recordingMetrics struct {
	NoopMetrics
	mu          sync.Mutex
	tierChanges [][2]string
	checkouts   []string
	events      []string
	rejected    []string
}

func (r *recordingMetrics) RecordTierChange(from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tierChanges = append(r.tierChanges, [2]string{from, to})
}

func (r *recordingMetrics) RecordCheckout(tier, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkouts = append(r.checkouts, result)
}

func (r *recordingMetrics) RecordWebhookEvent(kind, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind+":"+outcome)
}

func (r *recordingMetrics) RecordWebhookRejected(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected = append(r.rejected, reason)
}

func (r *recordingMetrics) RecordWebhookDuration(string, time.Duration) {}

type recordingPublisher struct {
	mu      sync.Mutex
	changes []types.TierChange
	err     error
}

func (p *recordingPublisher) PublishTierChange(_ context.Context, c types.TierChange) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, c)
	return p.err
}

type failingStore struct {
	err error
}

func (f failingStore) ApplyTier(context.Context, types.CompanyRef, types.Tier, string) (types.TierUpdate, error) {
	return types.TierUpdate{}, f.err
}

type fakeDecoder struct {
	events map[string]types.ProviderEvent
}

// Decode treats the signature header as the lookup key; "" and unknown keys fail.
func (d fakeDecoder) Decode(_ []byte, sig string) (types.ProviderEvent, error) {
	ev, ok := d.events[sig]
	if !ok {
		return types.ProviderEvent{}, types.NewAppError(types.ErrCodeWebhookSignature, "bad signature", nil)
	}
	return ev, nil
}
