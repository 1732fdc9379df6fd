package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type mockCloudWatchClient struct {
	mu        sync.Mutex
	calls     []*cloudwatch.PutMetricDataInput
	returnErr error
}

func (m *mockCloudWatchClient) PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, params)
	return &cloudwatch.PutMetricDataOutput{}, m.returnErr
}

func (m *mockCloudWatchClient) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func assertDimension(t *testing.T, datum cwtypes.MetricDatum, name, value string) {
	t.Helper()
	for _, d := range datum.Dimensions {
		if *d.Name == name {
			if *d.Value != value {
				t.Errorf("dimension %s = %q, want %q", name, *d.Value, value)
			}
			return
		}
	}
	t.Errorf("dimension %s not found", name)
}

func TestCloudWatchMetrics_BuffersUntilFlush(t *testing.T) {
	mock := &mockCloudWatchClient{}
	m := NewCloudWatchMetrics(mock, "Dirhub/Billing", nil)

	m.RecordWebhookEvent("session_completed", "applied")
	m.RecordTierChange("basic", "featured")
	m.RecordWebhookDuration("session_completed", 125*time.Millisecond)

	if mock.callCount() != 0 {
		t.Fatal("recording should not call CloudWatch")
	}

	m.Flush(context.Background())

	if len(mock.calls) != 1 {
		t.Fatalf("expected 1 PutMetricData call, got %d", len(mock.calls))
	}
	input := mock.calls[0]
	if *input.Namespace != "Dirhub/Billing" {
		t.Errorf("namespace = %q", *input.Namespace)
	}
	if len(input.MetricData) != 3 {
		t.Fatalf("expected 3 datums, got %d", len(input.MetricData))
	}

	event := input.MetricData[0]
	if *event.MetricName != MetricWebhookEvent || *event.Value != 1 || event.Unit != cwtypes.StandardUnitCount {
		t.Errorf("unexpected event datum: %s=%v %s", *event.MetricName, *event.Value, event.Unit)
	}
	assertDimension(t, event, DimKind, "session_completed")
	assertDimension(t, event, DimOutcome, "applied")

	change := input.MetricData[1]
	assertDimension(t, change, DimFrom, "basic")
	assertDimension(t, change, DimTo, "featured")

	latency := input.MetricData[2]
	if *latency.Value != 125 || latency.Unit != cwtypes.StandardUnitMilliseconds {
		t.Errorf("latency datum = %v %s, want 125 Milliseconds", *latency.Value, latency.Unit)
	}

	m.Flush(context.Background())
	if len(mock.calls) != 1 {
		t.Error("empty flush should not call CloudWatch")
	}
}

func TestCloudWatchMetrics_SplitsLargeBatches(t *testing.T) {
	mock := &mockCloudWatchClient{}
	m := NewCloudWatchMetrics(mock, "ns", nil)

	for range maxDatumsPerPut + 3 {
		m.RecordCheckout("premium", "created")
	}
	m.Flush(context.Background())

	if len(mock.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(mock.calls))
	}
	if len(mock.calls[0].MetricData) != maxDatumsPerPut || len(mock.calls[1].MetricData) != 3 {
		t.Errorf("batch sizes = %d, %d", len(mock.calls[0].MetricData), len(mock.calls[1].MetricData))
	}
	assertDimension(t, mock.calls[1].MetricData[0], DimResult, "created")
}

func TestCloudWatchMetrics_ErrorIsSwallowed(t *testing.T) {
	mock := &mockCloudWatchClient{returnErr: errors.New("throttled")}
	m := NewCloudWatchMetrics(mock, "ns", nil)

	m.RecordWebhookRejected("signature")
	m.Flush(context.Background())

	if len(mock.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(mock.calls))
	}
	assertDimension(t, mock.calls[0].MetricData[0], DimReason, "signature")

	// Failed datums are dropped, not retried.
	m.Flush(context.Background())
	if len(mock.calls) != 1 {
		t.Errorf("expected no retry, got %d calls", len(mock.calls))
	}
}

func TestCloudWatchMetrics_RunFlushesOnShutdown(t *testing.T) {
	mock := &mockCloudWatchClient{}
	m := NewCloudWatchMetrics(mock, "ns", nil)
	m.RecordTierChange("premium", "basic")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, time.Hour) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if mock.callCount() != 1 {
		t.Errorf("expected final flush, got %d calls", mock.callCount())
	}
}

func TestCloudWatchMetrics_RecordRequest(t *testing.T) {
	mock := &mockCloudWatchClient{}
	m := NewCloudWatchMetrics(mock, "ns", nil)

	m.RecordRequest("POST", "/v1/billing/checkout", "502", 1200*time.Millisecond)
	m.Flush(context.Background())

	data := mock.calls[0].MetricData
	if len(data) != 2 {
		t.Fatalf("expected count and latency datums, got %d", len(data))
	}
	assertDimension(t, data[0], DimRoute, "/v1/billing/checkout")
	assertDimension(t, data[0], DimStatus, "502")
	if *data[1].MetricName != MetricAPILatency || *data[1].Value != 1200 {
		t.Errorf("latency datum = %s %v", *data[1].MetricName, *data[1].Value)
	}
}
