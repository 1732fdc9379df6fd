package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"dirhub/internal/billing"
	"dirhub/internal/core"
)

// Metric names and dimensions published to CloudWatch.
const (
	MetricWebhookEvent    = "WebhookEvent"
	MetricWebhookRejected = "WebhookRejected"
	MetricWebhookLatency  = "WebhookLatency"
	MetricTierChange      = "TierChange"
	MetricCheckout        = "Checkout"
	MetricAPIRequest      = "APIRequestCount"
	MetricAPILatency      = "APILatency"

	DimKind    = "Kind"
	DimOutcome = "Outcome"
	DimReason  = "Reason"
	DimFrom    = "FromTier"
	DimTo      = "ToTier"
	DimTier    = "Tier"
	DimResult  = "Result"
	DimMethod  = "Method"
	DimRoute   = "Route"
	DimStatus  = "Status"
)

// maxDatumsPerPut stays well below the PutMetricData request limit.
const maxDatumsPerPut = 500

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var (
	_ billing.Metrics       = (*CloudWatchMetrics)(nil)
	_ core.MetricsCollector = (*CloudWatchMetrics)(nil)
)

// CloudWatchMetrics implements billing.Metrics by buffering datums and
// publishing them in batches, so recording never blocks a webhook on an AWS
// call. Run (or Flush before a Lambda invocation returns) drains the buffer.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	pending []cwtypes.MetricDatum
}

// NewCloudWatchMetrics creates a CloudWatchMetrics publishing to namespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
		now:       time.Now,
	}
}

func (m *CloudWatchMetrics) RecordWebhookEvent(kind, outcome string) {
	m.add(MetricWebhookEvent, 1, cwtypes.StandardUnitCount, DimKind, kind, DimOutcome, outcome)
}

func (m *CloudWatchMetrics) RecordWebhookRejected(reason string) {
	m.add(MetricWebhookRejected, 1, cwtypes.StandardUnitCount, DimReason, reason)
}

func (m *CloudWatchMetrics) RecordWebhookDuration(kind string, d time.Duration) {
	m.add(MetricWebhookLatency, float64(d.Milliseconds()), cwtypes.StandardUnitMilliseconds, DimKind, kind)
}

func (m *CloudWatchMetrics) RecordTierChange(fromTier, toTier string) {
	m.add(MetricTierChange, 1, cwtypes.StandardUnitCount, DimFrom, fromTier, DimTo, toTier)
}

func (m *CloudWatchMetrics) RecordCheckout(tier, result string) {
	m.add(MetricCheckout, 1, cwtypes.StandardUnitCount, DimTier, tier, DimResult, result)
}

// RecordRequest implements core.MetricsCollector.
func (m *CloudWatchMetrics) RecordRequest(method, route, status string, d time.Duration) {
	m.add(MetricAPIRequest, 1, cwtypes.StandardUnitCount, DimMethod, method, DimRoute, route, DimStatus, status)
	m.add(MetricAPILatency, float64(d.Milliseconds()), cwtypes.StandardUnitMilliseconds, DimMethod, method, DimRoute, route)
}

// add buffers one datum. dims alternates dimension names and values.
func (m *CloudWatchMetrics) add(name string, value float64, unit cwtypes.StandardUnit, dims ...string) {
	datum := cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Timestamp:  aws.Time(m.now()),
	}
	for i := 0; i+1 < len(dims); i += 2 {
		datum.Dimensions = append(datum.Dimensions, cwtypes.Dimension{
			Name:  aws.String(dims[i]),
			Value: aws.String(dims[i+1]),
		})
	}

	m.mu.Lock()
	m.pending = append(m.pending, datum)
	m.mu.Unlock()
}

// Flush publishes everything buffered so far. Failed batches are logged and
// dropped; metrics are best effort.
func (m *CloudWatchMetrics) Flush(ctx context.Context) {
	m.mu.Lock()
	batch := m.pending
	m.pending = nil
	m.mu.Unlock()

	for start := 0; start < len(batch); start += maxDatumsPerPut {
		end := min(start+maxDatumsPerPut, len(batch))
		_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(m.namespace),
			MetricData: batch[start:end],
		})
		if err != nil {
			m.logger.ErrorContext(ctx, "failed to publish billing metrics",
				"error", err,
				"datums", end-start,
			)
		}
	}
}

// Run flushes every interval until ctx is done, then flushes once more with
// a short grace period.
func (m *CloudWatchMetrics) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			m.Flush(flushCtx)
			cancel()
			return nil
		case <-ticker.C:
			m.Flush(ctx)
		}
	}
}
