// Package queue publishes committed tier changes to SQS for downstream
// consumers such as search indexing and listing renderers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"dirhub/internal/billing"
	"dirhub/internal/config"
	"dirhub/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

var _ billing.TierChangePublisher = (*TierEventPublisher)(nil)

// TierEventPublisher sends one JSON-encoded types.TierChange per message.
//
// FIFO queues (URL ending in ".fifo") are grouped by company so consumers
// see each company's transitions in commit order; the deduplication id is
// derived from the provider event so redeliveries collapse.
type TierEventPublisher struct {
	client   SQSSender
	queueURL string
	fifo     bool
	logger   *slog.Logger
}

// NewTierEventPublisher creates a publisher for the tier events queue in awsCfg.
func NewTierEventPublisher(client SQSSender, awsCfg config.AWSConfig, logger *slog.Logger) *TierEventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &TierEventPublisher{
		client:   client,
		queueURL: awsCfg.TierEventsQueue,
		fifo:     strings.HasSuffix(awsCfg.TierEventsQueue, ".fifo"),
		logger:   logger,
	}
}

// PublishTierChange enqueues change.
func (p *TierEventPublisher) PublishTierChange(ctx context.Context, change types.TierChange) error {
	body, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal TierChange: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"company_id": stringAttr(change.CompanyID),
			"new_tier":   stringAttr(string(change.NewTier)),
			"event_kind": stringAttr(string(change.EventKind)),
		},
	}
	if p.fifo {
		input.MessageGroupId = aws.String(change.CompanyID)
		input.MessageDeduplicationId = aws.String(dedupID(change))
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send TierChange to %s: %w", p.queueURL, err)
	}

	p.logger.InfoContext(ctx, "tier change published",
		"queue_url", p.queueURL,
		"company_id", change.CompanyID,
		"previous_tier", string(change.PreviousTier),
		"new_tier", string(change.NewTier),
		"event_id", change.EventID,
	)
	return nil
}

func stringAttr(v string) sqsTypes.MessageAttributeValue {
	return sqsTypes.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(v),
	}
}

// dedupID must stay within SQS's 128 character limit.
func dedupID(change types.TierChange) string {
	id := change.EventID + ":" + string(change.NewTier)
	if change.EventID == "" {
		id = change.CompanyID + ":" + string(change.NewTier) + ":" + change.OccurredAt.UTC().Format("20060102T150405.000000000")
	}
	if len(id) > 128 {
		id = id[:128]
	}
	return id
}
