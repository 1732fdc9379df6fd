package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"dirhub/internal/config"
	"dirhub/internal/types"
)

// mockSQSSender captures SendMessage calls for test assertions.
type mockSQSSender struct {
	calls []*sqs.SendMessageInput
	err   error
}

func (m *mockSQSSender) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.calls = append(m.calls, params)
	if m.err != nil {
		return nil, m.err
	}
	return &sqs.SendMessageOutput{}, nil
}

const (
	testStandardURL = "https://sqs.us-east-1.amazonaws.com/123456789/tier-events"
	testFIFOURL     = "https://sqs.us-east-1.amazonaws.com/123456789/tier-events.fifo"
)

func testChange() types.TierChange {
	return types.TierChange{
		CompanyID:    "C",
		PreviousTier: types.TierBasic,
		NewTier:      types.TierPremium,
		CustomerRef:  "cus_123",
		EventID:      "evt_1",
		EventKind:    types.EventSessionCompleted,
		OccurredAt:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestPublishTierChange_SendsJSONBody(t *testing.T) {
	mock := &mockSQSSender{}
	p := NewTierEventPublisher(mock, config.AWSConfig{TierEventsQueue: testStandardURL}, nil)

	if err := p.PublishTierChange(context.Background(), testChange()); err != nil {
		t.Fatalf("PublishTierChange returned unexpected error: %v", err)
	}
	if len(mock.calls) != 1 {
		t.Fatalf("expected 1 SQS call, got %d", len(mock.calls))
	}

	call := mock.calls[0]
	if *call.QueueUrl != testStandardURL {
		t.Errorf("expected queue URL %q, got %q", testStandardURL, *call.QueueUrl)
	}

	var got types.TierChange
	if err := json.Unmarshal([]byte(*call.MessageBody), &got); err != nil {
		t.Fatalf("failed to unmarshal message body: %v", err)
	}
	if got != testChange() {
		t.Errorf("body = %+v, want %+v", got, testChange())
	}

	if call.MessageGroupId != nil || call.MessageDeduplicationId != nil {
		t.Error("standard queue must not carry FIFO fields")
	}
}

func TestPublishTierChange_SetsMessageAttributes(t *testing.T) {
	mock := &mockSQSSender{}
	p := NewTierEventPublisher(mock, config.AWSConfig{TierEventsQueue: testStandardURL}, nil)

	if err := p.PublishTierChange(context.Background(), testChange()); err != nil {
		t.Fatalf("PublishTierChange returned unexpected error: %v", err)
	}

	want := map[string]string{
		"company_id": "C",
		"new_tier":   "premium",
		"event_kind": "session_completed",
	}
	attrs := mock.calls[0].MessageAttributes
	for name, value := range want {
		attr, ok := attrs[name]
		if !ok {
			t.Errorf("expected %q message attribute to be set", name)
			continue
		}
		if *attr.StringValue != value {
			t.Errorf("attribute %q = %q, want %q", name, *attr.StringValue, value)
		}
		if *attr.DataType != "String" {
			t.Errorf("attribute %q DataType = %q, want String", name, *attr.DataType)
		}
	}
}

func TestPublishTierChange_FIFOGroupsByCompany(t *testing.T) {
	mock := &mockSQSSender{}
	p := NewTierEventPublisher(mock, config.AWSConfig{TierEventsQueue: testFIFOURL}, nil)

	if err := p.PublishTierChange(context.Background(), testChange()); err != nil {
		t.Fatalf("PublishTierChange returned unexpected error: %v", err)
	}

	call := mock.calls[0]
	if call.MessageGroupId == nil || *call.MessageGroupId != "C" {
		t.Errorf("MessageGroupId = %v, want C", call.MessageGroupId)
	}
	if call.MessageDeduplicationId == nil || *call.MessageDeduplicationId != "evt_1:premium" {
		t.Errorf("MessageDeduplicationId = %v, want evt_1:premium", call.MessageDeduplicationId)
	}
}

func TestDedupID(t *testing.T) {
	change := testChange()
	change.EventID = ""
	if got := dedupID(change); got != "C:premium:20260301T100000.000000000" {
		t.Errorf("dedupID without event id = %q", got)
	}

	change.EventID = strings.Repeat("x", 200)
	if got := dedupID(change); len(got) != 128 {
		t.Errorf("dedupID length = %d, want 128", len(got))
	}
}

func TestPublishTierChange_SQSError(t *testing.T) {
	mock := &mockSQSSender{err: errors.New("access denied")}
	p := NewTierEventPublisher(mock, config.AWSConfig{TierEventsQueue: testStandardURL}, nil)

	err := p.PublishTierChange(context.Background(), testChange())
	if err == nil {
		t.Fatal("expected error from SQS failure")
	}
	if !strings.Contains(err.Error(), "access denied") || !strings.Contains(err.Error(), testStandardURL) {
		t.Errorf("error should name the cause and queue, got: %v", err)
	}
}
