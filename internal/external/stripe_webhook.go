package external

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"dirhub/internal/billing"
	"dirhub/internal/types"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Stripe event types the decoder recognises.
const (
	stripeEventSessionCompleted    = "checkout.session.completed"
	stripeEventSubscriptionUpdated = "customer.subscription.updated"
	stripeEventSubscriptionDeleted = "customer.subscription.deleted"
)

// StripeEventDecoder verifies Stripe webhook signatures and decodes the
// payload into a types.ProviderEvent.
type StripeEventDecoder struct {
	secret    types.SecretString
	tolerance time.Duration
}

// NewStripeEventDecoder returns a decoder for the endpoint signing secret.
func NewStripeEventDecoder(secret types.SecretString) *StripeEventDecoder {
	return &StripeEventDecoder{secret: secret, tolerance: webhook.DefaultTolerance}
}

// Decode authenticates payload against signatureHeader (the Stripe-Signature
// header) before looking at it. Nothing in an unverified payload is trusted.
//
// Unrecognised event types, and checkout sessions that did not create a
// subscription, decode to an EventIgnored event rather than an error.
func (d *StripeEventDecoder) Decode(payload []byte, signatureHeader string) (types.ProviderEvent, error) {
	if strings.TrimSpace(signatureHeader) == "" {
		return types.ProviderEvent{}, types.NewAppError(types.ErrCodeWebhookSignature, "missing Stripe-Signature header", nil)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, d.secret.Unmask(), webhook.ConstructEventOptions{
		Tolerance:                d.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return types.ProviderEvent{}, types.NewAppError(types.ErrCodeWebhookSignature, "invalid Stripe signature", err)
		}
		return types.ProviderEvent{}, types.NewAppError(types.ErrCodeWebhookPayload, "malformed Stripe event", err)
	}

	out := types.ProviderEvent{
		ID:      event.ID,
		Kind:    types.EventIgnored,
		RawType: string(event.Type),
		Created: time.Unix(event.Created, 0).UTC(),
	}

	switch string(event.Type) {
	case stripeEventSessionCompleted:
		var session stripe.CheckoutSession
		if err := decodeObject(event, &session); err != nil {
			return out, err
		}
		// One-time storefront orders share the endpoint but never affect tiers.
		if session.Mode != stripe.CheckoutSessionModeSubscription {
			return out, nil
		}
		out.Kind = types.EventSessionCompleted
		out.CustomerRef = customerID(session.Customer)
		out.Metadata = sessionMetadata(&session)

	case stripeEventSubscriptionUpdated, stripeEventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := decodeObject(event, &sub); err != nil {
			return out, err
		}
		out.Kind = types.EventSubscriptionUpdated
		if string(event.Type) == stripeEventSubscriptionDeleted {
			out.Kind = types.EventSubscriptionDeleted
		}
		out.CustomerRef = customerID(sub.Customer)
		out.Status = types.SubscriptionStatus(sub.Status)
		out.Metadata = sub.Metadata
		if sub.Items != nil {
			for _, item := range sub.Items.Data {
				if item != nil && item.Price != nil && item.Price.ID != "" {
					out.PriceIDs = append(out.PriceIDs, item.Price.ID)
				}
			}
		}
	}

	return out, nil
}

func decodeObject(event stripe.Event, v any) error {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return types.NewAppErrorWithDetails(types.ErrCodeWebhookPayload, "Stripe event has no data object", nil,
			map[string]any{"event_id": event.ID, "event_type": string(event.Type)})
	}
	if err := json.Unmarshal(event.Data.Raw, v); err != nil {
		return types.NewAppErrorWithDetails(types.ErrCodeWebhookPayload, "cannot decode Stripe event object", err,
			map[string]any{"event_id": event.ID, "event_type": string(event.Type)})
	}
	return nil
}

// sessionMetadata returns the session metadata, falling back to
// client_reference_id for the company id when the metadata lacks it.
func sessionMetadata(s *stripe.CheckoutSession) map[string]string {
	md := make(map[string]string, len(s.Metadata)+1)
	for k, v := range s.Metadata {
		md[k] = v
	}
	if strings.TrimSpace(md[billing.MetadataCompanyID]) == "" && s.ClientReferenceID != "" {
		md[billing.MetadataCompanyID] = s.ClientReferenceID
	}
	return md
}

func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.ID)
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}
