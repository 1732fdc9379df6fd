package billing

import (
	"fmt"

	"dirhub/internal/types"
)

// Checkout metadata keys echoed back by the provider on session_completed.
const (
	MetadataCompanyID = "company_id"
	MetadataTier      = "tier"
)

// Mapper turns verified provider events into tier decisions. It holds only
// the price catalogue and has no I/O.
type Mapper struct {
	tierByPrice map[string]types.Tier
}

// NewMapper builds a mapper from the tier to price id catalogue.
func NewMapper(priceIDs map[types.Tier]string) *Mapper {
	m := &Mapper{tierByPrice: make(map[string]types.Tier, len(priceIDs))}
	for tier, price := range priceIDs {
		if price != "" && tier.IsPaid() {
			m.tierByPrice[price] = tier
		}
	}
	return m
}

// TierForPrice returns the paid tier sold by priceID, or basic when the price
// is not in the catalogue.
func (m *Mapper) TierForPrice(priceID string) types.Tier {
	if tier, ok := m.tierByPrice[priceID]; ok {
		return tier
	}
	return types.TierBasic
}

// Map derives the company reference, resulting tier and customer reference
// for ev. Ignored events map to an ignored SubscriptionEvent, never an error.
func (m *Mapper) Map(ev types.ProviderEvent) (types.SubscriptionEvent, error) {
	out := types.SubscriptionEvent{
		EventID:     ev.ID,
		Kind:        ev.Kind,
		CustomerRef: ev.CustomerRef,
		OccurredAt:  ev.Created,
	}

	switch ev.Kind {
	case types.EventSessionCompleted:
		companyID := ev.Metadata[MetadataCompanyID]
		if companyID == "" {
			// Sessions not opened by the upgrade flow carry no company.
			out.Kind = types.EventIgnored
			return out, nil
		}
		tier, ok := types.ParseTier(ev.Metadata[MetadataTier])
		if !ok || !tier.IsPaid() {
			return out, payloadError(ev, fmt.Sprintf("checkout metadata tier %q is not a paid tier", ev.Metadata[MetadataTier]))
		}
		out.Ref = types.ByID(companyID)
		out.Tier = tier
		return out, nil

	case types.EventSubscriptionUpdated:
		if ev.CustomerRef == "" {
			return out, payloadError(ev, "subscription event has no customer")
		}
		out.Ref = types.ByCustomerRef(ev.CustomerRef)
		out.Tier = m.tierForSubscription(ev)
		return out, nil

	case types.EventSubscriptionDeleted:
		if ev.CustomerRef == "" {
			return out, payloadError(ev, "subscription event has no customer")
		}
		out.Ref = types.ByCustomerRef(ev.CustomerRef)
		out.Tier = types.TierBasic
		return out, nil

	case types.EventIgnored:
		return out, nil

	default:
		return out, payloadError(ev, fmt.Sprintf("unsupported event kind %q", ev.Kind))
	}
}

// tierForSubscription picks the highest catalogue tier among the subscription
// items. A terminated subscription or an unknown price yields basic.
func (m *Mapper) tierForSubscription(ev types.ProviderEvent) types.Tier {
	if ev.Status.Terminated() {
		return types.TierBasic
	}
	best := types.TierBasic
	for _, price := range ev.PriceIDs {
		if tier := m.TierForPrice(price); tier.AtLeast(best) {
			best = tier
		}
	}
	return best
}

func payloadError(ev types.ProviderEvent, msg string) error {
	return types.NewAppErrorWithDetails(types.ErrCodeWebhookPayload, msg, nil, map[string]any{
		"event_id":   ev.ID,
		"event_kind": string(ev.Kind),
	})
}
