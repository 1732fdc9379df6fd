package config

import (
	"fmt"
	"sort"
	"strings"

	"dirhub/internal/types"
)

// TierPriceMap maps each paid tier to the provider price id that sells it.
// It implements envconfig.Decoder.
type TierPriceMap map[types.Tier]string

// Decode parses "tier:price_id" pairs separated by commas.
func (m *TierPriceMap) Decode(value string) error {
	out := make(TierPriceMap)
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, price, ok := strings.Cut(pair, ":")
		if !ok {
			return fmt.Errorf("invalid tier price pair %q: want tier:price_id", pair)
		}
		tier, known := types.ParseTier(name)
		if !known {
			return fmt.Errorf("unknown tier %q", name)
		}
		if !tier.IsPaid() {
			return fmt.Errorf("tier %q cannot have a price", tier)
		}
		price = strings.TrimSpace(price)
		if price == "" {
			return fmt.Errorf("empty price id for tier %q", tier)
		}
		if _, dup := out[tier]; dup {
			return fmt.Errorf("tier %q listed more than once", tier)
		}
		out[tier] = price
	}
	*m = out
	return nil
}

// Validate checks that every paid tier has a price id and that no price id
// sells two tiers, so the reverse lookup used by webhook mapping is exact.
func (m TierPriceMap) Validate() error {
	var missing []string
	for _, tier := range types.PaidTiers {
		if m[tier] == "" {
			missing = append(missing, string(tier))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing price ids for tiers: %s", strings.Join(missing, ", "))
	}

	seen := make(map[string]types.Tier, len(m))
	tiers := make([]string, 0, len(m))
	for tier := range m {
		tiers = append(tiers, string(tier))
	}
	sort.Strings(tiers)
	for _, name := range tiers {
		tier := types.Tier(name)
		if other, dup := seen[m[tier]]; dup {
			return fmt.Errorf("price id %q is shared by tiers %q and %q", m[tier], other, tier)
		}
		seen[m[tier]] = tier
	}
	return nil
}
