package db

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"dirhub/internal/types"
)

// seedRow carries the customer reference that types.Company hides from JSON.
type seedRow struct {
	types.Company
	CustomerRef string `json:"stripe_customer_id"`
}

// DecodeSeed reads a JSON array of companies:
//
//	[{"id": "C", "name": "Corner Bakery", "tier": "basic", "stripe_customer_id": "cus_1"}]
//
// An empty tier is left for the store to default; any other tier must be exact.
func DecodeSeed(r io.Reader) ([]types.Company, error) {
	var rows []seedRow
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	out := make([]types.Company, 0, len(rows))
	for i, row := range rows {
		c := row.Company
		c.StripeCustomerID = row.CustomerRef
		if c.Tier != "" && !c.Tier.Valid() {
			return nil, fmt.Errorf("seed row %d: invalid tier %q", i, c.Tier)
		}
		out = append(out, c)
	}
	return out, nil
}

// ReadSeedFile opens path and decodes it with DecodeSeed.
func ReadSeedFile(path string) ([]types.Company, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	defer f.Close()
	return DecodeSeed(f)
}
