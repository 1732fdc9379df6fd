// Package memstore is an in-process company store for local development and
// tests. It gives the same guarantees as the postgres store: ApplyTier is
// atomic and customer references are unique.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"dirhub/internal/db"
	"dirhub/internal/types"
)

// Store is safe for concurrent use.
type Store struct {
	mu         sync.Mutex
	byID       map[string]*types.Company
	byCustomer map[string]string
	clock      types.Clock
}

// New returns an empty store. clock may be nil.
func New(clock types.Clock) *Store {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Store{
		byID:       make(map[string]*types.Company),
		byCustomer: make(map[string]string),
		clock:      clock,
	}
}

// Create inserts a basic-tier company and returns it.
func (s *Store) Create(_ context.Context, name string) (*types.Company, error) {
	now := s.clock.Now()
	c := &types.Company{
		ID:        uuid.NewString(),
		Name:      name,
		Tier:      types.TierBasic,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[c.ID] = c
	cp := *c
	return &cp, nil
}

// Seed inserts companies as given. Missing ids are generated, missing tiers
// default to basic.
func (s *Store) Seed(companies ...types.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for _, c := range companies {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.Tier == "" {
			c.Tier = types.TierBasic
		}
		if !c.Tier.Valid() {
			return fmt.Errorf("seed company %s: invalid tier %q", c.ID, c.Tier)
		}
		if c.StripeCustomerID != "" {
			if owner, ok := s.byCustomer[c.StripeCustomerID]; ok && owner != c.ID {
				return fmt.Errorf("seed company %s: customer %s already belongs to %s", c.ID, c.StripeCustomerID, owner)
			}
			s.byCustomer[c.StripeCustomerID] = c.ID
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		if c.UpdatedAt.IsZero() {
			c.UpdatedAt = c.CreatedAt
		}
		cp := c
		s.byID[c.ID] = &cp
	}
	return nil
}

// SeedFile loads a JSON array of companies into the store.
func (s *Store) SeedFile(path string) error {
	companies, err := db.ReadSeedFile(path)
	if err != nil {
		return err
	}
	return s.Seed(companies...)
}

// GetByID returns a copy of the company.
func (s *Store) GetByID(_ context.Context, id string) (*types.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return nil, notFound(types.ByID(id))
	}
	cp := *c
	return &cp, nil
}

// getByCustomerRef returns a copy of the company owning ref.
func (s *Store) getByCustomerRef(_ context.Context, ref string) (*types.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byCustomer[ref]
	if !ok {
		return nil, notFound(types.ByCustomerRef(ref))
	}
	cp := *s.byID[id]
	return &cp, nil
}

// List returns all companies ordered by name.
func (s *Store) List(_ context.Context) ([]types.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Company, 0, len(s.byID))
	for _, c := range s.byID {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ApplyTier implements billing.TierStore.
func (s *Store) ApplyTier(_ context.Context, ref types.CompanyRef, tier types.Tier, customerRef string) (types.TierUpdate, error) {
	if !tier.Valid() {
		return types.TierUpdate{}, fmt.Errorf("invalid tier %q", tier)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.resolve(ref)
	if c == nil {
		return types.TierUpdate{}, nil
	}

	upd := types.TierUpdate{
		Found:        true,
		CompanyID:    c.ID,
		PreviousTier: c.Tier,
		Tier:         tier,
	}

	newCustomer := c.StripeCustomerID
	if customerRef != "" {
		newCustomer = customerRef
	}
	if newCustomer != c.StripeCustomerID {
		if owner, taken := s.byCustomer[newCustomer]; taken && owner != c.ID {
			return types.TierUpdate{}, fmt.Errorf("customer reference %s already belongs to company %s", newCustomer, owner)
		}
	}

	if c.Tier == tier && c.StripeCustomerID == newCustomer {
		return upd, nil
	}

	if newCustomer != c.StripeCustomerID {
		if c.StripeCustomerID != "" {
			delete(s.byCustomer, c.StripeCustomerID)
		}
		s.byCustomer[newCustomer] = c.ID
		c.StripeCustomerID = newCustomer
	}
	c.Tier = tier
	c.UpdatedAt = s.clock.Now()
	upd.Changed = true
	return upd, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// resolve must be called with mu held.
func (s *Store) resolve(ref types.CompanyRef) *types.Company {
	switch ref.Kind {
	case types.RefByID:
		return s.byID[ref.Value]
	case types.RefByCustomer:
		if id, ok := s.byCustomer[ref.Value]; ok {
			return s.byID[id]
		}
	}
	return nil
}

func notFound(ref types.CompanyRef) error {
	return types.NewAppErrorWithDetails(types.ErrCodeNotFoundCompany, "Company not found", nil, map[string]any{"ref": ref.String()})
}
