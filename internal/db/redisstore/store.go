// Package redisstore is a Redis-backed company store. Each company is a hash
// and each customer reference an index key pointing at its company id; tier
// writes run as Lua scripts so they are atomic on the server.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"dirhub/internal/types"
)

// Config holds store configuration.
type Config struct {
	// KeyPrefix namespaces every key (default "dirhub").
	KeyPrefix string
}

// Store implements the company store on Redis. The scripts derive company
// keys from the customer index at run time, so the store targets a single
// Redis node rather than a cluster.
type Store struct {
	client redis.UniversalClient
	prefix string
	clock  types.Clock
}

// New creates a store on client. clock may be nil.
func New(client redis.UniversalClient, cfg Config, clock types.Clock) (*Store, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "dirhub"
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Store{client: client, prefix: cfg.KeyPrefix, clock: clock}, nil
}

func (s *Store) companyKey(id string) string  { return s.prefix + ":company:" + id }
func (s *Store) customerKey(ref string) string { return s.prefix + ":customer:" + ref }

// applyTierScript resolves the company, checks customer ownership and writes
// tier, customer and updated_at only when something changes.
//
// ARGV: prefix, ref kind ("id"|"customer"), ref value, tier, customer ref, now.
// Returns {0} when nothing matched, else {1, id, previous tier, changed}.
var applyTierScript = redis.NewScript(`
local prefix   = ARGV[1]
local kind     = ARGV[2]
local ref      = ARGV[3]
local tier     = ARGV[4]
local customer = ARGV[5]
local now      = ARGV[6]

local id = ref
if kind == 'customer' then
	id = redis.call('GET', prefix .. ':customer:' .. ref)
	if not id then
		return {0}
	end
end

local key = prefix .. ':company:' .. id
if redis.call('EXISTS', key) == 0 then
	return {0}
end

local prev = redis.call('HGET', key, 'tier') or 'basic'
local prevCustomer = redis.call('HGET', key, 'stripe_customer_id') or ''
local newCustomer = prevCustomer
if customer ~= '' then
	newCustomer = customer
end

if newCustomer ~= prevCustomer then
	local owner = redis.call('GET', prefix .. ':customer:' .. newCustomer)
	if owner and owner ~= id then
		return redis.error_reply('customer reference already belongs to company ' .. owner)
	end
end

if prev == tier and newCustomer == prevCustomer then
	return {1, id, prev, 0}
end

if newCustomer ~= prevCustomer then
	if prevCustomer ~= '' then
		redis.call('DEL', prefix .. ':customer:' .. prevCustomer)
	end
	redis.call('SET', prefix .. ':customer:' .. newCustomer, id)
	redis.call('HSET', key, 'stripe_customer_id', newCustomer)
end
redis.call('HSET', key, 'tier', tier, 'updated_at', now)
return {1, id, prev, 1}
`)

// insertScript creates a company hash and claims its customer reference.
//
// KEYS: company key, customer key (or "" when none).
// ARGV: id, name, tier, customer ref, now.
var insertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return redis.error_reply('company ' .. ARGV[1] .. ' already exists')
end
if ARGV[4] ~= '' then
	if redis.call('SETNX', KEYS[2], ARGV[1]) == 0 then
		return redis.error_reply('customer reference ' .. ARGV[4] .. ' already in use')
	end
end
redis.call('HSET', KEYS[1], 'id', ARGV[1], 'name', ARGV[2], 'tier', ARGV[3],
	'stripe_customer_id', ARGV[4], 'created_at', ARGV[5], 'updated_at', ARGV[5])
return 1
`)

// Insert creates a company. A missing ID is generated and a missing tier
// defaults to basic.
func (s *Store) Insert(ctx context.Context, c *types.Company) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Tier == "" {
		c.Tier = types.TierBasic
	}
	if !c.Tier.Valid() {
		return types.NewAppError(types.ErrCodeValidationTier, fmt.Sprintf("invalid tier %q", c.Tier), nil)
	}

	now := s.clock.Now().UTC()
	customerKey := ""
	if c.StripeCustomerID != "" {
		customerKey = s.customerKey(c.StripeCustomerID)
	}

	err := insertScript.Run(ctx, s.client,
		[]string{s.companyKey(c.ID), customerKey},
		c.ID, c.Name, string(c.Tier), c.StripeCustomerID, now.Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create company", err)
	}
	c.CreatedAt, c.UpdatedAt = now, now
	return nil
}

// Seed inserts companies whose id is not yet present and returns how many it
// created. Existing companies are left alone so the tier history written by
// webhooks survives a restart. Every row needs an explicit id.
func (s *Store) Seed(ctx context.Context, companies ...types.Company) (int, error) {
	created := 0
	for i := range companies {
		c := companies[i]
		if c.ID == "" {
			return created, fmt.Errorf("seed company %q: id is required", c.Name)
		}
		n, err := s.client.Exists(ctx, s.companyKey(c.ID)).Result()
		if err != nil {
			return created, types.NewAppError(types.ErrCodeInternalDB, "failed to check company", err)
		}
		if n > 0 {
			continue
		}
		if err := s.Insert(ctx, &c); err != nil {
			return created, fmt.Errorf("seed company %s: %w", c.ID, err)
		}
		created++
	}
	return created, nil
}

// GetByID retrieves a company by id.
func (s *Store) GetByID(ctx context.Context, id string) (*types.Company, error) {
	fields, err := s.client.HGetAll(ctx, s.companyKey(id)).Result()
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve company", err)
	}
	if len(fields) == 0 {
		return nil, types.NewAppError(types.ErrCodeNotFoundCompany, "company not found", nil)
	}
	return decodeCompany(fields)
}

// getByCustomerRef retrieves the company owning a provider customer reference.
func (s *Store) getByCustomerRef(ctx context.Context, ref string) (*types.Company, error) {
	id, err := s.client.Get(ctx, s.customerKey(ref)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, types.NewAppError(types.ErrCodeNotFoundCompany, "company not found", nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to resolve customer reference", err)
	}
	return s.GetByID(ctx, id)
}

// ApplyTier sets the tier of the referenced company, recording customerRef
// when non-empty, in one script execution.
func (s *Store) ApplyTier(ctx context.Context, ref types.CompanyRef, tier types.Tier, customerRef string) (types.TierUpdate, error) {
	if !tier.Valid() {
		return types.TierUpdate{}, types.NewAppError(types.ErrCodeValidationTier, fmt.Sprintf("invalid tier %q", tier), nil)
	}
	kind, err := refKind(ref)
	if err != nil {
		return types.TierUpdate{}, err
	}

	res, err := applyTierScript.Run(ctx, s.client, nil,
		s.prefix, kind, ref.Value, string(tier), customerRef, s.clock.Now().UTC().Format(time.RFC3339Nano),
	).Slice()
	if err != nil {
		return types.TierUpdate{}, types.NewAppErrorWithDetails(types.ErrCodeInternalDB, "failed to apply tier", err,
			map[string]any{"company_ref": ref.String()})
	}
	return parseApplyResult(res, tier)
}

// Ping checks the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "redis ping failed", err)
	}
	return nil
}

func refKind(ref types.CompanyRef) (string, error) {
	if ref.IsZero() {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "empty company reference", nil)
	}
	switch ref.Kind {
	case types.RefByID:
		return "id", nil
	case types.RefByCustomer:
		return "customer", nil
	default:
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, fmt.Sprintf("unknown company reference kind %d", ref.Kind), nil)
	}
}

func parseApplyResult(res []any, tier types.Tier) (types.TierUpdate, error) {
	if len(res) == 0 {
		return types.TierUpdate{}, types.NewAppError(types.ErrCodeInternalDB, "empty apply result", nil)
	}
	if found, _ := res[0].(int64); found == 0 {
		return types.TierUpdate{}, nil
	}
	if len(res) != 4 {
		return types.TierUpdate{}, types.NewAppError(types.ErrCodeInternalDB, fmt.Sprintf("unexpected apply result %v", res), nil)
	}

	id, _ := res[1].(string)
	prev, _ := res[2].(string)
	changed, _ := res[3].(int64)
	return types.TierUpdate{
		Found:        true,
		CompanyID:    id,
		PreviousTier: types.Tier(prev),
		Tier:         tier,
		Changed:      changed == 1,
	}, nil
}

func decodeCompany(fields map[string]string) (*types.Company, error) {
	c := &types.Company{
		ID:               fields["id"],
		Name:             fields["name"],
		Tier:             types.Tier(fields["tier"]),
		StripeCustomerID: fields["stripe_customer_id"],
	}
	if !c.Tier.Valid() {
		c.Tier = types.TierBasic
	}
	var err error
	if c.CreatedAt, err = parseTime(fields["created_at"]); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "corrupt company record", err)
	}
	if c.UpdatedAt, err = parseTime(fields["updated_at"]); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "corrupt company record", err)
	}
	return c, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	// Unix seconds, as written by hand during local debugging.
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(secs, 0).UTC(), nil
}
