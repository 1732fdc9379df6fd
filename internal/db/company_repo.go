package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"dirhub/internal/types"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// CompanyRepository provides data access for the companies table.
type CompanyRepository struct {
	db DBTX
}

// NewCompanyRepository creates a CompanyRepository backed by db.
func NewCompanyRepository(db DBTX) *CompanyRepository {
	return &CompanyRepository{db: db}
}

const companyColumns = `c.id, c.name, c.tier, c.stripe_customer_id, c.created_at, c.updated_at`

// scanCompany scans a row selected with companyColumns.
func scanCompany(row pgx.Row) (*types.Company, error) {
	var c types.Company
	var customerID *string

	if err := row.Scan(&c.ID, &c.Name, &c.Tier, &customerID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if customerID != nil {
		c.StripeCustomerID = *customerID
	}
	return &c, nil
}

// Insert creates a company. A missing ID is generated and a missing tier
// defaults to basic.
func (r *CompanyRepository) Insert(ctx context.Context, c *types.Company) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Tier == "" {
		c.Tier = types.TierBasic
	}
	if !c.Tier.Valid() {
		return types.NewAppError(types.ErrCodeValidationTier, fmt.Sprintf("invalid tier %q", c.Tier), nil)
	}

	err := r.db.QueryRow(ctx,
		`INSERT INTO companies (id, name, tier, stripe_customer_id)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at, updated_at`,
		c.ID, c.Name, c.Tier, nilIfEmpty(c.StripeCustomerID),
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create company", err)
	}
	return nil
}

// GetByID retrieves a company by id.
func (r *CompanyRepository) GetByID(ctx context.Context, id string) (*types.Company, error) {
	return r.get(ctx, types.ByID(id))
}

// getByCustomerRef retrieves the company owning a provider customer reference.
func (r *CompanyRepository) getByCustomerRef(ctx context.Context, ref string) (*types.Company, error) {
	return r.get(ctx, types.ByCustomerRef(ref))
}

func (r *CompanyRepository) get(ctx context.Context, ref types.CompanyRef) (*types.Company, error) {
	where, err := refPredicate(ref)
	if err != nil {
		return nil, err
	}

	c, err := scanCompany(r.db.QueryRow(ctx,
		`SELECT `+companyColumns+` FROM companies c WHERE `+where,
		ref.Value,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundCompany, "company not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve company", err)
	}
	return c, nil
}

// ApplyTier sets the company's tier, and records customerRef when non-empty,
// in one statement. The target row is locked, compared and conditionally
// updated without a round trip, so concurrent deliveries serialise on the
// row. A no-op write does not touch updated_at.
//
// A reference that matches no company yields TierUpdate{Found: false}.
func (r *CompanyRepository) ApplyTier(ctx context.Context, ref types.CompanyRef, tier types.Tier, customerRef string) (types.TierUpdate, error) {
	if !tier.Valid() {
		return types.TierUpdate{}, types.NewAppError(types.ErrCodeValidationTier, fmt.Sprintf("invalid tier %q", tier), nil)
	}
	where, err := refPredicate(ref)
	if err != nil {
		return types.TierUpdate{}, err
	}

	query := `WITH target AS (
			SELECT c.id, c.tier FROM companies c WHERE ` + where + ` FOR UPDATE
		), updated AS (
			UPDATE companies c
			   SET tier = $2::text,
			       stripe_customer_id = COALESCE(NULLIF($3::text, ''), c.stripe_customer_id),
			       updated_at = NOW()
			  FROM target t
			 WHERE c.id = t.id
			   AND (c.tier IS DISTINCT FROM $2::text
			        OR (NULLIF($3::text, '') IS NOT NULL AND c.stripe_customer_id IS DISTINCT FROM $3::text))
			RETURNING c.id
		)
		SELECT t.id, t.tier, EXISTS (SELECT 1 FROM updated) FROM target t`

	upd := types.TierUpdate{Tier: tier}
	err = r.db.QueryRow(ctx, query, ref.Value, string(tier), customerRef).
		Scan(&upd.CompanyID, &upd.PreviousTier, &upd.Changed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.TierUpdate{}, nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return types.TierUpdate{}, types.NewAppErrorWithDetails(types.ErrCodeInternalDB,
				"customer reference already belongs to another company", err,
				map[string]any{"customer_ref": customerRef})
		}
		return types.TierUpdate{}, types.NewAppError(types.ErrCodeInternalDB, "failed to apply tier", err)
	}

	upd.Found = true
	return upd, nil
}

// Ping checks that the database answers a trivial query.
func (r *CompanyRepository) Ping(ctx context.Context) error {
	var one int
	if err := r.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "database ping failed", err)
	}
	return nil
}

// refPredicate resolves a CompanyRef to the WHERE clause matching it on $1.
func refPredicate(ref types.CompanyRef) (string, error) {
	if ref.IsZero() {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "empty company reference", nil)
	}
	switch ref.Kind {
	case types.RefByID:
		return `c.id = $1`, nil
	case types.RefByCustomer:
		return `c.stripe_customer_id = $1`, nil
	default:
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, fmt.Sprintf("unknown company reference kind %d", ref.Kind), nil)
	}
}
