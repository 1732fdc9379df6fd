package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"dirhub/internal/types"
)

// SessionRepository resolves dashboard session tokens. Sessions are created
// by the login flow, which lives outside this service.
type SessionRepository struct {
	db  DBTX
	now func() time.Time
}

// NewSessionRepository creates a SessionRepository backed by db.
func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db, now: time.Now}
}

// ResolveToken maps a session token to the acting user and the company they
// manage. The company is read on every request so a re-linked user never
// acts on a stale company.
func (r *SessionRepository) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	var (
		actor     types.Actor
		companyID *string
		expiresAt time.Time
	)
	err := r.db.QueryRow(ctx,
		`SELECT u.id, u.email, u.company_id, s.expires_at
		 FROM sessions s
		 JOIN users u ON u.id = s.user_id
		 WHERE s.id = $1`,
		token,
	).Scan(&actor.ID, &actor.Email, &companyID, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "session not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to resolve session", err)
	}

	if !expiresAt.After(r.now()) {
		return nil, types.NewAppError(types.ErrCodeAuthTokenExpired, "session expired", nil)
	}

	actor.Type = types.ActorTypeUser
	if companyID != nil {
		actor.CompanyID = *companyID
	}
	return &actor, nil
}
