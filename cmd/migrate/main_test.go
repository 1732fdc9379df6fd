package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dirhub/internal/config"
	"dirhub/internal/types"
)

type recordedRunner struct {
	dsn       string
	steps     int
	seeded    []types.Company
	statusErr error
}

func (r *recordedRunner) runner() migrateRunner {
	return migrateRunner{
		up: func(_ context.Context, dsn string) error {
			r.dsn = dsn
			return nil
		},
		down: func(_ context.Context, dsn string, steps int) error {
			r.dsn, r.steps = dsn, steps
			return nil
		},
		status: func(_ context.Context, dsn string) (int64, error) {
			r.dsn = dsn
			return 2, r.statusErr
		},
		seed: func(_ context.Context, cfg config.DatabaseConfig, companies []types.Company) (int, error) {
			r.dsn = cfg.URL.Unmask()
			r.seeded = companies
			return len(companies), nil
		},
	}
}

func execute(t *testing.T, rec *recordedRunner, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmdWithRunner(rec.runner())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestUpUsesDatabaseURLFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/dirhub")
	rec := &recordedRunner{}

	out, err := execute(t, rec, "up")
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/dirhub", rec.dsn)
	assert.Contains(t, out, "migrations applied")
}

func TestFlagOverridesEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/dirhub")
	rec := &recordedRunner{}

	_, err := execute(t, rec, "status", "--database-url", "postgres://flag/dirhub")
	require.NoError(t, err)
	assert.Equal(t, "postgres://flag/dirhub", rec.dsn)
}

func TestMissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	rec := &recordedRunner{}

	_, err := execute(t, rec, "up")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestDownSteps(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/dirhub")

	rec := &recordedRunner{}
	out, err := execute(t, rec, "down", "--steps", "2")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.steps)
	assert.Contains(t, out, "rolled back 2")

	_, err = execute(t, &recordedRunner{}, "down", "--steps", "0")
	assert.Error(t, err)
}

func TestStatusReportsVersion(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/dirhub")

	out, err := execute(t, &recordedRunner{}, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "schema version 2")

	_, err = execute(t, &recordedRunner{statusErr: errors.New("connection refused")}, "status")
	assert.ErrorContains(t, err, "connection refused")
}

func TestSeed(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/dirhub")
	path := filepath.Join(t.TempDir(), "companies.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"id":"C","name":"Corner Bakery","tier":"basic"},
		{"name":"Harbor Dental","tier":"premium","stripe_customer_id":"cus_123"}
	]`), 0o600))

	rec := &recordedRunner{}
	out, err := execute(t, rec, "seed", "--file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "seeded 2 companies")
	require.Len(t, rec.seeded, 2)
	assert.Equal(t, "C", rec.seeded[0].ID)
	assert.Equal(t, types.TierPremium, rec.seeded[1].Tier)
	assert.Equal(t, "cus_123", rec.seeded[1].StripeCustomerID)
}

func TestSeedRejectsUnknownTier(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/dirhub")
	path := filepath.Join(t.TempDir(), "companies.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"name":"X","tier":"gold"}]`), 0o600))

	rec := &recordedRunner{}
	_, err := execute(t, rec, "seed", "--file", path)
	assert.ErrorContains(t, err, "invalid tier")
	assert.Nil(t, rec.seeded)
}

func TestSeedRequiresFile(t *testing.T) {
	_, err := execute(t, &recordedRunner{}, "seed")
	assert.ErrorContains(t, err, "--file")
}
