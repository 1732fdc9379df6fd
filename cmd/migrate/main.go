// Package main is the schema migration and seeding tool for the postgres
// company store.
//
//	migrate up
//	migrate down --steps 1
//	migrate status
//	migrate seed --file companies.json
//
// The connection string comes from --database-url or DATABASE_URL.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"

	"dirhub/internal/config"
	"dirhub/internal/db"
	"dirhub/internal/types"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// migrateRunner holds the database operations so tests can replace them.
type migrateRunner struct {
	up     func(ctx context.Context, dsn string) error
	down   func(ctx context.Context, dsn string, steps int) error
	status func(ctx context.Context, dsn string) (int64, error)
	seed   func(ctx context.Context, cfg config.DatabaseConfig, companies []types.Company) (int, error)
}

func defaultRunner() migrateRunner {
	return migrateRunner{
		up:     db.MigrateUp,
		down:   db.MigrateDown,
		status: db.MigrationStatus,
		seed:   seedCompanies,
	}
}

func newRootCmd() *cobra.Command {
	return newRootCmdWithRunner(defaultRunner())
}

func newRootCmdWithRunner(runner migrateRunner) *cobra.Command {
	var databaseURL string

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the company store schema",
		Long:          `Apply, roll back and inspect the embedded postgres migrations, and seed companies for local development.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&databaseURL, "database-url", "", "postgres connection string (defaults to DATABASE_URL)")

	loadDB := func() (config.DatabaseConfig, error) {
		_ = godotenv.Load()
		var cfg config.DatabaseConfig
		if err := envconfig.Process("", &cfg); err != nil {
			return cfg, fmt.Errorf("reading database configuration: %w", err)
		}
		if databaseURL != "" {
			cfg.URL = config.SecretString(databaseURL)
		}
		if cfg.URL.Empty() {
			return cfg, fmt.Errorf("DATABASE_URL or --database-url is required")
		}
		return cfg, nil
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadDB()
			if err != nil {
				return err
			}
			if err := runner.up(cmd.Context(), cfg.URL.Unmask()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}

	var steps int
	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps < 1 {
				return fmt.Errorf("--steps must be at least 1")
			}
			cfg, err := loadDB()
			if err != nil {
				return err
			}
			if err := runner.down(cmd.Context(), cfg.URL.Unmask(), steps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", steps)
			return nil
		},
	}
	downCmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the applied state of every migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadDB()
			if err != nil {
				return err
			}
			version, err := runner.status(cmd.Context(), cfg.URL.Unmask())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
			return nil
		},
	}

	var seedFile string
	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert companies from a JSON file",
		Example: `  migrate seed --file companies.json

  # companies.json
  [{"id": "C", "name": "Corner Bakery", "tier": "basic"}]`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if seedFile == "" {
				return fmt.Errorf("--file is required")
			}
			companies, err := db.ReadSeedFile(seedFile)
			if err != nil {
				return err
			}
			cfg, err := loadDB()
			if err != nil {
				return err
			}
			n, err := runner.seed(cmd.Context(), cfg, companies)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d companies\n", n)
			return nil
		},
	}
	seedCmd.Flags().StringVar(&seedFile, "file", "", "JSON array of companies")

	root.AddCommand(upCmd, downCmd, statusCmd, seedCmd)
	return root
}

func seedCompanies(ctx context.Context, cfg config.DatabaseConfig, companies []types.Company) (int, error) {
	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		return 0, err
	}
	defer pool.Close()

	repo := db.NewCompanyRepository(pool)
	for i := range companies {
		if err := repo.Insert(ctx, &companies[i]); err != nil {
			return i, fmt.Errorf("insert %q: %w", companies[i].Name, err)
		}
	}
	return len(companies), nil
}
