package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"dirhub/internal/api/handlers"
	"dirhub/internal/billing"
	"dirhub/internal/config"
	"dirhub/internal/core"
	"dirhub/internal/db"
	"dirhub/internal/db/memstore"
	"dirhub/internal/db/redisstore"
	"dirhub/internal/external"
	"dirhub/internal/queue"
	"dirhub/internal/telemetry"
	"dirhub/internal/types"
)

// cloudWatchFlushInterval is how often buffered metrics are published in
// HTTP mode. Lambda mode flushes after every invocation instead.
const cloudWatchFlushInterval = time.Minute

// companyStore is what every backend offers: reads for checkout and the
// capability endpoint, the atomic tier write, and a health ping.
type companyStore interface {
	billing.CompanyReader
	billing.TierStore
	Ping(ctx context.Context) error
}

// storeBundle is the result of opening the configured backend.
type storeBundle struct {
	companies companyStore
	auth      core.Authenticator
	limiter   core.RateLimitStore
	closers   []func(context.Context) error
}

// metricsBundle is the result of building the configured metrics backend.
type metricsBundle struct {
	billing billing.Metrics
	http    core.MetricsCollector
	handler http.Handler
	// run drains buffered metrics until ctx is done. nil when not needed.
	run func(ctx context.Context) error
	// flush publishes buffered metrics immediately. nil when not needed.
	flush func(ctx context.Context)
}

// application is the fully wired API.
type application struct {
	srv     *core.Server
	metrics metricsBundle
}

// buildApp opens the store, builds the billing pipeline and mounts every route.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	stores, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		c, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return aws.Config{}, fmt.Errorf("loading AWS config (region=%s): %w", cfg.AWS.Region, err)
		}
		awsCfg = &c
		return c, nil
	}

	metrics, err := buildMetrics(cfg, loadAWS, logger)
	if err != nil {
		closeAll(ctx, stores.closers, logger)
		return nil, err
	}

	var publisher billing.TierChangePublisher
	if cfg.AWS.TierEventsQueue != "" {
		c, err := loadAWS()
		if err != nil {
			closeAll(ctx, stores.closers, logger)
			return nil, err
		}
		client := sqs.NewFromConfig(c, func(o *sqs.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		publisher = queue.NewTierEventPublisher(client, cfg.AWS, logger)
		logger.Info("tier change notifications enabled", "queue_url", cfg.AWS.TierEventsQueue)
	}

	registry := external.NewClientRegistry(cfg.Billing, logger)
	initiator := billing.NewCheckoutInitiator(
		registry.Checkout,
		stores.companies,
		billing.CheckoutConfig{
			PublicBaseURL: cfg.Server.PublicBaseURL,
			PriceIDs:      cfg.Billing.PriceIDs(),
			Timeout:       cfg.Billing.ProviderTimeout,
		},
		metrics.billing,
		logger,
	)
	synchronizer := billing.NewSynchronizer(stores.companies, metrics.billing, publisher, logger)
	processor := billing.NewWebhookProcessor(
		registry.Events,
		billing.NewMapper(cfg.Billing.PriceIDs()),
		synchronizer,
		metrics.billing,
		logger,
	)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		closeAll(ctx, stores.closers, logger)
		return nil, fmt.Errorf("creating server: %w", err)
	}
	srv.Authenticator = stores.auth
	srv.RateLimitStore = stores.limiter
	srv.Metrics = metrics.http
	srv.MetricsHandler = metrics.handler
	srv.HealthProbes = append(srv.HealthProbes, core.HealthProbeFunc{
		ProbeName: "store_" + cfg.Store.Driver,
		Fn:        stores.companies.Ping,
	})
	srv.Closers = append(srv.Closers, stores.closers...)
	if metrics.flush != nil {
		srv.Closers = append(srv.Closers, func(ctx context.Context) error {
			metrics.flush(ctx)
			return nil
		})
	}

	billingHandler := handlers.NewBillingHandler(initiator, stores.companies, srv.Validator, srv.RateLimit, logger)
	capabilitiesHandler := handlers.NewCapabilitiesHandler(stores.companies, logger)
	webhookHandler := handlers.NewStripeWebhookHandler(processor, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		billingHandler.RegisterRoutes,
		capabilitiesHandler.RegisterRoutes,
	)
	srv.WebhookRegistrars = append(srv.WebhookRegistrars, webhookHandler.RegisterRoutes)
	srv.MountRoutes()

	return &application{srv: srv, metrics: metrics}, nil
}

// openStore opens the backend selected by STORE_DRIVER.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storeBundle, error) {
	switch cfg.Store.Driver {
	case "postgres":
		if cfg.Database.AutoMigrate {
			if err := db.MigrateUp(ctx, cfg.Database.URL.Unmask()); err != nil {
				return nil, fmt.Errorf("running migrations: %w", err)
			}
			logger.Info("database migrations applied")
		}
		pool, err := db.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		return &storeBundle{
			companies: db.NewCompanyRepository(pool),
			auth:      db.NewSessionRepository(pool),
			limiter:   memstore.NewRateLimiter(nil),
			closers: []func(context.Context) error{
				func(context.Context) error { pool.Close(); return nil },
			},
		}, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password.Unmask(),
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
		}
		store, err := redisstore.New(client, redisstore.Config{KeyPrefix: cfg.Redis.KeyPrefix}, nil)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		if err := seedStore(ctx, cfg.Store.SeedFile, store, logger); err != nil {
			_ = client.Close()
			return nil, err
		}
		limiter, err := redisstore.NewRateLimiter(client, cfg.Redis.KeyPrefix)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		logger.Warn("redis store has no session table; /v1 requests are anonymous")
		return &storeBundle{
			companies: store,
			limiter:   limiter,
			closers: []func(context.Context) error{
				func(context.Context) error { return client.Close() },
			},
		}, nil

	case "memory":
		store := memstore.New(nil)
		if cfg.Store.SeedFile != "" {
			if err := store.SeedFile(cfg.Store.SeedFile); err != nil {
				return nil, fmt.Errorf("seeding memory store: %w", err)
			}
		}
		logger.Warn("using in-memory company store; tier changes are lost on restart")
		return &storeBundle{
			companies: store,
			limiter:   memstore.NewRateLimiter(nil),
		}, nil

	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.Store.Driver)
	}
}

// buildMetrics builds the backend selected by METRICS_BACKEND.
func buildMetrics(cfg *config.Config, loadAWS func() (aws.Config, error), logger *slog.Logger) (metricsBundle, error) {
	switch cfg.Observability.MetricsBackend {
	case "prometheus":
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m := telemetry.NewPrometheusMetrics(reg, cfg.Observability.MetricNamespace)
		return metricsBundle{billing: m, http: m, handler: telemetry.Handler(reg)}, nil

	case "cloudwatch":
		c, err := loadAWS()
		if err != nil {
			return metricsBundle{}, err
		}
		client := cloudwatch.NewFromConfig(c, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		m := telemetry.NewCloudWatchMetrics(client, cfg.Observability.MetricNamespace, logger)
		return metricsBundle{
			billing: m,
			http:    m,
			run:     func(ctx context.Context) error { return m.Run(ctx, cloudWatchFlushInterval) },
			flush:   m.Flush,
		}, nil

	default:
		return metricsBundle{billing: billing.NoopMetrics{}}, nil
	}
}

// companySeeder is a durable store that can be populated from STORE_SEED_FILE.
type companySeeder interface {
	Seed(ctx context.Context, companies ...types.Company) (int, error)
}

// seedStore loads path into store. Rows already present are kept, so the file
// can stay configured across restarts.
func seedStore(ctx context.Context, path string, store companySeeder, logger *slog.Logger) error {
	if path == "" {
		return nil
	}
	companies, err := db.ReadSeedFile(path)
	if err != nil {
		return fmt.Errorf("seeding company store: %w", err)
	}
	created, err := store.Seed(ctx, companies...)
	if err != nil {
		return fmt.Errorf("seeding company store: %w", err)
	}
	logger.Info("company store seeded", "file", path, "rows", len(companies), "created", created)
	return nil
}

func closeAll(ctx context.Context, closers []func(context.Context) error, logger *slog.Logger) {
	for _, c := range closers {
		if err := c(ctx); err != nil {
			logger.Error("failed to release resource", "error", err)
		}
	}
}
