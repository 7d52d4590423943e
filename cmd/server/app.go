package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"trackgate/internal/audit"
	auditrelay "trackgate/internal/audit/relay"
	auditmemory "trackgate/internal/audit/store/memory"
	auditpostgres "trackgate/internal/audit/store/postgres"
	adminhandler "trackgate/internal/clients/handler"
	clientmetrics "trackgate/internal/clients/metrics"
	"trackgate/internal/clients/ports"
	"trackgate/internal/clients/service"
	clientstore "trackgate/internal/clients/store"
	confighandler "trackgate/internal/configapi/handler"
	"trackgate/internal/domainindex"
	jwttoken "trackgate/internal/jwt_token"
	"trackgate/internal/pixel"
	"trackgate/internal/platform/config"
	"trackgate/internal/platform/httpserver"
	"trackgate/internal/platform/logger"
	"trackgate/internal/platform/metrics"
	"trackgate/internal/platform/postgres"
	redisclient "trackgate/internal/platform/redis"
	"trackgate/internal/platform/telemetry"
	ratelimitmetrics "trackgate/internal/ratelimit/metrics"
	ratelimitmw "trackgate/internal/ratelimit/middleware"
	ratelimitsvc "trackgate/internal/ratelimit/service"
	"trackgate/internal/ratelimit/store/bucket"
	rlredis "trackgate/internal/ratelimit/store/redis"
	httptransport "trackgate/internal/transport/http"
)

const serviceName = "trackgate"

type application struct {
	cfg    *config.Server
	logger *slog.Logger

	registry *prometheus.Registry
	pool     *pgxpool.Pool
	redis    *redisclient.Client
	producer *auditrelay.KafkaProducer

	service *service.Service
	relay   *audit.Relay

	server        *http.Server
	metricsServer *http.Server
	shutdownOTel  func(context.Context) error
}

func newApplication(ctx context.Context, cfg *config.Server) (*application, error) {
	app := &application{
		cfg: cfg,
		logger: logger.New(logger.Config{
			Service: serviceName,
			Env:     cfg.Environment,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
		registry: metrics.NewRegistry(),
	}

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint, app.logger)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	app.shutdownOTel = shutdown

	store, audits, err := app.initStores(ctx)
	if err != nil {
		app.close(ctx)
		return nil, err
	}

	index := domainindex.New(domainindex.WithLoader(store), domainindex.WithLogger(app.logger))
	clientmetrics.RegisterIndexSize(app.registry, index.Len)

	auditMetrics := audit.NewMetrics(app.registry)
	publisher := audit.NewPublisher(audits,
		audit.WithLogger(app.logger),
		audit.WithMetrics(auditMetrics),
	)
	app.service = service.New(store, index, publisher,
		service.WithLogger(app.logger),
		service.WithMetrics(clientmetrics.New(app.registry)),
		service.WithDefaultOwner(cfg.DefaultOwner),
	)
	if err := app.service.RebuildIndex(ctx); err != nil {
		app.close(ctx)
		return nil, fmt.Errorf("build domain index: %w", err)
	}
	app.logger.Info("domain index loaded", "entries", index.Len())

	if err := app.initRelay(ctx, audits, auditMetrics); err != nil {
		app.close(ctx)
		return nil, err
	}

	rateLimit, err := app.initRateLimiting(ctx)
	if err != nil {
		app.close(ctx)
		return nil, err
	}

	tokens := jwttoken.NewJWTService(cfg.Auth.AdminJWTSecret, cfg.Auth.AdminJWTIssuer)
	ready := []httptransport.ReadinessCheck{app.service.Ready}
	if app.redis != nil {
		ready = append(ready, app.redis.Health)
	}
	router := httptransport.NewRouter(httptransport.Deps{
		Admin:          adminhandler.New(app.service, publisher, app.logger),
		Config:         confighandler.New(app.service, app.logger),
		Pixel:          pixel.New(app.service, app.logger),
		RateLimit:      rateLimit,
		TokenValidator: jwttoken.NewJWTServiceAdapter(tokens),
		RelayKeys:      cfg.Auth.RelayAPIKeys,
		TrustedProxies: cfg.TrustedProxies,
		Ready:          ready,
		ServiceName:    cfg.Telemetry.ServiceName,
		Logger:         app.logger,
	})
	app.server = httpserver.New(cfg.Addr, router)
	app.metricsServer = httpserver.New(cfg.MetricsAddr, metrics.Router(app.registry))
	return app, nil
}

// initStores selects Postgres when a database is configured and in-memory
// stores otherwise.
func (app *application) initStores(ctx context.Context) (ports.Store, audit.Store, error) {
	if app.cfg.Database.URL == "" {
		app.logger.Warn("DATABASE_URL not set; using in-memory stores")
		return clientstore.NewInMemory(), auditmemory.NewInMemoryStore(), nil
	}
	if err := postgres.Migrate(app.cfg.Database.URL); err != nil {
		return nil, nil, fmt.Errorf("apply migrations: %w", err)
	}
	pool, err := postgres.NewPool(ctx, postgres.Config{
		URL:      app.cfg.Database.URL,
		MaxConns: app.cfg.Database.MaxConns,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	app.pool = pool
	app.logger.Info("database connected", "max_conns", app.cfg.Database.MaxConns)
	return clientstore.NewPostgres(pool), auditpostgres.New(pool), nil
}

// initRelay starts shipping committed changes to Kafka. It needs the durable
// outbox, so it only runs on Postgres.
func (app *application) initRelay(ctx context.Context, audits audit.Store, m *audit.Metrics) error {
	if len(app.cfg.Kafka.Brokers) == 0 {
		return nil
	}
	outbox, ok := audits.(audit.Outbox)
	if !ok || app.pool == nil {
		app.logger.Warn("KAFKA_BROKERS set without DATABASE_URL; audit relay disabled")
		return nil
	}
	producer, err := auditrelay.NewKafkaProducer(ctx, auditrelay.Config{
		Brokers:           app.cfg.Kafka.Brokers,
		Topic:             app.cfg.Kafka.AuditTopic,
		Partitions:        app.cfg.Kafka.Partitions,
		ReplicationFactor: app.cfg.Kafka.ReplicationFactor,
	})
	if err != nil {
		return fmt.Errorf("connect kafka: %w", err)
	}
	app.producer = producer
	app.relay = audit.NewRelay(outbox, producer,
		audit.WithRelayInterval(app.cfg.Kafka.RelayInterval),
		audit.WithRelayLogger(app.logger),
		audit.WithRelayMetrics(m),
	)
	return nil
}

func (app *application) initRateLimiting(ctx context.Context) (*ratelimitmw.Middleware, error) {
	m := ratelimitmetrics.New(app.registry)

	var buckets ratelimitsvc.BucketStore = bucket.New()
	client, err := redisclient.New(ctx, redisclient.Config{
		URL:      app.cfg.Redis.URL,
		PoolSize: app.cfg.Redis.PoolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if client != nil {
		app.redis = client
		shared, err := rlredis.New(client, bucket.New(),
			rlredis.WithLogger(app.logger),
			rlredis.WithFallbackHook(m.IncrementFallback),
		)
		if err != nil {
			return nil, err
		}
		buckets = shared
		app.logger.Info("rate limiting backed by redis")
	}

	limiter, err := ratelimitsvc.New(buckets,
		ratelimitsvc.WithConfig(app.cfg.RateLimit),
		ratelimitsvc.WithLogger(app.logger),
		ratelimitsvc.WithMetrics(m),
	)
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	return ratelimitmw.New(limiter, app.logger,
		ratelimitmw.WithDisabled(app.cfg.DisableRateLimiting),
		ratelimitmw.WithThrottle(ratelimitsvc.NewGlobalThrottle(app.cfg.RateLimit.GlobalRPS)),
		ratelimitmw.WithThrottleObserver(m),
	), nil
}

// Run serves until ctx is cancelled. Background loops stop with the servers.
func (app *application) Run(ctx context.Context) error {
	app.logger.Info("trackgate starting", "addr", app.cfg.Addr, "metrics_addr", app.cfg.MetricsAddr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Run(gctx, app.server, app.cfg.ShutdownGracePeriod)
	})
	g.Go(func() error {
		return httpserver.Run(gctx, app.metricsServer, app.cfg.ShutdownGracePeriod)
	})
	g.Go(func() error {
		app.refreshIndex(gctx)
		return nil
	})
	if app.relay != nil {
		g.Go(func() error {
			if err := app.relay.Run(gctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	err := g.Wait()
	app.close(context.Background())
	app.logger.Info("trackgate stopped")
	return err
}

// refreshIndex rebuilds the index periodically so changes committed by other
// instances become visible within one interval.
func (app *application) refreshIndex(ctx context.Context) {
	if app.cfg.IndexRefreshInterval <= 0 {
		return
	}
	ticker := time.NewTicker(app.cfg.IndexRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = app.service.RebuildIndex(ctx)
		}
	}
}

func (app *application) close(ctx context.Context) {
	if app.producer != nil {
		app.producer.Close()
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("error closing redis", "error", err)
		}
	}
	if app.pool != nil {
		app.pool.Close()
	}
	if app.shutdownOTel != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := app.shutdownOTel(shutdownCtx); err != nil {
			app.logger.Error("error flushing telemetry", "error", err)
		}
	}
}
