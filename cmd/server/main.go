package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	httpAdapter "github.com/iho/guardledger/internal/adapter/http"
	"github.com/iho/guardledger/internal/adapter/http/handler"
	"github.com/iho/guardledger/internal/adapter/http/middleware"
	"github.com/iho/guardledger/internal/adapter/repository/idgen"
	"github.com/iho/guardledger/internal/adapter/repository/memory"
	postgresRepo "github.com/iho/guardledger/internal/adapter/repository/postgres"
	redisRepo "github.com/iho/guardledger/internal/adapter/repository/redis"
	"github.com/iho/guardledger/internal/gateway"
	"github.com/iho/guardledger/internal/infrastructure/auth"
	"github.com/iho/guardledger/internal/infrastructure/config"
	"github.com/iho/guardledger/internal/infrastructure/eventpublisher"
	"github.com/iho/guardledger/internal/infrastructure/logger"
	"github.com/iho/guardledger/internal/infrastructure/metrics"
	"github.com/iho/guardledger/internal/infrastructure/postgres"
	"github.com/iho/guardledger/internal/infrastructure/redis"
	"github.com/iho/guardledger/internal/ledger"
	"github.com/iho/guardledger/internal/usecase"
)

const (
	outboxRetention    = 7 * 24 * time.Hour
	limiterIdleTimeout = 10 * time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

// run serves until ctx is cancelled, then shuts down gracefully.
func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	a, err := newApp(ctx, cfg, log, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer a.close()

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	a.startWorkers(workerCtx)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:      a.handler,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("port", cfg.HTTPPort).
			Str("ledger", cfg.LedgerName).
			Str("variant", cfg.LedgerVariant).
			Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// Flush whatever the last requests left behind.
	cancelWorkers()
	if err := a.ledgerUC.FlushOutbox(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("outbox flush failed")
	}

	log.Info().Msg("server stopped")
	return nil
}

// app is the wired service.
type app struct {
	handler     http.Handler
	ledgerUC    *usecase.LedgerUseCase
	relay       *eventpublisher.EventPublisher
	rateLimiter *middleware.RateLimiter
	logger      zerolog.Logger
	closers     []func()
}

func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger, reg *prometheus.Registry) (*app, error) {
	a := &app{logger: log}

	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	ledgerCfg, err := cfg.LedgerConfig()
	if err != nil {
		return nil, err
	}

	gw := gateway.New(log)
	l, err := ledger.New(ledgerCfg, gw, nil, log)
	if err != nil {
		return nil, err
	}
	gw.Register(l.Name(), l)

	checks := map[string]handler.Check{}

	outbox, err := a.newOutbox(ctx, cfg, checks)
	if err != nil {
		a.close()
		return nil, err
	}

	a.ledgerUC = usecase.NewLedgerUseCase(l, outbox, idgen.NewULIDGenerator(), m, log)
	simulationUC := usecase.NewSimulationUseCase(ledgerCfg, nil, m, log)

	publisher, err := a.newPublisher(cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	a.relay = eventpublisher.NewEventPublisher(eventpublisher.Config{
		OutboxRepo: outbox,
		Publisher:  publisher,
		Recorder:   m,
		Logger:     log,
		BatchSize:  cfg.RelayBatchSize,
		Interval:   cfg.RelayInterval,
		Retention:  outboxRetention,
		MaxRetries: 3,
	})

	routerCfg := httpAdapter.RouterConfig{
		LedgerHandler:     handler.NewLedgerHandler(a.ledgerUC),
		SimulationHandler: handler.NewSimulationHandler(simulationUC),
		Logger:            log,
		Metrics:           m,
		MetricsGatherer:   reg,
	}

	if cfg.RedisURL != "" {
		client, err := redis.NewClient(ctx, cfg.RedisURL, log)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		checks["redis"] = redis.Check(client)

		store := redisRepo.NewIdempotencyStore(client, cfg.LedgerName).WithObserver(m)
		routerCfg.IdempotencyMiddleware = middleware.NewIdempotencyMiddleware(store, cfg.IdempotencyTTL, log)
	} else {
		log.Warn().Msg("REDIS_URL not set, idempotency keys disabled")
	}

	if cfg.AuthEnabled {
		jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)
		routerCfg.Authenticator = middleware.NewAuthenticator(jwtManager, m)
	}

	if cfg.RateLimitRPS > 0 {
		a.rateLimiter = middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).WithRecorder(m)
		routerCfg.RateLimiter = a.rateLimiter
	}

	routerCfg.HealthHandler = handler.NewHealthHandler(checks)
	a.handler = httpAdapter.NewRouter(routerCfg)

	return a, nil
}

func (a *app) newOutbox(ctx context.Context, cfg *config.Config, checks map[string]handler.Check) (usecase.OutboxRepository, error) {
	if cfg.OutboxDriver != config.OutboxPostgres {
		return memory.NewOutboxRepository(), nil
	}

	if err := postgres.NewMigrator(cfg.MigrationsPath, cfg.DatabaseURL, a.logger).Up(); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	pool, err := postgres.NewPoolWithConfig(ctx, postgres.PoolConfig{
		DatabaseURL:    cfg.DatabaseURL,
		MaxConns:       cfg.DatabaseMaxConns,
		MinConns:       cfg.DatabaseMinConns,
		ConnectTimeout: cfg.DatabaseTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.closers = append(a.closers, pool.Close)
	checks["postgres"] = pool.Ping
	a.logger.Info().Msg("connected to postgres")

	return postgresRepo.NewOutboxRepository(pool), nil
}

func (a *app) newPublisher(cfg *config.Config) (eventpublisher.Publisher, error) {
	if cfg.EventPublisher != config.PublisherKafka {
		return eventpublisher.NewLogPublisher(a.logger), nil
	}

	p, err := eventpublisher.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	if err != nil {
		return nil, fmt.Errorf("kafka publisher: %w", err)
	}
	a.closers = append(a.closers, func() { _ = p.Close() })

	return p, nil
}

// startWorkers runs the outbox relay and the rate limiter janitor until ctx
// is cancelled.
func (a *app) startWorkers(ctx context.Context) {
	go func() {
		if err := a.relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error().Err(err).Msg("outbox relay stopped")
		}
	}()

	if a.rateLimiter == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(limiterIdleTimeout)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := a.rateLimiter.CleanupLimiters(limiterIdleTimeout); n > 0 {
					a.logger.Debug().Int("removed", n).Msg("rate limiters cleaned up")
				}
			}
		}
	}()
}

// close releases external resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
