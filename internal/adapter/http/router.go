package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/iho/guardledger/internal/adapter/http/handler"
	"github.com/iho/guardledger/internal/adapter/http/middleware"
	"github.com/iho/guardledger/internal/domain"
	"github.com/iho/guardledger/internal/infrastructure/metrics"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	LedgerHandler     *handler.LedgerHandler
	SimulationHandler *handler.SimulationHandler
	HealthHandler     *handler.HealthHandler

	Logger zerolog.Logger

	// Optional pieces; nil disables them.
	IdempotencyMiddleware *middleware.IdempotencyMiddleware
	RateLimiter           *middleware.RateLimiter
	Authenticator         *middleware.Authenticator
	Metrics               *metrics.Metrics
	MetricsGatherer       prometheus.Gatherer
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewLoggingMiddleware(cfg.Logger).Wrap)
	r.Use(middleware.Recovery(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(middleware.Metrics(cfg.Metrics))
	}
	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Limit)
	}

	r.Get("/health", cfg.HealthHandler.Liveness)
	r.Get("/ready", cfg.HealthHandler.Readiness)
	if cfg.MetricsGatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))
	}

	lh := cfg.LedgerHandler

	r.Route("/api/v1", func(r chi.Router) {
		// Reads
		r.Group(func(r chi.Router) {
			if cfg.Authenticator != nil {
				r.Use(cfg.Authenticator.Optional)
			}

			r.Get("/accounts/{id}", lh.GetAccount)
			r.Get("/ledger", lh.Info)
			r.Get("/ledger/consistency", lh.Consistency)
			r.Get("/events", lh.Events)
		})

		// Mutations
		r.Group(func(r chi.Router) {
			if cfg.Authenticator != nil {
				r.Use(cfg.Authenticator.Required)
			}
			if cfg.IdempotencyMiddleware != nil {
				r.Use(cfg.IdempotencyMiddleware.Wrap)
			}

			r.Group(func(r chi.Router) {
				if cfg.Authenticator != nil {
					r.Use(cfg.Authenticator.RequireRole(domain.RoleOwner, domain.RoleDepositor))
				}
				r.Post("/deposits", lh.Deposit)
				r.Post("/withdrawals", lh.Withdraw)
			})

			r.Post("/custody/collect", lh.Collect)

			if cfg.SimulationHandler != nil {
				r.Post("/simulations/attack", cfg.SimulationHandler.Attack)
			}
		})
	})

	return r
}
