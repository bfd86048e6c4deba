package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/maxsam-ai/modelrouter/internal/events"
	"github.com/maxsam-ai/modelrouter/internal/httpapi"
	"github.com/maxsam-ai/modelrouter/internal/logging"
	"github.com/maxsam-ai/modelrouter/internal/metrics"
	"github.com/maxsam-ai/modelrouter/internal/providers/anthropic"
	"github.com/maxsam-ai/modelrouter/internal/providers/ollama"
	"github.com/maxsam-ai/modelrouter/internal/providers/openrouter"
	"github.com/maxsam-ai/modelrouter/internal/registry"
	"github.com/maxsam-ai/modelrouter/internal/router"
	"github.com/maxsam-ai/modelrouter/internal/tracing"
)

// Version is overridden at build time via -ldflags.
var Version = "1.0.0"

type Server struct {
	cfg Config

	r      *chi.Mux
	logger *slog.Logger

	registryCloser io.Closer
	traceShutdown  func(context.Context) error
}

// NewServer constructs the full dependency graph: logger, tracing, registry,
// tier adapters, executor, pipeline, and HTTP routes. Everything is injected;
// nothing lives in package globals.
func NewServer(cfg Config) (*Server, error) {
	logger := logging.Setup(cfg.LogLevel)

	traceShutdown, err := tracing.Setup(tracing.Config{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: "modelrouter",
	})
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(tracing.Middleware())

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	var reg router.RegistryClient
	var closer io.Closer
	switch cfg.RegistryBackend {
	case BackendSQLite:
		db, err := registry.NewSQLite(cfg.SQLiteDSN, logger)
		if err != nil {
			return nil, err
		}
		reg = db
		closer = db
		logger.Info("registry backend: sqlite", slog.String("dsn", cfg.SQLiteDSN))
	default:
		reg = registry.NewSupabase(cfg.SupabaseURL, cfg.SupabaseServiceKey, logger)
		logger.Info("registry backend: supabase")
	}

	bus := events.NewBus()
	m := metrics.New()
	audit := events.Mirror(reg, bus, m.ObserveEvent)

	local := ollama.New(cfg.OllamaBaseURL)
	adapters := map[router.Tier]router.Generator{
		router.TierLocal:   local,
		router.TierMarket:  openrouter.New(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey),
		router.TierPremium: anthropic.New(cfg.AnthropicAPIKey),
	}

	exec := router.NewExecutor(adapters, audit, logger)
	pipe := router.NewPipeline(audit, exec, logger)

	httpapi.MountRoutes(r, httpapi.Dependencies{
		Pipeline: pipe,
		Registry: audit,
		Local:    local,
		Metrics:  m,
		Bus:      bus,
		Version:  Version,
	})

	return &Server{
		cfg:            cfg,
		r:              r,
		logger:         logger,
		registryCloser: closer,
		traceShutdown:  traceShutdown,
	}, nil
}

func (s *Server) Router() http.Handler { return s.r }

func (s *Server) Close() error {
	if s.traceShutdown != nil {
		if err := s.traceShutdown(context.Background()); err != nil {
			s.logger.Warn("trace shutdown", slog.String("error", err.Error()))
		}
	}
	if s.registryCloser != nil {
		return s.registryCloser.Close()
	}
	return nil
}
