package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/txn2/config-store/pkg/api"
	"github.com/txn2/config-store/pkg/audit"
	auditpg "github.com/txn2/config-store/pkg/audit/postgres"
	"github.com/txn2/config-store/pkg/auth"
	"github.com/txn2/config-store/pkg/backend"
	"github.com/txn2/config-store/pkg/backend/githost"
	"github.com/txn2/config-store/pkg/backend/memory"
	"github.com/txn2/config-store/pkg/database/migrate"
	"github.com/txn2/config-store/pkg/health"
	"github.com/txn2/config-store/pkg/ledger"
	ledgerpg "github.com/txn2/config-store/pkg/ledger/postgres"
	"github.com/txn2/config-store/pkg/middleware"
	"github.com/txn2/config-store/pkg/store"
)

const shutdownTimeout = 15 * time.Second

// Service is the assembled config store: engine, HTTP surface and the
// lifecycle of everything underneath.
type Service struct {
	cfg       *Config
	logger    *slog.Logger
	engine    *store.Engine
	handler   http.Handler
	server    *http.Server
	checker   *health.Checker
	lifecycle *Lifecycle
	db        *sql.DB
	cancelBG  context.CancelFunc
}

// New wires a Service from configuration.
func New(cfg *Config, logger *slog.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		cfg:       cfg,
		logger:    logger,
		checker:   health.NewChecker(),
		lifecycle: NewLifecycle(),
	}
	bgCtx, cancel := context.WithCancel(context.Background())
	s.cancelBG = cancel

	b, err := s.buildBackend()
	if err != nil {
		return nil, err
	}

	if cfg.Database.DSN != "" {
		db, err := sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		s.db = db
	}

	var led ledger.Ledger
	if s.db != nil {
		led = ledgerpg.New(s.db)
	} else {
		led = ledger.NewMemory()
	}

	s.engine = store.New(b, led, store.WithAuthor(cfg.Server.Name))

	auditLogger := s.buildAudit()

	authenticator, err := s.buildAuthenticator()
	if err != nil {
		return nil, err
	}

	s.checker.AddCheck("backend", func(ctx context.Context) error {
		_, err := b.ListPaths(ctx, "")
		return err
	})
	if s.db != nil {
		s.checker.AddCheck("database", s.db.PingContext)
	}

	apiHandler := api.NewHandler(api.Deps{
		Engine: s.engine,
		Audit:  auditLogger,
		Logger: logger,
	})

	middlewares := []middleware.Middleware{
		middleware.RequestID(),
		middleware.Logging(logger),
	}
	if len(cfg.CORS.AllowedOrigins) > 0 {
		middlewares = append(middlewares, middleware.CORS(cfg.CORS.AllowedOrigins))
	}
	if cfg.RateLimit.Enabled {
		middlewares = append(middlewares, middleware.RateLimit(bgCtx, cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	}
	if authenticator != nil {
		middlewares = append(middlewares, middleware.Authentication(authenticator))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.checker.LivenessHandler())
	mux.HandleFunc("GET /readyz", s.checker.ReadinessHandler())
	mux.Handle("/api/v1/", middleware.Chain(apiHandler, middlewares...))

	s.handler = mux
	s.server = &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.registerLifecycle()
	return s, nil
}

// buildBackend constructs the history backend selected by config.
func (s *Service) buildBackend() (backend.Adapter, error) {
	switch s.cfg.Backend.Mode {
	case "memory":
		return memory.New(memory.WithAuthor(s.cfg.Server.Name)), nil
	case "githost":
		g := s.cfg.Backend.Githost
		return githost.New(githost.Config{
			BaseURL: g.BaseURL,
			Repo:    g.Repo,
			Branch:  g.Branch,
			Token:   g.Token,
			Timeout: g.Timeout,
		})
	default:
		return nil, fmt.Errorf("backend mode %q is not supported", s.cfg.Backend.Mode)
	}
}

// buildAudit selects the audit sink: postgres when a database is
// configured and auditing is enabled, the process log otherwise.
func (s *Service) buildAudit() audit.Logger {
	if !s.cfg.Audit.Enabled {
		return audit.NewSlogLogger(s.logger)
	}
	if s.db == nil {
		return audit.NewSlogLogger(s.logger)
	}
	pg := auditpg.New(s.db, auditpg.Config{RetentionDays: s.cfg.Audit.RetentionDays})
	s.lifecycle.OnStart(func(context.Context) error {
		pg.StartRetentionSweep()
		return nil
	})
	s.lifecycle.RegisterCloser(pg)
	return pg
}

// buildAuthenticator assembles the authenticator chain, or nil when
// authentication is disabled.
func (s *Service) buildAuthenticator() (auth.Authenticator, error) {
	if !s.cfg.Auth.Enabled {
		return nil, nil
	}

	var authenticators []auth.Authenticator
	if len(s.cfg.Auth.APIKeys) > 0 {
		apiKeyAuth, err := auth.NewAPIKeyAuthenticator(auth.APIKeyConfig{Keys: s.cfg.Auth.APIKeys})
		if err != nil {
			return nil, fmt.Errorf("building api key authenticator: %w", err)
		}
		authenticators = append(authenticators, apiKeyAuth)
	}
	if s.cfg.Auth.JWT.Enabled {
		jwtAuth, err := auth.NewJWTAuthenticator(auth.JWTConfig{
			Issuer:     s.cfg.Auth.JWT.Issuer,
			SigningKey: []byte(s.cfg.Auth.JWT.SigningKey),
		})
		if err != nil {
			return nil, fmt.Errorf("building jwt authenticator: %w", err)
		}
		authenticators = append(authenticators, jwtAuth)
	}

	return auth.NewChainedAuthenticator(auth.ChainedAuthConfig{
		AllowAnonymous: s.cfg.Auth.AllowAnonymous,
	}, authenticators...), nil
}

// registerLifecycle wires startup and shutdown order: database first,
// HTTP server last.
func (s *Service) registerLifecycle() {
	if s.db != nil {
		s.lifecycle.OnStart(func(ctx context.Context) error {
			if err := s.db.PingContext(ctx); err != nil {
				return fmt.Errorf("pinging database: %w", err)
			}
			if err := migrate.Run(s.db); err != nil {
				return fmt.Errorf("migrating database: %w", err)
			}
			return nil
		})
		s.lifecycle.RegisterCloser(s.db)
	}

	s.lifecycle.OnStart(func(context.Context) error {
		go func() {
			err := s.listenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("http server failed", "error", err)
			}
		}()
		s.checker.SetReady()
		s.logger.Info("config store listening",
			"address", s.cfg.Server.Address,
			"backend", s.cfg.Backend.Mode,
			"version", s.cfg.Server.Version)
		return nil
	})
	s.lifecycle.OnStop(func(ctx context.Context) error {
		s.checker.SetDraining()
		s.cancelBG()
		return s.server.Shutdown(ctx)
	})
}

func (s *Service) listenAndServe() error {
	if s.cfg.Server.TLS.Enabled {
		return s.server.ListenAndServeTLS(s.cfg.Server.TLS.CertFile, s.cfg.Server.TLS.KeyFile)
	}
	return s.server.ListenAndServe()
}

// Start brings the service up.
func (s *Service) Start(ctx context.Context) error {
	return s.lifecycle.Start(ctx)
}

// Stop drains and shuts the service down.
func (s *Service) Stop(ctx context.Context) error {
	return s.lifecycle.Stop(ctx)
}

// Run starts the service and blocks until ctx is cancelled, then shuts
// down with a bounded grace period.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Stop(stopCtx)
}

// Engine exposes the store engine, mainly for tests and embedding.
func (s *Service) Engine() *store.Engine {
	return s.engine
}

// Handler exposes the root HTTP handler, mainly for tests.
func (s *Service) Handler() http.Handler {
	return s.handler
}
