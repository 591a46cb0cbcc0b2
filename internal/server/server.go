// Package server assembles the reference document service: sqlite storage,
// HTTP handlers, middleware, change feed publication and tombstone pruning.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/startuppulse/pulsesync/internal/config"
	"github.com/startuppulse/pulsesync/internal/server/billing"
	"github.com/startuppulse/pulsesync/internal/server/feed"
	"github.com/startuppulse/pulsesync/internal/server/handlers"
	"github.com/startuppulse/pulsesync/internal/server/jwt"
	"github.com/startuppulse/pulsesync/internal/server/middleware"
	"github.com/startuppulse/pulsesync/internal/server/storage/sqlite"
)

// Server сервер документов
type Server struct {
	cfg       *config.ServerConfig
	logger    *slog.Logger
	store     *sqlite.Storage
	tokens    *jwt.Service
	hub       *feed.Hub
	limiter   *middleware.RateLimiter
	nc        *nats.Conn
	handler   http.Handler
	validator billing.PurchaseValidator
	now       func() time.Time
}

// Option настраивает Server
type Option func(*Server)

// WithPurchaseValidator replaces the development purchase validator
func WithPurchaseValidator(v billing.PurchaseValidator) Option {
	return func(s *Server) { s.validator = v }
}

// WithClock задает источник времени для очистки tombstone
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New opens the storage, connects to NATS when configured and builds the routes
func New(ctx context.Context, cfg *config.ServerConfig, logger *slog.Logger, opts ...Option) (*Server, error) {
	key, err := jwt.ParsePrivateKey(cfg.EntitlementPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid entitlement private key: %w", err)
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		tokens:    jwt.NewService(cfg.JWTSecret, cfg.AccessTokenTTL),
		hub:       feed.NewHub(),
		validator: billing.NewStaticValidator(billing.DefaultPeriods()),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.store, err = sqlite.New(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	publishers := feed.Publishers{s.hub}
	if cfg.NATSURL != "" {
		s.nc, err = feed.Connect(cfg.NATSURL, logger)
		if err != nil {
			_ = s.store.Close()
			return nil, err
		}
		publishers = append(publishers, feed.NewNATSPublisher(s.nc, logger))
		logger.Info("Publishing changes to NATS", "url", cfg.NATSURL)
	}

	s.limiter = middleware.NewRateLimiter(cfg.RateLimit, cfg.RateWindow, logger)
	s.handler = s.routes(publishers, jwt.NewEntitlementSigner(key))

	return s, nil
}

func (s *Server) routes(publisher feed.Publisher, signer *jwt.EntitlementSigner) http.Handler {
	documents := handlers.NewDocumentsHandler(s.logger, s.store, s.store, publisher)
	changes := handlers.NewChangesHandler(s.logger, s.store, s.hub, s.cfg.LongPollMaxWait)
	processor := billing.NewProcessor(s.store, s.validator, s.logger)
	functions := handlers.NewFunctionsHandler(s.logger, s.validator, signer, s.store, processor)
	health := handlers.NewHealthHandler(s.logger, s.store)

	protected := func(h http.HandlerFunc) http.Handler {
		return middleware.AuthMiddleware(s.logger, s.tokens)(
			middleware.RateLimitMiddleware(s.limiter, middleware.ByUserOrIP, s.logger)(h),
		)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", health.Health)
	mux.Handle("POST /api/v1/documents/{id}/mutations", protected(documents.Mutate))
	mux.Handle("GET /api/v1/documents/{id}", protected(documents.Get))
	mux.Handle("GET /api/v1/changes", protected(changes.Changes))
	mux.Handle("POST /api/v1/functions/verifyEntitlement", protected(functions.VerifyEntitlement))
	mux.Handle("POST /api/v1/billing/notifications", protected(functions.BillingNotification))

	var h http.Handler = mux
	h = middleware.LoggingWithSkip(s.logger, []string{"/api/v1/health"})(h)
	h = middleware.RecoveryMiddleware(s.logger)(h)
	return h
}

// Handler returns the HTTP handler with all middleware applied
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Tokens returns the access token service
func (s *Server) Tokens() *jwt.Service {
	return s.tokens
}

// Prune removes tombstones older than the change retention
func (s *Server) Prune(ctx context.Context) (int, error) {
	n, err := s.store.PruneTombstones(ctx, s.now().Add(-s.cfg.ChangeRetention))
	if err != nil {
		return 0, fmt.Errorf("failed to prune tombstones: %w", err)
	}
	if n > 0 {
		s.logger.Info("Pruned tombstones", "count", n)
	}
	return n, nil
}

func (s *Server) pruneLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Prune(ctx); err != nil {
				s.logger.Error("Tombstone pruning failed", "error", err)
			}
		}
	}
}

// Run serves HTTP on the configured address until ctx is cancelled,
// then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves HTTP on ln until ctx is cancelled
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		// long-poll ленты изменений держит ответ до LongPollMaxWait
		WriteTimeout: s.cfg.LongPollMaxWait + 15*time.Second,
		IdleTimeout:  2 * time.Minute,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("Server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error { return s.pruneLoop(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Close releases the storage, NATS connection and rate limiter
func (s *Server) Close() error {
	s.limiter.Stop()
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			s.logger.Warn("Failed to drain NATS connection", "error", err)
		}
	}
	return s.store.Close()
}
