// ABOUTME: Gateway orchestrator wiring store, pairing service, auth, and the HTTP server
// ABOUTME: Owns the stale-pairing sweep schedule and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pulselog/pulse-gateway/internal/auth"
	"github.com/pulselog/pulse-gateway/internal/config"
	"github.com/pulselog/pulse-gateway/internal/httpapi"
	"github.com/pulselog/pulse-gateway/internal/pairing"
	"github.com/pulselog/pulse-gateway/internal/store"
	"github.com/pulselog/pulse-gateway/internal/websession"
)

// Gateway orchestrates the pulse-gateway server components. It is the only
// process-wide lifecycle object: created at startup, threaded to shutdown.
type Gateway struct {
	config     *config.Config
	store      store.Store
	pairings   *pairing.Service
	sessions   *websession.Manager
	httpServer *http.Server
	sweeper    *cron.Cron
	logger     *slog.Logger

	mu         sync.Mutex
	listenAddr string
}

// ListenAddr returns the bound listener address, or "" before Run has
// started listening. Useful when the configured port is 0.
func (g *Gateway) ListenAddr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.listenAddr
}

// initStore creates and returns a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("PULSE_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// buildAuthenticator assembles the operator session providers: browser
// cookie sessions always, JWT bearer tokens when a secret is configured.
func buildAuthenticator(cfg *config.Config, s store.Store, sessions *websession.Manager, logger *slog.Logger) (auth.Authenticator, error) {
	providers := auth.Multi{sessions}

	if cfg.Auth.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
		providers = append(providers, auth.NewBearerAuthenticator(verifier, s))
	} else {
		logger.Warn("auth.jwt_secret not set, operator bearer tokens disabled")
	}

	return providers, nil
}

// New creates a gateway from configuration
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	sessions := websession.New(s)
	authn, err := buildAuthenticator(cfg, s, sessions, logger)
	if err != nil {
		s.Close()
		return nil, err
	}

	pairings := pairing.New(s)

	mux := http.NewServeMux()
	httpapi.New(pairings, authn).RegisterRoutes(mux)
	sessions.RegisterRoutes(mux)

	gw := &Gateway{
		config:   cfg,
		store:    s,
		pairings: pairings,
		sessions: sessions,
		logger:   logger,
	}

	gw.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := gw.setupSweeper(); err != nil {
		s.Close()
		return nil, err
	}

	return gw, nil
}

// setupSweeper schedules the stale-pending sweep and session cleanup
func (g *Gateway) setupSweeper() error {
	if g.config.Pairing.SweepSchedule == "" {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(g.config.Pairing.SweepSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if _, err := g.pairings.ExpireStale(ctx, g.config.Pairing.PendingTTL); err != nil {
			g.logger.Error("stale pairing sweep failed", "error", err)
		}
		if err := g.store.DeleteExpiredSessions(ctx); err != nil {
			g.logger.Error("session cleanup failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling sweep %q: %w", g.config.Pairing.SweepSchedule, err)
	}

	g.sweeper = c
	return nil
}

// Run starts the HTTP server and blocks until the context is canceled or
// the server fails, then shuts down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.config.Server.HTTPAddr, err)
	}

	g.mu.Lock()
	g.listenAddr = ln.Addr().String()
	g.mu.Unlock()

	if g.sweeper != nil {
		g.sweeper.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the sweep schedule, the HTTP server, and the store
func (g *Gateway) Shutdown(ctx context.Context) error {
	var errs []error

	if g.sweeper != nil {
		stopCtx := g.sweeper.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
			errs = append(errs, errors.New("sweep job did not finish before shutdown deadline"))
		}
	}

	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
	}

	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}

	g.logger.Info("gateway stopped")
	return errors.Join(errs...)
}
