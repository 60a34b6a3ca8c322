// Package app wires the Quay server runtime: config, logging, HTTP routes,
// the identity store, the accounts core, and the realtime gateway.
//
// It is intentionally small and deterministic to keep CI gates strict and behavior predictable.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"quay/cmd/identity"
	"quay/cmd/internal/accounts"
	"quay/cmd/internal/realtime"
	"quay/cmd/security/password"

	"github.com/jackc/pgx/v5/pgxpool"
)

// App is the Quay server runtime: it owns the identity store lifecycle,
// the accounts service, the background sweeper, and HTTP server wiring.
type App struct {
	cfg Config
	log Logger

	store     identity.Store
	dbPool    *pgxpool.Pool
	dbEnabled bool

	svc     *accounts.Service
	sweeper *accounts.Sweeper

	hub *realtime.Hub
	ws  *realtime.WSGateway

	watchCancels []func()
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	store, dbPool, dbEnabled, err := newIdentityStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	acctCfg, err := accounts.LoadConfigFromEnv()
	if err != nil {
		closeStore(store, dbPool)
		return nil, err
	}

	pwCfg, err := password.FromEnv()
	if err != nil {
		closeStore(store, dbPool)
		return nil, err
	}

	issuer := accounts.NewIssuer(acctCfg.LoginTokenLifetime)

	// Registration order is dispatch order. Resume goes first so that a
	// request carrying both a resume token and credentials resumes.
	registry := accounts.NewRegistry()
	registry.Register(accounts.NewResumeHandler(store, issuer))
	registry.Register(accounts.NewPasswordHandler(store, issuer, pwCfg))

	svc := accounts.NewService(log, store, issuer, registry)

	hub := realtime.NewHub(log)
	evictor := accounts.NewEvictor(log, hub, acctCfg.EvictionGrace)

	a := &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		svc:       svc,
		sweeper:   accounts.NewSweeper(log, store, acctCfg),
		hub:       hub,
		ws:        realtime.NewWSGateway(log, hub, svc),
	}

	// The hub mirrors record changes to connected clients; the evictor
	// tears down connections whose credential disappeared.
	a.watchCancels = append(a.watchCancels, store.Watch(hub))
	a.watchCancels = append(a.watchCancels, store.Watch(evictor))

	return a, nil
}

// Service exposes the accounts core, mainly for embedding tools.
func (a *App) Service() *accounts.Service { return a.svc }

// Run starts the background sweeper and the HTTP server, blocking until
// context cancellation or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		a.sweeper.Run(runCtx)
	}()

	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.ws)

	handler := WithRequestLogging(WithSecurityHeaders(WithCORS(mux, a.cfg, a.log)), a.log)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	baseURL := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"url", baseURL,
		"ws", wsBaseURL(baseURL)+"/ws",
		"db_enabled", a.dbEnabled,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	cancel()
	<-sweeperDone

	for _, c := range a.watchCancels {
		c()
	}
	closeStore(a.store, a.dbPool)

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newIdentityStore decides between Postgres-backed persistence and the
// in-memory dev store.
func newIdentityStore(ctx context.Context, cfg Config, log Logger) (identity.Store, *pgxpool.Pool, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return identity.NewMemoryStore(), nil, false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, err
	}

	log.Info("db.enabled.postgres_store")

	// Ownership model:
	// - app owns pool lifecycle
	// - PostgresStore.Close() is a no-op
	store, err := identity.NewPostgresStore(pool) // default schema "quay"
	if err != nil {
		pool.Close()
		return nil, nil, false, err
	}

	return store, pool, true, nil
}

func closeStore(store identity.Store, pool *pgxpool.Pool) {
	if store != nil {
		_ = store.Close()
	}
	if pool != nil {
		pool.Close()
	}
}
