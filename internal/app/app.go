// Package app assembles the stores, token service and authorization engine from Config.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"worknest.io/internal/auth"
	"worknest.io/internal/config"
	"worknest.io/internal/obs"
	"worknest.io/internal/store/memory"
	"worknest.io/internal/store/pg"
	"worknest.io/internal/store/redisstore"
)

// Pinger is a dependency that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// App holds the wired authorization core.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Store     auth.DirectoryStore
	Blacklist auth.BlacklistStore
	Hierarchy *auth.HierarchyIndex
	Directory *auth.Directory
	Tokens    *auth.TokenService
	Engine    *auth.Engine
	Resolver  auth.Resolver

	db      *sql.DB
	pingers map[string]Pinger
	closers []func() error
}

// Build opens the configured stores and wires the core. reg may be nil to skip
// authorization metrics.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, reg prometheus.Registerer) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger, pingers: map[string]Pinger{}}
	if err := a.openStores(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Hierarchy = auth.NewHierarchyIndex(a.Store, a.Store)
	dir, err := auth.NewDirectory(a.Store, a.Hierarchy)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Directory = dir

	tokens, err := auth.NewTokenService([]byte(cfg.AuthSecret), a.Store, a.Store,
		auth.WithIssuer(cfg.AuthIssuer),
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
		auth.WithBlacklist(a.Blacklist),
		auth.WithTokenLogger(logger.Named("tokens")))
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("token service: %w", err)
	}
	a.Tokens = tokens

	var resolver auth.Resolver = auth.NewPermissionResolver(a.Store, a.Store)
	if cfg.PermissionCacheTTL > 0 {
		resolver = auth.NewCachedResolver(resolver, cfg.PermissionCacheMax, cfg.PermissionCacheTTL)
	}
	a.Resolver = resolver

	opts := []auth.EngineOption{
		auth.WithResolver(resolver),
		auth.WithEngineLogger(logger.Named("authz")),
	}
	if reg != nil {
		metrics, err := obs.NewAuthMetrics(reg)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("auth metrics: %w", err)
		}
		opts = append(opts, auth.WithObserver(metrics))
	}
	a.Engine = auth.NewEngine(tokens, a.Store, a.Hierarchy, opts...)
	return a, nil
}

func (a *App) openStores(ctx context.Context) error {
	switch a.Config.Store {
	case config.StorePostgres:
		store, err := pg.Open(a.Config.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		a.Store, a.Blacklist, a.db = store, store, store.DB()
		a.pingers["postgres"] = store
	default:
		store := memory.New()
		a.Store, a.Blacklist = store, store
	}
	if a.Config.RedisURL != "" {
		bl, err := redisstore.NewFromURL(ctx, a.Config.RedisURL)
		if err != nil {
			return fmt.Errorf("open redis: %w", err)
		}
		a.closers = append(a.closers, bl.Close)
		a.Blacklist = bl
		a.pingers["redis"] = bl
	}
	return nil
}

// DB returns the SQL handle, or nil for the memory store.
func (a *App) DB() *sql.DB { return a.db }

// Pingers returns the external dependencies worth probing for readiness.
func (a *App) Pingers() map[string]Pinger {
	out := make(map[string]Pinger, len(a.pingers))
	for k, v := range a.pingers {
		out[k] = v
	}
	return out
}

// Bootstrap seeds the default catalog and, when configured, the admin account.
func (a *App) Bootstrap(ctx context.Context) error {
	if err := a.Directory.EnsureBuiltins(ctx); err != nil {
		return fmt.Errorf("seed builtins: %w", err)
	}
	if a.Config.AdminUsername == "" {
		return nil
	}
	admin, err := a.Directory.EnsureAdmin(ctx, a.Config.AdminUsername, a.Config.AdminEmail, a.Config.AdminPassword)
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	a.Logger.Info("admin account ready", zap.String("user_id", admin.ID), zap.String("username", admin.Username))
	return nil
}

// PruneBlacklist removes expired revocation entries when the blacklist supports it.
// Stores that expire entries on their own report zero.
func (a *App) PruneBlacklist(ctx context.Context) (int, error) {
	pruner, ok := a.Blacklist.(auth.BlacklistPruner)
	if !ok {
		return 0, nil
	}
	return pruner.PruneBlacklist(ctx, time.Now().UTC())
}

// RunPruner prunes the blacklist every interval until ctx is done.
func (a *App) RunPruner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.PruneBlacklist(ctx)
			if err != nil {
				a.Logger.Warn("blacklist prune failed", zap.Error(err))
				continue
			}
			if n > 0 {
				a.Logger.Info("blacklist pruned", zap.Int("removed", n))
			}
		}
	}
}

// Close releases store connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
