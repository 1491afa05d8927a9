package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"worknest.io/internal/app"
	"worknest.io/internal/config"
	"worknest.io/internal/obs"
)

var envFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "worknestctl",
		Short:        "Administration tool for the WorkNest API",
		SilenceUsage: true,
		Long: `worknestctl manages the WorkNest credential store.

It can:
  - apply and roll back the PostgreSQL schema
  - seed the default permission catalog, roles and admin account
  - issue tokens for existing users
  - move users within the reporting hierarchy`,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional .env file with WORKNEST_* settings")

	root.AddCommand(migrateCmd())
	root.AddCommand(seedCmd())
	root.AddCommand(tokenCmd())
	root.AddCommand(hierarchyCmd())
	return root
}

// withApp loads configuration, builds the core and runs fn against it.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, core *app.App) error) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	logger, err := obs.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel, "console")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	core, err := app.Build(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer func() { _ = core.Close() }()
	if cfg.Store == config.StoreMemory {
		logger.Warn("memory store selected; changes are discarded on exit", zap.String("store", cfg.Store))
	}
	return fn(ctx, core)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
