package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/wic/internal/config"
	"github.com/me/wic/internal/pipeline"
	"github.com/me/wic/internal/server"
	"github.com/me/wic/internal/store"
)

func newServeCmd() *cobra.Command {
	cfg := config.DefaultServerConfig()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the compile service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			env, err := pipeline.Load(ctx, cfg.Compiler, logger)
			if err != nil {
				return fmt.Errorf("load catalog: %w", err)
			}
			base, err := pipeline.New(env, cfg.Compiler, logger)
			if err != nil {
				return err
			}

			if cfg.DBPath != ":memory:" {
				if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
					return fmt.Errorf("create database directory: %w", err)
				}
			}
			st, err := store.NewSQLiteStore(cfg.DBPath, logger)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer st.Close()
			if err := st.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate database: %w", err)
			}
			logger.Info("database ready", "path", cfg.DBPath)

			srv := server.New(cfg, st, base, logger)
			httpServer := &http.Server{
				Addr:              cfg.Addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errc := make(chan error, 1)
			go func() {
				logger.Info("server starting", "addr", cfg.Addr, "schemas", base.Schemas().Len())
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
				close(errc)
			}()

			select {
			case err := <-errc:
				if err != nil {
					return fmt.Errorf("server failed: %w", err)
				}
			case <-ctx.Done():
			}
			logger.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			logger.Info("server stopped")
			return nil
		},
	}

	addCatalogFlags(cmd, &cfg.Compiler)
	f := cmd.Flags()
	f.StringVar(&cfg.Addr, "addr", cfg.Addr, "Listen address (or WIC_SERVER_ADDR env)")
	f.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path (or WIC_DB env)")
	f.IntVar(&cfg.Compiler.CacheSize, "cache-size", cfg.Compiler.CacheSize, "Compiled subworkflow memo entries")
	return cmd
}
