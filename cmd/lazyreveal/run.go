package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/lazyreveal/dbopen"
	"github.com/hazyhaar/lazyreveal/lazyreveal"
)

func runCmd(logger func() *slog.Logger) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Open the configured pages and reveal their lazy content",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, logger(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "lazyreveal.yaml", "path to the YAML config file")
	return cmd
}

// setup validates cfg, opens the database and builds the runner.
func setup(logger *slog.Logger, cfg *lazyreveal.Config, reg *prometheus.Registry) (*lazyreveal.Runner, *sql.DB, error) {
	if err := lazyreveal.Check(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	var db *sql.DB
	if cfg.DB != "" {
		var err error
		db, err = dbopen.Open(cfg.DB,
			dbopen.WithMkdirAll(),
			dbopen.WithSchema(lazyreveal.JobsSchema),
			dbopen.WithSchema(lazyreveal.EventsSchema))
		if err != nil {
			return nil, nil, err
		}
	}

	sinks, err := lazyreveal.SinksFromConfig(cfg.Sinks, db, logger)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, nil, err
	}

	opts := []lazyreveal.Option{lazyreveal.WithSinks(sinks...), lazyreveal.WithRegistry(reg)}
	if db != nil {
		opts = append(opts, lazyreveal.WithDB(db))
	}
	return lazyreveal.New(cfg, logger, opts...), db, nil
}

func run(ctx context.Context, logger *slog.Logger, configPath string) error {
	cfg, err := lazyreveal.LoadConfigFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	r, db, err := setup(logger, cfg, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	if err := r.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer r.Stop()

	if cfg.HTTP.Addr != "" {
		srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: r.Handler()}
		go func() {
			logger.Info("lazyreveal: http listening", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("lazyreveal: http server", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	<-ctx.Done()
	logger.Info("lazyreveal: shutting down")
	return nil
}
