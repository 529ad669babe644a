package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/lazyreveal/lazyreveal"
)

func mcpCmd(logger func() *slog.Logger) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the lazyreveal tools over MCP on stdio",
		Long: `Serve lazyreveal_plan, lazyreveal_apply, lazyreveal_batches and
lazyreveal_destroy over MCP on stdin/stdout. With --config the runner opens
the configured pages first; without it only planning against raw HTML works.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			log := logger()

			var r *lazyreveal.Runner
			if configPath != "" {
				cfg, err := lazyreveal.LoadConfigFile(configPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				// Events go to configured sinks only; stdout belongs to MCP.
				cfg.Sinks = withoutStdout(cfg.Sinks)
				runner, db, err := setup(log, cfg, prometheus.NewRegistry())
				if err != nil {
					return err
				}
				if db != nil {
					defer db.Close()
				}
				if err := runner.Start(ctx); err != nil {
					return fmt.Errorf("start: %w", err)
				}
				defer runner.Stop()
				r = runner
			} else {
				r = lazyreveal.New(nil, log)
			}

			srv := mcp.NewServer(&mcp.Implementation{Name: "lazyreveal", Version: version}, nil)
			r.RegisterMCP(srv)
			log.Info("lazyreveal: mcp serving on stdio")
			return srv.Run(ctx, &mcp.StdioTransport{})
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	return cmd
}

func withoutStdout(sinks []lazyreveal.SinkConfig) []lazyreveal.SinkConfig {
	var out []lazyreveal.SinkConfig
	for _, s := range sinks {
		if s.Type != "stdout" && s.Type != "" {
			out = append(out, s)
		}
	}
	return out
}
