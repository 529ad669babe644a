// Command lazyreveal runs reveal jobs against live pages.
//
// Usage:
//
//	lazyreveal run -c lazyreveal.yaml        # daemon: browser, jobs, sinks, HTTP API
//	lazyreveal check -c lazyreveal.yaml      # validate a config without a browser
//	lazyreveal plan page.html -s img.lazy    # dry run against static HTML
//	lazyreveal mcp -c lazyreveal.yaml        # MCP tools over stdio
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

var version = "dev"

func main() {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:           "lazyreveal",
		Short:         "Reveal lazy images, videos and callbacks as elements scroll into view",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	logger := func() *slog.Logger { return newLogger(logLevel) }
	rootCmd.AddCommand(
		runCmd(logger),
		checkCmd(),
		planCmd(),
		mcpCmd(logger),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "lazyreveal: %s\n", err)
		os.Exit(1)
	}
}

// newLogger builds the JSON logger on stderr; stdout carries events.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
