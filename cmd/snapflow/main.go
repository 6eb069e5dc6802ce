// Command snapflow captures web pages as images: the whole scrollable page,
// the visible viewport or a rectangle, stitched and split the way browsers
// can display them. It runs one-shot captures, an HTTP result server or an
// MCP server on stdio.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/snapflow/internal/config"
)

var rootCmd = &cobra.Command{
	Use:           "snapflow",
	Short:         "Capture web pages as stitched screenshots",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Version = version

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "YAML configuration file")
	pf.String("log-level", "", "debug, info, warn or error (overrides config)")
	pf.String("browser", "", "DevTools WebSocket URL of a running Chrome (overrides config)")
	pf.String("browser-mode", "", "headless or headful (overrides config)")

	rootCmd.AddCommand(fullCmd, visibleCmd, regionCmd, serveCmd, mcpCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "snapflow:", err)
		os.Exit(1)
	}
}

// setup loads the configuration, applies flag overrides and installs the
// JSON logger on stderr. Stdout is reserved for results and MCP traffic.
func setup(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, nil, err
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v, _ := cmd.Flags().GetString("browser"); v != "" {
		cfg.Browser.Remote = v
	}
	if v, _ := cmd.Flags().GetString("browser-mode"); v != "" {
		cfg.Browser.Mode = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
