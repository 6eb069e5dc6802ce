package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/snapflow/capture"
	"github.com/hazyhaar/snapflow/result"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve captures, downloads and annotations over HTTP",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("addr"); v != "" {
		cfg.Server.Addr = v
	}
	ctx := cmd.Context()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c, err := capture.New(capture.Options{Config: cfg, Registerer: reg, Logger: logger})
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.Start(ctx); err != nil {
		return err
	}

	handler := result.New(c, result.Config{
		MaxDimension:    cfg.Assemble.MaxDimension,
		HistorySize:     cfg.Annotate.HistorySize,
		FilenamePattern: cfg.Output.FilenamePattern,
		Quality:         cfg.Capture.Quality,
		Gatherer:        reg,
		Logger:          logger,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// POST /captures holds the connection for a whole capture.
		WriteTimeout: cfg.Browser.NavigateTimeout + cfg.Capture.CaptureTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("snapflow: serving", "addr", cfg.Server.Addr)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("snapflow: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("snapflow: shutdown", "error", err)
		return srv.Close()
	}
	return nil
}
