// cmd/meal-scan/serve.go
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"meal-scan/internal/auth"
	"meal-scan/internal/nutrition"
	"meal-scan/internal/server"
	"meal-scan/internal/storage"
	"meal-scan/internal/vision"
)

var (
	serveHost   string
	servePort   int
	serveDBPath string
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("host") {
			serveHost = cfg.Server.Host
		}
		if !cmd.Flags().Changed("port") {
			servePort = cfg.Server.Port
		}
		if !cmd.Flags().Changed("db-path") {
			serveDBPath = cfg.Data.DBPath
		}

		if cfg.Vision.APIKey == "" {
			logger.Warn("no vision API key configured; photo analysis will fail upstream")
		}

		store, err := storage.NewSQLiteStorage(serveDBPath, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		pipeline, err := nutrition.NewPipeline(cfg.Parse)
		if err != nil {
			return err
		}

		client := vision.NewClient(vision.Config{
			BaseURL:   cfg.Vision.BaseURL,
			APIKey:    cfg.Vision.APIKey,
			Model:     cfg.Vision.Model,
			MaxTokens: cfg.Vision.MaxTokens,
			Timeout:   cfg.Vision.Timeout(),
			RateLimit: cfg.Vision.RateLimit,
		}, logger)

		srv, err := server.NewMealScanServer(&server.Config{
			Host:    serveHost,
			Port:    servePort,
			Version: version,
		}, server.Deps{
			Vision:   client,
			Pipeline: pipeline,
			Barcodes: store,
			Meals:    store,
			Auth:     auth.NewService(store, 0),
			Logger:   logger,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			logger.Info("received shutdown signal")
		case err := <-errCh:
			if err != nil {
				logger.Error("server error", "error", err)
				return err
			}
			return nil
		}

		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Error("error during shutdown", "error", err)
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "0.0.0.0", "Host address")
	serveCmd.Flags().IntVar(&servePort, "port", 8011, "Port for HTTP transport")
	serveCmd.Flags().StringVar(&serveDBPath, "db-path", "meal-scan.db", "Database path")
	rootCmd.AddCommand(serveCmd)
}

