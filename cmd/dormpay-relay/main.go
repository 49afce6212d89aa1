package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"dormpay/internal/cli"
	"dormpay/internal/export/sheets"
	"dormpay/internal/log"
	"dormpay/internal/relay"
	"dormpay/internal/reports"
	"dormpay/internal/state"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	client := cli.NewAPIClient(cfg, logger)

	storeOpts := []state.Option{state.WithLogger(logger.WithComponent(log.ComponentStore))}
	amqpClient, err := cli.ConnectAMQP(logger, cfg)
	if err != nil {
		// Receipt retries are best effort; the dashboard works without them.
		logger.Warn("Receipt retry queue unavailable", log.FieldError, err)
	} else if amqpClient != nil {
		storeOpts = append(storeOpts, state.WithReceiptRetry(amqpClient))
		logger.Info("Receipt retry queue connected", "queue", cfg.AMQPQueue)
	}

	store := state.New(client, storeOpts...)
	initCtx, cancel := context.WithTimeout(context.Background(), cfg.APITimeout)
	if err := store.Init(initCtx); err != nil {
		logger.Warn("Initial load failed, serving empty views until refresh", log.FieldError, err)
	}
	agg := reports.New(client, store, reports.WithLogger(logger.WithComponent(log.ComponentReports)))
	if err := agg.Load(initCtx); err != nil {
		logger.Warn("Reports summary unavailable, using local figures", log.FieldError, err)
	}
	cancel()

	relayOpts := []relay.Option{
		relay.WithLogger(logger.WithComponent(log.ComponentRelay)),
		relay.WithCORSOrigins(cfg.CORSOrigins),
		relay.WithRateLimit(cfg.RateLimitPerMinute),
		relay.WithReceiptCacheTTL(cfg.ReceiptCacheTTL),
	}
	if cfg.SheetsEnabled() {
		exporter, err := sheets.New(context.Background(), sheets.Config{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			SheetName:       cfg.GoogleSheetName,
			CredentialsJSON: cfg.GoogleServiceAccountJSON,
			CredentialsFile: cfg.GoogleServiceAccountFile,
		}, logger.WithComponent(log.ComponentSheets))
		if err != nil {
			logger.Error("Failed to initialize Google Sheets exporter", log.FieldError, err)
			os.Exit(1)
		}
		relayOpts = append(relayOpts, relay.WithSheets(exporter))
	} else {
		logger.Info("Google Sheets export disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	srv, err := relay.NewServer(":"+cfg.RelayPort, cfg.APIBaseURL, store, agg, relayOpts...)
	if err != nil {
		logger.Error("Failed to configure relay", log.FieldError, err)
		os.Exit(1)
	}
	srv.ReadTimeout = 15 * time.Second
	srv.WriteTimeout = cfg.APITimeout + 15*time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Relay shutdown error", log.FieldError, err)
		}
		store.Teardown()
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Error("AMQP close error", log.FieldError, err)
			}
		}
	})

	logger.Info("Starting dormpay relay", "port", cfg.RelayPort, log.FieldTarget, cfg.APIBaseURL)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.RelayPort)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Relay stopped gracefully")
}
