package main

import (
	"context"
	"errors"
	"os"
	"time"

	"dormpay/internal/cli"
	"dormpay/internal/log"
	"dormpay/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), log.ComponentApp)
	logger.Info("Starting receipt-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if !cfg.AMQPEnabled() {
		logger.Error("AMQP_URL is required for the receipt worker")
		os.Exit(1)
	}

	amqpClient, err := cli.ConnectAMQP(logger, cfg)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}

	receiptWorker := worker.NewReceiptWorker(cli.NewAPIClient(cfg, logger), logger.WithComponent(log.ComponentWorker))

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(context.Context) {
		if err := amqpClient.Close(); err != nil {
			logger.Error("AMQP close error", log.FieldError, err)
		}
	})

	logger.Info("Consuming receipt retries",
		"queue", cfg.AMQPQueue, "max_attempts", cfg.ReceiptMaxAttempts, log.FieldTarget, cfg.APIBaseURL)
	if err := amqpClient.ConsumeReceiptRetries(ctx, cfg.ReceiptMaxAttempts, receiptWorker.Handle); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", log.FieldError, err)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Receipt worker stopped gracefully")
}
