// Package worker consumes queued background jobs.
package worker

import (
	"context"
	"fmt"
	"net/http"

	"dormpay/internal/amqp"
	"dormpay/internal/api"
	"dormpay/internal/core"
	"dormpay/internal/log"
)

// ReceiptAPI is the part of the API client the worker needs.
type ReceiptAPI interface {
	ReceiptByPayment(ctx context.Context, paymentID string) (core.Receipt, error)
	CreateReceipt(ctx context.Context, req core.ReceiptRequest) (core.Receipt, error)
}

// ReceiptWorker creates receipts whose creation failed during payment
// confirmation.
type ReceiptWorker struct {
	api    ReceiptAPI
	logger *log.Logger
}

func NewReceiptWorker(client ReceiptAPI, logger *log.Logger) *ReceiptWorker {
	if logger == nil {
		logger = log.FromSlog(nil, log.ComponentWorker)
	}
	return &ReceiptWorker{api: client, logger: logger}
}

// Handle processes one retry message. A returned error means the attempt
// may succeed later and should be redelivered; client errors are logged and
// swallowed since repeating them cannot help.
func (w *ReceiptWorker) Handle(ctx context.Context, msg *amqp.ReceiptRetryMessage) error {
	fields := []any{log.FieldPaymentID, msg.PaymentID, log.FieldReceiptNo, msg.ReceiptNo, log.FieldAttempt, msg.Attempt}

	existing, err := w.api.ReceiptByPayment(ctx, msg.PaymentID)
	switch {
	case err == nil:
		w.logger.InfoContext(ctx, "Receipt already exists, skipping",
			append(fields, log.FieldReceiptID, existing.ID)...)
		return nil
	case api.IsNotFound(err):
		// expected: nothing created yet
	case isPermanent(err):
		w.logger.ErrorContext(ctx, "Receipt lookup rejected, dropping retry", append(fields, log.FieldError, err)...)
		return nil
	default:
		return fmt.Errorf("look up receipt: %w", err)
	}

	req := msg.Request()
	if req.CopyType == "" {
		req.CopyType = core.CopyTypeStudent
	}

	receipt, err := w.api.CreateReceipt(ctx, req)
	switch {
	case err == nil:
		w.logger.InfoContext(ctx, "Receipt created", append(fields, log.FieldReceiptID, receipt.ID)...)
		return nil
	case api.StatusOf(err) == http.StatusConflict:
		w.logger.InfoContext(ctx, "Receipt created concurrently, skipping", fields...)
		return nil
	case isPermanent(err):
		w.logger.ErrorContext(ctx, "Receipt creation rejected, dropping retry", append(fields, log.FieldError, err)...)
		return nil
	default:
		return fmt.Errorf("create receipt: %w", err)
	}
}

// isPermanent reports a 4xx API error.
func isPermanent(err error) bool {
	status := api.StatusOf(err)
	return status >= 400 && status < 500
}
