// Package api is the client for the dormitory payments REST API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dormpay/internal/core"
)

const defaultTimeout = 15 * time.Second

// Client talks to the REST API. It never retries; callers decide.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client rooted at baseURL, e.g. http://localhost:8081.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// do performs one request. out is left untouched when the response has no
// JSON body (204, empty, or another content type).
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "API request failed", "method", method, "path", path, "error", err)
		return networkError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return networkError(fmt.Errorf("read response: %w", err))
	}

	c.logger.DebugContext(ctx, "API request",
		"method", method,
		"path", path,
		"status_code", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Status: resp.StatusCode, Message: errorMessage(resp, data)}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent || resp.ContentLength == 0 || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return networkError(fmt.Errorf("decode %s %s response: %w", method, path, err))
	}
	return nil
}

func errorMessage(resp *http.Response, data []byte) string {
	var eb errorBody
	if err := json.Unmarshal(data, &eb); err == nil {
		if eb.Message != "" {
			return eb.Message
		}
		if eb.Error != "" {
			return eb.Error
		}
	}
	return fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
}

func escape(id string) string {
	return url.PathEscape(id)
}

// Students

func (c *Client) ListStudents(ctx context.Context) ([]core.Student, error) {
	var out []core.Student
	if err := c.do(ctx, http.MethodGet, "/students", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListDeletedStudents(ctx context.Context) ([]core.Student, error) {
	var out []core.Student
	if err := c.do(ctx, http.MethodGet, "/students/deleted", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetStudent(ctx context.Context, id string) (core.Student, error) {
	var out core.Student
	err := c.do(ctx, http.MethodGet, "/students/"+escape(id), nil, &out)
	return out, err
}

func (c *Client) CreateStudent(ctx context.Context, fields core.StudentFields) (core.Student, error) {
	var out core.Student
	err := c.do(ctx, http.MethodPost, "/students", fields, &out)
	return out, err
}

func (c *Client) UpdateStudent(ctx context.Context, id string, fields core.StudentFields) (core.Student, error) {
	var out core.Student
	err := c.do(ctx, http.MethodPatch, "/students/"+escape(id), fields, &out)
	return out, err
}

// SoftDeleteStudent stamps deletedAt on the server.
func (c *Client) SoftDeleteStudent(ctx context.Context, id string) (core.Student, error) {
	var out core.Student
	err := c.do(ctx, http.MethodPatch, "/students/"+escape(id)+"/deleted-at", nil, &out)
	return out, err
}

func (c *Client) RestoreStudent(ctx context.Context, id string) (core.Student, error) {
	var out core.Student
	err := c.do(ctx, http.MethodPatch, "/students/"+escape(id)+"/restore", nil, &out)
	return out, err
}

// DeleteStudent removes the student permanently.
func (c *Client) DeleteStudent(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/students/"+escape(id), nil, nil)
}

// Payments

func (c *Client) ListPayments(ctx context.Context, studentID string) ([]core.Payment, error) {
	var out []core.Payment
	if err := c.do(ctx, http.MethodGet, "/students/"+escape(studentID)+"/payments", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreatePayment(ctx context.Context, req core.PaymentRequest) (core.Payment, error) {
	var out core.Payment
	err := c.do(ctx, http.MethodPost, "/payments", req, &out)
	return out, err
}

func (c *Client) ConfirmPayment(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPatch, "/payments/"+escape(id)+"/confirm", nil, nil)
}

func (c *Client) DeletePayment(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/payments/"+escape(id), nil, nil)
}

// Receipts

func (c *Client) CreateReceipt(ctx context.Context, req core.ReceiptRequest) (core.Receipt, error) {
	var out core.Receipt
	err := c.do(ctx, http.MethodPost, "/receipts", req, &out)
	return out, err
}

// ReceiptByPayment fetches the receipt issued for a payment.
func (c *Client) ReceiptByPayment(ctx context.Context, paymentID string) (core.Receipt, error) {
	var out core.Receipt
	err := c.do(ctx, http.MethodGet, "/payments/"+escape(paymentID)+"/receipt", nil, &out)
	return out, err
}

func (c *Client) GetReceipt(ctx context.Context, id string) (core.Receipt, error) {
	var out core.Receipt
	err := c.do(ctx, http.MethodGet, "/receipts/"+escape(id), nil, &out)
	return out, err
}

func (c *Client) DeleteReceipt(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/receipts/"+escape(id), nil, nil)
}

// Reports

func (c *Client) Summary(ctx context.Context) (core.ReportsSummary, error) {
	var out core.ReportsSummary
	err := c.do(ctx, http.MethodGet, "/reports/summary", nil, &out)
	return out, err
}
