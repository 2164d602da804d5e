package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Sentinel errors for ledger client failures.
var (
	// ErrMalformedResponse means the ledger answered with a body the client
	// could not decode. Callers treat it as "no information".
	ErrMalformedResponse = errors.New("ledger: malformed response")
)

// StatusError is a non-2xx response from the ledger.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ledger: unexpected status %d", e.Code)
}

// Transient reports whether the status is worth retrying.
func (e *StatusError) Transient() bool {
	switch {
	case e.Code >= 500:
		return true
	case e.Code == http.StatusRequestTimeout, e.Code == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// Client talks to the remote subscription ledger over its REST surface.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	logger  *slog.Logger

	maxRetries    uint64
	retryInterval time.Duration
}

// New creates a ledger client. baseURL is the REST root (for a Supabase
// project, "https://<project>.supabase.co/rest/v1"); apiKey is the fixed
// service credential sent on every request.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:       baseURL,
		apiKey:        apiKey,
		httpc:         &http.Client{Timeout: 15 * time.Second},
		logger:        slog.Default(),
		maxRetries:    3,
		retryInterval: 500 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) {
		c.httpc = httpc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMaxRetries bounds the retry attempts per call for transient failures.
func WithMaxRetries(n uint64) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryInterval sets the initial backoff interval.
func WithRetryInterval(d time.Duration) Option {
	return func(c *Client) {
		c.retryInterval = d
	}
}

// Push submits a verified entitlement to the ledger. The server upserts by
// transaction ID, so pushing the same record twice is safe.
func (c *Client) Push(ctx context.Context, rec Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ledger: encode record: %w", err)
	}

	_, err = c.do(ctx, http.MethodPost, c.baseURL+"/subscriptions", body)
	if err != nil {
		return fmt.Errorf("ledger: push %s: %w", rec.TransactionID, err)
	}

	c.logger.Debug("pushed entitlement to ledger",
		"transaction_id", rec.TransactionID,
		"product_id", rec.ProductID,
	)

	return nil
}

// Query fetches the most recent active record for a device. A clean empty
// result returns (nil, nil); network, status, and decode failures return an
// error that callers must treat as inconclusive.
func (c *Client) Query(ctx context.Context, deviceID string) (*Record, error) {
	endpoint := fmt.Sprintf(
		"%s/subscriptions?device_id=eq.%s&is_active=eq.true&order=purchase_date.desc&limit=1",
		c.baseURL, url.QueryEscape(deviceID),
	)

	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("ledger: query: %w", err)
	}

	var records []Record
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if len(records) == 0 {
		return nil, nil
	}

	return &records[0], nil
}

// MarkExpired tells the ledger that a previously-active record is no
// longer in force. Best-effort; used to keep the remote side tidy when a
// stale active row is observed.
func (c *Client) MarkExpired(ctx context.Context, transactionID string) error {
	endpoint := fmt.Sprintf(
		"%s/subscriptions?transaction_id=eq.%s",
		c.baseURL, url.QueryEscape(transactionID),
	)

	body, err := json.Marshal(map[string]bool{"is_active": false})
	if err != nil {
		return fmt.Errorf("ledger: encode update: %w", err)
	}

	if _, err := c.do(ctx, http.MethodPatch, endpoint, body); err != nil {
		return fmt.Errorf("ledger: mark expired %s: %w", transactionID, err)
	}

	c.logger.Debug("marked ledger record expired", "transaction_id", transactionID)

	return nil
}

// do runs one request with bounded exponential backoff. Transient failures
// (network errors, 5xx, 408, 429) retry; other 4xx are permanent and
// surface after a single attempt.
func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	var respBody []byte

	operation := func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return backoff.Permanent(err)
		}

		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if method == http.MethodPost {
			req.Header.Set("Prefer", "return=minimal")
		}

		resp, err := c.httpc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close() //nolint:errcheck // read-only body

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse

			se := &StatusError{Code: resp.StatusCode}
			if se.Transient() {
				return se
			}

			c.logger.Warn("ledger request rejected",
				"method", method,
				"status", resp.StatusCode,
			)
			return backoff.Permanent(se)
		}

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInterval

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx))
	if err != nil {
		return nil, err
	}

	return respBody, nil
}
