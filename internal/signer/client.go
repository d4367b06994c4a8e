// Package signer is the HTTP client for the custodial wallet signing service.
// The relay hands it a payload and a transaction id; key material never leaves the service.
package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/deabakjj/MYCREATA1-sub001/internal/relay"
)

const (
	signPath           = "/sign"
	maxErrorBodyBytes  = 4096
	defaultMaxRetries  = 2
	defaultInitialWait = 200 * time.Millisecond
	defaultMaxWait     = 2 * time.Second
)

// Config configures the signing service client
type Config struct {
	URL             string
	APIKey          string
	Timeout         time.Duration // Per attempt; the caller's context bounds the whole call
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// HTTPError is a non-2xx response from the signing service
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("signing service returned status %d: %s", e.StatusCode, e.Body)
}

// Client implements relay.WalletSigner over HTTP
type Client struct {
	httpClient *http.Client
	url        string
	apiKey     string
	maxRetries int
	initial    time.Duration
	maxWait    time.Duration
}

var _ relay.WalletSigner = (*Client)(nil)

// New creates a signing service client
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("signer url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = defaultInitialWait
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = defaultMaxWait
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		url:        strings.TrimSuffix(cfg.URL, "/") + signPath,
		apiKey:     cfg.APIKey,
		maxRetries: cfg.MaxRetries,
		initial:    cfg.InitialInterval,
		maxWait:    cfg.MaxInterval,
	}, nil
}

type signResponse struct {
	Signature string `json:"signature"`
}

// Sign asks the signing service to sign req. Transport errors and 5xx/429 responses are
// retried with exponential backoff; other 4xx responses are returned immediately.
// Retries reuse req.IdempotencyKey so the service signs at most once.
func (c *Client) Sign(ctx context.Context, req relay.SignRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal sign request: %w", err)
	}

	var signature string
	attempt := 0
	operation := func() error {
		attempt++
		sig, err := c.do(ctx, req.IdempotencyKey, body)
		if err != nil {
			slog.Warn("signing service call failed",
				"transaction_id", req.IdempotencyKey, "attempt", attempt, "error", err)
			return err
		}
		signature = sig
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initial
	b.MaxInterval = c.maxWait
	b.MaxElapsedTime = 0 // bounded by ctx and retry count
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			return "", fmt.Errorf("%w: %v", ctxErr, err)
		}
		return "", err
	}
	return signature, nil
}

func (c *Client) do(ctx context.Context, idempotencyKey string, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", backoff.Permanent(err)
		}
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		httpErr := &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout {
			return "", httpErr
		}
		return "", backoff.Permanent(httpErr)
	}

	var out signResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to decode sign response: %w", err))
	}
	if out.Signature == "" {
		return "", backoff.Permanent(errors.New("sign response has no signature"))
	}
	return out.Signature, nil
}
