package audit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/deabakjj/MYCREATA1-sub001/internal/safego"
)

const (
	defaultWebhookTimeout = 10 * time.Second
	defaultFlushInterval  = 5 * time.Second
	webhookQueueSize      = 1000

	// SignatureHeader carries hex(HMAC-SHA256(secret, timestamp + "." + body))
	SignatureHeader = "X-Relay-Signature"
	// TimestampHeader carries the unix time the signature was computed at
	TimestampHeader = "X-Relay-Timestamp"
)

// WebhookConfig configures a webhook destination
type WebhookConfig struct {
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	// Secret signs every delivery when set. See SignatureHeader.
	Secret  string        `mapstructure:"secret"`
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxRetries is how many times a 5xx or transport failure is retried
	MaxRetries int `mapstructure:"max_retries"`
	// BatchSize > 0 queues entries and posts them as a JSON array
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// WebhookShipper posts audit entries to an HTTP endpoint. In batch mode a single
// goroutine owns the pending batch; Ship only enqueues.
type WebhookShipper struct {
	cfg    WebhookConfig
	client *http.Client
	now    func() time.Time

	queue     chan *LogEntry
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewWebhookShipper creates a webhook shipper and, in batch mode, starts its flusher
func NewWebhookShipper(cfg *WebhookConfig) (*WebhookShipper, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook url is required")
	}

	ws := &WebhookShipper{
		cfg:  *cfg,
		now:  time.Now,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	if ws.cfg.Timeout <= 0 {
		ws.cfg.Timeout = defaultWebhookTimeout
	}
	if ws.cfg.FlushInterval <= 0 {
		ws.cfg.FlushInterval = defaultFlushInterval
	}
	ws.client = &http.Client{Timeout: ws.cfg.Timeout}

	if ws.cfg.BatchSize > 0 {
		ws.queue = make(chan *LogEntry, webhookQueueSize)
		safego.Go("audit.webhook.flush", ws.run)
	} else {
		close(ws.done)
	}
	return ws, nil
}

// Ship enqueues entry in batch mode, falling back to a direct post when the queue is
// full, and posts it directly otherwise.
func (ws *WebhookShipper) Ship(ctx context.Context, entry *LogEntry) error {
	if ws.queue != nil {
		select {
		case ws.queue <- entry:
			return nil
		default:
		}
	}

	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	return ws.post(ctx, body)
}

// Close flushes the pending batch and stops the flusher
func (ws *WebhookShipper) Close() error {
	ws.closeOnce.Do(func() { close(ws.stop) })
	<-ws.done
	return nil
}

func (ws *WebhookShipper) run() {
	defer close(ws.done)

	ticker := time.NewTicker(ws.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]*LogEntry, 0, ws.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ws.postBatch(batch)
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-ws.queue:
			batch = append(batch, entry)
			if len(batch) >= ws.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ws.stop:
			for n := len(ws.queue); n > 0; n-- {
				batch = append(batch, <-ws.queue)
			}
			flush()
			return
		}
	}
}

func (ws *WebhookShipper) postBatch(batch []*LogEntry) {
	body, err := json.Marshal(batch)
	if err != nil {
		slog.Error("failed to marshal audit batch", "entries", len(batch), "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ws.cfg.Timeout*time.Duration(ws.cfg.MaxRetries+1))
	defer cancel()
	if err := ws.post(ctx, body); err != nil {
		slog.Error("failed to send audit batch", "entries", len(batch), "error", err)
	}
}

// post delivers body, retrying transport failures and 5xx responses with exponential backoff
func (ws *WebhookShipper) post(ctx context.Context, body []byte) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(ws.cfg.MaxRetries, 0))), ctx)
	return backoff.Retry(func() error { return ws.postOnce(ctx, body) }, policy)
}

// postOnce sends one request. 4xx responses are permanent failures.
func (ws *WebhookShipper) postOnce(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range ws.cfg.Headers {
		req.Header.Set(k, v)
	}
	if ws.cfg.Secret != "" {
		ts := strconv.FormatInt(ws.now().Unix(), 10)
		req.Header.Set(TimestampHeader, ts)
		req.Header.Set(SignatureHeader, Sign(ws.cfg.Secret, ts, body))
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return backoff.Permanent(fmt.Errorf("webhook returned status %d", resp.StatusCode))
	}
	return nil
}

// Sign computes the SignatureHeader value for a delivery. Receivers recompute it
// over the raw body and the TimestampHeader value.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
