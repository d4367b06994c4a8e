// Package audit records relay actions such as connection grants, revocations, and signing
// decisions. Audit records are kept apart from application logs: they are persisted to
// the audit_logs table and can additionally be shipped to a webhook or an append-only
// file for a SIEM to consume.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// LogEntry is the shipped form of one audit record
type LogEntry struct {
	Timestamp    time.Time              `json:"timestamp"`
	Action       string                 `json:"action"`
	UserID       string                 `json:"user_id,omitempty"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	OriginHost   string                 `json:"origin_host,omitempty"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	AuthMethod   string                 `json:"auth_method,omitempty"`
	RequestID    string                 `json:"request_id,omitempty"`
	StatusCode   int                    `json:"status_code,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Shipper delivers audit entries to an external destination
type Shipper interface {
	Ship(ctx context.Context, entry *LogEntry) error
	// Close flushes buffered entries and releases resources
	Close() error
}

// Shipper types accepted in ShipperConfig.Type
const (
	ShipperWebhook = "webhook"
	ShipperFile    = "file"
)

// ShipperConfig configures one destination
type ShipperConfig struct {
	Enabled bool           `mapstructure:"enabled"`
	Type    string         `mapstructure:"type"`
	Webhook *WebhookConfig `mapstructure:"webhook"`
	File    *FileConfig    `mapstructure:"file"`
}

func (cfg ShipperConfig) build() (Shipper, error) {
	switch cfg.Type {
	case ShipperWebhook:
		if cfg.Webhook == nil {
			return nil, errors.New("webhook config is required for webhook shipper")
		}
		return NewWebhookShipper(cfg.Webhook)
	case ShipperFile:
		if cfg.File == nil {
			return nil, errors.New("file config is required for file shipper")
		}
		return NewFileShipper(cfg.File)
	default:
		return nil, fmt.Errorf("unknown shipper type: %s", cfg.Type)
	}
}

// MultiShipper fans entries out to every enabled destination. Its set of shippers is
// fixed at construction.
type MultiShipper struct {
	shippers []Shipper
}

// NewMultiShipper builds the enabled shippers in configs. On failure, shippers
// already built are closed.
func NewMultiShipper(configs []ShipperConfig) (*MultiShipper, error) {
	ms := &MultiShipper{}
	for i, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		s, err := cfg.build()
		if err != nil {
			_ = ms.Close()
			return nil, fmt.Errorf("audit shipper %d (%s): %w", i, cfg.Type, err)
		}
		ms.shippers = append(ms.shippers, s)
	}
	return ms, nil
}

// Len returns the number of active shippers
func (ms *MultiShipper) Len() int {
	return len(ms.shippers)
}

// Ship delivers entry to every destination. A failing destination does not stop
// delivery to the others; all failures are returned joined.
func (ms *MultiShipper) Ship(ctx context.Context, entry *LogEntry) error {
	var errs []error
	for _, s := range ms.shippers {
		if err := s.Ship(ctx, entry); err != nil {
			slog.Warn("audit shipper failed", "action", entry.Action, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every shipper
func (ms *MultiShipper) Close() error {
	var errs []error
	for _, s := range ms.shippers {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
