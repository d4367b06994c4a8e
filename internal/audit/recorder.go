package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/deabakjj/MYCREATA1-sub001/internal/db/models"
	"github.com/deabakjj/MYCREATA1-sub001/internal/safego"
)

// recordTimeout bounds one background audit write
const recordTimeout = 5 * time.Second

// Store persists audit records
type Store interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Recorder writes audit entries to the database and ships them to external destinations.
// Either side may be nil.
type Recorder struct {
	store   Store
	shipper Shipper
}

// NewRecorder creates a Recorder
func NewRecorder(store Store, shipper Shipper) *Recorder {
	return &Recorder{store: store, shipper: shipper}
}

// Record persists and ships entry. Failures are logged, never returned: an audit outage
// must not fail the request being audited.
func (r *Recorder) Record(ctx context.Context, entry *LogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	if r.store != nil {
		if err := r.store.CreateAuditLog(ctx, entry.toModel()); err != nil {
			slog.Error("failed to persist audit log", "action", entry.Action, "error", err)
		}
	}

	if r.shipper != nil {
		if err := r.shipper.Ship(ctx, entry); err != nil {
			slog.Error("failed to ship audit log", "action", entry.Action, "error", err)
		}
	}
}

// RecordAsync records entry on a background goroutine with its own timeout
func (r *Recorder) RecordAsync(entry *LogEntry) {
	safego.Go("audit.record", func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		r.Record(ctx, entry)
	})
}

// toModel converts an entry to the persisted form. Request context that has no column
// of its own is folded into the metadata.
func (e *LogEntry) toModel() *models.AuditLog {
	log := &models.AuditLog{
		Action:    e.Action,
		CreatedAt: e.Timestamp,
	}
	if e.UserID != "" {
		log.UserID = &e.UserID
	}
	if e.ResourceType != "" {
		log.ResourceType = &e.ResourceType
	}
	if e.ResourceID != "" {
		log.ResourceID = &e.ResourceID
	}
	if e.IPAddress != "" {
		log.IPAddress = &e.IPAddress
	}

	metadata := make(map[string]interface{}, len(e.Metadata)+4)
	for k, v := range e.Metadata {
		metadata[k] = v
	}
	if e.OriginHost != "" {
		metadata["origin_host"] = e.OriginHost
	}
	if e.AuthMethod != "" {
		metadata["auth_method"] = e.AuthMethod
	}
	if e.RequestID != "" {
		metadata["request_id"] = e.RequestID
	}
	if e.StatusCode != 0 {
		metadata["status_code"] = e.StatusCode
	}
	if len(metadata) > 0 {
		log.Metadata = metadata
	}
	return log
}
