package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/deabakjj/MYCREATA1-sub001/internal/audit"
	"github.com/deabakjj/MYCREATA1-sub001/internal/config"
)

// captureShipper collects audit log entries via a buffered channel.
type captureShipper struct {
	ch chan *audit.LogEntry
}

func newCaptureShipper(buf int) *captureShipper {
	return &captureShipper{ch: make(chan *audit.LogEntry, buf)}
}

func (s *captureShipper) Ship(_ context.Context, e *audit.LogEntry) error {
	s.ch <- e
	return nil
}

func (s *captureShipper) Close() error { return nil }

// waitForEntry blocks until an entry arrives or the timeout fires.
func (s *captureShipper) waitForEntry(t *testing.T, timeout time.Duration) *audit.LogEntry {
	t.Helper()
	select {
	case e := <-s.ch:
		return e
	case <-time.After(timeout):
		t.Fatal("timed out waiting for audit log entry")
		return nil
	}
}

// expectNone fails if an entry arrives within a short window.
func (s *captureShipper) expectNone(t *testing.T) {
	t.Helper()
	select {
	case e := <-s.ch:
		t.Errorf("unexpected audit entry %q", e.Action)
	case <-time.After(100 * time.Millisecond):
	}
}

func newAuditRouter(cs *captureShipper, cfg *config.AuditConfig, pre ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(pre...)
	r.Use(AuditMiddleware(audit.NewRecorder(nil, cs), cfg))
	return r
}

// ---------------------------------------------------------------------------
// Skip paths
// ---------------------------------------------------------------------------

func TestAuditMiddleware_UnannotatedRequestSkipped(t *testing.T) {
	cs := newCaptureShipper(1)
	r := newAuditRouter(cs, nil)
	r.POST("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/", nil)
	r.ServeHTTP(w, req)

	cs.expectNone(t)
}

func TestAuditMiddleware_FailedRequestSkippedByDefault(t *testing.T) {
	cs := newCaptureShipper(1)
	r := newAuditRouter(cs, nil)
	r.POST("/transactions/:id/approve", func(c *gin.Context) {
		SetAuditEvent(c, "transaction.approved", "transaction", c.Param("id"))
		c.Status(http.StatusBadRequest)
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/transactions/tx_1/approve", nil)
	r.ServeHTTP(w, req)

	cs.expectNone(t)
}

func TestAuditMiddleware_NilRecorder_NoPanic(t *testing.T) {
	r := gin.New()
	r.Use(AuditMiddleware(nil, nil))
	r.POST("/", func(c *gin.Context) {
		SetAuditEvent(c, "connection.created", "connection", "conn-1")
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Recording path
// ---------------------------------------------------------------------------

func TestAuditMiddleware_OwnerActionRecorded(t *testing.T) {
	cs := newCaptureShipper(1)
	r := newAuditRouter(cs, nil, func(c *gin.Context) {
		c.Set(UserIDKey, "user-42")
		c.Set(AuthMethodKey, "jwt")
		c.Set(RequestIDKey, "req-7")
		c.Next()
	})
	r.DELETE("/connections/:id", func(c *gin.Context) {
		SetAuditEvent(c, "connection.revoked", "connection", c.Param("id"))
		AddAuditMetadata(c, "dapp_domain", "app.example.com")
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodDelete, "/connections/conn-9", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	r.ServeHTTP(w, req)

	entry := cs.waitForEntry(t, 500*time.Millisecond)
	if entry.Action != "connection.revoked" {
		t.Errorf("Action = %q, want connection.revoked", entry.Action)
	}
	if entry.ResourceType != "connection" || entry.ResourceID != "conn-9" {
		t.Errorf("resource = %s/%s, want connection/conn-9", entry.ResourceType, entry.ResourceID)
	}
	if entry.UserID != "user-42" {
		t.Errorf("UserID = %q, want user-42", entry.UserID)
	}
	if entry.AuthMethod != "jwt" {
		t.Errorf("AuthMethod = %q, want jwt", entry.AuthMethod)
	}
	if entry.RequestID != "req-7" {
		t.Errorf("RequestID = %q, want req-7", entry.RequestID)
	}
	if entry.IPAddress != "10.0.0.1" {
		t.Errorf("IPAddress = %q, want 10.0.0.1", entry.IPAddress)
	}
	if entry.Metadata["dapp_domain"] != "app.example.com" {
		t.Errorf("Metadata = %v", entry.Metadata)
	}
}

func TestAuditMiddleware_DAppActionCarriesOrigin(t *testing.T) {
	cs := newCaptureShipper(1)
	r := newAuditRouter(cs, nil, func(c *gin.Context) {
		c.Set(OriginHostKey, "app.example.com")
		c.Next()
	})
	r.POST("/dapp/transactions", func(c *gin.Context) {
		SetAuditEvent(c, "transaction.requested", "transaction", "")
		SetAuditEvent(c, "transaction.requested", "transaction", "tx_abc")
		c.Status(http.StatusCreated)
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/dapp/transactions", nil)
	r.ServeHTTP(w, req)

	entry := cs.waitForEntry(t, 500*time.Millisecond)
	if entry.OriginHost != "app.example.com" {
		t.Errorf("OriginHost = %q, want app.example.com", entry.OriginHost)
	}
	if entry.ResourceID != "tx_abc" {
		t.Errorf("ResourceID = %q, want tx_abc", entry.ResourceID)
	}
	if entry.UserID != "" {
		t.Errorf("UserID = %q, want empty for DApp calls", entry.UserID)
	}
	if entry.StatusCode != http.StatusCreated {
		t.Errorf("StatusCode = %d, want 201", entry.StatusCode)
	}
}

func TestAuditMiddleware_FailedRequestRecordedWhenConfigured(t *testing.T) {
	cs := newCaptureShipper(1)
	r := newAuditRouter(cs, &config.AuditConfig{LogFailedRequests: true})
	r.POST("/transactions/:id/reject", func(c *gin.Context) {
		SetAuditEvent(c, "transaction.rejected", "transaction", c.Param("id"))
		c.Status(http.StatusForbidden)
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/transactions/tx_2/reject", nil)
	r.ServeHTTP(w, req)

	entry := cs.waitForEntry(t, 500*time.Millisecond)
	if entry.Metadata["outcome"] != "failure" {
		t.Errorf("outcome = %v, want failure", entry.Metadata["outcome"])
	}
	if entry.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want 403", entry.StatusCode)
	}
}
