package audit_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deabakjj/MYCREATA1-sub001/internal/audit"
)

// recordingEndpoint captures every request body posted to it
type recordingEndpoint struct {
	mu      sync.Mutex
	bodies  [][]byte
	headers []http.Header
	status  int
}

func newRecordingEndpoint(t *testing.T, status int) (*recordingEndpoint, *httptest.Server) {
	t.Helper()
	rec := &recordingEndpoint{status: status}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.bodies = append(rec.bodies, body)
		rec.headers = append(rec.headers, r.Header.Clone())
		rec.mu.Unlock()
		w.WriteHeader(rec.status)
	}))
	t.Cleanup(srv.Close)
	return rec, srv
}

func (r *recordingEndpoint) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bodies)
}

func (r *recordingEndpoint) last() ([]byte, http.Header) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.bodies)
	return r.bodies[n-1], r.headers[n-1]
}

// ---------------------------------------------------------------------------
// Direct delivery
// ---------------------------------------------------------------------------

func TestWebhookShipper_PostsEntry(t *testing.T) {
	rec, srv := newRecordingEndpoint(t, http.StatusOK)
	ws, err := audit.NewWebhookShipper(&audit.WebhookConfig{
		URL:     srv.URL,
		Headers: map[string]string{"Authorization": "Bearer siem-token"},
	})
	require.NoError(t, err)
	defer ws.Close()

	entry := &audit.LogEntry{
		Timestamp:  time.Now().UTC(),
		Action:     "connection.created",
		UserID:     "user-1",
		ResourceID: "conn-1",
		OriginHost: "app.example.com",
	}
	require.NoError(t, ws.Ship(context.Background(), entry))
	require.Equal(t, 1, rec.count())

	body, hdr := rec.last()
	assert.Equal(t, "application/json", hdr.Get("Content-Type"))
	assert.Equal(t, "Bearer siem-token", hdr.Get("Authorization"))
	assert.Empty(t, hdr.Get(audit.SignatureHeader))

	var got audit.LogEntry
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "connection.created", got.Action)
	assert.Equal(t, "app.example.com", got.OriginHost)
}

func TestWebhookShipper_SignsDeliveries(t *testing.T) {
	rec, srv := newRecordingEndpoint(t, http.StatusOK)
	ws, err := audit.NewWebhookShipper(&audit.WebhookConfig{URL: srv.URL, Secret: "whsec"})
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.Ship(context.Background(), &audit.LogEntry{Action: "transaction.approved"}))

	body, hdr := rec.last()
	ts := hdr.Get(audit.TimestampHeader)
	require.NotEmpty(t, ts)
	assert.Equal(t, audit.Sign("whsec", ts, body), hdr.Get(audit.SignatureHeader))
	assert.NotEqual(t, audit.Sign("other", ts, body), hdr.Get(audit.SignatureHeader))
}

func TestWebhookShipper_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ws, err := audit.NewWebhookShipper(&audit.WebhookConfig{URL: srv.URL, MaxRetries: 3})
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.Ship(context.Background(), &audit.LogEntry{Action: "connection.revoked"}))
	assert.EqualValues(t, 3, calls.Load())
}

func TestWebhookShipper_GivesUpAfterMaxRetries(t *testing.T) {
	rec, srv := newRecordingEndpoint(t, http.StatusServiceUnavailable)
	ws, err := audit.NewWebhookShipper(&audit.WebhookConfig{URL: srv.URL, MaxRetries: 1})
	require.NoError(t, err)
	defer ws.Close()

	assert.Error(t, ws.Ship(context.Background(), &audit.LogEntry{Action: "connection.revoked"}))
	assert.Equal(t, 2, rec.count())
}

func TestWebhookShipper_ClientErrorIsPermanent(t *testing.T) {
	rec, srv := newRecordingEndpoint(t, http.StatusUnauthorized)
	ws, err := audit.NewWebhookShipper(&audit.WebhookConfig{URL: srv.URL, MaxRetries: 3})
	require.NoError(t, err)
	defer ws.Close()

	assert.ErrorContains(t, ws.Ship(context.Background(), &audit.LogEntry{Action: "x"}), "status 401")
	assert.Equal(t, 1, rec.count())
}

func TestWebhookShipper_CloseIsIdempotent(t *testing.T) {
	ws, err := audit.NewWebhookShipper(&audit.WebhookConfig{URL: "http://127.0.0.1:1", BatchSize: 5})
	require.NoError(t, err)
	assert.NoError(t, ws.Close())
	assert.NoError(t, ws.Close())
}

// ---------------------------------------------------------------------------
// Batch mode
// ---------------------------------------------------------------------------

func decodeBatch(t *testing.T, body []byte) []audit.LogEntry {
	t.Helper()
	var batch []audit.LogEntry
	require.NoError(t, json.Unmarshal(body, &batch))
	return batch
}

func TestWebhookShipper_FlushesFullBatch(t *testing.T) {
	rec, srv := newRecordingEndpoint(t, http.StatusOK)
	ws, err := audit.NewWebhookShipper(&audit.WebhookConfig{
		URL:           srv.URL,
		BatchSize:     2,
		FlushInterval: time.Hour,
	})
	require.NoError(t, err)
	defer ws.Close()

	for _, action := range []string{"a", "b"} {
		require.NoError(t, ws.Ship(context.Background(), &audit.LogEntry{Action: action}))
	}

	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	body, _ := rec.last()
	batch := decodeBatch(t, body)
	require.Len(t, batch, 2)
	assert.Equal(t, "a", batch[0].Action)
	assert.Equal(t, "b", batch[1].Action)
}

func TestWebhookShipper_FlushesOnInterval(t *testing.T) {
	rec, srv := newRecordingEndpoint(t, http.StatusOK)
	ws, err := audit.NewWebhookShipper(&audit.WebhookConfig{
		URL:           srv.URL,
		BatchSize:     100,
		FlushInterval: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.Ship(context.Background(), &audit.LogEntry{Action: "connection.renewed"}))

	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	body, _ := rec.last()
	assert.Len(t, decodeBatch(t, body), 1)
}

func TestWebhookShipper_CloseFlushesPending(t *testing.T) {
	rec, srv := newRecordingEndpoint(t, http.StatusOK)
	ws, err := audit.NewWebhookShipper(&audit.WebhookConfig{
		URL:           srv.URL,
		BatchSize:     100,
		FlushInterval: time.Hour,
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, ws.Ship(context.Background(), &audit.LogEntry{Action: "transaction.created"}))
	}
	require.NoError(t, ws.Close())

	require.Equal(t, 1, rec.count())
	body, _ := rec.last()
	assert.Len(t, decodeBatch(t, body), 3)
}
