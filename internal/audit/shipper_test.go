package audit_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deabakjj/MYCREATA1-sub001/internal/audit"
)

func TestNewMultiShipper_NoConfigs(t *testing.T) {
	ms, err := audit.NewMultiShipper(nil)
	require.NoError(t, err)
	assert.Zero(t, ms.Len())
	assert.NoError(t, ms.Ship(context.Background(), &audit.LogEntry{Action: "connection.created"}))
	assert.NoError(t, ms.Close())
}

func TestNewMultiShipper_SkipsDisabled(t *testing.T) {
	ms, err := audit.NewMultiShipper([]audit.ShipperConfig{
		{Enabled: false, Type: audit.ShipperWebhook, Webhook: &audit.WebhookConfig{URL: "http://127.0.0.1:1"}},
		{Enabled: true, Type: audit.ShipperFile, File: &audit.FileConfig{Path: filepath.Join(t.TempDir(), "a.log")}},
	})
	require.NoError(t, err)
	defer ms.Close()
	assert.Equal(t, 1, ms.Len())
}

func TestNewMultiShipper_InvalidConfigs(t *testing.T) {
	cases := map[string]audit.ShipperConfig{
		"unknown type":    {Enabled: true, Type: "syslog"},
		"webhook missing": {Enabled: true, Type: audit.ShipperWebhook},
		"file missing":    {Enabled: true, Type: audit.ShipperFile},
		"webhook no url":  {Enabled: true, Type: audit.ShipperWebhook, Webhook: &audit.WebhookConfig{}},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := audit.NewMultiShipper([]audit.ShipperConfig{cfg})
			assert.Error(t, err)
		})
	}
}

func TestMultiShipper_DeliversPastFailingDestination(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer failing.Close()

	hits := make(chan struct{}, 1)
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits <- struct{}{}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer healthy.Close()

	ms, err := audit.NewMultiShipper([]audit.ShipperConfig{
		{Enabled: true, Type: audit.ShipperWebhook, Webhook: &audit.WebhookConfig{URL: failing.URL, Timeout: time.Second}},
		{Enabled: true, Type: audit.ShipperWebhook, Webhook: &audit.WebhookConfig{URL: healthy.URL, Timeout: time.Second}},
	})
	require.NoError(t, err)
	defer ms.Close()

	err = ms.Ship(context.Background(), &audit.LogEntry{Action: "transaction.rejected"})
	assert.ErrorContains(t, err, "status 400")

	select {
	case <-hits:
	default:
		t.Fatal("healthy destination was not called")
	}
}
