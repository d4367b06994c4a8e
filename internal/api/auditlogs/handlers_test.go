package auditlogs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/deabakjj/MYCREATA1-sub001/internal/db/models"
	"github.com/deabakjj/MYCREATA1-sub001/internal/db/repositories"
	"github.com/deabakjj/MYCREATA1-sub001/internal/middleware"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type stubStore struct {
	filters       repositories.AuditFilters
	limit, offset int
	logs          []*models.AuditLog
	err           error
}

func (s *stubStore) ListAuditLogs(_ context.Context, filters repositories.AuditFilters, limit, offset int) ([]*models.AuditLog, int, error) {
	s.filters, s.limit, s.offset = filters, limit, offset
	return s.logs, len(s.logs), s.err
}

func newRouter(store Store, userID string) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if userID != "" {
			c.Set(middleware.UserIDKey, userID)
		}
		c.Next()
	})
	r.GET("/audit-logs", NewHandlers(store).ListHandler())
	return r
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestListHandler_ScopedToCaller(t *testing.T) {
	rt := "connection"
	store := &stubStore{logs: []*models.AuditLog{{
		ID: "log-1", Action: "connection.revoked", ResourceType: &rt, CreatedAt: time.Now(),
	}}}

	w := get(newRouter(store, "user-1"), "/audit-logs?action=connection.revoked&resource_type=connection&page=2&per_page=5")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if store.filters.UserID == nil || *store.filters.UserID != "user-1" {
		t.Errorf("UserID filter = %v, want user-1", store.filters.UserID)
	}
	if store.filters.Action == nil || *store.filters.Action != "connection.revoked" {
		t.Errorf("Action filter = %v", store.filters.Action)
	}
	if store.filters.ResourceID != nil {
		t.Errorf("ResourceID filter = %v, want nil", store.filters.ResourceID)
	}
	if store.limit != 5 || store.offset != 5 {
		t.Errorf("limit/offset = %d/%d, want 5/5", store.limit, store.offset)
	}
}

func TestListHandler_DateRange(t *testing.T) {
	store := &stubStore{}
	w := get(newRouter(store, "user-1"), "/audit-logs?start_date=2026-01-01T00:00:00Z&end_date=2026-02-01T00:00:00Z")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if store.filters.StartDate == nil || store.filters.StartDate.Month() != time.January {
		t.Errorf("StartDate = %v", store.filters.StartDate)
	}
	if store.filters.EndDate == nil || store.filters.EndDate.Month() != time.February {
		t.Errorf("EndDate = %v", store.filters.EndDate)
	}
}

func TestListHandler_InvalidDate(t *testing.T) {
	w := get(newRouter(&stubStore{}, "user-1"), "/audit-logs?start_date=yesterday")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestListHandler_Unauthenticated(t *testing.T) {
	w := get(newRouter(&stubStore{}, ""), "/audit-logs")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestListHandler_StoreError(t *testing.T) {
	w := get(newRouter(&stubStore{err: errors.New("db down")}, "user-1"), "/audit-logs")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}
