// Package auditlogs serves a user's own audit trail of relay actions
package auditlogs

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/deabakjj/MYCREATA1-sub001/internal/api/respond"
	"github.com/deabakjj/MYCREATA1-sub001/internal/db/models"
	"github.com/deabakjj/MYCREATA1-sub001/internal/db/repositories"
	"github.com/deabakjj/MYCREATA1-sub001/internal/middleware"
)

// Store lists audit entries
type Store interface {
	ListAuditLogs(ctx context.Context, filters repositories.AuditFilters, limit, offset int) ([]*models.AuditLog, int, error)
}

// Handlers serves the audit log endpoint
type Handlers struct {
	store Store
}

// NewHandlers creates audit log handlers
func NewHandlers(store Store) *Handlers {
	return &Handlers{store: store}
}

// @Summary      List audit logs
// @Description  List relay actions performed by the caller, newest first.
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        action         query  string  false  "Filter by action, e.g. connection.revoked"
// @Param        resource_type  query  string  false  "Filter by resource type (connection, transaction)"
// @Param        resource_id    query  string  false  "Filter by connection id or transaction id"
// @Param        start_date     query  string  false  "RFC 3339 lower bound"
// @Param        end_date       query  string  false  "RFC 3339 upper bound"
// @Param        page           query  int     false  "Page number (default 1)"
// @Param        per_page       query  int     false  "Items per page, max 100 (default 20)"
// @Success      200  {object}  map[string]interface{}  "audit_logs: []AuditLogView, pagination: {page, per_page, total}"
// @Failure      400  {object}  map[string]interface{}  "Invalid date"
// @Router       /api/v1/audit-logs [get]
// ListHandler lists the caller's audit entries
// GET /api/v1/audit-logs?action=connection.revoked&page=1&per_page=20
func (h *Handlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.UserID(c)
		if userID == "" {
			respond.Unauthorized(c)
			return
		}

		filters := repositories.AuditFilters{UserID: &userID}
		if v := c.Query("action"); v != "" {
			filters.Action = &v
		}
		if v := c.Query("resource_type"); v != "" {
			filters.ResourceType = &v
		}
		if v := c.Query("resource_id"); v != "" {
			filters.ResourceID = &v
		}
		var err error
		if filters.StartDate, err = parseTime(c.Query("start_date")); err != nil {
			respond.BadRequest(c, "start_date must be an RFC 3339 timestamp")
			return
		}
		if filters.EndDate, err = parseTime(c.Query("end_date")); err != nil {
			respond.BadRequest(c, "end_date must be an RFC 3339 timestamp")
			return
		}

		page, perPage, offset := respond.ParsePage(c)
		logs, total, err := h.store.ListAuditLogs(c.Request.Context(), filters, perPage, offset)
		if err != nil {
			respond.Error(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"audit_logs": respond.AuditLogs(logs),
			"pagination": respond.Pagination{
				Page:    page,
				PerPage: perPage,
				Total:   total,
			},
		})
	}
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
