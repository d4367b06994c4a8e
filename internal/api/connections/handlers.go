// Package connections implements the owner endpoints for DApp connections: granting a
// DApp access to a Nest ID and wallet, listing and inspecting grants, renewing them,
// changing their permissions, and revoking them.
package connections

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/deabakjj/MYCREATA1-sub001/internal/api/respond"
	"github.com/deabakjj/MYCREATA1-sub001/internal/audit"
	"github.com/deabakjj/MYCREATA1-sub001/internal/db/models"
	"github.com/deabakjj/MYCREATA1-sub001/internal/middleware"
	"github.com/deabakjj/MYCREATA1-sub001/internal/relay"
)

// Service is the part of the connection registry used by the owner endpoints
type Service interface {
	Create(ctx context.Context, in relay.CreateConnectionInput) (*relay.IssuedConnection, error)
	Get(ctx context.Context, id, userID string) (*models.Connection, error)
	List(ctx context.Context, userID string) ([]*models.Connection, error)
	Renew(ctx context.Context, id, userID string, ttl time.Duration) (*relay.IssuedConnection, error)
	Revoke(ctx context.Context, id, userID string) (*models.Connection, error)
	UpdatePermissions(ctx context.Context, id, userID string, patch models.PermissionsPatch) (*models.Connection, error)
}

// Handlers serves the owner connection endpoints
type Handlers struct {
	service Service
}

// NewHandlers creates connection handlers over the given registry
func NewHandlers(service Service) *Handlers {
	return &Handlers{service: service}
}

// DAppRequest describes the DApp being granted access
type DAppRequest struct {
	Name       string  `json:"name" binding:"required"`
	Domain     string  `json:"domain" binding:"required"`
	LogoURL    *string `json:"logoUrl"`
	Registered bool    `json:"registered"`
}

// CreateRequest is the body of POST /api/v1/connections
type CreateRequest struct {
	NestIDID    string                  `json:"nestIdId" binding:"required"`
	WalletID    string                  `json:"walletId" binding:"required"`
	DApp        DAppRequest             `json:"dapp"`
	Permissions models.PermissionsPatch `json:"permissions"`
	ExpiresIn   int64                   `json:"expiresIn"` // Milliseconds; zero selects the default
}

// RenewRequest is the body of POST /api/v1/connections/:id/renew
type RenewRequest struct {
	ExpiresIn int64 `json:"expiresIn"` // Milliseconds; zero selects the default
}

// @Summary      Create connection
// @Description  Grant a DApp access to one of the caller's Nest IDs and wallets. An active grant for the same DApp domain is renewed and its permissions merged.
// @Tags         Connections
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  CreateRequest  true  "Connection request"
// @Success      201  {object}  map[string]interface{}  "connection, accessToken, refreshToken, isNew"
// @Success      200  {object}  map[string]interface{}  "Existing connection renewed"
// @Failure      400  {object}  map[string]interface{}  "Validation error"
// @Failure      403  {object}  map[string]interface{}  "Nest ID or wallet not owned by caller"
// @Router       /api/v1/connections [post]
// CreateHandler grants a DApp access
// POST /api/v1/connections
func (h *Handlers) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.UserID(c)
		if userID == "" {
			respond.Unauthorized(c)
			return
		}

		var req CreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.BadRequest(c, "Invalid request body: "+err.Error())
			return
		}

		issued, err := h.service.Create(c.Request.Context(), relay.CreateConnectionInput{
			UserID:   userID,
			NestIDID: req.NestIDID,
			WalletID: req.WalletID,
			DApp: models.DAppInfo{
				Name:       req.DApp.Name,
				Domain:     req.DApp.Domain,
				LogoURL:    req.DApp.LogoURL,
				Registered: req.DApp.Registered,
			},
			Permissions: req.Permissions,
			TTL:         time.Duration(req.ExpiresIn) * time.Millisecond,
		})
		if err != nil {
			respond.Error(c, err)
			return
		}

		action := audit.ActionConnectionCreated
		status := http.StatusCreated
		if !issued.IsNew {
			action = audit.ActionConnectionRenewed
			status = http.StatusOK
		}
		middleware.SetAuditEvent(c, action, audit.ResourceConnection, issued.Connection.ID)
		middleware.AddAuditMetadata(c, "dapp_domain", issued.Connection.DApp.Domain)

		c.JSON(status, respond.Issued(issued))
	}
}

// @Summary      List connections
// @Description  List the caller's DApp connections, active and revoked.
// @Tags         Connections
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "connections: []ConnectionView"
// @Router       /api/v1/connections [get]
// ListHandler lists the caller's connections
// GET /api/v1/connections
func (h *Handlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.UserID(c)
		if userID == "" {
			respond.Unauthorized(c)
			return
		}

		conns, err := h.service.List(c.Request.Context(), userID)
		if err != nil {
			respond.Error(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"connections": respond.Connections(conns),
		})
	}
}

// @Summary      Get connection
// @Tags         Connections
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Connection ID"
// @Success      200  {object}  respond.ConnectionView
// @Failure      404  {object}  map[string]interface{}  "Connection not found"
// @Router       /api/v1/connections/{id} [get]
// GetHandler returns one of the caller's connections
// GET /api/v1/connections/:id
func (h *Handlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.UserID(c)
		if userID == "" {
			respond.Unauthorized(c)
			return
		}

		conn, err := h.service.Get(c.Request.Context(), c.Param("id"), userID)
		if err != nil {
			respond.Error(c, err)
			return
		}

		c.JSON(http.StatusOK, respond.Connection(conn))
	}
}

// @Summary      Renew connection
// @Description  Extend an active connection and issue new tokens. Tokens issued earlier stop working.
// @Tags         Connections
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string        true   "Connection ID"
// @Param        body  body  RenewRequest  false  "Renewal window"
// @Success      200  {object}  map[string]interface{}  "connection, accessToken, refreshToken"
// @Failure      400  {object}  map[string]interface{}  "Connection revoked or window invalid"
// @Router       /api/v1/connections/{id}/renew [post]
// RenewHandler extends a connection
// POST /api/v1/connections/:id/renew
func (h *Handlers) RenewHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.UserID(c)
		if userID == "" {
			respond.Unauthorized(c)
			return
		}

		// The body is optional
		var req RenewRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				respond.BadRequest(c, "Invalid request body: "+err.Error())
				return
			}
		}

		id := c.Param("id")
		middleware.SetAuditEvent(c, audit.ActionConnectionRenewed, audit.ResourceConnection, id)
		issued, err := h.service.Renew(c.Request.Context(), id, userID, time.Duration(req.ExpiresIn)*time.Millisecond)
		if err != nil {
			respond.Error(c, err)
			return
		}

		c.JSON(http.StatusOK, respond.Issued(issued))
	}
}

// @Summary      Update connection permissions
// @Description  Change individual permission flags. Omitted flags keep their current value.
// @Tags         Connections
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string                   true  "Connection ID"
// @Param        body  body  models.PermissionsPatch  true  "Permission changes"
// @Success      200  {object}  respond.ConnectionView
// @Router       /api/v1/connections/{id}/permissions [patch]
// UpdatePermissionsHandler applies a permission patch
// PATCH /api/v1/connections/:id/permissions
func (h *Handlers) UpdatePermissionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.UserID(c)
		if userID == "" {
			respond.Unauthorized(c)
			return
		}

		var patch models.PermissionsPatch
		if err := c.ShouldBindJSON(&patch); err != nil {
			respond.BadRequest(c, "Invalid request body: "+err.Error())
			return
		}

		id := c.Param("id")
		middleware.SetAuditEvent(c, audit.ActionConnectionPermissionsUpdated, audit.ResourceConnection, id)
		conn, err := h.service.UpdatePermissions(c.Request.Context(), id, userID, patch)
		if err != nil {
			respond.Error(c, err)
			return
		}

		middleware.AddAuditMetadata(c, "permissions", conn.Permissions)
		c.JSON(http.StatusOK, respond.Connection(conn))
	}
}

// @Summary      Revoke connection
// @Description  Revoke a connection. Its tokens stop working immediately; the record is kept for audit.
// @Tags         Connections
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Connection ID"
// @Success      200  {object}  respond.ConnectionView
// @Router       /api/v1/connections/{id} [delete]
// RevokeHandler revokes a connection
// DELETE /api/v1/connections/:id
func (h *Handlers) RevokeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.UserID(c)
		if userID == "" {
			respond.Unauthorized(c)
			return
		}

		id := c.Param("id")
		middleware.SetAuditEvent(c, audit.ActionConnectionRevoked, audit.ResourceConnection, id)
		conn, err := h.service.Revoke(c.Request.Context(), id, userID)
		if err != nil {
			respond.Error(c, err)
			return
		}

		c.JSON(http.StatusOK, respond.Connection(conn))
	}
}
