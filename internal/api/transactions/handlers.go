// Package transactions implements the owner endpoints for signing requests: listing a
// user's requests and approving or rejecting the pending ones.
package transactions

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/deabakjj/MYCREATA1-sub001/internal/api/respond"
	"github.com/deabakjj/MYCREATA1-sub001/internal/audit"
	"github.com/deabakjj/MYCREATA1-sub001/internal/db/models"
	"github.com/deabakjj/MYCREATA1-sub001/internal/middleware"
	"github.com/deabakjj/MYCREATA1-sub001/internal/relay"
)

// Service is the part of the transaction relay used by the owner endpoints
type Service interface {
	Get(ctx context.Context, transactionID, userID string) (*relay.TransactionView, error)
	List(ctx context.Context, filter models.TransactionFilter) ([]*relay.TransactionView, int, error)
	Approve(ctx context.Context, transactionID, userID string) (*relay.TransactionView, error)
	Reject(ctx context.Context, transactionID, userID, reason string) (*relay.TransactionView, error)
}

// Handlers serves the owner transaction endpoints
type Handlers struct {
	service Service
}

// NewHandlers creates transaction handlers over the given relay
func NewHandlers(service Service) *Handlers {
	return &Handlers{service: service}
}

// RejectRequest is the optional body of POST /api/v1/transactions/:id/reject
type RejectRequest struct {
	Reason string `json:"reason"`
}

// @Summary      List transactions
// @Description  List the caller's signing requests, newest first.
// @Tags         Transactions
// @Security     Bearer
// @Produce      json
// @Param        status    query  string  false  "Filter by status (pending, signing, approved, rejected, completed, failed)"
// @Param        page      query  int     false  "Page number (default 1)"
// @Param        per_page  query  int     false  "Items per page, max 100 (default 20)"
// @Success      200  {object}  map[string]interface{}  "transactions: []TransactionView, pagination: {page, per_page, total}"
// @Failure      400  {object}  map[string]interface{}  "Unknown status"
// @Router       /api/v1/transactions [get]
// ListHandler lists the caller's signing requests
// GET /api/v1/transactions?status=pending&page=1&per_page=20
func (h *Handlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.UserID(c)
		if userID == "" {
			respond.Unauthorized(c)
			return
		}

		page, perPage, offset := respond.ParsePage(c)
		filter := models.TransactionFilter{UserID: userID, Limit: perPage, Offset: offset}

		if s := c.Query("status"); s != "" {
			status, err := relay.ParseTransactionStatus(s)
			if err != nil {
				respond.Error(c, err)
				return
			}
			filter.Status = &status
		}

		txs, total, err := h.service.List(c.Request.Context(), filter)
		if err != nil {
			respond.Error(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"transactions": respond.Transactions(txs),
			"pagination": respond.Pagination{
				Page:    page,
				PerPage: perPage,
				Total:   total,
			},
		})
	}
}

// @Summary      Get transaction
// @Tags         Transactions
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Transaction ID"
// @Success      200  {object}  respond.TransactionView
// @Failure      404  {object}  map[string]interface{}  "Transaction not found"
// @Router       /api/v1/transactions/{id} [get]
// GetHandler returns one of the caller's signing requests
// GET /api/v1/transactions/:id
func (h *Handlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.UserID(c)
		if userID == "" {
			respond.Unauthorized(c)
			return
		}

		tv, err := h.service.Get(c.Request.Context(), c.Param("id"), userID)
		if err != nil {
			respond.Error(c, err)
			return
		}

		c.JSON(http.StatusOK, respond.Transaction(tv))
	}
}

// @Summary      Approve transaction
// @Description  Sign a pending request with the caller's wallet.
// @Tags         Transactions
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Transaction ID"
// @Success      200  {object}  respond.TransactionView
// @Failure      400  {object}  map[string]interface{}  "Not pending or expired"
// @Failure      502  {object}  map[string]interface{}  "Wallet signer failed"
// @Failure      504  {object}  map[string]interface{}  "Wallet signer timed out"
// @Router       /api/v1/transactions/{id}/approve [post]
// ApproveHandler signs a pending request
// POST /api/v1/transactions/:id/approve
func (h *Handlers) ApproveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.UserID(c)
		if userID == "" {
			respond.Unauthorized(c)
			return
		}

		id := c.Param("id")
		middleware.SetAuditEvent(c, audit.ActionTransactionApproved, audit.ResourceTransaction, id)

		tv, err := h.service.Approve(c.Request.Context(), id, userID)
		if err != nil {
			respond.Error(c, err)
			return
		}

		middleware.AddAuditMetadata(c, "request_type", tv.RequestType)
		middleware.AddAuditMetadata(c, "risk_score", tv.Risk.Score)
		c.JSON(http.StatusOK, respond.Transaction(tv))
	}
}

// @Summary      Reject transaction
// @Description  Decline a pending request.
// @Tags         Transactions
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string         true   "Transaction ID"
// @Param        body  body  RejectRequest  false  "Rejection reason"
// @Success      200  {object}  respond.TransactionView
// @Failure      400  {object}  map[string]interface{}  "Not pending or expired"
// @Router       /api/v1/transactions/{id}/reject [post]
// RejectHandler declines a pending request
// POST /api/v1/transactions/:id/reject
func (h *Handlers) RejectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.UserID(c)
		if userID == "" {
			respond.Unauthorized(c)
			return
		}

		var req RejectRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				respond.BadRequest(c, "Invalid request body: "+err.Error())
				return
			}
		}

		id := c.Param("id")
		middleware.SetAuditEvent(c, audit.ActionTransactionRejected, audit.ResourceTransaction, id)

		tv, err := h.service.Reject(c.Request.Context(), id, userID, req.Reason)
		if err != nil {
			respond.Error(c, err)
			return
		}

		c.JSON(http.StatusOK, respond.Transaction(tv))
	}
}
