// Package dapp implements the endpoints called by connected DApps. Every route runs behind
// OriginMiddleware, and each handler checks the request origin against the DApp domain
// the connection was granted to.
package dapp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/deabakjj/MYCREATA1-sub001/internal/api/respond"
	"github.com/deabakjj/MYCREATA1-sub001/internal/audit"
	"github.com/deabakjj/MYCREATA1-sub001/internal/db/models"
	"github.com/deabakjj/MYCREATA1-sub001/internal/middleware"
	"github.com/deabakjj/MYCREATA1-sub001/internal/relay"
)

// ConnectionService is the part of the connection registry DApps may reach
type ConnectionService interface {
	GetByKey(ctx context.Context, key string) (*models.Connection, error)
	VerifyAccessToken(ctx context.Context, token, originHost, ip string) (*models.Connection, error)
	RefreshToken(ctx context.Context, refreshToken, originHost, ip string) (*relay.IssuedConnection, error)
}

// TransactionService is the part of the transaction relay DApps may reach
type TransactionService interface {
	CreateSignatureRequest(ctx context.Context, in relay.SignatureRequestInput) (*relay.TransactionView, error)
	GetStatus(ctx context.Context, transactionID, originHost string) (*relay.TransactionView, error)
	Complete(ctx context.Context, transactionID, originHost, txHash string, blockNumber *int64) (*relay.TransactionView, error)
	Fail(ctx context.Context, transactionID, originHost, message string) (*relay.TransactionView, error)
}

// Handlers serves the DApp endpoints
type Handlers struct {
	connections  ConnectionService
	transactions TransactionService
	accounts     relay.AccountDirectory
}

// NewHandlers creates DApp handlers
func NewHandlers(connections ConnectionService, transactions TransactionService, accounts relay.AccountDirectory) *Handlers {
	return &Handlers{connections: connections, transactions: transactions, accounts: accounts}
}

// VerifyTokenRequest is the body of POST /api/v1/dapp/verify-token
type VerifyTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// RefreshTokenRequest is the body of POST /api/v1/dapp/refresh-token
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// SignatureRequest is the body of POST /api/v1/dapp/transactions
type SignatureRequest struct {
	ConnectionKey      string          `json:"connectionKey" binding:"required"`
	RequestType        string          `json:"requestType" binding:"required"`
	RequestData        json.RawMessage `json:"requestData" binding:"required"`
	ExpiresIn          int64           `json:"expiresIn"` // Milliseconds; zero selects the default
	GaslessTransaction bool            `json:"gaslessTransaction"`
}

// CompleteRequest is the body of POST /api/v1/dapp/transactions/:id/complete
type CompleteRequest struct {
	TxHash      string `json:"txHash" binding:"required"`
	BlockNumber *int64 `json:"blockNumber"`
}

// FailRequest is the body of POST /api/v1/dapp/transactions/:id/fail
type FailRequest struct {
	Error string `json:"error" binding:"required"`
}

// @Summary      Get connection (DApp)
// @Description  Describe a connection to the DApp holding its key. The Nest ID and wallet address are included only when granted.
// @Tags         DApp
// @Produce      json
// @Param        connectionKey  path  string  true  "Connection key"
// @Success      200  {object}  respond.DAppConnectionView
// @Failure      403  {object}  map[string]interface{}  "Origin does not match the DApp"
// @Failure      404  {object}  map[string]interface{}  "Connection not found, revoked or expired"
// @Router       /api/v1/dapp/connections/{connectionKey} [get]
// GetConnectionHandler returns the permission-filtered view of a connection
// GET /api/v1/dapp/connections/:connectionKey
func (h *Handlers) GetConnectionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := h.connections.GetByKey(c.Request.Context(), c.Param("connectionKey"))
		if err != nil {
			respond.Error(c, err)
			return
		}
		if err := relay.ValidateOrigin(middleware.OriginHost(c), conn); err != nil {
			respond.Error(c, err)
			return
		}

		view, err := h.connectionView(c.Request.Context(), conn)
		if err != nil {
			respond.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

// @Summary      Verify access token
// @Description  Check that an access token is current and belongs to the calling DApp.
// @Tags         DApp
// @Accept       json
// @Produce      json
// @Param        body  body  VerifyTokenRequest  true  "Access token"
// @Success      200  {object}  map[string]interface{}  "valid, connection"
// @Failure      403  {object}  map[string]interface{}  "Token invalid, superseded or for another DApp"
// @Router       /api/v1/dapp/verify-token [post]
// VerifyTokenHandler verifies a DApp access token
// POST /api/v1/dapp/verify-token
func (h *Handlers) VerifyTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req VerifyTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.BadRequest(c, "Invalid request body: "+err.Error())
			return
		}

		conn, err := h.connections.VerifyAccessToken(c.Request.Context(), req.Token, middleware.OriginHost(c), c.ClientIP())
		if err != nil {
			respond.Error(c, err)
			return
		}

		view, err := h.connectionView(c.Request.Context(), conn)
		if err != nil {
			respond.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"valid":      true,
			"connection": view,
		})
	}
}

// @Summary      Refresh access token
// @Description  Exchange a refresh token for a new access token. The refresh token rotates; the one it replaced keeps working for a short grace window and then yields no new refresh token.
// @Tags         DApp
// @Accept       json
// @Produce      json
// @Param        body  body  RefreshTokenRequest  true  "Refresh token"
// @Success      200  {object}  map[string]interface{}  "accessToken, accessTokenExpiresAt, refreshToken, expiresAt"
// @Failure      403  {object}  map[string]interface{}  "Refresh token invalid or replayed"
// @Router       /api/v1/dapp/refresh-token [post]
// RefreshTokenHandler rotates a DApp's tokens
// POST /api/v1/dapp/refresh-token
func (h *Handlers) RefreshTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RefreshTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.BadRequest(c, "Invalid request body: "+err.Error())
			return
		}

		issued, err := h.connections.RefreshToken(c.Request.Context(), req.RefreshToken, middleware.OriginHost(c), c.ClientIP())
		if err != nil {
			respond.Error(c, err)
			return
		}

		body := gin.H{
			"accessToken":          issued.AccessToken,
			"accessTokenExpiresAt": issued.AccessTokenExpiresAt,
			"expiresAt":            issued.Connection.Session.ExpiresAt,
		}
		if issued.RefreshToken != "" {
			body["refreshToken"] = issued.RefreshToken
		}
		c.JSON(http.StatusOK, body)
	}
}

// @Summary      Request signature
// @Description  Ask the connection's owner to sign a message or transaction. Requests within the connection's auto-sign grant are signed immediately.
// @Tags         DApp
// @Accept       json
// @Produce      json
// @Param        body  body  SignatureRequest  true  "Signing request"
// @Success      201  {object}  respond.SignatureRequestView
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      403  {object}  map[string]interface{}  "Origin mismatch or signing not permitted"
// @Router       /api/v1/dapp/transactions [post]
// CreateTransactionHandler records a signing request
// POST /api/v1/dapp/transactions
func (h *Handlers) CreateTransactionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SignatureRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.BadRequest(c, "Invalid request body: "+err.Error())
			return
		}

		tv, err := h.transactions.CreateSignatureRequest(c.Request.Context(), relay.SignatureRequestInput{
			ConnectionKey: req.ConnectionKey,
			RequestType:   req.RequestType,
			RequestData:   req.RequestData,
			OriginHost:    middleware.OriginHost(c),
			ExpiresIn:     time.Duration(req.ExpiresIn) * time.Millisecond,
			Gasless:       req.GaslessTransaction,
		})
		if err != nil {
			respond.Error(c, err)
			return
		}

		middleware.SetAuditEvent(c, audit.ActionTransactionRequested, audit.ResourceTransaction, tv.TransactionID)
		middleware.AddAuditMetadata(c, "request_type", tv.RequestType)
		middleware.AddAuditMetadata(c, "risk_score", tv.Risk.Score)
		if tv.AutoApproved {
			middleware.AddAuditMetadata(c, "auto_approved", true)
		}

		c.JSON(http.StatusCreated, respond.SignatureRequest(tv))
	}
}

// @Summary      Get transaction status
// @Tags         DApp
// @Produce      json
// @Param        id  path  string  true  "Transaction ID"
// @Success      200  {object}  respond.TransactionStatusView
// @Failure      404  {object}  map[string]interface{}  "Transaction not found"
// @Router       /api/v1/dapp/transactions/{id}/status [get]
// TransactionStatusHandler reports a signing request to the DApp that made it
// GET /api/v1/dapp/transactions/:id/status
func (h *Handlers) TransactionStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tv, err := h.transactions.GetStatus(c.Request.Context(), c.Param("id"), middleware.OriginHost(c))
		if err != nil {
			respond.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, respond.TransactionStatus(tv))
	}
}

// @Summary      Complete transaction
// @Description  Report the on-chain receipt of an approved transaction.
// @Tags         DApp
// @Accept       json
// @Produce      json
// @Param        id    path  string           true  "Transaction ID"
// @Param        body  body  CompleteRequest  true  "Receipt"
// @Success      200  {object}  respond.TransactionStatusView
// @Failure      400  {object}  map[string]interface{}  "Not approved or invalid hash"
// @Router       /api/v1/dapp/transactions/{id}/complete [post]
// CompleteTransactionHandler records an on-chain receipt
// POST /api/v1/dapp/transactions/:id/complete
func (h *Handlers) CompleteTransactionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CompleteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.BadRequest(c, "Invalid request body: "+err.Error())
			return
		}

		id := c.Param("id")
		middleware.SetAuditEvent(c, audit.ActionTransactionCompleted, audit.ResourceTransaction, id)

		tv, err := h.transactions.Complete(c.Request.Context(), id, middleware.OriginHost(c), req.TxHash, req.BlockNumber)
		if err != nil {
			respond.Error(c, err)
			return
		}

		middleware.AddAuditMetadata(c, "tx_hash", req.TxHash)
		c.JSON(http.StatusOK, respond.TransactionStatus(tv))
	}
}

// @Summary      Fail transaction
// @Description  Report that an approved transaction could not be broadcast or was reverted.
// @Tags         DApp
// @Accept       json
// @Produce      json
// @Param        id    path  string       true  "Transaction ID"
// @Param        body  body  FailRequest  true  "Failure"
// @Success      200  {object}  respond.TransactionStatusView
// @Router       /api/v1/dapp/transactions/{id}/fail [post]
// FailTransactionHandler records a broadcast failure
// POST /api/v1/dapp/transactions/:id/fail
func (h *Handlers) FailTransactionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req FailRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.BadRequest(c, "Invalid request body: "+err.Error())
			return
		}

		id := c.Param("id")
		middleware.SetAuditEvent(c, audit.ActionTransactionFailed, audit.ResourceTransaction, id)

		tv, err := h.transactions.Fail(c.Request.Context(), id, middleware.OriginHost(c), req.Error)
		if err != nil {
			respond.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, respond.TransactionStatus(tv))
	}
}

// connectionView loads the account records the connection's permissions expose
func (h *Handlers) connectionView(ctx context.Context, conn *models.Connection) (respond.DAppConnectionView, error) {
	var nest *models.NestID
	var wallet *models.Wallet
	var err error

	if conn.Permissions.ReadNestID && h.accounts != nil {
		if nest, err = h.accounts.GetNestID(ctx, conn.NestIDID); err != nil {
			return respond.DAppConnectionView{}, &relay.Error{Kind: relay.KindInternal, Message: "failed to load nest id", Err: err}
		}
	}
	if conn.Permissions.ReadWalletAddress && h.accounts != nil {
		if wallet, err = h.accounts.GetWallet(ctx, conn.WalletID); err != nil {
			return respond.DAppConnectionView{}, &relay.Error{Kind: relay.KindInternal, Message: "failed to load wallet", Err: err}
		}
	}
	return respond.DAppConnection(conn, nest, wallet), nil
}
