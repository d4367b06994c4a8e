package respond

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/deabakjj/MYCREATA1-sub001/internal/db/models"
	"github.com/deabakjj/MYCREATA1-sub001/internal/relay"
)

// DAppView is the public description of a connected DApp
type DAppView struct {
	Name       string  `json:"name"`
	Domain     string  `json:"domain"`
	LogoURL    *string `json:"logoUrl,omitempty"`
	Registered bool    `json:"registered"`
}

// ConnectionView is a connection as shown to its owner. Session secrets are never included.
type ConnectionView struct {
	ID            string             `json:"id"`
	ConnectionKey string             `json:"connectionKey"`
	NestIDID      string             `json:"nestIdId"`
	WalletID      string             `json:"walletId"`
	DApp          DAppView           `json:"dapp"`
	Status        string             `json:"status"`
	Permissions   models.Permissions `json:"permissions"`
	ExpiresAt     time.Time          `json:"expiresAt"`
	UsageCount    int64              `json:"usageCount"`
	LastUsedAt    *time.Time         `json:"lastUsedAt,omitempty"`
	LastUsedIP    *string            `json:"lastUsedIp,omitempty"`
	RevokedAt     *time.Time         `json:"revokedAt,omitempty"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

func dappView(d models.DAppInfo) DAppView {
	return DAppView{Name: d.Name, Domain: d.Domain, LogoURL: d.LogoURL, Registered: d.Registered}
}

// Connection builds the owner view of conn
func Connection(conn *models.Connection) ConnectionView {
	return ConnectionView{
		ID:            conn.ID,
		ConnectionKey: conn.ConnectionKey,
		NestIDID:      conn.NestIDID,
		WalletID:      conn.WalletID,
		DApp:          dappView(conn.DApp),
		Status:        string(conn.Status),
		Permissions:   conn.Permissions,
		ExpiresAt:     conn.Session.ExpiresAt,
		UsageCount:    conn.UsageCount,
		LastUsedAt:    conn.LastUsedAt,
		LastUsedIP:    conn.LastUsedIP,
		RevokedAt:     conn.RevokedAt,
		CreatedAt:     conn.CreatedAt,
		UpdatedAt:     conn.UpdatedAt,
	}
}

// Connections builds owner views for a listing
func Connections(conns []*models.Connection) []ConnectionView {
	out := make([]ConnectionView, 0, len(conns))
	for _, conn := range conns {
		out = append(out, Connection(conn))
	}
	return out
}

// Issued renders a connection together with its freshly issued tokens
func Issued(issued *relay.IssuedConnection) gin.H {
	body := gin.H{
		"connection":           Connection(issued.Connection),
		"accessToken":          issued.AccessToken,
		"accessTokenExpiresAt": issued.AccessTokenExpiresAt,
		"isNew":                issued.IsNew,
	}
	if issued.RefreshToken != "" {
		body["refreshToken"] = issued.RefreshToken
	}
	return body
}

// DAppConnectionView is what a DApp may learn about its own connection. The Nest ID and
// wallet address appear only when the matching read permission is granted. Balance and
// profile grants are reported in Permissions only; the relay has no data behind them.
type DAppConnectionView struct {
	ConnectionKey string             `json:"connectionKey"`
	DApp          DAppView           `json:"dapp"`
	Status        string             `json:"status"`
	Permissions   models.Permissions `json:"permissions"`
	ExpiresAt     time.Time          `json:"expiresAt"`
	NestID        *string            `json:"nestId,omitempty"`
	WalletAddress *string            `json:"walletAddress,omitempty"`
	ChainID       *int64             `json:"chainId,omitempty"`
}

// DAppConnection builds the DApp view of conn. nest and wallet may be nil and are
// dropped unless the connection grants the matching read permission.
func DAppConnection(conn *models.Connection, nest *models.NestID, wallet *models.Wallet) DAppConnectionView {
	view := DAppConnectionView{
		ConnectionKey: conn.ConnectionKey,
		DApp:          dappView(conn.DApp),
		Status:        string(conn.Status),
		Permissions:   conn.Permissions,
		ExpiresAt:     conn.Session.ExpiresAt,
	}
	if conn.Permissions.ReadNestID && nest != nil {
		name := nest.Name
		view.NestID = &name
	}
	if conn.Permissions.ReadWalletAddress && wallet != nil {
		addr := wallet.Address
		chainID := wallet.ChainID
		view.WalletAddress = &addr
		view.ChainID = &chainID
	}
	return view
}

// SignatureResult is the outcome of a signing attempt
type SignatureResult struct {
	Signature    *string `json:"signature,omitempty"`
	Error        *string `json:"error,omitempty"`
	AutoApproved bool    `json:"autoApproved"`
}

// Blockchain is the on-chain receipt reported by the DApp
type Blockchain struct {
	TxHash      *string `json:"txHash,omitempty"`
	BlockNumber *int64  `json:"blockNumber,omitempty"`
}

// TransactionView is a signing request as shown to its owner
type TransactionView struct {
	TransactionID      string                `json:"transactionId"`
	ConnectionID       string                `json:"connectionId"`
	RequestType        string                `json:"requestType"`
	RequestData        json.RawMessage       `json:"requestData"`
	HumanReadable      models.HumanReadable  `json:"humanReadable"`
	RiskAssessment     models.RiskAssessment `json:"riskAssessment"`
	GaslessTransaction bool                  `json:"gaslessTransaction"`
	Status             string                `json:"status"`
	SignatureResult    *SignatureResult      `json:"signatureResult,omitempty"`
	RejectionReason    *string               `json:"rejectionReason,omitempty"`
	Blockchain         *Blockchain           `json:"blockchain,omitempty"`
	RequestedAt        time.Time             `json:"requestedAt"`
	ExpiresAt          time.Time             `json:"expiresAt"`
	RespondedAt        *time.Time            `json:"respondedAt,omitempty"`
	CompletedAt        *time.Time            `json:"completedAt,omitempty"`
}

// Transaction builds the owner view of a signing request
func Transaction(tv *relay.TransactionView) TransactionView {
	tx := tv.Transaction
	view := TransactionView{
		TransactionID:      tx.TransactionID,
		ConnectionID:       tx.ConnectionID,
		RequestType:        tx.RequestType,
		RequestData:        tx.RequestData,
		HumanReadable:      tx.HumanReadable,
		RiskAssessment:     tx.Risk,
		GaslessTransaction: tx.Gasless,
		Status:             tv.EffectiveStatus,
		RejectionReason:    tx.RejectionReason,
		RequestedAt:        tx.RequestedAt,
		ExpiresAt:          tx.ExpiresAt,
		RespondedAt:        tx.RespondedAt,
		CompletedAt:        tx.CompletedAt,
	}
	if tx.Signature != nil || tx.ErrorMessage != nil || tx.AutoApproved {
		view.SignatureResult = &SignatureResult{
			Signature:    tx.Signature,
			Error:        tx.ErrorMessage,
			AutoApproved: tx.AutoApproved,
		}
	}
	if tx.TxHash != nil || tx.BlockNumber != nil {
		view.Blockchain = &Blockchain{TxHash: tx.TxHash, BlockNumber: tx.BlockNumber}
	}
	return view
}

// Transactions builds owner views for a listing
func Transactions(txs []*relay.TransactionView) []TransactionView {
	out := make([]TransactionView, 0, len(txs))
	for _, tv := range txs {
		out = append(out, Transaction(tv))
	}
	return out
}

// TransactionStatusView is what the requesting DApp sees of a signing request
type TransactionStatusView struct {
	TransactionID   string           `json:"transactionId"`
	Status          string           `json:"status"`
	SignatureResult *SignatureResult `json:"signatureResult,omitempty"`
	RejectionReason *string          `json:"rejectionReason,omitempty"`
	Blockchain      *Blockchain      `json:"blockchain,omitempty"`
	ExpiresAt       time.Time        `json:"expiresAt"`
	RespondedAt     *time.Time       `json:"respondedAt,omitempty"`
	CompletedAt     *time.Time       `json:"completedAt,omitempty"`
}

// TransactionStatus builds the DApp view of a signing request
func TransactionStatus(tv *relay.TransactionView) TransactionStatusView {
	full := Transaction(tv)
	return TransactionStatusView{
		TransactionID:   full.TransactionID,
		Status:          full.Status,
		SignatureResult: full.SignatureResult,
		RejectionReason: full.RejectionReason,
		Blockchain:      full.Blockchain,
		ExpiresAt:       full.ExpiresAt,
		RespondedAt:     full.RespondedAt,
		CompletedAt:     full.CompletedAt,
	}
}

// AuditLogView is an audit entry as shown to its owner
type AuditLogView struct {
	ID           string                 `json:"id"`
	Action       string                 `json:"action"`
	ResourceType *string                `json:"resourceType,omitempty"`
	ResourceID   *string                `json:"resourceId,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	IPAddress    *string                `json:"ipAddress,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
}

// AuditLogs builds owner views of audit entries
func AuditLogs(logs []*models.AuditLog) []AuditLogView {
	out := make([]AuditLogView, 0, len(logs))
	for _, l := range logs {
		out = append(out, AuditLogView{
			ID:           l.ID,
			Action:       l.Action,
			ResourceType: l.ResourceType,
			ResourceID:   l.ResourceID,
			Metadata:     l.Metadata,
			IPAddress:    l.IPAddress,
			CreatedAt:    l.CreatedAt,
		})
	}
	return out
}

// SignatureRequestView is returned to a DApp that has just created a signing request
type SignatureRequestView struct {
	TransactionStatusView
	RequestType    string                `json:"requestType"`
	HumanReadable  models.HumanReadable  `json:"humanReadable"`
	RiskAssessment models.RiskAssessment `json:"riskAssessment"`
}

// SignatureRequest builds the creation response for a signing request
func SignatureRequest(tv *relay.TransactionView) SignatureRequestView {
	return SignatureRequestView{
		TransactionStatusView: TransactionStatus(tv),
		RequestType:           tv.RequestType,
		HumanReadable:         tv.HumanReadable,
		RiskAssessment:        tv.Risk,
	}
}
