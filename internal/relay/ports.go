package relay

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/deabakjj/MYCREATA1-sub001/internal/db/models"
)

// ErrDuplicateConnection is returned by a ConnectionStore when an active connection
// already exists for the same user and DApp domain.
var ErrDuplicateConnection = errors.New("active connection already exists for user and domain")

// ConnectionStore persists connections. Lookups return (nil, nil) when nothing matches.
type ConnectionStore interface {
	Create(ctx context.Context, conn *models.Connection) error
	GetByID(ctx context.Context, id string) (*models.Connection, error)
	GetByKey(ctx context.Context, key string) (*models.Connection, error)
	GetActiveByUserDomain(ctx context.Context, userID, domain string) (*models.Connection, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Connection, error)
	// UpdateSession writes permissions and session material of an active connection.
	// It reports false when the connection is no longer active.
	UpdateSession(ctx context.Context, conn *models.Connection) (bool, error)
	// UpdatePermissions reports false when the connection is no longer active.
	UpdatePermissions(ctx context.Context, id string, perms models.Permissions) (bool, error)
	Revoke(ctx context.Context, id string, at time.Time) error
	// FindByRefreshPrefix returns connections whose current or previous refresh token
	// starts with prefix.
	FindByRefreshPrefix(ctx context.Context, prefix string) ([]*models.Connection, error)
	// RotateRefreshToken replaces the refresh token only if the stored hash still equals
	// expectedHash, keeping the old one as the previous token.
	RotateRefreshToken(ctx context.Context, id, expectedHash, prefix, hash string, expiresAt, rotatedAt time.Time) (bool, error)
	RecordUsage(ctx context.Context, id, ip string, at time.Time) error
}

// AccountDirectory reads the platform's wallets and Nest IDs
type AccountDirectory interface {
	GetWallet(ctx context.Context, id string) (*models.Wallet, error)
	GetNestID(ctx context.Context, id string) (*models.NestID, error)
}

// TransactionStore persists signing requests. Lookups return (nil, nil) when nothing matches.
type TransactionStore interface {
	Create(ctx context.Context, tx *models.Transaction) error
	GetByTransactionID(ctx context.Context, transactionID string) (*models.Transaction, error)
	List(ctx context.Context, filter models.TransactionFilter) ([]*models.Transaction, int, error)
	// TransitionStatus moves a request from -> to only if its stored status is still
	// from. It reports false when another caller changed the status first.
	TransitionStatus(ctx context.Context, transactionID string, from, to models.TransactionStatus, upd models.TransactionUpdate) (bool, error)
	// ReclaimSigning takes over a signing claim last touched before staleBefore by
	// stamping it with at. It reports false when the claim is fresh or no longer signing.
	ReclaimSigning(ctx context.Context, transactionID string, staleBefore, at time.Time) (bool, error)
}

// SignRequest is what the relay asks the wallet signer to sign
type SignRequest struct {
	IdempotencyKey string          `json:"idempotencyKey"` // Public transaction id
	WalletID       string          `json:"walletId"`
	RequestType    string          `json:"requestType"`
	Payload        json.RawMessage `json:"payload"`
	Gasless        bool            `json:"gasless"`
}

// WalletSigner produces signatures with a custodial wallet. The relay never sees keys.
type WalletSigner interface {
	Sign(ctx context.Context, req SignRequest) (string, error)
}
