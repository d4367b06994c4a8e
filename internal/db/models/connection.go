// Package models defines the database model types for the DApp relay.
// Each type corresponds to a database table. Models are pure data types: business logic
// belongs in the relay package and query logic belongs in the repositories layer.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ConnectionStatus is the lifecycle state of a DApp connection
type ConnectionStatus string

const (
	ConnectionStatusActive  ConnectionStatus = "active"
	ConnectionStatusRevoked ConnectionStatus = "revoked"
)

// DAppInfo describes the external application a connection was granted to
type DAppInfo struct {
	Name       string
	Domain     string  // Registered host, e.g. "app.example.com"
	LogoURL    *string // Optional
	Registered bool    // Listed in the platform's DApp directory
}

// Amount is a decimal or 0x-hex quantity. It accepts either a JSON number or a JSON
// string so that DApps can send autoSignMaxAmount as 1, 1.5 or "0xde0b6b3a7640000".
type Amount string

// UnmarshalJSON implements json.Unmarshaler
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Amount(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("amount must be a number or string: %w", err)
	}
	*a = Amount(n.String())
	return nil
}

// Permissions are the capability flags granted to a connection.
// Stored as JSONB in dapp_connections.permissions.
type Permissions struct {
	ReadNestID        bool   `json:"readNestId"`
	ReadWalletAddress bool   `json:"readWalletAddress"`
	ReadWalletBalance bool   `json:"readWalletBalance"`
	RequestSignature  bool   `json:"requestSignature"`
	AutoSign          bool   `json:"autoSign"`
	AutoSignMaxAmount Amount `json:"autoSignMaxAmount"`
	UseGasless        bool   `json:"useGasless"`
	ReadUserProfile   bool   `json:"readUserProfile"`
}

// PermissionsPatch is a partial permission update. Nil fields are left unchanged.
type PermissionsPatch struct {
	ReadNestID        *bool   `json:"readNestId"`
	ReadWalletAddress *bool   `json:"readWalletAddress"`
	ReadWalletBalance *bool   `json:"readWalletBalance"`
	RequestSignature  *bool   `json:"requestSignature"`
	AutoSign          *bool   `json:"autoSign"`
	AutoSignMaxAmount *Amount `json:"autoSignMaxAmount"`
	UseGasless        *bool   `json:"useGasless"`
	ReadUserProfile   *bool   `json:"readUserProfile"`
}

// Apply returns p with every non-nil field of the patch copied over it
func (patch PermissionsPatch) Apply(p Permissions) Permissions {
	setBool := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	setBool(&p.ReadNestID, patch.ReadNestID)
	setBool(&p.ReadWalletAddress, patch.ReadWalletAddress)
	setBool(&p.ReadWalletBalance, patch.ReadWalletBalance)
	setBool(&p.RequestSignature, patch.RequestSignature)
	setBool(&p.AutoSign, patch.AutoSign)
	setBool(&p.UseGasless, patch.UseGasless)
	setBool(&p.ReadUserProfile, patch.ReadUserProfile)
	if patch.AutoSignMaxAmount != nil {
		p.AutoSignMaxAmount = *patch.AutoSignMaxAmount
	}
	return p
}

// ConnectionSession holds the token material of a connection.
// Nonce is embedded in every access token; rotating it invalidates tokens issued earlier.
type ConnectionSession struct {
	Nonce                 string
	ExpiresAt             time.Time
	RefreshTokenPrefix    string // Indexed lookup prefix of the current refresh token
	RefreshTokenHash      string // Bcrypt hash of the current refresh token
	RefreshTokenExpiresAt time.Time
	PreviousRefreshPrefix *string // Previous token, accepted for a short grace window after rotation
	PreviousRefreshHash   *string
	RefreshRotatedAt      *time.Time
}

// Connection is an authorization grant from one user's Nest ID and wallet to one DApp
type Connection struct {
	ID            string
	ConnectionKey string // Opaque key shared with the DApp
	UserID        string
	NestIDID      string
	WalletID      string
	DApp          DAppInfo
	Status        ConnectionStatus
	Permissions   Permissions
	Session       ConnectionSession
	UsageCount    int64
	LastUsedAt    *time.Time
	LastUsedIP    *string
	RevokedAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsUsable reports whether the connection is active and its session has not expired at now
func (c *Connection) IsUsable(now time.Time) bool {
	return c.Status == ConnectionStatusActive && now.Before(c.Session.ExpiresAt)
}
