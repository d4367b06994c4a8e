// Package auth - tokens.go issues and verifies the access and refresh tokens a
// DApp holds for one connection.
package auth

import (
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/deabakjj/MYCREATA1-sub001/internal/db/models"
)

const (
	// TokenIssuerName is the iss claim of connection access tokens
	TokenIssuerName = "dapp-relay"

	// DefaultAccessTokenTTL is the lifetime of a connection access token
	DefaultAccessTokenTTL = time.Hour

	// DefaultRefreshTokenTTL is the lifetime of a connection refresh token
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
)

// ConnectionClaims are the claims embedded in a connection access token
type ConnectionClaims struct {
	ConnectionID string             `json:"connection_id"`
	Domain       string             `json:"domain"`
	Permissions  models.Permissions `json:"permissions"`
	SessionNonce string             `json:"sid"`
	jwt.RegisteredClaims
}

// RefreshToken is a freshly minted refresh secret and the values persisted for it
type RefreshToken struct {
	Token     string // Returned to the DApp once
	Prefix    string
	Hash      string
	ExpiresAt time.Time
}

// TokenIssuer mints and verifies connection-scoped tokens
type TokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenIssuer creates an issuer signing with secret. Zero TTLs select the defaults.
func NewTokenIssuer(secret string, accessTTL, refreshTTL time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if len(secret) < MinSecretLength {
		slog.Warn("auth.connection_token_secret is shorter than recommended", "min_length", MinSecretLength)
	}
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTokenTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTokenTTL
	}
	return &TokenIssuer{secret: []byte(secret), accessTTL: accessTTL, refreshTTL: refreshTTL, now: time.Now}, nil
}

// WithClock replaces the issuer's time source. Intended for tests.
func (ti *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	ti.now = now
	return ti
}

// RefreshTTL returns the default refresh token lifetime
func (ti *TokenIssuer) RefreshTTL() time.Duration { return ti.refreshTTL }

// IssueAccessToken signs an access token for conn.
// The token never outlives the connection session.
func (ti *TokenIssuer) IssueAccessToken(conn *models.Connection) (string, time.Time, error) {
	now := ti.now()
	expiresAt := now.Add(ti.accessTTL)
	if !conn.Session.ExpiresAt.IsZero() && conn.Session.ExpiresAt.Before(expiresAt) {
		expiresAt = conn.Session.ExpiresAt
	}

	claims := &ConnectionClaims{
		ConnectionID: conn.ID,
		Domain:       conn.DApp.Domain,
		Permissions:  conn.Permissions,
		SessionNonce: conn.Session.Nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    TokenIssuerName,
			Subject:   conn.ID,
		},
	}

	token, err := signHS256(claims, ti.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// VerifyAccessToken checks the signature and expiry of an access token.
// It does not consult connection state; callers must re-check the connection.
func (ti *TokenIssuer) VerifyAccessToken(tokenString string) (*ConnectionClaims, error) {
	claims := &ConnectionClaims{}
	err := parseHS256(tokenString, claims, ti.secret,
		jwt.WithIssuer(TokenIssuerName),
		jwt.WithTimeFunc(ti.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if claims.ConnectionID == "" {
		return nil, errors.New("token has no connection_id claim")
	}
	return claims, nil
}

// IssueRefreshToken mints a new refresh secret valid for the issuer's refresh TTL
func (ti *TokenIssuer) IssueRefreshToken() (*RefreshToken, error) {
	token, hash, prefix, err := GenerateSecret(RefreshTokenPrefix)
	if err != nil {
		return nil, err
	}
	return &RefreshToken{
		Token:     token,
		Prefix:    prefix,
		Hash:      hash,
		ExpiresAt: ti.now().Add(ti.refreshTTL),
	}, nil
}

// NewSessionNonce returns fresh per-session signing material
func NewSessionNonce() (string, error) {
	return GenerateOpaqueID("sn", 16)
}
