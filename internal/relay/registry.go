package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/deabakjj/MYCREATA1-sub001/internal/auth"
	"github.com/deabakjj/MYCREATA1-sub001/internal/db/models"
	"github.com/deabakjj/MYCREATA1-sub001/internal/telemetry"
)

const (
	// DefaultConnectionTTL is the session lifetime used when the caller gives none
	DefaultConnectionTTL = 30 * 24 * time.Hour

	// DefaultRefreshGrace is how long a rotated refresh token stays accepted
	DefaultRefreshGrace = 30 * time.Second

	// MaxConnectionTTL bounds caller-supplied session lifetimes
	MaxConnectionTTL = 365 * 24 * time.Hour

	connectionKeyBytes = 24
)

// RegistryConfig tunes a ConnectionRegistry. Zero values select the defaults.
type RegistryConfig struct {
	DefaultTTL   time.Duration
	RefreshGrace time.Duration
}

// ConnectionRegistry owns the Connection lifecycle
type ConnectionRegistry struct {
	store        ConnectionStore
	accounts     AccountDirectory
	tokens       *auth.TokenIssuer
	defaultTTL   time.Duration
	refreshGrace time.Duration
	now          func() time.Time
}

// NewConnectionRegistry creates a registry over the given stores and token issuer
func NewConnectionRegistry(store ConnectionStore, accounts AccountDirectory, tokens *auth.TokenIssuer, cfg RegistryConfig) *ConnectionRegistry {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultConnectionTTL
	}
	if cfg.RefreshGrace <= 0 {
		cfg.RefreshGrace = DefaultRefreshGrace
	}
	return &ConnectionRegistry{
		store:        store,
		accounts:     accounts,
		tokens:       tokens,
		defaultTTL:   cfg.DefaultTTL,
		refreshGrace: cfg.RefreshGrace,
		now:          time.Now,
	}
}

// WithClock replaces the registry's time source. Intended for tests.
func (r *ConnectionRegistry) WithClock(now func() time.Time) *ConnectionRegistry {
	r.now = now
	r.tokens.WithClock(now)
	return r
}

// CreateConnectionInput is the owner's request to grant a DApp access
type CreateConnectionInput struct {
	UserID      string
	NestIDID    string
	WalletID    string
	DApp        models.DAppInfo
	Permissions models.PermissionsPatch
	TTL         time.Duration // Zero selects the registry default
}

// IssuedConnection is a connection together with freshly minted tokens.
// RefreshToken is empty when a refresh was served from the grace window.
type IssuedConnection struct {
	Connection           *models.Connection
	AccessToken          string
	AccessTokenExpiresAt time.Time
	RefreshToken         string
	IsNew                bool
}

// Create grants a DApp access to the caller's Nest ID and wallet. An active
// connection for the same user and domain is renewed with merged permissions
// instead of duplicated.
func (r *ConnectionRegistry) Create(ctx context.Context, in CreateConnectionInput) (issued *IssuedConnection, err error) {
	defer func() { telemetry.ObserveConnectionOp("create", err) }()

	if in.UserID == "" {
		return nil, validationError("user id is required")
	}
	if in.NestIDID == "" || in.WalletID == "" {
		return nil, validationError("nestIdId and walletId are required")
	}
	if in.DApp.Name == "" {
		return nil, validationError("dapp name is required")
	}
	domain := NormalizeHost(in.DApp.Domain)
	if domain == "" {
		return nil, validationError("dapp domain is invalid")
	}
	ttl, err := r.resolveTTL(in.TTL)
	if err != nil {
		return nil, err
	}
	if err := validatePatch(in.Permissions); err != nil {
		return nil, err
	}
	if err := r.checkOwnership(ctx, in.UserID, in.NestIDID, in.WalletID); err != nil {
		return nil, err
	}

	dapp := in.DApp
	dapp.Domain = domain

	existing, err := r.store.GetActiveByUserDomain(ctx, in.UserID, domain)
	if err != nil {
		return nil, internalError("failed to look up connection", err)
	}
	if existing != nil {
		return r.renewExisting(ctx, existing, in, dapp, ttl)
	}

	key, err := auth.GenerateOpaqueID(auth.ConnectionKeyPrefix, connectionKeyBytes)
	if err != nil {
		return nil, internalError("failed to generate connection key", err)
	}
	now := r.now()
	conn := &models.Connection{
		ID:            uuid.New().String(),
		ConnectionKey: key,
		UserID:        in.UserID,
		NestIDID:      in.NestIDID,
		WalletID:      in.WalletID,
		DApp:          dapp,
		Status:        models.ConnectionStatusActive,
		Permissions:   in.Permissions.Apply(models.Permissions{}),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	refresh, err := r.newSession(conn, ttl)
	if err != nil {
		return nil, err
	}

	if err := r.store.Create(ctx, conn); err != nil {
		if errors.Is(err, ErrDuplicateConnection) {
			// Lost a race with a concurrent create for the same domain.
			existing, lookupErr := r.store.GetActiveByUserDomain(ctx, in.UserID, domain)
			if lookupErr == nil && existing != nil {
				return r.renewExisting(ctx, existing, in, dapp, ttl)
			}
		}
		return nil, internalError("failed to create connection", err)
	}

	return r.issue(conn, refresh, true)
}

func (r *ConnectionRegistry) renewExisting(ctx context.Context, conn *models.Connection, in CreateConnectionInput, dapp models.DAppInfo, ttl time.Duration) (*IssuedConnection, error) {
	conn.NestIDID = in.NestIDID
	conn.WalletID = in.WalletID
	conn.DApp = dapp
	conn.Permissions = in.Permissions.Apply(conn.Permissions)

	refresh, err := r.newSession(conn, ttl)
	if err != nil {
		return nil, err
	}
	ok, err := r.store.UpdateSession(ctx, conn)
	if err != nil {
		return nil, internalError("failed to renew connection", err)
	}
	if !ok {
		return nil, stateConflictError("renew connection", string(models.ConnectionStatusRevoked))
	}
	return r.issue(conn, refresh, false)
}

// Get returns a connection owned by userID
func (r *ConnectionRegistry) Get(ctx context.Context, id, userID string) (*models.Connection, error) {
	conn, err := r.store.GetByID(ctx, id)
	if err != nil {
		return nil, internalError("failed to get connection", err)
	}
	if conn == nil {
		return nil, notFoundError("connection")
	}
	if conn.UserID != userID {
		return nil, authorizationError("connection belongs to another user")
	}
	return conn, nil
}

// GetByKey returns the active, unexpired connection for a DApp-held key.
// Revoked and expired connections are reported as not found.
func (r *ConnectionRegistry) GetByKey(ctx context.Context, key string) (*models.Connection, error) {
	if key == "" {
		return nil, validationError("connectionKey is required")
	}
	conn, err := r.store.GetByKey(ctx, key)
	if err != nil {
		return nil, internalError("failed to get connection", err)
	}
	if conn == nil || !conn.IsUsable(r.now()) {
		return nil, notFoundError("connection")
	}
	return conn, nil
}

// List returns every connection of userID, newest first
func (r *ConnectionRegistry) List(ctx context.Context, userID string) ([]*models.Connection, error) {
	conns, err := r.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, internalError("failed to list connections", err)
	}
	return conns, nil
}

// Renew extends an active connection's session and reissues both tokens
func (r *ConnectionRegistry) Renew(ctx context.Context, id, userID string, ttl time.Duration) (issued *IssuedConnection, err error) {
	defer func() { telemetry.ObserveConnectionOp("renew", err) }()

	ttl, err = r.resolveTTL(ttl)
	if err != nil {
		return nil, err
	}
	conn, err := r.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if conn.Status != models.ConnectionStatusActive {
		return nil, stateConflictError("renew connection", string(conn.Status))
	}

	refresh, err := r.newSession(conn, ttl)
	if err != nil {
		return nil, err
	}
	ok, err := r.store.UpdateSession(ctx, conn)
	if err != nil {
		return nil, internalError("failed to renew connection", err)
	}
	if !ok {
		return nil, stateConflictError("renew connection", string(models.ConnectionStatusRevoked))
	}
	return r.issue(conn, refresh, false)
}

// Revoke ends a connection. Revoking a revoked connection is a no-op.
func (r *ConnectionRegistry) Revoke(ctx context.Context, id, userID string) (conn *models.Connection, err error) {
	defer func() { telemetry.ObserveConnectionOp("revoke", err) }()

	conn, err = r.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if conn.Status == models.ConnectionStatusRevoked {
		return conn, nil
	}

	now := r.now()
	if err := r.store.Revoke(ctx, conn.ID, now); err != nil {
		return nil, internalError("failed to revoke connection", err)
	}
	conn.Status = models.ConnectionStatusRevoked
	conn.RevokedAt = &now
	conn.UpdatedAt = now
	return conn, nil
}

// UpdatePermissions shallow-merges patch into an active connection's permissions.
// Access tokens issued earlier keep their embedded permissions until they expire;
// the relay always checks the stored grant.
func (r *ConnectionRegistry) UpdatePermissions(ctx context.Context, id, userID string, patch models.PermissionsPatch) (conn *models.Connection, err error) {
	defer func() { telemetry.ObserveConnectionOp("permissions", err) }()

	if err := validatePatch(patch); err != nil {
		return nil, err
	}
	conn, err = r.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if conn.Status != models.ConnectionStatusActive {
		return nil, stateConflictError("update permissions", string(conn.Status))
	}

	perms := patch.Apply(conn.Permissions)
	ok, err := r.store.UpdatePermissions(ctx, conn.ID, perms)
	if err != nil {
		return nil, internalError("failed to update permissions", err)
	}
	if !ok {
		return nil, stateConflictError("update permissions", string(models.ConnectionStatusRevoked))
	}
	conn.Permissions = perms
	conn.UpdatedAt = r.now()
	return conn, nil
}

// VerifyAccessToken checks a DApp access token against current connection state and
// the calling origin, then records the use. Every failure is an authorization error.
func (r *ConnectionRegistry) VerifyAccessToken(ctx context.Context, token, originHost, ip string) (conn *models.Connection, err error) {
	defer func() { telemetry.ObserveConnectionOp("verify", err) }()

	if token == "" {
		return nil, validationError("token is required")
	}
	claims, err := r.tokens.VerifyAccessToken(token)
	if err != nil {
		return nil, authorizationError("invalid access token")
	}
	conn, err = r.store.GetByID(ctx, claims.ConnectionID)
	if err != nil {
		return nil, internalError("failed to get connection", err)
	}
	if conn == nil || !conn.IsUsable(r.now()) {
		return nil, authorizationError("connection is no longer active")
	}
	if claims.SessionNonce != conn.Session.Nonce {
		return nil, authorizationError("access token belongs to a previous session")
	}
	if claims.Domain != conn.DApp.Domain {
		return nil, authorizationError("access token was issued for another domain")
	}
	if err := ValidateOrigin(originHost, conn); err != nil {
		return nil, err
	}

	r.recordUsage(ctx, conn, ip)
	return conn, nil
}

// RefreshToken exchanges a refresh token for a new access token and rotates the
// refresh token. The token it replaced stays valid for the grace window, during
// which it yields an access token only. A token presented from another origin
// changes nothing.
func (r *ConnectionRegistry) RefreshToken(ctx context.Context, refreshToken, originHost, ip string) (issued *IssuedConnection, err error) {
	defer func() { telemetry.ObserveConnectionOp("refresh", err) }()

	if refreshToken == "" {
		return nil, validationError("refreshToken is required")
	}
	candidates, err := r.store.FindByRefreshPrefix(ctx, auth.LookupPrefix(refreshToken))
	if err != nil {
		return nil, internalError("failed to look up refresh token", err)
	}

	now := r.now()
	for _, conn := range candidates {
		current := conn.Session.RefreshTokenHash != "" && auth.ValidateSecret(refreshToken, conn.Session.RefreshTokenHash)
		previous := !current && r.withinGrace(conn, now) && auth.ValidateSecret(refreshToken, *conn.Session.PreviousRefreshHash)
		if !current && !previous {
			continue
		}

		if !conn.IsUsable(now) {
			return nil, authorizationError("connection is no longer active")
		}
		if current && !now.Before(conn.Session.RefreshTokenExpiresAt) {
			return nil, authorizationError("refresh token has expired")
		}
		if err := ValidateOrigin(originHost, conn); err != nil {
			return nil, err
		}
		r.recordUsage(ctx, conn, ip)

		if previous {
			return r.issue(conn, nil, false)
		}

		refresh, err := r.tokens.IssueRefreshToken()
		if err != nil {
			return nil, internalError("failed to issue refresh token", err)
		}
		if refresh.ExpiresAt.After(conn.Session.ExpiresAt) {
			refresh.ExpiresAt = conn.Session.ExpiresAt
		}
		rotated, err := r.store.RotateRefreshToken(ctx, conn.ID, conn.Session.RefreshTokenHash,
			refresh.Prefix, refresh.Hash, refresh.ExpiresAt, now)
		if err != nil {
			return nil, internalError("failed to rotate refresh token", err)
		}
		if !rotated {
			// A concurrent refresh rotated first; the presented token is now the
			// previous one.
			return r.issue(conn, nil, false)
		}

		prevPrefix, prevHash := conn.Session.RefreshTokenPrefix, conn.Session.RefreshTokenHash
		conn.Session.PreviousRefreshPrefix = &prevPrefix
		conn.Session.PreviousRefreshHash = &prevHash
		conn.Session.RefreshRotatedAt = &now
		conn.Session.RefreshTokenPrefix = refresh.Prefix
		conn.Session.RefreshTokenHash = refresh.Hash
		conn.Session.RefreshTokenExpiresAt = refresh.ExpiresAt
		return r.issue(conn, refresh, false)
	}

	return nil, authorizationError("invalid refresh token")
}

func (r *ConnectionRegistry) withinGrace(conn *models.Connection, now time.Time) bool {
	s := conn.Session
	return s.PreviousRefreshHash != nil && s.RefreshRotatedAt != nil &&
		now.Before(s.RefreshRotatedAt.Add(r.refreshGrace))
}

// newSession rotates the session nonce and refresh token of conn in place
func (r *ConnectionRegistry) newSession(conn *models.Connection, ttl time.Duration) (*auth.RefreshToken, error) {
	nonce, err := auth.NewSessionNonce()
	if err != nil {
		return nil, internalError("failed to generate session nonce", err)
	}
	refresh, err := r.tokens.IssueRefreshToken()
	if err != nil {
		return nil, internalError("failed to issue refresh token", err)
	}

	now := r.now()
	expiresAt := now.Add(ttl)
	if refresh.ExpiresAt.After(expiresAt) {
		refresh.ExpiresAt = expiresAt
	}
	conn.Session = models.ConnectionSession{
		Nonce:                 nonce,
		ExpiresAt:             expiresAt,
		RefreshTokenPrefix:    refresh.Prefix,
		RefreshTokenHash:      refresh.Hash,
		RefreshTokenExpiresAt: refresh.ExpiresAt,
	}
	conn.UpdatedAt = now
	return refresh, nil
}

func (r *ConnectionRegistry) issue(conn *models.Connection, refresh *auth.RefreshToken, isNew bool) (*IssuedConnection, error) {
	token, expiresAt, err := r.tokens.IssueAccessToken(conn)
	if err != nil {
		return nil, internalError("failed to issue access token", err)
	}
	out := &IssuedConnection{
		Connection:           conn,
		AccessToken:          token,
		AccessTokenExpiresAt: expiresAt,
		IsNew:                isNew,
	}
	if refresh != nil {
		out.RefreshToken = refresh.Token
	}
	return out, nil
}

func (r *ConnectionRegistry) recordUsage(ctx context.Context, conn *models.Connection, ip string) {
	now := r.now()
	if err := r.store.RecordUsage(ctx, conn.ID, ip, now); err != nil {
		slog.Warn("failed to record connection usage", "connection_id", conn.ID, "error", err)
		return
	}
	conn.UsageCount++
	conn.LastUsedAt = &now
	if ip != "" {
		conn.LastUsedIP = &ip
	}
}

func (r *ConnectionRegistry) checkOwnership(ctx context.Context, userID, nestIDID, walletID string) error {
	nest, err := r.accounts.GetNestID(ctx, nestIDID)
	if err != nil {
		return internalError("failed to get nest id", err)
	}
	if nest == nil {
		return notFoundError("nest id")
	}
	if nest.UserID != userID {
		return authorizationError("nest id belongs to another user")
	}

	wallet, err := r.accounts.GetWallet(ctx, walletID)
	if err != nil {
		return internalError("failed to get wallet", err)
	}
	if wallet == nil {
		return notFoundError("wallet")
	}
	if wallet.UserID != userID {
		return authorizationError("wallet belongs to another user")
	}
	return nil
}

func (r *ConnectionRegistry) resolveTTL(ttl time.Duration) (time.Duration, error) {
	switch {
	case ttl == 0:
		return r.defaultTTL, nil
	case ttl < 0:
		return 0, validationError("expiresIn must be positive")
	case ttl > MaxConnectionTTL:
		return 0, validationError("expiresIn must not exceed %s", MaxConnectionTTL)
	}
	return ttl, nil
}

func validatePatch(patch models.PermissionsPatch) error {
	if patch.AutoSignMaxAmount == nil || *patch.AutoSignMaxAmount == "" {
		return nil
	}
	if _, err := ParseAmount(string(*patch.AutoSignMaxAmount)); err != nil {
		return validationError("autoSignMaxAmount is invalid: %v", err)
	}
	return nil
}
