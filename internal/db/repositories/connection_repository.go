// connection_repository.go implements ConnectionRepository, the PostgreSQL store for DApp
// connections. Status and refresh-token changes are conditional updates so concurrent
// revokes and refreshes never overwrite each other.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/deabakjj/MYCREATA1-sub001/internal/db/models"
	"github.com/deabakjj/MYCREATA1-sub001/internal/relay"
)

const uniqueViolation = "23505"

const connectionColumns = `
	id, connection_key, user_id, nest_id_id, wallet_id,
	dapp_name, dapp_domain, dapp_logo_url, dapp_registered,
	status, permissions,
	session_nonce, session_expires_at,
	refresh_token_prefix, refresh_token_hash, refresh_token_expires_at,
	previous_refresh_prefix, previous_refresh_hash, refresh_rotated_at,
	usage_count, last_used_at, last_used_ip, revoked_at, created_at, updated_at`

// ConnectionRepository handles DApp connection database operations
type ConnectionRepository struct {
	db *sql.DB
}

var _ relay.ConnectionStore = (*ConnectionRepository)(nil)

// NewConnectionRepository creates a new ConnectionRepository
func NewConnectionRepository(db *sql.DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConnection(row rowScanner) (*models.Connection, error) {
	c := &models.Connection{}
	var status string
	var permsJSON []byte

	err := row.Scan(
		&c.ID, &c.ConnectionKey, &c.UserID, &c.NestIDID, &c.WalletID,
		&c.DApp.Name, &c.DApp.Domain, &c.DApp.LogoURL, &c.DApp.Registered,
		&status, &permsJSON,
		&c.Session.Nonce, &c.Session.ExpiresAt,
		&c.Session.RefreshTokenPrefix, &c.Session.RefreshTokenHash, &c.Session.RefreshTokenExpiresAt,
		&c.Session.PreviousRefreshPrefix, &c.Session.PreviousRefreshHash, &c.Session.RefreshRotatedAt,
		&c.UsageCount, &c.LastUsedAt, &c.LastUsedIP, &c.RevokedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Status = models.ConnectionStatus(status)
	if len(permsJSON) > 0 {
		if err := json.Unmarshal(permsJSON, &c.Permissions); err != nil {
			return nil, fmt.Errorf("failed to decode permissions of connection %s: %w", c.ID, err)
		}
	}
	return c, nil
}

func (r *ConnectionRepository) getOne(ctx context.Context, query string, args ...interface{}) (*models.Connection, error) {
	c, err := scanConnection(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *ConnectionRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Connection, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conns := make([]*models.Connection, 0)
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

// Create inserts a new connection. It returns relay.ErrDuplicateConnection when an active
// connection already exists for the same user and domain.
func (r *ConnectionRepository) Create(ctx context.Context, conn *models.Connection) error {
	permsJSON, err := json.Marshal(conn.Permissions)
	if err != nil {
		return fmt.Errorf("failed to encode permissions: %w", err)
	}

	query := `
		INSERT INTO dapp_connections (` + connectionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		        $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
	`
	_, err = r.db.ExecContext(ctx, query,
		conn.ID, conn.ConnectionKey, conn.UserID, conn.NestIDID, conn.WalletID,
		conn.DApp.Name, conn.DApp.Domain, conn.DApp.LogoURL, conn.DApp.Registered,
		string(conn.Status), permsJSON,
		conn.Session.Nonce, conn.Session.ExpiresAt,
		conn.Session.RefreshTokenPrefix, conn.Session.RefreshTokenHash, conn.Session.RefreshTokenExpiresAt,
		conn.Session.PreviousRefreshPrefix, conn.Session.PreviousRefreshHash, conn.Session.RefreshRotatedAt,
		conn.UsageCount, conn.LastUsedAt, conn.LastUsedIP, conn.RevokedAt, conn.CreatedAt, conn.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return relay.ErrDuplicateConnection
		}
		return fmt.Errorf("failed to insert connection: %w", err)
	}
	return nil
}

// GetByID retrieves a connection by its internal id
func (r *ConnectionRepository) GetByID(ctx context.Context, id string) (*models.Connection, error) {
	return r.getOne(ctx, `SELECT `+connectionColumns+` FROM dapp_connections WHERE id = $1`, id)
}

// GetByKey retrieves a connection by its DApp-held key, whatever its status
func (r *ConnectionRepository) GetByKey(ctx context.Context, key string) (*models.Connection, error) {
	return r.getOne(ctx, `SELECT `+connectionColumns+` FROM dapp_connections WHERE connection_key = $1`, key)
}

// GetActiveByUserDomain retrieves the active connection of a user for a DApp domain
func (r *ConnectionRepository) GetActiveByUserDomain(ctx context.Context, userID, domain string) (*models.Connection, error) {
	return r.getOne(ctx, `SELECT `+connectionColumns+`
		FROM dapp_connections
		WHERE user_id = $1 AND dapp_domain = $2 AND status = 'active'`, userID, domain)
}

// ListByUser lists every connection of a user, newest first
func (r *ConnectionRepository) ListByUser(ctx context.Context, userID string) ([]*models.Connection, error) {
	return r.list(ctx, `SELECT `+connectionColumns+`
		FROM dapp_connections
		WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
}

// FindByRefreshPrefix lists connections whose current or previous refresh token has prefix
func (r *ConnectionRepository) FindByRefreshPrefix(ctx context.Context, prefix string) ([]*models.Connection, error) {
	return r.list(ctx, `SELECT `+connectionColumns+`
		FROM dapp_connections
		WHERE refresh_token_prefix = $1 OR previous_refresh_prefix = $1`, prefix)
}

// UpdateSession stores renewed session material, permissions and account references.
// Returns false when the connection is not active.
func (r *ConnectionRepository) UpdateSession(ctx context.Context, conn *models.Connection) (bool, error) {
	permsJSON, err := json.Marshal(conn.Permissions)
	if err != nil {
		return false, fmt.Errorf("failed to encode permissions: %w", err)
	}

	query := `
		UPDATE dapp_connections SET
			nest_id_id = $2,
			wallet_id = $3,
			dapp_name = $4,
			dapp_logo_url = $5,
			dapp_registered = $6,
			permissions = $7,
			session_nonce = $8,
			session_expires_at = $9,
			refresh_token_prefix = $10,
			refresh_token_hash = $11,
			refresh_token_expires_at = $12,
			previous_refresh_prefix = NULL,
			previous_refresh_hash = NULL,
			refresh_rotated_at = NULL,
			updated_at = $13
		WHERE id = $1 AND status = 'active'
	`
	result, err := r.db.ExecContext(ctx, query,
		conn.ID, conn.NestIDID, conn.WalletID,
		conn.DApp.Name, conn.DApp.LogoURL, conn.DApp.Registered,
		permsJSON,
		conn.Session.Nonce, conn.Session.ExpiresAt,
		conn.Session.RefreshTokenPrefix, conn.Session.RefreshTokenHash, conn.Session.RefreshTokenExpiresAt,
		conn.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update connection session: %w", err)
	}
	return affectedOne(result)
}

// UpdatePermissions replaces the permissions of an active connection
func (r *ConnectionRepository) UpdatePermissions(ctx context.Context, id string, perms models.Permissions) (bool, error) {
	permsJSON, err := json.Marshal(perms)
	if err != nil {
		return false, fmt.Errorf("failed to encode permissions: %w", err)
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE dapp_connections SET permissions = $2, updated_at = $3
		WHERE id = $1 AND status = 'active'`,
		id, permsJSON, time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to update permissions: %w", err)
	}
	return affectedOne(result)
}

// Revoke marks a connection revoked. Already revoked connections keep their revoked_at.
func (r *ConnectionRepository) Revoke(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE dapp_connections SET status = 'revoked', revoked_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'active'`,
		id, at)
	if err != nil {
		return fmt.Errorf("failed to revoke connection: %w", err)
	}
	return nil
}

// RotateRefreshToken swaps in a new refresh token if the stored hash is still expectedHash
func (r *ConnectionRepository) RotateRefreshToken(ctx context.Context, id, expectedHash, prefix, hash string, expiresAt, rotatedAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE dapp_connections SET
			previous_refresh_prefix = refresh_token_prefix,
			previous_refresh_hash = refresh_token_hash,
			refresh_rotated_at = $5,
			refresh_token_prefix = $3,
			refresh_token_hash = $4,
			refresh_token_expires_at = $6,
			updated_at = $5
		WHERE id = $1 AND refresh_token_hash = $2 AND status = 'active'`,
		id, expectedHash, prefix, hash, rotatedAt, expiresAt)
	if err != nil {
		return false, fmt.Errorf("failed to rotate refresh token: %w", err)
	}
	return affectedOne(result)
}

// RecordUsage bumps the usage counter and last-use metadata
func (r *ConnectionRepository) RecordUsage(ctx context.Context, id, ip string, at time.Time) error {
	var lastIP *string
	if ip != "" {
		lastIP = &ip
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE dapp_connections SET
			usage_count = usage_count + 1,
			last_used_at = $2,
			last_used_ip = COALESCE($3, last_used_ip)
		WHERE id = $1`,
		id, at, lastIP)
	if err != nil {
		return fmt.Errorf("failed to record connection usage: %w", err)
	}
	return nil
}

func affectedOne(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
