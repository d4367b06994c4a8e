// account_repository.go implements AccountRepository, a read-only view of the platform's
// wallets and Nest IDs used to check connection ownership.
package repositories

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/deabakjj/MYCREATA1-sub001/internal/db/models"
	"github.com/deabakjj/MYCREATA1-sub001/internal/relay"
)

// AccountRepository reads wallets and Nest IDs
type AccountRepository struct {
	db *sqlx.DB
}

var _ relay.AccountDirectory = (*AccountRepository)(nil)

// NewAccountRepository creates a new AccountRepository
func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// GetWallet retrieves a wallet by id
func (r *AccountRepository) GetWallet(ctx context.Context, id string) (*models.Wallet, error) {
	var w models.Wallet
	err := r.db.GetContext(ctx, &w, `
		SELECT id, user_id, address, chain_id, created_at
		FROM wallets WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetNestID retrieves a Nest ID by id
func (r *AccountRepository) GetNestID(ctx context.Context, id string) (*models.NestID, error) {
	var n models.NestID
	err := r.db.GetContext(ctx, &n, `
		SELECT id, user_id, wallet_id, name, created_at
		FROM nest_ids WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}
