// transaction_repository.go implements TransactionRepository, the PostgreSQL store for
// DApp signing requests. Every status change goes through TransitionStatus, a single
// compare-and-set UPDATE keyed on the expected prior status.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deabakjj/MYCREATA1-sub001/internal/db/models"
	"github.com/deabakjj/MYCREATA1-sub001/internal/relay"
)

const transactionColumns = `
	id, transaction_id, connection_id, user_id, wallet_id,
	request_type, request_data, human_readable, risk_score, risk_factors,
	gasless, status, signature, error_message, rejection_reason, auto_approved,
	tx_hash, block_number, requested_at, expires_at, responded_at, completed_at, updated_at`

// TransactionRepository handles signing request database operations
type TransactionRepository struct {
	db *sql.DB
}

var _ relay.TransactionStore = (*TransactionRepository)(nil)

// NewTransactionRepository creates a new TransactionRepository
func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	tx := &models.Transaction{}
	var status string
	var requestData, humanJSON, factorsJSON []byte

	err := row.Scan(
		&tx.ID, &tx.TransactionID, &tx.ConnectionID, &tx.UserID, &tx.WalletID,
		&tx.RequestType, &requestData, &humanJSON, &tx.Risk.Score, &factorsJSON,
		&tx.Gasless, &status, &tx.Signature, &tx.ErrorMessage, &tx.RejectionReason, &tx.AutoApproved,
		&tx.TxHash, &tx.BlockNumber, &tx.RequestedAt, &tx.ExpiresAt, &tx.RespondedAt, &tx.CompletedAt, &tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.Status = models.TransactionStatus(status)
	tx.RequestData = json.RawMessage(requestData)
	if len(humanJSON) > 0 {
		if err := json.Unmarshal(humanJSON, &tx.HumanReadable); err != nil {
			return nil, fmt.Errorf("failed to decode human_readable of %s: %w", tx.TransactionID, err)
		}
	}
	tx.Risk.Factors = []string{}
	if len(factorsJSON) > 0 {
		if err := json.Unmarshal(factorsJSON, &tx.Risk.Factors); err != nil {
			return nil, fmt.Errorf("failed to decode risk_factors of %s: %w", tx.TransactionID, err)
		}
	}
	return tx, nil
}

// Create inserts a new signing request
func (r *TransactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	humanJSON, err := json.Marshal(tx.HumanReadable)
	if err != nil {
		return fmt.Errorf("failed to encode human_readable: %w", err)
	}
	factors := tx.Risk.Factors
	if factors == nil {
		factors = []string{}
	}
	factorsJSON, err := json.Marshal(factors)
	if err != nil {
		return fmt.Errorf("failed to encode risk_factors: %w", err)
	}

	query := `
		INSERT INTO dapp_transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		        $17, $18, $19, $20, $21, $22, $23)
	`
	_, err = r.db.ExecContext(ctx, query,
		tx.ID, tx.TransactionID, tx.ConnectionID, tx.UserID, tx.WalletID,
		tx.RequestType, []byte(tx.RequestData), humanJSON, tx.Risk.Score, factorsJSON,
		tx.Gasless, string(tx.Status), tx.Signature, tx.ErrorMessage, tx.RejectionReason, tx.AutoApproved,
		tx.TxHash, tx.BlockNumber, tx.RequestedAt, tx.ExpiresAt, tx.RespondedAt, tx.CompletedAt, tx.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// GetByTransactionID retrieves a signing request by its public id
func (r *TransactionRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.Transaction, error) {
	tx, err := scanTransaction(r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM dapp_transactions WHERE transaction_id = $1`, transactionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// List retrieves a user's signing requests, newest first, with the total match count
func (r *TransactionRepository) List(ctx context.Context, filter models.TransactionFilter) ([]*models.Transaction, int, error) {
	where := ` WHERE user_id = $1`
	args := []interface{}{filter.UserID}
	if filter.Status != nil {
		where += ` AND status = $2`
		args = append(args, string(*filter.Status))
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dapp_transactions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + transactionColumns + ` FROM dapp_transactions` + where +
		fmt.Sprintf(` ORDER BY requested_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	txs := make([]*models.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		txs = append(txs, tx)
	}
	return txs, total, rows.Err()
}

// TransitionStatus moves a request from one status to another only if its stored status
// is still from. Non-nil update fields are written in the same statement.
func (r *TransactionRepository) TransitionStatus(ctx context.Context, transactionID string, from, to models.TransactionStatus, upd models.TransactionUpdate) (bool, error) {
	query := `
		UPDATE dapp_transactions SET
			status = $3,
			signature = COALESCE($4, signature),
			error_message = COALESCE($5, error_message),
			rejection_reason = COALESCE($6, rejection_reason),
			auto_approved = COALESCE($7, auto_approved),
			tx_hash = COALESCE($8, tx_hash),
			block_number = COALESCE($9, block_number),
			responded_at = COALESCE($10, responded_at),
			completed_at = COALESCE($11, completed_at),
			updated_at = $12
		WHERE transaction_id = $1 AND status = $2
	`
	result, err := r.db.ExecContext(ctx, query,
		transactionID, string(from), string(to),
		upd.Signature, upd.ErrorMessage, upd.RejectionReason, upd.AutoApproved,
		upd.TxHash, upd.BlockNumber, upd.RespondedAt, upd.CompletedAt,
		time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update transaction status: %w", err)
	}
	return affectedOne(result)
}

// ReclaimSigning refreshes updated_at on a signing request whose claim went stale.
// The updated_at guard lets only one caller take the claim over.
func (r *TransactionRepository) ReclaimSigning(ctx context.Context, transactionID string, staleBefore, at time.Time) (bool, error) {
	query := `
		UPDATE dapp_transactions SET updated_at = $4
		WHERE transaction_id = $1 AND status = $2 AND updated_at < $3
	`
	result, err := r.db.ExecContext(ctx, query,
		transactionID, string(models.TransactionStatusSigning), staleBefore, at)
	if err != nil {
		return false, fmt.Errorf("failed to reclaim signing transaction: %w", err)
	}
	return affectedOne(result)
}
