package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/deabakjj/MYCREATA1-sub001/internal/db/models"
)

var transactionCols = []string{
	"id", "transaction_id", "connection_id", "user_id", "wallet_id",
	"request_type", "request_data", "human_readable", "risk_score", "risk_factors",
	"gasless", "status", "signature", "error_message", "rejection_reason", "auto_approved",
	"tx_hash", "block_number", "requested_at", "expires_at", "responded_at", "completed_at", "updated_at",
}

func newTransactionRepo(t *testing.T) (*TransactionRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewTransactionRepository(db), mock
}

func sampleTransactionRows(status string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(transactionCols).AddRow(
		"uuid-1", "tx_abc", "conn-1", "user-1", "wallet-1",
		"signTransaction", []byte(`{"to":"0x1111111111111111111111111111111111111111","value":"5"}`),
		[]byte(`{"actionType":"Send","actionDescription":"Send 5 to 0x1111...1111"}`),
		10, []byte(`["unknownRecipient"]`),
		false, status, nil, nil, nil, false,
		nil, nil, now, now.Add(10*time.Minute), nil, nil, now,
	)
}

func TestTransactionCreate(t *testing.T) {
	repo, mock := newTransactionRepo(t)
	mock.ExpectExec("INSERT INTO dapp_transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))

	tx := &models.Transaction{
		ID:            "uuid-1",
		TransactionID: "tx_abc",
		ConnectionID:  "conn-1",
		UserID:        "user-1",
		WalletID:      "wallet-1",
		RequestType:   "signMessage",
		RequestData:   json.RawMessage(`{"message":"hi"}`),
		HumanReadable: models.HumanReadable{ActionType: "Sign Message"},
		Status:        models.TransactionStatusPending,
		RequestedAt:   time.Now(),
		ExpiresAt:     time.Now().Add(time.Minute),
	}
	if err := repo.Create(context.Background(), tx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTransactionCreate_DBError(t *testing.T) {
	repo, mock := newTransactionRepo(t)
	mock.ExpectExec("INSERT INTO dapp_transactions").WillReturnError(errDB)

	err := repo.Create(context.Background(), &models.Transaction{RequestData: json.RawMessage(`{}`)})
	if !errors.Is(err, errDB) {
		t.Errorf("err = %v, want wrapped errDB", err)
	}
}

func TestTransactionGetByTransactionID_Found(t *testing.T) {
	repo, mock := newTransactionRepo(t)
	mock.ExpectQuery("SELECT .* FROM dapp_transactions WHERE transaction_id = \\$1").
		WithArgs("tx_abc").
		WillReturnRows(sampleTransactionRows("pending"))

	tx, err := repo.GetByTransactionID(context.Background(), "tx_abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx == nil {
		t.Fatal("expected transaction, got nil")
	}
	if tx.Status != models.TransactionStatusPending {
		t.Errorf("Status = %q", tx.Status)
	}
	if tx.HumanReadable.ActionType != "Send" {
		t.Errorf("ActionType = %q", tx.HumanReadable.ActionType)
	}
	if tx.Risk.Score != 10 || len(tx.Risk.Factors) != 1 || tx.Risk.Factors[0] != "unknownRecipient" {
		t.Errorf("Risk = %+v", tx.Risk)
	}
	if tx.Signature != nil {
		t.Errorf("Signature = %v, want nil", tx.Signature)
	}
}

func TestTransactionGetByTransactionID_NotFound(t *testing.T) {
	repo, mock := newTransactionRepo(t)
	mock.ExpectQuery("SELECT .* FROM dapp_transactions").
		WillReturnRows(sqlmock.NewRows(transactionCols))

	tx, err := repo.GetByTransactionID(context.Background(), "tx_missing")
	if err != nil || tx != nil {
		t.Errorf("GetByTransactionID = %v, %v; want nil, nil", tx, err)
	}
}

func TestTransactionList_WithStatus(t *testing.T) {
	repo, mock := newTransactionRepo(t)
	status := models.TransactionStatusPending

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM dapp_transactions WHERE user_id = \\$1 AND status = \\$2").
		WithArgs("user-1", "pending").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery("ORDER BY requested_at DESC LIMIT \\$3 OFFSET \\$4").
		WithArgs("user-1", "pending", 5, 5).
		WillReturnRows(sampleTransactionRows("pending"))

	txs, total, err := repo.List(context.Background(), models.TransactionFilter{
		UserID: "user-1", Status: &status, Limit: 5, Offset: 5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 7 {
		t.Errorf("total = %d, want 7", total)
	}
	if len(txs) != 1 {
		t.Errorf("len = %d, want 1", len(txs))
	}
}

func TestTransactionList_DefaultLimit(t *testing.T) {
	repo, mock := newTransactionRepo(t)
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("LIMIT \\$2 OFFSET \\$3").
		WithArgs("user-1", 20, 0).
		WillReturnRows(sqlmock.NewRows(transactionCols))

	txs, total, err := repo.List(context.Background(), models.TransactionFilter{UserID: "user-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 0 || len(txs) != 0 {
		t.Errorf("List = %d items, total %d; want empty", len(txs), total)
	}
}

func TestTransactionList_CountError(t *testing.T) {
	repo, mock := newTransactionRepo(t)
	mock.ExpectQuery("SELECT COUNT").WillReturnError(errDB)

	if _, _, err := repo.List(context.Background(), models.TransactionFilter{UserID: "user-1"}); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// TransitionStatus
// ---------------------------------------------------------------------------

func TestTransitionStatus_ConditionedOnPriorStatus(t *testing.T) {
	repo, mock := newTransactionRepo(t)
	sig := "0xsig"
	auto := true
	now := time.Now()

	mock.ExpectExec("UPDATE dapp_transactions SET .* WHERE transaction_id = \\$1 AND status = \\$2").
		WithArgs("tx_abc", "signing", "approved", sig, nil, nil, auto, nil, nil, now, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.TransitionStatus(context.Background(), "tx_abc",
		models.TransactionStatusSigning, models.TransactionStatusApproved,
		models.TransactionUpdate{Signature: &sig, AutoApproved: &auto, RespondedAt: &now})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("ok = false, want true")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestTransitionStatus_LostRace(t *testing.T) {
	repo, mock := newTransactionRepo(t)
	mock.ExpectExec("UPDATE dapp_transactions").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.TransitionStatus(context.Background(), "tx_abc",
		models.TransactionStatusPending, models.TransactionStatusRejected, models.TransactionUpdate{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("ok = true, want false when the prior status no longer matches")
	}
}

func TestTransitionStatus_DBError(t *testing.T) {
	repo, mock := newTransactionRepo(t)
	mock.ExpectExec("UPDATE dapp_transactions").WillReturnError(errDB)

	_, err := repo.TransitionStatus(context.Background(), "tx_abc",
		models.TransactionStatusPending, models.TransactionStatusRejected, models.TransactionUpdate{})
	if !errors.Is(err, errDB) {
		t.Errorf("err = %v, want wrapped errDB", err)
	}
}

// ---------------------------------------------------------------------------
// ReclaimSigning
// ---------------------------------------------------------------------------

func TestReclaimSigning(t *testing.T) {
	staleBefore := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	at := staleBefore.Add(30 * time.Second)

	tests := []struct {
		name     string
		affected int64
		execErr  error
		wantOK   bool
		wantErr  bool
	}{
		{name: "stale claim taken over", affected: 1, wantOK: true},
		{name: "claim still fresh", affected: 0},
		{name: "database error", execErr: errDB, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newTransactionRepo(t)
			exec := mock.ExpectExec("UPDATE dapp_transactions SET updated_at = \\$4 WHERE transaction_id = \\$1 AND status = \\$2 AND updated_at < \\$3").
				WithArgs("tx_abc", "signing", staleBefore, at)
			if tt.execErr != nil {
				exec.WillReturnError(tt.execErr)
			} else {
				exec.WillReturnResult(sqlmock.NewResult(0, tt.affected))
			}

			ok, err := repo.ReclaimSigning(context.Background(), "tx_abc", staleBefore, at)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ReclaimSigning() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, errDB) {
				t.Errorf("err = %v, want wrapped errDB", err)
			}
			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v", ok, tt.wantOK)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Error(err)
			}
		})
	}
}
