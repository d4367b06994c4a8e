package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

func newAccountRepo(t *testing.T) (*AccountRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAccountRepository(sqlx.NewDb(db, "sqlmock")), mock
}

func TestGetWallet_Found(t *testing.T) {
	repo, mock := newAccountRepo(t)
	mock.ExpectQuery("SELECT id, user_id, address, chain_id, created_at\\s+FROM wallets WHERE id = \\$1").
		WithArgs("wallet-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "address", "chain_id", "created_at"}).
			AddRow("wallet-1", "user-1", "0x1111111111111111111111111111111111111111", int64(1), time.Now()))

	w, err := repo.GetWallet(context.Background(), "wallet-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w == nil || w.UserID != "user-1" || w.ChainID != 1 {
		t.Errorf("GetWallet = %+v", w)
	}
}

func TestGetWallet_NotFound(t *testing.T) {
	repo, mock := newAccountRepo(t)
	mock.ExpectQuery("FROM wallets").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "address", "chain_id", "created_at"}))

	w, err := repo.GetWallet(context.Background(), "missing")
	if err != nil || w != nil {
		t.Errorf("GetWallet = %v, %v; want nil, nil", w, err)
	}
}

func TestGetNestID_Found(t *testing.T) {
	repo, mock := newAccountRepo(t)
	mock.ExpectQuery("FROM nest_ids WHERE id = \\$1").
		WithArgs("nest-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "wallet_id", "name", "created_at"}).
			AddRow("nest-1", "user-1", nil, "alice.nest", time.Now()))

	n, err := repo.GetNestID(context.Background(), "nest-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n == nil || n.Name != "alice.nest" || n.WalletID != nil {
		t.Errorf("GetNestID = %+v", n)
	}
}

func TestGetNestID_Error(t *testing.T) {
	repo, mock := newAccountRepo(t)
	mock.ExpectQuery("FROM nest_ids").WillReturnError(errDB)

	if _, err := repo.GetNestID(context.Background(), "nest-1"); err == nil {
		t.Error("expected error, got nil")
	}
}
