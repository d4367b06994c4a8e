package models

import "time"

// Wallet is a custodial wallet owned by a platform user
type Wallet struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Address   string    `db:"address"`
	ChainID   int64     `db:"chain_id"`
	CreatedAt time.Time `db:"created_at"`
}

// NestID is a human-readable name mapped to a wallet
type NestID struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	WalletID  *string   `db:"wallet_id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
}
