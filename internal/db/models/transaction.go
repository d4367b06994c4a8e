// Package models - transaction.go defines the signing request record a DApp creates
// and the owning user approves or rejects.
package models

import (
	"encoding/json"
	"time"
)

// TransactionStatus is the state of a signing request
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusSigning   TransactionStatus = "signing" // Claimed by a signer call in flight
	TransactionStatusApproved  TransactionStatus = "approved"
	TransactionStatusRejected  TransactionStatus = "rejected"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// IsTerminal reports whether no further transition can leave the status
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case TransactionStatusRejected, TransactionStatusCompleted, TransactionStatusFailed:
		return true
	}
	return false
}

// HumanReadable is the user-facing description of a signing request
type HumanReadable struct {
	ActionType        string  `json:"actionType"`
	ActionDescription string  `json:"actionDescription"`
	Amount            *string `json:"amount,omitempty"`
	AssetType         *string `json:"assetType,omitempty"`
	Recipient         *string `json:"recipient,omitempty"`
}

// RiskAssessment is the heuristic harm score of a signing request
type RiskAssessment struct {
	Score   int      `json:"score"` // 0-100
	Factors []string `json:"factors"`
}

// Transaction is one request to sign a message or on-chain transaction
type Transaction struct {
	ID              string
	TransactionID   string // Public id shared with the DApp and the user
	ConnectionID    string
	UserID          string
	WalletID        string
	RequestType     string
	RequestData     json.RawMessage // JSONB: raw payload as sent by the DApp
	HumanReadable   HumanReadable   // JSONB
	Risk            RiskAssessment  // risk_score + risk_factors JSONB
	Gasless         bool
	Status          TransactionStatus
	Signature       *string
	ErrorMessage    *string
	RejectionReason *string
	AutoApproved    bool
	TxHash          *string
	BlockNumber     *int64
	RequestedAt     time.Time
	ExpiresAt       time.Time
	RespondedAt     *time.Time
	CompletedAt     *time.Time
	UpdatedAt       time.Time
}

// IsExpired reports whether the request deadline has passed at now
func (t *Transaction) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// TransactionUpdate carries the columns written alongside a status transition.
// Nil fields keep their stored value.
type TransactionUpdate struct {
	Signature       *string
	ErrorMessage    *string
	RejectionReason *string
	AutoApproved    *bool
	TxHash          *string
	BlockNumber     *int64
	RespondedAt     *time.Time
	CompletedAt     *time.Time
}

// TransactionFilter narrows owner listings
type TransactionFilter struct {
	UserID string
	Status *TransactionStatus
	Limit  int
	Offset int
}
