// Package models - audit_log.go defines the AuditLog model for recording relay actions,
// capturing actor, action, affected connection or transaction, client IP, and metadata.
package models

import "time"

// AuditLog represents an audit log entry for tracking relay actions
type AuditLog struct {
	ID           string
	UserID       *string                // Nil for DApp-initiated actions
	Action       string                 // "connection.revoked", "transaction.approved"
	ResourceType *string                // "connection", "transaction"
	ResourceID   *string                // Connection id or public transaction id
	Metadata     map[string]interface{} // JSONB: additional context
	IPAddress    *string                // Client IP
	CreatedAt    time.Time
}
