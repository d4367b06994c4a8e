package audit

// Relay actions recorded in the audit log
const (
	ActionConnectionCreated            = "connection.created"
	ActionConnectionRenewed            = "connection.renewed"
	ActionConnectionRevoked            = "connection.revoked"
	ActionConnectionPermissionsUpdated = "connection.permissions_updated"

	ActionTransactionRequested = "transaction.requested"
	ActionTransactionApproved  = "transaction.approved"
	ActionTransactionRejected  = "transaction.rejected"
	ActionTransactionCompleted = "transaction.completed"
	ActionTransactionFailed    = "transaction.failed"
)

// Resource types recorded in the audit log
const (
	ResourceConnection  = "connection"
	ResourceTransaction = "transaction"
)
