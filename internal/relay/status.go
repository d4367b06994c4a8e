package relay

import "github.com/deabakjj/MYCREATA1-sub001/internal/db/models"

// transitions is the signing-request state machine. A status missing from the map
// is terminal.
//
//	pending  -> signing   (approval claimed, signer call in flight)
//	pending  -> rejected
//	signing  -> approved
//	signing  -> pending   (signer failed; request stays retryable)
//	signing  -> rejected  (only after taking over a stale claim)
//	approved -> completed | failed
//
// A stale signing claim is taken over in place through TransactionStore.ReclaimSigning
// rather than through this table.
var transitions = map[models.TransactionStatus][]models.TransactionStatus{
	models.TransactionStatusPending: {models.TransactionStatusSigning, models.TransactionStatusRejected},
	models.TransactionStatusSigning: {
		models.TransactionStatusApproved, models.TransactionStatusPending, models.TransactionStatusRejected,
	},
	models.TransactionStatusApproved: {models.TransactionStatusCompleted, models.TransactionStatusFailed},
}

// CanTransition reports whether the state machine allows from -> to
func CanTransition(from, to models.TransactionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ParseTransactionStatus validates a status filter value
func ParseTransactionStatus(s string) (models.TransactionStatus, error) {
	switch st := models.TransactionStatus(s); st {
	case models.TransactionStatusPending, models.TransactionStatusSigning, models.TransactionStatusApproved,
		models.TransactionStatusRejected, models.TransactionStatusCompleted, models.TransactionStatusFailed:
		return st, nil
	}
	return "", validationError("unknown transaction status %q", s)
}
