package relay

import (
	"github.com/deabakjj/MYCREATA1-sub001/internal/db/models"
)

// AutoApproveMaxScore is the highest risk score that may be signed unattended
const AutoApproveMaxScore = 30

// CanAutoApprove reports whether a request may be signed without the user.
// The autoSign grant, the score threshold and the amount cap must all pass.
func CanAutoApprove(perms models.Permissions, req SigningRequest, risk models.RiskAssessment) bool {
	if !perms.AutoSign {
		return false
	}
	if risk.Score > AutoApproveMaxScore {
		return false
	}

	tx, ok := req.(*TransactionRequest)
	if !ok || tx.Value == "" {
		return true
	}

	value, err := ParseAmount(string(tx.Value))
	if err != nil {
		return false
	}
	limit := "0"
	if perms.AutoSignMaxAmount != "" {
		limit = string(perms.AutoSignMaxAmount)
	}
	maxAmount, err := ParseAmount(limit)
	if err != nil {
		return false
	}
	return value.Cmp(maxAmount) <= 0
}
