package relay

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/deabakjj/MYCREATA1-sub001/internal/db/models"
)

// Risk factor names reported in models.RiskAssessment.Factors
const (
	FactorComplexCode      = "complexCode"
	FactorHighValue        = "highValue"
	FactorMediumValue      = "mediumValue"
	FactorUnknownRecipient = "unknownRecipient"
)

const (
	complexCodeBytes = 1000
	maxRiskScore     = 100
)

var (
	highValueThreshold   = big.NewRat(10000, 1)
	mediumValueThreshold = big.NewRat(1000, 1)
)

// DefaultTrustedRecipients are well-known mainnet contracts treated as known recipients
var DefaultTrustedRecipients = []string{
	"0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", // WETH
	"0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", // USDC
	"0xdAC17F958D2ee523a2206206994597C13D831ec7", // USDT
	"0x6B175474E89094C44Da98b954EedeAC495271d0F", // DAI
}

// riskInputs are the request properties the scorer looks at
type riskInputs struct {
	callDataLen int
	value       *big.Rat // Ether units; nil when the request moves no native value
	recipient   string   // Empty when the request has no recipient
}

func (r *TransactionRequest) riskInputs() riskInputs {
	in := riskInputs{callDataLen: len(r.callData()), recipient: r.To}
	if r.Value != "" {
		if v, err := ParseAmount(string(r.Value)); err == nil {
			in.value = v
		}
	}
	return in
}

func (*MessageRequest) riskInputs() riskInputs      { return riskInputs{} }
func (*PersonalSignRequest) riskInputs() riskInputs { return riskInputs{} }
func (*TypedDataRequest) riskInputs() riskInputs    { return riskInputs{} }

// RiskPolicy scores signing requests against a static recipient whitelist
type RiskPolicy struct {
	trusted map[common.Address]struct{}
}

// NewRiskPolicy builds a policy trusting the given recipient addresses
func NewRiskPolicy(trustedRecipients []string) (*RiskPolicy, error) {
	p := &RiskPolicy{trusted: make(map[common.Address]struct{}, len(trustedRecipients))}
	for _, addr := range trustedRecipients {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid trusted recipient address %q", addr)
		}
		p.trusted[common.HexToAddress(addr)] = struct{}{}
	}
	return p, nil
}

// Assess scores a request. The result depends only on the request and the whitelist.
func (p *RiskPolicy) Assess(req SigningRequest) models.RiskAssessment {
	in := req.riskInputs()
	score := 0
	factors := []string{}

	if in.callDataLen > complexCodeBytes {
		score += 20
		factors = append(factors, FactorComplexCode)
	}

	if in.value != nil {
		switch {
		case in.value.Cmp(highValueThreshold) > 0:
			score += 30
			factors = append(factors, FactorHighValue)
		case in.value.Cmp(mediumValueThreshold) > 0:
			score += 15
			factors = append(factors, FactorMediumValue)
		}
	}

	if in.recipient != "" && !p.isTrusted(in.recipient) {
		score += 10
		factors = append(factors, FactorUnknownRecipient)
	}

	if score > maxRiskScore {
		score = maxRiskScore
	}
	return models.RiskAssessment{Score: score, Factors: factors}
}

func (p *RiskPolicy) isTrusted(addr string) bool {
	if !common.IsHexAddress(addr) {
		return false
	}
	_, ok := p.trusted[common.HexToAddress(addr)]
	return ok
}
