package relay

import (
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/params"
)

var weiPerEther = new(big.Int).SetUint64(params.Ether)

// ParseAmount normalizes a quantity into ether units.
// 0x-prefixed hex is read as wei; anything else as a decimal ether amount.
func ParseAmount(s string) (*big.Rat, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("amount is empty")
	}

	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		wei, ok := math.ParseBig256(s)
		if !ok {
			return nil, errors.New("amount is not valid hex")
		}
		return new(big.Rat).SetFrac(wei, weiPerEther), nil
	}

	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, errors.New("amount is not a valid number")
	}
	if r.Sign() < 0 {
		return nil, errors.New("amount must not be negative")
	}
	return r, nil
}

// FormatAmount renders an ether amount without trailing zeros
func FormatAmount(r *big.Rat) string {
	s := r.FloatString(18)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s
}
