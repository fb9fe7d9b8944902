package chain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/params"
)

// ErrInvalidEther is returned for strings that are not plain non-negative decimals
var ErrInvalidEther = errors.New("invalid ether amount")

const etherDecimals = 18

var weiPerEther = big.NewInt(params.Ether)

// ParseEther converts a plain decimal ether string ("1", "0.05") to wei.
// Signs, exponents and more than 18 fractional digits are rejected.
func ParseEther(s string) (*big.Int, error) {
	whole, frac, hasDot := strings.Cut(s, ".")
	if !isDigits(whole) || (hasDot && !isDigits(frac)) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEther, s)
	}
	if len(frac) > etherDecimals {
		return nil, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidEther, s, etherDecimals)
	}

	wei, _ := new(big.Int).SetString(whole+frac+strings.Repeat("0", etherDecimals-len(frac)), 10)
	return wei, nil
}

// FormatEther renders wei as a decimal ether string, keeping at least one
// fractional digit ("1.0", "0.05").
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0.0"
	}

	abs := new(big.Int).Abs(wei)
	whole, rem := new(big.Int).QuoRem(abs, weiPerEther, new(big.Int))

	digits := rem.String()
	frac := strings.TrimRight(strings.Repeat("0", etherDecimals-len(digits))+digits, "0")
	if frac == "" {
		frac = "0"
	}

	sign := ""
	if wei.Sign() < 0 {
		sign = "-"
	}
	return sign + whole.String() + "." + frac
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
