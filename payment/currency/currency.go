package currency

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

type Code string

const (
	NGN  Code = "NGN"
	USD  Code = "USD"
	USDC Code = "USDC"
	ETH  Code = "ETH"
	POL  Code = "POL"
	BNB  Code = "BNB"
)

var ErrUnsupported = errors.New("unsupported currency")

var known = map[Code]bool{NGN: true, USD: true, USDC: true, ETH: true, POL: true, BNB: true}

// legacy names still present in old orders and client payloads
var aliases = map[string]Code{
	"USDBC": USDC,
	"MATIC": POL,
}

// Normalize maps raw input, including legacy aliases, onto a canonical code.
func Normalize(raw string) (Code, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if c, ok := aliases[s]; ok {
		return c, nil
	}
	c := Code(s)
	if !known[c] {
		return "", fmt.Errorf("%w: %q", ErrUnsupported, raw)
	}
	return c, nil
}

// MustNormalize is Normalize for values already validated at a write boundary.
// Unknown codes are returned upper-cased rather than dropped.
func MustNormalize(raw string) Code {
	c, err := Normalize(raw)
	if err != nil {
		return Code(strings.ToUpper(strings.TrimSpace(raw)))
	}
	return c
}

func (c Code) String() string { return string(c) }

// ToBaseUnits converts amount to the integer grid of an asset with the given
// decimals. Digits beyond the grid are truncated, never rounded up, so float
// artifacts like 63.333333333333336 cannot overflow the asset's precision.
func ToBaseUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Truncate(decimals).Shift(decimals).BigInt()
}

// FromBaseUnits is the inverse of ToBaseUnits.
func FromBaseUnits(v *big.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -decimals)
}
