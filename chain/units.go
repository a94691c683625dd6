package chain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// TokenDecimals is the contract's fixed scaling; amounts cross every trust
// boundary as integers in base units (wei-equivalent).
const TokenDecimals = 18

// ToWei converts a whole-token decimal string to base units. Exact integer
// arithmetic; returns false on malformed input or fractional remainders
// below 10^-18.
func ToWei(tokens string) (*big.Int, bool) {
	d, err := decimal.NewFromString(tokens)
	if err != nil {
		return nil, false
	}
	shifted := d.Shift(TokenDecimals)
	if !shifted.IsInteger() {
		return nil, false
	}
	return shifted.BigInt(), true
}

// FormatTokens renders a base-unit amount as a whole-token decimal string.
// Display only; never feed the result back into balance math.
func FormatTokens(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -TokenDecimals).String()
}
