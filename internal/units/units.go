// Package units converts between native decimal amounts and on-chain
// integer (wei) units.
package units

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// NativeDecimals is the number of decimal places of the native unit on all
// supported chains.
const NativeDecimals = 18

// ToWei converts a native decimal amount to integer wei. Fractions below
// 1 wei are rejected rather than truncated.
func ToWei(amount decimal.Decimal) (*big.Int, error) {
	shifted := amount.Shift(NativeDecimals)
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("amount %s has more than %d decimal places", amount, NativeDecimals)
	}
	return shifted.BigInt(), nil
}

// FromWei converts integer wei to a native decimal amount.
func FromWei(wei *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(wei, -NativeDecimals)
}

// FormatNative renders a wei value as "<amount> <symbol>" for user-facing
// messages. Raw integer units never appear in messages shown to users.
func FormatNative(wei *big.Int, symbol string) string {
	return fmt.Sprintf("%s %s", FromWei(wei).String(), symbol)
}
