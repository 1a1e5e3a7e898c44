// Package utils holds pure helpers for amount conversion and address/hash
// validation across chain families.
package utils

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ToHumanUnits converts a smallest-unit integer amount (wei, tinybars, uatom)
// to human-readable units for the given decimal count.
func ToHumanUnits(raw *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(raw, -decimals)
}

// ToRawUnits converts a human-readable amount back to the smallest unit.
// Fractional dust below the chain's precision is truncated.
func ToRawUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}

// ParseBigInt parses an integer amount as emitted by chain APIs: 0x-prefixed
// hex (JSON-RPC proxy responses) or plain base-10 (explorer listings, mirror
// node, LCD).
func ParseBigInt(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}

	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
	}

	v, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil, fmt.Errorf("invalid integer amount %q", s)
	}
	return v, nil
}

// ParseAmount parses a human-readable decimal amount and rejects negatives.
func ParseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("amount cannot be empty")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid amount format: %w", err)
	}
	if d.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("amount cannot be negative")
	}
	return d, nil
}
