package domain

import (
	"fmt"
	"math"
	"math/big"
)

// Atomic amounts travel as decimal strings so 64-bit overflow on one side
// of the wire never silently truncates. ParseAtomic is the single place
// that admits them into arithmetic.

// ParseAtomic parses a non-negative atomic amount string (`^[0-9]+$`, no
// leading zeros except "0" itself) into a big integer.
func ParseAtomic(s string) (*big.Int, error) {
	if !AtomicValid(s) {
		return nil, fmt.Errorf("domain: invalid atomic amount %q", s)
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("domain: invalid atomic amount %q", s)
	}
	return n, nil
}

// AtomicValid reports whether s is a canonical atomic amount string.
func AtomicValid(s string) bool {
	if s == "" {
		return false
	}
	if len(s) > 1 && s[0] == '0' {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// AtomicToUint64 converts an atomic amount string to a uint64 for the
// chain boundary, failing on overflow rather than wrapping.
func AtomicToUint64(s string) (uint64, error) {
	n, err := ParseAtomic(s)
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("domain: atomic amount %q overflows u64", s)
	}
	return n.Uint64(), nil
}

// SatsToMsat returns btc_sats * 1000 as an atomic string, the amount a
// matching invoice must carry.
func SatsToMsat(sats uint64) (string, error) {
	if sats > math.MaxUint64/1000 {
		return "", fmt.Errorf("domain: %d sats overflows msat", sats)
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(sats), big.NewInt(1000)).String(), nil
}
