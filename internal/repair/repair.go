// Package repair normalizes human- or model-produced numeric arguments
// into canonical atomic integer strings. It is best effort by design:
// anything it cannot conservatively fix is returned unchanged so the
// schema validator rejects it with a precise error instead.
package repair

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Decimal counts for the supported atomic units.
const (
	USDTDecimals    = 6
	LamportDecimals = 9
)

// Options tune the conservative cleanups applied before parsing.
type Options struct {
	// StripUnitSuffix drops a trailing unit word separated by whitespace
	// ("0.12 usdt" -> "0.12"). Off by default: silently discarding what
	// the user typed can mask intent, so callers must opt in.
	StripUnitSuffix bool
}

// CoerceUSDT converts s to atomic 10^-6 USDT units with default options.
func CoerceUSDT(s string) string { return Coerce(s, USDTDecimals, Options{}) }

// CoerceLamports converts s to atomic lamports with default options.
func CoerceLamports(s string) string { return Coerce(s, LamportDecimals, Options{}) }

// Coerce normalizes s into an atomic integer string with the given number
// of decimals. Integer strings pass through untouched. Decimal strings are
// scaled by 10^decimals using exact arithmetic. Unparseable, negative, or
// over-precise input is returned unchanged.
func Coerce(s string, decimals int32, opts Options) string {
	cleaned := clean(s, opts)
	if cleaned == "" {
		return s
	}

	// Already atomic: leave it alone, including any leading zeros the
	// schema validator will flag.
	if isDigits(cleaned) {
		return cleaned
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return s
	}
	if d.IsNegative() {
		return s
	}
	// More fractional digits than the unit carries cannot be represented
	// exactly; refuse rather than round.
	if -d.Exponent() > decimals {
		return s
	}
	return d.Shift(decimals).String()
}

// clean strips formatting artifacts: digit-group separators and,
// optionally, a trailing unit suffix after whitespace.
func clean(s string, opts Options) string {
	out := strings.TrimSpace(s)
	if opts.StripUnitSuffix {
		if i := strings.IndexFunc(out, func(r rune) bool { return r == ' ' || r == '\t' }); i > 0 {
			out = out[:i]
		}
	}
	out = strings.ReplaceAll(out, "_", "")
	out = strings.ReplaceAll(out, ",", "")
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
