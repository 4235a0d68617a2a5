package repair

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCoerceSeedVectors(t *testing.T) {
	require.Equal(t, "120000", CoerceUSDT("0.12"))
	require.Equal(t, "10000000", CoerceLamports("0.01"))
	require.Equal(t, "120000", CoerceUSDT("120000"))
	require.Equal(t, "not-a-number", CoerceUSDT("not-a-number"))
}

func TestCoerceFormattingArtifacts(t *testing.T) {
	require.Equal(t, "1000000", CoerceUSDT("1_000_000"))
	require.Equal(t, "1000000", CoerceUSDT("1,000,000"))
	require.Equal(t, "1500000", CoerceUSDT("1.5"))
}

func TestCoerceRefusesOverPrecision(t *testing.T) {
	// 7 fractional digits cannot be represented in 6 decimals.
	require.Equal(t, "0.1234567", CoerceUSDT("0.1234567"))
	require.Equal(t, "1234567", Coerce("0.1234567", 7, Options{}))
}

func TestCoerceRefusesNegative(t *testing.T) {
	require.Equal(t, "-0.5", CoerceUSDT("-0.5"))
}

func TestUnitSuffixIsOptIn(t *testing.T) {
	// Default: the suffix makes the input unparseable, so it passes
	// through for the schema validator to reject.
	require.Equal(t, "0.12 usdt", CoerceUSDT("0.12 usdt"))

	// Opt-in: the suffix is stripped and the value converts.
	require.Equal(t, "120000", Coerce("0.12 usdt", USDTDecimals, Options{StripUnitSuffix: true}))
}

func TestFlattenOfferMovesScalars(t *testing.T) {
	out := FlattenOffer(map[string]any{
		"pair":      "BTC_LN/USDT_SOL",
		"btc_sats":  int64(50_000),
		"unrelated": "stays",
	})
	require.Equal(t, "stays", out["unrelated"])
	require.NotContains(t, out, "pair")
	require.NotContains(t, out, "btc_sats")

	offers, ok := out["offers"].([]any)
	require.True(t, ok)
	require.Len(t, offers, 1)
	offer := offers[0].(map[string]any)
	require.Equal(t, "BTC_LN/USDT_SOL", offer["pair"])
	require.Equal(t, int64(50_000), offer["btc_sats"])
}

func TestFlattenOfferNeverOverwrites(t *testing.T) {
	out := FlattenOffer(map[string]any{
		"pair": "conflicting",
		"offers": []any{
			map[string]any{"pair": "BTC_LN/USDT_SOL"},
		},
	})
	offers := out["offers"].([]any)
	offer := offers[0].(map[string]any)
	require.Equal(t, "BTC_LN/USDT_SOL", offer["pair"])
	require.NotContains(t, out, "pair")
}

func TestFlattenOfferNoScalarsIsIdentity(t *testing.T) {
	in := map[string]any{"other": 1}
	out := FlattenOffer(in)
	require.Equal(t, in, out)
}
