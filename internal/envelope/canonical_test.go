package envelope

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/intercomswap/swapd/internal/domain"
)

func TestMarshalSortsKeysAndOmitsWhitespace(t *testing.T) {
	b, err := Marshal(map[string]any{
		"zeta":  "z",
		"alpha": int64(7),
		"mid":   []any{"a", int64(1)},
	})
	require.NoError(t, err)
	require.Equal(t, `{"alpha":7,"mid":["a",1],"zeta":"z"}`, string(b))
}

func TestMarshalStructFollowsJSONTagsSorted(t *testing.T) {
	body := domain.AcceptBody{TermsHash: "ab"}
	b, err := Marshal(body)
	require.NoError(t, err)
	require.Equal(t, `{"terms_hash":"ab"}`, string(b))

	u := domain.Unsigned{V: 1, Kind: domain.KindAccept, TradeID: "t1", Body: body}
	enc, err := Marshal(u)
	require.NoError(t, err)
	require.Equal(t, `{"body":{"terms_hash":"ab"},"kind":"ACCEPT","trade_id":"t1","v":1}`, string(enc))
}

func TestMarshalRejectsFloats(t *testing.T) {
	_, err := Marshal(map[string]any{"x": 1.5})
	require.Error(t, err)
	require.Contains(t, err.Error(), "floating point")
}

func TestMarshalOmitEmpty(t *testing.T) {
	withPre, err := Marshal(domain.LNPaidBody{PaymentHashHex: "aa", PreimageHex: "bb"})
	require.NoError(t, err)
	require.Equal(t, `{"payment_hash_hex":"aa","preimage_hex":"bb"}`, string(withPre))

	without, err := Marshal(domain.LNPaidBody{PaymentHashHex: "aa"})
	require.NoError(t, err)
	require.Equal(t, `{"payment_hash_hex":"aa"}`, string(without))
}

func TestHashDeterministic(t *testing.T) {
	u := domain.Unsigned{
		V:       domain.ProtocolVersion,
		Kind:    domain.KindRFQ,
		TradeID: "t1",
		Body: domain.RFQBody{
			Pair:           domain.PairBTCLNUSDTSOL,
			Direction:      domain.DirectionBTCToUSDT,
			BTCSats:        50_000,
			USDTAmount:     "100000000",
			ValidUntilUnix: 1_700_000_000,
		},
	}
	h1, err := Hash(u)
	require.NoError(t, err)
	h2, err := Hash(u)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
	require.Len(t, h1, 64)

	// Any semantic change moves the hash.
	u.Body = domain.RFQBody{
		Pair:           domain.PairBTCLNUSDTSOL,
		Direction:      domain.DirectionBTCToUSDT,
		BTCSats:        50_001,
		USDTAmount:     "100000000",
		ValidUntilUnix: 1_700_000_000,
	}
	h3, err := Hash(u)
	require.NoError(t, err)
	require.NotEqual(t, h1, h3)
}
