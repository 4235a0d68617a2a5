package envelope

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/btcsuite/btcutil/base58"
	"github.com/stretchr/testify/require"

	"github.com/intercomswap/swapd/internal/domain"
)

func b58Key(b byte) string {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = b
	}
	return base58.Encode(raw)
}

func nodeID(b byte) string {
	out := ""
	for i := 0; i < 33; i++ {
		out += fmt.Sprintf("%02x", b)
	}
	return out
}

func validTermsJSON() string {
	return fmt.Sprintf(`{
		"pair": "BTC_LN/USDT_SOL",
		"direction": "BTC_LN->USDT_SOL",
		"btc_sats": 50000,
		"usdt_amount": "100000000",
		"usdt_decimals": 6,
		"sol_mint": %q,
		"sol_recipient": %q,
		"sol_refund": %q,
		"sol_refund_after_unix": 1700003600,
		"ln_receiver_peer": %q,
		"ln_payer_peer": %q,
		"terms_valid_until_unix": 1700000600
	}`, b58Key(1), b58Key(2), b58Key(3), nodeID(4), nodeID(5))
}

func TestParseBodyTermsValid(t *testing.T) {
	body, err := ParseBody(domain.KindTerms, json.RawMessage(validTermsJSON()))
	require.NoError(t, err)
	terms, ok := body.(domain.TermsBody)
	require.True(t, ok)
	require.Equal(t, uint64(50_000), terms.BTCSats)
	require.Equal(t, "100000000", terms.USDTAmount)
	require.Equal(t, uint8(6), terms.USDTDecimals)
}

func TestParseBodyRejections(t *testing.T) {
	cases := []struct {
		name string
		kind domain.Kind
		raw  string
	}{
		{"unknown field", domain.KindAccept, `{"terms_hash":"` + hex32All(0x11) + `","bogus":1}`},
		{"short hash", domain.KindAccept, `{"terms_hash":"abcd"}`},
		{"uppercase hash", domain.KindAccept, `{"terms_hash":"` + strings.ToUpper(hex32All(0x1a)) + `"}`},
		{"bad pair", domain.KindRFQ, `{"pair":"ETH/USDT","direction":"BTC_LN->USDT_SOL","btc_sats":1,"usdt_amount":"1","valid_until_unix":1}`},
		{"bad direction", domain.KindRFQ, `{"pair":"BTC_LN/USDT_SOL","direction":"sideways","btc_sats":1,"usdt_amount":"1","valid_until_unix":1}`},
		{"zero sats", domain.KindRFQ, `{"pair":"BTC_LN/USDT_SOL","direction":"BTC_LN->USDT_SOL","btc_sats":0,"usdt_amount":"1","valid_until_unix":1}`},
		{"float sats", domain.KindRFQ, `{"pair":"BTC_LN/USDT_SOL","direction":"BTC_LN->USDT_SOL","btc_sats":1.5,"usdt_amount":"1","valid_until_unix":1}`},
		{"decimal amount", domain.KindRFQ, `{"pair":"BTC_LN/USDT_SOL","direction":"BTC_LN->USDT_SOL","btc_sats":1,"usdt_amount":"1.5","valid_until_unix":1}`},
		{"negative amount", domain.KindLNInvoice, `{"bolt11":"lnbc1","payment_hash_hex":"` + hex32All(0x11) + `","amount_msat":"-5"}`},
		{"missing reason", domain.KindCancel, `{"reason":""}`},
		{"bad base58", domain.KindSolClaimed, `{"payment_hash_hex":"` + hex32All(0x11) + `","escrow_pda":"0OIl","tx_sig":"x"}`},
		{"unknown state", domain.KindStatus, `{"state":"LIMBO","note":""}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseBody(tc.kind, json.RawMessage(tc.raw))
			require.ErrorIs(t, err, domain.ErrSchemaInvalid)
		})
	}
}

func hex32All(b byte) string {
	out := make([]byte, 0, 64)
	for i := 0; i < 32; i++ {
		out = append(out, fmt.Sprintf("%02x", b)...)
	}
	return string(out)
}

func TestParseBodyOptionalPreimage(t *testing.T) {
	withPre := fmt.Sprintf(`{"payment_hash_hex":%q,"preimage_hex":%q}`, hex32All(0x11), hex32All(0x22))
	body, err := ParseBody(domain.KindLNPaid, json.RawMessage(withPre))
	require.NoError(t, err)
	require.Equal(t, hex32All(0x22), body.(domain.LNPaidBody).PreimageHex)

	without := fmt.Sprintf(`{"payment_hash_hex":%q}`, hex32All(0x11))
	body, err = ParseBody(domain.KindLNPaid, json.RawMessage(without))
	require.NoError(t, err)
	require.Empty(t, body.(domain.LNPaidBody).PreimageHex)
}
