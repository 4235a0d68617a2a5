package envelope

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/intercomswap/swapd/internal/domain"
)

func testKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return priv
}

func signedAccept(t *testing.T, key ed25519.PrivateKey) domain.Signed {
	t.Helper()
	env, err := Sign(domain.Unsigned{
		V:       domain.ProtocolVersion,
		Kind:    domain.KindAccept,
		TradeID: "t1",
		Body:    domain.AcceptBody{TermsHash: hex32(t, 0x11)},
	}, key)
	require.NoError(t, err)
	return env
}

func hex32(t *testing.T, b byte) string {
	t.Helper()
	out := make([]byte, 64)
	const digits = "0123456789abcdef"
	for i := 0; i < 64; i += 2 {
		out[i] = digits[b>>4]
		out[i+1] = digits[b&0xf]
	}
	return string(out)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	env := signedAccept(t, testKey(t))
	require.NoError(t, Verify(env))
	require.Len(t, env.SignerPubkey, 64)
	require.Len(t, env.Signature, 128)
}

func TestVerifyRejectsBodyMutation(t *testing.T) {
	env := signedAccept(t, testKey(t))
	env.Body = domain.AcceptBody{TermsHash: hex32(t, 0x22)}
	err := Verify(env)
	require.ErrorIs(t, err, domain.ErrBadSig)
}

func TestVerifyRejectsMalformedKey(t *testing.T) {
	env := signedAccept(t, testKey(t))
	env.SignerPubkey = "zz"
	require.ErrorIs(t, Verify(env), domain.ErrMalformedKey)

	env = signedAccept(t, testKey(t))
	env.SignerPubkey = "AB" + env.SignerPubkey[2:] // upper-case hex is refused
	require.ErrorIs(t, Verify(env), domain.ErrMalformedKey)
}

func TestDecodeRoundTrip(t *testing.T) {
	env := signedAccept(t, testKey(t))
	raw, err := Encode(env)
	require.NoError(t, err)

	got, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, env, got)

	// decode(encode(e)) hashes identically.
	h1, err := Hash(env.Unsigned())
	require.NoError(t, err)
	h2, err := Hash(got.Unsigned())
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestDecodeRejectsNonCanonicalBytes(t *testing.T) {
	env := signedAccept(t, testKey(t))
	raw, err := Encode(env)
	require.NoError(t, err)

	// Insert insignificant whitespace: same JSON value, different bytes.
	spaced := []byte("  " + string(raw))
	_, err = Decode(spaced)
	require.Error(t, err)
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	_, err := Decode([]byte(`{"body":{},"kind":"NOPE","signature":"00","signer_pubkey":"00","trade_id":"t1","v":1}`))
	require.ErrorIs(t, err, domain.ErrUnknownKind)
}
