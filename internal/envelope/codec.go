package envelope

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/intercomswap/swapd/internal/domain"
)

// Sign attaches the signer's public key and a detached Ed25519 signature
// over the canonical encoding of the unsigned envelope.
func Sign(u domain.Unsigned, key ed25519.PrivateKey) (domain.Signed, error) {
	if len(key) != ed25519.PrivateKeySize {
		return domain.Signed{}, fmt.Errorf("envelope: %w: bad private key length %d", domain.ErrMalformedKey, len(key))
	}
	msg, err := Marshal(u)
	if err != nil {
		return domain.Signed{}, err
	}
	pub := key.Public().(ed25519.PublicKey)
	sig := ed25519.Sign(key, msg)
	return domain.Signed{
		V:            u.V,
		Kind:         u.Kind,
		TradeID:      u.TradeID,
		Body:         u.Body,
		SignerPubkey: hex.EncodeToString(pub),
		Signature:    hex.EncodeToString(sig),
	}, nil
}

// Verify checks the detached signature of a signed envelope against the
// canonical encoding of its unsigned part.
func Verify(s domain.Signed) error {
	pub, err := decodeHexExact(s.SignerPubkey, ed25519.PublicKeySize)
	if err != nil {
		return fmt.Errorf("envelope: %w: signer_pubkey: %v", domain.ErrMalformedKey, err)
	}
	sig, err := decodeHexExact(s.Signature, ed25519.SignatureSize)
	if err != nil {
		return fmt.Errorf("envelope: %w: signature: %v", domain.ErrBadSig, err)
	}
	msg, err := Marshal(s.Unsigned())
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), msg, sig) {
		return fmt.Errorf("envelope: %w", domain.ErrBadSig)
	}
	return nil
}

// Encode renders a signed envelope to its wire bytes. The wire form is the
// canonical encoding with the signature fields included, so decode followed
// by encode round-trips byte-identically.
func Encode(s domain.Signed) ([]byte, error) {
	return Marshal(s)
}

// Decode parses wire bytes into a signed envelope with a schema-validated
// typed body, then verifies the canonical round-trip and the signature.
func Decode(data []byte) (domain.Signed, error) {
	var w domain.WireEnvelope
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return domain.Signed{}, fmt.Errorf("envelope: %w: %v", domain.ErrSchemaInvalid, err)
	}
	s, err := FromWire(w)
	if err != nil {
		return domain.Signed{}, err
	}
	// The decoded envelope must re-encode to the exact bytes that were
	// signed; anything else means the sender used a non-canonical form.
	enc, err := Encode(s)
	if err != nil {
		return domain.Signed{}, err
	}
	if string(enc) != string(data) {
		return domain.Signed{}, fmt.Errorf("envelope: %w", domain.ErrCanonMismatch)
	}
	if err := Verify(s); err != nil {
		return domain.Signed{}, err
	}
	return s, nil
}

// FromWire validates a raw wire envelope and parses its body against the
// schema for its kind. It does not verify the signature.
func FromWire(w domain.WireEnvelope) (domain.Signed, error) {
	if w.V != domain.ProtocolVersion {
		return domain.Signed{}, fmt.Errorf("envelope: %w: unsupported version %d", domain.ErrSchemaInvalid, w.V)
	}
	kind := domain.Kind(w.Kind)
	if !kind.Valid() {
		return domain.Signed{}, fmt.Errorf("envelope: %w: %q", domain.ErrUnknownKind, w.Kind)
	}
	if w.TradeID == "" || len(w.TradeID) > 64 {
		return domain.Signed{}, fmt.Errorf("envelope: %w: bad trade_id", domain.ErrSchemaInvalid)
	}
	body, err := ParseBody(kind, w.Body)
	if err != nil {
		return domain.Signed{}, err
	}
	return domain.Signed{
		V:            w.V,
		Kind:         kind,
		TradeID:      w.TradeID,
		Body:         body,
		SignerPubkey: w.SignerPubkey,
		Signature:    w.Signature,
	}, nil
}

func decodeHexExact(s string, n int) ([]byte, error) {
	if strings.ToLower(s) != s {
		return nil, fmt.Errorf("not lower-case hex")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != n {
		return nil, fmt.Errorf("want %d bytes, got %d", n, len(b))
	}
	return b, nil
}
