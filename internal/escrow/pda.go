package escrow

import (
	"crypto/sha256"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/btcsuite/btcutil/base58"
)

// Seed for escrow state PDAs; the second seed is the payment hash.
const escrowSeed = "escrow"

// Well-known program addresses on the target chain.
const (
	TokenProgramID      = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	AssociatedTokenProg = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
)

const pdaMarker = "ProgramDerivedAddress"

// DerivePDA returns the escrow state address for (program_id, payment_hash)
// and its bump seed. Derivation is deterministic: both peers and the
// pre-pay verifier must arrive at the same address independently.
func DerivePDA(programID string, paymentHash [32]byte) (string, uint8, error) {
	return FindProgramAddress([][]byte{[]byte(escrowSeed), paymentHash[:]}, programID)
}

// VaultATA returns the associated token account that holds the escrowed
// funds: the ATA of the escrow PDA for the given mint.
func VaultATA(escrowPDA, mint string) (string, error) {
	owner, err := decodeKey(escrowPDA)
	if err != nil {
		return "", fmt.Errorf("escrow: vault owner: %w", err)
	}
	mintKey, err := decodeKey(mint)
	if err != nil {
		return "", fmt.Errorf("escrow: vault mint: %w", err)
	}
	tokenProg, _ := decodeKey(TokenProgramID)
	addr, _, err := FindProgramAddress(
		[][]byte{owner[:], tokenProg[:], mintKey[:]}, AssociatedTokenProg)
	return addr, err
}

// FindProgramAddress searches bump seeds from 255 downward for the first
// derived address that is not a valid curve point, mirroring the on-chain
// derivation exactly.
func FindProgramAddress(seeds [][]byte, programID string) (string, uint8, error) {
	prog, err := decodeKey(programID)
	if err != nil {
		return "", 0, fmt.Errorf("escrow: program id: %w", err)
	}
	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			if len(seed) > 32 {
				return "", 0, fmt.Errorf("escrow: seed exceeds 32 bytes")
			}
			h.Write(seed)
		}
		h.Write([]byte{uint8(bump)})
		h.Write(prog[:])
		h.Write([]byte(pdaMarker))
		candidate := h.Sum(nil)
		if !onCurve(candidate) {
			return base58.Encode(candidate), uint8(bump), nil
		}
	}
	return "", 0, fmt.Errorf("escrow: no viable bump for seeds")
}

// onCurve reports whether the 32 bytes decode to a valid edwards25519
// point. Program-derived addresses must not have one, so no private key
// can ever sign for them.
func onCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

func decodeKey(s string) ([32]byte, error) {
	var out [32]byte
	raw := base58.Decode(s)
	if len(raw) != 32 {
		return out, fmt.Errorf("bad base58 key %q", s)
	}
	copy(out[:], raw)
	return out, nil
}

// EncodeKey renders a raw 32-byte key in its base58 text form.
func EncodeKey(k [32]byte) string { return base58.Encode(k[:]) }

// DecodeKey parses a base58 32-byte key.
func DecodeKey(s string) ([32]byte, error) { return decodeKey(s) }
