package escrow

import (
	"crypto/rand"
	"testing"

	"filippo.io/edwards25519"
	"github.com/btcsuite/btcutil/base58"
	"github.com/stretchr/testify/require"
)

func TestDerivePDADeterministic(t *testing.T) {
	programID := randAddr(t)
	var payHash [32]byte
	_, err := rand.Read(payHash[:])
	require.NoError(t, err)

	pda1, bump1, err := DerivePDA(programID, payHash)
	require.NoError(t, err)
	pda2, bump2, err := DerivePDA(programID, payHash)
	require.NoError(t, err)
	require.Equal(t, pda1, pda2)
	require.Equal(t, bump1, bump2)

	// A different hash derives a different address.
	payHash[0] ^= 0xff
	pda3, _, err := DerivePDA(programID, payHash)
	require.NoError(t, err)
	require.NotEqual(t, pda1, pda3)
}

func TestDerivedAddressesAreOffCurve(t *testing.T) {
	programID := randAddr(t)
	for i := 0; i < 8; i++ {
		var payHash [32]byte
		_, err := rand.Read(payHash[:])
		require.NoError(t, err)
		pda, _, err := DerivePDA(programID, payHash)
		require.NoError(t, err)

		raw := base58.Decode(pda)
		require.Len(t, raw, 32)
		_, err = new(edwards25519.Point).SetBytes(raw)
		require.Error(t, err, "pda %s decodes to a curve point", pda)
	}
}

func TestVaultATADeterministic(t *testing.T) {
	programID := randAddr(t)
	mint := randAddr(t)
	var payHash [32]byte
	_, err := rand.Read(payHash[:])
	require.NoError(t, err)

	pda, _, err := DerivePDA(programID, payHash)
	require.NoError(t, err)
	v1, err := VaultATA(pda, mint)
	require.NoError(t, err)
	v2, err := VaultATA(pda, mint)
	require.NoError(t, err)
	require.Equal(t, v1, v2)
	require.NotEqual(t, pda, v1)
}

func TestFindProgramAddressRejectsLongSeed(t *testing.T) {
	_, _, err := FindProgramAddress([][]byte{make([]byte, 33)}, randAddr(t))
	require.Error(t, err)
}
