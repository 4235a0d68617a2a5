// Package crypto manages the peer's Ed25519 identity key and the HMAC
// bridge-token auth used by the control server.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Keypair holds the peer identity used to sign envelopes and capabilities.
type Keypair struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// Generate creates a fresh random keypair.
func Generate() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return &Keypair{priv: priv, pub: pub}, nil
}

// FromSeedHex builds a keypair from a 32-byte hex seed.
func FromSeedHex(seedHex string) (*Keypair, error) {
	seed, err := hex.DecodeString(strings.TrimSpace(seedHex))
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("crypto: seed must be %d hex-encoded bytes", ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Keypair{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// LoadOrCreate reads the key seed at path, generating and persisting a new
// one (0600) when the file does not exist.
func LoadOrCreate(path string) (*Keypair, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return FromSeedHex(string(data))
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("crypto: read key %s: %w", path, err)
	}

	kp, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("crypto: create key dir: %w", err)
	}
	seedHex := hex.EncodeToString(kp.priv.Seed())
	if err := os.WriteFile(path, []byte(seedHex+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("crypto: write key %s: %w", path, err)
	}
	return kp, nil
}

// Private returns the signing key.
func (k *Keypair) Private() ed25519.PrivateKey { return k.priv }

// Public returns the verification key.
func (k *Keypair) Public() ed25519.PublicKey { return k.pub }

// PubkeyHex returns the public key in the lower-case hex form envelopes
// carry.
func (k *Keypair) PubkeyHex() string { return hex.EncodeToString(k.pub) }

// String returns a redacted representation suitable for logging.
func (k *Keypair) String() string {
	return fmt.Sprintf("Keypair{pub=%s}", k.PubkeyHex()[:8]+"****")
}
