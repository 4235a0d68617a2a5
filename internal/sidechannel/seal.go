package sidechannel

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// channelKey derives the sealing key for a channel from the invite secret.
// HKDF binds the key to the channel name so a leaked invite for one swap
// never unseals another.
func channelKey(secretHex, channel string) ([]byte, error) {
	secret, err := hex.DecodeString(secretHex)
	if err != nil || len(secret) != 32 {
		return nil, fmt.Errorf("sidechannel: bad channel secret")
	}
	r := hkdf.New(sha256.New, secret, []byte(channel), []byte("intercomswap/v1"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("sidechannel: derive key: %w", err)
	}
	return key, nil
}

// seal encrypts payload for the channel: nonce || ciphertext.
func seal(secretHex, channel string, payload []byte) ([]byte, error) {
	key, err := channelKey(secretHex, channel)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, payload, []byte(channel)), nil
}

// open decrypts a sealed payload; failure means the holder lacks the
// channel secret and the message is simply not for them.
func open(secretHex, channel string, sealed []byte) ([]byte, error) {
	key, err := channelKey(secretHex, channel)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("sidechannel: sealed payload too short")
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	return aead.Open(nil, nonce, ct, []byte(channel))
}
