// Package sidechannel implements the invite-gated pub/sub transport the
// coordinator rides on: welcome/invite capabilities, payload sealing for
// private swap channels, and bus implementations over redis, a websocket
// relay, and in-process memory.
//
// Channels prefixed "swap:" are invite-gated: publication is sealed to a
// per-channel key carried inside the invite, so a subscriber without a
// valid invite receives zero messages. The public RFQ rendezvous channel
// is welcome-gated only.
package sidechannel

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/intercomswap/swapd/internal/domain"
	"github.com/intercomswap/swapd/internal/envelope"
)

// SwapChannelPrefix marks invite-gated channels.
const SwapChannelPrefix = "swap:"

// Gated reports whether channel requires an invite to publish or receive.
func Gated(channel string) bool {
	return len(channel) >= len(SwapChannelPrefix) && channel[:len(SwapChannelPrefix)] == SwapChannelPrefix
}

// Welcome declares the owner of a channel. It is signed by the owner key
// and published alongside the first message on a channel.
type Welcome struct {
	Channel     string `json:"channel"`
	OwnerPubkey string `json:"owner_pubkey"`
	IssuedUnix  int64  `json:"issued_unix"`
	Signature   string `json:"signature,omitempty"`
}

// Invite grants one invitee admission to a channel until the TTL expires.
// The secret inside is the key material private payloads are sealed with;
// the whole record is an opaque blob outside this package.
type Invite struct {
	Channel       string `json:"channel"`
	OwnerPubkey   string `json:"owner_pubkey"`
	InviteePubkey string `json:"invitee_pubkey"`
	Secret        string `json:"secret"` // 32-byte hex channel key material
	ExpiresUnix   int64  `json:"expires_unix"`
	Signature     string `json:"signature,omitempty"`
}

// NewWelcome mints a signed welcome for channel.
func NewWelcome(channel string, owner ed25519.PrivateKey, nowUnix int64) (string, error) {
	w := Welcome{
		Channel:     channel,
		OwnerPubkey: hex.EncodeToString(owner.Public().(ed25519.PublicKey)),
		IssuedUnix:  nowUnix,
	}
	sig, err := signCapability(&w, owner)
	if err != nil {
		return "", err
	}
	w.Signature = sig
	return encodeBlob(w)
}

// NewInvite mints a signed invite for inviteePubkey with a fresh channel
// secret and the given TTL.
func NewInvite(channel, inviteePubkey string, owner ed25519.PrivateKey, expiresUnix int64) (string, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("sidechannel: invite secret: %w", err)
	}
	inv := Invite{
		Channel:       channel,
		OwnerPubkey:   hex.EncodeToString(owner.Public().(ed25519.PublicKey)),
		InviteePubkey: inviteePubkey,
		Secret:        hex.EncodeToString(secret),
		ExpiresUnix:   expiresUnix,
	}
	sig, err := signCapability(&inv, owner)
	if err != nil {
		return "", err
	}
	inv.Signature = sig
	return encodeBlob(inv)
}

// ReInvite mints an invite for a different invitee sharing the channel
// secret of an existing invite, so both ends of a swap unseal the same
// traffic.
func ReInvite(from Invite, inviteePubkey string, owner ed25519.PrivateKey, expiresUnix int64) (string, error) {
	inv := Invite{
		Channel:       from.Channel,
		OwnerPubkey:   from.OwnerPubkey,
		InviteePubkey: inviteePubkey,
		Secret:        from.Secret,
		ExpiresUnix:   expiresUnix,
	}
	sig, err := signCapability(&inv, owner)
	if err != nil {
		return "", err
	}
	inv.Signature = sig
	return encodeBlob(inv)
}

// ParseInvite decodes an invite blob without checking admission.
func ParseInvite(blob string) (Invite, error) {
	var inv Invite
	if err := decodeBlob(blob, &inv); err != nil {
		return Invite{}, fmt.Errorf("sidechannel: parse invite: %w", err)
	}
	return inv, nil
}

// ParseWelcome decodes a welcome blob.
func ParseWelcome(blob string) (Welcome, error) {
	var w Welcome
	if err := decodeBlob(blob, &w); err != nil {
		return Welcome{}, fmt.Errorf("sidechannel: parse welcome: %w", err)
	}
	return w, nil
}

// Admit checks an invite for channel against the holder's public key at
// the given time: owner signature, channel match, invitee match, TTL.
func Admit(inv Invite, channel, holderPubkey string, nowUnix int64) error {
	if inv.Channel != channel {
		return fmt.Errorf("sidechannel: %w: invite is for %q", domain.ErrNotAdmitted, inv.Channel)
	}
	if inv.InviteePubkey != holderPubkey {
		return fmt.Errorf("sidechannel: %w: invite bound to another key", domain.ErrNotAdmitted)
	}
	if nowUnix >= inv.ExpiresUnix {
		return fmt.Errorf("sidechannel: %w: invite expired at %d", domain.ErrNotAdmitted, inv.ExpiresUnix)
	}
	if err := verifyCapability(&inv, inv.OwnerPubkey, inv.Signature); err != nil {
		return fmt.Errorf("sidechannel: %w: %v", domain.ErrNotAdmitted, err)
	}
	return nil
}

// VerifyWelcome checks the owner signature on a welcome.
func VerifyWelcome(w Welcome) error {
	return verifyCapability(&w, w.OwnerPubkey, w.Signature)
}

// capability signing reuses the envelope canonical encoding so two
// implementations never disagree about the signed bytes.

type capability interface{ stripSig() any }

func (w *Welcome) stripSig() any {
	c := *w
	c.Signature = ""
	return c
}

func (i *Invite) stripSig() any {
	c := *i
	c.Signature = ""
	return c
}

func signCapability(c capability, key ed25519.PrivateKey) (string, error) {
	msg, err := envelope.Marshal(c.stripSig())
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(ed25519.Sign(key, msg)), nil
}

func verifyCapability(c capability, pubkeyHex, sigHex string) error {
	pub, err := hex.DecodeString(pubkeyHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return domain.ErrMalformedKey
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return domain.ErrBadSig
	}
	msg, err := envelope.Marshal(c.stripSig())
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), msg, sig) {
		return domain.ErrBadSig
	}
	return nil
}

func encodeBlob(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("sidechannel: encode capability: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func decodeBlob(blob string, v any) error {
	b, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
