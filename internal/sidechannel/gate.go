package sidechannel

import (
	"fmt"
	"sync"

	"github.com/intercomswap/swapd/internal/domain"
)

// gate is the admission and sealing state shared by every bus
// implementation. A bus owns one gate per local identity.
type gate struct {
	identity string // holder public key, lower-case hex
	clock    func() int64

	mu      sync.Mutex
	secrets map[string]string // channel -> sealing secret (hex)
	joined  map[string]bool
}

func newGate(identity string, clock func() int64) *gate {
	return &gate{
		identity: identity,
		clock:    clock,
		secrets:  make(map[string]string),
		joined:   make(map[string]bool),
	}
}

// join validates the capabilities for channel and records the sealing
// secret for gated channels.
func (g *gate) join(channel string, opts domain.JoinOpts) error {
	if opts.Welcome != "" {
		w, err := ParseWelcome(opts.Welcome)
		if err != nil {
			return err
		}
		if w.Channel != channel {
			return fmt.Errorf("sidechannel: %w: welcome is for %q", domain.ErrNotAdmitted, w.Channel)
		}
		if err := VerifyWelcome(w); err != nil {
			return fmt.Errorf("sidechannel: %w: welcome: %v", domain.ErrNotAdmitted, err)
		}
	}
	if Gated(channel) {
		if opts.Invite == "" {
			return fmt.Errorf("sidechannel: %w: %s requires an invite", domain.ErrNotAdmitted, channel)
		}
		inv, err := ParseInvite(opts.Invite)
		if err != nil {
			return err
		}
		if err := Admit(inv, channel, g.identity, g.clock()); err != nil {
			return err
		}
		g.mu.Lock()
		g.secrets[channel] = inv.Secret
		g.mu.Unlock()
	}
	g.mu.Lock()
	g.joined[channel] = true
	g.mu.Unlock()
	return nil
}

// outbound prepares a payload for publication. On gated channels the
// sender must hold admission (a joined secret or a fresh invite) and the
// payload goes out sealed; everything else is transport-level plaintext.
func (g *gate) outbound(channel string, payload []byte, opts domain.SendOpts) ([]byte, error) {
	if !Gated(channel) {
		return payload, nil
	}
	secret, err := g.sendSecret(channel, opts)
	if err != nil {
		return nil, err
	}
	return seal(secret, channel, payload)
}

// inbound filters a delivered payload. Sealed traffic on gated channels is
// only surfaced when this holder can unseal it; everything else on a gated
// channel is dropped, so an uninvited subscriber observes zero messages.
func (g *gate) inbound(channel string, data []byte) ([]byte, bool) {
	if !Gated(channel) {
		return data, true
	}
	g.mu.Lock()
	secret, ok := g.secrets[channel]
	g.mu.Unlock()
	if !ok {
		return nil, false
	}
	plain, err := open(secret, channel, data)
	if err != nil {
		return nil, false
	}
	return plain, true
}

func (g *gate) sendSecret(channel string, opts domain.SendOpts) (string, error) {
	if opts.Invite != "" {
		inv, err := ParseInvite(opts.Invite)
		if err != nil {
			return "", err
		}
		if err := Admit(inv, channel, g.identity, g.clock()); err != nil {
			return "", err
		}
		g.mu.Lock()
		g.secrets[channel] = inv.Secret
		g.mu.Unlock()
		return inv.Secret, nil
	}
	g.mu.Lock()
	secret, ok := g.secrets[channel]
	g.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("sidechannel: %w: not joined to %s", domain.ErrNotAdmitted, channel)
	}
	return secret, nil
}

// shareSecret lets a channel owner register the sealing secret it minted,
// without going through an invite addressed to itself.
func (g *gate) shareSecret(channel, secret string) {
	g.mu.Lock()
	g.secrets[channel] = secret
	g.joined[channel] = true
	g.mu.Unlock()
}
