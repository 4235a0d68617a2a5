package sidechannel

import (
	"context"
	"sync"

	"github.com/intercomswap/swapd/internal/domain"
)

// Broker is an in-process message fabric for tests and simnet mode. Every
// peer attaches a MemoryBus; delivery is fan-out per channel with the same
// sealing discipline the networked buses apply.
type Broker struct {
	mu   sync.Mutex
	subs map[string][]*memorySub // channel -> subscribers
}

type memorySub struct {
	bus *MemoryBus
	out chan domain.SidechannelMessage
	ctx context.Context
}

// NewBroker returns an empty fabric.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string][]*memorySub)}
}

func (b *Broker) publish(channel string, data []byte) {
	b.mu.Lock()
	subs := append([]*memorySub(nil), b.subs[channel]...)
	b.mu.Unlock()
	for _, s := range subs {
		plain, ok := s.bus.gate.inbound(channel, data)
		if !ok {
			continue
		}
		select {
		case s.out <- domain.SidechannelMessage{Channel: channel, Payload: plain}:
		case <-s.ctx.Done():
		}
	}
}

// MemoryBus implements domain.Sidechannel over a Broker.
type MemoryBus struct {
	broker *Broker
	gate   *gate
}

// NewMemoryBus attaches a bus for the peer identified by pubkeyHex.
func NewMemoryBus(broker *Broker, pubkeyHex string, clock func() int64) *MemoryBus {
	return &MemoryBus{broker: broker, gate: newGate(pubkeyHex, clock)}
}

// Subscribe registers for the channels and returns the delivery stream.
func (m *MemoryBus) Subscribe(ctx context.Context, channels []string) (<-chan domain.SidechannelMessage, error) {
	out := make(chan domain.SidechannelMessage, 128)
	m.broker.mu.Lock()
	for _, ch := range channels {
		m.broker.subs[ch] = append(m.broker.subs[ch], &memorySub{bus: m, out: out, ctx: ctx})
	}
	m.broker.mu.Unlock()
	context.AfterFunc(ctx, func() { m.broker.drop(out) })
	return out, nil
}

// Join validates capabilities and records admission.
func (m *MemoryBus) Join(_ context.Context, channel string, opts domain.JoinOpts) error {
	return m.gate.join(channel, opts)
}

// Send publishes to the fabric, sealing gated channels.
func (m *MemoryBus) Send(_ context.Context, channel string, payload []byte, opts domain.SendOpts) error {
	data, err := m.gate.outbound(channel, payload, opts)
	if err != nil {
		return err
	}
	m.broker.publish(channel, data)
	return nil
}

// ShareSecret registers the sealing secret an owner minted for a channel.
func (m *MemoryBus) ShareSecret(channel, secret string) { m.gate.shareSecret(channel, secret) }

func (b *Broker) drop(out chan domain.SidechannelMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch, subs := range b.subs {
		kept := subs[:0]
		for _, s := range subs {
			if s.out != out {
				kept = append(kept, s)
			}
		}
		b.subs[ch] = kept
	}
}

var _ domain.Sidechannel = (*MemoryBus)(nil)
