package sidechannel

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/intercomswap/swapd/internal/domain"
)

// relayFrame is the wire frame exchanged with a websocket relay server.
type relayFrame struct {
	Op      string `json:"op"` // "subscribe", "send", "message"
	Channel string `json:"channel"`
	Payload string `json:"payload,omitempty"` // base64
}

// RelayBus implements domain.Sidechannel over a websocket relay. It
// reconnects with backoff and re-subscribes after every reconnect; the
// gate's sealing keeps swap-channel traffic opaque to the relay itself.
type RelayBus struct {
	url    string
	gate   *gate
	logger *slog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	channels []string
	out      chan domain.SidechannelMessage
}

// NewRelayBus creates a bus for the relay at url; Run must be started
// before Subscribe delivers anything.
func NewRelayBus(url, pubkeyHex string, clock func() int64, logger *slog.Logger) *RelayBus {
	return &RelayBus{
		url:    url,
		gate:   newGate(pubkeyHex, clock),
		logger: logger.With(slog.String("component", "sidechannel_relay")),
		out:    make(chan domain.SidechannelMessage, 128),
	}
}

// Run maintains the relay connection until ctx is cancelled, reconnecting
// with a flat backoff on failure.
func (b *RelayBus) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := b.runConnection(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Warn("relay disconnected, reconnecting", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (b *RelayBus) runConnection(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, b.url, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("sidechannel: dial relay: %w", err)
	}
	defer conn.Close()

	b.mu.Lock()
	b.conn = conn
	channels := append([]string(nil), b.channels...)
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.conn = nil
		b.mu.Unlock()
	}()

	for _, ch := range channels {
		if err := b.writeFrame(relayFrame{Op: "subscribe", Channel: ch}); err != nil {
			return err
		}
	}

	for {
		var frame relayFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return fmt.Errorf("sidechannel: relay read: %w", err)
		}
		if frame.Op != "message" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(frame.Payload)
		if err != nil {
			b.logger.Warn("bad relay payload", slog.String("channel", frame.Channel))
			continue
		}
		plain, deliver := b.gate.inbound(frame.Channel, data)
		if !deliver {
			continue
		}
		select {
		case b.out <- domain.SidechannelMessage{Channel: frame.Channel, Payload: plain}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Subscribe registers channels (re-applied on every reconnect) and returns
// the shared delivery stream.
func (b *RelayBus) Subscribe(_ context.Context, channels []string) (<-chan domain.SidechannelMessage, error) {
	b.mu.Lock()
	b.channels = append(b.channels, channels...)
	conn := b.conn
	b.mu.Unlock()
	if conn != nil {
		for _, ch := range channels {
			if err := b.writeFrame(relayFrame{Op: "subscribe", Channel: ch}); err != nil {
				return nil, err
			}
		}
	}
	return b.out, nil
}

// Join validates capabilities for channel.
func (b *RelayBus) Join(_ context.Context, channel string, opts domain.JoinOpts) error {
	return b.gate.join(channel, opts)
}

// Send publishes through the relay, sealing gated channels.
func (b *RelayBus) Send(_ context.Context, channel string, payload []byte, opts domain.SendOpts) error {
	data, err := b.gate.outbound(channel, payload, opts)
	if err != nil {
		return err
	}
	return b.writeFrame(relayFrame{
		Op:      "send",
		Channel: channel,
		Payload: base64.StdEncoding.EncodeToString(data),
	})
}

// ShareSecret registers the sealing secret an owner minted for a channel.
func (b *RelayBus) ShareSecret(channel, secret string) { b.gate.shareSecret(channel, secret) }

func (b *RelayBus) writeFrame(frame relayFrame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return domain.ErrDisconnected
	}
	buf, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return b.conn.WriteMessage(websocket.TextMessage, buf)
}

var _ domain.Sidechannel = (*RelayBus)(nil)
