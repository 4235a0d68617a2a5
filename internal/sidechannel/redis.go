package sidechannel

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/intercomswap/swapd/internal/domain"
)

// RedisConfig holds connection parameters for the redis-backed bus.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// RedisBus implements domain.Sidechannel over Redis Pub/Sub. Gating is the
// gate's sealing discipline: swap-channel traffic on the broker is sealed,
// and only holders of the channel invite surface it.
type RedisBus struct {
	rdb  *redis.Client
	gate *gate
}

// NewRedisBus connects and verifies the server with a ping.
func NewRedisBus(ctx context.Context, cfg RedisConfig, pubkeyHex string, clock func() int64) (*RedisBus, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("sidechannel: redis ping: %w", err)
	}
	return &RedisBus{rdb: rdb, gate: newGate(pubkeyHex, clock)}, nil
}

// Close releases the connection pool.
func (b *RedisBus) Close() error { return b.rdb.Close() }

// Subscribe opens one pub/sub subscription covering all channels and
// returns a stream of gate-filtered messages. The subscription closes with
// the context.
func (b *RedisBus) Subscribe(ctx context.Context, channels []string) (<-chan domain.SidechannelMessage, error) {
	pubsub := b.rdb.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("sidechannel: redis subscribe: %w", err)
	}

	out := make(chan domain.SidechannelMessage, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				plain, deliver := b.gate.inbound(msg.Channel, []byte(msg.Payload))
				if !deliver {
					continue
				}
				select {
				case out <- domain.SidechannelMessage{Channel: msg.Channel, Payload: plain}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Join validates capabilities for channel.
func (b *RedisBus) Join(_ context.Context, channel string, opts domain.JoinOpts) error {
	return b.gate.join(channel, opts)
}

// Send publishes, sealing gated channels.
func (b *RedisBus) Send(ctx context.Context, channel string, payload []byte, opts domain.SendOpts) error {
	data, err := b.gate.outbound(channel, payload, opts)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("sidechannel: publish %s: %w", channel, err)
	}
	return nil
}

// ShareSecret registers the sealing secret an owner minted for a channel.
func (b *RedisBus) ShareSecret(channel, secret string) { b.gate.shareSecret(channel, secret) }

var _ domain.Sidechannel = (*RedisBus)(nil)
