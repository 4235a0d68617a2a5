package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	s3blob "github.com/intercomswap/swapd/internal/blob/s3"
	cacheredis "github.com/intercomswap/swapd/internal/cache/redis"
	"github.com/intercomswap/swapd/internal/chain/solana"
	"github.com/intercomswap/swapd/internal/config"
	"github.com/intercomswap/swapd/internal/crypto"
	"github.com/intercomswap/swapd/internal/domain"
	"github.com/intercomswap/swapd/internal/escrow"
	lndclient "github.com/intercomswap/swapd/internal/lightning/lnd"
	"github.com/intercomswap/swapd/internal/notify"
	"github.com/intercomswap/swapd/internal/service"
	"github.com/intercomswap/swapd/internal/sidechannel"
	"github.com/intercomswap/swapd/internal/store/memory"
	"github.com/intercomswap/swapd/internal/store/postgres"
)

// Dependencies bundles everything the run modes operate on. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Keys     *crypto.Keypair
	Bus      domain.Sidechannel
	RelayBus *sidechannel.RelayBus // non-nil when the relay backend is active
	Receipts domain.ReceiptStore
	Trades   domain.TradeStore
	Locks    domain.LockManager
	Notifier *notify.Notifier
	Registry *prometheus.Registry
	Metrics  *service.Metrics
	Runner   *service.Runner

	Lightning domain.LightningRPC
	Chain     domain.ChainRPC
	Escrow    *service.ChainEscrow
	// SolOwner is this peer's Solana address in base58.
	SolOwner string

	Archiver domain.Archiver
}

// Wire constructs the concrete dependencies for service and client modes.
// Simnet mode builds its own in-process world and never calls this.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	keys, err := crypto.LoadOrCreate(cfg.Identity.KeyPath)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: identity: %w", err)
	}
	deps.Keys = keys

	// --- Stores ---
	if cfg.Postgres.Enabled() {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)
		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Receipts = postgres.NewReceiptStore(pgClient.Pool())
		deps.Trades = postgres.NewTradeStore(pgClient.Pool())
	} else {
		deps.Receipts = memory.NewReceiptStore()
		deps.Trades = memory.NewTradeStore()
	}

	// --- Locks ---
	if cfg.Redis.Addr != "" {
		redisClient, err := cacheredis.New(ctx, cacheredis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Locks = cacheredis.NewLockManager(redisClient)
	} else {
		deps.Locks = cacheredis.NewMemLockManager()
	}

	// --- Sidechannel ---
	now := func() int64 { return time.Now().Unix() }
	switch cfg.Sidechannel.Backend {
	case "redis":
		bus, err := sidechannel.NewRedisBus(ctx, sidechannel.RedisConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		}, keys.PubkeyHex(), now)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: sidechannel: %w", err)
		}
		closers = append(closers, func() { _ = bus.Close() })
		deps.Bus = bus
	case "relay":
		relay := sidechannel.NewRelayBus(cfg.Sidechannel.RelayURL, keys.PubkeyHex(), now, logger)
		deps.Bus = relay
		deps.RelayBus = relay
	default:
		cleanup()
		return nil, nil, fmt.Errorf("wire: sidechannel backend %q not wireable outside simnet", cfg.Sidechannel.Backend)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Metrics + runner ---
	deps.Registry = prometheus.NewRegistry()
	deps.Metrics = service.NewMetrics(deps.Registry)
	deps.Runner = service.NewRunner(service.RunnerConfig{
		Keys:     keys,
		Bus:      deps.Bus,
		Receipts: deps.Receipts,
		Trades:   deps.Trades,
		Locks:    deps.Locks,
		Notifier: deps.Notifier,
		Metrics:  deps.Metrics,
		Logger:   logger,
	})

	// --- Lightning ---
	ln, err := lndclient.New(lndclient.Config{
		Host:              cfg.Lightning.Host,
		TLSCertPath:       cfg.Lightning.TLSCertPath,
		MacaroonPath:      cfg.Lightning.MacaroonPath,
		PaymentTimeoutSec: int32(cfg.Lightning.PaymentTimeoutSec),
		MaxFeeSat:         cfg.Lightning.MaxFeeSat,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: lnd: %w", err)
	}
	closers = append(closers, func() { _ = ln.Close() })
	deps.Lightning = ln

	// --- Chain ---
	chainClient := solana.New(cfg.Solana.RPCEndpoint)
	deps.Chain = chainClient
	solKey, err := crypto.FromSeedHex(cfg.Solana.KeySeedHex)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: solana key: %w", err)
	}
	escrowClient := solana.NewEscrowClient(chainClient, solana.EscrowClientConfig{
		ProgramID:         cfg.Solana.ProgramID,
		PlatformFeeBps:    uint16(cfg.Solana.PlatformFeeBps),
		TradeFeeBps:       uint16(cfg.Solana.TradeFeeBps),
		TradeFeeCollector: cfg.Solana.TradeFeeCollector,
	})
	deps.Escrow = service.NewChainEscrow(escrowClient, solKey.Private(), cfg.Solana.TokenAccount)
	var ownerKey [32]byte
	copy(ownerKey[:], solKey.Public())
	deps.SolOwner = escrow.EncodeKey(ownerKey)

	// --- Receipt archival ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Receipts)
	}

	return deps, cleanup, nil
}
