// Package config defines the swapd configuration and validation helpers.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by SWAPD_* environment
// variables. It is immutable after wiring; nothing mutates it at runtime.
type Config struct {
	Identity    IdentityConfig    `toml:"identity"`
	Sidechannel SidechannelConfig `toml:"sidechannel"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Lightning   LightningConfig   `toml:"lightning"`
	Solana      SolanaConfig      `toml:"solana"`
	Swap        SwapConfig        `toml:"swap"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// IdentityConfig locates the peer's Ed25519 envelope-signing key.
type IdentityConfig struct {
	KeyPath string `toml:"key_path"`
}

// SidechannelConfig selects and parameterizes the transport.
type SidechannelConfig struct {
	// Backend is "redis", "relay", or "memory".
	Backend           string `toml:"backend"`
	RendezvousChannel string `toml:"rendezvous_channel"`
	RendezvousWelcome string `toml:"rendezvous_welcome"`
	RelayURL          string `toml:"relay_url"`
}

// PostgresConfig holds receipt store connection parameters. An empty DSN
// with an empty host selects the in-memory store.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// Enabled reports whether a database was configured at all.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.DSN) != "" || p.Host != ""
}

// RedisConfig holds Redis connection parameters for the lock manager and
// the redis sidechannel backend.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds object storage parameters for receipt archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`

	RetentionDays int `toml:"retention_days"`
}

// LightningConfig holds lnd connection parameters.
type LightningConfig struct {
	Host              string `toml:"host"`
	TLSCertPath       string `toml:"tls_cert_path"`
	MacaroonPath      string `toml:"macaroon_path"`
	NodePubkey        string `toml:"node_pubkey"`
	PaymentTimeoutSec int    `toml:"payment_timeout_sec"`
	MaxFeeSat         int64  `toml:"max_fee_sat"`
}

// SolanaConfig holds chain RPC and escrow program parameters.
type SolanaConfig struct {
	RPCEndpoint string `toml:"rpc_endpoint"`
	ProgramID   string `toml:"program_id"`
	Mint        string `toml:"mint"`
	// KeySeedHex is the hex seed of this peer's on-chain signing key.
	KeySeedHex string `toml:"key_seed_hex"`
	// TokenAccount is this peer's token account for the swap mint.
	TokenAccount string `toml:"token_account"`

	PlatformFeeBps    int    `toml:"platform_fee_bps"`
	TradeFeeBps       int    `toml:"trade_fee_bps"`
	TradeFeeCollector string `toml:"trade_fee_collector"`
}

// SwapConfig holds negotiation and settlement policy.
type SwapConfig struct {
	MaxBTCSats      int64 `toml:"max_btc_sats"`
	RFQTTLSec       int64 `toml:"rfq_ttl_sec"`
	QuoteTTLSec     int64 `toml:"quote_ttl_sec"`
	InviteTTLSec    int64 `toml:"invite_ttl_sec"`
	TermsTTLSec     int64 `toml:"terms_ttl_sec"`
	RefundWindowSec int64 `toml:"refund_window_sec"`
	SafetyMarginSec int64 `toml:"safety_margin_sec"`
	USDTDecimals    int   `toml:"usdt_decimals"`

	// StripUnitSuffix opts into the permissive argument-repair behavior
	// that drops trailing unit words ("0.12 usdt" -> "0.12").
	StripUnitSuffix bool `toml:"strip_unit_suffix"`
}

// ServerConfig holds the control API parameters.
type ServerConfig struct {
	Enabled     bool   `toml:"enabled"`
	Port        int    `toml:"port"`
	BridgeToken string `toml:"bridge_token"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Identity: IdentityConfig{
			KeyPath: "swapd.key",
		},
		Sidechannel: SidechannelConfig{
			Backend:           "redis",
			RendezvousChannel: "0000intercomswapbtcusdt",
		},
		Postgres: PostgresConfig{
			Port:          5432,
			Database:      "swapd",
			User:          "swapd",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region:        "us-east-1",
			Bucket:        "swapd-receipts",
			RetentionDays: 90,
		},
		Lightning: LightningConfig{
			Host:              "localhost:10009",
			PaymentTimeoutSec: 60,
			MaxFeeSat:         50,
		},
		Solana: SolanaConfig{
			RPCEndpoint: "http://localhost:8899",
		},
		Swap: SwapConfig{
			MaxBTCSats:      10_000_000,
			RFQTTLSec:       120,
			QuoteTTLSec:     120,
			InviteTTLSec:    3600,
			TermsTTLSec:     600,
			RefundWindowSec: 3600,
			SafetyMarginSec: 600,
			USDTDecimals:    6,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8310,
		},
		Notify: NotifyConfig{
			Events: []string{"trade_settled", "trade_cancelled", "trade_refunded", "verify_failed", "trade_inconsistent", "error"},
		},
		Mode:     "service",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"service": true,
	"client":  true,
	"simnet":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: service, client, simnet)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	simnet := strings.ToLower(c.Mode) == "simnet"

	// Sidechannel
	switch c.Sidechannel.Backend {
	case "redis":
		if !simnet && c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty for the redis sidechannel backend")
		}
	case "relay":
		if c.Sidechannel.RelayURL == "" {
			errs = append(errs, "sidechannel: relay_url is required for the relay backend")
		}
	case "memory":
		if !simnet {
			errs = append(errs, "sidechannel: memory backend is only valid in simnet mode")
		}
	default:
		errs = append(errs, fmt.Sprintf("sidechannel: unknown backend %q (valid: redis, relay, memory)", c.Sidechannel.Backend))
	}
	if c.Sidechannel.RendezvousChannel == "" {
		errs = append(errs, "sidechannel: rendezvous_channel must not be empty")
	}

	// External collaborators are mandatory outside simnet.
	if !simnet {
		if c.Lightning.Host == "" {
			errs = append(errs, "lightning: host must not be empty")
		}
		if c.Lightning.TLSCertPath == "" || c.Lightning.MacaroonPath == "" {
			errs = append(errs, "lightning: tls_cert_path and macaroon_path are required")
		}
		if c.Lightning.NodePubkey == "" {
			errs = append(errs, "lightning: node_pubkey must not be empty")
		}
		if c.Solana.RPCEndpoint == "" {
			errs = append(errs, "solana: rpc_endpoint must not be empty")
		}
		if c.Solana.ProgramID == "" {
			errs = append(errs, "solana: program_id must not be empty")
		}
		if c.Solana.Mint == "" {
			errs = append(errs, "solana: mint must not be empty")
		}
		if c.Solana.KeySeedHex == "" {
			errs = append(errs, "solana: key_seed_hex must not be empty")
		}
		if c.Solana.TokenAccount == "" {
			errs = append(errs, "solana: token_account must not be empty")
		}
	}

	// Postgres pool shape, when enabled.
	if c.Postgres.Enabled() {
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.RetentionDays < 1 {
			errs = append(errs, "s3: retention_days must be >= 1")
		}
	}

	// Swap policy
	if c.Swap.RefundWindowSec <= c.Swap.SafetyMarginSec {
		errs = append(errs, "swap: refund_window_sec must exceed safety_margin_sec")
	}
	if c.Swap.USDTDecimals < 1 || c.Swap.USDTDecimals > 18 {
		errs = append(errs, "swap: usdt_decimals must be 1-18")
	}
	for name, v := range map[string]int64{
		"rfq_ttl_sec":   c.Swap.RFQTTLSec,
		"quote_ttl_sec": c.Swap.QuoteTTLSec,
		"terms_ttl_sec": c.Swap.TermsTTLSec,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Sprintf("swap: %s must be > 0", name))
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.BridgeToken == "" && !simnet {
			errs = append(errs, "server: bridge_token is required when the control server is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
