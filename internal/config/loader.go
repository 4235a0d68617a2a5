package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SWAPD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SWAPD_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Identity ──
	setStr(&cfg.Identity.KeyPath, "SWAPD_IDENTITY_KEY_PATH")

	// ── Sidechannel ──
	setStr(&cfg.Sidechannel.Backend, "SWAPD_SIDECHANNEL_BACKEND")
	setStr(&cfg.Sidechannel.RendezvousChannel, "SWAPD_SIDECHANNEL_RENDEZVOUS_CHANNEL")
	setStr(&cfg.Sidechannel.RendezvousWelcome, "SWAPD_SIDECHANNEL_RENDEZVOUS_WELCOME")
	setStr(&cfg.Sidechannel.RelayURL, "SWAPD_SIDECHANNEL_RELAY_URL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SWAPD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SWAPD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SWAPD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SWAPD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SWAPD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SWAPD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SWAPD_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SWAPD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SWAPD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SWAPD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SWAPD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SWAPD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SWAPD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SWAPD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SWAPD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SWAPD_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SWAPD_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SWAPD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SWAPD_S3_REGION")
	setStr(&cfg.S3.Bucket, "SWAPD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SWAPD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SWAPD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SWAPD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SWAPD_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "SWAPD_S3_RETENTION_DAYS")

	// ── Lightning ──
	setStr(&cfg.Lightning.Host, "SWAPD_LIGHTNING_HOST")
	setStr(&cfg.Lightning.TLSCertPath, "SWAPD_LIGHTNING_TLS_CERT_PATH")
	setStr(&cfg.Lightning.MacaroonPath, "SWAPD_LIGHTNING_MACAROON_PATH")
	setStr(&cfg.Lightning.NodePubkey, "SWAPD_LIGHTNING_NODE_PUBKEY")
	setInt(&cfg.Lightning.PaymentTimeoutSec, "SWAPD_LIGHTNING_PAYMENT_TIMEOUT_SEC")
	setInt64(&cfg.Lightning.MaxFeeSat, "SWAPD_LIGHTNING_MAX_FEE_SAT")

	// ── Solana ──
	setStr(&cfg.Solana.RPCEndpoint, "SWAPD_SOLANA_RPC_ENDPOINT")
	setStr(&cfg.Solana.ProgramID, "SWAPD_SOLANA_PROGRAM_ID")
	setStr(&cfg.Solana.Mint, "SWAPD_SOLANA_MINT")
	setStr(&cfg.Solana.KeySeedHex, "SWAPD_SOLANA_KEY_SEED_HEX")
	setStr(&cfg.Solana.TokenAccount, "SWAPD_SOLANA_TOKEN_ACCOUNT")
	setInt(&cfg.Solana.PlatformFeeBps, "SWAPD_SOLANA_PLATFORM_FEE_BPS")
	setInt(&cfg.Solana.TradeFeeBps, "SWAPD_SOLANA_TRADE_FEE_BPS")
	setStr(&cfg.Solana.TradeFeeCollector, "SWAPD_SOLANA_TRADE_FEE_COLLECTOR")

	// ── Swap ──
	setInt64(&cfg.Swap.MaxBTCSats, "SWAPD_SWAP_MAX_BTC_SATS")
	setInt64(&cfg.Swap.RFQTTLSec, "SWAPD_SWAP_RFQ_TTL_SEC")
	setInt64(&cfg.Swap.QuoteTTLSec, "SWAPD_SWAP_QUOTE_TTL_SEC")
	setInt64(&cfg.Swap.InviteTTLSec, "SWAPD_SWAP_INVITE_TTL_SEC")
	setInt64(&cfg.Swap.TermsTTLSec, "SWAPD_SWAP_TERMS_TTL_SEC")
	setInt64(&cfg.Swap.RefundWindowSec, "SWAPD_SWAP_REFUND_WINDOW_SEC")
	setInt64(&cfg.Swap.SafetyMarginSec, "SWAPD_SWAP_SAFETY_MARGIN_SEC")
	setInt(&cfg.Swap.USDTDecimals, "SWAPD_SWAP_USDT_DECIMALS")
	setBool(&cfg.Swap.StripUnitSuffix, "SWAPD_SWAP_STRIP_UNIT_SUFFIX")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SWAPD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SWAPD_SERVER_PORT")
	setStr(&cfg.Server.BridgeToken, "SWAPD_SERVER_BRIDGE_TOKEN")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SWAPD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SWAPD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SWAPD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SWAPD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SWAPD_MODE")
	setStr(&cfg.LogLevel, "SWAPD_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
