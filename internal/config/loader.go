package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies YIELDMKT_* environment variable overrides, and
// returns the final Config. An empty path uses the defaults alone. The
// returned Config has NOT been validated; the caller should invoke
// Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		var raw map[string]any
		if _, err := toml.DecodeFile(path, &raw); err != nil {
			return nil, err
		}
		// Lists given in the file replace the default lists; decoding alone
		// would merge into the default elements.
		if _, ok := raw["sources"]; ok {
			cfg.Sources = nil
		}
		if _, ok := raw["tokens"]; ok {
			cfg.Tokens = nil
		}
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known YIELDMKT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setBool(&cfg.Server.Enabled, "YIELDMKT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "YIELDMKT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "YIELDMKT_SERVER_CORS_ORIGINS")
	setDuration(&cfg.Server.ReadTimeout, "YIELDMKT_SERVER_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "YIELDMKT_SERVER_WRITE_TIMEOUT")
	setBool(&cfg.Server.SignatureAuth, "YIELDMKT_SERVER_SIGNATURE_AUTH")
	setBool(&cfg.Server.AllowUnsignedCaller, "YIELDMKT_SERVER_ALLOW_UNSIGNED_CALLER")
	setInt(&cfg.Server.RateLimit, "YIELDMKT_SERVER_RATE_LIMIT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "YIELDMKT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "YIELDMKT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "YIELDMKT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "YIELDMKT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "YIELDMKT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "YIELDMKT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "YIELDMKT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "YIELDMKT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "YIELDMKT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "YIELDMKT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "YIELDMKT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "YIELDMKT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "YIELDMKT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "YIELDMKT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "YIELDMKT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "YIELDMKT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "YIELDMKT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "YIELDMKT_S3_REGION")
	setStr(&cfg.S3.Bucket, "YIELDMKT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "YIELDMKT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "YIELDMKT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "YIELDMKT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "YIELDMKT_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "YIELDMKT_S3_PREFIX")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "YIELDMKT_CHAIN_RPC_URL")
	setDuration(&cfg.Chain.BlockTime, "YIELDMKT_CHAIN_BLOCK_TIME")
	setStr(&cfg.Chain.Genesis, "YIELDMKT_CHAIN_GENESIS")
	setDuration(&cfg.Chain.PollInterval, "YIELDMKT_CHAIN_POLL_INTERVAL")

	// ── Protocol ──
	setStr(&cfg.Protocol.ForgeFeeRate, "YIELDMKT_PROTOCOL_FORGE_FEE_RATE")
	setStr(&cfg.Protocol.SwapFee, "YIELDMKT_PROTOCOL_SWAP_FEE")
	setStr(&cfg.Protocol.ProtocolFeeShare, "YIELDMKT_PROTOCOL_PROTOCOL_FEE_SHARE")
	setStr(&cfg.Protocol.WeightFloor, "YIELDMKT_PROTOCOL_WEIGHT_FLOOR")
	setUint64(&cfg.Protocol.CurveShiftBlockDelta, "YIELDMKT_PROTOCOL_CURVE_SHIFT_BLOCK_DELTA")
	setUint64(&cfg.Protocol.ExpiryDivisor, "YIELDMKT_PROTOCOL_EXPIRY_DIVISOR")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "YIELDMKT_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.SnapshotCron, "YIELDMKT_ARCHIVE_SNAPSHOT_CRON")
	setStr(&cfg.Archive.RateSampleCron, "YIELDMKT_ARCHIVE_RATE_SAMPLE_CRON")
	setInt(&cfg.Archive.EventRetentionDays, "YIELDMKT_ARCHIVE_EVENT_RETENTION_DAYS")
	setBool(&cfg.Archive.RestoreOnStart, "YIELDMKT_ARCHIVE_RESTORE_ON_START")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "YIELDMKT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "YIELDMKT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "YIELDMKT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "YIELDMKT_NOTIFY_EVENTS")

	// ── Events ──
	setInt(&cfg.Events.Workers, "YIELDMKT_EVENTS_WORKERS")
	setInt(&cfg.Events.QueueSize, "YIELDMKT_EVENTS_QUEUE_SIZE")
	setDuration(&cfg.Events.SinkTimeout, "YIELDMKT_EVENTS_SINK_TIMEOUT")
	setStr(&cfg.Events.Stream, "YIELDMKT_EVENTS_STREAM")

	// ── Governance ──
	setStr(&cfg.Governance.Address, "YIELDMKT_GOVERNANCE_ADDRESS")
	setStr(&cfg.Governance.Treasury, "YIELDMKT_GOVERNANCE_TREASURY")
	setStr(&cfg.Governance.PrivateKey, "YIELDMKT_GOVERNANCE_PRIVATE_KEY")
	setStr(&cfg.Governance.EncryptedKeyPath, "YIELDMKT_GOVERNANCE_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Governance.KeyPassword, "YIELDMKT_GOVERNANCE_KEY_PASSWORD")

	// ── Top-level ──
	setStr(&cfg.Mode, "YIELDMKT_MODE")
	setStr(&cfg.LogLevel, "YIELDMKT_LOG_LEVEL")
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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
