// Package config defines the top-level configuration for the yield market
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
	"github.com/alanyoungcy/yieldmarket/internal/governance"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by YIELDMKT_* environment variables.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Chain      ChainConfig      `toml:"chain"`
	Protocol   ProtocolConfig   `toml:"protocol"`
	Tokens     []TokenConfig    `toml:"tokens"`
	Sources    []SourceConfig   `toml:"sources"`
	Archive    ArchiveConfig    `toml:"archive"`
	Notify     NotifyConfig     `toml:"notify"`
	Events     EventsConfig     `toml:"events"`
	Governance GovernanceConfig `toml:"governance"`
	Simulate   SimulateConfig   `toml:"simulate"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled       bool     `toml:"enabled"`
	Port          int      `toml:"port"`
	CORSOrigins   []string `toml:"cors_origins"`
	ReadTimeout   duration `toml:"read_timeout"`
	WriteTimeout  duration `toml:"write_timeout"`
	SignatureAuth bool     `toml:"signature_auth"`
	// AllowUnsignedCaller accepts the X-Caller header as the caller when
	// signature_auth is off outside simulate mode. Anyone can then act as
	// any address.
	AllowUnsignedCaller bool `toml:"allow_unsigned_caller"`
	// RateLimit is the number of requests per minute allowed per client.
	// Zero disables limiting.
	RateLimit int `toml:"rate_limit"`
}

// PostgresConfig holds PostgreSQL connection parameters.
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// ViewTTL bounds how long a cached market view outlives its snapshot.
	ViewTTL      duration `toml:"view_ttl"`
	StreamMaxLen int64    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	// Prefix namespaces every object key in the bucket.
	Prefix string `toml:"prefix"`
}

// ChainConfig selects the execution clock. With an RPC URL the clock follows
// the chain head; otherwise block numbers are derived from wall time.
type ChainConfig struct {
	RPCURL       string   `toml:"rpc_url"`
	BlockTime    duration `toml:"block_time"`
	Genesis      string   `toml:"genesis"`
	PollInterval duration `toml:"poll_interval"`
}

// ProtocolConfig holds the initial protocol parameters. Rates accept a
// decimal ("0.0035") or a fraction ("1/7").
type ProtocolConfig struct {
	ForgeFeeRate         string `toml:"forge_fee_rate"`
	SwapFee              string `toml:"swap_fee"`
	ProtocolFeeShare     string `toml:"protocol_fee_share"`
	WeightFloor          string `toml:"weight_floor"`
	CurveShiftBlockDelta uint64 `toml:"curve_shift_block_delta"`
	ExpiryDivisor        uint64 `toml:"expiry_divisor"`
}

// Params converts the configured rates into fixed-point protocol parameters.
func (p ProtocolConfig) Params() (governance.Params, error) {
	var out governance.Params
	fields := []struct {
		name string
		src  string
		dst  **big.Int
	}{
		{"forge_fee_rate", p.ForgeFeeRate, &out.ForgeFeeRate},
		{"swap_fee", p.SwapFee, &out.SwapFee},
		{"protocol_fee_share", p.ProtocolFeeShare, &out.ProtocolFeeShare},
		{"weight_floor", p.WeightFloor, &out.WeightFloor},
	}
	for _, f := range fields {
		v, err := domain.ParseFixed(f.src)
		if err != nil {
			return governance.Params{}, fmt.Errorf("protocol: %s: %w", f.name, err)
		}
		*f.dst = v
	}
	out.CurveShiftBlockDelta = p.CurveShiftBlockDelta
	out.ExpiryDivisor = p.ExpiryDivisor
	return out, out.Validate()
}

// TokenConfig registers an underlying token in the ledger.
type TokenConfig struct {
	Symbol   string `toml:"symbol"`
	Address  string `toml:"address"`
	Decimals int32  `toml:"decimals"`
}

// SourceConfig describes one yield source.
type SourceConfig struct {
	ID string `toml:"id"`
	// Kind is "simulated", "compound" or "aave".
	Kind string `toml:"kind"`
	// Family applies to simulated sources: "ratio" or "rebasing".
	Family string `toml:"family"`
	// Pool is the Aave lending pool.
	Pool string `toml:"pool"`
	// Scale is the Compound raw rate meaning one underlying per cToken.
	Scale   string               `toml:"scale"`
	Markets []SourceMarketConfig `toml:"markets"`
}

// SourceMarketConfig lists one underlying of a source.
type SourceMarketConfig struct {
	// Underlying is a token symbol from [[tokens]] or an address.
	Underlying string `toml:"underlying"`
	// Wrapped is the on-chain wrapped token; simulated sources mint their own.
	Wrapped     string `toml:"wrapped"`
	Symbol      string `toml:"symbol"`
	InitialRate string `toml:"initial_rate"`
	// GrowthPerDay is the simulated rate growth per day, e.g. "0.0001".
	GrowthPerDay string `toml:"growth_per_day"`
}

// ArchiveConfig schedules snapshot archival and rate sampling.
type ArchiveConfig struct {
	Enabled            bool   `toml:"enabled"`
	SnapshotCron       string `toml:"snapshot_cron"`
	RateSampleCron     string `toml:"rate_sample_cron"`
	EventRetentionDays int    `toml:"event_retention_days"`
	RestoreOnStart     bool   `toml:"restore_on_start"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// EventsConfig sizes the event dispatcher.
type EventsConfig struct {
	Workers     int      `toml:"workers"`
	QueueSize   int      `toml:"queue_size"`
	SinkTimeout duration `toml:"sink_timeout"`
	Stream      string   `toml:"stream"`
	MemoryLimit int      `toml:"memory_limit"`
}

// GovernanceConfig names the governance and treasury accounts. A key file or
// raw key lets the daemon sign as governance at startup.
type GovernanceConfig struct {
	Address          string `toml:"address"`
	Treasury         string `toml:"treasury"`
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// SimulateConfig scripts the simulate mode.
type SimulateConfig struct {
	Days       int    `toml:"days"`
	SwapAmount string `toml:"swap_amount"`
	Liquidity  string `toml:"liquidity"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Enabled:       true,
			Port:          8000,
			CORSOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
			ReadTimeout:   duration{15 * time.Second},
			WriteTimeout:  duration{15 * time.Second},
			SignatureAuth: true,
			RateLimit:     600,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "yieldmarket",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			ViewTTL:      duration{24 * time.Hour},
			StreamMaxLen: 10_000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "yieldmarket-data",
			ForcePathStyle: true,
		},
		Chain: ChainConfig{
			BlockTime:    duration{12 * time.Second},
			Genesis:      "2023-11-15T00:00:00Z",
			PollInterval: duration{6 * time.Second},
		},
		Protocol: ProtocolConfig{
			ForgeFeeRate:         "3/100",
			SwapFee:              "35/10000",
			ProtocolFeeShare:     "1/7",
			WeightFloor:          "1/100",
			CurveShiftBlockDelta: 1,
			ExpiryDivisor:        86400,
		},
		Tokens: []TokenConfig{
			{Symbol: "DAI", Address: "0x6B175474E89094C44Da98b954EedeAC495271d0F", Decimals: 18},
		},
		Sources: []SourceConfig{
			{
				ID:     "aave",
				Kind:   "simulated",
				Family: "rebasing",
				Markets: []SourceMarketConfig{
					{Underlying: "DAI", Symbol: "aDAI", InitialRate: "1", GrowthPerDay: "0.0001"},
				},
			},
			{
				ID:     "compound",
				Kind:   "simulated",
				Family: "ratio",
				Markets: []SourceMarketConfig{
					{Underlying: "DAI", Symbol: "cDAI", InitialRate: "0.02", GrowthPerDay: "0.0001"},
				},
			},
		},
		Archive: ArchiveConfig{
			SnapshotCron:       "0 * * * *",
			RateSampleCron:     "*/5 * * * *",
			EventRetentionDays: 90,
		},
		Notify: NotifyConfig{
			Events: []string{string(domain.EventMarketCreated), string(domain.EventPauseChanged), string(domain.EventParamsUpdated)},
		},
		Events: EventsConfig{
			Workers:     4,
			QueueSize:   1024,
			SinkTimeout: duration{5 * time.Second},
			Stream:      "yieldmkt:events",
			MemoryLimit: 10_000,
		},
		Governance: GovernanceConfig{
			Address:  "0x0000000000000000000000000000000000000060",
			Treasury: "0x000000000000000000000000000000000000007e",
		},
		Simulate: SimulateConfig{
			Days:       30,
			SwapAmount: "100",
			Liquidity:  "1000",
		},
		Mode:     "api",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"api":      true,
	"full":     true,
	"simulate": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validSourceKinds = map[string]bool{
	"simulated": true,
	"compound":  true,
	"aave":      true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: api, full, simulate)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Governance
	if !common.IsHexAddress(c.Governance.Address) {
		errs = append(errs, "governance: address must be a hex address")
	}
	if !common.IsHexAddress(c.Governance.Treasury) {
		errs = append(errs, "governance: treasury must be a hex address")
	}
	if c.Governance.EncryptedKeyPath != "" && c.Governance.KeyPassword == "" {
		errs = append(errs, "governance: key_password is required when encrypted_key_path is set")
	}

	// Protocol
	if _, err := c.Protocol.Params(); err != nil {
		errs = append(errs, err.Error())
	}

	// Tokens and sources
	symbols := make(map[string]bool, len(c.Tokens))
	for _, t := range c.Tokens {
		if t.Symbol == "" || !common.IsHexAddress(t.Address) {
			errs = append(errs, fmt.Sprintf("tokens: %q needs a symbol and a hex address", t.Symbol))
		}
		if t.Decimals < 0 || t.Decimals > 36 {
			errs = append(errs, fmt.Sprintf("tokens: %s decimals must be 0-36", t.Symbol))
		}
		symbols[t.Symbol] = true
	}
	if len(c.Sources) == 0 {
		errs = append(errs, "sources: at least one source is required")
	}
	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if s.ID == "" {
			errs = append(errs, "sources: id must not be empty")
		}
		if seen[s.ID] {
			errs = append(errs, fmt.Sprintf("sources: duplicate id %q", s.ID))
		}
		seen[s.ID] = true
		if !validSourceKinds[s.Kind] {
			errs = append(errs, fmt.Sprintf("sources: %s: unknown kind %q (valid: simulated, compound, aave)", s.ID, s.Kind))
		}
		if s.Kind == "simulated" {
			if _, err := domain.ParseRateFamily(s.Family); err != nil {
				errs = append(errs, fmt.Sprintf("sources: %s: %v", s.ID, err))
			}
		} else if c.Chain.RPCURL == "" {
			errs = append(errs, fmt.Sprintf("sources: %s: %s sources need chain.rpc_url", s.ID, s.Kind))
		}
		if s.Kind == "aave" && !common.IsHexAddress(s.Pool) {
			errs = append(errs, fmt.Sprintf("sources: %s: pool must be a hex address", s.ID))
		}
		for _, m := range s.Markets {
			if !symbols[m.Underlying] && !common.IsHexAddress(m.Underlying) {
				errs = append(errs, fmt.Sprintf("sources: %s: unknown underlying %q", s.ID, m.Underlying))
			}
			if s.Kind != "simulated" && !common.IsHexAddress(m.Wrapped) {
				errs = append(errs, fmt.Sprintf("sources: %s: %s needs a wrapped token address", s.ID, m.Underlying))
			}
		}
	}

	// Chain
	if c.Chain.RPCURL == "" {
		if _, err := time.Parse(time.RFC3339, c.Chain.Genesis); err != nil {
			errs = append(errs, fmt.Sprintf("chain: genesis must be RFC3339: %v", err))
		}
		if c.Chain.BlockTime.Duration <= 0 {
			errs = append(errs, "chain: block_time must be positive")
		}
	}

	// Stores are only opened in full mode.
	if c.Mode == "full" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Archive.Enabled {
			if c.S3.Endpoint == "" {
				errs = append(errs, "s3: endpoint must not be empty")
			}
			if c.S3.Bucket == "" {
				errs = append(errs, "s3: bucket must not be empty")
			}
		}
	}

	// Events
	if c.Events.Workers < 1 {
		errs = append(errs, "events: workers must be >= 1")
	}
	if c.Events.QueueSize < 1 {
		errs = append(errs, "events: queue_size must be >= 1")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if !c.Server.SignatureAuth && !c.Server.AllowUnsignedCaller && strings.ToLower(c.Mode) != "simulate" {
			errs = append(errs, "server: signature_auth is off; set allow_unsigned_caller to trust X-Caller")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// GenesisTime parses Chain.Genesis; Validate has checked it.
func (c *Config) GenesisTime() time.Time {
	t, _ := time.Parse(time.RFC3339, c.Chain.Genesis)
	return t
}
