package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	s3blob "github.com/alanyoungcy/yieldmarket/internal/blob/s3"
	"github.com/alanyoungcy/yieldmarket/internal/cache/memory"
	"github.com/alanyoungcy/yieldmarket/internal/cache/redis"
	"github.com/alanyoungcy/yieldmarket/internal/chain"
	"github.com/alanyoungcy/yieldmarket/internal/config"
	"github.com/alanyoungcy/yieldmarket/internal/crypto"
	"github.com/alanyoungcy/yieldmarket/internal/domain"
	"github.com/alanyoungcy/yieldmarket/internal/events"
	"github.com/alanyoungcy/yieldmarket/internal/governance"
	"github.com/alanyoungcy/yieldmarket/internal/notify"
	"github.com/alanyoungcy/yieldmarket/internal/oracle"
	"github.com/alanyoungcy/yieldmarket/internal/registry"
	"github.com/alanyoungcy/yieldmarket/internal/rmath"
	"github.com/alanyoungcy/yieldmarket/internal/router"
	"github.com/alanyoungcy/yieldmarket/internal/server/middleware"
	"github.com/alanyoungcy/yieldmarket/internal/server/ws"
	"github.com/alanyoungcy/yieldmarket/internal/store/postgres"
	"github.com/alanyoungcy/yieldmarket/internal/token"
)

// GenericFactory is the market factory every configured source is paired
// with.
const GenericFactory domain.FactoryID = "generic"

// SimulatedMarket is one underlying of a simulated source together with its
// scripted daily rate growth.
type SimulatedMarket struct {
	Source     *oracle.SimulatedSource
	Underlying domain.Address
	Wrapped    domain.Address
	// Growth is the fixed-point factor applied to the rate once per day.
	Growth *big.Int
}

// Dependencies bundles everything the operating modes need. It is built by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Clocks. HeaderClock is set when following a node, ManualClock in
	// simulate mode. Clock is whichever one is in use.
	Clock       chain.Clock
	HeaderClock *chain.HeaderClock
	ManualClock *chain.ManualClock

	// Protocol
	Bank       *token.Bank
	Router     *router.Router
	Sources    *oracle.Table
	Simulated  []SimulatedMarket
	Tokens     map[string]domain.Address
	Governance domain.Address

	// Events
	Dispatcher *events.Dispatcher
	EventStore domain.EventStore
	Notifier   *notify.Notifier
	Hub        *ws.Hub

	// Stores, only in full mode
	AuditStore    domain.AuditStore
	SnapshotStore domain.SnapshotStore
	RateStore     domain.RateStore

	// Caches
	ViewCache   domain.MarketViewCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	Archiver domain.Archiver

	// Checks are the readiness checks served by the health route.
	Checks map[string]func(context.Context) error
}

// needsStores returns true for modes that open postgres and redis.
func needsStores(mode string) bool { return mode == "full" }

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(stage string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", stage, err)
	}

	mode := strings.ToLower(cfg.Mode)
	deps := &Dependencies{
		Tokens: make(map[string]domain.Address),
		Checks: make(map[string]func(context.Context) error),
	}

	// --- Clock and chain client ---
	var eth *ethclient.Client
	if cfg.Chain.RPCURL != "" {
		c, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
		if err != nil {
			return fail("dial rpc", err)
		}
		eth = c
		closers = append(closers, c.Close)
	}
	switch {
	case mode == "simulate":
		deps.ManualClock = chain.NewManualClock(uint64(cfg.GenesisTime().Unix()), 1)
		deps.Clock = deps.ManualClock
	case eth != nil:
		hc, err := chain.NewHeaderClock(ctx, eth, logger)
		if err != nil {
			return fail("header clock", err)
		}
		deps.HeaderClock = hc
		deps.Clock = hc
	default:
		deps.Clock = chain.NewSystemClock(cfg.GenesisTime(), cfg.Chain.BlockTime.Duration)
	}

	var eventStore domain.EventStore = events.NewMemoryStore(cfg.Events.MemoryLimit)
	var auditStore domain.AuditStore

	if needsStores(mode) {
		// --- PostgreSQL ---
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
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)
		deps.Checks["postgres"] = pgClient.Ping

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}

		pool := pgClient.Pool()
		eventStore = postgres.NewEventStore(pool)
		auditStore = postgres.NewAuditStore(pool)
		deps.AuditStore = auditStore
		deps.SnapshotStore = postgres.NewSnapshotStore(pool)
		deps.RateStore = postgres.NewRateStore(pool)

		// --- Redis ---
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Checks["redis"] = redisClient.Ping

		deps.ViewCache = redis.NewMarketViewCache(redisClient, cfg.Redis.ViewTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)

		// --- S3 blob storage ---
		if cfg.Archive.Enabled {
			s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
				Endpoint:       cfg.S3.Endpoint,
				Region:         cfg.S3.Region,
				Bucket:         cfg.S3.Bucket,
				AccessKey:      cfg.S3.AccessKey,
				SecretKey:      cfg.S3.SecretKey,
				UseSSL:         cfg.S3.UseSSL,
				ForcePathStyle: cfg.S3.ForcePathStyle,
				Prefix:         cfg.S3.Prefix,
			})
			if err != nil {
				return fail("s3", err)
			}
			closers = append(closers, func() { _ = s3Client.Close() })
			deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), eventStore, auditStore)
		}
	}
	if deps.ViewCache == nil {
		deps.ViewCache = memory.NewMarketViewCache()
	}
	if deps.RateLimiter == nil {
		deps.RateLimiter = middleware.NewLocalLimiter()
	}
	deps.EventStore = eventStore

	// --- Notifications and websocket hub ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	deps.Hub = ws.NewHub(ws.Config{Mode: mode, StartedAt: time.Now().UTC()}, logger)

	// --- Event dispatcher ---
	sinks := []events.Sink{events.StoreSink{Store: eventStore}}
	if deps.SignalBus != nil {
		// Every replica's hub follows the bus, so the local hub is not a sink.
		sinks = append(sinks, events.BusSink{Bus: deps.SignalBus, Stream: cfg.Events.Stream})
	} else {
		sinks = append(sinks, deps.Hub)
	}
	if deps.Notifier.Enabled() {
		sinks = append(sinks, deps.Notifier)
	}
	deps.Dispatcher = events.NewDispatcher(events.DispatcherConfig{
		Workers:     cfg.Events.Workers,
		QueueSize:   cfg.Events.QueueSize,
		SinkTimeout: cfg.Events.SinkTimeout.Duration,
	}, logger, sinks...)
	closers = append(closers, deps.Dispatcher.Close)

	// --- Governance ---
	gov, err := governanceAddress(cfg.Governance)
	if err != nil {
		return fail("governance", err)
	}
	deps.Governance = gov
	auth := governance.NewAuthority(gov, common.HexToAddress(cfg.Governance.Treasury))
	protoParams, err := cfg.Protocol.Params()
	if err != nil {
		return fail("protocol params", err)
	}
	params, err := governance.NewParamStore(auth, protoParams)
	if err != nil {
		return fail("protocol params", err)
	}

	// --- Token bank ---
	deps.Bank = token.NewBank()
	for _, t := range cfg.Tokens {
		addr := common.HexToAddress(t.Address)
		if err := deps.Bank.Register(token.Metadata{Address: addr, Symbol: t.Symbol, Decimals: t.Decimals}); err != nil {
			return fail("tokens", err)
		}
		deps.Tokens[t.Symbol] = addr
	}

	// --- Registry and router ---
	buf := events.NewBuffer()
	deps.Router = router.New(router.Config{
		Bank:      deps.Bank,
		Auth:      auth,
		Params:    params,
		Pauses:    governance.NewPauseRegistry(auth),
		Registry:  registry.New(registry.Config{Auth: auth, Clock: deps.Clock, Events: buf, Logger: logger}),
		Clock:     deps.Clock,
		Buffer:    buf,
		Publisher: deps.Dispatcher,
		Audit:     auditStore,
		Logger:    logger,
	})

	// --- Yield sources ---
	table, err := oracle.NewTable()
	if err != nil {
		return fail("sources", err)
	}
	deps.Sources = table
	if _, err := deps.Router.AddFactory(ctx, gov, GenericFactory); err != nil {
		return fail("factory", err)
	}
	for _, sc := range cfg.Sources {
		src, err := deps.buildSource(sc, eth)
		if err != nil {
			return fail("source "+sc.ID, err)
		}
		if _, err := deps.Router.AddSource(ctx, gov, src); err != nil {
			return fail("source "+sc.ID, err)
		}
		if err := table.Add(src); err != nil {
			return fail("source "+sc.ID, err)
		}
		if err := deps.Router.SetForgeFactoryValidity(ctx, gov, src.SourceID(), GenericFactory, true); err != nil {
			return fail("source "+sc.ID, err)
		}
		logger.Info("yield source registered",
			slog.String("source", sc.ID),
			slog.String("kind", sc.Kind),
			slog.Int("markets", len(sc.Markets)),
		)
	}

	return deps, cleanup, nil
}

// governanceAddress returns the configured governance account. When a key is
// configured it must belong to that account.
func governanceAddress(cfg config.GovernanceConfig) (domain.Address, error) {
	addr := common.HexToAddress(cfg.Address)
	keyCfg := crypto.KeyConfig{
		RawPrivateKey:    cfg.PrivateKey,
		EncryptedKeyPath: cfg.EncryptedKeyPath,
		KeyPassword:      cfg.KeyPassword,
	}
	if !keyCfg.Configured() {
		return addr, nil
	}
	key, err := crypto.LoadKey(keyCfg)
	if err != nil {
		return domain.ZeroAddress, err
	}
	signer, err := crypto.NewSigner(key)
	if err != nil {
		return domain.ZeroAddress, err
	}
	if signer.Address() != addr {
		return domain.ZeroAddress, fmt.Errorf("key belongs to %s, not %s", signer.Address().Hex(), addr.Hex())
	}
	return addr, nil
}

// underlying resolves a token symbol or address. Addresses missing from the
// bank are registered with 18 decimals.
func (d *Dependencies) underlying(ref string) (domain.Address, error) {
	if addr, ok := d.Tokens[ref]; ok {
		return addr, nil
	}
	if !common.IsHexAddress(ref) {
		return domain.ZeroAddress, fmt.Errorf("unknown underlying %q: %w", ref, domain.ErrNotFound)
	}
	addr := common.HexToAddress(ref)
	if !d.Bank.Exists(addr) {
		if err := d.Bank.Register(token.Metadata{Address: addr, Symbol: addr.Hex()[:10], Decimals: 18}); err != nil {
			return domain.ZeroAddress, err
		}
	}
	return addr, nil
}

func (d *Dependencies) buildSource(sc config.SourceConfig, eth *ethclient.Client) (oracle.YieldSource, error) {
	id := domain.SourceID(sc.ID)
	if sc.Kind == "simulated" {
		family, err := domain.ParseRateFamily(sc.Family)
		if err != nil {
			return nil, err
		}
		src := oracle.NewSimulatedSource(id, family, d.Bank)
		for _, m := range sc.Markets {
			und, err := d.underlying(m.Underlying)
			if err != nil {
				return nil, err
			}
			rate, err := fixedOr(m.InitialRate, "1")
			if err != nil {
				return nil, fmt.Errorf("initial_rate: %w", err)
			}
			growth, err := fixedOr(m.GrowthPerDay, "0")
			if err != nil {
				return nil, fmt.Errorf("growth_per_day: %w", err)
			}
			symbol := m.Symbol
			if symbol == "" {
				symbol = sc.ID + "-" + m.Underlying
			}
			wrapped, err := src.List(und, symbol, rate)
			if err != nil {
				return nil, err
			}
			d.Simulated = append(d.Simulated, SimulatedMarket{
				Source:     src,
				Underlying: und,
				Wrapped:    wrapped,
				Growth:     growth.Add(growth, rmath.One()),
			})
		}
		return src, nil
	}

	if eth == nil {
		return nil, fmt.Errorf("%s source needs chain.rpc_url: %w", sc.Kind, domain.ErrInvalidParams)
	}
	wrapped := make(map[domain.Address]domain.Address, len(sc.Markets))
	for _, m := range sc.Markets {
		und, err := d.underlying(m.Underlying)
		if err != nil {
			return nil, err
		}
		meta, err := d.Bank.Metadata(und)
		if err != nil {
			return nil, err
		}
		w := common.HexToAddress(m.Wrapped)
		symbol := m.Symbol
		if symbol == "" {
			symbol = sc.ID + "-" + meta.Symbol
		}
		if err := d.Bank.Register(token.Metadata{Address: w, Symbol: symbol, Decimals: meta.Decimals}); err != nil {
			return nil, err
		}
		wrapped[und] = w
	}
	switch sc.Kind {
	case "compound":
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
		if sc.Scale != "" {
			if _, ok := scale.SetString(sc.Scale, 10); !ok {
				return nil, fmt.Errorf("%w: scale %q", domain.ErrInvalidParams, sc.Scale)
			}
		}
		return oracle.NewCompoundSource(id, eth, wrapped, scale)
	case "aave":
		return oracle.NewAaveSource(id, eth, common.HexToAddress(sc.Pool), wrapped)
	default:
		return nil, fmt.Errorf("%w: kind %q", domain.ErrInvalidParams, sc.Kind)
	}
}

func fixedOr(s, def string) (*big.Int, error) {
	if s == "" {
		s = def
	}
	return domain.ParseFixed(s)
}
