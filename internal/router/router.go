// Package router is the single entry point into the protocol core. Every
// state-changing call is serialized, checked against pauses and deadlines
// and run atomically over all components; its events are published only
// when it commits.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/yieldmarket/internal/chain"
	"github.com/alanyoungcy/yieldmarket/internal/domain"
	"github.com/alanyoungcy/yieldmarket/internal/events"
	"github.com/alanyoungcy/yieldmarket/internal/forge"
	"github.com/alanyoungcy/yieldmarket/internal/governance"
	"github.com/alanyoungcy/yieldmarket/internal/market"
	"github.com/alanyoungcy/yieldmarket/internal/oracle"
	"github.com/alanyoungcy/yieldmarket/internal/registry"
	"github.com/alanyoungcy/yieldmarket/internal/token"
	"github.com/alanyoungcy/yieldmarket/internal/txn"
)

const auditTimeout = 3 * time.Second

// Publisher receives the events of committed calls.
type Publisher interface {
	Publish(batch []domain.Event)
}

// Config wires a Router.
type Config struct {
	Bank      *token.Bank
	Auth      *governance.Authority
	Params    *governance.ParamStore
	Pauses    *governance.PauseRegistry
	Registry  *registry.Registry
	Clock     chain.Clock
	Buffer    *events.Buffer
	Publisher Publisher
	Audit     domain.AuditStore
	Logger    *slog.Logger
}

// Router dispatches calls to forges, factories and markets.
type Router struct {
	bank      *token.Bank
	auth      *governance.Authority
	params    *governance.ParamStore
	pauses    *governance.PauseRegistry
	registry  *registry.Registry
	clock     chain.Clock
	buffer    *events.Buffer
	publisher Publisher
	audit     domain.AuditStore
	logger    *slog.Logger
	journal   *txn.Journal

	mu sync.RWMutex

	compMu    sync.RWMutex
	forges    map[domain.SourceID]*forge.Forge
	factories map[domain.FactoryID]*market.Factory
}

// New returns a router with no forges or factories. The buffer must be the
// recorder the registry was built with.
func New(cfg Config) *Router {
	return &Router{
		bank:      cfg.Bank,
		auth:      cfg.Auth,
		params:    cfg.Params,
		pauses:    cfg.Pauses,
		registry:  cfg.Registry,
		clock:     cfg.Clock,
		buffer:    cfg.Buffer,
		publisher: cfg.Publisher,
		audit:     cfg.Audit,
		logger:    cfg.Logger.With(slog.String("component", "router")),
		journal:   txn.NewJournal(cfg.Bank, cfg.Auth, cfg.Params, cfg.Registry),
		forges:    make(map[domain.SourceID]*forge.Forge),
		factories: make(map[domain.FactoryID]*market.Factory),
	}
}

// call describes one dispatched operation. A nil pause list skips the pause
// check, which only governance calls do.
type call struct {
	op       string
	caller   domain.Address
	deadline uint64
	pause    []string
}

func userCall(op string, caller domain.Address, deadline uint64, keys ...string) call {
	return call{op: op, caller: caller, deadline: deadline, pause: append([]string{governance.PauseRouter}, keys...)}
}

func governanceCall(op string, caller domain.Address) call {
	return call{op: op, caller: caller}
}

// exec runs fn atomically. Committed events go to the publisher; a failed
// call discards them and leaves every component as it was.
func (r *Router) exec(ctx context.Context, c call, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("router: %s: %w: %v", c.op, domain.ErrContextDone, err)
	}

	batch, err := r.locked(c, fn)
	if err != nil {
		r.logger.Debug("call rejected",
			slog.String("op", c.op),
			slog.String("caller", c.caller.Hex()),
			slog.String("error", err.Error()),
		)
	} else if r.publisher != nil {
		r.publisher.Publish(batch)
	}
	r.writeAudit(c, len(batch), err)
	return err
}

func (r *Router) locked(c call, fn func() error) ([]domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.deadline != 0 && r.clock.Now() > c.deadline {
		return nil, fmt.Errorf("router: %s: %w", c.op, domain.ErrDeadlineExceeded)
	}
	for _, key := range c.pause {
		if r.pauses.IsPaused(key) {
			return nil, fmt.Errorf("router: %s: %s: %w", c.op, key, domain.ErrPaused)
		}
	}

	r.buffer.Reset()
	if err := r.journal.Atomic(fn); err != nil {
		r.buffer.Reset()
		return nil, fmt.Errorf("router: %s: %w", c.op, err)
	}
	return r.buffer.Drain(), nil
}

func (r *Router) writeAudit(c call, n int, err error) {
	if r.audit == nil {
		return
	}
	detail := map[string]any{
		"caller": c.caller.Hex(),
		"block":  r.clock.BlockNumber(),
		"events": n,
		"ok":     err == nil,
	}
	if err != nil {
		detail["error"] = err.Error()
		detail["kind"] = domain.KindOf(err).String()
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()
	if aerr := r.audit.Log(ctx, c.op, detail); aerr != nil {
		r.logger.Warn("audit log failed", slog.String("op", c.op), slog.String("error", aerr.Error()))
	}
}

func (r *Router) record(typ domain.EventType, caller domain.Address, attrs ...string) {
	ev := domain.NewEvent(typ, domain.TopicRegistry, caller, r.clock.BlockNumber(), r.clock.Now())
	for i := 0; i+1 < len(attrs); i += 2 {
		ev = ev.WithAttr(attrs[i], attrs[i+1])
	}
	r.buffer.Record(ev)
}

// AddSource builds a forge for src and registers it. Governance only.
func (r *Router) AddSource(ctx context.Context, caller domain.Address, src oracle.YieldSource) (*forge.Forge, error) {
	var f *forge.Forge
	err := r.exec(ctx, governanceCall("add_source", caller), func() error {
		f = forge.New(forge.Config{
			Source:   src,
			Bank:     r.bank,
			Registry: r.registry,
			Auth:     r.auth,
			Params:   r.params,
			Clock:    r.clock,
			Events:   r.buffer,
			Logger:   r.logger,
		})
		if err := r.registry.AddForge(ctx, caller, src.SourceID(), f); err != nil {
			return err
		}
		r.journal.Register(f)
		r.compMu.Lock()
		r.forges[f.ID()] = f
		r.compMu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// AddFactory builds a market factory and registers it. Governance only.
func (r *Router) AddFactory(ctx context.Context, caller domain.Address, id domain.FactoryID) (*market.Factory, error) {
	var f *market.Factory
	err := r.exec(ctx, governanceCall("add_factory", caller), func() error {
		f = market.NewFactory(market.FactoryConfig{
			ID:       id,
			Bank:     r.bank,
			Treasury: r.auth,
			Params:   r.params,
			Clock:    r.clock,
			Forges:   forgeLookup{r},
			Events:   r.buffer,
			Logger:   r.logger,
		})
		if err := r.registry.AddMarketFactory(ctx, caller, id, f); err != nil {
			return err
		}
		r.journal.Register(f)
		r.compMu.Lock()
		r.factories[id] = f
		r.compMu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// SetForgeFactoryValidity allows or forbids markets of factory on the claims
// of source. Governance only.
func (r *Router) SetForgeFactoryValidity(ctx context.Context, caller domain.Address, source domain.SourceID, factory domain.FactoryID, valid bool) error {
	return r.exec(ctx, governanceCall("set_forge_factory_validity", caller), func() error {
		return r.registry.SetForgeFactoryValidity(ctx, caller, source, factory, valid)
	})
}

// SetParams replaces the protocol parameters. Governance only.
func (r *Router) SetParams(ctx context.Context, caller domain.Address, p governance.Params) error {
	return r.exec(ctx, governanceCall("set_params", caller), func() error {
		if err := r.params.Set(caller, p); err != nil {
			return err
		}
		r.record(domain.EventParamsUpdated, caller,
			"forge_fee_rate", p.ForgeFeeRate.String(),
			"swap_fee", p.SwapFee.String(),
			"protocol_fee_share", p.ProtocolFeeShare.String(),
		)
		return nil
	})
}

// SetPaused pauses or resumes the router, a forge or a market. Governance
// only.
func (r *Router) SetPaused(ctx context.Context, caller domain.Address, entity string, paused bool) error {
	return r.exec(ctx, governanceCall("set_paused", caller), func() error {
		if err := r.pauses.SetPaused(caller, entity, paused); err != nil {
			return err
		}
		r.record(domain.EventPauseChanged, caller, "entity", entity, "paused", fmt.Sprint(paused))
		return nil
	})
}

// Approve lets spender move amount of tok on behalf of caller. Forges and
// markets pull deposits through allowances.
func (r *Router) Approve(ctx context.Context, caller, tok, spender domain.Address, amount *big.Int) error {
	return r.exec(ctx, userCall("approve", caller, 0), func() error {
		if amount == nil {
			return domain.ErrZeroAmount
		}
		return r.bank.Approve(tok, caller, spender, amount)
	})
}

// Transfer moves amount of tok from caller to to.
func (r *Router) Transfer(ctx context.Context, caller, tok, to domain.Address, amount *big.Int) error {
	return r.exec(ctx, userCall("transfer", caller, 0), func() error {
		if amount == nil || amount.Sign() <= 0 {
			return domain.ErrZeroAmount
		}
		return r.bank.Transfer(tok, caller, to, amount)
	})
}

func (r *Router) forge(id domain.SourceID) (*forge.Forge, error) {
	r.compMu.RLock()
	defer r.compMu.RUnlock()
	f, ok := r.forges[id]
	if !ok {
		return nil, fmt.Errorf("forge %s: %w", id, domain.ErrNotFound)
	}
	return f, nil
}

func (r *Router) factory(id domain.FactoryID) (*market.Factory, error) {
	r.compMu.RLock()
	defer r.compMu.RUnlock()
	f, ok := r.factories[id]
	if !ok {
		return nil, fmt.Errorf("factory %s: %w", id, domain.ErrNotFound)
	}
	return f, nil
}

func (r *Router) market(addr domain.Address) (*market.Market, error) {
	r.compMu.RLock()
	factories := make([]*market.Factory, 0, len(r.factories))
	for _, f := range r.factories {
		factories = append(factories, f)
	}
	r.compMu.RUnlock()
	for _, f := range factories {
		if m, err := f.Market(addr); err == nil {
			return m, nil
		}
	}
	return nil, fmt.Errorf("market %s: %w", addr.Hex(), domain.ErrNotFound)
}

func (r *Router) sortedForges() []*forge.Forge {
	r.compMu.RLock()
	defer r.compMu.RUnlock()
	out := make([]*forge.Forge, 0, len(r.forges))
	for _, f := range r.forges {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// forgeLookup hands factories the forges without taking the call lock.
type forgeLookup struct{ r *Router }

func (l forgeLookup) Forge(id domain.SourceID) (market.YieldForge, error) {
	f, err := l.r.forge(id)
	if err != nil {
		return nil, err
	}
	return f, nil
}
