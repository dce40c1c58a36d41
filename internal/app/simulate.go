package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/alanyoungcy/yieldmarket/internal/config"
	"github.com/alanyoungcy/yieldmarket/internal/domain"
)

const day = 24 * time.Hour

var (
	simLP     = domain.DeriveAddress("SIMULATION", []byte("liquidity-provider"))
	simTrader = domain.DeriveAddress("SIMULATION", []byte("trader"))
)

// SimulationResult summarises the scripted run over one simulated market.
type SimulationResult struct {
	Source     domain.SourceID
	Underlying domain.Address
	Market     domain.Address
	Expiry     uint64

	Tokenized      *big.Int
	YieldBought    *big.Int
	LpInterest     *big.Int
	TraderInterest *big.Int
	Principal      *big.Int
	FinalSpot      string
}

// Simulation replays a tokenize, trade and redeem lifecycle on every
// simulated market against the manual clock.
type Simulation struct {
	deps      *Dependencies
	cfg       config.SimulateConfig
	blockTime time.Duration
	logger    *slog.Logger
}

func NewSimulation(deps *Dependencies, cfg config.SimulateConfig, blockTime time.Duration, logger *slog.Logger) *Simulation {
	if blockTime <= 0 {
		blockTime = 12 * time.Second
	}
	return &Simulation{deps: deps, cfg: cfg, blockTime: blockTime, logger: logger.With(slog.String("component", "simulation"))}
}

// Run executes the scenario. It needs the manual clock.
func (s *Simulation) Run(ctx context.Context) ([]SimulationResult, error) {
	if s.deps.ManualClock == nil {
		return nil, fmt.Errorf("simulation: %w: needs the manual clock", domain.ErrInvalidParams)
	}
	if s.cfg.Days < 2 {
		return nil, fmt.Errorf("simulation: %w: days must be at least 2", domain.ErrInvalidParams)
	}

	results := make([]SimulationResult, 0, len(s.deps.Simulated))
	for _, m := range s.deps.Simulated {
		res, err := s.runMarket(ctx, m)
		if err != nil {
			return results, fmt.Errorf("simulation: %s/%s: %w", m.Source.SourceID(), m.Underlying.Hex(), err)
		}
		s.logger.InfoContext(ctx, "simulated market settled",
			slog.String("source", string(res.Source)),
			slog.String("market", res.Market.Hex()),
			slog.Uint64("expiry", res.Expiry),
			slog.String("tokenized", res.Tokenized.String()),
			slog.String("yield_bought", res.YieldBought.String()),
			slog.String("lp_interest", res.LpInterest.String()),
			slog.String("trader_interest", res.TraderInterest.String()),
			slog.String("principal", res.Principal.String()),
			slog.String("final_spot", res.FinalSpot),
		)
		results = append(results, res)
	}
	return results, nil
}

func (s *Simulation) runMarket(ctx context.Context, m SimulatedMarket) (SimulationResult, error) {
	r, bank, clock := s.deps.Router, s.deps.Bank, s.deps.ManualClock
	src := m.Source.SourceID()
	res := SimulationResult{Source: src, Underlying: m.Underlying}

	meta, err := bank.Metadata(m.Underlying)
	if err != nil {
		return res, err
	}
	liquidity, err := domain.ParseAmount(s.cfg.Liquidity, meta.Decimals)
	if err != nil {
		return res, fmt.Errorf("liquidity: %w", err)
	}
	swap, err := domain.ParseAmount(s.cfg.SwapAmount, meta.Decimals)
	if err != nil {
		return res, fmt.Errorf("swap_amount: %w", err)
	}

	// Fund both accounts and wrap the provider's deposit.
	if err := bank.Mint(m.Underlying, simLP, mul(liquidity, 3)); err != nil {
		return res, err
	}
	if err := bank.Mint(m.Underlying, simTrader, mul(swap, 2)); err != nil {
		return res, err
	}
	wrapped, err := m.Source.Wrap(ctx, simLP, m.Underlying, mul(liquidity, 2))
	if err != nil {
		return res, fmt.Errorf("wrap: %w", err)
	}
	forgeAddr, err := r.ForgeAddress(src)
	if err != nil {
		return res, err
	}
	if err := r.Approve(ctx, simLP, m.Wrapped, forgeAddr, wrapped); err != nil {
		return res, err
	}

	divisor := r.Params().ExpiryDivisor
	end := clock.Now() + uint64(s.cfg.Days)*uint64(day/time.Second)
	res.Expiry = (end + divisor - 1) / divisor * divisor

	if res.Tokenized, err = r.TokenizeYield(ctx, simLP, src, m.Underlying, res.Expiry, wrapped, simLP, 0); err != nil {
		return res, fmt.Errorf("tokenize: %w", err)
	}
	_, yt := r.ClaimTokens(src, m.Underlying, res.Expiry)

	// Seed the market with half the claims against the remaining underlying.
	res.Market = domain.MarketAddress(domain.MarketKey{Factory: GenericFactory, Pair: domain.NewTokenPair(yt, m.Underlying)})
	seed := new(big.Int).Quo(res.Tokenized, big.NewInt(2))
	if err := r.Approve(ctx, simLP, yt, res.Market, seed); err != nil {
		return res, err
	}
	if err := r.Approve(ctx, simLP, m.Underlying, res.Market, liquidity); err != nil {
		return res, err
	}
	if _, _, err := r.CreateAndBootstrapMarket(ctx, simLP, GenericFactory, yt, m.Underlying, seed, liquidity, 0); err != nil {
		return res, fmt.Errorf("bootstrap: %w", err)
	}

	if err := r.Approve(ctx, simTrader, m.Underlying, res.Market, mul(swap, 2)); err != nil {
		return res, err
	}
	if res.YieldBought, err = r.SwapExactIn(ctx, simTrader, res.Market, m.Underlying, swap, nil, 0); err != nil {
		return res, fmt.Errorf("buy yield: %w", err)
	}

	blocksPerDay := uint64(day / s.blockTime)
	res.LpInterest, res.TraderInterest = new(big.Int), new(big.Int)
	for d := 1; clock.Now()+uint64(day/time.Second) < res.Expiry; d++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := m.Source.Grow(m.Underlying, m.Growth); err != nil {
			return res, err
		}
		clock.Advance(day, blocksPerDay)

		if d == s.cfg.Days/2 {
			if _, err := r.SwapExactIn(ctx, simTrader, res.Market, m.Underlying, swap, nil, 0); err != nil {
				return res, fmt.Errorf("day %d swap: %w", d, err)
			}
			paid, err := r.RedeemLpInterests(ctx, simLP, res.Market)
			if err != nil {
				return res, fmt.Errorf("day %d lp interest: %w", d, err)
			}
			res.LpInterest.Add(res.LpInterest, paid)
		}
	}

	// Withdraw before the market locks, then settle after expiry.
	lp := bank.BalanceOf(res.Market, simLP)
	if _, err := r.RemoveLiquidityDual(ctx, simLP, res.Market, lp, nil, nil, 0); err != nil {
		return res, fmt.Errorf("remove liquidity: %w", err)
	}
	view, err := r.Market(res.Market)
	if err != nil {
		return res, err
	}
	res.FinalSpot = view.SpotPrice.String()

	clock.Set(res.Expiry+1, clock.BlockNumber()+1)
	if res.Principal, err = r.RedeemAfterExpiry(ctx, simLP, src, m.Underlying, res.Expiry); err != nil {
		return res, fmt.Errorf("redeem after expiry: %w", err)
	}
	paid, err := r.RedeemDueInterests(ctx, simTrader, src, m.Underlying, res.Expiry)
	if err != nil {
		return res, fmt.Errorf("trader interest: %w", err)
	}
	res.TraderInterest.Add(res.TraderInterest, paid)
	return res, nil
}

func mul(v *big.Int, n int64) *big.Int { return new(big.Int).Mul(v, big.NewInt(n)) }
