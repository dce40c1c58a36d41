package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
	"github.com/alanyoungcy/yieldmarket/internal/rmath"
)

// ContractCaller is the subset of ethclient.Client the on-chain sources use.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

const cTokenABI = `[{"constant":true,"inputs":[],"name":"exchangeRateStored","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

const lendingPoolABI = `[{"inputs":[{"name":"asset","type":"address"}],"name":"getReserveNormalizedIncome","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

// ray is Aave's 1e27 fixed-point unit.
var ray = new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil)

// ChainSource reads exchange rates from a deployed lending protocol.
type ChainSource struct {
	id      domain.SourceID
	family  domain.RateFamily
	client  ContractCaller
	abi     abi.ABI
	method  string
	pool    domain.Address
	scale   *big.Int
	wrapped map[domain.Address]domain.Address
}

// NewCompoundSource returns a ratio source over cTokens. wrapped maps each
// underlying to its cToken; scale is the raw rate that means one underlying
// per cToken (1e18 adjusted for the decimals difference).
func NewCompoundSource(id domain.SourceID, client ContractCaller, wrapped map[domain.Address]domain.Address, scale *big.Int) (*ChainSource, error) {
	parsed, err := abi.JSON(strings.NewReader(cTokenABI))
	if err != nil {
		return nil, fmt.Errorf("oracle: parse ctoken abi: %w", err)
	}
	if scale == nil || scale.Sign() <= 0 {
		return nil, fmt.Errorf("oracle: %s scale: %w", id, domain.ErrInvalidParams)
	}
	return &ChainSource{
		id:      id,
		family:  domain.RateFamilyRatio,
		client:  client,
		abi:     parsed,
		method:  "exchangeRateStored",
		scale:   new(big.Int).Set(scale),
		wrapped: copyAddrMap(wrapped),
	}, nil
}

// NewAaveSource returns a rebasing source over aTokens, reading the reserve
// normalized income of each underlying from the lending pool.
func NewAaveSource(id domain.SourceID, client ContractCaller, pool domain.Address, wrapped map[domain.Address]domain.Address) (*ChainSource, error) {
	parsed, err := abi.JSON(strings.NewReader(lendingPoolABI))
	if err != nil {
		return nil, fmt.Errorf("oracle: parse lending pool abi: %w", err)
	}
	return &ChainSource{
		id:      id,
		family:  domain.RateFamilyRebasing,
		client:  client,
		abi:     parsed,
		method:  "getReserveNormalizedIncome",
		pool:    pool,
		scale:   new(big.Int).Set(ray),
		wrapped: copyAddrMap(wrapped),
	}, nil
}

func copyAddrMap(in map[domain.Address]domain.Address) map[domain.Address]domain.Address {
	out := make(map[domain.Address]domain.Address, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *ChainSource) SourceID() domain.SourceID { return s.id }

func (s *ChainSource) Family() domain.RateFamily { return s.family }

func (s *ChainSource) YieldToken(underlying domain.Address) (domain.Address, error) {
	w, ok := s.wrapped[underlying]
	if !ok {
		return domain.ZeroAddress, fmt.Errorf("oracle: %s has no market for %s: %w", s.id, underlying.Hex(), domain.ErrNotFound)
	}
	return w, nil
}

// ExchangeRate performs an eth_call and rescales the result to RONE.
func (s *ChainSource) ExchangeRate(ctx context.Context, underlying domain.Address) (*big.Int, error) {
	wrapped, err := s.YieldToken(underlying)
	if err != nil {
		return nil, err
	}

	var (
		data []byte
		to   domain.Address
	)
	if s.family == domain.RateFamilyRatio {
		data, err = s.abi.Pack(s.method)
		to = wrapped
	} else {
		data, err = s.abi.Pack(s.method, underlying)
		to = s.pool
	}
	if err != nil {
		return nil, fmt.Errorf("oracle: pack %s: %w", s.method, err)
	}

	out, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("oracle: call %s on %s: %w", s.method, to.Hex(), err)
	}
	vals, err := s.abi.Unpack(s.method, out)
	if err != nil {
		return nil, fmt.Errorf("oracle: unpack %s: %w", s.method, err)
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("oracle: %s returned %d values", s.method, len(vals))
	}
	raw, ok := vals[0].(*big.Int)
	if !ok || raw.Sign() <= 0 {
		return nil, fmt.Errorf("oracle: %s returned %v: %w", s.method, vals[0], domain.ErrInvalidParams)
	}
	return rmath.MulDiv(raw, rmath.One(), s.scale), nil
}

var _ YieldSource = (*ChainSource)(nil)
