package domain

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// MarketView is a read-only copy of a market's state.
type MarketView struct {
	Address          Address         `json:"address"`
	Factory          FactoryID       `json:"factory"`
	YieldToken       Address         `json:"yield_token"`
	BaseToken        Address         `json:"base_token"`
	ReserveYield     *big.Int        `json:"reserve_yield"`
	ReserveBase      *big.Int        `json:"reserve_base"`
	WeightYield      *big.Int        `json:"weight_yield"`
	WeightBase       *big.Int        `json:"weight_base"`
	TotalLP          *big.Int        `json:"total_lp"`
	SwapFee          *big.Int        `json:"swap_fee"`
	ProtocolFeeShare *big.Int        `json:"protocol_fee_share"`
	LockStartTime    uint64          `json:"lock_start_time"`
	Expiry           uint64          `json:"expiry"`
	Bootstrapped     bool            `json:"bootstrapped"`
	Expired          bool            `json:"expired"`
	SpotPrice        decimal.Decimal `json:"spot_price"`
	Block            uint64          `json:"block"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// YieldContractView is a read-only copy of a yield contract.
type YieldContractView struct {
	Key              YieldKey `json:"key"`
	OwnershipToken   Address  `json:"ownership_token"`
	YieldToken       Address  `json:"yield_token"`
	WrappedToken     Address  `json:"wrapped_token"`
	Family           string   `json:"family"`
	Start            uint64   `json:"start"`
	LastExchangeRate *big.Int `json:"last_exchange_rate"`
	RateBeforeExpiry *big.Int `json:"rate_before_expiry"`
	TotalLocked      *big.Int `json:"total_locked"`
	AccruedForgeFee  *big.Int `json:"accrued_forge_fee"`
	Expired          bool     `json:"expired"`
}

// StateSnapshot is the archived picture of all markets and yield contracts
// at one block.
type StateSnapshot struct {
	Block          uint64              `json:"block"`
	TakenAt        time.Time           `json:"taken_at"`
	Markets        []MarketView        `json:"markets"`
	YieldContracts []YieldContractView `json:"yield_contracts"`
}

// RateSample is one observed exchange rate.
type RateSample struct {
	Source     SourceID  `json:"source"`
	Underlying Address   `json:"underlying"`
	Rate       *big.Int  `json:"rate"`
	Block      uint64    `json:"block"`
	SampledAt  time.Time `json:"sampled_at"`
}
