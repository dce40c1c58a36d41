package domain

import (
	"bytes"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Address identifies an account, a token or a component instance.
type Address = common.Address

// ZeroAddress is returned by lookups that find nothing.
var ZeroAddress = Address{}

// BurnAddress receives the minimum liquidity locked at market bootstrap.
var BurnAddress = common.HexToAddress("0x000000000000000000000000000000000000dEaD")

// SourceID names a yield source family, e.g. "compound" or "aave".
type SourceID string

// FactoryID names a market factory, e.g. "generic".
type FactoryID string

// RateFamily tells how an adapter's exchange rate relates balances to
// underlying value.
type RateFamily int

const (
	// RateFamilyRatio sources quote underlying per wrapped token; balances
	// are fixed and the rate grows (Compound cTokens).
	RateFamilyRatio RateFamily = iota
	// RateFamilyRebasing sources quote a normalized income index; the
	// wrapped balance itself grows (Aave aTokens).
	RateFamilyRebasing
)

func (f RateFamily) String() string {
	switch f {
	case RateFamilyRatio:
		return "ratio"
	case RateFamilyRebasing:
		return "rebasing"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

// ParseRateFamily parses the config spelling of a family.
func ParseRateFamily(s string) (RateFamily, error) {
	switch s {
	case "ratio":
		return RateFamilyRatio, nil
	case "rebasing":
		return RateFamilyRebasing, nil
	}
	return 0, fmt.Errorf("%w: unknown rate family %q", ErrInvalidParams, s)
}

// YieldKey identifies one yield contract.
type YieldKey struct {
	Source     SourceID
	Underlying Address
	Expiry     uint64
}

func (k YieldKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.Source, k.Underlying.Hex(), k.Expiry)
}

// ExpiryTime returns the expiry as a time.Time.
func (k YieldKey) ExpiryTime() time.Time { return time.Unix(int64(k.Expiry), 0).UTC() }

// TokenPair is an unordered pair of tokens stored in ascending byte order.
type TokenPair struct {
	A, B Address
}

// NewTokenPair orders x and y.
func NewTokenPair(x, y Address) TokenPair {
	if bytes.Compare(x.Bytes(), y.Bytes()) > 0 {
		x, y = y, x
	}
	return TokenPair{A: x, B: y}
}

// MarketKey identifies one market.
type MarketKey struct {
	Factory FactoryID
	Pair    TokenPair
}

// DeriveAddress returns a deterministic address from a tag and a list of
// parts, taking the last 20 bytes of keccak256 over the joined encoding.
func DeriveAddress(tag string, parts ...[]byte) Address {
	data := [][]byte{[]byte(tag)}
	data = append(data, parts...)
	return common.BytesToAddress(crypto.Keccak256(data...)[12:])
}

// Uint64Bytes encodes v big-endian for DeriveAddress.
func Uint64Bytes(v uint64) []byte {
	return new(big.Int).SetUint64(v).FillBytes(make([]byte, 8))
}

// OwnershipTokenAddress is the OT address of a yield contract.
func OwnershipTokenAddress(k YieldKey) Address {
	return DeriveAddress("OT", []byte(k.Source), k.Underlying.Bytes(), Uint64Bytes(k.Expiry))
}

// YieldTokenAddress is the YT address of a yield contract.
func YieldTokenAddress(k YieldKey) Address {
	return DeriveAddress("YT", []byte(k.Source), k.Underlying.Bytes(), Uint64Bytes(k.Expiry))
}

// MarketAddress is the address of a market, which is also its LP token.
func MarketAddress(k MarketKey) Address {
	return DeriveAddress("MKT", []byte(k.Factory), k.Pair.A.Bytes(), k.Pair.B.Bytes())
}

// CloneInt copies v, treating nil as zero.
func CloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// MarketSpec asks a factory for a market trading YieldToken against
// BaseToken. Key is the yield contract that issued YieldToken.
type MarketSpec struct {
	Factory    FactoryID
	Key        YieldKey
	YieldToken Address
	BaseToken  Address
}

// MarketKey returns the market key of s.
func (s MarketSpec) MarketKey() MarketKey {
	return MarketKey{Factory: s.Factory, Pair: NewTokenPair(s.YieldToken, s.BaseToken)}
}
