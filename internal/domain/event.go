package domain

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// EventType names a committed state change.
type EventType string

const (
	EventYieldContractCreated EventType = "yield.contract_created"
	EventTokenized            EventType = "yield.tokenized"
	EventInterestRedeemed     EventType = "yield.interest_redeemed"
	EventUnderlyingRedeemed   EventType = "yield.underlying_redeemed"
	EventRedeemedAfterExpiry  EventType = "yield.redeemed_after_expiry"
	EventForgeFeeWithdrawn    EventType = "yield.forge_fee_withdrawn"

	EventMarketCreated      EventType = "market.created"
	EventMarketBootstrapped EventType = "market.bootstrapped"
	EventSwap               EventType = "market.swap"
	EventLiquidityAdded     EventType = "market.liquidity_added"
	EventLiquidityRemoved   EventType = "market.liquidity_removed"
	EventCurveShift         EventType = "market.curve_shift"
	EventProtocolFeeMinted  EventType = "market.protocol_fee_minted"
	EventLpInterestRedeemed EventType = "market.lp_interest_redeemed"

	EventForgeAdded      EventType = "registry.forge_added"
	EventFactoryAdded    EventType = "registry.factory_added"
	EventFactoryValidity EventType = "registry.factory_validity"
	EventParamsUpdated   EventType = "governance.params_updated"
	EventPauseChanged    EventType = "governance.pause_changed"
)

// Event is one committed state change. Components record events while a call
// runs; they are published only if the call commits.
type Event struct {
	ID        string              `json:"id"`
	Type      EventType           `json:"type"`
	Topic     string              `json:"topic"`
	Actor     Address             `json:"actor"`
	Amounts   map[string]*big.Int `json:"amounts,omitempty"`
	Attrs     map[string]string   `json:"attrs,omitempty"`
	Block     uint64              `json:"block"`
	Timestamp time.Time           `json:"timestamp"`
}

// EventRecorder collects events during a call.
type EventRecorder interface {
	Record(ev Event)
}

// MarketTopic is the event topic of a market.
func MarketTopic(addr Address) string { return "market:" + addr.Hex() }

// ForgeTopic is the event topic of a forge.
func ForgeTopic(id SourceID) string { return "forge:" + string(id) }

// TopicRegistry is the event topic of registry and governance changes.
const TopicRegistry = "registry"

// NewEvent returns an event with a fresh ID stamped at the given block time.
func NewEvent(typ EventType, topic string, actor Address, block, now uint64) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Topic:     topic,
		Actor:     actor,
		Amounts:   make(map[string]*big.Int),
		Attrs:     make(map[string]string),
		Block:     block,
		Timestamp: time.Unix(int64(now), 0).UTC(),
	}
}

// WithAmount records a copy of v under name.
func (e Event) WithAmount(name string, v *big.Int) Event {
	e.Amounts[name] = CloneInt(v)
	return e
}

// WithAttr records a string attribute.
func (e Event) WithAttr(name, v string) Event {
	e.Attrs[name] = v
	return e
}

// Discard is an EventRecorder that drops everything.
type Discard struct{}

func (Discard) Record(Event) {}
