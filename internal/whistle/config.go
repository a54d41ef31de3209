package whistle

import "github.com/waiver-exchange/whistle/internal/whistle/pricedomain"

// ExecIDMode selects how the engine assigns execution ids to trades.
type ExecIDMode uint8

const (
	// ExecIDSharded packs (symbol_id << ExecShiftBits) | per-symbol counter.
	ExecIDSharded ExecIDMode = iota
	// ExecIDGlobal defers id assignment to the execution manager: the
	// engine emits every trade with ExecID 0.
	ExecIDGlobal
)

// SelfMatchPolicy governs what happens when a candidate maker and the
// taker share an account id.
type SelfMatchPolicy uint8

const (
	SelfMatchSkip SelfMatchPolicy = iota
	SelfMatchCancelMaker
	SelfMatchCancelTaker
	SelfMatchReject
)

// ReferencePriceSource selects where the band reference price comes from.
type ReferencePriceSource uint8

const (
	ReferenceSnapshotLastTrade ReferencePriceSource = iota
	ReferencePrevTickLastTrade
	ReferenceExternal
)

// BandMode selects how the price band around the reference price is
// expressed.
type BandMode uint8

const (
	BandPercent BandMode = iota
	BandAbsolute
)

// Bands configures the acceptable price window around the reference price.
type Bands struct {
	Mode BandMode
	// Value is basis points when Mode == BandPercent, ticks when
	// Mode == BandAbsolute.
	Value uint32
}

// EngineCfg parameterizes one symbol's matching engine. Mirrors spec.md
// §4.2's EngineCfg and §6's "Engine configuration" external interface.
type EngineCfg struct {
	Symbol      uint32
	PriceDomain pricedomain.Domain
	Bands       Bands

	BatchMax uint32

	ArenaCapacity uint32
	ElasticArena  bool

	ExecIDMode    ExecIDMode
	ExecShiftBits uint8

	SelfMatchPolicy SelfMatchPolicy

	AllowMarketColdStart bool

	ReferencePriceSource ReferencePriceSource

	// MaxOrderQty bounds per-order quantity; 0 means unbounded.
	MaxOrderQty uint32

	InboundQueueCapacity  uint32
	OutboundQueueCapacity uint32
}

// DefaultEngineCfg returns a conservative configuration for symbol over
// dom: batch_max 256, a 4096-order arena, Skip self-match, bands disabled
// (Value 0 on BandPercent means "no band check"), market cold start
// disallowed, SnapshotLastTrade reference per the Open Question
// resolution recorded in SPEC_FULL.md.
func DefaultEngineCfg(symbol uint32, dom pricedomain.Domain) EngineCfg {
	return EngineCfg{
		Symbol:                symbol,
		PriceDomain:           dom,
		Bands:                 Bands{Mode: BandPercent, Value: 0},
		BatchMax:              256,
		ArenaCapacity:         4096,
		ElasticArena:          false,
		ExecIDMode:            ExecIDSharded,
		ExecShiftBits:         32,
		SelfMatchPolicy:       SelfMatchSkip,
		AllowMarketColdStart:  false,
		ReferencePriceSource:  ReferenceSnapshotLastTrade,
		MaxOrderQty:           0,
		InboundQueueCapacity:  1024,
		OutboundQueueCapacity: 1024,
	}
}
