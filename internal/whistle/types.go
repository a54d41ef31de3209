// Package whistle is the per-symbol matching engine: validation, price-
// time priority matching, execution id assignment and event emission over
// an arena-backed order book. Grounded on original_source/engine/whistle
// (book.rs/queue.rs/outbound_queue.rs define the data shapes this package
// ties together) and on the teacher's logging/error idiom from
// internal/core/matching/types.go.
package whistle

import (
	"github.com/waiver-exchange/whistle/internal/errors"
	"github.com/waiver-exchange/whistle/internal/whistle/arena"
	"github.com/waiver-exchange/whistle/internal/whistle/outqueue"
	"github.com/waiver-exchange/whistle/internal/whistle/queue"
)

// Submit is an inbound request to place a new order. Mirrors spec.md §6's
// Submit shape; Price/HasPrice only apply to Limit/PostOnly.
type Submit struct {
	OrderID   uint64
	AccountID uint32
	Side      arena.Side
	Kind      arena.Kind
	Price     uint32
	HasPrice  bool
	Qty       uint32
	TsNorm    uint64
	Meta      uint64
}

// Cancel is an inbound request to remove a resting order by id.
type Cancel struct {
	OrderID uint64
	TsNorm  uint64
}

// inboundSubmitOf converts a queue.InboundMsg into the matching engine's
// internal request shape. The engine speaks Submit/Cancel directly so that
// match.go and validate.go don't need to juggle the wire-level MsgKind
// tag at every call site.
func inboundSubmitOf(msg queue.InboundMsg) Submit {
	var side arena.Side
	if msg.Side == queue.SideBuy {
		side = arena.SideBuy
	} else {
		side = arena.SideSell
	}
	var kind arena.Kind
	switch msg.OrderKind {
	case queue.OrderLimit:
		kind = arena.KindLimit
	case queue.OrderMarket:
		kind = arena.KindMarket
	case queue.OrderIOC:
		kind = arena.KindIOC
	case queue.OrderPostOnly:
		kind = arena.KindPostOnly
	}
	return Submit{
		OrderID:   msg.OrderID,
		AccountID: msg.AccountID,
		Side:      side,
		Kind:      kind,
		Price:     msg.Price,
		HasPrice:  msg.HasPrice,
		Qty:       msg.Qty,
		TsNorm:    msg.TsNorm,
		Meta:      msg.Meta,
	}
}

func inboundCancelOf(msg queue.InboundMsg) Cancel {
	return Cancel{OrderID: msg.OrderID, TsNorm: msg.TsNorm}
}

// outSide converts an arena.Side to the outqueue event payload's Side.
func outSide(s arena.Side) outqueue.Side {
	if s == arena.SideBuy {
		return outqueue.SideBuy
	}
	return outqueue.SideSell
}

func rejectedEvent(symbol uint32, tick uint64, orderID uint64, reason errors.Code) outqueue.EngineEvent {
	return outqueue.EngineEvent{
		Kind:    outqueue.EventRejected,
		Symbol:  symbol,
		Tick:    tick,
		OrderID: orderID,
		Reason:  reason,
	}
}

func acceptedEvent(symbol uint32, tick uint64, orderID uint64) outqueue.EngineEvent {
	return outqueue.EngineEvent{
		Kind:    outqueue.EventAccepted,
		Symbol:  symbol,
		Tick:    tick,
		OrderID: orderID,
	}
}

func cancelledEvent(symbol uint32, tick uint64, orderID uint64, reason errors.Code) outqueue.EngineEvent {
	return outqueue.EngineEvent{
		Kind:    outqueue.EventCancelled,
		Symbol:  symbol,
		Tick:    tick,
		OrderID: orderID,
		Reason:  reason,
	}
}

func tradeEvent(symbol uint32, tick uint64, execID uint64, price, qty uint32, takerSide arena.Side, makerOrder, takerOrder uint64, makerAcct, takerAcct uint32) outqueue.EngineEvent {
	return outqueue.EngineEvent{
		Kind:         outqueue.EventTrade,
		Symbol:       symbol,
		Tick:         tick,
		ExecID:       execID,
		Price:        price,
		Qty:          qty,
		TakerSide:    outSide(takerSide),
		MakerOrder:   makerOrder,
		TakerOrder:   takerOrder,
		MakerAccount: makerAcct,
		TakerAccount: takerAcct,
	}
}

func bookDeltaEvent(symbol uint32, tick uint64, side arena.Side, price, levelQtyAfter uint32) outqueue.EngineEvent {
	return outqueue.EngineEvent{
		Kind:          outqueue.EventBookDelta,
		Symbol:        symbol,
		Tick:          tick,
		DeltaSide:     outSide(side),
		DeltaPrice:    price,
		LevelQtyAfter: levelQtyAfter,
	}
}

func tickCompleteEvent(symbol uint32, tick uint64) outqueue.EngineEvent {
	return outqueue.EngineEvent{
		Kind:   outqueue.EventTickComplete,
		Symbol: symbol,
		Tick:   tick,
	}
}
