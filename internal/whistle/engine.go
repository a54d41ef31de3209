package whistle

import (
	"go.uber.org/zap"

	"github.com/waiver-exchange/whistle/internal/errors"
	"github.com/waiver-exchange/whistle/internal/whistle/arena"
	"github.com/waiver-exchange/whistle/internal/whistle/book"
	"github.com/waiver-exchange/whistle/internal/whistle/outqueue"
	"github.com/waiver-exchange/whistle/internal/whistle/queue"
)

// Engine is one symbol's matching engine: arena + book + inbound queue +
// outbound queue + execution-id counter + last-trade reference, per
// spec.md §4.2 "Lifecycle". The coordinator owns one Engine per active
// symbol and drives it with Tick; nothing here is safe for concurrent use
// by more than one goroutine at a time.
type Engine struct {
	cfg EngineCfg

	arena *arena.Arena
	book  *book.Book

	inbound  *queue.Inbound
	outbound *outqueue.Outbound

	idIndex map[uint64]arena.Handle

	nextExecID uint64

	lastTradePrice uint32
	haveLastTrade  bool

	logger *zap.Logger
}

// New constructs an Engine for cfg, allocating its arena, book and queues.
func New(cfg EngineCfg, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:      cfg,
		arena:    arena.New(cfg.ArenaCapacity, cfg.ElasticArena),
		book:     book.New(cfg.PriceDomain, logger.With(zap.String("component", "book"))),
		inbound:  queue.NewInbound(cfg.InboundQueueCapacity),
		outbound: outqueue.New(cfg.OutboundQueueCapacity, outqueue.Drop),
		idIndex:  make(map[uint64]arena.Handle),
		logger:   logger.With(zap.String("component", "engine"), zap.Uint32("symbol", cfg.Symbol)),
	}
}

// Inbound returns the engine's inbound queue, for the router to enqueue
// into and the coordinator to wire up on activation.
func (e *Engine) Inbound() *queue.Inbound { return e.inbound }

// Outbound returns the engine's outbound queue, for the execution manager
// to drain.
func (e *Engine) Outbound() *outqueue.Outbound { return e.outbound }

// Symbol returns the symbol id this engine serves.
func (e *Engine) Symbol() uint32 { return e.cfg.Symbol }

// IsIdle reports whether the engine has no open orders and both queues
// are empty — the release_if_idle precondition in spec.md §4.5.
func (e *Engine) IsIdle() bool {
	return e.arena.Len() == 0 && e.inbound.IsEmpty() && e.outbound.IsEmpty()
}

// referencePrice resolves the band reference price per cfg.ReferencePriceSource.
// SnapshotLastTrade and PrevTickLastTrade both resolve to the engine's most
// recent trade price. External has no source in the engine and always
// yields "no reference", so the band check is skipped under it.
func (e *Engine) referencePrice() (uint32, bool) {
	switch e.cfg.ReferencePriceSource {
	case ReferenceSnapshotLastTrade, ReferencePrevTickLastTrade:
		return e.lastTradePrice, e.haveLastTrade
	default:
		return 0, false
	}
}

// assignExecID returns the next execution id for a trade on this engine,
// per the configured ExecIDMode.
func (e *Engine) assignExecID() uint64 {
	id := e.nextExecID
	e.nextExecID++
	switch e.cfg.ExecIDMode {
	case ExecIDSharded:
		return (uint64(e.cfg.Symbol) << e.cfg.ExecShiftBits) | id
	default:
		return 0
	}
}

// Tick drains up to cfg.BatchMax inbound messages and runs one full
// matching pass, emitting events into the outbound queue in the strict
// order required by spec.md §4.2 step 3: Rejected, Accepted, Trade,
// BookDelta (coalesced), Cancelled, TickComplete.
func (e *Engine) Tick(tick uint64) {
	msgs := e.inbound.Drain(e.cfg.BatchMax)

	var rejected []outqueue.EngineEvent
	var accepted []outqueue.EngineEvent
	var trades []outqueue.EngineEvent
	var cancelled []outqueue.EngineEvent
	var touched []levelDelta

	for _, msg := range msgs {
		switch msg.Kind {
		case queue.MsgSubmit:
			e.processSubmit(tick, inboundSubmitOf(msg), &rejected, &accepted, &trades, &cancelled, &touched)
		case queue.MsgCancel:
			e.processCancel(tick, inboundCancelOf(msg), &cancelled, &rejected, &touched)
		}
	}

	deltas := coalesceDeltas(e.book, touched)

	e.emitAll(rejected)
	e.emitAll(accepted)
	e.emitAll(trades)
	for _, d := range deltas {
		e.emit(bookDeltaEvent(e.cfg.Symbol, tick, d.side, e.cfg.PriceDomain.Price(d.idx), e.book.LevelQty(d.side, d.idx)))
	}
	e.emitAll(cancelled)
	e.emit(tickCompleteEvent(e.cfg.Symbol, tick))
}

func (e *Engine) emit(ev outqueue.EngineEvent) {
	if err := e.outbound.TryEnqueue(ev); err != nil {
		e.logger.Warn("outbound enqueue failed", zap.Error(err))
	}
}

func (e *Engine) emitAll(evs []outqueue.EngineEvent) {
	for _, ev := range evs {
		e.emit(ev)
	}
}

func (e *Engine) processSubmit(tick uint64, s Submit, rejected, accepted, trades, cancelled *[]outqueue.EngineEvent, touched *[]levelDelta) {
	refPrice, haveRef := e.referencePrice()
	if reason := validateSubmit(e.cfg, e.book, refPrice, haveRef, e.idIndex, s); reason != "" {
		*rejected = append(*rejected, rejectedEvent(e.cfg.Symbol, tick, s.OrderID, reason))
		return
	}

	h, ok := e.arena.Alloc()
	if !ok {
		*rejected = append(*rejected, rejectedEvent(e.cfg.Symbol, tick, s.OrderID, errors.ArenaFull))
		return
	}

	limitIdx, hasLimit := uint32(0), false
	if s.Kind == arena.KindLimit || s.Kind == arena.KindPostOnly {
		limitIdx, hasLimit = e.cfg.PriceDomain.Idx(s.Price)
	}

	o := e.arena.Get(h)
	o.OrderID = s.OrderID
	o.AccountID = s.AccountID
	o.Side = s.Side
	o.Kind = s.Kind
	o.PriceIdx = limitIdx
	o.HasPrice = hasLimit
	o.QtyOpen = s.Qty
	o.TsNorm = s.TsNorm
	o.Meta = s.Meta

	var result matchResult
	if s.Kind != arena.KindPostOnly {
		result = match(e.arena, e.book, e.cfg, s, limitIdx, hasLimit, touched)
	} else {
		result.takerResidual = s.Qty
	}

	for _, fill := range result.trades {
		execID := e.assignExecID()
		*trades = append(*trades, tradeEvent(e.cfg.Symbol, tick, execID, e.cfg.PriceDomain.Price(fill.priceIdx), fill.qty, s.Side, fill.makerOrder, s.OrderID, fill.makerAcct, s.AccountID))
		e.lastTradePrice = e.cfg.PriceDomain.Price(fill.priceIdx)
		e.haveLastTrade = true
	}
	for _, cancelledMakerH := range result.cancelledSelf {
		maker := e.arena.Get(cancelledMakerH)
		*cancelled = append(*cancelled, cancelledEvent(e.cfg.Symbol, tick, maker.OrderID, errors.SelfMatchPrevented))
		delete(e.idIndex, maker.OrderID)
	}

	*accepted = append(*accepted, acceptedEvent(e.cfg.Symbol, tick, s.OrderID))

	o.QtyOpen = result.takerResidual
	if result.takerResidual == 0 {
		e.arena.Release(h)
		return
	}

	switch s.Kind {
	case arena.KindLimit, arena.KindPostOnly:
		e.idIndex[s.OrderID] = h
		e.book.InsertTail(e.arena, s.Side, h, limitIdx, result.takerResidual)
		*touched = append(*touched, levelDelta{side: s.Side, idx: limitIdx})
	case arena.KindIOC:
		*cancelled = append(*cancelled, cancelledEvent(e.cfg.Symbol, tick, s.OrderID, errors.IocResidual))
		e.arena.Release(h)
	case arena.KindMarket:
		*cancelled = append(*cancelled, cancelledEvent(e.cfg.Symbol, tick, s.OrderID, errors.MarketNoLiquidity))
		e.arena.Release(h)
	}
}

func (e *Engine) processCancel(tick uint64, c Cancel, cancelled, rejected *[]outqueue.EngineEvent, touched *[]levelDelta) {
	h, reason := validateCancel(e.idIndex, c)
	if reason != "" {
		*rejected = append(*rejected, rejectedEvent(e.cfg.Symbol, tick, c.OrderID, reason))
		return
	}
	o := e.arena.Get(h)
	side := o.Side
	idx := o.PriceIdx

	e.book.Unlink(e.arena, side, h)
	e.arena.Release(h)
	delete(e.idIndex, c.OrderID)

	*touched = append(*touched, levelDelta{side: side, idx: idx})
	*cancelled = append(*cancelled, cancelledEvent(e.cfg.Symbol, tick, c.OrderID, ""))
}

type coalescedDelta struct {
	side arena.Side
	idx  uint32
}

// coalesceDeltas dedupes touched (side, price_idx) pairs, preserving
// first-seen order, per spec.md §4.2's "one delta per affected level".
func coalesceDeltas(_ *book.Book, touched []levelDelta) []coalescedDelta {
	seen := make(map[levelDelta]struct{}, len(touched))
	out := make([]coalescedDelta, 0, len(touched))
	for _, t := range touched {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, coalescedDelta{side: t.side, idx: t.idx})
	}
	return out
}
