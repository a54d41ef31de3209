// Package book implements the two-ladder (bids/asks) order book: per-price
// FIFO levels over the arena, a non-empty bitset per side for best-price
// navigation, and cached best-bid/best-ask indices. Ported in semantics
// from original_source/engine/whistle/src/book.rs (insert_tail/unlink/
// partial_fill/recompute_best_after_empty/next_ask_at_or_above/
// prev_bid_at_or_below), with the teacher's zap logging idiom from
// internal/core/matching/order_book.go.
package book

import (
	"github.com/bits-and-blooms/bitset"
	"go.uber.org/zap"

	"github.com/waiver-exchange/whistle/internal/whistle/arena"
	"github.com/waiver-exchange/whistle/internal/whistle/pricedomain"
)

// Level is a per-price FIFO queue plus its running open quantity.
type Level struct {
	Head     arena.Handle
	Tail     arena.Handle
	TotalQty uint32
}

func emptyLevel() Level {
	return Level{Head: arena.NoneHandle, Tail: arena.NoneHandle, TotalQty: 0}
}

// Book is the per-symbol order book: two ladders of Level plus bitset
// navigation. All mutation happens on the single goroutine driving the
// owning engine's tick; the book itself holds no lock.
type Book struct {
	dom pricedomain.Domain

	bids []Level
	asks []Level

	nonEmptyBids *bitset.BitSet
	nonEmptyAsks *bitset.BitSet

	bestBidIdx  uint32
	haveBestBid bool
	bestAskIdx  uint32
	haveBestAsk bool

	logger *zap.Logger
}

// New constructs an empty Book over dom.
func New(dom pricedomain.Domain, logger *zap.Logger) *Book {
	n := dom.LadderLen()
	bids := make([]Level, n)
	asks := make([]Level, n)
	for i := range bids {
		bids[i] = emptyLevel()
		asks[i] = emptyLevel()
	}
	return &Book{
		dom:          dom,
		bids:         bids,
		asks:         asks,
		nonEmptyBids: bitset.New(uint(n)),
		nonEmptyAsks: bitset.New(uint(n)),
		logger:       logger,
	}
}

func (b *Book) levels(side arena.Side) []Level {
	if side == arena.SideBuy {
		return b.bids
	}
	return b.asks
}

func (b *Book) bitsetFor(side arena.Side) *bitset.BitSet {
	if side == arena.SideBuy {
		return b.nonEmptyBids
	}
	return b.nonEmptyAsks
}

func (b *Book) setBestOnInsert(side arena.Side, pidx uint32) {
	if side == arena.SideBuy {
		if !b.haveBestBid || pidx > b.bestBidIdx {
			b.bestBidIdx = pidx
			b.haveBestBid = true
		}
		return
	}
	if !b.haveBestAsk || pidx < b.bestAskIdx {
		b.bestAskIdx = pidx
		b.haveBestAsk = true
	}
}

// prevSetAtOrBelow scans the bitset downward from i (inclusive) for the
// highest set bit. The library exposes only forward iteration (NextSet), so
// the reverse direction is a linear Test-based walk.
func prevSetAtOrBelow(bs *bitset.BitSet, i uint32) (uint32, bool) {
	for idx := int64(i); idx >= 0; idx-- {
		if bs.Test(uint(idx)) {
			return uint32(idx), true
		}
	}
	return 0, false
}

func nextSetAtOrAbove(bs *bitset.BitSet, i uint32, length uint32) (uint32, bool) {
	if i >= length {
		return 0, false
	}
	idx, ok := bs.NextSet(uint(i))
	if !ok || uint32(idx) >= length {
		return 0, false
	}
	return uint32(idx), true
}

func (b *Book) recomputeBestAfterEmpty(side arena.Side, emptiedIdx uint32) {
	if side == arena.SideBuy {
		if b.haveBestBid && b.bestBidIdx == emptiedIdx {
			if emptiedIdx == 0 {
				b.haveBestBid = false
				return
			}
			idx, ok := prevSetAtOrBelow(b.nonEmptyBids, emptiedIdx-1)
			b.bestBidIdx, b.haveBestBid = idx, ok
		}
		return
	}
	if b.haveBestAsk && b.bestAskIdx == emptiedIdx {
		idx, ok := nextSetAtOrAbove(b.nonEmptyAsks, emptiedIdx+1, b.dom.LadderLen())
		b.bestAskIdx, b.haveBestAsk = idx, ok
	}
}

// InsertTail appends handle h to the FIFO at pidx on side, updating the
// level total, the non-empty bitset and the best-price cache. Caller
// guarantees h's arena record already has Side/PriceIdx/QtyOpen set.
func (b *Book) InsertTail(a *arena.Arena, side arena.Side, h arena.Handle, pidx uint32, qty uint32) {
	levels := b.levels(side)
	lvl := &levels[pidx]

	if lvl.Tail == arena.NoneHandle {
		lvl.Head = h
		lvl.Tail = h
	} else {
		tailOrder := a.Get(lvl.Tail)
		tailOrder.Next = h
		newOrder := a.Get(h)
		newOrder.Prev = lvl.Tail
		lvl.Tail = h
	}

	lvl.TotalQty += qty

	b.bitsetFor(side).Set(uint(pidx))
	b.setBestOnInsert(side, pidx)
}

// Unlink splices h out of its level's FIFO, decrements the level total by
// h's remaining open quantity, and — if the level becomes empty — clears
// the bitset bit and recomputes the best-price cache. Does not release the
// arena slot; callers decide h's lifetime.
func (b *Book) Unlink(a *arena.Arena, side arena.Side, h arena.Handle) {
	o := a.Get(h)
	pidx := o.PriceIdx
	prev, next, qtyOpen := o.Prev, o.Next, o.QtyOpen

	levels := b.levels(side)
	lvl := &levels[pidx]

	if prev != arena.NoneHandle {
		a.Get(prev).Next = next
	} else {
		lvl.Head = next
	}
	if next != arena.NoneHandle {
		a.Get(next).Prev = prev
	} else {
		lvl.Tail = prev
	}

	if qtyOpen > lvl.TotalQty {
		lvl.TotalQty = 0
	} else {
		lvl.TotalQty -= qtyOpen
	}

	if lvl.Head == arena.NoneHandle {
		b.bitsetFor(side).Clear(uint(pidx))
		b.recomputeBestAfterEmpty(side, pidx)
	}

	o.Prev = arena.NoneHandle
	o.Next = arena.NoneHandle
}

// PartialFill decrements a level's running total by traded quantity; the
// order at the head stays in place with its own QtyOpen already updated by
// the caller.
func (b *Book) PartialFill(side arena.Side, pidx uint32, traded uint32) {
	lvl := &b.levels(side)[pidx]
	if traded > lvl.TotalQty {
		lvl.TotalQty = 0
		return
	}
	lvl.TotalQty -= traded
}

// BestBid returns the highest non-empty bid index.
func (b *Book) BestBid() (uint32, bool) { return b.bestBidIdx, b.haveBestBid }

// BestAsk returns the lowest non-empty ask index.
func (b *Book) BestAsk() (uint32, bool) { return b.bestAskIdx, b.haveBestAsk }

// NextAskAtOrAbove returns the lowest non-empty ask index >= i.
func (b *Book) NextAskAtOrAbove(i uint32) (uint32, bool) {
	return nextSetAtOrAbove(b.nonEmptyAsks, i, b.dom.LadderLen())
}

// PrevBidAtOrBelow returns the highest non-empty bid index <= i.
func (b *Book) PrevBidAtOrBelow(i uint32) (uint32, bool) {
	return prevSetAtOrBelow(b.nonEmptyBids, i)
}

// LevelQty returns the current total open quantity resting at (side, idx).
func (b *Book) LevelQty(side arena.Side, idx uint32) uint32 {
	return b.levels(side)[idx].TotalQty
}

// Head returns the FIFO head handle at (side, idx), or arena.NoneHandle if
// the level is empty.
func (b *Book) Head(side arena.Side, idx uint32) arena.Handle {
	return b.levels(side)[idx].Head
}

// Domain returns the book's price domain.
func (b *Book) Domain() pricedomain.Domain { return b.dom }

// Crossed reports whether the book is crossed or locked at rest
// (best_bid >= best_ask). An empty side never counts as crossed.
func (b *Book) Crossed() bool {
	bb, okB := b.BestBid()
	ba, okA := b.BestAsk()
	if !okB || !okA {
		return false
	}
	return bb >= ba
}
