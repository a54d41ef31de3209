package whistle

import (
	"github.com/waiver-exchange/whistle/internal/whistle/arena"
	"github.com/waiver-exchange/whistle/internal/whistle/book"
)

// levelDelta records an affected (side, price_idx) pair seen during a
// tick, coalesced into a single BookDelta at tick end per spec.md §4.2.
type levelDelta struct {
	side arena.Side
	idx  uint32
}

// matchResult carries everything match() produced for one taker submit,
// for the caller (engine.go) to turn into events and arena bookkeeping.
type matchResult struct {
	trades        []tradeFill
	takerResidual uint32 // remaining qty after matching stops
	cancelledSelf []arena.Handle
}

type tradeFill struct {
	priceIdx   uint32
	qty        uint32
	makerOrder uint64
	makerAcct  uint32
	makerH     arena.Handle
}

// match runs price-time priority matching for a newly-validated taker
// order against the opposite side of b, following spec.md §4.2
// "Price-time priority matching" and "Self-match policy". It mutates the
// arena (maker qty_open, unlink on full fill) and the book (unlink/
// partial_fill) directly; it does not allocate or insert the taker's own
// order — the caller handles any residual that rests or cancels.
//
// Self-match Skip never unlinks the skipped maker: the taker walks past it
// within the same FIFO, and if every maker at a level belongs to the
// taker's own account, the search continues to the next level outward
// (the level itself is left untouched for other takers).
func match(a *arena.Arena, b *book.Book, cfg EngineCfg, taker Submit, limitIdx uint32, hasLimit bool, touched *[]levelDelta) matchResult {
	var res matchResult
	remaining := taker.Qty
	oppositeSide := arena.SideSell
	if taker.Side == arena.SideSell {
		oppositeSide = arena.SideBuy
	}

	var searchFrom uint32
	searching := false

	for remaining > 0 {
		var idx uint32
		var ok bool
		if searching {
			idx, ok = nextLevelFrom(b, oppositeSide, searchFrom)
		} else {
			idx, ok = bestOpposite(b, oppositeSide)
		}
		if !ok {
			break
		}
		if hasLimit && beyondLimit(taker.Side, idx, limitIdx) {
			break
		}

		h := b.Head(oppositeSide, idx)
		if h == arena.NoneHandle {
			break
		}
		maker := a.Get(h)

		if maker.AccountID == taker.AccountID {
			switch cfg.SelfMatchPolicy {
			case SelfMatchSkip:
				eligibleH, eligible := firstEligibleMaker(a, h, taker.AccountID)
				if !eligible {
					searchFrom = idx
					searching = true
					continue
				}
				h = eligibleH
				maker = a.Get(h)
			case SelfMatchCancelMaker:
				res.cancelledSelf = append(res.cancelledSelf, h)
				*touched = append(*touched, levelDelta{side: oppositeSide, idx: idx})
				b.Unlink(a, oppositeSide, h)
				a.Release(h)
				searching = false
				continue
			case SelfMatchCancelTaker, SelfMatchReject:
				res.takerResidual = remaining
				return res
			}
		}

		tradeQty := remaining
		if maker.QtyOpen < tradeQty {
			tradeQty = maker.QtyOpen
		}

		res.trades = append(res.trades, tradeFill{
			priceIdx:   idx,
			qty:        tradeQty,
			makerOrder: maker.OrderID,
			makerAcct:  maker.AccountID,
			makerH:     h,
		})
		*touched = append(*touched, levelDelta{side: oppositeSide, idx: idx})

		remaining -= tradeQty
		maker.QtyOpen -= tradeQty
		searching = false

		if maker.QtyOpen == 0 {
			b.Unlink(a, oppositeSide, h)
			a.Release(h)
		} else {
			b.PartialFill(oppositeSide, idx, tradeQty)
		}
	}

	res.takerResidual = remaining
	return res
}

func bestOpposite(b *book.Book, side arena.Side) (uint32, bool) {
	if side == arena.SideSell {
		return b.BestAsk()
	}
	return b.BestBid()
}

// nextLevelFrom returns the next non-empty level strictly beyond idx,
// walking outward from the taker's perspective (ascending price for asks,
// descending price for bids).
func nextLevelFrom(b *book.Book, side arena.Side, idx uint32) (uint32, bool) {
	if side == arena.SideSell {
		return b.NextAskAtOrAbove(idx + 1)
	}
	if idx == 0 {
		return 0, false
	}
	return b.PrevBidAtOrBelow(idx - 1)
}

func beyondLimit(takerSide arena.Side, idx, limitIdx uint32) bool {
	if takerSide == arena.SideBuy {
		return idx > limitIdx
	}
	return idx < limitIdx
}

// firstEligibleMaker returns the first handle in the FIFO starting at head
// (inclusive) whose account differs from accountID.
func firstEligibleMaker(a *arena.Arena, head arena.Handle, accountID uint32) (arena.Handle, bool) {
	for h := head; h != arena.NoneHandle; h = a.Get(h).Next {
		if a.Get(h).AccountID != accountID {
			return h, true
		}
	}
	return arena.NoneHandle, false
}
