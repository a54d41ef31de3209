package whistle

import (
	"github.com/waiver-exchange/whistle/internal/errors"
	"github.com/waiver-exchange/whistle/internal/whistle/arena"
	"github.com/waiver-exchange/whistle/internal/whistle/book"
	"github.com/waiver-exchange/whistle/internal/whistle/pricedomain"
)

// validateSubmit runs the fail-fast checks of spec.md §4.2 "Validation"
// that don't require an arena allocation attempt (arena exhaustion is
// checked by the caller right before it allocates, since it's the last
// gate before an order actually enters the book). Returns a non-empty
// errors.Code on rejection.
func validateSubmit(cfg EngineCfg, b *book.Book, referencePrice uint32, haveReference bool, idIndex map[uint64]arena.Handle, s Submit) errors.Code {
	if _, exists := idIndex[s.OrderID]; exists {
		return errors.DuplicateOrderId
	}

	if s.Qty == 0 || (cfg.MaxOrderQty != 0 && s.Qty > cfg.MaxOrderQty) {
		return errors.InvalidQty
	}

	needsPrice := s.Kind == arena.KindLimit || s.Kind == arena.KindPostOnly
	if needsPrice {
		if !s.HasPrice {
			return errors.InvalidPriceDomain
		}
		if !cfg.PriceDomain.Valid(s.Price) {
			if s.Price < cfg.PriceDomain.Floor || s.Price > cfg.PriceDomain.Ceil {
				return errors.InvalidPriceDomain
			}
			return errors.InvalidTickSize
		}
	}

	if s.Kind == arena.KindMarket && !cfg.AllowMarketColdStart {
		oppositeEmpty := false
		if s.Side == arena.SideBuy {
			_, ok := b.BestAsk()
			oppositeEmpty = !ok
		} else {
			_, ok := b.BestBid()
			oppositeEmpty = !ok
		}
		if oppositeEmpty {
			return errors.MarketColdStart
		}
	}

	if needsPrice {
		if reason := checkBand(cfg, referencePrice, haveReference, s.Price); reason != "" {
			return reason
		}
		if s.Kind == arena.KindPostOnly && wouldCross(b, s.Side, s.Price, cfg.PriceDomain) {
			return errors.PostOnlyCross
		}
	}

	return ""
}

// checkBand reports OutsideBand if price falls outside the configured
// band around the reference price. With no reference price established
// yet (first trade of the symbol's lifetime) or a zero-value band, the
// check is a no-op.
func checkBand(cfg EngineCfg, referencePrice uint32, haveReference bool, price uint32) errors.Code {
	if !haveReference || cfg.Bands.Value == 0 {
		return ""
	}
	var lo, hi uint32
	switch cfg.Bands.Mode {
	case BandAbsolute:
		span := cfg.Bands.Value * cfg.PriceDomain.Tick
		lo, hi = bandBounds(referencePrice, span)
	case BandPercent:
		span := uint32(uint64(referencePrice) * uint64(cfg.Bands.Value) / 10000)
		lo, hi = bandBounds(referencePrice, span)
	}
	if price < lo || price > hi {
		return errors.OutsideBand
	}
	return ""
}

func bandBounds(reference, span uint32) (uint32, uint32) {
	var lo uint32
	if span > reference {
		lo = 0
	} else {
		lo = reference - span
	}
	return lo, reference + span
}

// wouldCross reports whether a PostOnly order at price would trade
// immediately against the current opposite best.
func wouldCross(b *book.Book, side arena.Side, price uint32, dom pricedomain.Domain) bool {
	if side == arena.SideBuy {
		bestAskIdx, ok := b.BestAsk()
		if !ok {
			return false
		}
		return price >= dom.Price(bestAskIdx)
	}
	bestBidIdx, ok := b.BestBid()
	if !ok {
		return false
	}
	return price <= dom.Price(bestBidIdx)
}

// validateCancel checks that order_id resolves to a resting order.
func validateCancel(idIndex map[uint64]arena.Handle, c Cancel) (arena.Handle, errors.Code) {
	h, ok := idIndex[c.OrderID]
	if !ok {
		return arena.NoneHandle, errors.UnknownOrder
	}
	return h, ""
}
