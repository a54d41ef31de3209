package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/waiver-exchange/whistle/internal/whistle/arena"
	"github.com/waiver-exchange/whistle/internal/whistle/pricedomain"
)

func testDomain(t *testing.T) pricedomain.Domain {
	t.Helper()
	dom, err := pricedomain.New(100, 200, 5)
	require.NoError(t, err)
	return dom
}

func newTestBook(t *testing.T) (*Book, *arena.Arena) {
	t.Helper()
	dom := testDomain(t)
	return New(dom, zap.NewNop()), arena.New(16, false)
}

func insertOrder(a *arena.Arena, b *Book, side arena.Side, acct uint32, priceIdx, qty uint32) arena.Handle {
	h, _ := a.Alloc()
	o := a.Get(h)
	o.AccountID = acct
	o.Side = side
	o.PriceIdx = priceIdx
	o.QtyOpen = qty
	b.InsertTail(a, side, h, priceIdx, qty)
	return h
}

func TestInsertTailUpdatesLevelBitsetAndBest(t *testing.T) {
	b, a := newTestBook(t)
	dom := testDomain(t)

	idx, ok := dom.Idx(155)
	require.True(t, ok)

	insertOrder(a, b, arena.SideSell, 1, idx, 10)

	assert.Equal(t, uint32(10), b.LevelQty(arena.SideSell, idx))
	bestAsk, ok := b.BestAsk()
	require.True(t, ok)
	assert.Equal(t, idx, bestAsk)
}

func TestInsertTailKeepsFIFOOrder(t *testing.T) {
	b, a := newTestBook(t)
	dom := testDomain(t)
	idx, _ := dom.Idx(155)

	h1 := insertOrder(a, b, arena.SideSell, 1, idx, 5)
	h2 := insertOrder(a, b, arena.SideSell, 2, idx, 5)

	assert.Equal(t, h1, b.Head(arena.SideSell, idx))
	assert.Equal(t, h1, a.Get(h2).Prev)
	assert.Equal(t, h2, a.Get(h1).Next)
	assert.Equal(t, uint32(10), b.LevelQty(arena.SideSell, idx))
}

func TestBestBidIsHighestSetBit(t *testing.T) {
	b, a := newTestBook(t)
	dom := testDomain(t)

	idxLow, _ := dom.Idx(110)
	idxHigh, _ := dom.Idx(150)

	insertOrder(a, b, arena.SideBuy, 1, idxLow, 5)
	insertOrder(a, b, arena.SideBuy, 1, idxHigh, 5)

	best, ok := b.BestBid()
	require.True(t, ok)
	assert.Equal(t, idxHigh, best)
}

func TestBestAskIsLowestSetBit(t *testing.T) {
	b, a := newTestBook(t)
	dom := testDomain(t)

	idxLow, _ := dom.Idx(150)
	idxHigh, _ := dom.Idx(190)

	insertOrder(a, b, arena.SideSell, 1, idxHigh, 5)
	insertOrder(a, b, arena.SideSell, 1, idxLow, 5)

	best, ok := b.BestAsk()
	require.True(t, ok)
	assert.Equal(t, idxLow, best)
}

func TestUnlinkClearsEmptyLevelAndRecomputesBest(t *testing.T) {
	b, a := newTestBook(t)
	dom := testDomain(t)
	idx, _ := dom.Idx(155)

	h := insertOrder(a, b, arena.SideSell, 1, idx, 10)
	b.Unlink(a, arena.SideSell, h)

	assert.Equal(t, uint32(0), b.LevelQty(arena.SideSell, idx))
	_, ok := b.BestAsk()
	assert.False(t, ok, "best-ask cache should be empty once the only level is unlinked")
}

func TestUnlinkSplicesMiddleOfFIFO(t *testing.T) {
	b, a := newTestBook(t)
	dom := testDomain(t)
	idx, _ := dom.Idx(155)

	h1 := insertOrder(a, b, arena.SideSell, 1, idx, 5)
	h2 := insertOrder(a, b, arena.SideSell, 2, idx, 5)
	h3 := insertOrder(a, b, arena.SideSell, 3, idx, 5)

	b.Unlink(a, arena.SideSell, h2)

	assert.Equal(t, h3, a.Get(h1).Next)
	assert.Equal(t, h1, a.Get(h3).Prev)
	assert.Equal(t, uint32(10), b.LevelQty(arena.SideSell, idx))
	assert.Equal(t, h1, b.Head(arena.SideSell, idx))
}

func TestPartialFillDecrementsLevelTotalOnly(t *testing.T) {
	b, a := newTestBook(t)
	dom := testDomain(t)
	idx, _ := dom.Idx(155)

	h := insertOrder(a, b, arena.SideSell, 1, idx, 10)
	a.Get(h).QtyOpen = 4
	b.PartialFill(arena.SideSell, idx, 6)

	assert.Equal(t, uint32(4), b.LevelQty(arena.SideSell, idx))
	assert.Equal(t, h, b.Head(arena.SideSell, idx), "order stays resting on a partial fill")
}

func TestCrossedReportsFalseWhenOneSideEmpty(t *testing.T) {
	b, a := newTestBook(t)
	dom := testDomain(t)
	idx, _ := dom.Idx(150)
	insertOrder(a, b, arena.SideBuy, 1, idx, 5)

	assert.False(t, b.Crossed())
}

func TestCrossedDetectsLockedBook(t *testing.T) {
	b, a := newTestBook(t)
	dom := testDomain(t)
	idx, _ := dom.Idx(150)

	insertOrder(a, b, arena.SideBuy, 1, idx, 5)
	insertOrder(a, b, arena.SideSell, 2, idx, 5)

	assert.True(t, b.Crossed())
}

func TestNextAskAtOrAboveWalksOutward(t *testing.T) {
	b, a := newTestBook(t)
	dom := testDomain(t)

	idx155, _ := dom.Idx(155)
	idx160, _ := dom.Idx(160)
	insertOrder(a, b, arena.SideSell, 1, idx155, 10)
	insertOrder(a, b, arena.SideSell, 1, idx160, 5)

	next, ok := b.NextAskAtOrAbove(idx155 + 1)
	require.True(t, ok)
	assert.Equal(t, idx160, next)
}

func TestPrevBidAtOrBelowWalksOutward(t *testing.T) {
	b, a := newTestBook(t)
	dom := testDomain(t)

	idx140, _ := dom.Idx(140)
	idx150, _ := dom.Idx(150)
	insertOrder(a, b, arena.SideBuy, 1, idx140, 10)
	insertOrder(a, b, arena.SideBuy, 1, idx150, 5)

	prev, ok := b.PrevBidAtOrBelow(idx150 - 1)
	require.True(t, ok)
	assert.Equal(t, idx140, prev)
}
