package execution

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waiver-exchange/whistle/internal/errors"
	"github.com/waiver-exchange/whistle/internal/whistle/outqueue"
)

// fakeQueue is an OutboundDrainer fed from a plain slice, so manager tests
// don't need a real outqueue.Outbound.
type fakeQueue struct {
	events []outqueue.EngineEvent
}

func (f *fakeQueue) Drain(maxEvents uint32) []outqueue.EngineEvent {
	n := uint32(len(f.events))
	if n > maxEvents {
		n = maxEvents
	}
	out := f.events[:n]
	f.events = f.events[n:]
	return out
}

// recordingSink captures every event it's handed, for assertions on
// delivery order and count.
type recordingSink struct {
	mu     sync.Mutex
	name   string
	events []outqueue.EngineEvent
	err    error
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Handle(ev outqueue.EngineEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) snapshot() []outqueue.EngineEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]outqueue.EngineEvent, len(s.events))
	copy(out, s.events)
	return out
}

// settlementSink layers the post-settlement callback capability on top of
// recordingSink, per spec.md §4.8's sink class (b).
type settlementSink struct {
	recordingSink
	mu             sync.Mutex
	settlements    []outqueue.EngineEvent
	priceUpdates   []uint32
	tickBoundaries []uint64
}

func (s *settlementSink) OnTradeSettled(accountID, symbolID uint32, side outqueue.Side, qty, price uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settlements = append(s.settlements, outqueue.EngineEvent{
		Symbol: symbolID, TakerSide: side, Qty: qty, Price: price, TakerAccount: accountID,
	})
	return nil
}

func (s *settlementSink) OnPriceUpdated(symbolID, price uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priceUpdates = append(s.priceUpdates, price)
	return nil
}

func (s *settlementSink) OnTickBoundary(tick uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickBoundaries = append(s.tickBoundaries, tick)
	return nil
}

func TestProcessEventsRejectsUnregisteredSymbol(t *testing.T) {
	m := New(DefaultConfig(), nil)
	err := m.ProcessEvents(1, &fakeQueue{})
	require.Error(t, err)
	assert.Equal(t, errors.SymbolInactive, errors.GetCode(err))
}

func TestProcessEventsDispatchesToRegisteredSinks(t *testing.T) {
	m := New(DefaultConfig(), nil)
	m.RegisterSymbol(1)
	sink := &recordingSink{name: "s1"}
	m.RegisterSink(sink)

	q := &fakeQueue{events: []outqueue.EngineEvent{
		{Kind: outqueue.EventAccepted, Symbol: 1, Tick: 5, OrderID: 1},
		{Kind: outqueue.EventTickComplete, Symbol: 1, Tick: 5},
	}}
	require.NoError(t, m.ProcessEvents(1, q))

	got := sink.snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, outqueue.EventAccepted, got[0].Kind)
	assert.Equal(t, outqueue.EventTickComplete, got[1].Kind)
}

func TestIsTickReadyRequiresEverySymbol(t *testing.T) {
	m := New(DefaultConfig(), nil)
	m.RegisterSymbol(1)
	m.RegisterSymbol(2)

	require.NoError(t, m.ProcessEvents(1, &fakeQueue{events: []outqueue.EngineEvent{
		{Kind: outqueue.EventTickComplete, Symbol: 1, Tick: 5},
	}}))
	assert.False(t, m.IsTickReady(5), "symbol 2 has not reported tick 5 yet")

	require.NoError(t, m.ProcessEvents(2, &fakeQueue{events: []outqueue.EngineEvent{
		{Kind: outqueue.EventTickComplete, Symbol: 2, Tick: 5},
	}}))
	assert.True(t, m.IsTickReady(5))
}

func TestFlushTickFailsWhenNotReady(t *testing.T) {
	m := New(DefaultConfig(), nil)
	m.RegisterSymbol(1)

	err := m.FlushTick(5)
	require.Error(t, err)
	assert.Equal(t, errors.TickNotReady, errors.GetCode(err))
}

func TestFlushTickSucceedsOnceAllSymbolsReportTickComplete(t *testing.T) {
	m := New(DefaultConfig(), nil)
	m.RegisterSymbol(1)
	require.NoError(t, m.ProcessEvents(1, &fakeQueue{events: []outqueue.EngineEvent{
		{Kind: outqueue.EventTickComplete, Symbol: 1, Tick: 1},
	}}))

	require.NoError(t, m.FlushTick(1))
}

func TestDeregisterSymbolExcludesItFromTickReadiness(t *testing.T) {
	m := New(DefaultConfig(), nil)
	m.RegisterSymbol(1)
	m.RegisterSymbol(2)
	m.DeregisterSymbol(2)

	require.NoError(t, m.ProcessEvents(1, &fakeQueue{events: []outqueue.EngineEvent{
		{Kind: outqueue.EventTickComplete, Symbol: 1, Tick: 1},
	}}))
	assert.True(t, m.IsTickReady(1))
}

func TestSettlementSinkReceivesTradeAndTickBoundaryCallbacks(t *testing.T) {
	m := New(DefaultConfig(), nil)
	m.RegisterSymbol(1)

	sink := &settlementSink{recordingSink: recordingSink{name: "settlement"}}
	m.RegisterSink(sink)

	q := &fakeQueue{events: []outqueue.EngineEvent{
		{
			Kind: outqueue.EventTrade, Symbol: 1, Tick: 1, ExecID: 1,
			Price: 155, Qty: 5, TakerSide: outqueue.SideBuy,
			MakerOrder: 1, TakerOrder: 2, MakerAccount: 9, TakerAccount: 10,
		},
		{Kind: outqueue.EventTickComplete, Symbol: 1, Tick: 1},
	}}
	require.NoError(t, m.ProcessEvents(1, q))
	require.NoError(t, m.FlushTick(1))

	require.Len(t, sink.settlements, 2, "one callback for the taker side, one for the maker side")
	accounts := []uint32{sink.settlements[0].TakerAccount, sink.settlements[1].TakerAccount}
	assert.ElementsMatch(t, []uint32{9, 10}, accounts)

	require.Len(t, sink.priceUpdates, 1)
	assert.Equal(t, uint32(155), sink.priceUpdates[0])

	require.Len(t, sink.tickBoundaries, 1)
	assert.Equal(t, uint64(1), sink.tickBoundaries[0])
}

func TestSinksDispatchInRegistrationOrder(t *testing.T) {
	m := New(DefaultConfig(), nil)
	m.RegisterSymbol(1)

	var order []string
	var mu sync.Mutex
	record := func(name string) func(outqueue.EngineEvent) error {
		return func(outqueue.EngineEvent) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	m.RegisterSink(&callbackSink{name: "z", handle: record("z")})
	m.RegisterSink(&callbackSink{name: "a", handle: record("a")})
	m.RegisterSink(&callbackSink{name: "m", handle: record("m")})

	q := &fakeQueue{events: []outqueue.EngineEvent{
		{Kind: outqueue.EventAccepted, Symbol: 1, Tick: 1, OrderID: 1},
	}}
	require.NoError(t, m.ProcessEvents(1, q))

	assert.Equal(t, []string{"z", "a", "m"}, order, "sinks must fire in registration order regardless of name")
}

func TestDeregisteredSinkIsSkippedButOrderIsPreservedForTheRest(t *testing.T) {
	m := New(DefaultConfig(), nil)
	m.RegisterSymbol(1)

	var order []string
	var mu sync.Mutex
	record := func(name string) func(outqueue.EngineEvent) error {
		return func(outqueue.EngineEvent) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	m.RegisterSink(&callbackSink{name: "first", handle: record("first")})
	m.RegisterSink(&callbackSink{name: "second", handle: record("second")})
	m.RegisterSink(&callbackSink{name: "third", handle: record("third")})
	m.DeregisterSink("second")

	q := &fakeQueue{events: []outqueue.EngineEvent{
		{Kind: outqueue.EventAccepted, Symbol: 1, Tick: 1, OrderID: 1},
	}}
	require.NoError(t, m.ProcessEvents(1, q))

	assert.Equal(t, []string{"first", "third"}, order)
}

// callbackSink is a minimal Sink whose Handle delegates to a closure, for
// tests that only care about dispatch order, not captured events.
type callbackSink struct {
	name   string
	handle func(outqueue.EngineEvent) error
}

func (s *callbackSink) Name() string                         { return s.name }
func (s *callbackSink) Handle(ev outqueue.EngineEvent) error { return s.handle(ev) }

func TestFallbackExecIDAssignedWhenEngineLeftItZero(t *testing.T) {
	m := New(DefaultConfig(), nil)
	m.RegisterSymbol(1)

	q := &fakeQueue{events: []outqueue.EngineEvent{
		{Kind: outqueue.EventTrade, Symbol: 1, Tick: 1, ExecID: 0},
		{Kind: outqueue.EventTrade, Symbol: 1, Tick: 1, ExecID: 0},
	}}
	sink := &recordingSink{name: "s1"}
	m.RegisterSink(sink)
	require.NoError(t, m.ProcessEvents(1, q))

	got := sink.snapshot()
	require.Len(t, got, 2)
	assert.NotZero(t, got[0].ExecID)
	assert.NotZero(t, got[1].ExecID)
	assert.NotEqual(t, got[0].ExecID, got[1].ExecID)
}
