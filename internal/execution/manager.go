// Package execution implements the ExecutionManager: the sole egress
// point for engine events. It drains each symbol's outbound queue,
// assigns a global-fallback execution id where the engine didn't shard
// one, publishes normalized events onto a watermill gochannel bus, and
// fans them out to registered sinks guarded by a circuit breaker per
// sink so a consistently erroring sink doesn't block the others.
// Grounded on original_source/engine/execution-manager/src/lib.rs's
// ExecutionManager (register_symbol/deregister_symbol/process_events/
// is_tick_ready/flush_tick), with dispatch rewritten onto the teacher's
// watermill_adapter.go idiom and sink resilience onto the adapted
// resilience.CircuitBreakerFactory.
package execution

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/waiver-exchange/whistle/internal/errors"
	"github.com/waiver-exchange/whistle/internal/resilience"
	"github.com/waiver-exchange/whistle/internal/whistle/outqueue"
)

const tickBoundaryTopic = "execution.tick_boundary"
const eventsTopic = "execution.events"

// Sink receives normalized events dispatched by the ExecutionManager. A
// sink is identified by Name for circuit-breaker bookkeeping and
// deregistration.
type Sink interface {
	Name() string
	Handle(ev outqueue.EngineEvent) error
}

// SettlementSink is the optional second capability of spec.md §4.8's sink
// polymorphism: post-settlement callbacks invoked within the tick boundary,
// alongside (not instead of) the raw event stream a Sink receives via
// Handle. A registered Sink that also implements SettlementSink gets both;
// one that doesn't is only ever given the raw events.
type SettlementSink interface {
	Sink
	// OnTradeSettled fires once per side of a trade: once for the taker's
	// account/side, once for the maker's.
	OnTradeSettled(accountID, symbolID uint32, side outqueue.Side, qty, price uint32) error
	// OnPriceUpdated fires once per price-forming trade.
	OnPriceUpdated(symbolID, price uint32) error
	// OnTickBoundary fires once per flushed tick, after every registered
	// symbol's TickComplete has been observed.
	OnTickBoundary(tick uint64) error
}

// OutboundDrainer is the subset of outqueue.Outbound the manager drains.
type OutboundDrainer interface {
	Drain(maxEvents uint32) []outqueue.EngineEvent
}

// symbolInfo tracks per-symbol registration state, mirroring the Rust
// SymbolInfo.
type symbolInfo struct {
	registeredAt    time.Time
	lastTickSeen    uint64
	haveTick        bool
	eventsProcessed uint64
}

// Config controls how many events ProcessEvents drains per call.
type Config struct {
	BatchSize uint32
}

// DefaultConfig returns a modest per-tick drain batch size.
func DefaultConfig() Config {
	return Config{BatchSize: 4096}
}

// Manager is the ExecutionManager.
type Manager struct {
	cfg     Config
	logger  *zap.Logger
	breaker *resilience.CircuitBreakerFactory

	publisher  message.Publisher
	subscriber message.Subscriber

	mu               sync.Mutex
	symbols          map[uint32]*symbolInfo
	sinks            map[string]Sink
	sinkOrder        []string
	nextFallbackExec uint64
	totalProcessed   uint64
}

// New constructs a Manager backed by an in-process watermill gochannel
// bus. outbound event delivery to sinks happens synchronously inside
// ProcessEvents; the bus exists so a future out-of-process consumer can
// subscribe to eventsTopic/tick boundary without the manager's API
// changing.
func New(cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	wmLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 1024, Persistent: false}, wmLogger)

	breaker := resilience.NewCircuitBreakerFactory(resilience.CircuitBreakerParams{Logger: logger})

	return &Manager{
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "execution_manager")),
		breaker:    breaker,
		publisher:  pubSub,
		subscriber: pubSub,
		symbols:    make(map[uint32]*symbolInfo),
		sinks:      make(map[string]Sink),
	}
}

// RegisterSink adds a sink to the fanout set. Must be called before
// events needing delivery to it are processed. Sinks are dispatched in
// registration order, per spec.md §4.8/§9.
func (m *Manager) RegisterSink(s Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sinks[s.Name()]; !exists {
		m.sinkOrder = append(m.sinkOrder, s.Name())
	}
	m.sinks[s.Name()] = s
}

// DeregisterSink removes a sink, e.g. after its breaker trips repeatedly.
func (m *Manager) DeregisterSink(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sinks[name]; !exists {
		return
	}
	delete(m.sinks, name)
	for i, n := range m.sinkOrder {
		if n == name {
			m.sinkOrder = append(m.sinkOrder[:i], m.sinkOrder[i+1:]...)
			break
		}
	}
}

// orderedSinks returns the currently registered sinks in registration
// order, snapshotted under the lock.
func (m *Manager) orderedSinks() []Sink {
	m.mu.Lock()
	defer m.mu.Unlock()
	sinks := make([]Sink, 0, len(m.sinkOrder))
	for _, name := range m.sinkOrder {
		sinks = append(sinks, m.sinks[name])
	}
	return sinks
}

// RegisterSymbol must be called before any events for symbolID are
// processed.
func (m *Manager) RegisterSymbol(symbolID uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.symbols[symbolID] = &symbolInfo{registeredAt: time.Now()}
}

// DeregisterSymbol removes symbolID's tracking state, called when its
// engine is evicted.
func (m *Manager) DeregisterSymbol(symbolID uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.symbols, symbolID)
}

// ProcessEvents drains queue and runs each event through normalization,
// id-fallback assignment, and sink fanout.
func (m *Manager) ProcessEvents(symbolID uint32, queue OutboundDrainer) error {
	m.mu.Lock()
	info, ok := m.symbols[symbolID]
	m.mu.Unlock()
	if !ok {
		return errors.Newf(errors.SymbolInactive, "execution manager: symbol %d not registered", symbolID)
	}

	events := queue.Drain(m.cfg.BatchSize)
	if len(events) == 0 {
		return nil
	}

	for i := range events {
		ev := &events[i]
		if ev.Kind == outqueue.EventTrade && ev.ExecID == 0 {
			ev.ExecID = m.assignFallbackExecID()
		}

		m.publishEvent(*ev)
		m.dispatchToSinks(*ev)

		m.mu.Lock()
		if ev.Kind == outqueue.EventTickComplete {
			info.lastTickSeen = ev.Tick
			info.haveTick = true
		}
		info.eventsProcessed++
		m.mu.Unlock()
	}

	m.mu.Lock()
	m.totalProcessed += uint64(len(events))
	m.mu.Unlock()
	return nil
}

// assignFallbackExecID hands out a process-local execution id for events
// whose engine didn't shard one (Global exec-id mode), per spec.md §4.8.
func (m *Manager) assignFallbackExecID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextFallbackExec++
	return m.nextFallbackExec
}

func (m *Manager) publishEvent(ev outqueue.EngineEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		m.logger.Warn("failed to marshal event for publish", zap.Error(err))
		return
	}
	msg := message.NewMessage(uuid.New().String(), payload)
	msg.Metadata.Set("symbol", strconv.FormatUint(uint64(ev.Symbol), 10))
	if err := m.publisher.Publish(eventsTopic, msg); err != nil {
		m.logger.Warn("failed to publish event", zap.Error(err))
	}
}

// dispatchToSinks fans ev out to every registered sink, guarded by a
// circuit breaker per sink name. A sink whose breaker is open is skipped
// for this event; the caller is responsible for deregistering sinks that
// stay open (see IsSinkOpen).
func (m *Manager) dispatchToSinks(ev outqueue.EngineEvent) {
	for _, s := range m.orderedSinks() {
		name := s.Name()
		if m.breaker.IsOpen(name) {
			continue
		}
		if err := m.breaker.ExecuteSink(name, func() error { return s.Handle(ev) }); err != nil {
			m.logger.Warn("sink dispatch failed", zap.String("sink", name), zap.Error(err))
			continue
		}
		m.dispatchSettlement(s, name, ev)
	}
}

// dispatchSettlement invokes the post-settlement callbacks of spec.md
// §4.8 for sinks that opt into SettlementSink, guarded by the same
// circuit breaker as the raw event dispatch above.
func (m *Manager) dispatchSettlement(s Sink, name string, ev outqueue.EngineEvent) {
	settle, ok := s.(SettlementSink)
	if !ok || ev.Kind != outqueue.EventTrade {
		return
	}
	if err := m.breaker.ExecuteSink(name, func() error {
		if err := settle.OnTradeSettled(ev.TakerAccount, ev.Symbol, ev.TakerSide, ev.Qty, ev.Price); err != nil {
			return err
		}
		makerSide := outqueue.SideSell
		if ev.TakerSide == outqueue.SideSell {
			makerSide = outqueue.SideBuy
		}
		if err := settle.OnTradeSettled(ev.MakerAccount, ev.Symbol, makerSide, ev.Qty, ev.Price); err != nil {
			return err
		}
		return settle.OnPriceUpdated(ev.Symbol, ev.Price)
	}); err != nil {
		m.logger.Warn("settlement callback failed", zap.String("sink", name), zap.Error(err))
	}
}

// IsSinkOpen reports whether name's circuit breaker is open, i.e. it is
// a deregistration candidate.
func (m *Manager) IsSinkOpen(name string) bool {
	return m.breaker.IsOpen(name)
}

// IsTickReady reports whether every registered symbol has reported
// TickComplete for tick (or a later tick), per spec.md §4.8's
// tick-boundary gating.
func (m *Manager) IsTickReady(tick uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, info := range m.symbols {
		if !info.haveTick || info.lastTickSeen < tick {
			return false
		}
	}
	return true
}

// FlushTick emits a TickBoundary event once every registered symbol has
// reached tick, returning errors.TickNotReady otherwise.
func (m *Manager) FlushTick(tick uint64) error {
	if !m.IsTickReady(tick) {
		return errors.Newf(errors.TickNotReady, "tick %d not ready to flush", tick)
	}

	m.mu.Lock()
	symbolIDs := make([]uint32, 0, len(m.symbols))
	for id := range m.symbols {
		symbolIDs = append(symbolIDs, id)
	}
	processed := m.totalProcessed
	m.mu.Unlock()

	boundary := outqueue.EngineEvent{Kind: outqueue.EventTickComplete, Tick: tick}
	payload, err := json.Marshal(struct {
		Tick            uint64   `json:"tick"`
		FlushedSymbols  []uint32 `json:"flushed_symbols"`
		EventsProcessed uint64   `json:"events_processed"`
	}{Tick: tick, FlushedSymbols: symbolIDs, EventsProcessed: processed})
	if err != nil {
		return errors.Wrap(err, errors.TickNotReady, "failed to marshal tick boundary")
	}

	msg := message.NewMessage(uuid.New().String(), payload)
	if err := m.publisher.Publish(tickBoundaryTopic, msg); err != nil {
		m.logger.Warn("failed to publish tick boundary", zap.Error(err))
	}

	m.dispatchToSinks(boundary)
	m.dispatchTickBoundary(tick)
	return nil
}

// dispatchTickBoundary invokes OnTickBoundary on every registered
// SettlementSink, guarded by its circuit breaker like the other callbacks.
func (m *Manager) dispatchTickBoundary(tick uint64) {
	for _, s := range m.orderedSinks() {
		settle, ok := s.(SettlementSink)
		if !ok {
			continue
		}
		name := s.Name()
		if m.breaker.IsOpen(name) {
			continue
		}
		if err := m.breaker.ExecuteSink(name, func() error { return settle.OnTickBoundary(tick) }); err != nil {
			m.logger.Warn("tick boundary callback failed", zap.String("sink", name), zap.Error(err))
		}
	}
}

// Close releases the underlying watermill bus.
func (m *Manager) Close() error {
	if closer, ok := m.publisher.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
