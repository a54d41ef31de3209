// Package router implements the OrderRouter: the component that stamps
// inbound messages with a per-symbol enqueue sequence and forwards them
// to the right symbol's inbound SPSC queue, activating the symbol via
// the coordinator on first contact. Grounded on
// original_source/engine/order-router/src/router.rs: RouterConfig,
// ActivationPolicy, RouterError, the activation-requested latch in
// route(), and the tick-boundary enq_seq reset in on_tick_boundary().
package router

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/waiver-exchange/whistle/internal/errors"
	"github.com/waiver-exchange/whistle/internal/whistle/queue"
)

// ActivationPolicy names when a symbol's engine is brought up. Route does
// not read Config.ActivationPolicy: every symbol is activated on its first
// routed message, and no symbols are prewarmed.
type ActivationPolicy uint8

const (
	// ActivationHybrid names prewarming the top-K symbols and activating
	// the rest on demand.
	ActivationHybrid ActivationPolicy = iota
	ActivationPrewarm
	ActivationOnDemand
)

// Config mirrors the Rust RouterConfig.
type Config struct {
	NumShards        uint32
	SpscDepthDefault uint32
	PrewarmTopK      uint32
	BurstWindowTicks uint32
	HeadroomPercent  uint32
	ActivationPolicy ActivationPolicy
}

// DefaultConfig mirrors RouterConfig::default().
func DefaultConfig() Config {
	return Config{
		NumShards:        1,
		SpscDepthDefault: 2048,
		PrewarmTopK:      128,
		BurstWindowTicks: 4,
		HeadroomPercent:  50,
		ActivationPolicy: ActivationHybrid,
	}
}

// Coordinator is the subset of coordinator.Coordinator the router needs.
// Kept as a narrow interface (rather than importing the coordinator
// package directly) so the router can be unit tested against a fake,
// mirroring the Rust SymbolCoordinatorApi trait object.
type Coordinator interface {
	EnsureActive(symbolID uint32) (nextTick uint64, err error)
	InboundFor(symbolID uint32) *queue.Inbound
}

// Metrics counts router outcomes, mirroring the Rust RouterMetrics
// struct. Exposed as plain fields since the router owns its single
// instance and callers read it via Snapshot.
type Metrics struct {
	mu                 sync.Mutex
	ActivationRequests uint64
	Enqueued           uint64
	RejectedBackpressure uint64
}

func (m *Metrics) incActivation() {
	m.mu.Lock()
	m.ActivationRequests++
	m.mu.Unlock()
}

func (m *Metrics) incEnqueued() {
	m.mu.Lock()
	m.Enqueued++
	m.mu.Unlock()
}

func (m *Metrics) incRejected() {
	m.mu.Lock()
	m.RejectedBackpressure++
	m.mu.Unlock()
}

// Snapshot returns a copy of the counters.
func (m *Metrics) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{
		ActivationRequests:   m.ActivationRequests,
		Enqueued:             m.Enqueued,
		RejectedBackpressure: m.RejectedBackpressure,
	}
}

type symbolState struct {
	enqSeq              uint32
	queue               *queue.Inbound
	isActive            bool
	activationRequested bool
}

// Router is the main OrderRouter implementation.
type Router struct {
	cfg         Config
	coordinator Coordinator
	metrics     Metrics
	logger      *zap.Logger

	mu          sync.Mutex
	symbols     map[uint32]*symbolState
	currentTick uint64
}

// New constructs a Router. The coordinator may be attached later via
// SetCoordinator, matching the Rust router's two-phase construction (it
// is built before the coordinator in some wiring orders).
func New(cfg Config, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		cfg:     cfg,
		symbols: make(map[uint32]*symbolState),
		logger:  logger.With(zap.String("component", "router")),
	}
}

// SetCoordinator wires the SymbolCoordinator used for activation.
func (r *Router) SetCoordinator(c Coordinator) {
	r.coordinator = c
}

// Config returns the router's configuration.
func (r *Router) Config() Config { return r.cfg }

// MetricsSnapshot returns a snapshot of the router's counters.
func (r *Router) MetricsSnapshot() Metrics { return r.metrics.Snapshot() }

// ShardForSymbol returns the shard a symbol is pinned to, stable across
// calls for a fixed NumShards, via xxhash of the symbol id.
func (r *Router) ShardForSymbol(symbolID uint32) uint32 {
	return shardForSymbol(symbolID, r.cfg.NumShards)
}

func shardForSymbol(symbolID, numShards uint32) uint32 {
	if numShards == 0 {
		return 0
	}
	var buf [4]byte
	buf[0] = byte(symbolID)
	buf[1] = byte(symbolID >> 8)
	buf[2] = byte(symbolID >> 16)
	buf[3] = byte(symbolID >> 24)
	h := xxhash.Sum64(buf[:])
	return uint32(h % uint64(numShards))
}

// Route stamps msg with the symbol's next enqueue sequence and forwards
// it to the symbol's inbound queue, activating the symbol on first
// contact. Mirrors OrderRouter::route in the original implementation,
// including the activation-requested latch that prevents a second
// concurrent caller from re-triggering EnsureActive while the first
// activation is in flight.
func (r *Router) Route(tickNow uint64, symbolID uint32, msg queue.InboundMsg) error {
	r.mu.Lock()
	if tickNow != r.currentTick {
		r.onTickBoundaryLocked(tickNow)
	}

	st, ok := r.symbols[symbolID]
	if !ok {
		st = &symbolState{}
		r.symbols[symbolID] = st
	}

	needsActivation := !st.isActive && !st.activationRequested
	if needsActivation {
		st.activationRequested = true
	}
	r.mu.Unlock()

	if needsActivation {
		r.metrics.incActivation()
		if err := r.activateSymbol(symbolID); err != nil {
			return err
		}
	}

	r.mu.Lock()
	st = r.symbols[symbolID]
	if st.queue == nil {
		r.mu.Unlock()
		return errors.New(errors.SymbolInactive, "symbol has no inbound queue")
	}
	msg.EnqSeq = st.enqSeq
	st.enqSeq++
	q := st.queue
	r.mu.Unlock()

	if err := q.TryEnqueueShared(msg); err != nil {
		r.metrics.incRejected()
		r.logger.Warn("enqueue failed under backpressure", zap.Uint32("symbol", symbolID))
		return errors.Wrap(err, errors.QueueBackpressure, "router enqueue failed")
	}

	r.metrics.incEnqueued()
	return nil
}

// activateSymbol ensures symbolID's engine is active and wires its
// inbound queue into the router's per-symbol state.
func (r *Router) activateSymbol(symbolID uint32) error {
	if r.coordinator == nil {
		return errors.New(errors.SymbolInactive, "no coordinator attached")
	}
	if _, err := r.coordinator.EnsureActive(symbolID); err != nil {
		r.mu.Lock()
		if st, ok := r.symbols[symbolID]; ok {
			st.activationRequested = false
		}
		r.mu.Unlock()
		return err
	}

	q := r.coordinator.InboundFor(symbolID)
	if q == nil {
		r.mu.Lock()
		if st, ok := r.symbols[symbolID]; ok {
			st.activationRequested = false
		}
		r.mu.Unlock()
		return errors.New(errors.SymbolInactive, "coordinator returned no inbound queue")
	}

	r.mu.Lock()
	st := r.symbols[symbolID]
	st.queue = q
	st.isActive = true
	r.mu.Unlock()
	return nil
}

// onTickBoundaryLocked resets every active symbol's enqueue sequence at
// the start of a new tick, per spec.md §4.6's "enq_seq resets to 0 at
// each tick boundary". Caller must hold r.mu.
func (r *Router) onTickBoundaryLocked(tickNow uint64) {
	r.currentTick = tickNow
	for _, st := range r.symbols {
		st.enqSeq = 0
	}
}

// ReleaseSymbol clears cached routing state for symbolID after the
// coordinator has evicted it, so a later Route call re-activates from
// scratch instead of enqueueing into a stale queue.
func (r *Router) ReleaseSymbol(symbolID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.symbols, symbolID)
}
