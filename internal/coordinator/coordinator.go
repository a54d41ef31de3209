// Package coordinator owns the matching engines for active symbols and
// schedules their per-tick work onto a fixed ants-backed worker pool,
// pinning each symbol to one worker thread by a stable hash until
// eviction. Grounded on original_source/engine/symbol-coordinator's
// CoordinatorConfig{num_threads, spsc_depth, max_symbols_per_thread}
// shape and integration_test.rs's activation contract, with the worker
// pool adapted from internal/architecture/fx/workerpool/worker_pool.go.
package coordinator

import (
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/waiver-exchange/whistle/internal/errors"
	"github.com/waiver-exchange/whistle/internal/whistle"
	"github.com/waiver-exchange/whistle/internal/whistle/queue"
	"github.com/waiver-exchange/whistle/internal/workerpool"
)

// Config mirrors the Rust CoordinatorConfig: thread count, default queue
// depth and per-thread symbol capacity.
type Config struct {
	NumThreads          int
	SpscDepth           uint32
	MaxSymbolsPerThread int
}

// DefaultConfig returns a modest coordinator configuration.
func DefaultConfig() Config {
	return Config{NumThreads: 4, SpscDepth: 1024, MaxSymbolsPerThread: 64}
}

// CfgResolver derives a per-symbol EngineCfg from a registry; the
// coordinator doesn't own symbol metadata itself (that's the registry's
// job), it only needs a way to materialize one on first activation.
type CfgResolver func(symbolID uint32) (whistle.EngineCfg, error)

type symbolState struct {
	engine     *whistle.Engine
	threadIdx  int
	evicting   bool
	activeTick uint64
}

// Coordinator owns engines and their queues, keyed by symbol id.
type Coordinator struct {
	cfg      Config
	resolver CfgResolver
	pool     *workerpool.Factory

	mu       sync.Mutex
	symbols  map[uint32]*symbolState
	current  uint64

	logger *zap.Logger
}

// New constructs a Coordinator. Each symbol is pinned to one of
// cfg.NumThreads size-1 pools (named "thread-N") keyed by threadFor, so
// ticks for symbols sharing a thread serialize through that pool and
// symbols on different threads run concurrently.
func New(cfg Config, resolver CfgResolver, pool *workerpool.Factory, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		cfg:      cfg,
		resolver: resolver,
		pool:     pool,
		symbols:  make(map[uint32]*symbolState),
		logger:   logger.With(zap.String("component", "coordinator")),
	}
}

// threadFor hashes symbolID to a stable worker index in [0, NumThreads).
func (c *Coordinator) threadFor(symbolID uint32) int {
	h := xxhash.Sum64(fmt.Appendf(nil, "%d", symbolID))
	return int(h % uint64(c.cfg.NumThreads))
}

// EnsureActive idempotently creates the engine and queues for symbolID on
// first call, returning the next tick it will be scheduled at. Mirrors
// spec.md §4.5's ensure_active.
func (c *Coordinator) EnsureActive(symbolID uint32) (nextTick uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st, ok := c.symbols[symbolID]; ok {
		if st.evicting {
			return 0, errors.New(errors.SymbolEvicting, "symbol is evicting")
		}
		return c.current + 1, nil
	}

	threadIdx := c.threadFor(symbolID)
	if c.symbolsOnThread(threadIdx) >= c.cfg.MaxSymbolsPerThread {
		return 0, errors.New(errors.SymbolCapacity, "thread at max symbol capacity")
	}

	cfg, err := c.resolver(symbolID)
	if err != nil {
		return 0, errors.Wrap(err, errors.SymbolCapacity, "resolving engine config failed")
	}

	engine := whistle.New(cfg, c.logger)
	c.symbols[symbolID] = &symbolState{engine: engine, threadIdx: threadIdx}

	c.logger.Info("symbol activated",
		zap.Uint32("symbol", symbolID),
		zap.Int("thread", threadIdx),
		zap.String("activation_id", ksuid.New().String()),
	)

	return c.current + 1, nil
}

func (c *Coordinator) symbolsOnThread(threadIdx int) int {
	n := 0
	for _, st := range c.symbols {
		if st.threadIdx == threadIdx {
			n++
		}
	}
	return n
}

// ReleaseIfIdle deallocates symbolID's engine if it has no open orders and
// both queues are empty; no-op otherwise. Must only be called at a tick
// boundary per spec.md §4.5.
func (c *Coordinator) ReleaseIfIdle(symbolID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.symbols[symbolID]
	if !ok || !st.engine.IsIdle() {
		return
	}
	delete(c.symbols, symbolID)
	c.logger.Info("symbol evicted",
		zap.Uint32("symbol", symbolID),
		zap.String("eviction_id", ksuid.New().String()),
	)
}

// RequestEviction marks symbolID as evicting. The flag only makes later
// EnsureActive calls for symbolID fail with SymbolEvicting; it does not
// release the engine (ReleaseIfIdle does not consult it) and it does not
// reject messages already queued for the symbol.
func (c *Coordinator) RequestEviction(symbolID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.symbols[symbolID]; ok {
		st.evicting = true
	}
}

// ProcessSymbolTick drives one tick of symbolID's engine on its pinned
// thread pool and blocks until that tick has actually finished running
// before returning, so the caller (the simulation clock) never drains the
// engine's outbound queue or flushes the tick boundary against a tick
// that's still in flight. Dispatching by threadIdx, rather than by
// symbol, means every symbol pinned to a thread shares that thread's
// size-1 pool, so the pool itself serializes ticks for symbols that share
// a thread and no two goroutines ever enter the same engine concurrently,
// per spec.md §5.
func (c *Coordinator) ProcessSymbolTick(symbolID uint32, tick uint64) error {
	c.mu.Lock()
	st, ok := c.symbols[symbolID]
	c.mu.Unlock()
	if !ok {
		return errors.New(errors.SymbolInactive, "symbol not active")
	}

	return c.pool.SubmitSync(fmt.Sprintf("thread-%d", st.threadIdx), 1, func() {
		st.engine.Tick(tick)
	})
}

// EngineFor returns the active engine for symbolID, for the router to wire
// its inbound queue against, or nil if the symbol isn't active.
func (c *Coordinator) EngineFor(symbolID uint32) *whistle.Engine {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.symbols[symbolID]
	if !ok {
		return nil
	}
	return st.engine
}

// InboundFor returns the active engine's inbound queue for symbolID, or
// nil if the symbol isn't active. Satisfies router.Coordinator.
func (c *Coordinator) InboundFor(symbolID uint32) *queue.Inbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.symbols[symbolID]
	if !ok {
		return nil
	}
	return st.engine.Inbound()
}

// ActiveSymbolIDs returns the currently active symbol ids in ascending
// order, matching spec.md §4.5's "within one worker, ascending symbol-id
// order" processing rule.
func (c *Coordinator) ActiveSymbolIDs() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uint32, 0, len(c.symbols))
	for id := range c.symbols {
		ids = append(ids, id)
	}
	sortUint32s(ids)
	return ids
}

func sortUint32s(ids []uint32) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

// GetCurrentTick returns the coordinator's cached view of the clock's tick.
func (c *Coordinator) GetCurrentTick() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// UpdateCurrentTick advances the coordinator's cached tick, called by the
// clock at the start of each iteration.
func (c *Coordinator) UpdateCurrentTick(tick uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = tick
}
