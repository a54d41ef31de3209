// Package clock implements the SimulationClock: the system heartbeat
// that advances logical time, drives every active symbol's engine tick
// concurrently, and feeds their outbound events to the execution
// manager. Grounded on
// original_source/engine/simulation-clock/src/clock.rs's
// run_clock_loop/process_tick_concurrent/handle_symbol_failure, with
// the per-tick fan-out rewritten onto golang.org/x/sync/errgroup instead
// of futures::join_all.
package clock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/waiver-exchange/whistle/internal/errors"
)

// ErrorRecovery controls what happens when a symbol's tick fails.
type ErrorRecovery uint8

const (
	// RecoveryContinue marks the failing symbol for eviction and keeps
	// the clock running.
	RecoveryContinue ErrorRecovery = iota
	// RecoveryHalt stops the clock entirely.
	RecoveryHalt
	// RecoveryRetry retries up to MaxRetries times before evicting.
	RecoveryRetry
)

// SymbolOrdering names an order for processing symbols within a tick.
// The clock does not read Config.SymbolOrdering: it dispatches symbols in
// the order Coordinator.ActiveSymbolIDs returns them.
type SymbolOrdering uint8

const (
	OrderBySymbolID SymbolOrdering = iota
	OrderByActivationTime
)

// Config mirrors the Rust ClockConfig.
type Config struct {
	TickCadence          time.Duration
	MetricsInterval      time.Duration
	HealthCheckInterval  time.Duration
	SnapshotIntervalTick uint64
	ErrorRecovery        ErrorRecovery
	MaxRetries           uint32
	SymbolOrdering       SymbolOrdering
}

// DefaultConfig returns a sensible simulation cadence.
func DefaultConfig() Config {
	return Config{
		TickCadence:          10 * time.Millisecond,
		MetricsInterval:      time.Second,
		HealthCheckInterval:  5 * time.Second,
		SnapshotIntervalTick: 10_000,
		ErrorRecovery:        RecoveryContinue,
		MaxRetries:           3,
		SymbolOrdering:       OrderBySymbolID,
	}
}

// Coordinator is the subset of coordinator.Coordinator the clock needs.
type Coordinator interface {
	UpdateCurrentTick(tick uint64)
	ActiveSymbolIDs() []uint32
	ProcessSymbolTick(symbolID uint32, tick uint64) error
	ReleaseIfIdle(symbolID uint32)
}

// ExecutionManager is the subset of execution.Manager the clock needs to
// drain a symbol's outbound queue after its tick completes and to close
// out the tick with a TickBoundary once every active symbol has reported
// TickComplete, per spec.md §4.7 step 3.
type ExecutionManager interface {
	ProcessEvents(symbolID uint32) error
	FlushTick(tick uint64) error
}

// SnapshotFunc persists a point-in-time snapshot at a tick boundary; the
// clock doesn't know the snapshot format, only the cadence.
type SnapshotFunc func(tick uint64) error

// Clock is the SimulationClock.
type Clock struct {
	coordinator Coordinator
	execution   ExecutionManager
	snapshot    SnapshotFunc
	cfg         Config
	logger      *zap.Logger

	currentTick atomic.Uint64
	running     atomic.Bool

	mu            sync.Mutex
	retryCounts   map[uint32]uint32
	evictionQueue []uint32
}

// New constructs a Clock. snapshot may be nil to disable snapshotting.
func New(coordinator Coordinator, execution ExecutionManager, snapshot SnapshotFunc, cfg Config, logger *zap.Logger) *Clock {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Clock{
		coordinator: coordinator,
		execution:   execution,
		snapshot:    snapshot,
		cfg:         cfg,
		logger:      logger.With(zap.String("component", "clock")),
		retryCounts: make(map[uint32]uint32),
	}
}

// Stop halts the clock loop at the next tick boundary.
func (c *Clock) Stop() {
	c.running.Store(false)
}

// IsRunning reports whether the clock loop is active.
func (c *Clock) IsRunning() bool { return c.running.Load() }

// CurrentTick returns the number of ticks the clock has started, which is
// one more than the most recently dispatched tick (ticks start at 0).
func (c *Clock) CurrentTick() uint64 { return c.currentTick.Load() }

// Run drives the clock loop until ctx is cancelled or Stop is called.
// Mirrors run_clock_loop: advance tick, fan the tick out to every active
// symbol concurrently, process evictions, then sleep to the next
// cadence boundary.
func (c *Clock) Run(ctx context.Context) error {
	if c.running.Swap(true) {
		return errors.New(errors.TickNotReady, "clock already running")
	}
	c.logger.Info("starting simulation clock")

	lastSnapshotTick := uint64(0)

	for c.running.Load() {
		select {
		case <-ctx.Done():
			c.running.Store(false)
			return ctx.Err()
		default:
		}

		tickStart := time.Now()
		tick := c.currentTick.Add(1) - 1

		c.coordinator.UpdateCurrentTick(tick)

		if err := c.processTickConcurrent(tick); err != nil {
			return err
		}

		if c.execution != nil {
			if err := c.execution.FlushTick(tick); err != nil {
				c.logger.Warn("tick boundary not flushed", zap.Uint64("tick", tick), zap.Error(err))
			}
		}

		c.processEvictions()

		if c.snapshot != nil && tick-lastSnapshotTick >= c.cfg.SnapshotIntervalTick {
			if err := c.snapshot(tick); err != nil {
				c.logger.Error("snapshot failed", zap.Uint64("tick", tick), zap.Error(err))
			} else {
				lastSnapshotTick = tick
			}
		}

		c.waitForNextTick(tickStart)
	}

	c.logger.Info("simulation clock stopped")
	return nil
}

// processTickConcurrent fans tick out to every active symbol via an
// errgroup, then drains each symbol's outbound queue through the
// execution manager once its tick completes.
func (c *Clock) processTickConcurrent(tick uint64) error {
	symbolIDs := c.coordinator.ActiveSymbolIDs()
	if len(symbolIDs) == 0 {
		return nil
	}

	g, _ := errgroup.WithContext(context.Background())
	for _, symbolID := range symbolIDs {
		symbolID := symbolID
		g.Go(func() error {
			c.processSymbolTick(symbolID, tick)
			return nil
		})
	}
	return g.Wait()
}

func (c *Clock) processSymbolTick(symbolID uint32, tick uint64) {
	if err := c.coordinator.ProcessSymbolTick(symbolID, tick); err != nil {
		c.logger.Error("symbol tick failed", zap.Uint32("symbol", symbolID), zap.Error(err))
		c.handleSymbolFailure(symbolID)
		return
	}

	if c.execution != nil {
		if err := c.execution.ProcessEvents(symbolID); err != nil {
			c.logger.Warn("execution manager failed to process events", zap.Uint32("symbol", symbolID), zap.Error(err))
		}
	}
}

// handleSymbolFailure applies cfg.ErrorRecovery to a symbol whose tick
// returned an error.
func (c *Clock) handleSymbolFailure(symbolID uint32) {
	switch c.cfg.ErrorRecovery {
	case RecoveryContinue:
		c.markForEviction(symbolID)
	case RecoveryHalt:
		c.logger.Error("halting clock after symbol failure", zap.Uint32("symbol", symbolID))
		c.Stop()
	case RecoveryRetry:
		c.mu.Lock()
		n := c.retryCounts[symbolID]
		if n < c.cfg.MaxRetries {
			c.retryCounts[symbolID] = n + 1
			c.mu.Unlock()
			return
		}
		delete(c.retryCounts, symbolID)
		c.mu.Unlock()
		c.markForEviction(symbolID)
	}
}

func (c *Clock) markForEviction(symbolID uint32) {
	c.mu.Lock()
	c.evictionQueue = append(c.evictionQueue, symbolID)
	c.mu.Unlock()
}

// processEvictions releases every symbol queued for eviction since the
// last tick boundary.
func (c *Clock) processEvictions() {
	c.mu.Lock()
	toEvict := c.evictionQueue
	c.evictionQueue = nil
	c.mu.Unlock()

	for _, symbolID := range toEvict {
		c.coordinator.ReleaseIfIdle(symbolID)
	}
}

// waitForNextTick sleeps off the remainder of the tick cadence, logging
// a warning if processing overran it.
func (c *Clock) waitForNextTick(tickStart time.Time) {
	elapsed := time.Since(tickStart)
	if elapsed < c.cfg.TickCadence {
		time.Sleep(c.cfg.TickCadence - elapsed)
		return
	}
	c.logger.Warn("tick processing overran cadence", zap.Duration("elapsed", elapsed), zap.Duration("cadence", c.cfg.TickCadence))
}
