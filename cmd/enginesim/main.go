// enginesim is a standalone driver that wires a coordinator, router,
// simulation clock and execution manager together over a handful of
// symbols, replays a small scripted order tape through the router, and
// prints the resulting trade/lifecycle events. It exists to exercise the
// full pipeline end to end without a network front door. Grounded on the
// teacher's cmd/benchmark/main.go flag/logger/report idiom.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/waiver-exchange/whistle/internal/clock"
	"github.com/waiver-exchange/whistle/internal/coordinator"
	"github.com/waiver-exchange/whistle/internal/execution"
	"github.com/waiver-exchange/whistle/internal/metrics"
	"github.com/waiver-exchange/whistle/internal/resilience"
	"github.com/waiver-exchange/whistle/internal/router"
	"github.com/waiver-exchange/whistle/internal/whistle"
	"github.com/waiver-exchange/whistle/internal/whistle/outqueue"
	"github.com/waiver-exchange/whistle/internal/whistle/pricedomain"
	"github.com/waiver-exchange/whistle/internal/whistle/queue"
	"github.com/waiver-exchange/whistle/internal/workerpool"
)

// consoleSink prints every dispatched event, standing in for a real
// downstream consumer (ledger, analytics, market-data feed).
type consoleSink struct {
	logger *zap.Logger
}

func (s *consoleSink) Name() string { return "console" }

func (s *consoleSink) Handle(ev outqueue.EngineEvent) error {
	s.logger.Info("event",
		zap.Uint32("symbol", ev.Symbol),
		zap.Uint64("tick", ev.Tick),
		zap.Uint8("kind", uint8(ev.Kind)),
	)
	return nil
}

// coordinatorAdapter adapts *coordinator.Coordinator to the narrower
// interfaces router.Coordinator and clock.Coordinator expect.
type coordinatorAdapter struct {
	*coordinator.Coordinator
}

func main() {
	var (
		ticks   = flag.Int("ticks", 20, "number of clock ticks to simulate")
		symbols = flag.Int("symbols", 2, "number of symbols to seed orders for")
		verbose = flag.Bool("verbose", false, "enable verbose logging")
	)
	flag.Parse()

	var logger *zap.Logger
	var err error
	if *verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	registry := prometheus.NewRegistry()
	_ = metrics.New(registry)

	_ = resilience.NewCircuitBreakerFactory(resilience.CircuitBreakerParams{Logger: logger})

	dom, err := pricedomain.New(1, 1_000_000, 1)
	if err != nil {
		log.Fatalf("failed to build price domain: %v", err)
	}

	resolver := func(symbolID uint32) (whistle.EngineCfg, error) {
		return whistle.DefaultEngineCfg(symbolID, dom), nil
	}

	pool := workerpool.New(workerpool.Params{Logger: logger})
	coord := coordinator.New(coordinator.DefaultConfig(), resolver, pool, logger)

	execMgr := execution.New(execution.DefaultConfig(), logger)
	execMgr.RegisterSink(&consoleSink{logger: logger})

	rt := router.New(router.DefaultConfig(), logger)
	rt.SetCoordinator(coordinatorAdapter{coord})

	simClock := clock.New(coordinatorAdapter{coord}, execManagerAdapter{coord, execMgr}, nil, clock.DefaultConfig(), logger)

	seedOrders(rt, coord, execMgr, *symbols, logger)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*ticks)*20*time.Millisecond)
	defer cancel()

	go func() {
		time.Sleep(time.Duration(*ticks) * clock.DefaultConfig().TickCadence)
		simClock.Stop()
	}()

	if err := simClock.Run(ctx); err != nil && err != context.DeadlineExceeded {
		logger.Warn("clock stopped", zap.Error(err))
	}

	fmt.Printf("simulated %d ticks across %d symbols\n", simClock.CurrentTick(), *symbols)
}

// execManagerAdapter bridges the coordinator's per-symbol outbound queue
// to execution.Manager.ProcessEvents, satisfying clock.ExecutionManager.
type execManagerAdapter struct {
	coord *coordinator.Coordinator
	mgr   *execution.Manager
}

func (a execManagerAdapter) ProcessEvents(symbolID uint32) error {
	eng := a.coord.EngineFor(symbolID)
	if eng == nil {
		return nil
	}
	return a.mgr.ProcessEvents(symbolID, eng.Outbound())
}

func (a execManagerAdapter) FlushTick(tick uint64) error {
	return a.mgr.FlushTick(tick)
}

// seedOrders activates numSymbols via the router and enqueues a small
// crossing pair of limit orders on each, demonstrating a basic cross and
// partial fill per spec.md §8's first scenario.
func seedOrders(rt *router.Router, coord *coordinator.Coordinator, execMgr *execution.Manager, numSymbols int, logger *zap.Logger) {
	for i := 0; i < numSymbols; i++ {
		symbolID := uint32(i + 1)

		sell := queue.InboundMsg{
			Kind:      queue.MsgSubmit,
			OrderID:   uint64(symbolID)*1000 + 1,
			AccountID: 1,
			Side:      queue.SideSell,
			OrderKind: queue.OrderLimit,
			Price:     100,
			HasPrice:  true,
			Qty:       10,
		}
		buy := queue.InboundMsg{
			Kind:      queue.MsgSubmit,
			OrderID:   uint64(symbolID)*1000 + 2,
			AccountID: 2,
			Side:      queue.SideBuy,
			OrderKind: queue.OrderLimit,
			Price:     100,
			HasPrice:  true,
			Qty:       4,
		}

		if err := rt.Route(0, symbolID, sell); err != nil {
			logger.Warn("seed order rejected", zap.Uint32("symbol", symbolID), zap.Error(err))
			continue
		}
		if err := rt.Route(0, symbolID, buy); err != nil {
			logger.Warn("seed order rejected", zap.Uint32("symbol", symbolID), zap.Error(err))
		}

		execMgr.RegisterSymbol(symbolID)
	}
}
