package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waiver-exchange/whistle/internal/errors"
	"github.com/waiver-exchange/whistle/internal/whistle/queue"
)

// fakeCoordinator implements the router's Coordinator interface against an
// in-memory map of inbound queues, so Route can be exercised without
// spinning up a real symbol coordinator.
type fakeCoordinator struct {
	queues     map[uint32]*queue.Inbound
	failOnNext bool
	activated  []uint32
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{queues: make(map[uint32]*queue.Inbound)}
}

func (f *fakeCoordinator) EnsureActive(symbolID uint32) (uint64, error) {
	if f.failOnNext {
		f.failOnNext = false
		return 0, errors.New(errors.SymbolCapacity, "no capacity")
	}
	if _, ok := f.queues[symbolID]; !ok {
		f.queues[symbolID] = queue.NewInbound(8)
	}
	f.activated = append(f.activated, symbolID)
	return 1, nil
}

func (f *fakeCoordinator) InboundFor(symbolID uint32) *queue.Inbound {
	return f.queues[symbolID]
}

func TestRouteActivatesSymbolOnFirstContact(t *testing.T) {
	r := New(DefaultConfig(), nil)
	fc := newFakeCoordinator()
	r.SetCoordinator(fc)

	err := r.Route(1, 42, queue.InboundMsg{Kind: queue.MsgSubmit, OrderID: 1})
	require.NoError(t, err)
	assert.Equal(t, []uint32{42}, fc.activated)
	assert.Equal(t, uint64(1), r.MetricsSnapshot().ActivationRequests)
}

func TestRouteDoesNotReactivateAlreadyActiveSymbol(t *testing.T) {
	r := New(DefaultConfig(), nil)
	fc := newFakeCoordinator()
	r.SetCoordinator(fc)

	require.NoError(t, r.Route(1, 42, queue.InboundMsg{OrderID: 1}))
	require.NoError(t, r.Route(1, 42, queue.InboundMsg{OrderID: 2}))

	assert.Equal(t, []uint32{42}, fc.activated, "second Route call must not re-activate")
}

func TestEnqSeqStampsFromZeroAndIncrements(t *testing.T) {
	r := New(DefaultConfig(), nil)
	fc := newFakeCoordinator()
	r.SetCoordinator(fc)

	msg1 := queue.InboundMsg{OrderID: 1}
	msg2 := queue.InboundMsg{OrderID: 2}
	require.NoError(t, r.Route(1, 42, msg1))
	require.NoError(t, r.Route(1, 42, msg2))

	q := fc.InboundFor(42)
	drained := q.Drain(10)
	require.Len(t, drained, 2)
	assert.Equal(t, uint32(0), drained[0].EnqSeq)
	assert.Equal(t, uint32(1), drained[1].EnqSeq)
}

func TestEnqSeqResetsAtTickBoundary(t *testing.T) {
	r := New(DefaultConfig(), nil)
	fc := newFakeCoordinator()
	r.SetCoordinator(fc)

	require.NoError(t, r.Route(1, 42, queue.InboundMsg{OrderID: 1}))
	require.NoError(t, r.Route(1, 42, queue.InboundMsg{OrderID: 2}))
	require.NoError(t, r.Route(2, 42, queue.InboundMsg{OrderID: 3}))

	drained := fc.InboundFor(42).Drain(10)
	require.Len(t, drained, 3)
	assert.Equal(t, uint32(0), drained[0].EnqSeq)
	assert.Equal(t, uint32(1), drained[1].EnqSeq)
	assert.Equal(t, uint32(0), drained[2].EnqSeq, "enq_seq resets to 0 on a new tick")
}

func TestRouteReturnsBackpressureWhenQueueFull(t *testing.T) {
	r := New(DefaultConfig(), nil)
	fc := newFakeCoordinator()
	fc.queues[42] = queue.NewInbound(2) // usable depth 1
	r.SetCoordinator(fc)

	require.NoError(t, r.Route(1, 42, queue.InboundMsg{OrderID: 1}))
	err := r.Route(1, 42, queue.InboundMsg{OrderID: 2})
	require.Error(t, err)
	assert.Equal(t, errors.QueueBackpressure, errors.GetCode(err))
	assert.Equal(t, uint64(1), r.MetricsSnapshot().RejectedBackpressure)
}

func TestActivationFailureClearsLatchForRetry(t *testing.T) {
	r := New(DefaultConfig(), nil)
	fc := newFakeCoordinator()
	fc.failOnNext = true
	r.SetCoordinator(fc)

	err := r.Route(1, 42, queue.InboundMsg{OrderID: 1})
	require.Error(t, err)
	assert.Equal(t, errors.SymbolCapacity, errors.GetCode(err))

	// A retry should succeed now that failOnNext has been consumed, proving
	// the activation-requested latch was cleared on failure.
	require.NoError(t, r.Route(1, 42, queue.InboundMsg{OrderID: 2}))
}

func TestShardForSymbolIsStable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumShards = 4
	r := New(cfg, nil)

	first := r.ShardForSymbol(7)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, r.ShardForSymbol(7))
	}
	assert.Less(t, first, uint32(4))
}

func TestReleaseSymbolClearsState(t *testing.T) {
	r := New(DefaultConfig(), nil)
	fc := newFakeCoordinator()
	r.SetCoordinator(fc)

	require.NoError(t, r.Route(1, 42, queue.InboundMsg{OrderID: 1}))
	r.ReleaseSymbol(42)

	require.NoError(t, r.Route(1, 42, queue.InboundMsg{OrderID: 2}))
	assert.Equal(t, []uint32{42, 42}, fc.activated, "releasing then routing again must re-activate")
}
