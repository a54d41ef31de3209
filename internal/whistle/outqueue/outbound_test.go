package outqueue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waiver-exchange/whistle/internal/errors"
)

func TestNewRoundsCapacityToPowerOfTwo(t *testing.T) {
	q := New(5, Drop)
	assert.Equal(t, uint32(8), q.Capacity())
}

func TestEnqueueDequeueFIFOOrder(t *testing.T) {
	q := New(4, Drop)
	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, q.TryEnqueue(EngineEvent{Kind: EventTrade, ExecID: i}))
	}
	for i := uint64(1); i <= 3; i++ {
		ev, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, i, ev.ExecID)
	}
}

func TestDropPolicyReturnsBackpressureOnOverflow(t *testing.T) {
	q := New(4, Drop) // usable depth 3
	for i := 0; i < 3; i++ {
		require.NoError(t, q.TryEnqueue(EngineEvent{Kind: EventTickComplete}))
	}
	err := q.TryEnqueue(EngineEvent{Kind: EventTickComplete})
	require.Error(t, err)
	assert.Equal(t, errors.QueueBackpressure, errors.GetCode(err))
}

func TestDrainReturnsUpToMaxInFIFOOrder(t *testing.T) {
	q := New(8, Drop)
	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, q.TryEnqueue(EngineEvent{ExecID: i}))
	}
	drained := q.Drain(3)
	require.Len(t, drained, 3)
	assert.Equal(t, uint64(1), drained[0].ExecID)
	assert.Equal(t, uint64(3), drained[2].ExecID)
}

func TestConcurrentProducersPreserveAllEvents(t *testing.T) {
	q := New(1024, Drop)
	const producers = 8
	const perProducer = 64

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = q.TryEnqueue(EngineEvent{Symbol: uint32(p), ExecID: uint64(i)})
			}
		}(p)
	}
	wg.Wait()

	count := 0
	for {
		_, ok := q.TryDequeue()
		if !ok {
			break
		}
		count++
	}
	assert.Equal(t, producers*perProducer, count)
}

func TestClearEmptiesQueue(t *testing.T) {
	q := New(8, Drop)
	require.NoError(t, q.TryEnqueue(EngineEvent{}))
	q.Clear()
	assert.True(t, q.IsEmpty())
}
