package workerpool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestFactory(t *testing.T) *Factory {
	t.Helper()
	return New(Params{Logger: zap.NewNop()})
}

func waitUntil(t *testing.T, deadline time.Duration, cond func() bool) {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", deadline)
}

func TestGetWorkerPoolRejectsNonPositiveSize(t *testing.T) {
	f := newTestFactory(t)
	_, err := f.GetWorkerPool("p", 0)
	assert.Equal(t, ErrInvalidPoolSize, err)
}

func TestGetWorkerPoolReusesExistingPoolByName(t *testing.T) {
	f := newTestFactory(t)
	p1, err := f.GetWorkerPool("symbol-1", 4)
	require.NoError(t, err)
	p2, err := f.GetWorkerPool("symbol-1", 4)
	require.NoError(t, err)
	assert.Same(t, p1, p2)
}

func TestSubmitRunsTaskAndRecordsSuccessfulExecution(t *testing.T) {
	f := newTestFactory(t)
	var ran sync.WaitGroup
	ran.Add(1)
	require.NoError(t, f.Submit("pool-a", func() { ran.Done() }))

	ran.Wait()
	waitUntil(t, time.Second, func() bool { return f.GetMetrics().GetExecutionCount("pool-a") == 1 })
	assert.Equal(t, int64(1), f.GetMetrics().GetSuccessCount("pool-a"))
}

func TestSubmitRecordsPanicAndRecovers(t *testing.T) {
	f := newTestFactory(t)
	var ran sync.WaitGroup
	ran.Add(1)
	require.NoError(t, f.Submit("pool-b", func() {
		defer ran.Done()
		panic("boom")
	}))

	ran.Wait()
	waitUntil(t, time.Second, func() bool { return f.GetMetrics().GetPanicCount("pool-b") == 1 })
}

func TestSubmitTaskRecordsFailureWhenTaskReturnsError(t *testing.T) {
	f := newTestFactory(t)
	var ran sync.WaitGroup
	ran.Add(1)
	require.NoError(t, f.SubmitTask("pool-c", func() error {
		defer ran.Done()
		return assertErr
	}))

	ran.Wait()
	waitUntil(t, time.Second, func() bool { return f.GetMetrics().GetFailureCount("pool-c") == 1 })
}

var assertErr = errTask{}

type errTask struct{}

func (errTask) Error() string { return "task failed" }

func TestSubmitWithTimeoutReturnsErrTaskTimeoutWhenTaskHangs(t *testing.T) {
	f := newTestFactory(t)
	release := make(chan struct{})
	defer close(release)

	err := f.SubmitWithTimeout("pool-d", func() {
		<-release
	}, 10*time.Millisecond)

	assert.Equal(t, ErrTaskTimeout, err)
}

func TestSubmitWithTimeoutSucceedsWhenTaskFinishesInTime(t *testing.T) {
	f := newTestFactory(t)
	err := f.SubmitWithTimeout("pool-e", func() {}, time.Second)
	assert.NoError(t, err)
}

func TestReleasePoolRemovesItFromTheFactory(t *testing.T) {
	f := newTestFactory(t)
	_, err := f.GetWorkerPool("pool-f", 2)
	require.NoError(t, err)

	f.ReleasePool("pool-f")

	_, _, ok := f.GetPoolStats("pool-f")
	assert.False(t, ok)
}

func TestGetPoolStatsReportsCapacity(t *testing.T) {
	f := newTestFactory(t)
	_, err := f.GetWorkerPool("pool-g", 7)
	require.NoError(t, err)

	running, capacity, ok := f.GetPoolStats("pool-g")
	require.True(t, ok)
	assert.Equal(t, 7, capacity)
	assert.GreaterOrEqual(t, running, 0)
}

func TestWorkerPoolMetricsSuccessRateAndAverageExecutionTime(t *testing.T) {
	m := NewWorkerPoolMetrics()
	m.RecordExecution("x", true, 10*time.Millisecond)
	m.RecordExecution("x", false, 20*time.Millisecond)

	assert.Equal(t, int64(2), m.GetExecutionCount("x"))
	assert.Equal(t, 0.5, m.GetSuccessRate("x"))
	assert.Equal(t, 15*time.Millisecond, m.GetAverageExecutionTime("x"))
}

func TestSubmitSyncBlocksUntilTheTaskHasActuallyRun(t *testing.T) {
	f := newTestFactory(t)
	var ran bool
	require.NoError(t, f.SubmitSync("pool-h", 1, func() { ran = true }))
	assert.True(t, ran, "SubmitSync must not return before the task body runs")
}

func TestSubmitSyncSerializesTasksOnASizeOnePool(t *testing.T) {
	f := newTestFactory(t)
	var mu sync.Mutex
	inFlight := 0
	sawOverlap := false

	task := func() {
		mu.Lock()
		inFlight++
		if inFlight > 1 {
			sawOverlap = true
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, f.SubmitSync("shared-pool", 1, task))
		}()
	}
	wg.Wait()

	assert.False(t, sawOverlap, "a size-1 pool must never run two submitted tasks concurrently")
}

func TestWorkerPoolMetricsResetClearsAllCounters(t *testing.T) {
	m := NewWorkerPoolMetrics()
	m.RecordExecution("y", true, time.Millisecond)
	m.RecordRejection("y")
	m.RecordTimeout("y")
	m.RecordPanic("y")

	m.Reset()

	assert.Equal(t, int64(0), m.GetExecutionCount("y"))
	assert.Equal(t, int64(0), m.GetRejectionCount("y"))
	assert.Equal(t, int64(0), m.GetTimeoutCount("y"))
	assert.Equal(t, int64(0), m.GetPanicCount("y"))
}
