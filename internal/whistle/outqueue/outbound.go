// Package outqueue implements the outbound MPSC ring buffer: engine
// producers, execution-manager consumer. Ported in semantics from
// original_source/engine/whistle/src/outbound_queue.rs — capacity rounds
// up to a power of two, Fatal policy terminates the process with a
// diagnostic on overflow, Drop policy returns a backpressure error.
package outqueue

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/waiver-exchange/whistle/internal/errors"
)

// BackpressurePolicy governs what happens when the outbound queue is full.
type BackpressurePolicy uint8

const (
	// Fatal prints a diagnostic and exits the process. This is the
	// recommended policy: dropping engine events silently is a data
	// integrity violation.
	Fatal BackpressurePolicy = iota
	// Drop returns errors.QueueBackpressure and leaves the event unqueued;
	// callers are expected to increment a metric.
	Drop
)

// EventKind discriminates the EngineEvent union.
type EventKind uint8

const (
	EventRejected EventKind = iota
	EventAccepted
	EventCancelled
	EventTrade
	EventBookDelta
	EventTickComplete
)

// Side mirrors arena.Side for event payloads without importing arena.
type Side uint8

const (
	SideBuy Side = iota
	SideSell
)

// EngineEvent is the sum type drained by the execution manager: Trade,
// BookDelta, Lifecycle (Accepted/Rejected/Cancelled) and TickComplete all
// carried in one struct, discriminated by Kind.
type EngineEvent struct {
	Kind EventKind

	Symbol uint32
	Tick   uint64

	// Lifecycle (Accepted/Rejected/Cancelled)
	OrderID uint64
	Reason  errors.Code

	// Trade
	ExecID       uint64
	Price        uint32
	Qty          uint32
	TakerSide    Side
	MakerOrder   uint64
	TakerOrder   uint64
	MakerAccount uint32
	TakerAccount uint32

	// BookDelta
	DeltaSide     Side
	DeltaPrice    uint32
	LevelQtyAfter uint32
}

func nextPowerOfTwo(n uint32) uint32 {
	if n <= 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}

// Outbound is a multi-producer single-consumer ring buffer of EngineEvent.
// Producers reserve a slot by CAS-ing tail forward, then write the event
// into that slot and mark it ready; the consumer only reads a slot once
// its ready flag is set, so a reserved-but-not-yet-written slot is never
// observed as queued data even though two producers may finish writing
// out of reservation order.
type Outbound struct {
	buffer   []EngineEvent
	ready    []atomic.Bool
	capacity uint32
	mask     uint32
	head     atomic.Uint32
	tail     atomic.Uint32
	policy   BackpressurePolicy
}

// New constructs an Outbound queue with the given capacity (rounded up to
// a power of two) and backpressure policy.
func New(capacity uint32, policy BackpressurePolicy) *Outbound {
	cap := nextPowerOfTwo(capacity)
	if cap < 2 {
		cap = 2
	}
	return &Outbound{
		buffer:   make([]EngineEvent, cap),
		ready:    make([]atomic.Bool, cap),
		capacity: cap,
		mask:     cap - 1,
		policy:   policy,
	}
}

// WithDefaultCapacity constructs an Outbound queue with capacity 8192 and
// the Fatal policy, matching the Rust default.
func WithDefaultCapacity() *Outbound {
	return New(8192, Fatal)
}

// Capacity returns the rounded total slot count.
func (q *Outbound) Capacity() uint32 { return q.capacity }

// Policy returns the configured backpressure policy.
func (q *Outbound) Policy() BackpressurePolicy { return q.policy }

// IsEmpty reports whether the queue currently holds no events.
func (q *Outbound) IsEmpty() bool {
	return q.head.Load() == q.tail.Load()
}

// IsFull reports whether the queue has no room for another enqueue.
func (q *Outbound) IsFull() bool {
	tail := q.tail.Load()
	head := q.head.Load()
	return (tail+1)&q.mask == head
}

// Len returns the number of currently queued events.
func (q *Outbound) Len() uint32 {
	head := q.head.Load()
	tail := q.tail.Load()
	return (tail - head) & q.mask
}

// TryEnqueue is the producer-side operation, safe for concurrent callers
// (multiple symbol engines share one execution-manager-owned queue in the
// sharded deployment shape, though the default wiring is one queue per
// engine). On overflow under Fatal, this terminates the process.
func (q *Outbound) TryEnqueue(event EngineEvent) error {
	for {
		tail := q.tail.Load()
		nextTail := (tail + 1) & q.mask
		head := q.head.Load()

		if nextTail == head {
			switch q.policy {
			case Fatal:
				fmt.Fprintln(os.Stderr, "outbound queue overflow - system integrity compromised")
				fmt.Fprintf(os.Stderr, "queue capacity: %d, current length: %d\n", q.capacity, q.Len())
				fmt.Fprintf(os.Stderr, "event that caused overflow: %+v\n", event)
				os.Exit(1)
			case Drop:
				return errors.New(errors.QueueBackpressure, "outbound queue full")
			}
		}

		if q.tail.CompareAndSwap(tail, nextTail) {
			q.buffer[tail] = event
			q.ready[tail].Store(true)
			return nil
		}
		// Another producer raced the tail CAS; retry.
	}
}

// TryDequeue is the single-consumer operation. It only reports a slot as
// available once its producer has finished writing to it, so a slot
// reserved by a producer that hasn't yet stored its event is treated the
// same as an empty queue rather than being read early.
func (q *Outbound) TryDequeue() (EngineEvent, bool) {
	head := q.head.Load()
	tail := q.tail.Load()
	if head == tail {
		return EngineEvent{}, false
	}
	if !q.ready[head].Load() {
		return EngineEvent{}, false
	}
	event := q.buffer[head]
	q.ready[head].Store(false)
	q.head.Store((head + 1) & q.mask)
	return event, true
}

// Drain removes up to maxEvents from the queue in FIFO order.
func (q *Outbound) Drain(maxEvents uint32) []EngineEvent {
	out := make([]EngineEvent, 0, maxEvents)
	for uint32(len(out)) < maxEvents {
		ev, ok := q.TryDequeue()
		if !ok {
			break
		}
		out = append(out, ev)
	}
	return out
}

// Clear discards all currently queued events.
func (q *Outbound) Clear() {
	for {
		if _, ok := q.TryDequeue(); !ok {
			return
		}
	}
}
