// Package queue implements the inbound SPSC ring buffer: one per symbol,
// router producer, engine consumer. Ported in semantics from
// original_source/engine/whistle/src/queue.rs — capacity rounds up to a
// power of two, one slot is always kept empty to disambiguate full/empty,
// and both a mutable-receiver and a shared-receiver ("lockfree") API are
// exposed since the router only ever holds a shared reference to the
// queue it enqueues into.
package queue

import (
	"sync/atomic"

	"github.com/waiver-exchange/whistle/internal/errors"
)

// Side mirrors arena.Side without importing the arena package, keeping
// this package dependency-free for the router.
type Side uint8

const (
	SideBuy Side = iota
	SideSell
)

// MsgKind enumerates the inbound message shapes the engine accepts.
type MsgKind uint8

const (
	MsgSubmit MsgKind = iota
	MsgCancel
)

// OrderKind mirrors arena.Kind for submit messages.
type OrderKind uint8

const (
	OrderLimit OrderKind = iota
	OrderMarket
	OrderIOC
	OrderPostOnly
)

// InboundMsg is the wire shape the router stamps and the engine drains.
// Price/HasPrice are meaningful only for MsgSubmit with a Limit/PostOnly
// OrderKind; for MsgCancel the engine reads only OrderID and TsNorm.
type InboundMsg struct {
	Kind      MsgKind
	OrderID   uint64
	AccountID uint32
	Side      Side
	OrderKind OrderKind
	Price     uint32
	HasPrice  bool
	Qty       uint32
	TsNorm    uint64
	Meta      uint64
	EnqSeq    uint32
}

// nextPowerOfTwo mirrors Rust's usize::next_power_of_two for the capacities
// this queue is constructed with.
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

// Inbound is a single-producer single-consumer ring buffer of InboundMsg.
// capacity-1 slots are usable; one slot is always left empty so head==tail
// unambiguously means empty.
type Inbound struct {
	buffer   []InboundMsg
	valid    []uint32 // 0 = empty slot, 1 = populated slot (atomic flags)
	capacity uint32
	mask     uint32
	head     atomic.Uint32
	tail     atomic.Uint32
}

// NewInbound constructs an Inbound queue whose usable depth is
// nextPowerOfTwo(capacity) - 1.
func NewInbound(capacity uint32) *Inbound {
	cap := nextPowerOfTwo(capacity)
	if cap < 2 {
		cap = 2
	}
	return &Inbound{
		buffer:   make([]InboundMsg, cap),
		valid:    make([]uint32, cap),
		capacity: cap,
		mask:     cap - 1,
	}
}

// Capacity returns the rounded total slot count (including the one
// reserved empty slot).
func (q *Inbound) Capacity() uint32 { return q.capacity }

// UsableDepth returns the number of slots a caller can actually fill.
func (q *Inbound) UsableDepth() uint32 { return q.capacity - 1 }

// IsEmpty reports whether the queue currently holds no messages.
func (q *Inbound) IsEmpty() bool {
	return q.head.Load() == q.tail.Load()
}

// IsFull reports whether the queue has no room for another enqueue.
func (q *Inbound) IsFull() bool {
	tail := q.tail.Load()
	head := q.head.Load()
	return (tail+1)&q.mask == head
}

// Len returns the number of currently queued messages.
func (q *Inbound) Len() uint32 {
	head := q.head.Load()
	tail := q.tail.Load()
	return (tail - head) & q.mask
}

// TryEnqueue appends msg from the single producer goroutine. Returns
// errors.QueueBackpressure if the queue is full.
func (q *Inbound) TryEnqueue(msg InboundMsg) error {
	return q.TryEnqueueShared(msg)
}

// TryEnqueueShared is the "lockfree" variant: safe to call with only a
// shared (read-only) reference to the queue, matching try_enqueue_lockfree
// in the Rust source — the router holds exactly this kind of reference.
func (q *Inbound) TryEnqueueShared(msg InboundMsg) error {
	tail := q.tail.Load()
	nextTail := (tail + 1) & q.mask
	head := q.head.Load()
	if nextTail == head {
		return errors.New(errors.QueueBackpressure, "inbound queue full")
	}
	q.buffer[tail] = msg
	atomic.StoreUint32(&q.valid[tail], 1)
	q.tail.Store(nextTail)
	return nil
}

// TryDequeue removes and returns the oldest message from the single
// consumer goroutine.
func (q *Inbound) TryDequeue() (InboundMsg, bool) {
	return q.TryDequeueShared()
}

// TryDequeueShared is the shared-reference dequeue variant.
func (q *Inbound) TryDequeueShared() (InboundMsg, bool) {
	head := q.head.Load()
	tail := q.tail.Load()
	if head == tail {
		return InboundMsg{}, false
	}
	msg := q.buffer[head]
	atomic.StoreUint32(&q.valid[head], 0)
	q.head.Store((head + 1) & q.mask)
	return msg, true
}

// Drain removes up to maxMessages from the queue in FIFO order.
func (q *Inbound) Drain(maxMessages uint32) []InboundMsg {
	out := make([]InboundMsg, 0, maxMessages)
	for uint32(len(out)) < maxMessages {
		msg, ok := q.TryDequeueShared()
		if !ok {
			break
		}
		out = append(out, msg)
	}
	return out
}

// Clear discards all currently queued messages.
func (q *Inbound) Clear() {
	for {
		if _, ok := q.TryDequeueShared(); !ok {
			return
		}
	}
}
