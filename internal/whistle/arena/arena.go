// Package arena implements the fixed-capacity order-slot pool the matching
// engine allocates resting orders from. Modeled on the bump-allocator /
// free-list arena in original_source/engine/whistle/src/book.rs and on the
// statically-allocated orderBookEntry pool in quantcup's matching engine
// (other_examples/2609a6b8_lightsgoout-go-quantcup__engine.go.go): the
// arena owns storage, the book only ever borrows handles into it.
package arena

import "math"

// Handle is an opaque, stable index into an Arena's slot storage. NoneHandle
// marks a list end / absent reference.
type Handle uint32

// NoneHandle is the sentinel for "no order" (the Rust H_NONE).
const NoneHandle Handle = math.MaxUint32

// Side mirrors the book side an order rests on.
type Side uint8

const (
	SideBuy Side = iota
	SideSell
)

// Kind enumerates the order types the engine accepts.
type Kind uint8

const (
	KindLimit Kind = iota
	KindMarket
	KindIOC
	KindPostOnly
)

// Order is the arena-resident order record. Prev/Next are intrusive FIFO
// links maintained by the book; they are meaningless while the handle is
// free.
type Order struct {
	OrderID   uint64
	AccountID uint32
	Side      Side
	Kind      Kind
	PriceIdx  uint32 // only meaningful for Limit/PostOnly
	HasPrice  bool
	QtyOpen   uint32
	TsNorm    uint64
	Meta      uint64
	EnqSeq    uint32

	Prev Handle
	Next Handle

	inUse bool
}

func (o *Order) reset() {
	*o = Order{Prev: NoneHandle, Next: NoneHandle}
}

// Arena is a fixed-capacity slot pool with a LIFO free list. In elastic
// mode Alloc doubles the capacity itself when the free list is empty;
// otherwise a full arena makes Alloc fail.
type Arena struct {
	slots   []Order
	free    []Handle
	elastic bool
}

// New creates an Arena with room for capacity live orders.
func New(capacity uint32, elastic bool) *Arena {
	a := &Arena{
		slots:   make([]Order, capacity),
		free:    make([]Handle, capacity),
		elastic: elastic,
	}
	for i := range a.slots {
		a.slots[i].Prev = NoneHandle
		a.slots[i].Next = NoneHandle
		a.free[i] = Handle(capacity - 1 - uint32(i))
	}
	return a
}

// Cap returns the arena's current slot capacity.
func (a *Arena) Cap() int { return len(a.slots) }

// Len returns the number of live (allocated) slots.
func (a *Arena) Len() int { return len(a.slots) - len(a.free) }

// Alloc reserves a slot and returns its handle, or false if the arena is
// full and elastic growth is disabled.
func (a *Arena) Alloc() (Handle, bool) {
	if len(a.free) == 0 {
		if !a.elastic {
			return NoneHandle, false
		}
		a.grow()
	}
	h := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]
	a.slots[h].reset()
	a.slots[h].inUse = true
	return h, true
}

// grow doubles arena capacity. Only called from Alloc under elastic mode.
func (a *Arena) grow() {
	oldCap := uint32(len(a.slots))
	newCap := oldCap * 2
	if newCap == 0 {
		newCap = 16
	}
	grownSlots := make([]Order, newCap)
	copy(grownSlots, a.slots)
	for i := oldCap; i < newCap; i++ {
		grownSlots[i].Prev = NoneHandle
		grownSlots[i].Next = NoneHandle
		a.free = append(a.free, Handle(newCap-1-(i-oldCap)))
	}
	a.slots = grownSlots
}

// Release returns h to the free list and wipes its intrusive pointers.
func (a *Arena) Release(h Handle) {
	a.slots[h].reset()
	a.slots[h].inUse = false
	a.free = append(a.free, h)
}

// Get returns a pointer to the order at h; writes through it update the
// arena slot.
func (a *Arena) Get(h Handle) *Order {
	return &a.slots[h]
}

// InUse reports whether h currently refers to a live order.
func (a *Arena) InUse(h Handle) bool {
	return h != NoneHandle && int(h) < len(a.slots) && a.slots[h].inUse
}
