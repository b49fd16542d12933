// Package mailbox implements the lock-free boundary between the interrupt
// context that receives CAN frames and the cooperative process loop that
// consumes them.
//
// The ring buffer shape (power-of-two slots, modulo index arithmetic) is
// carried over from the teacher's internal/fifo byte ring, generalized here
// to fixed-size frame slots and made safe for a single producer running in
// an interrupt handler racing a single consumer running in task context:
// only the read/write cursors are shared, and they are updated with
// sync/atomic rather than protected by a mutex an ISR cannot safely take.
package mailbox

import (
	"sync/atomic"

	"github.com/zencan/zencan"
)

// Mailbox is a single-producer single-consumer ring buffer of CAN frames.
// Store is called from the interrupt handler; Drain is called from the
// node's Process loop. Capacity must be a power of two.
type Mailbox struct {
	slots    []zencan.Frame
	mask     uint32
	head     atomic.Uint32 // next slot to write (producer-owned)
	tail     atomic.Uint32 // next slot to read (consumer-owned)
	overflow atomic.Bool   // sticky: set when Store found the ring full
	notify   atomic.Pointer[func()]
}

// New creates a Mailbox with room for capacity frames. capacity is rounded
// up to the next power of two.
func New(capacity int) *Mailbox {
	n := 1
	for n < capacity {
		n <<= 1
	}
	return &Mailbox{
		slots: make([]zencan.Frame, n),
		mask:  uint32(n - 1),
	}
}

// Store enqueues a frame. It is safe to call concurrently with Drain from a
// different goroutine (or interrupt context), but must not be called
// concurrently with itself. Returns false, setting the sticky overflow
// flag, if the ring is full; the caller (typically a driver's RX
// interrupt) drops the frame in that case rather than blocking.
func (m *Mailbox) Store(f zencan.Frame) bool {
	head := m.head.Load()
	tail := m.tail.Load()
	if head-tail >= uint32(len(m.slots)) {
		m.overflow.Store(true)
		return false
	}
	m.slots[head&m.mask] = f
	m.head.Store(head + 1)
	if cb := m.notify.Load(); cb != nil {
		(*cb)()
	}
	return true
}

// SetProcessNotify registers cb to be invoked once per successful Store,
// from interrupt context, so the application can wake its process task
// (spec.md §4.6). cb must be non-blocking and safe to call from an
// interrupt handler; a typical implementation posts to a semaphore or sets
// an event flag. Passing nil clears the callback.
func (m *Mailbox) SetProcessNotify(cb func()) {
	if cb == nil {
		m.notify.Store(nil)
		return
	}
	m.notify.Store(&cb)
}

// Drain moves every currently enqueued frame into the process loop by
// invoking handle for each, oldest first, stopping early if handle returns
// false. Every frame passed to handle is consumed, including the one for
// which handle returned false. It is safe to call concurrently with Store from a different
// goroutine, but must not be called concurrently with itself.
func (m *Mailbox) Drain(handle func(zencan.Frame) bool) {
	tail := m.tail.Load()
	head := m.head.Load()
	for tail != head {
		keepGoing := handle(m.slots[tail&m.mask])
		tail++
		m.tail.Store(tail)
		if !keepGoing {
			break
		}
	}
}

// Len reports the number of frames currently queued.
func (m *Mailbox) Len() int {
	return int(m.head.Load() - m.tail.Load())
}

// Cap reports the mailbox's fixed slot capacity.
func (m *Mailbox) Cap() int {
	return len(m.slots)
}

// Overflowed reports whether a Store has ever been dropped for lack of
// space, and clears the sticky flag. node.Process reports a set flag as an
// emergency.EmCanRXBOverflow error.
func (m *Mailbox) Overflowed() bool {
	return m.overflow.Swap(false)
}
