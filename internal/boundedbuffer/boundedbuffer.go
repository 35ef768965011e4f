// Package boundedbuffer implements a fixed-capacity ring buffer, used by
// the buffer cache as its read-ahead queue. It is grounded on the same
// monitor-with-two-conditions shape as rwlock, and on the original
// lib/kernel/queue.c's "blocking" vs. "drop on full" modes.
package boundedbuffer

import (
	"sync"

	"github.com/jacobsa/syncutil"
)

// NoItem is the sentinel Peek returns when the buffer is empty.
const NoItem uint32 = ^uint32(0)

// Buffer is a fixed-capacity FIFO ring of sector numbers. One slot is kept
// permanently empty so that head == tail unambiguously means "empty" without
// a separate counter.
type Buffer struct {
	mu           syncutil.InvariantMutex
	itemsAvail   *sync.Cond
	slotsAvail   *sync.Cond
	items        []uint32
	head         int // GUARDED_BY(mu); slot just before the front item
	tail         int // GUARDED_BY(mu); slot of the most recently enqueued item
	dropWhenFull bool
}

// New returns a buffer holding up to capacity items. When dropWhenFull is
// true, Enqueue never blocks: a push against a full buffer is silently
// discarded. Otherwise Enqueue blocks until a slot frees up.
func New(capacity int, dropWhenFull bool) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	b := &Buffer{
		items:        make([]uint32, capacity+1),
		dropWhenFull: dropWhenFull,
	}
	b.mu = syncutil.NewInvariantMutex(b.checkInvariants)
	b.itemsAvail = sync.NewCond(&b.mu)
	b.slotsAvail = sync.NewCond(&b.mu)
	return b
}

func (b *Buffer) checkInvariants() {
	if b.head < 0 || b.head >= len(b.items) || b.tail < 0 || b.tail >= len(b.items) {
		panic("boundedbuffer: index out of range")
	}
}

func (b *Buffer) empty() bool {
	return b.head == b.tail
}

func (b *Buffer) full() bool {
	return b.head == (b.tail+1)%len(b.items)
}

// Peek returns the item at the front of the buffer without removing it, or
// NoItem if the buffer is empty. It never blocks.
func (b *Buffer) Peek() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.empty() {
		return NoItem
	}
	return b.items[(b.head+1)%len(b.items)]
}

// Dequeue removes and returns the item at the front of the buffer, blocking
// while the buffer is empty.
func (b *Buffer) Dequeue() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.empty() {
		b.itemsAvail.Wait()
	}

	b.head = (b.head + 1) % len(b.items)
	item := b.items[b.head]
	b.slotsAvail.Signal()
	return item
}

// Enqueue adds item to the back of the buffer. In blocking mode it waits
// while the buffer is full; in drop mode a full buffer silently discards the
// item and returns immediately.
func (b *Buffer) Enqueue(item uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.dropWhenFull {
		if b.full() {
			return
		}
	} else {
		for b.full() {
			b.slotsAvail.Wait()
		}
	}

	b.tail = (b.tail + 1) % len(b.items)
	b.items[b.tail] = item
	b.itemsAvail.Signal()
}
