package boundedbuffer_test

import (
	"testing"
	"time"

	"github.com/bug-vt/modeling-unix/internal/boundedbuffer"
)

func TestEnqueueDequeueFIFO(t *testing.T) {
	b := boundedbuffer.New(4, false)

	if got := b.Peek(); got != boundedbuffer.NoItem {
		t.Fatalf("Peek on empty buffer = %d, want NoItem", got)
	}

	for _, v := range []uint32{1, 2, 3} {
		b.Enqueue(v)
	}

	for _, want := range []uint32{1, 2, 3} {
		if got := b.Dequeue(); got != want {
			t.Fatalf("Dequeue = %d, want %d", got, want)
		}
	}
}

func TestDropModeDiscardsOnFull(t *testing.T) {
	b := boundedbuffer.New(2, true)

	b.Enqueue(1)
	b.Enqueue(2)
	b.Enqueue(3) // dropped, buffer can hold only 2 items

	if got := b.Dequeue(); got != 1 {
		t.Fatalf("Dequeue = %d, want 1", got)
	}
	if got := b.Dequeue(); got != 2 {
		t.Fatalf("Dequeue = %d, want 2", got)
	}
}

func TestBlockingModeEnqueueWaitsForSlot(t *testing.T) {
	b := boundedbuffer.New(1, false)
	b.Enqueue(1)

	enqueued := make(chan struct{})
	go func() {
		b.Enqueue(2)
		close(enqueued)
	}()

	select {
	case <-enqueued:
		t.Fatal("Enqueue returned while buffer was full")
	case <-time.After(50 * time.Millisecond):
	}

	if got := b.Dequeue(); got != 1 {
		t.Fatalf("Dequeue = %d, want 1", got)
	}

	select {
	case <-enqueued:
	case <-time.After(time.Second):
		t.Fatal("Enqueue never unblocked after a slot freed up")
	}

	if got := b.Dequeue(); got != 2 {
		t.Fatalf("Dequeue = %d, want 2", got)
	}
}

func TestDequeueBlocksUntilAvailable(t *testing.T) {
	b := boundedbuffer.New(4, false)

	dequeued := make(chan uint32)
	go func() { dequeued <- b.Dequeue() }()

	select {
	case <-dequeued:
		t.Fatal("Dequeue returned before any item was enqueued")
	case <-time.After(50 * time.Millisecond):
	}

	b.Enqueue(7)

	select {
	case got := <-dequeued:
		if got != 7 {
			t.Fatalf("Dequeue = %d, want 7", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue never unblocked after an item was enqueued")
	}
}
