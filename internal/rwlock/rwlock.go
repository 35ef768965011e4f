// Package rwlock implements a per-block reader/writer lock, grounded on
// jacobsa-fuse's monitor-style synchronization (condition variables
// guarded by a single mutex) and on the original writer-preference
// implementation in filesys/rw-lock.c.
package rwlock

import (
	"sync"

	"github.com/jacobsa/syncutil"
)

// Mode records which mode a lock was most recently acquired in, so that a
// client can release it correctly without tracking the mode itself. This
// mirrors the original struct rw_lock's public `mode` field.
type Mode int

const (
	Unlocked Mode = iota
	ReadLocked
	WriteLocked
)

// RWLock is a writer-preference reader/writer lock: a waiting writer blocks
// new readers from acquiring, but an already-unblocked stream of readers is
// still drained in full on every write_release before the next writer is
// allowed to proceed.
type RWLock struct {
	// Mode records the mode under which the lock is currently held by this
	// lock's caller, so Put can release correctly. The Acquire methods do
	// not set it: the caller sets it after acquiring (the buffer cache's
	// GetBlock does) and Put reads it; callers must not mutate it
	// concurrently from multiple goroutines holding the same acquisition.
	Mode Mode

	mu syncutil.InvariantMutex

	activeReaders  int        // GUARDED_BY(mu)
	activeWriters  int        // GUARDED_BY(mu); 0 or 1
	pendingReaders int        // GUARDED_BY(mu)
	pendingWriter  bool       // GUARDED_BY(mu)
	canRead        *sync.Cond // signalled/broadcast under mu
	canWrite       *sync.Cond // signalled under mu
}

// New returns a ready-to-use, unlocked RWLock.
func New() *RWLock {
	l := &RWLock{}
	l.mu = syncutil.NewInvariantMutex(l.checkInvariants)
	l.canRead = sync.NewCond(&l.mu)
	l.canWrite = sync.NewCond(&l.mu)
	return l
}

func (l *RWLock) checkInvariants() {
	if l.activeReaders > 0 && l.activeWriters > 0 {
		panic("rwlock: readers and a writer active simultaneously")
	}
	if l.activeWriters > 1 {
		panic("rwlock: more than one active writer")
	}
	if l.activeReaders < 0 || l.activeWriters < 0 || l.pendingReaders < 0 {
		panic("rwlock: negative counter")
	}
}

// ReadAcquire blocks while a writer is active or a writer is pending, then
// grants shared access.
func (l *RWLock) ReadAcquire() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for l.activeWriters > 0 || l.pendingWriter {
		l.pendingReaders++
		l.canRead.Wait()
		l.pendingReaders--
	}

	l.activeReaders++
}

// ReadRelease releases one shared holder's access. If this was the last
// active reader, a waiting writer is signalled.
func (l *RWLock) ReadRelease() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.activeReaders--
	if l.activeReaders == 0 {
		l.canWrite.Signal()
	}
}

// WriteAcquire blocks while any reader or writer is active, then grants
// exclusive access.
func (l *RWLock) WriteAcquire() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for l.activeReaders > 0 || l.activeWriters > 0 {
		l.pendingWriter = true
		l.canWrite.Wait()
		l.pendingWriter = false
	}

	l.activeWriters++
}

// TryWriteAcquire returns false immediately, without blocking, if any reader
// or writer is already active. Used by the buffer cache's eviction scan.
func (l *RWLock) TryWriteAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.activeReaders > 0 || l.activeWriters > 0 {
		return false
	}

	l.activeWriters++
	return true
}

// WriteRelease releases exclusive access. It first wakes every pending
// reader, then wakes a pending writer only if no reader is left to drain —
// this ordering is what prevents writer starvation while still letting a
// burst of readers proceed ahead of a newly-queued writer once the
// in-flight writer steps aside.
func (l *RWLock) WriteRelease() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.activeWriters--
	l.canRead.Broadcast()
	if l.pendingReaders == 0 {
		l.canWrite.Signal()
	}
}
