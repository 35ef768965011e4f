// Package cache implements a fixed-size, write-back buffer cache: the sole
// point of contact between the inode layer and the block device, with LRU
// eviction, dirty tracking, a read-ahead queue, and a periodic flush
// daemon. Grounded on jacobsa-fuse's monitor-protected
// mutable-state shape (samples/memfs, samples/cachingfs) and on the
// original filesys/cache.c eviction/retry protocol.
package cache

import (
	"container/list"
	"runtime"
	"sync"

	"github.com/bug-vt/modeling-unix/internal/blockdev"
	"github.com/bug-vt/modeling-unix/internal/boundedbuffer"
	"github.com/bug-vt/modeling-unix/internal/fslog"
	"github.com/bug-vt/modeling-unix/internal/rwlock"
)

var logger = fslog.New("cache")

// Cache is a fixed-size K-block cache of device sectors.
type Cache struct {
	dev  blockdev.Device
	size int

	mu     sync.Mutex // structural: inUse/free list membership only
	inUse  *list.List // MRU at front, LRU at back; elements are *Block
	free   *list.List // elements are *Block

	readAhead *boundedbuffer.Buffer
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// New allocates a cache of exactly size blocks over dev. The read-ahead
// queue and flush daemons are not started until Start is called.
func New(dev blockdev.Device, size int) *Cache {
	c := &Cache{
		dev:       dev,
		size:      size,
		inUse:     list.New(),
		free:      list.New(),
		readAhead: boundedbuffer.New(size, true /* drop on full */),
		stopCh:    make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		c.free.PushFront(newBlock(dev.SectorSize()))
	}
	return c
}

// SectorSize returns the fixed I/O unit size of the underlying device.
func (c *Cache) SectorSize() int { return c.dev.SectorSize() }

// lookupLocked scans the in-use list for sector and returns its block, or
// nil; it does not reorder the list. Must be called with c.mu held.
func (c *Cache) lookupLocked(sector uint32) *Block {
	for e := c.inUse.Front(); e != nil; e = e.Next() {
		b := e.Value.(*Block)
		if b.sector == sector {
			return b
		}
	}
	return nil
}

// GetBlock pins sector in the cache and acquires its per-block lock in
// write mode if exclusive, else read mode. It is the first phase of a
// lookup/acquire/use/release client pattern.
func (c *Cache) GetBlock(sector uint32, exclusive bool) *Block {
	for {
		c.mu.Lock()
		b := c.lookupLocked(sector)
		switch {
		case b != nil:
			c.inUse.MoveToFront(b.elem)
			c.mu.Unlock()

		case c.free.Len() > 0:
			e := c.free.Front()
			c.free.Remove(e)
			b = e.Value.(*Block)
			b.sector = sector
			b.valid = false
			b.elem = c.inUse.PushFront(b)
			c.mu.Unlock()

		default:
			// c.mu is released and reacquired internally by evictAndClaim;
			// by the time it returns, b is already at MRU in c.inUse.
			b = c.evictAndClaim(sector)
		}

		if exclusive {
			b.lock.WriteAcquire()
		} else {
			b.lock.ReadAcquire()
		}

		// The block might have been evicted between releasing c.mu above
		// and acquiring its per-block lock just now. Re-check and retry
		// from scratch if so; this loop is the cache's correctness heart.
		if b.sector != sector {
			if exclusive {
				b.lock.WriteRelease()
			} else {
				b.lock.ReadRelease()
			}
			continue
		}

		if exclusive {
			b.lock.Mode = rwlock.WriteLocked
		} else {
			b.lock.Mode = rwlock.ReadLocked
		}
		return b
	}
}

// evictAndClaim selects an LRU victim not currently pinned, writes it back
// if dirty, and reassigns it to sector, leaving it at MRU in c.inUse. It
// must be called with c.mu held and returns with c.mu released.
func (c *Cache) evictAndClaim(sector uint32) *Block {
	var victim *Block
	for victim == nil {
		for e := c.inUse.Back(); e != nil; e = e.Prev() {
			cand := e.Value.(*Block)
			if cand.lock.TryWriteAcquire() {
				victim = cand
				c.inUse.Remove(e)
				victim.elem = nil
				break
			}
		}
		if victim == nil {
			// Every block is pinned right now; drop the cache lock briefly
			// so pinning goroutines can make progress and release theirs.
			c.mu.Unlock()
			runtime.Gosched()
			c.mu.Lock()
		}
	}
	oldSector := victim.sector
	wasDirty := victim.dirty
	c.mu.Unlock()

	if wasDirty {
		if err := c.dev.Write(oldSector, victim.data); err != nil {
			logger.Printf("evict: write-back of sector %d failed: %v", oldSector, err)
		}
	}

	// victim's own lock is still held exclusively from TryWriteAcquire
	// above, so no other goroutine can observe sector/valid/dirty mid
	// mutation: list membership changes happen-before under c.mu, and the
	// final WriteRelease happens-after every write below.
	c.mu.Lock()
	victim.sector = sector
	victim.valid = false
	victim.dirty = false
	victim.elem = c.inUse.PushFront(victim)
	c.mu.Unlock()

	victim.lock.WriteRelease()
	victim.lock.Mode = rwlock.Unlocked
	return victim
}

// ReadBlock ensures the block's data has been read from the device at least
// once since it started caching its current sector, returning a pointer to
// the stable in-cache buffer.
func (c *Cache) ReadBlock(b *Block) []byte {
	c.mu.Lock()
	needsRead := !b.valid
	c.mu.Unlock()

	if needsRead {
		if err := c.dev.Read(b.sector, b.data); err != nil {
			logger.Printf("read sector %d: %v", b.sector, err)
		}
		c.mu.Lock()
		b.valid = true
		c.mu.Unlock()
	}
	return b.data
}

// ZeroBlock fills the block with zeros and marks it dirty and valid without
// reading from the device, returning a pointer to the buffer.
func (c *Cache) ZeroBlock(b *Block) []byte {
	for i := range b.data {
		b.data[i] = 0
	}
	c.mu.Lock()
	b.dirty = true
	b.valid = true
	c.mu.Unlock()
	return b.data
}

// MarkDirty marks b as needing write-back.
func (c *Cache) MarkDirty(b *Block) {
	c.mu.Lock()
	b.dirty = true
	c.mu.Unlock()
}

// PutBlock releases b's per-block lock according to its current mode.
func (c *Cache) PutBlock(b *Block) {
	switch b.lock.Mode {
	case rwlock.WriteLocked:
		b.lock.Mode = rwlock.Unlocked
		b.lock.WriteRelease()
	case rwlock.ReadLocked:
		b.lock.Mode = rwlock.Unlocked
		b.lock.ReadRelease()
	}
}

// ReadAhead enqueues sector for opportunistic prefetch if it is a plausible
// (non-sentinel) value. Never blocks.
func (c *Cache) ReadAhead(sector uint32) {
	if int32(sector) < 0 {
		return
	}
	c.readAhead.Enqueue(sector)
}

// Flush synchronously writes back every dirty block, ignoring locks. Meant
// for shutdown, when no other activity is expected.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for e := c.inUse.Front(); e != nil; e = e.Next() {
		b := e.Value.(*Block)
		if b.dirty {
			if err := c.dev.Write(b.sector, b.data); err != nil {
				logger.Printf("flush: write-back of sector %d failed: %v", b.sector, err)
				continue
			}
			b.dirty = false
		}
	}
}
