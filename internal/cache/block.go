package cache

import (
	"container/list"

	"github.com/bug-vt/modeling-unix/internal/rwlock"
)

// NoSector is the "no sector" sentinel: an all-ones sector index, used both
// on disk (unallocated inode/indirect entries) and in memory (an empty
// cache block).
const NoSector uint32 = ^uint32(0)

// Block is one fixed-size, cached sector. Its sector/dirty/valid fields are
// structural state, guarded by the owning Cache's lock except during the
// brief window where a single goroutine holds the block's own lock
// exclusively across an eviction (see Cache.evictAndClaim).
type Block struct {
	lock *rwlock.RWLock

	sector uint32 // GUARDED_BY(cache.mu), see evictAndClaim for the exception
	dirty  bool   // GUARDED_BY(cache.mu)
	valid  bool   // GUARDED_BY(cache.mu)
	data   []byte // stable for the block's lifetime; contents GUARDED_BY(lock)

	elem *list.Element // current position in Cache.inUse, nil if not linked
}

func newBlock(sectorSize int) *Block {
	return &Block{
		lock:   rwlock.New(),
		sector: NoSector,
		data:   make([]byte, sectorSize),
	}
}

// Sector returns the sector this block currently caches.
func (b *Block) Sector() uint32 { return b.sector }
