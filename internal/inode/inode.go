package inode

import "sync"

// Inode is the in-memory handle for an open file or directory: a home sector number,
// an open count, a removed flag, and a deny-write count, shared by every
// caller that has it open (open/reopen on the same sector return the same
// *Inode).
type Inode struct {
	store  *Store
	sector uint32

	mu           sync.Mutex // guards the four fields below
	openCount    int
	removed      bool
	denyWriteCnt int
}

// Reopen bumps the open count, for callers that want their own reference
// to an already-open inode.
func (i *Inode) Reopen() {
	i.mu.Lock()
	i.openCount++
	i.mu.Unlock()
}

// Close decrements the open count. On the last close of a removed inode, it
// walks and releases every sector the inode owns, including its home
// sector, and drops the inode from the store's open-inode list.
func (i *Inode) Close() {
	i.mu.Lock()
	i.openCount--
	last := i.openCount == 0
	removed := i.removed
	i.mu.Unlock()

	if !last {
		return
	}

	if removed {
		i.store.freeAllBlocks(i.sector)
	}

	i.store.mu.Lock()
	delete(i.store.open, i.sector)
	i.store.mu.Unlock()
}

// Remove marks the inode for deletion; the actual sector release happens at
// the last Close.
func (i *Inode) Remove() {
	i.mu.Lock()
	i.removed = true
	i.mu.Unlock()
}

// IsRemoved reports whether Remove has been called on this inode.
func (i *Inode) IsRemoved() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.removed
}

// GetInumber returns the inode's home sector number, which doubles as its
// unique identifier.
func (i *Inode) GetInumber() uint32 { return i.sector }

// Length returns the inode's current on-disk length in bytes.
func (i *Inode) Length() int64 {
	return int64(i.store.lengthOf(i.sector))
}

// IsDir reports whether the inode was created with is_dir set.
func (i *Inode) IsDir() bool {
	b := i.store.cache.GetBlock(i.sector, false)
	data := i.store.cache.ReadBlock(b)
	l := decodeLayout(data, i.store.sectorSize)
	i.store.cache.PutBlock(b)
	return l.isDir
}

// ReadAt reads up to len(buf) bytes starting at offset, returning the
// number of bytes actually read; reads past EOF return 0 with no error, and
// sparse holes read back as zeros.
func (i *Inode) ReadAt(buf []byte, offset int64) (int, error) {
	return i.store.readAt(i.sector, buf, offset)
}

// WriteAt writes len(buf) bytes at offset, extending the file and
// allocating blocks as needed, unless the inode currently has
// deny_write_cnt > 0, in which case it writes nothing and returns 0.
func (i *Inode) WriteAt(buf []byte, offset int64) (int, error) {
	i.mu.Lock()
	denied := i.denyWriteCnt > 0
	i.mu.Unlock()
	if denied {
		return 0, nil
	}
	return i.store.writeAt(i.sector, buf, offset)
}

// DenyWrite increments the deny-write count, asserting it never exceeds the
// open count.
func (i *Inode) DenyWrite() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.denyWriteCnt++
	if i.denyWriteCnt > i.openCount {
		panic("inode: deny_write_cnt exceeds open_cnt")
	}
}

// AllowWrite decrements the deny-write count, asserting it never goes
// negative.
func (i *Inode) AllowWrite() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.denyWriteCnt--
	if i.denyWriteCnt < 0 {
		panic("inode: deny_write_cnt went negative")
	}
}
