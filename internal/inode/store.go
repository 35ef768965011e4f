package inode

import (
	"sync"

	"github.com/bug-vt/modeling-unix/internal/cache"
	"github.com/bug-vt/modeling-unix/internal/fserrors"
	"github.com/bug-vt/modeling-unix/internal/fslog"
)

var logger = fslog.New("inode")

// FreeMap is the subset of freemap.Map the inode store needs: allocation and
// release of data and index sectors. Defined here rather than imported, so
// that inode does not depend on the freemap package directly; the two are
// wired together by the composition root (the filesys package).
type FreeMap interface {
	Allocate(n int) (start uint32, ok bool)
	Release(start uint32, n int)
}

// Store is the inode layer's single entry point: every open inode is routed
// through one Store per mounted file system, backed by one cache.Cache and
// one FreeMap.
type Store struct {
	cache      *cache.Cache
	freeMap    FreeMap
	sectorSize int
	nd         int
	ni         int

	mu   sync.Mutex // protects the open-inode list only
	open map[uint32]*Inode
}

// NewStore returns a Store over c. SetFreeMap must be called before Create
// or any allocating WriteAt, mirroring the bootstrap order in the filesys
// package's format step, where the free map itself is the first inode ever created.
func NewStore(c *cache.Cache) *Store {
	s := c.SectorSize()
	return &Store{
		cache:      c,
		sectorSize: s,
		nd:         NumDirect(s),
		ni:         NumIndirect(s),
		open:       make(map[uint32]*Inode),
	}
}

// SetFreeMap wires the free-sector map this store allocates from.
func (s *Store) SetFreeMap(fm FreeMap) { s.freeMap = fm }

// Create initializes an on-disk inode at sector: every direct/indirect
// pointer is set to the sentinel, then, if length>0, a single zero byte is
// written at offset length-1 to force allocation end-to-end.
func (s *Store) Create(sector uint32, length int64, isDir bool) error {
	l := newLayout(s.sectorSize, uint32(length), isDir)

	b := s.cache.GetBlock(sector, true)
	data := s.cache.ZeroBlock(b)
	l.encode(data)
	s.cache.MarkDirty(b)
	s.cache.PutBlock(b)

	if length > 0 {
		zero := []byte{0}
		if _, err := s.writeAt(sector, zero, length-1); err != nil {
			return err
		}
	}
	return nil
}

// Open returns the in-memory Inode for sector, bumping its open count if one
// already exists, or creating and registering a new one (priming its home
// sector into the cache) otherwise.
func (s *Store) Open(sector uint32) *Inode {
	s.mu.Lock()
	if ino, ok := s.open[sector]; ok {
		ino.mu.Lock()
		ino.openCount++
		ino.mu.Unlock()
		s.mu.Unlock()
		return ino
	}
	ino := &Inode{store: s, sector: sector, openCount: 1}
	s.open[sector] = ino
	s.mu.Unlock()

	b := s.cache.GetBlock(sector, false)
	s.cache.ReadBlock(b)
	s.cache.PutBlock(b)
	return ino
}

// mapBlock resolves logical block m of the inode at sector to a real
// sector, allocating container and leaf sectors along the way when writing
// is true.
func (s *Store) mapBlock(sector uint32, m int, writing bool) (uint32, error) {
	if m >= s.nd+s.ni+s.ni*s.ni {
		return 0, fserrors.ErrInvalidArgument
	}

	b := s.cache.GetBlock(sector, writing)
	defer s.cache.PutBlock(b)
	data := s.cache.ReadBlock(b)
	l := decodeLayout(data, s.sectorSize)

	switch {
	case m < s.nd:
		if l.direct[m] == NoSector {
			if !writing {
				return NoSector, nil
			}
			newSec, ok := s.freeMap.Allocate(1)
			if !ok {
				return 0, fserrors.ErrOutOfSpace
			}
			l.direct[m] = newSec
			l.encode(data)
			s.cache.MarkDirty(b)
		}
		return l.direct[m], nil

	case m < s.nd+s.ni:
		idx := m - s.nd
		indirect, err := s.ensureContainer(&l.indirect, writing)
		if err != nil {
			return 0, err
		}
		if l.indirect != indirect {
			l.indirect = indirect
			l.encode(data)
			s.cache.MarkDirty(b)
		}
		if l.indirect == NoSector {
			return NoSector, nil
		}
		return s.resolveSlot(l.indirect, idx, writing)

	default:
		idx := m - s.nd - s.ni
		outerIdx, innerIdx := idx/s.ni, idx%s.ni

		doubleIndirect, err := s.ensureContainer(&l.doubleIndirect, writing)
		if err != nil {
			return 0, err
		}
		if l.doubleIndirect != doubleIndirect {
			l.doubleIndirect = doubleIndirect
			l.encode(data)
			s.cache.MarkDirty(b)
		}
		if l.doubleIndirect == NoSector {
			return NoSector, nil
		}

		ob := s.cache.GetBlock(l.doubleIndirect, writing)
		odata := s.cache.ReadBlock(ob)
		outerEntry := readSlot(odata, outerIdx)
		if outerEntry == NoSector {
			if !writing {
				s.cache.PutBlock(ob)
				return NoSector, nil
			}
			newIndirect, ok := s.freeMap.Allocate(1)
			if !ok {
				s.cache.PutBlock(ob)
				return 0, fserrors.ErrOutOfSpace
			}
			ib := s.cache.GetBlock(newIndirect, true)
			idata := s.cache.ZeroBlock(ib)
			fillSentinel(idata, s.ni)
			s.cache.MarkDirty(ib)
			s.cache.PutBlock(ib)

			writeSlot(odata, outerIdx, newIndirect)
			s.cache.MarkDirty(ob)
			outerEntry = newIndirect
		}
		s.cache.PutBlock(ob)

		return s.resolveSlot(outerEntry, innerIdx, writing)
	}
}

// ensureContainer allocates a fresh indirect block with every slot set to
// the sentinel if *ptr is the sentinel and writing is true, returning the (possibly unchanged)
// pointer value. It does not mutate *ptr itself; the caller persists it.
func (s *Store) ensureContainer(ptr *uint32, writing bool) (uint32, error) {
	if *ptr != NoSector {
		return *ptr, nil
	}
	if !writing {
		return NoSector, nil
	}
	newSec, ok := s.freeMap.Allocate(1)
	if !ok {
		return 0, fserrors.ErrOutOfSpace
	}
	b := s.cache.GetBlock(newSec, true)
	data := s.cache.ZeroBlock(b)
	fillSentinel(data, s.ni)
	s.cache.MarkDirty(b)
	s.cache.PutBlock(b)
	return newSec, nil
}

// resolveSlot reads (and, if writing, allocates) the idx'th data-sector slot
// of the indirect block at containerSector.
func (s *Store) resolveSlot(containerSector uint32, idx int, writing bool) (uint32, error) {
	ib := s.cache.GetBlock(containerSector, writing)
	defer s.cache.PutBlock(ib)
	idata := s.cache.ReadBlock(ib)

	entry := readSlot(idata, idx)
	if entry == NoSector {
		if !writing {
			return NoSector, nil
		}
		newSec, ok := s.freeMap.Allocate(1)
		if !ok {
			return 0, fserrors.ErrOutOfSpace
		}
		writeSlot(idata, idx, newSec)
		s.cache.MarkDirty(ib)
		entry = newSec
	}

	if idx+1 < s.ni {
		if next := readSlot(idata, idx+1); next != NoSector {
			s.cache.ReadAhead(next)
		}
	}
	return entry, nil
}

// lengthOf reads the current on-disk length of the inode at sector.
func (s *Store) lengthOf(sector uint32) uint32 {
	b := s.cache.GetBlock(sector, false)
	data := s.cache.ReadBlock(b)
	l := decodeLayout(data, s.sectorSize)
	s.cache.PutBlock(b)
	return l.length
}

// readAt positions at or past EOF return zero bytes; sparse holes read
// back as zeros.
func (s *Store) readAt(sector uint32, buf []byte, offset int64) (int, error) {
	length := int64(s.lengthOf(sector))
	if offset >= length {
		return 0, nil
	}
	toRead := len(buf)
	if offset+int64(toRead) > length {
		toRead = int(length - offset)
	}

	read := 0
	for read < toRead {
		pos := offset + int64(read)
		m := int(pos / int64(s.sectorSize))
		inOfs := int(pos % int64(s.sectorSize))
		chunk := s.sectorSize - inOfs
		if chunk > toRead-read {
			chunk = toRead - read
		}

		sec, err := s.mapBlock(sector, m, false)
		if err != nil {
			return read, err
		}
		if sec == NoSector {
			for i := 0; i < chunk; i++ {
				buf[read+i] = 0
			}
		} else {
			b := s.cache.GetBlock(sec, false)
			data := s.cache.ReadBlock(b)
			copy(buf[read:read+chunk], data[inOfs:inOfs+chunk])
			s.cache.PutBlock(b)
		}
		read += chunk
	}
	return read, nil
}

// writeAt allocates blocks as needed and extends the inode's length at the
// end. It does not itself check deny_write_cnt; Inode.WriteAt does.
func (s *Store) writeAt(sector uint32, buf []byte, offset int64) (int, error) {
	written := 0
	for written < len(buf) {
		pos := offset + int64(written)
		m := int(pos / int64(s.sectorSize))
		inOfs := int(pos % int64(s.sectorSize))
		chunk := s.sectorSize - inOfs
		if chunk > len(buf)-written {
			chunk = len(buf) - written
		}

		sec, err := s.mapBlock(sector, m, true)
		if err != nil {
			if err == fserrors.ErrOutOfSpace {
				break
			}
			return written, err
		}

		b := s.cache.GetBlock(sec, true)
		var data []byte
		if inOfs == 0 && chunk == s.sectorSize {
			data = s.cache.ZeroBlock(b)
		} else {
			data = s.cache.ReadBlock(b)
		}
		copy(data[inOfs:inOfs+chunk], buf[written:written+chunk])
		s.cache.MarkDirty(b)
		s.cache.PutBlock(b)

		written += chunk
	}

	if written > 0 {
		newEnd := uint32(offset + int64(written))
		hb := s.cache.GetBlock(sector, true)
		hdata := s.cache.ReadBlock(hb)
		l := decodeLayout(hdata, s.sectorSize)
		if newEnd > l.length {
			l.length = newEnd
			l.encode(hdata)
			s.cache.MarkDirty(hb)
		}
		s.cache.PutBlock(hb)
	}
	return written, nil
}

// freeAllBlocks releases every sector owned by the inode at sector: its
// leaf data blocks, its indirect and double-indirect containers, and
// finally its own home sector. Called only from the last Close of a removed
// inode.
func (s *Store) freeAllBlocks(sector uint32) {
	b := s.cache.GetBlock(sector, true)
	data := s.cache.ReadBlock(b)
	l := decodeLayout(data, s.sectorSize)
	s.cache.PutBlock(b)

	// Only direct blocks are released here; the data sectors behind the
	// indirect and double-indirect blocks are released by releaseIndirect.
	numBlocks := int((l.length + uint32(s.sectorSize) - 1) / uint32(s.sectorSize))
	for m := 0; m < numBlocks && m < s.nd; m++ {
		sec, err := s.mapBlock(sector, m, false)
		if err != nil {
			logger.Printf("freeAllBlocks: map block %d of sector %d: %v", m, sector, err)
			continue
		}
		if sec != NoSector {
			s.freeMap.Release(sec, 1)
		}
	}

	if l.indirect != NoSector {
		s.releaseIndirect(l.indirect)
	}
	if l.doubleIndirect != NoSector {
		ob := s.cache.GetBlock(l.doubleIndirect, false)
		odata := s.cache.ReadBlock(ob)
		outer := make([]uint32, s.ni)
		for i := range outer {
			outer[i] = readSlot(odata, i)
		}
		s.cache.PutBlock(ob)

		for _, indirectSector := range outer {
			if indirectSector != NoSector {
				s.releaseIndirect(indirectSector)
			}
		}
		s.freeMap.Release(l.doubleIndirect, 1)
	}

	s.freeMap.Release(sector, 1)
}

// releaseIndirect releases every non-sentinel data sector an indirect block
// points to, then the indirect block itself.
func (s *Store) releaseIndirect(indirectSector uint32) {
	ib := s.cache.GetBlock(indirectSector, false)
	idata := s.cache.ReadBlock(ib)
	for i := 0; i < s.ni; i++ {
		if entry := readSlot(idata, i); entry != NoSector {
			s.freeMap.Release(entry, 1)
		}
	}
	s.cache.PutBlock(ib)
	s.freeMap.Release(indirectSector, 1)
}
