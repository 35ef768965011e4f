// Package freemap implements the free-sector map: a bitmap over every
// sector of the device, where a set bit means free. Allocation and release
// are purely in-memory operations against this bitmap; callers are
// responsible for loading it at startup and persisting it at shutdown
// through whatever inode backs it (sector 0, the free-sector-map inode's
// home block).
package freemap

import (
	"fmt"
	"io"
	"sync"
)

// Map is a bitmap over [0, numSectors). A set bit means the sector is free.
type Map struct {
	mu         sync.Mutex
	bits       []byte
	numSectors uint32
}

// NewEmpty returns a bitmap with every sector marked free, for a disk being
// formatted from scratch.
func NewEmpty(numSectors uint32) *Map {
	m := &Map{
		bits:       make([]byte, byteSize(numSectors)),
		numSectors: numSectors,
	}
	for i := uint32(0); i < numSectors; i++ {
		setBit(m.bits, i, true)
	}
	return m
}

// byteSize returns the number of bytes needed to hold one bit per sector.
func byteSize(numSectors uint32) int64 {
	return (int64(numSectors) + 7) / 8
}

// ByteSize returns the number of bytes this map's own persisted form
// occupies, i.e. the length the bitmap's backing inode must be created with.
func (m *Map) ByteSize() int64 {
	return byteSize(m.numSectors)
}

// LoadFromReader reconstructs a bitmap of numSectors bits by reading its
// persisted bytes from r at offset 0. Used when a file system is brought up
// on an already-formatted device: open reads the map back in.
func LoadFromReader(r io.ReaderAt, numSectors uint32) (*Map, error) {
	m := &Map{
		bits:       make([]byte, byteSize(numSectors)),
		numSectors: numSectors,
	}
	if _, err := r.ReadAt(m.bits, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("freemap: load: %w", err)
	}
	return m, nil
}

// WriteTo persists the bitmap's current bytes via w at offset 0. Used at
// format time and at shutdown: close writes the map back out.
func (m *Map) WriteTo(w io.WriterAt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := w.WriteAt(m.bits, 0); err != nil {
		return fmt.Errorf("freemap: write: %w", err)
	}
	return nil
}

func bitSet(bits []byte, i uint32) bool {
	return bits[i/8]&(1<<(i%8)) != 0
}

func setBit(bits []byte, i uint32, v bool) {
	if v {
		bits[i/8] |= 1 << (i % 8)
	} else {
		bits[i/8] &^= 1 << (i % 8)
	}
}

// MarkReserved marks sector as permanently used without going through
// Allocate, for the fixed well-known sectors (the free map's own home
// sector and the root directory's).
func (m *Map) MarkReserved(sector uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	setBit(m.bits, sector, false)
}

// Allocate finds n consecutive free sectors, marks them used, and returns
// the index of the first one. Callers only ever ask for n == 1 in practice,
// but the contiguous-run search is written generally.
func (m *Map) Allocate(n int) (start uint32, ok bool) {
	if n <= 0 {
		return 0, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	run := 0
	for i := uint32(0); i < m.numSectors; i++ {
		if bitSet(m.bits, i) {
			run++
			if run == n {
				first := i - uint32(n-1)
				for j := first; j <= i; j++ {
					setBit(m.bits, j, false)
				}
				return first, true
			}
		} else {
			run = 0
		}
	}
	return 0, false
}

// Release sets the bits for the n sectors starting at start, marking them
// free again. Releasing an
// already-free sector is a programming error and panics, mirroring the
// original's ASSERT-driven double-free detection.
func (m *Map) Release(start uint32, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := start; i < start+uint32(n); i++ {
		if bitSet(m.bits, i) {
			panic(fmt.Sprintf("freemap: double release of sector %d", i))
		}
		setBit(m.bits, i, true)
	}
}

// NumFree returns the number of currently-free sectors, mainly for tests and
// diagnostics.
func (m *Map) NumFree() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for i := uint32(0); i < m.numSectors; i++ {
		if bitSet(m.bits, i) {
			n++
		}
	}
	return n
}
