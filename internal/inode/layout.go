// Package inode implements on-disk inodes with a direct/indirect/
// double-indirect block index, sparse reads, allocating writes, and
// deferred deletion on last close. Grounded on jacobsa-fuse's
// samples/memfs in-memory inode bookkeeping (open count, removed
// flag) and on the original filesys/inode.c's map_block algorithm.
package inode

import (
	"encoding/binary"

	"github.com/bug-vt/modeling-unix/internal/cache"
)

// NoSector is the on-disk and in-memory "no sector" sentinel.
const NoSector = cache.NoSector

// magic is written into every on-disk inode, the way the original's
// INODE_MAGIC marks a block as an inode. isValidLayout tests for it;
// decodeLayout does not check it.
const magic uint32 = 0x494e4f44 // "INOD"

// headerSize is the byte size of every fixed field other than the direct
// array: magic, length, is_dir, indirect, double_indirect.
const headerSize = 4 * 5

// NumDirect returns ND, the number of direct block pointers that fit
// alongside the fixed header in one sector of the given size.
func NumDirect(sectorSize int) int {
	return (sectorSize - headerSize) / 4
}

// NumIndirect returns NI, the number of sector indices held by one indirect
// (or one slot of a double-indirect) block.
func NumIndirect(sectorSize int) int {
	return sectorSize / 4
}

// layout is the decoded form of one on-disk inode sector.
type layout struct {
	length         uint32
	isDir          bool
	direct         []uint32 // len == NumDirect(sectorSize)
	indirect       uint32
	doubleIndirect uint32
}

func newLayout(sectorSize int, length uint32, isDir bool) *layout {
	nd := NumDirect(sectorSize)
	l := &layout{
		length:         length,
		isDir:          isDir,
		direct:         make([]uint32, nd),
		indirect:       NoSector,
		doubleIndirect: NoSector,
	}
	for i := range l.direct {
		l.direct[i] = NoSector
	}
	return l
}

func decodeLayout(buf []byte, sectorSize int) *layout {
	nd := NumDirect(sectorSize)
	l := &layout{direct: make([]uint32, nd)}
	off := 0
	l.length = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	l.isDir = binary.LittleEndian.Uint32(buf[off:]) != 0
	off += 4
	// magic occupies the next 4 bytes; it is skipped here, not checked.
	off += 4
	for i := 0; i < nd; i++ {
		l.direct[i] = binary.LittleEndian.Uint32(buf[off:])
		off += 4
	}
	l.indirect = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	l.doubleIndirect = binary.LittleEndian.Uint32(buf[off:])
	return l
}

func isValidLayout(buf []byte, sectorSize int) bool {
	return binary.LittleEndian.Uint32(buf[8:]) == magic
}

func (l *layout) encode(buf []byte) {
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], l.length)
	off += 4
	isDir := uint32(0)
	if l.isDir {
		isDir = 1
	}
	binary.LittleEndian.PutUint32(buf[off:], isDir)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], magic)
	off += 4
	for _, d := range l.direct {
		binary.LittleEndian.PutUint32(buf[off:], d)
		off += 4
	}
	binary.LittleEndian.PutUint32(buf[off:], l.indirect)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], l.doubleIndirect)
}

// readSlot reads the i'th uint32 sector index out of an indirect block's
// raw sector data.
func readSlot(data []byte, i int) uint32 {
	return binary.LittleEndian.Uint32(data[i*4:])
}

// writeSlot writes the i'th uint32 sector index into an indirect block's
// raw sector data.
func writeSlot(data []byte, i int, v uint32) {
	binary.LittleEndian.PutUint32(data[i*4:], v)
}

// fillSentinel fills every slot of a freshly allocated indirect block with
// NoSector before it is linked in, so unwritten slots read back as holes.
func fillSentinel(data []byte, numSlots int) {
	for i := 0; i < numSlots; i++ {
		writeSlot(data, i, NoSector)
	}
}
