package blockdev

import "sync"

// MemDevice is an in-memory Device, used by the cache/inode test suites so
// they never touch the real file system.
type MemDevice struct {
	mu         sync.Mutex
	sectorSize int
	sectors    [][]byte
}

// NewMemDevice returns a zero-filled in-memory device of the given geometry.
func NewMemDevice(sectorSize int, numSectors uint32) *MemDevice {
	sectors := make([][]byte, numSectors)
	for i := range sectors {
		sectors[i] = make([]byte, sectorSize)
	}
	return &MemDevice{sectorSize: sectorSize, sectors: sectors}
}

func (d *MemDevice) SectorSize() int    { return d.sectorSize }
func (d *MemDevice) NumSectors() uint32 { return uint32(len(d.sectors)) }

func (d *MemDevice) Read(sector uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := checkBounds(sector, uint32(len(d.sectors))); err != nil {
		return err
	}
	if err := checkSize(buf, d.sectorSize); err != nil {
		return err
	}

	copy(buf, d.sectors[sector])
	return nil
}

func (d *MemDevice) Write(sector uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := checkBounds(sector, uint32(len(d.sectors))); err != nil {
		return err
	}
	if err := checkSize(buf, d.sectorSize); err != nil {
		return err
	}

	copy(d.sectors[sector], buf)
	return nil
}
