package freemap_test

import (
	"testing"

	"github.com/bug-vt/modeling-unix/internal/freemap"
	. "github.com/jacobsa/ogletest"
)

func TestFreeMap(t *testing.T) { RunTests(t) }

type FreeMapTest struct {
	m *freemap.Map
}

func init() { RegisterTestSuite(&FreeMapTest{}) }

func (t *FreeMapTest) SetUp(ti *TestInfo) {
	t.m = freemap.NewEmpty(16)
}

func (t *FreeMapTest) AllocateReturnsDistinctSectorsUntilExhausted() {
	seen := make(map[uint32]bool)
	for i := 0; i < 16; i++ {
		sector, ok := t.m.Allocate(1)
		AssertTrue(ok, "allocation %d should have succeeded", i)
		AssertFalse(seen[sector], "sector %d allocated twice", sector)
		seen[sector] = true
	}

	_, ok := t.m.Allocate(1)
	ExpectFalse(ok)
}

func (t *FreeMapTest) ReleaseMakesASectorAllocatableAgain() {
	first, ok := t.m.Allocate(1)
	AssertTrue(ok)

	t.m.Release(first, 1)
	ExpectEq(16, t.m.NumFree())

	second, ok := t.m.Allocate(1)
	AssertTrue(ok)
	ExpectEq(first, second)
}

func (t *FreeMapTest) DoubleReleasePanics() {
	sector, ok := t.m.Allocate(1)
	AssertTrue(ok)
	t.m.Release(sector, 1)

	panicked := false
	func() {
		defer func() {
			if recover() != nil {
				panicked = true
			}
		}()
		t.m.Release(sector, 1)
	}()
	ExpectTrue(panicked, "releasing an already-free sector should panic")
}

func (t *FreeMapTest) MarkReservedExcludesSectorFromAllocation() {
	m := freemap.NewEmpty(4)
	m.MarkReserved(0)
	m.MarkReserved(1)

	sector, ok := m.Allocate(1)
	AssertTrue(ok)
	ExpectTrue(sector == 2 || sector == 3, "sector = %d", sector)
}

// WriteTo/LoadFromReader round trip through a byte buffer the way the
// free-sector map round-trips through its own backing inode at shutdown
// and startup.
func (t *FreeMapTest) PersistsAndReloads() {
	t.m.Allocate(3)
	t.m.MarkReserved(9)

	var buf bufferAt
	AssertEq(nil, t.m.WriteTo(&buf))

	reloaded, err := freemap.LoadFromReader(&buf, 16)
	AssertEq(nil, err)

	ExpectEq(t.m.NumFree(), reloaded.NumFree())
}

// bufferAt adapts a plain, growable byte slice to io.ReaderAt/io.WriterAt,
// standing in for the inode handle the real free map persists through.
type bufferAt struct {
	data []byte
}

func (b *bufferAt) WriteAt(p []byte, off int64) (int, error) {
	need := int(off) + len(p)
	if need > len(b.data) {
		grown := make([]byte, need)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[off:], p)
	return len(p), nil
}

func (b *bufferAt) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, b.data[off:])
	return n, nil
}
