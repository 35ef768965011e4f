package inode_test

import (
	"bytes"
	"testing"

	"github.com/kylelemons/godebug/pretty"

	"github.com/bug-vt/modeling-unix/internal/blockdev"
	"github.com/bug-vt/modeling-unix/internal/cache"
	"github.com/bug-vt/modeling-unix/internal/freemap"
	"github.com/bug-vt/modeling-unix/internal/inode"
)

// newTestStore wires a small in-memory device, cache, and free map together
// the way the filesys package's format step does, reserving sectors 0 and 1
// the way the free map's and root directory's home sectors are fixed in
// production, and sector 2, the home sector these tests create their inode at.
func newTestStore(t *testing.T, numSectors uint32) (*inode.Store, *freemap.Map) {
	t.Helper()
	dev := blockdev.NewMemDevice(512, numSectors)
	c := cache.New(dev, 8)
	fm := freemap.NewEmpty(numSectors)
	fm.MarkReserved(0)
	fm.MarkReserved(1)
	fm.MarkReserved(2)
	s := inode.NewStore(c)
	s.SetFreeMap(fm)
	return s, fm
}

func TestCreateOpenReadWriteRoundTrip(t *testing.T) {
	s, _ := newTestStore(t, 64)

	if err := s.Create(2, 0, false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	ino := s.Open(2)
	defer ino.Close()

	want := bytes.Repeat([]byte("x"), 1000) // spans multiple 512-byte sectors
	n, err := ino.WriteAt(want, 0)
	if err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if n != len(want) {
		t.Fatalf("WriteAt wrote %d bytes, want %d", n, len(want))
	}
	if got := ino.Length(); got != int64(len(want)) {
		t.Fatalf("Length = %d, want %d", got, len(want))
	}

	got := make([]byte, len(want))
	n, err = ino.ReadAt(got, 0)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != len(want) {
		t.Fatalf("ReadAt returned %d bytes, want %d", n, len(want))
	}
	if diff := pretty.Compare(want, got); diff != "" {
		t.Fatalf("ReadAt round trip mismatch: %s", diff)
	}
}

// S1 — a write past the current end of file creates a sparse hole; reading
// it back observes zeros, and the length reflects the new end.
func TestSparseWriteExtendsLength(t *testing.T) {
	s, _ := newTestStore(t, 64)

	if err := s.Create(2, 0, false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	ino := s.Open(2)
	defer ino.Close()

	payload := []byte("tail")
	offset := int64(3000)
	if _, err := ino.WriteAt(payload, offset); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if got := ino.Length(); got != offset+int64(len(payload)) {
		t.Fatalf("Length = %d, want %d", got, offset+int64(len(payload)))
	}

	hole := make([]byte, 512)
	n, err := ino.ReadAt(hole, 500)
	if err != nil {
		t.Fatalf("ReadAt hole: %v", err)
	}
	if n != 512 {
		t.Fatalf("ReadAt hole returned %d bytes, want 512", n)
	}
	for i, b := range hole {
		if b != 0 {
			t.Fatalf("hole byte %d = %d, want 0", i, b)
		}
	}

	got := make([]byte, len(payload))
	if _, err := ino.ReadAt(got, offset); err != nil {
		t.Fatalf("ReadAt tail: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("tail read = %q, want %q", got, payload)
	}
}

func TestReadPastEOFReturnsZero(t *testing.T) {
	s, _ := newTestStore(t, 64)
	if err := s.Create(2, 0, false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	ino := s.Open(2)
	defer ino.Close()

	if _, err := ino.WriteAt([]byte("abc"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	buf := make([]byte, 10)
	n, err := ino.ReadAt(buf, 100)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != 0 {
		t.Fatalf("ReadAt past EOF = %d bytes, want 0", n)
	}
}

func TestDenyWriteBlocksWrite(t *testing.T) {
	s, _ := newTestStore(t, 64)
	if err := s.Create(2, 0, false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	ino := s.Open(2)
	defer ino.Close()

	ino.DenyWrite()
	n, err := ino.WriteAt([]byte("nope"), 0)
	if err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if n != 0 {
		t.Fatalf("WriteAt under deny_write wrote %d bytes, want 0", n)
	}
	ino.AllowWrite()

	n, err = ino.WriteAt([]byte("now"), 0)
	if err != nil || n != 3 {
		t.Fatalf("WriteAt after AllowWrite = (%d, %v), want (3, nil)", n, err)
	}
}

// Removing an inode releases its blocks only once the last handle closes.
func TestRemoveReleasesOnLastClose(t *testing.T) {
	s, fm := newTestStore(t, 64)
	if err := s.Create(2, 0, false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	ino := s.Open(2)
	ino.Reopen()

	if _, err := ino.WriteAt(bytes.Repeat([]byte("y"), 2000), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	freeBeforeRemove := fm.NumFree()

	ino.Remove()
	ino.Close() // one of two references; blocks must still be held

	if fm.NumFree() != freeBeforeRemove {
		t.Fatalf("NumFree changed after first close, want unchanged until last close")
	}

	ino.Close() // last reference
	if fm.NumFree() <= freeBeforeRemove {
		t.Fatalf("NumFree = %d after last close, want > %d", fm.NumFree(), freeBeforeRemove)
	}
}

func TestOpenSameSectorReturnsSameInode(t *testing.T) {
	s, _ := newTestStore(t, 64)
	if err := s.Create(2, 0, false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	a := s.Open(2)
	b := s.Open(2)
	if a != b {
		t.Fatal("Open on the same sector returned distinct Inode objects")
	}
	a.Close()
	b.Close()
}
