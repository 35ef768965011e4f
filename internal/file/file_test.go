package file_test

import (
	"bytes"
	"testing"

	"github.com/bug-vt/modeling-unix/internal/blockdev"
	"github.com/bug-vt/modeling-unix/internal/cache"
	"github.com/bug-vt/modeling-unix/internal/file"
	"github.com/bug-vt/modeling-unix/internal/fserrors"
	"github.com/bug-vt/modeling-unix/internal/freemap"
	"github.com/bug-vt/modeling-unix/internal/inode"
)

type fakeConsole struct {
	in  *bytes.Buffer
	out *bytes.Buffer
}

func (c *fakeConsole) ReadConsole(buf []byte) (int, error)  { return c.in.Read(buf) }
func (c *fakeConsole) WriteConsole(buf []byte) (int, error) { return c.out.Write(buf) }

func newTestStore(t *testing.T, numSectors uint32) *inode.Store {
	t.Helper()
	dev := blockdev.NewMemDevice(512, numSectors)
	c := cache.New(dev, 8)
	fm := freemap.NewEmpty(numSectors)
	fm.MarkReserved(0)
	fm.MarkReserved(1)
	s := inode.NewStore(c)
	s.SetFreeMap(fm)
	return s
}

func TestRegReadWriteAdvancesPosition(t *testing.T) {
	s := newTestStore(t, 64)
	s.Create(10, 0, false)
	ino := s.Open(10)

	tbl := file.NewTable(0)
	f, err := tbl.Open(s, ino)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tbl.Close(f)

	if _, err := f.Write([]byte("abc")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := f.Write([]byte("def")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if tell := f.Tell(); tell != 6 {
		t.Fatalf("Tell = %d, want 6", tell)
	}

	if err := f.Seek(0); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	buf := make([]byte, 6)
	n, err := f.Read(buf)
	if err != nil || n != 6 || string(buf) != "abcdef" {
		t.Fatalf("Read = (%d, %v, %q), want (6, nil, \"abcdef\")", n, err, buf)
	}
}

func TestDirHandleRefusesReadWrite(t *testing.T) {
	s := newTestStore(t, 64)
	s.Create(10, 0, true)
	ino := s.Open(10)

	tbl := file.NewTable(0)
	f, err := tbl.Open(s, ino)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tbl.Close(f)

	if f.Kind() != file.Dir {
		t.Fatalf("Kind = %v, want Dir", f.Kind())
	}
	if _, err := f.Read(make([]byte, 4)); err != fserrors.ErrIsADirectory {
		t.Fatalf("Read on dir = %v, want ErrIsADirectory", err)
	}
	if _, err := f.Write([]byte("x")); err != fserrors.ErrIsADirectory {
		t.Fatalf("Write on dir = %v, want ErrIsADirectory", err)
	}
}

func TestPipeEndsRefuseWrongDirection(t *testing.T) {
	tbl := file.NewTable(0)
	read, write, err := tbl.OpenPipeEnds(16)
	if err != nil {
		t.Fatalf("OpenPipeEnds: %v", err)
	}
	defer tbl.Close(read)
	defer tbl.Close(write)

	if _, err := write.Read(make([]byte, 4)); err != fserrors.ErrBadDescriptor {
		t.Fatalf("Read on write end = %v, want ErrBadDescriptor", err)
	}
	if _, err := read.Write([]byte("x")); err != fserrors.ErrBadDescriptor {
		t.Fatalf("Write on read end = %v, want ErrBadDescriptor", err)
	}

	if _, err := write.Write([]byte("hi")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf := make([]byte, 2)
	n, err := read.Read(buf)
	if err != nil || n != 2 || string(buf) != "hi" {
		t.Fatalf("Read = (%d, %v, %q), want (2, nil, \"hi\")", n, err, buf)
	}
}

func TestDupSharesPosition(t *testing.T) {
	s := newTestStore(t, 64)
	s.Create(10, 0, false)
	ino := s.Open(10)

	tbl := file.NewTable(0)
	f, err := tbl.Open(s, ino)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	f.Write([]byte("hello"))

	dup := tbl.Dup(f)
	if dup != f {
		t.Fatal("Dup returned a distinct handle, want the same one")
	}

	tbl.Close(f) // one of two references
	if _, err := f.Read(make([]byte, 1)); err != nil {
		t.Fatalf("handle unusable after one of two Close calls: %v", err)
	}
	tbl.Close(dup)
}

func TestTableRefusesOverCapacity(t *testing.T) {
	s := newTestStore(t, 64)
	s.Create(10, 0, false)
	s.Create(11, 0, false)

	tbl := file.NewTable(1)
	f, err := tbl.Open(s, s.Open(10))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	ino := s.Open(11)
	if _, err := tbl.Open(s, ino); err != fserrors.ErrTooManyOpenFiles {
		t.Fatalf("Open over capacity = %v, want ErrTooManyOpenFiles", err)
	}
	ino.Close() // Open left ino owned by the caller on failure

	tbl.Close(f)
	f2, err := tbl.Open(s, s.Open(11))
	if err != nil {
		t.Fatalf("Open after freeing a slot: %v", err)
	}
	tbl.Close(f2)
}

func TestConsoleHandles(t *testing.T) {
	console := &fakeConsole{in: bytes.NewBufferString("hi"), out: &bytes.Buffer{}}
	tbl := file.NewTable(0)
	stdin, err := tbl.OpenConsole(file.Stdin, console)
	if err != nil {
		t.Fatalf("OpenConsole: %v", err)
	}
	stdout, err := tbl.OpenConsole(file.Stdout, console)
	if err != nil {
		t.Fatalf("OpenConsole: %v", err)
	}
	defer tbl.Close(stdin)
	defer tbl.Close(stdout)

	buf := make([]byte, 2)
	n, err := stdin.Read(buf)
	if err != nil || n != 2 || string(buf) != "hi" {
		t.Fatalf("stdin Read = (%d, %v, %q), want (2, nil, \"hi\")", n, err, buf)
	}

	if _, err := stdout.Write([]byte("out")); err != nil {
		t.Fatalf("stdout Write: %v", err)
	}
	if console.out.String() != "out" {
		t.Fatalf("console output = %q, want %q", console.out.String(), "out")
	}
}
