// Package file implements the file handle layer: the object that mediates
// between the inode/directory/pipe layers and a process-facing descriptor,
// dispatching reads and writes by handle type.
// Grounded on jacobsa-fuse's samples/memfs handle bookkeeping (reference
// counts, one object per open descriptor) and on the original
// filesys/file.c and threads/io.c console plumbing.
package file

import (
	"sync"

	"github.com/bug-vt/modeling-unix/internal/directory"
	"github.com/bug-vt/modeling-unix/internal/fserrors"
	"github.com/bug-vt/modeling-unix/internal/inode"
	"github.com/bug-vt/modeling-unix/internal/pipe"
)

// Kind is the handle's type tag.
type Kind int

const (
	Stdin Kind = iota
	Stdout
	Reg
	Dir
	Pipe
)

// Console is the line-oriented console driver STDIN/STDOUT handles defer
// to. A real binary backs it with os.Stdin/os.Stdout; tests can supply an
// in-memory stand-in.
type Console interface {
	ReadConsole(buf []byte) (int, error)
	WriteConsole(buf []byte) (int, error)
}

// File is one open file handle.
type File struct {
	mu sync.Mutex

	kind     Kind
	refCount int
	pos      int64
	denied   bool // whether this handle currently holds a deny-write

	store   *inode.Store
	ino     *inode.Inode
	dirView *directory.Directory // non-nil iff kind == Dir
	console Console              // non-nil iff kind == Stdin/Stdout

	pipeRef    *pipe.Pipe
	pipeEnd    any // identity passed to pipeRef.Close
	pipeIsRead bool
}

// Table is the open-files list: its lock protects insertion/removal only,
// not the files' own contents.
type Table struct {
	mu       sync.Mutex
	files    map[*File]struct{}
	capacity int // 0 means unlimited
}

// NewTable returns an empty open-files list that refuses to grow past
// capacity handles. A capacity of 0 means unlimited.
func NewTable(capacity int) *Table {
	return &Table{files: make(map[*File]struct{}), capacity: capacity}
}

// insert adds f to the table, returning false without adding it if the
// table is already at capacity.
func (t *Table) insert(f *File) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.capacity > 0 && len(t.files) >= t.capacity {
		return false
	}
	t.files[f] = struct{}{}
	return true
}

func (t *Table) remove(f *File) {
	t.mu.Lock()
	delete(t.files, f)
	t.mu.Unlock()
}

// OpenConsole returns a handle of kind Stdin or Stdout backed by console. It
// fails with ErrTooManyOpenFiles if the table is already at capacity.
func (t *Table) OpenConsole(kind Kind, console Console) (*File, error) {
	f := &File{kind: kind, refCount: 1, console: console}
	if !t.insert(f) {
		return nil, fserrors.ErrTooManyOpenFiles
	}
	return f, nil
}

// Open takes ownership of ino (no extra Reopen) and returns a handle for
// it. If ino is a directory, the handle also owns a directory view over
// the same inode. It fails with ErrTooManyOpenFiles if the table is already
// at capacity, in which case ino remains owned by the caller.
func (t *Table) Open(store *inode.Store, ino *inode.Inode) (*File, error) {
	f := &File{kind: Reg, refCount: 1, store: store, ino: ino}
	if ino.IsDir() {
		f.kind = Dir
		f.dirView = directory.Wrap(store, ino)
	}
	if !t.insert(f) {
		return nil, fserrors.ErrTooManyOpenFiles
	}
	return f, nil
}

// OpenPipeEnds allocates a pipe of the given byte capacity and two Pipe-kind
// handles bound to its two ends. Returns (read, write), or
// ErrTooManyOpenFiles if the table cannot hold both new handles.
func (t *Table) OpenPipeEnds(capacity int) (read, write *File, err error) {
	read = &File{kind: Pipe, refCount: 1, pipeIsRead: true}
	write = &File{kind: Pipe, refCount: 1, pipeIsRead: false}
	p := pipe.New(capacity, read, write)
	read.pipeRef, read.pipeEnd = p, read
	write.pipeRef, write.pipeEnd = p, write

	if !t.insert(read) {
		return nil, nil, fserrors.ErrTooManyOpenFiles
	}
	if !t.insert(write) {
		t.remove(read)
		return nil, nil, fserrors.ErrTooManyOpenFiles
	}
	return read, write, nil
}

// Reopen opens a new, independent-position handle over the same inode as
// f, bumping the inode's own open count. It is not valid on console or pipe
// handles, and fails with ErrTooManyOpenFiles if the table is already at
// capacity (in which case the bumped inode reference is released again).
func (t *Table) Reopen(f *File) (*File, error) {
	f.mu.Lock()
	kind, ino, store := f.kind, f.ino, f.store
	f.mu.Unlock()

	if kind != Reg && kind != Dir {
		return nil, fserrors.ErrInvalidArgument
	}
	ino.Reopen()
	nf := &File{kind: kind, refCount: 1, store: store, ino: ino}
	if kind == Dir {
		nf.dirView = directory.Wrap(store, ino)
	}
	if !t.insert(nf) {
		ino.Close()
		return nil, fserrors.ErrTooManyOpenFiles
	}
	return nf, nil
}

// Dup increments f's reference count; the returned handle shares f's
// position, since it IS f.
func (t *Table) Dup(f *File) *File {
	f.mu.Lock()
	f.refCount++
	f.mu.Unlock()
	return f
}

// Close decrements f's reference count. On the last reference it releases
// whatever f owns (a deny-write, the inode, or a pipe end) and removes f
// from the table.
func (t *Table) Close(f *File) {
	f.mu.Lock()
	f.refCount--
	last := f.refCount == 0
	denied := f.denied
	ino := f.ino
	pipeRef, pipeEnd := f.pipeRef, f.pipeEnd
	f.mu.Unlock()

	if !last {
		return
	}

	if ino != nil {
		if denied {
			ino.AllowWrite()
		}
		ino.Close()
	}
	if pipeRef != nil {
		pipeRef.Close(pipeEnd)
	}
	t.remove(f)
}

// Kind returns f's type tag.
func (f *File) Kind() Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.kind
}

// Read reads into buf at the handle's current position (for Reg), from the
// console (Stdin), or from the pipe's read end (Pipe), advancing the
// position for Reg. Dir handles refuse with ErrIsADirectory; the write end
// of a pipe refuses with ErrBadDescriptor.
func (f *File) Read(buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.kind {
	case Stdin:
		return f.console.ReadConsole(buf)
	case Stdout:
		return 0, fserrors.ErrBadDescriptor
	case Reg:
		n, err := f.ino.ReadAt(buf, f.pos)
		f.pos += int64(n)
		return n, err
	case Dir:
		return 0, fserrors.ErrIsADirectory
	case Pipe:
		if !f.pipeIsRead {
			return 0, fserrors.ErrBadDescriptor
		}
		n, eof := f.pipeRef.Read(buf)
		if eof {
			return 0, nil
		}
		return n, nil
	default:
		return 0, fserrors.ErrInvalidArgument
	}
}

// Write writes from buf at the handle's current position (for Reg), to the
// console's line buffer (Stdout), or to the pipe's write end (Pipe),
// advancing the position for Reg.
func (f *File) Write(buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.kind {
	case Stdout:
		return f.console.WriteConsole(buf)
	case Stdin:
		return 0, fserrors.ErrBadDescriptor
	case Reg:
		n, err := f.ino.WriteAt(buf, f.pos)
		f.pos += int64(n)
		return n, err
	case Dir:
		return 0, fserrors.ErrIsADirectory
	case Pipe:
		if f.pipeIsRead {
			return 0, fserrors.ErrBadDescriptor
		}
		n, broken := f.pipeRef.Write(buf)
		if broken {
			return n, fserrors.ErrBadDescriptor
		}
		return n, nil
	default:
		return 0, fserrors.ErrInvalidArgument
	}
}

// ReadAt reads at an explicit offset, bypassing and not advancing the
// handle's position. Valid only for Reg handles.
func (f *File) ReadAt(buf []byte, offset int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.kind != Reg {
		return 0, fserrors.ErrInvalidArgument
	}
	return f.ino.ReadAt(buf, offset)
}

// WriteAt writes at an explicit offset, bypassing and not advancing the
// handle's position. Valid only for Reg handles.
func (f *File) WriteAt(buf []byte, offset int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.kind != Reg {
		return 0, fserrors.ErrInvalidArgument
	}
	return f.ino.WriteAt(buf, offset)
}

// Seek sets the handle's position. Valid only for Reg handles; an
// arbitrary non-negative position is allowed, including past EOF, which a
// subsequent write then extends into.
func (f *File) Seek(pos int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.kind != Reg {
		return fserrors.ErrInvalidArgument
	}
	if pos < 0 {
		return fserrors.ErrInvalidArgument
	}
	f.pos = pos
	return nil
}

// Tell returns the handle's current position.
func (f *File) Tell() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos
}

// DenyWrite marks the handle's underlying inode write-denied. It is
// idempotent at the handle level: a second call before AllowWrite does
// nothing, keeping the paired inode counter balanced.
func (f *File) DenyWrite() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denied || f.ino == nil {
		return
	}
	f.denied = true
	f.ino.DenyWrite()
}

// AllowWrite undoes a prior DenyWrite. Idempotent the same way.
func (f *File) AllowWrite() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.denied {
		return
	}
	f.denied = false
	f.ino.AllowWrite()
}

// Readdir returns the next directory entry name for a Dir handle.
func (f *File) Readdir() (name string, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.kind != Dir {
		return "", false
	}
	return f.dirView.Readdir()
}

// Directory returns the handle's directory view, or nil if it is not a Dir
// handle: a non-null directory view always means a directory-typed inode.
func (f *File) Directory() *directory.Directory {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirView
}
