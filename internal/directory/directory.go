// Package directory implements directories: a directory's data is an array
// of fixed-size name→inode-sector entries stored through the Inode Store,
// with "." and ".." bookkeeping and absolute/relative path traversal.
// Grounded on the original filesys/directory.c layout and on jacobsa-fuse's
// samples/memfs directory listing conventions.
package directory

import (
	"encoding/binary"
	"strings"

	"github.com/bug-vt/modeling-unix/internal/fserrors"
	"github.com/bug-vt/modeling-unix/internal/inode"
)

// RootDirSector is the root directory's fixed home sector.
const RootDirSector uint32 = 1

// NameMax is the longest file name a directory entry can hold.
const NameMax = 14

// entrySize is the fixed on-disk size of one directory entry: a NameMax-byte
// name field, a 4-byte inode sector, and a 1-byte in-use flag.
const entrySize = NameMax + 4 + 1

type entry struct {
	name   [NameMax]byte
	sector uint32
	inUse  bool
}

func decodeEntry(buf []byte) entry {
	var e entry
	copy(e.name[:], buf[:NameMax])
	e.sector = binary.LittleEndian.Uint32(buf[NameMax:])
	e.inUse = buf[NameMax+4] != 0
	return e
}

func (e entry) encode(buf []byte) {
	copy(buf[:NameMax], e.name[:])
	binary.LittleEndian.PutUint32(buf[NameMax:], e.sector)
	if e.inUse {
		buf[NameMax+4] = 1
	} else {
		buf[NameMax+4] = 0
	}
}

func (e entry) nameString() string {
	i := 0
	for i < NameMax && e.name[i] != 0 {
		i++
	}
	return string(e.name[:i])
}

// Directory is an open directory: an inode handle plus a readdir cursor.
type Directory struct {
	store *inode.Store
	inode *inode.Inode
	pos   int64 // readdir cursor, in entries
}

// Create initializes a directory inode at sector sized to hold at least
// initialEntries entries. It does not itself add "."
// or "..": callers add those via Add once the directory is open, so that
// the root directory (whose "." and ".." both point at itself) and an
// ordinary subdirectory (whose ".." points at its parent) share one path.
func Create(store *inode.Store, sector uint32, initialEntries int) error {
	return store.Create(sector, int64(initialEntries)*entrySize, true)
}

// OpenRoot opens the root directory.
func OpenRoot(store *inode.Store) *Directory {
	return Open(store, RootDirSector)
}

// Open opens the directory whose home sector is sector.
func Open(store *inode.Store, sector uint32) *Directory {
	return &Directory{store: store, inode: store.Open(sector)}
}

// Wrap builds a directory view over an inode handle the caller already
// owns, without a further Reopen. Used by the file-handle layer, whose
// Open(inode) takes ownership of an inode with no extra reopen and simply
// grows a directory view alongside it when the inode is a directory.
func Wrap(store *inode.Store, ino *inode.Inode) *Directory {
	return &Directory{store: store, inode: ino}
}

// Close closes the directory's underlying inode.
func (d *Directory) Close() {
	d.inode.Close()
}

// Sector returns the directory's own home sector.
func (d *Directory) Sector() uint32 { return d.inode.GetInumber() }

// Inode exposes the directory's underlying inode handle, for callers (file
// handles) that need to read/write/deny-write a directory-typed inode
// directly.
func (d *Directory) Inode() *inode.Inode { return d.inode }

// forEachEntry scans every entry slot, invoking fn with its index and
// decoded value. fn returns false to stop early.
func (d *Directory) forEachEntry(fn func(idx int, e entry) bool) {
	length := d.inode.Length()
	buf := make([]byte, entrySize)
	for off := int64(0); off+entrySize <= length; off += entrySize {
		n, err := d.inode.ReadAt(buf, off)
		if err != nil || n != entrySize {
			return
		}
		if !fn(int(off/entrySize), decodeEntry(buf)) {
			return
		}
	}
}

// Lookup searches for name among the directory's entries.
func (d *Directory) Lookup(name string) (sector uint32, ok bool) {
	d.forEachEntry(func(_ int, e entry) bool {
		if e.inUse && e.nameString() == name {
			sector, ok = e.sector, true
			return false
		}
		return true
	})
	return sector, ok
}

// Add inserts a new entry mapping name to sector. It fails with
// ErrNameTooLong if name doesn't fit, and refuses a duplicate by returning
// ErrInvalidArgument, guarding against it directly rather than trusting a
// caller's prior Lookup to keep the entry table consistent.
func (d *Directory) Add(name string, sector uint32) error {
	if len(name) == 0 || len(name) > NameMax {
		return fserrors.ErrNameTooLong
	}
	if _, ok := d.Lookup(name); ok {
		return fserrors.ErrInvalidArgument
	}

	var e entry
	copy(e.name[:], name)
	e.sector = sector
	e.inUse = true
	buf := make([]byte, entrySize)
	e.encode(buf)

	// Reuse the first unused slot, if any.
	var writeOffset int64 = -1
	d.forEachEntry(func(idx int, cand entry) bool {
		if !cand.inUse {
			writeOffset = int64(idx) * entrySize
			return false
		}
		return true
	})
	if writeOffset < 0 {
		writeOffset = d.inode.Length()
	}

	_, err := d.inode.WriteAt(buf, writeOffset)
	return err
}

// Remove deletes the entry named name. Removing "." or ".." is always
// rejected, removing the root directory is always rejected, and removing a
// directory entry whose target still has entries other than "." and ".."
// is rejected.
func (d *Directory) Remove(name string) error {
	if name == "." || name == ".." {
		return fserrors.ErrInvalidArgument
	}

	var found bool
	var foundIdx int
	var target entry
	d.forEachEntry(func(idx int, e entry) bool {
		if e.inUse && e.nameString() == name {
			found, foundIdx, target = true, idx, e
			return false
		}
		return true
	})
	if !found {
		return fserrors.ErrNotFound
	}
	if target.sector == RootDirSector {
		return fserrors.ErrNotRemovable
	}

	targetInode := d.store.Open(target.sector)
	if targetInode.IsDir() {
		sub := &Directory{store: d.store, inode: targetInode}
		empty := true
		sub.forEachEntry(func(_ int, e entry) bool {
			n := e.nameString()
			if e.inUse && n != "." && n != ".." {
				empty = false
				return false
			}
			return true
		})
		if !empty {
			targetInode.Close()
			return fserrors.ErrDirectoryNotEmpty
		}
	}
	targetInode.Remove()
	targetInode.Close()

	cleared := make([]byte, entrySize) // all-zero: in_use byte is 0
	_, err := d.inode.WriteAt(cleared, int64(foundIdx)*entrySize)
	return err
}

// Readdir returns the next in-use entry's name, skipping "." and "..", and
// advances the cursor. ok is false once every entry has been returned.
func (d *Directory) Readdir() (name string, ok bool) {
	length := d.inode.Length()
	buf := make([]byte, entrySize)
	for d.pos*entrySize < length {
		off := d.pos * entrySize
		d.pos++
		if n, err := d.inode.ReadAt(buf, off); err != nil || n != entrySize {
			return "", false
		}
		e := decodeEntry(buf)
		if !e.inUse {
			continue
		}
		n := e.nameString()
		if n == "." || n == ".." {
			continue
		}
		return n, true
	}
	return "", false
}

// TraversePath resolves path, which may be absolute ("/" prefixed) or
// relative to cwd, walking every component but the last as a directory. If
// followLast is true the final component must also resolve to a directory,
// and the returned leaf is empty; otherwise the final component is left
// unresolved and returned as leaf, for callers that create or look it up
// themselves.
func TraversePath(store *inode.Store, cwd uint32, path string, followLast bool) (dirSector uint32, leaf string, err error) {
	parts := splitPath(path)

	cur := cwd
	if strings.HasPrefix(path, "/") {
		cur = RootDirSector
	}
	if len(parts) == 0 {
		return cur, "", nil
	}

	dir := Open(store, cur)
	defer func() {
		if dir != nil {
			dir.Close()
		}
	}()

	walk := parts
	if followLast {
		// every component, including the last, must be a directory
	} else {
		walk = parts[:len(parts)-1]
	}

	for _, part := range walk {
		if len(part) > NameMax {
			return 0, "", fserrors.ErrNameTooLong
		}
		sector, ok := dir.Lookup(part)
		if !ok {
			return 0, "", fserrors.ErrNotFound
		}
		next := Open(store, sector)
		if !next.inode.IsDir() {
			next.Close()
			return 0, "", fserrors.ErrNotADirectory
		}
		dir.Close()
		dir = next
	}

	if followLast {
		return dir.Sector(), "", nil
	}

	last := parts[len(parts)-1]
	if len(last) > NameMax {
		return 0, "", fserrors.ErrNameTooLong
	}
	return dir.Sector(), last, nil
}

// Resolve fully resolves path (file or directory) to its home sector,
// unlike TraversePath with followLast=true, which requires the final
// component to be a directory. Every non-final component must still be a
// directory.
func Resolve(store *inode.Store, cwd uint32, path string) (sector uint32, err error) {
	parentSector, leaf, err := TraversePath(store, cwd, path, false)
	if err != nil {
		return 0, err
	}
	if leaf == "" {
		return parentSector, nil
	}

	parent := Open(store, parentSector)
	defer parent.Close()

	sector, ok := parent.Lookup(leaf)
	if !ok {
		return 0, fserrors.ErrNotFound
	}
	return sector, nil
}

// splitPath splits path on "/", dropping empty components (so leading,
// trailing, and repeated slashes are all tolerated).
func splitPath(path string) []string {
	raw := strings.Split(path, "/")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
