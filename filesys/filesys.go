// Package filesys is the composition root: it wires the block device,
// buffer cache, free-sector map, inode store, directory, file handle, and
// pipe layers into one FileSystem, mirroring the original filesys.c's
// filesys_init/filesys_done/filesys_create/filesys_open/filesys_remove and
// do_format. Grounded on jacobsa-fuse's samples/mount_memfs, which plays the
// same "parse config, wire the pieces, run" role.
package filesys

import (
	"context"
	"fmt"
	"time"

	"github.com/bug-vt/modeling-unix/internal/blockdev"
	"github.com/bug-vt/modeling-unix/internal/cache"
	"github.com/bug-vt/modeling-unix/internal/directory"
	"github.com/bug-vt/modeling-unix/internal/file"
	"github.com/bug-vt/modeling-unix/internal/fserrors"
	"github.com/bug-vt/modeling-unix/internal/fslog"
	"github.com/bug-vt/modeling-unix/internal/freemap"
	"github.com/bug-vt/modeling-unix/internal/inode"
	"github.com/jacobsa/reqtrace"
	"github.com/jacobsa/timeutil"
)

var logger = fslog.New("filesys")

// FreeMapSector is the free-sector map's fixed home sector;
// directory.RootDirSector is the root directory's.
const FreeMapSector uint32 = 0

// Config describes how to bring a FileSystem up.
type Config struct {
	BackingPath   string
	SectorSize    int
	NumSectors    uint32
	CacheSize     int
	FlushInterval time.Duration
	Format        bool // true to initialize a fresh file system on the device

	// MaxOpenFiles caps the number of simultaneously open file/directory/
	// console/pipe handles. 0 means unlimited.
	MaxOpenFiles int
}

// FileSystem is an explicitly owned file-system context: callers construct
// one via Init and must call Shutdown when done. It is not a singleton —
// a process may in principle mount more than one.
type FileSystem struct {
	dev     blockdev.Device
	cache   *cache.Cache
	store   *inode.Store
	freeMap *freemap.Map
	fmInode *inode.Inode
	Files   *file.Table
}

// Init opens (or, if cfg.Format, creates) the backing device, brings up the
// cache and its daemons, and loads or formats the free-sector map and root
// directory.
func Init(cfg Config) (*FileSystem, error) {
	var dev blockdev.Device
	var err error
	if cfg.Format {
		dev, err = blockdev.CreateFileDevice(cfg.BackingPath, cfg.SectorSize, cfg.NumSectors)
	} else {
		dev, err = blockdev.OpenFileDevice(cfg.BackingPath, cfg.SectorSize, cfg.NumSectors)
	}
	if err != nil {
		return nil, fmt.Errorf("filesys: open backing device: %w", err)
	}

	c := cache.New(dev, cfg.CacheSize)
	c.Start(timeutil.RealClock(), cfg.FlushInterval)

	store := inode.NewStore(c)
	fs := &FileSystem{dev: dev, cache: c, store: store, Files: file.NewTable(cfg.MaxOpenFiles)}

	if cfg.Format {
		if err := fs.format(cfg.NumSectors); err != nil {
			return nil, err
		}
	} else {
		fmInode := store.Open(FreeMapSector)
		fm, err := freemap.LoadFromReader(fmInode, cfg.NumSectors)
		if err != nil {
			return nil, fmt.Errorf("filesys: load free map: %w", err)
		}
		store.SetFreeMap(fm)
		fs.freeMap = fm
		fs.fmInode = fmInode
	}

	return fs, nil
}

// format lays down a fresh free-sector map and root directory, mirroring
// the original do_format: reserve the two fixed sectors, create the free
// map's own inode (which self-allocates its data sectors through the very
// map being created), create and populate the root directory, then persist
// the map.
func (fs *FileSystem) format(numSectors uint32) error {
	fm := freemap.NewEmpty(numSectors)
	fm.MarkReserved(FreeMapSector)
	fm.MarkReserved(directory.RootDirSector)
	fs.store.SetFreeMap(fm)
	fs.freeMap = fm

	if err := fs.store.Create(FreeMapSector, fm.ByteSize(), false); err != nil {
		return fmt.Errorf("filesys: create free map inode: %w", err)
	}

	const rootInitialEntries = 16
	if err := directory.Create(fs.store, directory.RootDirSector, rootInitialEntries); err != nil {
		return fmt.Errorf("filesys: create root directory: %w", err)
	}
	root := directory.OpenRoot(fs.store)
	if err := root.Add(".", directory.RootDirSector); err != nil {
		root.Close()
		return fmt.Errorf("filesys: add . to root: %w", err)
	}
	if err := root.Add("..", directory.RootDirSector); err != nil {
		root.Close()
		return fmt.Errorf("filesys: add .. to root: %w", err)
	}
	root.Close()

	fs.fmInode = fs.store.Open(FreeMapSector)
	if err := fm.WriteTo(fs.fmInode); err != nil {
		return fmt.Errorf("filesys: persist free map: %w", err)
	}
	logger.Printf("formatted %d sectors", numSectors)
	return nil
}

// Shutdown persists the free-sector map, flushes the cache synchronously,
// stops its daemons, and closes the backing device.
func (fs *FileSystem) Shutdown() error {
	if err := fs.freeMap.WriteTo(fs.fmInode); err != nil {
		logger.Printf("shutdown: persist free map: %v", err)
	}
	fs.fmInode.Close()

	fs.cache.Stop()
	fs.cache.Flush()

	if closer, ok := fs.dev.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// CreateFile creates a new regular file at path, whose parent directory
// must already exist, with an initial length of initialSize bytes (all
// zero, via the same sparse-write path WriteAt uses for a hole).
func (fs *FileSystem) CreateFile(path string, initialSize int64) error {
	return fs.create(path, initialSize, false)
}

// CreateDir creates a new, empty (but for "." and "..") directory at path.
func (fs *FileSystem) CreateDir(path string) error {
	return fs.create(path, 0, true)
}

// create is traced as its own span the way fuseops/common_op.go starts a
// span per kernel op; reqtrace.Enabled gates this to a no-op unless a
// collector has registered, so ordinary runs pay nothing for it.
func (fs *FileSystem) create(path string, length int64, isDir bool) (err error) {
	_, report := reqtrace.StartSpan(context.Background(), "filesys.create")
	defer func() { report(err) }()

	parentSector, leaf, err := directory.TraversePath(fs.store, directory.RootDirSector, path, false)
	if err != nil {
		return err
	}
	if leaf == "" {
		return fserrors.ErrInvalidArgument
	}

	parent := directory.Open(fs.store, parentSector)
	defer parent.Close()
	if _, exists := parent.Lookup(leaf); exists {
		return fserrors.ErrInvalidArgument
	}

	newSector, ok := fs.freeMap.Allocate(1)
	if !ok {
		return fserrors.ErrOutOfSpace
	}

	if isDir {
		err = directory.Create(fs.store, newSector, 4)
	} else {
		err = fs.store.Create(newSector, length, false)
	}
	if err != nil {
		fs.freeMap.Release(newSector, 1)
		return err
	}

	if isDir {
		child := directory.Open(fs.store, newSector)
		if err := child.Add(".", newSector); err != nil {
			child.Close()
			return err
		}
		if err := child.Add("..", parentSector); err != nil {
			child.Close()
			return err
		}
		child.Close()
	}

	if err := parent.Add(leaf, newSector); err != nil {
		return err
	}
	return nil
}

// Open resolves path and returns an open file handle for it.
func (fs *FileSystem) Open(path string) (f *file.File, err error) {
	_, report := reqtrace.StartSpan(context.Background(), "filesys.open")
	defer func() { report(err) }()

	sector, err := directory.Resolve(fs.store, directory.RootDirSector, path)
	if err != nil {
		return nil, err
	}
	ino := fs.store.Open(sector)
	f, err = fs.Files.Open(fs.store, ino)
	if err != nil {
		ino.Close()
		return nil, err
	}
	return f, nil
}

// Remove removes the directory entry at path. Removing a non-empty
// directory or the root directory fails.
func (fs *FileSystem) Remove(path string) (err error) {
	_, report := reqtrace.StartSpan(context.Background(), "filesys.remove")
	defer func() { report(err) }()

	parentSector, leaf, err := directory.TraversePath(fs.store, directory.RootDirSector, path, false)
	if err != nil {
		return err
	}
	if leaf == "" {
		return fserrors.ErrNotRemovable
	}
	parent := directory.Open(fs.store, parentSector)
	defer parent.Close()
	return parent.Remove(leaf)
}

// OpenPipe allocates a new pipe of the given byte capacity and returns its
// read and write ends as file handles.
func (fs *FileSystem) OpenPipe(capacity int) (read, write *file.File, err error) {
	return fs.Files.OpenPipeEnds(capacity)
}
