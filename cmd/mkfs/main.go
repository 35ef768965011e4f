// Command mkfs formats a new backing device file for the modeling-unix file
// system, the way the original do_format routine formats a fresh disk at
// kernel boot. Flag handling and logging style follow jacobsa-fuse's
// samples/mount_memfs/main.go.
package main

import (
	"flag"
	"log"

	"github.com/bug-vt/modeling-unix/filesys"
)

var (
	fPath       = flag.String("path", "", "Path to the backing device file to create.")
	fSectorSize = flag.Int("sector_size", 512, "Sector size in bytes.")
	fNumSectors = flag.Uint("num_sectors", 8192, "Total number of sectors.")
	fCacheSize  = flag.Int("cache_size", 64, "Number of blocks held by the buffer cache.")
)

func main() {
	flag.Parse()

	if *fPath == "" {
		log.Fatalf("You must set --path.")
	}

	fs, err := filesys.Init(filesys.Config{
		BackingPath: *fPath,
		SectorSize:  *fSectorSize,
		NumSectors:  uint32(*fNumSectors),
		CacheSize:   *fCacheSize,
		Format:      true,
	})
	if err != nil {
		log.Fatalf("Init: %v", err)
	}

	if err := fs.Shutdown(); err != nil {
		log.Fatalf("Shutdown: %v", err)
	}

	log.Printf("formatted %s: %d sectors of %d bytes", *fPath, *fNumSectors, *fSectorSize)
}
