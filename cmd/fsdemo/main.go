// Command fsdemo exercises the modeling-unix file system end to end: it
// formats a scratch device, creates a directory and a file inside it,
// writes and reads the file back, then creates a pipe and passes a
// message from a writer goroutine to a reader goroutine. Flag handling and
// logging style follow jacobsa-fuse's samples/mount_memfs/main.go.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/bug-vt/modeling-unix/filesys"
	"github.com/bug-vt/modeling-unix/internal/file"
)

var fPath = flag.String("path", "", "Path to a scratch backing device file (created and removed).")

// osConsole backs STDIN/STDOUT file handles with the process's own console,
// the way threads/io.c's console driver backs a Pintos process's fd 0/1.
type osConsole struct{}

func (osConsole) ReadConsole(buf []byte) (int, error)  { return os.Stdin.Read(buf) }
func (osConsole) WriteConsole(buf []byte) (int, error) { return os.Stdout.Write(buf) }

func main() {
	flag.Parse()

	path := *fPath
	if path == "" {
		path = fmt.Sprintf("%s/fsdemo-%d.img", os.TempDir(), time.Now().UnixNano())
	}

	fs, err := filesys.Init(filesys.Config{
		BackingPath:   path,
		SectorSize:    512,
		NumSectors:    4096,
		CacheSize:     64,
		FlushInterval: 5 * time.Second,
		Format:        true,
		MaxOpenFiles:  1024, // matches the original's per-process FD_MAX
	})
	if err != nil {
		log.Fatalf("Init: %v", err)
	}
	defer func() {
		if err := fs.Shutdown(); err != nil {
			log.Printf("Shutdown: %v", err)
		}
		os.Remove(path)
	}()

	if err := fs.CreateDir("/greetings"); err != nil {
		log.Fatalf("CreateDir: %v", err)
	}
	if err := fs.CreateFile("/greetings/hello.txt", 0); err != nil {
		log.Fatalf("CreateFile: %v", err)
	}

	f, err := fs.Open("/greetings/hello.txt")
	if err != nil {
		log.Fatalf("Open: %v", err)
	}
	if _, err := f.Write([]byte("hello, modeling-unix\n")); err != nil {
		log.Fatalf("Write: %v", err)
	}
	f.Seek(0)
	buf := make([]byte, 64)
	n, err := f.Read(buf)
	if err != nil {
		log.Fatalf("Read: %v", err)
	}
	fs.Files.Close(f)
	log.Printf("read back: %q", buf[:n])

	read, write, err := fs.OpenPipe(32)
	if err != nil {
		log.Fatalf("OpenPipe: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		b := make([]byte, 32)
		n, err := read.Read(b)
		if err != nil {
			log.Printf("pipe read: %v", err)
			return
		}
		log.Printf("pipe delivered: %q", b[:n])
	}()
	if _, err := write.Write([]byte("ping")); err != nil {
		log.Fatalf("pipe write: %v", err)
	}
	fs.Files.Close(write)
	<-done
	fs.Files.Close(read)

	stdout, err := fs.Files.OpenConsole(file.Stdout, osConsole{})
	if err != nil {
		log.Fatalf("OpenConsole: %v", err)
	}
	stdout.Write([]byte("fsdemo completed successfully\n"))
	fs.Files.Close(stdout)
}
