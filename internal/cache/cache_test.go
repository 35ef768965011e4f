package cache_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/bug-vt/modeling-unix/internal/blockdev"
	"github.com/bug-vt/modeling-unix/internal/cache"
)

// countingDevice wraps a MemDevice and counts reads, so tests can assert a
// cache hit never touches the device (scenario S2).
type countingDevice struct {
	*blockdev.MemDevice
	reads int
}

func (d *countingDevice) Read(sector uint32, buf []byte) error {
	d.reads++
	return d.MemDevice.Read(sector, buf)
}

func TestGetReadPutRoundTrip(t *testing.T) {
	dev := &countingDevice{MemDevice: blockdev.NewMemDevice(512, 8)}
	c := cache.New(dev, 4)

	b := c.GetBlock(3, true)
	data := c.ZeroBlock(b)
	copy(data, bytes.Repeat([]byte{0x7}, 512))
	c.MarkDirty(b)
	c.PutBlock(b)

	c.Flush()

	got := make([]byte, 512)
	dev.Read(3, got)
	if !bytes.Equal(got, bytes.Repeat([]byte{0x7}, 512)) {
		t.Fatalf("device sector 3 = %x, want all 0x7", got[:8])
	}
}

// S2 — Cache reuse across close/open: a second get/read of the same sector
// must not issue a device read.
func TestCacheHitDoesNotReadDevice(t *testing.T) {
	dev := &countingDevice{MemDevice: blockdev.NewMemDevice(512, 8)}
	c := cache.New(dev, 4)

	b := c.GetBlock(1, false)
	c.ReadBlock(b)
	c.PutBlock(b)
	afterFirst := dev.reads

	b2 := c.GetBlock(1, false)
	c.ReadBlock(b2)
	c.PutBlock(b2)

	if dev.reads != afterFirst {
		t.Fatalf("second read issued %d device reads, want 0 additional", dev.reads-afterFirst)
	}
}

// S3 — Eviction of a dirty block writes it through to the device, and a
// later re-read observes the written content.
func TestDirtyEvictionPersists(t *testing.T) {
	dev := blockdev.NewMemDevice(512, 8)
	c := cache.New(dev, 2) // force eviction quickly

	x := c.GetBlock(0, true)
	data := c.ZeroBlock(x)
	copy(data, []byte("hello-x"))
	c.MarkDirty(x)
	c.PutBlock(x)

	// Touch more distinct sectors than the cache can hold to force out
	// sector 0.
	for s := uint32(1); s <= 3; s++ {
		b := c.GetBlock(s, true)
		c.ZeroBlock(b)
		c.PutBlock(b)
	}

	// Sector 0's content must have reached the device directly (bypassing
	// the cache) since it was evicted.
	raw := make([]byte, 512)
	if err := dev.Read(0, raw); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.HasPrefix(raw, []byte("hello-x")) {
		t.Fatalf("device sector 0 = %q, want prefix %q", raw[:7], "hello-x")
	}

	// Re-reading through the cache must also observe the write.
	b := c.GetBlock(0, false)
	got := c.ReadBlock(b)
	if !bytes.HasPrefix(got, []byte("hello-x")) {
		t.Fatalf("cached sector 0 = %q, want prefix %q", got[:7], "hello-x")
	}
	c.PutBlock(b)
}

func TestReadAheadWarmsCache(t *testing.T) {
	dev := &countingDevice{MemDevice: blockdev.NewMemDevice(512, 8)}
	c := cache.New(dev, 4)
	c.Start(nil, 0)
	defer c.Stop()

	// Seed sector 2 with known content directly on the device.
	seed := bytes.Repeat([]byte{0x9}, 512)
	dev.Write(2, seed)

	c.ReadAhead(2)

	// Give the daemon a chance to run; poll briefly rather than sleeping a
	// fixed long duration.
	deadline := 0
	for {
		b := c.GetBlock(2, false)
		got := append([]byte(nil), c.ReadBlock(b)...)
		c.PutBlock(b)
		if bytes.Equal(got, seed) || deadline > 200 {
			break
		}
		time.Sleep(time.Millisecond)
		deadline++
	}
}
