package cache

import (
	"time"

	"github.com/jacobsa/timeutil"
)

// DefaultFlushInterval matches the original cache_write_behind_daemon's
// 5-second sleep.
const DefaultFlushInterval = 5 * time.Second

// Start launches the read-ahead and periodic flush daemons as goroutines.
// clock is used only to timestamp log lines; the flush cadence itself is
// driven by interval via a real timer, since flush must eventually reach
// the real device regardless of what a simulated clock believes the time
// is.
func (c *Cache) Start(clock timeutil.Clock, interval time.Duration) {
	if clock == nil {
		clock = timeutil.RealClock()
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}

	c.wg.Add(2)
	go c.readAheadDaemon()
	go c.flushDaemon(clock, interval)
}

// Stop signals both daemons to exit and waits for them to do so. It does
// not flush; call Flush separately for a synchronous shutdown write-back.
func (c *Cache) Stop() {
	close(c.stopCh)
	// Wake the read-ahead daemon out of its blocking Dequeue with a poison
	// sector; NoSector is never a value ReadAhead's public callers enqueue.
	c.readAhead.Enqueue(NoSector)
	c.wg.Wait()
}

// readAheadDaemon dequeues sectors queued by ReadAhead and warms the cache
// for each via the ordinary get/read/put path, effecting prefetch.
func (c *Cache) readAheadDaemon() {
	defer c.wg.Done()

	for {
		sector := c.readAhead.Dequeue()
		select {
		case <-c.stopCh:
			return
		default:
		}
		if sector == NoSector {
			continue
		}
		b := c.GetBlock(sector, false)
		c.ReadBlock(b)
		c.PutBlock(b)
	}
}

// flushDaemon sleeps interval, then flushes, forever until Stop.
func (c *Cache) flushDaemon(clock timeutil.Clock, interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			start := clock.Now()
			c.Flush()
			logger.Printf("periodic flush completed, started at %v", start)
		case <-c.stopCh:
			return
		}
	}
}
