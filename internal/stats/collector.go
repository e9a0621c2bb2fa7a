// Package stats tracks backup run counters with lock-free atomics, plus a
// small ring buffer of throughput samples for progress display.
package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

const ringSize = 60

// Collector tracks the counters of one or more pull runs.
type Collector struct {
	filesPulled  atomic.Int64
	filesLinked  atomic.Int64
	filesCopied  atomic.Int64
	filesDeleted atomic.Int64
	filesSkipped atomic.Int64
	filesFailed  atomic.Int64
	dirsCreated  atomic.Int64
	bytesPulled  atomic.Int64
	filesTotal   atomic.Int64
	bytesTotal   atomic.Int64
	startTime    time.Time

	// Ring buffer — written only by the presenter's Tick(), not workers.
	mu         sync.Mutex
	throughput [ringSize]int64 // bytes delta per second
	ringIdx    int
	ringCount  int
	lastBytes  int64
}

// NewCollector creates a Collector with startTime set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

func (c *Collector) AddFilesPulled(n int64)  { c.filesPulled.Add(n) }
func (c *Collector) AddFilesLinked(n int64)  { c.filesLinked.Add(n) }
func (c *Collector) AddFilesCopied(n int64)  { c.filesCopied.Add(n) }
func (c *Collector) AddFilesDeleted(n int64) { c.filesDeleted.Add(n) }
func (c *Collector) AddFilesSkipped(n int64) { c.filesSkipped.Add(n) }
func (c *Collector) AddFilesFailed(n int64)  { c.filesFailed.Add(n) }
func (c *Collector) AddDirsCreated(n int64)  { c.dirsCreated.Add(n) }
func (c *Collector) AddBytesPulled(n int64)  { c.bytesPulled.Add(n) }

// AddTotals accumulates planned work (used once per include root, before
// execution starts).
func (c *Collector) AddTotals(files, bytes int64) {
	c.filesTotal.Add(files)
	c.bytesTotal.Add(bytes)
}

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	FilesPulled  int64
	FilesLinked  int64
	FilesCopied  int64
	FilesDeleted int64
	FilesSkipped int64
	FilesFailed  int64
	DirsCreated  int64
	BytesPulled  int64
	FilesTotal   int64
	BytesTotal   int64
	Elapsed      time.Duration
}

// Snapshot returns a point-in-time read of all counters. Each counter is
// loaded separately, so concurrent updates may land between two loads.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		FilesPulled:  c.filesPulled.Load(),
		FilesLinked:  c.filesLinked.Load(),
		FilesCopied:  c.filesCopied.Load(),
		FilesDeleted: c.filesDeleted.Load(),
		FilesSkipped: c.filesSkipped.Load(),
		FilesFailed:  c.filesFailed.Load(),
		DirsCreated:  c.dirsCreated.Load(),
		BytesPulled:  c.bytesPulled.Load(),
		FilesTotal:   c.filesTotal.Load(),
		BytesTotal:   c.bytesTotal.Load(),
		Elapsed:      c.Elapsed(),
	}
}

// Tick snapshots the byte delta into the ring buffer. Called 1/sec by the
// presenter.
func (c *Collector) Tick() {
	current := c.bytesPulled.Load()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.throughput[c.ringIdx] = current - c.lastBytes
	c.lastBytes = current
	c.ringIdx = (c.ringIdx + 1) % ringSize
	if c.ringCount < ringSize {
		c.ringCount++
	}
}

// RollingSpeed returns average bytes/sec over the last n seconds of samples.
func (c *Collector) RollingSpeed(seconds int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := seconds
	if count > c.ringCount {
		count = c.ringCount
	}
	if count == 0 {
		return 0
	}
	var sum int64
	for i := range count {
		idx := (c.ringIdx - 1 - i + ringSize) % ringSize
		sum += c.throughput[idx]
	}
	return float64(sum) / float64(count)
}

// ETA estimates remaining time based on rolling speed and remaining bytes.
func (c *Collector) ETA() time.Duration {
	speed := c.RollingSpeed(10)
	if speed <= 0 {
		return 0
	}
	remaining := c.bytesTotal.Load() - c.bytesPulled.Load()
	if remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining)/speed) * time.Second
}

// Elapsed returns time since collector creation.
func (c *Collector) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"pulled=%d linked=%d copied=%d deleted=%d skipped=%d failed=%d bytes=%d",
		s.FilesPulled, s.FilesLinked, s.FilesCopied, s.FilesDeleted,
		s.FilesSkipped, s.FilesFailed, s.BytesPulled,
	)
}

// FormatBytes returns a human-readable byte count.
func FormatBytes(b int64) string {
	if b < 0 {
		b = 0
	}
	return humanize.IBytes(uint64(b))
}
