// Package stats accumulates per-backend call statistics: request count,
// error count, running-average latency and the last error. State is
// O(1) per backend and monotonically updated; it is never reset during
// the process lifetime.
package stats

import (
	"sync"
	"time"
)

// Record is a point-in-time copy of one backend's statistics.
type Record struct {
	Backend        string        `json:"backend"`
	RequestCount   int64         `json:"requestCount"`
	ErrorCount     int64         `json:"errorCount"`
	AverageLatency time.Duration `json:"averageLatency"`
	LastError      string        `json:"lastError,omitempty"`
	LastErrorAt    time.Time     `json:"lastErrorAt,omitempty"`
}

// backendStats is the mutable accumulator for one backend. Each backend
// has its own lock so unrelated backends never contend.
type backendStats struct {
	mu          sync.Mutex
	requests    int64
	errors      int64
	avgLatency  time.Duration
	lastError   string
	lastErrorAt time.Time
}

// Collector accumulates call statistics for a fixed set of backends
// resolved once at startup.
type Collector struct {
	backends map[string]*backendStats
}

// NewCollector creates a collector for the given backend names.
func NewCollector(names []string) *Collector {
	backends := make(map[string]*backendStats, len(names))
	for _, name := range names {
		backends[name] = &backendStats{}
	}
	return &Collector{backends: backends}
}

// Record accumulates one completed call. A nil err counts as success.
// Unknown backends are ignored; the dispatcher only records names it
// resolved at startup.
func (c *Collector) Record(backend string, latency time.Duration, err error) {
	bs, ok := c.backends[backend]
	if !ok {
		return
	}

	bs.mu.Lock()
	bs.requests++
	// Running average: avg = (avg*(n-1) + latency) / n.
	bs.avgLatency += (latency - bs.avgLatency) / time.Duration(bs.requests)
	if err != nil {
		bs.errors++
		bs.lastError = err.Error()
		bs.lastErrorAt = time.Now()
	}
	bs.mu.Unlock()

	recordCall(backend, latency, err)
}

// Snapshot returns a copy of one backend's statistics. The second
// return value is false for unknown backends.
func (c *Collector) Snapshot(backend string) (Record, bool) {
	bs, ok := c.backends[backend]
	if !ok {
		return Record{}, false
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()

	return Record{
		Backend:        backend,
		RequestCount:   bs.requests,
		ErrorCount:     bs.errors,
		AverageLatency: bs.avgLatency,
		LastError:      bs.lastError,
		LastErrorAt:    bs.lastErrorAt,
	}, true
}

// SnapshotAll returns copies for every backend.
func (c *Collector) SnapshotAll() []Record {
	records := make([]Record, 0, len(c.backends))
	for name := range c.backends {
		if r, ok := c.Snapshot(name); ok {
			records = append(records, r)
		}
	}
	return records
}
