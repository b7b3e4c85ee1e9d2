// Package profiler tracks operation timings and process resource usage.
package profiler

import (
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultMaxSamples is the sliding window used for averages.
const DefaultMaxSamples = 100

// OperationStats summarizes the timings of one operation.
type OperationStats struct {
	Name  string
	Count int64
	// Avg is computed over the last window of samples; Min and Max over all of them.
	Avg  time.Duration
	Min  time.Duration
	Max  time.Duration
	Last time.Duration
}

// TimeTracker tracks operation timing statistics.
type TimeTracker struct {
	name      string
	durations []time.Duration
	totalTime time.Duration
	minTime   time.Duration
	maxTime   time.Duration
	count     int64
}

func (t *TimeTracker) stats() OperationStats {
	s := OperationStats{Name: t.name, Count: t.count, Min: t.minTime, Max: t.maxTime}
	if n := len(t.durations); n > 0 {
		s.Avg = t.totalTime / time.Duration(n)
		s.Last = t.durations[n-1]
	}
	return s
}

// Profiler records operation timings. It is safe for concurrent use.
type Profiler struct {
	mu             sync.Mutex
	clock          clock.Clock
	maxSamples     int
	startTime      time.Time
	operationTimes map[string]*TimeTracker
}

// New creates a profiler. A nil clock uses wall time; maxSamples <= 0 uses DefaultMaxSamples.
func New(c clock.Clock, maxSamples int) *Profiler {
	if c == nil {
		c = clock.New()
	}
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	return &Profiler{
		clock:          c,
		maxSamples:     maxSamples,
		startTime:      c.Now(),
		operationTimes: make(map[string]*TimeTracker),
	}
}

// StartOperation begins timing an operation.
//
// Arguments:
//   - name: The name of the operation to track.
//
// Returns:
//   - func() time.Duration: Call it when the operation completes; it records and returns the duration.
func (p *Profiler) StartOperation(name string) func() time.Duration {
	start := p.clock.Now()
	return func() time.Duration {
		d := p.clock.Since(start)
		p.Record(name, d)
		return d
	}
}

// Record adds one sample for name.
func (p *Profiler) Record(name string, duration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, exists := p.operationTimes[name]
	if !exists {
		tracker = &TimeTracker{
			name:    name,
			minTime: duration,
			maxTime: duration,
		}
		p.operationTimes[name] = tracker
	}

	tracker.durations = append(tracker.durations, duration)
	if len(tracker.durations) > p.maxSamples {
		tracker.totalTime -= tracker.durations[0]
		tracker.durations = tracker.durations[1:]
	}

	tracker.totalTime += duration
	tracker.count++

	if duration < tracker.minTime {
		tracker.minTime = duration
	}
	if duration > tracker.maxTime {
		tracker.maxTime = duration
	}
}

// Operation returns the stats of one operation.
func (p *Profiler) Operation(name string) (OperationStats, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.operationTimes[name]
	if !ok {
		return OperationStats{}, false
	}
	return t.stats(), true
}

// Operations returns the stats of every operation, sorted by name.
func (p *Profiler) Operations() []OperationStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]OperationStats, 0, len(p.operationTimes))
	for _, t := range p.operationTimes {
		out = append(out, t.stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RuntimeStats is a snapshot of process resource usage.
type RuntimeStats struct {
	Uptime     time.Duration
	Goroutines int
	CgoCalls   int64
	HeapAlloc  uint64
	Sys        uint64
	GCCycles   uint32
}

// Runtime returns the current process resource usage.
func (p *Profiler) Runtime() RuntimeStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return RuntimeStats{
		Uptime:     p.clock.Since(p.startTime),
		Goroutines: runtime.NumGoroutine(),
		CgoCalls:   runtime.NumCgoCall(),
		HeapAlloc:  m.HeapAlloc,
		Sys:        m.Sys,
		GCCycles:   m.NumGC,
	}
}
