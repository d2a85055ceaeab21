// Package profiler - Rolling operation timings and runtime statistics.
package profiler

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/nvr-ai/chroma/logging"
)

// DefaultMaxSamples is the rolling window of each operation.
const DefaultMaxSamples = 600

// OperationStats summarizes the samples currently in an operation's window.
type OperationStats struct {
	// Count is the number of samples ever recorded, including evicted ones.
	Count int64         `json:"count"`
	Mean  time.Duration `json:"mean"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	P95   time.Duration `json:"p95"`
}

// RuntimeStats is a snapshot of the Go runtime.
type RuntimeStats struct {
	Uptime     time.Duration `json:"uptime"`
	Goroutines int           `json:"goroutines"`
	CgoCalls   int64         `json:"cgo_calls"`
	HeapAlloc  uint64        `json:"heap_alloc"`
	NumGC      uint32        `json:"num_gc"`
}

// Snapshot is the full state of a Profiler.
type Snapshot struct {
	Runtime    RuntimeStats              `json:"runtime"`
	Operations map[string]OperationStats `json:"operations"`
}

type timeTracker struct {
	durations []time.Duration
	total     time.Duration
	count     int64
}

// Profiler tracks operation timings over a rolling window. The zero value is not usable;
// use New.
type Profiler struct {
	mu         sync.Mutex
	start      time.Time
	maxSamples int
	operations map[string]*timeTracker
	logger     logging.Logger
}

// New creates a profiler.
//
// Arguments:
//   - maxSamples: The rolling window per operation, 0 for DefaultMaxSamples.
//   - logger: The logger reports are written to, nil for none.
//
// Returns:
//   - *Profiler: The profiler.
func New(maxSamples int, logger logging.Logger) *Profiler {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	return &Profiler{
		start:      time.Now(),
		maxSamples: maxSamples,
		operations: make(map[string]*timeTracker),
		logger:     logging.OrNop(logger),
	}
}

// StartOperation begins timing an operation and returns the function that ends it.
func (p *Profiler) StartOperation(name string) func() {
	start := time.Now()
	return func() {
		p.Record(name, time.Since(start))
	}
}

// Record adds one sample to an operation.
func (p *Profiler) Record(name string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.operations[name]
	if !ok {
		t = &timeTracker{durations: make([]time.Duration, 0, p.maxSamples)}
		p.operations[name] = t
	}

	t.durations = append(t.durations, d)
	t.total += d
	if len(t.durations) > p.maxSamples {
		t.total -= t.durations[0]
		t.durations = t.durations[1:]
	}
	t.count++
}

// Operation returns the stats of one operation.
func (p *Profiler) Operation(name string) (OperationStats, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.operations[name]
	if !ok {
		return OperationStats{}, false
	}
	return t.stats(), true
}

// Snapshot returns runtime and operation statistics.
func (p *Profiler) Snapshot() Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	p.mu.Lock()
	defer p.mu.Unlock()

	ops := make(map[string]OperationStats, len(p.operations))
	for name, t := range p.operations {
		ops[name] = t.stats()
	}
	return Snapshot{
		Runtime: RuntimeStats{
			Uptime:     time.Since(p.start),
			Goroutines: runtime.NumGoroutine(),
			CgoCalls:   runtime.NumCgoCall(),
			HeapAlloc:  mem.HeapAlloc,
			NumGC:      mem.NumGC,
		},
		Operations: ops,
	}
}

// Report logs one line per operation and one for the runtime.
func (p *Profiler) Report() {
	s := p.Snapshot()

	names := make([]string, 0, len(s.Operations))
	for name := range s.Operations {
		names = append(names, name)
	}
	sort.Strings(names)

	p.logger.Infow("runtime",
		"uptime", s.Runtime.Uptime.Truncate(time.Millisecond),
		"goroutines", s.Runtime.Goroutines,
		"cgo_calls", s.Runtime.CgoCalls,
		"heap_alloc", s.Runtime.HeapAlloc,
		"gc", s.Runtime.NumGC)
	for _, name := range names {
		op := s.Operations[name]
		p.logger.Infow("operation timing", "operation", name,
			"count", op.Count,
			"mean", op.Mean.Truncate(time.Microsecond),
			"min", op.Min.Truncate(time.Microsecond),
			"max", op.Max.Truncate(time.Microsecond),
			"p95", op.P95.Truncate(time.Microsecond))
	}
}

// Run reports every interval until ctx is done.
func (p *Profiler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Report()
		}
	}
}

func (t *timeTracker) stats() OperationStats {
	n := len(t.durations)
	if n == 0 {
		return OperationStats{Count: t.count}
	}

	sorted := make([]time.Duration, n)
	copy(sorted, t.durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	// Nearest-rank percentile.
	rank := (95*n + 99) / 100
	return OperationStats{
		Count: t.count,
		Mean:  t.total / time.Duration(n),
		Min:   sorted[0],
		Max:   sorted[n-1],
		P95:   sorted[rank-1],
	}
}
