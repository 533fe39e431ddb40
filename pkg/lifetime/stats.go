package lifetime

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Snapshot is a point-in-time copy of the request counters.
type Snapshot struct {
	Total      int64            `json:"total"`
	Processing int64            `json:"processing"`
	Serving    bool             `json:"serving"`
	PerCaller  map[string]int64 `json:"per_caller"`
}

// String renders the snapshot with callers sorted by name.
func (s Snapshot) String() string {
	names := make([]string, 0, len(s.PerCaller))
	for name := range s.PerCaller {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "{Total: %d, NumProcessing: %d, Serving: %t", s.Total, s.Processing, s.Serving)
	for _, name := range names {
		fmt.Fprintf(&b, ", %s: %d", name, s.PerCaller[name])
	}
	b.WriteString("}")
	return b.String()
}

// counters is the state guarded by StatsTable.mu.
type counters struct {
	total      int64
	processing int64
	serving    bool
	perCaller  map[string]int64
}

func (c *counters) snapshot() Snapshot {
	perCaller := make(map[string]int64, len(c.perCaller))
	for k, v := range c.perCaller {
		perCaller[k] = v
	}
	return Snapshot{
		Total:      c.total,
		Processing: c.processing,
		Serving:    c.serving,
		PerCaller:  perCaller,
	}
}

// StatsTable holds the request counters shared by every handler goroutine.
// All reads and writes go through a single mutex; no method blocks or does
// I/O while holding it.
type StatsTable struct {
	mu sync.Mutex
	c  counters
}

// NewStatsTable returns an empty table in the serving state.
func NewStatsTable() *StatsTable {
	return &StatsTable{
		c: counters{
			serving:   true,
			perCaller: make(map[string]int64),
		},
	}
}

// update runs fn with the lock held. Multi-field transitions use it so they
// are observed atomically.
func (t *StatsTable) update(fn func(c *counters)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.c)
}

// IncrementTotal adds one admitted request and returns the new total.
func (t *StatsTable) IncrementTotal() int64 {
	var total int64
	t.update(func(c *counters) {
		c.total++
		total = c.total
	})
	return total
}

// IncrementProcessing marks one more request as in flight.
func (t *StatsTable) IncrementProcessing() {
	t.update(func(c *counters) { c.processing++ })
}

// DecrementProcessing marks one in-flight request as done. It reports false
// and leaves the counter untouched when nothing is in flight.
func (t *StatsTable) DecrementProcessing() bool {
	var ok bool
	t.update(func(c *counters) {
		if c.processing > 0 {
			c.processing--
			ok = true
		}
	})
	return ok
}

// RecordCaller counts one request for the named caller.
func (t *StatsTable) RecordCaller(name string) {
	t.update(func(c *counters) { c.perCaller[name]++ })
}

// MarkNotServing flips the table to not serving. It reports whether this
// call performed the flip; the state never goes back.
func (t *StatsTable) MarkNotServing() bool {
	var flipped bool
	t.update(func(c *counters) {
		if c.serving {
			c.serving = false
			flipped = true
		}
	})
	return flipped
}

// IsServing reports whether new requests are still admitted.
func (t *StatsTable) IsServing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.c.serving
}

// Processing returns the number of in-flight requests.
func (t *StatsTable) Processing() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.c.processing
}

// Snapshot returns a copy of all counters.
func (t *StatsTable) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.c.snapshot()
}
