// Package stats tracks storage operation counters and store latency
// percentiles. Latency uses a DDSketch so the percentiles stay accurate
// at a fixed memory cost regardless of how long the process runs.
package stats

import (
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// Tracker accumulates per-type counters and store latency.
type Tracker struct {
	mu sync.Mutex

	enabled bool
	sketch  *ddsketch.DDSketch

	stored    map[string]int64
	retrieved map[string]int64
	dropped   map[string]int64
}

// Snapshot is a point-in-time view of the tracker.
type Snapshot struct {
	Stored    map[string]int64
	Retrieved map[string]int64
	Dropped   map[string]int64

	// Store latency percentiles in microseconds. Zero when latency
	// tracking is disabled or nothing was recorded yet.
	LatencyP50 float64
	LatencyP95 float64
	LatencyP99 float64
	LatencyMax float64
}

// New creates a tracker. Accuracy is the sketch relative accuracy;
// enabled false skips latency recording entirely.
func New(enabled bool, accuracy float64) (*Tracker, error) {
	t := &Tracker{
		enabled:   enabled,
		stored:    make(map[string]int64),
		retrieved: make(map[string]int64),
		dropped:   make(map[string]int64),
	}

	if enabled {
		sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
		if err != nil {
			return nil, err
		}
		t.sketch = sketch
	}

	return t, nil
}

// RecordStore counts one stored record and its store latency.
func (t *Tracker) RecordStore(typeName string, elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stored[typeName]++
	if t.enabled {
		t.sketch.Add(float64(elapsed.Microseconds()))
	}
}

// RecordRetrieve counts one retrieved record.
func (t *Tracker) RecordRetrieve(typeName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.retrieved[typeName]++
}

// RecordDrop counts one record rejected or lost before storage.
func (t *Tracker) RecordDrop(typeName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropped[typeName]++
}

// Snapshot returns a copy of the current counters and percentiles.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{
		Stored:    make(map[string]int64, len(t.stored)),
		Retrieved: make(map[string]int64, len(t.retrieved)),
		Dropped:   make(map[string]int64, len(t.dropped)),
	}
	for k, v := range t.stored {
		snap.Stored[k] = v
	}
	for k, v := range t.retrieved {
		snap.Retrieved[k] = v
	}
	for k, v := range t.dropped {
		snap.Dropped[k] = v
	}

	if t.enabled && t.sketch.GetCount() > 0 {
		snap.LatencyP50, _ = t.sketch.GetValueAtQuantile(0.50)
		snap.LatencyP95, _ = t.sketch.GetValueAtQuantile(0.95)
		snap.LatencyP99, _ = t.sketch.GetValueAtQuantile(0.99)
		snap.LatencyMax, _ = t.sketch.GetMaxValue()
	}

	return snap
}

// Reset clears counters and the latency sketch.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stored = make(map[string]int64)
	t.retrieved = make(map[string]int64)
	t.dropped = make(map[string]int64)
	if t.enabled {
		t.sketch.Clear()
	}
}
