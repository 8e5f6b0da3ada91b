// Package progress aggregates the weighted fetch and compile contributions
// of the three pipeline models into one load percentage.
package progress

import (
	"math"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"sdturbo/internal/registry"
)

var loadProgress = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "sdturbo",
	Subsystem: "load",
	Name:      "progress_percent",
	Help:      "Pipeline load progress in percent",
})

func init() {
	prometheus.MustRegister(loadProgress)
}

// Stage is the part of a model load a contribution belongs to.
type Stage int

const (
	Fetch Stage = iota
	Compile
)

func (s Stage) String() string {
	if s == Compile {
		return "compile"
	}
	return "fetch"
}

func (s Stage) weight(k registry.Kind) float64 {
	if s == Compile {
		return k.CompileWeight()
	}
	return k.FetchWeight()
}

// State holds the six contributions. It is a value; reducers return a new
// State and never modify the receiver.
type State struct {
	parts [2][3]float64
	done  bool
}

// With returns s with the (k, stage) contribution raised to v. v is clamped
// to [0, weight] and a contribution never decreases.
func (s State) With(k registry.Kind, stage Stage, v float64) State {
	w := stage.weight(k)
	if math.IsNaN(v) || v < 0 {
		v = 0
	}
	if v > w {
		v = w
	}
	if v > s.parts[stage][k] {
		s.parts[stage][k] = v
	}
	return s
}

// WithRatio records a fraction in [0,1] of the (k, stage) weight.
func (s State) WithRatio(k registry.Kind, stage Stage, ratio float64) State {
	return s.With(k, stage, ratio*stage.weight(k))
}

// Done returns s marked complete; Total reports 100 from then on.
func (s State) Done() State {
	s.done = true
	return s
}

// Part is a single contribution.
func (s State) Part(k registry.Kind, stage Stage) float64 { return s.parts[stage][k] }

// Total sums the contributions, clamped to [0,100].
func (s State) Total() float64 {
	if s.done {
		return 100
	}
	var sum float64
	for _, row := range s.parts {
		for _, v := range row {
			sum += v
		}
	}
	return math.Min(math.Max(sum, 0), 100)
}

// Update is published to subscribers after every change.
type Update struct {
	Kind  registry.Kind
	Stage Stage
	Part  float64
	Total float64
	Done  bool
}

// Tracker owns the live State of one pipeline and publishes every change.
type Tracker struct {
	mu     sync.Mutex
	state  State
	subs   map[int]func(Update)
	nextID int
}

func NewTracker() *Tracker { return &Tracker{subs: make(map[int]func(Update))} }

// Subscribe registers fn for future updates. Callbacks run synchronously on
// the updating goroutine, in no particular order, and must not call back into
// the Tracker. The returned func unsubscribes.
func (t *Tracker) Subscribe(fn func(Update)) (cancel func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Total is the current percentage.
func (t *Tracker) Total() float64 { return t.Snapshot().Total() }

// Report records a fraction of the (k, stage) weight.
func (t *Tracker) Report(k registry.Kind, stage Stage, ratio float64) {
	t.apply(Update{Kind: k, Stage: stage}, func(s State) State { return s.WithRatio(k, stage, ratio) })
}

// Set records an absolute contribution in percentage points.
func (t *Tracker) Set(k registry.Kind, stage Stage, v float64) {
	t.apply(Update{Kind: k, Stage: stage}, func(s State) State { return s.With(k, stage, v) })
}

// Finish marks the load complete.
func (t *Tracker) Finish() {
	t.apply(Update{Done: true}, State.Done)
}

// Reset clears all contributions for a new load.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.state = State{}
	t.mu.Unlock()
	loadProgress.Set(0)
}

func (t *Tracker) apply(u Update, reduce func(State) State) {
	t.mu.Lock()
	t.state = reduce(t.state)
	if !u.Done {
		u.Part = t.state.Part(u.Kind, u.Stage)
	}
	u.Total = t.state.Total()
	subs := make([]func(Update), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	t.mu.Unlock()

	loadProgress.Set(u.Total)
	for _, fn := range subs {
		fn(u)
	}
}
