package metrics

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
)

// BasicProvider keeps instruments in memory. It is used by tests and by the
// profiling report when no external metrics backend is configured.
type BasicProvider struct {
	counters   registry[*BasicCounter]
	updowns    registry[*BasicUpDownCounter]
	histograms registry[*BasicHistogram]
}

// NewBasicProvider constructs an empty BasicProvider.
func NewBasicProvider() *BasicProvider {
	return &BasicProvider{
		counters:   newRegistry(func() *BasicCounter { return &BasicCounter{} }),
		updowns:    newRegistry(func() *BasicUpDownCounter { return &BasicUpDownCounter{} }),
		histograms: newRegistry(func() *BasicHistogram { return &BasicHistogram{min: math.Inf(1), max: math.Inf(-1)} }),
	}
}

// Counter returns the counter registered under name, creating it on first use.
func (p *BasicProvider) Counter(name string, opts ...InstrumentOption) Counter {
	return p.counters.get(name, opts)
}

// UpDownCounter returns the up/down counter registered under name.
func (p *BasicProvider) UpDownCounter(name string, opts ...InstrumentOption) UpDownCounter {
	return p.updowns.get(name, opts)
}

// Histogram returns the histogram registered under name.
func (p *BasicProvider) Histogram(name string, opts ...InstrumentOption) Histogram {
	return p.histograms.get(name, opts)
}

// Snapshot is a point-in-time copy of every instrument of a BasicProvider.
type Snapshot struct {
	Counters   map[string]int64
	UpDowns    map[string]int64
	Histograms map[string]HistSnapshot
}

// Snapshot copies the current value of every instrument.
func (p *BasicProvider) Snapshot() Snapshot {
	s := Snapshot{
		Counters:   make(map[string]int64),
		UpDowns:    make(map[string]int64),
		Histograms: make(map[string]HistSnapshot),
	}
	p.counters.each(func(name string, c *BasicCounter) { s.Counters[name] = c.Snapshot() })
	p.updowns.each(func(name string, u *BasicUpDownCounter) { s.UpDowns[name] = u.Snapshot() })
	p.histograms.each(func(name string, h *BasicHistogram) { s.Histograms[name] = h.Snapshot() })
	return s
}

// Describe returns the metadata an instrument was created with.
func (p *BasicProvider) Describe(name string) (InstrumentConfig, bool) {
	for _, m := range []func(string) (InstrumentConfig, bool){p.counters.meta, p.updowns.meta, p.histograms.meta} {
		if cfg, ok := m(name); ok {
			return cfg, true
		}
	}
	return InstrumentConfig{}, false
}

// registry maps instrument names to lazily created instruments of one kind.
type registry[I any] struct {
	mu    *sync.RWMutex
	items map[string]I
	cfgs  map[string]InstrumentConfig
	newFn func() I
}

func newRegistry[I any](newFn func() I) registry[I] {
	return registry[I]{
		mu:    &sync.RWMutex{},
		items: make(map[string]I),
		cfgs:  make(map[string]InstrumentConfig),
		newFn: newFn,
	}
}

func (r registry[I]) get(name string, opts []InstrumentOption) I {
	r.mu.RLock()
	it, ok := r.items[name]
	r.mu.RUnlock()
	if ok {
		return it
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// re-check after acquiring write lock
	if it, ok = r.items[name]; ok {
		return it
	}
	it = r.newFn()
	r.items[name] = it
	r.cfgs[name] = applyOptions(opts)
	return it
}

func (r registry[I]) meta(name string) (InstrumentConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.cfgs[name]
	return cfg, ok
}

// each visits instruments in name order.
func (r registry[I]) each(fn func(string, I)) {
	r.mu.RLock()
	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	for _, name := range names {
		r.mu.RLock()
		it := r.items[name]
		r.mu.RUnlock()
		fn(name, it)
	}
}

// BasicCounter is a monotonic counter.
type BasicCounter struct{ val atomic.Int64 }

// Add increments the counter by n.
func (c *BasicCounter) Add(n int64) { c.val.Add(n) }

// Snapshot returns the current value.
func (c *BasicCounter) Snapshot() int64 { return c.val.Load() }

// BasicUpDownCounter is a counter that can go down.
type BasicUpDownCounter struct{ val atomic.Int64 }

// Add adds n, positive or negative.
func (u *BasicUpDownCounter) Add(n int64) { u.val.Add(n) }

// Snapshot returns the current value.
func (u *BasicUpDownCounter) Snapshot() int64 { return u.val.Load() }

// BasicHistogram tracks count, sum, min and max. It keeps no buckets.
type BasicHistogram struct {
	mu    sync.Mutex
	count int64
	sum   float64
	min   float64
	max   float64
}

// Record adds one measurement.
func (h *BasicHistogram) Record(v float64) {
	h.mu.Lock()
	h.count++
	h.sum += v
	h.min = math.Min(h.min, v)
	h.max = math.Max(h.max, v)
	h.mu.Unlock()
}

// HistSnapshot is an immutable copy of a BasicHistogram.
type HistSnapshot struct {
	Count int64
	Sum   float64
	Min   float64
	Max   float64
	Mean  float64
}

// Snapshot returns the histogram state. Min and Max are zero for an empty histogram.
func (h *BasicHistogram) Snapshot() HistSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return HistSnapshot{}
	}
	return HistSnapshot{
		Count: h.count,
		Sum:   h.sum,
		Min:   h.min,
		Max:   h.max,
		Mean:  h.sum / float64(h.count),
	}
}
