package metrics

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusProvider exposes instruments as Prometheus collectors registered
// with the given Registerer. Instruments with the same name and different
// attributes become separate series of one metric.
type PrometheusProvider struct {
	reg       prometheus.Registerer
	namespace string

	mu         sync.Mutex
	counters   map[string]Counter
	updowns    map[string]UpDownCounter
	histograms map[string]Histogram
}

// NewPrometheusProvider returns a provider registering collectors with reg.
// A nil reg uses a fresh registry. namespace may be empty.
func NewPrometheusProvider(reg prometheus.Registerer, namespace string) *PrometheusProvider {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &PrometheusProvider{
		reg:        reg,
		namespace:  sanitize(namespace),
		counters:   make(map[string]Counter),
		updowns:    make(map[string]UpDownCounter),
		histograms: make(map[string]Histogram),
	}
}

// Counter returns a counter backed by a prometheus.Counter.
func (p *PrometheusProvider) Counter(name string, opts ...InstrumentOption) Counter {
	cfg := applyOptions(opts)
	key := instrumentKey(name, cfg)
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.counters[key]; ok {
		return c
	}
	pc := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   p.namespace,
		Name:        sanitize(name),
		Help:        help(name, cfg),
		ConstLabels: cfg.Attributes,
	})
	c := promCounter{register(p.reg, pc).(prometheus.Counter)}
	p.counters[key] = c
	return c
}

// UpDownCounter returns an up/down counter backed by a prometheus.Gauge.
func (p *PrometheusProvider) UpDownCounter(name string, opts ...InstrumentOption) UpDownCounter {
	cfg := applyOptions(opts)
	key := instrumentKey(name, cfg)
	p.mu.Lock()
	defer p.mu.Unlock()
	if u, ok := p.updowns[key]; ok {
		return u
	}
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   p.namespace,
		Name:        sanitize(name),
		Help:        help(name, cfg),
		ConstLabels: cfg.Attributes,
	})
	u := promGauge{register(p.reg, g).(prometheus.Gauge)}
	p.updowns[key] = u
	return u
}

// Histogram returns a histogram backed by a prometheus.Histogram with default buckets.
func (p *PrometheusProvider) Histogram(name string, opts ...InstrumentOption) Histogram {
	cfg := applyOptions(opts)
	key := instrumentKey(name, cfg)
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.histograms[key]; ok {
		return h
	}
	ph := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   p.namespace,
		Name:        sanitize(name),
		Help:        help(name, cfg),
		ConstLabels: cfg.Attributes,
		Buckets:     prometheus.DefBuckets,
	})
	h := promHistogram{register(p.reg, ph).(prometheus.Histogram)}
	p.histograms[key] = h
	return h
}

// register registers c, reusing an already registered identical collector.
// Any other registration failure leaves c unregistered but usable.
func register(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector
		}
	}
	return c
}

// instrumentKey identifies an instrument by name and constant labels.
func instrumentKey(name string, cfg InstrumentConfig) string {
	if len(cfg.Attributes) == 0 {
		return name
	}
	keys := make([]string, 0, len(cfg.Attributes))
	for k := range cfg.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString("|" + k + "=" + cfg.Attributes[k])
	}
	return b.String()
}

func help(name string, cfg InstrumentConfig) string {
	if cfg.Description != "" {
		return cfg.Description
	}
	return name
}

// sanitize maps name onto the Prometheus metric name alphabet.
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == ':':
			return r
		default:
			return '_'
		}
	}, name)
}

type promCounter struct{ c prometheus.Counter }

// Add ignores non-positive deltas; Prometheus counters never decrease.
func (p promCounter) Add(n int64) {
	if n > 0 {
		p.c.Add(float64(n))
	}
}

type promGauge struct{ g prometheus.Gauge }

func (p promGauge) Add(n int64) { p.g.Add(float64(n)) }

type promHistogram struct{ h prometheus.Histogram }

func (p promHistogram) Record(v float64) { p.h.Observe(v) }
