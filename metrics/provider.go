// Package metrics defines the instrument surface used by pipelines and buffer
// pools to report what they do. Implementations must be safe for concurrent use.
package metrics

// Instrument names recorded by this module.
const (
	ItemsProcessed  = "stages_items_processed_total"
	ItemsFailed     = "stages_items_failed_total"
	ErrorsDropped   = "stages_errors_dropped_total"
	InstancesLive   = "stages_instances_live"
	ProcessSeconds  = "stages_process_seconds"
	PoolPushes      = "stages_pool_pushes_total"
	PoolPops        = "stages_pool_pops_total"
	PoolRejected    = "stages_pool_rejected_total"
	PoolInputDepth  = "stages_pool_input_depth"
	PoolOutputDepth = "stages_pool_output_depth"
)

// Provider constructs instruments. Asking twice for the same name returns the same instrument.
type Provider interface {
	Counter(name string, opts ...InstrumentOption) Counter
	UpDownCounter(name string, opts ...InstrumentOption) UpDownCounter
	Histogram(name string, opts ...InstrumentOption) Histogram
}

// Counter records monotonic counts.
type Counter interface {
	Add(n int64)
}

// UpDownCounter records a value that moves both ways, e.g. queue depth.
type UpDownCounter interface {
	Add(n int64)
}

// Histogram records a distribution of measurements, e.g. durations in seconds.
type Histogram interface {
	Record(v float64)
}

// InstrumentConfig carries advisory instrument metadata.
type InstrumentConfig struct {
	Description string
	Unit        string
	// Attributes are constant labels of the instrument. Keep cardinality bounded.
	Attributes map[string]string
}

// InstrumentOption mutates InstrumentConfig.
type InstrumentOption func(*InstrumentConfig)

// WithDescription sets the help text of the instrument.
func WithDescription(desc string) InstrumentOption {
	return func(c *InstrumentConfig) { c.Description = desc }
}

// WithUnit sets the unit of the instrument (e.g. "1", "seconds").
func WithUnit(unit string) InstrumentOption {
	return func(c *InstrumentConfig) { c.Unit = unit }
}

// WithAttributes attaches constant labels to the instrument.
func WithAttributes(attrs map[string]string) InstrumentOption {
	return func(c *InstrumentConfig) {
		if len(attrs) == 0 {
			return
		}
		if c.Attributes == nil {
			c.Attributes = make(map[string]string, len(attrs))
		}
		for k, v := range attrs {
			c.Attributes[k] = v
		}
	}
}

func applyOptions(opts []InstrumentOption) InstrumentConfig {
	var cfg InstrumentConfig
	for _, o := range opts {
		if o != nil {
			o(&cfg)
		}
	}
	return cfg
}
