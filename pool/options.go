package pool

import (
	"go.uber.org/zap"

	"github.com/ygrebnov/stages/metrics"
)

type config struct {
	name    string
	logger  *zap.Logger
	metrics metrics.Provider
}

func defaultConfig() config {
	return config{
		name:    "pool",
		logger:  zap.NewNop(),
		metrics: metrics.NewNoopProvider(),
	}
}

// Option configures a BufferPool.
type Option func(*config)

// WithName sets the pool name used in log fields and metric attributes.
func WithName(name string) Option {
	return func(c *config) {
		if name != "" {
			c.name = name
		}
	}
}

// WithLogger enables debug logging of pushes and pops. A nil logger is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the provider for pool counters and depth gauges.
// A nil provider is ignored.
func WithMetrics(p metrics.Provider) Option {
	return func(c *config) {
		if p != nil {
			c.metrics = p
		}
	}
}
