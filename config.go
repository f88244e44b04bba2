package stages

import (
	"github.com/ygrebnov/errorc"
	"go.uber.org/zap"

	"github.com/ygrebnov/stages/metrics"
	"github.com/ygrebnov/stages/pool"
)

// config holds Pipeline configuration.
type config struct {
	// Name labels log entries, metric attributes and intermediate pool names.
	// Default: "pipeline".
	Name string

	// Logger receives structured pipeline, stage and pool logs.
	// Default: zap.NewNop().
	Logger *zap.Logger

	// Metrics receives pipeline and intermediate pool instruments.
	// Default: metrics.NoopProvider.
	Metrics metrics.Provider

	// ErrorsBufferSize defines the size of the outgoing errors channel buffer.
	// Errors produced while the buffer is full are dropped.
	// Default: 1024.
	ErrorsBufferSize uint

	// ReportsBufferSize defines the size of the internal channel workers report
	// errors into before they are forwarded.
	// Default: 128.
	ReportsBufferSize uint

	// Profiling enables per-iteration timing samples.
	// Default: false.
	Profiling bool

	// FirstArgs are the start arguments of the stage created by New.
	FirstArgs Args
}

func defaultConfig() config {
	return config{
		Name:              "pipeline",
		Logger:            zap.NewNop(),
		Metrics:           metrics.NewNoopProvider(),
		ErrorsBufferSize:  1024,
		ReportsBufferSize: 128,
		Profiling:         false,
	}
}

func validateConfig(cfg *config) error {
	if cfg.ReportsBufferSize == 0 {
		return errorc.With(ErrInvalidConfig, errorc.String("", "reports buffer must be > 0"))
	}
	return nil
}

// poolOptions returns the options used for intermediate pools.
func (c *config) poolOptions(name string) []pool.Option {
	return []pool.Option{
		pool.WithName(name),
		pool.WithLogger(c.Logger),
		pool.WithMetrics(c.Metrics),
	}
}

// Option configures a Pipeline.
type Option func(*config) error

// WithName sets the pipeline name.
func WithName(name string) Option {
	return func(cfg *config) error {
		if name == "" {
			return errorc.With(ErrInvalidConfig, errorc.String("", "WithName requires a non-empty name"))
		}
		cfg.Name = name
		return nil
	}
}

// WithLogger sets the logger. A nil logger is rejected.
func WithLogger(l *zap.Logger) Option {
	return func(cfg *config) error {
		if l == nil {
			return errorc.With(ErrInvalidConfig, errorc.String("", "WithLogger requires a logger"))
		}
		cfg.Logger = l
		return nil
	}
}

// WithMetrics sets the metrics provider.
func WithMetrics(p metrics.Provider) Option {
	return func(cfg *config) error {
		if p == nil {
			return errorc.With(ErrInvalidConfig, errorc.String("", "WithMetrics requires a provider"))
		}
		cfg.Metrics = p
		return nil
	}
}

// WithErrorsBuffer sets the size of the outgoing errors channel buffer (default 1024).
func WithErrorsBuffer(size uint) Option {
	return func(cfg *config) error { cfg.ErrorsBufferSize = size; return nil }
}

// WithReportsBuffer sets the size of the internal error reports buffer (default 128).
func WithReportsBuffer(size uint) Option {
	return func(cfg *config) error { cfg.ReportsBufferSize = size; return nil }
}

// WithProfiling records a timing sample for every processed buffer.
func WithProfiling() Option {
	return func(cfg *config) error { cfg.Profiling = true; return nil }
}

// WithFirstArgs sets the start arguments of the stage created by New.
func WithFirstArgs(args ...Arg) Option {
	return func(cfg *config) error { cfg.FirstArgs = args; return nil }
}
