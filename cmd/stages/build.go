package main

import (
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/ygrebnov/stages"
	"github.com/ygrebnov/stages/internal/config"
	"github.com/ygrebnov/stages/metrics"
	"github.com/ygrebnov/stages/pool"
	"github.com/ygrebnov/stages/units"
)

// env is what units and pipelines are built with.
type env struct {
	out       io.Writer
	log       *zap.Logger
	metrics   metrics.Provider
	errBuffer uint
	profile   bool
}

// newUnit returns a fresh unit for a stage definition.
func (e env) newUnit(def config.StageDef) (stages.Unit[units.Item], error) {
	switch def.Unit {
	case config.UnitAdder:
		return units.NewAdder(), nil
	case config.UnitPrinter:
		return units.NewPrinter(e.out), nil
	case config.UnitSleeper:
		return units.NewSleeper(), nil
	case config.UnitIndexer:
		return units.NewIndexer(), nil
	case config.UnitNop:
		return units.Nop{}, nil
	case config.UnitNested:
		inner := config.StageDef{Unit: def.Inner}
		if _, err := e.newUnit(inner); err != nil {
			return nil, err
		}
		return units.NewSubPipeline(func() stages.Unit[units.Item] {
			u, _ := e.newUnit(inner)
			return u
		}, def.InnerInstances, e.log.Named("nested")), nil
	default:
		return nil, fmt.Errorf("%w: unknown unit %q", config.ErrInvalidDefinition, def.Unit)
	}
}

// seedHead creates the head pool and loads buffers 0..n-1, each tagged with
// its id for the indexer.
func (e env) seedHead(name string, n int) (*pool.BufferPool[units.Item], error) {
	head, err := pool.New[units.Item](n,
		pool.WithName(name+"/head"),
		pool.WithLogger(e.log),
		pool.WithMetrics(e.metrics),
	)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		item := stages.NewEnvelope(0)
		item.SetIndex(i)
		item.PushExtra(units.IDKey, i)
		head.Load(item)
	}
	return head, nil
}

// build creates the pipeline described by def over a head pool holding
// buffers buffers. def.Buffers takes precedence when set.
func (e env) build(def *config.PipelineDef, buffers int) (*stages.Pipeline[units.Item], error) {
	if def.Buffers > 0 {
		buffers = def.Buffers
	}
	head, err := e.seedHead(def.Name, buffers)
	if err != nil {
		return nil, err
	}

	us := make([]stages.Unit[units.Item], len(def.Stages))
	args := make([]stages.Args, len(def.Stages))
	for i, sd := range def.Stages {
		if us[i], err = e.newUnit(sd); err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}
		if args[i], err = stages.ParseArgs(sd.Format, sd.Values()...); err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}
	}

	opts := []stages.Option{
		stages.WithName(def.Name),
		stages.WithLogger(e.log),
		stages.WithMetrics(e.metrics),
		stages.WithErrorsBuffer(e.errBuffer),
		stages.WithFirstArgs(args[0]...),
	}
	if e.profile {
		opts = append(opts, stages.WithProfiling())
	}

	var (
		p   *stages.Pipeline[units.Item]
		add func(stages.Unit[units.Item], int, ...stages.Arg) error
	)
	if def.Dynamic {
		d, err := stages.NewDynamic(us[0], head, def.Stages[0].Instances, opts...)
		if err != nil {
			return nil, err
		}
		p, add = d.Pipeline, d.AddUnit
	} else {
		if p, err = stages.New(us[0], head, def.Stages[0].Instances, opts...); err != nil {
			return nil, err
		}
		add = p.AddUnit
	}

	for i := 1; i < len(def.Stages); i++ {
		if err := add(us[i], def.Stages[i].Instances, args[i]...); err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}
	}
	return p, nil
}
