package units

import (
	"context"

	"go.uber.org/zap"

	"github.com/ygrebnov/stages"
	"github.com/ygrebnov/stages/pool"
)

// SubPipeline runs every buffer through a nested one-stage pipeline before
// handing it on. Each instance owns its nested pipeline: it is built and run
// by Start over a single-slot pool and closed by Stop.
type SubPipeline struct {
	inner     func() stages.Unit[Item]
	instances int
	log       *zap.Logger

	head *pool.BufferPool[Item]
	pipe *stages.Pipeline[Item]
}

// NewSubPipeline returns a unit running a fresh unit from inner with the
// given number of instances for every buffer.
func NewSubPipeline(inner func() stages.Unit[Item], instances int, log *zap.Logger) *SubPipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &SubPipeline{inner: inner, instances: instances, log: log}
}

func (s *SubPipeline) Start(stages.Args) error {
	head, err := pool.New[Item](1, pool.WithName("sub"), pool.WithLogger(s.log))
	if err != nil {
		return err
	}
	pipe, err := stages.New(s.inner(), head, s.instances, stages.WithName("sub"), stages.WithLogger(s.log))
	if err != nil {
		return err
	}
	if _, err := pipe.Run(context.Background()); err != nil {
		_ = pipe.Close()
		return err
	}
	s.head, s.pipe = head, pipe
	return nil
}

func (s *SubPipeline) Process(_ context.Context, v Item) error {
	s.head.PushOutput(v)
	if err := s.pipe.WaitFinish(); err != nil {
		return err
	}
	_, err := s.head.PopInput()
	return err
}

func (s *SubPipeline) Stop() {
	if s.pipe != nil {
		_ = s.pipe.Close()
		s.pipe, s.head = nil, nil
	}
}

func (s *SubPipeline) Clone() (stages.Unit[Item], bool) {
	return NewSubPipeline(s.inner, s.instances, s.log), true
}
