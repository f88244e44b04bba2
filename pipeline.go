package stages

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/ygrebnov/errorc"
	"go.uber.org/zap"

	"github.com/ygrebnov/stages/metrics"
	"github.com/ygrebnov/stages/pool"
)

type state int

const (
	stateCreated state = iota
	stateRunning
	stateClosed
)

// Pipeline is an ordered chain of stages closed into a loop: stage 0 reads
// the head pool's output queue, each stage feeds the next through an
// intermediate pool, and the tail stage returns buffers to the head pool's
// input queue. Methods are safe for concurrent use.
type Pipeline[T any] struct {
	// noCopy prevents accidental copying of the pipeline.
	//go:nocopy
	nc noCopy

	id   string
	cfg  *config
	head *pool.BufferPool[T]
	log  *zap.Logger

	// mu guards the stage list, stage wiring and state.
	mu     sync.Mutex
	stages []*stage[T]
	nextID int
	state  state

	ctx context.Context

	// workers report into reports; the forwarder delivers to errors.
	reports     chan error
	errors      chan error
	closeCh     chan struct{}
	forwarderWG sync.WaitGroup
	closeOnce   sync.Once

	fatalMu sync.Mutex
	fatal   error

	prof *profiler
	m    pipelineMetrics
}

type pipelineMetrics struct {
	live    metrics.UpDownCounter
	dropped metrics.Counter
}

// noCopy is a vet-recognized marker to discourage copying types with this field embedded.
// It works with the "-copylocks" analyzer via the presence of Lock/Unlock methods.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// New creates a pipeline with one stage running first over head. The head
// pool is owned by the caller; it must outlive the pipeline and must not be
// shared with another pipeline.
func New[T any](first Unit[T], head *pool.BufferPool[T], instances int, opts ...Option) (*Pipeline[T], error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	if head == nil {
		return nil, errorc.With(ErrInvalidConfig, errorc.String("", "head pool is required"))
	}
	if err := validateUnit(first, instances); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	p := &Pipeline[T]{
		id:      id,
		cfg:     &cfg,
		head:    head,
		log:     cfg.Logger.With(zap.String("pipeline", cfg.Name), zap.String("pipeline_id", id)),
		reports: make(chan error, cfg.ReportsBufferSize),
		errors:  make(chan error, cfg.ErrorsBufferSize),
		closeCh: make(chan struct{}),
		ctx:     context.Background(),
	}

	attrs := metrics.WithAttributes(map[string]string{"pipeline": cfg.Name})
	p.m = pipelineMetrics{
		live:    cfg.Metrics.UpDownCounter(metrics.InstancesLive, attrs),
		dropped: cfg.Metrics.Counter(metrics.ErrorsDropped, attrs),
	}
	if cfg.Profiling {
		p.prof = newProfiler()
	}

	p.stages = []*stage[T]{{
		id:        0,
		unit:      first,
		args:      cfg.FirstArgs,
		instances: instances,
		in:        head,
		out:       head,
		tail:      true,
	}}
	p.nextID = 1
	return p, nil
}

func validateUnit[T any](u Unit[T], instances int) error {
	if u == nil {
		return errorc.With(ErrInvalidConfig, errorc.String("", "unit is required"))
	}
	if instances < 1 {
		return errorc.With(ErrInvalidConfig, errorc.String("", "instances must be > 0"))
	}
	return nil
}

// ID returns the unique id of the pipeline.
func (p *Pipeline[T]) ID() string { return p.id }

// Head returns the head pool.
func (p *Pipeline[T]) Head() *pool.BufferPool[T] { return p.head }

// AddUnit appends a stage running u with the given number of instances.
// The previous tail stage now writes into a new intermediate pool read by u,
// and u's stage writes back into the head pool. Units cannot be added once the
// pipeline runs; see Dynamic for that.
func (p *Pipeline[T]) AddUnit(u Unit[T], instances int, args ...Arg) error {
	if err := validateUnit(u, instances); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != stateCreated {
		return errorc.With(ErrInvalidState, errorc.String("", "units can only be added before Run"))
	}
	return p.insertLocked(len(p.stages), u, instances, args)
}

// AddUnitf is AddUnit with start arguments given as a format string and
// values, see ParseArgs.
func (p *Pipeline[T]) AddUnitf(u Unit[T], instances int, format string, values ...any) error {
	args, err := ParseArgs(format, values...)
	if err != nil {
		return err
	}
	return p.AddUnit(u, instances, args...)
}

// Run starts every stage in order and returns the total number of worker
// instances started. It returns after every instance has run Unit.Start.
// If a Start fails, the instances started so far are stopped and the error
// is returned; the pipeline must then be closed.
//
// ctx is passed to Unit.Process. Cancelling it does not stop the workers; use Close.
func (p *Pipeline[T]) Run(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != stateCreated {
		return 0, errorc.With(ErrInvalidState, errorc.String("", "pipeline already started"))
	}
	if ctx != nil {
		p.ctx = ctx
	}
	p.state = stateRunning
	p.startErrorForwarder()

	total := 0
	for i, st := range p.stages {
		st.mu.Lock()
		err := st.spawn(p)
		st.mu.Unlock()
		if err != nil {
			for _, prev := range p.stages[:i] {
				prev.mu.Lock()
				_ = prev.stop()
				prev.mu.Unlock()
			}
			return 0, err
		}
		total += st.instances
	}

	p.log.Info("pipeline running", zap.Int("stages", len(p.stages)), zap.Int("instances", total))
	return total, nil
}

// startErrorForwarder launches the goroutine moving worker reports to Errors().
func (p *Pipeline[T]) startErrorForwarder() {
	p.forwarderWG.Add(1)
	ef := newErrorForwarder(p.reports, p.errors, p.closeCh, p.fail, func(err error) {
		p.m.dropped.Add(1)
		p.log.Debug("error dropped, errors channel saturated", zap.Error(err))
	})
	go func() {
		defer p.forwarderWG.Done()
		ef.run()
	}()
}

// report hands err to the error forwarder.
func (p *Pipeline[T]) report(err error) {
	p.reports <- err
}

// fail marks the pipeline as failed and releases WaitFinish callers.
func (p *Pipeline[T]) fail(err error) {
	p.fatalMu.Lock()
	first := p.fatal == nil
	if first {
		p.fatal = err
	}
	p.fatalMu.Unlock()

	if first {
		p.log.Error("pipeline failed", zap.Error(err))
		p.head.Interrupt(err)
	}
}

// Err returns the error that failed the pipeline, if any.
func (p *Pipeline[T]) Err() error {
	p.fatalMu.Lock()
	defer p.fatalMu.Unlock()
	return p.fatal
}

// WaitFinish blocks until every buffer of the head pool is back in its input
// queue. It is a level condition: with buffers never sent into the pipeline
// it returns at once. It returns the pipeline failure if there was one, and
// ErrClosed when the pipeline was closed while waiting.
func (p *Pipeline[T]) WaitFinish() error {
	err := p.head.WaitUntilDrained()
	if fatal := p.Err(); fatal != nil {
		return fatal
	}
	return err
}

// Errors returns the channel receiving errors returned by units and worker
// failures, tagged with stage id and instance. Delivery never blocks workers:
// errors arriving while the channel is full are dropped. The channel is
// closed by Close.
func (p *Pipeline[T]) Errors() <-chan error { return p.errors }

// Stages returns a snapshot of the stages in pipeline order.
func (p *Pipeline[T]) Stages() []StageInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]StageInfo, 0, len(p.stages))
	for i, st := range p.stages {
		out = append(out, st.info(i))
	}
	return out
}

// Close stops every stage from head to tail, waits for all worker instances
// to exit and closes Errors(). Buffers stay wherever they were queued.
// Close is idempotent and returns the pipeline failure, if any.
func (p *Pipeline[T]) Close() error {
	p.closeOnce.Do(func() {
		lc := newLifecycleCoordinator(
			p.stopAll,
			p.closeCh,
			&p.forwarderWG,
			func() { p.head.Interrupt(ErrClosed) },
			func() { close(p.errors) },
		)
		lc.Close()
		p.log.Info("pipeline closed")
	})
	return p.Err()
}

func (p *Pipeline[T]) stopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = stateClosed
	for _, st := range p.stages {
		st.mu.Lock()
		_ = st.stop()
		st.mu.Unlock()
	}
}

// insertLocked places a new stage before position pos; pos == len(stages)
// appends a new tail. When the pipeline runs, the neighbour whose wiring
// changes is stopped and respawned and the new stage is spawned. Buffers
// already queued at the old boundary skip the new stage. If either stage
// fails to start, the previous topology is restored. The caller holds p.mu.
func (p *Pipeline[T]) insertLocked(pos int, u Unit[T], instances int, args Args) error {
	id := p.nextID
	q, err := pool.New[T](p.head.Capacity(), p.cfg.poolOptions(stagePoolName(p.cfg.Name, id))...)
	if err != nil {
		return err
	}
	p.nextID++

	ns := &stage[T]{id: id, unit: u, args: args, instances: instances}
	var (
		nb          *stage[T]
		apply, undo func()
		reroute     func(T)
	)
	if pos == 0 {
		nb = p.stages[0]
		ns.in, ns.out, ns.tail = p.head, q, false
		apply = func() { nb.in = q }
		undo = func() { nb.in = p.head }
		reroute = func(v T) { p.head.PushOutput(v) }
	} else {
		nb = p.stages[pos-1]
		out, tail := nb.out, nb.tail
		ns.in, ns.out, ns.tail = q, out, tail
		apply = func() { nb.out, nb.tail = q, false }
		undo = func() { nb.out, nb.tail = out, tail }
		reroute = func(v T) {
			if tail {
				out.PushInput(v)
			} else {
				out.PushOutput(v)
			}
		}
	}

	if err := p.splice(nb, ns, q, apply, undo, reroute); err != nil {
		return err
	}

	p.stages = append(p.stages, nil)
	copy(p.stages[pos+1:], p.stages[pos:])
	p.stages[pos] = ns
	p.log.Info("stage added", zap.Int("stage", id), zap.Int("position", pos), zap.Int("instances", instances))
	return nil
}

// splice rewires nb through apply so that ns and its pool q sit next to it.
// When the pipeline runs, nb is stopped first and both stages are then
// spawned. On a start failure ns is stopped, buffers left in q go to reroute,
// undo restores nb's wiring and nb is respawned. The caller holds p.mu.
func (p *Pipeline[T]) splice(nb, ns *stage[T], q *pool.BufferPool[T], apply, undo func(), reroute func(T)) error {
	nb.mu.Lock()
	defer nb.mu.Unlock()
	if p.state != stateRunning {
		apply()
		return nil
	}

	_ = nb.stop()
	apply()

	ns.mu.Lock()
	defer ns.mu.Unlock()
	err := ns.spawn(p)
	if err == nil {
		if err = nb.spawn(p); err == nil {
			return nil
		}
		_ = ns.stop()
	}

	q.Drain(reroute)
	undo()
	p.log.Warn("stage insert rolled back", zap.Int("stage", ns.id), zap.Error(err))
	p.respawn(nb)
	return err
}

// rewire stops st when the pipeline runs, applies change and respawns st so
// every instance re-runs Start with the new wiring. If the respawn fails,
// undo restores st and it is respawned once more. The caller holds p.mu.
func (p *Pipeline[T]) rewire(st *stage[T], change, undo func()) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	_ = st.stop()
	change()
	if p.state != stateRunning {
		return nil
	}
	err := st.spawn(p)
	if err == nil {
		return nil
	}
	undo()
	p.log.Warn("stage change rolled back", zap.Int("stage", st.id), zap.Error(err))
	p.respawn(st)
	return err
}

// respawn restarts a stage after a rolled back change. A stage that cannot
// be restarted leaves the loop broken, so the pipeline fails. The caller
// holds st.mu.
func (p *Pipeline[T]) respawn(st *stage[T]) {
	if err := st.spawn(p); err != nil {
		p.fail(err)
	}
}
