package stages

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ygrebnov/stages/pool"
)

// stage binds a unit to its input and output pools and to the worker
// instances currently running it. Fields other than live are guarded by the
// owning pipeline's mutex and by mu, and only change while no instance runs.
type stage[T any] struct {
	mu sync.Mutex

	id        int
	unit      Unit[T]
	args      Args
	instances int

	in   *pool.BufferPool[T]
	out  *pool.BufferPool[T]
	tail bool

	deleted bool
	running bool
	group   *errgroup.Group
	live    atomic.Int32
}

// StageInfo is a point-in-time description of a stage.
type StageInfo struct {
	ID        int
	Position  int
	Instances int
	Live      int
	Tail      bool
	Deleted   bool
	Running   bool
	Input     string
	Output    string
}

func (st *stage[T]) info(pos int) StageInfo {
	return StageInfo{
		ID:        st.id,
		Position:  pos,
		Instances: st.instances,
		Live:      int(st.live.Load()),
		Tail:      st.tail,
		Deleted:   st.deleted,
		Running:   st.running,
		Input:     st.in.Name(),
		Output:    st.out.Name(),
	}
}

// unitFor returns the unit of instance i: the prototype for instance 0,
// a clone otherwise. Units that cannot be cloned are shared.
func (st *stage[T]) unitFor(i int, log *zap.Logger) Unit[T] {
	if i == 0 {
		return st.unit
	}
	c, ok := st.unit.Clone()
	if !ok || c == nil {
		log.Warn("sharing unit between instances",
			zap.Int("stage", st.id),
			zap.Int("instance", i),
			zap.Error(ErrCloneUnsupported),
		)
		return st.unit
	}
	return c
}

// spawn starts st.instances workers and waits until each has run Start.
// If any Start fails, the instances already running are stopped and the
// failures are returned. The caller holds st.mu.
func (st *stage[T]) spawn(p *Pipeline[T]) error {
	log := p.log.With(zap.Int("stage", st.id))
	started := make(chan error, st.instances)
	g := new(errgroup.Group)

	for i := 0; i < st.instances; i++ {
		w := newWorker(p, st, i, st.unitFor(i, log))
		st.live.Add(1)
		p.m.live.Add(1)
		g.Go(func() error {
			defer func() {
				st.live.Add(-1)
				p.m.live.Add(-1)
			}()
			return w.run(started)
		})
	}

	st.group = g
	st.running = true

	var errs []error
	for i := 0; i < st.instances; i++ {
		if err := <-started; err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		_ = st.stop()
		err := fmt.Errorf("%w: %w", ErrUnitStart, errors.Join(errs...))
		log.Error("stage start failed", zap.Error(err))
		return err
	}

	log.Debug("stage running", zap.Int("instances", st.instances))
	return nil
}

// stop sends one shutdown signal per live instance, waits for all of them to
// exit and drops signals left over by instances that exited on their own.
// Buffers queued on the input pool stay there. The caller holds st.mu.
func (st *stage[T]) stop() error {
	if !st.running {
		return nil
	}
	n := int(st.live.Load())
	for i := 0; i < n; i++ {
		st.in.PushShutdown()
	}
	err := st.group.Wait()
	st.in.ClearShutdown()
	st.group = nil
	st.running = false
	return err
}

func stagePoolName(pipeline string, id int) string {
	return pipeline + "/stage-" + strconv.Itoa(id)
}

func stageLabel(id int) string { return strconv.Itoa(id) }
