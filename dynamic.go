package stages

import (
	"strconv"

	"github.com/ygrebnov/errorc"
	"go.uber.org/zap"

	"github.com/ygrebnov/stages/pool"
)

// Dynamic is a Pipeline whose topology can change while it runs.
//
// Every change uses the same mechanism: the affected stage is stopped with one
// shutdown signal per live instance (each instance finishes the buffer it holds
// first), its unit or wiring is replaced, and it is spawned again so every new
// instance runs Start. Buffers queued on the stage's input stay queued, so no
// buffer is dropped or processed twice.
type Dynamic[T any] struct {
	*Pipeline[T]
}

// NewDynamic creates a mutable pipeline, see New.
func NewDynamic[T any](first Unit[T], head *pool.BufferPool[T], instances int, opts ...Option) (*Dynamic[T], error) {
	p, err := New(first, head, instances, opts...)
	if err != nil {
		return nil, err
	}
	return &Dynamic[T]{Pipeline: p}, nil
}

// AddUnit appends a new tail stage, before or after Run.
func (d *Dynamic[T]) AddUnit(u Unit[T], instances int, args ...Arg) error {
	if err := validateUnit(u, instances); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkMutable(); err != nil {
		return err
	}
	return d.insertLocked(len(d.stages), u, instances, args)
}

// AddUnitf is AddUnit with start arguments parsed by ParseArgs.
func (d *Dynamic[T]) AddUnitf(u Unit[T], instances int, format string, values ...any) error {
	args, err := ParseArgs(format, values...)
	if err != nil {
		return err
	}
	return d.AddUnit(u, instances, args...)
}

// Len returns the number of stages, deleted ones included.
func (d *Dynamic[T]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.stages)
}

// DeleteStage replaces the unit at pos with a pass-through unit running one
// instance. The stage keeps its place so neighbouring wiring is untouched.
func (d *Dynamic[T]) DeleteStage(pos int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deleteLocked(pos)
}

// FindStage returns the position of the first stage registered with u, or -1.
// Units shared between stages match at their first position.
func (d *Dynamic[T]) FindStage(u Unit[T]) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.findLocked(u)
}

// DeleteUnit deletes the first stage registered with u.
func (d *Dynamic[T]) DeleteUnit(u Unit[T]) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	pos := d.findLocked(u)
	if pos < 0 {
		return ErrStageNotFound
	}
	return d.deleteLocked(pos)
}

// InsertStage places a new stage running u before position pos.
// pos == Len() appends a new tail stage. Buffers already queued between the
// stages at pos-1 and pos when the call happens skip the new stage.
func (d *Dynamic[T]) InsertStage(pos int, u Unit[T], instances int, args ...Arg) error {
	if err := validateUnit(u, instances); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkMutable(); err != nil {
		return err
	}
	if pos < 0 || pos > len(d.stages) {
		return positionError(pos)
	}
	return d.insertLocked(pos, u, instances, args)
}

// SwitchStage replaces the unit at pos with u, keeping the instance count and
// start arguments. A deleted stage switched to a new unit is live again.
func (d *Dynamic[T]) SwitchStage(pos int, u Unit[T]) error {
	if u == nil {
		return errorc.With(ErrInvalidConfig, errorc.String("", "unit is required"))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mutateLocked(pos, "stage switched", func(st *stage[T]) {
		st.unit = u
		st.deleted = false
	})
}

// SwitchUnit replaces the unit of the first stage registered with old by repl.
func (d *Dynamic[T]) SwitchUnit(old, repl Unit[T]) error {
	if repl == nil {
		return errorc.With(ErrInvalidConfig, errorc.String("", "unit is required"))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	pos := d.findLocked(old)
	if pos < 0 {
		return ErrStageNotFound
	}
	return d.mutateLocked(pos, "stage switched", func(st *stage[T]) {
		st.unit = repl
		st.deleted = false
	})
}

// CollapseStage shrinks the stage at pos to a single instance.
func (d *Dynamic[T]) CollapseStage(pos int) error {
	return d.ScaleStage(pos, 1)
}

// ScaleStage changes the number of instances of the stage at pos.
func (d *Dynamic[T]) ScaleStage(pos, instances int) error {
	if instances < 1 {
		return errorc.With(ErrInvalidConfig, errorc.String("", "instances must be > 0"))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mutateLocked(pos, "stage scaled", func(st *stage[T]) {
		st.instances = instances
	})
}

func (d *Dynamic[T]) deleteLocked(pos int) error {
	return d.mutateLocked(pos, "stage deleted", func(st *stage[T]) {
		st.unit = passThrough[T]{}
		st.args = nil
		st.instances = 1
		st.deleted = true
	})
}

func (d *Dynamic[T]) findLocked(u Unit[T]) int {
	for i, st := range d.stages {
		if sameUnit(st.unit, u) {
			return i
		}
	}
	return -1
}

// mutateLocked applies change to the stage at pos between a stop and a
// respawn. If the changed stage fails to start, its previous unit, arguments,
// instance count and deleted flag are restored. The caller holds d.mu.
func (d *Dynamic[T]) mutateLocked(pos int, msg string, change func(*stage[T])) error {
	if err := d.checkMutable(); err != nil {
		return err
	}
	if pos < 0 || pos >= len(d.stages) {
		return positionError(pos)
	}
	st := d.stages[pos]
	unit, args, instances, deleted := st.unit, st.args, st.instances, st.deleted
	restore := func() {
		st.unit, st.args, st.instances, st.deleted = unit, args, instances, deleted
	}
	if err := d.rewire(st, func() { change(st) }, restore); err != nil {
		return err
	}
	d.log.Info(msg, zap.Int("stage", st.id), zap.Int("position", pos), zap.Int("instances", st.instances))
	return nil
}

func (d *Dynamic[T]) checkMutable() error {
	if d.state == stateClosed {
		return ErrClosed
	}
	return nil
}

func positionError(pos int) error {
	return errorc.With(ErrStageNotFound, errorc.String("position", strconv.Itoa(pos)))
}
