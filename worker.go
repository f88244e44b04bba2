package stages

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ygrebnov/stages/metrics"
	"github.com/ygrebnov/stages/pool"
)

// worker is one running instance of a stage. Its wiring is captured at spawn
// time; a topology change stops the instance and spawns a new one.
type worker[T any] struct {
	p        *Pipeline[T]
	stageID  int
	instance int
	unit     Unit[T]
	args     Args

	in   *pool.BufferPool[T]
	out  *pool.BufferPool[T]
	tail bool

	log       *zap.Logger
	processed metrics.Counter
	failed    metrics.Counter
	latency   metrics.Histogram
}

func newWorker[T any](p *Pipeline[T], st *stage[T], instance int, u Unit[T]) *worker[T] {
	attrs := metrics.WithAttributes(map[string]string{
		"pipeline": p.cfg.Name,
		"stage":    stageLabel(st.id),
	})
	return &worker[T]{
		p:         p,
		stageID:   st.id,
		instance:  instance,
		unit:      u,
		args:      st.args,
		in:        st.in,
		out:       st.out,
		tail:      st.tail,
		log:       p.log.With(zap.Int("stage", st.id), zap.Int("instance", instance)),
		processed: p.cfg.Metrics.Counter(metrics.ItemsProcessed, attrs),
		failed:    p.cfg.Metrics.Counter(metrics.ItemsFailed, attrs),
		latency:   p.cfg.Metrics.Histogram(metrics.ProcessSeconds, metrics.WithUnit("seconds"), attrs),
	}
}

// run starts the unit, reports the outcome on started and then moves buffers
// from the input pool to the output pool until a shutdown signal arrives.
// A null handle ends the instance with an error.
func (w *worker[T]) run(started chan<- error) error {
	if err := start(w.unit, w.args); err != nil {
		started <- w.tag(err)
		return nil
	}
	started <- nil
	defer w.stopUnit()

	for {
		v, err := w.in.PopOutput()
		if errors.Is(err, pool.ErrShutdown) {
			w.log.Debug("shutdown received")
			return nil
		}
		if err != nil {
			err = w.tag(err)
			w.log.Error("worker exiting", zap.Error(err))
			w.p.report(err)
			return err
		}

		begin := time.Now()
		if err := process(w.p.ctx, w.unit, v); err != nil {
			w.failed.Add(1)
			w.p.report(w.tag(err))
		}
		end := time.Now()
		w.processed.Add(1)
		w.latency.Record(end.Sub(begin).Seconds())
		if w.p.prof != nil {
			w.p.prof.record(w.stageID, w.instance, begin, end)
		}

		if w.tail {
			w.out.PushInput(v)
		} else {
			w.out.PushOutput(v)
		}
	}
}

func (w *worker[T]) stopUnit() {
	defer func() {
		if ePanic := recover(); ePanic != nil {
			w.log.Error("unit stop panicked", zap.Any("panic", ePanic))
		}
	}()
	w.unit.Stop()
}

func (w *worker[T]) tag(err error) error {
	return newStageTaggedError(err, w.stageID, w.instance)
}
