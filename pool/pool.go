// Package pool provides BufferPool, a fixed set of buffers circulating between
// two bounded FIFO queues. The input queue holds buffers ready to be filled,
// the output queue holds buffers ready to be consumed.
package pool

import (
	"strconv"

	"github.com/ygrebnov/errorc"
	"go.uber.org/zap"

	"github.com/ygrebnov/stages/metrics"
	"github.com/ygrebnov/stages/semaphore"
)

// BufferPool is a dual-queue buffer pool of capacity N. Each queue has its own
// mutex and counting semaphore, so producers and consumers of different
// queues never contend. Methods are safe for concurrent use.
type BufferPool[T any] struct {
	capacity int
	size     int
	cfg      config

	in  *queue[T]
	out *queue[T]

	pushes   metrics.Counter
	pops     metrics.Counter
	rejected metrics.Counter
}

// New creates an empty pool with both queues of the given capacity.
func New[T any](capacity int, opts ...Option) (*BufferPool[T], error) {
	if capacity < 1 {
		return nil, errorc.With(ErrBadSizing, errorc.String("capacity", strconv.Itoa(capacity)))
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	attrs := metrics.WithAttributes(map[string]string{"pool": cfg.name})
	semLogger := cfg.logger.Named("semaphore")

	return &BufferPool[T]{
		capacity: capacity,
		cfg:      cfg,
		in: newQueue[T](
			capacity,
			semaphore.New(0, semaphore.WithLogger(semLogger), semaphore.WithName(cfg.name+"/in")),
			cfg.metrics.UpDownCounter(metrics.PoolInputDepth, attrs),
		),
		out: newQueue[T](
			capacity,
			semaphore.New(0, semaphore.WithLogger(semLogger), semaphore.WithName(cfg.name+"/out")),
			cfg.metrics.UpDownCounter(metrics.PoolOutputDepth, attrs),
		),
		pushes:   cfg.metrics.Counter(metrics.PoolPushes, attrs),
		pops:     cfg.metrics.Counter(metrics.PoolPops, attrs),
		rejected: cfg.metrics.Counter(metrics.PoolRejected, attrs),
	}, nil
}

// Name returns the pool name.
func (p *BufferPool[T]) Name() string { return p.cfg.name }

// Capacity returns N, the number of slots of each queue.
func (p *BufferPool[T]) Capacity() int { return p.capacity }

// BufferSize returns the size of buffers allocated by NewBytes, 0 otherwise.
func (p *BufferPool[T]) BufferSize() int { return p.size }

// InCount returns the number of buffers in the input queue.
func (p *BufferPool[T]) InCount() int { return p.in.len() }

// OutCount returns the number of buffers in the output queue.
func (p *BufferPool[T]) OutCount() int { return p.out.len() }

// PushInput enqueues v on the input queue. It returns true while the queue is
// still below capacity after the push. A push into a full queue is rejected
// and returns false.
func (p *BufferPool[T]) PushInput(v T) bool { return p.push(p.in, "in", v) }

// PushOutput enqueues v on the output queue. See PushInput for the result.
func (p *BufferPool[T]) PushOutput(v T) bool { return p.push(p.out, "out", v) }

// PopInput blocks until the input queue is non-empty and dequeues its oldest buffer.
func (p *BufferPool[T]) PopInput() (T, error) { return p.pop(p.in, "in") }

// PopOutput blocks until the output queue holds a buffer or a shutdown signal.
// A pending shutdown signal is returned as ErrShutdown ahead of queued buffers.
func (p *BufferPool[T]) PopOutput() (T, error) { return p.pop(p.out, "out") }

func (p *BufferPool[T]) push(q *queue[T], side string, v T) bool {
	notFull, stored := q.push(v)
	if !stored {
		p.rejected.Add(1)
		p.cfg.logger.Warn("push rejected, queue full",
			zap.String("pool", p.cfg.name),
			zap.String("queue", side),
		)
		return false
	}
	p.pushes.Add(1)
	if ce := p.cfg.logger.Check(zap.DebugLevel, "push"); ce != nil {
		ce.Write(zap.String("pool", p.cfg.name), zap.String("queue", side), zap.Bool("not_full", notFull))
	}
	return notFull
}

func (p *BufferPool[T]) pop(q *queue[T], side string) (T, error) {
	v, err := q.pop()
	switch err {
	case nil:
		p.pops.Add(1)
		if ce := p.cfg.logger.Check(zap.DebugLevel, "pop"); ce != nil {
			ce.Write(zap.String("pool", p.cfg.name), zap.String("queue", side))
		}
	case ErrNullHandle:
		p.pops.Add(1)
		err = errorc.With(err, errorc.String("pool", p.cfg.name+"/"+side))
	}
	return v, err
}

// PushShutdown queues one shutdown signal on the output queue. Signals do not
// occupy slots and are served before buffers.
func (p *BufferPool[T]) PushShutdown() {
	p.out.pushShutdown()
	if ce := p.cfg.logger.Check(zap.DebugLevel, "shutdown signal"); ce != nil {
		ce.Write(zap.String("pool", p.cfg.name))
	}
}

// ClearShutdown discards shutdown signals nobody consumed and returns how many
// were dropped. It must not run concurrently with PopOutput.
func (p *BufferPool[T]) ClearShutdown() int { return p.out.clearShutdown() }

// Load pushes v to the output queue and moves the oldest output buffer to the
// input queue. On an empty pool this places v on the input side.
func (p *BufferPool[T]) Load(v T) {
	p.PushOutput(v)
	if u, err := p.PopOutput(); err == nil {
		p.PushInput(u)
	}
}

// WaitUntilDrained blocks until every buffer is back on the input queue.
// It does not take buffers or permits. It returns the error passed to
// Interrupt if the pool was interrupted.
func (p *BufferPool[T]) WaitUntilDrained() error {
	return p.in.waitFull()
}

// Interrupt releases WaitUntilDrained callers with err. Only the first call
// has effect; later waits return the same error immediately.
func (p *BufferPool[T]) Interrupt(err error) {
	if err == nil {
		err = ErrInterrupted
	}
	p.in.interrupt(err)
}

// Drain empties both queues and hands every non-nil buffer to release, which
// may be nil. It returns the number of buffers removed. Drain must not run
// while buffers are in flight.
func (p *BufferPool[T]) Drain(release func(T)) int {
	items := append(p.out.drain(), p.in.drain()...)
	n := 0
	for _, v := range items {
		n++
		if release != nil && !isNil(v) {
			release(v)
		}
	}
	return n
}
