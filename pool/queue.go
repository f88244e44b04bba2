package pool

import (
	"reflect"
	"sync"

	"github.com/ygrebnov/stages/metrics"
	"github.com/ygrebnov/stages/semaphore"
)

// queue is a bounded FIFO circular buffer. Pops block on a counting semaphore
// whose permits always equal queued items plus pending shutdown signals.
// The mutex guards slots, indices and counters and is never held while
// waiting on or signaling the semaphore.
type queue[T any] struct {
	mu    sync.Mutex
	level *sync.Cond // broadcast whenever count changes
	sem   *semaphore.Semaphore

	slots []T
	head  int // next write position
	tail  int // next read position
	count int

	shutdowns   int
	interrupted error

	depth metrics.UpDownCounter
}

func newQueue[T any](capacity int, sem *semaphore.Semaphore, depth metrics.UpDownCounter) *queue[T] {
	q := &queue[T]{
		sem:   sem,
		slots: make([]T, capacity),
		depth: depth,
	}
	q.level = sync.NewCond(&q.mu)
	return q
}

// push appends v. It reports false when v filled the last free slot, and
// rejects v without storing it when the queue was already full.
func (q *queue[T]) push(v T) (notFull, stored bool) {
	q.mu.Lock()
	if q.count == len(q.slots) {
		q.mu.Unlock()
		return false, false
	}
	q.slots[q.head] = v
	q.head = (q.head + 1) % len(q.slots)
	q.count++
	notFull = q.count < len(q.slots)
	q.mu.Unlock()

	q.depth.Add(1)
	q.level.Broadcast()
	q.sem.Signal()
	return notFull, true
}

// pop blocks until an item or a shutdown signal is available.
// Shutdown signals are served before queued items.
func (q *queue[T]) pop() (T, error) {
	var zero T

	q.sem.Wait()

	q.mu.Lock()
	if q.shutdowns > 0 {
		q.shutdowns--
		q.mu.Unlock()
		return zero, ErrShutdown
	}
	if q.count == 0 {
		q.mu.Unlock()
		return zero, ErrNullHandle
	}
	v := q.slots[q.tail]
	q.slots[q.tail] = zero
	q.tail = (q.tail + 1) % len(q.slots)
	q.count--
	q.mu.Unlock()

	q.depth.Add(-1)
	q.level.Broadcast()

	if isNil(v) {
		return zero, ErrNullHandle
	}
	return v, nil
}

func (q *queue[T]) pushShutdown() {
	q.mu.Lock()
	q.shutdowns++
	q.mu.Unlock()
	q.sem.Signal()
}

// clearShutdown drops pending shutdown signals together with their permits.
// No goroutine may be popping from q concurrently.
func (q *queue[T]) clearShutdown() int {
	q.mu.Lock()
	n := q.shutdowns
	q.shutdowns = 0
	q.mu.Unlock()
	for i := 0; i < n; i++ {
		q.sem.Wait()
	}
	return n
}

// waitFull blocks until every slot is occupied or the queue is interrupted.
func (q *queue[T]) waitFull() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.count != len(q.slots) && q.interrupted == nil {
		q.level.Wait()
	}
	return q.interrupted
}

func (q *queue[T]) interrupt(err error) {
	q.mu.Lock()
	if q.interrupted == nil {
		q.interrupted = err
	}
	q.mu.Unlock()
	q.level.Broadcast()
}

func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// drain removes every queued item without touching shutdown signals.
// Permits of removed items are taken so the semaphore stays consistent.
func (q *queue[T]) drain() []T {
	var zero T
	q.mu.Lock()
	items := make([]T, 0, q.count)
	for q.count > 0 {
		items = append(items, q.slots[q.tail])
		q.slots[q.tail] = zero
		q.tail = (q.tail + 1) % len(q.slots)
		q.count--
	}
	q.mu.Unlock()

	for range items {
		q.sem.Wait()
	}
	q.depth.Add(-int64(len(items)))
	q.level.Broadcast()
	return items
}

// isNil reports whether v is a nil handle of a nilable kind.
func isNil[T any](v T) bool {
	a := any(v)
	if a == nil {
		return true
	}
	rv := reflect.ValueOf(a)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface, reflect.UnsafePointer:
		return rv.IsNil()
	default:
		return false
	}
}
