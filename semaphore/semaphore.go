// Package semaphore provides a counting semaphore with blocking Wait and
// non-blocking Signal. It is the blocking primitive behind every queue of the
// pool package.
package semaphore

import (
	"sync"

	"go.uber.org/zap"
)

// Semaphore is a counting semaphore. The zero value is not usable; use New.
// Methods are safe for concurrent use.
type Semaphore struct {
	mu    sync.Mutex
	cond  *sync.Cond
	count int

	name   string
	logger *zap.Logger
}

// Option configures a Semaphore.
type Option func(*Semaphore)

// WithLogger enables debug logging of semaphore transitions.
func WithLogger(l *zap.Logger) Option {
	return func(s *Semaphore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithName labels log entries produced by the semaphore.
func WithName(name string) Option {
	return func(s *Semaphore) { s.name = name }
}

// New returns a semaphore holding initial permits. Negative values are treated as zero.
func New(initial int, opts ...Option) *Semaphore {
	if initial < 0 {
		initial = 0
	}
	s := &Semaphore{count: initial, logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Wait blocks until a permit is available and takes it.
func (s *Semaphore) Wait() {
	s.mu.Lock()
	if s.count == 0 && s.logger.Core().Enabled(zap.DebugLevel) {
		s.logger.Debug("semaphore blocked", zap.String("semaphore", s.name))
	}
	for s.count == 0 {
		s.cond.Wait()
	}
	s.count--
	left := s.count
	s.mu.Unlock()

	s.logger.Debug("semaphore passed", zap.String("semaphore", s.name), zap.Int("count", left))
}

// Signal releases one permit and wakes a single waiter, if any.
func (s *Semaphore) Signal() {
	s.mu.Lock()
	s.count++
	now := s.count
	s.mu.Unlock()
	s.cond.Signal()

	s.logger.Debug("semaphore signal", zap.String("semaphore", s.name), zap.Int("count", now))
}

// Count returns the number of available permits. It is meant for diagnostics:
// the value may be stale by the time the caller looks at it.
func (s *Semaphore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
