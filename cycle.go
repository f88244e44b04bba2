package stages

import (
	"github.com/ygrebnov/errorc"
)

// Cycle sends every buffer of the head pool through the pipeline once.
// It takes the head's buffers from its input queue as they become available,
// passes each to refill (which may be nil) and pushes the result to the output
// queue, then waits until all of them are back.
//
// Cycle blocks until the head pool has held all of its buffers once, so every
// buffer must have been loaded and no other goroutine may take from the input
// queue meanwhile. A failed pipeline returns its failure instead of taking
// buffers.
func (p *Pipeline[T]) Cycle(refill func(T) T) error {
	if err := p.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	st := p.state
	p.mu.Unlock()
	if st != stateRunning {
		return errorc.With(ErrInvalidState, errorc.String("", "Cycle requires a running pipeline"))
	}

	for i := 0; i < p.head.Capacity(); i++ {
		if err := p.Err(); err != nil {
			return err
		}
		v, err := p.head.PopInput()
		if err != nil {
			p.fail(err)
			return err
		}
		if refill != nil {
			v = refill(v)
		}
		p.head.PushOutput(v)
	}
	return p.WaitFinish()
}
