package stages

import (
	"errors"
)

// errorForwarder consumes errors reported by workers (in) and delivers them to
// the outward errors channel (out) without blocking: when out is saturated the
// error is handed to onDrop instead. Null handle errors are escalated through
// onFatal before delivery. After closeCh is closed, it forwards whatever is
// still buffered in `in` and exits.
//
// The owner controls lifecycle: errorForwarder does not close any channels.
type errorForwarder struct {
	in      <-chan error
	out     chan<- error
	closeCh <-chan struct{}
	onFatal func(error)
	onDrop  func(error)
}

func newErrorForwarder(
	in <-chan error, out chan<- error, closeCh <-chan struct{}, onFatal, onDrop func(error),
) *errorForwarder {
	return &errorForwarder{in: in, out: out, closeCh: closeCh, onFatal: onFatal, onDrop: onDrop}
}

func (f *errorForwarder) run() {
	for {
		select {
		case e := <-f.in:
			f.forward(e)
		case <-f.closeCh:
			for {
				select {
				case e := <-f.in:
					f.forward(e)
				default:
					return
				}
			}
		}
	}
}

func (f *errorForwarder) forward(e error) {
	if e == nil {
		return
	}
	if errors.Is(e, ErrNullHandle) {
		f.onFatal(e)
	}
	select {
	case f.out <- e:
	default:
		f.onDrop(e)
	}
}
