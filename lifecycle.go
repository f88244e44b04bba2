package stages

import (
	"sync"
)

// lifecycleCoordinator encapsulates the shutdown sequence of a Pipeline.
// It is a wiring helper: it doesn't own channels or stages; it orchestrates
// stopping, waits and channel closure in a deterministic order.
//
// Close() is safe for concurrent calls; the sequence executes exactly once.
type lifecycleCoordinator struct {
	stopStages  func()
	closeCh     chan struct{}
	forwarderWG *sync.WaitGroup
	release     func()
	closeErrors func()

	once sync.Once
}

func newLifecycleCoordinator(
	stopStages func(),
	closeCh chan struct{},
	forwarderWG *sync.WaitGroup,
	release func(),
	closeErrors func(),
) *lifecycleCoordinator {
	return &lifecycleCoordinator{
		stopStages:  stopStages,
		closeCh:     closeCh,
		forwarderWG: forwarderWG,
		release:     release,
		closeErrors: closeErrors,
	}
}

// Close executes the shutdown sequence exactly once:
// 1) stop every stage from head to tail, joining all worker instances
// 2) close closeCh so the error forwarder flushes and exits
// 3) wait for the forwarder
// 4) release goroutines blocked waiting for the pipeline to drain
// 5) close the outward errors channel
func (lc *lifecycleCoordinator) Close() {
	lc.once.Do(func() {
		if lc.stopStages != nil {
			lc.stopStages()
		}
		if lc.closeCh != nil {
			close(lc.closeCh)
		}
		if lc.forwarderWG != nil {
			lc.forwarderWG.Wait()
		}
		if lc.release != nil {
			lc.release()
		}
		if lc.closeErrors != nil {
			lc.closeErrors()
		}
	})
}
