// Package stages runs a closed loop of processing stages over a fixed set of
// buffers.
//
// A Pipeline is built around a caller-owned head pool.BufferPool. Stage 0
// takes buffers from the head pool's output queue; every following stage reads
// from an intermediate pool written by its predecessor; the tail stage puts
// buffers back into the head pool's input queue. Each stage runs one Unit in
// one or more worker instances.
//
// Typical use
//
//	head, _ := pool.New[*stages.Envelope[int]](5)
//	for i := 0; i < 5; i++ {
//		head.Load(stages.NewEnvelope(i))
//	}
//	p, _ := stages.New(units.NewAdder(), head, 1)
//	_ = p.AddUnitf(units.NewPrinter(os.Stdout), 1, "")
//	_, _ = p.Run(ctx)
//	_ = p.Cycle(nil) // every buffer makes one trip
//	_ = p.Close()
//
// Defaults
// Unless overridden, the following defaults apply:
//   - Name: "pipeline"
//   - Logger: zap.NewNop()
//   - Metrics: metrics.NoopProvider
//   - ErrorsBufferSize: 1024
//   - ReportsBufferSize: 128
//   - Profiling: false
//
// Errors
// Errors returned by Unit.Process are tagged with stage id and instance
// (ExtractStageID, ExtractInstance) and delivered on Errors(); the buffer moves
// on regardless. A null buffer handle stops the worker that popped it and
// fails the pipeline: WaitFinish, Cycle, Close and Err return the error.
//
// Topology changes
// Dynamic supports deleting, inserting, switching and resizing stages while
// the pipeline runs. See Dynamic.
package stages
