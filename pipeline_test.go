package stages

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ygrebnov/stages/metrics"
	"github.com/ygrebnov/stages/pool"
)

type item = *Envelope[int]

// counters is shared by a probe and all of its clones.
type counters struct {
	starts    atomic.Int32
	stops     atomic.Int32
	processed atomic.Int32
}

// probe adds delta to every payload and counts lifecycle calls.
type probe struct {
	delta     int
	cloneable bool
	delay     time.Duration
	c         *counters
}

func newProbe(delta int) *probe {
	return &probe{delta: delta, cloneable: true, c: &counters{}}
}

func (p *probe) Start(Args) error { p.c.starts.Add(1); return nil }

func (p *probe) Process(_ context.Context, v item) error {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	v.SetPayload(v.Payload() + p.delta)
	p.c.processed.Add(1)
	return nil
}

func (p *probe) Stop() { p.c.stops.Add(1) }

func (p *probe) Clone() (Unit[item], bool) {
	if !p.cloneable {
		return nil, false
	}
	c := *p
	return &c, true
}

func seedHead(t *testing.T, values ...int) *pool.BufferPool[item] {
	t.Helper()
	head, err := pool.New[item](len(values), pool.WithName("head"))
	require.NoError(t, err)
	for i, v := range values {
		e := NewEnvelope(v)
		e.SetIndex(i)
		head.Load(e)
	}
	return head
}

func drainPayloads(head *pool.BufferPool[item]) map[int]int {
	out := map[int]int{}
	head.Drain(func(e item) { out[e.Index()] = e.Payload() })
	return out
}

func within(t *testing.T, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() { fn(); close(done) }()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("did not finish within %s", d)
	}
}

func TestNew_Validation(t *testing.T) {
	head := seedHead(t, 0)
	u := newProbe(1)

	_, err := New[item](nil, head, 1)
	require.ErrorIs(t, err, ErrInvalidConfig)
	_, err = New[item](u, nil, 1)
	require.ErrorIs(t, err, ErrInvalidConfig)
	_, err = New[item](u, head, 0)
	require.ErrorIs(t, err, ErrInvalidConfig)

	p, err := New[item](u, head, 2)
	require.NoError(t, err)
	info := p.Stages()
	require.Len(t, info, 1)
	require.True(t, info[0].Tail)
	require.Equal(t, "head", info[0].Input)
	require.Equal(t, "head", info[0].Output)
	require.Equal(t, 2, info[0].Instances)
}

func TestAddUnit_Wiring(t *testing.T) {
	head := seedHead(t, 0, 0)
	p, err := New[item](newProbe(1), head, 1, WithName("w"))
	require.NoError(t, err)
	require.NoError(t, p.AddUnit(newProbe(2), 1))
	require.NoError(t, p.AddUnit(newProbe(3), 1))

	info := p.Stages()
	require.Len(t, info, 3)
	require.Equal(t, []int{0, 1, 2}, []int{info[0].ID, info[1].ID, info[2].ID})

	require.Equal(t, "head", info[0].Input)
	require.Equal(t, "w/stage-1", info[0].Output)
	require.False(t, info[0].Tail)

	require.Equal(t, "w/stage-1", info[1].Input)
	require.Equal(t, "w/stage-2", info[1].Output)
	require.False(t, info[1].Tail)

	require.Equal(t, "w/stage-2", info[2].Input)
	require.Equal(t, "head", info[2].Output)
	require.True(t, info[2].Tail)

	require.ErrorIs(t, p.AddUnit(nil, 1), ErrInvalidConfig)
	require.ErrorIs(t, p.AddUnit(newProbe(1), 0), ErrInvalidConfig)
	require.ErrorIs(t, p.AddUnitf(newProbe(1), 1, "x", 1), ErrBadArgumentFormat)
	require.Len(t, p.Stages(), 3, "rejected units leave the pipeline unchanged")
}

func TestRun_StartsEveryInstanceAndCloseJoins(t *testing.T) {
	head := seedHead(t, 0, 0, 0)
	a, b := newProbe(1), newProbe(1)
	mp := metrics.NewBasicProvider()

	p, err := New[item](a, head, 3, WithMetrics(mp))
	require.NoError(t, err)
	require.NoError(t, p.AddUnit(b, 2))

	n, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, int32(3), a.c.starts.Load())
	require.Equal(t, int32(2), b.c.starts.Load())
	require.Equal(t, int64(5), mp.Snapshot().UpDowns[metrics.InstancesLive])

	_, err = p.Run(context.Background())
	require.ErrorIs(t, err, ErrInvalidState)
	require.ErrorIs(t, p.AddUnit(newProbe(1), 1), ErrInvalidState)

	require.NoError(t, p.Cycle(nil))
	require.Equal(t, int64(6), mp.Snapshot().Counters[metrics.ItemsProcessed])

	within(t, 2*time.Second, func() { require.NoError(t, p.Close()) })
	require.Equal(t, int32(3), a.c.stops.Load())
	require.Equal(t, int32(2), b.c.stops.Load())
	require.Equal(t, int64(0), mp.Snapshot().UpDowns[metrics.InstancesLive])
	for _, st := range p.Stages() {
		require.Zero(t, st.Live)
		require.False(t, st.Running)
	}

	_, open := <-p.Errors()
	require.False(t, open, "errors channel closed")
	require.NoError(t, p.Close(), "Close is idempotent")
	require.ErrorIs(t, p.Cycle(nil), ErrInvalidState)
}

func TestRun_UncloneableUnitShared(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	head := seedHead(t, 0, 0, 0, 0)
	u := newProbe(1)
	u.cloneable = false

	p, err := New[item](u, head, 3, WithLogger(zap.New(core)))
	require.NoError(t, err)
	_, err = p.Run(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.Cycle(nil))
	require.NoError(t, p.Close())

	require.Equal(t, 2, logs.FilterMessage("sharing unit between instances").Len())
	require.Equal(t, int32(3), u.c.starts.Load(), "shared unit starts once per instance")
	for _, v := range drainPayloads(head) {
		require.Equal(t, 1, v)
	}
}

func TestRun_StartFailureStopsStartedInstances(t *testing.T) {
	head := seedHead(t, 0)
	ok := newProbe(1)
	boom := errors.New("boom")
	var failing atomic.Int32
	bad := &startFailer{err: boom, attempts: &failing}

	p, err := New[item](ok, head, 2)
	require.NoError(t, err)
	require.NoError(t, p.AddUnit(bad, 2))

	_, err = p.Run(context.Background())
	require.ErrorIs(t, err, ErrUnitStart)
	require.ErrorIs(t, err, boom)
	id, found := ExtractStageID(err)
	require.True(t, found)
	require.Equal(t, 1, id)

	require.Equal(t, int32(2), ok.c.starts.Load())
	require.Equal(t, int32(2), ok.c.stops.Load(), "started instances are stopped again")
	require.Equal(t, int32(2), failing.Load())
	require.NoError(t, p.Close())
}

type startFailer struct {
	err      error
	attempts *atomic.Int32
}

func (s *startFailer) Start(Args) error                    { s.attempts.Add(1); return s.err }
func (s *startFailer) Process(context.Context, item) error { return nil }
func (s *startFailer) Stop()                               {}
func (s *startFailer) Clone() (Unit[item], bool)           { return s, true }

func TestProcessErrors_TaggedAndBufferMovesOn(t *testing.T) {
	head := seedHead(t, 0, 0)
	boom := errors.New("boom")
	failing := UnitFunc(func(_ context.Context, v item) error {
		v.SetPayload(v.Payload() + 1)
		return boom
	})
	panicking := UnitFunc(func(_ context.Context, v item) error {
		panic("kaboom")
	})

	p, err := New[item](failing, head, 1)
	require.NoError(t, err)
	require.NoError(t, p.AddUnit(panicking, 1))
	require.NoError(t, p.AddUnit(newProbe(10), 1))
	_, err = p.Run(context.Background())
	require.NoError(t, err)

	within(t, 2*time.Second, func() { require.NoError(t, p.Cycle(nil)) })
	require.NoError(t, p.Close())

	var plain, panics int
	for e := range p.Errors() {
		stageID, ok := ExtractStageID(e)
		require.True(t, ok)
		_, ok = ExtractInstance(e)
		require.True(t, ok)
		switch {
		case errors.Is(e, boom):
			require.Equal(t, 0, stageID)
			plain++
		case errors.Is(e, ErrUnitPanicked):
			require.Equal(t, 1, stageID)
			panics++
		default:
			t.Fatalf("unexpected error: %v", e)
		}
	}
	require.Equal(t, 2, plain)
	require.Equal(t, 2, panics)
	require.NoError(t, p.Err())

	for _, v := range drainPayloads(head) {
		require.Equal(t, 11, v)
	}
}

func TestNullHandle_FailsPipeline(t *testing.T) {
	head, err := pool.New[item](2)
	require.NoError(t, err)
	head.Load(NewEnvelope(0))
	head.Load(NewEnvelope(0))

	p, err := New[item](newProbe(1), head, 1)
	require.NoError(t, err)
	_, err = p.Run(context.Background())
	require.NoError(t, err)

	// a null handle reaches the first stage's worker
	_, err = head.PopInput()
	require.NoError(t, err)
	head.PushOutput(nil)

	within(t, 2*time.Second, func() {
		err = p.WaitFinish()
	})
	require.ErrorIs(t, err, ErrNullHandle)
	require.ErrorIs(t, p.Err(), ErrNullHandle)
	require.Eventually(t, func() bool { return p.Stages()[0].Live == 0 }, time.Second, 5*time.Millisecond, "worker exited")

	within(t, 2*time.Second, func() { require.ErrorIs(t, p.Close(), ErrNullHandle) })

	var seen bool
	for e := range p.Errors() {
		if errors.Is(e, ErrNullHandle) {
			seen = true
			id, _ := ExtractStageID(e)
			require.Equal(t, 0, id)
		}
	}
	require.True(t, seen)
}

func TestWaitFinish_ReleasedByClose(t *testing.T) {
	head := seedHead(t, 0, 0)
	p, err := New[item](newProbe(0), head, 1)
	require.NoError(t, err)
	_, err = p.Run(context.Background())
	require.NoError(t, err)

	// hold one buffer outside the pool so the pipeline never drains
	_, err = head.PopInput()
	require.NoError(t, err)

	res := make(chan error, 1)
	go func() { res <- p.WaitFinish() }()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.Close())

	select {
	case err := <-res:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("WaitFinish not released by Close")
	}
}

func TestClose_BeforeRun(t *testing.T) {
	head := seedHead(t, 0)
	p, err := New[item](newProbe(1), head, 1)
	require.NoError(t, err)
	require.NoError(t, p.Close())
	_, err = p.Run(context.Background())
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestCycle_Refill(t *testing.T) {
	head := seedHead(t, 1, 2, 3)
	p, err := New[item](newProbe(1), head, 2)
	require.NoError(t, err)
	_, err = p.Run(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.Cycle(func(e item) item {
		e.SetPayload(e.Payload() * 10)
		return e
	}))
	require.NoError(t, p.Close())
	require.Equal(t, map[int]int{0: 11, 1: 21, 2: 31}, drainPayloads(head))
}

func TestProcess_ReceivesRunContext(t *testing.T) {
	type ctxKey struct{}
	head := seedHead(t, 0)
	var got atomic.Value
	u := UnitFunc(func(ctx context.Context, _ item) error {
		got.Store(ctx.Value(ctxKey{}))
		return nil
	})

	p, err := New[item](u, head, 1)
	require.NoError(t, err)
	_, err = p.Run(context.WithValue(context.Background(), ctxKey{}, "v"))
	require.NoError(t, err)
	require.NoError(t, p.Cycle(nil))
	require.NoError(t, p.Close())
	require.Equal(t, "v", got.Load())
}

func TestNew_FirstStageArgs(t *testing.T) {
	head := seedHead(t, 0)
	first := newArgRecorder(1)

	p, err := New[item](first, head, 2, WithFirstArgs(IntArg(3), StringArg("x")))
	require.NoError(t, err)
	_, err = p.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Close())

	want := Args{IntArg(3), StringArg("x")}
	require.Equal(t, []Args{want, want}, *first.seen, "every instance starts with the same arguments")
}

func TestCycle_AfterFailureReturnsError(t *testing.T) {
	head, err := pool.New[item](2)
	require.NoError(t, err)
	head.Load(NewEnvelope(0))
	head.Load(NewEnvelope(0))

	p, err := New[item](newProbe(1), head, 1)
	require.NoError(t, err)
	_, err = p.Run(context.Background())
	require.NoError(t, err)

	_, err = head.PopInput()
	require.NoError(t, err)
	head.PushOutput(nil)
	require.Eventually(t, func() bool { return p.Err() != nil }, time.Second, 5*time.Millisecond)

	within(t, time.Second, func() { require.ErrorIs(t, p.Cycle(nil), ErrNullHandle) })
	require.ErrorIs(t, p.Close(), ErrNullHandle)
}
