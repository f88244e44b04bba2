package pool

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ygrebnov/stages/metrics"
)

type buf struct{ n int }

func TestNew_BadSizing(t *testing.T) {
	for _, c := range []int{0, -1} {
		p, err := New[*buf](c)
		require.ErrorIs(t, err, ErrBadSizing)
		require.Nil(t, p)
	}
}

func TestPush_HintAndOverflow(t *testing.T) {
	const n = 3
	p, err := New[*buf](n)
	require.NoError(t, err)

	require.True(t, p.PushOutput(&buf{1}))
	require.True(t, p.PushOutput(&buf{2}))
	require.False(t, p.PushOutput(&buf{3}), "push filling the last slot reports full")
	require.False(t, p.PushOutput(&buf{4}), "push into a full queue is rejected")
	require.Equal(t, n, p.OutCount())
	require.Equal(t, 0, p.InCount())

	for want := 1; want <= n; want++ {
		v, err := p.PopOutput()
		require.NoError(t, err)
		require.Equal(t, want, v.n)
	}
	require.Equal(t, 0, p.OutCount())
}

func TestQueues_FIFOWrapAround(t *testing.T) {
	p, err := New[int](2)
	require.NoError(t, err)

	// ints are never null handles, zero included
	for i := 0; i < 10; i++ {
		p.PushInput(i)
		v, err := p.PopInput()
		require.NoError(t, err)
		require.Equal(t, i, v)
	}
}

func TestPop_BlocksUntilPush(t *testing.T) {
	p, err := New[*buf](1)
	require.NoError(t, err)

	got := make(chan *buf, 1)
	go func() {
		v, _ := p.PopInput()
		got <- v
	}()

	select {
	case <-got:
		t.Fatal("pop returned from an empty queue")
	case <-time.After(30 * time.Millisecond):
	}

	p.PushInput(&buf{7})
	select {
	case v := <-got:
		require.Equal(t, 7, v.n)
	case <-time.After(time.Second):
		t.Fatal("pop did not wake after push")
	}
}

func TestPop_NullHandle(t *testing.T) {
	p, err := New[*buf](2)
	require.NoError(t, err)

	require.NotPanics(t, func() { p.PushOutput(nil) })
	v, err := p.PopOutput()
	require.ErrorIs(t, err, ErrNullHandle)
	require.Nil(t, v)
	require.Equal(t, 0, p.OutCount())
}

func TestShutdown_PriorityAndClear(t *testing.T) {
	p, err := New[*buf](2)
	require.NoError(t, err)

	p.PushOutput(&buf{1})
	p.PushShutdown()
	require.Equal(t, 1, p.OutCount(), "signals do not occupy slots")

	_, err = p.PopOutput()
	require.ErrorIs(t, err, ErrShutdown)
	v, err := p.PopOutput()
	require.NoError(t, err)
	require.Equal(t, 1, v.n)

	p.PushShutdown()
	p.PushShutdown()
	require.Equal(t, 2, p.ClearShutdown())
	require.Equal(t, 0, p.ClearShutdown())

	p.PushOutput(&buf{2})
	v, err = p.PopOutput()
	require.NoError(t, err, "cleared signals must not leak into later pops")
	require.Equal(t, 2, v.n)
}

func TestLoad(t *testing.T) {
	p, err := New[*buf](2)
	require.NoError(t, err)

	p.Load(&buf{1})
	require.Equal(t, 1, p.InCount())
	require.Equal(t, 0, p.OutCount())

	v, err := p.PopInput()
	require.NoError(t, err)
	require.Equal(t, 1, v.n)
}

func TestWaitUntilDrained(t *testing.T) {
	p, err := New[*buf](2)
	require.NoError(t, err)
	p.PushInput(&buf{1})

	done := make(chan error, 1)
	go func() { done <- p.WaitUntilDrained() }()

	select {
	case <-done:
		t.Fatal("returned with input queue below capacity")
	case <-time.After(30 * time.Millisecond):
	}

	p.PushInput(&buf{2})
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("did not return when input queue reached capacity")
	}

	require.Equal(t, 2, p.InCount())
	require.NoError(t, p.WaitUntilDrained(), "level-triggered: returns again at once")
	for i := 1; i <= 2; i++ {
		v, err := p.PopInput()
		require.NoError(t, err)
		require.Equal(t, i, v.n)
	}
}

func TestInterrupt(t *testing.T) {
	p, err := New[*buf](2)
	require.NoError(t, err)

	boom := errors.New("boom")
	done := make(chan error, 1)
	go func() { done <- p.WaitUntilDrained() }()
	time.Sleep(10 * time.Millisecond)
	p.Interrupt(boom)

	select {
	case err := <-done:
		require.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("interrupt did not release waiter")
	}

	p.Interrupt(errors.New("second"))
	require.ErrorIs(t, p.WaitUntilDrained(), boom)
}

func TestDrain(t *testing.T) {
	p, err := New[*buf](3)
	require.NoError(t, err)
	p.PushInput(&buf{1})
	p.PushOutput(&buf{2})
	p.PushOutput(nil)

	var released []int
	n := p.Drain(func(b *buf) { released = append(released, b.n) })
	require.Equal(t, 3, n)
	require.ElementsMatch(t, []int{1, 2}, released)
	require.Equal(t, 0, p.InCount())
	require.Equal(t, 0, p.OutCount())

	p.PushOutput(&buf{3})
	v, err := p.PopOutput()
	require.NoError(t, err)
	require.Equal(t, 3, v.n)
}

func TestConcurrent_Cycles(t *testing.T) {
	const (
		capacity = 4
		cycles   = 2000
	)
	p, err := NewFilled(capacity, func() *buf { return &buf{} })
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	// producer: input -> output
	go func() {
		defer wg.Done()
		for i := 0; i < cycles; i++ {
			b, err := p.PopInput()
			if err != nil {
				t.Error(err)
				return
			}
			b.n++
			p.PushOutput(b)
		}
	}()
	// consumer: output -> input
	go func() {
		defer wg.Done()
		for i := 0; i < cycles; i++ {
			b, err := p.PopOutput()
			if err != nil {
				t.Error(err)
				return
			}
			p.PushInput(b)
		}
	}()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("cycles did not finish")
	}

	require.NoError(t, p.WaitUntilDrained())
	require.Equal(t, capacity, p.InCount())
	require.Equal(t, 0, p.OutCount())

	total := 0
	p.Drain(func(b *buf) { total += b.n })
	require.Equal(t, cycles, total)
}

func TestNewFilled_AndBytes(t *testing.T) {
	calls := 0
	p, err := NewFilled(3, func() *buf { calls++; return &buf{calls} })
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, 3, p.InCount())
	require.Equal(t, 0, p.BufferSize())

	_, err = NewFilled(0, func() *buf { return &buf{} })
	require.ErrorIs(t, err, ErrBadSizing)

	b, err := NewBytes(2, 16)
	require.NoError(t, err)
	require.Equal(t, 16, b.BufferSize())
	require.Equal(t, 2, b.Capacity())
	v, err := b.PopInput()
	require.NoError(t, err)
	require.Len(t, v, 16)

	_, err = NewBytes(2, 0)
	require.ErrorIs(t, err, ErrBadSizing)
}

func TestMetrics(t *testing.T) {
	mp := metrics.NewBasicProvider()
	p, err := New[*buf](1, WithMetrics(mp))
	require.NoError(t, err)

	p.PushOutput(&buf{1})
	p.PushOutput(&buf{2}) // rejected
	_, err = p.PopOutput()
	require.NoError(t, err)
	p.PushInput(&buf{1})

	s := mp.Snapshot()
	require.Equal(t, int64(2), s.Counters[metrics.PoolPushes])
	require.Equal(t, int64(1), s.Counters[metrics.PoolPops])
	require.Equal(t, int64(1), s.Counters[metrics.PoolRejected])
	require.Equal(t, int64(0), s.UpDowns[metrics.PoolOutputDepth])
	require.Equal(t, int64(1), s.UpDowns[metrics.PoolInputDepth])
}

func TestIsNil(t *testing.T) {
	var np *buf
	var m map[string]int
	var s []int
	var f func()
	var e error
	require.True(t, isNil(np))
	require.True(t, isNil(m))
	require.True(t, isNil(s))
	require.True(t, isNil(f))
	require.True(t, isNil(e))
	require.False(t, isNil(0))
	require.False(t, isNil(""))
	require.False(t, isNil(&buf{}))
	require.False(t, isNil([]int{}))
}
