package debounce

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	values []int
}

func (r *recorder) task(v int) Task {
	return func(context.Context) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.values = append(r.values, v)
		return nil
	}
}

func (r *recorder) get() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.values...)
}

func TestSchedule_CoalescesToLatest(t *testing.T) {
	var superseded atomic.Int32
	d := New(30*time.Millisecond, Options{OnSupersede: func(string) { superseded.Add(1) }})
	rec := &recorder{}

	for i := 1; i <= 5; i++ {
		d.Schedule("line:p1", rec.task(i))
	}

	require.Eventually(t, func() bool { return len(rec.get()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, []int{5}, rec.get())
	assert.Equal(t, int32(4), superseded.Load())
	assert.Equal(t, 0, d.Len())
}

func TestSchedule_KeysAreIndependent(t *testing.T) {
	d := New(10*time.Millisecond, Options{})
	rec := &recorder{}
	d.Schedule("a", rec.task(1))
	d.Schedule("b", rec.task(2))

	require.Eventually(t, func() bool { return len(rec.get()) == 2 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []int{1, 2}, rec.get())
}

func TestSchedule_NoOverlapPerKey(t *testing.T) {
	d := New(5*time.Millisecond, Options{})
	release := make(chan struct{})
	var running, maxRunning atomic.Int32
	var order []int
	var mu sync.Mutex

	slow := func(v int, block bool) Task {
		return func(context.Context) error {
			n := running.Add(1)
			if n > maxRunning.Load() {
				maxRunning.Store(n)
			}
			if block {
				<-release
			}
			mu.Lock()
			order = append(order, v)
			mu.Unlock()
			running.Add(-1)
			return nil
		}
	}

	d.Schedule("k", slow(1, true))
	require.Eventually(t, func() bool { return running.Load() == 1 }, time.Second, time.Millisecond)

	// fires while the first write is still in flight
	d.Schedule("k", slow(2, false))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), running.Load())

	close(release)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, time.Millisecond)

	assert.Equal(t, []int{1, 2}, order)
	assert.Equal(t, int32(1), maxRunning.Load())
}

func TestFlush_RunsPendingImmediately(t *testing.T) {
	d := New(time.Hour, Options{})
	rec := &recorder{}
	d.Schedule("a", rec.task(1))
	d.Schedule("b", rec.task(2))

	require.NoError(t, d.Flush(context.Background()))
	assert.ElementsMatch(t, []int{1, 2}, rec.get())
	assert.False(t, d.Pending("a"))
}

func TestFlush_HonoursContext(t *testing.T) {
	d := New(5*time.Millisecond, Options{})
	block := make(chan struct{})
	defer close(block)
	d.Schedule("a", func(context.Context) error { <-block; return nil })
	require.Eventually(t, func() bool { return d.Pending("a") }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Flush(ctx), context.DeadlineExceeded)
}

func TestFlush_CancelledWaitLeavesTableUsable(t *testing.T) {
	d := New(time.Millisecond, Options{})
	block := make(chan struct{})
	rec := &recorder{}
	d.Schedule("a", func(context.Context) error { <-block; return nil })
	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.busy()
	}, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- d.Flush(ctx) }()
	cancel()
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("flush did not return after cancel")
	}

	close(block)
	d.Schedule("b", rec.task(1))
	require.NoError(t, d.Flush(context.Background()))
	assert.Equal(t, []int{1}, rec.get())
	assert.Equal(t, 0, d.Len())
}

func TestFire_IgnoresStaleTimer(t *testing.T) {
	d := New(time.Hour, Options{})
	defer d.Close()
	rec := &recorder{}

	d.Schedule("a", rec.task(1))
	d.mu.Lock()
	stale := d.tasks["a"].gen
	d.mu.Unlock()
	d.Schedule("a", rec.task(2))

	// a callback of the replaced timer that already fired
	d.fire("a", stale)
	assert.Empty(t, rec.get())
	assert.True(t, d.Pending("a"))

	d.fire("a", stale+1)
	assert.Equal(t, []int{2}, rec.get())
	assert.False(t, d.Pending("a"))
}

func TestCancel_DropsPending(t *testing.T) {
	d := New(20*time.Millisecond, Options{})
	rec := &recorder{}
	d.Schedule("a", rec.task(1))
	d.Cancel("a")

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.get())
	assert.Equal(t, 0, d.Len())
}

func TestOnError_ReceivesFailures(t *testing.T) {
	errs := make(chan error, 1)
	d := New(time.Millisecond, Options{OnError: func(key string, err error) {
		assert.Equal(t, "a", key)
		errs <- err
	}})
	boom := errors.New("boom")
	d.Schedule("a", func(context.Context) error { return boom })

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("error callback not called")
	}
}

func TestClose_RejectsScheduling(t *testing.T) {
	d := New(time.Millisecond, Options{})
	rec := &recorder{}
	d.Close()
	d.Schedule("a", rec.task(1))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.get())
}
