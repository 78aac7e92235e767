// Package debounce keeps a table of cancellable delayed tasks keyed by string.
// Scheduling a key again replaces its pending task; a key never has more than
// one task running, so a slow write cannot land after a newer one.
package debounce

import (
	"context"
	"sync"
	"time"
)

type Task func(ctx context.Context) error

type Options struct {
	// OnError receives failures from tasks fired by timers or Flush.
	OnError func(key string, err error)
	// OnSupersede is called when a pending task is replaced before it ran.
	OnSupersede func(key string)
}

type entry struct {
	timer *time.Timer
	task  Task
	// gen counts schedules; a timer callback from an older one is ignored.
	gen      uint64
	inFlight bool
	// rerun is set when the timer fired while the previous task was still running.
	rerun bool
}

type Debouncer struct {
	mu     sync.Mutex
	idle   *sync.Cond
	wait   time.Duration
	tasks  map[string]*entry
	base   context.Context
	opts   Options
	closed bool
}

func New(wait time.Duration, opts Options) *Debouncer {
	d := &Debouncer{
		wait:  wait,
		tasks: make(map[string]*entry),
		base:  context.Background(),
		opts:  opts,
	}
	d.idle = sync.NewCond(&d.mu)
	return d
}

// Schedule (re)starts the debounce window for key with task as the only pending work.
func (d *Debouncer) Schedule(key string, task Task) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	e, ok := d.tasks[key]
	if !ok {
		e = &entry{}
		d.tasks[key] = e
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	if e.task != nil && d.opts.OnSupersede != nil {
		d.opts.OnSupersede(key)
	}
	e.task = task
	e.gen++
	gen := e.gen
	e.timer = time.AfterFunc(d.wait, func() { d.fire(key, gen) })
}

// Cancel drops the pending task for key. A running task is not interrupted.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.tasks[key]
	if !ok {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.task = nil
	if !e.inFlight {
		delete(d.tasks, key)
	}
}

func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.tasks[key]
	return ok && (e.task != nil || e.inFlight)
}

// Len returns the number of keys with pending or running work.
func (d *Debouncer) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tasks)
}

func (d *Debouncer) fire(key string, gen uint64) {
	d.mu.Lock()
	e, ok := d.tasks[key]
	if !ok || e.task == nil || e.gen != gen {
		d.mu.Unlock()
		return
	}
	if e.inFlight {
		e.rerun = true
		d.mu.Unlock()
		return
	}
	task := d.take(e)
	d.mu.Unlock()

	d.run(d.base, key, e, task)
}

// take must be called with mu held.
func (d *Debouncer) take(e *entry) Task {
	task := e.task
	e.task = nil
	e.timer = nil
	e.inFlight = true
	return task
}

func (d *Debouncer) run(ctx context.Context, key string, e *entry, task Task) {
	for {
		if err := task(ctx); err != nil && d.opts.OnError != nil {
			d.opts.OnError(key, err)
		}

		d.mu.Lock()
		if e.rerun && e.task != nil {
			e.rerun = false
			if e.timer != nil {
				e.timer.Stop()
			}
			task = d.take(e)
			d.mu.Unlock()
			continue
		}
		e.inFlight = false
		e.rerun = false
		if e.task == nil && e.timer == nil && d.tasks[key] == e {
			delete(d.tasks, key)
		}
		d.idle.Broadcast()
		d.mu.Unlock()
		return
	}
}

// Flush runs every pending task now and waits until nothing is in flight.
func (d *Debouncer) Flush(ctx context.Context) error {
	d.mu.Lock()
	keys := make([]string, 0, len(d.tasks))
	for key, e := range d.tasks {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		keys = append(keys, key)
	}
	d.mu.Unlock()

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.runNow(ctx, key)
	}

	// wake the wait below when ctx ends
	stop := context.AfterFunc(ctx, func() {
		d.mu.Lock()
		d.idle.Broadcast()
		d.mu.Unlock()
	})
	defer stop()

	d.mu.Lock()
	defer d.mu.Unlock()
	for d.busy() {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.idle.Wait()
	}
	return nil
}

func (d *Debouncer) runNow(ctx context.Context, key string) {
	d.mu.Lock()
	e, ok := d.tasks[key]
	if !ok || e.task == nil {
		d.mu.Unlock()
		return
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if e.inFlight {
		// picked up by the running task when it returns
		e.rerun = true
		d.mu.Unlock()
		return
	}
	task := d.take(e)
	d.mu.Unlock()
	d.run(ctx, key, e, task)
}

// busy must be called with mu held.
func (d *Debouncer) busy() bool {
	for _, e := range d.tasks {
		if e.inFlight {
			return true
		}
	}
	return false
}

// Close stops all timers and rejects further scheduling. Pending tasks are dropped;
// call Flush first to keep them.
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for key, e := range d.tasks {
		if e.timer != nil {
			e.timer.Stop()
		}
		if !e.inFlight {
			delete(d.tasks, key)
		}
	}
}
