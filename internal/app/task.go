package app

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Task is a cancellable one-shot scheduled function. At most one run is
// pending at a time: Start replaces the pending run, Cancel drops it.
// A run that was replaced or cancelled never executes, even if its timer
// had already fired.
type Task struct {
	clock clockwork.Clock

	mu      sync.Mutex
	timer   clockwork.Timer
	pending bool
	gen     uint64
}

func NewTask(clock clockwork.Clock) *Task {
	return &Task{clock: clock}
}

// Start schedules fn to run after d. Non-positive delays run fn right away
// on a separate goroutine.
func (t *Task) Start(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.gen++
	t.pending = true
	gen := t.gen
	run := func() {
		t.mu.Lock()
		if t.gen != gen || !t.pending {
			t.mu.Unlock()
			return
		}
		t.pending = false
		t.timer = nil
		t.mu.Unlock()
		fn()
	}
	if d <= 0 {
		go run()
		return
	}
	t.timer = t.clock.AfterFunc(d, run)
}

// Cancel drops the pending run and reports whether there was one.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := t.pending
	t.stopLocked()
	t.gen++
	return was
}

// Pending reports whether a run is scheduled.
func (t *Task) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

func (t *Task) stopLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.pending = false
}
