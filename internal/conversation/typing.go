package conversation

import (
	"sync"
	"time"

	"github.com/zhouzirui/mockchat/backend/internal/clock"
)

// Typing is a debounced "the AI is replying" flag.
//
// At most one timer is live; every Set cancels the previous one. A pending
// stop is preempted by a later start and vice versa.
type Typing struct {
	sched clock.Scheduler

	mu        sync.Mutex
	active    bool
	timer     clock.Timer
	token     uint64
	closed    bool
	listeners []func(bool)
}

// NewTyping returns an inactive indicator driven by sched.
func NewTyping(sched clock.Scheduler) *Typing {
	if sched == nil {
		sched = clock.Real{}
	}
	return &Typing{sched: sched}
}

// OnChange registers fn to be called whenever the flag flips.
func (t *Typing) OnChange(fn func(bool)) {
	t.mu.Lock()
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

// Active reports the current flag.
func (t *Typing) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Set moves the flag to typing after delay. A zero delay applies immediately.
func (t *Typing) Set(typing bool, delay time.Duration) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.cancelLocked()

	if delay <= 0 {
		changed := t.active != typing
		t.active = typing
		listeners := t.listeners
		t.mu.Unlock()
		if changed {
			emit(listeners, typing)
		}
		return
	}

	token := t.token
	t.timer = t.sched.AfterFunc(delay, func() { t.fire(token, typing) })
	t.mu.Unlock()
}

// Close cancels any pending timer. Later calls to Set are ignored.
func (t *Typing) Close() {
	t.mu.Lock()
	t.cancelLocked()
	t.closed = true
	t.mu.Unlock()
}

func (t *Typing) fire(token uint64, typing bool) {
	t.mu.Lock()
	// A Set or Close after this timer was armed bumps the token.
	if t.closed || token != t.token {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	changed := t.active != typing
	t.active = typing
	listeners := t.listeners
	t.mu.Unlock()

	if changed {
		emit(listeners, typing)
	}
}

func (t *Typing) cancelLocked() {
	t.token++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func emit(listeners []func(bool), v bool) {
	for _, fn := range listeners {
		fn(v)
	}
}
