package conversation

import (
	"testing"
	"time"

	"github.com/zhouzirui/mockchat/backend/internal/clock"
)

func TestTypingStartPreemptsPendingStop(t *testing.T) {
	m := clock.NewManual(epoch)
	typing := NewTyping(m)
	var flips []bool
	typing.OnChange(func(v bool) { flips = append(flips, v) })

	typing.Set(true, 0)
	typing.Set(false, time.Second)
	m.Advance(900 * time.Millisecond)
	typing.Set(true, 0)

	if !typing.Active() {
		t.Fatal("expected indicator to stay active")
	}
	m.Advance(5 * time.Second)
	if !typing.Active() {
		t.Fatal("expected preempted stop never to fire")
	}
	if len(flips) != 1 || !flips[0] {
		t.Fatalf("expected a single flip to true, got %v", flips)
	}
}

func TestTypingStopFiresAfterDelay(t *testing.T) {
	m := clock.NewManual(epoch)
	typing := NewTyping(m)

	typing.Set(true, 0)
	typing.Set(false, time.Second)

	m.Advance(999 * time.Millisecond)
	if !typing.Active() {
		t.Fatal("indicator cleared before the delay elapsed")
	}
	m.Advance(time.Millisecond)
	if typing.Active() {
		t.Fatal("indicator still active after the delay")
	}
}

func TestTypingDelayedStartCancelledByQuickStop(t *testing.T) {
	m := clock.NewManual(epoch)
	typing := NewTyping(m)
	flashed := false
	typing.OnChange(func(v bool) {
		if v {
			flashed = true
		}
	})

	typing.Set(true, 500*time.Millisecond)
	m.Advance(100 * time.Millisecond)
	typing.Set(false, time.Second)
	m.Advance(2 * time.Second)

	if flashed {
		t.Fatal("indicator flashed for a delivery that finished inside the start delay")
	}
}

func TestTypingOnlyOneTimerLive(t *testing.T) {
	m := clock.NewManual(epoch)
	typing := NewTyping(m)

	typing.Set(true, 500*time.Millisecond)
	typing.Set(false, time.Second)
	typing.Set(true, 500*time.Millisecond)

	if m.Pending() != 1 {
		t.Fatalf("expected one live timer, got %d", m.Pending())
	}
}

func TestTypingCloseReleasesTimer(t *testing.T) {
	m := clock.NewManual(epoch)
	typing := NewTyping(m)

	typing.Set(true, 0)
	typing.Set(false, time.Second)
	typing.Close()

	if m.Pending() != 0 {
		t.Fatalf("expected no pending timers after close, got %d", m.Pending())
	}
	typing.Set(false, 0)
	if !typing.Active() {
		t.Fatal("expected Set after Close to be ignored")
	}
}
