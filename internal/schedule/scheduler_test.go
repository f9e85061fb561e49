package schedule

import (
	"testing"
	"time"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func TestFireRunsDueTimersInOrder(t *testing.T) {
	s := New()
	var order []string
	s.At("b", t0.Add(2*time.Second), func(time.Time) { order = append(order, "b") })
	s.At("a", t0.Add(time.Second), func(time.Time) { order = append(order, "a") })
	s.At("c", t0.Add(5*time.Second), func(time.Time) { order = append(order, "c") })

	if n := s.Fire(t0.Add(500 * time.Millisecond)); n != 0 {
		t.Errorf("Expected no timers to fire, got %d", n)
	}

	if n := s.Fire(t0.Add(2 * time.Second)); n != 2 {
		t.Errorf("Expected 2 timers to fire, got %d", n)
	}

	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("Expected [a b], got %v", order)
	}

	pending := s.Pending()
	if len(pending) != 1 || pending[0] != "c" {
		t.Errorf("Expected [c] pending, got %v", pending)
	}
}

func TestCancel(t *testing.T) {
	s := New()
	fired := false
	timer := s.After("cooldown", t0, time.Second, func(time.Time) { fired = true })

	if !timer.Active() {
		t.Error("Timer should be active after scheduling")
	}
	if !timer.Cancel() {
		t.Error("Cancel should report a pending timer")
	}
	if timer.Cancel() {
		t.Error("Second cancel should report false")
	}

	s.Fire(t0.Add(time.Minute))
	if fired {
		t.Error("Cancelled timer should not fire")
	}

	var nilTimer *Timer
	if nilTimer.Cancel() || nilTimer.Active() {
		t.Error("Nil timer should be inert")
	}
}

func TestCallbackCanReschedule(t *testing.T) {
	s := New()
	ticks := 0
	var tick func(now time.Time)
	next := t0.Add(time.Second)
	tick = func(now time.Time) {
		ticks++
		next = next.Add(time.Second)
		s.At("tick", next, tick)
	}
	s.At("tick", next, tick)

	// Three deadlines are due by t0+3s and each callback schedules the next.
	s.Fire(t0.Add(3 * time.Second))
	if ticks != 3 {
		t.Errorf("Expected 3 ticks, got %d", ticks)
	}

	at, ok := s.Next()
	if !ok || !at.Equal(t0.Add(4*time.Second)) {
		t.Errorf("Expected next deadline at +4s, got %v (%v)", at, ok)
	}
}

func TestCancelAll(t *testing.T) {
	s := New()
	a := s.After("a", t0, time.Second, func(time.Time) { t.Error("a should not fire") })
	s.After("b", t0, time.Minute, func(time.Time) { t.Error("b should not fire") })

	if n := s.CancelAll(); n != 2 {
		t.Errorf("Expected 2 cancelled timers, got %d", n)
	}
	if a.Active() {
		t.Error("Timer should be inactive after CancelAll")
	}
	if n := s.Fire(t0.Add(time.Hour)); n != 0 {
		t.Errorf("Expected nothing to fire, got %d", n)
	}
	if _, ok := s.Next(); ok {
		t.Error("Expected no pending deadline")
	}
}
