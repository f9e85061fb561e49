// Package schedule holds the deadline handles of one session loop.
//
// A Scheduler is owned by a single goroutine. Deadlines never fire on their
// own: the owner calls Fire with the current time and due callbacks run inline,
// in deadline order, on the owner's goroutine.
package schedule

import (
	"sort"
	"time"
)

// Scheduler is a set of cancellable deadlines
type Scheduler struct {
	timers []*Timer
	seq    uint64
}

// Timer is a handle to one scheduled callback
type Timer struct {
	name  string
	at    time.Time
	seq   uint64
	fn    func(now time.Time)
	owner *Scheduler
	done  bool
}

// New creates an empty scheduler
func New() *Scheduler {
	return &Scheduler{}
}

// At schedules fn to run at the first Fire whose time is not before at
func (s *Scheduler) At(name string, at time.Time, fn func(now time.Time)) *Timer {
	s.seq++
	t := &Timer{name: name, at: at, seq: s.seq, fn: fn, owner: s}
	s.timers = append(s.timers, t)
	return t
}

// After schedules fn to run d after now
func (s *Scheduler) After(name string, now time.Time, d time.Duration, fn func(now time.Time)) *Timer {
	return s.At(name, now.Add(d), fn)
}

// Fire runs every callback due at now and returns how many ran.
// Callbacks may schedule or cancel timers; newly scheduled timers that are
// already due run in the same call.
func (s *Scheduler) Fire(now time.Time) int {
	fired := 0
	for {
		t := s.nextDue(now)
		if t == nil {
			return fired
		}
		s.remove(t)
		t.done = true
		t.fn(now)
		fired++
	}
}

func (s *Scheduler) nextDue(now time.Time) *Timer {
	var next *Timer
	for _, t := range s.timers {
		if t.at.After(now) {
			continue
		}
		if next == nil || t.at.Before(next.at) || (t.at.Equal(next.at) && t.seq < next.seq) {
			next = t
		}
	}
	return next
}

func (s *Scheduler) remove(target *Timer) {
	for i, t := range s.timers {
		if t == target {
			s.timers = append(s.timers[:i], s.timers[i+1:]...)
			return
		}
	}
}

// CancelAll cancels every pending timer and returns how many were cancelled
func (s *Scheduler) CancelAll() int {
	n := len(s.timers)
	for _, t := range s.timers {
		t.done = true
	}
	s.timers = nil
	return n
}

// Pending returns the names of pending timers ordered by deadline
func (s *Scheduler) Pending() []string {
	pending := make([]*Timer, len(s.timers))
	copy(pending, s.timers)
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].at.Equal(pending[j].at) {
			return pending[i].seq < pending[j].seq
		}
		return pending[i].at.Before(pending[j].at)
	})
	names := make([]string, len(pending))
	for i, t := range pending {
		names[i] = t.name
	}
	return names
}

// Next returns the earliest pending deadline
func (s *Scheduler) Next() (time.Time, bool) {
	var next time.Time
	for i, t := range s.timers {
		if i == 0 || t.at.Before(next) {
			next = t.at
		}
	}
	return next, len(s.timers) > 0
}

// Cancel stops the timer. It reports whether the timer was still pending.
// Cancel on a nil Timer is a no-op.
func (t *Timer) Cancel() bool {
	if t == nil || t.done {
		return false
	}
	t.done = true
	t.owner.remove(t)
	return true
}

// Active reports whether the timer is still pending
func (t *Timer) Active() bool {
	return t != nil && !t.done
}

// Deadline returns when the timer is due
func (t *Timer) Deadline() time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.at
}

// Name returns the label the timer was scheduled with
func (t *Timer) Name() string {
	if t == nil {
		return ""
	}
	return t.name
}
