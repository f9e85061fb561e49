package feedback

import (
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/careerpath/interviewcoach/server/domain/entities"
	"github.com/careerpath/interviewcoach/server/internal/schedule"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func at(d time.Duration) time.Time {
	return t0.Add(d)
}

// tracker builds snapshots the way the aggregator would report them.
type tracker struct {
	snap entities.BehaviorSnapshot
}

func (tr *tracker) set(d entities.Dimension, bad bool, ts time.Time) entities.BehaviorSnapshot {
	m := tr.snap.Metric(d)
	m.Dimension = d
	if m.CurrentState != bad {
		m.CurrentState = bad
		m.LastTransitionTimestamp = ts
		if bad {
			m.TransitionCount++
		}
	}
	switch d {
	case entities.DimensionHand:
		tr.snap.Hand = m
	case entities.DimensionEyeContact:
		tr.snap.EyeContact = m
	case entities.DimensionPosture:
		tr.snap.Posture = m
	}
	return tr.snap
}

func newThrottler(t *testing.T) (*Throttler, *schedule.Scheduler, *[]entities.FeedbackMessage) {
	sched := schedule.New()
	var shown []entities.FeedbackMessage
	th := NewThrottler(DefaultConfig(), sched, func(msg entities.FeedbackMessage) {
		shown = append(shown, msg)
	}, zaptest.NewLogger(t))
	return th, sched, &shown
}

// run ticks the throttler every step while firing due timers, like the session loop.
func run(th *Throttler, sched *schedule.Scheduler, from, to, step time.Duration, snap entities.BehaviorSnapshot) int {
	enqueued := 0
	for d := from; d <= to; d += step {
		sched.Fire(at(d))
		enqueued += len(th.Tick(at(d), snap))
	}
	return enqueued
}

func countDimension(msgs []entities.FeedbackMessage, d entities.Dimension) int {
	n := 0
	for _, m := range msgs {
		if m.Dimension == d {
			n++
		}
	}
	return n
}

func TestOneMessagePerEpisode(t *testing.T) {
	th, sched, shown := newThrottler(t)
	tr := &tracker{}

	snap := tr.set(entities.DimensionEyeContact, true, at(0))
	run(th, sched, 0, 6500*time.Millisecond, 100*time.Millisecond, snap)
	if th.Given() != 1 {
		t.Fatalf("Expected 1 message for a 6.5s episode, got %d", th.Given())
	}
	if len(*shown) != 1 || (*shown)[0].Dimension != entities.DimensionEyeContact {
		t.Fatalf("Expected the eye contact message to be shown, got %v", *shown)
	}
	if (*shown)[0].Text != DefaultConfig().Rules[entities.DimensionEyeContact].Message {
		t.Errorf("Unexpected message text %q", (*shown)[0].Text)
	}

	ep, ok := th.Episode(entities.DimensionEyeContact)
	if !ok || !ep.FeedbackGiven {
		t.Errorf("Expected an open episode with feedback given, got %+v (%v)", ep, ok)
	}

	snap = tr.set(entities.DimensionEyeContact, false, at(6600*time.Millisecond))
	run(th, sched, 6600*time.Millisecond, 10*time.Second, 100*time.Millisecond, snap)
	if _, ok := th.Episode(entities.DimensionEyeContact); ok {
		t.Error("Episode should close on recovery")
	}

	snap = tr.set(entities.DimensionEyeContact, true, at(10*time.Second))
	run(th, sched, 10*time.Second, 16500*time.Millisecond, 100*time.Millisecond, snap)
	if th.Given() != 2 {
		t.Errorf("Expected a second message for the second episode, got %d total", th.Given())
	}
	if n := countDimension(th.Queue(), entities.DimensionEyeContact); n > 1 {
		t.Errorf("Expected at most one queued eye contact message, got %d", n)
	}
}

func TestPersistenceTimerCatchesEpisodeBetweenTicks(t *testing.T) {
	th, sched, _ := newThrottler(t)
	tr := &tracker{}

	// Bad from 0.3s to 6.8s, with throttler ticks only on whole seconds.
	snap := tr.set(entities.DimensionEyeContact, true, at(300*time.Millisecond))
	enqueued := 0
	for ms := 1000; ms <= 6800; ms += 100 {
		now := at(time.Duration(ms) * time.Millisecond)
		sched.Fire(now)
		if ms%1000 == 0 {
			enqueued += len(th.Tick(now, snap))
		}
	}
	snap = tr.set(entities.DimensionEyeContact, false, at(6800*time.Millisecond))
	th.Tick(at(7*time.Second), snap)

	if th.Given() != 1 {
		t.Errorf("Expected the persistence deadline to enqueue 1 message, got %d", th.Given())
	}
	if enqueued != 0 {
		t.Errorf("Expected no message from whole-second ticks, got %d", enqueued)
	}
}

func TestEpisodeOfExactlyThresholdGivesNoFeedback(t *testing.T) {
	th, sched, _ := newThrottler(t)
	tr := &tracker{}

	snap := tr.set(entities.DimensionEyeContact, true, at(0))
	if n := run(th, sched, 0, 6*time.Second, 500*time.Millisecond, snap); n != 0 {
		t.Fatalf("Expected nothing at exactly 6s of lost eye contact, got %d", n)
	}
	snap = tr.set(entities.DimensionEyeContact, false, at(6*time.Second))
	run(th, sched, 6*time.Second, 20*time.Second, 500*time.Millisecond, snap)

	if th.Given() != 0 {
		t.Errorf("Expected no message for an episode that only reached the threshold, got %d", th.Given())
	}
	if pending := sched.Pending(); len(pending) != 0 {
		t.Errorf("Expected the persistence timer to be cancelled, pending %v", pending)
	}
}

func TestEpisodeJustPastThresholdGivesFeedback(t *testing.T) {
	th, sched, _ := newThrottler(t)
	tr := &tracker{}

	snap := tr.set(entities.DimensionEyeContact, true, at(0))
	th.Tick(at(0), snap)
	sched.Fire(at(6 * time.Second))
	if th.Given() != 0 {
		t.Fatalf("Expected no message at the threshold, got %d", th.Given())
	}
	sched.Fire(at(6*time.Second + time.Millisecond))
	if th.Given() != 1 {
		t.Errorf("Expected a message once the threshold is exceeded, got %d", th.Given())
	}
}

func TestShortEpisodeGivesNoFeedback(t *testing.T) {
	th, sched, _ := newThrottler(t)
	tr := &tracker{}

	snap := tr.set(entities.DimensionPosture, true, at(0))
	run(th, sched, 0, 7*time.Second, 500*time.Millisecond, snap)
	snap = tr.set(entities.DimensionPosture, false, at(7500*time.Millisecond))
	run(th, sched, 7500*time.Millisecond, 20*time.Second, 500*time.Millisecond, snap)

	if th.Given() != 0 {
		t.Errorf("Expected no message for a 7.5s posture episode, got %d", th.Given())
	}
}

func TestNewEpisodeBetweenTicks(t *testing.T) {
	th, sched, _ := newThrottler(t)
	tr := &tracker{}

	snap := tr.set(entities.DimensionEyeContact, true, at(0))
	run(th, sched, 0, 7*time.Second, time.Second, snap)

	// Recovered and lost again without the throttler seeing the good state.
	tr.set(entities.DimensionEyeContact, false, at(7100*time.Millisecond))
	snap = tr.set(entities.DimensionEyeContact, true, at(7200*time.Millisecond))
	run(th, sched, 8*time.Second, 14*time.Second, time.Second, snap)

	if th.Given() != 2 {
		t.Errorf("Expected 2 messages across both episodes, got %d", th.Given())
	}
}

func TestQueueShowsOneMessageAtATime(t *testing.T) {
	th, sched, shown := newThrottler(t)
	tr := &tracker{}

	tr.set(entities.DimensionEyeContact, true, at(0))
	snap := tr.set(entities.DimensionPosture, true, at(0))
	run(th, sched, 0, 9*time.Second, time.Second, snap)

	if th.Given() != 2 {
		t.Fatalf("Expected 2 messages, got %d", th.Given())
	}
	active := th.Active()
	if active == nil || active.Dimension != entities.DimensionEyeContact {
		t.Fatalf("Expected eye contact message active, got %+v", active)
	}
	if th.QueueDepth() != 1 {
		t.Errorf("Expected 1 queued message, got %d", th.QueueDepth())
	}
	// Eye contact passes its 6s threshold after the 6s tick and shows at 7s.
	if !active.ExpiresAt.Equal(at(7 * time.Second).Add(DefaultDisplayDuration)) {
		t.Errorf("Expected expiry 5s after showing, got %v", active.ExpiresAt.Sub(t0))
	}

	// The posture message waits for the eye contact message to expire at 12s.
	sched.Fire(at(11 * time.Second))
	if th.Active().Dimension != entities.DimensionEyeContact {
		t.Error("Active message should not change before it expires")
	}
	sched.Fire(at(12 * time.Second))
	active = th.Active()
	if active == nil || active.Dimension != entities.DimensionPosture {
		t.Fatalf("Expected posture message after expiry, got %+v", active)
	}
	if len(*shown) != 2 {
		t.Errorf("Expected 2 shown messages, got %d", len(*shown))
	}

	if th.Dismiss(at(12*time.Second), "not-the-id") {
		t.Error("Dismiss with a foreign id should do nothing")
	}
	if !th.Dismiss(at(12*time.Second), active.ID) {
		t.Error("Dismiss should hide the active message")
	}
	if th.Active() != nil || th.QueueDepth() != 0 {
		t.Error("Expected nothing active or queued")
	}
	if pending := sched.Pending(); len(pending) != 0 {
		t.Errorf("Dismiss should cancel the expiry, pending %v", pending)
	}
}

func TestEndCancelsTimers(t *testing.T) {
	th, sched, _ := newThrottler(t)
	tr := &tracker{}

	snap := tr.set(entities.DimensionHand, true, at(0))
	th.Tick(at(0), snap)
	if len(sched.Pending()) != 1 {
		t.Fatalf("Expected the hand persistence timer, got %v", sched.Pending())
	}

	th.End()
	if len(sched.Pending()) != 0 {
		t.Errorf("Expected no pending timers, got %v", sched.Pending())
	}
	if n := sched.Fire(at(time.Minute)); n != 0 || th.Given() != 0 {
		t.Error("Ended throttler should not enqueue")
	}
}
