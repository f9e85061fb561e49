package speech

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/careerpath/interviewcoach/server/domain/entities"
	"github.com/careerpath/interviewcoach/server/internal/schedule"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeCapture struct {
	active     bool
	starts     int
	stops      int
	failStarts int
}

func (f *fakeCapture) StartCapture() error {
	f.starts++
	if f.failStarts > 0 {
		f.failStarts--
		return errors.New("no microphone")
	}
	f.active = true
	return nil
}

func (f *fakeCapture) StopCapture() {
	f.stops++
	f.active = false
}

type harness struct {
	coord     *Coordinator
	capture   *fakeCapture
	sched     *schedule.Scheduler
	submitted []string
	errs      []*entities.SessionError
}

func newHarness(t *testing.T, cfg Config) *harness {
	h := &harness{capture: &fakeCapture{}, sched: schedule.New()}
	h.coord = NewCoordinator(cfg, h.capture, h.sched, Callbacks{
		OnAutoSubmit: func(text string, _ *float64) { h.submitted = append(h.submitted, text) },
		OnError:      func(err *entities.SessionError) { h.errs = append(h.errs, err) },
	}, zaptest.NewLogger(t))
	return h
}

func at(d time.Duration) time.Time {
	return t0.Add(d)
}

func final(text string) entities.TranscriptSegment {
	return entities.TranscriptSegment{Text: text, Final: true, Confidence: 0.9}
}

func TestCooldownBeforeListeningResumes(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	if err := h.coord.StartListening(at(0)); err != nil {
		t.Fatalf("StartListening failed: %v", err)
	}

	h.coord.NotifySpeechWillStart(at(0))
	if h.coord.State() != entities.SpeechSpeaking {
		t.Errorf("Expected speaking, got %s", h.coord.State())
	}
	if h.capture.active {
		t.Error("Capture should be closed while speaking")
	}
	if h.coord.OnTranscript(at(time.Second), final("echo of the interviewer")) {
		t.Error("Transcript should be dropped while speaking")
	}
	if err := h.coord.StartListening(at(2 * time.Second)); !errors.Is(err, ErrSpeaking) {
		t.Errorf("Expected ErrSpeaking, got %v", err)
	}

	h.coord.NotifySpeechEnded(at(4 * time.Second))
	if h.coord.State() != entities.SpeechCoolingDown {
		t.Errorf("Expected cooling down, got %s", h.coord.State())
	}
	if deadline, ok := h.coord.CooldownDeadline(); !ok || !deadline.Equal(at(6500*time.Millisecond)) {
		t.Errorf("Expected cooldown deadline at 6.5s, got %v", deadline.Sub(t0))
	}

	h.sched.Fire(at(6499 * time.Millisecond))
	if h.coord.State() != entities.SpeechCoolingDown || h.capture.active {
		t.Error("Listening must not resume before 6.5s")
	}

	h.sched.Fire(at(6500 * time.Millisecond))
	if h.coord.State() != entities.SpeechListening {
		t.Errorf("Expected listening at 6.5s, got %s", h.coord.State())
	}
	if !h.capture.active {
		t.Error("Capture should be open after the cooldown")
	}
}

func TestAutoSubmitAfterSilence(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	_ = h.coord.StartListening(at(0))

	h.coord.OnTranscript(at(time.Second), final("I led the migration"))
	h.coord.OnTranscript(at(2*time.Second), entities.TranscriptSegment{Text: "to Go", Confidence: 0.8})

	h.sched.Fire(at(4900 * time.Millisecond))
	if len(h.submitted) != 0 {
		t.Fatalf("Expected no submission before the threshold, got %v", h.submitted)
	}

	h.sched.Fire(at(5100 * time.Millisecond))
	if len(h.submitted) != 1 {
		t.Fatalf("Expected exactly one submission, got %d", len(h.submitted))
	}
	if h.submitted[0] != "I led the migration to Go" {
		t.Errorf("Unexpected submission %q", h.submitted[0])
	}
	if h.coord.Transcript() != "" {
		t.Errorf("Expected empty buffer after auto-submit, got %q", h.coord.Transcript())
	}

	h.sched.Fire(at(time.Minute))
	if len(h.submitted) != 1 {
		t.Errorf("Auto-submit should fire once per silence gap, got %d", len(h.submitted))
	}
}

func TestAutoSubmitNeverOnEmptyBuffer(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	_ = h.coord.StartListening(at(0))

	if h.coord.OnTranscript(at(time.Second), entities.TranscriptSegment{Text: "mumble", Confidence: 0.2}) {
		t.Error("Low confidence segment should be discarded")
	}
	if h.coord.OnTranscript(at(time.Second), entities.TranscriptSegment{Text: "   ", Final: true, Confidence: 0.99}) {
		t.Error("Blank segment should be discarded")
	}

	h.sched.Fire(at(time.Minute))
	if len(h.submitted) != 0 {
		t.Errorf("Expected no submission, got %v", h.submitted)
	}
}

func TestSpeechResetsSilenceTimer(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	_ = h.coord.StartListening(at(0))

	h.coord.OnTranscript(at(0), final("first"))
	h.sched.Fire(at(2 * time.Second))
	h.coord.OnTranscript(at(2*time.Second), final("second"))
	h.sched.Fire(at(4 * time.Second))
	if len(h.submitted) != 0 {
		t.Fatalf("Silence timer should restart on each accepted segment, got %v", h.submitted)
	}

	h.sched.Fire(at(5 * time.Second))
	if len(h.submitted) != 1 || h.submitted[0] != "first second" {
		t.Errorf("Expected one submission of both segments, got %v", h.submitted)
	}
}

func TestExplicitSubmitAndRestore(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	_ = h.coord.StartListening(at(0))
	h.coord.OnTranscript(at(0), final("answer"))

	text, confidence, ok := h.coord.Submit()
	if !ok || text != "answer" {
		t.Fatalf("Expected to submit %q, got %q (%v)", "answer", text, ok)
	}
	if confidence == nil || *confidence != 0.9 {
		t.Errorf("Expected confidence 0.9, got %v", confidence)
	}
	if _, _, ok := h.coord.Submit(); ok {
		t.Error("Second submit should find an empty buffer")
	}

	h.sched.Fire(at(10 * time.Second))
	if len(h.submitted) != 0 {
		t.Error("Explicit submit should cancel the silence timer")
	}

	h.coord.Restore(at(10*time.Second), "answer")
	h.sched.Fire(at(13 * time.Second))
	if len(h.submitted) != 1 || h.submitted[0] != "answer" {
		t.Errorf("Restored text should be auto-submitted after silence, got %v", h.submitted)
	}
}

func TestRecognizerRestartIsBounded(t *testing.T) {
	h := newHarness(t, Config{CooldownDelay: time.Second, SilenceThreshold: 3 * time.Second, MinConfidence: 0.5, MaxRestarts: 2})
	_ = h.coord.StartListening(at(0))

	h.coord.OnRecognitionEnded(at(time.Second), nil)
	if h.coord.State() != entities.SpeechListening || h.capture.starts != 2 {
		t.Fatalf("Expected one restart while listening, got state %s starts %d", h.coord.State(), h.capture.starts)
	}

	// A healthy segment resets the restart budget.
	h.coord.OnTranscript(at(2*time.Second), final("hello"))
	h.capture.failStarts = 5
	h.coord.OnRecognitionEnded(at(3*time.Second), errors.New("stream closed"))

	if h.coord.State() != entities.SpeechIdle {
		t.Errorf("Expected idle after exhausted restarts, got %s", h.coord.State())
	}
	if h.capture.starts != 4 {
		t.Errorf("Expected 2 more restart attempts, got %d total starts", h.capture.starts)
	}
	if len(h.errs) != 1 || h.errs[0].Kind != entities.ErrorRecognitionFailed {
		t.Errorf("Expected one recognition_failed error, got %v", h.errs)
	}
}

func TestNoRestartWhileSpeakingOrCoolingDown(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	_ = h.coord.StartListening(at(0))

	h.coord.NotifySpeechWillStart(at(time.Second))
	h.coord.OnRecognitionEnded(at(time.Second), nil)
	h.coord.NotifySpeechEnded(at(2 * time.Second))
	h.coord.OnRecognitionEnded(at(3*time.Second), nil)

	if h.capture.starts != 1 {
		t.Errorf("Recognizer must not restart outside listening, got %d starts", h.capture.starts)
	}
}

func TestCaptureUnavailable(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.capture.failStarts = 1

	err := h.coord.StartListening(at(0))
	if !errors.Is(err, ErrCaptureUnavailable) {
		t.Fatalf("Expected ErrCaptureUnavailable, got %v", err)
	}
	if h.coord.State() != entities.SpeechIdle {
		t.Errorf("Expected idle, got %s", h.coord.State())
	}
	if len(h.errs) != 1 || !h.errs[0].Recoverable {
		t.Errorf("Expected one recoverable error, got %v", h.errs)
	}

	// Speaking still works, and the broken microphone is not reopened after the cooldown.
	h.coord.NotifySpeechWillStart(at(time.Second))
	h.coord.NotifySpeechEnded(at(2 * time.Second))
	h.sched.Fire(at(10 * time.Second))
	if h.coord.State() != entities.SpeechIdle {
		t.Errorf("Expected idle after cooldown with broken capture, got %s", h.coord.State())
	}
	if len(h.errs) != 1 {
		t.Errorf("Capture failure should be surfaced once, got %d", len(h.errs))
	}

	if err := h.coord.StartListening(at(11 * time.Second)); err != nil {
		t.Errorf("Explicit retry should succeed once the device is back, got %v", err)
	}
}

func TestStopCancelsCooldown(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.coord.NotifySpeechWillStart(at(0))
	h.coord.NotifySpeechEnded(at(time.Second))

	h.coord.StopListening(at(2 * time.Second))
	h.sched.Fire(at(time.Minute))

	if h.coord.State() != entities.SpeechIdle {
		t.Errorf("Expected idle, got %s", h.coord.State())
	}
	if h.capture.active {
		t.Error("Cancelled cooldown must not reopen capture")
	}
}

func TestStopWhileSpeakingKeepsChannelClosed(t *testing.T) {
	h := newHarness(t, Config{CooldownDelay: 2500 * time.Millisecond, SilenceThreshold: 3 * time.Second, MinConfidence: 0.5, MaxRestarts: 3})
	h.coord.NotifySpeechWillStart(at(0))
	h.coord.StopListening(at(time.Second))

	if h.coord.State() != entities.SpeechIdle {
		t.Errorf("Expected idle after stop, got %s", h.coord.State())
	}
	if !h.coord.Synthesizing() {
		t.Error("Utterance should still own the channel after stop")
	}
	if err := h.coord.StartListening(at(2 * time.Second)); !errors.Is(err, ErrSpeaking) {
		t.Errorf("Expected ErrSpeaking while the utterance plays, got %v", err)
	}
	if h.capture.starts != 0 {
		t.Errorf("Expected no capture start, got %d", h.capture.starts)
	}

	h.coord.NotifySpeechEnded(at(4 * time.Second))
	if h.coord.State() != entities.SpeechIdle {
		t.Errorf("Expected to stay idle after a stopped utterance ends, got %s", h.coord.State())
	}
	if err := h.coord.StartListening(at(6 * time.Second)); !errors.Is(err, ErrSpeaking) {
		t.Errorf("Expected ErrSpeaking during the echo window, got %v", err)
	}
	if err := h.coord.StartListening(at(6500 * time.Millisecond)); err != nil {
		t.Errorf("Expected listening to resume after the echo window, got %v", err)
	}
	if h.coord.State() != entities.SpeechListening || !h.capture.active {
		t.Errorf("Expected listening with capture, got %s", h.coord.State())
	}
}

func TestDiscardClearsBufferAndSilence(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	_ = h.coord.StartListening(at(0))
	h.coord.OnTranscript(at(0), final("half spoken answer"))

	h.coord.Discard()
	if h.coord.Transcript() != "" {
		t.Errorf("Expected empty buffer, got %q", h.coord.Transcript())
	}
	h.sched.Fire(at(10 * time.Second))
	if len(h.submitted) != 0 {
		t.Errorf("Expected no auto-submit after discard, got %v", h.submitted)
	}
}

func TestEndCancelsEverything(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	_ = h.coord.StartListening(at(0))
	h.coord.OnTranscript(at(0), final("pending"))
	h.coord.NotifySpeechWillStart(at(time.Second))
	h.coord.NotifySpeechEnded(at(2 * time.Second))

	h.coord.End(at(3 * time.Second))

	if pending := h.sched.Pending(); len(pending) != 0 {
		t.Errorf("Expected no pending timers, got %v", pending)
	}
	if err := h.coord.StartListening(at(4 * time.Second)); !errors.Is(err, ErrSessionInactive) {
		t.Errorf("Expected ErrSessionInactive, got %v", err)
	}
	h.sched.Fire(at(time.Hour))
	if len(h.submitted) != 0 || h.coord.State() != entities.SpeechIdle {
		t.Error("Ended coordinator must stay idle and silent")
	}
}

func TestCaptureNeverOverlapsSynthesis(t *testing.T) {
	h := newHarness(t, Config{CooldownDelay: 500 * time.Millisecond, SilenceThreshold: time.Second, MinConfidence: 0.5, MaxRestarts: 3})
	rng := rand.New(rand.NewSource(42))
	now := time.Duration(0)
	playing := false

	for i := 0; i < 5000; i++ {
		now += time.Duration(rng.Intn(400)) * time.Millisecond
		ts := at(now)
		switch rng.Intn(7) {
		case 0:
			_ = h.coord.StartListening(ts)
		case 1:
			h.coord.StopListening(ts)
		case 2:
			h.coord.NotifySpeechWillStart(ts)
			playing = true
		case 3:
			h.coord.NotifySpeechEnded(ts)
			playing = false
		case 4:
			h.coord.OnTranscript(ts, entities.TranscriptSegment{Text: "word", Final: rng.Intn(2) == 0, Confidence: rng.Float64()})
		case 5:
			h.coord.OnRecognitionEnded(ts, nil)
		case 6:
			h.sched.Fire(ts)
		}

		state := h.coord.State()
		if h.capture.active && state != entities.SpeechListening {
			t.Fatalf("Step %d: capture open in state %s", i, state)
		}
		if state == entities.SpeechListening && !h.capture.active {
			t.Fatalf("Step %d: listening without capture", i)
		}
		if playing && h.capture.active {
			t.Fatalf("Step %d: capture open while an utterance is playing", i)
		}
	}
}

func TestCaptureFailedWhileListening(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	_ = h.coord.StartListening(at(0))

	h.coord.CaptureFailed(at(time.Second), "permission denied")
	if h.coord.State() != entities.SpeechIdle || h.capture.active {
		t.Errorf("Expected idle with capture closed, got %s", h.coord.State())
	}
	if len(h.errs) != 1 || h.errs[0].Kind != entities.ErrorCaptureUnavailable {
		t.Errorf("Expected one capture_unavailable error, got %v", h.errs)
	}

	h.coord.CaptureFailed(at(2*time.Second), "again")
	if len(h.errs) != 1 {
		t.Error("Capture failure outside listening should be ignored")
	}
}
