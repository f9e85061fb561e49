// Package interview runs one live mock interview. Every session event is
// handled on a single goroutine that owns the behavior aggregator, the speech
// coordinator, the feedback throttler and the turn controller.
package interview

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/careerpath/interviewcoach/server/domain/entities"
	"github.com/careerpath/interviewcoach/server/domain/repositories"
	"github.com/careerpath/interviewcoach/server/internal/behavior"
	"github.com/careerpath/interviewcoach/server/internal/feedback"
	"github.com/careerpath/interviewcoach/server/internal/schedule"
	"github.com/careerpath/interviewcoach/server/internal/speech"
	"github.com/careerpath/interviewcoach/server/internal/turn"
)

var (
	ErrNoBackend        = errors.New("dialogue backend is required")
	ErrNoActiveFeedback = errors.New("no matching feedback message is shown")
	errNoAudio          = errors.New("synthesizer produced no audio")
)

// Options are the collaborators of a runtime
type Options struct {
	Config      Config
	Backend     repositories.DialogueBackend
	Recognizer  repositories.SpeechToText
	Synthesizer repositories.TextToSpeech
	Clock       clock.Clock
	Logger      *zap.Logger
	// OnEnd receives a copy of the finished session. It runs on its own goroutine.
	OnEnd func(session *entities.InterviewSession)
}

// Runtime is a live interview session
type Runtime struct {
	id      string
	cfg     Config
	clock   clock.Clock
	logger  *zap.Logger
	backend repositories.DialogueBackend
	synth   repositories.TextToSpeech
	onEnd   func(*entities.InterviewSession)

	ctx     context.Context
	cancel  context.CancelFunc
	queue   *EventQueue
	capture captureBridge
	done    chan struct{}
	state   atomic.Pointer[State]

	sinkMu sync.RWMutex
	sink   Sink

	// Owned by the queue goroutine.
	sched          *schedule.Scheduler
	aggregator     *behavior.Aggregator
	coordinator    *speech.Coordinator
	throttler      *feedback.Throttler
	controller     *turn.Controller
	started        bool
	ended          bool
	nextClock      time.Time
	clockTimer     *schedule.Timer
	feedbackTimer  *schedule.Timer
	dropoutTimer   *schedule.Timer
	watchdog       *schedule.Timer
	frameBase      time.Time
	frameBaseSet   bool
	utterance      string
	speakCancel    context.CancelFunc
	dialogueCancel context.CancelFunc
	lastErr        *entities.SessionError
	pushPending    bool
}

// NewRuntime builds the session components and starts the event loop.
// The interview clock does not run until Start.
func NewRuntime(session *entities.InterviewSession, opts Options) (*Runtime, error) {
	if opts.Backend == nil {
		return nil, ErrNoBackend
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if err := session.Validate(); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	id := session.SessionID()
	logger := opts.Logger.With(zap.String("sessionID", id))
	ctx, cancel := context.WithCancel(context.Background())

	r := &Runtime{
		id:      id,
		cfg:     opts.Config,
		clock:   opts.Clock,
		logger:  logger,
		backend: opts.Backend,
		synth:   opts.Synthesizer,
		onEnd:   opts.OnEnd,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		sched:   schedule.New(),
	}

	if opts.Recognizer != nil {
		r.capture = &serverCapture{r: r, stt: opts.Recognizer, audio: opts.Config.Audio}
	} else {
		r.capture = &clientCapture{r: r}
	}

	r.aggregator = behavior.NewAggregator(opts.Config.Behavior, logger.Named("behavior"))
	r.coordinator = speech.NewCoordinator(opts.Config.Speech, r.capture, r.sched, speech.Callbacks{
		OnAutoSubmit:  r.onAutoSubmit,
		OnStateChange: r.onSpeechState,
		OnError:       r.onSessionError,
	}, logger.Named("speech"))
	r.throttler = feedback.NewThrottler(opts.Config.Feedback, r.sched, r.onFeedbackShown, logger.Named("feedback"))
	r.controller = turn.NewController(opts.Config.Turn, session, r.onBudgetExhausted, logger.Named("turn"))

	r.publish(r.clock.Now(), false)
	r.queue = NewEventQueue(id, opts.Config.QueueCapacity, r.handle, logger)
	if opts.Config.LoopInterval > 0 {
		go r.pump(opts.Config.LoopInterval)
	}
	return r, nil
}

// pump turns clock ticks into loop ticks
func (r *Runtime) pump(interval time.Duration) {
	ticker := r.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			_ = r.queue.Enqueue(tickEvent{})
		}
	}
}

// ID returns the session identifier
func (r *Runtime) ID() string {
	return r.id
}

// Start starts the interview clock and asks the interviewer for the opening question
func (r *Runtime) Start(budgetMinutes int) error {
	return r.send(startEvent{budgetMinutes: budgetMinutes})
}

// IngestFrame queues a detector frame
func (r *Runtime) IngestFrame(frame FrameInput) error {
	return r.queue.Enqueue(frameEvent{frame: frame})
}

// OfferTranscript queues a transcript segment recognized by the client
func (r *Runtime) OfferTranscript(segment entities.TranscriptSegment) error {
	return r.queue.Enqueue(transcriptEvent{seq: clientStream, segment: segment})
}

// RecognitionEnded reports that the client's recognizer stopped
func (r *Runtime) RecognitionEnded(cause error) error {
	return r.queue.Enqueue(recognitionEndedEvent{seq: clientStream, err: cause})
}

// CaptureUnavailable reports that the client's microphone cannot be used
func (r *Runtime) CaptureUnavailable(reason string) error {
	return r.queue.Enqueue(captureUnavailableEvent{reason: reason})
}

// SpeechStarted reports that the client began speaking an interviewer utterance
func (r *Runtime) SpeechStarted() error {
	return r.send(speechStartedEvent{})
}

// SpeechEnded reports that playback of an utterance finished
func (r *Runtime) SpeechEnded(utteranceID string) error {
	return r.send(speechEndedEvent{utteranceID: utteranceID})
}

// StartListening opens the microphone
func (r *Runtime) StartListening() error {
	return r.send(listenEvent{start: true})
}

// StopListening closes the microphone
func (r *Runtime) StopListening() error {
	return r.send(listenEvent{start: false})
}

// Submit submits text, or the buffered transcript when text is empty
func (r *Runtime) Submit(text string) error {
	return r.send(submitEvent{text: text})
}

// Retry reissues a failed dialogue request
func (r *Runtime) Retry() error {
	return r.send(retryEvent{})
}

// DismissFeedback hides the active feedback message. An empty id matches any message.
func (r *Runtime) DismissFeedback(id string) error {
	return r.send(dismissEvent{id: id})
}

// End ends the interview. Ending an ended session is a no-op.
func (r *Runtime) End(reason entities.EndReason) error {
	return r.send(endEvent{reason: reason})
}

// Tick fires due timers at the current clock time
func (r *Runtime) Tick() error {
	return r.send(tickEvent{})
}

// Attach routes notifications and audio to a client, replacing any previous one
func (r *Runtime) Attach(sink Sink) error {
	return r.send(attachEvent{sink: sink})
}

// Detach removes a client if it is still the attached one
func (r *Runtime) Detach(sink Sink) error {
	return r.send(detachEvent{sink: sink})
}

// Snapshot returns a copy of the session document as of now
func (r *Runtime) Snapshot() (*entities.InterviewSession, error) {
	out := make(chan *entities.InterviewSession, 1)
	if err := r.send(snapshotEvent{out: out}); err != nil {
		return nil, err
	}
	return <-out, nil
}

// StreamAudio forwards microphone audio to the server-side recognizer
func (r *Runtime) StreamAudio(data []byte) error {
	return r.capture.Stream(data)
}

// State returns the latest published state
func (r *Runtime) State() *State {
	return r.state.Load()
}

// Done is closed when the interview ends
func (r *Runtime) Done() <-chan struct{} {
	return r.done
}

// Ended reports whether the interview has ended
func (r *Runtime) Ended() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Stats returns event queue counters
func (r *Runtime) Stats() QueueStats {
	return r.queue.Stats()
}

// Close stops the event loop and every goroutine of the runtime
func (r *Runtime) Close() {
	r.cancel()
	r.queue.Close()
}

func (r *Runtime) send(event Event) error {
	return r.queue.EnqueueSync(event, r.cfg.EventTimeout)
}

func (r *Runtime) currentSink() Sink {
	r.sinkMu.RLock()
	defer r.sinkMu.RUnlock()
	return r.sink
}

func (r *Runtime) notify(typ string, payload interface{}) {
	if sink := r.currentSink(); sink != nil {
		sink.Notify(Notification{Type: typ, Payload: payload})
	}
}

func (r *Runtime) handle(_ context.Context, event Event) error {
	now := r.clock.Now()
	push := true
	var err error

	switch ev := event.(type) {
	case tickEvent:
		push = false
		r.sched.Fire(now)
	case frameEvent:
		push = false
		r.handleFrame(now, ev.frame)
	case attachEvent:
		r.handleAttach(ev.sink)
	case detachEvent:
		r.handleDetach(now, ev.sink)
	case endEvent:
		r.finish(now, ev.reason)
	case snapshotEvent:
		push = false
		session := r.controller.Session().Clone()
		if session.IsActive() {
			session.UpdatedAt = now
		}
		ev.out <- session
	default:
		if r.ended {
			r.logger.Debug("Event after session end", zap.String("eventType", event.Type()))
			err = turn.ErrSessionEnded
			break
		}
		err = r.handleActive(now, event)
	}

	r.publish(now, push)
	return err
}

func (r *Runtime) handleActive(now time.Time, event Event) error {
	switch ev := event.(type) {
	case startEvent:
		return r.handleStart(now, ev.budgetMinutes)
	case transcriptEvent:
		if !r.capture.Current(ev.seq) {
			r.logger.Debug("Transcript from a closed stream", zap.Uint64("stream", ev.seq))
			return nil
		}
		r.coordinator.OnTranscript(now, ev.segment)
	case recognitionEndedEvent:
		if !r.capture.Current(ev.seq) {
			return nil
		}
		r.coordinator.OnRecognitionEnded(now, ev.err)
	case captureUnavailableEvent:
		r.coordinator.CaptureFailed(now, ev.reason)
	case speechStartedEvent:
		if r.utterance == "" {
			r.logger.Debug("Speech start without an announced utterance")
			return nil
		}
		r.coordinator.NotifySpeechWillStart(now)
	case speechEndedEvent:
		r.endSpeech(now, ev.utteranceID)
	case synthesisFailedEvent:
		if ev.utteranceID != r.utterance {
			return nil
		}
		r.onSessionError(&entities.SessionError{
			Kind:        entities.ErrorSynthesisFailed,
			Message:     ev.err.Error(),
			Recoverable: true,
			At:          now,
		})
		r.endSpeech(now, ev.utteranceID)
	case listenEvent:
		if ev.start {
			return r.coordinator.StartListening(now)
		}
		r.coordinator.StopListening(now)
	case submitEvent:
		return r.submit(now, ev.text, false, nil)
	case retryEvent:
		req, err := r.controller.Retry(now)
		if err != nil {
			return err
		}
		r.lastErr = nil
		r.dispatch(req)
	case dismissEvent:
		if !r.throttler.Dismiss(now, ev.id) {
			return ErrNoActiveFeedback
		}
	case replyEvent:
		r.handleReply(now, ev)
	}
	return nil
}

func (r *Runtime) handleStart(now time.Time, budgetMinutes int) error {
	if r.started {
		return turn.ErrAlreadyStarted
	}
	if err := r.controller.Start(now, budgetMinutes); err != nil {
		return err
	}
	r.started = true

	r.nextClock = now.Add(r.cfg.Turn.TickInterval)
	r.clockTimer = r.sched.At("session.clock", r.nextClock, r.onClock)
	r.feedbackTimer = r.sched.After("feedback.tick", now, r.cfg.FeedbackTick, r.onFeedbackTick)

	r.logger.Info("Interview started",
		zap.Duration("budget", r.controller.Session().Budget),
		zap.Bool("muted", r.controller.Session().Muted))

	req, err := r.controller.Opening(now)
	if err != nil {
		return err
	}
	r.dispatch(req)
	return nil
}

func (r *Runtime) onClock(now time.Time) {
	r.clockTimer = nil
	if r.controller.Tick(now) || r.ended {
		return
	}
	r.nextClock = r.nextClock.Add(r.cfg.Turn.TickInterval)
	r.clockTimer = r.sched.At("session.clock", r.nextClock, r.onClock)
}

func (r *Runtime) onFeedbackTick(now time.Time) {
	r.throttler.Tick(now, r.aggregator.Snapshot())
	r.pushPending = true
	r.feedbackTimer = r.sched.After("feedback.tick", now, r.cfg.FeedbackTick, r.onFeedbackTick)
}

func (r *Runtime) onBudgetExhausted(now time.Time) {
	r.finish(now, entities.EndReasonBudgetExhausted)
}

func (r *Runtime) handleFrame(now time.Time, frame FrameInput) {
	if r.ended {
		return
	}
	r.aggregator.Ingest(entities.FrameSample{
		Timestamp:      r.frameTime(now, frame.ClientTime),
		HandPresent:    frame.HandPresent,
		FacePresent:    frame.FacePresent,
		PosePresent:    frame.PosePresent,
		EyeContactLost: frame.EyeContactLost,
		PostureBad:     frame.PostureBad,
	})

	r.dropoutTimer.Cancel()
	if deadline, ok := r.aggregator.DropoutDeadline(); ok {
		r.dropoutTimer = r.sched.At("behavior.dropout", deadline.Add(time.Millisecond), r.onDropoutCheck)
	}
	r.throttler.Tick(now, r.aggregator.Snapshot())
}

func (r *Runtime) onDropoutCheck(now time.Time) {
	r.dropoutTimer = nil
	if r.aggregator.CheckDropout(now) {
		r.throttler.Tick(now, r.aggregator.Snapshot())
		r.pushPending = true
	}
}

// frameTime maps the detector clock onto the session clock using the offset
// observed at the first timestamped frame.
func (r *Runtime) frameTime(now time.Time, clientTime time.Duration) time.Time {
	if clientTime <= 0 {
		return now
	}
	if !r.frameBaseSet {
		r.frameBase = now.Add(-clientTime)
		r.frameBaseSet = true
	}
	ts := r.frameBase.Add(clientTime)
	if ts.After(now) {
		return now
	}
	return ts
}

func (r *Runtime) onAutoSubmit(text string, confidence *float64) {
	now := r.clock.Now()
	if err := r.submit(now, text, true, confidence); err != nil {
		r.logger.Debug("Auto-submit deferred", zap.Error(err))
	}
}

func (r *Runtime) submit(now time.Time, text string, auto bool, confidence *float64) error {
	fromBuffer := auto
	if strings.TrimSpace(text) == "" {
		buffered, conf, ok := r.coordinator.Submit()
		if !ok {
			return turn.ErrEmptySubmission
		}
		text, confidence, fromBuffer = buffered, conf, true
	}

	req, err := r.controller.Submit(now, text, entities.SessionMessageMetadata{
		TranscriptionConfidence: confidence,
		AutoSubmitted:           auto,
	})
	if err != nil {
		if fromBuffer && errors.Is(err, turn.ErrTurnInFlight) {
			r.coordinator.Restore(now, text)
		}
		return err
	}

	if !fromBuffer {
		// Typed text replaces whatever was recognized so far.
		r.coordinator.Discard()
	}
	if auto {
		r.notify(NotifyAutoSubmitted, AutoSubmitted{Text: text})
	}
	r.dispatch(req)
	return nil
}

// dispatch calls the dialogue backend off the loop. The result comes back as
// a replyEvent carrying the request generation.
func (r *Runtime) dispatch(req turn.Request) {
	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.DialogueTimeout)
	r.dialogueCancel = cancel

	r.logger.Debug("Dialogue request issued",
		zap.Uint64("generation", req.Generation),
		zap.Bool("opening", req.Prompt.Opening),
		zap.Int("historyLength", len(req.Prompt.History)))

	go func() {
		defer cancel()
		reply, err := r.backend.Reply(ctx, req.Prompt)
		ev := replyEvent{generation: req.Generation, reply: reply, err: err}
		if qerr := r.queue.EnqueueSync(ev, r.cfg.EventTimeout); qerr != nil && !errors.Is(qerr, ErrQueueClosed) && !errors.Is(qerr, turn.ErrSessionEnded) {
			r.logger.Warn("Failed to deliver dialogue reply", zap.Error(qerr))
		}
	}()
}

func (r *Runtime) handleReply(now time.Time, ev replyEvent) {
	err := r.controller.Complete(now, ev.generation, ev.reply, ev.err)
	switch {
	case errors.Is(err, turn.ErrStaleReply):
		return
	case err != nil:
		r.dialogueCancel = nil
		r.onSessionError(&entities.SessionError{
			Kind:        entities.ErrorDialogueFailed,
			Message:     err.Error(),
			Recoverable: true,
			At:          now,
		})
		return
	}

	r.dialogueCancel = nil
	messages := r.controller.Session().Messages
	r.speak(now, messages[len(messages)-1].Content)
}

func (r *Runtime) onSpeechState(from, to entities.SpeechState) {
	r.pushPending = true
}

func (r *Runtime) onSessionError(err *entities.SessionError) {
	r.lastErr = err
	r.notify(NotifyError, err)
}

func (r *Runtime) onFeedbackShown(msg entities.FeedbackMessage) {
	r.notify(NotifyFeedback, msg)
}

func (r *Runtime) handleAttach(sink Sink) {
	r.sinkMu.Lock()
	r.sink = sink
	r.sinkMu.Unlock()
	r.logger.Info("Client attached", zap.Bool("canCapture", sink.CanCapture()))
}

func (r *Runtime) handleDetach(now time.Time, sink Sink) {
	r.sinkMu.Lock()
	if r.sink != sink {
		r.sinkMu.Unlock()
		return
	}
	r.sink = nil
	r.sinkMu.Unlock()
	r.logger.Info("Client detached")

	if r.ended {
		return
	}
	// Playback and client-side capture die with the client.
	if r.utterance != "" {
		r.endSpeech(now, r.utterance)
	}
	if _, client := r.capture.(*clientCapture); client && r.coordinator.State() == entities.SpeechListening {
		r.coordinator.StopListening(now)
	}
}

// finish tears the session down. Every timer is cancelled and any in-flight
// dialogue or synthesis is abandoned.
func (r *Runtime) finish(now time.Time, reason entities.EndReason) {
	if r.ended {
		return
	}
	r.ended = true

	r.controller.End(now, reason)
	if r.dialogueCancel != nil {
		r.dialogueCancel()
		r.dialogueCancel = nil
	}
	if r.speakCancel != nil {
		r.speakCancel()
		r.speakCancel = nil
	}
	r.utterance = ""
	r.coordinator.End(now)
	r.throttler.End()
	r.sched.CancelAll()

	session := r.controller.Session()
	session.Report = entities.NewSessionReport(r.aggregator.Snapshot(), r.throttler.Given())

	r.logger.Info("Interview ended",
		zap.String("status", string(session.Status)),
		zap.String("reason", string(session.EndReason)),
		zap.Duration("elapsed", session.Elapsed),
		zap.Int("turnCount", session.TurnCount))

	r.notify(NotifySessionEnded, SessionEnded{Status: session.Status, Reason: session.EndReason})
	close(r.done)

	if r.onEnd != nil {
		go r.onEnd(session.Clone())
	}
}

func (r *Runtime) publish(now time.Time, push bool) {
	session := r.controller.Session()
	st := &State{
		SessionID:          r.id,
		Status:             session.Status,
		EndReason:          session.EndReason,
		SpeechState:        r.coordinator.State(),
		Capturing:          r.coordinator.Capturing(),
		Synthesizing:       r.utterance != "",
		Behavior:           r.aggregator.Snapshot(),
		ActiveFeedback:     r.throttler.Active(),
		FeedbackQueueDepth: r.throttler.QueueDepth(),
		BudgetSeconds:      session.Budget.Seconds(),
		ElapsedSeconds:     session.Elapsed.Seconds(),
		RemainingSeconds:   session.Remaining().Seconds(),
		TurnCount:          session.TurnCount,
		Turns:              session.History(),
		Transcript:         r.coordinator.Transcript(),
		AwaitingReply:      r.controller.InFlight(),
		RetryAvailable:     r.controller.FailedTurn() != nil,
		Muted:              session.Muted,
		LastError:          r.lastErr,
		UpdatedAt:          now,
	}
	r.state.Store(st)

	if push || r.pushPending {
		r.pushPending = false
		r.notify(NotifyState, st)
	}
}
