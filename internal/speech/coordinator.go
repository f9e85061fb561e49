// Package speech arbitrates the half-duplex audio channel between speech
// capture and speech synthesis, accumulates the candidate's transcript and
// detects the end of a turn by silence.
package speech

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/careerpath/interviewcoach/server/domain/entities"
	"github.com/careerpath/interviewcoach/server/internal/schedule"
)

const (
	DefaultCooldownDelay    = 2500 * time.Millisecond
	DefaultSilenceThreshold = 3 * time.Second
	DefaultMinConfidence    = 0.5
	DefaultMaxRestarts      = 3
)

var (
	// ErrSpeaking is returned when capture is requested while synthesis owns the channel.
	ErrSpeaking = errors.New("speech: synthesis in progress")
	// ErrSessionInactive is returned when capture is requested after the session ended.
	ErrSessionInactive = errors.New("speech: session is not active")
	// ErrCaptureUnavailable wraps failures to open the capture device.
	ErrCaptureUnavailable = errors.New("speech: capture unavailable")
	// ErrRecognitionFailed is surfaced when the recognizer cannot be restarted.
	ErrRecognitionFailed = errors.New("speech: recognition failed")
)

// Capture starts and stops the microphone-side recognizer
type Capture interface {
	StartCapture() error
	StopCapture()
}

// Config configures the coordinator
type Config struct {
	CooldownDelay    time.Duration `mapstructure:"cooldown"`
	SilenceThreshold time.Duration `mapstructure:"silence_threshold"`
	MinConfidence    float64       `mapstructure:"min_confidence"`
	MaxRestarts      int           `mapstructure:"max_recognition_restarts"`
}

// DefaultConfig returns the default coordinator configuration
func DefaultConfig() Config {
	return Config{
		CooldownDelay:    DefaultCooldownDelay,
		SilenceThreshold: DefaultSilenceThreshold,
		MinConfidence:    DefaultMinConfidence,
		MaxRestarts:      DefaultMaxRestarts,
	}
}

// Validate validates the coordinator configuration
func (c Config) Validate() error {
	if c.CooldownDelay < 0 {
		return errors.New("cooldown cannot be negative")
	}
	if c.SilenceThreshold <= 0 {
		return errors.New("silence threshold must be positive")
	}
	if c.MinConfidence < 0 || c.MinConfidence >= 1 {
		return errors.New("min confidence must be in [0, 1)")
	}
	if c.MaxRestarts < 0 {
		return errors.New("max recognition restarts cannot be negative")
	}
	return nil
}

// Callbacks are invoked synchronously from coordinator methods
type Callbacks struct {
	OnAutoSubmit  func(text string, confidence *float64)
	OnStateChange func(from, to entities.SpeechState)
	OnError       func(err *entities.SessionError)
}

// Coordinator is the speech state machine. It is not safe for concurrent use;
// the session loop owns it.
type Coordinator struct {
	cfg       Config
	capture   Capture
	sched     *schedule.Scheduler
	callbacks Callbacks
	logger    *zap.Logger

	state        entities.SpeechState
	active       bool
	capturing    bool
	captureBroke bool
	restarts     int

	// synthesizing stays set until the utterance ends, even after an explicit stop
	synthesizing bool
	echoUntil    time.Time

	buffer       TranscriptBuffer
	lastSpeechAt time.Time
	silence      *schedule.Timer
	cooldown     *schedule.Timer
}

// NewCoordinator creates a coordinator in the Idle state for an active session
func NewCoordinator(cfg Config, capture Capture, sched *schedule.Scheduler, callbacks Callbacks, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		cfg:       cfg,
		capture:   capture,
		sched:     sched,
		callbacks: callbacks,
		logger:    logger,
		state:     entities.SpeechIdle,
		active:    true,
	}
}

// State returns the current speech state
func (c *Coordinator) State() entities.SpeechState {
	return c.state
}

// Capturing reports whether the microphone is open
func (c *Coordinator) Capturing() bool {
	return c.capturing
}

// Synthesizing reports whether an interviewer utterance still owns the channel
func (c *Coordinator) Synthesizing() bool {
	return c.synthesizing
}

// Transcript returns the text buffered since the last submission
func (c *Coordinator) Transcript() string {
	return c.buffer.Text()
}

// CooldownDeadline returns when the pending cooldown ends
func (c *Coordinator) CooldownDeadline() (time.Time, bool) {
	if !c.cooldown.Active() {
		return time.Time{}, false
	}
	return c.cooldown.Deadline(), true
}

// StartListening opens the microphone. It fails while synthesis owns the
// channel and until the echo of a stopped utterance has drained.
func (c *Coordinator) StartListening(now time.Time) error {
	switch {
	case !c.active:
		return ErrSessionInactive
	case c.state == entities.SpeechSpeaking || c.state == entities.SpeechCoolingDown:
		return ErrSpeaking
	case c.synthesizing || now.Before(c.echoUntil):
		return ErrSpeaking
	case c.state == entities.SpeechListening:
		return nil
	}
	c.captureBroke = false
	return c.enterListening(now)
}

// StopListening returns to Idle from any state and cancels a pending cooldown.
// An utterance that is still playing keeps the channel until it ends.
func (c *Coordinator) StopListening(now time.Time) {
	c.cooldown.Cancel()
	c.silence.Cancel()
	c.stopCapture()
	c.setState(entities.SpeechIdle)
}

// NotifySpeechWillStart hands the channel to synthesis. Capture is closed
// before this returns, so no later transcript is accepted until listening resumes.
func (c *Coordinator) NotifySpeechWillStart(now time.Time) {
	c.cooldown.Cancel()
	c.silence.Cancel()
	c.stopCapture()
	c.synthesizing = true
	c.echoUntil = time.Time{}
	c.setState(entities.SpeechSpeaking)
}

// NotifySpeechEnded starts the cooldown that drains playback echo
func (c *Coordinator) NotifySpeechEnded(now time.Time) {
	wasSynthesizing := c.synthesizing
	c.synthesizing = false
	if c.state != entities.SpeechSpeaking {
		if wasSynthesizing {
			// Stopped while speaking: stay Idle but keep the microphone shut through the echo.
			c.echoUntil = now.Add(c.cfg.CooldownDelay)
		}
		c.logger.Debug("Speech ended outside speaking state", zap.Stringer("speechState", c.state))
		return
	}
	c.setState(entities.SpeechCoolingDown)
	c.cooldown = c.sched.After("speech.cooldown", now, c.cfg.CooldownDelay, c.finishCooldown)
}

func (c *Coordinator) finishCooldown(now time.Time) {
	c.cooldown = nil
	if c.state != entities.SpeechCoolingDown {
		return
	}
	if !c.active || c.captureBroke {
		c.setState(entities.SpeechIdle)
		return
	}
	_ = c.enterListening(now)
}

// OnTranscript offers a recognized segment. It reports whether the segment was accepted.
func (c *Coordinator) OnTranscript(now time.Time, segment entities.TranscriptSegment) bool {
	if c.state != entities.SpeechListening {
		c.logger.Debug("Transcript dropped outside listening state",
			zap.Stringer("speechState", c.state),
			zap.Bool("final", segment.Final))
		return false
	}
	if strings.TrimSpace(segment.Text) == "" || segment.Confidence <= c.cfg.MinConfidence {
		c.logger.Debug("Transcript below confidence threshold",
			zap.Float64("confidence", segment.Confidence),
			zap.Bool("final", segment.Final))
		return false
	}

	c.buffer.Add(segment)
	c.restarts = 0
	c.armSilence(now)
	return true
}

// OnRecognitionEnded restarts a recognizer that stopped while the session is
// still listening. Restarts are bounded; when they run out the coordinator
// returns to Idle and surfaces the failure.
func (c *Coordinator) OnRecognitionEnded(now time.Time, cause error) {
	if c.state != entities.SpeechListening || !c.active {
		return
	}
	c.capturing = false

	for c.restarts < c.cfg.MaxRestarts {
		c.restarts++
		err := c.capture.StartCapture()
		if err == nil {
			c.capturing = true
			c.logger.Info("Recognizer restarted",
				zap.Int("attempt", c.restarts),
				zap.NamedError("cause", cause))
			return
		}
		c.logger.Warn("Recognizer restart failed", zap.Int("attempt", c.restarts), zap.Error(err))
	}

	c.silence.Cancel()
	c.captureBroke = true
	c.capture.StopCapture()
	c.setState(entities.SpeechIdle)
	msg := fmt.Sprintf("recognizer stopped after %d restarts", c.restarts)
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	c.report(now, entities.ErrorRecognitionFailed, msg)
}

// CaptureFailed handles a capture device that became unavailable while
// listening. It is not restarted until listening is requested again.
func (c *Coordinator) CaptureFailed(now time.Time, cause string) {
	if c.state != entities.SpeechListening {
		return
	}
	c.silence.Cancel()
	c.captureBroke = true
	c.stopCapture()
	c.setState(entities.SpeechIdle)
	c.report(now, entities.ErrorCaptureUnavailable, cause)
}

// Submit takes the buffered transcript for an explicit submission
func (c *Coordinator) Submit() (string, *float64, bool) {
	if c.buffer.Empty() {
		return "", nil, false
	}
	return c.take()
}

// Discard drops the buffered transcript after text was submitted directly
func (c *Coordinator) Discard() {
	if c.buffer.Empty() {
		c.silence.Cancel()
		c.silence = nil
		return
	}
	c.take()
}

// Restore returns rejected text to the buffer so it is submitted later
func (c *Coordinator) Restore(now time.Time, text string) {
	c.buffer.Restore(text)
	if c.state == entities.SpeechListening && !c.buffer.Empty() {
		c.armSilence(now)
	}
}

// End deactivates the coordinator, cancelling its timers and closing capture
func (c *Coordinator) End(now time.Time) {
	c.active = false
	c.StopListening(now)
	c.synthesizing = false
	c.buffer.Clear()
	c.lastSpeechAt = time.Time{}
}

func (c *Coordinator) enterListening(now time.Time) error {
	if err := c.capture.StartCapture(); err != nil {
		c.captureBroke = true
		c.setState(entities.SpeechIdle)
		c.report(now, entities.ErrorCaptureUnavailable, err.Error())
		return fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}
	c.capturing = true
	c.restarts = 0
	c.setState(entities.SpeechListening)
	if !c.buffer.Empty() {
		c.armSilence(now)
	}
	return nil
}

func (c *Coordinator) stopCapture() {
	if !c.capturing {
		return
	}
	c.capturing = false
	c.capture.StopCapture()
}

func (c *Coordinator) armSilence(now time.Time) {
	c.lastSpeechAt = now
	c.silence.Cancel()
	c.silence = c.sched.After("speech.silence", now, c.cfg.SilenceThreshold, c.checkSilence)
}

func (c *Coordinator) checkSilence(now time.Time) {
	c.silence = nil
	if c.state != entities.SpeechListening || c.buffer.Empty() {
		return
	}
	text, confidence, _ := c.take()
	c.logger.Debug("Silence threshold reached, auto-submitting",
		zap.Duration("silence", now.Sub(c.lastSpeechAt)),
		zap.Int("chars", len(text)))
	c.lastSpeechAt = time.Time{}
	if c.callbacks.OnAutoSubmit != nil {
		c.callbacks.OnAutoSubmit(text, confidence)
	}
}

func (c *Coordinator) take() (string, *float64, bool) {
	text := c.buffer.Text()
	var confidence *float64
	if v, ok := c.buffer.Confidence(); ok {
		confidence = &v
	}
	c.buffer.Clear()
	c.silence.Cancel()
	c.silence = nil
	return text, confidence, true
}

func (c *Coordinator) setState(to entities.SpeechState) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.logger.Debug("Speech state changed", zap.Stringer("from", from), zap.Stringer("to", to))
	if c.callbacks.OnStateChange != nil {
		c.callbacks.OnStateChange(from, to)
	}
}

func (c *Coordinator) report(now time.Time, kind entities.ErrorKind, msg string) {
	c.logger.Warn("Speech coordinator error", zap.String("kind", string(kind)), zap.String("message", msg))
	if c.callbacks.OnError != nil {
		c.callbacks.OnError(&entities.SessionError{Kind: kind, Message: msg, Recoverable: true, At: now})
	}
}
