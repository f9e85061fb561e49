package interview

import (
	"errors"
	"fmt"
	"time"

	"github.com/careerpath/interviewcoach/server/domain/repositories"
	"github.com/careerpath/interviewcoach/server/internal/behavior"
	"github.com/careerpath/interviewcoach/server/internal/feedback"
	"github.com/careerpath/interviewcoach/server/internal/speech"
	"github.com/careerpath/interviewcoach/server/internal/turn"
)

const (
	DefaultLoopInterval    = 100 * time.Millisecond
	DefaultDialogueTimeout = 45 * time.Second
	DefaultSpeechWatchdog  = 15 * time.Second
	// Added to the watchdog per character of spoken text.
	speechWatchdogPerChar = 80 * time.Millisecond
)

// Config configures one session runtime
type Config struct {
	Behavior behavior.Config
	Speech   speech.Config
	Feedback feedback.Config
	Turn     turn.Config

	// LoopInterval is how often due timers are fired. Zero disables the
	// internal ticker; callers then drive time with Tick.
	LoopInterval    time.Duration
	FeedbackTick    time.Duration
	DialogueTimeout time.Duration
	SpeechWatchdog  time.Duration
	EventTimeout    time.Duration
	QueueCapacity   int
	Audio           repositories.AudioConfig
}

// DefaultConfig returns the default runtime configuration
func DefaultConfig() Config {
	return Config{
		Behavior:        behavior.DefaultConfig(),
		Speech:          speech.DefaultConfig(),
		Feedback:        feedback.DefaultConfig(),
		Turn:            turn.DefaultConfig(),
		LoopInterval:    DefaultLoopInterval,
		FeedbackTick:    feedback.DefaultTickInterval,
		DialogueTimeout: DefaultDialogueTimeout,
		SpeechWatchdog:  DefaultSpeechWatchdog,
		EventTimeout:    defaultEventTimeout,
		QueueCapacity:   defaultQueueCapacity,
		Audio: repositories.AudioConfig{
			SampleRate: 16000,
			Encoding:   "LINEAR16",
			Language:   "en-US",
		},
	}
}

// Validate validates the runtime configuration
func (c Config) Validate() error {
	if err := c.Behavior.Validate(); err != nil {
		return fmt.Errorf("behavior: %w", err)
	}
	if err := c.Speech.Validate(); err != nil {
		return fmt.Errorf("speech: %w", err)
	}
	if err := c.Feedback.Validate(); err != nil {
		return fmt.Errorf("feedback: %w", err)
	}
	if err := c.Turn.Validate(); err != nil {
		return fmt.Errorf("turn: %w", err)
	}
	if c.LoopInterval < 0 {
		return errors.New("loop interval cannot be negative")
	}
	if c.FeedbackTick <= 0 {
		return errors.New("feedback tick must be positive")
	}
	if c.DialogueTimeout <= 0 {
		return errors.New("dialogue timeout must be positive")
	}
	if c.SpeechWatchdog <= 0 {
		return errors.New("speech watchdog must be positive")
	}
	return nil
}

func (c Config) watchdogFor(text string) time.Duration {
	return c.SpeechWatchdog + time.Duration(len(text))*speechWatchdogPerChar
}
