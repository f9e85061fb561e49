// Package feedback turns sustained bad behavior into coaching messages, one per
// episode per dimension, shown one at a time from a FIFO queue.
package feedback

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/careerpath/interviewcoach/server/domain/entities"
	"github.com/careerpath/interviewcoach/server/internal/schedule"
)

const (
	DefaultDisplayDuration = 5 * time.Second
	DefaultTickInterval    = time.Second

	DefaultEyeContactThreshold = 6 * time.Second
	DefaultPostureThreshold    = 8 * time.Second
	DefaultHandThreshold       = 10 * time.Second

	persistResolution = time.Millisecond
)

// Rule is the persistence threshold and message for one dimension
type Rule struct {
	Threshold time.Duration
	Message   string
}

// Config configures the throttler
type Config struct {
	DisplayDuration time.Duration
	Rules           map[entities.Dimension]Rule
}

// DefaultConfig returns the default throttler configuration
func DefaultConfig() Config {
	return Config{
		DisplayDuration: DefaultDisplayDuration,
		Rules: map[entities.Dimension]Rule{
			entities.DimensionEyeContact: {
				Threshold: DefaultEyeContactThreshold,
				Message:   "Try to maintain eye contact with the camera.",
			},
			entities.DimensionPosture: {
				Threshold: DefaultPostureThreshold,
				Message:   "Sit up straight and keep your shoulders relaxed.",
			},
			entities.DimensionHand: {
				Threshold: DefaultHandThreshold,
				Message:   "Keep your hands calm; constant gesturing distracts the interviewer.",
			},
		},
	}
}

// Validate validates the throttler configuration
func (c Config) Validate() error {
	if c.DisplayDuration <= 0 {
		return errors.New("display duration must be positive")
	}
	for d, rule := range c.Rules {
		if !d.Valid() {
			return fmt.Errorf("unknown dimension %q", d)
		}
		if rule.Threshold <= 0 {
			return fmt.Errorf("%s threshold must be positive", d)
		}
		if rule.Message == "" {
			return fmt.Errorf("%s message is required", d)
		}
	}
	return nil
}

// Throttler watches behavior snapshots and queues coaching messages.
// It is not safe for concurrent use; the session loop owns it.
type Throttler struct {
	cfg    Config
	sched  *schedule.Scheduler
	logger *zap.Logger
	onShow func(msg entities.FeedbackMessage)

	episodes map[entities.Dimension]*episode
	last     entities.BehaviorSnapshot
	queue    []entities.FeedbackMessage
	active   *entities.FeedbackMessage
	expiry   *schedule.Timer
	given    int
}

type episode struct {
	entities.FeedbackEpisode
	persist *schedule.Timer
}

// NewThrottler creates a throttler. onShow, if set, is called when a message becomes active.
func NewThrottler(cfg Config, sched *schedule.Scheduler, onShow func(msg entities.FeedbackMessage), logger *zap.Logger) *Throttler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DisplayDuration <= 0 {
		cfg.DisplayDuration = DefaultDisplayDuration
	}
	return &Throttler{
		cfg:      cfg,
		sched:    sched,
		logger:   logger,
		onShow:   onShow,
		episodes: make(map[entities.Dimension]*episode),
	}
}

// Tick reconciles episodes with the snapshot and returns the messages enqueued by this call
func (t *Throttler) Tick(now time.Time, snapshot entities.BehaviorSnapshot) []entities.FeedbackMessage {
	t.last = snapshot
	var enqueued []entities.FeedbackMessage
	for _, d := range entities.Dimensions {
		if msg, ok := t.evaluate(now, d); ok {
			enqueued = append(enqueued, msg)
		}
	}
	t.promote(now)
	return enqueued
}

func (t *Throttler) evaluate(now time.Time, d entities.Dimension) (entities.FeedbackMessage, bool) {
	rule, ok := t.cfg.Rules[d]
	if !ok {
		return entities.FeedbackMessage{}, false
	}
	metric := t.last.Metric(d)

	ep := t.episodes[d]
	if ep != nil && (!metric.CurrentState || metric.TransitionCount != ep.Onset) {
		t.closeEpisode(d, ep)
		ep = nil
	}
	if !metric.CurrentState {
		return entities.FeedbackMessage{}, false
	}
	if ep == nil {
		ep = t.openEpisode(now, d, metric, rule)
	}

	// The bad state has to outlast the threshold, not merely reach it.
	if ep.FeedbackGiven || now.Sub(ep.BadStateStartTime) <= rule.Threshold {
		return entities.FeedbackMessage{}, false
	}
	ep.FeedbackGiven = true
	ep.persist.Cancel()

	msg := entities.FeedbackMessage{
		ID:          uuid.NewString(),
		Text:        rule.Message,
		Dimension:   d,
		EnqueueTime: now,
	}
	t.queue = append(t.queue, msg)
	t.given++
	t.logger.Info("Feedback enqueued",
		zap.String("dimension", string(d)),
		zap.Duration("badFor", now.Sub(ep.BadStateStartTime)),
		zap.Int("queueDepth", len(t.queue)))
	return msg, true
}

func (t *Throttler) openEpisode(now time.Time, d entities.Dimension, metric entities.BehaviorMetric, rule Rule) *episode {
	start := now
	if ts := metric.LastTransitionTimestamp; !ts.IsZero() && !ts.After(now) {
		start = ts
	}
	ep := &episode{FeedbackEpisode: entities.FeedbackEpisode{
		Dimension:         d,
		BadStateStartTime: start,
		Onset:             metric.TransitionCount,
	}}
	ep.persist = t.sched.At("feedback.persist."+string(d), start.Add(rule.Threshold+persistResolution), func(now time.Time) {
		if t.episodes[d] != ep {
			return
		}
		t.evaluate(now, d)
		t.promote(now)
	})
	t.episodes[d] = ep
	t.logger.Debug("Feedback episode opened", zap.String("dimension", string(d)), zap.Time("badSince", start))
	return ep
}

func (t *Throttler) closeEpisode(d entities.Dimension, ep *episode) {
	ep.persist.Cancel()
	delete(t.episodes, d)
	t.logger.Debug("Feedback episode closed",
		zap.String("dimension", string(d)),
		zap.Bool("feedbackGiven", ep.FeedbackGiven))
}

func (t *Throttler) promote(now time.Time) {
	if t.active != nil || len(t.queue) == 0 {
		return
	}
	msg := t.queue[0]
	t.queue = t.queue[1:]
	msg.ShownAt = now
	msg.ExpiresAt = now.Add(t.cfg.DisplayDuration)
	t.active = &msg
	t.expiry = t.sched.At("feedback.expire", msg.ExpiresAt, func(now time.Time) {
		t.expiry = nil
		t.active = nil
		t.promote(now)
	})
	if t.onShow != nil {
		t.onShow(msg)
	}
}

// Dismiss hides the active message early. An empty id dismisses whatever is active.
func (t *Throttler) Dismiss(now time.Time, id string) bool {
	if t.active == nil || (id != "" && t.active.ID != id) {
		return false
	}
	t.expiry.Cancel()
	t.expiry = nil
	t.active = nil
	t.promote(now)
	return true
}

// Active returns the message currently shown
func (t *Throttler) Active() *entities.FeedbackMessage {
	if t.active == nil {
		return nil
	}
	msg := *t.active
	return &msg
}

// Queue returns the messages waiting behind the active one
func (t *Throttler) Queue() []entities.FeedbackMessage {
	queue := make([]entities.FeedbackMessage, len(t.queue))
	copy(queue, t.queue)
	return queue
}

// QueueDepth returns the number of waiting messages
func (t *Throttler) QueueDepth() int {
	return len(t.queue)
}

// Episode returns the open episode for a dimension
func (t *Throttler) Episode(d entities.Dimension) (entities.FeedbackEpisode, bool) {
	ep, ok := t.episodes[d]
	if !ok {
		return entities.FeedbackEpisode{}, false
	}
	return ep.FeedbackEpisode, true
}

// Given returns how many messages were enqueued over the session
func (t *Throttler) Given() int {
	return t.given
}

// End cancels every timer and drops queued messages
func (t *Throttler) End() {
	for d, ep := range t.episodes {
		t.closeEpisode(d, ep)
	}
	t.expiry.Cancel()
	t.expiry = nil
	t.active = nil
	t.queue = nil
}
