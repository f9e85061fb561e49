// Package behavior turns the per-frame detector stream into per-dimension
// states, edge counts and cumulative bad durations.
package behavior

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/careerpath/interviewcoach/server/domain/entities"
)

// DefaultDropoutGrace is how long the aggregator waits for a sample before decaying to defaults
const DefaultDropoutGrace = 3 * time.Second

// Config configures the aggregator
type Config struct {
	DropoutGrace time.Duration `mapstructure:"dropout_grace"`
}

// DefaultConfig returns the default aggregator configuration
func DefaultConfig() Config {
	return Config{DropoutGrace: DefaultDropoutGrace}
}

// Validate validates the aggregator configuration
func (c Config) Validate() error {
	if c.DropoutGrace <= 0 {
		return errors.New("dropout grace must be positive")
	}
	return nil
}

// Aggregator folds frame samples into behavior metrics. It is not safe for
// concurrent use; the session loop owns it.
type Aggregator struct {
	cfg     Config
	logger  *zap.Logger
	metrics map[entities.Dimension]*entities.BehaviorMetric

	handPresence bool
	facePresence bool
	posePresence bool

	started     bool
	decayed     bool
	lastSample  time.Time
	lastAccrual time.Time
	samples     int
}

// NewAggregator creates an aggregator with every dimension in the good state
func NewAggregator(cfg Config, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DropoutGrace <= 0 {
		cfg.DropoutGrace = DefaultDropoutGrace
	}
	a := &Aggregator{cfg: cfg, logger: logger}
	a.Reset()
	return a
}

// Reset clears every metric
func (a *Aggregator) Reset() {
	a.metrics = make(map[entities.Dimension]*entities.BehaviorMetric, len(entities.Dimensions))
	for _, d := range entities.Dimensions {
		a.metrics[d] = &entities.BehaviorMetric{Dimension: d}
	}
	a.handPresence, a.facePresence, a.posePresence = false, false, false
	a.started, a.decayed = false, false
	a.lastSample, a.lastAccrual = time.Time{}, time.Time{}
	a.samples = 0
}

// Ingest folds one sample into the metrics. The interval since the previous
// sample is credited to dimensions that were bad before this sample, so a bad
// interval is counted from its first bad sample to its first good one.
func (a *Aggregator) Ingest(sample entities.FrameSample) {
	if a.started {
		if sample.Timestamp.Before(a.lastSample) {
			a.logger.Debug("Out of order frame sample",
				zap.Time("sampleAt", sample.Timestamp),
				zap.Time("lastSampleAt", a.lastSample))
			sample.Timestamp = a.lastSample
		}
		a.accrue(sample.Timestamp)
	} else {
		a.started = true
		a.lastAccrual = sample.Timestamp
	}

	for _, d := range entities.Dimensions {
		a.apply(a.metrics[d], sample.State(d), sample.Timestamp)
	}

	a.handPresence = sample.HandPresent
	a.facePresence = sample.FacePresent
	a.posePresence = sample.PosePresent
	a.lastSample = sample.Timestamp
	a.decayed = false
	a.samples++
}

// CheckDropout decays every state to its default when no sample has arrived
// within the grace period. Bad time is credited only up to the end of the
// grace period. It reports whether a decay happened on this call.
func (a *Aggregator) CheckDropout(now time.Time) bool {
	if !a.started || a.decayed || now.Sub(a.lastSample) <= a.cfg.DropoutGrace {
		return false
	}

	a.accrue(now)
	decayAt := a.lastSample.Add(a.cfg.DropoutGrace)
	for _, d := range entities.Dimensions {
		a.apply(a.metrics[d], false, decayAt)
	}
	a.handPresence, a.facePresence, a.posePresence = false, false, false
	a.decayed = true

	a.logger.Info("Detector dropout, behavior states decayed",
		zap.Time("lastSampleAt", a.lastSample),
		zap.Duration("grace", a.cfg.DropoutGrace))
	return true
}

// DropoutDeadline returns when the current stream would be considered stalled
func (a *Aggregator) DropoutDeadline() (time.Time, bool) {
	if !a.started || a.decayed {
		return time.Time{}, false
	}
	return a.lastSample.Add(a.cfg.DropoutGrace), true
}

func (a *Aggregator) accrue(now time.Time) {
	end := now
	if limit := a.lastSample.Add(a.cfg.DropoutGrace); end.After(limit) {
		end = limit
	}
	if dt := end.Sub(a.lastAccrual); dt > 0 {
		for _, m := range a.metrics {
			if m.CurrentState {
				m.CumulativeBadDuration += dt
			}
		}
	}
	if now.After(a.lastAccrual) {
		a.lastAccrual = now
	}
}

func (a *Aggregator) apply(m *entities.BehaviorMetric, state bool, at time.Time) {
	if m.CurrentState == state {
		return
	}
	m.CurrentState = state
	m.LastTransitionTimestamp = at
	if state {
		m.TransitionCount++
	}
	a.logger.Debug("Behavior transition",
		zap.String("dimension", string(m.Dimension)),
		zap.Bool("bad", state),
		zap.Int("transitionCount", m.TransitionCount))
}

// Snapshot returns a copy of the current metrics
func (a *Aggregator) Snapshot() entities.BehaviorSnapshot {
	return entities.BehaviorSnapshot{
		Hand:         *a.metrics[entities.DimensionHand],
		EyeContact:   *a.metrics[entities.DimensionEyeContact],
		Posture:      *a.metrics[entities.DimensionPosture],
		HandPresence: a.handPresence,
		FacePresence: a.facePresence,
		PosePresence: a.posePresence,
		LastSampleAt: a.lastSample,
		Samples:      a.samples,
	}
}
