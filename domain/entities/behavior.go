package entities

import "time"

// Dimension is one monitored behavioral category
type Dimension string

const (
	DimensionHand       Dimension = "hand"
	DimensionEyeContact Dimension = "eye_contact"
	DimensionPosture    Dimension = "posture"
)

// Dimensions lists every monitored dimension in display order
var Dimensions = []Dimension{DimensionEyeContact, DimensionPosture, DimensionHand}

// Valid reports whether d is a known dimension
func (d Dimension) Valid() bool {
	switch d {
	case DimensionHand, DimensionEyeContact, DimensionPosture:
		return true
	}
	return false
}

// FrameSample is one per-frame detection emitted by the landmark detector
type FrameSample struct {
	Timestamp      time.Time `json:"timestamp"`
	HandPresent    bool      `json:"hand_present"`
	FacePresent    bool      `json:"face_present"`
	PosePresent    bool      `json:"pose_present"`
	EyeContactLost bool      `json:"eye_contact_lost"`
	PostureBad     bool      `json:"posture_bad"`
}

// State returns the "bad" boolean the sample carries for a dimension
func (s FrameSample) State(d Dimension) bool {
	switch d {
	case DimensionHand:
		return s.HandPresent
	case DimensionEyeContact:
		return s.EyeContactLost
	case DimensionPosture:
		return s.PostureBad
	}
	return false
}

// BehaviorMetric tracks one dimension's debounced state and counters
type BehaviorMetric struct {
	Dimension               Dimension     `json:"dimension"`
	CurrentState            bool          `json:"current_state"`
	TransitionCount         int           `json:"transition_count"`
	CumulativeBadDuration   time.Duration `json:"cumulative_bad_duration"`
	LastTransitionTimestamp time.Time     `json:"last_transition_timestamp"`
}

// BehaviorSnapshot is a read-only copy of the aggregator state
type BehaviorSnapshot struct {
	Hand         BehaviorMetric `json:"hand"`
	EyeContact   BehaviorMetric `json:"eye_contact"`
	Posture      BehaviorMetric `json:"posture"`
	HandPresence bool           `json:"hand_presence"`
	FacePresence bool           `json:"face_presence"`
	PosePresence bool           `json:"pose_presence"`
	LastSampleAt time.Time      `json:"last_sample_at"`
	Samples      int            `json:"samples"`
}

// Metric returns the metric for a dimension
func (s BehaviorSnapshot) Metric(d Dimension) BehaviorMetric {
	switch d {
	case DimensionHand:
		return s.Hand
	case DimensionEyeContact:
		return s.EyeContact
	case DimensionPosture:
		return s.Posture
	}
	return BehaviorMetric{Dimension: d}
}
