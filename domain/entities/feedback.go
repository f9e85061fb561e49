package entities

import "time"

// FeedbackEpisode is the per-dimension state of one continuous bad period.
// It lives only while the dimension stays bad.
type FeedbackEpisode struct {
	Dimension         Dimension
	BadStateStartTime time.Time
	FeedbackGiven     bool
	// Onset is the metric's transition count when the episode opened.
	Onset int
}

// FeedbackMessage is a coaching message waiting in, or shown from, the feedback queue
type FeedbackMessage struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	Dimension   Dimension `json:"dimension"`
	EnqueueTime time.Time `json:"enqueue_time"`
	ShownAt     time.Time `json:"shown_at,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}
