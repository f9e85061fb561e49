package interview

import (
	"time"

	"github.com/careerpath/interviewcoach/server/domain/entities"
)

// Notification types pushed to the attached client
const (
	NotifyState         = "state"
	NotifySpeakingStart = "speaking_start"
	NotifyAudioEnd      = "audio_end"
	NotifyCaptureStart  = "capture_start"
	NotifyCaptureStop   = "capture_stop"
	NotifyFeedback      = "feedback"
	NotifyAutoSubmitted = "auto_submitted"
	NotifyError         = "error"
	NotifySessionEnded  = "session_ended"
)

// Notification is a server-initiated message for the presentation layer
type Notification struct {
	Type    string
	Payload interface{}
}

// Sink receives notifications and synthesized audio for one attached client.
// Implementations must be safe for concurrent use and must not block.
type Sink interface {
	Notify(n Notification)
	SendAudio(chunk []byte)
	// CanCapture reports whether the client can open a microphone and run recognition.
	CanCapture() bool
}

// SpeakingStart announces an interviewer utterance
type SpeakingStart struct {
	UtteranceID string `json:"utterance_id"`
	Text        string `json:"text"`
	// ServerAudio is false when the client must synthesize the text itself.
	ServerAudio bool `json:"server_audio"`
}

// AudioEnd marks the last synthesized chunk of an utterance
type AudioEnd struct {
	UtteranceID string `json:"utterance_id"`
}

// AutoSubmitted reports a silence-triggered submission
type AutoSubmitted struct {
	Text string `json:"text"`
}

// SessionEnded reports the end of the interview
type SessionEnded struct {
	Status entities.SessionStatus `json:"status"`
	Reason entities.EndReason     `json:"reason"`
}

// State is the read-only view of a session published after every event
type State struct {
	SessionID          string                    `json:"session_id"`
	Status             entities.SessionStatus    `json:"status"`
	EndReason          entities.EndReason        `json:"end_reason,omitempty"`
	SpeechState        entities.SpeechState      `json:"speech_state"`
	Capturing          bool                      `json:"capturing"`
	Synthesizing       bool                      `json:"synthesizing"`
	Behavior           entities.BehaviorSnapshot `json:"behavior"`
	ActiveFeedback     *entities.FeedbackMessage `json:"active_feedback,omitempty"`
	FeedbackQueueDepth int                       `json:"feedback_queue_depth"`
	BudgetSeconds      float64                   `json:"budget_seconds"`
	ElapsedSeconds     float64                   `json:"elapsed_seconds"`
	RemainingSeconds   float64                   `json:"remaining_seconds"`
	TurnCount          int                       `json:"turn_count"`
	Turns              []entities.SessionMessage `json:"turns"`
	Transcript         string                    `json:"transcript"`
	AwaitingReply      bool                      `json:"awaiting_reply"`
	RetryAvailable     bool                      `json:"retry_available"`
	Muted              bool                      `json:"muted"`
	LastError          *entities.SessionError    `json:"last_error,omitempty"`
	UpdatedAt          time.Time                 `json:"updated_at"`
}
