package entities

import "time"

// SpeechState is the half-duplex audio channel state
type SpeechState int

const (
	SpeechIdle SpeechState = iota
	SpeechListening
	SpeechSpeaking
	SpeechCoolingDown
)

func (s SpeechState) String() string {
	switch s {
	case SpeechIdle:
		return "idle"
	case SpeechListening:
		return "listening"
	case SpeechSpeaking:
		return "speaking"
	case SpeechCoolingDown:
		return "cooling_down"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name
func (s SpeechState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TranscriptSegment is one interim or final recognition result
type TranscriptSegment struct {
	Text       string  `json:"text"`
	Final      bool    `json:"final"`
	Confidence float64 `json:"confidence"`
}

// ErrorKind classifies a session-facing failure
type ErrorKind string

const (
	ErrorCaptureUnavailable ErrorKind = "capture_unavailable"
	ErrorRecognitionFailed  ErrorKind = "recognition_failed"
	ErrorSynthesisFailed    ErrorKind = "synthesis_failed"
	ErrorDialogueFailed     ErrorKind = "dialogue_failed"
	ErrorInvalidEvent       ErrorKind = "invalid_event"
)

// SessionError is a failure surfaced to the candidate. None of them end the session.
type SessionError struct {
	Kind        ErrorKind `json:"kind"`
	Message     string    `json:"message"`
	Recoverable bool      `json:"recoverable"`
	At          time.Time `json:"at"`
}

func (e *SessionError) Error() string {
	return string(e.Kind) + ": " + e.Message
}
