package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/careerpath/interviewcoach/server/domain/entities"
	"github.com/careerpath/interviewcoach/server/internal/interview"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Client to server message types
const (
	MessageTypeFrame              MessageType = "frame"
	MessageTypeTranscript         MessageType = "transcript"
	MessageTypeRecognitionEnded   MessageType = "recognition_ended"
	MessageTypeCaptureUnavailable MessageType = "capture_unavailable"
	MessageTypeSpeechStarted      MessageType = "speech_started"
	MessageTypeSpeechEnded        MessageType = "speech_ended"
	MessageTypeStartListening     MessageType = "start_listening"
	MessageTypeStopListening      MessageType = "stop_listening"
	MessageTypeSubmit             MessageType = "submit"
	MessageTypeRetry              MessageType = "retry"
	MessageTypeDismissFeedback    MessageType = "dismiss_feedback"
	MessageTypeEnd                MessageType = "end"
	MessageTypePing               MessageType = "ping"
)

// Server to client message types not produced by the session runtime
const (
	MessageTypePong  MessageType = "pong"
	MessageTypeError MessageType = interview.NotifyError
)

// Envelope wraps every JSON message in both directions
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OutboundEnvelope is an envelope whose payload is not yet encoded
type OutboundEnvelope struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// FrameMessage is one detector frame
type FrameMessage struct {
	// TimestampMs is the detector's monotonic clock in milliseconds, zero if unknown
	TimestampMs    float64 `json:"timestamp_ms"`
	HandPresent    bool    `json:"hand_present"`
	FacePresent    bool    `json:"face_present"`
	PosePresent    bool    `json:"pose_present"`
	EyeContactLost bool    `json:"eye_contact_lost"`
	PostureBad     bool    `json:"posture_bad"`
}

// FrameInput converts the message for the session runtime
func (m *FrameMessage) FrameInput() interview.FrameInput {
	return interview.FrameInput{
		ClientTime:     time.Duration(m.TimestampMs * float64(time.Millisecond)),
		HandPresent:    m.HandPresent,
		FacePresent:    m.FacePresent,
		PosePresent:    m.PosePresent,
		EyeContactLost: m.EyeContactLost,
		PostureBad:     m.PostureBad,
	}
}

// TranscriptMessage is a recognition result from the client's recognizer
type TranscriptMessage struct {
	Text       string  `json:"text"`
	Final      bool    `json:"final"`
	Confidence float64 `json:"confidence"`
}

// Segment converts the message for the session runtime
func (m *TranscriptMessage) Segment() entities.TranscriptSegment {
	return entities.TranscriptSegment{Text: m.Text, Final: m.Final, Confidence: m.Confidence}
}

// RecognitionEndedMessage reports that the client's recognizer stopped
type RecognitionEndedMessage struct {
	Error string `json:"error,omitempty"`
}

// Cause returns the failure, or nil for a clean end
func (m *RecognitionEndedMessage) Cause() error {
	if m.Error == "" {
		return nil
	}
	return errors.New(m.Error)
}

// CaptureUnavailableMessage reports a microphone failure
type CaptureUnavailableMessage struct {
	Reason string `json:"reason"`
}

// SpeechEndedMessage reports the end of playback
type SpeechEndedMessage struct {
	UtteranceID string `json:"utterance_id"`
}

// SubmitMessage submits an answer. Empty text submits the buffered transcript.
type SubmitMessage struct {
	Text string `json:"text"`
}

// DismissFeedbackMessage hides the shown feedback message
type DismissFeedbackMessage struct {
	ID string `json:"id"`
}

// PingMessage represents a ping message for connection health check
type PingMessage struct {
	Data string `json:"data,omitempty"`
}

// PongMessage represents a pong response
type PongMessage struct {
	Data      string `json:"data,omitempty"`
	Timestamp string `json:"timestamp"`
}

// ErrorMessage represents an error response
type ErrorMessage struct {
	Kind        entities.ErrorKind `json:"kind"`
	Message     string             `json:"message"`
	Recoverable bool               `json:"recoverable"`
	At          time.Time          `json:"at"`
}

// emptyMessage is decoded for message types without a payload
type emptyMessage struct{}

// MessageValidator decodes and validates incoming messages
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage decodes an envelope and returns its type and typed payload
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (MessageType, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(messageBytes, &env); err != nil {
		return "", nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	var msg interface{}
	switch env.Type {
	case MessageTypeFrame:
		msg = &FrameMessage{}
	case MessageTypeTranscript:
		msg = &TranscriptMessage{}
	case MessageTypeRecognitionEnded:
		msg = &RecognitionEndedMessage{}
	case MessageTypeCaptureUnavailable:
		msg = &CaptureUnavailableMessage{}
	case MessageTypeSpeechEnded:
		msg = &SpeechEndedMessage{}
	case MessageTypeSubmit:
		msg = &SubmitMessage{}
	case MessageTypeDismissFeedback:
		msg = &DismissFeedbackMessage{}
	case MessageTypePing:
		msg = &PingMessage{}
	case MessageTypeSpeechStarted, MessageTypeStartListening, MessageTypeStopListening, MessageTypeRetry, MessageTypeEnd:
		msg = &emptyMessage{}
	case "":
		return "", nil, errors.New("message missing type field")
	default:
		return env.Type, nil, fmt.Errorf("unsupported message type: %s", env.Type)
	}

	if len(env.Payload) > 0 && string(env.Payload) != "null" {
		if err := json.Unmarshal(env.Payload, msg); err != nil {
			return env.Type, nil, fmt.Errorf("invalid %s payload: %w", env.Type, err)
		}
	}

	switch m := msg.(type) {
	case *FrameMessage:
		if m.TimestampMs < 0 {
			return env.Type, nil, errors.New("timestamp_ms cannot be negative")
		}
	case *TranscriptMessage:
		if strings.TrimSpace(m.Text) == "" {
			return env.Type, nil, errors.New("text is required")
		}
		if m.Confidence < 0 || m.Confidence > 1 {
			return env.Type, nil, errors.New("confidence must be between 0 and 1")
		}
	case *SpeechEndedMessage:
		if m.UtteranceID == "" {
			return env.Type, nil, errors.New("utterance_id is required")
		}
	}
	return env.Type, msg, nil
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(kind entities.ErrorKind, message string) *OutboundEnvelope {
	return &OutboundEnvelope{
		Type: MessageTypeError,
		Payload: &ErrorMessage{
			Kind:        kind,
			Message:     message,
			Recoverable: true,
			At:          time.Now(),
		},
	}
}

// CreatePongMessage creates a pong response message
func CreatePongMessage(data string) *OutboundEnvelope {
	return &OutboundEnvelope{
		Type: MessageTypePong,
		Payload: &PongMessage{
			Data:      data,
			Timestamp: time.Now().Format(time.RFC3339),
		},
	}
}
