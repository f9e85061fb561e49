package repositories

import (
	"context"

	"github.com/careerpath/interviewcoach/server/domain/entities"
)

// SpeechToText abstracts streaming speech recognition services
type SpeechToText interface {
	// InitTranscribeStreaming opens a recognition stream. Results and the end of
	// recognition are reported through callbacks.
	InitTranscribeStreaming(ctx context.Context, config AudioConfig, callbacks RecognitionCallbacks) (SpeechToTextStreaming, error)
}

// AudioConfig represents audio configuration for speech recognition
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language"`
}

// RecognitionCallbacks receive recognizer output. They may be called from any goroutine.
type RecognitionCallbacks struct {
	OnTranscript func(segment entities.TranscriptSegment)
	// OnEnded fires once when the stream stops, with a nil error for a clean end.
	OnEnded func(err error)
}

// SpeechToTextStreaming is an open recognition stream
type SpeechToTextStreaming interface {
	Stream(data []byte) error
	Close() error
}
