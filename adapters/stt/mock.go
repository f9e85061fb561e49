package stt

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/careerpath/interviewcoach/server/domain/entities"
	"github.com/careerpath/interviewcoach/server/domain/repositories"
)

// MockSpeechToText recognizes canned phrases from the amount of audio received
type MockSpeechToText struct {
	logger *zap.Logger
}

// NewMockSpeechToText creates a new mock speech-to-text service
func NewMockSpeechToText(logger *zap.Logger) *MockSpeechToText {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MockSpeechToText{logger: logger}
}

// InitTranscribeStreaming creates a new mock streaming session
func (s *MockSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig, callbacks repositories.RecognitionCallbacks) (repositories.SpeechToTextStreaming, error) {
	s.logger.Info("Initializing mock streaming transcription",
		zap.Int("sampleRate", config.SampleRate),
		zap.String("encoding", config.Encoding),
		zap.String("language", config.Language))
	return &MockSpeechToTextStream{logger: s.logger, callbacks: callbacks}, nil
}

// MockSpeechToTextStream emits an interim segment per chunk and a final one
// every time a second of 16 kHz LINEAR16 audio has accumulated
type MockSpeechToTextStream struct {
	logger    *zap.Logger
	callbacks repositories.RecognitionCallbacks

	mu       sync.Mutex
	received int
	closed   bool
}

const mockFinalEvery = 32000

// Stream implements mock streaming audio processing
func (m *MockSpeechToTextStream) Stream(data []byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrStreamClosed
	}
	before := m.received / mockFinalEvery
	m.received += len(data)
	final := m.received/mockFinalEvery > before
	m.mu.Unlock()

	if len(data) == 0 || m.callbacks.OnTranscript == nil {
		return nil
	}
	if final {
		m.callbacks.OnTranscript(entities.TranscriptSegment{Text: "I worked on the payments platform.", Final: true, Confidence: 0.9})
		return nil
	}
	m.callbacks.OnTranscript(entities.TranscriptSegment{Text: "I worked on", Confidence: 0.6})
	return nil
}

// Close ends the mock stream
func (m *MockSpeechToTextStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.logger.Debug("Mock transcription stream closed", zap.Int("bytes", m.received))
	return nil
}
