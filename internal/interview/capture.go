package interview

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/careerpath/interviewcoach/server/domain/entities"
	"github.com/careerpath/interviewcoach/server/domain/repositories"
)

var (
	// ErrNoClientMicrophone is returned when no attached client can capture audio.
	ErrNoClientMicrophone = errors.New("no client with microphone attached")
	// ErrNotCapturing is returned for audio received while capture is closed.
	ErrNotCapturing = errors.New("capture is not active")
	// ErrServerRecognitionDisabled is returned for audio when recognition runs on the client.
	ErrServerRecognitionDisabled = errors.New("server-side recognition is not configured")
)

// clientStream tags transcript events reported by the client itself.
const clientStream uint64 = 0

// captureBridge connects the speech coordinator to a recognizer
type captureBridge interface {
	StartCapture() error
	StopCapture()
	// Stream forwards microphone audio to the open recognizer
	Stream(data []byte) error
	// Current reports whether events tagged with seq belong to the open stream
	Current(seq uint64) bool
}

// serverCapture runs recognition on the server with a streaming recognizer
type serverCapture struct {
	r     *Runtime
	stt   repositories.SpeechToText
	audio repositories.AudioConfig

	mu     sync.Mutex
	stream repositories.SpeechToTextStreaming
	seq    uint64
}

func (c *serverCapture) StartCapture() error {
	c.StopCapture()

	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	stream, err := c.stt.InitTranscribeStreaming(c.r.ctx, c.audio, repositories.RecognitionCallbacks{
		OnTranscript: func(segment entities.TranscriptSegment) {
			_ = c.r.queue.Enqueue(transcriptEvent{seq: seq, segment: segment})
		},
		OnEnded: func(err error) {
			_ = c.r.queue.Enqueue(recognitionEndedEvent{seq: seq, err: err})
		},
	})
	if err != nil {
		return fmt.Errorf("open recognition stream: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seq != seq {
		// Stopped while opening.
		_ = stream.Close()
		return ErrNotCapturing
	}
	c.stream = stream
	return nil
}

func (c *serverCapture) StopCapture() {
	c.mu.Lock()
	c.seq++
	stream := c.stream
	c.stream = nil
	c.mu.Unlock()

	if stream != nil {
		if err := stream.Close(); err != nil {
			c.r.logger.Debug("Failed to close recognition stream", zap.Error(err))
		}
	}
}

func (c *serverCapture) Stream(data []byte) error {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream == nil {
		return ErrNotCapturing
	}
	return stream.Stream(data)
}

func (c *serverCapture) Current(seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return seq != clientStream && seq == c.seq && c.stream != nil
}

// clientCapture asks the attached client to run its own microphone and recognizer
type clientCapture struct {
	r *Runtime
}

func (c *clientCapture) StartCapture() error {
	sink := c.r.currentSink()
	if sink == nil || !sink.CanCapture() {
		return ErrNoClientMicrophone
	}
	sink.Notify(Notification{Type: NotifyCaptureStart})
	return nil
}

func (c *clientCapture) StopCapture() {
	if sink := c.r.currentSink(); sink != nil {
		sink.Notify(Notification{Type: NotifyCaptureStop})
	}
}

func (c *clientCapture) Stream([]byte) error {
	return ErrServerRecognitionDisabled
}

func (c *clientCapture) Current(seq uint64) bool {
	return seq == clientStream
}
