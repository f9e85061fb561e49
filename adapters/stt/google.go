package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/careerpath/interviewcoach/server/domain/entities"
	"github.com/careerpath/interviewcoach/server/domain/repositories"
)

// ErrStreamClosed is returned for audio sent after Close
var ErrStreamClosed = errors.New("recognition stream closed")

// GoogleSpeechToText implements SpeechToText for Google Cloud
type GoogleSpeechToText struct {
	client *speech.Client
	logger *zap.Logger
}

// NewGoogleSpeechToText creates the Speech client. Credentials come from
// GOOGLE_APPLICATION_CREDENTIALS.
func NewGoogleSpeechToText(ctx context.Context, logger *zap.Logger) (*GoogleSpeechToText, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GoogleSpeechToText{client: client, logger: logger}, nil
}

// Close releases the Speech client
func (g *GoogleSpeechToText) Close() error {
	return g.client.Close()
}

// InitTranscribeStreaming opens a streaming recognizer with interim results
func (g *GoogleSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig, callbacks repositories.RecognitionCallbacks) (repositories.SpeechToTextStreaming, error) {
	// Convert encoding string to Google Speech API enum
	encoding, err := getAudioEncoding(config.Encoding)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := g.client.StreamingRecognize(streamCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   encoding,
					SampleRateHertz:            int32(config.SampleRate),
					LanguageCode:               config.Language,
					EnableAutomaticPunctuation: true,
				},
				InterimResults: true,
			},
		},
	}); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	s := &GoogleSpeechToTextStream{
		stream:    stream,
		cancel:    cancel,
		callbacks: callbacks,
		logger:    g.logger,
	}
	go s.receiveResults()

	g.logger.Debug("Recognition stream opened",
		zap.Int("sampleRate", config.SampleRate),
		zap.String("encoding", config.Encoding),
		zap.String("language", config.Language))
	return s, nil
}

// GoogleSpeechToTextStream is one open StreamingRecognize call
type GoogleSpeechToTextStream struct {
	stream    speechpb.Speech_StreamingRecognizeClient
	cancel    context.CancelFunc
	callbacks repositories.RecognitionCallbacks
	logger    *zap.Logger

	mu      sync.Mutex
	closed  bool
	endOnce sync.Once
}

// Stream sends one audio chunk
func (g *GoogleSpeechToTextStream) Stream(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrStreamClosed
	}
	if err := g.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: data,
		},
	}); err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}
	return nil
}

// Close stops the stream. OnEnded is not called for a stream closed by the caller.
func (g *GoogleSpeechToTextStream) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	err := g.stream.CloseSend()
	g.mu.Unlock()

	g.endOnce.Do(func() {})
	g.cancel()
	return err
}

func (g *GoogleSpeechToTextStream) receiveResults() {
	for {
		resp, err := g.stream.Recv()
		if err == io.EOF {
			g.end(nil)
			return
		}
		if err != nil {
			g.end(fmt.Errorf("failed to receive response: %w", err))
			return
		}
		if resp.Error != nil {
			g.end(fmt.Errorf("recognition error %d: %s", resp.Error.Code, resp.Error.Message))
			return
		}

		for _, result := range resp.Results {
			segment, ok := segmentFromResult(result)
			if !ok || g.callbacks.OnTranscript == nil {
				continue
			}
			g.callbacks.OnTranscript(segment)
		}
	}
}

func (g *GoogleSpeechToTextStream) end(err error) {
	g.endOnce.Do(func() {
		if err != nil {
			g.logger.Warn("Recognition stream ended", zap.Error(err))
		}
		if g.callbacks.OnEnded != nil {
			g.callbacks.OnEnded(err)
		}
	})
}

// segmentFromResult takes the best alternative of a result. Interim results
// carry stability rather than confidence; a final result without confidence
// counts as certain.
func segmentFromResult(result *speechpb.StreamingRecognitionResult) (entities.TranscriptSegment, bool) {
	if result == nil || len(result.Alternatives) == 0 || result.Alternatives[0].Transcript == "" {
		return entities.TranscriptSegment{}, false
	}
	best := result.Alternatives[0]
	segment := entities.TranscriptSegment{Text: best.Transcript, Final: result.IsFinal}
	switch {
	case !result.IsFinal:
		segment.Confidence = float64(result.Stability)
	case best.Confidence == 0:
		segment.Confidence = 1
	default:
		segment.Confidence = float64(best.Confidence)
	}
	return segment, true
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "WAV", "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "AMR":
		return speechpb.RecognitionConfig_AMR, nil
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
