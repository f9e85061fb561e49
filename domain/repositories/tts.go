package repositories

import "context"

// TextToSpeech abstracts speech synthesis. The returned channel is closed when synthesis finishes.
type TextToSpeech interface {
	ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error)
}
