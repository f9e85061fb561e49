package tts

import (
	"context"
	"strings"
)

// MockTextToSpeech produces silent 24 kHz PCM sized to the text, roughly 60ms per character
type MockTextToSpeech struct {
	ChunkSize int
}

const mockBytesPerChar = 2880

// ConvertTextToSpeech implements repositories.TextToSpeech
func (m *MockTextToSpeech) ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	chunkSize := m.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	remaining := len(text) * mockBytesPerChar
	out := make(chan []byte, 4)
	go func() {
		defer close(out)
		for remaining > 0 {
			n := min(chunkSize, remaining)
			remaining -= n
			select {
			case out <- make([]byte, n):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
