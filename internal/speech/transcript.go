package speech

import (
	"strings"

	"github.com/careerpath/interviewcoach/server/domain/entities"
)

// TranscriptBuffer accumulates recognized text since the last submission.
// Final segments are appended; an interim segment replaces the previous
// interim tail because recognizers re-send the whole pending hypothesis.
type TranscriptBuffer struct {
	finals      []string
	interim     string
	confSum     float64
	confCount   int
	interimConf float64
}

// Add appends an accepted segment
func (b *TranscriptBuffer) Add(segment entities.TranscriptSegment) {
	text := strings.TrimSpace(segment.Text)
	if segment.Final {
		b.finals = append(b.finals, text)
		b.confSum += segment.Confidence
		b.confCount++
		b.interim = ""
		b.interimConf = 0
		return
	}
	b.interim = text
	b.interimConf = segment.Confidence
}

// Restore puts previously taken text back at the head of the buffer
func (b *TranscriptBuffer) Restore(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	b.finals = append([]string{text}, b.finals...)
}

// Text returns the buffered transcript
func (b *TranscriptBuffer) Text() string {
	parts := make([]string, 0, len(b.finals)+1)
	parts = append(parts, b.finals...)
	if b.interim != "" {
		parts = append(parts, b.interim)
	}
	return strings.Join(parts, " ")
}

// Empty reports whether there is nothing to submit
func (b *TranscriptBuffer) Empty() bool {
	return len(b.finals) == 0 && b.interim == ""
}

// Confidence returns the mean confidence of the buffered segments
func (b *TranscriptBuffer) Confidence() (float64, bool) {
	sum, n := b.confSum, b.confCount
	if b.interim != "" {
		sum += b.interimConf
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// Clear empties the buffer
func (b *TranscriptBuffer) Clear() {
	*b = TranscriptBuffer{}
}
