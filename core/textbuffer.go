package orchestration

import (
	"strings"
	"sync"
	"unicode/utf8"
)

const (
	DefaultTranscriptLimit = 500
	DefaultTranscriptTrim  = 200
)

// textBuffer is the rolling assistant transcript. Once it grows past limit
// characters, the oldest trim characters are dropped.
type textBuffer struct {
	mu    sync.Mutex
	text  strings.Builder
	limit int
	trim  int
}

func newTextBuffer(limit, trim int) *textBuffer {
	if limit <= 0 {
		limit = DefaultTranscriptLimit
	}
	if trim <= 0 || trim > limit {
		trim = min(DefaultTranscriptTrim, limit)
	}
	return &textBuffer{limit: limit, trim: trim}
}

// AddChunk appends chunk and returns the transcript after trimming.
func (b *textBuffer) AddChunk(chunk string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.text.WriteString(chunk)
	current := b.text.String()
	for utf8.RuneCountInString(current) > b.limit {
		current = dropRunes(current, b.trim)
	}
	if current != b.text.String() {
		b.text.Reset()
		b.text.WriteString(current)
	}
	return current
}

func (b *textBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text.String()
}

func (b *textBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.text.Reset()
}

func dropRunes(s string, n int) string {
	for i := range s {
		if n == 0 {
			return s[i:]
		}
		n--
	}
	return ""
}
