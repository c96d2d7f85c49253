package agent

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// segmentEnd matches a buffer that ends on sentence punctuation plus whitespace
var segmentEnd = regexp.MustCompile(`[.!?]\s$`)

// segmenter accumulates generated tokens into speakable segments
type segmenter struct {
	buf      strings.Builder
	maxChars int
}

func newSegmenter(maxChars int) *segmenter {
	return &segmenter{maxChars: maxChars}
}

// Push appends a token and returns a segment when the buffer should be flushed
func (s *segmenter) Push(token string) (string, bool) {
	s.buf.WriteString(token)
	text := s.buf.String()
	if segmentEnd.MatchString(text) || utf8.RuneCountInString(text) > s.maxChars {
		s.buf.Reset()
		return text, true
	}
	return "", false
}

// Flush returns whatever remains, unless it is blank
func (s *segmenter) Flush() (string, bool) {
	text := s.buf.String()
	s.buf.Reset()
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	return text, true
}
