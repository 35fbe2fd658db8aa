package controller

import (
	"regexp"
	"strings"
)

// chunkPattern matches the unit of smoothed output: one CJK ideograph, or a
// word followed by its trailing whitespace.
var chunkPattern = regexp.MustCompile(`[\x{4E00}-\x{9FFF}]|\S+\s+`)

// smoother buffers text deltas and releases them in whole chunks so the
// client never renders half a word.
type smoother struct {
	buf strings.Builder
}

// push adds text and returns every complete chunk now available.
func (s *smoother) push(text string) []string {
	s.buf.WriteString(text)
	pending := s.buf.String()

	var chunks []string
	for {
		loc := chunkPattern.FindStringIndex(pending)
		if loc == nil {
			break
		}
		chunks = append(chunks, pending[:loc[1]])
		pending = pending[loc[1]:]
	}
	s.buf.Reset()
	s.buf.WriteString(pending)
	return chunks
}

// flush returns whatever is still buffered.
func (s *smoother) flush() string {
	rest := s.buf.String()
	s.buf.Reset()
	return rest
}
