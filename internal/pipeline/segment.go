package pipeline

import (
	"regexp"
	"strings"
)

// DefaultMaxSegmentChars bounds the size of one LLM parse request.
const DefaultMaxSegmentChars = 1500

var (
	sentenceRe = regexp.MustCompile(`(?s)[^。！？.!?,，\n]*[。！？.!?,，\n]`)
	terminalRe = regexp.MustCompile(`[。！？.!?]$`)
)

// SplitSegments cuts chapter text into chunks of at most maxChars
// characters, breaking only at sentence punctuation or newlines so no
// chunk ends mid-sentence. Text without a terminal full stop gets one
// synthesized. A single sentence longer than maxChars becomes its own
// oversized chunk.
func SplitSegments(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = DefaultMaxSegmentChars
	}

	// Drop blank lines before sentence scanning
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, line)
		}
	}
	content := strings.Join(kept, "\n")
	if content == "" {
		return nil
	}
	if !terminalRe.MatchString(content) {
		content += "。"
	}

	sentences := sentenceRe.FindAllString(content, -1)

	var chunks []string
	var buf strings.Builder
	bufLen := 0
	for _, sentence := range sentences {
		n := len([]rune(sentence))
		if bufLen+n <= maxChars {
			buf.WriteString(sentence)
			bufLen += n
			continue
		}
		if bufLen > 0 {
			chunks = append(chunks, strings.TrimSpace(buf.String()))
			buf.Reset()
		}
		buf.WriteString(sentence)
		bufLen = n
	}
	if buf.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(buf.String()))
	}
	return chunks
}
