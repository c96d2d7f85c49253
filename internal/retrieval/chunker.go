package retrieval

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var sentencePattern = regexp.MustCompile(`[^.!?]+[.!?]+(\s|$)`)

// SplitSentences splits text on terminal punctuation followed by whitespace
// or end of text. Text after the last terminator is returned as a final
// sentence. Text without any terminator is returned whole.
func SplitSentences(text string) []string {
	locs := sentencePattern.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []string{text}
	}

	sentences := make([]string, 0, len(locs)+1)
	end := 0
	for _, loc := range locs {
		// anything skipped between matches (e.g. "..." runs) stays attached
		sentences = append(sentences, text[end:loc[1]])
		end = loc[1]
	}
	if rest := text[end:]; strings.TrimSpace(rest) != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

// ChunkText greedily accumulates whole sentences into chunks. A chunk is
// flushed when adding the next sentence would take it past target characters
// (runes); a sentence longer than the target becomes its own chunk and is
// never split. Returned chunks are trimmed and never empty.
func ChunkText(text string, target int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var chunks []string
	var current strings.Builder
	runes := 0

	flush := func() {
		if c := strings.TrimSpace(current.String()); c != "" {
			chunks = append(chunks, c)
		}
		current.Reset()
		runes = 0
	}

	for _, sentence := range SplitSentences(text) {
		n := utf8.RuneCountInString(sentence)
		if runes > 0 && runes+n > target {
			flush()
		}
		current.WriteString(sentence)
		runes += n
	}
	flush()

	return chunks
}
