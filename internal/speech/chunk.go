package speech

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultChunkSize is the maximum chunk length in runes.
const DefaultChunkSize = 800

// Chunk splits text into pieces of at most size runes. A piece ends at
// whitespace or at the end of the text and keeps its trailing whitespace, so
// joining the chunks gives back the trimmed input exactly. When the size limit
// falls exactly on a whitespace run, the run opens the next piece instead;
// no piece is ever blank. A whitespace run longer than size is folded into
// the piece before it. A word longer than size is cut hard. Empty or blank text yields no chunks. size <= 0 selects
// [DefaultChunkSize].
func Chunk(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	rest := strings.TrimSpace(text)
	var chunks []string
	for rest != "" {
		if utf8.RuneCountInString(rest) <= size {
			chunks = append(chunks, rest)
			break
		}
		cut := cutPoint(rest, size)
		if piece := rest[:cut]; strings.TrimSpace(piece) == "" && len(chunks) > 0 {
			chunks[len(chunks)-1] += piece
		} else {
			chunks = append(chunks, piece)
		}
		rest = rest[cut:]
	}
	return chunks
}

// cutPoint returns the byte offset of the longest prefix of s that has at
// most size runes and ends right after a whitespace run that follows a word.
// s has more than size runes.
func cutPoint(s string, size int) int {
	limit, n := 0, 0
	for i := range s {
		if n == size {
			limit = i
			break
		}
		n++
	}

	// Prefer ending after whitespace inside the window, including a run
	// that starts exactly at the window edge.
	last, word := -1, false
	for i, r := range s[:limit] {
		if !unicode.IsSpace(r) {
			word = true
		} else if word {
			last = i + utf8.RuneLen(r)
		}
	}
	if r, _ := utf8.DecodeRuneInString(s[limit:]); unicode.IsSpace(r) {
		// The window ends on a word boundary: the whole window is the chunk.
		return limit
	}
	if last > 0 {
		return last
	}
	return limit
}
