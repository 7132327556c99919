package ingest

import (
	"strings"
	"unicode"
)

// piece is one chunk-sized span of a document with its rune offsets.
type piece struct {
	text  string
	start int
	end   int
}

// splitText splits normalized text into overlapping pieces of at most size
// runes with overlap runes shared between consecutive pieces. Cuts prefer a
// whitespace boundary in the tail of the window so a word is never bisected
// when a nearby break exists. The final piece may be shorter than size.
func splitText(text string, size, overlap int) []piece {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if size <= 0 || len(runes) <= size {
		return []piece{{text: text, start: 0, end: len(runes)}}
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 4
	}

	var pieces []piece
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			end = len(runes)
		} else if cut := lastBreak(runes, start, end, overlap); cut > start {
			end = cut
		}

		pieces = append(pieces, piece{
			text:  strings.TrimSpace(string(runes[start:end])),
			start: start,
			end:   end,
		})

		if end == len(runes) {
			break
		}
		start = end - overlap
	}
	return pieces
}

// lastBreak returns the index just past the last whitespace run in
// runes[start:end], or start if no break exists. The search stays in the
// back half of the window and never reaches start+overlap or below, so the
// next window start (end minus overlap) always moves forward.
func lastBreak(runes []rune, start, end, overlap int) int {
	limit := start + (end-start)/2
	if floor := start + overlap; floor > limit {
		limit = floor
	}
	for i := end - 1; i > limit; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	return start
}

// normalizeText collapses Windows line endings and trims trailing space per
// line, keeping offsets stable for everything that follows.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
