package ingestion

import (
	"strings"
	"unicode/utf8"
)

// splitText slices text into overlapping windows of at most size characters.
// Consecutive windows share overlap characters so sentences straddling a
// boundary appear whole in at least one chunk. Fragments shorter than minLen
// are dropped — they carry too little signal to be worth a vector.
//
// Offsets count runes, not bytes, so multibyte text never ends up with a
// rune torn across two chunks.
func splitText(text string, size, overlap, minLen int) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}

	step := size - overlap
	if step <= 0 {
		step = size
	}

	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		piece := strings.TrimSpace(string(runes[start:end]))
		if utf8.RuneCountInString(piece) >= minLen {
			chunks = append(chunks, piece)
		}
		if end == len(runes) {
			break
		}
	}

	return chunks
}
