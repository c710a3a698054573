package utils

import (
	"strings"
	"unicode"
)

// SplitText splits text into chunks of at most chunkSize runes, each
// repeating the last overlap runes of the previous one. A cut moves back to
// the nearest whitespace in the second half of the window so words stay
// whole where possible.
func SplitText(text string, chunkSize int, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if chunkSize <= 0 || len(runes) <= chunkSize {
		return []string{text}
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = 0
	}

	var chunks []string
	for start := 0; start < len(runes); {
		end := start + chunkSize
		if end >= len(runes) {
			chunks = append(chunks, strings.TrimSpace(string(runes[start:])))
			break
		}
		for i := end; i > start+chunkSize/2; i-- {
			if unicode.IsSpace(runes[i]) {
				end = i
				break
			}
		}

		chunks = append(chunks, strings.TrimSpace(string(runes[start:end])))

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}
