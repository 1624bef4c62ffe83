// Package chunker splits long text into pieces small enough for a single
// synthesis request, preferring sentence boundaries over mid-word cuts.
package chunker

import "unicode"

// DefaultLimit is the maximum chunk size accepted by the synthesis API.
const DefaultLimit = 4096

// Split divides text into chunks of at most limit characters. Inside each
// window it cuts after the rightmost sentence terminator, falling back to the
// last whitespace, and finally to a hard cut when a single token exceeds the
// limit. Leading whitespace of the remainder is dropped so chunks never start
// mid-gap. Text that already fits is returned unchanged as a single chunk.
func Split(text string, limit int) []string {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(runes) > limit {
		cut := splitPoint(runes[:limit])
		chunks = append(chunks, string(runes[:cut]))
		rest := runes[cut:]
		for len(rest) > 0 && unicode.IsSpace(rest[0]) {
			rest = rest[1:]
		}
		runes = rest
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

// Count returns how many chunks Split would produce.
func Count(text string, limit int) int {
	return len(Split(text, limit))
}

// splitPoint picks the cut index for the next chunk within window. Sentence
// terminators win over whitespace; the terminator stays with the chunk, a
// whitespace cut excludes the whitespace itself.
func splitPoint(window []rune) int {
	best := -1
	for i, r := range window {
		if r == '.' || r == '?' || r == '!' {
			best = i
		}
	}
	if best >= 0 {
		return best + 1
	}
	for i := len(window) - 1; i > 0; i-- {
		if unicode.IsSpace(window[i]) {
			return i
		}
	}
	return len(window)
}
