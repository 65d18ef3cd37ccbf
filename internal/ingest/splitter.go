package ingest

import (
	"strings"
	"unicode/utf8"
)

// Chunking parameters: a chunk size small enough for embedding models,
// with enough overlap that a fact straddling a boundary survives in at
// least one chunk.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// separators are tried in order, from the most natural break (paragraph)
// down to a hard character cut.
var separators = []string{"\n\n", "\n", ". ", " ", ""}

// Split divides text into chunks of at most chunkSize characters with
// the given overlap, preferring to break at paragraph and sentence
// boundaries.
func Split(text string, chunkSize, overlap int) []string {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = DefaultChunkOverlap
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= chunkSize {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + chunkSize
		if end >= len(text) {
			chunk := strings.TrimSpace(text[start:])
			if chunk != "" {
				chunks = append(chunks, chunk)
			}
			break
		}

		cut := findBreak(text, start, end)
		chunk := strings.TrimSpace(text[start:cut])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		next := cut - overlap
		for next < cut && !utf8.RuneStart(text[next]) {
			next++
		}
		if next <= start {
			next = cut
		}
		start = next
	}
	return chunks
}

// findBreak finds the best cut point at or before end, scanning the
// separator hierarchy within the tail of the window. Falls back to a
// hard cut at end when no separator appears.
func findBreak(text string, start, end int) int {
	// Only look in the second half of the window, so chunks don't
	// collapse to tiny fragments when separators cluster early.
	searchFrom := start + (end-start)/2

	for _, sep := range separators {
		if sep == "" {
			break
		}
		if idx := strings.LastIndex(text[searchFrom:end], sep); idx >= 0 {
			return searchFrom + idx + len(sep)
		}
	}

	// Hard cut: back up to a rune boundary so a multibyte character is
	// never split across chunks.
	for end > start && !utf8.RuneStart(text[end]) {
		end--
	}
	return end
}
