// Package chunk splits cleaned document text into overlapping,
// boundary-aware chunks. Chunking is deterministic: identical input and
// configuration always produce identical output.
package chunk

import (
	"fmt"
	"strings"

	"github.com/corvid-labs/ragpipe/internal/config"
)

const (
	// sentenceWindow is the trailing fraction of a chunk window searched
	// for a sentence terminator.
	sentenceWindow = 0.7
	// paragraphWindow is the trailing fraction searched for a paragraph
	// break when no sentence terminator is found.
	paragraphWindow = 0.5
)

// Chunk is one bounded slice of a document's text, the unit of embedding
// and retrieval. Indices are contiguous starting at zero.
type Chunk struct {
	Index   int
	Content string
}

// Chunker splits text into chunks of at most maxSize characters with the
// configured overlap between consecutive chunks.
type Chunker struct {
	maxSize int
	overlap int
}

// NewChunker creates a Chunker. overlap must be strictly smaller than
// maxSize; anything else would stall the cursor and is rejected as a
// configuration error before any chunking begins.
func NewChunker(maxSize, overlap int) (*Chunker, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("%w: chunk max size must be positive, got %d", config.ErrInvalidConfig, maxSize)
	}
	if overlap < 0 || overlap >= maxSize {
		return nil, fmt.Errorf("%w: chunk overlap %d must be in [0, %d)", config.ErrInvalidConfig, overlap, maxSize)
	}
	return &Chunker{maxSize: maxSize, overlap: overlap}, nil
}

// Split chunks text into an order-preserving sequence. Text no longer than
// the max size yields exactly one chunk; empty text yields none. Sizes and
// offsets are measured in runes, so a window never cuts a multi-byte
// character in half.
func (c *Chunker) Split(text string) []Chunk {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= c.maxSize {
		return []Chunk{{Index: 0, Content: string(runes)}}
	}

	var chunks []Chunk
	start := 0
	for start < len(runes) {
		end := start + c.maxSize
		if end >= len(runes) {
			if piece := strings.TrimSpace(string(runes[start:])); piece != "" {
				chunks = append(chunks, Chunk{Index: len(chunks), Content: piece})
			}
			break
		}
		end = c.findBoundary(runes, start, end)

		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			chunks = append(chunks, Chunk{Index: len(chunks), Content: piece})
		}

		// A boundary cut closer than the overlap would move the cursor
		// backwards; resume at the cut instead.
		next := end - c.overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// findBoundary picks a cut point at or before the naive window end,
// preferring a sentence terminator in the last 30% of the window, then a
// paragraph break in the last 50%, falling back to the naive end.
func (c *Chunker) findBoundary(runes []rune, start, end int) int {
	window := runes[start:end]
	if i := lastRune(window, '.'); i >= 0 {
		if i > int(float64(c.maxSize)*sentenceWindow) {
			return start + i + 1
		}
	}
	if i := lastParagraphBreak(window); i >= 0 {
		if i > int(float64(c.maxSize)*paragraphWindow) {
			return start + i + 2
		}
	}
	return end
}

// lastRune returns the highest index of r in window, or -1.
func lastRune(window []rune, r rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] == r {
			return i
		}
	}
	return -1
}

// lastParagraphBreak returns the highest index where two consecutive
// newlines start, or -1.
func lastParagraphBreak(window []rune) int {
	for i := len(window) - 2; i >= 0; i-- {
		if window[i] == '\n' && window[i+1] == '\n' {
			return i
		}
	}
	return -1
}
