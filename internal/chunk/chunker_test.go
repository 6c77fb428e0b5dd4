package chunk

import (
	"strings"
	"testing"
	"unicode/utf8"
)

// TestSplit_ShortText verifies a text within the window becomes one chunk.
func TestSplit_ShortText(t *testing.T) {
	chunker, err := NewChunker(1000, 200)
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	text := "A short document that fits in one chunk."
	chunks := chunker.Split(text)

	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Index != 0 {
		t.Errorf("Chunk index: expected 0, got %d", chunks[0].Index)
	}
	if chunks[0].Content != text {
		t.Errorf("Chunk content: expected %q, got %q", text, chunks[0].Content)
	}
}

// TestSplit_Empty verifies empty input yields no chunks.
func TestSplit_Empty(t *testing.T) {
	chunker, err := NewChunker(1000, 200)
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	if chunks := chunker.Split(""); chunks != nil {
		t.Errorf("Expected no chunks for empty input, got %d", len(chunks))
	}
}

// TestSplit_LongText verifies the window arithmetic on a 3000-character
// document with the default 1000/200 configuration.
func TestSplit_LongText(t *testing.T) {
	chunker, err := NewChunker(1000, 200)
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	// Uniform text with no boundaries, so every cut lands at maxSize.
	text := strings.Repeat("a", 3000)
	chunks := chunker.Split(text)

	// Cursor advances by maxSize-overlap=800 per chunk until the tail fits.
	if len(chunks) != 4 {
		t.Fatalf("Expected 4 chunks, got %d", len(chunks))
	}

	for i, ch := range chunks {
		if ch.Index != i {
			t.Errorf("Chunk %d: expected index %d, got %d", i, i, ch.Index)
		}
		if len(ch.Content) > 1000 {
			t.Errorf("Chunk %d exceeds max size: %d", i, len(ch.Content))
		}
	}

	// Consecutive chunks overlap by exactly 200 characters here.
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1].Content
		tail := prev[len(prev)-200:]
		if !strings.HasPrefix(chunks[i].Content, tail) {
			t.Errorf("Chunk %d does not start with previous chunk's overlap", i)
		}
	}
}

// TestSplit_SentenceBoundary verifies the cut prefers a sentence end in
// the last portion of the window.
func TestSplit_SentenceBoundary(t *testing.T) {
	chunker, err := NewChunker(100, 20)
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	// A period at position 89, inside the last 30% of the window.
	text := strings.Repeat("a", 89) + "." + strings.Repeat("b", 100)
	chunks := chunker.Split(text)

	if len(chunks) < 2 {
		t.Fatalf("Expected multiple chunks, got %d", len(chunks))
	}
	if !strings.HasSuffix(chunks[0].Content, ".") {
		t.Errorf("First chunk should end at the sentence boundary, got %q", chunks[0].Content)
	}
}

// TestSplit_ParagraphBoundary verifies a paragraph break is used when no
// sentence end is close enough.
func TestSplit_ParagraphBoundary(t *testing.T) {
	chunker, err := NewChunker(100, 20)
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	// Paragraph break at position 60, inside the last 50% of the window,
	// and no period anywhere.
	text := strings.Repeat("a", 60) + "\n\n" + strings.Repeat("b", 100)
	chunks := chunker.Split(text)

	if len(chunks) < 2 {
		t.Fatalf("Expected multiple chunks, got %d", len(chunks))
	}
	if got := chunks[0].Content; strings.Contains(got, "b") {
		t.Errorf("First chunk should stop at the paragraph break, got %q", got)
	}
}

// TestSplit_Termination verifies the cursor strictly advances and every
// character of the input appears in some chunk.
func TestSplit_Termination(t *testing.T) {
	chunker, err := NewChunker(50, 25)
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	text := "The quick brown fox. Jumps over the lazy dog.\n\nAnother paragraph follows here. " +
		strings.Repeat("x", 500) + " Final sentence here."
	chunks := chunker.Split(text)

	if len(chunks) == 0 {
		t.Fatal("Expected chunks")
	}

	// Reconstruct coverage: each chunk must appear in the source, and the
	// last chunk must reach the end of the text.
	for i, ch := range chunks {
		if !strings.Contains(text, ch.Content) {
			t.Errorf("Chunk %d content not found in source", i)
		}
	}
	last := chunks[len(chunks)-1].Content
	if !strings.HasSuffix(text, last) {
		t.Error("Last chunk does not cover the end of the text")
	}
}

// TestSplit_MultiByteRunes verifies window cuts land on character
// boundaries, never inside a multi-byte UTF-8 sequence.
func TestSplit_MultiByteRunes(t *testing.T) {
	chunker, err := NewChunker(100, 20)
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	text := strings.Repeat("日本語のテキストです。", 50)
	chunks := chunker.Split(text)

	if len(chunks) < 2 {
		t.Fatalf("Expected multiple chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if !utf8.ValidString(ch.Content) {
			t.Errorf("Chunk %d contains invalid UTF-8", i)
		}
		if n := utf8.RuneCountInString(ch.Content); n > 100 {
			t.Errorf("Chunk %d has %d characters, expected at most 100", i, n)
		}
	}

	// 500 characters fit a 1000-character window in one chunk even though
	// the byte length is triple that.
	wide, err := NewChunker(1000, 200)
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}
	if got := wide.Split(strings.Repeat("日", 500)); len(got) != 1 {
		t.Errorf("Expected 1 chunk for 500 characters, got %d", len(got))
	}
}

// TestNewChunker_InvalidOverlap verifies overlap >= max size is rejected.
func TestNewChunker_InvalidOverlap(t *testing.T) {
	if _, err := NewChunker(100, 100); err == nil {
		t.Error("Expected error for overlap equal to max size")
	}
	if _, err := NewChunker(100, 150); err == nil {
		t.Error("Expected error for overlap greater than max size")
	}
}

// TestClean normalizes whitespace and strips control characters.
func TestClean(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"collapse spaces", "a  \t b", "a b"},
		{"collapse newlines", "a\n\n\n\nb", "a\n\nb"},
		{"strip control chars", "a\x00b\x1fc", "abc"},
		{"trim edges", "  padded  ", "padded"},
		{"preserve paragraph break", "one\n\ntwo", "one\n\ntwo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clean(tt.input); got != tt.want {
				t.Errorf("Clean(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
