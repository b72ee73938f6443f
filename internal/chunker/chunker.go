// Package chunker splits document text into overlapping fixed-size
// windows suitable for embedding.
//
// Splitting is paragraph-aware: paragraphs that fit within the target
// size are packed into a contiguous stream and windowed with overlap;
// a single paragraph longer than the target is kept whole and flagged
// oversized rather than being cut mid-paragraph.
//
// Splitting is deterministic: identical input and parameters always
// yield the identical ordered sequence. This is required for
// idempotent re-ingestion.
package chunker

import (
	"fmt"
	"regexp"
	"strings"
)

// Chunk is one bounded window of document text.
type Chunk struct {
	Text string

	// Oversized marks a chunk holding a single paragraph that exceeds
	// the target size. Such chunks are kept whole; downstream embedding
	// may truncate them.
	Oversized bool
}

// Chunker splits text into overlapping character windows.
// Sizes and overlap are measured in runes, not bytes.
type Chunker struct {
	targetSize int
	overlap    int
}

var paragraphSplitter = regexp.MustCompile(`\n[ \t]*\n+`)

// New creates a Chunker. overlap is the number of trailing characters
// of a chunk repeated at the start of the next chunk; it must be
// smaller than targetSize so every window makes progress.
func New(targetSize, overlap int) (*Chunker, error) {
	if targetSize < 1 {
		return nil, fmt.Errorf("target size must be positive, got %d", targetSize)
	}
	if overlap < 0 || overlap >= targetSize {
		return nil, fmt.Errorf("overlap must be in [0, target size %d), got %d", targetSize, overlap)
	}
	return &Chunker{targetSize: targetSize, overlap: overlap}, nil
}

// TargetSize returns the configured window size in characters.
func (c *Chunker) TargetSize() int { return c.targetSize }

// Overlap returns the configured overlap in characters.
func (c *Chunker) Overlap() int { return c.overlap }

// Split splits text into an ordered sequence of chunks.
// Empty or whitespace-only input yields nil, not an error.
func (c *Chunker) Split(text string) []Chunk {
	paragraphs := splitParagraphs(text)
	if len(paragraphs) == 0 {
		return nil
	}

	var chunks []Chunk
	var run []string // consecutive paragraphs that fit the target size

	flush := func() {
		if len(run) == 0 {
			return
		}
		chunks = append(chunks, c.window(strings.Join(run, "\n\n"))...)
		run = nil
	}

	for _, p := range paragraphs {
		if len([]rune(p)) > c.targetSize {
			// Unsplittable unit: keep whole, flag it.
			flush()
			chunks = append(chunks, Chunk{Text: p, Oversized: true})
			continue
		}
		run = append(run, p)
	}
	flush()

	return chunks
}

// window slides a fixed-size window with overlap over text.
func (c *Chunker) window(text string) []Chunk {
	runes := []rune(text)
	if len(runes) <= c.targetSize {
		return []Chunk{{Text: text}}
	}

	step := c.targetSize - c.overlap
	var chunks []Chunk
	for start := 0; start < len(runes); start += step {
		end := min(start+c.targetSize, len(runes))
		chunks = append(chunks, Chunk{Text: string(runes[start:end])})
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// splitParagraphs splits text on blank lines, trimming each paragraph
// and dropping empty ones.
func splitParagraphs(text string) []string {
	parts := paragraphSplitter.Split(text, -1)
	paragraphs := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}
