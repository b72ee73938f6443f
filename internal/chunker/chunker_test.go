package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_InvalidParameters(t *testing.T) {
	tests := []struct {
		name       string
		targetSize int
		overlap    int
	}{
		{name: "zero target", targetSize: 0, overlap: 0},
		{name: "negative overlap", targetSize: 100, overlap: -1},
		{name: "overlap equals target", targetSize: 100, overlap: 100},
		{name: "overlap exceeds target", targetSize: 100, overlap: 150},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.targetSize, tt.overlap)
			assert.Error(t, err)
		})
	}
}

func TestSplit_EmptyInput(t *testing.T) {
	c, err := New(1000, 200)
	require.NoError(t, err)

	assert.Nil(t, c.Split(""))
	assert.Nil(t, c.Split("   \n\n  \t\n"))
}

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	c, err := New(1000, 200)
	require.NoError(t, err)

	chunks := c.Split("a short document")
	require.Len(t, chunks, 1)
	assert.Equal(t, "a short document", chunks[0].Text)
	assert.False(t, chunks[0].Oversized)
}

// Three paragraphs of 832 characters each, joined by blank lines,
// total exactly 2500 characters. With target 1000 / overlap 200 this
// must produce 3 chunks, each at most 1000 characters, where chunk 1
// begins with the last 200 characters of chunk 0.
func TestSplit_OverlapWindows(t *testing.T) {
	text := strings.Repeat("a", 832) + "\n\n" + strings.Repeat("b", 832) + "\n\n" + strings.Repeat("c", 832)
	require.Len(t, text, 2500)

	c, err := New(1000, 200)
	require.NoError(t, err)

	chunks := c.Split(text)
	require.Len(t, chunks, 3)

	for i, ch := range chunks {
		assert.LessOrEqual(t, len(ch.Text), 1000, "chunk %d exceeds target size", i)
		assert.False(t, ch.Oversized)
	}

	tail := chunks[0].Text[len(chunks[0].Text)-200:]
	assert.True(t, strings.HasPrefix(chunks[1].Text, tail),
		"chunk 1 must begin with the last 200 characters of chunk 0")

	tail = chunks[1].Text[len(chunks[1].Text)-200:]
	assert.True(t, strings.HasPrefix(chunks[2].Text, tail))
}

func TestSplit_Deterministic(t *testing.T) {
	text := strings.Repeat("lorem ipsum dolor sit amet. ", 200)

	c, err := New(500, 100)
	require.NoError(t, err)

	first := c.Split(text)
	second := c.Split(text)
	assert.Equal(t, first, second)
}

func TestSplit_OversizedParagraphKeptWhole(t *testing.T) {
	big := strings.Repeat("x", 1500)
	text := "small paragraph\n\n" + big + "\n\nanother small one"

	c, err := New(1000, 200)
	require.NoError(t, err)

	chunks := c.Split(text)
	require.Len(t, chunks, 3)

	assert.Equal(t, "small paragraph", chunks[0].Text)
	assert.Equal(t, big, chunks[1].Text)
	assert.True(t, chunks[1].Oversized)
	assert.Equal(t, "another small one", chunks[2].Text)
	assert.False(t, chunks[2].Oversized)
}

func TestSplit_UnicodeCountsRunes(t *testing.T) {
	// Three 8-rune multi-byte paragraphs pack into one 28-rune run and
	// window by rune count, not byte count.
	para := strings.Repeat("導", 8)
	text := para + "\n\n" + para + "\n\n" + para

	c, err := New(10, 2)
	require.NoError(t, err)

	chunks := c.Split(text)
	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		assert.LessOrEqual(t, len([]rune(ch.Text)), 10)
		assert.False(t, ch.Oversized)
	}

	// Reassembling without overlap must reproduce the packed run.
	var sb strings.Builder
	sb.WriteString(chunks[0].Text)
	for _, ch := range chunks[1:] {
		runes := []rune(ch.Text)
		sb.WriteString(string(runes[2:]))
	}
	assert.Equal(t, para+"\n\n"+para+"\n\n"+para, sb.String())
}

func TestSplit_OversizedUnicodeParagraphKeptWhole(t *testing.T) {
	// A single paragraph over the target is never windowed, and the
	// size comparison counts runes, not bytes.
	text := strings.Repeat("導", 30)

	c, err := New(10, 2)
	require.NoError(t, err)

	chunks := c.Split(text)
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Text)
	assert.True(t, chunks[0].Oversized)
}

func TestSplit_ParagraphNormalization(t *testing.T) {
	c, err := New(1000, 0)
	require.NoError(t, err)

	chunks := c.Split("first\n \n\nsecond\n\n\n\nthird")
	require.Len(t, chunks, 1)
	assert.Equal(t, "first\n\nsecond\n\nthird", chunks[0].Text)
}
