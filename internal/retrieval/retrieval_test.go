package retrieval

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docchat/docchat/internal/index"
	"github.com/docchat/docchat/internal/log"
	"github.com/docchat/docchat/internal/retry"
)

const testDim = 4

type stubEmbedder struct{ err error }

func (s *stubEmbedder) Dimension() int { return testDim }

func (s *stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []float32{1, 0, 0, 0}, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i := range texts {
		v, err := s.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		vecs[i] = v
	}
	return vecs, nil
}

type stubSearcher struct {
	results   map[string][]index.Result // keyed by tenant
	failFirst int
	calls     int
	lastTopK  int
}

func (s *stubSearcher) Search(_ context.Context, tenantID string, _ []float32, topK int) ([]index.Result, error) {
	s.calls++
	s.lastTopK = topK
	if s.calls <= s.failFirst {
		return nil, fmt.Errorf("%w: connection reset", index.ErrUnavailable)
	}
	return s.results[tenantID], nil
}

func hit(filename, content string, similarity float32) index.Result {
	return index.Result{
		Entry: index.Entry{
			TenantID:       "u1",
			DocumentID:     "doc-1",
			SourceFilename: filename,
			Content:        content,
		},
		Similarity: similarity,
	}
}

func newTestAssembler(s Searcher, maxContextChars int) *Assembler {
	a := New(&stubEmbedder{}, s, 3, maxContextChars, log.NewNop())
	a.retryCfg = retry.Config{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	return a
}

func TestRetrieve_AssemblesBlocksInRankOrder(t *testing.T) {
	s := &stubSearcher{results: map[string][]index.Result{
		"u1": {
			hit("guide.pdf", "First match.", 0.92),
			hit("notes.txt", "Second match.", 0.81),
		},
	}}
	a := newTestAssembler(s, 6000)

	block, err := a.Retrieve(context.Background(), "u1", "what is it")
	require.NoError(t, err)

	want := "Source: guide.pdf\nContent: First match." +
		"\n\n---\n\n" +
		"Source: notes.txt\nContent: Second match."
	assert.Equal(t, want, block.Text)
	assert.Equal(t, []string{"guide.pdf", "notes.txt"}, block.Sources)
	assert.False(t, block.Empty)
	assert.Equal(t, 3, s.lastTopK)
}

func TestRetrieve_TenantWithNoCorpusGetsEmptyBlock(t *testing.T) {
	// u1 has indexed chunks; u2 has not. u2's retrieval must return the
	// empty-context marker, never u1's content.
	s := &stubSearcher{results: map[string][]index.Result{
		"u1": {hit("guide.pdf", "Private to u1.", 0.9)},
	}}
	a := newTestAssembler(s, 6000)

	block, err := a.Retrieve(context.Background(), "u2", "what is it")
	require.NoError(t, err)

	assert.True(t, block.Empty)
	assert.Empty(t, block.Text)
	assert.Empty(t, block.Sources)
}

func TestRetrieve_BudgetDropsLowestRankedFirst(t *testing.T) {
	long := strings.Repeat("z", 120)
	s := &stubSearcher{results: map[string][]index.Result{
		"u1": {
			hit("a.txt", long, 0.9),
			hit("b.txt", long, 0.8),
			hit("c.txt", long, 0.7),
		},
	}}

	// Budget fits two blocks plus separator but not three.
	blockLen := len("Source: a.txt\nContent: ") + len(long)
	a := newTestAssembler(s, 2*blockLen+len("\n\n---\n\n"))

	block, err := a.Retrieve(context.Background(), "u1", "q")
	require.NoError(t, err)

	assert.Equal(t, []string{"a.txt", "b.txt"}, block.Sources)
	assert.NotContains(t, block.Text, "c.txt")
}

func TestRetrieve_BudgetCountsRunesNotBytes(t *testing.T) {
	// Multi-byte content: two blocks fit the budget by rune count even
	// though their byte length is nearly three times larger.
	content := strings.Repeat("導", 30)
	s := &stubSearcher{results: map[string][]index.Result{
		"u1": {
			hit("a.txt", content, 0.9),
			hit("b.txt", content, 0.8),
		},
	}}

	blockLen := utf8.RuneCountInString("Source: a.txt\nContent: " + content)
	a := newTestAssembler(s, 2*blockLen+utf8.RuneCountInString("\n\n---\n\n"))

	block, err := a.Retrieve(context.Background(), "u1", "q")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt"}, block.Sources,
		"multi-byte text must not under-fill the budget")
}

func TestRetrieve_FirstBlockKeptEvenOverBudget(t *testing.T) {
	s := &stubSearcher{results: map[string][]index.Result{
		"u1": {hit("a.txt", strings.Repeat("z", 500), 0.9)},
	}}
	a := newTestAssembler(s, 100)

	block, err := a.Retrieve(context.Background(), "u1", "q")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, block.Sources)
}

func TestRetrieve_RetriesTransientSearchFailure(t *testing.T) {
	s := &stubSearcher{
		failFirst: 1,
		results:   map[string][]index.Result{"u1": {hit("a.txt", "ok", 0.9)}},
	}
	a := newTestAssembler(s, 6000)

	block, err := a.Retrieve(context.Background(), "u1", "q")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, block.Sources)
	assert.Equal(t, 2, s.calls)
}

func TestRetrieve_SurfacesPersistentSearchFailure(t *testing.T) {
	s := &stubSearcher{failFirst: 10}
	a := newTestAssembler(s, 6000)

	_, err := a.Retrieve(context.Background(), "u1", "q")
	assert.ErrorIs(t, err, index.ErrUnavailable)
}

func TestRetrieve_EmbeddingFailure(t *testing.T) {
	a := New(&stubEmbedder{err: fmt.Errorf("model offline")}, &stubSearcher{}, 3, 6000, log.NewNop())

	_, err := a.Retrieve(context.Background(), "u1", "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding query")
}
