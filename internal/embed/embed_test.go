package embed

import (
	"context"
	"errors"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockAIEmbedder implements ai.Embedder for testing the bridge.
type mockAIEmbedder struct {
	dim       int
	embedErr  error
	shortResp bool // return fewer embeddings than inputs
	calls     int
	lastInput []string
}

func (m *mockAIEmbedder) Name() string { return "mock-embedder" }

func (m *mockAIEmbedder) Register(api.Registry) {}

func (m *mockAIEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	m.calls++
	m.lastInput = nil
	for _, doc := range req.Input {
		var text string
		for _, p := range doc.Content {
			text += p.Text
		}
		m.lastInput = append(m.lastInput, text)
	}

	if m.embedErr != nil {
		return nil, m.embedErr
	}

	n := len(req.Input)
	if m.shortResp {
		n--
	}
	embeddings := make([]*ai.Embedding, n)
	for i := range embeddings {
		vec := make([]float32, m.dim)
		vec[0] = float32(i + 1) // distinguish positions
		embeddings[i] = &ai.Embedding{Embedding: vec}
	}
	return &ai.EmbedResponse{Embeddings: embeddings}, nil
}

func TestEmbedBatch_OrderPreserving(t *testing.T) {
	mock := &mockAIEmbedder{dim: 4}
	g := NewGenkit(mock, 4)

	vectors, err := g.EmbedBatch(context.Background(), []string{"first", "second", "third"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	assert.Equal(t, []string{"first", "second", "third"}, mock.lastInput)
	assert.Equal(t, float32(1), vectors[0][0])
	assert.Equal(t, float32(2), vectors[1][0])
	assert.Equal(t, float32(3), vectors[2][0])
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	mock := &mockAIEmbedder{dim: 4}
	g := NewGenkit(mock, 4)

	vectors, err := g.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
	assert.Zero(t, mock.calls)
}

func TestEmbedBatch_ServiceFailureIsRetryable(t *testing.T) {
	mock := &mockAIEmbedder{dim: 4, embedErr: errors.New("connection refused")}
	g := NewGenkit(mock, 4)

	_, err := g.EmbedBatch(context.Background(), []string{"text"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestEmbedBatch_CountMismatch(t *testing.T) {
	mock := &mockAIEmbedder{dim: 4, shortResp: true}
	g := NewGenkit(mock, 4)

	_, err := g.EmbedBatch(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestEmbedBatch_DimensionMismatch(t *testing.T) {
	mock := &mockAIEmbedder{dim: 8}
	g := NewGenkit(mock, 4)

	_, err := g.EmbedBatch(context.Background(), []string{"text"})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestEmbed_SingleText(t *testing.T) {
	mock := &mockAIEmbedder{dim: 4}
	g := NewGenkit(mock, 4)

	vec, err := g.Embed(context.Background(), "query")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
}

func TestVerifyDimension(t *testing.T) {
	t.Run("matching", func(t *testing.T) {
		g := NewGenkit(&mockAIEmbedder{dim: 4}, 4)
		assert.NoError(t, g.VerifyDimension(context.Background()))
	})

	t.Run("mismatch", func(t *testing.T) {
		g := NewGenkit(&mockAIEmbedder{dim: 8}, 4)
		assert.ErrorIs(t, g.VerifyDimension(context.Background()), ErrDimensionMismatch)
	})

	t.Run("service failure", func(t *testing.T) {
		g := NewGenkit(&mockAIEmbedder{dim: 4, embedErr: errors.New("boom")}, 4)
		err := g.VerifyDimension(context.Background())
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrDimensionMismatch)
	})
}
