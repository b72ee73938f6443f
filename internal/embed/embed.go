// Package embed maps text to fixed-dimension dense vectors.
//
// The same embedder configuration must be used for indexing and
// querying; a dimension mismatch is a configuration error detected at
// startup via VerifyDimension, not at query time.
package embed

import (
	"context"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
)

var (
	// ErrUnavailable indicates the embedding service failed; the call is
	// retryable with backoff.
	ErrUnavailable = errors.New("embedding service unavailable")

	// ErrDimensionMismatch indicates the embedder produced vectors of a
	// different dimension than configured. Fatal at startup.
	ErrDimensionMismatch = errors.New("embedder dimension mismatch")
)

// Embedder converts text into dense vectors of a fixed dimension.
//
// Implementations must be pure with respect to the input text and must
// preserve input order in EmbedBatch. They must never substitute a zero
// vector for a failed call.
type Embedder interface {
	// Embed returns the vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input text, in input order.
	// Preferred over Embed during ingestion.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the configured vector dimension.
	Dimension() int
}

// Genkit adapts a genkit ai.Embedder to the Embedder interface.
type Genkit struct {
	embedder ai.Embedder
	dim      int
}

// NewGenkit wraps a genkit embedder with a declared dimension.
// Call VerifyDimension once during startup to confirm the declared
// dimension matches what the model actually produces.
func NewGenkit(embedder ai.Embedder, dim int) *Genkit {
	return &Genkit{embedder: embedder, dim: dim}
}

// Dimension returns the declared vector dimension.
func (g *Genkit) Dimension() int { return g.dim }

// Embed returns the embedding vector for text.
func (g *Genkit) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds all texts in one request, preserving order.
func (g *Genkit) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	docs := make([]*ai.Document, len(texts))
	for i, t := range texts {
		docs[i] = ai.DocumentFromText(t, nil)
	}

	resp, err := g.embedder.Embed(ctx, &ai.EmbedRequest{Input: docs})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrUnavailable, len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if len(e.Embedding) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at position %d", ErrUnavailable, i)
		}
		if len(e.Embedding) != g.dim {
			return nil, fmt.Errorf("%w: got %d, configured %d", ErrDimensionMismatch, len(e.Embedding), g.dim)
		}
		vectors[i] = e.Embedding
	}
	return vectors, nil
}

// VerifyDimension embeds a short probe and checks the produced
// dimension against the declared one. Call once at startup; a mismatch
// means the index schema and the embedder configuration disagree.
func (g *Genkit) VerifyDimension(ctx context.Context) error {
	vec, err := g.Embed(ctx, "dimension probe")
	if err != nil {
		if errors.Is(err, ErrDimensionMismatch) {
			return err
		}
		return fmt.Errorf("probing embedder: %w", err)
	}
	if len(vec) != g.dim {
		return fmt.Errorf("%w: got %d, configured %d", ErrDimensionMismatch, len(vec), g.dim)
	}
	return nil
}
