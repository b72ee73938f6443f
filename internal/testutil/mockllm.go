// Package testutil provides deterministic genkit model and embedder
// doubles for tests that exercise generation and retrieval without a
// real provider.
package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// MockModelName is the model name registered by MockModel.
const MockModelName = "mock/test-model"

// MockEmbedderName is the embedder name registered by MockEmbedder.
const MockEmbedderName = "mock/test-embedder"

// MockModel streams scripted fragments as a genkit model.
//
// Fragments are streamed one chunk each, in order, letting tests assert
// arrival order and concatenation. FailAfter simulates a mid-stream
// provider failure. Thread-safe.
type MockModel struct {
	mu        sync.Mutex
	fragments []string
	failAfter int // fail after streaming this many fragments; <0 never
	calls     []MockCall
}

// MockCall records the prompt of one generation request.
type MockCall struct {
	System string
	Prompt string
}

// NewMockModel creates a model that streams the given fragments then
// finishes normally.
func NewMockModel(fragments ...string) *MockModel {
	return &MockModel{fragments: fragments, failAfter: -1}
}

// FailAfter makes the model drop the stream after n fragments.
func (m *MockModel) FailAfter(n int) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
	return m
}

// Calls returns a copy of all recorded generation requests.
func (m *MockModel) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]MockCall, len(m.calls))
	copy(cp, m.calls)
	return cp
}

// Register registers the mock as a genkit model.
func (m *MockModel) Register(g *genkit.Genkit) ai.Model {
	return genkit.DefineModel(g, MockModelName, &ai.ModelOptions{
		Label: "Mock Test Model",
		Supports: &ai.ModelSupports{
			Multiturn:  true,
			SystemRole: true,
		},
	}, m.generate)
}

func (m *MockModel) generate(ctx context.Context, req *ai.ModelRequest, cb ai.ModelStreamCallback) (*ai.ModelResponse, error) {
	var system, prompt string
	for _, msg := range req.Messages {
		switch msg.Role {
		case ai.RoleSystem:
			system = msg.Text()
		case ai.RoleUser:
			prompt = msg.Text()
		}
	}

	m.mu.Lock()
	m.calls = append(m.calls, MockCall{System: system, Prompt: prompt})
	fragments := m.fragments
	failAfter := m.failAfter
	m.mu.Unlock()

	var streamed strings.Builder
	for i, f := range fragments {
		if failAfter >= 0 && i >= failAfter {
			return nil, errors.New("model connection dropped")
		}
		streamed.WriteString(f)
		if cb != nil {
			if err := cb(ctx, &ai.ModelResponseChunk{
				Content: []*ai.Part{ai.NewTextPart(f)},
			}); err != nil {
				return nil, err
			}
		}
	}

	return &ai.ModelResponse{
		Request: req,
		Message: &ai.Message{
			Role:    ai.RoleModel,
			Content: []*ai.Part{ai.NewTextPart(streamed.String())},
		},
	}, nil
}

// MockEmbedder produces deterministic unit vectors as a genkit
// embedder. The same text always maps to the same vector; explicit
// vectors can be registered for precise similarity control.
// Thread-safe.
type MockEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	dim     int
}

// NewMockEmbedder creates a mock embedder of the given dimension.
func NewMockEmbedder(dim int) *MockEmbedder {
	return &MockEmbedder{vectors: make(map[string][]float32), dim: dim}
}

// SetVector pins the vector returned for exact text.
func (e *MockEmbedder) SetVector(text string, vec []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vectors[text] = vec
}

// Register registers the mock as a genkit embedder.
func (e *MockEmbedder) Register(g *genkit.Genkit) ai.Embedder {
	return genkit.DefineEmbedder(g, MockEmbedderName, &ai.EmbedderOptions{
		Label:      "Mock Test Embedder",
		Dimensions: e.dim,
	}, e.embed)
}

func (e *MockEmbedder) embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	embeddings := make([]*ai.Embedding, len(req.Input))
	for i, doc := range req.Input {
		embeddings[i] = &ai.Embedding{Embedding: e.vectorFor(documentText(doc))}
	}
	return &ai.EmbedResponse{Embeddings: embeddings}, nil
}

func (e *MockEmbedder) vectorFor(text string) []float32 {
	e.mu.Lock()
	v, ok := e.vectors[text]
	e.mu.Unlock()
	if ok {
		return v
	}
	return deterministicVector(text, e.dim)
}

func documentText(doc *ai.Document) string {
	var sb strings.Builder
	for _, p := range doc.Content {
		if p.Kind == ai.PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// deterministicVector derives a unit vector from a SHA-256 of the text.
func deterministicVector(text string, dim int) []float32 {
	hash := sha256.Sum256([]byte(text))
	vec := make([]float32, dim)
	for i := range vec {
		idx := (i * 4) % len(hash)
		bits := binary.LittleEndian.Uint32([]byte{
			hash[idx%32],
			hash[(idx+1)%32],
			hash[(idx+2)%32],
			hash[(idx+3)%32],
		})
		vec[i] = (float32(bits)/float32(math.MaxUint32))*2 - 1
	}

	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	norm = float32(math.Sqrt(float64(norm)))
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}
