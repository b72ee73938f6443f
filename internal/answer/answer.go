// Package answer turns a question and its retrieved context into a
// streamed generated answer.
//
// A generation is a finite, non-restartable fragment sequence with an
// explicit terminal fragment. Generation itself has no side effects;
// callers may safely restart a failed generation with the same inputs.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/docchat/docchat/internal/retrieval"
)

// ErrInterrupted indicates the model service failed mid-stream. Text
// streamed before the failure is not retried automatically.
var ErrInterrupted = errors.New("generation interrupted")

// systemPrompt is the fixed instruction preamble for every generation.
const systemPrompt = `You are a helpful assistant answering questions about a user's uploaded documents.

Instructions:
1. When document context is provided, use it to answer and cite the source filename (e.g. "According to report.pdf...").
2. When the context is empty or irrelevant, say you could not find the answer in the uploaded documents, then answer from general knowledge if you can.
3. Be concise. Format answers as Markdown.`

// noContextNotice replaces the context block when retrieval found
// nothing, so the model is told explicitly rather than shown an empty
// string.
const noContextNotice = "(no document context is available for this question)"

// Fragment is one element of the generated answer stream.
//
// Exactly one terminal fragment (Done or Err set) ends every stream,
// after which the channel is closed. Answer is set only on a successful
// terminal fragment and equals the concatenation of all streamed text,
// in arrival order.
type Fragment struct {
	Text   string
	Done   bool
	Answer string
	Err    error
}

// Streamer generates answers with a genkit model. Safe for concurrent
// use; each Generate call owns its own stream.
type Streamer struct {
	g         *genkit.Genkit
	modelName string
	logger    *slog.Logger
}

// New creates a Streamer bound to the named model.
func New(g *genkit.Genkit, modelName string, logger *slog.Logger) *Streamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{g: g, modelName: modelName, logger: logger}
}

// Generate streams the answer to question given block. Fragments arrive
// in model order; the returned channel is closed after the terminal
// fragment. Cancelling ctx aborts the stream with ErrInterrupted.
func (s *Streamer) Generate(ctx context.Context, question string, block *retrieval.ContextBlock) <-chan Fragment {
	out := make(chan Fragment)

	go func() {
		defer close(out)

		var full strings.Builder
		send := func(f Fragment) error {
			select {
			case out <- f:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		_, err := genkit.Generate(ctx, s.g,
			ai.WithModelName(s.modelName),
			ai.WithSystem(systemPrompt),
			ai.WithPrompt(buildPrompt(question, block)),
			ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
				if chunk == nil {
					return nil
				}
				for _, part := range chunk.Content {
					if part.Text == "" {
						continue
					}
					full.WriteString(part.Text)
					if err := send(Fragment{Text: part.Text}); err != nil {
						return err
					}
				}
				return nil
			}),
		)
		if err != nil {
			s.logger.Warn("generation failed", "streamed_chars", full.Len(), "error", err)
			_ = send(Fragment{Err: fmt.Errorf("%w: %w", ErrInterrupted, err)})
			return
		}

		_ = send(Fragment{Done: true, Answer: full.String()})
	}()

	return out
}

// buildPrompt combines the context block, or the explicit no-context
// notice, with the user's question.
func buildPrompt(question string, block *retrieval.ContextBlock) string {
	contextText := noContextNotice
	if block != nil && !block.Empty && block.Text != "" {
		contextText = block.Text
	}
	return fmt.Sprintf("Retrieved document context:\n%s\n\nQuestion: %s", contextText, question)
}
