// Package chat orchestrates one chat turn: conversation resolution,
// context retrieval, streamed answer generation, and history
// persistence.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/docchat/docchat/internal/answer"
	"github.com/docchat/docchat/internal/conversation"
	"github.com/docchat/docchat/internal/retrieval"
)

// Event is one element of a chat turn's output stream.
//
// Exactly one terminal event (Done or Err set) ends every stream, after
// which the channel is closed. On a successful turn the terminal event
// carries the canonical answer and the persisted exchange record; when
// persistence fails the answer is still present so the caller can tell
// the client the answer exists but was not saved.
type Event struct {
	Text string

	Done           bool
	ConversationID string
	Answer         string
	Exchange       *conversation.Exchange

	Err error
}

// Retriever assembles document context for a question.
type Retriever interface {
	Retrieve(ctx context.Context, tenantID, query string) (*retrieval.ContextBlock, error)
}

// Generator streams a generated answer.
type Generator interface {
	Generate(ctx context.Context, question string, block *retrieval.ContextBlock) <-chan answer.Fragment
}

// History is the slice of the conversation store a chat turn needs.
type History interface {
	OpenOrCreate(ctx context.Context, tenantID, conversationID, firstQuestion string) (*conversation.Conversation, error)
	AppendExchange(ctx context.Context, conversationID, question, answer string) (*conversation.Exchange, error)
}

// Service runs chat turns. Safe for concurrent use; each turn owns its
// own stream.
type Service struct {
	retriever Retriever
	generator Generator
	history   History
	logger    *slog.Logger
}

// New creates a Service.
func New(r Retriever, g Generator, h History, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{retriever: r, generator: g, history: h, logger: logger}
}

// Answer runs one chat turn.
//
// The conversation is resolved synchronously so an unknown conversation
// fails before anything streams. Retrieval must complete, or explicitly
// degrade, before generation begins. When retrieval is unavailable
// after retries the turn proceeds without grounding rather than failing;
// the model is told context is missing. The exchange is persisted only
// after the full answer has streamed.
func (s *Service) Answer(ctx context.Context, tenantID, conversationID, question string) (<-chan Event, error) {
	if question == "" {
		return nil, errors.New("question must not be empty")
	}

	conv, err := s.history.OpenOrCreate(ctx, tenantID, conversationID, question)
	if err != nil {
		return nil, err
	}

	out := make(chan Event)
	go s.run(ctx, out, conv, tenantID, question)
	return out, nil
}

func (s *Service) run(ctx context.Context, out chan<- Event, conv *conversation.Conversation, tenantID, question string) {
	defer close(out)

	send := func(e Event) bool {
		select {
		case out <- e:
			return true
		case <-ctx.Done():
			return false
		}
	}

	block, err := s.retriever.Retrieve(ctx, tenantID, question)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// Degrade to an ungrounded answer instead of failing the turn.
		s.logger.Warn("retrieval unavailable, answering without context",
			"tenant_id", tenantID, "conversation_id", conv.ID, "error", err)
		block = &retrieval.ContextBlock{Empty: true}
	}

	for fragment := range s.generator.Generate(ctx, question, block) {
		switch {
		case fragment.Err != nil:
			send(Event{Err: fragment.Err, ConversationID: conv.ID})
			return

		case fragment.Done:
			terminal := Event{
				Done:           true,
				ConversationID: conv.ID,
				Answer:         fragment.Answer,
			}
			exchange, err := s.history.AppendExchange(ctx, conv.ID, question, fragment.Answer)
			if err != nil {
				terminal.Err = fmt.Errorf("answer produced but not saved: %w", err)
				terminal.Done = false
			} else {
				terminal.Exchange = exchange
			}
			send(terminal)
			return

		default:
			if !send(Event{Text: fragment.Text}) {
				return
			}
		}
	}
}
