// Package conversation persists chat history: conversations grouping
// ordered question/answer exchanges per tenant.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates the conversation does not exist or belongs
	// to another tenant.
	ErrNotFound = errors.New("conversation not found")

	// ErrPersistence indicates the history write failed. The answer was
	// already streamed; callers report this distinctly rather than
	// pretending the exchange never happened.
	ErrPersistence = errors.New("conversation persistence failed")
)

// titleMaxLength bounds auto-generated conversation titles.
const titleMaxLength = 50

// Conversation groups the exchanges of one tenant chat thread.
type Conversation struct {
	ID        string
	TenantID  string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Exchange is one persisted question/answer pair.
type Exchange struct {
	ID             int64
	ConversationID string
	Question       string
	Answer         string
	CreatedAt      time.Time
}

// Querier defines the database operations the Store needs. Defined by
// the consumer so tests can supply mocks; production supplies the pgx
// implementation.
type Querier interface {
	CreateConversation(ctx context.Context, arg CreateConversationParams) (Conversation, error)
	GetConversation(ctx context.Context, tenantID, id string) (Conversation, error)
	ListConversations(ctx context.Context, tenantID string) ([]Conversation, error)
	DeleteConversation(ctx context.Context, tenantID, id string) (int64, error)
	RenameConversation(ctx context.Context, tenantID, id, title string) (int64, error)
	TouchConversation(ctx context.Context, id string) error

	InsertExchange(ctx context.Context, arg InsertExchangeParams) (Exchange, error)
	ListExchanges(ctx context.Context, conversationID string) ([]Exchange, error)
}

// CreateConversationParams are the fields of a new conversation row.
type CreateConversationParams struct {
	ID       string
	TenantID string
	Title    string
}

// InsertExchangeParams are the fields of a new exchange row.
type InsertExchangeParams struct {
	ConversationID string
	Question       string
	Answer         string
}

// Store manages conversation persistence.
// Safe for concurrent use by multiple goroutines.
type Store struct {
	queries Querier
	logger  *slog.Logger
}

// New creates a Store.
func New(queries Querier, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{queries: queries, logger: logger}
}

// OpenOrCreate resolves the target conversation for a chat turn.
//
// With a conversation ID it verifies the conversation exists and
// belongs to the tenant. Without one it creates a fresh conversation
// titled after the opening question.
func (s *Store) OpenOrCreate(ctx context.Context, tenantID, conversationID, firstQuestion string) (*Conversation, error) {
	if conversationID != "" {
		conv, err := s.queries.GetConversation(ctx, tenantID, conversationID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, conversationID)
			}
			return nil, fmt.Errorf("%w: loading conversation: %w", ErrPersistence, err)
		}
		return &conv, nil
	}

	conv, err := s.queries.CreateConversation(ctx, CreateConversationParams{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		Title:    TitleFor(firstQuestion),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: creating conversation: %w", ErrPersistence, err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "tenant_id", tenantID)
	return &conv, nil
}

// AppendExchange persists one completed question/answer pair and bumps
// the conversation's updated timestamp. Called only after the full
// answer has been streamed; partial answers are never persisted.
func (s *Store) AppendExchange(ctx context.Context, conversationID, question, answer string) (*Exchange, error) {
	ex, err := s.queries.InsertExchange(ctx, InsertExchangeParams{
		ConversationID: conversationID,
		Question:       question,
		Answer:         answer,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: inserting exchange: %w", ErrPersistence, err)
	}

	if err := s.queries.TouchConversation(ctx, conversationID); err != nil {
		// Exchange row is committed; a stale timestamp is recoverable.
		s.logger.Warn("touching conversation failed", "conversation_id", conversationID, "error", err)
	}
	return &ex, nil
}

// ListExchanges returns a conversation's exchanges in chronological
// order, after verifying tenant ownership.
func (s *Store) ListExchanges(ctx context.Context, tenantID, conversationID string) ([]Exchange, error) {
	if _, err := s.queries.GetConversation(ctx, tenantID, conversationID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, conversationID)
		}
		return nil, fmt.Errorf("%w: loading conversation: %w", ErrPersistence, err)
	}

	exchanges, err := s.queries.ListExchanges(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: listing exchanges: %w", ErrPersistence, err)
	}
	return exchanges, nil
}

// List returns the tenant's conversations, most recently updated first.
func (s *Store) List(ctx context.Context, tenantID string) ([]Conversation, error) {
	conversations, err := s.queries.ListConversations(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: listing conversations: %w", ErrPersistence, err)
	}
	return conversations, nil
}

// Delete removes a conversation and its exchanges. Deleting a
// conversation of another tenant reports ErrNotFound.
func (s *Store) Delete(ctx context.Context, tenantID, conversationID string) error {
	n, err := s.queries.DeleteConversation(ctx, tenantID, conversationID)
	if err != nil {
		return fmt.Errorf("%w: deleting conversation: %w", ErrPersistence, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, conversationID)
	}
	return nil
}

// Rename replaces a conversation's title. Renaming a conversation of
// another tenant reports ErrNotFound, same as Delete.
func (s *Store) Rename(ctx context.Context, tenantID, conversationID, title string) error {
	n, err := s.queries.RenameConversation(ctx, tenantID, conversationID, title)
	if err != nil {
		return fmt.Errorf("%w: renaming conversation: %w", ErrPersistence, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, conversationID)
	}
	return nil
}

// TitleFor derives a conversation title from its opening question:
// the question itself, truncated with an ellipsis past 50 characters.
func TitleFor(question string) string {
	runes := []rune(question)
	if len(runes) <= titleMaxLength {
		return question
	}
	return string(runes[:titleMaxLength]) + "..."
}
