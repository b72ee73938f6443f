package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGQuerier implements Querier against a pgx connection pool.
type PGQuerier struct {
	pool *pgxpool.Pool
}

// NewPGQuerier creates a PGQuerier.
func NewPGQuerier(pool *pgxpool.Pool) *PGQuerier {
	return &PGQuerier{pool: pool}
}

const createConversationSQL = `
INSERT INTO conversations (id, tenant_id, title)
VALUES ($1, $2, $3)
RETURNING id, tenant_id, title, created_at, updated_at`

func (q *PGQuerier) CreateConversation(ctx context.Context, arg CreateConversationParams) (Conversation, error) {
	row := q.pool.QueryRow(ctx, createConversationSQL, arg.ID, arg.TenantID, arg.Title)

	var c Conversation
	if err := row.Scan(&c.ID, &c.TenantID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return Conversation{}, fmt.Errorf("creating conversation: %w", err)
	}
	return c, nil
}

const getConversationSQL = `
SELECT id, tenant_id, title, created_at, updated_at
FROM conversations
WHERE tenant_id = $1 AND id = $2`

func (q *PGQuerier) GetConversation(ctx context.Context, tenantID, id string) (Conversation, error) {
	row := q.pool.QueryRow(ctx, getConversationSQL, tenantID, id)

	var c Conversation
	if err := row.Scan(&c.ID, &c.TenantID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, fmt.Errorf("getting conversation: %w", err)
	}
	return c, nil
}

const listConversationsSQL = `
SELECT id, tenant_id, title, created_at, updated_at
FROM conversations
WHERE tenant_id = $1
ORDER BY updated_at DESC`

func (q *PGQuerier) ListConversations(ctx context.Context, tenantID string) ([]Conversation, error) {
	rows, err := q.pool.Query(ctx, listConversationsSQL, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var conversations []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

const deleteConversationSQL = `
DELETE FROM conversations
WHERE tenant_id = $1 AND id = $2`

func (q *PGQuerier) DeleteConversation(ctx context.Context, tenantID, id string) (int64, error) {
	tag, err := q.pool.Exec(ctx, deleteConversationSQL, tenantID, id)
	if err != nil {
		return 0, fmt.Errorf("deleting conversation: %w", err)
	}
	return tag.RowsAffected(), nil
}

const renameConversationSQL = `
UPDATE conversations
SET title = $3, updated_at = now()
WHERE tenant_id = $1 AND id = $2`

func (q *PGQuerier) RenameConversation(ctx context.Context, tenantID, id, title string) (int64, error) {
	tag, err := q.pool.Exec(ctx, renameConversationSQL, tenantID, id, title)
	if err != nil {
		return 0, fmt.Errorf("renaming conversation: %w", err)
	}
	return tag.RowsAffected(), nil
}

const touchConversationSQL = `
UPDATE conversations SET updated_at = now() WHERE id = $1`

func (q *PGQuerier) TouchConversation(ctx context.Context, id string) error {
	if _, err := q.pool.Exec(ctx, touchConversationSQL, id); err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}
	return nil
}

const insertExchangeSQL = `
INSERT INTO chat_exchanges (conversation_id, question, answer)
VALUES ($1, $2, $3)
RETURNING id, conversation_id, question, answer, created_at`

func (q *PGQuerier) InsertExchange(ctx context.Context, arg InsertExchangeParams) (Exchange, error) {
	row := q.pool.QueryRow(ctx, insertExchangeSQL, arg.ConversationID, arg.Question, arg.Answer)

	var e Exchange
	if err := row.Scan(&e.ID, &e.ConversationID, &e.Question, &e.Answer, &e.CreatedAt); err != nil {
		return Exchange{}, fmt.Errorf("inserting exchange: %w", err)
	}
	return e, nil
}

const listExchangesSQL = `
SELECT id, conversation_id, question, answer, created_at
FROM chat_exchanges
WHERE conversation_id = $1
ORDER BY created_at, id`

func (q *PGQuerier) ListExchanges(ctx context.Context, conversationID string) ([]Exchange, error) {
	rows, err := q.pool.Query(ctx, listExchangesSQL, conversationID)
	if err != nil {
		return nil, fmt.Errorf("listing exchanges: %w", err)
	}
	defer rows.Close()

	var exchanges []Exchange
	for rows.Next() {
		var e Exchange
		if err := rows.Scan(&e.ID, &e.ConversationID, &e.Question, &e.Answer, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning exchange: %w", err)
		}
		exchanges = append(exchanges, e)
	}
	return exchanges, rows.Err()
}
