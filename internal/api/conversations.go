package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/docchat/docchat/internal/conversation"
)

// ConversationStore is the slice of the conversation store the API
// needs.
type ConversationStore interface {
	List(ctx context.Context, tenantID string) ([]conversation.Conversation, error)
	ListExchanges(ctx context.Context, tenantID, conversationID string) ([]conversation.Exchange, error)
	Rename(ctx context.Context, tenantID, conversationID, title string) error
	Delete(ctx context.Context, tenantID, conversationID string) error
}

// conversationHandler handles conversation listing and deletion.
type conversationHandler struct {
	store  ConversationStore
	logger *slog.Logger
}

// ConversationResponse is one conversation in a listing.
type ConversationResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExchangeResponse is one persisted question/answer pair.
type ExchangeResponse struct {
	ID        int64     `json:"id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Timestamp time.Time `json:"timestamp"`
}

// list returns the tenant's conversations, most recently updated first.
//
// GET /api/v1/conversations
func (h *conversationHandler) list(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_tenant", "no tenant in request context")
		return
	}

	conversations, err := h.store.List(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("listing conversations failed", "error", err)
		writeError(w, http.StatusInternalServerError, "persistence_failure", "listing conversations failed")
		return
	}

	out := make([]ConversationResponse, 0, len(conversations))
	for _, c := range conversations {
		out = append(out, ConversationResponse{
			ID:        c.ID,
			Title:     c.Title,
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": out})
}

// exchanges returns a conversation's history in chronological order.
//
// GET /api/v1/conversations/{id}/exchanges
func (h *conversationHandler) exchanges(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_tenant", "no tenant in request context")
		return
	}

	conversationID := r.PathValue("id")
	exchanges, err := h.store.ListExchanges(r.Context(), tenantID, conversationID)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation_not_found", "conversation not found")
			return
		}
		h.logger.Error("listing exchanges failed", "error", err)
		writeError(w, http.StatusInternalServerError, "persistence_failure", "listing exchanges failed")
		return
	}

	out := make([]ExchangeResponse, 0, len(exchanges))
	for _, e := range exchanges {
		out = append(out, ExchangeResponse{
			ID:        e.ID,
			Question:  e.Question,
			Answer:    e.Answer,
			Timestamp: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation_id": conversationID, "exchanges": out})
}

// RenameRequest is the JSON body for a conversation rename.
type RenameRequest struct {
	Title string `json:"title"`
}

// rename replaces a conversation's title.
//
// PATCH /api/v1/conversations/{id}
func (h *conversationHandler) rename(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_tenant", "no tenant in request context")
		return
	}

	var req RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON")
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "title must not be empty")
		return
	}

	conversationID := r.PathValue("id")
	if err := h.store.Rename(r.Context(), tenantID, conversationID, title); err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation_not_found", "conversation not found")
			return
		}
		h.logger.Error("renaming conversation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "persistence_failure", "renaming conversation failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"conversation_id": conversationID, "title": title})
}

// remove deletes a conversation and its history.
//
// DELETE /api/v1/conversations/{id}
func (h *conversationHandler) remove(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_tenant", "no tenant in request context")
		return
	}

	conversationID := r.PathValue("id")
	if err := h.store.Delete(r.Context(), tenantID, conversationID); err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation_not_found", "conversation not found")
			return
		}
		h.logger.Error("deleting conversation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "persistence_failure", "deleting conversation failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
