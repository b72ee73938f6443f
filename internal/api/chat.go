package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/docchat/docchat/internal/answer"
	"github.com/docchat/docchat/internal/chat"
	"github.com/docchat/docchat/internal/conversation"
)

// ChatService runs one chat turn as an event stream.
type ChatService interface {
	Answer(ctx context.Context, tenantID, conversationID, question string) (<-chan chat.Event, error)
}

// chatHandler handles the SSE chat endpoint.
type chatHandler struct {
	service ChatService
	logger  *slog.Logger
}

// SSE event types for chat streaming.
const (
	EventChunk = "chunk" // Partial answer text
	EventDone  = "done"  // Stream completed successfully
	EventError = "error" // Error occurred during streaming
)

// ChatRequest is the JSON body for a chat turn.
type ChatRequest struct {
	Question       string `json:"question"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ChunkPayload is the SSE data payload for streaming text chunks.
type ChunkPayload struct {
	Text string `json:"text"`
}

// DonePayload is the SSE data payload when streaming completes.
type DonePayload struct {
	Answer         string `json:"answer"`
	ConversationID string `json:"conversation_id"`
}

// ErrorPayload is the SSE data payload when an error occurs.
type ErrorPayload struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`

	// Answer is present on persistence failures: the answer was fully
	// generated but could not be saved.
	Answer string `json:"answer,omitempty"`
}

// stream handles SSE streaming chat requests.
//
// POST /api/v1/chat/stream
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_tenant", "no tenant in request context")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	var req ChatRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = writeEvent(w, flusher, EventError, ErrorPayload{
			Code:    "invalid_request",
			Message: "invalid request body",
		})
		return
	}
	if req.Question == "" {
		_ = writeEvent(w, flusher, EventError, ErrorPayload{Code: "missing_question", Message: "question is required"})
		return
	}

	ctx := r.Context()
	events, err := h.service.Answer(ctx, tenantID, req.ConversationID, req.Question)
	if err != nil {
		h.writeTurnError(w, flusher, err)
		return
	}

	h.logger.Debug("SSE stream started", "tenant_id", tenantID, "conversation_id", req.ConversationID)

	for event := range events {
		select {
		case <-ctx.Done():
			h.logger.Info("client disconnected mid-stream", "tenant_id", tenantID)
			return
		default:
		}

		switch {
		case event.Err != nil:
			h.writeStreamError(w, flusher, event)
			return

		case event.Done:
			_ = writeEvent(w, flusher, EventDone, DonePayload{
				Answer:         event.Answer,
				ConversationID: event.ConversationID,
			})
			return

		case event.Text != "":
			if err := writeEvent(w, flusher, EventChunk, ChunkPayload{Text: event.Text}); err != nil {
				// Write failure usually means the connection closed.
				h.logger.Debug("failed to write chunk", "error", err)
				return
			}
		}
	}
}

// writeTurnError maps pre-stream failures to SSE error events.
func (h *chatHandler) writeTurnError(w io.Writer, f http.Flusher, err error) {
	code := "chat_failed"
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		code = "conversation_not_found"
	case errors.Is(err, conversation.ErrPersistence):
		code = "persistence_failure"
	}
	_ = writeEvent(w, f, EventError, ErrorPayload{Code: code, Message: err.Error()})
}

// writeStreamError maps terminal stream errors to SSE error events.
// Persistence failures carry the generated answer so the client knows
// it exists but was not saved.
func (h *chatHandler) writeStreamError(w io.Writer, f http.Flusher, event chat.Event) {
	payload := ErrorPayload{
		Code:           "stream_error",
		Message:        event.Err.Error(),
		ConversationID: event.ConversationID,
	}
	switch {
	case errors.Is(event.Err, answer.ErrInterrupted):
		payload.Code = "generation_interrupted"
	case errors.Is(event.Err, conversation.ErrPersistence):
		payload.Code = "persistence_failure"
		payload.Answer = event.Answer
	}
	_ = writeEvent(w, f, EventError, payload)
}

// writeEvent writes a single SSE event with JSON-encoded data.
// SSE format: "event: <type>\ndata: <json>\n\n"
func writeEvent[T any](w io.Writer, flusher http.Flusher, event string, data T) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	flusher.Flush()
	return nil
}
