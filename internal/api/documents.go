package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/docchat/docchat/internal/embed"
	"github.com/docchat/docchat/internal/extract"
	"github.com/docchat/docchat/internal/index"
	"github.com/docchat/docchat/internal/ingest"
)

// Ingestor runs the ingestion pipeline for one upload.
type Ingestor interface {
	Ingest(ctx context.Context, req ingest.Request) (*ingest.Result, error)
}

// DocumentIndex is the slice of the vector index the document handlers
// need.
type DocumentIndex interface {
	DeleteDocument(ctx context.Context, tenantID, documentID string) (int64, error)
	ListDocuments(ctx context.Context, tenantID string) ([]index.Document, error)
	Count(ctx context.Context, tenantID string) (int64, error)
}

// documentHandler handles document upload and deletion.
type documentHandler struct {
	pipeline Ingestor
	index    DocumentIndex
	maxBytes int64
	logger   *slog.Logger
}

// UploadResponse is the JSON body for a completed ingestion. Partial is
// set when some chunks failed to index; re-uploading with the returned
// DocumentID overwrites and completes the document.
type UploadResponse struct {
	DocumentID     string `json:"document_id"`
	Filename       string `json:"filename"`
	ChunksProduced int    `json:"chunks_produced"`
	ChunksIndexed  int    `json:"chunks_indexed"`
	Partial        bool   `json:"partial,omitempty"`
}

// upload ingests one multipart file upload.
//
// POST /api/v1/documents, multipart field "file", optional form field
// "document_id" for re-ingestion.
func (h *documentHandler) upload(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_tenant", "no tenant in request context")
		return
	}

	// Cap the whole request a little above the document limit to leave
	// room for multipart framing.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+64<<10)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "upload exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", `multipart field "file" is required`)
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "upload exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "reading upload failed")
		return
	}

	result, err := h.pipeline.Ingest(r.Context(), ingest.Request{
		TenantID:   tenantID,
		Filename:   header.Filename,
		MediaType:  header.Header.Get("Content-Type"),
		Data:       data,
		DocumentID: r.FormValue("document_id"),
	})

	var partial *ingest.PartialIndexError
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, UploadResponse{
			DocumentID:     result.DocumentID,
			Filename:       header.Filename,
			ChunksProduced: result.ChunksProduced,
			ChunksIndexed:  result.ChunksIndexed,
		})

	case errors.As(err, &partial):
		// Some chunks landed; report exact counts rather than failing
		// the whole upload.
		h.logger.Warn("partial ingestion",
			"tenant_id", tenantID,
			"document_id", partial.DocumentID,
			"indexed", partial.Indexed,
			"produced", partial.Produced,
		)
		writeJSON(w, http.StatusCreated, UploadResponse{
			DocumentID:     result.DocumentID,
			Filename:       header.Filename,
			ChunksProduced: result.ChunksProduced,
			ChunksIndexed:  result.ChunksIndexed,
			Partial:        true,
		})

	default:
		h.writeIngestError(w, err)
	}
}

// writeIngestError maps pipeline errors onto status codes that tell the
// client whether its input was invalid or the service is temporarily
// unavailable.
func (h *documentHandler) writeIngestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, extract.ErrUnsupportedMediaType):
		writeError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", err.Error())
	case errors.Is(err, ingest.ErrPayloadTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", err.Error())
	case errors.Is(err, extract.ErrExtractionFailed):
		writeError(w, http.StatusUnprocessableEntity, "extraction_failed", err.Error())
	case errors.Is(err, ingest.ErrEmptyDocument):
		writeError(w, http.StatusUnprocessableEntity, "empty_document", err.Error())
	case errors.Is(err, index.ErrDocumentConflict):
		writeError(w, http.StatusConflict, "document_conflict", "document_id belongs to another tenant's document")
	case errors.Is(err, embed.ErrUnavailable):
		writeError(w, http.StatusBadGateway, "embedding_unavailable", "embedding service is temporarily unavailable, retry")
	case errors.Is(err, index.ErrUnavailable):
		writeError(w, http.StatusBadGateway, "index_unavailable", "vector index is temporarily unavailable, retry")
	default:
		h.logger.Error("ingestion failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "ingestion failed")
	}
}

// DocumentResponse is one indexed document in a listing.
type DocumentResponse struct {
	DocumentID    string    `json:"document_id"`
	Filename      string    `json:"filename"`
	ChunksIndexed int64     `json:"chunks_indexed"`
	TotalChunks   int       `json:"total_chunks"`
	UpdatedAt     time.Time `json:"updated_at"`
	Partial       bool      `json:"partial,omitempty"`
}

// listDocuments returns the tenant's indexed documents, most recently
// updated first.
//
// GET /api/v1/documents
func (h *documentHandler) listDocuments(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_tenant", "no tenant in request context")
		return
	}

	docs, err := h.index.ListDocuments(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, index.ErrUnavailable) {
			writeError(w, http.StatusBadGateway, "index_unavailable", "vector index is temporarily unavailable, retry")
			return
		}
		h.logger.Error("listing documents failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "listing documents failed")
		return
	}

	out := make([]DocumentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, DocumentResponse{
			DocumentID:    d.DocumentID,
			Filename:      d.SourceFilename,
			ChunksIndexed: d.ChunksIndexed,
			TotalChunks:   d.TotalChunks,
			UpdatedAt:     d.UpdatedAt,
			Partial:       d.ChunksIndexed < int64(d.TotalChunks),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": out})
}

// DeleteResponse reports how many chunks a document deletion removed.
type DeleteResponse struct {
	DocumentID    string `json:"document_id"`
	ChunksDeleted int64  `json:"chunks_deleted"`
}

// deleteDocument removes all indexed chunks of one document.
//
// DELETE /api/v1/documents/{id}
func (h *documentHandler) deleteDocument(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_tenant", "no tenant in request context")
		return
	}

	documentID := r.PathValue("id")
	n, err := h.index.DeleteDocument(r.Context(), tenantID, documentID)
	if err != nil {
		switch {
		case errors.Is(err, index.ErrInvalidEntry):
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		case errors.Is(err, index.ErrUnavailable):
			writeError(w, http.StatusBadGateway, "index_unavailable", "vector index is temporarily unavailable, retry")
		default:
			h.logger.Error("document deletion failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "deletion failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, DeleteResponse{DocumentID: documentID, ChunksDeleted: n})
}
