// Package ingest runs the document ingestion pipeline: media-type
// gating, text extraction, chunking, embedding, and index upserts.
//
// The pipeline is all-or-nothing up to the upsert stage. Once chunks
// start landing in the index, a later batch failure produces a partial
// result that reports exactly how many chunks were indexed; it never
// silently drops the remainder.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/docchat/docchat/internal/chunker"
	"github.com/docchat/docchat/internal/embed"
	"github.com/docchat/docchat/internal/extract"
	"github.com/docchat/docchat/internal/index"
	"github.com/docchat/docchat/internal/retry"
)

// ErrPayloadTooLarge indicates the upload exceeds the configured size
// limit. Checked after the media-type gate, before any parsing.
var ErrPayloadTooLarge = errors.New("payload too large")

// ErrEmptyDocument indicates extraction succeeded but produced no
// indexable text.
var ErrEmptyDocument = errors.New("document contains no indexable text")

const (
	// embedBatchSize bounds texts per embedding request.
	embedBatchSize = 50

	// upsertBatchSize bounds entries per index upsert.
	upsertBatchSize = 100
)

// PartialIndexError reports an ingestion that indexed some but not all
// chunks of a document. The accompanying Result is still valid.
type PartialIndexError struct {
	DocumentID string
	Indexed    int
	Produced   int
	Err        error
}

func (e *PartialIndexError) Error() string {
	return fmt.Sprintf("document %s partially indexed: %d of %d chunks: %v",
		e.DocumentID, e.Indexed, e.Produced, e.Err)
}

func (e *PartialIndexError) Unwrap() error { return e.Err }

// Request describes one document upload.
type Request struct {
	TenantID  string
	Filename  string
	MediaType string
	Data      []byte

	// DocumentID is optional. When set, re-ingestion overwrites the
	// entries of the previous version chunk-for-chunk; when empty a
	// fresh identifier is generated.
	DocumentID string
}

// Result summarizes a completed (possibly partial) ingestion.
type Result struct {
	DocumentID     string
	ChunksProduced int
	ChunksIndexed  int
}

// Indexer is the slice of the vector index the pipeline writes to.
type Indexer interface {
	UpsertBatch(ctx context.Context, entries []index.Entry) error
}

// Pipeline ingests documents for retrieval. Safe for concurrent use.
type Pipeline struct {
	chunker  *chunker.Chunker
	embedder embed.Embedder
	indexer  Indexer
	maxBytes int64
	retryCfg retry.Config
	logger   *slog.Logger
}

// New creates a Pipeline. maxBytes bounds the raw upload size.
func New(c *chunker.Chunker, e embed.Embedder, idx Indexer, maxBytes int64, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		chunker:  c,
		embedder: e,
		indexer:  idx,
		maxBytes: maxBytes,
		retryCfg: retry.Default(),
		logger:   logger,
	}
}

// Ingest runs the full pipeline for one document.
//
// Failures before the first upsert (unsupported type, oversize payload,
// extraction failure, embedding outage after retries) leave the index
// untouched. A failure partway through upserting returns both a Result
// with the achieved counts and a *PartialIndexError.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (*Result, error) {
	kind, err := extract.DetectKind(req.MediaType, req.Filename)
	if err != nil {
		return nil, err
	}
	if int64(len(req.Data)) > p.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit %d", ErrPayloadTooLarge, len(req.Data), p.maxBytes)
	}

	text, err := extract.Text(kind, req.Data)
	if err != nil {
		return nil, err
	}

	chunks := p.chunker.Split(text)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrEmptyDocument, req.Filename)
	}

	documentID := req.DocumentID
	if documentID == "" {
		documentID = uuid.NewString()
	}

	p.logger.Info("ingesting document",
		"tenant_id", req.TenantID,
		"document_id", documentID,
		"filename", req.Filename,
		"kind", string(kind),
		"chunks", len(chunks),
	)

	entries, err := p.embedChunks(ctx, req, documentID, chunks)
	if err != nil {
		return nil, err
	}

	result := &Result{DocumentID: documentID, ChunksProduced: len(entries)}

	if err := p.upsertEntries(ctx, entries, result); err != nil {
		if result.ChunksIndexed == 0 && errors.Is(err, index.ErrDocumentConflict) {
			// The document id is held by another tenant; no entry was
			// written, so this is a rejection, not a partial success.
			return nil, err
		}
		return result, &PartialIndexError{
			DocumentID: documentID,
			Indexed:    result.ChunksIndexed,
			Produced:   result.ChunksProduced,
			Err:        err,
		}
	}
	return result, nil
}

// embedChunks embeds all chunks and builds the index entries. Runs
// before any write, so an embedding outage leaves the index untouched.
func (p *Pipeline) embedChunks(ctx context.Context, req Request, documentID string, chunks []chunker.Chunk) ([]index.Entry, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedBatchSize {
		end := min(start+embedBatchSize, len(texts))
		batch := texts[start:end]

		var vecs [][]float32
		err := retry.Do(ctx, p.retryCfg, func(err error) bool {
			return errors.Is(err, embed.ErrUnavailable)
		}, func() error {
			var embedErr error
			vecs, embedErr = p.embedder.EmbedBatch(ctx, batch)
			return embedErr
		})
		if err != nil {
			return nil, fmt.Errorf("embedding chunks %d..%d of document %s: %w", start, end-1, documentID, err)
		}
		vectors = append(vectors, vecs...)
	}

	entries := make([]index.Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = index.Entry{
			TenantID:       req.TenantID,
			DocumentID:     documentID,
			Ordinal:        i,
			TotalChunks:    len(chunks),
			SourceFilename: req.Filename,
			Content:        c.Text,
			Embedding:      vectors[i],
		}
	}
	return entries, nil
}

// upsertEntries writes entries in bounded batches, retrying transient
// index failures per batch. A batch that fails after retries does not
// abort the pipeline; the remaining batches are still attempted and the
// indexed count in result reflects only batches that committed.
func (p *Pipeline) upsertEntries(ctx context.Context, entries []index.Entry, result *Result) error {
	var failures []error

	for start := 0; start < len(entries); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(entries))
		batch := entries[start:end]

		err := retry.Do(ctx, p.retryCfg, func(err error) bool {
			return errors.Is(err, index.ErrUnavailable)
		}, func() error {
			return p.indexer.UpsertBatch(ctx, batch)
		})
		if err != nil {
			p.logger.Warn("index upsert batch failed",
				"from", start, "to", end-1, "error", err)
			failures = append(failures, fmt.Errorf("chunks %d..%d: %w", start, end-1, err))
			if ctx.Err() != nil || errors.Is(err, index.ErrDocumentConflict) {
				// A conflict rejects every batch of the document alike;
				// there is nothing left to attempt.
				break
			}
			continue
		}
		result.ChunksIndexed += len(batch)
	}

	return errors.Join(failures...)
}
