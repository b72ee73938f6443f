// Package index provides the tenant-partitioned vector index backed by
// PostgreSQL and pgvector.
//
// Every entry lives in exactly one partition derived from its tenant,
// and every search is restricted to one partition. A search issued for
// tenant T never returns an entry whose tenant differs from T, even
// under concurrent ingestion by other tenants; isolation is enforced by
// the partition predicate on every query.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pgvector/pgvector-go"
)

var (
	// ErrInvalidEntry indicates an entry failed boundary validation.
	ErrInvalidEntry = errors.New("invalid index entry")

	// ErrUnavailable indicates the index service failed; retryable.
	ErrUnavailable = errors.New("vector index unavailable")

	// ErrDocumentConflict indicates an upsert targeted a document id
	// whose entries live in another tenant's partition. Not retryable;
	// the write is rejected without touching the existing entries.
	ErrDocumentConflict = errors.New("document owned by another tenant")
)

// PreviewLimit bounds the stored text preview, mirroring the metadata
// budget of hosted vector stores.
const PreviewLimit = 1000

// PartitionFor returns the partition name for a tenant.
func PartitionFor(tenantID string) string {
	return "tenant_" + tenantID
}

// EntryID derives the globally unique entry key from document identity
// and chunk ordinal.
func EntryID(documentID string, ordinal int) string {
	return fmt.Sprintf("%s_%d", documentID, ordinal)
}

// Entry is one indexed chunk. The field set is fixed and validated at
// the index boundary; unknown or missing metadata is rejected rather
// than passed through as an opaque map.
type Entry struct {
	TenantID       string
	DocumentID     string
	Ordinal        int
	TotalChunks    int
	SourceFilename string
	TextPreview    string
	Content        string
	Embedding      []float32
}

// ID returns the entry key, {document_id}_{ordinal}.
func (e *Entry) ID() string { return EntryID(e.DocumentID, e.Ordinal) }

func (e *Entry) validate(dim int) error {
	switch {
	case e.TenantID == "":
		return fmt.Errorf("%w: missing tenant id", ErrInvalidEntry)
	case e.DocumentID == "":
		return fmt.Errorf("%w: missing document id", ErrInvalidEntry)
	case e.Ordinal < 0:
		return fmt.Errorf("%w: negative ordinal %d", ErrInvalidEntry, e.Ordinal)
	case e.TotalChunks < 1 || e.Ordinal >= e.TotalChunks:
		return fmt.Errorf("%w: ordinal %d outside total %d", ErrInvalidEntry, e.Ordinal, e.TotalChunks)
	case e.SourceFilename == "":
		return fmt.Errorf("%w: missing source filename", ErrInvalidEntry)
	case e.Content == "":
		return fmt.Errorf("%w: empty content", ErrInvalidEntry)
	case len(e.Embedding) != dim:
		return fmt.Errorf("%w: embedding dimension %d, index expects %d", ErrInvalidEntry, len(e.Embedding), dim)
	}
	return nil
}

// Result is one search hit with its similarity score.
type Result struct {
	Entry      Entry
	Similarity float32
}

// Document summarizes one indexed document inside a partition. When
// ChunksIndexed is below TotalChunks the document's last ingestion was
// partial and a re-upload would complete it.
type Document struct {
	DocumentID     string
	SourceFilename string
	ChunksIndexed  int64
	TotalChunks    int
	UpdatedAt      time.Time
}

// UpsertRow is the storage-level representation of an Entry.
type UpsertRow struct {
	ID             string
	Partition      string
	TenantID       string
	DocumentID     string
	Ordinal        int32
	TotalChunks    int32
	SourceFilename string
	TextPreview    string
	Content        string
	Embedding      pgvector.Vector
}

// SearchParams selects the top-k nearest entries within one partition.
type SearchParams struct {
	Partition      string
	QueryEmbedding pgvector.Vector
	Limit          int32
}

// SearchRow is one storage-level search hit.
type SearchRow struct {
	ID             string
	TenantID       string
	DocumentID     string
	Ordinal        int32
	TotalChunks    int32
	SourceFilename string
	TextPreview    string
	Content        string
	Similarity     float32
}

// Querier defines the database operations the Store needs.
// The interface is defined here, by the consumer, so tests can supply
// mocks and production supplies the pgx implementation.
type Querier interface {
	UpsertEntries(ctx context.Context, rows []UpsertRow) error
	SearchEntries(ctx context.Context, arg SearchParams) ([]SearchRow, error)
	DeleteDocumentEntries(ctx context.Context, partition, documentID string) (int64, error)
	CountPartitionEntries(ctx context.Context, partition string) (int64, error)
	ListPartitionDocuments(ctx context.Context, partition string) ([]Document, error)
}

// Store manages vector entries with tenant isolation.
// Safe for concurrent use; all state lives in the database.
type Store struct {
	queries Querier
	dim     int
	logger  *slog.Logger
}

// New creates a Store. dim is the vector dimension the underlying
// schema was created with; entries of any other dimension are rejected.
func New(querier Querier, dim int, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{queries: querier, dim: dim, logger: logger}
}

// Dimension returns the vector dimension of the index schema.
func (s *Store) Dimension() int { return s.dim }

// UpsertBatch validates and upserts one batch of entries into their
// tenants' partitions. All entries are validated before any row is
// written, so a malformed batch commits nothing.
func (s *Store) UpsertBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	rows := make([]UpsertRow, len(entries))
	for i := range entries {
		e := &entries[i]
		if err := e.validate(s.dim); err != nil {
			return err
		}
		preview := e.TextPreview
		if preview == "" {
			preview = truncate(e.Content, PreviewLimit)
		}
		rows[i] = UpsertRow{
			ID:             e.ID(),
			Partition:      PartitionFor(e.TenantID),
			TenantID:       e.TenantID,
			DocumentID:     e.DocumentID,
			Ordinal:        int32(e.Ordinal),
			TotalChunks:    int32(e.TotalChunks),
			SourceFilename: e.SourceFilename,
			TextPreview:    truncate(preview, PreviewLimit),
			Content:        e.Content,
			Embedding:      pgvector.NewVector(e.Embedding),
		}
	}

	if err := s.queries.UpsertEntries(ctx, rows); err != nil {
		if errors.Is(err, ErrDocumentConflict) {
			return err
		}
		return fmt.Errorf("%w: upserting %d entries: %w", ErrUnavailable, len(rows), err)
	}

	s.logger.Debug("upserted entries", "count", len(rows), "partition", rows[0].Partition)
	return nil
}

// Search returns the topK nearest entries in the tenant's partition,
// ordered by cosine similarity. Ties are broken by (document, ordinal)
// so results are deterministic. An empty result is a valid answer and
// is distinct from a failed search.
func (s *Store) Search(ctx context.Context, tenantID string, queryVec []float32, topK int) ([]Result, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: missing tenant id", ErrInvalidEntry)
	}
	if len(queryVec) != s.dim {
		return nil, fmt.Errorf("%w: query dimension %d, index expects %d", ErrInvalidEntry, len(queryVec), s.dim)
	}
	if topK < 1 {
		topK = 1
	}

	rows, err := s.queries.SearchEntries(ctx, SearchParams{
		Partition:      PartitionFor(tenantID),
		QueryEmbedding: pgvector.NewVector(queryVec),
		Limit:          int32(topK),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		results = append(results, Result{
			Entry: Entry{
				TenantID:       row.TenantID,
				DocumentID:     row.DocumentID,
				Ordinal:        int(row.Ordinal),
				TotalChunks:    int(row.TotalChunks),
				SourceFilename: row.SourceFilename,
				TextPreview:    row.TextPreview,
				Content:        row.Content,
			},
			Similarity: row.Similarity,
		})
	}
	return results, nil
}

// DeleteDocument removes all entries of one document from the tenant's
// partition and reports how many were deleted. Deleting a document that
// was never indexed is not an error.
func (s *Store) DeleteDocument(ctx context.Context, tenantID, documentID string) (int64, error) {
	if tenantID == "" || documentID == "" {
		return 0, fmt.Errorf("%w: missing tenant or document id", ErrInvalidEntry)
	}

	n, err := s.queries.DeleteDocumentEntries(ctx, PartitionFor(tenantID), documentID)
	if err != nil {
		return 0, fmt.Errorf("%w: deleting document %q: %w", ErrUnavailable, documentID, err)
	}

	s.logger.Debug("deleted document entries", "document_id", documentID, "count", n)
	return n, nil
}

// ListDocuments returns the documents indexed in the tenant's
// partition, most recently updated first.
func (s *Store) ListDocuments(ctx context.Context, tenantID string) ([]Document, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: missing tenant id", ErrInvalidEntry)
	}

	docs, err := s.queries.ListPartitionDocuments(ctx, PartitionFor(tenantID))
	if err != nil {
		return nil, fmt.Errorf("%w: listing documents: %w", ErrUnavailable, err)
	}
	return docs, nil
}

// Count returns the number of entries in the tenant's partition.
func (s *Store) Count(ctx context.Context, tenantID string) (int64, error) {
	n, err := s.queries.CountPartitionEntries(ctx, PartitionFor(tenantID))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return n, nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
