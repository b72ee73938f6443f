package index

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGQuerier implements Querier on a pgx connection pool.
// Schema: see db/migrations/0001_init.up.sql.
type PGQuerier struct {
	pool *pgxpool.Pool
}

// NewPGQuerier creates a PGQuerier on the given pool. The pool is
// long-lived and shared; the caller owns its lifecycle.
func NewPGQuerier(pool *pgxpool.Pool) *PGQuerier {
	return &PGQuerier{pool: pool}
}

// The conflict update never rewrites partition, tenant_id, document_id
// or ordinal: those are the row's identity. The WHERE guard makes an
// upsert against an id held by another partition a no-op (zero rows),
// which UpsertEntries reports as ErrDocumentConflict instead of
// silently stealing the row.
const upsertEntrySQL = `
INSERT INTO chunks (
	id, partition, tenant_id, document_id, ordinal, total_chunks,
	source_filename, text_preview, content, embedding
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
	total_chunks = EXCLUDED.total_chunks,
	source_filename = EXCLUDED.source_filename,
	text_preview = EXCLUDED.text_preview,
	content = EXCLUDED.content,
	embedding = EXCLUDED.embedding,
	updated_at = now()
WHERE chunks.partition = EXCLUDED.partition`

// UpsertEntries writes one batch of rows in a single transaction so a
// failed batch commits nothing, including batches rejected for a
// cross-partition document conflict.
func (q *PGQuerier) UpsertEntries(ctx context.Context, rows []UpsertRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(upsertEntrySQL,
			row.ID, row.Partition, row.TenantID, row.DocumentID,
			row.Ordinal, row.TotalChunks, row.SourceFilename,
			row.TextPreview, row.Content, row.Embedding,
		)
	}

	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	br := tx.SendBatch(ctx, batch)
	for i := range rows {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return fmt.Errorf("executing upsert batch: %w", err)
		}
		if tag.RowsAffected() == 0 {
			_ = br.Close()
			return fmt.Errorf("%w: entry %s", ErrDocumentConflict, rows[i].ID)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("closing upsert batch: %w", err)
	}

	return tx.Commit(ctx)
}

const searchEntriesSQL = `
SELECT id, tenant_id, document_id, ordinal, total_chunks,
	source_filename, text_preview, content,
	1 - (embedding <=> $1) AS similarity
FROM chunks
WHERE partition = $2
ORDER BY embedding <=> $1, document_id, ordinal
LIMIT $3`

// SearchEntries runs a cosine nearest-neighbor search within one
// partition. Ordering by (distance, document_id, ordinal) keeps results
// deterministic when scores tie.
func (q *PGQuerier) SearchEntries(ctx context.Context, arg SearchParams) ([]SearchRow, error) {
	rows, err := q.pool.Query(ctx, searchEntriesSQL, arg.QueryEmbedding, arg.Partition, arg.Limit)
	if err != nil {
		return nil, fmt.Errorf("searching partition %q: %w", arg.Partition, err)
	}
	defer rows.Close()

	var results []SearchRow
	for rows.Next() {
		var r SearchRow
		if err := rows.Scan(
			&r.ID, &r.TenantID, &r.DocumentID, &r.Ordinal, &r.TotalChunks,
			&r.SourceFilename, &r.TextPreview, &r.Content, &r.Similarity,
		); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search rows: %w", err)
	}
	return results, nil
}

// DeleteDocumentEntries removes all of a document's chunks from one
// partition and returns the number of rows deleted.
func (q *PGQuerier) DeleteDocumentEntries(ctx context.Context, partition, documentID string) (int64, error) {
	tag, err := q.pool.Exec(ctx,
		`DELETE FROM chunks WHERE partition = $1 AND document_id = $2`,
		partition, documentID,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting document entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

const listDocumentsSQL = `
SELECT document_id, min(source_filename), count(*), max(total_chunks), max(updated_at)
FROM chunks
WHERE partition = $1
GROUP BY document_id
ORDER BY max(updated_at) DESC, document_id`

// ListPartitionDocuments aggregates one partition's chunks per
// document. count(*) against max(total_chunks) exposes partially
// indexed documents.
func (q *PGQuerier) ListPartitionDocuments(ctx context.Context, partition string) ([]Document, error) {
	rows, err := q.pool.Query(ctx, listDocumentsSQL, partition)
	if err != nil {
		return nil, fmt.Errorf("listing partition documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var total int32
		if err := rows.Scan(&d.DocumentID, &d.SourceFilename, &d.ChunksIndexed, &total, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		d.TotalChunks = int(total)
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating document rows: %w", err)
	}
	return docs, nil
}

// CountPartitionEntries returns the number of chunks in one partition.
func (q *PGQuerier) CountPartitionEntries(ctx context.Context, partition string) (int64, error) {
	var n int64
	err := q.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM chunks WHERE partition = $1`,
		partition,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting partition entries: %w", err)
	}
	return n, nil
}
