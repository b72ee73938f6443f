package index

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docchat/docchat/internal/log"
)

// mockQuerier implements Querier for testing.
type mockQuerier struct {
	upsertErr error
	searchErr error
	deleteErr error
	countErr  error
	listErr   error

	searchResults []SearchRow
	deleteCount   int64
	countResult   int64
	listResults   []Document

	upsertCalls [][]UpsertRow
	searchCalls []SearchParams
	listCalls   []string
}

func (m *mockQuerier) UpsertEntries(_ context.Context, rows []UpsertRow) error {
	m.upsertCalls = append(m.upsertCalls, rows)
	return m.upsertErr
}

func (m *mockQuerier) SearchEntries(_ context.Context, arg SearchParams) ([]SearchRow, error) {
	m.searchCalls = append(m.searchCalls, arg)
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	return m.searchResults, nil
}

func (m *mockQuerier) DeleteDocumentEntries(_ context.Context, _, _ string) (int64, error) {
	return m.deleteCount, m.deleteErr
}

func (m *mockQuerier) CountPartitionEntries(_ context.Context, _ string) (int64, error) {
	return m.countResult, m.countErr
}

func (m *mockQuerier) ListPartitionDocuments(_ context.Context, partition string) ([]Document, error) {
	m.listCalls = append(m.listCalls, partition)
	return m.listResults, m.listErr
}

func validEntry() Entry {
	return Entry{
		TenantID:       "u1",
		DocumentID:     "doc-1",
		Ordinal:        0,
		TotalChunks:    2,
		SourceFilename: "report.pdf",
		Content:        "chunk content",
		Embedding:      []float32{0.1, 0.2, 0.3},
	}
}

func TestEntryID(t *testing.T) {
	assert.Equal(t, "doc-1_0", EntryID("doc-1", 0))
	assert.Equal(t, "doc-1_41", EntryID("doc-1", 41))
}

func TestPartitionFor(t *testing.T) {
	assert.Equal(t, "tenant_u1", PartitionFor("u1"))
}

func TestUpsertBatch_Valid(t *testing.T) {
	q := &mockQuerier{}
	s := New(q, 3, log.NewNop())

	entries := []Entry{validEntry()}
	entries[0].Ordinal = 0
	second := validEntry()
	second.Ordinal = 1
	entries = append(entries, second)

	require.NoError(t, s.UpsertBatch(context.Background(), entries))
	require.Len(t, q.upsertCalls, 1)

	rows := q.upsertCalls[0]
	require.Len(t, rows, 2)
	assert.Equal(t, "doc-1_0", rows[0].ID)
	assert.Equal(t, "doc-1_1", rows[1].ID)
	assert.Equal(t, "tenant_u1", rows[0].Partition)
	assert.Equal(t, "chunk content", rows[0].TextPreview, "preview defaults to content when short")
}

func TestUpsertBatch_PreviewTruncated(t *testing.T) {
	q := &mockQuerier{}
	s := New(q, 3, log.NewNop())

	e := validEntry()
	e.Content = strings.Repeat("x", PreviewLimit+500)

	require.NoError(t, s.UpsertBatch(context.Background(), []Entry{e}))
	rows := q.upsertCalls[0]
	assert.Len(t, rows[0].TextPreview, PreviewLimit)
	assert.Len(t, rows[0].Content, PreviewLimit+500, "full content is stored untruncated")
}

func TestUpsertBatch_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Entry)
	}{
		{"missing tenant", func(e *Entry) { e.TenantID = "" }},
		{"missing document", func(e *Entry) { e.DocumentID = "" }},
		{"negative ordinal", func(e *Entry) { e.Ordinal = -1 }},
		{"ordinal beyond total", func(e *Entry) { e.Ordinal = 5; e.TotalChunks = 2 }},
		{"missing filename", func(e *Entry) { e.SourceFilename = "" }},
		{"empty content", func(e *Entry) { e.Content = "" }},
		{"wrong dimension", func(e *Entry) { e.Embedding = []float32{1} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &mockQuerier{}
			s := New(q, 3, log.NewNop())

			e := validEntry()
			tt.mutate(&e)

			err := s.UpsertBatch(context.Background(), []Entry{e})
			assert.ErrorIs(t, err, ErrInvalidEntry)
			assert.Empty(t, q.upsertCalls, "nothing must reach storage on validation failure")
		})
	}
}

func TestUpsertBatch_EmptyBatch(t *testing.T) {
	q := &mockQuerier{}
	s := New(q, 3, log.NewNop())

	require.NoError(t, s.UpsertBatch(context.Background(), nil))
	assert.Empty(t, q.upsertCalls)
}

func TestUpsertBatch_StorageFailure(t *testing.T) {
	q := &mockQuerier{upsertErr: errors.New("connection reset")}
	s := New(q, 3, log.NewNop())

	err := s.UpsertBatch(context.Background(), []Entry{validEntry()})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestUpsertBatch_CrossTenantConflictNotRetryable(t *testing.T) {
	// A conflict must keep its identity so callers reject the write
	// instead of retrying it as a transient index failure.
	q := &mockQuerier{upsertErr: fmt.Errorf("%w: entry doc-1_0", ErrDocumentConflict)}
	s := New(q, 3, log.NewNop())

	err := s.UpsertBatch(context.Background(), []Entry{validEntry()})
	assert.ErrorIs(t, err, ErrDocumentConflict)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestSearch_ScopedToTenantPartition(t *testing.T) {
	q := &mockQuerier{
		searchResults: []SearchRow{
			{ID: "doc-1_0", TenantID: "u1", DocumentID: "doc-1", Ordinal: 0, TotalChunks: 1, SourceFilename: "a.txt", Content: "hello", Similarity: 0.9},
		},
	}
	s := New(q, 3, log.NewNop())

	results, err := s.Search(context.Background(), "u1", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "u1", results[0].Entry.TenantID)
	assert.InDelta(t, 0.9, results[0].Similarity, 1e-6)

	require.Len(t, q.searchCalls, 1)
	assert.Equal(t, "tenant_u1", q.searchCalls[0].Partition)
	assert.Equal(t, int32(5), q.searchCalls[0].Limit)
}

func TestSearch_EmptyPartitionIsNotAnError(t *testing.T) {
	q := &mockQuerier{}
	s := New(q, 3, log.NewNop())

	results, err := s.Search(context.Background(), "u2", []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_Failure(t *testing.T) {
	q := &mockQuerier{searchErr: errors.New("timeout")}
	s := New(q, 3, log.NewNop())

	_, err := s.Search(context.Background(), "u1", []float32{1, 0, 0}, 3)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSearch_DimensionChecked(t *testing.T) {
	q := &mockQuerier{}
	s := New(q, 3, log.NewNop())

	_, err := s.Search(context.Background(), "u1", []float32{1, 0}, 3)
	assert.ErrorIs(t, err, ErrInvalidEntry)
	assert.Empty(t, q.searchCalls)
}

func TestDeleteDocument(t *testing.T) {
	q := &mockQuerier{deleteCount: 7}
	s := New(q, 3, log.NewNop())

	n, err := s.DeleteDocument(context.Background(), "u1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestDeleteDocument_MissingIDs(t *testing.T) {
	s := New(&mockQuerier{}, 3, log.NewNop())

	_, err := s.DeleteDocument(context.Background(), "", "doc-1")
	assert.ErrorIs(t, err, ErrInvalidEntry)

	_, err = s.DeleteDocument(context.Background(), "u1", "")
	assert.ErrorIs(t, err, ErrInvalidEntry)
}

func TestCount(t *testing.T) {
	q := &mockQuerier{countResult: 42}
	s := New(q, 3, log.NewNop())

	n, err := s.Count(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestListDocuments_ScopedToTenantPartition(t *testing.T) {
	q := &mockQuerier{listResults: []Document{
		{DocumentID: "doc-1", SourceFilename: "report.pdf", ChunksIndexed: 4, TotalChunks: 4},
	}}
	s := New(q, 3, log.NewNop())

	docs, err := s.ListDocuments(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "doc-1", docs[0].DocumentID)
	assert.Equal(t, []string{"tenant_u1"}, q.listCalls)
}

func TestListDocuments_MissingTenant(t *testing.T) {
	s := New(&mockQuerier{}, 3, log.NewNop())

	_, err := s.ListDocuments(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidEntry)
}

func TestListDocuments_Failure(t *testing.T) {
	q := &mockQuerier{listErr: errors.New("timeout")}
	s := New(q, 3, log.NewNop())

	_, err := s.ListDocuments(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrUnavailable)
}
