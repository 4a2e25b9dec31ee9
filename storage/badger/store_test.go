package badger

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/poiesic/retrievit/core"
	"github.com/poiesic/retrievit/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func chunk(doc string, seq int, vec []float32, extra core.Metadata) *core.Chunk {
	meta := core.Metadata{
		core.MetaDocumentID:    doc,
		core.MetaSequenceIndex: seq,
	}
	for k, v := range extra {
		meta[k] = v
	}
	return &core.Chunk{
		ID:            core.ChunkID(doc, seq),
		DocumentID:    doc,
		Text:          fmt.Sprintf("%s text %d", doc, seq),
		SequenceIndex: seq,
		Embedding:     vec,
		Metadata:      meta,
	}
}

func TestStore_QueryOrdersByDistance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx,
		chunk("a", 0, []float32{1, 0, 0}, nil),
		chunk("b", 0, []float32{0.9, 0.1, 0}, nil),
		chunk("c", 0, []float32{0, 0, 1}, nil),
	))

	hits, err := s.Query(ctx, []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, "a_0", hits[0].ChunkID)
	assert.InDelta(t, 0, hits[0].Distance, 1e-6)
	assert.Equal(t, "b_0", hits[1].ChunkID)
	assert.Equal(t, "c_0", hits[2].ChunkID)
	assert.InDelta(t, 1, hits[2].Distance, 1e-6)

	for i := 1; i < len(hits); i++ {
		assert.LessOrEqual(t, hits[i-1].Distance, hits[i].Distance)
	}

	docID, ok := hits[0].Metadata.DocumentID()
	require.True(t, ok)
	assert.Equal(t, "a", docID)
	assert.Equal(t, "a text 0", hits[0].Text)
}

func TestStore_QueryLimitAndFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx,
		chunk("a", 0, []float32{1, 0}, core.Metadata{"type": "pdf"}),
		chunk("a", 1, []float32{0.8, 0.2}, core.Metadata{"type": "pdf"}),
		chunk("b", 0, []float32{0.95, 0.05}, core.Metadata{"type": "txt"}),
	))

	hits, err := s.Query(ctx, []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, err = s.Query(ctx, []float32{1, 0}, 10, core.Filter{"type": "pdf"})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Equal(t, "pdf", h.Metadata["type"])
	}

	hits, err = s.Query(ctx, []float32{1, 0}, 10, core.Filter{"type": "doc"})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestStore_QuerySkipsMismatchedDimensions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx,
		chunk("a", 0, []float32{1, 0}, nil),
		chunk("b", 0, []float32{1, 0, 0}, nil),
	))

	hits, err := s.Query(ctx, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a_0", hits[0].ChunkID)
}

func TestStore_QueryValidation(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Query(context.Background(), nil, 5, nil)
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
	_, err = s.Query(context.Background(), []float32{1}, 0, nil)
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func TestStore_QueryHonorsCancellation(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Upsert(context.Background(), chunk("a", 0, []float32{1}, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Query(ctx, []float32{1}, 1, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_UpsertValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	noVec := chunk("a", 0, nil, nil)
	assert.ErrorIs(t, s.Upsert(ctx, noVec), core.ErrInvalidChunk)

	noDoc := chunk("a", 0, []float32{1}, nil)
	noDoc.DocumentID = ""
	assert.ErrorIs(t, s.Upsert(ctx, noDoc), core.ErrMissingDocumentID)

	assert.NoError(t, s.Upsert(ctx))
}

func TestStore_UpsertReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, chunk("a", 0, []float32{1, 0}, nil)))
	updated := chunk("a", 0, []float32{0, 1}, nil)
	updated.Text = "new text"
	require.NoError(t, s.Upsert(ctx, updated))

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	chunks, err := s.DocumentChunks(ctx, "a")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "new text", chunks[0].Text)
	assert.Equal(t, []float32{0, 1}, chunks[0].Embedding)
}

func TestStore_UpsertMovesChunkBetweenDocuments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := chunk("a", 0, []float32{1}, nil)
	require.NoError(t, s.Upsert(ctx, c))

	moved := chunk("b", 0, []float32{1}, nil)
	moved.ID = c.ID
	require.NoError(t, s.Upsert(ctx, moved))

	_, err := s.DocumentChunks(ctx, "a")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	chunks, err := s.DocumentChunks(ctx, "b")
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestStore_DocumentChunksOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Key order would put a_10 before a_2.
	var chunks []*core.Chunk
	for i := 0; i < 12; i++ {
		chunks = append(chunks, chunk("a", i, []float32{1}, nil))
	}
	require.NoError(t, s.Upsert(ctx, chunks...))

	got, err := s.DocumentChunks(ctx, "a")
	require.NoError(t, err)
	require.Len(t, got, 12)
	for i, c := range got {
		assert.Equal(t, i, c.SequenceIndex)
	}
}

func TestStore_DeleteDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx,
		chunk("a", 0, []float32{1}, nil),
		chunk("a", 1, []float32{1}, nil),
		chunk("ab", 0, []float32{1}, nil),
	))

	n, err := s.DeleteDocument(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = s.DocumentChunks(ctx, "ab")
	assert.NoError(t, err)

	n, err = s.DeleteDocument(ctx, "missing")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_DeleteChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx,
		chunk("a", 0, []float32{1}, nil),
		chunk("a", 1, []float32{1}, nil),
		chunk("a", 2, []float32{1}, nil),
	))

	n, err := s.DeleteChunks(ctx, core.ChunkID("a", 1), core.ChunkID("a", 2), "missing")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	chunks, err := s.DocumentChunks(ctx, "a")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, core.ChunkID("a", 0), chunks[0].ID)

	n, err = s.DeleteChunks(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_Counts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docs, err := s.DocumentCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, docs)

	require.NoError(t, s.Upsert(ctx,
		chunk("a", 0, []float32{1}, nil),
		chunk("a", 1, []float32{1}, nil),
		chunk("b", 0, []float32{1}, nil),
	))

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	docs, err = s.DocumentCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, docs)
}

func TestStore_Clear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveInfo(ctx, &storage.StoreInfo{EmbeddingModel: "m", Dimension: 1}))
	require.NoError(t, s.Upsert(ctx, chunk("a", 0, []float32{1}, nil)))
	require.NoError(t, s.Clear(ctx))

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	info, err := s.LoadInfo(ctx)
	require.NoError(t, err)
	require.NotNil(t, info)
}

func TestStore_ForEachChunk(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var chunks []*core.Chunk
	for i := 0; i < 7; i++ {
		chunks = append(chunks, chunk("a", i, []float32{1}, nil))
	}
	require.NoError(t, s.Upsert(ctx, chunks...))

	var sizes []int
	seen := 0
	err := s.ForEachChunk(ctx, 3, func(batch []*core.Chunk) error {
		sizes = append(sizes, len(batch))
		seen += len(batch)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3, 1}, sizes)
	assert.Equal(t, 7, seen)

	boom := errors.New("boom")
	err = s.ForEachChunk(ctx, 3, func([]*core.Chunk) error { return boom })
	assert.ErrorIs(t, err, boom)

	err = s.ForEachChunk(ctx, 0, func([]*core.Chunk) error { return nil })
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func TestStore_Info(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	info, err := s.LoadInfo(ctx)
	require.NoError(t, err)
	assert.Nil(t, info)

	require.NoError(t, s.SaveInfo(ctx, &storage.StoreInfo{EmbeddingModel: "embeddinggemma", Dimension: 768}))

	info, err = s.LoadInfo(ctx)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "embeddinggemma", info.EmbeddingModel)
	assert.Equal(t, 768, info.Dimension)
	assert.False(t, info.UpdatedAt.IsZero())
}

func TestStore_Closed(t *testing.T) {
	s, err := NewMemoryStore()
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Query(context.Background(), []float32{1}, 1, nil)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
	assert.ErrorIs(t, s.Upsert(context.Background(), chunk("a", 0, []float32{1}, nil)), storage.ErrStorageClosed)
	assert.NoError(t, s.Close())
}

func TestNewStore_Persists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Upsert(ctx, chunk("a", 0, []float32{1}, nil)))
	require.NoError(t, store.Close())

	store, err = NewStore(dir)
	require.NoError(t, err)
	defer store.Close()

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNewStoreWithBackend_LeavesBackendOpen(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	s, err := NewStoreWithBackend(backend)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.False(t, backend.IsClosed())
}
