package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/retrievit/ai/mock"
	"github.com/poiesic/retrievit/core"
	"github.com/poiesic/retrievit/storage"
	"github.com/poiesic/retrievit/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPipeline(t *testing.T, opts ...Option) (*Pipeline, *badger.Store, *mock.MockEmbedder) {
	t.Helper()
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	emb := mock.NewMockEmbedder()
	opts = append([]Option{WithRetry(2, time.Millisecond)}, opts...)
	p, err := NewPipeline(store, mock.NewMockProviderWithServices(emb, mock.NewMockGenerator()), opts...)
	require.NoError(t, err)
	t.Cleanup(p.Release)
	return p, store, emb
}

func TestNewPipeline(t *testing.T) {
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	defer store.Close()
	provider := mock.NewMockProvider()

	t.Run("valid configuration", func(t *testing.T) {
		p, err := NewPipeline(store, provider)
		require.NoError(t, err)
		defer p.Release()
		assert.Equal(t, DefaultBatchSize, p.batchSize)
	})

	t.Run("with options", func(t *testing.T) {
		p, err := NewPipeline(store, provider,
			WithPoolSize(4),
			WithLogger(nil),
			WithChunking(100, 10),
			WithBatchSize(8),
		)
		require.NoError(t, err)
		defer p.Release()
		assert.Equal(t, 4, p.pool.Cap())
		assert.Equal(t, 100, p.chunkSize)
		assert.Equal(t, 8, p.batchSize)
	})

	t.Run("nil store", func(t *testing.T) {
		_, err := NewPipeline(nil, provider)
		assert.Equal(t, ErrVectorStoreRequired, err)
	})

	t.Run("nil provider", func(t *testing.T) {
		_, err := NewPipeline(store, nil)
		assert.Equal(t, ErrAIProviderRequired, err)
	})

	t.Run("invalid chunking", func(t *testing.T) {
		_, err := NewPipeline(store, provider, WithChunking(0, 0))
		assert.ErrorIs(t, err, ErrInvalidChunking)
		_, err = NewPipeline(store, provider, WithChunking(10, -1))
		assert.ErrorIs(t, err, ErrInvalidChunking)
	})

	t.Run("invalid retry", func(t *testing.T) {
		_, err := NewPipeline(store, provider, WithRetry(0, time.Second))
		assert.Error(t, err)
	})
}

func TestIngestDocument_SingleChunk(t *testing.T) {
	p, store, _ := newTestPipeline(t)
	ctx := context.Background()

	res, err := p.IngestDocument(ctx, &core.Document{
		ID:       "notes",
		Text:     "short note",
		Metadata: core.Metadata{"fileName": "notes.txt", core.MetaDocumentID: "spoofed"},
	})
	require.NoError(t, err)
	assert.Equal(t, &Result{DocumentID: "notes", Chunks: 1}, res)

	chunks, err := store.DocumentChunks(ctx, "notes")
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	chunk := chunks[0]
	assert.Equal(t, "notes_0", chunk.ID)
	assert.Equal(t, "short note", chunk.Text)
	assert.Len(t, chunk.Embedding, mock.DefaultDimension)

	docID, ok := chunk.Metadata.DocumentID()
	require.True(t, ok)
	assert.Equal(t, "notes", docID)
	total, ok := chunk.Metadata.TotalChunks()
	require.True(t, ok)
	assert.Equal(t, 1, total)
	assert.Equal(t, "notes.txt", chunk.Metadata["fileName"])
	assert.Equal(t, core.IDFromContent("short note").Hex(), chunk.Metadata[core.MetaContentHash])
}

func TestIngestDocument_ChunksAndBatches(t *testing.T) {
	p, store, emb := newTestPipeline(t, WithChunking(50, 10), WithBatchSize(2))
	ctx := context.Background()

	text := strings.Repeat("This is a sentence about retrieval. ", 10)
	res, err := p.IngestDocument(ctx, &core.Document{ID: "long", Text: text})
	require.NoError(t, err)
	require.Greater(t, res.Chunks, 2)

	chunks, err := store.DocumentChunks(ctx, "long")
	require.NoError(t, err)
	require.Len(t, chunks, res.Chunks)
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.SequenceIndex)
		seq, ok := chunk.Metadata.SequenceIndex()
		require.True(t, ok)
		assert.Equal(t, i, seq)
		total, _ := chunk.Metadata.TotalChunks()
		assert.Equal(t, res.Chunks, total)
	}

	// One EmbedTexts call per batch of two.
	assert.Equal(t, (res.Chunks+1)/2, emb.CallCount())
}

func TestIngestDocument_ReplacesExisting(t *testing.T) {
	p, store, _ := newTestPipeline(t, WithChunking(40, 5))
	ctx := context.Background()

	long := strings.Repeat("Chunked content goes here. ", 8)
	first, err := p.IngestDocument(ctx, &core.Document{ID: "doc", Text: long})
	require.NoError(t, err)
	require.Greater(t, first.Chunks, 1)

	second, err := p.IngestDocument(ctx, &core.Document{ID: "doc", Text: "now short"})
	require.NoError(t, err)
	assert.Equal(t, first.Chunks, second.Replaced)
	assert.Equal(t, 1, second.Chunks)

	chunks, err := store.DocumentChunks(ctx, "doc")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "now short", chunks[0].Text)
}

// flakyStore fails upserts on demand.
type flakyStore struct {
	*badger.Store
	failUpserts atomic.Bool
}

func (f *flakyStore) Upsert(ctx context.Context, chunks ...*core.Chunk) error {
	if f.failUpserts.Load() {
		return errors.New("store unavailable")
	}
	return f.Store.Upsert(ctx, chunks...)
}

func TestIngestDocument_FailedWriteKeepsPreviousVersion(t *testing.T) {
	inner, err := badger.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { inner.Close() })
	store := &flakyStore{Store: inner}

	p, err := NewPipeline(store, mock.NewMockProvider(), WithChunking(40, 5), WithRetry(1, time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(p.Release)
	ctx := context.Background()

	long := strings.Repeat("Chunked content goes here. ", 8)
	first, err := p.IngestDocument(ctx, &core.Document{ID: "doc", Text: long})
	require.NoError(t, err)

	store.failUpserts.Store(true)
	_, err = p.IngestDocument(ctx, &core.Document{ID: "doc", Text: "now short"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store unavailable")

	chunks, err := inner.DocumentChunks(ctx, "doc")
	require.NoError(t, err)
	assert.Len(t, chunks, first.Chunks)
	assert.NotEqual(t, "now short", chunks[0].Text)
}

func TestIngestDocument_Validation(t *testing.T) {
	p, _, emb := newTestPipeline(t)
	ctx := context.Background()

	_, err := p.IngestDocument(ctx, nil)
	assert.ErrorIs(t, err, core.ErrInvalidDocument)

	_, err = p.IngestDocument(ctx, &core.Document{ID: "", Text: "x"})
	assert.ErrorIs(t, err, core.ErrEmptyDocumentID)

	_, err = p.IngestDocument(ctx, &core.Document{ID: "x", Text: "   "})
	assert.ErrorIs(t, err, core.ErrEmptyContent)

	assert.Zero(t, emb.CallCount())
}

func TestIngestDocument_EmbeddingRetry(t *testing.T) {
	p, store, emb := newTestPipeline(t)
	ctx := context.Background()

	var calls atomic.Int32
	emb.EmbedTextsFunc = func(_ context.Context, texts []string) ([][]float32, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("temporary failure")
		}
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{1, 0, 0}
		}
		return out, nil
	}

	_, err := p.IngestDocument(ctx, &core.Document{ID: "doc", Text: "text"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIngestDocument_EmbeddingFailureStoresNothing(t *testing.T) {
	p, store, emb := newTestPipeline(t)
	ctx := context.Background()

	emb.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("model offline")
	}

	_, err := p.IngestDocument(ctx, &core.Document{ID: "doc", Text: "text"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model offline")

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIngestDocument_EmbeddingMismatch(t *testing.T) {
	p, _, emb := newTestPipeline(t)
	emb.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
		return [][]float32{}, nil
	}

	_, err := p.IngestDocument(context.Background(), &core.Document{ID: "doc", Text: "text"})
	assert.ErrorIs(t, err, ErrEmbeddingMismatch)
}

func TestIngest_Concurrent(t *testing.T) {
	p, store, _ := newTestPipeline(t, WithPoolSize(3))
	ctx := context.Background()

	docs := make([]*core.Document, 10)
	for i := range docs {
		docs[i] = &core.Document{ID: fmt.Sprintf("doc-%d", i), Text: fmt.Sprintf("document number %d", i)}
	}
	docs = append(docs, &core.Document{ID: "bad", Text: ""})

	results, err := p.Ingest(ctx, docs...)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrEmptyContent)
	require.Len(t, results, 11)
	for i := range 10 {
		require.NotNil(t, results[i])
		assert.Equal(t, docs[i].ID, results[i].DocumentID)
	}
	assert.Nil(t, results[10])

	n, err := store.DocumentCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestIngest_RecordsStoreInfo(t *testing.T) {
	p, store, _ := newTestPipeline(t, WithEmbeddingModel("mock-embedding"))
	ctx := context.Background()

	_, err := p.Ingest(ctx, &core.Document{ID: "a", Text: "alpha"})
	require.NoError(t, err)

	info, err := store.LoadInfo(ctx)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "mock-embedding", info.EmbeddingModel)
	assert.Equal(t, mock.DefaultDimension, info.Dimension)
}

func TestDelete(t *testing.T) {
	p, store, _ := newTestPipeline(t, WithLogger(slog.Default()))
	ctx := context.Background()

	_, err := p.IngestDocument(ctx, &core.Document{ID: "a", Text: "alpha"})
	require.NoError(t, err)

	n, err := p.Delete(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.DocumentChunks(ctx, "a")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = p.Delete(ctx, "")
	assert.ErrorIs(t, err, core.ErrEmptyDocumentID)
}
