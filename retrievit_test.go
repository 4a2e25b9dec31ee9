package retrievit

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/retrievit/ai"
	"github.com/poiesic/retrievit/ai/mock"
	"github.com/poiesic/retrievit/config"
	"github.com/poiesic/retrievit/core"
	"github.com/poiesic/retrievit/search"
	"github.com/poiesic/retrievit/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Badger.Path = filepath.Join(t.TempDir(), "test_db")
	cfg.Ingestion.ChunkSize = 100
	cfg.Ingestion.Overlap = 10
	return cfg
}

func openTestDatabase(t *testing.T, cfg *config.Config, opts ...DatabaseOption) (*Database, *mock.MockEmbedder, *mock.MockGenerator) {
	t.Helper()
	embedder := mock.NewMockEmbedder()
	generator := mock.NewMockGenerator()
	opts = append([]DatabaseOption{WithProvider(mock.NewMockProviderWithServices(embedder, generator))}, opts...)

	db, err := NewDatabase(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, embedder, generator
}

var testDocs = []*core.Document{
	{ID: "solar", Text: strings.Repeat("Solar panels convert sunlight into electricity. ", 6), Metadata: core.Metadata{"type": "energy"}},
	{ID: "bread", Text: "Sourdough bread needs a starter, flour, water and salt.", Metadata: core.Metadata{"type": "food"}},
}

func TestNewDatabase(t *testing.T) {
	t.Run("create new database", func(t *testing.T) {
		db, _, _ := openTestDatabase(t, testConfig(t))

		assert.NotNil(t, db.Store())
		assert.NotNil(t, db.Searcher())
		assert.NotNil(t, db.pipeline)
		assert.NotNil(t, db.logger)
		assert.Nil(t, db.metrics)
	})

	t.Run("error with invalid path", func(t *testing.T) {
		// Try to create a database at a file path instead of directory
		tmpFile := filepath.Join(t.TempDir(), "not_a_dir")
		require.NoError(t, os.WriteFile(tmpFile, []byte("test"), 0o644))

		cfg := config.Default()
		cfg.Storage.Badger.Path = tmpFile
		db, err := NewDatabase(context.Background(), cfg, WithProvider(mock.NewMockProvider()))
		assert.Error(t, err)
		assert.Nil(t, db)
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Storage.Backend = "sqlite"
		_, err := NewDatabase(context.Background(), cfg, WithProvider(mock.NewMockProvider()))
		assert.ErrorIs(t, err, config.ErrInvalidConfig)
	})
}

func TestDatabase_Close(t *testing.T) {
	db, err := NewDatabase(context.Background(), testConfig(t), WithProvider(mock.NewMockProvider()))
	require.NoError(t, err)

	assert.NoError(t, db.Close())
	_, err = db.Store().Count(context.Background())
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

func TestDatabase_IngestAndSearch(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	db, _, _ := openTestDatabase(t, testConfig(t), WithMetrics(reg))

	results, err := db.Ingest(ctx, testDocs...)
	require.NoError(t, err)
	require.Len(t, results, 2)

	resp, err := db.Search(ctx, search.Plain.Request("solar panels", 5, nil))
	require.NoError(t, err)
	require.Len(t, resp.Results, 2, "one hit per document")
	assert.GreaterOrEqual(t, resp.Metadata.TotalCandidates, 2)
	assert.False(t, resp.Metadata.RerankingUsed)

	ids := []string{}
	for _, hit := range resp.Results {
		ids = append(ids, hit.DocumentID)
	}
	assert.ElementsMatch(t, []string{"solar", "bread"}, ids)

	count, err := testutil.GatherAndCount(reg, "retrievit_searches_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDatabase_SearchWithFilter(t *testing.T) {
	ctx := context.Background()
	db, _, _ := openTestDatabase(t, testConfig(t))
	_, err := db.Ingest(ctx, testDocs...)
	require.NoError(t, err)

	resp, err := db.Search(ctx, search.Plain.Request("anything", 5, core.Filter{"type": "food"}))
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "bread", resp.Results[0].DocumentID)
}

func TestDatabase_SearchInvalidRequest(t *testing.T) {
	db, embedder, _ := openTestDatabase(t, testConfig(t))

	_, err := db.Search(context.Background(), &core.SearchRequest{Query: "  ", ResultCount: 5})
	assert.ErrorIs(t, err, core.ErrInvalidRequest)
	assert.Zero(t, embedder.CallCount())
}

func TestDatabase_Stats(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.AI.EmbeddingModel = "test-embedding"
	db, _, _ := openTestDatabase(t, cfg)

	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalChunks)
	assert.Zero(t, stats.TotalDocuments)
	assert.Empty(t, stats.EmbeddingModel)

	_, err = db.Ingest(ctx, testDocs...)
	require.NoError(t, err)

	stats, err = db.Stats(ctx)
	require.NoError(t, err)
	assert.Greater(t, stats.TotalChunks, 2, "the long document spans several chunks")
	assert.Equal(t, 2, stats.TotalDocuments)
	assert.Equal(t, "test-embedding", stats.EmbeddingModel)
	assert.Equal(t, mock.DefaultDimension, stats.Dimension)
	assert.Equal(t, config.BackendBadger, stats.Backend)
}

func TestDatabase_DeleteDocument(t *testing.T) {
	ctx := context.Background()
	db, _, _ := openTestDatabase(t, testConfig(t))
	_, err := db.Ingest(ctx, testDocs...)
	require.NoError(t, err)

	chunks, err := db.DocumentChunks(ctx, "bread")
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	removed, err := db.DeleteDocument(ctx, "bread")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = db.DocumentChunks(ctx, "bread")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = db.DeleteDocument(ctx, "")
	assert.ErrorIs(t, err, core.ErrEmptyDocumentID)
}

func TestDatabase_FallbackDimensionFromStoreInfo(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	db, _, _ := openTestDatabase(t, cfg)
	_, err := db.Ingest(ctx, testDocs...)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Reopen with an embedder that always fails; fallback vectors must
	// match the stored dimension rather than the configured default.
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("embedding service down")
	}
	reopened, err := NewDatabase(ctx, cfg, WithProvider(mock.NewMockProviderWithServices(embedder, mock.NewMockGenerator())))
	require.NoError(t, err)
	defer reopened.Close()

	resp, err := reopened.Search(ctx, search.Plain.Request("solar", 5, nil))
	require.NoError(t, err)
	assert.True(t, resp.Metadata.DegradedEmbedding)
	assert.NotEmpty(t, resp.Results)
}

func TestDatabase_Summarize(t *testing.T) {
	db, _, generator := openTestDatabase(t, testConfig(t))
	generator.GenerateFunc = func(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error) {
		return "  A short summary.\n", nil
	}

	summary, err := db.Summarize(context.Background(), "Long document text.", 0)
	require.NoError(t, err)
	assert.Equal(t, "A short summary.", summary)

	calls := generator.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Prompt, "Long document text.")
	assert.Contains(t, calls[0].Opts.System, "50 words")
	assert.Equal(t, 100, calls[0].Opts.MaxTokens)
}

func TestDatabase_SummarizeError(t *testing.T) {
	db, _, generator := openTestDatabase(t, testConfig(t))
	generator.GenerateFunc = func(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error) {
		return "", errors.New("model offline")
	}

	_, err := db.Summarize(context.Background(), "text", 20)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model offline")
}

func TestDatabase_Models(t *testing.T) {
	db, _, _ := openTestDatabase(t, testConfig(t))

	models, err := db.Models(context.Background())
	require.NoError(t, err)
	assert.Contains(t, models, "mock-embedding")
}

func TestDatabase_EmbeddingCache(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	cfg := testConfig(t)
	cfg.Cache.Enabled = true
	cfg.Cache.Addr = mr.Addr()
	db, embedder, _ := openTestDatabase(t, cfg)

	_, err := db.Ingest(ctx, testDocs[1])
	require.NoError(t, err)
	embedded := len(embedder.Texts())
	require.Positive(t, embedded)
	assert.NotEmpty(t, mr.Keys(), "vectors should be cached")

	// Re-ingesting identical content is served from the cache.
	_, err = db.Ingest(ctx, testDocs[1])
	require.NoError(t, err)
	assert.Len(t, embedder.Texts(), embedded)
}

func TestDatabase_Reembed(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.AI.EmbeddingModel = "second-model"
	db, embedder, _ := openTestDatabase(t, cfg)

	_, err := db.Ingest(ctx, testDocs...)
	require.NoError(t, err)
	embedder.Reset()

	var buf bytes.Buffer
	r, err := db.NewReembedder(nil, &buf)
	require.NoError(t, err)
	require.NoError(t, r.Run(ctx))

	total, err := db.Store().Count(ctx)
	require.NoError(t, err)
	assert.Len(t, embedder.Texts(), total, "every chunk is re-embedded")
	assert.Contains(t, buf.String(), "Reembedding complete")

	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second-model", stats.EmbeddingModel)
}
