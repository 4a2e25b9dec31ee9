package reembed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/poiesic/retrievit/ai"
	"github.com/poiesic/retrievit/ai/mock"
	"github.com/poiesic/retrievit/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unnormalized returns vectors of magnitude 3 for each text.
func unnormalized(_ context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	for i := range texts {
		result[i] = []float32{1.0, 2.0, 2.0}
	}
	return result, nil
}

func magnitude(v []float32) float32 {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	return sum
}

func TestBatchProcessor_Process(t *testing.T) {
	store := setupTestStore(t)
	chunks := seedChunks(t, store, 2)
	ctx := context.Background()

	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = unnormalized
	processor := NewBatchProcessor(store, embedder, 3, 10*time.Millisecond)

	require.NoError(t, processor.Process(ctx, chunks))

	// Verify chunks were updated with normalized vectors
	updated, err := store.DocumentChunks(ctx, "doc")
	require.NoError(t, err)
	require.Len(t, updated, 2)

	for _, chunk := range updated {
		require.NotEmpty(t, chunk.Embedding, "should have embedding")
		assert.InDelta(t, 1.0, magnitude(chunk.Embedding), 0.01, "vector should be normalized")
		assert.InDelta(t, 1.0/3.0, chunk.Embedding[0], 0.001)
		assert.Equal(t, "test", chunk.Metadata["source"], "metadata should survive")
	}
	assert.Equal(t, []string{"chunk text 0", "chunk text 1"}, embedder.Texts())
}

func TestBatchProcessor_EmptyBatch(t *testing.T) {
	store := setupTestStore(t)
	embedder := mock.NewMockEmbedder()
	processor := NewBatchProcessor(store, embedder, 3, 10*time.Millisecond)

	err := processor.Process(context.Background(), []*core.Chunk{})
	require.NoError(t, err, "empty batch should not error")
	assert.Zero(t, embedder.CallCount())
}

func TestBatchProcessor_EmbeddingError(t *testing.T) {
	store := setupTestStore(t)
	chunks := seedChunks(t, store, 1)

	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, errors.New("embedding error")
	}
	processor := NewBatchProcessor(store, embedder, 3, time.Millisecond)

	err := processor.Process(context.Background(), chunks)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding error")
	assert.Equal(t, 3, embedder.CallCount(), "should use every attempt")
}

func TestBatchProcessor_Retry(t *testing.T) {
	store := setupTestStore(t)
	chunks := seedChunks(t, store, 1)
	ctx := context.Background()

	attempts := 0
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		attempts++
		if attempts < 2 {
			return nil, errors.New("temporary error")
		}
		result := make([][]float32, len(texts))
		for i := range texts {
			result[i] = []float32{1.0, 0.0, 0.0}
		}
		return result, nil
	}
	processor := NewBatchProcessor(store, embedder, 3, 10*time.Millisecond)

	require.NoError(t, processor.Process(ctx, chunks), "should succeed after retry")
	assert.Equal(t, 2, attempts, "should have retried once")

	updated, err := store.DocumentChunks(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, []float32{1.0, 0.0, 0.0}, updated[0].Embedding)
}

func TestBatchProcessor_CountMismatch(t *testing.T) {
	store := setupTestStore(t)
	chunks := seedChunks(t, store, 2)

	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return [][]float32{{1, 0, 0}}, nil
	}
	processor := NewBatchProcessor(store, embedder, 1, time.Millisecond)

	err := processor.Process(context.Background(), chunks)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mismatch")
}

func TestBatchProcessor_EmptyVector(t *testing.T) {
	store := setupTestStore(t)
	chunks := seedChunks(t, store, 1)

	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return [][]float32{{}}, nil
	}
	processor := NewBatchProcessor(store, embedder, 1, time.Millisecond)

	err := processor.Process(context.Background(), chunks)
	assert.ErrorIs(t, err, ai.ErrEmptyEmbedding)
}

func TestBatchProcessor_ContextCanceled(t *testing.T) {
	store := setupTestStore(t)
	chunks := seedChunks(t, store, 1)

	ctx, cancel := context.WithCancel(context.Background())
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		cancel()
		return nil, errors.New("temporary error")
	}
	processor := NewBatchProcessor(store, embedder, 5, 50*time.Millisecond)

	err := processor.Process(ctx, chunks)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
