package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/retrievit/ai"
	"github.com/poiesic/retrievit/core"
	"github.com/poiesic/retrievit/retry"
)

// embeddingProcessor generates embeddings for chunks in batches.
type embeddingProcessor struct {
	embedder    ai.Embedder
	batchSize   int
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
}

var _ processor = (*embeddingProcessor)(nil)

// newEmbeddingProcessor creates a new embedding processor.
func newEmbeddingProcessor(embedder ai.Embedder, batchSize, maxAttempts int, baseDelay time.Duration, logger *slog.Logger) (processor, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder required")
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if maxAttempts < 1 {
		return nil, retry.ErrInvalidMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &embeddingProcessor{
		embedder:    embedder,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		logger:      logger.With("processor", "embeddings"),
	}, nil
}

// process sets Embedding on every chunk.
func (ep *embeddingProcessor) process(ctx context.Context, chunks []*core.Chunk) error {
	for start := 0; start < len(chunks); start += ep.batchSize {
		batch := chunks[start:min(start+ep.batchSize, len(chunks))]

		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = chunk.Text
		}

		ep.logger.Debug("generating embeddings for chunks", "chunks", len(texts), "offset", start)
		var embeddings [][]float32
		err := retry.WithBackoff(ctx, func() error {
			var embedErr error
			embeddings, embedErr = ep.embedder.EmbedTexts(ctx, texts)
			return embedErr
		}, ep.maxAttempts, ep.baseDelay)
		if err != nil {
			ep.logger.Error("error generating embeddings", "err", err)
			return err
		}

		if len(embeddings) != len(batch) {
			return fmt.Errorf("%w: expected %d, received %d", ErrEmbeddingMismatch, len(batch), len(embeddings))
		}
		for i := range embeddings {
			if len(embeddings[i]) == 0 {
				return fmt.Errorf("%w: chunk %s", ai.ErrEmptyEmbedding, batch[i].ID)
			}
			batch[i].Embedding = embeddings[i]
		}
	}
	return nil
}
