package storage

import (
	"context"
	"time"

	"github.com/poiesic/retrievit/core"
)

// VectorStore persists embedded chunks and answers k-nearest-neighbor queries.
// Implementations must be safe for concurrent use.
type VectorStore interface {
	// Upsert inserts chunks or replaces those with matching IDs. Every chunk
	// must carry an embedding.
	Upsert(ctx context.Context, chunks ...*core.Chunk) error

	// Query returns up to k chunks nearest to vector among those whose
	// metadata satisfies filter, ordered by ascending cosine distance.
	// Distance is 1 - cosine similarity.
	Query(ctx context.Context, vector []float32, k int, filter core.Filter) ([]core.VectorHit, error)

	// DeleteDocument removes every chunk of a document and reports how many
	// were removed. Deleting an unknown document is not an error.
	DeleteDocument(ctx context.Context, documentID string) (int, error)

	// DeleteChunks removes chunks by ID and reports how many existed.
	// Unknown IDs are ignored.
	DeleteChunks(ctx context.Context, chunkIDs ...string) (int, error)

	// DocumentChunks returns a document's chunks ordered by sequence index.
	// Returns ErrNotFound when the document has no chunks.
	DocumentChunks(ctx context.Context, documentID string) ([]*core.Chunk, error)

	// Count returns the number of stored chunks.
	Count(ctx context.Context) (int, error)

	// Close releases resources held by the store.
	Close() error
}

// ChunkScanner is implemented by stores that can enumerate their chunks,
// which re-embedding requires.
type ChunkScanner interface {
	// ForEachChunk calls fn with consecutive batches of at most batchSize
	// chunks until every chunk has been visited or fn returns an error.
	ForEachChunk(ctx context.Context, batchSize int, fn func(batch []*core.Chunk) error) error
}

// DocumentCounter is implemented by stores that can count distinct documents.
type DocumentCounter interface {
	DocumentCount(ctx context.Context) (int, error)
}

// Clearer is implemented by stores that can drop every chunk at once.
type Clearer interface {
	Clear(ctx context.Context) error
}

// StoreInfo records which embedding model populated a store.
type StoreInfo struct {
	EmbeddingModel string    `json:"embeddingModel"`
	Dimension      int       `json:"dimension"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// InfoStore is implemented by stores that persist a StoreInfo record.
type InfoStore interface {
	// SaveInfo persists info, stamping UpdatedAt.
	SaveInfo(ctx context.Context, info *StoreInfo) error

	// LoadInfo returns the saved info, or nil, nil when none exists.
	LoadInfo(ctx context.Context) (*StoreInfo, error)
}
