package ingestion

import "errors"

var (
	// ErrVectorStoreRequired is returned when a vector store is not provided.
	ErrVectorStoreRequired = errors.New("vector store required")

	// ErrAIProviderRequired is returned when an AI provider is not provided.
	ErrAIProviderRequired = errors.New("AI provider required")

	// ErrInvalidChunking is returned when chunk size or overlap is unusable.
	ErrInvalidChunking = errors.New("invalid chunking parameters")

	// ErrEmbeddingMismatch is returned when the embedder returns a different
	// number of vectors than texts.
	ErrEmbeddingMismatch = errors.New("embedding result mismatch")
)
