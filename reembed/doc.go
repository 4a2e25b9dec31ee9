// Package reembed re-embeds every chunk in a vector store with a new or
// updated embedding model.
//
// Chunks are processed in batches with retry and exponential backoff,
// vectors are normalized for cosine similarity search, and progress is
// reported to a writer as the run advances.
package reembed
