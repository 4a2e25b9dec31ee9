// Package ingestion splits documents into chunks, embeds them and writes
// them to a vector store.
//
// A Pipeline processes documents concurrently on a worker pool. Each
// document is chunked, embedded in batches with retry, and then replaces
// any chunks previously stored under the same document id. Chunk metadata
// carries the document's own metadata plus the reserved keys
// documentId, sequenceIndex and totalChunks, and a contentHash of the
// document text.
package ingestion
