package badger

import "strings"

// Key prefixes for different data types
const (
	chunkPrefix    = "chunk:"
	chunkDocPrefix = "chunkdoc:"
	storeInfoKey   = "storeinfo"
)

// docSeparator ends the document part of a document index key, so one
// document ID can never be a key prefix of another.
const docSeparator = "\x00"

// makeChunkKey generates a key for a chunk by ID.
func makeChunkKey(chunkID string) []byte {
	return []byte(chunkPrefix + chunkID)
}

// makeChunkDocKey generates a composite key for the document index.
// Format: prefix:documentID\x00chunkID
func makeChunkDocKey(documentID, chunkID string) []byte {
	return []byte(chunkDocPrefix + documentID + docSeparator + chunkID)
}

// makePartialChunkDocKey generates the index prefix shared by a document's chunks.
func makePartialChunkDocKey(documentID string) []byte {
	return []byte(chunkDocPrefix + documentID + docSeparator)
}

// documentFromDocKey extracts the document ID from a document index key.
func documentFromDocKey(key []byte) string {
	rest := strings.TrimPrefix(string(key), chunkDocPrefix)
	if i := strings.Index(rest, docSeparator); i >= 0 {
		return rest[:i]
	}
	return rest
}
