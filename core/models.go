package core

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/go-crypt/x/blake2b"
)

// ID is a content-derived identifier.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// Hex renders the ID as a fixed-width lowercase hex string.
func (id ID) Hex() string {
	return fmt.Sprintf("%016x", uint64(id))
}

// Document is a unit of ingested content. Documents are immutable once
// stored; re-ingesting the same ID replaces every derived chunk.
type Document struct {
	ID       string
	Text     string
	Metadata Metadata
}

// Chunk is a contiguous substring of a document and the unit of embedding
// and retrieval.
type Chunk struct {
	ID            string    `json:"id"`
	DocumentID    string    `json:"documentId"`
	Text          string    `json:"text"`
	SequenceIndex int       `json:"sequenceIndex"`
	Embedding     []float32 `json:"embedding,omitempty"`
	Metadata      Metadata  `json:"metadata,omitempty"`
}

// ChunkID derives the chunk identifier from its document and position.
func ChunkID(documentID string, sequenceIndex int) string {
	return documentID + "_" + strconv.Itoa(sequenceIndex)
}

// VectorHit is a raw nearest-neighbor result as returned by a vector store.
// Distance follows the cosine-distance convention (0 = identical).
type VectorHit struct {
	ChunkID  string
	Text     string
	Metadata Metadata
	Distance float32
}

// Similarity converts the hit's cosine distance to a similarity in [0,1].
func (h VectorHit) Similarity() float64 {
	s := 1 - float64(h.Distance)
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}
