// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package badger

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/retrievit/core"
	"github.com/poiesic/retrievit/storage"
)

// ctxCheckInterval is how many records a scan visits between context checks.
const ctxCheckInterval = 256

// Store implements storage.VectorStore on BadgerDB with brute-force cosine search.
type Store struct {
	backend     *Backend
	ownsBackend bool
	logger      *slog.Logger
}

var (
	_ storage.VectorStore     = (*Store)(nil)
	_ storage.ChunkScanner    = (*Store)(nil)
	_ storage.DocumentCounter = (*Store)(nil)
	_ storage.Clearer         = (*Store)(nil)
	_ storage.InfoStore       = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store) error

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger.With("component", "badger-store")
		return nil
	}
}

// NewStore opens (or creates) a store in the directory at path.
//
// Returns storage.VectorStore interface to enforce abstraction.
func NewStore(path string, opts ...Option) (storage.VectorStore, error) {
	backend, err := OpenBackend(path, false)
	if err != nil {
		return nil, err
	}
	s, err := newStore(backend, true, opts...)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return s, nil
}

// NewStoreWithBackend creates a store on an open backend. Closing the store
// leaves the backend open.
func NewStoreWithBackend(backend *Backend, opts ...Option) (*Store, error) {
	return newStore(backend, false, opts...)
}

func newStore(backend *Backend, owns bool, opts ...Option) (*Store, error) {
	s := &Store{
		backend:     backend,
		ownsBackend: owns,
		logger:      slog.Default().With("component", "badger-store"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Close closes the backend when the store opened it.
func (s *Store) Close() error {
	if s.ownsBackend && !s.backend.IsClosed() {
		return s.backend.Close()
	}
	return nil
}

func (s *Store) checkOpen() error {
	if s.backend.IsClosed() {
		return storage.ErrStorageClosed
	}
	return nil
}

// Upsert inserts chunks or replaces those with matching IDs.
func (s *Store) Upsert(ctx context.Context, chunks ...*core.Chunk) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	values := make([][]byte, len(chunks))
	for i, chunk := range chunks {
		if err := core.ValidateChunk(chunk); err != nil {
			return err
		}
		if len(chunk.Embedding) == 0 {
			return fmt.Errorf("%w: chunk %s has no embedding", core.ErrInvalidChunk, chunk.ID)
		}
		value, err := storage.MarshalChunk(chunk)
		if err != nil {
			return err
		}
		values[i] = value
	}

	// A chunk moving to another document must leave the old index entry behind.
	previous := make(map[string]string)
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		for _, chunk := range chunks {
			data, err := get(tx, makeChunkKey(chunk.ID))
			if err != nil {
				return err
			}
			if data == nil {
				continue
			}
			old, err := storage.UnmarshalChunk(data)
			if err != nil {
				return err
			}
			if old.DocumentID != chunk.DocumentID {
				previous[chunk.ID] = old.DocumentID
			}
		}
		return nil
	}, false)
	if err != nil {
		return err
	}

	err = s.backend.WriteBatch(func(wb *badger.WriteBatch) error {
		for i, chunk := range chunks {
			if oldDoc, ok := previous[chunk.ID]; ok {
				if err := wb.Delete(makeChunkDocKey(oldDoc, chunk.ID)); err != nil {
					return err
				}
			}
			if err := wb.Set(makeChunkKey(chunk.ID), values[i]); err != nil {
				return err
			}
			if err := wb.Set(makeChunkDocKey(chunk.DocumentID, chunk.ID), []byte(chunk.ID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("upserted chunks", "count", len(chunks))
	return nil
}

type scored struct {
	chunk    *core.Chunk
	distance float32
}

// Query scans every chunk and returns the k nearest that satisfy filter.
// Chunks whose embedding length differs from the query are skipped.
// Ties in distance keep key order.
func (s *Store) Query(ctx context.Context, vector []float32, k int, filter core.Filter) ([]core.VectorHit, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := storage.ValidateQuery(vector, k); err != nil {
		return nil, err
	}

	var candidates []scored
	skipped := 0
	err := s.scan(ctx, func(chunk *core.Chunk) error {
		if len(chunk.Embedding) != len(vector) {
			skipped++
			return nil
		}
		if !filter.Matches(chunk.Metadata) {
			return nil
		}
		d, err := storage.CosineDistance(vector, chunk.Embedding)
		if err != nil {
			return err
		}
		chunk.Embedding = nil
		candidates = append(candidates, scored{chunk: chunk, distance: d})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		s.logger.Warn("skipped chunks with mismatched embedding dimension", "count", skipped, "dimension", len(vector))
	}

	slices.SortStableFunc(candidates, func(a, b scored) int {
		return cmp.Compare(a.distance, b.distance)
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	hits := make([]core.VectorHit, len(candidates))
	for i, c := range candidates {
		hits[i] = core.VectorHit{
			ChunkID:  c.chunk.ID,
			Text:     c.chunk.Text,
			Metadata: c.chunk.Metadata,
			Distance: c.distance,
		}
	}
	return hits, nil
}

// DeleteDocument removes every chunk of a document.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	chunkIDs, err := s.documentChunkIDs(documentID)
	if err != nil {
		return 0, err
	}
	if len(chunkIDs) == 0 {
		return 0, nil
	}

	err = s.backend.WriteBatch(func(wb *badger.WriteBatch) error {
		for _, id := range chunkIDs {
			if err := wb.Delete(makeChunkKey(id)); err != nil {
				return err
			}
			if err := wb.Delete(makeChunkDocKey(documentID, id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Debug("deleted document", "document", documentID, "chunks", len(chunkIDs))
	return len(chunkIDs), nil
}

// DeleteChunks removes chunks by ID together with their index entries.
func (s *Store) DeleteChunks(ctx context.Context, chunkIDs ...string) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if len(chunkIDs) == 0 {
		return 0, nil
	}

	deleted := 0
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		for _, id := range chunkIDs {
			data, err := get(tx, makeChunkKey(id))
			if err != nil {
				return err
			}
			if data == nil {
				continue
			}
			chunk, err := storage.UnmarshalChunk(data)
			if err != nil {
				return err
			}
			if err := tx.Delete(makeChunkKey(id)); err != nil {
				return err
			}
			if err := tx.Delete(makeChunkDocKey(chunk.DocumentID, id)); err != nil {
				return err
			}
			deleted++
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return 0, err
	}

	s.logger.Debug("deleted chunks", "requested", len(chunkIDs), "deleted", deleted)
	return deleted, nil
}

// DocumentChunks returns a document's chunks ordered by sequence index.
func (s *Store) DocumentChunks(ctx context.Context, documentID string) ([]*core.Chunk, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	chunkIDs, err := s.documentChunkIDs(documentID)
	if err != nil {
		return nil, err
	}
	if len(chunkIDs) == 0 {
		return nil, storage.ErrNotFound
	}

	chunks := make([]*core.Chunk, 0, len(chunkIDs))
	err = s.backend.WithTx(func(tx *badger.Txn) error {
		for _, id := range chunkIDs {
			data, err := get(tx, makeChunkKey(id))
			if err != nil {
				return err
			}
			if data == nil {
				continue
			}
			chunk, err := storage.UnmarshalChunk(data)
			if err != nil {
				return err
			}
			chunks = append(chunks, chunk)
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	slices.SortFunc(chunks, func(a, b *core.Chunk) int {
		return cmp.Compare(a.SequenceIndex, b.SequenceIndex)
	})
	return chunks, nil
}

// Count returns the number of stored chunks.
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	count := 0
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(chunkPrefix)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	}, false)
	return count, err
}

// DocumentCount returns the number of distinct documents with stored chunks.
func (s *Store) DocumentCount(ctx context.Context) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	count := 0
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(chunkDocPrefix)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		last := ""
		for iter.Rewind(); iter.Valid(); iter.Next() {
			doc := documentFromDocKey(iter.Item().Key())
			if count == 0 || doc != last {
				count++
				last = doc
			}
		}
		return nil
	}, false)
	return count, err
}

// Clear drops every chunk and index entry. The store info record is kept.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.backend.DropPrefix([]byte(chunkPrefix), []byte(chunkDocPrefix))
}

// ForEachChunk visits every chunk in key order in batches of batchSize.
func (s *Store) ForEachChunk(ctx context.Context, batchSize int, fn func(batch []*core.Chunk) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if batchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive", storage.ErrInvalidQuery)
	}

	batch := make([]*core.Chunk, 0, batchSize)
	err := s.scan(ctx, func(chunk *core.Chunk) error {
		batch = append(batch, chunk)
		if len(batch) < batchSize {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		batch = make([]*core.Chunk, 0, batchSize)
		return nil
	})
	if err != nil {
		return err
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

// scan decodes every chunk in key order inside one read transaction.
func (s *Store) scan(ctx context.Context, fn func(chunk *core.Chunk) error) error {
	return s.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(chunkPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		visited := 0
		for iter.Rewind(); iter.Valid(); iter.Next() {
			if visited%ctxCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			visited++

			var chunk *core.Chunk
			err := iter.Item().Value(func(val []byte) error {
				var err error
				chunk, err = storage.UnmarshalChunk(val)
				return err
			})
			if err != nil {
				return err
			}
			if err := fn(chunk); err != nil {
				return err
			}
		}
		return nil
	}, false)
}

func (s *Store) documentChunkIDs(documentID string) ([]string, error) {
	var ids []string
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialChunkDocKey(documentID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			id, err := iter.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			ids = append(ids, string(id))
		}
		return nil
	}, false)
	return ids, err
}
