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

package reembed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/poiesic/retrievit/ai"
	"github.com/poiesic/retrievit/core"
	"github.com/poiesic/retrievit/storage"
)

// ErrStoreNotScannable is returned when the store cannot enumerate its chunks.
var ErrStoreNotScannable = errors.New("store does not support chunk scanning")

// Config holds configuration for the reembedding operation.
type Config struct {
	// BatchSize is the number of chunks to process in each batch
	BatchSize int

	// ReportInterval is how often to report progress (number of chunks)
	ReportInterval int

	// MaxRetries is the maximum number of attempts for failed embedding calls
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration

	// EmbeddingModel, when set, is recorded in the store's info record
	// after a successful run.
	EmbeddingModel string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      100,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
	}
}

// Reembedder orchestrates the reembedding of every chunk in a store.
type Reembedder struct {
	store     storage.VectorStore
	embedder  ai.Embedder
	config    *Config
	progress  io.Writer
	processor *BatchProcessor
	iterator  *ChunkIterator
}

// NewReembedder creates a new reembedder.
// The store must implement storage.ChunkScanner.
// progress: where to write progress output (typically os.Stderr)
func NewReembedder(store storage.VectorStore, embedder ai.Embedder, config *Config, progress io.Writer) (*Reembedder, error) {
	scanner, ok := store.(storage.ChunkScanner)
	if !ok {
		return nil, ErrStoreNotScannable
	}
	if config == nil {
		config = DefaultConfig()
	}

	return &Reembedder{
		store:     store,
		embedder:  embedder,
		config:    config,
		progress:  progress,
		processor: NewBatchProcessor(store, embedder, config.MaxRetries, config.RetryDelay),
		iterator:  NewChunkIterator(scanner, config.BatchSize),
	}, nil
}

// Run executes the reembedding operation.
// All chunks in the store will be reembedded with the configured embedder.
// Progress is reported to the configured writer.
func (r *Reembedder) Run(ctx context.Context) error {
	// First, count total chunks
	totalChunks, err := r.store.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count chunks: %w", err)
	}

	if totalChunks == 0 {
		fmt.Fprintf(r.progress, "No chunks found in store (0 chunks)\n")
		return nil
	}

	fmt.Fprintf(r.progress, "Starting reembedding of %d chunks (batch size: %d)\n",
		totalChunks, r.iterator.batchSize)

	// Initialize progress tracker
	tracker := NewProgressTracker(r.progress, totalChunks, r.config.ReportInterval)
	tracker.Start()

	processed := 0
	dimension := 0

	// Process all chunks in batches
	err = r.iterator.ForEach(ctx, func(chunks []*core.Chunk) error {
		if err := r.processor.Process(ctx, chunks); err != nil {
			return fmt.Errorf("failed to process batch: %w", err)
		}

		dimension = len(chunks[0].Embedding)
		processed += len(chunks)
		tracker.Set(processed)

		return nil
	})

	if err != nil {
		return err
	}

	// Finish progress tracking
	tracker.Finish()

	if err := r.recordInfo(ctx, dimension); err != nil {
		return err
	}

	elapsed := tracker.Elapsed()
	fmt.Fprintf(r.progress, "Reembedding complete. Processed %d chunks in %v (%.1f chunks/sec)\n",
		processed, elapsed.Round(time.Second), float64(processed)/elapsed.Seconds())

	return nil
}

func (r *Reembedder) recordInfo(ctx context.Context, dimension int) error {
	infoStore, ok := r.store.(storage.InfoStore)
	if !ok || r.config.EmbeddingModel == "" || dimension == 0 {
		return nil
	}
	info := &storage.StoreInfo{EmbeddingModel: r.config.EmbeddingModel, Dimension: dimension}
	if err := infoStore.SaveInfo(ctx, info); err != nil {
		return fmt.Errorf("failed to record store info: %w", err)
	}
	return nil
}
