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

// Package retrievit wires a vector store, an AI provider, the ingestion
// pipeline and the searcher into a single Database handle.
package retrievit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/poiesic/retrievit/ai"
	"github.com/poiesic/retrievit/ai/cache"
	"github.com/poiesic/retrievit/ai/openai"
	"github.com/poiesic/retrievit/config"
	"github.com/poiesic/retrievit/core"
	"github.com/poiesic/retrievit/ingestion"
	"github.com/poiesic/retrievit/prompt"
	"github.com/poiesic/retrievit/reembed"
	"github.com/poiesic/retrievit/search"
	"github.com/poiesic/retrievit/search/metrics"
	"github.com/poiesic/retrievit/storage"
	"github.com/poiesic/retrievit/storage/badger"
	"github.com/poiesic/retrievit/storage/milvus"
	"github.com/poiesic/retrievit/storage/qdrant"
)

// ErrModelListingUnsupported is returned by Models when the provider cannot list models.
var ErrModelListingUnsupported = errors.New("provider does not support model listing")

// Database is a document retrieval store: it ingests documents into a
// vector store and searches them through the configured AI provider.
type Database struct {
	config   *config.Config
	store    storage.VectorStore
	provider ai.AIProvider
	embedder ai.Embedder
	redis    *redis.Client
	pipeline *ingestion.Pipeline
	searcher *search.Searcher
	metrics  *metrics.Collector
	logger   *slog.Logger
}

// DatabaseOption configures a Database.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	store      storage.VectorStore
	provider   ai.AIProvider
	registerer prometheus.Registerer
	logger     *slog.Logger
}

// WithStore uses store instead of opening the configured backend.
// The Database takes ownership and closes it.
func WithStore(store storage.VectorStore) DatabaseOption {
	return func(o *databaseOptions) {
		o.store = store
	}
}

// WithProvider uses provider instead of the configured OpenAI-compatible one.
func WithProvider(provider ai.AIProvider) DatabaseOption {
	return func(o *databaseOptions) {
		o.provider = provider
	}
}

// WithMetrics registers search metrics with reg.
func WithMetrics(reg prometheus.Registerer) DatabaseOption {
	return func(o *databaseOptions) {
		o.registerer = reg
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) DatabaseOption {
	return func(o *databaseOptions) {
		o.logger = logger
	}
}

// NewDatabase opens the store and AI provider described by cfg. A nil cfg
// means config.Default().
func NewDatabase(ctx context.Context, cfg *config.Config, opts ...DatabaseOption) (*Database, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	options := &databaseOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	db := &Database{
		config:   cfg,
		store:    options.store,
		provider: options.provider,
		logger:   options.logger.With("component", "database"),
	}

	if err := db.open(ctx, options); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (db *Database) open(ctx context.Context, options *databaseOptions) error {
	var err error
	if db.store == nil {
		if db.store, err = openStore(ctx, db.config, options.logger); err != nil {
			return err
		}
	}

	if db.provider == nil {
		if db.provider, err = openai.NewProvider(db.config.Provider()); err != nil {
			return err
		}
	}
	db.embedder = db.provider.Embedder()

	if db.config.Cache.Enabled {
		db.redis = redis.NewClient(&redis.Options{
			Addr:     db.config.Cache.Addr,
			Password: db.config.Cache.Password,
			DB:       db.config.Cache.DB,
		})
		cached, err := cache.NewCachedEmbedder(db.embedder, db.redis, db.config.AI.EmbeddingModel,
			cache.WithTTL(db.config.Cache.TTL),
			cache.WithKeyPrefix(db.config.Cache.KeyPrefix),
			cache.WithLogger(options.logger))
		if err != nil {
			return err
		}
		db.embedder = cached
	}
	services := &services{AIProvider: db.provider, embedder: db.embedder}

	pipelineOpts := append(db.config.IngestionOptions(), ingestion.WithLogger(options.logger))
	if db.pipeline, err = ingestion.NewPipeline(db.store, services, pipelineOpts...); err != nil {
		return err
	}

	searchOpts := append(db.config.SearchOptions(), search.WithLogger(options.logger))
	// Fallback vectors must match what the store already holds.
	if info := db.storeInfo(ctx); info != nil && info.Dimension > 0 {
		searchOpts = append(searchOpts, search.WithFallbackDimension(info.Dimension))
	}
	if db.searcher, err = search.NewSearcher(db.store, services, searchOpts...); err != nil {
		return err
	}

	if options.registerer != nil {
		db.metrics = metrics.NewCollector(metrics.DefaultNamespace, options.registerer)
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.VectorStore, error) {
	switch cfg.Storage.Backend {
	case config.BackendBadger, "":
		return badger.NewStore(cfg.Storage.Badger.Path, badger.WithLogger(logger))
	case config.BackendQdrant:
		return qdrant.NewStore(cfg.QdrantConfig(), qdrant.WithLogger(logger))
	case config.BackendMilvus:
		return milvus.NewStore(ctx, cfg.MilvusConfig(), milvus.WithLogger(logger))
	default:
		return nil, fmt.Errorf("%w: unknown storage backend %q", config.ErrInvalidConfig, cfg.Storage.Backend)
	}
}

// services substitutes the possibly cached embedder into the provider.
type services struct {
	ai.AIProvider
	embedder ai.Embedder
}

func (s *services) Embedder() ai.Embedder {
	return s.embedder
}

// Ingest chunks, embeds and stores docs, replacing any previous version.
func (db *Database) Ingest(ctx context.Context, docs ...*core.Document) ([]*ingestion.Result, error) {
	return db.pipeline.Ingest(ctx, docs...)
}

// Search runs the retrieval pipeline for req.
func (db *Database) Search(ctx context.Context, req *core.SearchRequest) (*core.SearchResponse, error) {
	if db.metrics != nil {
		return db.searcher.SearchWithMonitor(ctx, req, db.metrics.Monitor())
	}
	return db.searcher.Search(ctx, req)
}

// DeleteDocument removes every chunk of a document.
func (db *Database) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	return db.pipeline.Delete(ctx, documentID)
}

// DocumentChunks returns a document's chunks in order.
func (db *Database) DocumentChunks(ctx context.Context, documentID string) ([]*core.Chunk, error) {
	return db.store.DocumentChunks(ctx, documentID)
}

// Stats describes the contents of the store.
type Stats struct {
	TotalChunks int `json:"totalChunks"`
	// TotalDocuments is -1 when the store cannot count documents.
	TotalDocuments int    `json:"totalDocuments"`
	EmbeddingModel string `json:"embeddingModel,omitempty"`
	Dimension      int    `json:"dimension,omitempty"`
	Backend        string `json:"backend"`
}

// Stats reports chunk and document counts and the recorded embedding model.
func (db *Database) Stats(ctx context.Context) (*Stats, error) {
	total, err := db.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}
	stats := &Stats{TotalChunks: total, TotalDocuments: -1, Backend: db.config.Storage.Backend}

	if counter, ok := db.store.(storage.DocumentCounter); ok {
		if stats.TotalDocuments, err = counter.DocumentCount(ctx); err != nil {
			return nil, fmt.Errorf("failed to count documents: %w", err)
		}
	}
	if info := db.storeInfo(ctx); info != nil {
		stats.EmbeddingModel = info.EmbeddingModel
		stats.Dimension = info.Dimension
	}
	return stats, nil
}

func (db *Database) storeInfo(ctx context.Context) *storage.StoreInfo {
	infoStore, ok := db.store.(storage.InfoStore)
	if !ok {
		return nil
	}
	info, err := infoStore.LoadInfo(ctx)
	if err != nil {
		db.logger.Warn("failed to load store info", "err", err)
		return nil
	}
	return info
}

// Summarize condenses text to roughly maxWords words. Zero means
// prompt.DefaultSummaryWords.
func (db *Database) Summarize(ctx context.Context, text string, maxWords int) (string, error) {
	return Summarize(ctx, db.provider.Generator(), text, maxWords)
}

// Summarize condenses text with generator without opening a store.
func Summarize(ctx context.Context, generator ai.Generator, text string, maxWords int) (string, error) {
	spec := prompt.Summarize(text, maxWords)
	out, err := generator.Generate(ctx, spec.User, ai.GenerateOptions{
		System:      spec.System,
		Temperature: spec.Temperature,
		MaxTokens:   spec.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("summarization failed: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// Models lists the models offered by the embedding host.
func (db *Database) Models(ctx context.Context) ([]string, error) {
	prober, ok := db.provider.(ai.Prober)
	if !ok {
		return nil, ErrModelListingUnsupported
	}
	return prober.Models(ctx)
}

// NewReembedder creates a reembedder that rewrites every stored vector with
// the configured embedding model and records it in the store.
func (db *Database) NewReembedder(cfg *reembed.Config, progress io.Writer) (*reembed.Reembedder, error) {
	if cfg == nil {
		cfg = reembed.DefaultConfig()
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = db.config.AI.EmbeddingModel
	}
	return reembed.NewReembedder(db.store, db.embedder, cfg, progress)
}

// Store returns the underlying vector store.
func (db *Database) Store() storage.VectorStore {
	return db.store
}

// Searcher returns the searcher, for callers that need SearchWithMonitor.
func (db *Database) Searcher() *search.Searcher {
	return db.searcher
}

// Close releases the pipeline, provider, cache client and store.
func (db *Database) Close() error {
	if db.pipeline != nil {
		db.pipeline.Release()
	}

	// Close AI provider first
	if db.provider != nil {
		if err := db.provider.Close(); err != nil {
			db.logger.Error("error closing AI provider", "err", err)
		}
	}
	if db.redis != nil {
		if err := db.redis.Close(); err != nil {
			db.logger.Error("error closing cache client", "err", err)
		}
	}

	if db.store != nil {
		if err := db.store.Close(); err != nil {
			db.logger.Error("error closing vector store", "err", err)
			return err
		}
	}
	return nil
}
