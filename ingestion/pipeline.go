package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/retrievit/ai"
	"github.com/poiesic/retrievit/chunker"
	"github.com/poiesic/retrievit/core"
	"github.com/poiesic/retrievit/storage"
)

// Defaults for embedding batches and retries.
const (
	DefaultBatchSize   = 32
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 500 * time.Millisecond
)

// Pipeline orchestrates the ingestion of documents into a vector store.
type Pipeline struct {
	store         storage.VectorStore
	embedder      ai.Embedder
	pool          *ants.Pool
	embeddingProc processor
	chunkSize     int
	overlap       int
	batchSize     int
	maxAttempts   int
	retryDelay    time.Duration
	model         string
	logger        *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size for concurrent processing.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}

		// Release old pool
		if p.pool != nil {
			p.pool.Release()
		}

		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger.With("component", "ingestion")
		return nil
	}
}

// WithChunking sets the chunk size and overlap, in characters.
func WithChunking(size, overlap int) Option {
	return func(p *Pipeline) error {
		if size < 1 || overlap < 0 {
			return fmt.Errorf("%w: size=%d overlap=%d", ErrInvalidChunking, size, overlap)
		}
		p.chunkSize = size
		p.overlap = overlap
		return nil
	}
}

// WithBatchSize sets how many chunks are embedded per request.
func WithBatchSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			return fmt.Errorf("batch size must be positive, got %d", size)
		}
		p.batchSize = size
		return nil
	}
}

// WithRetry sets embedding attempts and the base backoff delay.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(p *Pipeline) error {
		if maxAttempts < 1 {
			return fmt.Errorf("max attempts must be positive, got %d", maxAttempts)
		}
		p.maxAttempts = maxAttempts
		p.retryDelay = baseDelay
		return nil
	}
}

// WithEmbeddingModel names the model recorded in the store's info record.
func WithEmbeddingModel(model string) Option {
	return func(p *Pipeline) error {
		p.model = model
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(store storage.VectorStore, provider ai.AIProvider, opts ...Option) (*Pipeline, error) {
	if store == nil {
		return nil, ErrVectorStoreRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	// Default pool size
	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}

	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	// Create pipeline with defaults
	p := &Pipeline{
		store:       store,
		embedder:    provider.Embedder(),
		pool:        pool,
		chunkSize:   chunker.DefaultChunkSize,
		overlap:     chunker.DefaultOverlap,
		batchSize:   DefaultBatchSize,
		maxAttempts: DefaultMaxAttempts,
		retryDelay:  DefaultRetryDelay,
		logger:      slog.Default().With("component", "ingestion"),
	}

	// Apply options (may override defaults)
	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}

	// Create processor after options are applied (so it gets final config)
	embeddingProc, err := newEmbeddingProcessor(p.embedder, p.batchSize, p.maxAttempts, p.retryDelay, p.logger)
	if err != nil {
		p.Release()
		return nil, err
	}
	p.embeddingProc = embeddingProc

	return p, nil
}

// Result describes one ingested document.
type Result struct {
	DocumentID string
	Chunks     int
	Replaced   int
}

// Ingest processes documents concurrently on the worker pool and waits
// for all of them. Results are in input order; a failed document has a
// nil result and contributes to the joined error.
func (p *Pipeline) Ingest(ctx context.Context, docs ...*core.Document) ([]*Result, error) {
	results := make([]*Result, len(docs))
	errs := make([]error, len(docs))

	var wg sync.WaitGroup
	for i, doc := range docs {
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			results[i], errs[i] = p.IngestDocument(ctx, doc)
		})
		if err != nil {
			wg.Done()
			errs[i] = err
		}
	}
	wg.Wait()

	return results, errors.Join(errs...)
}

// IngestDocument chunks, embeds and stores one document, replacing any
// chunks already stored under its id.
func (p *Pipeline) IngestDocument(ctx context.Context, doc *core.Document) (*Result, error) {
	if err := core.ValidateDocument(doc); err != nil {
		return nil, err
	}

	chunks := p.chunkDocument(doc)
	p.logger.Info("ingesting document", "document", doc.ID, "chunks", len(chunks))

	if err := p.embeddingProc.process(ctx, chunks); err != nil {
		return nil, fmt.Errorf("embedding document %s: %w", doc.ID, err)
	}

	previous, err := p.store.DocumentChunks(ctx, doc.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("reading document %s: %w", doc.ID, err)
	}

	// Chunk IDs are positional, so the upsert overwrites the previous
	// version in place. Only chunks past the new tail remain to be removed.
	if err := p.store.Upsert(ctx, chunks...); err != nil {
		return nil, fmt.Errorf("storing document %s: %w", doc.ID, err)
	}
	if stale := staleChunkIDs(previous, chunks); len(stale) > 0 {
		if _, err := p.store.DeleteChunks(ctx, stale...); err != nil {
			return nil, fmt.Errorf("removing stale chunks of %s: %w", doc.ID, err)
		}
	}
	if len(previous) > 0 {
		p.logger.Debug("replaced existing chunks", "document", doc.ID, "replaced", len(previous))
	}

	p.recordInfo(ctx, len(chunks[0].Embedding))
	return &Result{DocumentID: doc.ID, Chunks: len(chunks), Replaced: len(previous)}, nil
}

// Delete removes every chunk of a document.
func (p *Pipeline) Delete(ctx context.Context, documentID string) (int, error) {
	if documentID == "" {
		return 0, core.ErrEmptyDocumentID
	}
	return p.store.DeleteDocument(ctx, documentID)
}

func staleChunkIDs(previous, current []*core.Chunk) []string {
	keep := make(map[string]struct{}, len(current))
	for _, c := range current {
		keep[c.ID] = struct{}{}
	}
	var stale []string
	for _, c := range previous {
		if _, ok := keep[c.ID]; !ok {
			stale = append(stale, c.ID)
		}
	}
	return stale
}

func (p *Pipeline) chunkDocument(doc *core.Document) []*core.Chunk {
	texts := chunker.Split(doc.Text, p.chunkSize, p.overlap)
	hash := core.IDFromContent(doc.Text).Hex()

	chunks := make([]*core.Chunk, len(texts))
	for i, text := range texts {
		meta := doc.Metadata.Extensions()
		meta[core.MetaDocumentID] = doc.ID
		meta[core.MetaSequenceIndex] = i
		meta[core.MetaTotalChunks] = len(texts)
		meta[core.MetaContentHash] = hash

		chunks[i] = &core.Chunk{
			ID:            core.ChunkID(doc.ID, i),
			DocumentID:    doc.ID,
			Text:          text,
			SequenceIndex: i,
			Metadata:      meta,
		}
	}
	return chunks
}

func (p *Pipeline) recordInfo(ctx context.Context, dim int) {
	infoStore, ok := p.store.(storage.InfoStore)
	if !ok || p.model == "" {
		return
	}
	if err := infoStore.SaveInfo(ctx, &storage.StoreInfo{EmbeddingModel: p.model, Dimension: dim}); err != nil {
		p.logger.Warn("failed to record store info", "err", err)
	}
}

// Release releases resources including the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}
