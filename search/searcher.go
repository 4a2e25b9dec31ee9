package search

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/poiesic/retrievit/ai"
	"github.com/poiesic/retrievit/core"
	"github.com/poiesic/retrievit/storage"
)

// Default timeouts for external calls.
const (
	DefaultLLMTimeout   = 60 * time.Second
	DefaultEmbedTimeout = 30 * time.Second
	DefaultStoreTimeout = 30 * time.Second
)

// rerankPoolFactor widens the deduplicated pool handed to the reranker so
// it can promote documents beyond the similarity top N.
const rerankPoolFactor = 2

// Searcher runs retrieval requests against a vector store.
type Searcher struct {
	store     storage.VectorStore
	embedder  ai.Embedder
	enhancer  *enhancer
	reranker  *reranker
	explainer *explainer
	logger    *slog.Logger

	fetchMultiplier int
	embedTimeout    time.Duration
	storeTimeout    time.Duration
	probeTimeout    time.Duration
	fallback        bool
	fallbackDim     int
	lastDim         atomic.Int64
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger.With("component", "searcher")
		return nil
	}
}

// WithFetchMultiplier sets how many raw chunk hits are fetched per
// requested document. Values below MinFetchMultiplier are raised to it.
func WithFetchMultiplier(m int) Option {
	return func(s *Searcher) error {
		s.fetchMultiplier = max(m, MinFetchMultiplier)
		return nil
	}
}

// WithMaxConcurrency bounds in-flight model calls per request, clamped
// to 1..MaxConcurrency.
func WithMaxConcurrency(n int) Option {
	return func(s *Searcher) error {
		n = clampConcurrency(n)
		s.reranker.concurrency = n
		s.explainer.concurrency = n
		return nil
	}
}

// WithLLMTimeout bounds each enhancement, rating and explanation call.
func WithLLMTimeout(d time.Duration) Option {
	return func(s *Searcher) error {
		if d <= 0 {
			return errors.New("llm timeout must be positive")
		}
		s.enhancer.timeout = d
		s.reranker.timeout = d
		s.explainer.timeout = d
		return nil
	}
}

// WithEmbedTimeout bounds the query embedding call.
func WithEmbedTimeout(d time.Duration) Option {
	return func(s *Searcher) error {
		if d <= 0 {
			return errors.New("embed timeout must be positive")
		}
		s.embedTimeout = d
		return nil
	}
}

// WithStoreTimeout bounds the vector store query.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Searcher) error {
		if d <= 0 {
			return errors.New("store timeout must be positive")
		}
		s.storeTimeout = d
		return nil
	}
}

// WithEmbeddingFallback controls whether a failed query embedding is
// replaced by a content-derived vector. Enabled by default.
func WithEmbeddingFallback(enabled bool) Option {
	return func(s *Searcher) error {
		s.fallback = enabled
		return nil
	}
}

// WithFallbackDimension sets the length of fallback vectors used before
// any embedding has succeeded.
func WithFallbackDimension(dim int) Option {
	return func(s *Searcher) error {
		if dim <= 0 {
			return errors.New("fallback dimension must be positive")
		}
		s.fallbackDim = dim
		return nil
	}
}

// WithAvailabilityProbe checks embedder availability before each query
// embedding when the embedder implements ai.Prober. An unavailable
// embedder goes straight to the fallback path.
func WithAvailabilityProbe(timeout time.Duration) Option {
	return func(s *Searcher) error {
		if timeout <= 0 {
			return errors.New("probe timeout must be positive")
		}
		s.probeTimeout = timeout
		return nil
	}
}

// WithMaxEnhancementLength bounds accepted enhanced queries, in characters.
func WithMaxEnhancementLength(n int) Option {
	return func(s *Searcher) error {
		if n <= 0 {
			return errors.New("max enhancement length must be positive")
		}
		s.enhancer.maxLength = n
		return nil
	}
}

// NewSearcher creates a new searcher.
func NewSearcher(store storage.VectorStore, provider ai.AIProvider, opts ...Option) (*Searcher, error) {
	if store == nil {
		return nil, ErrVectorStoreRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	logger := slog.Default().With("component", "searcher")
	generator := provider.Generator()
	s := &Searcher{
		store:    store,
		embedder: provider.Embedder(),
		enhancer: &enhancer{
			generator: generator,
			maxLength: DefaultMaxEnhancementLength,
			timeout:   DefaultLLMTimeout,
		},
		reranker: &reranker{
			generator:   generator,
			concurrency: MaxConcurrency,
			timeout:     DefaultLLMTimeout,
		},
		explainer: &explainer{
			generator:   generator,
			concurrency: MaxConcurrency,
			timeout:     DefaultLLMTimeout,
		},
		logger:          logger,
		fetchMultiplier: DefaultFetchMultiplier,
		embedTimeout:    DefaultEmbedTimeout,
		storeTimeout:    DefaultStoreTimeout,
		fallback:        true,
		fallbackDim:     ai.DefaultDimension,
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.enhancer.logger = s.logger
	s.reranker.logger = s.logger
	s.explainer.logger = s.logger

	return s, nil
}

// Search runs a retrieval request.
func (s *Searcher) Search(ctx context.Context, req *core.SearchRequest) (*core.SearchResponse, error) {
	return s.SearchWithMonitor(ctx, req, nil)
}

// SearchWithMonitor runs a retrieval request, reporting each stage to
// monitor. Invalid requests are rejected before any external call.
// Embedding or vector search failures, and cancellation of ctx, return a
// *RetrievalError and no results.
func (s *Searcher) SearchWithMonitor(ctx context.Context, req *core.SearchRequest, monitor SearchMonitor) (resp *core.SearchResponse, err error) {
	// Use noop monitor if none provided
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	start := time.Now()
	monitor.Start(req)
	defer func() {
		monitor.Finish(resp, err)
	}()

	if err = core.ValidateSearchRequest(req); err != nil {
		return nil, err
	}

	fail := func(stage Stage, cause error) error {
		s.logger.Error("search failed", "stage", stage, "err", cause)
		return &RetrievalError{Stage: stage, Err: cause}
	}

	out := &core.SearchResponse{OriginalQuery: req.Query}

	// 1. Enhance
	query := req.Query
	if req.UseEnhancement {
		enhanced, used, enhanceErr := s.enhancer.enhance(ctx, req.Query)
		if enhanceErr != nil {
			return nil, fail(StageEnhance, enhanceErr)
		}
		if used {
			query = enhanced
			out.EnhancedQuery = &enhanced
			out.Metadata.EnhancementUsed = true
		}
		monitor.AfterEnhance(query, used)
	}

	// 2. Embed
	vector, degraded, embedErr := s.embed(ctx, query)
	if embedErr != nil {
		return nil, fail(StageEmbed, embedErr)
	}
	out.Metadata.DegradedEmbedding = degraded
	monitor.AfterEmbed(degraded)

	// 3. Vector search
	raw, searchErr := s.vectorSearch(ctx, vector, FetchCount(req.ResultCount, s.fetchMultiplier), req.Filter)
	if searchErr != nil {
		return nil, fail(StageVectorSearch, searchErr)
	}
	out.Metadata.TotalCandidates = len(raw)
	monitor.AfterVectorSearch(raw)

	// 4. Deduplicate
	pool := req.ResultCount
	if req.UseReranking {
		pool = mulSaturating(pool, rerankPoolFactor)
	}
	hits := Deduplicate(raw, pool, s.logger)
	monitor.AfterDedup(hits)

	// 5. Rerank
	if req.UseReranking {
		used, rerankErr := s.reranker.rerank(ctx, req.Query, hits)
		if rerankErr != nil {
			return nil, fail(StageRerank, rerankErr)
		}
		out.Metadata.RerankingUsed = used
		monitor.AfterRerank(used)
	}

	// 6. Truncate
	if len(hits) > req.ResultCount {
		hits = hits[:req.ResultCount]
	}

	// 7. Explain
	if req.IncludeExplanations {
		used, explainErr := s.explainer.explain(ctx, req.Query, hits)
		if explainErr != nil {
			return nil, fail(StageExplain, explainErr)
		}
		out.Metadata.ExplanationsUsed = used
		monitor.AfterExplain(used)
	}

	out.Results = hits
	out.ProcessingTimeSeconds = time.Since(start).Seconds()
	s.logger.Debug("search completed",
		"results", len(hits),
		"candidates", out.Metadata.TotalCandidates,
		"degraded", degraded,
		"elapsed", time.Since(start))
	return out, nil
}

// embed returns the query vector and whether it is a fallback vector.
func (s *Searcher) embed(ctx context.Context, query string) ([]float32, bool, error) {
	if s.probeTimeout > 0 {
		if prober, ok := s.embedder.(ai.Prober); ok {
			probeCtx, cancel := withTimeout(ctx, s.probeTimeout)
			available := prober.Available(probeCtx)
			cancel()
			if !available {
				return s.embedFallback(ctx, query, ai.ErrProviderUnavailable)
			}
		}
	}

	callCtx, cancel := withTimeout(ctx, s.embedTimeout)
	defer cancel()
	vector, err := s.embedder.EmbedText(callCtx, query)
	if err == nil && len(vector) == 0 {
		err = ai.ErrEmptyEmbedding
	}
	if err != nil {
		return s.embedFallback(ctx, query, err)
	}
	s.lastDim.Store(int64(len(vector)))
	return vector, false, nil
}

func (s *Searcher) embedFallback(ctx context.Context, query string, cause error) ([]float32, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if !s.fallback {
		return nil, false, cause
	}
	dim := int(s.lastDim.Load())
	if dim == 0 {
		dim = s.fallbackDim
	}
	s.logger.Warn("query embedding failed, using fallback vector", "dimension", dim, "err", cause)
	return ai.FallbackVector(query, dim), true, nil
}

func (s *Searcher) vectorSearch(ctx context.Context, vector []float32, k int, filter core.Filter) ([]core.VectorHit, error) {
	callCtx, cancel := withTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.store.Query(callCtx, vector, k, filter)
}
