package search

import (
	"cmp"
	"context"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"time"

	"github.com/poiesic/retrievit/ai"
	"github.com/poiesic/retrievit/core"
	"github.com/poiesic/retrievit/prompt"
)

// Fusion weights and the neutral relevance used when a rating is unusable.
const (
	SimilarityWeight = 0.6
	RelevanceWeight  = 0.4
	NeutralRelevance = 0.5
)

var numberToken = regexp.MustCompile(`[-+]?(?:\d+(?:\.\d*)?|\.\d+)`)

// ParseRelevance extracts the first number from a model rating on the
// 0..prompt.RelevanceScale scale and normalizes it to [0,1]. Output
// without a number yields NeutralRelevance.
func ParseRelevance(output string) float64 {
	token := numberToken.FindString(output)
	if token == "" {
		return NeutralRelevance
	}
	v, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return NeutralRelevance
	}
	v = min(max(v, 0), prompt.RelevanceScale)
	return v / prompt.RelevanceScale
}

// Fuse combines similarity and relevance into the ranking score.
func Fuse(similarity, relevance float64) float64 {
	return similarity*SimilarityWeight + relevance*RelevanceWeight
}

type reranker struct {
	generator   ai.Generator
	concurrency int
	timeout     time.Duration
	logger      *slog.Logger
}

// rerank scores hits against query and reorders them by combined score.
// It reports false, leaving hits untouched, when every rating call failed.
func (r *reranker) rerank(ctx context.Context, query string, hits []core.SearchHit) (bool, error) {
	if len(hits) == 0 {
		return true, nil
	}

	scores := make([]float64, len(hits))
	errs, err := fanOut(ctx, len(hits), r.concurrency, func(ctx context.Context, i int) error {
		spec := prompt.Rerank(query, hits[i].Text)
		callCtx, cancel := withTimeout(ctx, r.timeout)
		defer cancel()
		out, err := r.generator.Generate(callCtx, spec.User, ai.GenerateOptions{
			System:      spec.System,
			Temperature: spec.Temperature,
			MaxTokens:   spec.MaxTokens,
		})
		if err != nil {
			return err
		}
		scores[i] = ParseRelevance(out)
		return nil
	})
	if err != nil {
		return false, err
	}

	failed := 0
	for i, callErr := range errs {
		if callErr != nil {
			failed++
			scores[i] = NeutralRelevance
			r.logger.Warn("relevance rating failed, using neutral score", "chunk", hits[i].ChunkID, "err", callErr)
		}
	}
	if failed == len(hits) {
		r.logger.Warn("reranking failed for every candidate, keeping similarity order", "candidates", len(hits))
		return false, nil
	}

	for i := range hits {
		relevance := scores[i]
		combined := Fuse(hits[i].SimilarityScore, relevance)
		hits[i].RelevanceScore = &relevance
		hits[i].CombinedScore = &combined
	}
	slices.SortStableFunc(hits, func(a, b core.SearchHit) int {
		return cmp.Compare(*b.CombinedScore, *a.CombinedScore)
	})
	return true, nil
}
