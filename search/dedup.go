package search

import (
	"cmp"
	"log/slog"
	"math"
	"slices"

	"github.com/poiesic/retrievit/core"
)

// MinFetchMultiplier is the smallest allowed ratio of fetched chunk hits
// to requested documents.
const MinFetchMultiplier = 2

// DefaultFetchMultiplier is used when no multiplier is configured.
const DefaultFetchMultiplier = 10

// FetchCount returns how many raw chunk hits to request for n documents.
// The result saturates at math.MaxInt.
func FetchCount(n, multiplier int) int {
	if multiplier < MinFetchMultiplier {
		multiplier = MinFetchMultiplier
	}
	return mulSaturating(n, multiplier)
}

// mulSaturating returns a*b for non-negative operands, clamped to math.MaxInt.
func mulSaturating(a, b int) int {
	if a > 0 && b > 0 && a > math.MaxInt/b {
		return math.MaxInt
	}
	return a * b
}

type candidate struct {
	hit      core.VectorHit
	docID    string
	position int
}

// Deduplicate collapses raw chunk hits to one hit per document, keeping
// the hit with the smallest distance. Hits without a document id are
// dropped. The result is ordered by similarity descending, ties by the
// store position of each document's best hit, and holds at most limit
// hits. A non-positive limit keeps every document.
func Deduplicate(hits []core.VectorHit, limit int, logger *slog.Logger) []core.SearchHit {
	if logger == nil {
		logger = slog.Default()
	}

	best := make(map[string]int, len(hits))
	candidates := make([]candidate, 0, len(hits))
	for pos, hit := range hits {
		docID, ok := hit.Metadata.DocumentID()
		if !ok {
			logger.Warn("dropping hit without document id", "chunk", hit.ChunkID)
			continue
		}
		idx, seen := best[docID]
		if !seen {
			best[docID] = len(candidates)
			candidates = append(candidates, candidate{hit: hit, docID: docID, position: pos})
			continue
		}
		if hit.Distance < candidates[idx].hit.Distance {
			candidates[idx] = candidate{hit: hit, docID: docID, position: pos}
		}
	}

	slices.SortFunc(candidates, func(a, b candidate) int {
		if c := cmp.Compare(b.hit.Similarity(), a.hit.Similarity()); c != 0 {
			return c
		}
		return cmp.Compare(a.position, b.position)
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]core.SearchHit, len(candidates))
	for i, c := range candidates {
		out[i] = core.SearchHit{
			ChunkID:         c.hit.ChunkID,
			DocumentID:      c.docID,
			Text:            c.hit.Text,
			Metadata:        c.hit.Metadata,
			SimilarityScore: c.hit.Similarity(),
		}
	}
	return out
}
