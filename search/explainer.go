package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/poiesic/retrievit/ai"
	"github.com/poiesic/retrievit/core"
	"github.com/poiesic/retrievit/prompt"
)

var errEmptyExplanation = errors.New("empty explanation")

type explainer struct {
	generator   ai.Generator
	concurrency int
	timeout     time.Duration
	logger      *slog.Logger
}

// explain fills in Explanation for each hit. It reports false when no
// explanation could be produced.
func (e *explainer) explain(ctx context.Context, query string, hits []core.SearchHit) (bool, error) {
	if len(hits) == 0 {
		return true, nil
	}

	texts := make([]string, len(hits))
	errs, err := fanOut(ctx, len(hits), e.concurrency, func(ctx context.Context, i int) error {
		fileType, _ := hits[i].Metadata[prompt.MetaFileType].(string)
		fileName, _ := hits[i].Metadata[prompt.MetaFileName].(string)
		spec := prompt.Explain(query, hits[i].Text, fileType, fileName)

		callCtx, cancel := withTimeout(ctx, e.timeout)
		defer cancel()
		out, err := e.generator.Generate(callCtx, spec.User, ai.GenerateOptions{
			System:      spec.System,
			Temperature: spec.Temperature,
			MaxTokens:   spec.MaxTokens,
		})
		if err != nil {
			return err
		}
		out = strings.TrimSpace(out)
		if out == "" {
			return errEmptyExplanation
		}
		texts[i] = out
		return nil
	})
	if err != nil {
		return false, err
	}

	failed := 0
	for i, callErr := range errs {
		if callErr != nil {
			failed++
			e.logger.Warn("explanation failed", "chunk", hits[i].ChunkID, "err", callErr)
		}
	}
	if failed == len(hits) {
		return false, nil
	}
	for i := range hits {
		hits[i].Explanation = texts[i]
	}
	return true, nil
}
