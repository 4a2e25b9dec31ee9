package search

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/poiesic/retrievit/ai"
	"github.com/poiesic/retrievit/prompt"
)

// DefaultMaxEnhancementLength bounds an accepted enhanced query, in characters.
const DefaultMaxEnhancementLength = 500

var enhancementLabel = regexp.MustCompile(`(?i)^\s*(enhanced|expanded)\s+query\s*:\s*`)

// CleanEnhancement normalizes raw model output for use as a query.
// It strips a leading "Enhanced query:" label and surrounding quotes,
// and collapses whitespace.
func CleanEnhancement(s string) string {
	s = enhancementLabel.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(s), " ")
	for len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') || (first == '`' && last == '`') {
			s = strings.TrimSpace(s[1 : len(s)-1])
			continue
		}
		break
	}
	return s
}

type enhancer struct {
	generator ai.Generator
	maxLength int
	timeout   time.Duration
	logger    *slog.Logger
}

// enhance returns the expanded query and whether it should be used.
// Model failures fall back to the original query; only cancellation of
// ctx is returned as an error.
func (e *enhancer) enhance(ctx context.Context, query string) (string, bool, error) {
	spec := prompt.Enhance(query)

	callCtx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()
	out, err := e.generator.Generate(callCtx, spec.User, ai.GenerateOptions{
		System:      spec.System,
		Temperature: spec.Temperature,
		MaxTokens:   spec.MaxTokens,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", false, ctxErr
		}
		e.logger.Warn("query enhancement failed, using original query", "err", err)
		return query, false, nil
	}

	cleaned := CleanEnhancement(out)
	switch n := utf8.RuneCountInString(cleaned); {
	case n == 0:
		e.logger.Warn("query enhancement returned empty output, using original query")
		return query, false, nil
	case n > e.maxLength:
		e.logger.Warn("query enhancement too long, using original query", "length", n, "max", e.maxLength)
		return query, false, nil
	}
	return cleaned, true, nil
}
