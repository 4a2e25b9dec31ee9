package search

import (
	"fmt"
	"strings"

	"github.com/poiesic/retrievit/core"
)

// Preset is a named combination of optional stages.
type Preset struct {
	Name                string
	UseEnhancement      bool
	UseReranking        bool
	IncludeExplanations bool
}

var (
	// Plain runs vector search and deduplication only.
	Plain = Preset{Name: "plain"}

	// Quick adds enhancement and explanations but skips reranking.
	Quick = Preset{Name: "quick", UseEnhancement: true, IncludeExplanations: true}

	// Deep runs every stage.
	Deep = Preset{Name: "deep", UseEnhancement: true, UseReranking: true, IncludeExplanations: true}
)

// ParsePreset returns the preset with the given name.
func ParsePreset(name string) (Preset, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", Plain.Name:
		return Plain, nil
	case Quick.Name:
		return Quick, nil
	case Deep.Name:
		return Deep, nil
	}
	return Preset{}, fmt.Errorf("unknown preset %q", name)
}

// Request builds a search request with the preset's stages.
func (p Preset) Request(query string, resultCount int, filter core.Filter) *core.SearchRequest {
	return &core.SearchRequest{
		Query:               query,
		ResultCount:         resultCount,
		UseEnhancement:      p.UseEnhancement,
		UseReranking:        p.UseReranking,
		IncludeExplanations: p.IncludeExplanations,
		Filter:              filter,
	}
}
