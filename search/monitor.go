package search

import (
	"github.com/poiesic/retrievit/core"
)

// SearchMonitor provides hooks to observe the search process.
// Callbacks arrive in pipeline order; stages that are skipped do not
// report. Finish is always called, with a nil response on failure.
type SearchMonitor interface {
	Start(req *core.SearchRequest)
	AfterEnhance(query string, used bool)
	AfterEmbed(degraded bool)
	AfterVectorSearch(hits []core.VectorHit)
	AfterDedup(hits []core.SearchHit)
	AfterRerank(used bool)
	AfterExplain(used bool)
	Finish(resp *core.SearchResponse, err error)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ *core.SearchRequest)            {}
func (n *noopMonitor) AfterEnhance(_ string, _ bool)          {}
func (n *noopMonitor) AfterEmbed(_ bool)                      {}
func (n *noopMonitor) AfterVectorSearch(_ []core.VectorHit)   {}
func (n *noopMonitor) AfterDedup(_ []core.SearchHit)          {}
func (n *noopMonitor) AfterRerank(_ bool)                     {}
func (n *noopMonitor) AfterExplain(_ bool)                    {}
func (n *noopMonitor) Finish(_ *core.SearchResponse, _ error) {}
