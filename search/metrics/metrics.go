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

// Package metrics exports search pipeline metrics to Prometheus through
// the search.SearchMonitor hooks.
package metrics

import (
	"errors"
	"time"

	"github.com/poiesic/retrievit/core"
	"github.com/poiesic/retrievit/search"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "retrievit"

// Search outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeInvalid = "invalid"
	OutcomeFailed  = "failed"
)

// Stage outcomes.
const (
	StageUsed     = "used"
	StageDegraded = "degraded"
)

// Collector holds the search metrics. It is safe for concurrent use;
// each request observes through its own Monitor.
type Collector struct {
	searches      *prometheus.CounterVec
	duration      prometheus.Histogram
	stages        *prometheus.CounterVec
	failures      *prometheus.CounterVec
	candidates    prometheus.Histogram
	dedupedHits   prometheus.Histogram
	fallbackEmbed prometheus.Counter
}

// NewCollector registers the search metrics with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		searches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "searches_total",
				Help:      "Total number of search requests by outcome",
			},
			[]string{"outcome"},
		),
		duration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_duration_seconds",
				Help:      "Search request duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),
		stages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "search_stage_total",
				Help:      "Optional stage executions by stage and outcome",
			},
			[]string{"stage", "outcome"},
		),
		failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "search_failures_total",
				Help:      "Failed searches by pipeline stage",
			},
			[]string{"stage"},
		),
		candidates: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_candidates",
				Help:      "Raw chunk hits returned by the vector store",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		dedupedHits: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_documents",
				Help:      "Distinct documents left after deduplication",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
			},
		),
		fallbackEmbed: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "search_fallback_embeddings_total",
				Help:      "Queries embedded with the content-derived fallback vector",
			},
		),
	}
}

// Monitor returns a monitor for a single search request.
func (c *Collector) Monitor() search.SearchMonitor {
	return &monitor{c: c}
}

type monitor struct {
	c     *Collector
	start time.Time
}

var _ search.SearchMonitor = (*monitor)(nil)

func (m *monitor) Start(*core.SearchRequest) {
	m.start = time.Now()
}

func (m *monitor) AfterEnhance(_ string, used bool) {
	m.stage("enhance", used)
}

func (m *monitor) AfterEmbed(degraded bool) {
	if degraded {
		m.c.fallbackEmbed.Inc()
	}
}

func (m *monitor) AfterVectorSearch(hits []core.VectorHit) {
	m.c.candidates.Observe(float64(len(hits)))
}

func (m *monitor) AfterDedup(hits []core.SearchHit) {
	m.c.dedupedHits.Observe(float64(len(hits)))
}

func (m *monitor) AfterRerank(used bool) {
	m.stage("rerank", used)
}

func (m *monitor) AfterExplain(used bool) {
	m.stage("explain", used)
}

func (m *monitor) Finish(_ *core.SearchResponse, err error) {
	m.c.duration.Observe(time.Since(m.start).Seconds())

	var rerr *search.RetrievalError
	switch {
	case err == nil:
		m.c.searches.WithLabelValues(OutcomeOK).Inc()
	case errors.As(err, &rerr):
		m.c.searches.WithLabelValues(OutcomeFailed).Inc()
		m.c.failures.WithLabelValues(string(rerr.Stage)).Inc()
	default:
		m.c.searches.WithLabelValues(OutcomeInvalid).Inc()
	}
}

func (m *monitor) stage(name string, used bool) {
	outcome := StageUsed
	if !used {
		outcome = StageDegraded
	}
	m.c.stages.WithLabelValues(name, outcome).Inc()
}
