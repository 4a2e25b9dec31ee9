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

package core

// SearchHit is one ranked result of a search request.
type SearchHit struct {
	ChunkID         string   `json:"chunkId"`
	DocumentID      string   `json:"documentId"`
	Text            string   `json:"text"`
	Metadata        Metadata `json:"metadata,omitempty"`
	SimilarityScore float64  `json:"similarityScore"`

	// RelevanceScore and CombinedScore are set only when reranking was applied.
	RelevanceScore *float64 `json:"aiRelevanceScore,omitempty"`
	CombinedScore  *float64 `json:"combinedScore,omitempty"`

	Explanation string `json:"explanation,omitempty"`
}

// SearchRequest configures a single retrieval.
type SearchRequest struct {
	Query               string `json:"query"`
	ResultCount         int    `json:"resultCount"`
	UseEnhancement      bool   `json:"useEnhancement"`
	UseReranking        bool   `json:"useReranking"`
	IncludeExplanations bool   `json:"includeExplanations"`
	Filter              Filter `json:"metadataFilter,omitempty"`
}

// SearchResponse is the outcome of a search request.
type SearchResponse struct {
	Results               []SearchHit      `json:"results"`
	ProcessingTimeSeconds float64          `json:"processingTimeSeconds"`
	OriginalQuery         string           `json:"originalQuery"`
	EnhancedQuery         *string          `json:"enhancedQuery,omitempty"`
	Metadata              ResponseMetadata `json:"metadata"`
}

// ResponseMetadata reports which pipeline stages contributed to a response.
type ResponseMetadata struct {
	TotalCandidates   int  `json:"totalCandidates"`
	EnhancementUsed   bool `json:"enhancementUsed"`
	RerankingUsed     bool `json:"rerankingUsed"`
	ExplanationsUsed  bool `json:"explanationsUsed"`
	DegradedEmbedding bool `json:"degradedEmbedding"`
}
