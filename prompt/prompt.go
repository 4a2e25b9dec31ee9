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

// Package prompt holds the fixed instruction templates sent to the
// text-generation model.
package prompt

import (
	"fmt"
	"strings"
)

// Content excerpt limits, in runes.
const (
	RerankExcerpt  = 500
	ExplainExcerpt = 400
)

// RelevanceScale is the upper bound of the relevance rating the model is asked for.
// Ratings are on the closed range 0..RelevanceScale.
const RelevanceScale = 10

// Metadata extension keys read when describing a source.
const (
	MetaFileName = "fileName"
	MetaFileType = "fileType"
)

// Spec is a rendered prompt plus the sampling parameters it was tuned for.
type Spec struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

const enhanceTemplate = `Expand this search query with related terms, synonyms and concepts that would help find relevant content.

Original query: %q

The expanded query must keep the original terms, add related concepts and synonyms, and include alternative phrasings where useful.
Keep it focused and under 50 words. Output only the expanded query on a single line.`

// Enhance renders the query expansion prompt.
func Enhance(query string) Spec {
	return Spec{
		System:      "You are an expert at improving search queries to find the most relevant content.",
		User:        fmt.Sprintf(enhanceTemplate, query),
		Temperature: 0.3,
		MaxTokens:   100,
	}
}

const rerankTemplate = `Rate how relevant this content is to the search query on a scale of 0 to %d.

Query: %q
Content: %q

Consider direct relevance to the query, the usefulness of the information and how well the meaning matches.
Answer with a single number from 0 (unrelated) to %d (perfect match) and nothing else.`

// Rerank renders the relevance rating prompt.
func Rerank(query, content string) Spec {
	return Spec{
		System:      "You are an expert at evaluating content relevance for search queries.",
		User:        fmt.Sprintf(rerankTemplate, RelevanceScale, query, Excerpt(content, RerankExcerpt), RelevanceScale),
		Temperature: 0.1,
		MaxTokens:   5,
	}
}

const explainTemplate = `Explain in 1-2 clear sentences why this content is relevant to the user's search.

Search query: %q
Content: %q
Document type: %s
Source: %s

Focus on the key connections. Be specific and helpful.`

// Explain renders the relevance explanation prompt. fileType and fileName
// default to "document" and "unknown" when empty.
func Explain(query, content, fileType, fileName string) Spec {
	if fileType == "" {
		fileType = "document"
	}
	if fileName == "" {
		fileName = "unknown"
	}
	return Spec{
		System:      "You help users understand why search results match their queries.",
		User:        fmt.Sprintf(explainTemplate, query, Excerpt(content, ExplainExcerpt), fileType, fileName),
		Temperature: 0.4,
		MaxTokens:   80,
	}
}

// DefaultSummaryWords is the summary length used when none is requested.
const DefaultSummaryWords = 50

// Summarize renders the document summary prompt.
func Summarize(text string, maxWords int) Spec {
	if maxWords <= 0 {
		maxWords = DefaultSummaryWords
	}
	return Spec{
		System: fmt.Sprintf("You are a professional document summarizer. Create a concise, clear summary in %d words "+
			"that captures the purpose of the document and its main points. DO NOT EXCEED %d WORDS.", maxWords, maxWords),
		User:        "Summarize the following document:\n\n" + text + "\n\nSummary:",
		Temperature: 0.3,
		// Roughly two tokens per word leaves room for punctuation.
		MaxTokens: maxWords * 2,
	}
}

// Excerpt truncates s to at most limit runes, appending an ellipsis when cut.
func Excerpt(s string, limit int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if limit <= 0 || len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
