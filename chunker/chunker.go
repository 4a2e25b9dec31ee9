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

// Package chunker splits document text into overlapping segments for embedding.
//
// Lengths and offsets are measured in runes so multi-byte text is never cut
// inside a character. A window that would end mid-sentence is pulled back to
// the last sentence or paragraph terminator found within its final 100 runes.
package chunker

import (
	"strings"
	"unicode"
)

const (
	// DefaultChunkSize is the window length used when a non-positive size is given.
	DefaultChunkSize = 1000

	// DefaultOverlap is the overlap between consecutive windows used by ingestion.
	DefaultOverlap = 200

	// boundaryWindow is how far back from a window end a terminator is searched for.
	boundaryWindow = 100
)

// Span is a half-open rune range [Start, End) of the source text.
type Span struct {
	Start int
	End   int
}

// Split returns the ordered, non-empty chunks of text.
//
// Text no longer than chunkSize is returned whole as a single chunk. Empty
// or whitespace-only text yields no chunks.
func Split(text string, chunkSize, overlap int) []string {
	runes := []rune(text)
	spans := spans(runes, chunkSize, overlap)
	chunks := make([]string, 0, len(spans))
	for _, s := range spans {
		chunks = append(chunks, string(runes[s.Start:s.End]))
	}
	return chunks
}

// Spans returns the rune ranges Split would cut text into.
func Spans(text string, chunkSize, overlap int) []Span {
	return spans([]rune(text), chunkSize, overlap)
}

func spans(runes []rune, chunkSize, overlap int) []Span {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize - 1
	}

	n := len(runes)
	if isBlank(runes) {
		return nil
	}
	if n <= chunkSize {
		return []Span{{Start: 0, End: n}}
	}

	var out []Span
	start := 0
	for start < n {
		end := min(start+chunkSize, n)
		if end < n {
			end = pullBack(runes, start+overlap+1, end)
		}

		switch {
		case !isBlank(runes[start:end]):
			out = append(out, Span{Start: start, End: end})
		case end >= n && len(out) > 0:
			// Trailing whitespace joins the final chunk.
			out[len(out)-1].End = n
		}
		if end >= n {
			break
		}

		// Always advance, even when a pulled-back window is shorter than the overlap.
		start = max(end-overlap, start+1)
	}
	return out
}

// pullBack moves end back to just after the last terminator within the
// final boundaryWindow runes of the window, never below floor. Returns end
// unchanged when none is found. The floor keeps the next window start past
// the current one.
func pullBack(runes []rune, floor, end int) int {
	lower := max(floor, end-boundaryWindow)
	for i := end - 1; i >= lower; i-- {
		if isTerminator(runes[i]) {
			return i + 1
		}
	}
	return end
}

func isTerminator(r rune) bool {
	return strings.ContainsRune(".!?\n", r)
}

func isBlank(runes []rune) bool {
	for _, r := range runes {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
