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

package search

import "errors"

var (
	// ErrVectorStoreRequired is returned when a vector store is not provided.
	ErrVectorStoreRequired = errors.New("vector store required")

	// ErrAIProviderRequired is returned when an AI provider is not provided.
	ErrAIProviderRequired = errors.New("AI provider required")

	// ErrRetrievalFailed matches every *RetrievalError via errors.Is.
	ErrRetrievalFailed = errors.New("retrieval failed")
)

// Stage names a step of the search pipeline.
type Stage string

const (
	StageEnhance      Stage = "enhance"
	StageEmbed        Stage = "embed"
	StageVectorSearch Stage = "vector_search"
	StageRerank       Stage = "rerank"
	StageExplain      Stage = "explain"
)

// RetrievalError reports a search that could not produce results.
// Its message names only the stage; the upstream cause is available
// through errors.Unwrap for diagnostics.
type RetrievalError struct {
	Stage Stage
	Err   error
}

func (e *RetrievalError) Error() string {
	return "retrieval failed at " + string(e.Stage)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrRetrievalFailed.
func (e *RetrievalError) Is(target error) bool {
	return target == ErrRetrievalFailed
}
