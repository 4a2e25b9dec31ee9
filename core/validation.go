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

import (
	"fmt"
	"strings"
)

// ValidateDocument validates a Document according to domain rules.
//
// Validation rules:
//   - ID must not be empty or whitespace
//   - Text must not be empty or whitespace
//
// Metadata may be nil.
func ValidateDocument(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document is nil", ErrInvalidDocument)
	}

	if strings.TrimSpace(doc.ID) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, ErrEmptyDocumentID)
	}

	if strings.TrimSpace(doc.Text) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, ErrEmptyContent)
	}

	return nil
}

// ValidateChunk validates a Chunk before it is persisted.
//
// Validation rules:
//   - ID and DocumentID must not be empty
//   - Text must not be empty
//   - SequenceIndex must not be negative
//
// NOT validated:
//   - Embedding (stores check dimensions themselves)
func ValidateChunk(chunk *Chunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: chunk is nil", ErrInvalidChunk)
	}
	if chunk.ID == "" {
		return fmt.Errorf("%w: empty chunk id", ErrInvalidChunk)
	}
	if chunk.DocumentID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrMissingDocumentID)
	}
	if chunk.Text == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyContent)
	}
	if chunk.SequenceIndex < 0 {
		return fmt.Errorf("%w: negative sequence index %d", ErrInvalidChunk, chunk.SequenceIndex)
	}
	return nil
}

// ValidateSearchRequest rejects requests that must never reach a collaborator.
func ValidateSearchRequest(req *SearchRequest) error {
	if req == nil {
		return fmt.Errorf("%w: request is nil", ErrInvalidRequest)
	}

	if strings.TrimSpace(req.Query) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, ErrEmptyQuery)
	}

	if req.ResultCount <= 0 {
		return fmt.Errorf("%w: %w: got %d", ErrInvalidRequest, ErrInvalidResultCount, req.ResultCount)
	}

	return nil
}
