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

import "errors"

// Domain validation errors
var (
	// ErrInvalidDocument indicates a Document failed validation.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrEmptyDocumentID indicates the document ID is empty.
	ErrEmptyDocumentID = errors.New("document id cannot be empty")

	// ErrEmptyContent indicates the text content is empty.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrInvalidChunk indicates a Chunk failed validation.
	ErrInvalidChunk = errors.New("invalid chunk")

	// ErrInvalidRequest indicates a SearchRequest failed validation.
	ErrInvalidRequest = errors.New("invalid search request")

	// ErrEmptyQuery indicates the query text is empty or whitespace.
	ErrEmptyQuery = errors.New("query cannot be empty")

	// ErrInvalidResultCount indicates a non-positive result count.
	ErrInvalidResultCount = errors.New("result count must be positive")

	// ErrMissingDocumentID indicates a hit or chunk without a document id.
	ErrMissingDocumentID = errors.New("missing document id")
)
