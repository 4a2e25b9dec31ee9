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

package storage

import "errors"

// Sentinel errors shared by every VectorStore implementation. Backends wrap
// their own failures with these so callers can branch on errors.Is.
var (
	// ErrNotFound is returned when a document has no stored chunks.
	ErrNotFound = errors.New("no chunks found")

	// ErrStorageClosed is returned by any call made after Close.
	ErrStorageClosed = errors.New("vector store is closed")

	// ErrInvalidQuery rejects a k-NN query, filter or scan before it reaches the backend.
	ErrInvalidQuery = errors.New("invalid vector query")

	// ErrSerializationFailed wraps chunk and info record codec failures.
	ErrSerializationFailed = errors.New("chunk serialization failed")

	// ErrDimensionMismatch indicates a vector whose length differs from the store's.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)
