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

// Package storage provides the storage abstraction layer for retrievit.
//
// This package defines the VectorStore interface that decouples chunk
// persistence and nearest-neighbor search from business logic. Three
// backends implement it:
//
//   - storage/badger: embedded BadgerDB with brute-force cosine search
//   - storage/qdrant: Qdrant over its REST API
//   - storage/milvus: Milvus through the official Go client
//
// # Constructor Return Type Pattern
//
// Public constructors return the VectorStore interface to enforce
// abstraction and keep backends swappable:
//
//	store, err := badger.NewStore("/path/to/db")  // returns storage.VectorStore
//
// Internal constructors may return concrete types since they're only used
// within the implementation package.
//
// # Optional Capabilities
//
// Stores may implement ChunkScanner (needed for re-embedding),
// DocumentCounter, Clearer and InfoStore. Callers check for them with type
// assertions.
//
// # Distance Convention
//
// Query results carry cosine distance, 1 - cosine similarity, so 0 means
// identical direction. Backends that natively report similarity convert it.
//
// # Thread Safety
//
// All store implementations must be safe for concurrent use.
package storage
