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

// Package search implements retrieval over a vector store.
//
// A Searcher runs each request through a fixed sequence of stages:
// optional query enhancement, embedding, k-NN vector search,
// per-document deduplication, optional LLM reranking, truncation and
// optional relevance explanations. Enhancement, reranking and
// explanations are best-effort and degrade silently; embedding and
// vector search failures are reported as a *RetrievalError.
//
// Per-candidate model calls run concurrently with a bounded number in
// flight. Final ordering depends only on computed scores.
package search
