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

package ai

import "errors"

var (
	// ErrEmptyPrompt is returned when a generation request has no prompt text.
	ErrEmptyPrompt = errors.New("prompt cannot be empty")

	// ErrInvalidTemperature is returned when temperature is outside [0, 2].
	ErrInvalidTemperature = errors.New("temperature must be between 0 and 2")

	// ErrInvalidMaxTokens is returned when max tokens is outside [1, 4096].
	ErrInvalidMaxTokens = errors.New("max tokens must be between 1 and 4096")

	// ErrEmptyEmbedding is returned when the embedding service returns no vector.
	ErrEmptyEmbedding = errors.New("embedding service returned an empty vector")

	// ErrProviderUnavailable is returned when the model server does not answer a health probe.
	ErrProviderUnavailable = errors.New("model server unavailable")
)
