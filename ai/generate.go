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

import (
	"fmt"
	"strings"
)

const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
	MinMaxTokens   = 1
	MaxMaxTokens   = 4096

	// DefaultMaxTokens is used when GenerateOptions.MaxTokens is zero.
	DefaultMaxTokens = 512
)

// GenerateOptions are the sampling parameters for a single generation request.
type GenerateOptions struct {
	// System is an optional system instruction sent before the prompt.
	System string

	// Temperature controls sampling randomness, in [0, 2].
	Temperature float64

	// MaxTokens caps the completion length, in [1, 4096]. Zero means DefaultMaxTokens.
	MaxTokens int
}

// WithDefaults returns a copy with zero MaxTokens replaced by DefaultMaxTokens.
func (o GenerateOptions) WithDefaults() GenerateOptions {
	if o.MaxTokens == 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	return o
}

// ValidateGenerate checks a prompt and its options before any request is made.
func ValidateGenerate(prompt string, opts GenerateOptions) error {
	if strings.TrimSpace(prompt) == "" {
		return ErrEmptyPrompt
	}
	if opts.Temperature < MinTemperature || opts.Temperature > MaxTemperature {
		return fmt.Errorf("%w: got %v", ErrInvalidTemperature, opts.Temperature)
	}
	opts = opts.WithDefaults()
	if opts.MaxTokens < MinMaxTokens || opts.MaxTokens > MaxMaxTokens {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxTokens, opts.MaxTokens)
	}
	return nil
}
