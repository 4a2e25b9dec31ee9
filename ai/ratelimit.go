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
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedGenerator wraps a Generator so that outbound calls never exceed
// a fixed request rate. Callers block until a token is available or their
// context ends.
type RateLimitedGenerator struct {
	next    Generator
	limiter *rate.Limiter
}

// NewRateLimitedGenerator limits next to rps requests per second with the
// given burst. A non-positive rps returns next unchanged.
func NewRateLimitedGenerator(next Generator, rps float64, burst int) Generator {
	if rps <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedGenerator{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Generate waits for a limiter token and then delegates.
func (g *RateLimitedGenerator) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	if err := ValidateGenerate(prompt, opts); err != nil {
		return "", err
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return g.next.Generate(ctx, prompt, opts)
}
