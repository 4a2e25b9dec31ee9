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
	"errors"
	"strings"
	"time"
)

const (
	DefaultHost            = "http://localhost:11434/v1"
	DefaultEmbeddingModel  = "embeddinggemma"
	DefaultGeneratorModel  = "qwen2.5:3b"
	DefaultDimension       = 384
	DefaultEmbedTimeout    = 60 * time.Second
	DefaultGenerateTimeout = 120 * time.Second
	DefaultHealthTimeout   = 10 * time.Second
)

// Config holds configuration for AI service providers.
type Config struct {
	// EmbeddingHost is the base URL for the embedding service API.
	// Example: "http://localhost:11434/v1" for local OpenAI-compatible server
	EmbeddingHost string

	// GeneratorHost is the base URL for the text generation service API.
	GeneratorHost string

	// EmbeddingModel is the model identifier to use for text embeddings.
	// Example: "embeddinggemma", "text-embedding-3-small"
	EmbeddingModel string

	// GeneratorModel is the model identifier used for enhancement, reranking,
	// explanations and summaries.
	// Example: "qwen2.5:3b", "gpt-4o-mini"
	GeneratorModel string

	// APIKey is sent as the bearer token. Local servers ignore it.
	APIKey string

	// Dimension is the length of fallback vectors. It must match the
	// dimension of the embedding model in use.
	Dimension int

	EmbedTimeout    time.Duration
	GenerateTimeout time.Duration
	HealthTimeout   time.Duration

	// RequestsPerSecond limits outbound generation calls. Zero disables limiting.
	RequestsPerSecond float64
	// Burst is the limiter bucket size. Defaults to 1 when limiting is enabled.
	Burst int
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithEmbeddingHost sets the embedding service host URL.
func WithEmbeddingHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
	}
}

// WithGeneratorHost sets the generation service host URL.
func WithGeneratorHost(host string) ConfigOption {
	return func(c *Config) {
		c.GeneratorHost = host
	}
}

// WithHost sets both embedding and generator hosts to the same URL.
func WithHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
		c.GeneratorHost = host
	}
}

// WithEmbeddingModel sets the embedding model identifier.
func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingModel = model
	}
}

// WithGeneratorModel sets the generation model identifier.
func WithGeneratorModel(model string) ConfigOption {
	return func(c *Config) {
		c.GeneratorModel = model
	}
}

// WithAPIKey sets the bearer token.
func WithAPIKey(key string) ConfigOption {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithDimension sets the fallback vector dimension.
func WithDimension(dim int) ConfigOption {
	return func(c *Config) {
		c.Dimension = dim
	}
}

// WithTimeouts sets the embed, generate and health timeouts. Zero values are left unchanged.
func WithTimeouts(embed, generate, health time.Duration) ConfigOption {
	return func(c *Config) {
		if embed > 0 {
			c.EmbedTimeout = embed
		}
		if generate > 0 {
			c.GenerateTimeout = generate
		}
		if health > 0 {
			c.HealthTimeout = health
		}
	}
}

// WithRateLimit limits outbound generation calls to rps with the given burst.
func WithRateLimit(rps float64, burst int) ConfigOption {
	return func(c *Config) {
		c.RequestsPerSecond = rps
		c.Burst = burst
	}
}

// DefaultConfig returns a Config with sensible defaults for local OpenAI-compatible services.
// By default, both embedding and generation use the same host.
func DefaultConfig() *Config {
	return &Config{
		EmbeddingHost:   DefaultHost,
		GeneratorHost:   DefaultHost,
		EmbeddingModel:  DefaultEmbeddingModel,
		GeneratorModel:  DefaultGeneratorModel,
		APIKey:          "none",
		Dimension:       DefaultDimension,
		EmbedTimeout:    DefaultEmbedTimeout,
		GenerateTimeout: DefaultGenerateTimeout,
		HealthTimeout:   DefaultHealthTimeout,
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
//
// Example:
//
//	cfg := NewConfig(
//	    WithHost("http://localhost:11434/v1"),
//	    WithEmbeddingModel("text-embedding-3-small"),
//	)
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize ensures the configuration is in a canonical form.
// It adds the /v1 suffix to hosts if missing, which is required
// by most OpenAI-compatible APIs (Ollama, LocalAI, vLLM, etc).
func (c *Config) Normalize() {
	c.EmbeddingHost = normalizeHost(c.EmbeddingHost)
	c.GeneratorHost = normalizeHost(c.GeneratorHost)
	if c.APIKey == "" {
		c.APIKey = "none"
	}
	if c.RequestsPerSecond > 0 && c.Burst < 1 {
		c.Burst = 1
	}
}

func normalizeHost(host string) string {
	if host == "" || strings.HasSuffix(host, "/v1") {
		return host
	}
	return strings.TrimSuffix(host, "/") + "/v1"
}

// Validate checks that the configuration is valid and complete.
// It normalizes the configuration before validation.
func (c *Config) Validate() error {
	c.Normalize()

	if c.EmbeddingHost == "" {
		return errors.New("ai config: EmbeddingHost is required")
	}
	if c.GeneratorHost == "" {
		return errors.New("ai config: GeneratorHost is required")
	}
	if c.EmbeddingModel == "" {
		return errors.New("ai config: EmbeddingModel is required")
	}
	if c.GeneratorModel == "" {
		return errors.New("ai config: GeneratorModel is required")
	}
	if c.Dimension < 1 {
		return errors.New("ai config: Dimension must be positive")
	}
	if c.EmbedTimeout <= 0 || c.GenerateTimeout <= 0 || c.HealthTimeout <= 0 {
		return errors.New("ai config: timeouts must be positive")
	}
	if c.RequestsPerSecond < 0 {
		return errors.New("ai config: RequestsPerSecond cannot be negative")
	}
	return nil
}
