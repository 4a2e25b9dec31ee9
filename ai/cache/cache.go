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

// Package cache provides an ai.Embedder decorator that stores vectors in
// Redis, keyed by embedding model and content hash.
package cache

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-crypt/x/blake2b"
	"github.com/poiesic/retrievit/ai"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL       = 24 * time.Hour
	DefaultKeyPrefix = "retrievit:emb:"
)

// ErrClientRequired is returned when no Redis client is supplied.
var ErrClientRequired = errors.New("redis client is required")

// CachedEmbedder serves embeddings from Redis when present and stores
// freshly computed ones. Cache failures are logged and never fail a call.
type CachedEmbedder struct {
	next      ai.Embedder
	client    *redis.Client
	model     string
	ttl       time.Duration
	keyPrefix string
	logger    *slog.Logger
}

// Option configures a CachedEmbedder.
type Option func(*CachedEmbedder) error

// WithTTL sets how long cached vectors live. Zero keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(c *CachedEmbedder) error {
		if ttl < 0 {
			return errors.New("ttl cannot be negative")
		}
		c.ttl = ttl
		return nil
	}
}

// WithKeyPrefix sets the Redis key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(c *CachedEmbedder) error {
		c.keyPrefix = prefix
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *CachedEmbedder) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger.With("component", "embedding-cache")
		return nil
	}
}

// NewCachedEmbedder wraps next. model is part of every key so vectors from
// different embedding models never mix.
func NewCachedEmbedder(next ai.Embedder, client *redis.Client, model string, opts ...Option) (*CachedEmbedder, error) {
	if next == nil {
		return nil, errors.New("embedder is required")
	}
	if client == nil {
		return nil, ErrClientRequired
	}
	c := &CachedEmbedder{
		next:      next,
		client:    client,
		model:     model,
		ttl:       DefaultTTL,
		keyPrefix: DefaultKeyPrefix,
		logger:    slog.Default().With("component", "embedding-cache"),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Key returns the Redis key for text.
func (c *CachedEmbedder) Key(text string) string {
	h, _ := blake2b.New(32, nil)
	h.Write([]byte(text))
	return c.keyPrefix + c.model + ":" + hex.EncodeToString(h.Sum(nil))
}

// EmbedText returns the cached vector for text or computes and caches it.
func (c *CachedEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := c.lookup(ctx, text); ok {
		return vec, nil
	}

	vec, err := c.next.EmbedText(ctx, text)
	if err != nil {
		return nil, err
	}
	c.store(ctx, text, vec)
	return vec, nil
}

// EmbedTexts serves cached vectors and embeds only the misses in one batch.
// Lookups go out as a single MGET and new entries as one pipeline.
func (c *CachedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := c.lookupMany(ctx, texts)
	var missIdx []int
	var missTexts []string
	for i, vec := range out {
		if vec == nil {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, texts[i])
		}
	}

	if len(missTexts) == 0 {
		c.logger.Debug("all embeddings from cache", "total", len(texts))
		return out, nil
	}

	c.logger.Debug("embedding cache miss", "total", len(texts), "uncached", len(missTexts))
	vecs, err := c.next.EmbedTexts(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, errors.New("embedder returned a different number of vectors than texts")
	}
	for i, idx := range missIdx {
		out[idx] = vecs[i]
	}
	c.storeMany(ctx, missTexts, vecs)
	return out, nil
}

// Available forwards to the wrapped embedder when it is an ai.Prober.
func (c *CachedEmbedder) Available(ctx context.Context) bool {
	if p, ok := c.next.(ai.Prober); ok {
		return p.Available(ctx)
	}
	return true
}

// Models forwards to the wrapped embedder when it is an ai.Prober.
func (c *CachedEmbedder) Models(ctx context.Context) ([]string, error) {
	if p, ok := c.next.(ai.Prober); ok {
		return p.Models(ctx)
	}
	return []string{c.model}, nil
}

func (c *CachedEmbedder) lookup(ctx context.Context, text string) ([]float32, bool) {
	key := c.Key(text)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("redis get failed, falling back to embedder", "err", err)
		}
		return nil, false
	}
	vec := c.decode(ctx, key, data)
	return vec, vec != nil
}

// lookupMany returns the cached vector for each text, nil for misses.
func (c *CachedEmbedder) lookupMany(ctx context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out
	}
	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = c.Key(text)
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("redis mget failed, falling back to embedder", "count", len(keys), "err", err)
		return out
	}
	for i, v := range values {
		if data, ok := v.(string); ok {
			out[i] = c.decode(ctx, keys[i], []byte(data))
		}
	}
	return out
}

// decode parses a cached vector. Unreadable entries are deleted.
func (c *CachedEmbedder) decode(ctx context.Context, key string, data []byte) []float32 {
	var vec []float32
	if err := sonic.Unmarshal(data, &vec); err != nil || len(vec) == 0 {
		c.logger.Warn("discarding unreadable cached embedding", "key", key, "err", err)
		_ = c.client.Del(ctx, key).Err()
		return nil
	}
	return vec
}

func (c *CachedEmbedder) store(ctx context.Context, text string, vec []float32) {
	if len(vec) == 0 {
		return
	}
	data, err := sonic.Marshal(vec)
	if err != nil {
		c.logger.Warn("failed to encode embedding for caching", "err", err)
		return
	}
	if err := c.client.Set(ctx, c.Key(text), data, c.ttl).Err(); err != nil {
		c.logger.Warn("failed to cache embedding", "err", err)
	}
}

func (c *CachedEmbedder) storeMany(ctx context.Context, texts []string, vecs [][]float32) {
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, text := range texts {
			if len(vecs[i]) == 0 {
				continue
			}
			data, err := sonic.Marshal(vecs[i])
			if err != nil {
				c.logger.Warn("failed to encode embedding for caching", "err", err)
				continue
			}
			pipe.Set(ctx, c.Key(text), data, c.ttl)
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("failed to cache embeddings", "count", len(texts), "err", err)
	}
}
