// Package config loads retrievit settings from a YAML file.
//
// Every field has a default, so an empty or missing file yields a usable
// configuration for a local OpenAI-compatible model server and an embedded
// BadgerDB store. Durations are written as Go duration strings ("30s").
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/poiesic/retrievit/ai"
	"github.com/poiesic/retrievit/ai/cache"
	"github.com/poiesic/retrievit/chunker"
	"github.com/poiesic/retrievit/ingestion"
	"github.com/poiesic/retrievit/search"
	"github.com/poiesic/retrievit/storage/milvus"
	"github.com/poiesic/retrievit/storage/qdrant"
)

// Storage backends.
const (
	BackendBadger = "badger"
	BackendQdrant = "qdrant"
	BackendMilvus = "milvus"
)

// DefaultBadgerPath is where the embedded store lives when no path is configured.
const DefaultBadgerPath = "retrievit.db"

// ErrInvalidConfig is returned when a loaded configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete retrievit configuration.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	AI        AIConfig        `yaml:"ai"`
	Search    SearchConfig    `yaml:"search"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Cache     CacheConfig     `yaml:"cache"`
}

// StorageConfig selects and configures the vector store.
type StorageConfig struct {
	// Backend is one of badger, qdrant or milvus.
	Backend string       `yaml:"backend"`
	Badger  BadgerConfig `yaml:"badger"`
	Qdrant  QdrantConfig `yaml:"qdrant"`
	Milvus  MilvusConfig `yaml:"milvus"`
}

// BadgerConfig locates the embedded store.
type BadgerConfig struct {
	Path string `yaml:"path"`
}

// QdrantConfig addresses a Qdrant collection over gRPC.
type QdrantConfig struct {
	Address    string        `yaml:"address"`
	APIKey     string        `yaml:"api_key"`
	UseTLS     bool          `yaml:"use_tls"`
	Collection string        `yaml:"collection"`
	Timeout    time.Duration `yaml:"timeout"`
}

// MilvusConfig addresses a Milvus collection.
type MilvusConfig struct {
	Address    string        `yaml:"address"`
	Username   string        `yaml:"username"`
	Password   string        `yaml:"password"`
	Database   string        `yaml:"database"`
	Collection string        `yaml:"collection"`
	Timeout    time.Duration `yaml:"timeout"`
}

// AIConfig mirrors ai.Config with YAML keys.
type AIConfig struct {
	// Host sets both hosts unless one is given explicitly.
	Host              string        `yaml:"host"`
	EmbeddingHost     string        `yaml:"embedding_host"`
	GeneratorHost     string        `yaml:"generator_host"`
	EmbeddingModel    string        `yaml:"embedding_model"`
	GeneratorModel    string        `yaml:"generator_model"`
	APIKey            string        `yaml:"api_key"`
	Dimension         int           `yaml:"dimension"`
	EmbedTimeout      time.Duration `yaml:"embed_timeout"`
	GenerateTimeout   time.Duration `yaml:"generate_timeout"`
	HealthTimeout     time.Duration `yaml:"health_timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

// SearchConfig holds retrieval tuning.
type SearchConfig struct {
	FetchMultiplier      int           `yaml:"fetch_multiplier"`
	MaxConcurrency       int           `yaml:"max_concurrency"`
	LLMTimeout           time.Duration `yaml:"llm_timeout"`
	EmbedTimeout         time.Duration `yaml:"embed_timeout"`
	StoreTimeout         time.Duration `yaml:"store_timeout"`
	EmbeddingFallback    bool          `yaml:"embedding_fallback"`
	MaxEnhancementLength int           `yaml:"max_enhancement_length"`
	// ProbeAvailability checks the embedding service before each query.
	ProbeAvailability bool `yaml:"probe_availability"`
}

// IngestionConfig holds chunking and embedding settings for ingest.
type IngestionConfig struct {
	ChunkSize int `yaml:"chunk_size"`
	Overlap   int `yaml:"overlap"`
	BatchSize int `yaml:"batch_size"`
	// PoolSize of zero lets the pipeline pick from the CPU count.
	PoolSize    int           `yaml:"pool_size"`
	MaxAttempts int           `yaml:"max_attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}

// CacheConfig enables the Redis embedding cache.
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	TTL       time.Duration `yaml:"ttl"`
	KeyPrefix string        `yaml:"key_prefix"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend: BackendBadger,
			Badger:  BadgerConfig{Path: DefaultBadgerPath},
			Qdrant: QdrantConfig{
				Address:    qdrant.DefaultAddress,
				Collection: qdrant.DefaultCollection,
				Timeout:    qdrant.DefaultTimeout,
			},
			Milvus: MilvusConfig{
				Address:    milvus.DefaultAddress,
				Collection: milvus.DefaultCollection,
				Timeout:    milvus.DefaultTimeout,
			},
		},
		AI: AIConfig{
			EmbeddingHost:   ai.DefaultHost,
			GeneratorHost:   ai.DefaultHost,
			EmbeddingModel:  ai.DefaultEmbeddingModel,
			GeneratorModel:  ai.DefaultGeneratorModel,
			Dimension:       ai.DefaultDimension,
			EmbedTimeout:    ai.DefaultEmbedTimeout,
			GenerateTimeout: ai.DefaultGenerateTimeout,
			HealthTimeout:   ai.DefaultHealthTimeout,
		},
		Search: SearchConfig{
			FetchMultiplier:      search.DefaultFetchMultiplier,
			MaxConcurrency:       search.MaxConcurrency,
			LLMTimeout:           search.DefaultLLMTimeout,
			EmbedTimeout:         search.DefaultEmbedTimeout,
			StoreTimeout:         search.DefaultStoreTimeout,
			EmbeddingFallback:    true,
			MaxEnhancementLength: search.DefaultMaxEnhancementLength,
		},
		Ingestion: IngestionConfig{
			ChunkSize:   chunker.DefaultChunkSize,
			Overlap:     chunker.DefaultOverlap,
			BatchSize:   ingestion.DefaultBatchSize,
			MaxAttempts: ingestion.DefaultMaxAttempts,
			RetryDelay:  ingestion.DefaultRetryDelay,
		},
		Cache: CacheConfig{
			Addr:      "localhost:6379",
			TTL:       cache.DefaultTTL,
			KeyPrefix: cache.DefaultKeyPrefix,
		},
	}
}

// Load reads the YAML file at path over the defaults and validates the result.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := cfg.decode(data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML data over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if c.AI.Host != "" {
		c.AI.EmbeddingHost = c.AI.Host
		c.AI.GeneratorHost = c.AI.Host
	}
	return nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case BackendBadger:
		if c.Storage.Badger.Path == "" {
			errs = append(errs, errors.New("storage.badger.path is required"))
		}
	case BackendQdrant:
		if c.Storage.Qdrant.Address == "" {
			errs = append(errs, errors.New("storage.qdrant.address is required"))
		}
	case BackendMilvus:
		if c.Storage.Milvus.Address == "" {
			errs = append(errs, errors.New("storage.milvus.address is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}

	if c.AI.Dimension <= 0 {
		errs = append(errs, errors.New("ai.dimension must be positive"))
	}
	if c.AI.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("ai.requests_per_second must not be negative"))
	}
	if c.Search.FetchMultiplier < search.MinFetchMultiplier {
		errs = append(errs, fmt.Errorf("search.fetch_multiplier must be at least %d", search.MinFetchMultiplier))
	}
	if c.Search.MaxConcurrency < 1 || c.Search.MaxConcurrency > search.MaxConcurrency {
		errs = append(errs, fmt.Errorf("search.max_concurrency must be between 1 and %d", search.MaxConcurrency))
	}
	if c.Search.MaxEnhancementLength <= 0 {
		errs = append(errs, errors.New("search.max_enhancement_length must be positive"))
	}
	if c.Ingestion.ChunkSize <= 0 || c.Ingestion.Overlap < 0 || c.Ingestion.Overlap >= c.Ingestion.ChunkSize {
		errs = append(errs, errors.New("ingestion.overlap must be in [0, chunk_size)"))
	}
	if c.Ingestion.BatchSize <= 0 || c.Ingestion.MaxAttempts <= 0 || c.Ingestion.PoolSize < 0 {
		errs = append(errs, errors.New("ingestion batch_size and max_attempts must be positive"))
	}
	if c.Cache.Enabled && c.Cache.Addr == "" {
		errs = append(errs, errors.New("cache.addr is required when the cache is enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Provider converts the AI section into an ai.Config.
func (c *Config) Provider() *ai.Config {
	return ai.NewConfig(
		ai.WithEmbeddingHost(c.AI.EmbeddingHost),
		ai.WithGeneratorHost(c.AI.GeneratorHost),
		ai.WithEmbeddingModel(c.AI.EmbeddingModel),
		ai.WithGeneratorModel(c.AI.GeneratorModel),
		ai.WithAPIKey(c.AI.APIKey),
		ai.WithDimension(c.AI.Dimension),
		ai.WithTimeouts(c.AI.EmbedTimeout, c.AI.GenerateTimeout, c.AI.HealthTimeout),
		ai.WithRateLimit(c.AI.RequestsPerSecond, c.AI.Burst),
	)
}

// SearchOptions converts the search section into searcher options.
func (c *Config) SearchOptions() []search.Option {
	opts := []search.Option{
		search.WithFetchMultiplier(c.Search.FetchMultiplier),
		search.WithMaxConcurrency(c.Search.MaxConcurrency),
		search.WithLLMTimeout(c.Search.LLMTimeout),
		search.WithEmbedTimeout(c.Search.EmbedTimeout),
		search.WithStoreTimeout(c.Search.StoreTimeout),
		search.WithEmbeddingFallback(c.Search.EmbeddingFallback),
		search.WithFallbackDimension(c.AI.Dimension),
		search.WithMaxEnhancementLength(c.Search.MaxEnhancementLength),
	}
	if c.Search.ProbeAvailability {
		opts = append(opts, search.WithAvailabilityProbe(c.AI.HealthTimeout))
	}
	return opts
}

// IngestionOptions converts the ingestion section into pipeline options.
func (c *Config) IngestionOptions() []ingestion.Option {
	opts := []ingestion.Option{
		ingestion.WithChunking(c.Ingestion.ChunkSize, c.Ingestion.Overlap),
		ingestion.WithBatchSize(c.Ingestion.BatchSize),
		ingestion.WithRetry(c.Ingestion.MaxAttempts, c.Ingestion.RetryDelay),
		ingestion.WithEmbeddingModel(c.AI.EmbeddingModel),
	}
	if c.Ingestion.PoolSize > 0 {
		opts = append(opts, ingestion.WithPoolSize(c.Ingestion.PoolSize))
	}
	return opts
}

// QdrantConfig converts the qdrant section into a store config.
func (c *Config) QdrantConfig() qdrant.Config {
	q := c.Storage.Qdrant
	return qdrant.Config{
		Address:    q.Address,
		APIKey:     q.APIKey,
		UseTLS:     q.UseTLS,
		Collection: q.Collection,
		Timeout:    q.Timeout,
		AutoCreate: true,
	}
}

// MilvusConfig converts the milvus section into a store config.
func (c *Config) MilvusConfig() milvus.Config {
	m := c.Storage.Milvus
	return milvus.Config{
		Address:    m.Address,
		Username:   m.Username,
		Password:   m.Password,
		Database:   m.Database,
		Collection: m.Collection,
		Timeout:    m.Timeout,
		Dimension:  c.AI.Dimension,
		AutoCreate: true,
	}
}
