package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/urfave/cli/v2"

	"github.com/poiesic/retrievit"
	"github.com/poiesic/retrievit/ai"
	"github.com/poiesic/retrievit/ai/openai"
	"github.com/poiesic/retrievit/config"
	"github.com/poiesic/retrievit/core"
	"github.com/poiesic/retrievit/prompt"
	"github.com/poiesic/retrievit/reembed"
	"github.com/poiesic/retrievit/search"
)

const envPrefix = "RETRIEVIT_"

// newProvider is replaced in tests.
var newProvider = openai.NewProvider

func env(name string) []string {
	return []string{envPrefix + name}
}

func dbFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "db",
		Aliases: []string{"d"},
		Usage:   "Path to BadgerDB database directory",
		EnvVars: env("DB"),
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "retrievit",
		Usage: "Hybrid semantic retrieval over ingested documents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
				EnvVars: env("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML configuration file",
				EnvVars: env("CONFIG"),
			},
			&cli.StringFlag{
				Name:    "store",
				Usage:   "Vector store backend (badger, qdrant, milvus)",
				EnvVars: env("STORE"),
			},
			&cli.StringFlag{
				Name:    "qdrant-address",
				Usage:   "Qdrant gRPC address",
				EnvVars: env("QDRANT_ADDRESS"),
			},
			&cli.StringFlag{
				Name:    "milvus-address",
				Usage:   "Milvus gRPC address",
				EnvVars: env("MILVUS_ADDRESS"),
			},
			&cli.StringFlag{
				Name:    "host",
				Usage:   "Model server host URL for embeddings and generation",
				EnvVars: env("HOST"),
			},
			&cli.StringFlag{
				Name:    "generator-model",
				Usage:   "Generation model name",
				EnvVars: env("GENERATOR_MODEL"),
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Ingest plain-text files, replacing documents with the same id",
				ArgsUsage: "FILE...",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					dbFlag(),
					&cli.StringFlag{
						Name:  "id",
						Usage: "Document id (single file only; defaults to the file name)",
					},
					&cli.StringFlag{
						Name:    "embedding-model",
						Usage:   "Embedding model name",
						EnvVars: env("EMBEDDING_MODEL"),
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Search ingested documents",
				ArgsUsage: "QUERY",
				Action:    searchCommand,
				Flags: []cli.Flag{
					dbFlag(),
					&cli.IntFlag{
						Name:    "results",
						Aliases: []string{"n"},
						Usage:   "Number of documents to return",
						Value:   5,
					},
					&cli.StringFlag{
						Name:  "preset",
						Usage: "Search preset (plain, quick, deep)",
						Value: search.Plain.Name,
					},
					&cli.BoolFlag{
						Name:  "enhance",
						Usage: "Expand the query with the generation model",
					},
					&cli.BoolFlag{
						Name:  "rerank",
						Usage: "Rerank candidates by model-rated relevance",
					},
					&cli.BoolFlag{
						Name:  "explain",
						Usage: "Explain why each result matches",
					},
					&cli.StringSliceFlag{
						Name:  "filter",
						Usage: "Metadata equality filter as key=value (repeatable)",
					},
					&cli.StringFlag{
						Name:    "embedding-model",
						Usage:   "Embedding model name",
						EnvVars: env("EMBEDDING_MODEL"),
					},
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete documents and all their chunks",
				ArgsUsage: "ID...",
				Action:    deleteCommand,
				Flags:     []cli.Flag{dbFlag()},
			},
			{
				Name:   "stats",
				Usage:  "Show chunk and document counts",
				Action: statsCommand,
				Flags:  []cli.Flag{dbFlag()},
			},
			{
				Name:   "reembed",
				Usage:  "Reembed all chunks with a new embedding model",
				Action: reembedCommand,
				Flags: []cli.Flag{
					dbFlag(),
					&cli.StringFlag{
						Name:     "embedding-model",
						Usage:    "Embedding model name",
						Required: true,
						EnvVars:  env("EMBEDDING_MODEL"),
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of chunks to process in each batch",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N chunks",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum retry attempts for failed operations",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 1 * time.Second,
					},
				},
			},
			{
				Name:      "summarize",
				Usage:     "Summarize a text file",
				ArgsUsage: "FILE",
				Action:    summarizeCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "max-words",
						Usage: "Approximate summary length in words",
						Value: prompt.DefaultSummaryWords,
					},
				},
			},
			{
				Name:   "models",
				Usage:  "List models offered by the model server",
				Action: modelsCommand,
			},
		},
	}
}

// loadConfig reads the configuration file and applies flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	if c.IsSet("store") {
		cfg.Storage.Backend = c.String("store")
	}
	if c.IsSet("db") {
		cfg.Storage.Badger.Path = c.String("db")
	}
	if c.IsSet("qdrant-address") {
		cfg.Storage.Qdrant.Address = c.String("qdrant-address")
	}
	if c.IsSet("milvus-address") {
		cfg.Storage.Milvus.Address = c.String("milvus-address")
	}
	if c.IsSet("host") {
		cfg.AI.EmbeddingHost = c.String("host")
		cfg.AI.GeneratorHost = c.String("host")
	}
	if c.IsSet("embedding-model") {
		cfg.AI.EmbeddingModel = c.String("embedding-model")
	}
	if c.IsSet("generator-model") {
		cfg.AI.GeneratorModel = c.String("generator-model")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openDatabase(c *cli.Context) (*retrievit.Database, *config.Config, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	provider, err := newProvider(cfg.Provider())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create AI provider: %w", err)
	}
	db, err := retrievit.NewDatabase(c.Context, cfg, retrievit.WithProvider(provider))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, cfg, nil
}

func ingestCommand(c *cli.Context) error {
	files := c.Args().Slice()
	if len(files) == 0 {
		return errors.New("at least one file is required")
	}
	if c.IsSet("id") && len(files) > 1 {
		return errors.New("--id can only be used with a single file")
	}

	docs := make([]*core.Document, len(files))
	for i, path := range files {
		text, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		name := filepath.Base(path)
		id := name
		if c.IsSet("id") {
			id = c.String("id")
		}
		docs[i] = &core.Document{
			ID:   id,
			Text: string(text),
			Metadata: core.Metadata{
				prompt.MetaFileName: name,
				prompt.MetaFileType: strings.TrimPrefix(filepath.Ext(name), "."),
			},
		}
	}

	db, _, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	results, err := db.Ingest(c.Context, docs...)
	for _, r := range results {
		if r == nil {
			continue
		}
		fmt.Fprintf(c.App.Writer, "ingested %s: %d chunks (replaced %d)\n", r.DocumentID, r.Chunks, r.Replaced)
	}
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}
	return nil
}

func searchCommand(c *cli.Context) error {
	query := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return errors.New("a query is required")
	}

	preset, err := search.ParsePreset(c.String("preset"))
	if err != nil {
		return err
	}
	filter, err := parseFilter(c.StringSlice("filter"))
	if err != nil {
		return err
	}

	req := preset.Request(query, c.Int("results"), filter)
	if c.IsSet("enhance") {
		req.UseEnhancement = c.Bool("enhance")
	}
	if c.IsSet("rerank") {
		req.UseReranking = c.Bool("rerank")
	}
	if c.IsSet("explain") {
		req.IncludeExplanations = c.Bool("explain")
	}

	db, _, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	resp, err := db.Search(c.Context, req)
	if err != nil {
		return err
	}
	return writeJSON(c.App.Writer, resp)
}

// parseFilter turns key=value pairs into a filter. Values that parse as
// integers, floats or booleans keep that type.
func parseFilter(pairs []string) (core.Filter, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	filter := make(core.Filter, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid filter %q: expected key=value", pair)
		}
		filter[key] = filterValue(value)
	}
	return filter, nil
}

func filterValue(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

func deleteCommand(c *cli.Context) error {
	ids := c.Args().Slice()
	if len(ids) == 0 {
		return errors.New("at least one document id is required")
	}

	db, _, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, id := range ids {
		removed, err := db.DeleteDocument(c.Context, id)
		if err != nil {
			return fmt.Errorf("failed to delete %s: %w", id, err)
		}
		fmt.Fprintf(c.App.Writer, "deleted %s: %d chunks\n", id, removed)
	}
	return nil
}

func statsCommand(c *cli.Context) error {
	db, _, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := db.Stats(c.Context)
	if err != nil {
		return err
	}
	return writeJSON(c.App.Writer, stats)
}

func reembedCommand(c *cli.Context) error {
	// Create reembedding config
	reembedConfig := &reembed.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
		EmbeddingModel: c.String("embedding-model"),
	}

	// Validate config
	if reembedConfig.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if reembedConfig.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	if reembedConfig.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}

	db, cfg, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	reembedder, err := db.NewReembedder(reembedConfig, c.App.ErrWriter)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.ErrWriter, "Store: %s\n", cfg.Storage.Backend)
	fmt.Fprintf(c.App.ErrWriter, "Embedding host: %s\n", cfg.AI.EmbeddingHost)
	fmt.Fprintf(c.App.ErrWriter, "Embedding model: %s\n", cfg.AI.EmbeddingModel)
	fmt.Fprintln(c.App.ErrWriter)

	if err := reembedder.Run(c.Context); err != nil {
		return fmt.Errorf("reembedding failed: %w", err)
	}
	return nil
}

func summarizeCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("exactly one file is required")
	}
	text, err := os.ReadFile(c.Args().First())
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", c.Args().First(), err)
	}

	provider, err := openProvider(c)
	if err != nil {
		return err
	}
	defer provider.Close()

	summary, err := retrievit.Summarize(c.Context, provider.Generator(), string(text), c.Int("max-words"))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, summary)
	return nil
}

func modelsCommand(c *cli.Context) error {
	provider, err := openProvider(c)
	if err != nil {
		return err
	}
	defer provider.Close()

	prober, ok := provider.(ai.Prober)
	if !ok {
		return retrievit.ErrModelListingUnsupported
	}
	ctx, cancel := context.WithTimeout(c.Context, ai.DefaultHealthTimeout)
	defer cancel()
	models, err := prober.Models(ctx)
	if err != nil {
		return fmt.Errorf("failed to list models: %w", err)
	}
	for _, m := range models {
		fmt.Fprintln(c.App.Writer, m)
	}
	return nil
}

func openProvider(c *cli.Context) (ai.AIProvider, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	provider, err := newProvider(cfg.Provider())
	if err != nil {
		return nil, fmt.Errorf("failed to create AI provider: %w", err)
	}
	return provider, nil
}

func writeJSON(w io.Writer, v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	// Map string to slog.Level
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	// Configure slog with the specified level
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
