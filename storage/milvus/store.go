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

// Package milvus implements storage.VectorStore on a Milvus collection.
//
// The collection is keyed by chunk ID. Metadata is stored in a JSON field
// and filters are compiled to Milvus boolean expressions over it.
package milvus

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"
	"github.com/poiesic/retrievit/core"
	"github.com/poiesic/retrievit/storage"
)

// Field names.
const (
	fieldChunkID       = "chunk_id"
	fieldDocumentID    = "document_id"
	fieldText          = "text"
	fieldSequenceIndex = "sequence_index"
	fieldMetadata      = "metadata"
	fieldEmbedding     = "embedding"
)

const (
	DefaultAddress    = "localhost:19530"
	DefaultCollection = "retrievit"
	DefaultTimeout    = 30 * time.Second

	maxIDLength   = 512
	maxTextLength = 65535
	ivfLists      = 128
)

var outputFields = []string{fieldChunkID, fieldDocumentID, fieldText, fieldSequenceIndex, fieldMetadata}

// Config configures a Milvus store.
type Config struct {
	Address    string
	Username   string
	Password   string
	Database   string
	Collection string
	Timeout    time.Duration

	// Dimension is required when AutoCreate is set.
	Dimension  int
	AutoCreate bool
}

// Store implements storage.VectorStore on Milvus.
type Store struct {
	cfg    Config
	client *milvusclient.Client
	logger *slog.Logger

	loadOnce sync.Once
	loadErr  error
}

var _ storage.VectorStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store) error

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger.With("component", "milvus-store")
		return nil
	}
}

// NewStore connects to Milvus and, when configured, creates the collection.
//
// Returns storage.VectorStore interface to enforce abstraction.
func NewStore(ctx context.Context, cfg Config, opts ...Option) (storage.VectorStore, error) {
	if cfg.Address == "" {
		cfg.Address = DefaultAddress
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		cfg.Collection = DefaultCollection
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.AutoCreate && cfg.Dimension <= 0 {
		return nil, errors.New("milvus: dimension is required to create a collection")
	}

	s := &Store{
		cfg:    cfg,
		logger: slog.Default().With("component", "milvus-store"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	client, err := milvusclient.New(connectCtx, &milvusclient.ClientConfig{
		Address:  cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		DBName:   cfg.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus: %w", err)
	}
	s.client = client

	if cfg.AutoCreate {
		if err := s.createCollection(connectCtx); err != nil {
			_ = client.Close(context.Background())
			return nil, err
		}
	}
	return s, nil
}

// Close closes the client connection.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	return s.client.Close(ctx)
}

func collectionSchema(name string, dim int) *entity.Schema {
	return entity.NewSchema().
		WithName(name).
		WithDescription("retrievit chunks").
		WithAutoID(false).
		WithField(entity.NewField().
			WithName(fieldChunkID).
			WithDataType(entity.FieldTypeVarChar).
			WithIsPrimaryKey(true).
			WithMaxLength(maxIDLength)).
		WithField(entity.NewField().
			WithName(fieldDocumentID).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(maxIDLength)).
		WithField(entity.NewField().
			WithName(fieldText).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(maxTextLength)).
		WithField(entity.NewField().
			WithName(fieldSequenceIndex).
			WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().
			WithName(fieldMetadata).
			WithDataType(entity.FieldTypeJSON)).
		WithField(entity.NewField().
			WithName(fieldEmbedding).
			WithDataType(entity.FieldTypeFloatVector).
			WithDim(int64(dim)))
}

func (s *Store) createCollection(ctx context.Context) error {
	name := s.cfg.Collection
	exists, err := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(name))
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	schema := collectionSchema(name, s.cfg.Dimension)
	if err := s.client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(name, schema)); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx := index.NewIvfFlatIndex(entity.COSINE, ivfLists)
	task, err := s.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(name, fieldEmbedding, idx))
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	if err := task.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for index creation: %w", err)
	}
	s.logger.Info("created milvus collection", "collection", name, "dimension", s.cfg.Dimension)
	return nil
}

func (s *Store) ensureLoaded(ctx context.Context) error {
	s.loadOnce.Do(func() {
		task, err := s.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(s.cfg.Collection))
		if err != nil {
			s.loadErr = fmt.Errorf("failed to load collection: %w", err)
			return
		}
		if err := task.Await(ctx); err != nil {
			s.loadErr = fmt.Errorf("failed to wait for collection loading: %w", err)
		}
	})
	return s.loadErr
}

// Upsert writes chunks keyed by chunk ID and flushes so they are searchable.
func (s *Store) Upsert(ctx context.Context, chunks ...*core.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	columns, err := buildColumns(chunks)
	if err != nil {
		return err
	}

	if _, err := s.client.Upsert(ctx, milvusclient.NewColumnBasedInsertOption(s.cfg.Collection, columns...)); err != nil {
		return fmt.Errorf("failed to upsert chunks: %w", err)
	}
	flush, err := s.client.Flush(ctx, milvusclient.NewFlushOption(s.cfg.Collection))
	if err != nil {
		return fmt.Errorf("failed to flush collection: %w", err)
	}
	if err := flush.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for flush: %w", err)
	}
	s.logger.Debug("milvus upsert completed", "count", len(chunks))
	return nil
}

// Query runs a cosine search. Milvus reports similarity; hits carry 1 - score.
func (s *Store) Query(ctx context.Context, vector []float32, k int, filter core.Filter) ([]core.VectorHit, error) {
	if err := storage.ValidateQuery(vector, k); err != nil {
		return nil, err
	}
	expr, err := filterExpr(filter)
	if err != nil {
		return nil, err
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	opt := milvusclient.NewSearchOption(s.cfg.Collection, k, []entity.Vector{entity.FloatVector(vector)}).
		WithANNSField(fieldEmbedding).
		WithSearchParam("nprobe", "16").
		WithOutputFields(outputFields...)
	if expr != "" {
		opt = opt.WithFilter(expr)
	}

	results, err := s.client.Search(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	if len(results) == 0 {
		return []core.VectorHit{}, nil
	}

	chunks, err := chunksFromResult(results[0])
	if err != nil {
		return nil, err
	}
	hits := make([]core.VectorHit, len(chunks))
	for i, chunk := range chunks {
		hits[i] = core.VectorHit{
			ChunkID:  chunk.ID,
			Text:     chunk.Text,
			Metadata: chunk.Metadata,
			Distance: 1 - results[0].Scores[i],
		}
	}
	return hits, nil
}

// DeleteDocument deletes every chunk of a document.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	res, err := s.client.Delete(ctx, milvusclient.NewDeleteOption(s.cfg.Collection).WithExpr(documentExpr(documentID)))
	if err != nil {
		return 0, fmt.Errorf("failed to delete document %s: %w", documentID, err)
	}
	s.logger.Debug("milvus delete completed", "document", documentID, "count", res.DeleteCount)
	return int(res.DeleteCount), nil
}

// DeleteChunks deletes chunks by primary key.
func (s *Store) DeleteChunks(ctx context.Context, chunkIDs ...string) (int, error) {
	if len(chunkIDs) == 0 {
		return 0, nil
	}
	res, err := s.client.Delete(ctx, milvusclient.NewDeleteOption(s.cfg.Collection).WithExpr(chunkIDsExpr(chunkIDs)))
	if err != nil {
		return 0, fmt.Errorf("failed to delete %d chunks: %w", len(chunkIDs), err)
	}
	s.logger.Debug("milvus chunk delete completed", "count", res.DeleteCount)
	return int(res.DeleteCount), nil
}

// DocumentChunks returns a document's chunks ordered by sequence index.
func (s *Store) DocumentChunks(ctx context.Context, documentID string) ([]*core.Chunk, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	rs, err := s.client.Query(ctx, milvusclient.NewQueryOption(s.cfg.Collection).
		WithFilter(documentExpr(documentID)).
		WithOutputFields(append(slices.Clone(outputFields), fieldEmbedding)...))
	if err != nil {
		return nil, fmt.Errorf("failed to query document %s: %w", documentID, err)
	}
	chunks, err := chunksFromResult(rs)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, storage.ErrNotFound
	}
	slices.SortFunc(chunks, func(a, b *core.Chunk) int {
		return cmp.Compare(a.SequenceIndex, b.SequenceIndex)
	})
	return chunks, nil
}

// Count returns the collection row count.
func (s *Store) Count(ctx context.Context) (int, error) {
	stats, err := s.client.GetCollectionStats(ctx, milvusclient.NewGetCollectionStatsOption(s.cfg.Collection))
	if err != nil {
		return 0, fmt.Errorf("failed to get collection stats: %w", err)
	}
	val, ok := stats["row_count"]
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid row count %q: %w", val, err)
	}
	return n, nil
}

func buildColumns(chunks []*core.Chunk) ([]column.Column, error) {
	dim := 0
	ids := make([]string, len(chunks))
	docs := make([]string, len(chunks))
	texts := make([]string, len(chunks))
	seqs := make([]int64, len(chunks))
	metas := make([][]byte, len(chunks))
	vectors := make([][]float32, len(chunks))

	for i, chunk := range chunks {
		if err := core.ValidateChunk(chunk); err != nil {
			return nil, err
		}
		if len(chunk.Embedding) == 0 {
			return nil, fmt.Errorf("%w: chunk %s has no embedding", core.ErrInvalidChunk, chunk.ID)
		}
		if dim == 0 {
			dim = len(chunk.Embedding)
		}
		if len(chunk.Embedding) != dim {
			return nil, fmt.Errorf("%w: chunk %s has %d, want %d", storage.ErrDimensionMismatch, chunk.ID, len(chunk.Embedding), dim)
		}

		meta := chunk.Metadata
		if meta == nil {
			meta = core.Metadata{}
		}
		raw, err := sonic.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
		}

		ids[i] = chunk.ID
		docs[i] = chunk.DocumentID
		texts[i] = chunk.Text
		seqs[i] = int64(chunk.SequenceIndex)
		metas[i] = raw
		vectors[i] = chunk.Embedding
	}

	return []column.Column{
		column.NewColumnVarChar(fieldChunkID, ids),
		column.NewColumnVarChar(fieldDocumentID, docs),
		column.NewColumnVarChar(fieldText, texts),
		column.NewColumnInt64(fieldSequenceIndex, seqs),
		column.NewColumnJSONBytes(fieldMetadata, metas),
		column.NewColumnFloatVector(fieldEmbedding, dim, vectors),
	}, nil
}

func chunksFromResult(rs milvusclient.ResultSet) ([]*core.Chunk, error) {
	chunks := make([]*core.Chunk, rs.ResultCount)
	for i := range chunks {
		chunks[i] = &core.Chunk{}
	}

	for _, field := range rs.Fields {
		switch col := field.(type) {
		case *column.ColumnVarChar:
			data := col.Data()
			for i := range chunks {
				switch col.Name() {
				case fieldChunkID:
					chunks[i].ID = data[i]
				case fieldDocumentID:
					chunks[i].DocumentID = data[i]
				case fieldText:
					chunks[i].Text = data[i]
				}
			}
		case *column.ColumnInt64:
			if col.Name() != fieldSequenceIndex {
				continue
			}
			for i, v := range col.Data()[:len(chunks)] {
				chunks[i].SequenceIndex = int(v)
			}
		case *column.ColumnJSONBytes:
			if col.Name() != fieldMetadata {
				continue
			}
			for i, raw := range col.Data()[:len(chunks)] {
				if len(raw) == 0 {
					continue
				}
				var meta core.Metadata
				if err := sonic.Unmarshal(raw, &meta); err != nil {
					return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
				}
				chunks[i].Metadata = meta
			}
		case *column.ColumnFloatVector:
			for i, v := range col.Data()[:len(chunks)] {
				chunks[i].Embedding = v
			}
		}
	}
	return chunks, nil
}

func documentExpr(documentID string) string {
	return fieldDocumentID + " == " + quote(documentID)
}

func chunkIDsExpr(chunkIDs []string) string {
	quoted := make([]string, len(chunkIDs))
	for i, id := range chunkIDs {
		quoted[i] = quote(id)
	}
	return fieldChunkID + " in [" + strings.Join(quoted, ", ") + "]"
}

// filterExpr compiles an equality filter into a boolean expression over
// the metadata JSON field. Keys are sorted so the expression is stable.
func filterExpr(filter core.Filter) (string, error) {
	if len(filter) == 0 {
		return "", nil
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	terms := make([]string, 0, len(keys))
	for _, key := range keys {
		lit, err := literal(filter[key])
		if err != nil {
			return "", fmt.Errorf("%w: filter key %q: %w", storage.ErrInvalidQuery, key, err)
		}
		terms = append(terms, fmt.Sprintf("%s[%s] == %s", fieldMetadata, quote(key), lit))
	}
	return strings.Join(terms, " && "), nil
}

func literal(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return quote(x), nil
	case bool:
		return strconv.FormatBool(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float32:
		return formatFloat(float64(x)), nil
	case float64:
		return formatFloat(x), nil
	}
	return "", fmt.Errorf("unsupported value type %T", v)
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func quote(s string) string {
	return strconv.Quote(s)
}
