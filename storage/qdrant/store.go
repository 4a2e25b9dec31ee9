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

// Package qdrant implements storage.VectorStore on Qdrant over gRPC.
//
// Point IDs are UUIDs derived from chunk IDs. Chunk text, document ID,
// sequence index and metadata live in the point payload; metadata filters
// address keys under the "metadata" payload object.
package qdrant

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/retrievit/core"
	"github.com/poiesic/retrievit/storage"
	"github.com/qdrant/go-client/qdrant"
)

// Payload field names.
const (
	fieldChunkID       = "chunk_id"
	fieldDocumentID    = "document_id"
	fieldText          = "text"
	fieldSequenceIndex = "sequence_index"
	fieldMetadata      = "metadata"
)

const (
	DefaultAddress    = "localhost:6334"
	DefaultCollection = "retrievit"
	DefaultTimeout    = 30 * time.Second

	defaultPort = 6334

	// scrollPage is the page size used when listing a document's points.
	scrollPage = 256
)

var pointNamespace = uuid.MustParse("6f1c1f0e-6a8e-4d53-9a43-3b0a5f1e2c7d")

// PointID derives the stable Qdrant point UUID for a chunk.
func PointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

// Config configures a Qdrant store.
type Config struct {
	// Address is the gRPC endpoint as host or host:port.
	Address    string
	APIKey     string
	UseTLS     bool
	Collection string
	Timeout    time.Duration

	// AutoCreate creates the collection with cosine distance on first upsert.
	AutoCreate bool
}

// pointsClient is the part of *qdrant.Client the store uses.
type pointsClient interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Scroll(ctx context.Context, request *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Close() error
}

var _ pointsClient = (*qdrant.Client)(nil)

// Store implements storage.VectorStore on a Qdrant collection.
type Store struct {
	cfg    Config
	client pointsClient
	logger *slog.Logger

	mu      sync.Mutex
	ensured bool
}

var (
	_ storage.VectorStore  = (*Store)(nil)
	_ storage.ChunkScanner = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store) error

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger.With("component", "qdrant-store")
		return nil
	}
}

// NewStore connects to Qdrant. The collection is not touched until first use.
//
// Returns storage.VectorStore interface to enforce abstraction.
func NewStore(cfg Config, opts ...Option) (storage.VectorStore, error) {
	cfg = withDefaults(cfg)
	host, port, err := splitAddress(cfg.Address)
	if err != nil {
		return nil, err
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client for %s: %w", cfg.Address, err)
	}
	s, err := newStore(cfg, client, opts...)
	if err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

func newStore(cfg Config, client pointsClient, opts ...Option) (*Store, error) {
	s := &Store{
		cfg:    withDefaults(cfg),
		client: client,
		logger: slog.Default().With("component", "qdrant-store"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func withDefaults(cfg Config) Config {
	if strings.TrimSpace(cfg.Address) == "" {
		cfg.Address = DefaultAddress
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		cfg.Collection = DefaultCollection
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return cfg
}

// splitAddress separates host and port. A bare host uses the gRPC default port.
func splitAddress(address string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return address, defaultPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid qdrant port in %q: %w", address, err)
	}
	return host, port, nil
}

// Close closes the gRPC connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.Timeout)
}

// ensureCollection creates the collection once. A failed attempt is retried
// on the next upsert.
func (s *Store) ensureCollection(ctx context.Context, vectorSize int) error {
	if !s.cfg.AutoCreate {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured {
		return nil
	}

	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", s.cfg.Collection, err)
	}
	if !exists {
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.cfg.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(vectorSize),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create collection %s: %w", s.cfg.Collection, err)
		}
		s.logger.Info("created qdrant collection", "collection", s.cfg.Collection, "dimension", vectorSize)
	}
	s.ensured = true
	return nil
}

// Upsert writes chunks as points, waiting for the write to apply.
func (s *Store) Upsert(ctx context.Context, chunks ...*core.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	size := 0
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, chunk := range chunks {
		if err := core.ValidateChunk(chunk); err != nil {
			return err
		}
		if len(chunk.Embedding) == 0 {
			return fmt.Errorf("%w: chunk %s has no embedding", core.ErrInvalidChunk, chunk.ID)
		}
		if size == 0 {
			size = len(chunk.Embedding)
		}
		if len(chunk.Embedding) != size {
			return fmt.Errorf("%w: chunk %s has %d, want %d", storage.ErrDimensionMismatch, chunk.ID, len(chunk.Embedding), size)
		}
		payload, err := chunkPayload(chunk)
		if err != nil {
			return err
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(PointID(chunk.ID)),
			Vectors: qdrant.NewVectors(chunk.Embedding...),
			Payload: payload,
		})
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()
	if err := s.ensureCollection(ctx, size); err != nil {
		return err
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d points: %w", len(points), err)
	}
	s.logger.Debug("qdrant upsert completed", "count", len(points))
	return nil
}

// Query runs a cosine search. Qdrant reports similarity; hits carry 1 - score.
func (s *Store) Query(ctx context.Context, vector []float32, k int, filter core.Filter) ([]core.VectorHit, error) {
	if err := storage.ValidateQuery(vector, k); err != nil {
		return nil, err
	}
	f, err := buildFilter(filter)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         f,
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query collection %s: %w", s.cfg.Collection, err)
	}

	hits := make([]core.VectorHit, 0, len(results))
	for _, r := range results {
		chunk := chunkFromPayload(r.GetId(), r.GetPayload())
		hits = append(hits, core.VectorHit{
			ChunkID:  chunk.ID,
			Text:     chunk.Text,
			Metadata: chunk.Metadata,
			Distance: 1 - r.GetScore(),
		})
	}
	return hits, nil
}

// DeleteDocument counts and then deletes every point of a document.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	filter := documentFilter(documentID)
	n, err := s.count(ctx, filter)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	if err := s.delete(ctx, &qdrant.PointsSelector{
		PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
	}); err != nil {
		return 0, fmt.Errorf("failed to delete document %s: %w", documentID, err)
	}
	s.logger.Debug("qdrant delete completed", "document", documentID, "count", n)
	return n, nil
}

// DeleteChunks deletes points by chunk ID. Qdrant does not report how many
// points a delete matched, so the count is taken beforehand.
func (s *Store) DeleteChunks(ctx context.Context, chunkIDs ...string) (int, error) {
	if len(chunkIDs) == 0 {
		return 0, nil
	}
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	ids := make([]*qdrant.PointId, len(chunkIDs))
	for i, id := range chunkIDs {
		ids[i] = qdrant.NewID(PointID(id))
	}
	n, err := s.count(ctx, &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewHasID(ids...)}})
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	if err := s.delete(ctx, &qdrant.PointsSelector{
		PointsSelectorOneOf: &qdrant.PointsSelector_Points{Points: &qdrant.PointsIdsList{Ids: ids}},
	}); err != nil {
		return 0, fmt.Errorf("failed to delete %d chunks: %w", len(chunkIDs), err)
	}
	return n, nil
}

func (s *Store) delete(ctx context.Context, selector *qdrant.PointsSelector) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         selector,
	})
	return err
}

// DocumentChunks scrolls a document's points and orders them by sequence index.
func (s *Store) DocumentChunks(ctx context.Context, documentID string) ([]*core.Chunk, error) {
	var chunks []*core.Chunk
	err := s.scroll(ctx, documentFilter(documentID), scrollPage, func(page []*core.Chunk) error {
		chunks = append(chunks, page...)
		return nil
	})
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

// Count returns the exact number of points.
func (s *Store) Count(ctx context.Context) (int, error) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()
	return s.count(ctx, nil)
}

// ForEachChunk scrolls every point in pages of batchSize.
func (s *Store) ForEachChunk(ctx context.Context, batchSize int, fn func(batch []*core.Chunk) error) error {
	if batchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive", storage.ErrInvalidQuery)
	}
	return s.scroll(ctx, nil, batchSize, fn)
}

func (s *Store) count(ctx context.Context, filter *qdrant.Filter) (int, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.cfg.Collection,
		Filter:         filter,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points in %s: %w", s.cfg.Collection, err)
	}
	return int(n), nil
}

// scroll pages through points matching filter. Each request asks for one
// point more than the page; that extra point is the next page's offset.
func (s *Store) scroll(ctx context.Context, filter *qdrant.Filter, limit int, fn func([]*core.Chunk) error) error {
	var offset *qdrant.PointId
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		callCtx, cancel := s.callContext(ctx)
		points, err := s.client.Scroll(callCtx, &qdrant.ScrollPoints{
			CollectionName: s.cfg.Collection,
			Filter:         filter,
			Offset:         offset,
			Limit:          qdrant.PtrOf(uint32(limit + 1)),
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		cancel()
		if err != nil {
			return fmt.Errorf("failed to scroll collection %s: %w", s.cfg.Collection, err)
		}

		offset = nil
		if len(points) > limit {
			offset = points[limit].GetId()
			points = points[:limit]
		}

		page := make([]*core.Chunk, 0, len(points))
		for _, p := range points {
			chunk := chunkFromPayload(p.GetId(), p.GetPayload())
			chunk.Embedding = p.GetVectors().GetVector().GetData()
			page = append(page, chunk)
		}
		if len(page) > 0 {
			if err := fn(page); err != nil {
				return err
			}
		}
		if offset == nil {
			return nil
		}
	}
}

func chunkPayload(chunk *core.Chunk) (map[string]*qdrant.Value, error) {
	meta, err := toValue(map[string]any(chunk.Metadata))
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %s: %w", storage.ErrSerializationFailed, chunk.ID, err)
	}
	return map[string]*qdrant.Value{
		fieldChunkID:       qdrant.NewValueString(chunk.ID),
		fieldDocumentID:    qdrant.NewValueString(chunk.DocumentID),
		fieldText:          qdrant.NewValueString(chunk.Text),
		fieldSequenceIndex: qdrant.NewValueInt(int64(chunk.SequenceIndex)),
		fieldMetadata:      meta,
	}, nil
}

func chunkFromPayload(id *qdrant.PointId, payload map[string]*qdrant.Value) *core.Chunk {
	chunk := &core.Chunk{
		ID:            payload[fieldChunkID].GetStringValue(),
		DocumentID:    payload[fieldDocumentID].GetStringValue(),
		Text:          payload[fieldText].GetStringValue(),
		SequenceIndex: int(payload[fieldSequenceIndex].GetIntegerValue()),
	}
	if chunk.ID == "" {
		chunk.ID = id.GetUuid()
	}
	if m, ok := fromValue(payload[fieldMetadata]).(map[string]any); ok {
		chunk.Metadata = core.Metadata(m)
	}
	return chunk
}

// toValue converts metadata values into payload values. Nested maps and
// slices become structs and lists.
func toValue(v any) (*qdrant.Value, error) {
	switch x := v.(type) {
	case nil:
		return &qdrant.Value{Kind: &qdrant.Value_NullValue{}}, nil
	case string:
		return qdrant.NewValueString(x), nil
	case bool:
		return qdrant.NewValueBool(x), nil
	case int:
		return qdrant.NewValueInt(int64(x)), nil
	case int32:
		return qdrant.NewValueInt(int64(x)), nil
	case int64:
		return qdrant.NewValueInt(x), nil
	case uint32:
		return qdrant.NewValueInt(int64(x)), nil
	case float32:
		return qdrant.NewValueDouble(float64(x)), nil
	case float64:
		return qdrant.NewValueDouble(x), nil
	case map[string]any:
		fields := make(map[string]*qdrant.Value, len(x))
		for k, item := range x {
			val, err := toValue(item)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			fields[k] = val
		}
		return &qdrant.Value{Kind: &qdrant.Value_StructValue{StructValue: &qdrant.Struct{Fields: fields}}}, nil
	case core.Metadata:
		return toValue(map[string]any(x))
	case []any:
		values := make([]*qdrant.Value, len(x))
		for i, item := range x {
			val, err := toValue(item)
			if err != nil {
				return nil, err
			}
			values[i] = val
		}
		return &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: values}}}, nil
	case []string:
		values := make([]*qdrant.Value, len(x))
		for i, item := range x {
			values[i] = qdrant.NewValueString(item)
		}
		return &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: values}}}, nil
	}
	return nil, fmt.Errorf("unsupported metadata value type %T", v)
}

func fromValue(v *qdrant.Value) any {
	switch x := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return x.StringValue
	case *qdrant.Value_BoolValue:
		return x.BoolValue
	case *qdrant.Value_IntegerValue:
		return x.IntegerValue
	case *qdrant.Value_DoubleValue:
		return x.DoubleValue
	case *qdrant.Value_StructValue:
		out := make(map[string]any, len(x.StructValue.GetFields()))
		for k, item := range x.StructValue.GetFields() {
			out[k] = fromValue(item)
		}
		return out
	case *qdrant.Value_ListValue:
		out := make([]any, len(x.ListValue.GetValues()))
		for i, item := range x.ListValue.GetValues() {
			out[i] = fromValue(item)
		}
		return out
	}
	return nil
}

func documentFilter(documentID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch(fieldDocumentID, documentID)},
	}
}

// buildFilter translates an equality filter into must conditions on
// metadata keys. Integral numbers use an integer match; other numbers use a
// degenerate range, since match only accepts keywords, integers and bools.
// An empty filter yields nil.
func buildFilter(filter core.Filter) (*qdrant.Filter, error) {
	if len(filter) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	must := make([]*qdrant.Condition, 0, len(keys))
	for _, key := range keys {
		field := fieldMetadata + "." + key
		switch v := filter[key].(type) {
		case string:
			must = append(must, qdrant.NewMatch(field, v))
		case bool:
			must = append(must, qdrant.NewMatchBool(field, v))
		default:
			f, ok := number(v)
			if !ok {
				return nil, fmt.Errorf("%w: unsupported filter value for %q: %T", storage.ErrInvalidQuery, key, v)
			}
			if f == float64(int64(f)) {
				must = append(must, qdrant.NewMatchInt(field, int64(f)))
			} else {
				must = append(must, qdrant.NewRange(field, &qdrant.Range{Gte: qdrant.PtrOf(f), Lte: qdrant.PtrOf(f)}))
			}
		}
	}
	return &qdrant.Filter{Must: must}, nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
