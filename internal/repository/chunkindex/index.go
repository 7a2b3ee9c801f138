// Package chunkindex stores chunk entries in a Redis FT index over hashes.
// Each class gets its own key prefix and HNSW index; vectors are computed on
// write when the caller does not supply one.
package chunkindex

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kailas-cloud/docrag/internal/db"
	"github.com/kailas-cloud/docrag/internal/domain"
	"github.com/kailas-cloud/docrag/internal/domain/vector"
)

const vectorField = "vector"

// HNSWConfig HNSW index parameters.
type HNSWConfig struct {
	M           int
	EFConstruct int
}

// Index implements the vector index contract on Redis.
type Index struct {
	store   db.ChunkStore
	docs    domain.Embedder
	queries domain.Embedder
	prefix  string
	dim     int
	hnsw    HNSWConfig
	now     func() time.Time
}

// New creates a chunk index. docs embeds chunk text on write, queries embeds
// near-text concepts. prefix namespaces every key (e.g. "docrag:").
func New(s db.ChunkStore, docs, queries domain.Embedder, prefix string, dim int) *Index {
	return &Index{
		store:   s,
		docs:    docs,
		queries: queries,
		prefix:  prefix,
		dim:     dim,
		hnsw:    HNSWConfig{M: 16, EFConstruct: 200},
		now:     time.Now,
	}
}

// WithHNSW overrides HNSW index parameters; zero values keep the defaults.
func (ix *Index) WithHNSW(cfg HNSWConfig) *Index {
	if cfg.M > 0 {
		ix.hnsw.M = cfg.M
	}
	if cfg.EFConstruct > 0 {
		ix.hnsw.EFConstruct = cfg.EFConstruct
	}
	return ix
}

func (ix *Index) keyPrefix(class string) string { return ix.prefix + class + ":" }
func (ix *Index) indexName(class string) string { return ix.prefix + class + ":idx" }
func (ix *Index) key(class, id string) string   { return ix.keyPrefix(class) + id }

// EnsureClass creates the FT index for class if it does not exist yet.
func (ix *Index) EnsureClass(ctx context.Context, class string) error {
	name := ix.indexName(class)
	exists, err := ix.store.IndexExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check index %s: %w", name, err)
	}
	if exists {
		return nil
	}

	def, err := db.NewIndex(name, ix.keyPrefix(class)).
		Text(vector.FieldText).
		Tag(vector.FieldDocumentID).
		Numeric(vector.FieldChunkIndex).
		HNSW(vectorField, ix.dim, db.DistanceCosine, ix.hnsw.M, ix.hnsw.EFConstruct).
		Build()
	if err != nil {
		return fmt.Errorf("build index %s: %w", name, err)
	}

	if err := ix.store.CreateIndex(ctx, def); err != nil {
		// Lost a race with another instance.
		if errors.Is(err, db.ErrIndexExists) {
			return nil
		}
		return fmt.Errorf("create index %s: %w", name, err)
	}
	return nil
}

// Upsert writes the entry id. When vec is empty the text is embedded first.
func (ix *Index) Upsert(
	ctx context.Context, class, id string, props vector.Properties, vec []float32,
) error {
	if id == "" {
		return errors.New("entry id is required")
	}
	if len(vec) == 0 {
		res, err := ix.docs.Embed(ctx, props.Text)
		if err != nil {
			return fmt.Errorf("embed entry %s: %w", id, err)
		}
		vec = res.Embedding
	}
	if ix.dim > 0 && len(vec) != ix.dim {
		return fmt.Errorf("entry %s: vector dimension %d, index expects %d", id, len(vec), ix.dim)
	}

	fields := map[string]string{
		vector.FieldText:       props.Text,
		vector.FieldDocumentID: props.DocumentID,
		vector.FieldChunkIndex: strconv.Itoa(props.ChunkIndex),
		vector.FieldWrittenAt:  strconv.FormatInt(ix.now().UnixMilli(), 10),
		vectorField:            db.VectorBytes(vec),
	}
	if err := ix.store.HSet(ctx, ix.key(class, id), fields); err != nil {
		return fmt.Errorf("hset entry %s: %w", id, err)
	}
	return nil
}

// Delete removes the entry id. Deleting a missing entry succeeds.
func (ix *Index) Delete(ctx context.Context, class, id string) error {
	if err := ix.store.Del(ctx, ix.key(class, id)); err != nil {
		return fmt.Errorf("del entry %s: %w", id, err)
	}
	return nil
}

// QueryNearText embeds the joined concepts and runs a vector query.
func (ix *Index) QueryNearText(
	ctx context.Context, class string, fields, concepts []string, limit int,
) ([]vector.Hit, error) {
	text := strings.TrimSpace(strings.Join(concepts, " "))
	if text == "" {
		return nil, errors.New("at least one concept is required")
	}
	res, err := ix.queries.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return ix.QueryNearVector(ctx, class, fields, res.Embedding, limit)
}

// QueryNearVector returns up to limit entries closest to vec, best first.
// Only the requested fields are populated on each hit.
func (ix *Index) QueryNearVector(
	ctx context.Context, class string, fields []string, vec []float32, limit int,
) ([]vector.Hit, error) {
	sr, err := ix.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    ix.indexName(class),
		VectorField:  vectorField,
		Vector:       vec,
		K:            limit,
		ReturnFields: returnFields(fields),
	})
	if err != nil {
		return nil, fmt.Errorf("knn %s: %w", class, err)
	}
	if sr == nil {
		return []vector.Hit{}, nil
	}

	prefix := ix.keyPrefix(class)
	hits := make([]vector.Hit, 0, len(sr.Entries))
	for _, e := range sr.Entries {
		hits = append(hits, vector.Hit{
			ID:         strings.TrimPrefix(e.Key, prefix),
			Score:      e.Score,
			Properties: parseProperties(e.Fields),
		})
	}
	return hits, nil
}

// ListEntries pages through all entries of class in index order.
// It returns the page and the total number of entries.
func (ix *Index) ListEntries(ctx context.Context, class string, offset, limit int) ([]vector.Entry, int, error) {
	sr, err := ix.store.SearchList(ctx, ix.indexName(class), "*", offset, limit,
		[]string{vector.FieldDocumentID, vector.FieldWrittenAt})
	if err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", class, err)
	}
	if sr == nil {
		return nil, 0, nil
	}

	prefix := ix.keyPrefix(class)
	entries := make([]vector.Entry, 0, len(sr.Entries))
	for _, e := range sr.Entries {
		entry := vector.Entry{
			ID:         strings.TrimPrefix(e.Key, prefix),
			DocumentID: e.Fields[vector.FieldDocumentID],
		}
		if ms, err := strconv.ParseInt(e.Fields[vector.FieldWrittenAt], 10, 64); err == nil && ms > 0 {
			entry.WrittenAt = time.UnixMilli(ms)
		}
		entries = append(entries, entry)
	}
	return entries, sr.Total, nil
}

// returnFields keeps only known property names; unknown names are ignored.
func returnFields(fields []string) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		switch f {
		case vector.FieldText, vector.FieldDocumentID, vector.FieldChunkIndex:
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		out = append(out, vector.FieldDocumentID)
	}
	return out
}

func parseProperties(m map[string]string) vector.Properties {
	p := vector.Properties{
		Text:       m[vector.FieldText],
		DocumentID: m[vector.FieldDocumentID],
	}
	if v, ok := m[vector.FieldChunkIndex]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			p.ChunkIndex = n
		}
	}
	return p
}
