// Package milvusindex is the Milvus backend of the chunk vector index.
// A class maps to one collection with a VarChar primary key.
package milvusindex

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	"github.com/kailas-cloud/docrag/internal/domain"
	"github.com/kailas-cloud/docrag/internal/domain/vector"
)

// Collection field names.
const (
	fieldID         = "id"
	fieldText       = "text"
	fieldDocumentID = "document_id"
	fieldChunkIndex = "chunk_index"
	fieldEmbedding  = "embedding"

	maxIDLength   = 64
	maxTextLength = 65535
	ivfNList      = 128
	searchNProbe  = "16"
)

// Config holds Milvus connection parameters.
type Config struct {
	Address  string
	Username string
	Password string
	Database string
	Timeout  time.Duration
}

// Index implements the vector index contract on Milvus.
type Index struct {
	client  *milvusclient.Client
	docs    domain.Embedder
	queries domain.Embedder
	dim     int
}

// New connects to Milvus. docs embeds chunk text on write, queries embeds
// near-text concepts.
func New(cfg Config, docs, queries domain.Embedder, dim int) (*Index, error) {
	if cfg.Address == "" {
		return nil, errors.New("milvus address is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	c, err := milvusclient.New(ctx, &milvusclient.ClientConfig{
		Address:  cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		DBName:   cfg.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to milvus: %w", err)
	}
	return &Index{client: c, docs: docs, queries: queries, dim: dim}, nil
}

// Close releases the connection.
func (ix *Index) Close(ctx context.Context) error {
	if err := ix.client.Close(ctx); err != nil {
		return fmt.Errorf("close milvus: %w", err)
	}
	return nil
}

// Ping lists collections as a liveness check.
func (ix *Index) Ping(ctx context.Context) error {
	if _, err := ix.client.ListCollections(ctx, milvusclient.NewListCollectionOption()); err != nil {
		return fmt.Errorf("milvus ping: %w", err)
	}
	return nil
}

// EnsureClass creates, indexes and loads the collection for class if missing.
func (ix *Index) EnsureClass(ctx context.Context, class string) error {
	exists, err := ix.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(class))
	if err != nil {
		return fmt.Errorf("check collection %s: %w", class, err)
	}
	if !exists {
		schema, err := buildSchema(class, ix.dim)
		if err != nil {
			return err
		}
		if err := ix.client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(class, schema)); err != nil {
			return fmt.Errorf("create collection %s: %w", class, err)
		}

		idx := index.NewIvfFlatIndex(entity.COSINE, ivfNList)
		task, err := ix.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(class, fieldEmbedding, idx))
		if err != nil {
			return fmt.Errorf("create index %s: %w", class, err)
		}
		if err := task.Await(ctx); err != nil {
			return fmt.Errorf("await index %s: %w", class, err)
		}
	}
	return ix.load(ctx, class)
}

func (ix *Index) load(ctx context.Context, class string) error {
	task, err := ix.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(class))
	if err != nil {
		return fmt.Errorf("load collection %s: %w", class, err)
	}
	if err := task.Await(ctx); err != nil {
		return fmt.Errorf("await load %s: %w", class, err)
	}
	return nil
}

// Upsert writes the entry id. When vec is empty the text is embedded first.
func (ix *Index) Upsert(
	ctx context.Context, class, id string, props vector.Properties, vec []float32,
) error {
	if len(vec) == 0 {
		res, err := ix.docs.Embed(ctx, props.Text)
		if err != nil {
			return fmt.Errorf("embed entry %s: %w", id, err)
		}
		vec = res.Embedding
	}
	cols, err := entryColumns(id, props, vec, ix.dim)
	if err != nil {
		return err
	}
	if _, err := ix.client.Upsert(ctx, milvusclient.NewColumnBasedInsertOption(class, cols...)); err != nil {
		return fmt.Errorf("upsert entry %s: %w", id, err)
	}
	return nil
}

// Delete removes the entry id. Deleting a missing entry succeeds.
func (ix *Index) Delete(ctx context.Context, class, id string) error {
	opt := milvusclient.NewDeleteOption(class).WithStringIDs(fieldID, []string{id})
	if _, err := ix.client.Delete(ctx, opt); err != nil {
		return fmt.Errorf("delete entry %s: %w", id, err)
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
func (ix *Index) QueryNearVector(
	ctx context.Context, class string, fields []string, vec []float32, limit int,
) ([]vector.Hit, error) {
	opt := milvusclient.NewSearchOption(class, limit, []entity.Vector{entity.FloatVector(vec)}).
		WithANNSField(fieldEmbedding).
		WithSearchParam("nprobe", searchNProbe).
		WithOutputFields(outputFields(fields)...)

	results, err := ix.client.Search(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", class, err)
	}
	if len(results) == 0 {
		return []vector.Hit{}, nil
	}
	return parseResultSet(results[0])
}

func buildSchema(class string, dim int) (*entity.Schema, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("collection %s: vector dimension must be positive", class)
	}
	return entity.NewSchema().
		WithName(class).
		WithDescription("document chunks").
		WithField(entity.NewField().
			WithName(fieldID).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(maxIDLength).
			WithIsPrimaryKey(true)).
		WithField(entity.NewField().
			WithName(fieldText).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(maxTextLength)).
		WithField(entity.NewField().
			WithName(fieldDocumentID).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(maxIDLength)).
		WithField(entity.NewField().
			WithName(fieldChunkIndex).
			WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().
			WithName(fieldEmbedding).
			WithDataType(entity.FieldTypeFloatVector).
			WithDim(int64(dim))), nil
}

func entryColumns(id string, props vector.Properties, vec []float32, dim int) ([]column.Column, error) {
	if id == "" {
		return nil, errors.New("entry id is required")
	}
	if dim > 0 && len(vec) != dim {
		return nil, fmt.Errorf("entry %s: vector dimension %d, collection expects %d", id, len(vec), dim)
	}
	if len(props.Text) > maxTextLength {
		return nil, fmt.Errorf("entry %s: text is %d bytes, collection holds at most %d",
			id, len(props.Text), maxTextLength)
	}
	return []column.Column{
		column.NewColumnVarChar(fieldID, []string{id}),
		column.NewColumnVarChar(fieldText, []string{props.Text}),
		column.NewColumnVarChar(fieldDocumentID, []string{props.DocumentID}),
		column.NewColumnInt64(fieldChunkIndex, []int64{int64(props.ChunkIndex)}),
		column.NewColumnFloatVector(fieldEmbedding, len(vec), [][]float32{vec}),
	}, nil
}

// outputFields maps property names to collection fields; documentId is always returned.
func outputFields(fields []string) []string {
	out := []string{fieldDocumentID}
	for _, f := range fields {
		switch f {
		case vector.FieldText:
			out = append(out, fieldText)
		case vector.FieldChunkIndex:
			out = append(out, fieldChunkIndex)
		}
	}
	return out
}

func parseResultSet(rs milvusclient.ResultSet) ([]vector.Hit, error) {
	if rs.Err != nil {
		return nil, fmt.Errorf("result set: %w", rs.Err)
	}
	hits := make([]vector.Hit, rs.ResultCount)
	for i := range hits {
		if i < len(rs.Scores) {
			hits[i].Score = float64(rs.Scores[i])
		}
		if ids, ok := rs.IDs.(*column.ColumnVarChar); ok && i < ids.Len() {
			hits[i].ID = ids.Data()[i]
		}
	}
	for _, col := range rs.Fields {
		switch c := col.(type) {
		case *column.ColumnVarChar:
			data := c.Data()
			for i := range hits {
				if i >= len(data) {
					break
				}
				switch c.Name() {
				case fieldText:
					hits[i].Properties.Text = data[i]
				case fieldDocumentID:
					hits[i].Properties.DocumentID = data[i]
				}
			}
		case *column.ColumnInt64:
			if c.Name() != fieldChunkIndex {
				continue
			}
			data := c.Data()
			for i := range hits {
				if i < len(data) {
					hits[i].Properties.ChunkIndex = int(data[i])
				}
			}
		}
	}
	return hits, nil
}
