package ingest

import (
	"context"
	"io"

	"github.com/kailas-cloud/docrag/internal/domain/chunk"
	"github.com/kailas-cloud/docrag/internal/domain/document"
	"github.com/kailas-cloud/docrag/internal/domain/vector"
)

// BlobStore persists raw uploaded bytes.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// MetadataStore persists documents and their chunk rows.
type MetadataStore interface {
	CreateDocument(ctx context.Context, d document.Document) error
	FindByID(ctx context.Context, id string, withChunks bool) (document.Document, error)
	FindByGroup(ctx context.Context, groupID string) ([]document.Document, error)
	FindByContentType(ctx context.Context, contentType string) ([]document.Document, error)
	FindAll(ctx context.Context) ([]document.Document, error)
	UpdateDocument(ctx context.Context, d document.Document) error
	DeleteDocument(ctx context.Context, id string) error
	CreateChunk(ctx context.Context, c chunk.Chunk) error
}

// VectorIndex stores one entry per chunk. A nil vector is embedded by the index.
type VectorIndex interface {
	Upsert(ctx context.Context, class, id string, props vector.Properties, vec []float32) error
	Delete(ctx context.Context, class, id string) error
}

// TextExtractor converts uploaded bytes into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, content []byte, contentType string) (string, error)
}

// Chunker segments text into ordered fragments.
type Chunker interface {
	Chunk(text string) []string
}
