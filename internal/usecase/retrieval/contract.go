package retrieval

import (
	"context"

	"github.com/kailas-cloud/docrag/internal/domain/document"
	"github.com/kailas-cloud/docrag/internal/domain/vector"
)

// MetadataStore resolves documents for search results.
type MetadataStore interface {
	FindByKeyword(ctx context.Context, keyword string) ([]document.Document, error)
	FindByIDs(ctx context.Context, ids []string) ([]document.Document, error)
}

// VectorIndex answers nearest-neighbour queries over chunk entries.
type VectorIndex interface {
	QueryNearText(ctx context.Context, class string, fields, concepts []string, limit int) ([]vector.Hit, error)
	QueryNearVector(ctx context.Context, class string, fields []string, vec []float32, limit int) ([]vector.Hit, error)
}
