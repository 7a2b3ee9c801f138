package chi

import (
	"context"
	"io"

	"github.com/kailas-cloud/docrag/internal/domain/conversation"
	"github.com/kailas-cloud/docrag/internal/domain/document"
	"github.com/kailas-cloud/docrag/internal/domain/search/result"
	healthuc "github.com/kailas-cloud/docrag/internal/usecase/health"
	"github.com/kailas-cloud/docrag/internal/usecase/ingest"
	"github.com/kailas-cloud/docrag/internal/usecase/retrieval"
)

// Documents is the document lifecycle surface.
type Documents interface {
	Ingest(ctx context.Context, req ingest.IngestRequest) (document.Document, error)
	Get(ctx context.Context, id string) (document.Document, error)
	List(ctx context.Context, f ingest.ListFilter) ([]document.Document, error)
	Update(ctx context.Context, id string, req ingest.UpdateRequest) (document.Document, error)
	Delete(ctx context.Context, id string) error
	DeleteByGroup(ctx context.Context, groupID string) (ingest.GroupDeleteResult, error)
	Download(ctx context.Context, id string) (document.Document, io.ReadCloser, error)
}

// Retrieval answers keyword and similarity queries.
type Retrieval interface {
	SearchByKeyword(ctx context.Context, keyword string) ([]document.Document, error)
	SearchSimilar(ctx context.Context, q retrieval.SimilarQuery) ([]document.Document, error)
	SearchSimilarChunks(ctx context.Context, q retrieval.SimilarQuery) ([]result.Chunk, error)
}

// Conversations manages per-document message logs.
type Conversations interface {
	Append(ctx context.Context, documentID, role, content string) (conversation.Log, error)
	Clear(ctx context.Context, documentID string) (conversation.Log, error)
	Get(ctx context.Context, documentID string) (conversation.Log, error)
}

// HealthChecker reports dependency health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}
