package conversation

import (
	"context"

	domconv "github.com/kailas-cloud/docrag/internal/domain/conversation"
	"github.com/kailas-cloud/docrag/internal/domain/document"
)

// Store reads and transactionally rewrites a document's conversation log.
type Store interface {
	FindByID(ctx context.Context, id string, withChunks bool) (document.Document, error)
	UpdateConversation(
		ctx context.Context, documentID string, fn func(domconv.Log) (domconv.Log, error),
	) (domconv.Log, error)
}
