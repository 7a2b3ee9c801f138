package reconcile

import (
	"context"

	"github.com/kailas-cloud/docrag/internal/domain/vector"
)

// EntryLister is the optional vector index capability needed for reconciliation.
type EntryLister interface {
	ListEntries(ctx context.Context, class string, offset, limit int) ([]vector.Entry, int, error)
	Delete(ctx context.Context, class, id string) error
}

// ChunkLookup reports which external ids still have a chunk row.
type ChunkLookup interface {
	ExistingExternalIDs(ctx context.Context, ids []string) (map[string]struct{}, error)
}
