package retrieval

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docrag/internal/domain"
	"github.com/kailas-cloud/docrag/internal/domain/document"
	"github.com/kailas-cloud/docrag/internal/domain/search/result"
	"github.com/kailas-cloud/docrag/internal/domain/vector"
)

const (
	// DefaultLimit applies when a query leaves Limit unset.
	DefaultLimit = 10
	// MaxLimit caps Limit.
	MaxLimit = 100
)

// SimilarQuery is a semantic query by text or by an explicit vector.
// Vector wins when both are set.
type SimilarQuery struct {
	Text   string
	Vector []float32
	Limit  int
}

// Service answers keyword and similarity queries.
type Service struct {
	meta    MetadataStore
	vectors VectorIndex
	class   string
	logger  *zap.Logger
}

// New creates a retrieval service over the given vector class.
func New(meta MetadataStore, vectors VectorIndex, class string, logger *zap.Logger) *Service {
	if class == "" {
		class = vector.DefaultClass
	}
	return &Service{meta: meta, vectors: vectors, class: class, logger: logger}
}

// SearchByKeyword matches name and description case-insensitively.
func (s *Service) SearchByKeyword(ctx context.Context, keyword string) ([]document.Document, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, fmt.Errorf("%w: keyword is required", domain.ErrValidation)
	}
	docs, err := s.meta.FindByKeyword(ctx, keyword)
	if err != nil {
		return nil, fmt.Errorf("%w: keyword %q: %w", domain.ErrSearch, keyword, err)
	}
	if docs == nil {
		docs = []document.Document{}
	}
	return docs, nil
}

// SearchSimilar returns the documents owning the nearest chunks, deduplicated
// in order of their best chunk.
func (s *Service) SearchSimilar(ctx context.Context, q SimilarQuery) ([]document.Document, error) {
	hits, err := s.query(ctx, q, []string{vector.FieldDocumentID})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(hits))
	seen := make(map[string]struct{}, len(hits))
	for _, h := range hits {
		id := h.Properties.DocumentID
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	byID, err := s.resolve(ctx, ids)
	if err != nil {
		return nil, err
	}
	docs := make([]document.Document, 0, len(ids))
	for _, id := range ids {
		d, ok := byID[id]
		if !ok {
			s.logger.Warn("stale vector reference skipped", zap.String("document_id", id))
			continue
		}
		docs = append(docs, d)
	}
	return docs, nil
}

// SearchSimilarChunks returns the nearest chunks with their document name and
// filename. Chunks of deleted documents are dropped.
func (s *Service) SearchSimilarChunks(ctx context.Context, q SimilarQuery) ([]result.Chunk, error) {
	hits, err := s.query(ctx, q, []string{vector.FieldText, vector.FieldDocumentID, vector.FieldChunkIndex})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(hits))
	seen := make(map[string]struct{}, len(hits))
	for _, h := range hits {
		if _, dup := seen[h.Properties.DocumentID]; !dup {
			seen[h.Properties.DocumentID] = struct{}{}
			ids = append(ids, h.Properties.DocumentID)
		}
	}
	byID, err := s.resolve(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]result.Chunk, 0, len(hits))
	for _, h := range hits {
		d, ok := byID[h.Properties.DocumentID]
		if !ok {
			s.logger.Warn("chunk of missing document dropped",
				zap.String("entry_id", h.ID), zap.String("document_id", h.Properties.DocumentID))
			continue
		}
		out = append(out, result.Chunk{
			DocumentID:       d.ID(),
			ChunkIndex:       h.Properties.ChunkIndex,
			Text:             h.Properties.Text,
			Score:            h.Score,
			DocumentName:     d.Name(),
			OriginalFilename: d.OriginalFilename(),
		})
	}
	return out, nil
}

func (s *Service) query(ctx context.Context, q SimilarQuery, fields []string) ([]vector.Hit, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" && len(q.Vector) == 0 {
		return nil, fmt.Errorf("%w: query text or vector is required", domain.ErrValidation)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	var (
		hits []vector.Hit
		err  error
	)
	if len(q.Vector) > 0 {
		hits, err = s.vectors.QueryNearVector(ctx, s.class, fields, q.Vector, limit)
	} else {
		hits, err = s.vectors.QueryNearText(ctx, s.class, fields, []string{text}, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: vector query: %w", domain.ErrSearch, err)
	}
	return hits, nil
}

func (s *Service) resolve(ctx context.Context, ids []string) (map[string]document.Document, error) {
	if len(ids) == 0 {
		return map[string]document.Document{}, nil
	}
	docs, err := s.meta.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve documents: %w", domain.ErrSearch, err)
	}
	byID := make(map[string]document.Document, len(docs))
	for _, d := range docs {
		byID[d.ID()] = d
	}
	return byID, nil
}
