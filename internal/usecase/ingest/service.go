package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docrag/internal/domain"
	"github.com/kailas-cloud/docrag/internal/domain/chunk"
	"github.com/kailas-cloud/docrag/internal/domain/document"
	"github.com/kailas-cloud/docrag/internal/domain/vector"
	"github.com/kailas-cloud/docrag/internal/metrics"
)

const (
	defaultMaxUploadBytes = 50 << 20
	defaultDeleteWorkers  = 4
	fallbackContentType   = "application/octet-stream"
)

var errTaskAborted = errors.New("delete task aborted")

// IngestRequest is a single uploaded file with its display metadata.
type IngestRequest struct {
	Content     []byte
	Filename    string `validate:"required,max=255"`
	ContentType string `validate:"max=255"`
	DisplayName string `validate:"required,max=255"`
	Description string `validate:"max=2000"`
	GroupID     string `validate:"max=128"`
}

// UpdateRequest replaces the editable metadata of a document.
type UpdateRequest struct {
	Name        string `validate:"required,max=255"`
	Description string `validate:"max=2000"`
	GroupID     string `validate:"max=128"`
}

// ListFilter narrows List. Empty fields match everything.
type ListFilter struct {
	GroupID     string
	ContentType string
}

// GroupDeleteFailure records a document that could not be deleted.
type GroupDeleteFailure struct {
	DocumentID string
	Err        error
}

// GroupDeleteResult summarises a group deletion.
type GroupDeleteResult struct {
	Deleted []string
	Failed  []GroupDeleteFailure
}

// Config tunes the service.
type Config struct {
	Class          string
	MaxUploadBytes int64
	DeleteWorkers  int
}

// Service coordinates the blob store, the metadata store and the vector index.
type Service struct {
	blobs     BlobStore
	meta      MetadataStore
	vectors   VectorIndex
	extractor TextExtractor
	chunker   Chunker
	validate  *validator.Validate
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

// New creates an ingestion service.
func New(
	blobs BlobStore, meta MetadataStore, vectors VectorIndex,
	extractor TextExtractor, chunker Chunker, cfg Config, logger *zap.Logger,
) *Service {
	if cfg.Class == "" {
		cfg.Class = vector.DefaultClass
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.DeleteWorkers <= 0 {
		cfg.DeleteWorkers = defaultDeleteWorkers
	}
	return &Service{
		blobs:     blobs,
		meta:      meta,
		vectors:   vectors,
		extractor: extractor,
		chunker:   chunker,
		validate:  validator.New(),
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Ingest stores the upload, extracts and chunks its text, and indexes every
// chunk. Chunk failures are logged and skipped; the returned document carries
// the chunks that were persisted.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (document.Document, error) {
	start := time.Now()
	doc, err := s.ingest(ctx, req)
	metrics.IngestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.IngestDocumentsTotal.WithLabelValues("failed").Inc()
		return document.Document{}, err
	}
	metrics.IngestDocumentsTotal.WithLabelValues("success").Inc()
	return doc, nil
}

func (s *Service) ingest(ctx context.Context, req IngestRequest) (document.Document, error) {
	if err := s.validate.Struct(req); err != nil {
		return document.Document{}, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	if int64(len(req.Content)) > s.cfg.MaxUploadBytes {
		return document.Document{}, fmt.Errorf("%w: file exceeds %d bytes", domain.ErrValidation, s.cfg.MaxUploadBytes)
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = fallbackContentType
	}

	now := s.now()
	key := StorageKey(req.Filename, now)
	size := int64(len(req.Content))
	doc, err := document.New(document.Params{
		Name:             req.DisplayName,
		OriginalFilename: req.Filename,
		ContentType:      contentType,
		FileSize:         size,
		StorageKey:       key,
		Description:      req.Description,
		GroupID:          req.GroupID,
	}, now)
	if err != nil {
		return document.Document{}, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	if err := s.blobs.Put(ctx, key, bytes.NewReader(req.Content), size, contentType); err != nil {
		return document.Document{}, fmt.Errorf("%w: put %s: %w", domain.ErrStorageWrite, key, err)
	}
	// Once the blob is stored the ingest runs to completion, so a client
	// disconnect cannot leave a document with a partial chunk set.
	ctx = context.WithoutCancel(ctx)

	text, err := s.extractor.Extract(ctx, req.Content, contentType)
	if err != nil {
		s.discardBlob(ctx, key)
		if !errors.Is(err, domain.ErrExtraction) {
			err = fmt.Errorf("%w: %w", domain.ErrExtraction, err)
		}
		return document.Document{}, fmt.Errorf("extract %s: %w", req.Filename, err)
	}

	if err := s.meta.CreateDocument(ctx, doc); err != nil {
		s.discardBlob(ctx, key)
		return document.Document{}, fmt.Errorf("create document: %w", err)
	}

	persisted := s.writeChunks(ctx, doc.ID(), s.chunker.Chunk(text))
	s.logger.Info("document ingested",
		zap.String("document_id", doc.ID()),
		zap.String("filename", req.Filename),
		zap.Int64("size", size),
		zap.Int("chunks", persisted),
	)

	out, err := s.meta.FindByID(ctx, doc.ID(), true)
	if err != nil {
		return document.Document{}, fmt.Errorf("reload document %s: %w", doc.ID(), err)
	}
	return out, nil
}

// writeChunks writes the vector entry and then the chunk row of every
// fragment. Indices are assigned to persisted chunks only, so they stay
// contiguous when a fragment is skipped.
func (s *Service) writeChunks(ctx context.Context, documentID string, fragments []string) int {
	next := 0
	for pos, text := range fragments {
		log := s.logger.With(zap.String("document_id", documentID), zap.Int("fragment", pos))

		externalID := uuid.NewString()
		props := vector.Properties{Text: text, DocumentID: documentID, ChunkIndex: next}
		if err := s.vectors.Upsert(ctx, s.cfg.Class, externalID, props, nil); err != nil {
			metrics.ChunkWriteFailuresTotal.WithLabelValues("vector").Inc()
			log.Error("chunk skipped", zap.Error(fmt.Errorf("%w: %w", domain.ErrVectorWrite, err)))
			continue
		}

		c, err := chunk.New(documentID, externalID, next, text, s.now())
		if err == nil {
			err = s.meta.CreateChunk(ctx, c)
		}
		if err != nil {
			metrics.ChunkWriteFailuresTotal.WithLabelValues("row").Inc()
			log.Error("chunk row not written", zap.String("external_id", externalID), zap.Error(err))
			s.deleteVector(ctx, externalID)
			continue
		}
		next++
	}
	return next
}

// Delete removes the vector entries, the blob and the metadata of a document.
// Vector delete failures are logged and do not stop the deletion.
func (s *Service) Delete(ctx context.Context, id string) error {
	doc, err := s.meta.FindByID(ctx, id, true)
	if err != nil {
		return fmt.Errorf("find document: %w", err)
	}

	for _, c := range doc.Chunks() {
		s.deleteVector(ctx, c.ExternalID())
	}

	if err := s.blobs.Delete(ctx, doc.StorageKey()); err != nil {
		return fmt.Errorf("%w: delete blob %s: %w", domain.ErrDeletion, doc.StorageKey(), err)
	}

	if err := s.meta.DeleteDocument(ctx, id); err != nil {
		if errors.Is(err, domain.ErrDocumentNotFound) {
			return fmt.Errorf("delete document: %w", err)
		}
		return fmt.Errorf("%w: delete document %s: %w", domain.ErrDeletion, id, err)
	}

	s.logger.Info("document deleted", zap.String("document_id", id), zap.Int("chunks", len(doc.Chunks())))
	return nil
}

// DeleteByGroup deletes every document of the group concurrently. Each
// document is an independent attempt; failures are reported, not returned.
func (s *Service) DeleteByGroup(ctx context.Context, groupID string) (GroupDeleteResult, error) {
	if strings.TrimSpace(groupID) == "" {
		return GroupDeleteResult{}, fmt.Errorf("%w: group id is required", domain.ErrValidation)
	}
	docs, err := s.meta.FindByGroup(ctx, groupID)
	if err != nil {
		return GroupDeleteResult{}, fmt.Errorf("find group %s: %w", groupID, err)
	}
	result := GroupDeleteResult{Deleted: []string{}, Failed: []GroupDeleteFailure{}}
	if len(docs) == 0 {
		return result, nil
	}

	pool, err := ants.NewPool(min(s.cfg.DeleteWorkers, len(docs)), ants.WithPanicHandler(func(p any) {
		s.logger.Error("delete task panicked", zap.String("group_id", groupID), zap.Any("panic", p))
	}))
	if err != nil {
		return GroupDeleteResult{}, fmt.Errorf("create delete pool: %w", err)
	}
	defer pool.Release()

	outcomes := make([]error, len(docs))
	var wg sync.WaitGroup
	for i, d := range docs {
		outcomes[i] = errTaskAborted
		id := d.ID()
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			outcomes[i] = s.Delete(ctx, id)
		})
		if err != nil {
			wg.Done()
			outcomes[i] = fmt.Errorf("submit: %w", err)
		}
	}
	wg.Wait()

	for i, d := range docs {
		if outcomes[i] == nil {
			result.Deleted = append(result.Deleted, d.ID())
			continue
		}
		s.logger.Warn("group member not deleted",
			zap.String("group_id", groupID), zap.String("document_id", d.ID()), zap.Error(outcomes[i]))
		result.Failed = append(result.Failed, GroupDeleteFailure{DocumentID: d.ID(), Err: outcomes[i]})
	}
	return result, nil
}

// Get returns the document with its chunks.
func (s *Service) Get(ctx context.Context, id string) (document.Document, error) {
	doc, err := s.meta.FindByID(ctx, id, true)
	if err != nil {
		return document.Document{}, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// List returns documents matching the filter in creation order.
func (s *Service) List(ctx context.Context, f ListFilter) ([]document.Document, error) {
	var (
		docs []document.Document
		err  error
	)
	switch {
	case f.GroupID != "":
		docs, err = s.meta.FindByGroup(ctx, f.GroupID)
	case f.ContentType != "":
		docs, err = s.meta.FindByContentType(ctx, f.ContentType)
	default:
		docs, err = s.meta.FindAll(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	if f.GroupID != "" && f.ContentType != "" {
		filtered := docs[:0]
		for _, d := range docs {
			if d.ContentType() == f.ContentType {
				filtered = append(filtered, d)
			}
		}
		docs = filtered
	}
	if docs == nil {
		docs = []document.Document{}
	}
	return docs, nil
}

// Update replaces the name, description and group of a document.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (document.Document, error) {
	if err := s.validate.Struct(req); err != nil {
		return document.Document{}, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	doc, err := s.meta.FindByID(ctx, id, false)
	if err != nil {
		return document.Document{}, fmt.Errorf("find document: %w", err)
	}
	updated, err := doc.WithMetadata(req.Name, req.Description, req.GroupID, s.now())
	if err != nil {
		return document.Document{}, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	if err := s.meta.UpdateDocument(ctx, updated); err != nil {
		return document.Document{}, fmt.Errorf("update document: %w", err)
	}
	return updated, nil
}

// Download opens the stored bytes of a document. The caller closes the reader.
func (s *Service) Download(ctx context.Context, id string) (document.Document, io.ReadCloser, error) {
	doc, err := s.meta.FindByID(ctx, id, false)
	if err != nil {
		return document.Document{}, nil, fmt.Errorf("find document: %w", err)
	}
	rc, err := s.blobs.Get(ctx, doc.StorageKey())
	if err != nil {
		return document.Document{}, nil, fmt.Errorf("%w: get %s: %w", domain.ErrStorageRead, doc.StorageKey(), err)
	}
	return doc, rc, nil
}

// StorageKey builds documents/{unixMillis}_{random8}_{basename}.
func StorageKey(filename string, now time.Time) string {
	base := path.Base(strings.ReplaceAll(filename, `\`, "/"))
	if base == "." || base == "/" {
		base = "file"
	}
	return fmt.Sprintf("documents/%d_%s_%s", now.UnixMilli(), uuid.NewString()[:8], base)
}

func (s *Service) discardBlob(ctx context.Context, key string) {
	if err := s.blobs.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Warn("compensating blob delete failed", zap.String("storage_key", key), zap.Error(err))
	}
}

func (s *Service) deleteVector(ctx context.Context, externalID string) {
	if err := s.vectors.Delete(ctx, s.cfg.Class, externalID); err != nil {
		metrics.VectorDeleteFailuresTotal.Inc()
		s.logger.Warn("vector entry not deleted",
			zap.String("external_id", externalID),
			zap.Error(fmt.Errorf("%w: %w", domain.ErrVectorDelete, err)))
	}
}
