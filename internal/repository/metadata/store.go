// Package metadata persists documents, chunks and conversation logs with gorm
// on Postgres or SQLite.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kailas-cloud/docrag/internal/domain"
	"github.com/kailas-cloud/docrag/internal/domain/chunk"
	"github.com/kailas-cloud/docrag/internal/domain/conversation"
	"github.com/kailas-cloud/docrag/internal/domain/document"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// idBatchSize bounds IN (...) lists.
const idBatchSize = 500

// Config holds connection parameters.
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogLevel        string
	SlowThreshold   time.Duration
}

// Store implements the metadata contracts of the ingest, retrieval,
// conversation and reconcile use cases.
type Store struct {
	db *gorm.DB
}

// Open connects with the configured driver and applies pool limits.
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	case DriverSQLite:
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported metadata driver %q", cfg.Driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger:  NewGormLogger(logger, cfg.LogLevel, cfg.SlowThreshold),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Driver, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return New(gdb), nil
}

// New wraps an existing gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the schema.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&documentModel{}, &chunkModel{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	return sqlDB.Close() //nolint:wrapcheck // shutdown path
}

// CreateDocument inserts the document row without chunks.
func (s *Store) CreateDocument(ctx context.Context, d document.Document) error {
	m, err := toDocumentModel(&d)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&m).Error; err != nil {
		return fmt.Errorf("insert document %s: %w", d.ID(), err)
	}
	return nil
}

// FindByID loads a document. withChunks also loads its chunks ordered by index.
func (s *Store) FindByID(ctx context.Context, id string, withChunks bool) (document.Document, error) {
	q := s.db.WithContext(ctx)
	if withChunks {
		q = q.Preload("Chunks", func(db *gorm.DB) *gorm.DB {
			return db.Order("chunk_index ASC")
		})
	}

	var m documentModel
	if err := q.Where("id = ?", id).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return document.Document{}, domain.ErrDocumentNotFound
		}
		return document.Document{}, fmt.Errorf("select document %s: %w", id, err)
	}

	if withChunks {
		if m.Chunks == nil {
			m.Chunks = []chunkModel{}
		}
		return m.toDomain(len(m.Chunks))
	}
	counts, err := s.chunkCounts(ctx, []string{id})
	if err != nil {
		return document.Document{}, err
	}
	return m.toDomain(counts[id])
}

// FindByIDs loads the documents that exist among ids. Missing ids are skipped.
func (s *Store) FindByIDs(ctx context.Context, ids []string) ([]document.Document, error) {
	if len(ids) == 0 {
		return []document.Document{}, nil
	}
	var models []documentModel
	for batch := range batches(ids) {
		var page []documentModel
		if err := s.db.WithContext(ctx).Where("id IN ?", batch).Find(&page).Error; err != nil {
			return nil, fmt.Errorf("select documents by id: %w", err)
		}
		models = append(models, page...)
	}
	return s.hydrate(ctx, models)
}

// FindByGroup returns the documents of a group in creation order.
func (s *Store) FindByGroup(ctx context.Context, groupID string) ([]document.Document, error) {
	return s.list(ctx, s.db.Where("group_id = ?", groupID))
}

// FindByContentType returns documents with the exact content type.
func (s *Store) FindByContentType(ctx context.Context, contentType string) ([]document.Document, error) {
	return s.list(ctx, s.db.Where("content_type = ?", contentType))
}

// FindByKeyword matches keyword as a case-insensitive substring of name or
// description. Postgres folds case with ILIKE under the database collation.
// SQLite's LIKE folds ASCII letters only, so there non-ASCII letters match
// only in the same case.
func (s *Store) FindByKeyword(ctx context.Context, keyword string) ([]document.Document, error) {
	pattern := "%" + escapeLike(keyword) + "%"
	op := "LIKE"
	if s.db.Dialector.Name() == DriverPostgres {
		op = "ILIKE"
	}
	return s.list(ctx, s.db.Where(
		"name "+op+` ? ESCAPE '\' OR description `+op+` ? ESCAPE '\'`,
		pattern, pattern,
	))
}

// FindAll returns every document in creation order.
func (s *Store) FindAll(ctx context.Context) ([]document.Document, error) {
	return s.list(ctx, s.db)
}

// UpdateDocument persists name, description and group of d.
func (s *Store) UpdateDocument(ctx context.Context, d document.Document) error {
	res := s.db.WithContext(ctx).Model(&documentModel{}).Where("id = ?", d.ID()).Updates(map[string]any{
		"name":        d.Name(),
		"description": d.Description(),
		"group_id":    d.GroupID(),
		"updated_at":  d.UpdatedAt(),
	})
	if res.Error != nil {
		return fmt.Errorf("update document %s: %w", d.ID(), res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

// DeleteDocument removes the document and its chunks in one transaction.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", id).Delete(&chunkModel{}).Error; err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&documentModel{})
		if res.Error != nil {
			return fmt.Errorf("delete document: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.ErrDocumentNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return nil
}

// CreateChunk inserts a chunk row.
func (s *Store) CreateChunk(ctx context.Context, c chunk.Chunk) error {
	m := toChunkModel(&c)
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("insert chunk %d of %s: %w", c.Index(), c.DocumentID(), err)
	}
	return nil
}

// FindChunks returns the chunks of a document ordered by index.
func (s *Store) FindChunks(ctx context.Context, documentID string) ([]chunk.Chunk, error) {
	var models []chunkModel
	err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("chunk_index ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("select chunks of %s: %w", documentID, err)
	}
	out := make([]chunk.Chunk, 0, len(models))
	for i := range models {
		out = append(out, models[i].toDomain())
	}
	return out, nil
}

// DeleteChunksByDocument removes every chunk row of a document.
func (s *Store) DeleteChunksByDocument(ctx context.Context, documentID string) error {
	if err := s.db.WithContext(ctx).Where("document_id = ?", documentID).Delete(&chunkModel{}).Error; err != nil {
		return fmt.Errorf("delete chunks of %s: %w", documentID, err)
	}
	return nil
}

// UpdateConversation applies fn to the stored log inside a transaction and
// persists the result. On Postgres the row is locked for the duration.
func (s *Store) UpdateConversation(
	ctx context.Context, documentID string, fn func(conversation.Log) (conversation.Log, error),
) (conversation.Log, error) {
	var updated conversation.Log
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Select("id", "conversation")
		if tx.Dialector.Name() == DriverPostgres {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var m documentModel
		if err := q.Where("id = ?", documentID).Take(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrDocumentNotFound
			}
			return fmt.Errorf("select conversation: %w", err)
		}

		current, err := decodeConversation(m.Conversation)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		raw, err := encodeConversation(next)
		if err != nil {
			return err
		}

		err = tx.Model(&documentModel{}).Where("id = ?", documentID).Updates(map[string]any{
			"conversation": raw,
			"updated_at":   time.Now().UTC(),
		}).Error
		if err != nil {
			return fmt.Errorf("update conversation: %w", err)
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("conversation of %s: %w", documentID, err)
	}
	return updated, nil
}

// ExistingExternalIDs returns the subset of ids that have a chunk row.
func (s *Store) ExistingExternalIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(ids))
	for batch := range batches(ids) {
		var found []string
		err := s.db.WithContext(ctx).Model(&chunkModel{}).
			Where("external_id IN ?", batch).
			Pluck("external_id", &found).Error
		if err != nil {
			return nil, fmt.Errorf("select external ids: %w", err)
		}
		for _, id := range found {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (s *Store) list(ctx context.Context, q *gorm.DB) ([]document.Document, error) {
	var models []documentModel
	if err := q.WithContext(ctx).Order("created_at ASC, id ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("select documents: %w", err)
	}
	return s.hydrate(ctx, models)
}

func (s *Store) hydrate(ctx context.Context, models []documentModel) ([]document.Document, error) {
	out := make([]document.Document, 0, len(models))
	if len(models) == 0 {
		return out, nil
	}

	ids := make([]string, len(models))
	for i := range models {
		ids[i] = models[i].ID
	}
	counts, err := s.chunkCounts(ctx, ids)
	if err != nil {
		return nil, err
	}

	for i := range models {
		d, err := models[i].toDomain(counts[models[i].ID])
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *Store) chunkCounts(ctx context.Context, ids []string) (map[string]int, error) {
	type row struct {
		DocumentID string
		N          int
	}
	counts := make(map[string]int, len(ids))
	for batch := range batches(ids) {
		var rows []row
		err := s.db.WithContext(ctx).Model(&chunkModel{}).
			Select("document_id, COUNT(*) AS n").
			Where("document_id IN ?", batch).
			Group("document_id").
			Scan(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("count chunks: %w", err)
		}
		for _, r := range rows {
			counts[r.DocumentID] = r.N
		}
	}
	return counts, nil
}

// batches yields ids in slices of at most idBatchSize.
func batches(ids []string) func(yield func([]string) bool) {
	return func(yield func([]string) bool) {
		for start := 0; start < len(ids); start += idBatchSize {
			end := min(start+idBatchSize, len(ids))
			if !yield(ids[start:end]) {
				return
			}
		}
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
