// Package reconcile removes vector index entries whose chunk row is gone.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docrag/internal/domain/vector"
	"github.com/kailas-cloud/docrag/internal/metrics"
)

const (
	defaultBatchSize = 500
	// DefaultGrace covers the gap between an entry's write and its chunk row
	// commit during ingestion.
	DefaultGrace = 10 * time.Minute
)

// Report summarises one reconciliation pass. Young counts rowless entries
// left alone because they are inside the grace window; Revived counts
// candidates whose row appeared before deletion.
type Report struct {
	Scanned int
	Young   int
	Revived int
	Orphans int
	Deleted int
}

// Service scans the vector index and deletes orphaned entries.
type Service struct {
	entries   EntryLister
	chunks    ChunkLookup
	class     string
	batchSize int
	grace     time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// New creates a reconciler. entries may be nil when the vector backend
// cannot list its entries; Run then does nothing.
func New(entries EntryLister, chunks ChunkLookup, class string, batchSize int, logger *zap.Logger) *Service {
	if class == "" {
		class = vector.DefaultClass
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Service{
		entries:   entries,
		chunks:    chunks,
		class:     class,
		batchSize: batchSize,
		grace:     DefaultGrace,
		now:       time.Now,
		logger:    logger,
	}
}

// WithGrace sets how old a rowless entry must be before it is an orphan.
// Entries without a write time are never considered young. d <= 0 keeps
// the default.
func (s *Service) WithGrace(d time.Duration) *Service {
	if d > 0 {
		s.grace = d
	}
	return s
}

// Run performs one pass. Candidates are collected first and deleted after
// the scan so that deletions do not shift the pages being read. An entry is
// deleted only if it is older than the grace window and still has no chunk
// row when rechecked right before deletion.
func (s *Service) Run(ctx context.Context) (Report, error) {
	var rep Report
	if s.entries == nil {
		s.logger.Info("reconcile skipped: vector backend cannot list entries")
		return rep, nil
	}

	cutoff := s.now().Add(-s.grace)
	var candidates []string
	for offset := 0; ; offset += s.batchSize {
		page, total, err := s.entries.ListEntries(ctx, s.class, offset, s.batchSize)
		if err != nil {
			return rep, fmt.Errorf("list entries at %d: %w", offset, err)
		}
		if len(page) == 0 {
			break
		}
		rep.Scanned += len(page)

		ids := make([]string, len(page))
		for i, e := range page {
			ids[i] = e.ID
		}
		known, err := s.chunks.ExistingExternalIDs(ctx, ids)
		if err != nil {
			return rep, fmt.Errorf("lookup chunk rows: %w", err)
		}
		for _, e := range page {
			if _, ok := known[e.ID]; ok {
				continue
			}
			if !e.WrittenAt.IsZero() && e.WrittenAt.After(cutoff) {
				rep.Young++
				continue
			}
			candidates = append(candidates, e.ID)
		}
		if offset+len(page) >= total {
			break
		}
	}

	orphans, err := s.recheck(ctx, candidates)
	if err != nil {
		return rep, err
	}
	rep.Revived = len(candidates) - len(orphans)
	rep.Orphans = len(orphans)

	for _, id := range orphans {
		if err := s.entries.Delete(ctx, s.class, id); err != nil {
			metrics.VectorDeleteFailuresTotal.Inc()
			s.logger.Warn("orphan not deleted", zap.String("entry_id", id), zap.Error(err))
			continue
		}
		rep.Deleted++
		metrics.ReconcileOrphansDeletedTotal.Inc()
	}

	s.logger.Info("reconcile finished",
		zap.String("class", s.class),
		zap.Int("scanned", rep.Scanned),
		zap.Int("young", rep.Young),
		zap.Int("revived", rep.Revived),
		zap.Int("orphans", rep.Orphans),
		zap.Int("deleted", rep.Deleted),
	)
	return rep, nil
}

// recheck drops candidates whose chunk row has been committed since the scan.
func (s *Service) recheck(ctx context.Context, candidates []string) ([]string, error) {
	orphans := make([]string, 0, len(candidates))
	for start := 0; start < len(candidates); start += s.batchSize {
		batch := candidates[start:min(start+s.batchSize, len(candidates))]
		known, err := s.chunks.ExistingExternalIDs(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("recheck chunk rows: %w", err)
		}
		for _, id := range batch {
			if _, ok := known[id]; !ok {
				orphans = append(orphans, id)
			}
		}
	}
	return orphans, nil
}

// Loop runs Run every interval until ctx is done. Failed passes are logged.
func (s *Service) Loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil {
				s.logger.Error("reconcile failed", zap.Error(err))
			}
		}
	}
}
