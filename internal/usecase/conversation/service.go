// Package conversation manages the per-document message log.
package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docrag/internal/domain"
	domconv "github.com/kailas-cloud/docrag/internal/domain/conversation"
)

type appendRequest struct {
	DocumentID string `validate:"required"`
	Role       string `validate:"required"`
	Content    string `validate:"required,max=20000"`
}

// Service appends to, clears and reads conversation logs.
type Service struct {
	store    Store
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a conversation service.
func New(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, validate: validator.New(), logger: logger, now: time.Now}
}

// Append adds a message at index len(log) and returns the new log.
func (s *Service) Append(ctx context.Context, documentID, role, content string) (domconv.Log, error) {
	if err := s.validate.Struct(appendRequest{DocumentID: documentID, Role: role, Content: content}); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	r, err := domconv.ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	now := s.now()
	log, err := s.store.UpdateConversation(ctx, documentID, func(current domconv.Log) (domconv.Log, error) {
		next, err := current.Append(r, content, now)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
		}
		return next, nil
	})
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	s.logger.Debug("conversation message appended",
		zap.String("document_id", documentID), zap.String("role", string(r)), zap.Int("index", len(log)-1))
	return log, nil
}

// Clear empties the log. Later appends start again at index 0.
func (s *Service) Clear(ctx context.Context, documentID string) (domconv.Log, error) {
	log, err := s.store.UpdateConversation(ctx, documentID, func(domconv.Log) (domconv.Log, error) {
		return domconv.Clear(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("clear conversation: %w", err)
	}
	return log, nil
}

// Get returns the current log, empty if no message was ever appended.
func (s *Service) Get(ctx context.Context, documentID string) (domconv.Log, error) {
	doc, err := s.store.FindByID(ctx, documentID, false)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	log := doc.Conversation()
	if log == nil {
		log = domconv.Log{}
	}
	return log, nil
}
