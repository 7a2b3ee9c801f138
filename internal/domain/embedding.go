package domain

import (
	"context"
	"fmt"
	"strings"
)

// Embedder turns text into a vector. Chunk ingestion and similarity queries
// both go through it, usually as a chain of decorators around a provider.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// HealthChecker is implemented by embedders that can probe their provider.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// EmbeddingResult is a vector plus the tokens billed for it. Cached results
// report zero tokens.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// InstructionEmbedder prefixes text with a task instruction, so the same
// model embeds chunks and queries into matching spaces
// (e.g. "search_document: " vs "search_query: ").
type InstructionEmbedder struct {
	inner       Embedder
	instruction string
}

// NewInstructionEmbedder wraps inner. An empty instruction passes text through.
func NewInstructionEmbedder(inner Embedder, instruction string) *InstructionEmbedder {
	return &InstructionEmbedder{inner: inner, instruction: instruction}
}

// Embed rejects blank text with ErrValidation; providers bill for it and
// return a meaningless vector.
func (e *InstructionEmbedder) Embed(ctx context.Context, text string) (EmbeddingResult, error) {
	if strings.TrimSpace(text) == "" {
		return EmbeddingResult{}, fmt.Errorf("%w: nothing to embed", ErrValidation)
	}
	res, err := e.inner.Embed(ctx, e.instruction+text)
	if err != nil {
		return EmbeddingResult{}, fmt.Errorf("embed with instruction %q: %w", e.instruction, err)
	}
	return res, nil
}

// HealthCheck probes the wrapped embedder if it supports it.
func (e *InstructionEmbedder) HealthCheck(ctx context.Context) error {
	hc, ok := e.inner.(HealthChecker)
	if !ok {
		return nil
	}
	return hc.HealthCheck(ctx) //nolint:wrapcheck // transparent decorator
}
