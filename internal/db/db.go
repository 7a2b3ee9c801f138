// Package db declares the Redis surface used by the chunk index and the
// embedding cache. The rueidis implementation lives in db/redis.
package db

import (
	"context"
	"time"
)

// Store is the full backend held by wiring code. Repositories accept the
// role interfaces below instead.
type Store interface {
	Lifecycle
	ChunkStore
	CacheStore
}

// Lifecycle manages the connection.
type Lifecycle interface {
	Ping(ctx context.Context) error
	WaitForReady(ctx context.Context, timeout time.Duration) error
	Close()
}

// ChunkStore keeps chunk hashes under a key prefix and queries them through
// an FT index with an HNSW vector field.
type ChunkStore interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	Del(ctx context.Context, key string) error
	CreateIndex(ctx context.Context, def *IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *KNNQuery) (*SearchResult, error)
	SearchList(ctx context.Context, index, query string, offset, limit int, fields []string) (*SearchResult, error)
}

// CacheStore holds opaque values with expiry.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
