package health

import "context"

// Pinger is a backing store answering a round-trip probe: the metadata
// database, the vector backend or the blob bucket.
type Pinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker is the embedding provider. Implementations should probe
// without spending tokens.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}
