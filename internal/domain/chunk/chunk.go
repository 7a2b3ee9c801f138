package chunk

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Chunk is a persisted text fragment of a document, joined to its
// vector index entry by ExternalID.
type Chunk struct {
	id         string
	documentID string
	externalID string
	index      int
	text       string
	createdAt  time.Time
}

// New validates and creates a Chunk.
func New(documentID, externalID string, index int, text string, now time.Time) (Chunk, error) {
	if documentID == "" {
		return Chunk{}, fmt.Errorf("document id is required")
	}
	if externalID == "" {
		return Chunk{}, fmt.Errorf("external id is required")
	}
	if index < 0 {
		return Chunk{}, fmt.Errorf("chunk index must not be negative")
	}
	if text == "" {
		return Chunk{}, fmt.Errorf("chunk text is required")
	}
	now = now.UTC()
	return Chunk{
		id:         ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		documentID: documentID,
		externalID: externalID,
		index:      index,
		text:       text,
		createdAt:  now,
	}, nil
}

// Reconstruct creates a Chunk without validation (storage hydration).
func Reconstruct(id, documentID, externalID string, index int, text string, createdAt time.Time) Chunk {
	return Chunk{
		id:         id,
		documentID: documentID,
		externalID: externalID,
		index:      index,
		text:       text,
		createdAt:  createdAt,
	}
}

// ID returns the chunk identifier.
func (c *Chunk) ID() string { return c.id }

// DocumentID returns the owning document.
func (c *Chunk) DocumentID() string { return c.documentID }

// ExternalID returns the vector index entry id.
func (c *Chunk) ExternalID() string { return c.externalID }

// Index returns the zero-based position within the document.
func (c *Chunk) Index() int { return c.index }

// Text returns the chunk text.
func (c *Chunk) Text() string { return c.text }

// CreatedAt returns the creation time (UTC).
func (c *Chunk) CreatedAt() time.Time { return c.createdAt }
