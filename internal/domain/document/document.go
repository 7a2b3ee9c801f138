package document

import (
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kailas-cloud/docrag/internal/domain/chunk"
	"github.com/kailas-cloud/docrag/internal/domain/conversation"
)

const (
	// MaxNameLength bounds display names and original filenames.
	MaxNameLength = 255
	// MaxDescriptionLength bounds the optional description.
	MaxDescriptionLength = 2000
	// MaxGroupIDLength bounds the optional grouping key.
	MaxGroupIDLength = 128
)

// Params holds the validated input for a new document.
type Params struct {
	Name             string
	OriginalFilename string
	ContentType      string
	FileSize         int64
	StorageKey       string
	Description      string
	GroupID          string
}

// State is the full persisted state, used for storage hydration.
type State struct {
	ID               string
	Name             string
	OriginalFilename string
	ContentType      string
	FileSize         int64
	StorageKey       string
	Description      string
	GroupID          string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Conversation     conversation.Log
	Chunks           []chunk.Chunk
	ChunkCount       int
}

// Document is an uploaded document aggregate (immutable value object).
type Document struct {
	id               string
	name             string
	originalFilename string
	contentType      string
	fileSize         int64
	storageKey       string
	description      string
	groupID          string
	createdAt        time.Time
	updatedAt        time.Time
	conversation     conversation.Log
	chunks           []chunk.Chunk
	chunkCount       int
}

// New validates params and creates a Document with a fresh ULID identity.
func New(p Params, now time.Time) (Document, error) {
	p.Name = strings.TrimSpace(p.Name)
	if err := validateMetadata(p.Name, p.Description, p.GroupID); err != nil {
		return Document{}, err
	}
	if p.OriginalFilename == "" {
		return Document{}, fmt.Errorf("original filename is required")
	}
	if len(p.OriginalFilename) > MaxNameLength {
		return Document{}, fmt.Errorf("original filename too long (max %d)", MaxNameLength)
	}
	if p.StorageKey == "" {
		return Document{}, fmt.Errorf("storage key is required")
	}
	if p.FileSize < 0 {
		return Document{}, fmt.Errorf("file size must not be negative")
	}

	now = now.UTC()
	return Document{
		id:               NewID(now),
		name:             p.Name,
		originalFilename: p.OriginalFilename,
		contentType:      p.ContentType,
		fileSize:         p.FileSize,
		storageKey:       p.StorageKey,
		description:      p.Description,
		groupID:          p.GroupID,
		createdAt:        now,
		updatedAt:        now,
	}, nil
}

// NewID returns a lexicographically sortable identifier.
func NewID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}

// Reconstruct creates a Document without validation (storage hydration).
func Reconstruct(s State) Document {
	count := s.ChunkCount
	if len(s.Chunks) > count {
		count = len(s.Chunks)
	}
	return Document{
		id:               s.ID,
		name:             s.Name,
		originalFilename: s.OriginalFilename,
		contentType:      s.ContentType,
		fileSize:         s.FileSize,
		storageKey:       s.StorageKey,
		description:      s.Description,
		groupID:          s.GroupID,
		createdAt:        s.CreatedAt,
		updatedAt:        s.UpdatedAt,
		conversation:     s.Conversation,
		chunks:           s.Chunks,
		chunkCount:       count,
	}
}

// ID returns the document identifier.
func (d *Document) ID() string { return d.id }

// Name returns the display name.
func (d *Document) Name() string { return d.name }

// OriginalFilename returns the filename supplied at upload.
func (d *Document) OriginalFilename() string { return d.originalFilename }

// ContentType returns the declared media type.
func (d *Document) ContentType() string { return d.contentType }

// FileSize returns the blob size in bytes.
func (d *Document) FileSize() int64 { return d.fileSize }

// StorageKey locates the blob.
func (d *Document) StorageKey() string { return d.storageKey }

// Description returns the optional description ("" when unset).
func (d *Document) Description() string { return d.description }

// GroupID returns the optional grouping key ("" when unset).
func (d *Document) GroupID() string { return d.groupID }

// CreatedAt returns the creation time (UTC).
func (d *Document) CreatedAt() time.Time { return d.createdAt }

// UpdatedAt returns the last metadata update time (UTC).
func (d *Document) UpdatedAt() time.Time { return d.updatedAt }

// Conversation returns the ordered message log.
func (d *Document) Conversation() conversation.Log { return d.conversation }

// Chunks returns chunks ordered by index. Empty unless loaded "with chunks".
func (d *Document) Chunks() []chunk.Chunk { return d.chunks }

// ChunkCount returns the number of persisted chunks.
func (d *Document) ChunkCount() int { return d.chunkCount }

// State exports the full state for persistence.
func (d *Document) State() State {
	return State{
		ID:               d.id,
		Name:             d.name,
		OriginalFilename: d.originalFilename,
		ContentType:      d.contentType,
		FileSize:         d.fileSize,
		StorageKey:       d.storageKey,
		Description:      d.description,
		GroupID:          d.groupID,
		CreatedAt:        d.createdAt,
		UpdatedAt:        d.updatedAt,
		Conversation:     d.conversation,
		Chunks:           d.chunks,
		ChunkCount:       d.chunkCount,
	}
}

// WithMetadata returns a copy with updated name, description and group.
func (d *Document) WithMetadata(name, description, groupID string, now time.Time) (Document, error) {
	name = strings.TrimSpace(name)
	if err := validateMetadata(name, description, groupID); err != nil {
		return Document{}, err
	}
	c := *d
	c.name = name
	c.description = description
	c.groupID = groupID
	c.updatedAt = now.UTC()
	return c, nil
}

// WithConversation returns a copy with the given message log.
func (d *Document) WithConversation(log conversation.Log, now time.Time) Document {
	c := *d
	c.conversation = log
	c.updatedAt = now.UTC()
	return c
}

func validateMetadata(name, description, groupID string) error {
	if name == "" {
		return fmt.Errorf("document name is required")
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("document name too long (max %d)", MaxNameLength)
	}
	if len(description) > MaxDescriptionLength {
		return fmt.Errorf("description too long (max %d)", MaxDescriptionLength)
	}
	if len(groupID) > MaxGroupIDLength {
		return fmt.Errorf("group id too long (max %d)", MaxGroupIDLength)
	}
	return nil
}
