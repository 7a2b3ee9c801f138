package metadata

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/kailas-cloud/docrag/internal/domain/chunk"
	"github.com/kailas-cloud/docrag/internal/domain/conversation"
	"github.com/kailas-cloud/docrag/internal/domain/document"
)

type documentModel struct {
	ID               string `gorm:"primaryKey;size:26"`
	Name             string `gorm:"size:255;not null;index"`
	OriginalFilename string `gorm:"size:255;not null"`
	ContentType      string `gorm:"size:255;index"`
	FileSize         int64  `gorm:"not null"`
	StorageKey       string `gorm:"size:512;not null;uniqueIndex"`
	Description      string `gorm:"type:text"`
	GroupID          string `gorm:"size:128;index"`
	Conversation     datatypes.JSON
	CreatedAt        time.Time    `gorm:"not null;index"`
	UpdatedAt        time.Time    `gorm:"not null"`
	Chunks           []chunkModel `gorm:"foreignKey:DocumentID"`
}

func (documentModel) TableName() string { return "documents" }

type chunkModel struct {
	ID         string    `gorm:"primaryKey;size:26"`
	DocumentID string    `gorm:"size:26;not null;index"`
	ExternalID string    `gorm:"size:64;not null;uniqueIndex"`
	ChunkIndex int       `gorm:"not null"`
	Text       string    `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (chunkModel) TableName() string { return "document_chunks" }

// messageJSON is the stored shape of a conversation message.
type messageJSON struct {
	Index     int       `json:"index"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

func toDocumentModel(d *document.Document) (documentModel, error) {
	conv, err := encodeConversation(d.Conversation())
	if err != nil {
		return documentModel{}, err
	}
	return documentModel{
		ID:               d.ID(),
		Name:             d.Name(),
		OriginalFilename: d.OriginalFilename(),
		ContentType:      d.ContentType(),
		FileSize:         d.FileSize(),
		StorageKey:       d.StorageKey(),
		Description:      d.Description(),
		GroupID:          d.GroupID(),
		Conversation:     conv,
		CreatedAt:        d.CreatedAt(),
		UpdatedAt:        d.UpdatedAt(),
	}, nil
}

func (m *documentModel) toDomain(chunkCount int) (document.Document, error) {
	conv, err := decodeConversation(m.Conversation)
	if err != nil {
		return document.Document{}, fmt.Errorf("document %s: %w", m.ID, err)
	}
	var chunks []chunk.Chunk
	if m.Chunks != nil {
		chunks = make([]chunk.Chunk, 0, len(m.Chunks))
		for i := range m.Chunks {
			chunks = append(chunks, m.Chunks[i].toDomain())
		}
	}
	return document.Reconstruct(document.State{
		ID:               m.ID,
		Name:             m.Name,
		OriginalFilename: m.OriginalFilename,
		ContentType:      m.ContentType,
		FileSize:         m.FileSize,
		StorageKey:       m.StorageKey,
		Description:      m.Description,
		GroupID:          m.GroupID,
		CreatedAt:        m.CreatedAt.UTC(),
		UpdatedAt:        m.UpdatedAt.UTC(),
		Conversation:     conv,
		Chunks:           chunks,
		ChunkCount:       chunkCount,
	}), nil
}

func toChunkModel(c *chunk.Chunk) chunkModel {
	return chunkModel{
		ID:         c.ID(),
		DocumentID: c.DocumentID(),
		ExternalID: c.ExternalID(),
		ChunkIndex: c.Index(),
		Text:       c.Text(),
		CreatedAt:  c.CreatedAt(),
	}
}

func (m *chunkModel) toDomain() chunk.Chunk {
	return chunk.Reconstruct(m.ID, m.DocumentID, m.ExternalID, m.ChunkIndex, m.Text, m.CreatedAt.UTC())
}

func encodeConversation(log conversation.Log) (datatypes.JSON, error) {
	out := make([]messageJSON, 0, len(log))
	for _, msg := range log {
		out = append(out, messageJSON{
			Index:     msg.Index,
			Role:      string(msg.Role),
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt,
		})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode conversation: %w", err)
	}
	return datatypes.JSON(data), nil
}

func decodeConversation(raw datatypes.JSON) (conversation.Log, error) {
	if len(raw) == 0 {
		return conversation.Log{}, nil
	}
	var in []messageJSON
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	log := make(conversation.Log, 0, len(in))
	for _, m := range in {
		log = append(log, conversation.Message{
			Index:     m.Index,
			Role:      conversation.Role(m.Role),
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		})
	}
	return log, nil
}
