package chi

import (
	"time"

	"github.com/kailas-cloud/docrag/internal/domain/chunk"
	"github.com/kailas-cloud/docrag/internal/domain/conversation"
	"github.com/kailas-cloud/docrag/internal/domain/document"
	"github.com/kailas-cloud/docrag/internal/domain/search/result"
	healthuc "github.com/kailas-cloud/docrag/internal/usecase/health"
	"github.com/kailas-cloud/docrag/internal/usecase/ingest"
)

// DocumentResponse is the JSON view of a document.
type DocumentResponse struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	OriginalFilename string            `json:"originalFilename"`
	ContentType      string            `json:"contentType"`
	FileSize         int64             `json:"fileSize"`
	Description      string            `json:"description,omitempty"`
	GroupID          string            `json:"groupId,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
	ChunkCount       int               `json:"chunkCount"`
	Chunks           []ChunkResponse   `json:"chunks,omitempty"`
	Conversation     []MessageResponse `json:"conversation"`
}

// ChunkResponse is the JSON view of a persisted chunk.
type ChunkResponse struct {
	ID         string `json:"id"`
	ExternalID string `json:"externalId"`
	Index      int    `json:"index"`
	Text       string `json:"text"`
}

// MessageResponse is the JSON view of a conversation message.
type MessageResponse struct {
	Index     int       `json:"index"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// ChunkResultResponse is a chunk-level similarity hit.
type ChunkResultResponse struct {
	DocumentID       string  `json:"documentId"`
	ChunkIndex       int     `json:"chunkIndex"`
	Text             string  `json:"text"`
	Score            float64 `json:"score"`
	DocumentName     string  `json:"documentName"`
	OriginalFilename string  `json:"originalFilename"`
}

// UpdateDocumentRequest is the body of PUT /api/documents/{id}.
type UpdateDocumentRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	GroupID     string `json:"groupId"`
	LectureID   string `json:"lectureId"`
}

// AppendMessageRequest is the body of POST /api/documents/{id}/conversation.
type AppendMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GroupDeleteResponse reports a group deletion.
type GroupDeleteResponse struct {
	Deleted []string             `json:"deleted"`
	Failed  []GroupDeleteFailure `json:"failed"`
}

// GroupDeleteFailure is a document that survived a group deletion.
type GroupDeleteFailure struct {
	DocumentID string `json:"documentId"`
	Error      string `json:"error"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func documentToResponse(d document.Document) DocumentResponse {
	resp := DocumentResponse{
		ID:               d.ID(),
		Name:             d.Name(),
		OriginalFilename: d.OriginalFilename(),
		ContentType:      d.ContentType(),
		FileSize:         d.FileSize(),
		Description:      d.Description(),
		GroupID:          d.GroupID(),
		CreatedAt:        d.CreatedAt(),
		UpdatedAt:        d.UpdatedAt(),
		ChunkCount:       d.ChunkCount(),
		Conversation:     messagesToResponse(d.Conversation()),
	}
	if chunks := d.Chunks(); len(chunks) > 0 {
		resp.Chunks = make([]ChunkResponse, len(chunks))
		for i, c := range chunks {
			resp.Chunks[i] = chunkToResponse(c)
		}
	}
	return resp
}

func documentsToResponse(docs []document.Document) []DocumentResponse {
	out := make([]DocumentResponse, len(docs))
	for i, d := range docs {
		out[i] = documentToResponse(d)
	}
	return out
}

func chunkToResponse(c chunk.Chunk) ChunkResponse {
	return ChunkResponse{
		ID:         c.ID(),
		ExternalID: c.ExternalID(),
		Index:      c.Index(),
		Text:       c.Text(),
	}
}

func messagesToResponse(log conversation.Log) []MessageResponse {
	out := make([]MessageResponse, len(log))
	for i, m := range log {
		out[i] = MessageResponse{
			Index:     m.Index,
			Role:      string(m.Role),
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		}
	}
	return out
}

func chunkResultsToResponse(hits []result.Chunk) []ChunkResultResponse {
	out := make([]ChunkResultResponse, len(hits))
	for i, h := range hits {
		out[i] = ChunkResultResponse(h)
	}
	return out
}

func groupDeleteToResponse(res ingest.GroupDeleteResult) GroupDeleteResponse {
	resp := GroupDeleteResponse{
		Deleted: res.Deleted,
		Failed:  make([]GroupDeleteFailure, len(res.Failed)),
	}
	if resp.Deleted == nil {
		resp.Deleted = []string{}
	}
	for i, f := range res.Failed {
		resp.Failed[i] = GroupDeleteFailure{DocumentID: f.DocumentID, Error: safeDomainMessage(f.Err)}
	}
	return resp
}

func healthToResponse(rep healthuc.Report) HealthResponse {
	checks := make(map[string]string, len(rep.Checks))
	for k, v := range rep.Checks {
		checks[k] = string(v)
	}
	return HealthResponse{Status: string(rep.Status), Checks: checks}
}
