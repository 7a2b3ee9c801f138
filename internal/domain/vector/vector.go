// Package vector holds the vector index entry model shared by index backends.
package vector

import "time"

// DefaultClass is the vector index class holding document chunks.
const DefaultClass = "DocumentChunk"

// Property names of a chunk entry, as requested in query field lists.
const (
	FieldText       = "text"
	FieldDocumentID = "documentId"
	FieldChunkIndex = "chunkIndex"
	// FieldWrittenAt holds the write time in Unix milliseconds. It is stored
	// on every entry but never returned in query hits.
	FieldWrittenAt = "writtenAt"
)

// Properties are the stored attributes of a chunk entry.
type Properties struct {
	Text       string
	DocumentID string
	ChunkIndex int
}

// Hit is a single nearest-neighbour match. Only requested fields are populated.
type Hit struct {
	ID         string
	Score      float64
	Properties Properties
}

// Entry is a stored chunk entry as returned by listing (reconciliation).
// WrittenAt is zero for entries written before timestamps were recorded.
type Entry struct {
	ID         string
	DocumentID string
	WrittenAt  time.Time
}

// HasField reports whether name appears in fields.
func HasField(fields []string, name string) bool {
	for _, f := range fields {
		if f == name {
			return true
		}
	}
	return false
}
