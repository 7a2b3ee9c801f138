package result

// Chunk is a chunk-level similarity match enriched with document attribution.
type Chunk struct {
	DocumentID       string
	ChunkIndex       int
	Text             string
	Score            float64
	DocumentName     string
	OriginalFilename string
}
