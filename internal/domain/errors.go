package domain

import "errors"

var (
	// ErrDocumentNotFound signals a missing document.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrValidation signals a malformed request (bad role, missing field, oversized upload).
	ErrValidation = errors.New("validation failed")

	// ErrStorageWrite signals a blob store write failure.
	ErrStorageWrite = errors.New("blob storage write failed")
	// ErrStorageRead signals a blob store read failure.
	ErrStorageRead = errors.New("blob storage read failed")
	// ErrExtraction signals unreadable or corrupt document content.
	ErrExtraction = errors.New("text extraction failed")
	// ErrDeletion signals a document cleanup that could not complete.
	ErrDeletion = errors.New("document deletion failed")

	// ErrVectorWrite signals a vector index write failure. Never surfaced to clients.
	ErrVectorWrite = errors.New("vector index write failed")
	// ErrVectorDelete signals a vector index delete failure. Never surfaced to clients.
	ErrVectorDelete = errors.New("vector index delete failed")
	// ErrSearch signals that the backing store rejected a query.
	ErrSearch = errors.New("search failed")

	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
)
