package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docrag/internal/domain"
	logpkg "github.com/kailas-cloud/docrag/internal/logger"
)

// ErrorCode is the machine-readable error code of an error response.
type ErrorCode string

// Error codes returned by the API.
const (
	CodeBadRequest         ErrorCode = "bad_request"
	CodeUnauthorized       ErrorCode = "unauthorized"
	CodeValidationFailed   ErrorCode = "validation_failed"
	CodeDocumentNotFound   ErrorCode = "document_not_found"
	CodeExtractionFailed   ErrorCode = "extraction_failed"
	CodeStorageWriteFailed ErrorCode = "storage_write_failed"
	CodeStorageReadFailed  ErrorCode = "storage_read_failed"
	CodeSearchFailed       ErrorCode = "search_failed"
	CodeEmbeddingProvider  ErrorCode = "embedding_provider_error"
	CodeDeletionFailed     ErrorCode = "deletion_failed"
	CodeInternalError      ErrorCode = "internal_error"
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

func defaultErrorHandlers() []errorHandler {
	return []errorHandler{
		sentinelHandler(domain.ErrDocumentNotFound, http.StatusNotFound, CodeDocumentNotFound),
		sentinelHandler(domain.ErrValidation, http.StatusBadRequest, CodeValidationFailed),
		sentinelHandler(domain.ErrExtraction, http.StatusUnprocessableEntity, CodeExtractionFailed),
		sentinelHandler(domain.ErrStorageWrite, http.StatusBadGateway, CodeStorageWriteFailed),
		sentinelHandler(domain.ErrStorageRead, http.StatusBadGateway, CodeStorageReadFailed),
		// embedding failures arrive wrapped in ErrSearch; the provider code is more useful
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, CodeEmbeddingProvider),
		sentinelHandler(domain.ErrSearch, http.StatusBadGateway, CodeSearchFailed),
		sentinelHandler(domain.ErrDeletion, http.StatusInternalServerError, CodeDeletionFailed),
	}
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
// Validation messages are passed through since they describe the caller's input.
func safeDomainMessage(err error) string {
	if errors.Is(err, domain.ErrValidation) {
		return err.Error()
	}
	sentinels := []error{
		domain.ErrDocumentNotFound,
		domain.ErrExtraction,
		domain.ErrStorageWrite,
		domain.ErrStorageRead,
		domain.ErrEmbeddingProviderError,
		domain.ErrSearch,
		domain.ErrDeletion,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logpkg.FromContextOr(r.Context(), s.logger)
	log.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}
