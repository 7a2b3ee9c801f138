package chi

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	gochi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docrag/internal/domain/conversation"
	logpkg "github.com/kailas-cloud/docrag/internal/logger"
	healthuc "github.com/kailas-cloud/docrag/internal/usecase/health"
	"github.com/kailas-cloud/docrag/internal/usecase/ingest"
	"github.com/kailas-cloud/docrag/internal/usecase/retrieval"
)

const (
	defaultMaxUploadBytes = 50 << 20
	// multipartOverhead covers form fields and part headers on top of the file.
	multipartOverhead = 1 << 20
	multipartMemory   = 32 << 20
)

// Server serves the document API.
type Server struct {
	documents      Documents
	retrieval      Retrieval
	conversations  Conversations
	health         HealthChecker
	maxUploadBytes int64
	logger         *zap.Logger
	errorHandlers  []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	documents Documents,
	retrieval Retrieval,
	conversations Conversations,
	health HealthChecker,
	maxUploadBytes int64,
	logger *zap.Logger,
) *Server {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &Server{
		documents:      documents,
		retrieval:      retrieval,
		conversations:  conversations,
		health:         health,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
		errorHandlers:  defaultErrorHandlers(),
	}
}

// Routes registers every endpoint on r.
func (s *Server) Routes(r gochi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)

	r.Route("/api/documents", func(r gochi.Router) {
		r.Post("/upload", s.UploadDocument)
		r.Get("/", s.ListDocuments)
		r.Get("/search", s.SearchByKeyword)
		r.Get("/search/similar", s.SearchSimilar)
		r.Get("/search/chunks", s.SearchSimilarChunks)
		r.Get("/content-types", s.ListByContentType)

		r.Route("/{id}", func(r gochi.Router) {
			r.Use(tagURLParam("id", "document_id"))
			r.Get("/", s.GetDocument)
			r.Put("/", s.UpdateDocument)
			r.Delete("/", s.DeleteDocument)
			r.Get("/download", s.DownloadDocument)
			r.Get("/conversation", s.GetConversation)
			r.Post("/conversation", s.AppendMessage)
			r.Delete("/conversation", s.ClearConversation)
		})
	})
	r.With(tagURLParam("groupId", "group_id")).Delete("/api/groups/{groupId}/documents", s.DeleteGroup)
}

// tagURLParam adds the URL parameter param to the request logger as field.
func tagURLParam(param, field string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := logpkg.WithFields(r.Context(), zap.String(field, gochi.URLParam(r, param)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UploadDocument handles POST /api/documents/upload.
func (s *Server) UploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, CodeValidationFailed, "upload exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "file part is required")
		return
	}
	defer func() { _ = file.Close() }()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "read file part: "+err.Error())
		return
	}

	groupID := r.FormValue("groupId")
	if groupID == "" {
		groupID = r.FormValue("lectureId")
	}

	doc, err := s.documents.Ingest(r.Context(), ingest.IngestRequest{
		Content:     content,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		DisplayName: r.FormValue("name"),
		Description: r.FormValue("description"),
		GroupID:     groupID,
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, documentToResponse(doc))
}

// ListDocuments handles GET /api/documents.
func (s *Server) ListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	groupID := q.Get("groupId")
	if groupID == "" {
		groupID = q.Get("lectureId")
	}

	docs, err := s.documents.List(r.Context(), ingest.ListFilter{
		GroupID:     groupID,
		ContentType: q.Get("contentType"),
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, documentsToResponse(docs))
}

// ListByContentType handles GET /api/documents/content-types?type=.
func (s *Server) ListByContentType(w http.ResponseWriter, r *http.Request) {
	contentType := r.URL.Query().Get("type")
	if contentType == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "type is required")
		return
	}
	docs, err := s.documents.List(r.Context(), ingest.ListFilter{ContentType: contentType})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, documentsToResponse(docs))
}

// GetDocument handles GET /api/documents/{id}.
func (s *Server) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.documents.Get(r.Context(), gochi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, documentToResponse(doc))
}

// UpdateDocument handles PUT /api/documents/{id}.
func (s *Server) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	var req UpdateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.GroupID == "" {
		req.GroupID = req.LectureID
	}

	doc, err := s.documents.Update(r.Context(), gochi.URLParam(r, "id"), ingest.UpdateRequest{
		Name:        req.Name,
		Description: req.Description,
		GroupID:     req.GroupID,
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, documentToResponse(doc))
}

// DeleteDocument handles DELETE /api/documents/{id}.
func (s *Server) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.documents.Delete(r.Context(), gochi.URLParam(r, "id")); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteGroup handles DELETE /api/groups/{groupId}/documents.
func (s *Server) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	res, err := s.documents.DeleteByGroup(r.Context(), gochi.URLParam(r, "groupId"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, groupDeleteToResponse(res))
}

// DownloadDocument handles GET /api/documents/{id}/download.
func (s *Server) DownloadDocument(w http.ResponseWriter, r *http.Request) {
	doc, body, err := s.documents.Download(r.Context(), gochi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	defer func() { _ = body.Close() }()

	contentType := doc.ContentType()
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(doc.FileSize(), 10))
	if disp := mime.FormatMediaType("attachment", map[string]string{"filename": doc.OriginalFilename()}); disp != "" {
		w.Header().Set("Content-Disposition", disp)
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, body); err != nil {
		s.logger.Warn("download stream interrupted",
			zap.String("document_id", doc.ID()),
			zap.Error(err),
		)
	}
}

// SearchByKeyword handles GET /api/documents/search?keyword= (alias q).
func (s *Server) SearchByKeyword(w http.ResponseWriter, r *http.Request) {
	docs, err := s.retrieval.SearchByKeyword(r.Context(), queryParam(r, "keyword", "q"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, documentsToResponse(docs))
}

// SearchSimilar handles GET /api/documents/search/similar?query=&limit= (alias q).
func (s *Server) SearchSimilar(w http.ResponseWriter, r *http.Request) {
	q, ok := similarQuery(w, r)
	if !ok {
		return
	}
	docs, err := s.retrieval.SearchSimilar(r.Context(), q)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, documentsToResponse(docs))
}

// SearchSimilarChunks handles GET /api/documents/search/chunks?query=&limit=.
func (s *Server) SearchSimilarChunks(w http.ResponseWriter, r *http.Request) {
	q, ok := similarQuery(w, r)
	if !ok {
		return
	}
	hits, err := s.retrieval.SearchSimilarChunks(r.Context(), q)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chunkResultsToResponse(hits))
}

func similarQuery(w http.ResponseWriter, r *http.Request) (retrieval.SimilarQuery, bool) {
	q := retrieval.SimilarQuery{Text: queryParam(r, "query", "q")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, CodeBadRequest, "limit must be a positive integer")
			return q, false
		}
		q.Limit = limit
	}
	return q, true
}

// queryParam returns the first non-empty value among names.
func queryParam(r *http.Request, names ...string) string {
	params := r.URL.Query()
	for _, n := range names {
		if v := params.Get(n); v != "" {
			return v
		}
	}
	return ""
}

// GetConversation handles GET /api/documents/{id}/conversation.
func (s *Server) GetConversation(w http.ResponseWriter, r *http.Request) {
	log, err := s.conversations.Get(r.Context(), gochi.URLParam(r, "id"))
	s.writeConversation(w, r, http.StatusOK, log, err)
}

// AppendMessage handles POST /api/documents/{id}/conversation.
func (s *Server) AppendMessage(w http.ResponseWriter, r *http.Request) {
	var req AppendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	log, err := s.conversations.Append(r.Context(), gochi.URLParam(r, "id"), req.Role, req.Content)
	s.writeConversation(w, r, http.StatusCreated, log, err)
}

// ClearConversation handles DELETE /api/documents/{id}/conversation.
func (s *Server) ClearConversation(w http.ResponseWriter, r *http.Request) {
	log, err := s.conversations.Clear(r.Context(), gochi.URLParam(r, "id"))
	s.writeConversation(w, r, http.StatusOK, log, err)
}

func (s *Server) writeConversation(w http.ResponseWriter, r *http.Request, status int, log conversation.Log, err error) {
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, status, messagesToResponse(log))
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, healthToResponse(report))
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}
