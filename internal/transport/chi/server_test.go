package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	gochi "github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docrag/internal/domain"
	"github.com/kailas-cloud/docrag/internal/domain/chunk"
	"github.com/kailas-cloud/docrag/internal/domain/conversation"
	"github.com/kailas-cloud/docrag/internal/domain/document"
	"github.com/kailas-cloud/docrag/internal/domain/search/result"
	healthuc "github.com/kailas-cloud/docrag/internal/usecase/health"
	"github.com/kailas-cloud/docrag/internal/usecase/ingest"
	"github.com/kailas-cloud/docrag/internal/usecase/retrieval"
)

// --- mocks ---

type mockDocuments struct {
	ingestFn        func(ctx context.Context, req ingest.IngestRequest) (document.Document, error)
	getFn           func(ctx context.Context, id string) (document.Document, error)
	listFn          func(ctx context.Context, f ingest.ListFilter) ([]document.Document, error)
	updateFn        func(ctx context.Context, id string, req ingest.UpdateRequest) (document.Document, error)
	deleteFn        func(ctx context.Context, id string) error
	deleteByGroupFn func(ctx context.Context, groupID string) (ingest.GroupDeleteResult, error)
	downloadFn      func(ctx context.Context, id string) (document.Document, io.ReadCloser, error)
}

func (m *mockDocuments) Ingest(ctx context.Context, req ingest.IngestRequest) (document.Document, error) {
	return m.ingestFn(ctx, req)
}

func (m *mockDocuments) Get(ctx context.Context, id string) (document.Document, error) {
	return m.getFn(ctx, id)
}

func (m *mockDocuments) List(ctx context.Context, f ingest.ListFilter) ([]document.Document, error) {
	return m.listFn(ctx, f)
}

func (m *mockDocuments) Update(ctx context.Context, id string, req ingest.UpdateRequest) (document.Document, error) {
	return m.updateFn(ctx, id, req)
}

func (m *mockDocuments) Delete(ctx context.Context, id string) error {
	return m.deleteFn(ctx, id)
}

func (m *mockDocuments) DeleteByGroup(ctx context.Context, groupID string) (ingest.GroupDeleteResult, error) {
	return m.deleteByGroupFn(ctx, groupID)
}

func (m *mockDocuments) Download(ctx context.Context, id string) (document.Document, io.ReadCloser, error) {
	return m.downloadFn(ctx, id)
}

type mockRetrieval struct {
	keywordFn func(ctx context.Context, keyword string) ([]document.Document, error)
	similarFn func(ctx context.Context, q retrieval.SimilarQuery) ([]document.Document, error)
	chunksFn  func(ctx context.Context, q retrieval.SimilarQuery) ([]result.Chunk, error)
}

func (m *mockRetrieval) SearchByKeyword(ctx context.Context, keyword string) ([]document.Document, error) {
	return m.keywordFn(ctx, keyword)
}

func (m *mockRetrieval) SearchSimilar(ctx context.Context, q retrieval.SimilarQuery) ([]document.Document, error) {
	return m.similarFn(ctx, q)
}

func (m *mockRetrieval) SearchSimilarChunks(ctx context.Context, q retrieval.SimilarQuery) ([]result.Chunk, error) {
	return m.chunksFn(ctx, q)
}

type mockConversations struct {
	appendFn func(ctx context.Context, documentID, role, content string) (conversation.Log, error)
	clearFn  func(ctx context.Context, documentID string) (conversation.Log, error)
	getFn    func(ctx context.Context, documentID string) (conversation.Log, error)
}

func (m *mockConversations) Append(ctx context.Context, documentID, role, content string) (conversation.Log, error) {
	return m.appendFn(ctx, documentID, role, content)
}

func (m *mockConversations) Clear(ctx context.Context, documentID string) (conversation.Log, error) {
	return m.clearFn(ctx, documentID)
}

func (m *mockConversations) Get(ctx context.Context, documentID string) (conversation.Log, error) {
	return m.getFn(ctx, documentID)
}

type mockHealth struct {
	report healthuc.Report
}

func (m *mockHealth) Check(context.Context) healthuc.Report { return m.report }

// --- helpers ---

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testDoc(id, name string) document.Document {
	return document.Reconstruct(document.State{
		ID:               id,
		Name:             name,
		OriginalFilename: "notes.txt",
		ContentType:      "text/plain",
		FileSize:         9,
		StorageKey:       "documents/1_abcdef12_notes.txt",
		CreatedAt:        testTime,
		UpdatedAt:        testTime,
		Conversation:     conversation.Log{},
	})
}

type testEnv struct {
	docs  *mockDocuments
	ret   *mockRetrieval
	conv  *mockConversations
	hlth  *mockHealth
	route http.Handler
}

func newTestEnv(maxUpload int64) *testEnv {
	env := &testEnv{
		docs: &mockDocuments{},
		ret:  &mockRetrieval{},
		conv: &mockConversations{},
		hlth: &mockHealth{report: healthuc.Report{Status: healthuc.Healthy, Checks: map[string]healthuc.CheckResult{}}},
	}
	srv := NewServer(env.docs, env.ret, env.conv, env.hlth, maxUpload, zap.NewNop())
	r := gochi.NewRouter()
	srv.Routes(r)
	env.route = r
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.route.ServeHTTP(rr, req)
	return rr
}

func multipartBody(t *testing.T, fields map[string]string, filename, contentType string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if filename != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		_, _ = part.Write(content)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp
}

// --- upload ---

func TestUploadDocument_Created(t *testing.T) {
	env := newTestEnv(0)
	var got ingest.IngestRequest
	env.docs.ingestFn = func(_ context.Context, req ingest.IngestRequest) (document.Document, error) {
		got = req
		return testDoc("01JDOC", req.DisplayName), nil
	}

	body, ct := multipartBody(t, map[string]string{
		"name":        "Lecture 1",
		"description": "intro",
		"lectureId":   "L-1",
	}, "notes.txt", "text/plain", []byte("A. B. C."))
	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", body)
	req.Header.Set("Content-Type", ct)

	rr := env.do(req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want %d (%s)", rr.Code, http.StatusCreated, rr.Body.String())
	}
	if got.Filename != "notes.txt" || got.ContentType != "text/plain" || string(got.Content) != "A. B. C." {
		t.Errorf("unexpected ingest request: %+v", got)
	}
	if got.DisplayName != "Lecture 1" || got.Description != "intro" || got.GroupID != "L-1" {
		t.Errorf("metadata not forwarded: %+v", got)
	}

	var resp DocumentResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID != "01JDOC" || resp.Name != "Lecture 1" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.Conversation == nil {
		t.Error("conversation should serialise as an empty array")
	}
}

func TestUploadDocument_GroupIDWinsOverAlias(t *testing.T) {
	env := newTestEnv(0)
	var got ingest.IngestRequest
	env.docs.ingestFn = func(_ context.Context, req ingest.IngestRequest) (document.Document, error) {
		got = req
		return testDoc("01JDOC", req.DisplayName), nil
	}
	body, ct := multipartBody(t, map[string]string{"name": "n", "groupId": "G", "lectureId": "L"},
		"a.txt", "text/plain", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", body)
	req.Header.Set("Content-Type", ct)

	if rr := env.do(req); rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d", rr.Code)
	}
	if got.GroupID != "G" {
		t.Errorf("GroupID: got %q, want G", got.GroupID)
	}
}

func TestUploadDocument_MissingFile(t *testing.T) {
	env := newTestEnv(0)
	env.docs.ingestFn = func(context.Context, ingest.IngestRequest) (document.Document, error) {
		t.Fatal("Ingest must not be called")
		return document.Document{}, nil
	}
	body, ct := multipartBody(t, map[string]string{"name": "n"}, "", "", nil)
	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", body)
	req.Header.Set("Content-Type", ct)

	rr := env.do(req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rr.Code)
	}
	if resp := decodeError(t, rr); resp.Code != CodeBadRequest {
		t.Errorf("code: got %s", resp.Code)
	}
}

func TestUploadDocument_TooLarge(t *testing.T) {
	env := newTestEnv(1)
	env.docs.ingestFn = func(context.Context, ingest.IngestRequest) (document.Document, error) {
		t.Fatal("Ingest must not be called")
		return document.Document{}, nil
	}
	body, ct := multipartBody(t, map[string]string{"name": "n"}, "big.bin", "application/octet-stream",
		bytes.Repeat([]byte("x"), multipartOverhead+1024))
	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", body)
	req.Header.Set("Content-Type", ct)

	rr := env.do(req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rr.Code)
	}
	if resp := decodeError(t, rr); resp.Code != CodeValidationFailed {
		t.Errorf("code: got %s, want %s", resp.Code, CodeValidationFailed)
	}
}

func TestUploadDocument_ExtractionFailure(t *testing.T) {
	env := newTestEnv(0)
	env.docs.ingestFn = func(context.Context, ingest.IngestRequest) (document.Document, error) {
		return document.Document{}, fmt.Errorf("ingest: %w: application/pdf: bad xref", domain.ErrExtraction)
	}
	body, ct := multipartBody(t, map[string]string{"name": "n"}, "a.pdf", "application/pdf", []byte("%PDF"))
	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", body)
	req.Header.Set("Content-Type", ct)

	rr := env.do(req)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status: got %d, want 422", rr.Code)
	}
	resp := decodeError(t, rr)
	if resp.Code != CodeExtractionFailed {
		t.Errorf("code: got %s", resp.Code)
	}
	if strings.Contains(resp.Message, "xref") {
		t.Errorf("message leaks internals: %q", resp.Message)
	}
}

// --- error mapping ---

func TestHandleDomainError_Mapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   ErrorCode
	}{
		{"not found", fmt.Errorf("get: %w", domain.ErrDocumentNotFound), http.StatusNotFound, CodeDocumentNotFound},
		{"validation", fmt.Errorf("%w: name is required", domain.ErrValidation), http.StatusBadRequest, CodeValidationFailed},
		{"extraction", domain.ErrExtraction, http.StatusUnprocessableEntity, CodeExtractionFailed},
		{"storage write", domain.ErrStorageWrite, http.StatusBadGateway, CodeStorageWriteFailed},
		{"storage read", domain.ErrStorageRead, http.StatusBadGateway, CodeStorageReadFailed},
		{"search", domain.ErrSearch, http.StatusBadGateway, CodeSearchFailed},
		{
			"embedding inside search",
			fmt.Errorf("%w: vector query: %w", domain.ErrSearch, domain.ErrEmbeddingProviderError),
			http.StatusBadGateway, CodeEmbeddingProvider,
		},
		{"deletion", fmt.Errorf("delete: %w", domain.ErrDeletion), http.StatusInternalServerError, CodeDeletionFailed},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, CodeInternalError},
	}

	s := NewServer(nil, nil, nil, nil, 0, zap.NewNop())
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			s.handleDomainError(rr, req, tc.err)

			if rr.Code != tc.status {
				t.Errorf("status: got %d, want %d", rr.Code, tc.status)
			}
			if resp := decodeError(t, rr); resp.Code != tc.code {
				t.Errorf("code: got %s, want %s", resp.Code, tc.code)
			}
		})
	}
}

func TestSafeDomainMessage_HidesInternals(t *testing.T) {
	err := fmt.Errorf("%w: redis: dial tcp 10.0.0.3:6379", domain.ErrSearch)
	if got := safeDomainMessage(err); got != domain.ErrSearch.Error() {
		t.Errorf("got %q", got)
	}
	if got := safeDomainMessage(errors.New("secret")); got != "internal error" {
		t.Errorf("got %q", got)
	}
}

// --- documents ---

func TestGetDocument_NotFound(t *testing.T) {
	env := newTestEnv(0)
	env.docs.getFn = func(_ context.Context, id string) (document.Document, error) {
		return document.Document{}, fmt.Errorf("get %s: %w", id, domain.ErrDocumentNotFound)
	}

	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/documents/missing", http.NoBody))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want 404", rr.Code)
	}
}

func TestGetDocument_WithChunks(t *testing.T) {
	env := newTestEnv(0)
	env.docs.getFn = func(_ context.Context, id string) (document.Document, error) {
		c := chunk.Reconstruct("c1", id, "ext-1", 0, "A.", testTime)
		return document.Reconstruct(document.State{ID: id, Name: "n", Chunks: []chunk.Chunk{c}}), nil
	}

	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/documents/D1", http.NoBody))
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	var resp DocumentResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ChunkCount != 1 || len(resp.Chunks) != 1 || resp.Chunks[0].ExternalID != "ext-1" {
		t.Errorf("unexpected chunks: %+v", resp)
	}
}

func TestListDocuments_Filters(t *testing.T) {
	env := newTestEnv(0)
	var got ingest.ListFilter
	env.docs.listFn = func(_ context.Context, f ingest.ListFilter) ([]document.Document, error) {
		got = f
		return nil, nil
	}

	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/documents?lectureId=L-2&contentType=text/plain", http.NoBody))
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	if got.GroupID != "L-2" || got.ContentType != "text/plain" {
		t.Errorf("filter: %+v", got)
	}
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Errorf("body: got %q, want []", rr.Body.String())
	}
}

func TestUpdateDocument(t *testing.T) {
	env := newTestEnv(0)
	var gotID string
	var got ingest.UpdateRequest
	env.docs.updateFn = func(_ context.Context, id string, req ingest.UpdateRequest) (document.Document, error) {
		gotID, got = id, req
		return testDoc(id, req.Name), nil
	}

	req := httptest.NewRequest(http.MethodPut, "/api/documents/D1",
		strings.NewReader(`{"name":"Renamed","description":"d","lectureId":"L"}`))
	rr := env.do(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	if gotID != "D1" || got.Name != "Renamed" || got.GroupID != "L" {
		t.Errorf("update: id=%q req=%+v", gotID, got)
	}
}

func TestUpdateDocument_InvalidJSON(t *testing.T) {
	env := newTestEnv(0)
	rr := env.do(httptest.NewRequest(http.MethodPut, "/api/documents/D1", strings.NewReader("{")))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rr.Code)
	}
}

func TestDeleteDocument(t *testing.T) {
	env := newTestEnv(0)
	calls := 0
	env.docs.deleteFn = func(_ context.Context, id string) error {
		calls++
		if calls > 1 {
			return fmt.Errorf("delete %s: %w", id, domain.ErrDocumentNotFound)
		}
		return nil
	}

	if rr := env.do(httptest.NewRequest(http.MethodDelete, "/api/documents/D1", http.NoBody)); rr.Code != http.StatusNoContent {
		t.Fatalf("first delete: got %d, want 204", rr.Code)
	}
	if rr := env.do(httptest.NewRequest(http.MethodDelete, "/api/documents/D1", http.NoBody)); rr.Code != http.StatusNotFound {
		t.Fatalf("second delete: got %d, want 404", rr.Code)
	}
}

func TestDeleteGroup(t *testing.T) {
	env := newTestEnv(0)
	env.docs.deleteByGroupFn = func(_ context.Context, groupID string) (ingest.GroupDeleteResult, error) {
		if groupID != "G1" {
			t.Errorf("groupID: got %q", groupID)
		}
		return ingest.GroupDeleteResult{
			Deleted: []string{"a"},
			Failed:  []ingest.GroupDeleteFailure{{DocumentID: "b", Err: fmt.Errorf("%w: s3 down", domain.ErrDeletion)}},
		}, nil
	}

	rr := env.do(httptest.NewRequest(http.MethodDelete, "/api/groups/G1/documents", http.NoBody))
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	var resp GroupDeleteResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Deleted) != 1 || len(resp.Failed) != 1 || resp.Failed[0].Error != domain.ErrDeletion.Error() {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestDownloadDocument(t *testing.T) {
	env := newTestEnv(0)
	env.docs.downloadFn = func(_ context.Context, id string) (document.Document, io.ReadCloser, error) {
		return testDoc(id, "n"), io.NopCloser(strings.NewReader("A. B. C.\n")), nil
	}

	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/documents/D1/download", http.NoBody))
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	if rr.Body.String() != "A. B. C.\n" {
		t.Errorf("body: got %q", rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/plain" {
		t.Errorf("Content-Type: got %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); cd != "attachment; filename=notes.txt" {
		t.Errorf("Content-Disposition: got %q", cd)
	}
}

func TestDownloadDocument_StorageRead(t *testing.T) {
	env := newTestEnv(0)
	env.docs.downloadFn = func(context.Context, string) (document.Document, io.ReadCloser, error) {
		return document.Document{}, nil, fmt.Errorf("%w: no such key", domain.ErrStorageRead)
	}
	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/documents/D1/download", http.NoBody))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status: got %d, want 502", rr.Code)
	}
}

func TestListByContentType(t *testing.T) {
	env := newTestEnv(0)
	var got ingest.ListFilter
	env.docs.listFn = func(_ context.Context, f ingest.ListFilter) ([]document.Document, error) {
		got = f
		return []document.Document{testDoc("D1", "n")}, nil
	}

	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/documents/content-types?type=application/pdf", http.NoBody))
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	if got.ContentType != "application/pdf" || got.GroupID != "" {
		t.Errorf("filter: %+v", got)
	}

	rr = env.do(httptest.NewRequest(http.MethodGet, "/api/documents/content-types", http.NoBody))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing type: got %d, want 400", rr.Code)
	}
}

// --- search ---

func TestSearchByKeyword(t *testing.T) {
	env := newTestEnv(0)
	env.ret.keywordFn = func(_ context.Context, keyword string) ([]document.Document, error) {
		if keyword != "math" {
			t.Errorf("keyword: got %q", keyword)
		}
		return []document.Document{testDoc("D1", "Mathematics 101")}, nil
	}

	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/documents/search?keyword=math", http.NoBody))
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	if alias := env.do(httptest.NewRequest(http.MethodGet, "/api/documents/search?q=math", http.NoBody)); alias.Code != http.StatusOK {
		t.Fatalf("q alias: got %d", alias.Code)
	}
	var resp []DocumentResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp) != 1 || resp[0].Name != "Mathematics 101" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestSearchSimilar_Limit(t *testing.T) {
	env := newTestEnv(0)
	var got retrieval.SimilarQuery
	env.ret.similarFn = func(_ context.Context, q retrieval.SimilarQuery) ([]document.Document, error) {
		got = q
		return []document.Document{}, nil
	}

	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/documents/search/similar?query=vectors&limit=3", http.NoBody))
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	if got.Text != "vectors" || got.Limit != 3 {
		t.Errorf("query: %+v", got)
	}

	for _, bad := range []string{"abc", "0", "-2"} {
		rr := env.do(httptest.NewRequest(http.MethodGet, "/api/documents/search/similar?query=v&limit="+bad, http.NoBody))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: got %d, want 400", bad, rr.Code)
		}
	}
}

func TestSearchSimilarChunks(t *testing.T) {
	env := newTestEnv(0)
	env.ret.chunksFn = func(context.Context, retrieval.SimilarQuery) ([]result.Chunk, error) {
		return []result.Chunk{{DocumentID: "D1", ChunkIndex: 2, Text: "B.", Score: 0.9, DocumentName: "n", OriginalFilename: "f.txt"}}, nil
	}

	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/documents/search/chunks?query=b", http.NoBody))
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	var resp []ChunkResultResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp) != 1 || resp[0].ChunkIndex != 2 || resp[0].OriginalFilename != "f.txt" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestSearchSimilar_EmbeddingFailure(t *testing.T) {
	env := newTestEnv(0)
	env.ret.similarFn = func(context.Context, retrieval.SimilarQuery) ([]document.Document, error) {
		return nil, fmt.Errorf("%w: vector query: %w", domain.ErrSearch, domain.ErrEmbeddingProviderError)
	}
	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/documents/search/similar?query=v", http.NoBody))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status: got %d, want 502", rr.Code)
	}
	if resp := decodeError(t, rr); resp.Code != CodeEmbeddingProvider {
		t.Errorf("code: got %s", resp.Code)
	}
}

// --- conversation ---

func TestAppendMessage(t *testing.T) {
	env := newTestEnv(0)
	env.conv.appendFn = func(_ context.Context, documentID, role, content string) (conversation.Log, error) {
		if documentID != "D1" || role != "ai" || content != "hello" {
			t.Errorf("append args: %q %q %q", documentID, role, content)
		}
		return conversation.Log{{Index: 0, Role: conversation.Assistant, Content: content, CreatedAt: testTime}}, nil
	}

	req := httptest.NewRequest(http.MethodPost, "/api/documents/D1/conversation",
		strings.NewReader(`{"role":"ai","content":"hello"}`))
	rr := env.do(req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d", rr.Code)
	}
	var resp []MessageResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp) != 1 || resp[0].Role != "assistant" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestAppendMessage_BadRole(t *testing.T) {
	env := newTestEnv(0)
	env.conv.appendFn = func(context.Context, string, string, string) (conversation.Log, error) {
		return nil, fmt.Errorf("%w: unknown message role %q", domain.ErrValidation, "robot")
	}
	req := httptest.NewRequest(http.MethodPost, "/api/documents/D1/conversation",
		strings.NewReader(`{"role":"robot","content":"x"}`))
	rr := env.do(req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rr.Code)
	}
	if resp := decodeError(t, rr); !strings.Contains(resp.Message, "robot") {
		t.Errorf("validation message should describe the input: %q", resp.Message)
	}
}

func TestClearAndGetConversation(t *testing.T) {
	env := newTestEnv(0)
	env.conv.clearFn = func(context.Context, string) (conversation.Log, error) { return conversation.Clear(), nil }
	env.conv.getFn = func(_ context.Context, id string) (conversation.Log, error) {
		return nil, fmt.Errorf("get %s: %w", id, domain.ErrDocumentNotFound)
	}

	rr := env.do(httptest.NewRequest(http.MethodDelete, "/api/documents/D1/conversation", http.NoBody))
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("clear: got %d %q", rr.Code, rr.Body.String())
	}
	rr = env.do(httptest.NewRequest(http.MethodGet, "/api/documents/gone/conversation", http.NoBody))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get: got %d, want 404", rr.Code)
	}
}

// --- health ---

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		status healthuc.Status
		want   int
	}{
		{healthuc.Healthy, http.StatusOK},
		{healthuc.Degraded, http.StatusServiceUnavailable},
		{healthuc.Unhealthy, http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(string(tc.status), func(t *testing.T) {
			env := newTestEnv(0)
			env.hlth.report = healthuc.Report{
				Status: tc.status,
				Checks: map[string]healthuc.CheckResult{healthuc.ComponentBlob: healthuc.CheckOK},
			}
			rr := env.do(httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
			if rr.Code != tc.want {
				t.Fatalf("status: got %d, want %d", rr.Code, tc.want)
			}
			var resp HealthResponse
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Status != string(tc.status) || resp.Checks[healthuc.ComponentBlob] != "ok" {
				t.Errorf("unexpected response: %+v", resp)
			}
		})
	}
}
