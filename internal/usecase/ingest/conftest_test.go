package ingest

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docrag/internal/chunker"
	"github.com/kailas-cloud/docrag/internal/domain"
	"github.com/kailas-cloud/docrag/internal/domain/chunk"
	"github.com/kailas-cloud/docrag/internal/domain/document"
	"github.com/kailas-cloud/docrag/internal/domain/vector"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// --- blob store ---

type fakeBlobs struct {
	mu        sync.Mutex
	objects   map[string][]byte
	putErr    error
	getErr    error
	deleteErr func(key string) error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: make(map[string][]byte)}
}

func (f *fakeBlobs) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	if f.putErr != nil {
		return f.putErr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = b
	return nil
}

func (f *fakeBlobs) Get(_ context.Context, key string) (io.ReadCloser, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[key]
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f *fakeBlobs) Delete(_ context.Context, key string) error {
	if f.deleteErr != nil {
		if err := f.deleteErr(key); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeBlobs) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

func (f *fakeBlobs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

// --- metadata store ---

type fakeMeta struct {
	mu             sync.Mutex
	docs           map[string]document.Document
	chunks         map[string][]chunk.Chunk
	order          []string
	createDocErr   error
	createChunkErr func(c chunk.Chunk) error
	updated        []document.Document
}

func newFakeMeta() *fakeMeta {
	return &fakeMeta{
		docs:   make(map[string]document.Document),
		chunks: make(map[string][]chunk.Chunk),
	}
}

func (f *fakeMeta) CreateDocument(ctx context.Context, d document.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.createDocErr != nil {
		return f.createDocErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[d.ID()] = d
	f.order = append(f.order, d.ID())
	return nil
}

func (f *fakeMeta) FindByID(ctx context.Context, id string, withChunks bool) (document.Document, error) {
	if err := ctx.Err(); err != nil {
		return document.Document{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(id, withChunks)
}

func (f *fakeMeta) find(id string, withChunks bool) (document.Document, error) {
	d, ok := f.docs[id]
	if !ok {
		return document.Document{}, domain.ErrDocumentNotFound
	}
	st := d.State()
	st.ChunkCount = len(f.chunks[id])
	if withChunks {
		st.Chunks = append([]chunk.Chunk(nil), f.chunks[id]...)
	}
	return document.Reconstruct(st), nil
}

func (f *fakeMeta) filter(keep func(document.Document) bool) []document.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []document.Document
	for _, id := range f.order {
		d, ok := f.docs[id]
		if ok && keep(d) {
			doc, _ := f.find(id, false)
			out = append(out, doc)
		}
	}
	return out
}

func (f *fakeMeta) FindByGroup(_ context.Context, groupID string) ([]document.Document, error) {
	return f.filter(func(d document.Document) bool { return d.GroupID() == groupID }), nil
}

func (f *fakeMeta) FindByContentType(_ context.Context, ct string) ([]document.Document, error) {
	return f.filter(func(d document.Document) bool { return d.ContentType() == ct }), nil
}

func (f *fakeMeta) FindAll(_ context.Context) ([]document.Document, error) {
	return f.filter(func(document.Document) bool { return true }), nil
}

func (f *fakeMeta) UpdateDocument(_ context.Context, d document.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[d.ID()]; !ok {
		return domain.ErrDocumentNotFound
	}
	f.docs[d.ID()] = d
	f.updated = append(f.updated, d)
	return nil
}

func (f *fakeMeta) DeleteDocument(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[id]; !ok {
		return domain.ErrDocumentNotFound
	}
	delete(f.docs, id)
	delete(f.chunks, id)
	return nil
}

func (f *fakeMeta) CreateChunk(ctx context.Context, c chunk.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.createChunkErr != nil {
		if err := f.createChunkErr(c); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks[c.DocumentID()] = append(f.chunks[c.DocumentID()], c)
	return nil
}

func (f *fakeMeta) chunkRows(id string) []chunk.Chunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chunk.Chunk(nil), f.chunks[id]...)
}

// --- vector index ---

type fakeVectors struct {
	mu        sync.Mutex
	entries   map[string]vector.Properties
	upserts   int
	upsertErr func(props vector.Properties) error
	// onUpsert runs before each upsert is applied.
	onUpsert  func(props vector.Properties)
	deleteErr func(id string) error
	deleted   []string
}

func newFakeVectors() *fakeVectors {
	return &fakeVectors{entries: make(map[string]vector.Properties)}
}

func (f *fakeVectors) Upsert(ctx context.Context, _, id string, props vector.Properties, _ []float32) error {
	if f.onUpsert != nil {
		f.onUpsert(props)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if f.upsertErr != nil {
		if err := f.upsertErr(props); err != nil {
			return err
		}
	}
	f.entries[id] = props
	return nil
}

func (f *fakeVectors) Delete(_ context.Context, _, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		if err := f.deleteErr(id); err != nil {
			return err
		}
	}
	delete(f.entries, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeVectors) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// --- extractor ---

type mockExtractor struct {
	fn func(content []byte, contentType string) (string, error)
}

func (m *mockExtractor) Extract(_ context.Context, content []byte, contentType string) (string, error) {
	if m.fn != nil {
		return m.fn(content, contentType)
	}
	return string(content), nil
}

// --- harness ---

type harness struct {
	svc     *Service
	blobs   *fakeBlobs
	meta    *fakeMeta
	vectors *fakeVectors
	extract *mockExtractor
}

func newHarness(logger *zap.Logger) *harness {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &harness{
		blobs:   newFakeBlobs(),
		meta:    newFakeMeta(),
		vectors: newFakeVectors(),
		extract: &mockExtractor{},
	}
	h.svc = New(h.blobs, h.meta, h.vectors, h.extract, chunker.New(),
		Config{Class: "DocumentChunk", MaxUploadBytes: 1024, DeleteWorkers: 2}, logger)
	h.svc.now = func() time.Time { return testNow }
	return h
}

func textRequest(content, group string) IngestRequest {
	return IngestRequest{
		Content:     []byte(content),
		Filename:    "notes.txt",
		ContentType: "text/plain",
		DisplayName: "Notes",
		GroupID:     group,
	}
}
