package document

import (
	"strings"
	"testing"
	"time"

	"github.com/kailas-cloud/docrag/internal/domain/chunk"
	"github.com/kailas-cloud/docrag/internal/domain/conversation"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func validParams() Params {
	return Params{
		Name:             "Mathematics 101",
		OriginalFilename: "math.pdf",
		ContentType:      "application/pdf",
		FileSize:         42,
		StorageKey:       "documents/1_abcdefgh_math.pdf",
		Description:      "Lecture notes",
		GroupID:          "lecture-1",
	}
}

func TestNew_Valid(t *testing.T) {
	doc, err := New(validParams(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.ID() == "" {
		t.Error("ID() should be generated")
	}
	if doc.Name() != "Mathematics 101" {
		t.Errorf("Name() = %q", doc.Name())
	}
	if doc.StorageKey() != "documents/1_abcdefgh_math.pdf" {
		t.Errorf("StorageKey() = %q", doc.StorageKey())
	}
	if !doc.CreatedAt().Equal(now) || !doc.UpdatedAt().Equal(now) {
		t.Errorf("timestamps = %v / %v", doc.CreatedAt(), doc.UpdatedAt())
	}
	if doc.ChunkCount() != 0 {
		t.Errorf("ChunkCount() = %d, want 0", doc.ChunkCount())
	}
}

func TestNew_UniqueIDs(t *testing.T) {
	a, _ := New(validParams(), now)
	b, _ := New(validParams(), now)
	if a.ID() == b.ID() {
		t.Fatalf("expected distinct ids, both %q", a.ID())
	}
}

func TestNew_TrimsName(t *testing.T) {
	p := validParams()
	p.Name = "  Notes  "
	doc, err := New(p, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Name() != "Notes" {
		t.Errorf("Name() = %q", doc.Name())
	}
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Params)
		want   string
	}{
		{"empty name", func(p *Params) { p.Name = " " }, "name is required"},
		{"long name", func(p *Params) { p.Name = strings.Repeat("a", MaxNameLength+1) }, "too long"},
		{"no filename", func(p *Params) { p.OriginalFilename = "" }, "filename is required"},
		{"no storage key", func(p *Params) { p.StorageKey = "" }, "storage key"},
		{"negative size", func(p *Params) { p.FileSize = -1 }, "negative"},
		{"long description", func(p *Params) {
			p.Description = strings.Repeat("d", MaxDescriptionLength+1)
		}, "description"},
		{"long group", func(p *Params) { p.GroupID = strings.Repeat("g", MaxGroupIDLength+1) }, "group"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := validParams()
			tc.mutate(&p)
			_, err := New(p, now)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error = %q, want substring %q", err, tc.want)
			}
		})
	}
}

func TestReconstruct_ChunkCountFromChunks(t *testing.T) {
	chunks := []chunk.Chunk{
		chunk.Reconstruct("c0", "d1", "e0", 0, "A.", now),
		chunk.Reconstruct("c1", "d1", "e1", 1, "B.", now),
	}
	doc := Reconstruct(State{ID: "d1", Name: "n", Chunks: chunks})
	if doc.ChunkCount() != 2 {
		t.Errorf("ChunkCount() = %d, want 2", doc.ChunkCount())
	}

	counted := Reconstruct(State{ID: "d1", Name: "n", ChunkCount: 5})
	if counted.ChunkCount() != 5 {
		t.Errorf("ChunkCount() = %d, want 5", counted.ChunkCount())
	}
}

func TestWithMetadata(t *testing.T) {
	doc, _ := New(validParams(), now)
	later := now.Add(time.Hour)

	updated, err := doc.WithMetadata("Renamed", "", "", later)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Name() != "Renamed" || updated.Description() != "" || updated.GroupID() != "" {
		t.Errorf("unexpected metadata: %q %q %q", updated.Name(), updated.Description(), updated.GroupID())
	}
	if !updated.UpdatedAt().Equal(later) {
		t.Errorf("UpdatedAt() = %v", updated.UpdatedAt())
	}
	if doc.Name() != "Mathematics 101" {
		t.Error("original document mutated")
	}

	if _, err := doc.WithMetadata("", "", "", later); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestWithConversation(t *testing.T) {
	doc, _ := New(validParams(), now)
	log, _ := conversation.Log{}.Append(conversation.Human, "hello", now)

	withLog := doc.WithConversation(log, now)
	if len(withLog.Conversation()) != 1 {
		t.Fatalf("Conversation() len = %d", len(withLog.Conversation()))
	}
	if len(doc.Conversation()) != 0 {
		t.Error("original document mutated")
	}
}

func TestState_RoundTrip(t *testing.T) {
	doc, _ := New(validParams(), now)
	back := Reconstruct(doc.State())
	if back.ID() != doc.ID() || back.StorageKey() != doc.StorageKey() || back.GroupID() != doc.GroupID() {
		t.Errorf("round trip mismatch: %+v vs %+v", back.State(), doc.State())
	}
}
