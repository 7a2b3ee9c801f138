package chunk

import (
	"testing"
	"time"
)

func TestNew_Valid(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	c, err := New("doc-1", "ext-1", 2, "A sentence.", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.ID() == "" {
		t.Error("ID() should be generated")
	}
	if c.DocumentID() != "doc-1" || c.ExternalID() != "ext-1" || c.Index() != 2 || c.Text() != "A sentence." {
		t.Errorf("unexpected chunk: %+v", c)
	}
	if c.CreatedAt().Location() != time.UTC {
		t.Errorf("CreatedAt() not UTC: %v", c.CreatedAt())
	}
}

func TestNew_Invalid(t *testing.T) {
	now := time.Now()
	if _, err := New("", "e", 0, "t", now); err == nil {
		t.Error("expected error for empty document id")
	}
	if _, err := New("d", "", 0, "t", now); err == nil {
		t.Error("expected error for empty external id")
	}
	if _, err := New("d", "e", -1, "t", now); err == nil {
		t.Error("expected error for negative index")
	}
	if _, err := New("d", "e", 0, "", now); err == nil {
		t.Error("expected error for empty text")
	}
}
