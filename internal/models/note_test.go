package models

import (
	"testing"
	"time"
)

func TestValid(t *testing.T) {
	if (NoteRecord{NoteID: "n1"}).Valid() != true {
		t.Fatal("expected valid record")
	}
	if (NoteRecord{}).Valid() {
		t.Fatal("blank note id must be invalid")
	}
	if (NoteRecord{NoteID: "   "}).Valid() {
		t.Fatal("whitespace note id must be invalid")
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := NoteRecord{
		NoteID:       "n1",
		MarkdownText: "text",
		Attachments: map[string]Attachment{
			"a": {Name: "a.png", Mime: "image/png"},
		},
		Classification: map[string]any{
			"title": "T",
			"tags":  []any{"x", "y"},
		},
	}
	cp := orig.Clone()

	cp.Attachments["b"] = Attachment{Name: "b.png"}
	if _, leaked := orig.Attachments["b"]; leaked {
		t.Fatal("attachment map shared between clone and original")
	}

	cp.Classification["title"] = "changed"
	if orig.Classification["title"] != "T" {
		t.Fatal("classification map shared between clone and original")
	}
}

func TestTouch(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	var rec NoteRecord
	rec.Touch(now)

	want := "2026-03-01T09:30:00Z"
	if rec.CreatedAtIso != want || rec.UpdatedAtIso != want || rec.LastActivityIso != want {
		t.Fatalf("unexpected stamps: %+v", rec)
	}

	// A later touch keeps the creation stamp.
	rec.Touch(now.Add(time.Hour))
	if rec.CreatedAtIso != want {
		t.Fatalf("created stamp must be stable, got %s", rec.CreatedAtIso)
	}
	if rec.UpdatedAtIso != "2026-03-01T10:30:00Z" {
		t.Fatalf("updated stamp not advanced: %s", rec.UpdatedAtIso)
	}
}
