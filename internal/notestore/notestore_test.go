package notestore

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "notes.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func rec(id, text string, updated time.Time) models.NoteRecord {
	return models.NoteRecord{
		NoteID:       id,
		MarkdownText: text,
		CreatedAtIso: updated.UTC().Format(time.RFC3339),
		UpdatedAtIso: updated.UTC().Format(time.RFC3339),
	}
}

func TestPutAndGet(t *testing.T) {
	db := testDB(t)
	want := rec("n1", "# Hello", time.Now())
	want.Pinned = true
	want.Attachments = map[string]models.Attachment{
		"img": {Name: "img.png", Mime: "image/png", Data: "aGk="},
	}
	if err := db.Put("u1", want); err != nil {
		t.Fatal(err)
	}

	got, err := db.Get("u1", "n1")
	if err != nil {
		t.Fatal(err)
	}
	if got.MarkdownText != want.MarkdownText || !got.Pinned {
		t.Fatalf("record mismatch: %+v", got)
	}
	if got.Attachments["img"].Mime != "image/png" {
		t.Fatalf("attachments lost: %+v", got.Attachments)
	}
}

func TestGetMissingNote(t *testing.T) {
	db := testDB(t)
	_, err := db.Get("u1", "absent")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPutRejectsBlankNoteID(t *testing.T) {
	db := testDB(t)
	if err := db.Put("u1", models.NoteRecord{MarkdownText: "orphan"}); err == nil {
		t.Fatal("expected error for blank note id")
	}
}

func TestPutReplaces(t *testing.T) {
	db := testDB(t)
	if err := db.Put("u1", rec("n1", "v1", time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := db.Put("u1", rec("n1", "v2", time.Now())); err != nil {
		t.Fatal(err)
	}
	got, err := db.Get("u1", "n1")
	if err != nil {
		t.Fatal(err)
	}
	if got.MarkdownText != "v2" {
		t.Fatalf("expected replacement, got %q", got.MarkdownText)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	db := testDB(t)
	if err := db.Put("u1", rec("n1", "bye", time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := db.Remove("u1", "n1"); err != nil {
		t.Fatal(err)
	}
	if err := db.Remove("u1", "n1"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Get("u1", "n1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
}

func TestAllOrdersByRecency(t *testing.T) {
	db := testDB(t)
	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	if err := db.Put("u1", rec("old", "old", base)); err != nil {
		t.Fatal(err)
	}
	if err := db.Put("u1", rec("new", "new", base.Add(time.Hour))); err != nil {
		t.Fatal(err)
	}

	all, err := db.All("u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 records, got %d", len(all))
	}
	if all[0].NoteID != "new" || all[1].NoteID != "old" {
		t.Fatalf("expected recency order, got %v then %v", all[0].NoteID, all[1].NoteID)
	}
}

func TestUsersAreIsolated(t *testing.T) {
	db := testDB(t)
	if err := db.Put("u1", rec("n1", "mine", time.Now())); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Get("u2", "n1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected isolation across users, got %v", err)
	}
	all, err := db.All("u2")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Fatalf("expected no records for u2, got %d", len(all))
	}
}
