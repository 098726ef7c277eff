package api

import (
	"github.com/starford/raido/internal/engine"
	"github.com/starford/raido/internal/models"
)

// UpsertNoteRequest is the request body for creating or updating a note.
type UpsertNoteRequest struct {
	MarkdownText   string                       `json:"markdownText"`
	Pinned         bool                         `json:"pinned,omitempty"`
	Attachments    map[string]models.Attachment `json:"attachments,omitempty"`
	Classification map[string]any               `json:"classification,omitempty"`
}

// NoteListResponse wraps the local note collection.
type NoteListResponse struct {
	Notes []models.NoteRecord `json:"notes"`
	Total int                 `json:"total"`
}

// SyncRunRequest is the request body for a manual synchronization pass.
type SyncRunRequest struct {
	// SnapshotOnly pulls remote changes without pushing local edits.
	SnapshotOnly bool `json:"snapshotOnly,omitempty"`
}

// SyncRunResponse reports whether the pass made forward progress.
type SyncRunResponse struct {
	Synchronized bool `json:"synchronized"`
}

// SyncStateResponse is the engine's diagnostic snapshot.
type SyncStateResponse = engine.DebugState
