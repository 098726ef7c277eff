// Package models defines the domain types for Raido.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Attachment is an opaque attachment descriptor carried inside a note record.
// Raido never interprets attachment contents; they round-trip through the
// backend as part of the record payload.
type Attachment struct {
	Name string `json:"name,omitempty"`
	Mime string `json:"mime,omitempty"`
	Data string `json:"data,omitempty"`
}

// NoteRecord is the user-visible unit of synchronization.
//
// A record is valid only when NoteID is non-empty. An empty MarkdownText is a
// legal tombstone-like state for local bookkeeping and is not the same as a
// network delete.
type NoteRecord struct {
	NoteID          string                `json:"noteId"`
	MarkdownText    string                `json:"markdownText"`
	CreatedAtIso    string                `json:"createdAtIso,omitempty"`
	UpdatedAtIso    string                `json:"updatedAtIso,omitempty"`
	LastActivityIso string                `json:"lastActivityIso,omitempty"`
	Pinned          bool                  `json:"pinned,omitempty"`
	Attachments     map[string]Attachment `json:"attachments,omitempty"`
	Classification  map[string]any        `json:"classification,omitempty"`
}

// Valid reports whether the record can participate in sync.
func (r NoteRecord) Valid() bool {
	return strings.TrimSpace(r.NoteID) != ""
}

// Clone returns a deep copy of the record.
func (r NoteRecord) Clone() NoteRecord {
	out := r
	if r.Attachments != nil {
		out.Attachments = make(map[string]Attachment, len(r.Attachments))
		for k, v := range r.Attachments {
			out.Attachments[k] = v
		}
	}
	if r.Classification != nil {
		// Classification is opaque structured metadata; round-trip through
		// JSON so nested maps are not shared with the original.
		raw, err := json.Marshal(r.Classification)
		if err == nil {
			var copied map[string]any
			if json.Unmarshal(raw, &copied) == nil {
				out.Classification = copied
			}
		}
	}
	return out
}

// Touch stamps the updated/last-activity fields with now.
func (r *NoteRecord) Touch(now time.Time) {
	iso := now.UTC().Format(time.RFC3339)
	if r.CreatedAtIso == "" {
		r.CreatedAtIso = iso
	}
	r.UpdatedAtIso = iso
	r.LastActivityIso = iso
}
