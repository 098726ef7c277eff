package engine

import (
	"encoding/json"

	"github.com/starford/raido/internal/models"
)

// OperationType enumerates the mutations a client can queue.
type OperationType string

const (
	OperationUpsert OperationType = "upsert"
	OperationDelete OperationType = "delete"
)

// OperationStatus tracks where a queued mutation sits in its lifecycle.
type OperationStatus string

const (
	// StatusPending marks an operation awaiting network delivery.
	StatusPending OperationStatus = "pending"
	// StatusConflict marks an operation the backend rejected under
	// optimistic concurrency. Conflicts are sticky until a fresh local
	// edit supersedes them.
	StatusConflict OperationStatus = "conflict"
)

// ConflictInfo snapshots the server's side of a rejected write so the UI can
// present both versions to the user.
type ConflictInfo struct {
	ServerEditSeq          int64           `json:"server_edit_seq"`
	ServerVersion          int64           `json:"server_version"`
	ServerUpdatedAtSeconds int64           `json:"server_updated_at_s"`
	ServerPayload          json.RawMessage `json:"server_payload,omitempty"`
	RejectedAtSeconds      int64           `json:"rejected_at_s"`
}

// PendingOperation is one queued local mutation not yet acknowledged by the
// backend. At most one entry exists per note with status pending: a new local
// edit overwrites the note's existing entry instead of appending.
//
// Upsert payloads are nil and resolved from the local note store at flush
// time, so rapid successive edits to the same note never grow the queue.
// Delete operations carry a snapshot of the prior record so a rejection can
// show the user what they tried to delete.
type PendingOperation struct {
	OperationID       string             `json:"operation_id"`
	NoteID            string             `json:"note_id"`
	Operation         OperationType      `json:"operation"`
	Payload           *models.NoteRecord `json:"payload,omitempty"`
	ClientEditSeq     int64              `json:"client_edit_seq"`
	CreatedAtSeconds  int64              `json:"created_at_s"`
	UpdatedAtSeconds  int64              `json:"updated_at_s"`
	ClientTimeSeconds int64              `json:"client_time_s"`
	Status            OperationStatus    `json:"status"`
	Conflict          *ConflictInfo      `json:"conflict,omitempty"`
}

// Clone returns a deep copy of the operation.
func (op PendingOperation) Clone() PendingOperation {
	out := op
	if op.Payload != nil {
		rec := op.Payload.Clone()
		out.Payload = &rec
	}
	if op.Conflict != nil {
		info := *op.Conflict
		if op.Conflict.ServerPayload != nil {
			info.ServerPayload = append(json.RawMessage(nil), op.Conflict.ServerPayload...)
		}
		out.Conflict = &info
	}
	return out
}
