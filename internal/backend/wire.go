package backend

import "encoding/json"

// Operation is one queued mutation in its wire shape, submitted as part of a
// batch to POST {sync path}.
type Operation struct {
	NoteID            string          `json:"note_id"`
	Operation         string          `json:"operation"`
	ClientEditSeq     int64           `json:"client_edit_seq"`
	ClientDevice      string          `json:"client_device,omitempty"`
	ClientTimeSeconds int64           `json:"client_time_s"`
	CreatedAtSeconds  int64           `json:"created_at_s"`
	UpdatedAtSeconds  int64           `json:"updated_at_s"`
	Payload           json.RawMessage `json:"payload,omitempty"`
}

// Result is the server's verdict for one submitted operation. The server is
// contractually required to return one result per operation, in submission
// order; callers match results to operations by array position.
type Result struct {
	NoteID            string          `json:"note_id"`
	Accepted          bool            `json:"accepted"`
	Version           int64           `json:"version"`
	UpdatedAtSeconds  int64           `json:"updated_at_s"`
	LastWriterEditSeq int64           `json:"last_writer_edit_seq"`
	IsDeleted         bool            `json:"is_deleted"`
	Payload           json.RawMessage `json:"payload,omitempty"`
}

// SnapshotNote is one entry of the authoritative snapshot returned by
// GET {snapshot path}. Deleted notes appear as tombstones with IsDeleted set.
type SnapshotNote struct {
	NoteID            string          `json:"note_id"`
	Version           int64           `json:"version"`
	LastWriterEditSeq int64           `json:"last_writer_edit_seq"`
	IsDeleted         bool            `json:"is_deleted"`
	CreatedAtSeconds  int64           `json:"created_at_s"`
	UpdatedAtSeconds  int64           `json:"updated_at_s"`
	Payload           json.RawMessage `json:"payload,omitempty"`
}

type syncRequest struct {
	Operations []Operation `json:"operations"`
}

type syncResponse struct {
	Results []Result `json:"results"`
}

type snapshotResponse struct {
	Notes []SnapshotNote `json:"notes"`
}
