package engine

// NoteSyncMetadata carries the three monotonically-informative counters kept
// per note, per user.
//
// Invariant: ClientEditSeq >= ServerEditSeq; the gap between them is exactly
// the number of unacknowledged local edits to the note.
type NoteSyncMetadata struct {
	// ClientEditSeq counts locally-originated mutations of this note. It is
	// incremented once per local edit and never decremented.
	ClientEditSeq int64 `json:"client_edit_seq"`
	// ServerEditSeq is the highest edit sequence the server has acknowledged.
	ServerEditSeq int64 `json:"server_edit_seq"`
	// ServerVersion is the server-assigned optimistic-concurrency version,
	// opaque beyond equality and ordering.
	ServerVersion int64 `json:"server_version"`
}

// UnackedEdits returns the number of local edits the server has not seen.
func (m NoteSyncMetadata) UnackedEdits() int64 {
	return m.ClientEditSeq - m.ServerEditSeq
}

// AcknowledgeServer records a server acknowledgement. ClientEditSeq is raised
// to at least the acknowledged sequence: an acknowledgement can never be
// staler than the edit it acknowledges.
func (m *NoteSyncMetadata) AcknowledgeServer(editSeq, version int64) {
	m.ServerEditSeq = editSeq
	m.ServerVersion = version
	if m.ClientEditSeq < editSeq {
		m.ClientEditSeq = editSeq
	}
}
