package engine

import "testing"

func TestAcknowledgeServerRaisesClientCursor(t *testing.T) {
	var meta NoteSyncMetadata
	meta.AcknowledgeServer(5, 3)

	if meta.ServerEditSeq != 5 || meta.ServerVersion != 3 {
		t.Fatalf("unexpected server state: %+v", meta)
	}
	// The local cursor never trails the acknowledged server cursor.
	if meta.ClientEditSeq != 5 {
		t.Fatalf("expected client cursor raised to 5, got %d", meta.ClientEditSeq)
	}
	if meta.UnackedEdits() != 0 {
		t.Fatalf("expected no unacked edits, got %d", meta.UnackedEdits())
	}
}

func TestAcknowledgeServerKeepsNewerClientCursor(t *testing.T) {
	meta := NoteSyncMetadata{ClientEditSeq: 7}
	meta.AcknowledgeServer(4, 2)

	if meta.ClientEditSeq != 7 {
		t.Fatalf("client cursor must not regress, got %d", meta.ClientEditSeq)
	}
	if meta.UnackedEdits() != 3 {
		t.Fatalf("expected 3 unacked edits, got %d", meta.UnackedEdits())
	}
}
