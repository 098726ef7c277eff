package mcpserver

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/backend"
	"github.com/starford/raido/internal/engine"
	"github.com/starford/raido/internal/models"
)

type memNotes struct {
	mu   sync.Mutex
	recs map[string]models.NoteRecord
}

func (s *memNotes) Get(_, noteID string) (models.NoteRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[noteID]
	if !ok {
		return models.NoteRecord{}, apperr.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *memNotes) Put(_ string, rec models.NoteRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recs == nil {
		s.recs = make(map[string]models.NoteRecord)
	}
	s.recs[rec.NoteID] = rec.Clone()
	return nil
}

func (s *memNotes) Remove(_, noteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, noteID)
	return nil
}

func (s *memNotes) All(string) ([]models.NoteRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.NoteRecord
	for _, rec := range s.recs {
		out = append(out, rec.Clone())
	}
	return out, nil
}

type memQueue struct {
	mu   sync.Mutex
	data map[string][]engine.PendingOperation
}

func (s *memQueue) Load(userID string) ([]engine.PendingOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]engine.PendingOperation(nil), s.data[userID]...), nil
}

func (s *memQueue) Save(userID string, ops []engine.PendingOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		s.data = make(map[string][]engine.PendingOperation)
	}
	s.data[userID] = append([]engine.PendingOperation(nil), ops...)
	return nil
}

func (s *memQueue) Clear(string) error { return nil }

type memMeta struct {
	mu   sync.Mutex
	data map[string]map[string]engine.NoteSyncMetadata
}

func (s *memMeta) Load(userID string) (map[string]engine.NoteSyncMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]engine.NoteSyncMetadata, len(s.data[userID]))
	for k, v := range s.data[userID] {
		out[k] = v
	}
	return out, nil
}

func (s *memMeta) Save(userID string, meta map[string]engine.NoteSyncMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		s.data = make(map[string]map[string]engine.NoteSyncMetadata)
	}
	copied := make(map[string]engine.NoteSyncMetadata, len(meta))
	for k, v := range meta {
		copied[k] = v
	}
	s.data[userID] = copied
	return nil
}

func (s *memMeta) Clear(string) error { return nil }

type acceptBackend struct{}

func (acceptBackend) SyncOperations(_ context.Context, ops []backend.Operation) ([]backend.Result, error) {
	out := make([]backend.Result, len(ops))
	for i, op := range ops {
		out[i] = backend.Result{
			NoteID:            op.NoteID,
			Accepted:          true,
			Version:           op.ClientEditSeq,
			LastWriterEditSeq: op.ClientEditSeq,
			Payload:           op.Payload,
			IsDeleted:         op.Operation == "delete",
		}
	}
	return out, nil
}

func (acceptBackend) FetchSnapshot(context.Context) ([]backend.SnapshotNote, error) {
	return nil, nil
}

func testServer(t *testing.T, signedIn bool) (*Server, *memNotes) {
	t.Helper()
	notes := &memNotes{}
	mgr, err := engine.NewManager(engine.Config{
		Notes:    notes,
		Queue:    &memQueue{},
		Metadata: &memMeta{},
		Backend:  acceptBackend{},
	})
	if err != nil {
		t.Fatal(err)
	}
	if signedIn {
		mgr.HandleSignIn(context.Background(), "u1")
	}
	return New(notes, mgr), notes
}

func toolRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content type %T", res.Content[0])
	}
	return text.Text
}

func TestToolsRequireSession(t *testing.T) {
	srv, _ := testServer(t, false)
	res, err := srv.listNotes(context.Background(), toolRequest("list_notes", nil))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Fatal("expected error result without a session")
	}
}

func TestUpsertAndGetNote(t *testing.T) {
	srv, notes := testServer(t, true)

	res, err := srv.upsertNote(context.Background(), toolRequest("upsert_note", map[string]any{
		"note_id":       "n1",
		"markdown_text": "# From MCP",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, res))
	}

	stored, err := notes.Get("u1", "n1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.MarkdownText != "# From MCP" {
		t.Fatalf("store not updated: %+v", stored)
	}

	res, err = srv.getNote(context.Background(), toolRequest("get_note", map[string]any{"note_id": "n1"}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, res))
	}
	if !strings.Contains(resultText(t, res), "# From MCP") {
		t.Fatalf("note content missing from result: %s", resultText(t, res))
	}
}

func TestGetMissingNote(t *testing.T) {
	srv, _ := testServer(t, true)
	res, err := srv.getNote(context.Background(), toolRequest("get_note", map[string]any{"note_id": "absent"}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Fatal("expected error result for a missing note")
	}
}

func TestDeleteNoteTool(t *testing.T) {
	srv, notes := testServer(t, true)
	if err := notes.Put("u1", models.NoteRecord{NoteID: "n1", MarkdownText: "bye"}); err != nil {
		t.Fatal(err)
	}

	res, err := srv.deleteNote(context.Background(), toolRequest("delete_note", map[string]any{"note_id": "n1"}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, res))
	}
	if _, err := notes.Get("u1", "n1"); err == nil {
		t.Fatal("expected record removed")
	}
}

func TestListNotesTool(t *testing.T) {
	srv, notes := testServer(t, true)
	if err := notes.Put("u1", models.NoteRecord{NoteID: "n1", MarkdownText: "a"}); err != nil {
		t.Fatal(err)
	}

	res, err := srv.listNotes(context.Background(), toolRequest("list_notes", nil))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, res))
	}
	if !strings.Contains(resultText(t, res), `"noteId": "n1"`) {
		t.Fatalf("listing missing note: %s", resultText(t, res))
	}
}

func TestSyncNowTool(t *testing.T) {
	srv, _ := testServer(t, true)
	res, err := srv.syncNow(context.Background(), toolRequest("sync_now", nil))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, res))
	}
	if got := resultText(t, res); got != "synchronized" {
		t.Fatalf("unexpected result: %q", got)
	}
}

func TestSyncStateTool(t *testing.T) {
	srv, _ := testServer(t, true)
	res, err := srv.syncState(context.Background(), toolRequest("sync_state", nil))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resultText(t, res), `"active_user_id": "u1"`) {
		t.Fatalf("unexpected state: %s", resultText(t, res))
	}
}
