// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Raido's note collection and sync engine for LLM
// integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/engine"
	"github.com/starford/raido/internal/models"
)

// Server wraps the MCP server with Raido tools.
type Server struct {
	mcp   *server.MCPServer
	notes engine.NoteStore
	sync  *engine.Manager
	clock func() time.Time
}

// New creates a new MCP server with all Raido tools registered.
func New(notes engine.NoteStore, sync *engine.Manager) *Server {
	s := &Server{notes: notes, sync: sync, clock: time.Now}

	s.mcp = server.NewMCPServer(
		"Raido",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List all notes in the local collection, most recently updated first."),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("get_note",
		mcp.WithDescription("Read a note record, including its Markdown text and metadata."),
		mcp.WithString("note_id", mcp.Required(), mcp.Description("Identifier of the note")),
	), s.getNote)

	s.mcp.AddTool(mcp.NewTool("upsert_note",
		mcp.WithDescription("Create or replace a note. The edit is queued for delivery to the backend."),
		mcp.WithString("note_id", mcp.Required(), mcp.Description("Identifier of the note")),
		mcp.WithString("markdown_text", mcp.Required(), mcp.Description("Full Markdown content of the note")),
	), s.upsertNote)

	s.mcp.AddTool(mcp.NewTool("delete_note",
		mcp.WithDescription("Delete a note. The deletion is queued for delivery to the backend."),
		mcp.WithString("note_id", mcp.Required(), mcp.Description("Identifier of the note")),
	), s.deleteNote)

	s.mcp.AddTool(mcp.NewTool("sync_now",
		mcp.WithDescription("Run a synchronization pass: push queued edits, then reconcile the server snapshot."),
	), s.syncNow)

	s.mcp.AddTool(mcp.NewTool("sync_state",
		mcp.WithDescription("Inspect the sync engine: pending operations, conflicts, and per-note sequence state."),
	), s.syncState)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := s.sync.ActiveUserID()
	if userID == "" {
		return mcp.NewToolResultError(apperr.ErrNoSession.Error()), nil
	}
	notes, err := s.notes.All(userID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if notes == nil {
		notes = []models.NoteRecord{}
	}
	out, _ := json.MarshalIndent(notes, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	noteID, err := req.RequireString("note_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	userID := s.sync.ActiveUserID()
	if userID == "" {
		return mcp.NewToolResultError(apperr.ErrNoSession.Error()), nil
	}
	rec, err := s.notes.Get(userID, noteID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", noteID)), nil
	}
	out, _ := json.MarshalIndent(rec, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) upsertNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	noteID, err := req.RequireString("note_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("markdown_text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	userID := s.sync.ActiveUserID()
	if userID == "" {
		return mcp.NewToolResultError(apperr.ErrNoSession.Error()), nil
	}

	rec := models.NoteRecord{NoteID: noteID, MarkdownText: text}
	if prior, getErr := s.notes.Get(userID, noteID); getErr == nil {
		rec.CreatedAtIso = prior.CreatedAtIso
		rec.Pinned = prior.Pinned
		rec.Attachments = prior.Attachments
		rec.Classification = prior.Classification
	}
	rec.Touch(s.clock())

	if !rec.Valid() {
		return mcp.NewToolResultError("note id is required"), nil
	}
	if err := s.notes.Put(userID, rec); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.sync.RecordLocalUpsert(rec)
	return mcp.NewToolResultText(fmt.Sprintf("saved: %s", noteID)), nil
}

func (s *Server) deleteNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	noteID, err := req.RequireString("note_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	userID := s.sync.ActiveUserID()
	if userID == "" {
		return mcp.NewToolResultError(apperr.ErrNoSession.Error()), nil
	}

	var prior *models.NoteRecord
	if rec, getErr := s.notes.Get(userID, noteID); getErr == nil {
		prior = &rec
	} else if !errors.Is(getErr, apperr.ErrNotFound) {
		return mcp.NewToolResultError(getErr.Error()), nil
	}
	if err := s.notes.Remove(userID, noteID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.sync.RecordLocalDelete(noteID, prior)
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %s", noteID)), nil
}

func (s *Server) syncNow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ok := s.sync.Synchronize(ctx, engine.SyncOptions{})
	if !ok {
		return mcp.NewToolResultText("synchronization did not complete (offline, no session, or a pass already running)"), nil
	}
	return mcp.NewToolResultText("synchronized"), nil
}

func (s *Server) syncState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	state := s.sync.DebugState()
	out, _ := json.MarshalIndent(state, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}
