package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/raido/internal/engine"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(notes engine.NoteStore, sync *engine.Manager, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(notes, sync)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Local note collection (the editing surface).
	r.Get("/notes", h.ListNotes)
	r.Get("/notes/{noteID}", h.GetNote)
	r.Put("/notes/{noteID}", h.UpsertNote)
	r.Delete("/notes/{noteID}", h.DeleteNote)

	// Sync engine.
	r.Post("/sync", h.RunSync)
	r.Get("/sync/state", h.SyncState)

	// SSE stream of engine events (same auth).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
