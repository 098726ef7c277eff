package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/engine"
	"github.com/starford/raido/internal/models"
)

// Handler serves the notes and sync endpoints. Note mutations write the
// local store first and then record the mutation on the engine, which queues
// it for delivery; this is the "UI mutation" entry point of the sync flow.
type Handler struct {
	notes engine.NoteStore
	sync  *engine.Manager
	clock func() time.Time
}

// NewHandler creates a handler over the local note store and sync engine.
func NewHandler(notes engine.NoteStore, sync *engine.Manager) *Handler {
	return &Handler{notes: notes, sync: sync, clock: time.Now}
}

// ListNotes handles GET /notes.
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	userID := h.sync.ActiveUserID()
	if userID == "" {
		writeJSON(w, http.StatusConflict, errorBody(apperr.ErrNoSession.Error()))
		return
	}
	notes, err := h.notes.All(userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	if notes == nil {
		notes = []models.NoteRecord{}
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: notes, Total: len(notes)})
}

// GetNote handles GET /notes/{noteID}.
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	userID := h.sync.ActiveUserID()
	if userID == "" {
		writeJSON(w, http.StatusConflict, errorBody(apperr.ErrNoSession.Error()))
		return
	}
	noteID := chi.URLParam(r, "noteID")
	rec, err := h.notes.Get(userID, noteID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("note not found"))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// UpsertNote handles PUT /notes/{noteID}: create-or-replace, matching the
// engine's upsert semantics.
func (h *Handler) UpsertNote(w http.ResponseWriter, r *http.Request) {
	userID := h.sync.ActiveUserID()
	if userID == "" {
		writeJSON(w, http.StatusConflict, errorBody(apperr.ErrNoSession.Error()))
		return
	}
	noteID := chi.URLParam(r, "noteID")
	var req UpsertNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}

	rec := models.NoteRecord{
		NoteID:         noteID,
		MarkdownText:   req.MarkdownText,
		Pinned:         req.Pinned,
		Attachments:    req.Attachments,
		Classification: req.Classification,
	}
	if prior, err := h.notes.Get(userID, noteID); err == nil {
		rec.CreatedAtIso = prior.CreatedAtIso
	}
	rec.Touch(h.clock())

	if !rec.Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody("note id is required"))
		return
	}
	if err := h.notes.Put(userID, rec); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	h.sync.RecordLocalUpsert(rec)
	writeJSON(w, http.StatusOK, rec)
}

// DeleteNote handles DELETE /notes/{noteID}.
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	userID := h.sync.ActiveUserID()
	if userID == "" {
		writeJSON(w, http.StatusConflict, errorBody(apperr.ErrNoSession.Error()))
		return
	}
	noteID := chi.URLParam(r, "noteID")

	var prior *models.NoteRecord
	if rec, err := h.notes.Get(userID, noteID); err == nil {
		prior = &rec
	} else if !errors.Is(err, apperr.ErrNotFound) {
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	if err := h.notes.Remove(userID, noteID); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	h.sync.RecordLocalDelete(noteID, prior)
	w.WriteHeader(http.StatusNoContent)
}

// RunSync handles POST /sync: a manual synchronization trigger.
func (h *Handler) RunSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRunRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
			return
		}
	}
	ok := h.sync.Synchronize(r.Context(), engine.SyncOptions{SnapshotOnly: req.SnapshotOnly})
	writeJSON(w, http.StatusOK, SyncRunResponse{Synchronized: ok})
}

// SyncState handles GET /sync/state.
func (h *Handler) SyncState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sync.DebugState())
}
