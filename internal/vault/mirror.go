package vault

import (
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/engine"
	"github.com/starford/raido/internal/models"
)

// Mirror keeps the vault directory and the local note store in step.
// File edits flow into the store and the sync queue; reconciled records
// flow back out as files. A per-note content checksum breaks the loop:
// a file write the mirror made itself never re-enters as a local edit.
type Mirror struct {
	vault  *Vault
	notes  engine.NoteStore
	sync   *engine.Manager
	logger *slog.Logger
	clock  func() time.Time

	mu       sync.Mutex
	mirrored map[string]string // noteID → checksum of last content seen
}

// NewMirror creates a mirror over the vault, note store, and sync engine.
func NewMirror(v *Vault, notes engine.NoteStore, sync *engine.Manager, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		vault:    v,
		notes:    notes,
		sync:     sync,
		logger:   logger,
		clock:    time.Now,
		mirrored: make(map[string]string),
	}
}

// noteIDFor maps a vault-relative file path to its note id.
func noteIDFor(rel string) string {
	return strings.TrimSuffix(filepath.ToSlash(rel), ".md")
}

// pathFor maps a note id to its vault-relative file path.
func pathFor(noteID string) string {
	return noteID + ".md"
}

// ScanOnce walks the vault and applies every Markdown file as a local
// mutation. Called once at startup, after the session is established, so
// edits made while the process was down are picked up.
func (m *Mirror) ScanOnce() error {
	paths, err := m.vault.List()
	if err != nil {
		return err
	}
	for _, rel := range paths {
		m.applyFile(rel)
	}
	return nil
}

// applyFile reads a vault file and records it as a local upsert when its
// content differs from the stored record.
func (m *Mirror) applyFile(rel string) {
	userID := m.sync.ActiveUserID()
	if userID == "" {
		return
	}
	data, err := m.vault.Read(rel)
	if err != nil {
		m.logger.Warn("vault: read failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	noteID := noteIDFor(rel)
	sum := checksum(data)

	m.mu.Lock()
	if m.mirrored[noteID] == sum {
		m.mu.Unlock()
		return
	}
	m.mirrored[noteID] = sum
	m.mu.Unlock()

	rec := models.NoteRecord{
		NoteID:         noteID,
		MarkdownText:   string(data),
		Classification: classify(data),
	}
	if prior, getErr := m.notes.Get(userID, noteID); getErr == nil {
		if prior.MarkdownText == rec.MarkdownText {
			return
		}
		rec.CreatedAtIso = prior.CreatedAtIso
		rec.Pinned = prior.Pinned
		rec.Attachments = prior.Attachments
	}
	rec.Touch(m.clock())

	if err := m.notes.Put(userID, rec); err != nil {
		m.logger.Warn("vault: store put failed", slog.String("note_id", noteID), slog.String("error", err.Error()))
		return
	}
	m.logger.Debug("vault: file applied", slog.String("note_id", noteID))
	m.sync.RecordLocalUpsert(rec)
}

// removeFile records the deletion of a vault file as a local delete.
// Only notes the mirror has seen are removed, so a stray event for a file
// that never belonged to the collection cannot destroy a record.
func (m *Mirror) removeFile(rel string) {
	userID := m.sync.ActiveUserID()
	if userID == "" {
		return
	}
	noteID := noteIDFor(rel)

	m.mu.Lock()
	_, tracked := m.mirrored[noteID]
	delete(m.mirrored, noteID)
	m.mu.Unlock()
	if !tracked {
		return
	}

	var prior *models.NoteRecord
	if rec, err := m.notes.Get(userID, noteID); err == nil {
		prior = &rec
	} else if !errors.Is(err, apperr.ErrNotFound) {
		m.logger.Warn("vault: store get failed", slog.String("note_id", noteID), slog.String("error", err.Error()))
		return
	}
	if err := m.notes.Remove(userID, noteID); err != nil {
		m.logger.Warn("vault: store remove failed", slog.String("note_id", noteID), slog.String("error", err.Error()))
		return
	}
	m.logger.Debug("vault: file removed", slog.String("note_id", noteID))
	m.sync.RecordLocalDelete(noteID, prior)
}

// reconcile compares the vault against the tracked set after a rename
// burst: files that vanished become deletes, files that appeared (rename
// targets) become upserts.
func (m *Mirror) reconcile() {
	paths, err := m.vault.List()
	if err != nil {
		m.logger.Warn("vault: reconcile list failed", slog.String("error", err.Error()))
		return
	}
	onDisk := make(map[string]struct{}, len(paths))
	for _, rel := range paths {
		onDisk[noteIDFor(rel)] = struct{}{}
	}

	m.mu.Lock()
	var stale []string
	for noteID := range m.mirrored {
		if _, ok := onDisk[noteID]; !ok {
			stale = append(stale, noteID)
		}
	}
	m.mu.Unlock()

	for _, noteID := range stale {
		m.removeFile(pathFor(noteID))
	}
	for _, rel := range paths {
		m.applyFile(rel)
	}
}

// SnapshotApplied writes the reconciled record set back to the vault.
// Tracked files whose note is no longer in the set are deleted; files the
// mirror never touched are left alone.
func (m *Mirror) SnapshotApplied(records []models.NoteRecord, source string) {
	present := make(map[string]struct{}, len(records))
	for _, rec := range records {
		present[rec.NoteID] = struct{}{}
		content := []byte(rec.MarkdownText)
		sum := checksum(content)

		m.mu.Lock()
		skip := m.mirrored[rec.NoteID] == sum
		if !skip {
			m.mirrored[rec.NoteID] = sum
		}
		m.mu.Unlock()
		if skip {
			continue
		}

		if err := m.vault.Write(pathFor(rec.NoteID), content); err != nil {
			m.logger.Warn("vault: mirror write failed",
				slog.String("note_id", rec.NoteID), slog.String("error", err.Error()))
		}
	}

	m.mu.Lock()
	var gone []string
	for noteID := range m.mirrored {
		if _, ok := present[noteID]; !ok {
			gone = append(gone, noteID)
			delete(m.mirrored, noteID)
		}
	}
	m.mu.Unlock()

	for _, noteID := range gone {
		if err := m.vault.Delete(pathFor(noteID)); err != nil {
			m.logger.Warn("vault: mirror delete failed",
				slog.String("note_id", noteID), slog.String("error", err.Error()))
		}
	}

	m.logger.Debug("vault: mirror updated",
		slog.String("source", source), slog.Int("notes", len(records)))
}

// ConflictsDetected logs the conflict count; conflicted drafts stay in the
// vault untouched until the user edits or discards them.
func (m *Mirror) ConflictsDetected(count int) {
	if count > 0 {
		m.logger.Info("vault: sync conflicts detected", slog.Int("count", count))
	}
}
