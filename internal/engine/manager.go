// Package engine implements the offline-first synchronization engine: it
// queues local note mutations, flushes them to the backend in batches under
// optimistic concurrency, surfaces write conflicts, and reconciles
// authoritative snapshots without clobbering in-flight local work.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/raido/internal/backend"
	"github.com/starford/raido/internal/models"
)

// Backend is the slice of the network client the engine uses.
type Backend interface {
	SyncOperations(ctx context.Context, ops []backend.Operation) ([]backend.Result, error)
	FetchSnapshot(ctx context.Context) ([]backend.SnapshotNote, error)
}

// Config wires a Manager's collaborators. Notes, Queue, Metadata, and
// Backend are required.
type Config struct {
	Notes    NoteStore
	Queue    QueueStore
	Metadata MetadataStore
	Backend  Backend
	Events   Events
	// Device identifies this client on the wire (client_device).
	Device string
	Clock  func() time.Time
	Logger *slog.Logger
	// NewOperationID overrides operation id generation, for tests.
	NewOperationID func() string
}

// Manager owns one user session's sync state: the active user, the
// pending/conflict queue, and per-note cursors. All state mutations happen
// under a single mutex; the only concurrency it tolerates is network calls
// racing local edits, which the flush/reconcile algorithms handle by
// re-checking state after every suspension point.
type Manager struct {
	mu         sync.Mutex
	userID     string
	generation uint64
	queue      []PendingOperation
	metadata   map[string]NoteSyncMetadata
	flushing   bool

	notes      NoteStore
	queueStore QueueStore
	metaStore  MetadataStore
	backend    Backend
	events     Events
	device     string
	clock      func() time.Time
	newID      func() string
	logger     *slog.Logger
}

// NewManager validates cfg and returns an inert Manager; it does nothing
// until HandleSignIn establishes a session.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Notes == nil {
		return nil, fmt.Errorf("engine: note store is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("engine: queue store is required")
	}
	if cfg.Metadata == nil {
		return nil, fmt.Errorf("engine: metadata store is required")
	}
	if cfg.Backend == nil {
		return nil, fmt.Errorf("engine: backend client is required")
	}
	events := cfg.Events
	if events == nil {
		events = NopEvents{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := cfg.NewOperationID
	if newID == nil {
		newID = uuid.NewString
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		metadata:   make(map[string]NoteSyncMetadata),
		notes:      cfg.Notes,
		queueStore: cfg.Queue,
		metaStore:  cfg.Metadata,
		backend:    cfg.Backend,
		events:     events,
		device:     cfg.Device,
		clock:      clock,
		newID:      newID,
		logger:     logger,
	}, nil
}

// SignInResult reports which sign-in steps produced forward progress.
type SignInResult struct {
	Authenticated   bool
	QueueFlushed    bool
	SnapshotApplied bool
}

// HandleSignIn establishes the sync scope for userID: hydrate and load the
// durable stores, seed pending operations for locally-known notes the server
// has not seen, then flush and reconcile. Every step is failure-tolerant; a
// blank userID returns the zero result without side effects.
func (m *Manager) HandleSignIn(ctx context.Context, userID string) SignInResult {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return SignInResult{}
	}

	m.mu.Lock()
	m.generation++
	m.userID = userID
	m.queue = nil
	m.metadata = make(map[string]NoteSyncMetadata)
	gen := m.generation
	m.mu.Unlock()

	m.hydrateStores(ctx, userID)

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return SignInResult{}
	}
	if ops, err := m.queueStore.Load(userID); err != nil {
		m.logger.Warn("engine: load queue failed", slog.String("user_id", userID), slog.String("error", err.Error()))
	} else {
		m.queue = ops
	}
	if meta, err := m.metaStore.Load(userID); err != nil {
		m.logger.Warn("engine: load metadata failed", slog.String("user_id", userID), slog.String("error", err.Error()))
	} else if meta != nil {
		m.metadata = meta
	}
	m.seedLocalNotesLocked(userID)
	m.persistLocked()
	m.mu.Unlock()

	flushed := m.flush(ctx)
	applied := m.reconcileSnapshot(ctx)
	return SignInResult{
		Authenticated:   flushed || applied,
		QueueFlushed:    flushed,
		SnapshotApplied: applied,
	}
}

// HandleSignOut resets the in-memory session synchronously. Durable stores
// are left intact; an in-flight flush finishes harmlessly because its
// generation no longer matches.
func (m *Manager) HandleSignOut() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	m.userID = ""
	m.queue = nil
	m.metadata = make(map[string]NoteSyncMetadata)
}

// RecordLocalUpsert queues a locally-edited record for delivery. Without an
// active session, or for a structurally invalid record, this is a silent
// no-op: queuing intent outside a session is a UI concern, not a sync one.
func (m *Manager) RecordLocalUpsert(rec models.NoteRecord) {
	m.recordLocal(OperationUpsert, rec.NoteID, nil, rec.Valid())
}

// RecordLocalDelete queues a local delete. prior, when non-nil, is a snapshot
// of the record being deleted so a rejection can show the user what they
// tried to remove.
func (m *Manager) RecordLocalDelete(noteID string, prior *models.NoteRecord) {
	var payload *models.NoteRecord
	if prior != nil {
		snap := prior.Clone()
		payload = &snap
	}
	m.recordLocal(OperationDelete, noteID, payload, strings.TrimSpace(noteID) != "")
}

func (m *Manager) recordLocal(op OperationType, noteID string, payload *models.NoteRecord, valid bool) {
	m.mu.Lock()
	if m.userID == "" || !valid {
		m.mu.Unlock()
		return
	}

	// The user's fresh intent supersedes any stale conflict for this note.
	m.removeConflictLocked(noteID)

	meta := m.metadata[noteID]
	meta.ClientEditSeq++
	m.metadata[noteID] = meta

	m.putPendingLocked(noteID, op, payload, meta.ClientEditSeq)
	m.persistLocked()
	m.mu.Unlock()

	// Fire-and-forget: failures are swallowed and retried on the next
	// trigger (another edit, Synchronize, or app-level polling).
	go m.flush(context.Background())
}

// SyncOptions controls a manual synchronization pass. The zero value flushes
// the queue and then refreshes the snapshot.
type SyncOptions struct {
	// SnapshotOnly skips the queue flush, pulling remote changes without
	// racing a concurrent flush.
	SnapshotOnly bool
}

// Synchronize is the manual trigger exposed to the surrounding app, e.g. for
// periodic polling. It reports whether any step made forward progress; with
// no active session it is a no-op.
func (m *Manager) Synchronize(ctx context.Context, opts SyncOptions) bool {
	m.mu.Lock()
	if m.userID == "" {
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()

	flushed := false
	if !opts.SnapshotOnly {
		flushed = m.flush(ctx)
	}
	applied := m.reconcileSnapshot(ctx)
	return flushed || applied
}

// ActiveUserID returns the current sync scope, or "" when signed out.
func (m *Manager) ActiveUserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID
}

// DebugState is a read-only snapshot of session state for diagnostics.
type DebugState struct {
	ActiveUserID       string             `json:"active_user_id"`
	PendingOperations  []PendingOperation `json:"pending_operations"`
	ConflictOperations []PendingOperation `json:"conflict_operations"`
}

// DebugState returns defensive copies of the queue partitioned by status.
func (m *Manager) DebugState() DebugState {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := DebugState{
		ActiveUserID:       m.userID,
		PendingOperations:  []PendingOperation{},
		ConflictOperations: []PendingOperation{},
	}
	for _, op := range m.queue {
		switch op.Status {
		case StatusConflict:
			state.ConflictOperations = append(state.ConflictOperations, op.Clone())
		default:
			state.PendingOperations = append(state.PendingOperations, op.Clone())
		}
	}
	return state
}

// flush submits all pending operations in one batch and applies the results.
// The flushing flag is advisory mutual exclusion: a flush that finds one
// already in progress is dropped, not deferred. An empty queue succeeds
// without a network call; a failed batch request leaves the queue exactly as
// it was so the next trigger retries the whole batch.
func (m *Manager) flush(ctx context.Context) bool {
	m.mu.Lock()
	if m.userID == "" || m.flushing {
		m.mu.Unlock()
		return false
	}
	if len(m.queue) == 0 {
		m.mu.Unlock()
		return true
	}

	m.flushing = true
	gen := m.generation
	userID := m.userID

	type sentRef struct {
		operationID string
		editSeq     int64
	}
	ops := make([]backend.Operation, 0, len(m.queue))
	refs := make([]sentRef, 0, len(m.queue))
	kept := m.queue[:0]
	for _, op := range m.queue {
		if op.Status != StatusPending {
			kept = append(kept, op)
			continue
		}
		rec, ok, err := ResolvePayload(op, userID, m.notes)
		if err != nil {
			m.logger.Warn("engine: payload resolution failed",
				slog.String("note_id", op.NoteID), slog.String("error", err.Error()))
			kept = append(kept, op)
			continue
		}
		if !ok {
			// The note behind this lazily-resolved upsert is gone from the
			// local store; there is nothing left to send.
			continue
		}
		payload, err := json.Marshal(rec)
		if err != nil {
			m.logger.Warn("engine: payload encode failed",
				slog.String("note_id", op.NoteID), slog.String("error", err.Error()))
			kept = append(kept, op)
			continue
		}
		kept = append(kept, op)
		ops = append(ops, backend.Operation{
			NoteID:            op.NoteID,
			Operation:         string(op.Operation),
			ClientEditSeq:     op.ClientEditSeq,
			ClientDevice:      m.device,
			ClientTimeSeconds: op.ClientTimeSeconds,
			CreatedAtSeconds:  op.CreatedAtSeconds,
			UpdatedAtSeconds:  op.UpdatedAtSeconds,
			Payload:           payload,
		})
		refs = append(refs, sentRef{operationID: op.OperationID, editSeq: op.ClientEditSeq})
	}
	m.queue = kept

	if len(ops) == 0 {
		// Only conflicts (or voided upserts) remained; nothing to submit.
		m.persistLocked()
		m.flushing = false
		m.mu.Unlock()
		return true
	}
	m.mu.Unlock()

	results, err := m.backend.SyncOperations(ctx, ops)

	m.mu.Lock()
	m.flushing = false
	if m.generation != gen {
		// Session changed while the batch was in flight; the results belong
		// to a scope that no longer exists.
		m.mu.Unlock()
		return false
	}
	if err != nil {
		m.mu.Unlock()
		m.logger.Warn("engine: flush failed", slog.String("user_id", userID), slog.String("error", err.Error()))
		return false
	}

	conflicts := 0
	applied := false
	now := m.clock().Unix()
	for i, res := range results {
		if i >= len(refs) {
			break
		}
		ref := refs[i]

		meta := m.metadata[res.NoteID]
		meta.AcknowledgeServer(res.LastWriterEditSeq, res.Version)
		m.metadata[res.NoteID] = meta

		idx := m.findOperationLocked(ref.operationID)
		// A local edit that raced the network raised the entry's edit
		// sequence past what was submitted; that entry stays pending and
		// this result only updates bookkeeping.
		superseded := idx < 0 || m.queue[idx].ClientEditSeq > ref.editSeq

		if res.Accepted {
			if !superseded {
				m.queue = append(m.queue[:idx], m.queue[idx+1:]...)
				if m.applyAcceptedLocked(userID, res) {
					applied = true
				}
			}
			continue
		}
		if superseded {
			continue
		}
		m.queue[idx].Status = StatusConflict
		m.queue[idx].Conflict = &ConflictInfo{
			ServerEditSeq:          res.LastWriterEditSeq,
			ServerVersion:          res.Version,
			ServerUpdatedAtSeconds: res.UpdatedAtSeconds,
			ServerPayload:          append(json.RawMessage(nil), res.Payload...),
			RejectedAtSeconds:      now,
		}
		conflicts++
	}
	m.persistLocked()

	var records []models.NoteRecord
	if applied {
		records = m.recordSetLocked(userID)
	}
	m.mu.Unlock()

	if conflicts > 0 {
		m.emitConflicts(conflicts)
	}
	if applied {
		m.emitSnapshot(records, SourceSyncResults)
	}
	return true
}

// applyAcceptedLocked folds an accepted result into the local note store.
// The rejected path never reaches here: a losing write leaves the local
// record untouched so the user's draft survives.
func (m *Manager) applyAcceptedLocked(userID string, res backend.Result) bool {
	if res.IsDeleted {
		if err := m.notes.Remove(userID, res.NoteID); err != nil {
			m.logger.Warn("engine: remove accepted delete failed",
				slog.String("note_id", res.NoteID), slog.String("error", err.Error()))
			return false
		}
		return true
	}
	if len(res.Payload) == 0 {
		return false
	}
	var rec models.NoteRecord
	if err := json.Unmarshal(res.Payload, &rec); err != nil {
		m.logger.Warn("engine: decode accepted payload failed",
			slog.String("note_id", res.NoteID), slog.String("error", err.Error()))
		return false
	}
	if rec.NoteID == "" {
		rec.NoteID = res.NoteID
	}
	fillTimestamps(&rec, 0, res.UpdatedAtSeconds)
	if err := m.notes.Put(userID, rec); err != nil {
		m.logger.Warn("engine: apply accepted payload failed",
			slog.String("note_id", res.NoteID), slog.String("error", err.Error()))
		return false
	}
	return true
}

// reconcileSnapshot pulls the authoritative note set and merges it into local
// state. It only runs with zero pending operations, checked both before and
// after the network round-trip: a local edit queued while the request was in
// flight abandons the pass rather than overwriting the fresh edit.
func (m *Manager) reconcileSnapshot(ctx context.Context) bool {
	m.mu.Lock()
	if m.userID == "" || m.pendingCountLocked() > 0 {
		m.mu.Unlock()
		return false
	}
	gen := m.generation
	userID := m.userID
	m.mu.Unlock()

	notes, err := m.backend.FetchSnapshot(ctx)

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return false
	}
	if err != nil {
		m.mu.Unlock()
		m.logger.Warn("engine: snapshot fetch failed", slog.String("user_id", userID), slog.String("error", err.Error()))
		return false
	}
	if m.pendingCountLocked() > 0 {
		m.mu.Unlock()
		return false
	}

	for _, sn := range notes {
		meta := m.metadata[sn.NoteID]
		meta.AcknowledgeServer(sn.LastWriterEditSeq, sn.Version)
		m.metadata[sn.NoteID] = meta

		// A note in conflict keeps its local draft and the server-offered
		// alternative until the user resolves it.
		if m.hasConflictLocked(sn.NoteID) {
			continue
		}
		if sn.IsDeleted {
			if err := m.notes.Remove(userID, sn.NoteID); err != nil {
				m.logger.Warn("engine: snapshot delete failed",
					slog.String("note_id", sn.NoteID), slog.String("error", err.Error()))
			}
			continue
		}
		if len(sn.Payload) == 0 {
			continue
		}
		var rec models.NoteRecord
		if err := json.Unmarshal(sn.Payload, &rec); err != nil {
			m.logger.Warn("engine: decode snapshot payload failed",
				slog.String("note_id", sn.NoteID), slog.String("error", err.Error()))
			continue
		}
		if rec.NoteID == "" {
			rec.NoteID = sn.NoteID
		}
		fillTimestamps(&rec, sn.CreatedAtSeconds, sn.UpdatedAtSeconds)
		if err := m.notes.Put(userID, rec); err != nil {
			m.logger.Warn("engine: apply snapshot payload failed",
				slog.String("note_id", sn.NoteID), slog.String("error", err.Error()))
		}
	}
	m.persistLocked()
	records := m.recordSetLocked(userID)
	m.mu.Unlock()

	m.emitSnapshot(records, SourceSnapshot)
	return true
}

// --- session helpers ---

func (m *Manager) hydrateStores(ctx context.Context, userID string) {
	for _, store := range []any{m.queueStore, m.metaStore, m.notes} {
		h, ok := store.(Hydrator)
		if !ok {
			continue
		}
		if err := h.Hydrate(ctx, userID); err != nil {
			m.logger.Warn("engine: store hydration failed",
				slog.String("user_id", userID), slog.String("error", err.Error()))
		}
	}
}

// seedLocalNotesLocked creates pending upserts for locally-known notes the
// server has not caught up with: first-sync bootstrap, and recovery when
// metadata says edits were made that the server never acknowledged.
func (m *Manager) seedLocalNotesLocked(userID string) {
	recs, err := m.notes.All(userID)
	if err != nil {
		m.logger.Warn("engine: seed scan failed", slog.String("user_id", userID), slog.String("error", err.Error()))
		return
	}
	for _, rec := range recs {
		if !rec.Valid() || m.hasQueueEntryLocked(rec.NoteID) {
			continue
		}
		meta, known := m.metadata[rec.NoteID]
		if known && meta.UnackedEdits() <= 0 {
			continue
		}
		if !known {
			meta.ClientEditSeq = 1
		}
		m.metadata[rec.NoteID] = meta
		m.putPendingLocked(rec.NoteID, OperationUpsert, nil, meta.ClientEditSeq)
	}
}

// --- queue helpers (all require m.mu held) ---

func (m *Manager) putPendingLocked(noteID string, op OperationType, payload *models.NoteRecord, editSeq int64) {
	now := m.clock().Unix()
	for i := range m.queue {
		if m.queue[i].NoteID != noteID {
			continue
		}
		// Overwrite in place; the operation id stays stable across retries.
		m.queue[i].Operation = op
		m.queue[i].Payload = payload
		m.queue[i].ClientEditSeq = editSeq
		m.queue[i].UpdatedAtSeconds = now
		m.queue[i].ClientTimeSeconds = now
		m.queue[i].Status = StatusPending
		m.queue[i].Conflict = nil
		return
	}
	m.queue = append(m.queue, PendingOperation{
		OperationID:       m.newID(),
		NoteID:            noteID,
		Operation:         op,
		Payload:           payload,
		ClientEditSeq:     editSeq,
		CreatedAtSeconds:  now,
		UpdatedAtSeconds:  now,
		ClientTimeSeconds: now,
		Status:            StatusPending,
	})
}

func (m *Manager) removeConflictLocked(noteID string) {
	kept := m.queue[:0]
	for _, op := range m.queue {
		if op.NoteID == noteID && op.Status == StatusConflict {
			continue
		}
		kept = append(kept, op)
	}
	m.queue = kept
}

func (m *Manager) findOperationLocked(operationID string) int {
	for i := range m.queue {
		if m.queue[i].OperationID == operationID {
			return i
		}
	}
	return -1
}

func (m *Manager) hasQueueEntryLocked(noteID string) bool {
	for i := range m.queue {
		if m.queue[i].NoteID == noteID {
			return true
		}
	}
	return false
}

func (m *Manager) hasConflictLocked(noteID string) bool {
	for i := range m.queue {
		if m.queue[i].NoteID == noteID && m.queue[i].Status == StatusConflict {
			return true
		}
	}
	return false
}

func (m *Manager) pendingCountLocked() int {
	n := 0
	for i := range m.queue {
		if m.queue[i].Status == StatusPending {
			n++
		}
	}
	return n
}

func (m *Manager) persistLocked() {
	if m.userID == "" {
		return
	}
	if err := m.queueStore.Save(m.userID, m.queue); err != nil {
		m.logger.Warn("engine: persist queue failed", slog.String("user_id", m.userID), slog.String("error", err.Error()))
	}
	if err := m.metaStore.Save(m.userID, m.metadata); err != nil {
		m.logger.Warn("engine: persist metadata failed", slog.String("user_id", m.userID), slog.String("error", err.Error()))
	}
}

func (m *Manager) recordSetLocked(userID string) []models.NoteRecord {
	records, err := m.notes.All(userID)
	if err != nil {
		m.logger.Warn("engine: record set read failed", slog.String("user_id", userID), slog.String("error", err.Error()))
		return nil
	}
	return records
}

func fillTimestamps(rec *models.NoteRecord, createdAtSeconds, updatedAtSeconds int64) {
	if rec.CreatedAtIso == "" && createdAtSeconds > 0 {
		rec.CreatedAtIso = time.Unix(createdAtSeconds, 0).UTC().Format(time.RFC3339)
	}
	if rec.UpdatedAtIso == "" && updatedAtSeconds > 0 {
		rec.UpdatedAtIso = time.Unix(updatedAtSeconds, 0).UTC().Format(time.RFC3339)
	}
}
