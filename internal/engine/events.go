package engine

import (
	"log/slog"

	"github.com/starford/raido/internal/models"
)

// Snapshot event source tags.
const (
	SourceSyncResults = "sync-results"
	SourceSnapshot    = "snapshot"
)

// Events receives best-effort notifications for the UI layer. Implementations
// may block briefly but must not assume they run on any particular goroutine.
// Panics in an implementation are logged and swallowed, never propagated.
type Events interface {
	// SnapshotApplied carries the reconciled record set after a flush that
	// applied results (source "sync-results") or a snapshot reconciliation
	// (source "snapshot").
	SnapshotApplied(records []models.NoteRecord, source string)
	// ConflictsDetected reports how many operations entered conflict during
	// a single flush.
	ConflictsDetected(count int)
}

// NopEvents discards all notifications.
type NopEvents struct{}

func (NopEvents) SnapshotApplied([]models.NoteRecord, string) {}
func (NopEvents) ConflictsDetected(int)                       {}

// MultiEvents fans out each notification to every sink in order.
func MultiEvents(sinks ...Events) Events {
	return multiEvents(sinks)
}

type multiEvents []Events

func (m multiEvents) SnapshotApplied(records []models.NoteRecord, source string) {
	for _, s := range m {
		s.SnapshotApplied(records, source)
	}
}

func (m multiEvents) ConflictsDetected(count int) {
	for _, s := range m {
		s.ConflictsDetected(count)
	}
}

func (m *Manager) emitSnapshot(records []models.NoteRecord, source string) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("engine: snapshot event dispatch failed", slog.Any("panic", r))
		}
	}()
	m.events.SnapshotApplied(records, source)
}

func (m *Manager) emitConflicts(count int) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("engine: conflict event dispatch failed", slog.Any("panic", r))
		}
	}()
	m.events.ConflictsDetected(count)
}
