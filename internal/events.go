package internal

import (
	"sync"

	"github.com/starford/raido/internal/engine"
	"github.com/starford/raido/internal/models"
)

// deferredEvents is an engine event sink whose target is attached after the
// engine is constructed. The vault mirror both consumes engine events and
// records edits on the engine, so one of the two has to be wired late.
type deferredEvents struct {
	mu   sync.RWMutex
	sink engine.Events
}

func (d *deferredEvents) set(sink engine.Events) {
	d.mu.Lock()
	d.sink = sink
	d.mu.Unlock()
}

func (d *deferredEvents) SnapshotApplied(records []models.NoteRecord, source string) {
	d.mu.RLock()
	sink := d.sink
	d.mu.RUnlock()
	if sink != nil {
		sink.SnapshotApplied(records, source)
	}
}

func (d *deferredEvents) ConflictsDetected(count int) {
	d.mu.RLock()
	sink := d.sink
	d.mu.RUnlock()
	if sink != nil {
		sink.ConflictsDetected(count)
	}
}
