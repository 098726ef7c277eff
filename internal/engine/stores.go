package engine

import (
	"context"

	"github.com/starford/raido/internal/models"
)

// NoteStore is the local, user-scoped note collection the engine resolves
// upsert payloads from and applies accepted results to. During a sync pass
// the engine is the only writer; surrounding components mutate it between
// passes (and report those mutations via RecordLocalUpsert/Delete).
type NoteStore interface {
	// Get returns the record for noteID, or apperr.ErrNotFound.
	Get(userID, noteID string) (models.NoteRecord, error)
	Put(userID string, rec models.NoteRecord) error
	Remove(userID, noteID string) error
	All(userID string) ([]models.NoteRecord, error)
}

// QueueStore durably persists the per-user pending-operation queue.
type QueueStore interface {
	Load(userID string) ([]PendingOperation, error)
	Save(userID string, ops []PendingOperation) error
	Clear(userID string) error
}

// MetadataStore durably persists per-user, per-note sync metadata.
type MetadataStore interface {
	Load(userID string) (map[string]NoteSyncMetadata, error)
	Save(userID string, meta map[string]NoteSyncMetadata) error
	Clear(userID string) error
}

// Hydrator is optionally implemented by stores backed by asynchronous
// storage that must be primed before the first Load for a user. The engine
// detects it by type assertion during sign-in.
type Hydrator interface {
	Hydrate(ctx context.Context, userID string) error
}
