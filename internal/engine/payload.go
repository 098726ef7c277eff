package engine

import (
	"errors"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/models"
)

// ResolvePayload returns the record to place on the wire for op.
//
// Upsert payloads are resolved from the current note store so only the
// latest local state is ever sent, never a queue of intermediate edits.
// Delete payloads come from the snapshot captured when the delete was
// recorded. ok is false when there is nothing left to send: the note behind
// a lazily-resolved upsert has vanished from the local store.
func ResolvePayload(op PendingOperation, userID string, store NoteStore) (models.NoteRecord, bool, error) {
	if op.Operation == OperationDelete {
		if op.Payload != nil {
			return op.Payload.Clone(), true, nil
		}
		return models.NoteRecord{NoteID: op.NoteID}, true, nil
	}

	rec, err := store.Get(userID, op.NoteID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return models.NoteRecord{}, false, nil
		}
		return models.NoteRecord{}, false, err
	}
	return rec, true, nil
}
