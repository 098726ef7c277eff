package state

import (
	"encoding/json"
	"fmt"

	"github.com/starford/raido/internal/engine"
)

// QueueStore persists the pending-operation queue. It satisfies
// engine.QueueStore.
type QueueStore struct {
	db *DB
}

// NewQueueStore returns a queue store backed by db.
func NewQueueStore(db *DB) *QueueStore {
	return &QueueStore{db: db}
}

// Load returns the persisted queue for userID; a user with no saved queue
// gets an empty one.
func (s *QueueStore) Load(userID string) ([]engine.PendingOperation, error) {
	raw, err := s.db.get(userID, bucketQueue)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var ops []engine.PendingOperation
	if err := json.Unmarshal(raw, &ops); err != nil {
		return nil, fmt.Errorf("state: decode queue: %w", err)
	}
	return ops, nil
}

// Save replaces the persisted queue for userID.
func (s *QueueStore) Save(userID string, ops []engine.PendingOperation) error {
	if ops == nil {
		ops = []engine.PendingOperation{}
	}
	raw, err := json.Marshal(ops)
	if err != nil {
		return fmt.Errorf("state: encode queue: %w", err)
	}
	return s.db.put(userID, bucketQueue, raw)
}

// Clear removes the persisted queue for userID.
func (s *QueueStore) Clear(userID string) error {
	return s.db.clear(userID, bucketQueue)
}

// MetadataStore persists per-note sync metadata. It satisfies
// engine.MetadataStore.
type MetadataStore struct {
	db *DB
}

// NewMetadataStore returns a metadata store backed by db.
func NewMetadataStore(db *DB) *MetadataStore {
	return &MetadataStore{db: db}
}

// Load returns the persisted metadata map for userID, possibly empty.
func (s *MetadataStore) Load(userID string) (map[string]engine.NoteSyncMetadata, error) {
	raw, err := s.db.get(userID, bucketMetadata)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return map[string]engine.NoteSyncMetadata{}, nil
	}
	var meta map[string]engine.NoteSyncMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("state: decode metadata: %w", err)
	}
	return meta, nil
}

// Save replaces the persisted metadata for userID.
func (s *MetadataStore) Save(userID string, meta map[string]engine.NoteSyncMetadata) error {
	if meta == nil {
		meta = map[string]engine.NoteSyncMetadata{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("state: encode metadata: %w", err)
	}
	return s.db.put(userID, bucketMetadata, raw)
}

// Clear removes the persisted metadata for userID.
func (s *MetadataStore) Clear(userID string) error {
	return s.db.clear(userID, bucketMetadata)
}
