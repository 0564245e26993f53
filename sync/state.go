// Package sync implements the staged gallery synchronization pipeline
package sync

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pocketbase/pocketbase/core"
)

// State keys owned by the pipeline. Absence of the checkpoint key means
// "no run in progress".
const (
	stateKeyCheckpoint = "case_sync_checkpoint"
	stateKeyLock       = "case_sync_lock"
	stateKeyProgress   = "case_sync_progress"
	stateKeyStop       = "case_sync_stop"
	manifestKeyPrefix  = "case_manifest_"
)

// stateCollection is the key/value collection backing pipeline state
const stateCollection = "sync_state"

// KV is the durable key/value surface the pipeline stores its checkpoint,
// lock, manifest snapshot and progress under. The PocketBase-backed
// StateStore implements it; tests use an in-memory fake.
type KV interface {
	// Get unmarshals the stored value into out and reports whether the
	// key was present (expired entries count as absent)
	Get(key string, out interface{}) (bool, error)

	// Put stores the value under key. A zero ttl means no expiry.
	Put(key string, value interface{}, ttl time.Duration) error

	// Delete removes the key; deleting an absent key is not an error
	Delete(key string) error
}

// StateStore persists pipeline state in the sync_state collection
type StateStore struct {
	app core.App
}

// NewStateStore creates a state store backed by the given app
func NewStateStore(app core.App) *StateStore {
	return &StateStore{app: app}
}

// Get implements KV
func (s *StateStore) Get(key string, out interface{}) (bool, error) {
	record, err := s.find(key)
	if err != nil {
		return false, err
	}
	if record == nil {
		return false, nil
	}

	if expires := record.GetString("expires"); expires != "" {
		t, err := time.Parse(time.RFC3339, expires)
		if err == nil && time.Now().After(t) {
			// Expired entries read as absent; cleanup is best effort
			if err := s.app.Delete(record); err != nil {
				slog.Warn("Failed to delete expired state entry", "key", key, "error", err)
			}
			return false, nil
		}
	}

	value := record.GetString("value")
	if value == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(value), out); err != nil {
		return false, fmt.Errorf("decode state %s: %w", key, err)
	}

	return true, nil
}

// Put implements KV
func (s *StateStore) Put(key string, value interface{}, ttl time.Duration) error {
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state %s: %w", key, err)
	}

	record, err := s.find(key)
	if err != nil {
		return err
	}
	if record == nil {
		col, err := s.app.FindCollectionByNameOrId(stateCollection)
		if err != nil {
			return fmt.Errorf("finding %s collection: %w", stateCollection, err)
		}
		record = core.NewRecord(col)
		record.Set("key", key)
	}

	record.Set("value", string(encoded))
	if ttl > 0 {
		record.Set("expires", time.Now().Add(ttl).UTC().Format(time.RFC3339))
	} else {
		record.Set("expires", "")
	}

	if err := s.app.Save(record); err != nil {
		return fmt.Errorf("saving state %s: %w", key, err)
	}
	return nil
}

// Delete implements KV
func (s *StateStore) Delete(key string) error {
	record, err := s.find(key)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}
	if err := s.app.Delete(record); err != nil {
		return fmt.Errorf("deleting state %s: %w", key, err)
	}
	return nil
}

func (s *StateStore) find(key string) (*core.Record, error) {
	records, err := s.app.FindRecordsByFilter(
		stateCollection,
		fmt.Sprintf("key = '%s'", key),
		"",
		1,
		0,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state %s: %w", key, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// RequestStop sets the cooperative stop flag polled by the batch processor
func RequestStop(kv KV) error {
	return kv.Put(stateKeyStop, true, 0)
}

// ClearStop removes the stop flag
func ClearStop(kv KV) error {
	return kv.Delete(stateKeyStop)
}

// StopRequested reports whether the stop flag is set
func StopRequested(kv KV) bool {
	var flag bool
	ok, err := kv.Get(stateKeyStop, &flag)
	if err != nil {
		slog.Warn("Failed to read stop flag", "error", err)
		return false
	}
	return ok && flag
}
