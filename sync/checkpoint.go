package sync

import (
	"fmt"
	"log/slog"
	"time"
)

const (
	// lockStaleAfter bounds how long a crashed run can hold the sync lock
	lockStaleAfter = 15 * time.Minute

	// maxCheckpointErrors caps the error list persisted with a checkpoint
	maxCheckpointErrors = 50
)

// Checkpoint records where in the manifest a run stopped so the next
// invocation can resume. Counters are cumulative across invocations of
// the same session. ManifestDate binds the cursor to the snapshot it was
// cut against; the indices are meaningless against any other manifest.
// Deleted counts local records removed for unpublished cases; those
// cases count as skipped in the outcome totals.
type Checkpoint struct {
	SessionID      string    `json:"session_id"`
	ManifestDate   string    `json:"manifest_date,omitempty"`
	ProcedureIndex int       `json:"procedure_index"`
	CaseIndex      int       `json:"case_index"`
	TotalCases     int       `json:"total_cases"`
	Processed      int       `json:"processed_count"`
	Created        int       `json:"created"`
	Updated        int       `json:"updated"`
	Deleted        int       `json:"deleted"`
	Skipped        int       `json:"skipped"`
	Failed         int       `json:"failed"`
	Errors         []string  `json:"errors,omitempty"`
	UpdatedAt      time.Time `json:"timestamp"`
}

// syncLock is the persisted lock payload
type syncLock struct {
	SessionID  string    `json:"session_id"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// CheckpointStore persists checkpoints and the run lock
type CheckpointStore struct {
	kv KV
}

// NewCheckpointStore creates a checkpoint store over the given KV
func NewCheckpointStore(kv KV) *CheckpointStore {
	return &CheckpointStore{kv: kv}
}

// Load returns the stored checkpoint, or nil when none exists. TotalCases
// is recomputed from the manifest when the stored value is zero, so older
// checkpoints stay usable.
func (c *CheckpointStore) Load(manifest *Manifest) (*Checkpoint, error) {
	var cp Checkpoint
	ok, err := c.kv.Get(stateKeyCheckpoint, &cp)
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	}
	if !ok {
		return nil, nil
	}

	if cp.TotalCases == 0 && manifest != nil {
		cp.TotalCases = manifest.TotalCases()
	}

	return &cp, nil
}

// Save persists the checkpoint, stamping UpdatedAt and capping the error list
func (c *CheckpointStore) Save(cp *Checkpoint) error {
	cp.UpdatedAt = time.Now().UTC()
	if len(cp.Errors) > maxCheckpointErrors {
		cp.Errors = cp.Errors[len(cp.Errors)-maxCheckpointErrors:]
	}

	if err := c.kv.Put(stateKeyCheckpoint, cp, 0); err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	return nil
}

// Clear removes the checkpoint
func (c *CheckpointStore) Clear() error {
	if err := c.kv.Delete(stateKeyCheckpoint); err != nil {
		return fmt.Errorf("clearing checkpoint: %w", err)
	}
	return nil
}

// TryAcquireLock takes the run lock for the given session. The lock is
// granted when absent, when held by the same session (resume after
// restart), or when the holder went stale.
func (c *CheckpointStore) TryAcquireLock(sessionID string) (bool, error) {
	var lock syncLock
	ok, err := c.kv.Get(stateKeyLock, &lock)
	if err != nil {
		return false, fmt.Errorf("reading sync lock: %w", err)
	}

	if ok && lock.SessionID != sessionID {
		age := time.Since(lock.AcquiredAt)
		if age < lockStaleAfter {
			return false, nil
		}
		slog.Warn("Taking over stale sync lock", "holder", lock.SessionID, "age", age.Truncate(time.Second))
	}

	lock = syncLock{SessionID: sessionID, AcquiredAt: time.Now().UTC()}
	if err := c.kv.Put(stateKeyLock, lock, 0); err != nil {
		return false, fmt.Errorf("writing sync lock: %w", err)
	}
	return true, nil
}

// ReleaseLock drops the run lock if held by the given session
func (c *CheckpointStore) ReleaseLock(sessionID string) error {
	var lock syncLock
	ok, err := c.kv.Get(stateKeyLock, &lock)
	if err != nil {
		return fmt.Errorf("reading sync lock: %w", err)
	}
	if !ok || lock.SessionID != sessionID {
		return nil
	}
	if err := c.kv.Delete(stateKeyLock); err != nil {
		return fmt.Errorf("releasing sync lock: %w", err)
	}
	return nil
}
