package sync

import (
	"fmt"
	"log/slog"

	"github.com/pocketbase/pocketbase/core"
)

const (
	casesCollection      = "gallery_cases"
	categoriesCollection = "gallery_categories"
)

// CaseRef identifies a stored case record
type CaseRef struct {
	ID  string // local record ID
	Key string // external composite key
}

// OrderEntry is one element of a procedure's persisted display order
type OrderEntry struct {
	RecordID string `json:"record_id"`
	CaseID   int    `json:"case_id"`
}

// CaseStore is the persistence surface the batch processor writes through.
// The PocketBase-backed implementation is PBCaseStore; tests use a fake.
type CaseStore interface {
	// FindByExternalKey returns the case with the given composite key,
	// or nil when absent
	FindByExternalKey(key string) (*CaseRef, error)

	// Create inserts a new case record and returns its ref
	Create(data map[string]interface{}) (*CaseRef, error)

	// Update overwrites the given record's fields. It reports whether
	// any field actually changed.
	Update(ref *CaseRef, data map[string]interface{}) (bool, error)

	// Delete removes the case with the given composite key if present.
	// It reports whether a record was deleted.
	Delete(key string) (bool, error)

	// AssignCategory links the case record to its procedure's category record
	AssignCategory(ref *CaseRef, categoryRecordID string) error

	// SetOrder stores the case's position within its procedure
	SetOrder(ref *CaseRef, index int) error

	// StoreCategoryOrder persists the full display order on the category record
	StoreCategoryOrder(categoryRecordID string, order []OrderEntry) error

	// FindCategoryByExternalID resolves a procedure's local category
	// record ID, or "" when the category has not been synced
	FindCategoryByExternalID(externalID int) (string, error)
}

// PBCaseStore implements CaseStore over PocketBase collections
type PBCaseStore struct {
	app core.App
}

// NewPBCaseStore creates a case store backed by the given app
func NewPBCaseStore(app core.App) *PBCaseStore {
	return &PBCaseStore{app: app}
}

// FindByExternalKey implements CaseStore
func (s *PBCaseStore) FindByExternalKey(key string) (*CaseRef, error) {
	records, err := s.app.FindRecordsByFilter(
		casesCollection,
		fmt.Sprintf("external_key = '%s'", key),
		"",
		1,
		0,
	)
	if err != nil {
		return nil, fmt.Errorf("querying case %s: %w", key, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &CaseRef{ID: records[0].Id, Key: key}, nil
}

// Create implements CaseStore
func (s *PBCaseStore) Create(data map[string]interface{}) (*CaseRef, error) {
	col, err := s.app.FindCollectionByNameOrId(casesCollection)
	if err != nil {
		return nil, fmt.Errorf("finding collection %s: %w", casesCollection, err)
	}

	record := core.NewRecord(col)
	for field, value := range data {
		record.Set(field, value)
	}
	if err := s.app.Save(record); err != nil {
		return nil, fmt.Errorf("creating case: %w", err)
	}

	key, _ := data["external_key"].(string)
	return &CaseRef{ID: record.Id, Key: key}, nil
}

// Update implements CaseStore
func (s *PBCaseStore) Update(ref *CaseRef, data map[string]interface{}) (bool, error) {
	record, err := s.app.FindRecordById(casesCollection, ref.ID)
	if err != nil {
		return false, fmt.Errorf("loading case %s: %w", ref.Key, err)
	}

	base := BaseSyncService{}
	changed := false
	for field, value := range data {
		if !base.FieldEquals(record.Get(field), value) {
			changed = true
			break
		}
	}
	if !changed {
		return false, nil
	}

	for field, value := range data {
		record.Set(field, value)
	}
	if err := s.app.Save(record); err != nil {
		return false, fmt.Errorf("updating case %s: %w", ref.Key, err)
	}
	return true, nil
}

// Delete implements CaseStore
func (s *PBCaseStore) Delete(key string) (bool, error) {
	ref, err := s.FindByExternalKey(key)
	if err != nil {
		return false, err
	}
	if ref == nil {
		return false, nil
	}

	record, err := s.app.FindRecordById(casesCollection, ref.ID)
	if err != nil {
		return false, fmt.Errorf("loading case %s: %w", key, err)
	}
	if err := s.app.Delete(record); err != nil {
		return false, fmt.Errorf("deleting case %s: %w", key, err)
	}
	return true, nil
}

// AssignCategory implements CaseStore
func (s *PBCaseStore) AssignCategory(ref *CaseRef, categoryRecordID string) error {
	record, err := s.app.FindRecordById(casesCollection, ref.ID)
	if err != nil {
		return fmt.Errorf("loading case %s: %w", ref.Key, err)
	}
	if record.GetString("category") == categoryRecordID {
		return nil
	}
	record.Set("category", categoryRecordID)
	if err := s.app.Save(record); err != nil {
		return fmt.Errorf("assigning category for case %s: %w", ref.Key, err)
	}
	return nil
}

// SetOrder implements CaseStore
func (s *PBCaseStore) SetOrder(ref *CaseRef, index int) error {
	record, err := s.app.FindRecordById(casesCollection, ref.ID)
	if err != nil {
		return fmt.Errorf("loading case %s: %w", ref.Key, err)
	}
	if record.GetInt("order_index") == index {
		return nil
	}
	record.Set("order_index", index)
	if err := s.app.Save(record); err != nil {
		return fmt.Errorf("setting order for case %s: %w", ref.Key, err)
	}
	return nil
}

// StoreCategoryOrder implements CaseStore
func (s *PBCaseStore) StoreCategoryOrder(categoryRecordID string, order []OrderEntry) error {
	record, err := s.app.FindRecordById(categoriesCollection, categoryRecordID)
	if err != nil {
		return fmt.Errorf("loading category %s: %w", categoryRecordID, err)
	}
	record.Set("case_order", order)
	if err := s.app.Save(record); err != nil {
		return fmt.Errorf("storing case order on category %s: %w", categoryRecordID, err)
	}
	return nil
}

// FindCategoryByExternalID implements CaseStore
func (s *PBCaseStore) FindCategoryByExternalID(externalID int) (string, error) {
	records, err := s.app.FindRecordsByFilter(
		categoriesCollection,
		fmt.Sprintf("external_id = %d", externalID),
		"",
		1,
		0,
	)
	if err != nil {
		return "", fmt.Errorf("querying category %d: %w", externalID, err)
	}
	if len(records) == 0 {
		slog.Debug("No local category for external id", "external_id", externalID)
		return "", nil
	}
	return records[0].Id, nil
}
