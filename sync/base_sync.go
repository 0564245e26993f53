package sync

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/clinicgallery/casesync/gallery"
	"github.com/pocketbase/pocketbase/core"
)

// Stats tracks the outcome counts of a sync operation
type Stats struct {
	Created  int           `json:"created"`
	Updated  int           `json:"updated"`
	Deleted  int           `json:"deleted"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"-"`
}

// Add merges another stats snapshot into this one
func (s *Stats) Add(other Stats) {
	s.Created += other.Created
	s.Updated += other.Updated
	s.Deleted += other.Deleted
	s.Skipped += other.Skipped
	s.Failed += other.Failed
	s.Duration += other.Duration
}

// BaseSyncService provides common functionality for the sync services
type BaseSyncService struct {
	App    core.App
	Client *gallery.Client
	Stats  Stats
}

// NewBaseSyncService creates a new base sync service
func NewBaseSyncService(app core.App, client *gallery.Client) BaseSyncService {
	return BaseSyncService{
		App:    app,
		Client: client,
	}
}

// LogSyncStart logs the start of a sync stage
func (b *BaseSyncService) LogSyncStart(serviceName string) {
	slog.Info("Starting sync", "service", serviceName)
}

// LogSyncComplete logs the completion of a sync with standardized format
func (b *BaseSyncService) LogSyncComplete(serviceName string, extraStats ...string) {
	statsStr := fmt.Sprintf("created=%d, updated=%d, skipped=%d, failed=%d",
		b.Stats.Created, b.Stats.Updated, b.Stats.Skipped, b.Stats.Failed)

	if len(extraStats) > 0 {
		statsStr = strings.Join(extraStats, ", ") + ", " + statsStr
	}

	slog.Info("Sync complete", "service", serviceName, "stats", statsStr)
}

// GetStats returns the current stats for the sync service
func (b *BaseSyncService) GetStats() Stats {
	return b.Stats
}

// PreloadRecords pre-loads existing records into a map keyed by the value
// keyExtractor returns. Load errors degrade to an empty map so callers
// fall back to individual lookups.
func (b *BaseSyncService) PreloadRecords(
	collection string,
	filter string,
	keyExtractor func(*core.Record) (string, bool),
) (map[string]*core.Record, error) {
	existingRecords := make(map[string]*core.Record)

	allRecords, err := b.App.FindRecordsByFilter(collection, filter, "", 0, 0)
	if err != nil {
		slog.Warn("Error loading existing records", "collection", collection, "error", err)
		return existingRecords, nil
	}

	for _, record := range allRecords {
		if key, ok := keyExtractor(record); ok {
			existingRecords[key] = record
		}
	}

	slog.Info("Loaded existing records from database", "collection", collection, "count", len(existingRecords))
	return existingRecords, nil
}

// ProcessGlobalRecord handles standard create/update logic for a single record
func (b *BaseSyncService) ProcessGlobalRecord(
	collection string,
	key string,
	recordData map[string]interface{},
	existingRecords map[string]*core.Record,
	compareFields []string, // Optional: specific fields to check for updates
) error {
	existing := existingRecords[key]

	if existing != nil {
		needsUpdate := false

		if len(compareFields) > 0 {
			for _, field := range compareFields {
				if value, exists := recordData[field]; exists {
					if !b.FieldEquals(existing.Get(field), value) {
						needsUpdate = true
						break
					}
				}
			}
		} else {
			for field, value := range recordData {
				if !b.FieldEquals(existing.Get(field), value) {
					needsUpdate = true
					break
				}
			}
		}

		if needsUpdate {
			for field, value := range recordData {
				existing.Set(field, value)
			}

			if err := b.App.Save(existing); err != nil {
				return fmt.Errorf("updating record: %w", err)
			}
			b.Stats.Updated++
		} else {
			b.Stats.Skipped++
		}
	} else {
		col, err := b.App.FindCollectionByNameOrId(collection)
		if err != nil {
			return fmt.Errorf("finding collection %s: %w", collection, err)
		}

		record := core.NewRecord(col)
		for field, value := range recordData {
			record.Set(field, value)
		}

		if err := b.App.Save(record); err != nil {
			return fmt.Errorf("creating record: %w", err)
		}
		b.Stats.Created++
	}

	return nil
}

// CompositeKey builds the external identity of a case. Case IDs are only
// unique within a procedure, so both parts are required.
func CompositeKey(procedureID, caseID int) string {
	return fmt.Sprintf("%d:%d", procedureID, caseID)
}

// FieldEquals compares two field values for equality, handling type
// conversions and JSON-valued fields
//
//nolint:gocyclo // type comparison logic requires many branches
func (b *BaseSyncService) FieldEquals(existingValue interface{}, newValue interface{}) bool {
	// nil vs empty string equivalence
	if (existingValue == nil && newValue == "") || (existingValue == "" && newValue == nil) {
		return true
	}

	// nil vs 0 equivalence for numeric fields
	if existingValue == nil && newValue == 0 {
		return true
	}
	if existingValue == 0 && newValue == nil {
		return true
	}

	// JSON comparisons - check for both string and types.JSONRaw
	var existingStr, newStr string
	var existingIsJSON, newIsJSON bool

	switch v := existingValue.(type) {
	case string:
		existingStr = v
	case []byte:
		existingStr = string(v)
	default:
		if stringer, ok := existingValue.(fmt.Stringer); ok {
			existingStr = stringer.String()
		}
	}
	if trimmed := strings.TrimSpace(existingStr); strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		existingIsJSON = true
	}

	switch v := newValue.(type) {
	case string:
		newStr = v
	case []byte:
		newStr = string(v)
	}
	if trimmed := strings.TrimSpace(newStr); strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		newIsJSON = true
	}

	// If both look like JSON, compare them semantically
	if existingIsJSON && newIsJSON {
		var existingJSON, newJSON interface{}
		if err := json.Unmarshal([]byte(existingStr), &existingJSON); err == nil {
			if err := json.Unmarshal([]byte(newStr), &newJSON); err == nil {
				existingBytes, _ := json.Marshal(existingJSON)
				newBytes, _ := json.Marshal(newJSON)
				return string(existingBytes) == string(newBytes)
			}
		}
	}

	if existingStr != "" || newStr != "" {
		if _, isStr := existingValue.(string); isStr {
			if _, isStr := newValue.(string); isStr {
				return existingStr == newStr
			}
		}
	}

	// float64 vs int comparison (common when reading from SQLite)
	if existingFloat, ok := existingValue.(float64); ok {
		if newInt, ok := newValue.(int); ok {
			return int(existingFloat) == newInt
		}
		if newFloat, ok := newValue.(float64); ok {
			return existingFloat == newFloat
		}
		if newBool, ok := newValue.(bool); ok {
			// SQLite stores BOOLEAN as integer 0/1
			return (existingFloat != 0) == newBool
		}
	}

	if existingInt, ok := existingValue.(int); ok {
		if newFloat, ok := newValue.(float64); ok {
			return existingInt == int(newFloat)
		}
		if newInt, ok := newValue.(int); ok {
			return existingInt == newInt
		}
	}

	if existingBool, ok := existingValue.(bool); ok {
		if newBool, ok := newValue.(bool); ok {
			return existingBool == newBool
		}
		if newFloat, ok := newValue.(float64); ok {
			return existingBool == (newFloat != 0)
		}
	}

	return existingValue == newValue
}
