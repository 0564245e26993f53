package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/clinicgallery/casesync/gallery"
	"github.com/pocketbase/pocketbase/core"
)

// CategoriesSync mirrors the remote category tree into gallery_categories.
// Top-level categories and their child procedures land in the same
// collection, children carrying a parent relation.
type CategoriesSync struct {
	BaseSyncService
}

// NewCategoriesSync creates a new categories sync service
func NewCategoriesSync(app core.App, client *gallery.Client) *CategoriesSync {
	return &CategoriesSync{
		BaseSyncService: NewBaseSyncService(app, client),
	}
}

// Sync fetches the category tree and upserts every category and
// procedure. It returns the fetched tree so the manifest stage can reuse
// it without a second fetch.
func (s *CategoriesSync) Sync(ctx context.Context) ([]gallery.CategoryNode, error) {
	s.LogSyncStart("categories")

	tree, err := s.Client.GetCategoryTree(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching category tree: %w", err)
	}

	existing, err := s.PreloadRecords(categoriesCollection, "", func(record *core.Record) (string, bool) {
		id := record.GetInt("external_id")
		if id == 0 {
			return "", false
		}
		return strconv.Itoa(id), true
	})
	if err != nil {
		return nil, err
	}

	for _, category := range tree {
		parentID, err := s.upsertNode(&category, "", existing)
		if err != nil {
			slog.Error("Failed to sync category", "name", category.Name, "error", err)
			s.Stats.Failed++
			continue
		}
		if parentID == "" {
			continue
		}

		for _, proc := range category.Procedures {
			if _, err := s.upsertNode(&proc, parentID, existing); err != nil {
				slog.Error("Failed to sync procedure", "name", proc.Name, "error", err)
				s.Stats.Failed++
			}
		}
	}

	s.LogSyncComplete("categories", fmt.Sprintf("fetched=%d categories", len(tree)))
	return tree, nil
}

// categoryRecordData maps one tree node onto the gallery_categories
// record shape. The remote can file one node under several external IDs;
// external_id holds the canonical lookup key and external_ids keeps the
// full list.
func categoryRecordData(node *gallery.CategoryNode, parentID string) map[string]interface{} {
	allIDs, _ := json.Marshal(node.ExternalIDs())
	return map[string]interface{}{
		"external_id":  node.ExternalID(),
		"external_ids": string(allIDs),
		"name":         node.Name,
		"slug":         node.Slug,
		"description":  node.Description,
		"nudity":       node.Nudity,
		"total_cases":  node.TotalCases,
		"parent":       parentID,
	}
}

// upsertNode writes one tree node and returns its local record ID
func (s *CategoriesSync) upsertNode(node *gallery.CategoryNode, parentID string, existing map[string]*core.Record) (string, error) {
	externalID := node.ExternalID()
	if externalID == 0 {
		// Nodes without an identifier cannot be keyed; warn and move on
		slog.Warn("Category node missing external id, skipping", "name", node.Name)
		s.Stats.Skipped++
		return "", nil
	}

	key := strconv.Itoa(externalID)
	data := categoryRecordData(node, parentID)

	if err := s.ProcessGlobalRecord(categoriesCollection, key, data, existing, nil); err != nil {
		return "", err
	}

	if record := existing[key]; record != nil {
		return record.Id, nil
	}

	// Freshly created records are not in the preload map; look them up
	records, err := s.App.FindRecordsByFilter(
		categoriesCollection,
		fmt.Sprintf("external_id = %d", externalID),
		"",
		1,
		0,
	)
	if err != nil || len(records) == 0 {
		return "", fmt.Errorf("locating category %d after upsert: %w", externalID, err)
	}
	existing[key] = records[0]
	return records[0].Id, nil
}
