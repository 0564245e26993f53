package sync

import (
	"fmt"
	"log/slog"

	"github.com/pocketbase/pocketbase/core"
)

// EnsureCollections creates the collections the pipeline writes to when
// they do not exist yet. Existing collections are left untouched so
// operator schema tweaks survive restarts.
func EnsureCollections(app core.App) error {
	if err := ensureStateCollection(app); err != nil {
		return err
	}
	if err := ensureCategoriesCollection(app); err != nil {
		return err
	}
	if err := ensureCasesCollection(app); err != nil {
		return err
	}
	return nil
}

func ensureStateCollection(app core.App) error {
	if _, err := app.FindCollectionByNameOrId(stateCollection); err == nil {
		return nil
	}

	col := core.NewBaseCollection(stateCollection)
	col.Fields.Add(
		&core.TextField{Name: "key", Required: true},
		&core.TextField{Name: "value"},
		&core.TextField{Name: "expires"},
	)
	col.AddIndex("idx_sync_state_key", true, "key", "")

	if err := app.Save(col); err != nil {
		return fmt.Errorf("creating %s collection: %w", stateCollection, err)
	}
	slog.Info("Created collection", "name", stateCollection)
	return nil
}

func ensureCategoriesCollection(app core.App) error {
	if _, err := app.FindCollectionByNameOrId(categoriesCollection); err == nil {
		return nil
	}

	col := core.NewBaseCollection(categoriesCollection)
	col.Fields.Add(
		&core.NumberField{Name: "external_id", Required: true},
		&core.JSONField{Name: "external_ids"},
		&core.TextField{Name: "name"},
		&core.TextField{Name: "slug"},
		&core.TextField{Name: "description"},
		&core.BoolField{Name: "nudity"},
		&core.NumberField{Name: "total_cases"},
		&core.JSONField{Name: "case_order"},
	)
	col.AddIndex("idx_gallery_categories_external_id", true, "external_id", "")

	if err := app.Save(col); err != nil {
		return fmt.Errorf("creating %s collection: %w", categoriesCollection, err)
	}

	// The parent relation is self-referencing, so the collection needs an
	// id before the field can point at it
	col.Fields.Add(&core.RelationField{Name: "parent", CollectionId: col.Id, MaxSelect: 1})
	if err := app.Save(col); err != nil {
		return fmt.Errorf("adding parent relation to %s: %w", categoriesCollection, err)
	}
	slog.Info("Created collection", "name", categoriesCollection)
	return nil
}

func ensureCasesCollection(app core.App) error {
	if _, err := app.FindCollectionByNameOrId(casesCollection); err == nil {
		return nil
	}

	categories, err := app.FindCollectionByNameOrId(categoriesCollection)
	if err != nil {
		return fmt.Errorf("looking up %s collection: %w", categoriesCollection, err)
	}

	col := core.NewBaseCollection(casesCollection)
	col.Fields.Add(
		&core.TextField{Name: "external_key", Required: true},
		&core.NumberField{Name: "case_id", Required: true},
		&core.NumberField{Name: "procedure_id", Required: true},
		&core.TextField{Name: "title"},
		&core.TextField{Name: "slug"},
		&core.TextField{Name: "content"},
		&core.TextField{Name: "created_at"},
		&core.JSONField{Name: "patient"},
		&core.JSONField{Name: "seo"},
		&core.JSONField{Name: "photo_sets"},
		&core.RelationField{Name: "category", CollectionId: categories.Id, MaxSelect: 1},
		&core.NumberField{Name: "order_index"},
	)
	col.AddIndex("idx_gallery_cases_external_key", true, "external_key", "")
	col.AddIndex("idx_gallery_cases_procedure", false, "procedure_id", "")

	if err := app.Save(col); err != nil {
		return fmt.Errorf("creating %s collection: %w", casesCollection, err)
	}
	slog.Info("Created collection", "name", casesCollection)
	return nil
}
