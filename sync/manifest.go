package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/clinicgallery/casesync/gallery"
)

const (
	// maxManifestPages is a safety ceiling per procedure in case the
	// remote pagination never terminates
	maxManifestPages = 200

	// emptyPageTolerance is how many consecutive empty pages we accept
	// before declaring the listing finished
	emptyPageTolerance = 2
)

// Manifest is the frozen work plan for a sync run: the ordered procedure
// IDs and, per procedure, the ordered case IDs to process. Stored order
// here is the display order the remote returns.
type Manifest struct {
	Date       string        `json:"date"`
	Procedures []int         `json:"procedures"`
	Cases      map[int][]int `json:"cases"`
}

// TotalCases counts all cases across every procedure
func (m *Manifest) TotalCases() int {
	total := 0
	for _, ids := range m.Cases {
		total += len(ids)
	}
	return total
}

// CaseLister is the part of the gallery client the manifest builder needs
type CaseLister interface {
	GetCategoryTree(ctx context.Context) ([]gallery.CategoryNode, error)
	ListCaseIDs(ctx context.Context, procedureID, page int) (*gallery.CaseListPage, error)
}

// ManifestBuilder walks the remote catalog and snapshots the case listing
type ManifestBuilder struct {
	lister CaseLister
	state  KV
}

// NewManifestBuilder creates a manifest builder
func NewManifestBuilder(lister CaseLister, state KV) *ManifestBuilder {
	return &ManifestBuilder{lister: lister, state: state}
}

// LoadSnapshot returns the persisted manifest for the given date, or
// false when it is absent or its TTL has lapsed. Resumed runs load the
// snapshot their checkpoint was cut against instead of today's.
func (b *ManifestBuilder) LoadSnapshot(date string) (*Manifest, bool) {
	var cached Manifest
	ok, err := b.state.Get(manifestKeyPrefix+date, &cached)
	if err != nil {
		slog.Warn("Failed to load manifest snapshot", "date", date, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return &cached, true
}

// BuildOrLoad returns today's manifest snapshot, building and persisting
// one when absent. force skips the snapshot and rebuilds.
func (b *ManifestBuilder) BuildOrLoad(ctx context.Context, force bool) (*Manifest, error) {
	date := time.Now().UTC().Format("2006-01-02")

	if !force {
		if cached, ok := b.LoadSnapshot(date); ok {
			slog.Info("Using manifest snapshot",
				"date", cached.Date,
				"procedures", len(cached.Procedures),
				"cases", cached.TotalCases())
			return cached, nil
		}
	}

	manifest, err := b.Build(ctx)
	if err != nil {
		return nil, err
	}

	// Snapshot expires after a day so stale plans never resurface
	if err := b.state.Put(manifestKeyPrefix+date, manifest, 24*time.Hour); err != nil {
		slog.Warn("Failed to persist manifest snapshot", "error", err)
	}

	return manifest, nil
}

// Build walks the category tree and paginates every procedure's case
// listing. A procedure whose listing fails is logged and omitted; the
// remaining manifest is still valid work.
func (b *ManifestBuilder) Build(ctx context.Context) (*Manifest, error) {
	tree, err := b.lister.GetCategoryTree(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching category tree: %w", err)
	}

	manifest := &Manifest{
		Date:  time.Now().UTC().Format("2006-01-02"),
		Cases: make(map[int][]int),
	}

	seen := make(map[int]bool)
	for _, category := range tree {
		for _, proc := range category.Procedures {
			id := proc.ExternalID()
			if id == 0 || proc.TotalCases == 0 {
				continue
			}
			// A procedure can appear under several categories; first wins
			if seen[id] {
				continue
			}
			seen[id] = true

			ids, err := b.buildProcedure(ctx, id, proc.TotalCases)
			if err != nil {
				slog.Error("Failed to list cases for procedure, omitting from manifest",
					"procedure", id, "name", proc.Name, "error", err)
				continue
			}

			manifest.Procedures = append(manifest.Procedures, id)
			manifest.Cases[id] = ids
		}
	}

	slog.Info("Manifest built",
		"procedures", len(manifest.Procedures),
		"cases", manifest.TotalCases())

	return manifest, nil
}

// buildProcedure paginates one procedure's case listing until the remote
// signals the end or the pages stop yielding new IDs
func (b *ManifestBuilder) buildProcedure(ctx context.Context, procedureID, declared int) ([]int, error) {
	var ids []int
	known := make(map[int]bool)
	emptyPages := 0

	for page := 1; page <= maxManifestPages; page++ {
		listing, err := b.lister.ListCaseIDs(ctx, procedureID, page)
		if err != nil {
			return nil, fmt.Errorf("listing page %d: %w", page, err)
		}

		newIDs := 0
		pageSize := 0
		for _, id := range listing.IDs {
			if id <= 0 {
				continue
			}
			pageSize++
			if known[id] {
				continue
			}
			known[id] = true
			ids = append(ids, id)
			newIDs++
		}

		if pageSize == 0 {
			emptyPages++
			if emptyPages >= emptyPageTolerance {
				break
			}
			continue
		}
		emptyPages = 0

		// A non-empty page with nothing new means the remote is
		// repeating itself; treat it as the end
		if newIDs == 0 {
			break
		}

		if listing.HasNext != nil && !*listing.HasNext {
			break
		}
	}

	if declared > 0 && len(ids) != declared {
		slog.Warn("Case count mismatch for procedure",
			"procedure", procedureID, "declared", declared, "actual", len(ids))
	}

	return ids, nil
}
