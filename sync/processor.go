package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clinicgallery/casesync/gallery"
)

const (
	// defaultBatchSize is how many cases one invocation processes before
	// yielding with a checkpoint
	defaultBatchSize = 25

	// fetchBatchSize bounds concurrent detail fetches. Writes stay
	// strictly sequential regardless.
	fetchBatchSize = 5

	// progressEvery and checkpointEvery throttle state writes
	progressEvery   = 5
	checkpointEvery = 10
)

// ProcessorConfig tunes a batch processor run
type ProcessorConfig struct {
	BatchSize     int
	TimeBudget    time.Duration
	MemoryLimitMB int
}

// ProcessorConfigFromEnv reads processor tuning from the environment,
// falling back to defaults for absent or unparseable values
func ProcessorConfigFromEnv() ProcessorConfig {
	cfg := ProcessorConfig{BatchSize: defaultBatchSize}

	if v := os.Getenv("SYNC_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BatchSize = n
		}
	}
	if v := os.Getenv("SYNC_TIME_BUDGET_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TimeBudget = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("SYNC_MEMORY_LIMIT_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MemoryLimitMB = n
		}
	}

	return cfg
}

// CaseFetcher is the part of the gallery client the processor needs
type CaseFetcher interface {
	GetCaseDetail(ctx context.Context, caseID int, procedureIDs []int) (*gallery.CanonicalCase, error)
}

// CaseProcessor walks the manifest case by case, fetching details in
// small concurrent batches and writing results strictly in manifest
// order. Every write is idempotent, so a resumed run that replays a case
// converges instead of duplicating.
type CaseProcessor struct {
	store       CaseStore
	fetcher     CaseFetcher
	checkpoints *CheckpointStore
	progress    *ProgressReporter
	state       KV
	cfg         ProcessorConfig

	seen map[string]bool // composite keys processed this run
}

// NewCaseProcessor creates a batch processor
func NewCaseProcessor(store CaseStore, fetcher CaseFetcher, checkpoints *CheckpointStore, progress *ProgressReporter, state KV, cfg ProcessorConfig) *CaseProcessor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &CaseProcessor{
		store:       store,
		fetcher:     fetcher,
		checkpoints: checkpoints,
		progress:    progress,
		state:       state,
		cfg:         cfg,
	}
}

// fetchOutcome pairs a case ID with its fetched detail or error
type fetchOutcome struct {
	caseID int
	detail *gallery.CanonicalCase
	err    error
}

// RunInvocation executes one bounded slice of the manifest. The result's
// NeedsContinue reports whether work remains; the checkpoint holds the
// exact resume position.
func (p *CaseProcessor) RunInvocation(ctx context.Context, manifest *Manifest) (*Result, error) {
	cp, err := p.checkpoints.Load(manifest)
	if err != nil {
		return nil, err
	}
	if cp != nil && cp.ManifestDate != "" && cp.ManifestDate != manifest.Date {
		// The cursor indexes a different snapshot; applying it here
		// would skip or replay arbitrary cases
		slog.Warn("Checkpoint bound to a different manifest snapshot, discarding",
			"checkpoint_date", cp.ManifestDate, "manifest_date", manifest.Date)
		if err := p.checkpoints.Clear(); err != nil {
			slog.Warn("Failed to clear stale checkpoint", "error", err)
		}
		cp = nil
	}
	if cp == nil {
		cp = &Checkpoint{
			SessionID:    fmt.Sprintf("sync-%d", time.Now().UnixNano()),
			ManifestDate: manifest.Date,
			TotalCases:   manifest.TotalCases(),
		}
		slog.Info("Starting new sync session", "session", cp.SessionID, "total_cases", cp.TotalCases)
	} else {
		if cp.ManifestDate == "" {
			cp.ManifestDate = manifest.Date
		}
		slog.Info("Resuming sync session",
			"session", cp.SessionID,
			"procedure_index", cp.ProcedureIndex,
			"case_index", cp.CaseIndex,
			"processed", cp.Processed)
	}

	p.seen = make(map[string]bool)
	guard := NewResourceGuard(p.cfg.TimeBudget, p.cfg.MemoryLimitMB)
	processedThisRun := 0

	for cp.ProcedureIndex < len(manifest.Procedures) {
		procedureID := manifest.Procedures[cp.ProcedureIndex]
		caseIDs := manifest.Cases[procedureID]

		categoryRecordID, err := p.store.FindCategoryByExternalID(procedureID)
		if err != nil {
			return nil, err
		}
		if categoryRecordID == "" {
			// Data integrity warning: the catalog stage should have
			// created this category. Skip the procedure rather than
			// orphan its cases.
			slog.Warn("No local category for procedure, skipping its cases",
				"procedure", procedureID, "cases", len(caseIDs))
			cp.Errors = append(cp.Errors, fmt.Sprintf("procedure %d: missing local category", procedureID))
			cp.ProcedureIndex++
			cp.CaseIndex = 0
			continue
		}

		for cp.CaseIndex < len(caseIDs) {
			if reason, exhausted := p.shouldYield(ctx, guard, processedThisRun); reason != "" {
				return p.yield(cp, manifest, reason, exhausted)
			}

			batch := caseIDs[cp.CaseIndex:]
			if len(batch) > fetchBatchSize {
				batch = batch[:fetchBatchSize]
			}
			// Never overshoot the invocation budget mid-batch
			if remaining := p.cfg.BatchSize - processedThisRun; len(batch) > remaining {
				batch = batch[:remaining]
			}

			outcomes := p.fetchBatch(ctx, batch, procedureID)

			// Writes happen here, one at a time, in manifest order
			for _, outcome := range outcomes {
				key := CompositeKey(procedureID, outcome.caseID)
				orderIndex := cp.CaseIndex

				switch {
				case p.seen[key]:
					cp.Skipped++
				case outcome.err != nil:
					cp.Failed++
					cp.Errors = append(cp.Errors, fmt.Sprintf("case %s: %v", key, outcome.err))
					slog.Error("Failed to fetch case detail", "case", key, "error", outcome.err)
				default:
					if err := p.processCase(outcome.detail, procedureID, key, categoryRecordID, orderIndex, cp); err != nil {
						cp.Failed++
						cp.Errors = append(cp.Errors, fmt.Sprintf("case %s: %v", key, err))
						slog.Error("Failed to store case", "case", key, "error", err)
					}
				}

				p.seen[key] = true
				cp.Processed++
				cp.CaseIndex++
				processedThisRun++

				if cp.Processed%progressEvery == 0 {
					p.publishProgress(cp, manifest, procedureID, len(caseIDs))
				}
				if cp.Processed%checkpointEvery == 0 {
					if err := p.checkpoints.Save(cp); err != nil {
						slog.Warn("Failed to save checkpoint", "error", err)
					}
				}
			}
		}

		if err := p.storeProcedureOrder(procedureID, caseIDs, categoryRecordID); err != nil {
			slog.Warn("Failed to store display order", "procedure", procedureID, "error", err)
		}

		cp.ProcedureIndex++
		cp.CaseIndex = 0
		if err := p.checkpoints.Save(cp); err != nil {
			slog.Warn("Failed to save checkpoint", "error", err)
		}
	}

	return p.complete(cp, manifest)
}

// shouldYield returns a non-empty reason when the invocation must stop
// and persist its position. exhausted marks a resource-guard breach,
// which callers must treat as a signal to back off rather than re-invoke.
func (p *CaseProcessor) shouldYield(ctx context.Context, guard *ResourceGuard, processedThisRun int) (string, bool) {
	if err := ctx.Err(); err != nil {
		return fmt.Sprintf("context done: %v", err), false
	}
	if StopRequested(p.state) {
		return "stop requested", false
	}
	if exhaustion := guard.Check(); exhaustion != nil {
		return exhaustion.Reason, true
	}
	if processedThisRun >= p.cfg.BatchSize {
		return fmt.Sprintf("batch of %d complete", p.cfg.BatchSize), false
	}
	return "", false
}

// fetchBatch fetches details for up to fetchBatchSize cases concurrently.
// Per-case errors are captured in the outcome, never returned, so one bad
// case cannot sink its batch. Outcomes preserve the input order.
func (p *CaseProcessor) fetchBatch(ctx context.Context, batch []int, procedureID int) []fetchOutcome {
	outcomes := make([]fetchOutcome, len(batch))

	var g errgroup.Group
	g.SetLimit(fetchBatchSize)
	for i, caseID := range batch {
		g.Go(func() error {
			detail, err := p.fetcher.GetCaseDetail(ctx, caseID, []int{procedureID})
			outcomes[i] = fetchOutcome{caseID: caseID, detail: detail, err: err}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// processCase upserts one fetched case and wires its category and order
func (p *CaseProcessor) processCase(detail *gallery.CanonicalCase, procedureID int, key, categoryRecordID string, orderIndex int, cp *Checkpoint) error {
	if !detail.Approved {
		// Unpublished upstream means removed locally. The case still
		// counts as skipped; Deleted tallies the records actually removed.
		deleted, err := p.store.Delete(key)
		if err != nil {
			return err
		}
		if deleted {
			cp.Deleted++
			slog.Info("Removed unpublished case", "case", key)
		}
		cp.Skipped++
		return nil
	}

	data := TransformCase(detail, procedureID, key)

	ref, err := p.store.FindByExternalKey(key)
	if err != nil {
		return err
	}
	if ref == nil {
		ref, err = p.store.Create(data)
		if err != nil {
			return err
		}
		cp.Created++
		p.progress.Activity("created case %s", key)
	} else {
		changed, err := p.store.Update(ref, data)
		if err != nil {
			return err
		}
		if changed {
			cp.Updated++
			p.progress.Activity("updated case %s", key)
		} else {
			cp.Skipped++
		}
	}

	if err := p.store.AssignCategory(ref, categoryRecordID); err != nil {
		return err
	}
	if err := p.store.SetOrder(ref, orderIndex); err != nil {
		return err
	}

	return nil
}

// storeProcedureOrder rebuilds the display order from the store in
// manifest order. Reading back record IDs instead of accumulating them in
// memory keeps the order correct across resumed invocations.
func (p *CaseProcessor) storeProcedureOrder(procedureID int, caseIDs []int, categoryRecordID string) error {
	order := make([]OrderEntry, 0, len(caseIDs))
	for _, caseID := range caseIDs {
		ref, err := p.store.FindByExternalKey(CompositeKey(procedureID, caseID))
		if err != nil {
			return err
		}
		if ref == nil {
			// Deleted or failed cases simply drop out of the order
			continue
		}
		order = append(order, OrderEntry{RecordID: ref.ID, CaseID: caseID})
	}
	return p.store.StoreCategoryOrder(categoryRecordID, order)
}

// yield persists the checkpoint and reports a continuing invocation
func (p *CaseProcessor) yield(cp *Checkpoint, manifest *Manifest, reason string, exhausted bool) (*Result, error) {
	if err := p.checkpoints.Save(cp); err != nil {
		return nil, err
	}

	procedureID := 0
	if cp.ProcedureIndex < len(manifest.Procedures) {
		procedureID = manifest.Procedures[cp.ProcedureIndex]
	}
	p.publishProgress(cp, manifest, procedureID, len(manifest.Cases[procedureID]))

	slog.Info("Invocation yielding",
		"reason", reason,
		"processed", cp.Processed,
		"of", cp.TotalCases)

	return &Result{
		Success:       true,
		Stage:         "cases",
		Created:       cp.Created,
		Updated:       cp.Updated,
		Deleted:       cp.Deleted,
		Skipped:       cp.Skipped,
		Failed:        cp.Failed,
		Errors:        cp.Errors,
		Message:       reason,
		NeedsContinue: true,
		Exhausted:     exhausted,
	}, nil
}

// complete clears run state and reports the finished session
func (p *CaseProcessor) complete(cp *Checkpoint, manifest *Manifest) (*Result, error) {
	// Every distinct case should have landed in exactly one outcome bucket
	if cp.Created+cp.Updated+cp.Skipped+cp.Failed != cp.Processed {
		slog.Warn("Outcome counts do not add up to processed total",
			"created", cp.Created, "updated", cp.Updated,
			"skipped", cp.Skipped, "failed", cp.Failed,
			"processed", cp.Processed)
	}

	if err := p.checkpoints.Clear(); err != nil {
		slog.Warn("Failed to clear checkpoint", "error", err)
	}
	if err := ClearStop(p.state); err != nil {
		slog.Warn("Failed to clear stop flag", "error", err)
	}
	p.progress.Publish("cases", 0,
		len(manifest.Procedures), len(manifest.Procedures),
		0, 0,
		cp.Processed, cp.TotalCases,
		"complete")

	slog.Info("Sync session complete",
		"session", cp.SessionID,
		"created", cp.Created,
		"updated", cp.Updated,
		"deleted", cp.Deleted,
		"skipped", cp.Skipped,
		"failed", cp.Failed)

	return &Result{
		Success: true,
		Stage:   "cases",
		Created: cp.Created,
		Updated: cp.Updated,
		Deleted: cp.Deleted,
		Skipped: cp.Skipped,
		Failed:  cp.Failed,
		Errors:  cp.Errors,
		Message: fmt.Sprintf("processed %d cases", cp.Processed),
	}, nil
}

// publishProgress pushes a snapshot for the current position
func (p *CaseProcessor) publishProgress(cp *Checkpoint, manifest *Manifest, procedureID, caseTotal int) {
	p.progress.Publish("cases",
		procedureID,
		cp.ProcedureIndex, len(manifest.Procedures),
		cp.CaseIndex, caseTotal,
		cp.Processed, cp.TotalCases,
		fmt.Sprintf("procedure %d", procedureID))
}
