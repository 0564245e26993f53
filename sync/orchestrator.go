package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clinicgallery/casesync/gallery"
	"github.com/pocketbase/pocketbase/core"
)

const (
	statusRunning    = "running"
	statusContinuing = "continuing"
	statusCompleted  = "completed"
	statusFailed     = "failed"
	statusAborted    = "aborted"
)

// Status represents the state of a pipeline run
type Status struct {
	Stage         string     `json:"stage"`
	Status        string     `json:"status"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	Error         string     `json:"error,omitempty"`
	Summary       Stats      `json:"summary"`
	NeedsContinue bool       `json:"needs_continue,omitempty"`
}

// Orchestrator drives the three pipeline stages and guards against
// overlapping runs within the process. Cross-process exclusion is the
// checkpoint store's lock.
type Orchestrator struct {
	app         core.App
	client      *gallery.Client
	state       KV
	checkpoints *CheckpointStore
	progress    *ProgressReporter
	cfg         ProcessorConfig

	mu      sync.RWMutex
	current *Status
	last    *Status
}

// NewOrchestrator creates an orchestrator over the given app
func NewOrchestrator(app core.App) *Orchestrator {
	state := NewStateStore(app)
	return &Orchestrator{
		app:         app,
		state:       state,
		checkpoints: NewCheckpointStore(state),
		progress:    NewProgressReporter(state),
		cfg:         ProcessorConfigFromEnv(),
	}
}

// Initialize builds the gallery client from the environment. Config
// errors surface here rather than on the first scheduled run.
func (o *Orchestrator) Initialize() error {
	client, err := gallery.NewClient(gallery.ConfigFromEnv())
	if err != nil {
		return err
	}
	o.client = client
	return nil
}

// IsRunning reports whether a run is in progress in this process
func (o *Orchestrator) IsRunning() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.current != nil && o.current.Status == statusRunning
}

// GetStatus returns the current run status, falling back to the last
// completed one
func (o *Orchestrator) GetStatus() *Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.current != nil {
		copied := *o.current
		return &copied
	}
	if o.last != nil {
		copied := *o.last
		return &copied
	}
	return nil
}

// ReadProgress returns the latest published progress snapshot
func (o *Orchestrator) ReadProgress() (*Progress, error) {
	return o.progress.Read()
}

// RequestStop sets the cooperative stop flag. The processor notices it
// between batches and yields with a checkpoint.
func (o *Orchestrator) RequestStop() error {
	if err := RequestStop(o.state); err != nil {
		return err
	}
	slog.Info("Stop requested")
	return nil
}

// ClearCheckpoint discards any saved resume position
func (o *Orchestrator) ClearCheckpoint() error {
	return o.checkpoints.Clear()
}

// StartFullSync launches the full pipeline in the background. force
// rebuilds the manifest even when today's snapshot exists.
func (o *Orchestrator) StartFullSync(force bool) error {
	if o.client == nil {
		return &gallery.ConfigError{Reason: "sync service not initialized"}
	}

	o.mu.Lock()
	if o.current != nil && o.current.Status == statusRunning {
		o.mu.Unlock()
		return fmt.Errorf("sync already in progress")
	}
	o.current = &Status{
		Stage:     "categories",
		Status:    statusRunning,
		StartTime: time.Now(),
	}
	o.mu.Unlock()

	go o.runPipeline(force)
	return nil
}

// ResumeIfCheckpointed continues an interrupted run. Called by the
// scheduler's resume tick; a no-op when no checkpoint exists.
func (o *Orchestrator) ResumeIfCheckpointed() {
	if o.client == nil {
		return
	}
	if o.IsRunning() {
		return
	}
	// An operator stop means pause, not resume on the next tick
	if StopRequested(o.state) {
		return
	}

	cp, err := o.checkpoints.Load(nil)
	if err != nil {
		slog.Warn("Failed to check for checkpoint", "error", err)
		return
	}
	if cp == nil {
		return
	}

	slog.Info("Resuming interrupted sync", "session", cp.SessionID)

	o.mu.Lock()
	if o.current != nil && o.current.Status == statusRunning {
		o.mu.Unlock()
		return
	}
	o.current = &Status{
		Stage:     "cases",
		Status:    statusRunning,
		StartTime: time.Now(),
	}
	o.mu.Unlock()

	go o.runPipeline(false)
}

// runPipeline executes the three stages and fans the result into status
func (o *Orchestrator) runPipeline(force bool) {
	ctx := context.Background()
	start := time.Now()
	sessionID := fmt.Sprintf("orchestrator-%d", start.UnixNano())

	finish := func(status string, stats Stats, errMsg string, needsContinue bool) {
		now := time.Now()
		o.mu.Lock()
		o.current.Status = status
		o.current.EndTime = &now
		o.current.Error = errMsg
		o.current.Summary = stats
		o.current.Summary.Duration = now.Sub(start)
		o.current.NeedsContinue = needsContinue
		o.last = o.current
		o.current = nil
		o.mu.Unlock()

		if status != statusRunning {
			if err := o.checkpoints.ReleaseLock(sessionID); err != nil {
				slog.Warn("Failed to release sync lock", "error", err)
			}
		}
	}

	acquired, err := o.checkpoints.TryAcquireLock(sessionID)
	if err != nil {
		finish(statusFailed, Stats{}, err.Error(), false)
		return
	}
	if !acquired {
		finish(statusAborted, Stats{}, "another sync holds the lock", false)
		return
	}

	// A stop flag left over from a previous abort must not kill this run
	if err := ClearStop(o.state); err != nil {
		slog.Warn("Failed to clear stop flag", "error", err)
	}

	// Stage 1: categories
	categories := NewCategoriesSync(o.app, o.client)
	if _, err := categories.Sync(ctx); err != nil {
		slog.Error("Category sync failed", "error", err)
		finish(statusFailed, categories.GetStats(), err.Error(), false)
		return
	}
	o.setStage("manifest")

	// Stage 2: manifest snapshot
	builder := NewManifestBuilder(o.client, o.state)
	manifest, err := o.resolveManifest(ctx, builder, force)
	if err != nil {
		slog.Error("Manifest build failed", "error", err)
		finish(statusFailed, categories.GetStats(), err.Error(), false)
		return
	}
	o.setStage("cases")

	// Stage 3: batch processing, invocation by invocation. Each
	// invocation gets a fresh time budget; the checkpoint carries
	// position across them.
	processor := NewCaseProcessor(
		NewPBCaseStore(o.app), o.client,
		o.checkpoints, o.progress, o.state, o.cfg)

	stats := categories.GetStats()
	for {
		result, err := processor.RunInvocation(ctx, manifest)
		if err != nil {
			slog.Error("Batch processing failed", "error", err)
			finish(statusFailed, stats, err.Error(), false)
			return
		}

		stats = categories.GetStats()
		stats.Add(Stats{
			Created: result.Created,
			Updated: result.Updated,
			Deleted: result.Deleted,
			Skipped: result.Skipped,
			Failed:  result.Failed,
		})

		if !result.NeedsContinue {
			finish(statusCompleted, stats, "", false)
			return
		}

		if StopRequested(o.state) {
			slog.Info("Sync aborted by stop request, checkpoint saved")
			finish(statusAborted, stats, "", true)
			return
		}

		// A guard breach persists past the invocation boundary (heap
		// stays high), so re-invoking here would spin without progress.
		// Hand the checkpoint to the resume tick instead.
		if result.Exhausted {
			slog.Info("Sync yielded on resource exhaustion, resume tick will continue",
				"reason", result.Message)
			finish(statusContinuing, stats, "", true)
			return
		}
	}
}

// resolveManifest picks the manifest an invocation should run against.
// A checkpointed run loads the snapshot its cursor was cut against, even
// after midnight has moved "today" on; only when that snapshot is gone
// does the run start over on a fresh manifest.
func (o *Orchestrator) resolveManifest(ctx context.Context, builder *ManifestBuilder, force bool) (*Manifest, error) {
	if !force {
		cp, err := o.checkpoints.Load(nil)
		if err != nil {
			slog.Warn("Failed to load checkpoint for manifest resolution", "error", err)
		} else if cp != nil && cp.ManifestDate != "" {
			if m, ok := builder.LoadSnapshot(cp.ManifestDate); ok {
				slog.Info("Resuming against checkpointed manifest snapshot", "date", cp.ManifestDate)
				return m, nil
			}
			slog.Warn("Checkpointed manifest snapshot expired, starting over", "date", cp.ManifestDate)
			if err := o.checkpoints.Clear(); err != nil {
				slog.Warn("Failed to clear orphaned checkpoint", "error", err)
			}
		}
	}
	return builder.BuildOrLoad(ctx, force)
}

func (o *Orchestrator) setStage(stage string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != nil {
		o.current.Stage = stage
	}
}
