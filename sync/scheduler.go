package sync

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pocketbase/pocketbase/core"
	"github.com/robfig/cron/v3"
)

// Scheduler manages cron-based sync scheduling
type Scheduler struct {
	app          core.App
	cron         *cron.Cron
	orchestrator *Orchestrator
	mu           sync.Mutex
	running      bool
}

// NewScheduler creates a new scheduler
func NewScheduler(app core.App) *Scheduler {
	return &Scheduler{
		app:          app,
		cron:         cron.New(),
		orchestrator: NewOrchestrator(app),
	}
}

// Start initializes and starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	if err := s.orchestrator.Initialize(); err != nil {
		return fmt.Errorf("initializing sync service: %w", err)
	}

	// Nightly full sync
	_, err := s.cron.AddFunc("0 3 * * *", func() {
		slog.Info("Starting scheduled nightly sync")
		if err := s.orchestrator.StartFullSync(false); err != nil {
			slog.Error("Nightly sync failed to start", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("adding nightly schedule: %w", err)
	}

	// Resume tick: picks up a checkpoint left by a crash or deploy
	_, err = s.cron.AddFunc("*/5 * * * *", func() {
		s.orchestrator.ResumeIfCheckpointed()
	})
	if err != nil {
		return fmt.Errorf("adding resume schedule: %w", err)
	}

	s.cron.Start()
	s.running = true

	slog.Info("Sync scheduler started")
	return nil
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	slog.Info("Stopping sync scheduler")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	slog.Info("Sync scheduler stopped")
}

// TriggerFullSync manually starts a full sync
func (s *Scheduler) TriggerFullSync(force bool) error {
	slog.Info("Manual sync triggered", "force", force)
	return s.orchestrator.StartFullSync(force)
}

// GetOrchestrator returns the orchestrator instance
func (s *Scheduler) GetOrchestrator() *Orchestrator {
	return s.orchestrator
}

// Global scheduler instance
var globalScheduler *Scheduler
var schedulerOnce sync.Once

// GetScheduler returns the global scheduler instance
func GetScheduler(app core.App) *Scheduler {
	schedulerOnce.Do(func() {
		globalScheduler = NewScheduler(app)
	})
	return globalScheduler
}

// StartSyncScheduler starts the global scheduler
func StartSyncScheduler(app core.App) error {
	scheduler := GetScheduler(app)
	return scheduler.Start()
}
