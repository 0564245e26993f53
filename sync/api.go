package sync

import (
	"errors"
	"net/http"

	"github.com/clinicgallery/casesync/gallery"
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

const boolTrueStr = "true"

// requireAuth wraps a handler function to require authentication
func requireAuth(handler func(*core.RequestEvent) error) func(*core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if e.Auth == nil {
			return apis.NewUnauthorizedError("Authentication required", nil)
		}
		return handler(e)
	}
}

// InitializeSyncService ensures the collections exist and registers the
// sync API endpoints
func InitializeSyncService(app *pocketbase.PocketBase, e *core.ServeEvent) error {
	if err := EnsureCollections(app); err != nil {
		return err
	}

	scheduler := GetScheduler(app)

	// Start a full sync. ?force=true rebuilds today's manifest snapshot.
	e.Router.POST("/api/custom/sync/run", requireAuth(func(e *core.RequestEvent) error {
		return handleRunSync(e, scheduler)
	}))

	// Cooperative stop: the processor yields with a checkpoint
	e.Router.POST("/api/custom/sync/stop", requireAuth(func(e *core.RequestEvent) error {
		return handleStopSync(e, scheduler)
	}))

	// Run status and summary counters
	e.Router.GET("/api/custom/sync/status", requireAuth(func(e *core.RequestEvent) error {
		return handleSyncStatus(e, scheduler)
	}))

	// Live progress snapshot
	e.Router.GET("/api/custom/sync/progress", requireAuth(func(e *core.RequestEvent) error {
		return handleSyncProgress(e, scheduler)
	}))

	// Discard the saved resume position
	e.Router.DELETE("/api/custom/sync/checkpoint", requireAuth(func(e *core.RequestEvent) error {
		return handleClearCheckpoint(e, scheduler)
	}))

	return nil
}

// handleRunSync starts a full pipeline run in the background
func handleRunSync(e *core.RequestEvent, scheduler *Scheduler) error {
	forceParam := e.Request.URL.Query().Get("force")
	force := forceParam == boolTrueStr || forceParam == "1"

	if err := scheduler.TriggerFullSync(force); err != nil {
		var cfgErr *gallery.ConfigError
		if errors.As(err, &cfgErr) {
			return e.JSON(http.StatusInternalServerError, map[string]interface{}{
				"error": err.Error(),
				"hint":  "Check that GALLERY_API_TOKEN and GALLERY_PROPERTY_ID are set",
			})
		}
		return e.JSON(http.StatusConflict, map[string]interface{}{
			"error":  err.Error(),
			"status": "running",
		})
	}

	return e.JSON(http.StatusOK, map[string]interface{}{
		"message": "Sync started",
		"status":  "started",
		"force":   force,
	})
}

// handleStopSync requests a cooperative stop of the running sync
func handleStopSync(e *core.RequestEvent, scheduler *Scheduler) error {
	orchestrator := scheduler.GetOrchestrator()

	if !orchestrator.IsRunning() {
		return e.JSON(http.StatusNotFound, map[string]interface{}{
			"error": "No sync currently running",
		})
	}

	if err := orchestrator.RequestStop(); err != nil {
		return e.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": err.Error(),
		})
	}

	return e.JSON(http.StatusOK, map[string]interface{}{
		"message": "Stop requested, sync will checkpoint and pause",
	})
}

// handleSyncStatus returns the current or last run status
func handleSyncStatus(e *core.RequestEvent, scheduler *Scheduler) error {
	orchestrator := scheduler.GetOrchestrator()

	status := orchestrator.GetStatus()
	if status == nil {
		return e.JSON(http.StatusOK, map[string]interface{}{
			"status": "idle",
		})
	}

	return e.JSON(http.StatusOK, status)
}

// handleSyncProgress returns the live progress snapshot
func handleSyncProgress(e *core.RequestEvent, scheduler *Scheduler) error {
	orchestrator := scheduler.GetOrchestrator()

	progress, err := orchestrator.ReadProgress()
	if err != nil {
		return e.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": err.Error(),
		})
	}
	if progress == nil {
		return e.JSON(http.StatusOK, map[string]interface{}{
			"status": "idle",
		})
	}

	return e.JSON(http.StatusOK, progress)
}

// handleClearCheckpoint discards the saved checkpoint
func handleClearCheckpoint(e *core.RequestEvent, scheduler *Scheduler) error {
	orchestrator := scheduler.GetOrchestrator()

	if orchestrator.IsRunning() {
		return e.JSON(http.StatusConflict, map[string]interface{}{
			"error": "Cannot clear checkpoint while a sync is running",
		})
	}

	if err := orchestrator.ClearCheckpoint(); err != nil {
		return e.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": err.Error(),
		})
	}

	return e.JSON(http.StatusOK, map[string]interface{}{
		"message": "Checkpoint cleared",
	})
}
