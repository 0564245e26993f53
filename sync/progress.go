package sync

import (
	"fmt"
	"log/slog"
	"time"
)

const (
	// progressTTL bounds how long a stale progress snapshot stays readable
	progressTTL = 5 * time.Minute

	// recentActivitySize bounds the recent activity ring
	recentActivitySize = 10

	// overrunBuffer inflates the denominator when processed exceeds the
	// planned total, so the percentage never reads over 100
	overrunBuffer = 1.15
)

// ProcedureProgress reports position within one dimension of the run
type ProcedureProgress struct {
	Current int     `json:"current"`
	Total   int     `json:"total"`
	Pct     float64 `json:"percentage"`
}

// Progress is the externally visible state of the running pipeline,
// persisted with a short TTL so consumers can tell live from stale.
type Progress struct {
	Stage            string            `json:"stage"`
	OverallPct       float64           `json:"overall_percentage"`
	CurrentProcedure int               `json:"current_procedure"`
	Procedure        ProcedureProgress `json:"procedure"`
	Case             ProcedureProgress `json:"case"`
	CurrentStep      string            `json:"current_step"`
	Recent           []string          `json:"recent_activity,omitempty"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// ProgressReporter publishes progress snapshots to the state store
type ProgressReporter struct {
	kv     KV
	recent []string

	// lastOverall is the highest overall percentage published so far;
	// the displayed value never drops below it
	lastOverall float64
	seeded      bool
}

// NewProgressReporter creates a progress reporter
func NewProgressReporter(kv KV) *ProgressReporter {
	return &ProgressReporter{kv: kv}
}

// Activity appends a line to the recent activity ring
func (r *ProgressReporter) Activity(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	r.recent = append(r.recent, line)
	if len(r.recent) > recentActivitySize {
		r.recent = r.recent[len(r.recent)-recentActivitySize:]
	}
}

// Publish writes a progress snapshot. Failures are logged, never fatal.
func (r *ProgressReporter) Publish(stage string, procedureID, procIdx, procTotal, caseIdx, caseTotal, processed, overallTotal int, step string) {
	p := Progress{
		Stage:            stage,
		OverallPct:       r.monotoneOverall(overallPct(processed, overallTotal)),
		CurrentProcedure: procedureID,
		Procedure: ProcedureProgress{
			Current: procIdx,
			Total:   procTotal,
			Pct:     pct(procIdx, procTotal),
		},
		Case: ProcedureProgress{
			Current: caseIdx,
			Total:   caseTotal,
			Pct:     pct(caseIdx, caseTotal),
		},
		CurrentStep: step,
		Recent:      append([]string(nil), r.recent...),
		UpdatedAt:   time.Now().UTC(),
	}

	if err := r.kv.Put(stateKeyProgress, p, progressTTL); err != nil {
		slog.Warn("Failed to publish progress", "error", err)
	}
}

// monotoneOverall clamps the overall percentage so it never reads below
// an already published value. The denominator inflation in overallPct
// kicks in only once processed exceeds the plan, which would otherwise
// drop a 100.00 snapshot to ~87 on the next publish. The floor is seeded
// from the stored snapshot so a resumed process honors pre-restart
// publishes too.
func (r *ProgressReporter) monotoneOverall(v float64) float64 {
	if !r.seeded {
		r.seeded = true
		if p, err := r.Read(); err == nil && p != nil {
			r.lastOverall = p.OverallPct
		}
	}
	if v < r.lastOverall {
		return r.lastOverall
	}
	r.lastOverall = v
	return v
}

// Clear removes the progress snapshot
func (r *ProgressReporter) Clear() {
	if err := r.kv.Delete(stateKeyProgress); err != nil {
		slog.Warn("Failed to clear progress", "error", err)
	}
	r.lastOverall = 0
	r.seeded = true
}

// Read returns the latest snapshot, or nil when absent or expired
func (r *ProgressReporter) Read() (*Progress, error) {
	var p Progress
	ok, err := r.kv.Get(stateKeyProgress, &p)
	if err != nil {
		return nil, fmt.Errorf("reading progress: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func pct(current, total int) float64 {
	if total <= 0 {
		return 0
	}
	v := float64(current) / float64(total) * 100
	if v > 100 {
		return 100
	}
	return v
}

// overallPct bounds the overall percentage when the run processes more
// cases than the manifest planned (retries, drift). Monotonicity across
// publishes is monotoneOverall's job.
func overallPct(processed, total int) float64 {
	if total <= 0 {
		return 0
	}
	if processed > total {
		total = int(float64(processed) * overrunBuffer)
	}
	return pct(processed, total)
}
