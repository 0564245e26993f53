package sync

import (
	"fmt"
	"runtime"
	"time"
)

// memoryHeadroom stops the run before the limit is actually hit
const memoryHeadroom = 0.9

// ResourceGuard watches the wall-clock and memory budgets of an
// invocation. When a budget is close to exhausted the processor saves a
// checkpoint and yields instead of being killed mid-write.
type ResourceGuard struct {
	deadline    time.Time
	memoryLimit uint64 // bytes, 0 disables the memory check
}

// NewResourceGuard creates a guard with the given budgets. A zero
// timeBudget disables the deadline; a zero memoryLimitMB disables the
// memory check.
func NewResourceGuard(timeBudget time.Duration, memoryLimitMB int) *ResourceGuard {
	g := &ResourceGuard{}
	if timeBudget > 0 {
		g.deadline = time.Now().Add(timeBudget)
	}
	if memoryLimitMB > 0 {
		g.memoryLimit = uint64(memoryLimitMB) * 1024 * 1024
	}
	return g
}

// Check returns a ResourceExhaustion when a budget is about to be
// exceeded, nil otherwise
func (g *ResourceGuard) Check() *ResourceExhaustion {
	if !g.deadline.IsZero() && time.Now().After(g.deadline) {
		return &ResourceExhaustion{Reason: "time budget exceeded"}
	}

	if g.memoryLimit > 0 {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		threshold := uint64(float64(g.memoryLimit) * memoryHeadroom)
		if m.Alloc >= threshold {
			return &ResourceExhaustion{
				Reason: fmt.Sprintf("memory usage %dMB near limit %dMB",
					m.Alloc/1024/1024, g.memoryLimit/1024/1024),
			}
		}
	}

	return nil
}

// Remaining reports the time left before the deadline, or 0 when the
// deadline is disabled
func (g *ResourceGuard) Remaining() time.Duration {
	if g.deadline.IsZero() {
		return 0
	}
	remaining := time.Until(g.deadline)
	if remaining < 0 {
		return 0
	}
	return remaining
}
