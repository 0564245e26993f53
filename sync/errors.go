package sync

import "fmt"

// ResourceExhaustion signals the run must stop early and persist a
// checkpoint because a budget is about to be exceeded
type ResourceExhaustion struct {
	Reason string
}

func (e *ResourceExhaustion) Error() string {
	return fmt.Sprintf("resource exhaustion: %s", e.Reason)
}

// Result is the outcome of a single pipeline invocation. Exhausted marks
// a yield caused by a resource-guard breach: the caller must not
// re-invoke immediately because the breach condition is still in effect.
type Result struct {
	Success       bool     `json:"success"`
	Stage         string   `json:"stage"`
	Created       int      `json:"created"`
	Updated       int      `json:"updated"`
	Deleted       int      `json:"deleted"`
	Skipped       int      `json:"skipped"`
	Failed        int      `json:"failed"`
	Errors        []string `json:"errors,omitempty"`
	Message       string   `json:"message,omitempty"`
	NeedsContinue bool     `json:"needs_continue"`
	Exhausted     bool     `json:"exhausted,omitempty"`
}
