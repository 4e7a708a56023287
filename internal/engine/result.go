package engine

import "time"

// Status is the overall outcome of a pass.
type Status string

const (
	// StatusSuccess means every record reconciled cleanly.
	StatusSuccess Status = "success"
	// StatusPartial means the pass completed but some records failed.
	StatusPartial Status = "partial"
	// StatusError means the pass could not run at all, typically because
	// a side could not be fetched. No partial writes are reported.
	StatusError Status = "error"
	// StatusSkipped means the change check found nothing to do.
	StatusSkipped Status = "skipped"
)

// Result describes one finished pass.
type Result struct {
	Entity    string        `json:"entity"`
	Status    Status        `json:"status"`
	Summary   string        `json:"summary"`
	Details   []Change      `json:"details,omitempty"`
	Changes   int           `json:"changes"`
	Failures  int           `json:"failures"`
	Warnings  []string      `json:"warnings,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
	StartedAt time.Time     `json:"started_at"`
	Err       error         `json:"-"`
}

// ErrMessage returns the fatal error text, or "" for non-error results.
// JSON encoding uses this because error values do not marshal.
func (r *Result) ErrMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
