package engine

import (
	"fmt"
	"strings"
	"time"
)

// ChangeKind classifies one recorded change.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
	ChangeSkipped ChangeKind = "skipped"
	ChangeFailed  ChangeKind = "failed"
)

// Change is one recorded per-record outcome, kept for the audit trail.
type Change struct {
	Direction string     `json:"direction"`
	Kind      ChangeKind `json:"kind"`
	ID        string     `json:"id"`
	Detail    string     `json:"detail,omitempty"`
}

// directionTally holds the counters for one direction of a pass.
type directionTally struct {
	name    string
	created int
	updated int
	deleted int
	skipped int
	failed  int
}

// maxSummaryLen caps the summary string persisted to the audit sink.
const maxSummaryLen = 2000

// Accountant tallies what a pass did, per direction, in the order the
// directions were declared. The summary string it produces is stable so
// audit rows stay grep-able across runs.
//
// Not safe for concurrent use; a pass processes records sequentially.
type Accountant struct {
	start      time.Time
	directions []*directionTally
	byName     map[string]*directionTally
	changes    []Change
	warnings   []string
}

// NewAccountant starts the clock for a pass.
func NewAccountant() *Accountant {
	return &Accountant{
		start:  time.Now(),
		byName: make(map[string]*directionTally),
	}
}

// Track declares a direction, fixing its position in the summary. Calling
// Track again with the same name is a no-op, so passes can declare their
// directions up front and record into them freely.
func (a *Accountant) Track(direction string) {
	if _, ok := a.byName[direction]; ok {
		return
	}
	t := &directionTally{name: direction}
	a.directions = append(a.directions, t)
	a.byName[direction] = t
}

// Record tallies one change. The direction is declared implicitly if the
// pass did not Track it first.
func (a *Accountant) Record(direction string, kind ChangeKind, id, detail string) {
	a.Track(direction)
	t := a.byName[direction]
	switch kind {
	case ChangeCreated:
		t.created++
	case ChangeUpdated:
		t.updated++
	case ChangeDeleted:
		t.deleted++
	case ChangeSkipped:
		t.skipped++
	case ChangeFailed:
		t.failed++
	}
	// Skips are routine and would dominate the detail list.
	if kind != ChangeSkipped {
		a.changes = append(a.changes, Change{Direction: direction, Kind: kind, ID: id, Detail: detail})
	}
}

// Failures returns how many per-record failures were recorded across all
// directions. A nonzero count downgrades the pass to partial.
func (a *Accountant) Failures() int {
	n := 0
	for _, t := range a.directions {
		n += t.failed
	}
	return n
}

// Changes returns how many effective changes (creates, updates, deletes)
// were recorded across all directions.
func (a *Accountant) Changes() int {
	n := 0
	for _, t := range a.directions {
		n += t.created + t.updated + t.deleted
	}
	return n
}

// Details returns the recorded changes in order.
func (a *Accountant) Details() []Change {
	return a.changes
}

// Warning records a pass-level warning, such as a tripped safety valve.
// Warnings are carried into the summary so the audit trail keeps them.
func (a *Accountant) Warning(detail string) {
	a.warnings = append(a.warnings, detail)
}

// Warnings returns the recorded pass-level warnings in order.
func (a *Accountant) Warnings() []string {
	return a.warnings
}

// Elapsed returns time since the accountant was created.
func (a *Accountant) Elapsed() time.Duration {
	return time.Since(a.start).Round(time.Millisecond)
}

// Summary renders the per-direction tallies in declaration order,
// followed by elapsed time and API call counts. The result is capped at
// 2000 characters so it always fits the audit column.
func (a *Accountant) Summary(workspaceCalls, storeCalls, providerCalls int) string {
	var parts []string
	for _, t := range a.directions {
		parts = append(parts, fmt.Sprintf("%s: %d created, %d updated, %d deleted, %d skipped, %d failed",
			t.name, t.created, t.updated, t.deleted, t.skipped, t.failed))
	}
	calls := fmt.Sprintf("calls: workspace=%d store=%d", workspaceCalls, storeCalls)
	if providerCalls > 0 {
		calls += fmt.Sprintf(" provider=%d", providerCalls)
	}
	for _, w := range a.warnings {
		parts = append(parts, "warning: "+w)
	}
	parts = append(parts, fmt.Sprintf("elapsed: %s", a.Elapsed()), calls)

	s := strings.Join(parts, " | ")
	if len(s) > maxSummaryLen {
		s = s[:maxSummaryLen-3] + "..."
	}
	return s
}
