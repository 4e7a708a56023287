// Package audit defines the persistent trail of pass outcomes and the
// cross-system consistency report built from count comparisons.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Entry is one persisted pass outcome.
type Entry struct {
	ID         string        `json:"id"`
	Entity     string        `json:"entity"`
	Status     string        `json:"status"`
	Summary    string        `json:"summary"`
	Changes    int           `json:"changes"`
	Failures   int           `json:"failures"`
	Error      string        `json:"error,omitempty"`
	Elapsed    time.Duration `json:"elapsed"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// NewEntry assigns a fresh id and finish time.
func NewEntry(entity string) *Entry {
	return &Entry{
		ID:         uuid.NewString(),
		Entity:     entity,
		FinishedAt: time.Now().UTC(),
	}
}

// Sink persists pass outcomes. The production sink writes sync_logs rows;
// tests collect entries in memory.
type Sink interface {
	Write(ctx context.Context, e *Entry) error
}

// Health grades one entity's count comparison.
type Health string

const (
	// Healthy means counts agree within the warning margin.
	Healthy Health = "healthy"
	// Warning means counts drift by more than 5% but less than 20%.
	Warning Health = "warning"
	// Critical means counts drift by 20% or more.
	Critical Health = "critical"
)

// EntityCounts is one row of the consistency report.
type EntityCounts struct {
	Entity    string `json:"entity"`
	Workspace int    `json:"workspace"`
	Store     int    `json:"store"`
	Health    Health `json:"health"`
}

// Grade compares two population counts. Zero on both sides is healthy;
// drift is measured against the larger side.
func Grade(a, b int) Health {
	if a == b {
		return Healthy
	}
	max := a
	if b > max {
		max = b
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	ratio := float64(diff) / float64(max)
	switch {
	case ratio >= 0.20:
		return Critical
	case ratio > 0.05:
		return Warning
	}
	return Healthy
}
