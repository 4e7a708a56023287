package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jmartens/lifesync/internal/audit"
	"github.com/jmartens/lifesync/internal/codec"
	"github.com/jmartens/lifesync/internal/entity"
	"github.com/jmartens/lifesync/internal/syncerr"
)

// Config wires an Engine. Workspace and Store are required; Provider is
// only needed when an entity's topology involves one.
type Config struct {
	Workspace Workspace
	Store     Store
	Provider  Provider

	// Mappings is the property mapping table. Defaults to the built-in
	// table when nil.
	Mappings codec.Table

	// Databases maps entity workspace-db keys to database ids.
	Databases map[string]string

	// Tolerance overrides the timestamp comparison window.
	Tolerance time.Duration

	// Audit receives one entry per completed pass. Optional.
	Audit audit.Sink

	Logger *log.Logger
}

// Engine runs reconciliation passes. One engine serves all entities;
// the in-process guard keeps passes for the same entity from
// overlapping.
type Engine struct {
	workspace Workspace
	store     Store
	provider  Provider
	mappings  codec.Table
	databases map[string]string
	tolerance time.Duration
	sink      audit.Sink
	guard     *Guard
	logger    *log.Logger
}

// New creates an engine from config, applying defaults.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	if cfg.Tolerance == 0 {
		cfg.Tolerance = DefaultTolerance
	}
	if cfg.Mappings == nil {
		cfg.Mappings = codec.DefaultTable()
	}
	return &Engine{
		workspace: cfg.Workspace,
		store:     cfg.Store,
		provider:  cfg.Provider,
		mappings:  cfg.Mappings,
		databases: cfg.Databases,
		tolerance: cfg.Tolerance,
		sink:      cfg.Audit,
		guard:     NewGuard(),
		logger:    cfg.Logger,
	}
}

// SetMappings swaps the mapping table. Called by the daemon when the
// mapping file changes on disk.
func (e *Engine) SetMappings(t codec.Table) {
	e.mappings = t
}

// Run executes one pass for an entity. A full pass inspects the entire
// population and may propagate absence-based deletions; an incremental
// pass only looks at records changed since the stored cursor.
//
// Run never returns an error for per-record failures; those downgrade
// the result to StatusPartial. Only a pass that could not run at all
// (guard held, fetch failed, auth failed) comes back as StatusError.
func (e *Engine) Run(ctx context.Context, ec entity.Config, full bool) *Result {
	return e.RunWindow(ctx, ec, full, 0)
}

// RunWindow is Run with an explicit lookback window. A positive lookback
// replaces the stored cursor as the incremental boundary; the pre-pass
// change check is skipped because the caller asked for work explicitly.
func (e *Engine) RunWindow(ctx context.Context, ec entity.Config, full bool, lookback time.Duration) *Result {
	started := time.Now().UTC()
	res := &Result{Entity: ec.Name, StartedAt: started}

	if err := e.guard.Acquire(ec.Name); err != nil {
		res.Status = StatusError
		res.Err = err
		return res
	}
	defer e.guard.Release(ec.Name)

	since := time.Time{}
	if !full && lookback > 0 {
		since = started.Add(-lookback)
	} else if !full {
		cursor, err := e.store.Cursor(ctx, ec.Name)
		if err != nil {
			return e.finish(ctx, res, nil, fmt.Errorf("failed to read cursor for %s: %w", ec.Name, err))
		}
		since = cursor
	}

	if !full && lookback == 0 && !since.IsZero() {
		skip, err := e.nothingChanged(ctx, ec, since)
		if err != nil {
			return e.finish(ctx, res, nil, err)
		}
		if skip {
			e.logger.Printf("[%s] no changes since %s, skipping pass", ec.Name, since.Format(time.RFC3339))
			res.Status = StatusSkipped
			return res
		}
	}

	e.logger.Printf("[%s] starting %s pass (topology=%s)", ec.Name, passKind(full), ec.Topology)

	acc := NewAccountant()
	var err error
	switch ec.Topology {
	case entity.TopologyOneWay:
		err = e.runOneWay(ctx, ec, since, full, acc)
	case entity.TopologyTwoWay:
		err = e.runTwoWay(ctx, ec, since, full, acc)
	case entity.TopologyUnified:
		err = e.runUnified(ctx, ec, since, full, acc)
	default:
		err = fmt.Errorf("entity %s has unknown topology %q", ec.Name, ec.Topology)
	}

	res = e.finish(ctx, res, acc, err)
	if res.Status == StatusSuccess || res.Status == StatusPartial {
		if cerr := e.store.SetCursor(ctx, ec.Name, started); cerr != nil {
			e.logger.Printf("WARNING: [%s] failed to advance cursor: %v", ec.Name, cerr)
		}
	}
	return res
}

// nothingChanged asks both sides for change counts before doing real
// work. Most incremental passes end here.
func (e *Engine) nothingChanged(ctx context.Context, ec entity.Config, since time.Time) (bool, error) {
	storeChanges, err := e.store.CountUpdatedSince(ctx, ec.Table, since)
	if err != nil {
		return false, fmt.Errorf("failed to count store changes for %s: %w", ec.Name, err)
	}
	if storeChanges > 0 {
		return false, nil
	}
	if ec.WorkspaceDBKey != "" {
		wsChanges, err := e.workspace.CountUpdatedSince(ctx, e.databases[ec.WorkspaceDBKey], since)
		if err != nil {
			return false, fmt.Errorf("failed to count workspace changes for %s: %w", ec.Name, err)
		}
		if wsChanges > 0 {
			return false, nil
		}
	}
	if ec.ProviderFeed != "" {
		// Provider feeds have no cheap count; the pass itself is the
		// only way to learn what changed.
		return false, nil
	}
	return true, nil
}

// finish assembles the result, logs it, and writes the audit entry.
func (e *Engine) finish(ctx context.Context, res *Result, acc *Accountant, err error) *Result {
	providerCalls := 0
	if e.provider != nil {
		providerCalls = e.provider.Calls()
	}
	if acc != nil {
		res.Summary = acc.Summary(e.workspace.Calls(), e.store.Calls(), providerCalls)
		res.Details = acc.Details()
		res.Changes = acc.Changes()
		res.Failures = acc.Failures()
		res.Warnings = acc.Warnings()
		res.Elapsed = acc.Elapsed()
	}

	switch {
	case err != nil:
		res.Status = StatusError
		res.Err = err
		e.logger.Printf("ERROR: [%s] pass failed: %v", res.Entity, err)
	case res.Failures > 0:
		res.Status = StatusPartial
		e.logger.Printf("WARNING: [%s] pass completed with %d failures: %s", res.Entity, res.Failures, res.Summary)
	default:
		res.Status = StatusSuccess
		e.logger.Printf("[%s] pass completed: %s", res.Entity, res.Summary)
	}
	if res.Changes > 50 {
		e.logger.Printf("WARNING: [%s] unusually large change set: %d changes", res.Entity, res.Changes)
	}

	if e.sink != nil {
		entry := audit.NewEntry(res.Entity)
		entry.Status = string(res.Status)
		entry.Summary = res.Summary
		entry.Changes = res.Changes
		entry.Failures = res.Failures
		entry.Error = res.ErrMessage()
		entry.Elapsed = res.Elapsed
		entry.StartedAt = res.StartedAt
		if werr := e.sink.Write(ctx, entry); werr != nil {
			e.logger.Printf("WARNING: [%s] failed to write audit entry: %v", res.Entity, werr)
		}
	}
	return res
}

// recordFailure isolates one bad record: tally it and keep going, unless
// the error is fatal for the whole pass.
func (e *Engine) recordFailure(acc *Accountant, direction, id string, err error) error {
	if syncerr.IsFatal(err) || errors.Is(err, context.Canceled) {
		return err
	}
	e.logger.Printf("WARNING: [%s] record %s failed: %v", direction, id, err)
	acc.Record(direction, ChangeFailed, id, err.Error())
	return nil
}

func passKind(full bool) string {
	if full {
		return "full"
	}
	return "incremental"
}

// ConsistencyReport compares workspace and store populations per entity.
// It never writes anything; drifting counts are an operator signal, not
// something the engine should silently repair.
func (e *Engine) ConsistencyReport(ctx context.Context) ([]audit.EntityCounts, error) {
	var report []audit.EntityCounts
	for _, ec := range entity.All() {
		if ec.WorkspaceDBKey == "" {
			continue
		}
		pages, err := e.workspace.QueryPages(ctx, e.databases[ec.WorkspaceDBKey], nil)
		if err != nil {
			return nil, fmt.Errorf("failed to count workspace %s: %w", ec.Name, err)
		}
		active := 0
		for _, p := range pages {
			if !p.Archived {
				active++
			}
		}
		stored, err := e.store.CountActive(ctx, ec.Table)
		if err != nil {
			return nil, fmt.Errorf("failed to count store %s: %w", ec.Name, err)
		}
		report = append(report, audit.EntityCounts{
			Entity:    ec.Name,
			Workspace: active,
			Store:     stored,
			Health:    audit.Grade(active, stored),
		})
	}
	return report, nil
}
