// Package daemon runs the background scheduler: periodic incremental
// passes, a daily full pass, and hot-reload of the property mapping
// table.
package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jmartens/lifesync/internal/codec"
	"github.com/jmartens/lifesync/internal/engine"
	"github.com/jmartens/lifesync/internal/entity"
	"github.com/jmartens/lifesync/internal/oplog"
)

// Config holds daemon settings.
type Config struct {
	// IncrementalInterval is how often windowed passes run.
	IncrementalInterval time.Duration

	// FullInterval is how often full passes run.
	FullInterval time.Duration

	// MappingFile, when set, is watched for changes and reloaded into
	// the engine without a restart.
	MappingFile string

	// LogFile, when set, receives rotated daemon logs in addition to
	// stderr.
	LogFile string

	// Entities lists what to sync, in pass order. Defaults to all.
	Entities []entity.Config

	// ProviderEnabled controls whether provider-backed entities run.
	ProviderEnabled bool

	// OnResult is called after every pass. Optional; used to feed the
	// dashboard event stream.
	OnResult func(*engine.Result)
}

// DefaultConfig returns daemon settings suitable for a workstation
// deployment.
func DefaultConfig() Config {
	return Config{
		IncrementalInterval: 5 * time.Minute,
		FullInterval:        24 * time.Hour,
		Entities:            entity.All(),
		ProviderEnabled:     true,
	}
}

// Daemon schedules reconciliation passes.
type Daemon struct {
	cfg    Config
	engine *engine.Engine
	ops    *oplog.Log
	logger *log.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	lastRun map[string]*engine.Result
}

// New creates a daemon. ops may be nil to skip local operation logging.
func New(cfg Config, eng *engine.Engine, ops *oplog.Log) *Daemon {
	var w io.Writer = os.Stderr
	if cfg.LogFile != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    20, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		})
	}
	if len(cfg.Entities) == 0 {
		cfg.Entities = entity.All()
	}
	return &Daemon{
		cfg:     cfg,
		engine:  eng,
		ops:     ops,
		logger:  log.New(w, "[daemon] ", log.LstdFlags),
		lastRun: make(map[string]*engine.Result),
	}
}

// Start launches the scheduler goroutines. Returns an error if already
// running.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("daemon already running")
	}
	ctx, d.cancel = context.WithCancel(ctx)
	d.running = true

	d.wg.Add(1)
	go d.scheduleLoop(ctx)

	if d.cfg.MappingFile != "" {
		if err := d.watchMappings(ctx); err != nil {
			d.logger.Printf("WARNING: mapping hot-reload disabled: %v", err)
		}
	}

	d.logger.Printf("started (incremental every %s, full every %s, %d entities)",
		d.cfg.IncrementalInterval, d.cfg.FullInterval, len(d.cfg.Entities))
	return nil
}

// Stop cancels the schedulers and waits for in-flight passes.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.cancel()
	d.running = false
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Printf("stopped")
}

func (d *Daemon) scheduleLoop(ctx context.Context) {
	defer d.wg.Done()

	// First cycle is a full pass so a fresh deployment converges
	// immediately instead of waiting a day.
	d.RunAll(ctx, true)

	incr := time.NewTicker(d.cfg.IncrementalInterval)
	full := time.NewTicker(d.cfg.FullInterval)
	defer incr.Stop()
	defer full.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-full.C:
			d.RunAll(ctx, true)
		case <-incr.C:
			d.RunAll(ctx, false)
		}
	}
}

// RunAll executes one pass per configured entity, in order. Failures are
// logged and do not stop later entities.
func (d *Daemon) RunAll(ctx context.Context, full bool) {
	runID := uuid.NewString()
	for _, ec := range d.cfg.Entities {
		if ctx.Err() != nil {
			return
		}
		if ec.ProviderFeed != "" && !d.cfg.ProviderEnabled {
			continue
		}
		res := d.engine.Run(ctx, ec, full)
		d.record(ctx, runID, res)
	}
}

// RunOne executes a pass for a single entity, for the HTTP trigger. A
// positive lookback overrides the stored cursor as the incremental
// window.
func (d *Daemon) RunOne(ctx context.Context, ec entity.Config, full bool, lookback time.Duration) *engine.Result {
	if ec.ProviderFeed != "" && !d.cfg.ProviderEnabled {
		res := &engine.Result{
			Entity: ec.Name,
			Status: engine.StatusError,
			Err:    fmt.Errorf("entity %s needs the provider, which is disabled", ec.Name),
		}
		return res
	}
	res := d.engine.RunWindow(ctx, ec, full, lookback)
	d.record(ctx, uuid.NewString(), res)
	return res
}

func (d *Daemon) record(ctx context.Context, runID string, res *engine.Result) {
	d.mu.Lock()
	d.lastRun[res.Entity] = res
	d.mu.Unlock()

	if d.ops != nil {
		for _, ch := range res.Details {
			err := d.ops.Append(ctx, oplog.Op{
				RunID:     runID,
				Entity:    res.Entity,
				Direction: ch.Direction,
				Kind:      string(ch.Kind),
				RecordID:  ch.ID,
				Detail:    ch.Detail,
			})
			if err != nil {
				d.logger.Printf("WARNING: failed to append oplog entry: %v", err)
				break
			}
		}
	}
	if d.cfg.OnResult != nil {
		d.cfg.OnResult(res)
	}
}

// LastResults returns the most recent result per entity, in pass order.
func (d *Daemon) LastResults() []*engine.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*engine.Result
	for _, ec := range d.cfg.Entities {
		if res, ok := d.lastRun[ec.Name]; ok {
			out = append(out, res)
		}
	}
	return out
}

// watchMappings reloads the mapping table when the file changes. Editors
// that write via rename are handled by re-adding the watch.
func (d *Daemon) watchMappings(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(d.cfg.MappingFile); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", d.cfg.MappingFile, err)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if ev.Op&fsnotify.Rename != 0 {
					// Re-add after atomic saves.
					time.Sleep(100 * time.Millisecond)
					_ = watcher.Add(d.cfg.MappingFile)
				}
				d.reloadMappings()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				d.logger.Printf("WARNING: mapping watcher error: %v", err)
			}
		}
	}()
	return nil
}

func (d *Daemon) reloadMappings() {
	table, err := codec.LoadTable(d.cfg.MappingFile)
	if err != nil {
		// Keep running on the previous table; a broken edit must not
		// take the daemon down.
		d.logger.Printf("WARNING: failed to reload mapping table: %v", err)
		return
	}
	d.engine.SetMappings(table)
	d.logger.Printf("reloaded mapping table from %s", d.cfg.MappingFile)
}
