package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jmartens/lifesync/internal/codec"
	"github.com/jmartens/lifesync/internal/config"
	"github.com/jmartens/lifesync/internal/engine"
	"github.com/jmartens/lifesync/internal/entity"
	"github.com/jmartens/lifesync/internal/google"
	"github.com/jmartens/lifesync/internal/notion"
	"github.com/jmartens/lifesync/internal/oplog"
	"github.com/jmartens/lifesync/internal/store"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "lifesync",
	Short: "Bidirectional sync between a Notion workspace, Postgres, and Google",
	Long: `lifesync keeps a personal Notion workspace, a Postgres backend, and
Google Calendar/Gmail/Contacts convergent.

Sync passes are per entity (tasks, meetings, contacts, ...) and run
either one-shot (lifesync sync) or continuously (lifesync serve).
Configuration is read from lifesync.yaml, the environment (LIFESYNC_*),
or --config.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: lifesync.yaml in ., ~/.config/lifesync, /etc/lifesync)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "setup", Title: "Setup Commands:"},
	)
}

// runtime holds the wired components for one command invocation.
type runtime struct {
	cfg      *config.Config
	store    *store.Store
	oplog    *oplog.Log
	engine   *engine.Engine
	provider *google.Provider
}

func (rt *runtime) close() {
	if rt.oplog != nil {
		_ = rt.oplog.Close()
	}
	if rt.store != nil {
		_ = rt.store.Close()
	}
}

// storeKeys names the pairing columns of the provider-fed tables. All
// other tables use the default workspace pairing column.
func storeKeys() map[string]store.Keys {
	return map[string]store.Keys{
		"calendar_events": {External: "google_event_id"},
		"emails":          {External: "gmail_message_id"},
		"contacts":        {Provider: "google_contact_id"},
	}
}

// buildRuntime loads configuration and connects everything a sync pass
// needs. The caller owns close.
func buildRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, store.Config{
		DSN:  cfg.Store.DSN,
		Keys: storeKeys(),
	})
	if err != nil {
		return nil, err
	}
	if err := st.InitSchema(ctx); err != nil {
		st.Close()
		return nil, err
	}
	if err := st.CheckPairingIndexes(ctx, entity.Tables()); err != nil {
		st.Close()
		return nil, err
	}

	rt := &runtime{cfg: cfg, store: st}

	if cfg.Google.Enabled {
		client, err := google.NewHTTPClient(ctx, os.ExpandEnv(cfg.Google.ConfigDir))
		if err != nil {
			rt.close()
			return nil, err
		}
		provider, err := google.NewProvider(ctx, client, nil)
		if err != nil {
			rt.close()
			return nil, err
		}
		rt.provider = provider
	}

	mappings := codec.DefaultTable()
	if cfg.MappingFile != "" {
		mappings, err = codec.LoadTable(cfg.MappingFile)
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("failed to load mapping table: %w", err)
		}
	}

	if cfg.OplogPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OplogPath), 0o755); err != nil {
			rt.close()
			return nil, fmt.Errorf("failed to create oplog directory: %w", err)
		}
		ops, err := oplog.Open(cfg.OplogPath)
		if err != nil {
			rt.close()
			return nil, err
		}
		rt.oplog = ops
	}

	engCfg := engine.Config{
		Workspace: notion.New(cfg.Workspace.Token, nil),
		Store:     st,
		Mappings:  mappings,
		Databases: cfg.Workspace.Databases,
		Audit:     st,
		Logger:    log.New(os.Stderr, "[engine] ", log.LstdFlags),
	}
	if rt.provider != nil {
		engCfg.Provider = rt.provider
	}
	rt.engine = engine.New(engCfg)
	return rt, nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
