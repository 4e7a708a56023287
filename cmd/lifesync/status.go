package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmartens/lifesync/internal/config"
	"github.com/jmartens/lifesync/internal/oplog"
)

var (
	statusLimit       int
	statusConsistency bool
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show recent pass outcomes and population health",
	Long: `Print the most recent entries of the sync audit trail, and
optionally a consistency report comparing workspace and store
population counts per entity.

Example usage:
  lifesync status
  lifesync status --limit 50 --consistency`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		rt, err := buildRuntime(ctx)
		if err != nil {
			// The audit trail lives in Postgres, but the local oplog can
			// still answer "what ran recently" when the store is down.
			if printOplogFallback(ctx, err) {
				return
			}
			fatalf("%v", err)
		}
		defer rt.close()

		entries, err := rt.store.RecentEntries(ctx, statusLimit)
		if err != nil {
			fatalf("failed to read audit trail: %v", err)
		}
		if len(entries) == 0 {
			fmt.Println("No passes recorded yet.")
		} else {
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FINISHED\tENTITY\tSTATUS\tCHANGES\tFAILURES\tSUMMARY")
			for _, e := range entries {
				summary := e.Summary
				if e.Error != "" {
					summary = e.Error
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
					e.FinishedAt.Local().Format(time.RFC3339),
					e.Entity, e.Status, e.Changes, e.Failures, summary)
			}
			w.Flush()
		}

		if statusConsistency {
			report, err := rt.engine.ConsistencyReport(ctx)
			if err != nil {
				fatalf("failed to build consistency report: %v", err)
			}
			fmt.Println()
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ENTITY\tWORKSPACE\tSTORE\tHEALTH")
			for _, row := range report {
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", row.Entity, row.Workspace, row.Store, row.Health)
			}
			w.Flush()
		}
	},
}

// printOplogFallback shows recent operations from the local journal when
// the full runtime cannot be built. Returns false when there is no oplog
// to fall back to.
func printOplogFallback(ctx context.Context, cause error) bool {
	cfg, err := config.Load(cfgFile)
	if err != nil || cfg.OplogPath == "" {
		return false
	}
	ops, err := oplog.Open(cfg.OplogPath)
	if err != nil {
		return false
	}
	defer ops.Close()

	recent, err := ops.Recent(ctx, "", statusLimit)
	if err != nil || len(recent) == 0 {
		return false
	}

	fmt.Fprintf(os.Stderr, "Warning: %v\nShowing the local operation journal instead.\n\n", cause)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LOGGED\tENTITY\tDIRECTION\tKIND\tRECORD")
	for _, op := range recent {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			op.LoggedAt.Local().Format(time.RFC3339),
			op.Entity, op.Direction, op.Kind, op.RecordID)
	}
	w.Flush()
	return true
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "Number of audit entries to show")
	statusCmd.Flags().BoolVar(&statusConsistency, "consistency", false, "Compare workspace and store population counts")
	rootCmd.AddCommand(statusCmd)
}
