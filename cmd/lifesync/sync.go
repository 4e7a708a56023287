package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmartens/lifesync/internal/engine"
	"github.com/jmartens/lifesync/internal/entity"
)

var (
	syncFull  bool
	syncHours int
)

var syncCmd = &cobra.Command{
	Use:     "sync [entity]",
	GroupID: "sync",
	Short:   "Run one sync pass and exit",
	Long: `Run one reconciliation pass for a single entity, or for every
entity in pass order when no entity is named.

An incremental pass only inspects records changed since the last
completed pass. A full pass (--full) inspects the entire population and
may propagate absence-based deletions, behind the safety valve.

Example usage:
  lifesync sync                  # Incremental pass over all entities
  lifesync sync tasks            # Incremental pass over tasks only
  lifesync sync --full contacts  # Full pass over contacts
  lifesync sync --hours 12 tasks # Reconcile the last 12 hours of edits`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		rt, err := buildRuntime(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		defer rt.close()

		entities := entity.All()
		if len(args) == 1 {
			ec, ok := entity.ByName(args[0])
			if !ok {
				fatalf("unknown entity %q (known: %v)", args[0], entity.Names())
			}
			entities = []entity.Config{ec}
		}

		failed := false
		for _, ec := range entities {
			if ec.ProviderFeed != "" && rt.provider == nil {
				fmt.Printf("%-16s skipped (google provider disabled)\n", ec.Name)
				continue
			}
			res := rt.engine.RunWindow(ctx, ec, syncFull, time.Duration(syncHours)*time.Hour)
			printResult(res)
			if res.Status == engine.StatusError {
				failed = true
			}
		}
		if failed {
			os.Exit(1)
		}
	},
}

func printResult(res *engine.Result) {
	switch res.Status {
	case engine.StatusSkipped:
		fmt.Printf("%-16s skipped (no changes)\n", res.Entity)
	case engine.StatusError:
		fmt.Fprintf(os.Stderr, "%-16s error: %v\n", res.Entity, res.Err)
	default:
		fmt.Printf("%-16s %s: %s\n", res.Entity, res.Status, res.Summary)
	}
}

func init() {
	syncCmd.Flags().BoolVar(&syncFull, "full", false, "Inspect the entire population instead of the incremental window")
	syncCmd.Flags().IntVar(&syncHours, "hours", 0, "Override the incremental window with a trailing lookback in hours")
	rootCmd.AddCommand(syncCmd)
}
