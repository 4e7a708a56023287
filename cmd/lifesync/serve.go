package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmartens/lifesync/internal/daemon"
	"github.com/jmartens/lifesync/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "sync",
	Short:   "Run the sync daemon with the HTTP trigger surface",
	Long: `Run continuous reconciliation: an immediate full pass, then
incremental passes on the configured interval and full passes on the
longer one.

The HTTP surface exposes:
  GET  /health               liveness
  GET  /status               last results per entity (+?consistency=true)
  POST /sync/{entity}        trigger one pass, wait for the result
                             (+?full=true, +?hours=N lookback override)
  POST /sync/all             trigger a pass over all entities (+?full=true)
  GET  /ws                   WebSocket stream of pass results

Example usage:
  lifesync serve
  LIFESYNC_SERVER_ADDR=0.0.0.0:8600 lifesync serve`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		rt, err := buildRuntime(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		defer rt.close()

		addr := rt.cfg.Server.Addr
		if serveAddr != "" {
			addr = serveAddr
		}
		srv := server.New(server.Config{Addr: addr}, nil, rt.engine)

		dcfg := daemon.DefaultConfig()
		dcfg.IncrementalInterval = rt.cfg.Daemon.IncrementalInterval
		dcfg.FullInterval = rt.cfg.Daemon.FullInterval
		dcfg.MappingFile = rt.cfg.MappingFile
		dcfg.LogFile = rt.cfg.Daemon.LogFile
		dcfg.ProviderEnabled = rt.provider != nil
		dcfg.OnResult = srv.BroadcastResult
		d := daemon.New(dcfg, rt.engine, rt.oplog)
		srv.SetDaemon(d)

		if err := srv.Start(); err != nil {
			fatalf("failed to start server: %v", err)
		}
		if err := d.Start(ctx); err != nil {
			_ = srv.Stop()
			fatalf("failed to start daemon: %v", err)
		}

		fmt.Printf("lifesync serving on http://%s\n", srv.Addr())
		fmt.Printf("WebSocket stream: ws://%s/ws\n", srv.Addr())
		fmt.Println("Press Ctrl+C to stop...")

		<-ctx.Done()

		fmt.Println("\nShutting down...")
		d.Stop()
		if err := srv.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr from config)")
	rootCmd.AddCommand(serveCmd)
}
