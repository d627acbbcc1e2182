package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:     "clusterd",
	Short:   "clusterd - multi-process TCP connection balancer",
	Long:    `clusterd accepts TCP connections in a single master process and hands each pristine socket off to one of N long-lived worker processes, running a pluggable transport (HTTP or WebSocket) on the other end.`,
	Version: "0.1.0",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the cluster (master or worker, role is auto-detected)",
	Long:  `serve re-enters as either master or worker depending on whether CLUSTER_MASTER_PID is set in its environment. You never invoke the worker path directly; the master forks it.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("config", "", "path to a YAML config file (defaults to ./config.yaml or CLUSTERD_* env vars)")
	serveCmd.Flags().Int("debug-port", 0, "base debug/inspect port; if set, each worker gets debug-port+offset (minus 1 if that exceeds 65535)")
	serveCmd.Flags().Bool("inspect-brk", false, "mark this process as started under a debugger, triggering per-worker debug port offsetting")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
