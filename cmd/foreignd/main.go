// Foreignd hosts the cross-client window export/import registry.
//
// Usage:
//
//	# Run the daemon with the admin API on 127.0.0.1:9470
//	foreignd serve
//
//	# Replay a scripted session and print the protocol events
//	foreignd replay testdata/unmap.yaml
//
//	# Tail registry events from NATS
//	foreignd events --url nats://localhost:4222
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "foreignd",
		Short: "Cross-client window export/import registry",
		Long: `foreignd hosts the foreign toplevel registry: one client exports a
toplevel window and receives a handle, other clients import the handle and
parent their own windows to it.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "",
		"config file (default ~/.config/foreignd/config.yaml)")

	root.AddCommand(
		newServeCmd(opts),
		newReplayCmd(),
		newEventsCmd(opts),
		newStatusCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "foreignd by Fyrsmith Labs\n")
	fmt.Fprintf(w, "Version:    %s\n", version)
	fmt.Fprintf(w, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(w, "Build Date: %s\n", buildDate)
}
