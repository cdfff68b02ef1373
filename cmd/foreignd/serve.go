package main

import (
	"fmt"

	"github.com/fyrsmithlabs/foreignd/internal/daemon"
	"github.com/fyrsmithlabs/foreignd/internal/scenario"
	"github.com/spf13/cobra"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var scenarios []string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the registry daemon",
		Long: `Run the registry with its admin HTTP API and, when configured, the NATS
event bridge. The daemon stops on SIGINT or SIGTERM.

Configuration comes from the config file and FOREIGND_ environment
variables, for example FOREIGND_LOGGING_LEVEL=debug. Changes to
logging.level in the file apply without a restart.

Examples:
  # Start with defaults
  foreignd serve

  # Preload a scripted session so the admin API has state to show
  foreignd serve --scenario testdata/unmap.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, loader, err := daemon.LoadConfig(root.configPath)
			if err != nil {
				return err
			}

			opts := []daemon.Option{
				daemon.WithLoader(loader),
				daemon.WithReplayOutput(cmd.OutOrStdout()),
			}
			for _, path := range scenarios {
				sc, err := scenario.Load(path)
				if err != nil {
					return fmt.Errorf("loading %s: %w", path, err)
				}
				opts = append(opts, daemon.WithScenarios(sc))
			}

			d, err := daemon.New(cmd.Context(), cfg, opts...)
			if err != nil {
				return err
			}
			return d.Run(cmd.Context())
		},
	}
	cmd.Flags().StringArrayVar(&scenarios, "scenario", nil, "scenario file to replay at startup (repeatable)")
	return cmd
}
