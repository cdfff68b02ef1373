package main

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/foreignd/internal/logging"
	"github.com/fyrsmithlabs/foreignd/internal/scenario"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
)

var errExpectations = errors.New("scenario expectations failed")

func newReplayCmd() *cobra.Command {
	var (
		showHandles bool
		logLevel    string
	)
	cmd := &cobra.Command{
		Use:   "replay <file.yaml|file.toml>...",
		Short: "Replay scripted client sessions",
		Long: `Replay scripted client sessions against a fresh in-memory registry and
print every protocol event sent to a client as one JSON object per line.

Handles in handle events are redacted unless --show-handles is given.
The command fails when any expect step does not hold.

Examples:
  foreignd replay testdata/unmap.yaml
  foreignd replay --show-handles a.yaml b.toml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := logging.LevelFromString(logLevel)
			if err != nil {
				return err
			}
			cfg := logging.NewDefaultConfig()
			cfg.Level = logging.Level(level)
			cfg.Format = "console"
			cfg.Caller.Enabled = false
			logger, err := logging.NewLogger(cfg, nil, logging.WithWriter(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			runner := scenario.NewRunner(
				scenario.WithOutput(cmd.OutOrStdout()),
				scenario.WithLogger(logger),
				scenario.WithShowHandles(showHandles),
			)

			failed := 0
			for _, path := range args {
				sc, err := scenario.Load(path)
				if err != nil {
					return err
				}
				res, err := runner.Run(cmd.Context(), sc)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				for _, f := range res.Failures {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", path, f)
				}
				failed += len(res.Failures)
			}
			if failed > 0 {
				return fmt.Errorf("%w: %d", errExpectations, failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showHandles, "show-handles", false, "print handle tokens instead of redacting them")
	cmd.Flags().StringVar(&logLevel, "log-level", zapcore.WarnLevel.String(), "log level for diagnostics on stderr")
	return cmd
}
