package main

import (
	"encoding/json"

	"github.com/fyrsmithlabs/foreignd/internal/daemon"
	"github.com/fyrsmithlabs/foreignd/internal/events"
	"github.com/fyrsmithlabs/foreignd/internal/foreign"
	"github.com/spf13/cobra"
)

// eventLine is one event as printed by the events command.
type eventLine struct {
	Subject string        `json:"subject"`
	Event   foreign.Event `json:"event"`
}

func newEventsCmd(root *rootOptions) *cobra.Command {
	var url, prefix string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail registry events from NATS",
		Long: `Subscribe to the registry's NATS subjects and print each event as one
JSON object per line until interrupted. Server and subject prefix default
to the nats section of the config file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := daemon.LoadConfig(root.configPath)
			if err != nil {
				return err
			}
			natsCfg := cfg.NATS
			natsCfg.Enabled = true
			if url != "" {
				natsCfg.URL = url
			}
			if prefix != "" {
				natsCfg.SubjectPrefix = prefix
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			return events.Watch(cmd.Context(), &natsCfg, nil, func(subject string, ev foreign.Event) {
				_ = enc.Encode(eventLine{Subject: subject, Event: ev})
			})
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "NATS server URL")
	cmd.Flags().StringVar(&prefix, "prefix", "", "subject prefix")
	return cmd
}
