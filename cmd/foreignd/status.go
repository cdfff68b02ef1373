package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/foreignd/internal/daemon"
	fhttp "github.com/fyrsmithlabs/foreignd/internal/http"
	"github.com/spf13/cobra"
)

func newStatusCmd(root *rootOptions) *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running daemon",
		Long: `Query the admin API of a running daemon and print its registry counters
and live exports.

Examples:
  foreignd status
  foreignd status --server http://127.0.0.1:9470`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if server == "" {
				cfg, _, err := daemon.LoadConfig(root.configPath)
				if err != nil {
					return err
				}
				server = "http://" + cfg.HTTP.Addr()
			}
			url := server + "/api/v1/state"

			client := &http.Client{Timeout: 5 * time.Second}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
			if err != nil {
				return fmt.Errorf("failed to create request: %w", err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", url, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				body, readErr := io.ReadAll(resp.Body)
				if readErr != nil {
					return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
				}
				return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
			}

			var state fhttp.StateResponse
			if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "State:     %s\n", state.State)
			fmt.Fprintf(w, "Exporters: %d\n", state.Exporters)
			fmt.Fprintf(w, "Importers: %d\n", state.Importers)
			fmt.Fprintf(w, "Exported:  %d (%d linked imports)\n", state.Exported, state.Linked)
			fmt.Fprintf(w, "Imported:  %d\n", state.Imported)
			fmt.Fprintf(w, "Children:  %d\n", state.Children)
			for _, x := range state.Exports {
				fmt.Fprintf(w, "  %s  client=%s window=%s imports=%d\n", x.ID, x.Client, x.Window, x.Imports)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "daemon admin URL (default from config)")
	return cmd
}
