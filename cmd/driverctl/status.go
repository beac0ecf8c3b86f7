package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type statusResponse struct {
	Game          string   `json:"game"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	ActivePlayers []string `json:"active_players"`
}

func statusCmd(baseURL, adminKey *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show driver process status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp statusResponse
			if err := adminGet(*baseURL, *adminKey, "/admin/status", &resp); err != nil {
				return err
			}

			fmt.Printf("game:    %s\n", resp.Game)
			fmt.Printf("uptime:  %ds\n", resp.UptimeSeconds)
			fmt.Printf("players: %d\n", len(resp.ActivePlayers))
			if len(resp.ActivePlayers) > 0 {
				tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
				for _, name := range resp.ActivePlayers {
					fmt.Fprintf(tw, "  %s\n", name)
				}
				tw.Flush()
			}
			return nil
		},
	}
}
