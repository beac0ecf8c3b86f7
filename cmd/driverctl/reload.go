package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type reloadResponse struct {
	Path            string   `json:"path"`
	Success         bool     `json:"success"`
	Error           string   `json:"error,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
	RefreshedClones int      `json:"refreshed_clones"`
}

func reloadCmd(baseURL, adminKey *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reload <path>",
		Short: "Recompile a blueprint or command module without restarting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp reloadResponse
			body := map[string]string{"path": args[0]}
			if err := adminPost(*baseURL, *adminKey, "/admin/reload", body, &resp); err != nil {
				return err
			}

			if !resp.Success {
				fmt.Printf("reload failed: %s\n", resp.Error)
				return nil
			}
			fmt.Printf("reloaded %s (refreshed %d clones)\n", resp.Path, resp.RefreshedClones)
			for _, w := range resp.Warnings {
				fmt.Printf("  warning: %s\n", w)
			}
			return nil
		},
	}
}
