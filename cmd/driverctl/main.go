// Command driverctl is an operator CLI for a running driver process: it can
// mint admin signing keys, query process status, and trigger hot reloads
// over the driver's admin HTTP endpoints.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var (
		baseURL  string
		adminKey string
	)

	root := &cobra.Command{
		Use:   "driverctl",
		Short: "operate a running game driver",
	}
	root.PersistentFlags().StringVar(&baseURL, "url", envOr("DRIVERCTL_URL", "http://localhost:9090"), "driver admin HTTP base URL")
	root.PersistentFlags().StringVar(&adminKey, "admin-key", os.Getenv("DRIVER_ADMIN_KEY"), "ES256 admin signing key (PEM or base64-DER)")

	root.AddCommand(
		keygenCmd(),
		statusCmd(&baseURL, &adminKey),
		reloadCmd(&baseURL, &adminKey),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
