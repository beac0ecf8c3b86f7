// Command driverd runs the game driver process: it loads a mudlib root,
// opens its audit store, and serves player connections until terminated.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/emberwood/driver/internal/config"
	"github.com/emberwood/driver/internal/daemon"
)

func main() {
	var (
		mudlibRoot string
		listenAddr string
		dbPath     string
		logLevel   string
		logFile    string
		adminKey   string
	)

	root := &cobra.Command{
		Use:   "driverd",
		Short: "run the game driver",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := &config.DriverConfig{
				MudlibRoot:    mudlibRoot,
				ListenAddr:    listenAddr,
				DBPath:        dbPath,
				LogLevel:      logLevel,
				LogFile:       logFile,
				AdminKeyPEM:   adminKey,
				SessionSecret: []byte(os.Getenv("DRIVER_SESSION_SECRET")),
			}
			return daemon.Run(cfg)
		},
	}

	root.Flags().StringVar(&mudlibRoot, "mudlib", envOr("DRIVER_MUDLIB_ROOT", "./mudlib"), "path to the mudlib root")
	root.Flags().StringVar(&listenAddr, "addr", envOr("DRIVER_LISTEN_ADDR", ":4000"), "player connection listen address")
	root.Flags().StringVar(&dbPath, "db", envOr("DRIVER_DB_PATH", "driver.db"), "audit log database path")
	root.Flags().StringVar(&logLevel, "log-level", envOr("DRIVER_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	root.Flags().StringVar(&logFile, "log-file", envOr("DRIVER_LOG_FILE", ""), "optional log file path, in addition to stdout")
	root.Flags().StringVar(&adminKey, "admin-key", os.Getenv("DRIVER_ADMIN_KEY"), "ES256 admin console signing key (PEM or base64-DER); admin HTTP endpoints disabled if empty")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
