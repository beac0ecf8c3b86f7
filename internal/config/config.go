// Package config loads the driver's process configuration: game identity
// (/config/game.json under the mudlib root) and the permission ACL table.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// GameConfig is the game identity published to clients, read from
// <mudlibRoot>/config/game.json.
type GameConfig struct {
	Name            string `json:"name"`
	Tagline         string `json:"tagline,omitempty"`
	Version         string `json:"version,omitempty"`
	EstablishedYear int    `json:"established_year,omitempty"`
}

// LoadGameConfig reads the game identity file. A missing file yields a
// zero-value config with Name defaulted, following the usual
// tolerate-missing-config convention.
func LoadGameConfig(mudlibRoot string) (*GameConfig, error) {
	path := filepath.Join(mudlibRoot, "config", "game.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &GameConfig{Name: "untitled mud"}, nil
		}
		return nil, fmt.Errorf("read game config: %w", err)
	}
	var cfg GameConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse game config: %w", err)
	}
	if cfg.Name == "" {
		cfg.Name = "untitled mud"
	}
	return &cfg, nil
}

// DriverConfig holds the process-level settings the CLI and environment
// supply: mudlib root, listen port, and the session-token signing secret.
type DriverConfig struct {
	MudlibRoot    string
	ListenAddr    string
	SessionSecret []byte
	DBPath        string
	LogLevel      string
	LogFile       string

	// AdminKeyPEM is the ES256 private key (PEM or base64-DER) used to
	// both sign and verify admin console JWTs. Empty disables the admin
	// HTTP endpoints entirely.
	AdminKeyPEM string
}
