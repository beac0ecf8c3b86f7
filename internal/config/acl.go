package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ACLConfig is the permission system's path-prefix tables, persisted at
// <mudlibRoot>/config/permissions.yaml. It is hand-editable by an
// administrator, so it uses YAML rather than JSON — the same choice
// wing.yaml makes for its own hand-edited config.
type ACLConfig struct {
	// BootstrapAdmin is read from and written back to the YAML file only;
	// nothing else in the driver reads it. permissions.Table.Bootstrap
	// promotes whichever name it is first given while no admin exists.
	BootstrapAdmin string `yaml:"bootstrap_admin,omitempty"`

	// Levels maps a lowercased player name to its level name
	// ("player", "builder", "senior_builder", "administrator").
	Levels map[string]string `yaml:"levels,omitempty"`

	BuilderPaths   PathList `yaml:"builder_paths,omitempty"`
	SeniorPaths    PathList `yaml:"senior_paths,omitempty"`
	ProtectedPaths PathList `yaml:"protected_paths,omitempty"`

	// ForbiddenFiles are exact-match logical paths no read efun may return,
	// regardless of caller level.
	ForbiddenFiles []string `yaml:"forbidden_files,omitempty"`
}

// PathList is a list of virtual-filesystem path prefixes. It supports mixed
// YAML forms the way wing.yaml's PathList does (plain scalars or
// single-key mappings), even though the driver's ACL entries carry no
// per-path metadata today — kept so a future per-path annotation doesn't
// require a config format migration.
type PathList []string

// UnmarshalYAML accepts a sequence of plain strings or of {path: "..."} maps.
func (pl *PathList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		return fmt.Errorf("acl: expected a YAML sequence of paths")
	}
	var result PathList
	for _, item := range value.Content {
		switch item.Kind {
		case yaml.ScalarNode:
			result = append(result, item.Value)
		case yaml.MappingNode:
			var entry struct {
				Path string `yaml:"path"`
			}
			if err := item.Decode(&entry); err != nil {
				return fmt.Errorf("acl: decode path entry: %w", err)
			}
			result = append(result, entry.Path)
		default:
			return fmt.Errorf("acl: unsupported path entry kind")
		}
	}
	*pl = result
	return nil
}

// LoadACLConfig reads the permission table from the mudlib root. A missing
// file yields an empty table (no levels, no prefixes, no forbidden files) so
// the bootstrap-first-admin rule can still apply.
func LoadACLConfig(mudlibRoot string) (*ACLConfig, error) {
	path := filepath.Join(mudlibRoot, "config", "permissions.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ACLConfig{Levels: map[string]string{}}, nil
		}
		return nil, fmt.Errorf("read acl config: %w", err)
	}
	var cfg ACLConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse acl config: %w", err)
	}
	if cfg.Levels == nil {
		cfg.Levels = map[string]string{}
	}
	return &cfg, nil
}

// Save atomically writes the ACL config back to the mudlib root (temp file
// then rename), the same write pattern the core mandates for all file efuns.
func (c *ACLConfig) Save(mudlibRoot string) error {
	dir := filepath.Join(mudlibRoot, "config")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("acl: ensure config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("acl: marshal: %w", err)
	}
	path := filepath.Join(dir, "permissions.yaml")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("acl: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("acl: rename temp file: %w", err)
	}
	return nil
}
