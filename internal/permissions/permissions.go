// Package permissions implements a four-level ACL: a name → level table
// plus path-prefix lists for builder/senior/protected areas and an
// exact-match forbidden-file blacklist.
package permissions

import (
	"fmt"
	"strings"
	"sync"

	"github.com/emberwood/driver/internal/config"
)

// Level is the caller's permission tier. The iota/String/Parse shape mirrors
// sandbox.Level's (Strict/Standard/Network/Privileged), adapted from
// process-isolation tiers to player trust tiers.
type Level int

const (
	Player Level = iota
	Builder
	SeniorBuilder
	Administrator
)

func (l Level) String() string {
	switch l {
	case Player:
		return "player"
	case Builder:
		return "builder"
	case SeniorBuilder:
		return "senior_builder"
	case Administrator:
		return "administrator"
	default:
		return "unknown"
	}
}

// ParseLevel converts a config string into a Level. Unknown strings map to
// Player, the least-privileged tier.
func ParseLevel(s string) Level {
	switch s {
	case "player":
		return Player
	case "builder":
		return Builder
	case "senior_builder":
		return SeniorBuilder
	case "administrator":
		return Administrator
	default:
		return Player
	}
}

// Valid reports whether l is one of the four defined levels.
func (l Level) Valid() bool {
	return l >= Player && l <= Administrator
}

// Table is the process-wide permission service: name → level, plus the
// path-prefix and forbidden-file lists. It is an explicitly constructed
// service, not a package-level singleton.
type Table struct {
	mu sync.RWMutex

	levels         map[string]Level // key: lowercased player name
	builderPaths   []string
	seniorPaths    []string
	protectedPaths []string
	forbiddenFiles map[string]bool

	hasAdmin bool
}

// NewTable builds a Table from a loaded ACL config.
func NewTable(cfg *config.ACLConfig) *Table {
	t := &Table{
		levels:         make(map[string]Level, len(cfg.Levels)),
		builderPaths:   append([]string(nil), cfg.BuilderPaths...),
		seniorPaths:    append([]string(nil), cfg.SeniorPaths...),
		protectedPaths: append([]string(nil), cfg.ProtectedPaths...),
		forbiddenFiles: make(map[string]bool, len(cfg.ForbiddenFiles)),
	}
	for name, levelName := range cfg.Levels {
		lvl := ParseLevel(levelName)
		t.levels[strings.ToLower(name)] = lvl
		if lvl == Administrator {
			t.hasAdmin = true
		}
	}
	for _, f := range cfg.ForbiddenFiles {
		t.forbiddenFiles[f] = true
	}
	return t
}

// Level returns the permission level for name, defaulting to Player.
func (t *Table) Level(name string) Level {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.levels[strings.ToLower(name)]
}

// Bootstrap promotes name to Administrator if no admin exists yet and no
// caller context is set (hasCallerContext is false, the bootstrap
// carve-out for the very first admin). It is a no-op, returning false,
// once any admin exists or when hasCallerContext is true.
func (t *Table) Bootstrap(name string, hasCallerContext bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hasAdmin || hasCallerContext {
		return false
	}
	t.levels[strings.ToLower(name)] = Administrator
	t.hasAdmin = true
	return true
}

// SetLevel changes name's level. Only an Administrator caller may do this,
// and lvl must be one of the four defined levels.
func (t *Table) SetLevel(callerLevel Level, name string, lvl Level) error {
	if callerLevel != Administrator {
		return fmt.Errorf("permissions: only an administrator may change levels")
	}
	if !lvl.Valid() {
		return fmt.Errorf("permissions: level %d out of range", lvl)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.levels[strings.ToLower(name)] = lvl
	if lvl == Administrator {
		t.hasAdmin = true
	}
	return nil
}

// CheckReadPermission reports whether path may be read. Only the exact-match
// forbidden-file list can deny a read; every other path is readable by
// anyone.
func (t *Table) CheckReadPermission(path string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return !t.forbiddenFiles[path]
}

// CheckWritePermission reports whether callerLevel may write path.
// Administrators may write anywhere (except forbidden files). Everyone else
// needs a path-prefix match at or below their level.
func (t *Table) CheckWritePermission(callerLevel Level, path string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.forbiddenFiles[path] {
		return false
	}
	if callerLevel == Administrator {
		return true
	}
	if callerLevel >= SeniorBuilder && hasPrefix(t.seniorPaths, path) {
		return true
	}
	if callerLevel >= Builder && hasPrefix(t.builderPaths, path) {
		return true
	}
	// A protected path reaches this point only when no senior or builder
	// prefix above granted it, and is refused like any unmatched path.
	if hasPrefix(t.protectedPaths, path) {
		return false
	}
	return false
}

// SetBuilderPaths, SetSeniorPaths, SetProtectedPaths, and AddForbiddenFile
// are admin-only mutators over the ACL lists.

func (t *Table) SetBuilderPaths(callerLevel Level, paths []string) error {
	if callerLevel != Administrator {
		return fmt.Errorf("permissions: only an administrator may change builder paths")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.builderPaths = append([]string(nil), paths...)
	return nil
}

func (t *Table) SetSeniorPaths(callerLevel Level, paths []string) error {
	if callerLevel != Administrator {
		return fmt.Errorf("permissions: only an administrator may change senior paths")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seniorPaths = append([]string(nil), paths...)
	return nil
}

func (t *Table) SetProtectedPaths(callerLevel Level, paths []string) error {
	if callerLevel != Administrator {
		return fmt.Errorf("permissions: only an administrator may change protected paths")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.protectedPaths = append([]string(nil), paths...)
	return nil
}

func (t *Table) AddForbiddenFile(callerLevel Level, path string) error {
	if callerLevel != Administrator {
		return fmt.Errorf("permissions: only an administrator may forbid files")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.forbiddenFiles[path] = true
	return nil
}

func hasPrefix(prefixes []string, path string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
