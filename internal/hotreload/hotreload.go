// Package hotreload implements two update triggers: an explicit,
// privileged-command-driven recompile, and a deletion-only fsnotify
// watcher with per-path debouncing. The watcher's add-directories /
// debounced-processing shape follows index/watcher.go's convention.
package hotreload

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/emberwood/driver/internal/compiler"
	"github.com/emberwood/driver/internal/registry"
	"github.com/emberwood/driver/internal/vfs"
)

// VoidRoom is the fallback destination for players evacuated from a room
// whose source file was deleted out from under them.
const VoidRoom = "/std/void"

// defaultSkipPrefixes are the safelisted prefixes whose blueprints are
// never unregistered on deletion even if their source file disappears
// (areas/config/data directories).
var defaultSkipPrefixes = []string{"/areas/", "/config/", "/data/"}

// UpdateResult reports the outcome of one (re)compile-and-install step.
type UpdateResult struct {
	Path             string
	Success          bool
	Error            error
	Warnings         []compiler.Warning
	RefreshedClones  int
}

// Reloader owns the fsnotify watcher, the debounce state, and the
// blueprint dependency graph.
type Reloader struct {
	fsys     *vfs.FS
	registry *registry.Registry

	mu          sync.Mutex
	dependsOn   map[string]map[string]bool // path -> set of paths it imports
	dependedBy  map[string]map[string]bool // path -> set of paths that import it
	skipPrefixes []string

	watcher *fsnotify.Watcher

	pendingMu sync.Mutex
	pending   map[string]time.Time
	debounce  time.Duration

	stopCh chan struct{}
	notifyEvacuation func(path string)
	notifyPlayer     func(playerName string)
}

// New builds a Reloader over fsys and reg. notifyEvacuation, if non-nil, is
// called by HandleDeletion with the blueprint path being unloaded, after
// the players found in its clones have been moved to VoidRoom and before
// the blueprint is unregistered.
func New(fsys *vfs.FS, reg *registry.Registry, notifyEvacuation func(path string)) *Reloader {
	return &Reloader{
		fsys:             fsys,
		registry:         reg,
		dependsOn:        make(map[string]map[string]bool),
		dependedBy:       make(map[string]map[string]bool),
		skipPrefixes:     append([]string(nil), defaultSkipPrefixes...),
		pending:          make(map[string]time.Time),
		debounce:         100 * time.Millisecond,
		stopCh:           make(chan struct{}),
		notifyEvacuation: notifyEvacuation,
	}
}

// SetPlayerNotifier installs the per-player evacuation notice callback.
// notifyPlayer, if non-nil, is called once per evacuated player's name
// before that player is moved to VoidRoom, so the caller can deliver an
// actual one-line notice over that player's connection.
func (r *Reloader) SetPlayerNotifier(notifyPlayer func(playerName string)) {
	r.notifyPlayer = notifyPlayer
}

// SetDebounce overrides the default 100ms debounce window.
func (r *Reloader) SetDebounce(d time.Duration) { r.debounce = d }

// Update compiles path and, if a blueprint already exists there, replaces
// its constructor and blueprint instance in place. Clones made after the
// swap use the new definition; existing clones are not rebuilt, so they
// keep the Actions they were built with along with their property bag,
// inventory, and environment. RefreshedClones is the number of live clones
// at the time of the swap. If compilation fails, the existing blueprint is
// untouched.
func (r *Reloader) Update(path string) UpdateResult {
	res := compiler.Compile(r.fsys, path)
	if !res.Success {
		return UpdateResult{Path: path, Success: false, Error: res.Error}
	}

	r.recordDependencies(path, res.Code.Imports)

	constructor := res.Code.Build()
	var refreshed int
	if r.registry.HasBlueprint(path) {
		n, err := r.registry.ReplaceConstructor(path, constructor, registry.NewObject(path, path, true))
		if err != nil {
			return UpdateResult{Path: path, Success: false, Error: err, Warnings: res.Warnings}
		}
		refreshed = n
	} else {
		if err := r.registry.RegisterBlueprint(path, constructor, registry.NewObject(path, path, true)); err != nil {
			return UpdateResult{Path: path, Success: false, Error: err, Warnings: res.Warnings}
		}
	}

	return UpdateResult{Path: path, Success: true, Warnings: res.Warnings, RefreshedClones: refreshed}
}

// UpdateWithDependents performs a breadth-first update of path and, on
// success, every blueprint that depends on it, stopping a branch only when
// that node's own update fails. Results are returned in visit order.
func (r *Reloader) UpdateWithDependents(path string) []UpdateResult {
	var results []UpdateResult
	visited := make(map[string]bool)
	queue := []string{path}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true

		res := r.Update(cur)
		results = append(results, res)
		if !res.Success {
			continue
		}

		r.mu.Lock()
		dependents := make([]string, 0, len(r.dependedBy[cur]))
		for d := range r.dependedBy[cur] {
			dependents = append(dependents, d)
		}
		r.mu.Unlock()

		queue = append(queue, dependents...)
	}
	return results
}

func (r *Reloader) recordDependencies(path string, imports []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for old := range r.dependsOn[path] {
		delete(r.dependedBy[old], path)
	}
	set := make(map[string]bool, len(imports))
	for _, imp := range imports {
		set[imp] = true
		if r.dependedBy[imp] == nil {
			r.dependedBy[imp] = make(map[string]bool)
		}
		r.dependedBy[imp][path] = true
	}
	r.dependsOn[path] = set

	r.registry.SetImports(path, imports)
}

// isSkipped reports whether path falls under a safelisted prefix that the
// deletion watcher must never act on.
func (r *Reloader) isSkipped(path string) bool {
	for _, prefix := range r.skipPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// HandleDeletion is the deletion-watcher's core action, exposed directly so
// tests can drive it without a real filesystem event. If path is
// safelisted, nothing happens. If the corresponding blueprint is a room
// containing players, they are notified and evacuated to VoidRoom before
// the blueprint is unregistered and its clones destroyed.
func (r *Reloader) HandleDeletion(path string) error {
	if r.isSkipped(path) {
		return nil
	}
	if !r.registry.HasBlueprint(path) {
		return nil
	}

	bp, _ := r.registry.FindBlueprint(path)
	if bp != nil {
		r.evacuateClones(path)
	}
	if r.notifyEvacuation != nil {
		r.notifyEvacuation(path)
	}
	return r.registry.UnregisterBlueprint(path)
}

// evacuateClones moves any player found inside a live clone of path to the
// void room before the blueprint (and therefore the clone) is destroyed.
func (r *Reloader) evacuateClones(path string) {
	voidRoom, ok := r.registry.Find(VoidRoom)
	if !ok {
		return
	}
	n := r.registry.CloneCount(path)
	for i := 1; i <= n; i++ {
		clone, ok := r.registry.Find(fmt.Sprintf("%s#%d", path, i))
		if !ok {
			continue
		}
		for _, occupant := range clone.Inventory() {
			if _, isPlayer := occupant.GetProperty("is_player"); isPlayer {
				if r.notifyPlayer != nil {
					if name, ok := occupant.GetProperty("name"); ok {
						if playerName, ok := name.(string); ok {
							r.notifyPlayer(playerName)
						}
					}
				}
				r.registry.Move(occupant, voidRoom)
			}
		}
	}
}

// Watch starts the deletion-only fsnotify watcher over every directory
// under root, skipping safelisted prefixes.
func (r *Reloader) Watch(root string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("hotreload: create watcher: %w", err)
	}
	r.watcher = w

	err = filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(root, p)
		logical := "/" + filepath.ToSlash(rel)
		if rel != "." && r.isSkipped(logical) {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
	if err != nil {
		w.Close()
		return fmt.Errorf("hotreload: walk mudlib root: %w", err)
	}

	go r.processEvents(root)
	go r.processDebounced()
	return nil
}

// Stop shuts the watcher down.
func (r *Reloader) Stop() error {
	close(r.stopCh)
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

func (r *Reloader) processEvents(root string) {
	for {
		select {
		case <-r.stopCh:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Remove == 0 {
				continue
			}
			rel, err := filepath.Rel(root, event.Name)
			if err != nil {
				continue
			}
			logical := "/" + filepath.ToSlash(rel)

			r.pendingMu.Lock()
			r.pending[logical] = time.Now()
			r.pendingMu.Unlock()
		case _, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (r *Reloader) processDebounced() {
	ticker := time.NewTicker(r.debounce / 2)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.flushPending()
		}
	}
}

func (r *Reloader) flushPending() {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()

	now := time.Now()
	for path, ts := range r.pending {
		if now.Sub(ts) < r.debounce {
			continue
		}
		delete(r.pending, path)
		r.HandleDeletion(path)
	}
}
