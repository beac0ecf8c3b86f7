// Package efun implements the capability bridge: the single object through
// which every user-script entry point reaches objects, files, permissions,
// scheduling, connections, persistence, hot reload, paging, and shadows.
// The file-writing efuns and the admin mutators (levels, path lists,
// forbidden files) check the current context's permission level before
// proceeding; the object, scheduler, connection, shadow, and persistence
// efuns do no permission check. This is the bridge-as-gatekeeper shape
// internal/relay's
// JWT-gated command handlers use for their own capability surface,
// generalized here into one struct instead of scattering the checks
// across handlers.
package efun

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emberwood/driver/internal/compiler"
	"github.com/emberwood/driver/internal/config"
	"github.com/emberwood/driver/internal/connection"
	"github.com/emberwood/driver/internal/hotreload"
	"github.com/emberwood/driver/internal/metrics"
	"github.com/emberwood/driver/internal/pager"
	"github.com/emberwood/driver/internal/permissions"
	"github.com/emberwood/driver/internal/registry"
	"github.com/emberwood/driver/internal/scheduler"
	"github.com/emberwood/driver/internal/session"
	"github.com/emberwood/driver/internal/shadow"
	"github.com/emberwood/driver/internal/store"
	"github.com/emberwood/driver/internal/vfs"
)

// Bridge is the single capability surface every user-script entry point
// runs through. It is not safe for concurrent use from multiple
// goroutines simultaneously invoking user scripts — the scheduler/dispatch
// layer that owns it runs one entry point at a time, the same single-
// cooperative-thread model as scheduler.Scheduler.
type Bridge struct {
	log *slog.Logger

	FS          *vfs.FS
	Registry    *registry.Registry
	Shadows     *shadow.Registry
	Scheduler   *scheduler.Scheduler
	Reloader    *hotreload.Reloader
	Permissions *permissions.Table
	Sessions    *session.Manager
	Connections *connection.Registry
	Store       *store.Store
	Metrics     *metrics.Metrics

	// ExecuteCommand is wired up by dispatch.New once the bridge exists,
	// breaking what would otherwise be an import
	// cycle (dispatch depends on efun to run handlers).
	ExecuteCommand func(playerName, line string) error

	// PushInputHandler installs h as the given player's input-handler
	// stack top, wired up by dispatch.New the same way ExecuteCommand is.
	PushInputHandler func(playerName string, h InputHandler)

	ctx context

	activeMu      sync.Mutex
	activePlayers map[string]*registry.Object
}

// InputHandler is satisfied by anything pushable onto a player's
// input-handler stack; *pager.Pager implements it structurally with
// no import of this package.
type InputHandler interface {
	HandleLine(line string) (handled bool, done bool)
}

// context is the ambient state set immediately before a user-script entry
// point runs and cleared on return.
type context struct {
	active     bool
	thisPlayer *registry.Object
	thisObject *registry.Object
	playerName string
}

// New assembles a Bridge from its component services. Sessions, Connections,
// Store, and Metrics are left nil for the caller to set. No Bridge method
// reads Sessions or Metrics, and a nil Store turns audit logging into a
// no-op; the connection and pager efuns dereference Connections without a
// nil check.
func New(log *slog.Logger, fs *vfs.FS, reg *registry.Registry, shadows *shadow.Registry, sched *scheduler.Scheduler, reloader *hotreload.Reloader, perms *permissions.Table) *Bridge {
	return &Bridge{
		log:           log,
		FS:            fs,
		Registry:      reg,
		Shadows:       shadows,
		Scheduler:     sched,
		Reloader:      reloader,
		Permissions:   perms,
		activePlayers: make(map[string]*registry.Object),
	}
}

// Enter sets the context for the duration of a user-script entry point.
// Exit must be called (typically via defer) when the entry point returns.
func (b *Bridge) Enter(thisPlayer, thisObject *registry.Object, playerName string) {
	b.ctx = context{active: true, thisPlayer: thisPlayer, thisObject: thisObject, playerName: playerName}
}

// Exit clears the context. A missing context is equivalent to permission
// level 0, except for the bootstrap case (see CallerLevel).
func (b *Bridge) Exit() {
	b.ctx = context{}
}

// CallerLevel resolves the current context's permission level. With no
// active context it returns permissions.Player (level 0).
func (b *Bridge) CallerLevel() permissions.Level {
	if !b.ctx.active || b.Permissions == nil {
		return permissions.Player
	}
	return b.Permissions.Level(b.ctx.playerName)
}

// --- Object ---

// CloneObject instantiates a new clone of the blueprint at path.
func (b *Bridge) CloneObject(path string) (*registry.Object, error) {
	return b.Registry.Clone(path)
}

// Destruct destroys obj, cascading to its inventory, and sweeps its shadow
// stack.
func (b *Bridge) Destruct(obj *registry.Object) error {
	if err := b.Registry.Destroy(obj); err != nil {
		return err
	}
	if b.Shadows != nil {
		b.Shadows.Sweep(obj)
	}
	return nil
}

// LoadObject compiles and registers the blueprint at path if it is not
// already loaded, then returns its blueprint instance.
func (b *Bridge) LoadObject(path string) (*registry.Object, error) {
	if obj, ok := b.Registry.FindBlueprint(path); ok {
		return obj, nil
	}
	result := compiler.Compile(b.FS, path)
	if !result.Success {
		return nil, fmt.Errorf("efun: compile %s: %w", path, result.Error)
	}
	instance := registry.NewObject(path, path, true)
	if err := b.Registry.RegisterBlueprint(path, result.Code.Build(), instance); err != nil {
		return nil, err
	}
	return instance, nil
}

// FindObject looks up an object by blueprint path or clone id.
func (b *Bridge) FindObject(pathOrID string) (*registry.Object, bool) {
	return b.Registry.Find(pathOrID)
}

// AllInventory returns obj's contained objects, wrapped through the shadow
// stack for user-script consumption.
func (b *Bridge) AllInventory(obj *registry.Object) []*shadow.WrappedObject {
	inv := obj.Inventory()
	if b.Shadows == nil {
		out := make([]*shadow.WrappedObject, len(inv))
		for i, o := range inv {
			out[i] = shadow.WrapShadowedObject(nil, o)
		}
		return out
	}
	return shadow.WrapShadowedObjects(b.Shadows, inv)
}

// Environment returns obj's container, or nil at the top of the
// containment forest.
func (b *Bridge) Environment(obj *registry.Object) *registry.Object {
	return obj.Environment()
}

// Move relocates obj into newEnv.
func (b *Bridge) Move(obj, newEnv *registry.Object) error {
	return b.Registry.Move(obj, newEnv)
}

// --- Player/context ---

// ThisObject returns the object the current entry point is executing on
// behalf of.
func (b *Bridge) ThisObject() *registry.Object { return b.ctx.thisObject }

// ThisPlayer returns the player object bound to the current context, or
// nil if none.
func (b *Bridge) ThisPlayer() *registry.Object { return b.ctx.thisPlayer }

// AllPlayers returns every object registered as an active player via
// RegisterActivePlayer.
func (b *Bridge) AllPlayers() []*registry.Object {
	b.activeMu.Lock()
	defer b.activeMu.Unlock()
	out := make([]*registry.Object, 0, len(b.activePlayers))
	for _, obj := range b.activePlayers {
		out = append(out, obj)
	}
	return out
}

// RegisterActivePlayer records obj as the live registry object for
// playerName, independent of which connection (if any) it's currently
// bound to — a player stays "active" through a brief reconnect window.
func (b *Bridge) RegisterActivePlayer(playerName string, obj *registry.Object) {
	b.activeMu.Lock()
	defer b.activeMu.Unlock()
	b.activePlayers[strings.ToLower(playerName)] = obj
}

// UnregisterActivePlayer drops playerName from the active set, called on
// final logout (not on a reconnect-pending disconnect).
func (b *Bridge) UnregisterActivePlayer(playerName string) {
	b.activeMu.Lock()
	defer b.activeMu.Unlock()
	delete(b.activePlayers, strings.ToLower(playerName))
}

// ActivePlayerNames returns the player names currently registered active,
// lowercased as they are keyed, for callers (like dispatch's emote broadcast) that need the name
// associated with each live registry object.
func (b *Bridge) ActivePlayerNames() []string {
	b.activeMu.Lock()
	defer b.activeMu.Unlock()
	out := make([]string, 0, len(b.activePlayers))
	for name := range b.activePlayers {
		out = append(out, name)
	}
	return out
}

// FindActivePlayer returns playerName's live registry object, if active.
func (b *Bridge) FindActivePlayer(playerName string) (*registry.Object, bool) {
	b.activeMu.Lock()
	defer b.activeMu.Unlock()
	obj, ok := b.activePlayers[strings.ToLower(playerName)]
	return obj, ok
}

// Send delivers msg to target's bound connection, if any, as a terminal
// line.
func (b *Bridge) Send(target *connection.Connection, msg string) error {
	if target == nil {
		return nil
	}
	return target.SendLine(context.Background(), msg)
}

// --- Files ---

func (b *Bridge) ReadFile(path string) ([]byte, error) {
	if b.Permissions != nil && !b.Permissions.CheckReadPermission(path) {
		return nil, fmt.Errorf("efun: read denied for %s", path)
	}
	return b.FS.ReadFile(path)
}

func (b *Bridge) WriteFile(path string, data []byte) error {
	if b.Permissions != nil && !b.Permissions.CheckWritePermission(b.CallerLevel(), path) {
		return fmt.Errorf("efun: write denied for %s", path)
	}
	return b.FS.WriteFile(path, data)
}

func (b *Bridge) FileExists(path string) (bool, error) { return b.FS.Exists(path) }

func (b *Bridge) ReadDir(path string) ([]vfs.Entry, error) { return b.FS.ReadDir(path) }

func (b *Bridge) FileStat(path string) (os.FileInfo, error) { return b.FS.Stat(path) }

func (b *Bridge) MakeDir(path string, recursive bool) error {
	if b.Permissions != nil && !b.Permissions.CheckWritePermission(b.CallerLevel(), path) {
		return fmt.Errorf("efun: write denied for %s", path)
	}
	return b.FS.MakeDir(path, recursive)
}

func (b *Bridge) RemoveDir(path string, recursive bool) error {
	if b.Permissions != nil && !b.Permissions.CheckWritePermission(b.CallerLevel(), path) {
		return fmt.Errorf("efun: write denied for %s", path)
	}
	return b.FS.RemoveDir(path, recursive)
}

func (b *Bridge) RemoveFile(path string) error {
	if b.Permissions != nil && !b.Permissions.CheckWritePermission(b.CallerLevel(), path) {
		return fmt.Errorf("efun: write denied for %s", path)
	}
	return b.FS.RemoveFile(path)
}

func (b *Bridge) MoveFile(src, dst string) error {
	if b.Permissions != nil {
		lvl := b.CallerLevel()
		if !b.Permissions.CheckWritePermission(lvl, src) || !b.Permissions.CheckWritePermission(lvl, dst) {
			return fmt.Errorf("efun: write denied for move %s -> %s", src, dst)
		}
	}
	return b.FS.Move(src, dst)
}

func (b *Bridge) CopyFileTo(src, dst string) error {
	if b.Permissions != nil && !b.Permissions.CheckWritePermission(b.CallerLevel(), dst) {
		return fmt.Errorf("efun: write denied for %s", dst)
	}
	return b.FS.Copy(src, dst)
}

// --- Utility ---

func (b *Bridge) Time() int64   { return time.Now().Unix() }
func (b *Bridge) TimeMs() int64 { return time.Now().UnixMilli() }

// Random returns a uniform random integer in [0, n).
func (b *Bridge) Random(n int64) int64 {
	if n <= 0 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return 0
	}
	return v.Int64()
}

// Capitalize upper-cases the first rune of s.
func (b *Bridge) Capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	return strings.ToUpper(string(r[:1])) + string(r[1:])
}

func (b *Bridge) Sprintf(format string, args ...any) string { return fmt.Sprintf(format, args...) }

func (b *Bridge) ToSeconds(ms int64) float64     { return float64(ms) / 1000.0 }
func (b *Bridge) ToMilliseconds(s float64) int64 { return int64(s * 1000.0) }

// FormatDuration renders d rounded to whole seconds in compact units, e.g.
// "1h2m5s", "2m5s", or "5s"; leading zero units are omitted.
func (b *Bridge) FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm%ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

func (b *Bridge) FormatDate(t time.Time) string { return t.Format("2006-01-02 15:04:05") }

// --- Permissions ---

func (b *Bridge) CheckReadPermission(path string) bool {
	if b.Permissions == nil {
		return true
	}
	return b.Permissions.CheckReadPermission(path)
}

func (b *Bridge) CheckWritePermission(path string) bool {
	if b.Permissions == nil {
		return true
	}
	return b.Permissions.CheckWritePermission(b.CallerLevel(), path)
}

func (b *Bridge) IsAdmin() bool   { return b.CallerLevel() == permissions.Administrator }
func (b *Bridge) IsBuilder() bool { return b.CallerLevel() >= permissions.Builder }

func (b *Bridge) GetPermissionLevel(name string) permissions.Level {
	if b.Permissions == nil {
		return permissions.Player
	}
	return b.Permissions.Level(name)
}

// Result is the {success, error?} discriminant used for fallible admin
// efuns.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (b *Bridge) ok() Result { return Result{Success: true} }
func (b *Bridge) fail(err error) Result {
	return Result{Success: false, Error: err.Error()}
}

// audit records a privileged call's outcome to the store's audit log, a
// no-op when Store is nil (headless/test configurations).
func (b *Bridge) audit(subject, event string, detail string) {
	if b.Store == nil {
		return
	}
	d := detail
	if err := b.Store.AppendLog(subject, event, &d); err != nil && b.log != nil {
		b.log.Warn("audit log append failed", "subject", subject, "event", event, "error", err)
	}
}

func (b *Bridge) SetPermissionLevel(name string, lvl permissions.Level) Result {
	if err := b.Permissions.SetLevel(b.CallerLevel(), name, lvl); err != nil {
		return b.fail(err)
	}
	b.audit(name, "set_permission_level", lvl.String())
	return b.ok()
}

func (b *Bridge) SetBuilderPaths(paths []string) Result {
	if err := b.Permissions.SetBuilderPaths(b.CallerLevel(), paths); err != nil {
		return b.fail(err)
	}
	b.audit(b.ctx.playerName, "set_builder_paths", strings.Join(paths, ","))
	return b.ok()
}

func (b *Bridge) SetSeniorPaths(paths []string) Result {
	if err := b.Permissions.SetSeniorPaths(b.CallerLevel(), paths); err != nil {
		return b.fail(err)
	}
	b.audit(b.ctx.playerName, "set_senior_paths", strings.Join(paths, ","))
	return b.ok()
}

func (b *Bridge) SetProtectedPaths(paths []string) Result {
	if err := b.Permissions.SetProtectedPaths(b.CallerLevel(), paths); err != nil {
		return b.fail(err)
	}
	b.audit(b.ctx.playerName, "set_protected_paths", strings.Join(paths, ","))
	return b.ok()
}

func (b *Bridge) AddForbiddenFile(path string) Result {
	if err := b.Permissions.AddForbiddenFile(b.CallerLevel(), path); err != nil {
		return b.fail(err)
	}
	b.audit(b.ctx.playerName, "add_forbidden_file", path)
	return b.ok()
}

// --- Scheduler ---

func (b *Bridge) SetHeartbeat(obj *registry.Object, enable bool) { b.Scheduler.SetHeartbeat(obj, enable) }

func (b *Bridge) CallOut(fn scheduler.CalloutFunc, delay time.Duration) int64 {
	return b.Scheduler.CallOut(fn, delay)
}

func (b *Bridge) RemoveCallOut(id int64) bool { return b.Scheduler.RemoveCallOut(id) }

// --- Connection ---

func (b *Bridge) BindPlayerToConnection(playerName string, c *connection.Connection) {
	b.Connections.BindPlayerToConnection(playerName, c)
}

func (b *Bridge) FindConnectedPlayer(playerName string) (*connection.Connection, bool) {
	return b.Connections.FindConnectedPlayer(playerName)
}

func (b *Bridge) TransferConnection(playerName string, c *connection.Connection) {
	b.Connections.TransferConnection(playerName, c)
}

// RunCommand dispatches line on behalf of playerName through
// ExecuteCommand, once the daemon has wired it up.
func (b *Bridge) RunCommand(playerName, line string) error {
	if b.ExecuteCommand == nil {
		return fmt.Errorf("efun: no command dispatcher wired")
	}
	return b.ExecuteCommand(playerName, line)
}

// --- Pager ---

// Page displays content on the current context's player connection one
// screen at a time, pushing an input handler if it doesn't fit in a
// single page.
func (b *Bridge) Page(content string, opts pager.Options) error {
	conn, ok := b.Connections.FindConnectedPlayer(b.ctx.playerName)
	if !ok {
		return fmt.Errorf("efun: page: no connection bound for %s", b.ctx.playerName)
	}
	send := func(line string) error { return conn.SendLine(context.Background(), line) }

	handler, err := pager.Page(send, content, opts)
	if err != nil {
		return err
	}
	if handler != nil && b.PushInputHandler != nil {
		b.PushInputHandler(b.ctx.playerName, handler)
	}
	return nil
}

// --- Hot reload ---

func (b *Bridge) ReloadObject(path string) hotreload.UpdateResult {
	result := b.Reloader.Update(path)
	b.auditReload(path, result)
	return result
}

func (b *Bridge) ReloadCommand(path string) hotreload.UpdateResult {
	result := b.Reloader.Update(path)
	b.auditReload(path, result)
	return result
}

func (b *Bridge) auditReload(path string, result hotreload.UpdateResult) {
	if result.Success {
		b.audit(path, "reload_ok", fmt.Sprintf("refreshed %d clones", result.RefreshedClones))
	} else {
		b.audit(path, "reload_failed", fmt.Sprintf("%v", result.Error))
	}
}

func (b *Bridge) RehashCommands(paths []string) []hotreload.UpdateResult {
	results := make([]hotreload.UpdateResult, 0, len(paths))
	for _, p := range paths {
		result := b.Reloader.Update(p)
		b.auditReload(p, result)
		results = append(results, result)
	}
	return results
}

// --- Shadows ---

func (b *Bridge) AddShadow(target *registry.Object, s *shadow.Shadow) error {
	return b.Shadows.AddShadow(target, s)
}

func (b *Bridge) RemoveShadow(target *registry.Object, id string) { b.Shadows.RemoveShadow(target, id) }

func (b *Bridge) GetShadows(target *registry.Object) []*shadow.Shadow { return b.Shadows.GetShadows(target) }

func (b *Bridge) HasShadows(target *registry.Object) bool { return b.Shadows.HasShadows(target) }

func (b *Bridge) ClearShadows(target *registry.Object) { b.Shadows.ClearShadows(target) }

func (b *Bridge) FindShadow(target *registry.Object, shadowType string) (*shadow.Shadow, bool) {
	return b.Shadows.FindShadow(target, shadowType)
}

func (b *Bridge) GetOriginalObject(target *registry.Object) *registry.Object {
	return shadow.GetOriginalObject(target)
}

func (b *Bridge) WrapShadowedObject(target *registry.Object) *shadow.WrappedObject {
	return shadow.WrapShadowedObject(b.Shadows, target)
}

func (b *Bridge) WrapShadowedObjects(targets []*registry.Object) []*shadow.WrappedObject {
	return shadow.WrapShadowedObjects(b.Shadows, targets)
}

func (b *Bridge) GetShadowStats() shadow.ShadowStats { return b.Shadows.GetShadowStats() }

// --- Persistence ---

// ErrPlayerNotFound is returned by LoadPlayerData when no save file exists
// for the given name.
var ErrPlayerNotFound = errors.New("efun: player not found")

func playerSavePath(name string) string {
	return "/data/players/" + strings.ToLower(name) + ".json"
}

// SavePlayer writes data as the player's save file under /data/players,
// atomically (vfs.WriteFile's temp-then-rename).
func (b *Bridge) SavePlayer(name string, data any) Result {
	raw, err := json.Marshal(data)
	if err != nil {
		return b.fail(fmt.Errorf("efun: marshal player data: %w", err))
	}
	if err := b.FS.WriteFile(playerSavePath(name), raw); err != nil {
		return b.fail(err)
	}
	return b.ok()
}

// LoadPlayerData reads a player's save file into out. It returns
// ErrPlayerNotFound if no save file exists for name.
func (b *Bridge) LoadPlayerData(name string, out any) error {
	raw, err := b.FS.ReadFile(playerSavePath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrPlayerNotFound
		}
		return err
	}
	return json.Unmarshal(raw, out)
}

func (b *Bridge) PlayerExists(name string) (bool, error) { return b.FS.Exists(playerSavePath(name)) }

// ListPlayers returns every saved player name, derived from the filenames
// under /data/players.
func (b *Bridge) ListPlayers() ([]string, error) {
	entries, err := b.FS.ReadDir("/data/players")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir || !strings.HasSuffix(e.Name, ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name, ".json"))
	}
	sort.Strings(names)
	return names, nil
}

// ApplyACL writes cfg back to disk as given (config.ACLConfig.Save); it does
// not read the current permission table's lists.
func (b *Bridge) ApplyACL(cfg *config.ACLConfig, mudlibRoot string) error {
	return cfg.Save(mudlibRoot)
}
