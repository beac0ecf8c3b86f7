// Package dispatch implements per-player input-handler stacks and the
// command dispatch pipeline (environment actions, inventory actions, the
// global /cmds/ table, then the emote/soul table). Command modules are
// declarative line-oriented definitions parsed the same way
// internal/compiler parses object blueprints — verbs/usage/description/
// category resolve to a handler name looked up in a fixed Go-side table,
// since the driver cannot compile arbitrary executable script at runtime.
package dispatch

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/emberwood/driver/internal/permissions"
	"github.com/emberwood/driver/internal/vfs"
)

// Context is handed to a command's Handler.
type Context struct {
	PlayerName string
	Verb       string
	Args       string
	Send       func(string) error
}

// HandlerFunc executes one command invocation. A false return (with a nil
// error) means "not actually handled, fall through to the next match."
type HandlerFunc func(ctx *Context) (bool, error)

var (
	cmdHandlersMu sync.RWMutex
	cmdHandlers   = map[string]HandlerFunc{}
)

// RegisterCommandHandler installs fn under name, for command modules'
// handler: directive to reference.
func RegisterCommandHandler(name string, fn HandlerFunc) {
	cmdHandlersMu.Lock()
	defer cmdHandlersMu.Unlock()
	cmdHandlers[name] = fn
}

func lookupCommandHandler(name string) (HandlerFunc, bool) {
	cmdHandlersMu.RLock()
	defer cmdHandlersMu.RUnlock()
	fn, ok := cmdHandlers[name]
	return fn, ok
}

// Command is one loaded command module.
type Command struct {
	Path        string
	Verbs       []string
	Usage       string
	Description string
	Category    string
	MinLevel    permissions.Level
	Priority    int
	Handler     HandlerFunc
}

var directiveLineRe = regexp.MustCompile(`^(\w+):\s*(.*)$`)

// categoryMinLevel maps a /cmds/<category>/ directory name to the minimum
// caller level allowed to run commands under it.
var categoryMinLevel = map[string]permissions.Level{
	"player": permissions.Player,
	"builder": permissions.Builder,
	"senior":  permissions.SeniorBuilder,
	"admin":   permissions.Administrator,
}

// LoadCommandModule parses one command module file at path.
func LoadCommandModule(fsys *vfs.FS, path string) (*Command, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dispatch: read %s: %w", path, err)
	}

	cmd := &Command{Path: path, Category: categoryFromPath(path)}
	cmd.MinLevel = categoryMinLevel[cmd.Category]

	var handlerName string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		m := directiveLineRe.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("dispatch: %s: unrecognized line %q", path, line)
		}
		key, val := m[1], strings.TrimSpace(m[2])
		switch key {
		case "verb":
			for _, v := range strings.Split(val, ",") {
				v = strings.TrimSpace(v)
				if v != "" {
					cmd.Verbs = append(cmd.Verbs, v)
				}
			}
		case "usage":
			cmd.Usage = val
		case "description":
			cmd.Description = val
		case "handler":
			handlerName = val
		case "priority":
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("dispatch: %s: invalid priority %q", path, val)
			}
			cmd.Priority = n
		default:
			return nil, fmt.Errorf("dispatch: %s: unknown directive %q", path, key)
		}
	}

	if len(cmd.Verbs) == 0 {
		return nil, fmt.Errorf("dispatch: %s: no verb declared", path)
	}
	if handlerName == "" {
		return nil, fmt.Errorf("dispatch: %s: no handler declared", path)
	}
	fn, ok := lookupCommandHandler(handlerName)
	if !ok {
		return nil, fmt.Errorf("dispatch: %s: unknown handler %q", path, handlerName)
	}
	cmd.Handler = fn
	return cmd, nil
}

func categoryFromPath(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	parts := strings.Split(trimmed, "/")
	for i, p := range parts {
		if p == "cmds" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return "player"
}

// DiscoverCommands walks root (typically "/cmds") recursively, loading
// every command module it finds. Files that fail to parse are skipped
// with their error appended to errs rather than aborting the whole scan.
func DiscoverCommands(fsys *vfs.FS, root string) (commands []*Command, errs []error) {
	var walk func(dir string)
	walk = func(dir string) {
		entries, err := fsys.ReadDir(dir)
		if err != nil {
			errs = append(errs, fmt.Errorf("dispatch: read dir %s: %w", dir, err))
			return
		}
		for _, e := range entries {
			full := dir + "/" + e.Name()
			if e.IsDir {
				walk(full)
				continue
			}
			cmd, err := LoadCommandModule(fsys, full)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			commands = append(commands, cmd)
		}
	}
	walk(root)
	sort.Slice(commands, func(i, j int) bool { return commands[i].Path < commands[j].Path })
	return commands, errs
}
