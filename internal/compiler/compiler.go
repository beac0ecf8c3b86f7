// Package compiler turns mudlib source files into executable blueprint
// definitions. Go has no runtime code generation, so unlike a
// scripting-language driver, "compiling" here means parsing a small
// declarative object-definition format into a Definition and resolving its
// action lines against a fixed table of built-in handlers (see Handlers).
// The directive-parsing shape — regex-matched lines collected into a
// Result with a Warnings slice — follows the same pattern as
// internal/parse.
package compiler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/emberwood/driver/internal/registry"
	"github.com/emberwood/driver/internal/vfs"
)

// Warning is one non-fatal issue found while compiling a source file.
type Warning struct {
	Line    int
	Column  int
	Message string
}

// Result is the outcome of compiling one logical path.
type Result struct {
	Success  bool
	Code     *Definition
	Warnings []Warning
	Error    error
}

// Definition is the compiled, not-yet-instantiated form of an object. Build
// turns it into a registry.Constructor.
type Definition struct {
	Path       string
	ShortDesc  string
	LongDesc   string
	Ids        []string
	Imports    []string
	Properties map[string]any
	Actions    []ActionDef
}

// ActionDef is one compiled "action:" line.
type ActionDef struct {
	Verb     string
	Handler  string
	Priority int
}

// HandlerFunc is the signature a built-in action handler must satisfy.
type HandlerFunc func(caller *registry.Object, verb, args string) (bool, error)

// Handlers is the fixed table of built-in action handlers a compiled
// object's "action:" lines may reference by name. Content authors pick
// from this table rather than supplying arbitrary executable code.
var Handlers = map[string]HandlerFunc{}

// RegisterHandler installs a named handler into the built-in table. Callers
// typically do this from an init() in the package that implements stock
// verbs (look, say, take, drop, ...).
func RegisterHandler(name string, fn HandlerFunc) {
	Handlers[name] = fn
}

var (
	propertyLineRe = regexp.MustCompile(`^property:\s*(\w+)\s*=\s*(.+)$`)
	actionLineRe   = regexp.MustCompile(`^action:\s*(\S+)\s*=\s*(\S+)(?:\s+priority=(-?\d+))?$`)
)

// Compile reads the source at path through fsys and parses it into a
// Definition. It never returns a Go error for a malformed source file;
// malformed input is reported via Result.Success=false/Result.Error, and
// recoverable issues are reported as warnings, via a
// { success, code, warnings } | { success, error } contract.
func Compile(fsys *vfs.FS, path string) Result {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return Result{Success: false, Error: fmt.Errorf("compiler: read %s: %w", path, err)}
	}

	def := &Definition{
		Path:       path,
		Properties: make(map[string]any),
	}
	var warnings []Warning

	lines := strings.Split(string(data), "\n")
	for i, raw := range lines {
		lineNo := i + 1
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		switch {
		case strings.HasPrefix(line, "short:"):
			def.ShortDesc = strings.TrimSpace(strings.TrimPrefix(line, "short:"))
		case strings.HasPrefix(line, "long:"):
			def.LongDesc = strings.TrimSpace(strings.TrimPrefix(line, "long:"))
		case strings.HasPrefix(line, "id:"):
			id := strings.TrimSpace(strings.TrimPrefix(line, "id:"))
			if id == "" {
				warnings = append(warnings, Warning{Line: lineNo, Message: "empty id: directive, skipping"})
				continue
			}
			def.Ids = append(def.Ids, id)
		case strings.HasPrefix(line, "import:"):
			imp := strings.TrimSpace(strings.TrimPrefix(line, "import:"))
			if imp == "" {
				warnings = append(warnings, Warning{Line: lineNo, Message: "empty import: directive, skipping"})
				continue
			}
			def.Imports = append(def.Imports, imp)
		case strings.HasPrefix(line, "property:"):
			m := propertyLineRe.FindStringSubmatch(line)
			if m == nil {
				warnings = append(warnings, Warning{Line: lineNo, Message: fmt.Sprintf("malformed property directive: %q", line)})
				continue
			}
			def.Properties[m[1]] = parseScalar(m[2])
		case strings.HasPrefix(line, "action:"):
			m := actionLineRe.FindStringSubmatch(line)
			if m == nil {
				warnings = append(warnings, Warning{Line: lineNo, Message: fmt.Sprintf("malformed action directive: %q", line)})
				continue
			}
			priority := 0
			if m[3] != "" {
				priority, _ = strconv.Atoi(m[3])
			}
			if _, ok := Handlers[m[2]]; !ok {
				warnings = append(warnings, Warning{Line: lineNo, Message: fmt.Sprintf("action %q references unknown handler %q", m[1], m[2])})
				continue
			}
			def.Actions = append(def.Actions, ActionDef{Verb: m[1], Handler: m[2], Priority: priority})
		default:
			return Result{
				Success: false,
				Error:   fmt.Errorf("compiler: %s:%d: unrecognized directive: %q", path, lineNo, line),
			}
		}
	}

	return Result{Success: true, Code: def, Warnings: warnings}
}

func parseScalar(s string) any {
	s = strings.TrimSpace(s)
	if s == "true" {
		return true
	}
	if s == "false" {
		return false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return strings.Trim(s, `"`)
}

// Build turns a compiled Definition into a registry.Constructor, ready to
// hand to registry.Registry.RegisterBlueprint or ReplaceConstructor.
func (d *Definition) Build() registry.Constructor {
	return func(obj *registry.Object) {
		obj.ShortDesc = d.ShortDesc
		obj.LongDesc = d.LongDesc
		obj.Ids = append([]string(nil), d.Ids...)
		for k, v := range d.Properties {
			obj.SetProperty(k, v)
		}
		for _, a := range d.Actions {
			fn := Handlers[a.Handler]
			if fn == nil {
				continue
			}
			obj.Actions[a.Verb] = registry.Action{
				Priority: a.Priority,
				Handler:  registry.ActionHandler(fn),
			}
		}
	}
}
