package dispatch

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/emberwood/driver/internal/efun"
	"github.com/emberwood/driver/internal/permissions"
	"github.com/emberwood/driver/internal/registry"
)

// Dispatcher resolves a player's input line to a handler: their
// input-handler stack first, then the command pipeline.
type Dispatcher struct {
	log    *slog.Logger
	bridge *efun.Bridge
	stack  *InputStack
	emotes *EmoteTable

	commandsByVerb map[string][]*Command
}

// New builds a Dispatcher bound to bridge. It also wires bridge's
// ExecuteCommand and PushInputHandler hooks back to this Dispatcher,
// closing the loop the Bridge field comments describe.
func New(log *slog.Logger, bridge *efun.Bridge) *Dispatcher {
	d := &Dispatcher{
		log:            log,
		bridge:         bridge,
		stack:          NewInputStack(),
		emotes:         NewEmoteTable(),
		commandsByVerb: make(map[string][]*Command),
	}
	bridge.ExecuteCommand = d.Dispatch
	bridge.PushInputHandler = d.push
	return d
}

func (d *Dispatcher) push(playerName string, h efun.InputHandler) {
	d.stack.Push(playerName, h)
}

// LoadCommands installs the given commands into the verb table, replacing
// whatever was previously loaded. It does no discovery of its own; the
// daemon passes it the modules DiscoverCommands found at startup.
func (d *Dispatcher) LoadCommands(commands []*Command) {
	byVerb := make(map[string][]*Command)
	for _, cmd := range commands {
		for _, verb := range cmd.Verbs {
			byVerb[verb] = append(byVerb[verb], cmd)
		}
	}
	for verb, cmds := range byVerb {
		sort.SliceStable(cmds, func(i, j int) bool { return cmds[i].Priority > cmds[j].Priority })
		byVerb[verb] = cmds
	}
	d.commandsByVerb = byVerb
}

// Dispatch is the pipeline's entry point: called once per inbound line
// from a bound connection.
func (d *Dispatcher) Dispatch(playerName, line string) error {
	if d.stack.Dispatch(playerName, line) {
		return nil
	}

	verb, args := splitVerbArgs(line)
	if verb == "" {
		return nil
	}

	player, ok := d.bridge.FindActivePlayer(playerName)
	if !ok {
		return fmt.Errorf("dispatch: no active player object for %s", playerName)
	}

	d.bridge.Enter(player, player, playerName)
	defer d.bridge.Exit()

	handled, err := d.runSafely(func() (bool, error) {
		return d.resolve(player, playerName, verb, args)
	})
	if err != nil {
		if d.log != nil {
			d.log.Error("command handler failed", "player", playerName, "verb", verb, "error", err)
		}
		d.sendTo(playerName, errorMessageFor(d.bridge.CallerLevel(), err))
		return nil
	}
	if !handled {
		d.sendTo(playerName, "What?")
	}
	return nil
}

func (d *Dispatcher) runSafely(fn func() (bool, error)) (handled bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch: panic: %v", r)
		}
	}()
	return fn()
}

func (d *Dispatcher) resolve(player *registry.Object, playerName, verb, args string) (bool, error) {
	env := player.Environment()

	if env != nil {
		candidates := append([]*registry.Object{env}, env.Inventory()...)
		if handled, err := d.tryActions(candidates, player, verb, args); handled || err != nil {
			return handled, err
		}
	}

	if handled, err := d.tryActions(player.Inventory(), player, verb, args); handled || err != nil {
		return handled, err
	}

	if handled, err := d.tryCommands(playerName, verb, args); handled || err != nil {
		return handled, err
	}

	return d.tryEmote(playerName, verb, args)
}

type actionMatch struct {
	priority int
	obj      *registry.Object
	action   registry.Action
}

func (d *Dispatcher) tryActions(objs []*registry.Object, caller *registry.Object, verb, args string) (bool, error) {
	var matches []actionMatch
	for _, obj := range objs {
		if a, ok := obj.Actions[verb]; ok {
			matches = append(matches, actionMatch{priority: a.Priority, obj: obj, action: a})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].priority > matches[j].priority })

	for _, m := range matches {
		handled, err := m.action.Handler(caller, verb, args)
		if err != nil {
			return true, err
		}
		if handled {
			return true, nil
		}
	}
	return false, nil
}

func (d *Dispatcher) tryCommands(playerName, verb, args string) (bool, error) {
	cmds := d.commandsByVerb[verb]
	if len(cmds) == 0 {
		return false, nil
	}
	callerLevel := d.bridge.CallerLevel()

	for _, cmd := range cmds {
		if callerLevel < cmd.MinLevel {
			continue
		}
		ctx := &Context{
			PlayerName: playerName,
			Verb:       verb,
			Args:       args,
			Send:       func(msg string) error { return d.sendTo(playerName, msg) },
		}
		handled, err := cmd.Handler(ctx)
		if err != nil {
			return true, err
		}
		if handled {
			return true, nil
		}
	}
	return false, nil
}

func (d *Dispatcher) tryEmote(playerName, verb, args string) (bool, error) {
	emote, ok := d.emotes.Find(verb)
	if !ok {
		return false, nil
	}
	target := strings.TrimSpace(args)
	self, room := emote.Render(playerName, target)
	d.sendTo(playerName, self)
	d.broadcastToRoom(playerName, room)
	return true, nil
}

// broadcastToRoom sends msg to every other active player sharing
// playerName's current environment.
func (d *Dispatcher) broadcastToRoom(playerName, msg string) {
	player, ok := d.bridge.FindActivePlayer(playerName)
	if !ok {
		return
	}
	env := player.Environment()
	if env == nil {
		return
	}
	for _, otherName := range d.bridge.ActivePlayerNames() {
		if strings.EqualFold(otherName, playerName) {
			continue
		}
		other, ok := d.bridge.FindActivePlayer(otherName)
		if !ok || other.Environment() != env {
			continue
		}
		if conn, ok := d.bridge.FindConnectedPlayer(otherName); ok {
			d.bridge.Send(conn, msg)
		}
	}
}

// errorMessageFor decides what a failed command handler's error becomes on
// the wire: builders and above see the real error text (useful while
// debugging their own in-progress code), everyone else gets a generic
// message that doesn't leak implementation detail.
func errorMessageFor(level permissions.Level, err error) string {
	if level >= permissions.Builder {
		return err.Error()
	}
	return "Something went wrong with that command."
}

func (d *Dispatcher) sendTo(playerName, msg string) error {
	conn, ok := d.bridge.FindConnectedPlayer(playerName)
	if !ok {
		return nil
	}
	return d.bridge.Send(conn, msg)
}

// splitVerbArgs trims line and splits it into a verb and the remaining
// argument string.
func splitVerbArgs(line string) (verb, args string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return "", ""
	}
	idx := strings.IndexAny(trimmed, " \t")
	if idx < 0 {
		return trimmed, ""
	}
	return trimmed[:idx], strings.TrimSpace(trimmed[idx+1:])
}
