package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/emberwood/driver/internal/config"
	"github.com/emberwood/driver/internal/connection"
	"github.com/emberwood/driver/internal/efun"
	"github.com/emberwood/driver/internal/permissions"
	"github.com/emberwood/driver/internal/registry"
	"github.com/emberwood/driver/internal/vfs"
)

func newTestBridge(t *testing.T, levels map[string]string) *efun.Bridge {
	t.Helper()
	fs, err := vfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("vfs.New: %v", err)
	}
	reg := registry.New()
	perms := permissions.NewTable(&config.ACLConfig{Levels: levels})
	b := efun.New(slog.Default(), fs, reg, nil, nil, nil, perms)
	b.Connections = connection.NewRegistry()
	return b
}

// newDispatchTestConn starts a real WebSocket upgrade so a Dispatch test
// can observe exactly what text was sent to a player's connection, instead
// of only whether Send returned an error.
func newDispatchTestConn(t *testing.T) (*connection.Connection, *websocket.Conn) {
	t.Helper()
	var serverConn *connection.Connection
	ready := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		serverConn = connection.New(ws, "test", nil)
		close(ready)
		<-serverConn.Done()
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.Dial(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close(websocket.StatusNormalClosure, "") })

	<-ready
	t.Cleanup(func() { serverConn.Close("done") })
	return serverConn, client
}

// readLine reads one terminal-channel frame off client and returns its
// text.
func readLine(t *testing.T, client *websocket.Conn) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := client.Read(ctx)
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	var env connection.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	var line connection.TerminalLine
	if err := json.Unmarshal(env.Payload, &line); err != nil {
		t.Fatalf("unmarshal terminal line: %v", err)
	}
	return line.Text
}

func TestDispatchPrefersHigherPriorityActionAcrossRoomObjects(t *testing.T) {
	b := newTestBridge(t, map[string]string{})
	reg := b.Registry

	room := registry.NewObject("/std/room", "/std/room#1", false)
	item := registry.NewObject("/std/item", "/std/item#1", false)
	player := registry.NewObject("/std/player", "/std/player#1", false)

	var lowCalled, highCalled bool
	room.Actions["look"] = registry.Action{Priority: 1, Handler: func(caller *registry.Object, verb, args string) (bool, error) {
		lowCalled = true
		return true, nil
	}}
	item.Actions["look"] = registry.Action{Priority: 5, Handler: func(caller *registry.Object, verb, args string) (bool, error) {
		highCalled = true
		return true, nil
	}}

	if err := reg.Move(item, room); err != nil {
		t.Fatalf("Move item: %v", err)
	}
	if err := reg.Move(player, room); err != nil {
		t.Fatalf("Move player: %v", err)
	}
	b.RegisterActivePlayer("Mira", player)

	d := New(slog.Default(), b)
	if err := d.Dispatch("Mira", "look"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !highCalled {
		t.Fatal("expected the higher-priority item action to be called")
	}
	if lowCalled {
		t.Fatal("expected the lower-priority room action to be skipped once a match succeeds")
	}
}

func TestDispatchFallsThroughOnFalseActionReturn(t *testing.T) {
	b := newTestBridge(t, map[string]string{})
	reg := b.Registry

	room := registry.NewObject("/std/room", "/std/room#1", false)
	player := registry.NewObject("/std/player", "/std/player#1", false)
	var secondCalled bool

	room.Actions["poke"] = registry.Action{Priority: 1, Handler: func(caller *registry.Object, verb, args string) (bool, error) {
		return false, nil // falls through
	}}

	if err := reg.Move(player, room); err != nil {
		t.Fatalf("Move: %v", err)
	}
	b.RegisterActivePlayer("Ned", player)

	d := New(slog.Default(), b)
	d.LoadCommands([]*Command{{
		Verbs:    []string{"poke"},
		MinLevel: permissions.Player,
		Handler:  func(ctx *Context) (bool, error) { secondCalled = true; return true, nil },
	}})

	if err := d.Dispatch("Ned", "poke"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !secondCalled {
		t.Fatal("expected dispatch to fall through to the global command after the action returned false")
	}
}

func TestDispatchEnforcesCategoryMinimumLevel(t *testing.T) {
	b := newTestBridge(t, map[string]string{"ned": "player"})
	player := registry.NewObject("/std/player", "/std/player#1", false)
	b.RegisterActivePlayer("ned", player)

	var called bool
	d := New(slog.Default(), b)
	d.LoadCommands([]*Command{{
		Verbs:    []string{"shutdown"},
		MinLevel: permissions.Administrator,
		Handler:  func(ctx *Context) (bool, error) { called = true; return true, nil },
	}})

	if err := d.Dispatch("ned", "shutdown"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if called {
		t.Fatal("expected a below-level caller to be refused the admin command")
	}
}

func TestDispatchAllowsCommandAtSufficientLevel(t *testing.T) {
	b := newTestBridge(t, map[string]string{"root": "administrator"})
	player := registry.NewObject("/std/player", "/std/player#1", false)
	b.RegisterActivePlayer("root", player)

	var called bool
	d := New(slog.Default(), b)
	d.LoadCommands([]*Command{{
		Verbs:    []string{"shutdown"},
		MinLevel: permissions.Administrator,
		Handler:  func(ctx *Context) (bool, error) { called = true; return true, nil },
	}})

	if err := d.Dispatch("root", "shutdown"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !called {
		t.Fatal("expected an administrator to run the admin command")
	}
}

func TestDispatchRoutesToEmoteWhenNoActionOrCommandMatches(t *testing.T) {
	b := newTestBridge(t, map[string]string{})
	player := registry.NewObject("/std/player", "/std/player#1", false)
	b.RegisterActivePlayer("Suri", player)

	conn, client := newDispatchTestConn(t)
	b.Connections.BindPlayerToConnection("Suri", conn)

	d := New(slog.Default(), b)
	if err := d.Dispatch("Suri", "wave"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if line := readLine(t, client); line != "You wave." {
		t.Fatalf("expected the wave emote's self message, got %q", line)
	}
}

func TestDispatchUnmatchedVerbProducesNoError(t *testing.T) {
	b := newTestBridge(t, map[string]string{})
	player := registry.NewObject("/std/player", "/std/player#1", false)
	b.RegisterActivePlayer("Tate", player)

	d := New(slog.Default(), b)
	if err := d.Dispatch("Tate", "xyzzy"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
}

func TestDispatchRoutesToPushedInputHandlerFirst(t *testing.T) {
	b := newTestBridge(t, map[string]string{})
	player := registry.NewObject("/std/player", "/std/player#1", false)
	b.RegisterActivePlayer("Umi", player)

	d := New(slog.Default(), b)
	h := &fakeHandler{doneAfter: 10}
	b.PushInputHandler("Umi", h)

	if err := d.Dispatch("Umi", "anything at all"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(h.lines) != 1 || h.lines[0] != "anything at all" {
		t.Fatalf("expected the pushed handler to consume the line, got %v", h.lines)
	}
}

func TestErrorMessageForHidesDetailBelowBuilder(t *testing.T) {
	err := fmt.Errorf("explosion: out of bounds at index 7")
	if got := errorMessageFor(permissions.Player, err); got != "Something went wrong with that command." {
		t.Fatalf("expected generic message for a plain player, got %q", got)
	}
}

func TestErrorMessageForShowsDetailAtBuilderAndAbove(t *testing.T) {
	err := fmt.Errorf("explosion: out of bounds at index 7")
	for _, lvl := range []permissions.Level{permissions.Builder, permissions.SeniorBuilder, permissions.Administrator} {
		if got := errorMessageFor(lvl, err); got != err.Error() {
			t.Fatalf("level %v: expected real error text, got %q", lvl, got)
		}
	}
}

func TestDispatchSendsRealErrorToBuilderCaller(t *testing.T) {
	b := newTestBridge(t, map[string]string{"vik": "builder"})
	room := registry.NewObject("/std/room", "/std/room#1", false)
	player := registry.NewObject("/std/player", "/std/player#1", false)
	room.Actions["explode"] = registry.Action{Priority: 1, Handler: func(caller *registry.Object, verb, args string) (bool, error) {
		return true, fmt.Errorf("explosion: missing fuse")
	}}
	b.Registry.Move(player, room)
	b.RegisterActivePlayer("Vik", player)

	conn, client := newDispatchTestConn(t)
	b.Connections.BindPlayerToConnection("Vik", conn)

	d := New(slog.Default(), b)
	if err := d.Dispatch("Vik", "explode"); err != nil {
		t.Fatalf("expected Dispatch to swallow the handler error, got %v", err)
	}

	line := readLine(t, client)
	if line != "explosion: missing fuse" {
		t.Fatalf("expected builder to see the real error, got %q", line)
	}
}

func TestDispatchSendsGenericErrorToPlainPlayer(t *testing.T) {
	b := newTestBridge(t, map[string]string{})
	room := registry.NewObject("/std/room", "/std/room#1", false)
	player := registry.NewObject("/std/player", "/std/player#1", false)
	room.Actions["explode"] = registry.Action{Priority: 1, Handler: func(caller *registry.Object, verb, args string) (bool, error) {
		return true, fmt.Errorf("explosion: missing fuse")
	}}
	b.Registry.Move(player, room)
	b.RegisterActivePlayer("Vik", player)

	conn, client := newDispatchTestConn(t)
	b.Connections.BindPlayerToConnection("Vik", conn)

	d := New(slog.Default(), b)
	if err := d.Dispatch("Vik", "explode"); err != nil {
		t.Fatalf("expected Dispatch to swallow the handler error, got %v", err)
	}

	line := readLine(t, client)
	if line != "Something went wrong with that command." {
		t.Fatalf("expected the generic message, got %q", line)
	}
}

func TestDispatchPanicInActionIsRecoveredAsGenericFailure(t *testing.T) {
	b := newTestBridge(t, map[string]string{})
	room := registry.NewObject("/std/room", "/std/room#1", false)
	player := registry.NewObject("/std/player", "/std/player#1", false)
	room.Actions["explode"] = registry.Action{Priority: 1, Handler: func(caller *registry.Object, verb, args string) (bool, error) {
		panic("boom")
	}}
	b.Registry.Move(player, room)
	b.RegisterActivePlayer("Vik", player)

	conn, client := newDispatchTestConn(t)
	b.Connections.BindPlayerToConnection("Vik", conn)

	d := New(slog.Default(), b)
	if err := d.Dispatch("Vik", "explode"); err != nil {
		t.Fatalf("expected Dispatch to recover the panic and return nil, got %v", err)
	}
	if line := readLine(t, client); line != "Something went wrong with that command." {
		t.Fatalf("expected the generic failure message, got %q", line)
	}
}
