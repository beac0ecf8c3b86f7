package dispatch

import (
	"testing"

	"github.com/emberwood/driver/internal/permissions"
	"github.com/emberwood/driver/internal/vfs"
)

func newTestFS(t *testing.T) *vfs.FS {
	t.Helper()
	fs, err := vfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("vfs.New: %v", err)
	}
	return fs
}

func TestLoadCommandModuleParsesDirectives(t *testing.T) {
	RegisterCommandHandler("test.look", func(ctx *Context) (bool, error) { return true, nil })

	fs := newTestFS(t)
	src := "verb: look, l\nusage: look [target]\ndescription: examine your surroundings\nhandler: test.look\npriority: 5\n"
	if err := fs.WriteFile("/cmds/player/look.cmd", []byte(src)); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cmd, err := LoadCommandModule(fs, "/cmds/player/look.cmd")
	if err != nil {
		t.Fatalf("LoadCommandModule: %v", err)
	}
	if len(cmd.Verbs) != 2 || cmd.Verbs[0] != "look" || cmd.Verbs[1] != "l" {
		t.Fatalf("unexpected verbs: %v", cmd.Verbs)
	}
	if cmd.Category != "player" || cmd.MinLevel != permissions.Player {
		t.Fatalf("expected player category/level, got %q/%v", cmd.Category, cmd.MinLevel)
	}
	if cmd.Priority != 5 {
		t.Fatalf("expected priority 5, got %d", cmd.Priority)
	}
	if cmd.Handler == nil {
		t.Fatal("expected handler resolved")
	}
}

func TestLoadCommandModuleUnknownHandlerFails(t *testing.T) {
	fs := newTestFS(t)
	fs.WriteFile("/cmds/player/bad.cmd", []byte("verb: bad\nhandler: nope.nonexistent\n"))

	if _, err := LoadCommandModule(fs, "/cmds/player/bad.cmd"); err == nil {
		t.Fatal("expected error for unknown handler reference")
	}
}

func TestLoadCommandModuleUnrecognizedDirectiveFails(t *testing.T) {
	fs := newTestFS(t)
	fs.WriteFile("/cmds/player/bad2.cmd", []byte("bogus directive here\n"))

	if _, err := LoadCommandModule(fs, "/cmds/player/bad2.cmd"); err == nil {
		t.Fatal("expected error for unrecognized directive line")
	}
}

func TestDiscoverCommandsWalksCategoryDirectories(t *testing.T) {
	RegisterCommandHandler("test.shutdown", func(ctx *Context) (bool, error) { return true, nil })

	fs := newTestFS(t)
	fs.WriteFile("/cmds/player/look.cmd", []byte("verb: look\nhandler: test.look\n"))
	fs.WriteFile("/cmds/admin/shutdown.cmd", []byte("verb: shutdown\nhandler: test.shutdown\n"))

	commands, errs := DiscoverCommands(fs, "/cmds")
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(commands) != 2 {
		t.Fatalf("expected 2 discovered commands, got %d", len(commands))
	}

	var shutdownCmd *Command
	for _, c := range commands {
		if c.Path == "/cmds/admin/shutdown.cmd" {
			shutdownCmd = c
		}
	}
	if shutdownCmd == nil {
		t.Fatal("expected to find the shutdown command")
	}
	if shutdownCmd.MinLevel != permissions.Administrator {
		t.Fatalf("expected admin category to carry Administrator min level, got %v", shutdownCmd.MinLevel)
	}
}
