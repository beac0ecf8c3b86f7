package permissions

import (
	"testing"

	"github.com/emberwood/driver/internal/config"
)

func newTestTable() *Table {
	return NewTable(&config.ACLConfig{
		Levels: map[string]string{
			"alice": "administrator",
			"bob":   "builder",
			"carol": "senior_builder",
		},
		BuilderPaths:   config.PathList{"/areas/bob/"},
		SeniorPaths:    config.PathList{"/areas/shared/"},
		ProtectedPaths: config.PathList{"/core/"},
		ForbiddenFiles: []string{"/config/permissions.yaml"},
	})
}

func TestLevelLookupCaseInsensitive(t *testing.T) {
	tbl := newTestTable()
	if tbl.Level("Alice") != Administrator {
		t.Fatalf("expected alice to be administrator, got %v", tbl.Level("Alice"))
	}
	if tbl.Level("nobody") != Player {
		t.Fatalf("expected unknown player to default to Player, got %v", tbl.Level("nobody"))
	}
}

func TestBootstrapOnlyWhenNoAdminAndNoContext(t *testing.T) {
	tbl := NewTable(&config.ACLConfig{Levels: map[string]string{}})
	if !tbl.Bootstrap("newadmin", false) {
		t.Fatal("expected first bootstrap to succeed")
	}
	if tbl.Level("newadmin") != Administrator {
		t.Fatal("expected newadmin promoted to Administrator")
	}
	if tbl.Bootstrap("second", false) {
		t.Fatal("expected second bootstrap to fail once an admin exists")
	}

	tbl2 := NewTable(&config.ACLConfig{Levels: map[string]string{}})
	if tbl2.Bootstrap("someone", true) {
		t.Fatal("expected bootstrap to fail when caller context is set")
	}
}

func TestCheckWritePermissionPrefixGating(t *testing.T) {
	tbl := newTestTable()

	if !tbl.CheckWritePermission(Builder, "/areas/bob/room.c") {
		t.Fatal("expected builder to write under their own builder path")
	}
	if tbl.CheckWritePermission(Builder, "/areas/shared/room.c") {
		t.Fatal("expected builder to be denied on a senior path")
	}
	if !tbl.CheckWritePermission(SeniorBuilder, "/areas/shared/room.c") {
		t.Fatal("expected senior builder to write under a senior path")
	}
	if !tbl.CheckWritePermission(SeniorBuilder, "/areas/bob/room.c") {
		t.Fatal("expected senior builder to also satisfy a builder path (level is a ceiling, not exact match)")
	}
	if tbl.CheckWritePermission(SeniorBuilder, "/core/kernel.c") {
		t.Fatal("expected protected path to be denied to a non-administrator")
	}
	if !tbl.CheckWritePermission(Administrator, "/core/kernel.c") {
		t.Fatal("expected administrator to write anywhere")
	}
}

func TestCheckWritePermissionForbiddenFileAlwaysDenied(t *testing.T) {
	tbl := newTestTable()
	if tbl.CheckWritePermission(Administrator, "/config/permissions.yaml") {
		t.Fatal("expected forbidden file to be denied even to an administrator")
	}
}

func TestCheckReadPermissionOnlyForbiddenFilesDenied(t *testing.T) {
	tbl := newTestTable()
	if !tbl.CheckReadPermission("/areas/bob/room.c") {
		t.Fatal("expected ordinary path to be readable")
	}
	if tbl.CheckReadPermission("/config/permissions.yaml") {
		t.Fatal("expected forbidden file to be unreadable")
	}
}

func TestSetLevelRequiresAdministrator(t *testing.T) {
	tbl := newTestTable()
	if err := tbl.SetLevel(Builder, "bob", Administrator); err == nil {
		t.Fatal("expected non-administrator caller to be rejected")
	}
	if err := tbl.SetLevel(Administrator, "bob", Level(99)); err == nil {
		t.Fatal("expected out-of-range level to be rejected")
	}
	if err := tbl.SetLevel(Administrator, "bob", SeniorBuilder); err != nil {
		t.Fatalf("SetLevel: %v", err)
	}
	if tbl.Level("bob") != SeniorBuilder {
		t.Fatal("expected bob promoted to SeniorBuilder")
	}
}
