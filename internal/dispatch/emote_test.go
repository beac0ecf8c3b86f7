package dispatch

import "testing"

func TestEmoteTableFindsBuiltins(t *testing.T) {
	table := NewEmoteTable()
	e, ok := table.Find("wave")
	if !ok {
		t.Fatal("expected wave to be a built-in emote")
	}
	self, room := e.Render("Quinn", "")
	if self != "You wave." {
		t.Fatalf("unexpected self message: %q", self)
	}
	if room != "Quinn waves." {
		t.Fatalf("unexpected room message: %q", room)
	}
}

func TestEmoteRenderWithTarget(t *testing.T) {
	table := NewEmoteTable()
	e, _ := table.Find("nod")
	_, room := e.Render("Rex", "Sable")
	if room != "Rex nods at Sable." {
		t.Fatalf("unexpected targeted room message: %q", room)
	}
}

func TestEmoteTableUnknownVerb(t *testing.T) {
	table := NewEmoteTable()
	if _, ok := table.Find("teleport"); ok {
		t.Fatal("expected teleport to not be a known emote")
	}
}
