package connection

import "testing"

func newTestConn(id string) *Connection {
	return &Connection{ID: id, state: Unbound, done: make(chan struct{})}
}

func TestRegistryBindAndFindConnectedPlayer(t *testing.T) {
	r := NewRegistry()
	c := newTestConn("conn-1")
	r.Add(c)

	r.BindPlayerToConnection("Quinn", c)

	found, ok := r.FindConnectedPlayer("quinn")
	if !ok || found != c {
		t.Fatal("expected to find Quinn's connection case-insensitively")
	}
}

func TestRegistryRemoveClearsPlayerBinding(t *testing.T) {
	r := NewRegistry()
	c := newTestConn("conn-2")
	r.Add(c)
	r.BindPlayerToConnection("Riley", c)

	r.Remove(c)

	if _, ok := r.FindConnectedPlayer("riley"); ok {
		t.Fatal("expected binding removed along with connection")
	}
	if _, ok := r.Find("conn-2"); ok {
		t.Fatal("expected connection gone from registry")
	}
}

func TestTransferConnectionMovesBindingAndClosesOld(t *testing.T) {
	r := NewRegistry()
	oldConn := newTestConn("conn-old")
	newConn := newTestConn("conn-new")
	r.Add(oldConn)
	r.Add(newConn)

	r.BindPlayerToConnection("Sage", oldConn)
	r.TransferConnection("Sage", newConn)

	found, ok := r.FindConnectedPlayer("sage")
	if !ok || found != newConn {
		t.Fatal("expected Sage now bound to newConn")
	}
	if oldConn.State() != Closing {
		t.Fatalf("expected old connection marked Closing, got %v", oldConn.State())
	}
}

func TestTransferConnectionWithNoPriorBindingJustBinds(t *testing.T) {
	r := NewRegistry()
	c := newTestConn("conn-3")
	r.Add(c)

	r.TransferConnection("Tam", c)

	found, ok := r.FindConnectedPlayer("tam")
	if !ok || found != c {
		t.Fatal("expected fresh binding to succeed with no prior connection")
	}
}

func TestRegistryCount(t *testing.T) {
	r := NewRegistry()
	r.Add(newTestConn("a"))
	r.Add(newTestConn("b"))
	if r.Count() != 2 {
		t.Fatalf("expected count 2, got %d", r.Count())
	}
}
