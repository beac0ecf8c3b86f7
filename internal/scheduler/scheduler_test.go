package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/emberwood/driver/internal/registry"
)

func newTestObject() *registry.Object {
	r := registry.New()
	r.RegisterBlueprint("/std/npc", func(o *registry.Object) {}, registry.NewObject("/std/npc", "/std/npc", true))
	obj, _ := r.Clone("/std/npc")
	return obj
}

func TestHeartbeatRoundRobin(t *testing.T) {
	var order []string
	s := New(nil, nil, func(obj *registry.Object) error {
		order = append(order, obj.ObjectID())
		return nil
	})

	a, b, c := newTestObject(), newTestObject(), newTestObject()
	s.SetHeartbeat(a, true)
	s.SetHeartbeat(b, true)
	s.SetHeartbeat(c, true)

	s.Tick(time.Now())
	if len(order) != 3 {
		t.Fatalf("expected 3 heartbeat calls, got %d", len(order))
	}
}

func TestHeartbeatExceptionDisablesOnlyThatObject(t *testing.T) {
	good := newTestObject()
	bad := newTestObject()

	s := New(nil, nil, func(obj *registry.Object) error {
		if obj == bad {
			return errors.New("boom")
		}
		return nil
	})
	s.SetHeartbeat(good, true)
	s.SetHeartbeat(bad, true)

	s.Tick(time.Now())

	if !s.HeartbeatEnabled(good) {
		t.Fatal("expected the non-failing object to remain enabled")
	}
	if s.HeartbeatEnabled(bad) {
		t.Fatal("expected the failing object's heartbeat to be disabled")
	}

	// A second tick should not fail — bad was already removed.
	s.Tick(time.Now())
}

func TestHeartbeatPanicDisablesObject(t *testing.T) {
	bad := newTestObject()
	s := New(nil, nil, func(obj *registry.Object) error {
		panic("unexpected")
	})
	s.SetHeartbeat(bad, true)
	s.Tick(time.Now())

	if s.HeartbeatEnabled(bad) {
		t.Fatal("expected panicking object's heartbeat disabled")
	}
}

func TestCallOutFiresOnce(t *testing.T) {
	s := New(nil, nil, nil)
	count := 0
	s.CallOut(func() { count++ }, 0)

	s.Tick(time.Now().Add(time.Millisecond))
	s.Tick(time.Now().Add(time.Millisecond))

	if count != 1 {
		t.Fatalf("expected callout to fire exactly once, got %d", count)
	}
}

func TestCallOutNotFiredBeforeDelay(t *testing.T) {
	s := New(nil, nil, nil)
	count := 0
	s.CallOut(func() { count++ }, time.Hour)

	s.Tick(time.Now())
	if count != 0 {
		t.Fatalf("expected callout not yet due, got count=%d", count)
	}
}

func TestRemoveCallOutCancelsBeforeFiring(t *testing.T) {
	s := New(nil, nil, nil)
	count := 0
	id := s.CallOut(func() { count++ }, time.Hour)

	if !s.RemoveCallOut(id) {
		t.Fatal("expected cancellation to succeed")
	}
	if s.RemoveCallOut(id) {
		t.Fatal("expected second cancellation of the same id to return false")
	}

	s.Tick(time.Now().Add(2 * time.Hour))
	if count != 0 {
		t.Fatalf("expected cancelled callout never to fire, got count=%d", count)
	}
}

func TestRemoveCallOutAfterFiringReturnsFalse(t *testing.T) {
	s := New(nil, nil, nil)
	id := s.CallOut(func() {}, 0)
	s.Tick(time.Now().Add(time.Millisecond))

	if s.RemoveCallOut(id) {
		t.Fatal("expected cancellation of an already-fired callout to return false")
	}
}

func TestCalloutsFireInFIFOOrderForSameDueTime(t *testing.T) {
	s := New(nil, nil, nil)
	var order []int
	now := time.Now()
	// Schedule with the same delay so due times collide.
	s.CallOut(func() { order = append(order, 1) }, 0)
	s.CallOut(func() { order = append(order, 2) }, 0)
	s.CallOut(func() { order = append(order, 3) }, 0)

	s.Tick(now.Add(time.Millisecond))
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected FIFO order [1 2 3], got %v", order)
	}
}
