package daemon

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/emberwood/driver/internal/connection"
	"github.com/emberwood/driver/internal/registry"
)

func TestMetricsAddrDerivesFromListenAddr(t *testing.T) {
	if got := metricsAddr(":4000"); got != ":9090" {
		t.Fatalf("expected :9090, got %q", got)
	}
	if got := metricsAddr("0.0.0.0:4000"); got != "0.0.0.0:9090" {
		t.Fatalf("expected 0.0.0.0:9090, got %q", got)
	}
}

func TestMetricsAddrFallsBackWithNoColon(t *testing.T) {
	if got := metricsAddr("weird"); got != ":9090" {
		t.Fatalf("expected fallback :9090, got %q", got)
	}
}

func TestDecodeInputLineAcceptsWellFormedFrame(t *testing.T) {
	env, err := connection.NewEnvelope(connection.ChannelInput, "line", connection.InputLine{Line: "look"})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	line, ok := decodeInputLine(raw)
	if !ok || line != "look" {
		t.Fatalf("expected (\"look\", true), got (%q, %v)", line, ok)
	}
}

func TestDecodeInputLineRejectsWrongChannel(t *testing.T) {
	env, _ := connection.NewEnvelope(connection.ChannelGUI, "submit", connection.InputLine{Line: "look"})
	raw, _ := json.Marshal(env)

	if _, ok := decodeInputLine(raw); ok {
		t.Fatal("expected a non-input channel frame to be rejected")
	}
}

func TestDecodeInputLineRejectsMalformedJSON(t *testing.T) {
	if _, ok := decodeInputLine([]byte("not json")); ok {
		t.Fatal("expected malformed JSON to be rejected")
	}
}

func TestHeartbeatDispatchNoopsWithoutProperty(t *testing.T) {
	obj := registry.NewObject("/std/thing", "/std/thing#1", false)
	if err := heartbeatDispatch(obj); err != nil {
		t.Fatalf("expected no error with no heartbeat property, got %v", err)
	}
}

func TestHeartbeatDispatchInvokesStoredFunction(t *testing.T) {
	obj := registry.NewObject("/std/thing", "/std/thing#1", false)
	var called bool
	obj.SetProperty("__heartbeat", func(o *registry.Object) error {
		called = true
		return nil
	})

	if err := heartbeatDispatch(obj); err != nil {
		t.Fatalf("heartbeatDispatch: %v", err)
	}
	if !called {
		t.Fatal("expected the stored heartbeat function to be invoked")
	}
}

func TestHeartbeatDispatchPropagatesError(t *testing.T) {
	obj := registry.NewObject("/std/thing", "/std/thing#1", false)
	wantErr := errors.New("boom")
	obj.SetProperty("__heartbeat", func(o *registry.Object) error { return wantErr })

	if err := heartbeatDispatch(obj); err != wantErr {
		t.Fatalf("expected error to propagate, got %v", err)
	}
}

func TestHeartbeatDispatchRejectsWrongPropertyType(t *testing.T) {
	obj := registry.NewObject("/std/thing", "/std/thing#1", false)
	obj.SetProperty("__heartbeat", "not a function")

	if err := heartbeatDispatch(obj); err == nil {
		t.Fatal("expected an error for a malformed heartbeat property")
	}
}
