package connection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// newWSPair starts a real HTTP server that upgrades one connection and
// returns the server-side *Connection alongside a client websocket.Conn
// reading the other end, so Send's queuing can be exercised against an
// actual socket instead of a nil one.
func newWSPair(t *testing.T) (*Connection, *websocket.Conn) {
	t.Helper()

	var serverConn *Connection
	ready := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		serverConn = New(ws, "test", nil)
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
	return serverConn, client
}

func TestSendDeliversLineOverRealSocket(t *testing.T) {
	conn, client := newWSPair(t)
	defer conn.Close("done")

	if err := conn.SendLine(context.Background(), "hello there"); err != nil {
		t.Fatalf("SendLine: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := client.Read(ctx)
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if got := string(data); !contains(got, "hello there") {
		t.Fatalf("expected frame to contain the line, got %q", got)
	}
}

func TestSendPreservesOrderWithinAChannel(t *testing.T) {
	conn, client := newWSPair(t)
	defer conn.Close("done")

	for i := 0; i < 5; i++ {
		env, _ := NewEnvelope(ChannelTerminal, "line", TerminalLine{Text: string(rune('a' + i))})
		if err := conn.Send(context.Background(), env); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, data, err := client.Read(ctx)
		cancel()
		if err != nil {
			t.Fatalf("client read %d: %v", i, err)
		}
		want := string(rune('a' + i))
		if !contains(string(data), want) {
			t.Fatalf("frame %d: expected to contain %q, got %q", i, want, string(data))
		}
	}
}

func TestSendBacksOffAtHighWaterMark(t *testing.T) {
	conn := &Connection{state: Bound, done: make(chan struct{})}

	// Fill one channel's queue directly, bypassing its writer goroutine, so
	// Send observes a full queue without a real socket ever being touched.
	q := make(chan []byte, sendQueueCapacity)
	conn.sendQueues = map[Channel]chan []byte{ChannelCombat: q}
	for i := 0; i < highWaterMark; i++ {
		q <- []byte("filler")
	}

	env, _ := NewEnvelope(ChannelCombat, "event", CombatEvent{Kind: "hit", Message: "overflow"})
	if err := conn.Send(context.Background(), env); err != nil {
		t.Fatalf("expected Send to back off without error, got %v", err)
	}
	if len(q) != highWaterMark {
		t.Fatalf("expected queue depth unchanged at high-water mark, got %d", len(q))
	}
	if conn.BufferedFrames() < highWaterMark {
		t.Fatalf("expected high-water mark recorded, got %d", conn.BufferedFrames())
	}
}

func TestSendOverRealSocketKeepsHighWaterMarkNonNegative(t *testing.T) {
	conn, client := newWSPair(t)
	defer conn.Close("done")
	go func() {
		for {
			if _, _, err := client.Read(context.Background()); err != nil {
				return
			}
		}
	}()

	env, _ := NewEnvelope(ChannelMap, "update", MapUpdate{RoomID: "r1"})
	if err := conn.Send(context.Background(), env); err != nil {
		t.Fatalf("Send: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if conn.BufferedFrames() < 0 {
		t.Fatal("expected non-negative high-water mark")
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
