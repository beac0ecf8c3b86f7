package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// State is a connection's position in its state machine.
type State int

const (
	Accepting State = iota
	Unbound
	Bound
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Accepting:
		return "accepting"
	case Unbound:
		return "unbound"
	case Bound:
		return "bound"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// sendQueueCapacity bounds how many unsent frames may pile up on a single
// channel before Send starts dropping instead of queuing.
const sendQueueCapacity = 64

// highWaterMark is the per-channel queue depth at which Send backs off:
// once a channel is this full, new frames on it are dropped rather than
// risking unbounded memory growth from a client that reads slower than the
// game produces output.
const highWaterMark = 48

// Connection is one live client socket.
type Connection struct {
	ID         string
	RemoteAddr string

	ws      *websocket.Conn
	log     *slog.Logger
	writeMu sync.Mutex // serializes ws.Write calls across channel writer goroutines

	mu             sync.Mutex
	state          State
	playerName     string
	lastActivity   time.Time
	bufferedFrames int // high-water mark: the deepest any channel queue has been

	sendQueues map[Channel]chan []byte
	done       chan struct{}
}

// New wraps ws into a fresh Connection in the Accepting state.
func New(ws *websocket.Conn, remoteAddr string, log *slog.Logger) *Connection {
	ws.SetReadLimit(MaxFrameBytes)
	return &Connection{
		ID:           uuid.NewString(),
		RemoteAddr:   remoteAddr,
		ws:           ws,
		log:          log,
		state:        Accepting,
		lastActivity: time.Now(),
		sendQueues:   make(map[Channel]chan []byte),
		done:         make(chan struct{}),
	}
}

// State returns the connection's current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// MarkUnbound transitions Accepting -> Unbound once the handshake
// completes.
func (c *Connection) MarkUnbound() { c.setState(Unbound) }

// BindPlayer transitions Unbound -> Bound, attaching playerName.
func (c *Connection) BindPlayer(playerName string) {
	c.mu.Lock()
	c.playerName = playerName
	c.state = Bound
	c.mu.Unlock()
}

// PlayerName returns the bound player name, or "" if unbound.
func (c *Connection) PlayerName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerName
}

// Touch records read/write activity for idle-timeout bookkeeping.
func (c *Connection) Touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// LastActivity returns the last time data was read from or written to this
// connection.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Send marshals env and enqueues it on its channel's own send queue for
// delivery by that channel's writer goroutine. Frames over MaxFrameBytes
// are dropped (with a logged warning) and never queued; so are frames
// against a closed or closing connection, and frames that find their
// channel's queue already at or past highWaterMark — a slow client
// backs off a channel instead of growing memory without bound. A
// connection-wide high-water mark (the deepest any channel queue has
// reached) is tracked for diagnostics.
func (c *Connection) Send(ctx context.Context, env Envelope) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state == Closing || state == Closed {
		return nil
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("connection: marshal envelope: %w", err)
	}
	if len(data) > MaxFrameBytes {
		if c.log != nil {
			c.log.Warn("dropping oversized outbound frame", "connection", c.ID, "channel", env.Channel, "bytes", len(data))
		}
		return nil
	}

	queue := c.channelQueue(env.Channel)

	c.mu.Lock()
	depth := len(queue)
	if depth > c.bufferedFrames {
		c.bufferedFrames = depth
	}
	c.mu.Unlock()

	if depth >= highWaterMark {
		if c.log != nil {
			c.log.Warn("send queue over high-water mark, dropping frame", "connection", c.ID, "channel", env.Channel, "depth", depth)
		}
		return nil
	}

	select {
	case queue <- data:
	default:
		if c.log != nil {
			c.log.Warn("send queue full, dropping frame", "connection", c.ID, "channel", env.Channel)
		}
	}
	return nil
}

// channelQueue returns ch's send queue, creating it and its writer
// goroutine on first use.
func (c *Connection) channelQueue(ch Channel) chan []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendQueues == nil {
		c.sendQueues = make(map[Channel]chan []byte)
	}
	q, ok := c.sendQueues[ch]
	if !ok {
		q = make(chan []byte, sendQueueCapacity)
		c.sendQueues[ch] = q
		go c.writeLoop(q)
	}
	return q
}

// writeLoop drains one channel's queue, serializing writes to the
// underlying socket against every other channel's writeLoop via writeMu
// (the websocket library requires a single writer at a time).
func (c *Connection) writeLoop(queue chan []byte) {
	for {
		select {
		case data, ok := <-queue:
			if !ok {
				return
			}
			c.writeMu.Lock()
			err := c.ws.Write(context.Background(), websocket.MessageText, data)
			c.writeMu.Unlock()
			if err != nil {
				if c.log != nil {
					c.log.Warn("connection write failed", "connection", c.ID, "error", err)
				}
				return
			}
			c.Touch()
		case <-c.done:
			return
		}
	}
}

// BufferedFrames returns the deepest any single channel's send queue has
// reached over this connection's lifetime.
func (c *Connection) BufferedFrames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bufferedFrames
}

// SendLine is a convenience wrapper for the common terminal-channel text
// line.
func (c *Connection) SendLine(ctx context.Context, text string) error {
	env, err := NewEnvelope(ChannelTerminal, "line", TerminalLine{Text: text})
	if err != nil {
		return err
	}
	return c.Send(ctx, env)
}

// Read blocks for the next inbound text frame and returns its raw
// bytes.
func (c *Connection) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return nil, err
	}
	c.Touch()
	return data, nil
}

// Close transitions the connection through Closing to Closed and closes
// the underlying socket.
func (c *Connection) Close(reason string) error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return nil
	}
	c.state = Closing
	c.mu.Unlock()

	close(c.done)
	err := c.ws.Close(websocket.StatusNormalClosure, reason)

	c.mu.Lock()
	c.state = Closed
	c.mu.Unlock()
	return err
}

// Done is closed once the connection starts closing.
func (c *Connection) Done() <-chan struct{} { return c.done }
