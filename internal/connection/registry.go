package connection

import "sync"

// Registry tracks every live connection and the player-name -> connection
// binding, backing the efun bridge's bindPlayerToConnection/
// findConnectedPlayer/transferConnection operations.
type Registry struct {
	mu          sync.Mutex
	byID        map[string]*Connection
	byPlayer    map[string]*Connection // keyed by lowercased player name
}

// NewRegistry returns an empty connection Registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:     make(map[string]*Connection),
		byPlayer: make(map[string]*Connection),
	}
}

// Add registers a newly accepted connection.
func (r *Registry) Add(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[c.ID] = c
}

// Remove unregisters a connection, including its player binding if any.
func (r *Registry) Remove(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, c.ID)
	if name := c.PlayerName(); name != "" {
		if cur, ok := r.byPlayer[lower(name)]; ok && cur == c {
			delete(r.byPlayer, lower(name))
		}
	}
}

// Find returns the connection with the given id.
func (r *Registry) Find(id string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	return c, ok
}

// BindPlayerToConnection attaches playerName to c, replacing any prior
// binding for that player.
func (r *Registry) BindPlayerToConnection(playerName string, c *Connection) {
	c.BindPlayer(playerName)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPlayer[lower(playerName)] = c
}

// FindConnectedPlayer returns the connection currently bound to
// playerName.
func (r *Registry) FindConnectedPlayer(playerName string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byPlayer[lower(playerName)]
	return c, ok
}

// TransferConnection rebinds playerName from its current connection (if
// any) to newConn, used when a player reconnects on a fresh socket.
func (r *Registry) TransferConnection(playerName string, newConn *Connection) {
	r.mu.Lock()
	old, hadOld := r.byPlayer[lower(playerName)]
	r.mu.Unlock()

	if hadOld && old != newConn {
		old.setState(Closing)
	}
	r.BindPlayerToConnection(playerName, newConn)
}

// Count returns the number of currently tracked connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// All returns a snapshot of every currently tracked connection, for
// broadcasts that have no single bound-player target (e.g. the periodic
// time-sync push).
func (r *Registry) All() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns := make([]*Connection, 0, len(r.byID))
	for _, c := range r.byID {
		conns = append(conns, c)
	}
	return conns
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
