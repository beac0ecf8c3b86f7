// Package session implements a reconnect token manager: an
// HMAC-SHA256-signed token keyed to a player/connection/address tuple, with
// a periodic sweep and player-scoped invalidation.
package session

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Record is the session manager's record of one bound player.
type Record struct {
	PlayerName   string
	ConnectionID string
	Address      string
	ExpiresAt    time.Time
	Nonce        string
}

type payload struct {
	PlayerName   string `json:"p"`
	ConnectionID string `json:"c"`
	Address      string `json:"a"`
	ExpiresAt    int64  `json:"e"`
	Nonce        string `json:"n"`
}

// Manager owns the active-sessions map and the signing secret.
type Manager struct {
	secret []byte
	ttl    time.Duration

	mu       sync.Mutex
	sessions map[string]*Record // keyed by token
}

// NewManager builds a Manager. secret signs every issued token; if empty,
// a random secret is generated, the usual generate-if-unconfigured
// convention for signing keys.
func NewManager(secret []byte, ttl time.Duration) (*Manager, error) {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("session: generate secret: %w", err)
		}
	}
	return &Manager{
		secret:   secret,
		ttl:      ttl,
		sessions: make(map[string]*Record),
	}, nil
}

// CreateToken issues a new reconnect token for playerName.
func (m *Manager) CreateToken(playerName, connectionID, address string) (token string, expiresAt time.Time, err error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", time.Time{}, fmt.Errorf("session: generate nonce: %w", err)
	}

	expiresAt = time.Now().Add(m.ttl)
	p := payload{
		PlayerName:   strings.ToLower(playerName),
		ConnectionID: connectionID,
		Address:      address,
		ExpiresAt:    expiresAt.Unix(),
		Nonce:        base64.RawURLEncoding.EncodeToString(nonce),
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("session: marshal payload: %w", err)
	}

	encodedPayload := base64.RawURLEncoding.EncodeToString(raw)
	sig := m.sign(encodedPayload)
	token = encodedPayload + "." + sig

	m.mu.Lock()
	m.sessions[token] = &Record{
		PlayerName:   p.PlayerName,
		ConnectionID: connectionID,
		Address:      address,
		ExpiresAt:    expiresAt,
		Nonce:        p.Nonce,
	}
	m.mu.Unlock()

	return token, expiresAt, nil
}

func (m *Manager) sign(encodedPayload string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(encodedPayload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Validate checks a token's signature, active-session membership, expiry,
// and (if addr is non-empty) the bound address. It returns the session
// record on success.
func (m *Manager) Validate(token, addr string) (*Record, error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("session: malformed token")
	}
	encodedPayload, sig := parts[0], parts[1]

	expected := m.sign(encodedPayload)
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return nil, fmt.Errorf("session: invalid signature")
	}

	m.mu.Lock()
	rec, ok := m.sessions[token]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("session: session not found")
	}

	if time.Now().After(rec.ExpiresAt) {
		m.mu.Lock()
		delete(m.sessions, token)
		m.mu.Unlock()
		return nil, fmt.Errorf("session: expired")
	}

	if addr != "" && rec.Address != addr {
		return nil, fmt.Errorf("session: address mismatch")
	}

	return rec, nil
}

// Invalidate removes a single token from the active-sessions map.
func (m *Manager) Invalidate(token string) {
	m.mu.Lock()
	delete(m.sessions, token)
	m.mu.Unlock()
}

// InvalidatePlayer drops every session whose lowercased player name matches
// playerName.
func (m *Manager) InvalidatePlayer(playerName string) {
	lower := strings.ToLower(playerName)
	m.mu.Lock()
	defer m.mu.Unlock()
	for token, rec := range m.sessions {
		if rec.PlayerName == lower {
			delete(m.sessions, token)
		}
	}
}

// Sweep removes every expired session. It's meant to be called
// periodically by a caller-owned ticker.
func (m *Manager) Sweep() int {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for token, rec := range m.sessions {
		if now.After(rec.ExpiresAt) {
			delete(m.sessions, token)
			removed++
		}
	}
	return removed
}

// ActiveCount returns the number of sessions currently tracked, expired or
// not (a Sweep call is needed to reflect expiry).
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
