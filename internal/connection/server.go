package connection

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/emberwood/driver/internal/metrics"
)

// RateLimiter applies a per-IP token-bucket limit to handshake attempts,
// following internal/relay/bandwidth.go's RateLimiter shape (same
// mutex-guarded map-of-limiters, same stale-entry eviction loop),
// generalized from HTTP request throttling to WebSocket handshake
// throttling.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	rate     rate.Limit
	burst    int
}

type ipLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter builds a limiter allowing perMinute handshakes per IP,
// with burst allowed immediately.
func NewRateLimiter(perMinute float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*ipLimiter),
		rate:     rate.Limit(perMinute / 60.0),
		burst:    burst,
	}
	go rl.evictLoop()
	return rl
}

func (rl *RateLimiter) evictLoop() {
	for range time.Tick(5 * time.Minute) {
		rl.mu.Lock()
		for ip, l := range rl.limiters {
			if time.Since(l.lastSeen) > 10*time.Minute {
				delete(rl.limiters, ip)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[ip]
	if !ok {
		l = &ipLimiter{lim: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[ip] = l
	}
	l.lastSeen = time.Now()
	return l.lim
}

// Allow reports whether ip may attempt another handshake right now.
func (rl *RateLimiter) Allow(ip string) bool {
	return rl.getLimiter(ip).Allow()
}

// Server accepts inbound WebSocket connections and hands each one, in its
// own goroutine, to a caller-supplied handler.
type Server struct {
	log     *slog.Logger
	m       *metrics.Metrics
	limiter *RateLimiter
	handler func(*Connection)

	mu       sync.Mutex
	listener net.Listener
}

// NewServer builds a Server. handler is invoked once per accepted
// connection, after the handshake completes, with the connection in state
// Unbound.
func NewServer(log *slog.Logger, m *metrics.Metrics, limiter *RateLimiter, handler func(*Connection)) *Server {
	return &Server{log: log, m: m, limiter: limiter, handler: handler}
}

// Start listens on addr and serves the WebSocket upgrade endpoint until the
// listener is closed.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleUpgrade)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	if s.log != nil {
		s.log.Info("connection server listening", "addr", addr)
	}
	return http.Serve(ln, mux)
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		return ln.Close()
	}
	return nil
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if s.limiter != nil && !s.limiter.Allow(ip) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		if s.log != nil {
			s.log.Warn("websocket accept failed", "remote", ip, "error", err)
		}
		return
	}

	conn := New(ws, ip, s.log)
	conn.MarkUnbound()
	if s.m != nil {
		s.m.IncConnectionsAccepted()
	}

	if s.handler != nil {
		s.handler(conn)
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for j := 0; j < len(xff); j++ {
			if xff[j] == ',' {
				return xff[:j]
			}
		}
		return xff
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
