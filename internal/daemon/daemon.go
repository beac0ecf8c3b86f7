// Package daemon wires every subsystem into a running process: it opens the
// mudlib root, constructs the registry/permissions/scheduler/dispatch
// stack, starts the connection server, and drives the single cooperative
// goroutine's heartbeat tick. The Run(cfg) error shape (construct every
// long-lived service once, start its goroutines, select on an error
// channel vs. SIGTERM/SIGINT) follows internal/daemon/daemon.go's own
// bootstrap convention.
package daemon

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/emberwood/driver/internal/config"
	"github.com/emberwood/driver/internal/connection"
	"github.com/emberwood/driver/internal/dispatch"
	"github.com/emberwood/driver/internal/efun"
	"github.com/emberwood/driver/internal/hotreload"
	"github.com/emberwood/driver/internal/logging"
	"github.com/emberwood/driver/internal/metrics"
	"github.com/emberwood/driver/internal/permissions"
	"github.com/emberwood/driver/internal/registry"
	"github.com/emberwood/driver/internal/scheduler"
	"github.com/emberwood/driver/internal/session"
	"github.com/emberwood/driver/internal/shadow"
	"github.com/emberwood/driver/internal/store"
	"github.com/emberwood/driver/internal/vfs"
)

// HeartbeatInterval is the fixed tick period for the heartbeat ring and
// callout wheel, the conventional 2-second LPmud heartbeat.
const HeartbeatInterval = 2 * time.Second

// PlayerBlueprint and StartRoom are the mudlib-relative conventions a
// fresh login clones from and moves into.
const (
	PlayerBlueprint = "/std/player"
	StartRoom       = "/areas/start"
)

// sessionTTL is how long a reconnect token stays valid after it is issued
// at login or reconnect, and also how long onDisconnect keeps a dropped
// player active before cleaning up.
const sessionTTL = 5 * time.Minute

// evacuationNotice is sent to a player moved out of a room whose blueprint
// was deleted out from under them, before the move happens.
const evacuationNotice = "The room around you crumbles away. You are pulled into the void."

// timeSyncInterval is how often the core pushes a clock-sync frame on the
// time channel to every tracked connection, bound or not.
const timeSyncInterval = 30 * time.Second

// Daemon holds every long-lived service the process runs, assembled once
// at startup by Run.
type Daemon struct {
	log *slog.Logger

	driverCfg *config.DriverConfig
	gameCfg   *config.GameConfig

	fs          *vfs.FS
	store       *store.Store
	perms       *permissions.Table
	registry    *registry.Registry
	shadows     *shadow.Registry
	metrics     *metrics.Metrics
	scheduler   *scheduler.Scheduler
	reloader    *hotreload.Reloader
	sessions    *session.Manager
	connections *connection.Registry
	bridge      *efun.Bridge
	dispatcher  *dispatch.Dispatcher
	server      *connection.Server

	adminKey *ecdsa.PrivateKey
	started  time.Time
}

// Run assembles the daemon from cfg, starts every subsystem, and blocks
// until SIGTERM/SIGINT or a fatal subsystem error. It returns nil on a
// clean shutdown.
func Run(driverCfg *config.DriverConfig) error {
	if err := logging.Init(driverCfg.LogLevel, driverCfg.LogFile); err != nil {
		return fmt.Errorf("daemon: init logging: %w", err)
	}
	log := logging.With("daemon")

	d, err := build(log, driverCfg)
	if err != nil {
		return err
	}
	defer d.store.Close()
	defer d.reloader.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	errCh := make(chan error, 2)

	go d.runHeartbeat(ctx)
	go d.runSessionSweep(ctx)
	d.scheduleTimeSync()

	go func() {
		log.Info("connection server listening", "addr", driverCfg.ListenAddr)
		errCh <- d.server.Start(driverCfg.ListenAddr)
	}()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", d.metrics.Handler())
		mux.HandleFunc("/admin/status", d.requireAdmin(d.handleAdminStatus))
		mux.HandleFunc("/admin/reload", d.requireAdmin(d.handleAdminReload))
		log.Info("metrics listening", "addr", metricsAddr(driverCfg.ListenAddr))
		errCh <- http.ListenAndServe(metricsAddr(driverCfg.ListenAddr), mux)
	}()

	log.Info("driver started", "game", d.gameCfg.Name, "mudlib", driverCfg.MudlibRoot)

	select {
	case sig := <-sigCh:
		log.Info("received signal, shutting down", "signal", sig.String())
		cancel()
		d.server.Close()
		time.Sleep(time.Second)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			cancel()
			return fmt.Errorf("daemon: subsystem error: %w", err)
		}
	}
	return nil
}

// metricsAddr derives the metrics listen address: addr's host with port
// 9090, or ":9090" if addr contains no colon.
func metricsAddr(addr string) string {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return ":9090"
	}
	return addr[:idx] + ":9090"
}

func build(log *slog.Logger, driverCfg *config.DriverConfig) (*Daemon, error) {
	gameCfg, err := config.LoadGameConfig(driverCfg.MudlibRoot)
	if err != nil {
		return nil, fmt.Errorf("daemon: load game config: %w", err)
	}

	aclCfg, err := config.LoadACLConfig(driverCfg.MudlibRoot)
	if err != nil {
		return nil, fmt.Errorf("daemon: load acl config: %w", err)
	}

	fs, err := vfs.New(driverCfg.MudlibRoot)
	if err != nil {
		return nil, fmt.Errorf("daemon: init vfs: %w", err)
	}

	st, err := store.OpenInMudlib(driverCfg.MudlibRoot, driverCfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("daemon: open store: %w", err)
	}

	perms := permissions.NewTable(aclCfg)
	reg := registry.New()
	shadows := shadow.New()
	m := metrics.New("driver")

	sched := scheduler.New(logging.With("scheduler"), m, heartbeatDispatch)

	connections := connection.NewRegistry()

	reloader := hotreload.New(fs, reg, func(path string) {
		log.Warn("blueprint deleted, evacuating clones", "path", path)
	})
	reloader.SetPlayerNotifier(func(playerName string) {
		conn, ok := connections.FindConnectedPlayer(playerName)
		if !ok {
			return
		}
		if err := conn.SendLine(context.Background(), evacuationNotice); err != nil {
			log.Warn("evacuation notice delivery failed", "player", playerName, "error", err)
		}
	})

	sessions, err := session.NewManager(driverCfg.SessionSecret, sessionTTL)
	if err != nil {
		return nil, fmt.Errorf("daemon: init session manager: %w", err)
	}

	bridge := efun.New(logging.With("efun"), fs, reg, shadows, sched, reloader, perms)
	bridge.Sessions = sessions
	bridge.Connections = connections
	bridge.Store = st
	bridge.Metrics = m

	disp := dispatch.New(logging.With("dispatch"), bridge)
	commands, cmdErrs := dispatch.DiscoverCommands(fs, "/cmds")
	for _, e := range cmdErrs {
		log.Warn("command module failed to load", "error", e)
	}
	disp.LoadCommands(commands)

	limiter := connection.NewRateLimiter(30, 10)
	d := &Daemon{
		log:         log,
		driverCfg:   driverCfg,
		gameCfg:     gameCfg,
		fs:          fs,
		store:       st,
		perms:       perms,
		registry:    reg,
		shadows:     shadows,
		metrics:     m,
		scheduler:   sched,
		reloader:    reloader,
		sessions:    sessions,
		connections: connections,
		bridge:      bridge,
		dispatcher:  disp,
	}
	d.server = connection.NewServer(logging.With("connection"), m, limiter, d.handleConnection)
	d.started = startTime()

	if driverCfg.AdminKeyPEM != "" {
		key, err := session.ParseAdminKey(driverCfg.AdminKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("daemon: parse admin key: %w", err)
		}
		d.adminKey = key
	} else {
		log.Warn("no admin key configured, admin HTTP endpoints disabled")
	}

	if err := reloader.Watch(driverCfg.MudlibRoot); err != nil {
		log.Warn("hot reload watcher failed to start", "error", err)
	}

	return d, nil
}

// startTime stamps process start for uptime reporting. Wall-clock time is
// only ever read here, once, at startup.
func startTime() time.Time { return time.Now() }

// heartbeatDispatch looks up the Go closure stored under the "__heartbeat"
// property by a blueprint's constructor, and invokes it if present. Objects
// with no such property simply don't tick, satisfying SetHeartbeat's
// opt-in contract.
func heartbeatDispatch(obj *registry.Object) error {
	raw, ok := obj.GetProperty("__heartbeat")
	if !ok {
		return nil
	}
	fn, ok := raw.(func(*registry.Object) error)
	if !ok {
		return fmt.Errorf("daemon: __heartbeat property is not a heartbeat function")
	}
	return fn(obj)
}

func (d *Daemon) runHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			d.scheduler.Tick(now)
			if d.metrics != nil {
				d.metrics.SetCalloutsPending(d.scheduler.PendingCallouts())
			}
		}
	}
}

func (d *Daemon) runSessionSweep(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := d.sessions.Sweep(); n > 0 {
				d.log.Debug("swept expired sessions", "count", n)
			}
		}
	}
}

// scheduleTimeSync kicks off the recurring time-channel clock sync: a
// self-rescheduling callout on the heartbeat goroutine's scheduler, the
// same pattern onDisconnect uses for its one-shot grace-period timeout.
func (d *Daemon) scheduleTimeSync() {
	var tick func()
	tick = func() {
		d.broadcastTime()
		d.scheduler.CallOut(tick, timeSyncInterval)
	}
	d.scheduler.CallOut(tick, timeSyncInterval)
}

// broadcastTime pushes a TimeSync frame to every connection currently
// tracked, bound or not.
func (d *Daemon) broadcastTime() {
	env, err := connection.NewEnvelope(connection.ChannelTime, "sync", connection.TimeSync{
		UnixSeconds: time.Now().Unix(),
		TZAbbrev:    time.Now().Format("MST"),
	})
	if err != nil {
		d.log.Warn("build time sync envelope failed", "error", err)
		return
	}
	for _, c := range d.connections.All() {
		if err := c.Send(context.Background(), env); err != nil {
			d.log.Warn("time sync delivery failed", "connection", c.ID, "error", err)
		}
	}
}

// decodeInputLine extracts the command line from an inbound input-channel
// envelope. Malformed or non-input frames are ignored rather than closing
// the connection.
func decodeInputLine(raw []byte) (string, bool) {
	var env connection.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", false
	}
	if env.Channel != connection.ChannelInput {
		return "", false
	}
	var in connection.InputLine
	if err := json.Unmarshal(env.Payload, &in); err != nil {
		return "", false
	}
	return in.Line, true
}

// loginRequest is the payload of the first frame a connection must send.
type loginRequest struct {
	Name           string `json:"name"`
	ReconnectToken string `json:"reconnect_token,omitempty"`
}

type loginAccepted struct {
	Name           string `json:"name"`
	ReconnectToken string `json:"reconnect_token"`
}

// handleConnection is the Server's per-connection handler: it drives the
// login handshake, then reads lines until the socket closes.
func (d *Daemon) handleConnection(c *connection.Connection) {
	d.connections.Add(c)
	if d.metrics != nil {
		d.metrics.SetConnectionsActive(d.connections.Count())
	}

	ctx := context.Background()
	playerName, err := d.handshake(ctx, c)
	if err != nil {
		c.SendLine(ctx, "login failed: "+err.Error())
		d.connections.Remove(c)
		c.Close("login failed")
		return
	}

	d.log.Info("player connected", "player", playerName, "remote", c.RemoteAddr)

	for {
		raw, err := c.Read(ctx)
		if err != nil {
			break
		}
		line, ok := decodeInputLine(raw)
		if !ok {
			continue
		}
		if err := d.dispatcher.Dispatch(playerName, line); err != nil {
			d.log.Error("dispatch failed", "player", playerName, "error", err)
		}
	}

	d.onDisconnect(playerName, c)
	d.connections.Remove(c)
	if d.metrics != nil {
		d.metrics.SetConnectionsActive(d.connections.Count())
	}
	c.Close("connection closed")
}

// handshake reads the connection's first frame, resolves it to a bound
// player object (fresh clone or reconnect to an existing one), and returns
// the player's name once the connection is in state Bound.
func (d *Daemon) handshake(ctx context.Context, c *connection.Connection) (string, error) {
	raw, err := c.Read(ctx)
	if err != nil {
		return "", fmt.Errorf("read login frame: %w", err)
	}

	var env connection.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("malformed login envelope: %w", err)
	}
	if env.Channel != connection.ChannelInput || env.Type != "login" {
		return "", fmt.Errorf("expected an input/login frame, got %s/%s", env.Channel, env.Type)
	}
	var req loginRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return "", fmt.Errorf("malformed login payload: %w", err)
	}

	if req.ReconnectToken != "" {
		if rec, err := d.sessions.Validate(req.ReconnectToken, c.RemoteAddr); err == nil {
			return d.reconnect(ctx, c, rec.PlayerName)
		}
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return "", fmt.Errorf("missing player name")
	}
	return d.freshLogin(ctx, c, name)
}

func (d *Daemon) reconnect(ctx context.Context, c *connection.Connection, playerName string) (string, error) {
	d.bridge.TransferConnection(playerName, c)
	c.BindPlayer(playerName)

	token, _, err := d.sessions.CreateToken(playerName, c.ID, c.RemoteAddr)
	if err != nil {
		return "", fmt.Errorf("issue reconnect token: %w", err)
	}
	d.sendLoginAccepted(ctx, c, playerName, token)
	return playerName, nil
}

func (d *Daemon) freshLogin(ctx context.Context, c *connection.Connection, name string) (string, error) {
	d.perms.Bootstrap(name, false)

	if _, err := d.bridge.LoadObject(PlayerBlueprint); err != nil {
		return "", fmt.Errorf("load player blueprint: %w", err)
	}
	player, err := d.bridge.CloneObject(PlayerBlueprint)
	if err != nil {
		return "", fmt.Errorf("clone player object: %w", err)
	}
	player.SetProperty("name", name)

	var saved map[string]any
	if err := d.bridge.LoadPlayerData(name, &saved); err == nil {
		for k, v := range saved {
			player.SetProperty(k, v)
		}
	} else if err != efun.ErrPlayerNotFound {
		d.log.Warn("failed to load player save data", "player", name, "error", err)
	}

	room, err := d.bridge.LoadObject(StartRoom)
	if err != nil {
		return "", fmt.Errorf("load start room: %w", err)
	}
	if err := d.bridge.Move(player, room); err != nil {
		return "", fmt.Errorf("move player into start room: %w", err)
	}

	d.bridge.RegisterActivePlayer(name, player)
	d.bridge.BindPlayerToConnection(name, c)
	c.BindPlayer(name)

	token, _, err := d.sessions.CreateToken(name, c.ID, c.RemoteAddr)
	if err != nil {
		return "", fmt.Errorf("issue reconnect token: %w", err)
	}
	d.sendLoginAccepted(ctx, c, name, token)
	return name, nil
}

func (d *Daemon) sendLoginAccepted(ctx context.Context, c *connection.Connection, name, token string) {
	env, err := connection.NewEnvelope(connection.ChannelTerminal, "login_accepted", loginAccepted{
		Name:           name,
		ReconnectToken: token,
	})
	if err != nil {
		d.log.Error("marshal login_accepted", "error", err)
		return
	}
	if err := c.Send(ctx, env); err != nil {
		d.log.Error("send login_accepted", "player", name, "error", err)
	}
}

// onDisconnect persists the player's current state and keeps the player
// object active, and its reconnect token valid, for a quick reconnect.
// After sessionTTL, unless the player is bound to an open connection
// again, it drops the player from the active set and invalidates every
// session of that player.
func (d *Daemon) onDisconnect(playerName string, c *connection.Connection) {
	if playerName == "" {
		return
	}
	player, ok := d.bridge.FindActivePlayer(playerName)
	if ok {
		snapshot := make(map[string]any, len(player.Properties))
		for k, v := range player.Properties {
			snapshot[k] = v
		}
		if res := d.bridge.SavePlayer(playerName, snapshot); !res.Success {
			d.log.Error("save player on disconnect failed", "player", playerName, "error", res.Error)
		}
	}

	d.log.Info("player disconnected", "player", playerName, "remote", c.RemoteAddr)

	name := playerName
	d.bridge.CallOut(func() {
		if conn, ok := d.bridge.FindConnectedPlayer(name); ok && conn.State() != connection.Closed {
			return
		}
		d.bridge.UnregisterActivePlayer(name)
		d.sessions.InvalidatePlayer(name)
	}, sessionTTL)
}

// requireAdmin wraps h with ES256 bearer-token auth against d.adminKey's
// public half. Returns 503 if no admin key is configured, 401 on a missing
// or invalid token.
func (d *Daemon) requireAdmin(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.adminKey == nil {
			http.Error(w, "admin endpoints disabled", http.StatusServiceUnavailable)
			return
		}
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		claims, err := session.ValidateAdminJWT(&d.adminKey.PublicKey, token)
		if err != nil {
			http.Error(w, "invalid admin token", http.StatusUnauthorized)
			return
		}
		if permissions.Level(claims.Level) != permissions.Administrator {
			http.Error(w, "insufficient level", http.StatusForbidden)
			return
		}
		h(w, r)
	}
}

type adminStatusResponse struct {
	Game          string   `json:"game"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	ActivePlayers []string `json:"active_players"`
}

// handleAdminStatus reports game identity, process uptime, and the
// currently active player roster.
func (d *Daemon) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	resp := adminStatusResponse{
		Game:          d.gameCfg.Name,
		UptimeSeconds: int64(time.Since(d.started).Seconds()),
		ActivePlayers: d.bridge.ActivePlayerNames(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

type adminReloadRequest struct {
	Path string `json:"path"`
}

type adminReloadResponse struct {
	Path            string   `json:"path"`
	Success         bool     `json:"success"`
	Error           string   `json:"error,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
	RefreshedClones int      `json:"refreshed_clones"`
}

// handleAdminReload recompiles the blueprint or command module at the
// requested path and reports the outcome, the HTTP-facing counterpart to
// the in-game "update"/"rehash" privileged commands.
func (d *Daemon) handleAdminReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req adminReloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var result hotreload.UpdateResult
	if strings.HasPrefix(req.Path, "/cmds/") {
		result = d.bridge.ReloadCommand(req.Path)
	} else {
		result = d.bridge.ReloadObject(req.Path)
	}

	resp := adminReloadResponse{
		Path:            result.Path,
		Success:         result.Success,
		RefreshedClones: result.RefreshedClones,
	}
	if result.Error != nil {
		resp.Error = result.Error.Error()
	}
	for _, warn := range result.Warnings {
		resp.Warnings = append(resp.Warnings, warn.Message+" (line "+strconv.Itoa(warn.Line)+")")
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
