// Package room implements the per-project Room actor: the connection table, pending-request table, log bucket
// writer, usage counter, and idle alarm described by the bus's routing engine. A Room is single-threaded with
// respect to its own state — every mutation runs on the Room's own goroutine, reached only through its exported
// methods, the same way the teacher's Hub serializes state changes onto a single consumer goroutine rather than
// guarding a shared map with a mutex reachable from arbitrary callers.
package room

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/roombus/roombus-server/internal/logstore"
	"github.com/roombus/roombus-server/internal/usage"
	"github.com/roombus/roombus-server/internal/wire"
)

// Options configures the timing constants a Room enforces. Zero values fall back to the spec's defaults.
type Options struct {
	RequestTimeout   time.Duration
	IdleDelay        time.Duration
	AdminReplayLimit int
}

const (
	defaultRequestTimeout   = 30 * time.Second
	defaultIdleDelay        = 5 * time.Minute
	defaultAdminReplayLimit = 500
	adminReplayHours        = 25
)

// Room owns all state for a single projectId: its connection table, pending-request table, and idle alarm.
type Room struct {
	ProjectID string

	runtime *Connection
	agents  map[string]*Connection
	prods   map[string]*Connection
	admins  map[string]*Connection
	pending map[string]*PendingRequest

	lastActivity time.Time
	idleTimer    *time.Timer
	writtenHours map[string]struct{}

	logs  *logstore.Store
	usage *usage.Counter

	requestTimeout   time.Duration
	idleDelay        time.Duration
	adminReplayLimit int

	log zerolog.Logger

	actions chan func()
	stopped chan struct{}
}

// New constructs a Room for projectID and starts its event-loop goroutine. Callers must call Shutdown when the
// Room is no longer reachable from the registry.
func New(projectID string, logs *logstore.Store, usageCounter *usage.Counter, opts Options, logger zerolog.Logger) *Room {
	requestTimeout := opts.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	idleDelay := opts.IdleDelay
	if idleDelay <= 0 {
		idleDelay = defaultIdleDelay
	}
	replayLimit := opts.AdminReplayLimit
	if replayLimit <= 0 {
		replayLimit = defaultAdminReplayLimit
	}

	r := &Room{
		ProjectID:        projectID,
		agents:           make(map[string]*Connection),
		prods:            make(map[string]*Connection),
		admins:           make(map[string]*Connection),
		pending:          make(map[string]*PendingRequest),
		writtenHours:     make(map[string]struct{}),
		lastActivity:     time.Now(),
		logs:             logs,
		usage:            usageCounter,
		requestTimeout:   requestTimeout,
		idleDelay:        idleDelay,
		adminReplayLimit: replayLimit,
		log:              logger.With().Str("project_id", projectID).Logger(),
		actions:          make(chan func(), 64),
		stopped:          make(chan struct{}),
	}
	go r.run()
	r.armIdleAlarm()
	return r
}

func (r *Room) run() {
	for {
		select {
		case fn := <-r.actions:
			fn()
		case <-r.stopped:
			return
		}
	}
}

// call submits fn to the Room's event loop and blocks until it has run. Every exported method that touches Room
// state goes through call so that state is only ever mutated from the single run goroutine.
func (r *Room) call(fn func()) {
	done := make(chan struct{})
	select {
	case r.actions <- func() { fn(); close(done) }:
		select {
		case <-done:
		case <-r.stopped:
		}
	case <-r.stopped:
	}
}

// RegisterResult is returned by Register.
type RegisterResult struct {
	Connection *Connection
	Err        error
}

// WouldRejectRuntime reports whether admitting a new runtime connection right now would be rejected for violating
// the runtime-singleton rule, without mutating any state. The Front Router calls this before performing the
// protocol upgrade, since an HTTP 409 cannot be sent once the upgrade response has gone out.
func (r *Room) WouldRejectRuntime() bool {
	var reject bool
	r.call(func() {
		reject = r.runtime != nil && r.runtime.State == StateOpen
	})
	return reject
}

// Register admits a newly upgraded socket into the Room under role, applying the role admission policy from the
// routing engine. On success it returns the new Connection and sends it the "connected" envelope.
func (r *Room) Register(role string, transport Transport, meta Metadata) (*Connection, error) {
	var res RegisterResult
	r.call(func() {
		res.Connection, res.Err = r.register(role, transport, meta)
	})
	return res.Connection, res.Err
}

func (r *Room) register(role string, transport Transport, meta Metadata) (*Connection, error) {
	if !wire.ValidRole(role) {
		return nil, wire.ErrInvalidRole
	}

	conn := &Connection{
		ID:          uuid.NewString(),
		Role:        role,
		ProjectID:   r.ProjectID,
		Transport:   transport,
		State:       StateOpen,
		ConnectedAt: time.Now(),
		Meta:        meta,
	}

	switch wire.Role(role) {
	case wire.RoleRuntime:
		if r.runtime != nil && r.runtime.State == StateOpen {
			return nil, wire.ErrRuntimeSingleton
		}
		if r.runtime != nil {
			r.cancelPendingForRuntime(r.runtime.ID)
		}
		r.runtime = conn
	case wire.RoleAgent:
		r.agents[conn.ID] = conn
	case wire.RoleProd:
		r.prods[conn.ID] = conn
	case wire.RoleAdmin:
		r.admins[conn.ID] = conn
		r.replayHistoryTo(conn)
	}

	r.markActive()

	env := wire.Envelope{
		Type:      wire.TypeConnected,
		Timestamp: nowMillis(),
		ClientID:  conn.ID,
		ClientType: wire.Role(role),
		ProjectID: r.ProjectID,
		Message:   "connected",
	}
	r.sendTo(conn, env)
	return conn, nil
}

// HandleMessage processes one inbound frame from conn: parse, admin fan-out, log archival, then dispatch. A parse
// failure or a panic during dispatch does not escape to the caller; either becomes an "error" frame back to the
// sender.
func (r *Room) HandleMessage(conn *Connection, raw []byte) {
	r.call(func() {
		r.handleMessage(conn, raw)
	})
}

func (r *Room) handleMessage(conn *Connection, raw []byte) {
	env, err := wire.Decode(raw)
	if err != nil {
		r.sendTo(conn, wire.Envelope{
			Type:      wire.TypeError,
			Timestamp: nowMillis(),
			ProjectID: r.ProjectID,
			Message:   "invalid message format",
		})
		return
	}

	r.markActive()
	r.fanOutToAdmins(conn, raw, env)
	r.archive(conn, env, logstore.DirectionIncoming)
	r.recordUsage()

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Interface("panic", rec).Str("type", string(env.Type)).Msg("dispatch panic recovered")
			r.sendTo(conn, wire.Envelope{
				Type:      wire.TypeError,
				Timestamp: nowMillis(),
				ProjectID: r.ProjectID,
				RequestID: env.RequestID,
				Message:   "internal routing error",
			})
		}
	}()
	r.dispatch(conn, env)
}

// HandleClose removes conn from the Room's role maps and reacts to its departure per the routing engine.
func (r *Room) HandleClose(conn *Connection) {
	r.call(func() {
		r.handleClose(conn)
	})
}

func (r *Room) handleClose(conn *Connection) {
	conn.State = StateClosed

	switch wire.Role(conn.Role) {
	case wire.RoleRuntime:
		if r.runtime == conn {
			r.runtime = nil
		}
		r.cancelPendingForRuntime(conn.ID)
	case wire.RoleAgent:
		delete(r.agents, conn.ID)
	case wire.RoleProd:
		delete(r.prods, conn.ID)
	case wire.RoleAdmin:
		delete(r.admins, conn.ID)
	}

	r.markActive()
	r.rearmIdleAlarmIfIdle()
}

func (r *Room) markActive() {
	r.lastActivity = time.Now()
	r.cancelIdleAlarm()
}

func (r *Room) isIdle() bool {
	return (r.runtime == nil || r.runtime.State != StateOpen) && len(r.agents) == 0
}

func (r *Room) cancelIdleAlarm() {
	if r.idleTimer != nil {
		r.idleTimer.Stop()
		r.idleTimer = nil
	}
}

func (r *Room) rearmIdleAlarmIfIdle() {
	if r.isIdle() {
		r.armIdleAlarm()
	}
}

func (r *Room) armIdleAlarm() {
	r.idleTimer = time.AfterFunc(r.idleDelay, func() {
		r.call(r.fireIdleAlarm)
	})
}

func (r *Room) fireIdleAlarm() {
	if !r.isIdle() {
		return
	}
	for id := range r.pending {
		r.cancelPending(id)
	}

	hourKeys := make([]string, 0, len(r.writtenHours))
	for hk := range r.writtenHours {
		hourKeys = append(hourKeys, hk)
	}
	if r.logs != nil && len(hourKeys) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.logs.Compact(ctx, time.Now(), hourKeys); err != nil {
			r.log.Warn().Err(err).Msg("log compaction failed on idle alarm")
		}
	}
}

// Shutdown stops the Room's event loop, cancelling all pending requests and timers. Connections are not explicitly
// closed here. Registry.Evict and Registry.Shutdown call it when they remove the Room.
func (r *Room) Shutdown() {
	r.call(func() {
		r.cancelIdleAlarm()
		for id := range r.pending {
			r.cancelPending(id)
		}
	})
	close(r.stopped)
}

// sendTo encodes and delivers env to conn, evicting conn from its role map on delivery failure.
func (r *Room) sendTo(conn *Connection, env wire.Envelope) {
	payload, err := wire.Encode(env)
	if err != nil {
		r.log.Error().Err(err).Msg("encode envelope failed")
		return
	}
	if err := conn.send(payload); err != nil {
		r.log.Debug().Err(err).Str("conn_id", conn.ID).Msg("send failed, evicting connection")
		r.handleClose(conn)
	}
}

func (r *Room) archive(conn *Connection, env wire.Envelope, dir logstore.Direction) {
	if r.logs == nil {
		return
	}
	envelopeJSON, err := json.Marshal(env)
	if err != nil {
		return
	}
	entry := logstore.StoredLog{
		ID:          uuid.NewString(),
		Timestamp:   nowMillis(),
		MessageType: string(env.Type),
		Direction:   dir,
		Envelope:    envelopeJSON,
		ClientID:    conn.ID,
		ClientRole:  conn.Role,
		ProjectID:   r.ProjectID,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	hourKey, err := r.logs.Append(ctx, entry)
	if err != nil {
		r.log.Warn().Err(err).Msg("log archival failed")
		return
	}
	r.writtenHours[hourKey] = struct{}{}
}

func (r *Room) recordUsage() {
	if r.usage == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := r.usage.Record(ctx, r.ProjectID, time.Now()); err != nil {
		r.log.Warn().Err(err).Msg("usage recording failed")
	}
}

func (r *Room) fanOutToAdmins(sender *Connection, raw []byte, env wire.Envelope) {
	if len(r.admins) == 0 {
		return
	}
	decorated := env
	decorated.Meta = &wire.Meta{
		From:        sender.ID,
		ProjectID:   r.ProjectID,
		ForwardedAt: nowMillis(),
	}
	payload, err := wire.Encode(decorated)
	if err != nil {
		r.log.Error().Err(err).Msg("encode admin fan-out envelope failed")
		return
	}
	for id, admin := range r.admins {
		if admin.ID == sender.ID || admin.State != StateOpen {
			continue
		}
		if err := admin.send(payload); err != nil {
			delete(r.admins, id)
		}
	}
}

func (r *Room) replayHistoryTo(admin *Connection) {
	if r.logs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logsFound, err := r.logs.Replay(ctx, time.Now(), adminReplayHours, r.adminReplayLimit)
	if err != nil {
		r.log.Warn().Err(err).Msg("history replay failed")
		return
	}
	logsJSON, err := json.Marshal(logsFound)
	if err != nil {
		return
	}
	r.sendTo(admin, wire.Envelope{
		Type:      wire.TypeHistoricalLogs,
		Timestamp: nowMillis(),
		ProjectID: r.ProjectID,
		Count:     len(logsFound),
		Logs:      logsJSON,
	})
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// Snapshot is the payload returned by the Room's /status endpoint.
type Snapshot struct {
	ProjectID      string `json:"projectId"`
	RuntimeOpen    bool   `json:"runtimeOpen"`
	AgentCount     int    `json:"agentCount"`
	ProdCount      int    `json:"prodCount"`
	AdminCount     int    `json:"adminCount"`
	PendingCount   int    `json:"pendingCount"`
	LastActivityMs int64  `json:"lastActivityMs"`
	Idle           bool   `json:"idle"`
}

// Status returns a point-in-time snapshot of the Room's connection table.
func (r *Room) Status() Snapshot {
	var snap Snapshot
	r.call(func() {
		snap = Snapshot{
			ProjectID:      r.ProjectID,
			RuntimeOpen:    r.runtime != nil && r.runtime.State == StateOpen,
			AgentCount:     len(r.agents),
			ProdCount:      len(r.prods),
			AdminCount:     len(r.admins),
			PendingCount:   len(r.pending),
			LastActivityMs: r.lastActivity.UnixMilli(),
			Idle:           r.isIdle(),
		}
	})
	return snap
}
