// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

package coord

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chorus-foundation/chorus/lib/clock"
)

// masterMarker suffixes a CONNECT_ACK version payload when the sender
// is the current master.
const masterMarker = "+"

// Role is an instance's position in the deployment.
type Role int

const (
	// RoleUninitialized instances have announced themselves but not
	// yet received replicated state or self-promoted. They must not
	// act on behalf of the deployment.
	RoleUninitialized Role = iota

	// RoleFollower instances mirror state changes and stand by to
	// take over when the master goes silent.
	RoleFollower

	// RoleMaster is the single instance that executes user-visible
	// actions and broadcasts confirmations.
	RoleMaster
)

func (r Role) String() string {
	switch r {
	case RoleUninitialized:
		return "uninitialized"
	case RoleFollower:
		return "follower"
	case RoleMaster:
		return "master"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// Action is a side-effecting operation routed through EnsureDisplay.
// Its result, if the call binds a return name, must be nil, an int,
// int64, float64, or string.
type Action func(ctx context.Context) (any, error)

// DisplayOptions tunes one EnsureDisplay call.
type DisplayOptions struct {
	// Window is how long a follower waits for the master's
	// confirmation before assuming it failed. Zero means the
	// coordinator's default.
	Window time.Duration

	// ReturnName, when non-empty, names the action's result in the
	// confirmation payload so every instance binds the same value.
	ReturnName string
}

// Config configures a Coordinator. Self, Transport, Database, and
// Workspace are required.
type Config struct {
	// Self is this instance's protocol identity. Must be >= 0.
	Self InstanceID

	// Version is this build's monotonically increasing number,
	// advertised in CONNECT and CONNECT_ACK.
	Version int

	Transport Transport
	Database  DatabaseStore
	Workspace WorkspaceStore

	// Clock defaults to the real clock.
	Clock clock.Clock

	// Logger defaults to discard.
	Logger *slog.Logger

	// PromoteTimeout is how long a booting instance waits for a
	// master's CONNECT_ACK before promoting itself. Defaults to 3s.
	PromoteTimeout time.Duration

	// EnsureWindow is the default follower confirmation window.
	// Defaults to 2s.
	EnsureWindow time.Duration

	// HubMaxAge bounds hub retention. Defaults to 5m.
	HubMaxAge time.Duration

	// OnStaleVersion fires when a peer advertises a newer build
	// number than ours. The bot installs a hook here that fetches the
	// new build and restarts the process.
	OnStaleVersion func(ctx context.Context, peerVersion int)
}

// Coordinator is the per-instance protocol state machine. Feed it
// every message from the coordination channel via HandleEnvelope;
// route every must-happen-once action through EnsureDisplay.
//
// All methods are safe for concurrent use. The mutex is held only
// across state transitions, never across transport sends or action
// execution, so handlers interleave the way the protocol expects.
type Coordinator struct {
	self           InstanceID
	version        int
	transport      Transport
	database       DatabaseStore
	workspace      WorkspaceStore
	clk            clock.Clock
	logger         *slog.Logger
	promoteTimeout time.Duration
	ensureWindow   time.Duration
	onStaleVersion func(ctx context.Context, peerVersion int)

	mu             sync.Mutex
	role           Role
	initialized    bool
	master         InstanceID // Broadcast when unknown
	members        map[InstanceID]struct{}
	bindings       map[string]any
	hub            *Hub
	callbacks      []*pendingCallback
	failoverActive bool
}

// pendingCallback is one scheduled timeout: either the boot
// self-promotion timer or an EnsureDisplay backup. expire is what
// executing it means; it runs when the timer fires and again when a
// failover drains the registry.
type pendingCallback struct {
	timer     *clock.Timer
	cancelled bool
	expire    func(ctx context.Context)
}

// New validates cfg and returns an idle Coordinator in the
// uninitialized role. Call Connect to join the deployment.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Self < 0 {
		return nil, fmt.Errorf("coord: instance id %d must be >= 0", cfg.Self)
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("coord: Transport is required")
	}
	if cfg.Database == nil {
		return nil, fmt.Errorf("coord: Database is required")
	}
	if cfg.Workspace == nil {
		return nil, fmt.Errorf("coord: Workspace is required")
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	promoteTimeout := cfg.PromoteTimeout
	if promoteTimeout <= 0 {
		promoteTimeout = 3 * time.Second
	}
	ensureWindow := cfg.EnsureWindow
	if ensureWindow <= 0 {
		ensureWindow = 2 * time.Second
	}
	hubMaxAge := cfg.HubMaxAge
	if hubMaxAge <= 0 {
		hubMaxAge = 5 * time.Minute
	}

	return &Coordinator{
		self:           cfg.Self,
		version:        cfg.Version,
		transport:      cfg.Transport,
		database:       cfg.Database,
		workspace:      cfg.Workspace,
		clk:            clk,
		logger:         logger.With("instance", cfg.Self),
		promoteTimeout: promoteTimeout,
		ensureWindow:   ensureWindow,
		onStaleVersion: cfg.OnStaleVersion,
		master:         Broadcast,
		members:        make(map[InstanceID]struct{}),
		bindings:       make(map[string]any),
		hub:            NewHub(clk, hubMaxAge),
	}, nil
}

// Connect announces this instance to the deployment and arms the
// self-promotion timer. If no master answers within the promote
// timeout, this instance takes charge of an apparently empty
// deployment.
func (c *Coordinator) Connect(ctx context.Context) error {
	c.logger.Info("announcing to deployment", "version", c.version)
	err := c.send(ctx, Envelope{
		To:      Broadcast,
		Kind:    KindConnect,
		Payload: strconv.Itoa(c.version),
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	p := &pendingCallback{}
	p.expire = func(ctx context.Context) {
		// Promote only while still waiting for a first answer; a
		// stale boot entry swept up by a later failover drain must
		// not re-promote an instance that has since joined.
		c.mu.Lock()
		waiting := c.role == RoleUninitialized
		c.mu.Unlock()
		if waiting {
			c.selfPromote(ctx)
		}
	}
	p.timer = c.clk.AfterFunc(c.promoteTimeout, func() {
		c.fireCallback(context.Background(), p)
	})
	c.callbacks = append(c.callbacks, p)
	return nil
}

// HandleEnvelope processes one message from the coordination channel.
// Messages from self, or addressed to a different instance, are
// ignored. Handlers are idempotent: redelivery and reordering are
// normal on this channel.
func (c *Coordinator) HandleEnvelope(ctx context.Context, env Envelope) error {
	if env.From == c.self {
		return nil
	}
	if env.To != Broadcast && env.To != c.self {
		return nil
	}

	c.logger.Debug("protocol message",
		"from", env.From, "kind", env.Kind, "payload", env.Payload,
		"blob_bytes", len(env.Blob))

	c.mu.Lock()
	c.hub.Record(env.Kind, env.Payload)
	c.mu.Unlock()

	switch env.Kind {
	case KindConnect:
		return c.handleConnect(ctx, env)
	case KindConnectAck:
		return c.handleConnectAck(ctx, env)
	case KindLetMaster:
		c.handleLetMaster(env)
		return nil
	case KindEnsureDisplay:
		return c.handleEnsureDisplay(env)
	case KindSendDB:
		return c.handleSendDB(ctx, env)
	case KindSendWorkspace:
		return c.handleSendWorkspace(ctx, env)
	case KindSendDBAck, KindSendWorkspaceAck:
		// Acks matter only as hub entries; recorded above.
		return nil
	default:
		return fmt.Errorf("coord: unhandled message kind %q", env.Kind)
	}
}

// handleConnect answers a booting peer. Everyone acks with their
// version; the master's ack carries the marker and is followed by full
// state replication so the newcomer can initialize.
func (c *Coordinator) handleConnect(ctx context.Context, env Envelope) error {
	peerVersion := c.parsePeerVersion(env)

	c.mu.Lock()
	c.members[env.From] = struct{}{}
	isMaster := c.role == RoleMaster
	c.mu.Unlock()

	ack := strconv.Itoa(c.version)
	if isMaster {
		ack += masterMarker
	}
	if err := c.send(ctx, Envelope{To: env.From, Kind: KindConnectAck, Payload: ack}); err != nil {
		return err
	}

	if isMaster {
		// Replication is best effort: a failure here leaves the
		// newcomer uninitialized and it will announce again.
		if db, err := c.database.Snapshot(ctx); err != nil {
			c.logger.Error("database snapshot failed", "error", err)
		} else if err := c.send(ctx, Envelope{To: env.From, Kind: KindSendDB, Blob: db}); err != nil {
			return err
		}
		if ws, err := c.workspace.Snapshot(ctx); err != nil {
			c.logger.Error("workspace snapshot failed", "error", err)
		} else if err := c.send(ctx, Envelope{To: env.From, Kind: KindSendWorkspace, Blob: ws}); err != nil {
			return err
		}
	}

	c.checkPeerVersion(ctx, env.From, peerVersion)
	return nil
}

// handleConnectAck learns about a live peer, and when the ack carries
// the master marker, adopts that peer as master and stands down the
// boot self-promotion timer.
func (c *Coordinator) handleConnectAck(ctx context.Context, env Envelope) error {
	payload := env.Payload
	fromMaster := strings.HasSuffix(payload, masterMarker)
	if fromMaster {
		payload = strings.TrimSuffix(payload, masterMarker)
	}
	peerVersion := c.parsePeerVersion(Envelope{From: env.From, Payload: payload})

	c.mu.Lock()
	c.members[env.From] = struct{}{}
	if fromMaster {
		c.members[c.self] = struct{}{}
		c.master = env.From
		if c.role == RoleUninitialized {
			c.role = RoleFollower
		}
		c.cancelCallbacksLocked()
		c.logger.Info("master answered", "master", env.From)
	}
	c.mu.Unlock()

	c.checkPeerVersion(ctx, env.From, peerVersion)
	return nil
}

// handleLetMaster records an explicit mastership claim. A master
// receiving one demotes itself: the claimant saw this instance as
// failed, and two masters is worse than a handover glitch.
func (c *Coordinator) handleLetMaster(env Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.role == RoleMaster {
		c.logger.Warn("yielding mastership", "to", env.From)
	}
	c.role = RoleFollower
	c.master = env.From
	c.members[env.From] = struct{}{}
}

// handleEnsureDisplay is the confirmation broadcast: the master did
// the thing. Cancel every pending backup, bind the named result if one
// rode along, and adopt the sender as master if it differs from our
// record — confirmations come only from something acting as master.
func (c *Coordinator) handleEnsureDisplay(env Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelCallbacksLocked()

	if env.Payload != "" {
		name, value, err := DecodeNamedValue(env.Payload)
		if err != nil {
			return err
		}
		c.bindings[name] = value
	}

	if c.master != env.From {
		if c.master != Broadcast {
			c.logger.Warn("confirmation from unexpected master",
				"recorded", c.master, "actual", env.From)
			delete(c.members, c.master)
		}
		c.master = env.From
		c.members[env.From] = struct{}{}
	}
	return nil
}

// handleSendDB replaces the local durable store with the sender's
// snapshot. The ack is withheld on failure so the sender never
// believes a replica it does not have.
func (c *Coordinator) handleSendDB(ctx context.Context, env Envelope) error {
	if env.Blob == nil {
		return fmt.Errorf("coord: SEND_DB from %s has no attachment", env.From)
	}
	if err := c.database.Replace(ctx, env.Blob); err != nil {
		return fmt.Errorf("coord: applying database snapshot from %s: %w", env.From, err)
	}
	c.logger.Info("database snapshot applied", "from", env.From, "bytes", len(env.Blob))
	return c.send(ctx, Envelope{To: env.From, Kind: KindSendDBAck})
}

// handleSendWorkspace applies the sender's workspace snapshot. Success
// marks this instance initialized; failure leaves it uninitialized and
// unacked.
func (c *Coordinator) handleSendWorkspace(ctx context.Context, env Envelope) error {
	if env.Blob == nil {
		return fmt.Errorf("coord: SEND_WORKSPACE from %s has no attachment", env.From)
	}
	if err := c.workspace.Apply(ctx, env.Blob); err != nil {
		return fmt.Errorf("coord: applying workspace snapshot from %s: %w", env.From, err)
	}

	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()

	c.logger.Info("workspace snapshot applied", "from", env.From, "bytes", len(env.Blob))
	return c.send(ctx, Envelope{To: env.From, Kind: KindSendWorkspaceAck})
}

// EnsureDisplay routes a must-happen-once action. The master executes
// it and broadcasts confirmation (with the bound result when
// opts.ReturnName is set). A follower first checks whether a
// confirmation already arrived within the window; if not, it schedules
// a backup that fires the failover procedure when the window passes
// silently.
//
// On the master path the action's error is returned and nothing is
// broadcast; followers will time out and take over, which is the
// intended recovery for a master that can no longer act.
func (c *Coordinator) EnsureDisplay(ctx context.Context, action Action, opts DisplayOptions) error {
	window := opts.Window
	if window <= 0 {
		window = c.ensureWindow
	}

	c.mu.Lock()
	if c.role == RoleMaster {
		c.mu.Unlock()
		return c.executeAndConfirm(ctx, action, opts.ReturnName)
	}

	if c.hub.SeenWithin(KindEnsureDisplay, window, opts.ReturnName) {
		c.mu.Unlock()
		return nil
	}

	p := &pendingCallback{}
	p.expire = func(ctx context.Context) { c.backupExpired(ctx, action, opts) }
	p.timer = c.clk.AfterFunc(window, func() {
		c.fireCallback(context.Background(), p)
	})
	c.callbacks = append(c.callbacks, p)
	c.mu.Unlock()
	return nil
}

// executeAndConfirm is the master half of EnsureDisplay.
func (c *Coordinator) executeAndConfirm(ctx context.Context, action Action, returnName string) error {
	result, err := action(ctx)
	if err != nil {
		return err
	}

	payload := ""
	if returnName != "" {
		value := normalizeValue(result)
		c.mu.Lock()
		c.bindings[returnName] = value
		c.mu.Unlock()
		payload = EncodeNamedValue(returnName, value)
	}
	return c.send(ctx, Envelope{To: Broadcast, Kind: KindEnsureDisplay, Payload: payload})
}

// backupExpired runs when a follower's confirmation window passes with
// no word from the master: the failover procedure. The first expiry
// fixes membership — evict the recorded master, or the numerically
// largest member as a best-effort guess when no master is on record —
// promotes self if self is now the largest member, then drains every
// pending callback (including the one that fired) by re-invoking its
// action against the corrected state. The failoverActive guard keeps
// the drained callbacks from re-entering the membership fix.
func (c *Coordinator) backupExpired(ctx context.Context, action Action, opts DisplayOptions) {
	c.mu.Lock()
	if c.failoverActive {
		c.mu.Unlock()
		if err := c.EnsureDisplay(ctx, action, opts); err != nil {
			c.logger.Error("backup action failed", "error", err)
		}
		return
	}
	c.failoverActive = true

	if c.master != Broadcast && c.master != c.self {
		c.logger.Warn("master went silent, evicting", "master", c.master)
		delete(c.members, c.master)
		c.master = Broadcast
	} else if c.master == Broadcast && len(c.members) > 0 {
		victim := c.largestMemberLocked()
		c.logger.Warn("no master on record, evicting largest member", "member", victim)
		delete(c.members, victim)
	}

	promote := len(c.members) > 0 &&
		c.largestMemberLocked() == c.self &&
		c.role != RoleMaster

	drained := c.callbacks
	c.callbacks = nil
	for _, p := range drained {
		p.cancelled = true
		if p.timer != nil {
			p.timer.Stop()
		}
	}
	c.mu.Unlock()

	if promote {
		c.selfPromote(ctx)
	}
	for _, p := range drained {
		p.expire(ctx)
	}

	c.mu.Lock()
	c.failoverActive = false
	c.mu.Unlock()
}

// selfPromote makes this instance the master and announces the claim.
// No-op when already master.
func (c *Coordinator) selfPromote(ctx context.Context) {
	c.mu.Lock()
	if c.role == RoleMaster {
		c.mu.Unlock()
		return
	}
	c.role = RoleMaster
	c.initialized = true
	c.master = c.self
	c.members[c.self] = struct{}{}
	c.mu.Unlock()

	c.logger.Info("taking charge of deployment")
	if err := c.send(ctx, Envelope{To: Broadcast, Kind: KindLetMaster}); err != nil {
		c.logger.Error("mastership claim not sent", "error", err)
	}
}

// EvictInstance removes a peer from the membership view, typically
// because an operator ordered it to restart. Promotes self when the
// eviction leaves this instance as the largest member.
func (c *Coordinator) EvictInstance(ctx context.Context, id InstanceID) {
	c.mu.Lock()
	delete(c.members, id)
	if c.master == id {
		c.master = Broadcast
	}
	promote := len(c.members) > 0 &&
		c.largestMemberLocked() == c.self &&
		c.role != RoleMaster
	c.mu.Unlock()

	c.logger.Info("instance evicted", "evicted", id)
	if promote {
		c.selfPromote(ctx)
	}
}

func (c *Coordinator) fireCallback(ctx context.Context, p *pendingCallback) {
	c.mu.Lock()
	if p.cancelled {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	p.expire(ctx)
}

func (c *Coordinator) cancelCallbacksLocked() {
	for _, p := range c.callbacks {
		p.cancelled = true
		if p.timer != nil {
			p.timer.Stop()
		}
	}
	c.callbacks = nil
}

func (c *Coordinator) largestMemberLocked() InstanceID {
	largest := InstanceID(-1)
	for id := range c.members {
		if id > largest {
			largest = id
		}
	}
	return largest
}

// parsePeerVersion reads a version payload. Unparsable versions are
// logged and treated as 0, which never triggers a self-update.
func (c *Coordinator) parsePeerVersion(env Envelope) int {
	v, err := strconv.Atoi(env.Payload)
	if err != nil {
		c.logger.Warn("peer sent unparsable version",
			"from", env.From, "payload", env.Payload)
		return 0
	}
	return v
}

// checkPeerVersion fires the stale-version hook when a peer runs a
// newer build.
func (c *Coordinator) checkPeerVersion(ctx context.Context, from InstanceID, peerVersion int) {
	if peerVersion <= c.version || c.onStaleVersion == nil {
		return
	}
	c.logger.Warn("peer runs a newer build",
		"peer", from, "peer_version", peerVersion, "version", c.version)
	c.onStaleVersion(ctx, peerVersion)
}

// send stamps the sender id and posts the envelope.
func (c *Coordinator) send(ctx context.Context, env Envelope) error {
	env.From = c.self
	if err := c.transport.Send(ctx, env); err != nil {
		return fmt.Errorf("coord: sending %s to %s: %w", env.Kind, env.To, err)
	}
	return nil
}

// Role returns the current role.
func (c *Coordinator) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// Initialized reports whether this instance holds replicated state (or
// promoted itself) and may act on behalf of the deployment.
func (c *Coordinator) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// Master returns the recorded master, if any.
func (c *Coordinator) Master() (InstanceID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.master, c.master != Broadcast
}

// Members returns the membership view in ascending id order.
func (c *Coordinator) Members() []InstanceID {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]InstanceID, 0, len(c.members))
	for id := range c.members {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j] < ids[j-1]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
	return ids
}

// Binding returns a named value bound by a confirmation broadcast or a
// local Bind.
func (c *Coordinator) Binding(name string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.bindings[name]
	return v, ok
}

// Bind records a named value locally, normalized to the wire value
// domain. Used when applying a workspace snapshot and by handlers that
// track per-object chat message ids.
func (c *Coordinator) Bind(name string, value any) {
	v := normalizeValue(value)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings[name] = v
}

// Unbind forgets a named value. Unknown names are a no-op.
func (c *Coordinator) Unbind(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.bindings, name)
}

// BindingsWithPrefix returns a copy of every binding whose name starts
// with prefix. An empty prefix copies them all.
func (c *Coordinator) BindingsWithPrefix(prefix string) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any)
	for name, value := range c.bindings {
		if strings.HasPrefix(name, prefix) {
			out[name] = value
		}
	}
	return out
}

// Version returns this build's advertised number.
func (c *Coordinator) Version() int { return c.version }

// Self returns this instance's id.
func (c *Coordinator) Self() InstanceID { return c.self }

// PendingCallbacks returns the number of live scheduled callbacks.
func (c *Coordinator) PendingCallbacks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.callbacks)
}
