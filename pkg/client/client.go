// Package client implements the client half of the room sync contract: the
// connection lifecycle state machine, exponential reconnect backoff, and the
// reducer that applies streamed events on top of a subscribe-time snapshot.
//
// The client never trusts cached state across a gap: every (re)subscription
// yields a fresh snapshot, and any missed events are subsumed by it.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scrimspot/roomsync-backend/internal/engine"
	"github.com/scrimspot/roomsync-backend/internal/types"
)

var ErrRetriesExhausted = errors.New("reconnect retries exhausted, offline with stale data")
var ErrNotSubscribed = errors.New("not subscribed to the room")

type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateAuthenticating
	StateSubscribed
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateSubscribed:
		return "subscribed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RoomView is the client's local copy of the room: a snapshot plus every
// in-order event applied since.
type RoomView struct {
	Version int64
	State   engine.State
}

// Pending is one client-issued mutation awaiting the server's ack. Cleared on
// ack, rejection, or reconnect (the fresh snapshot supersedes it).
type Pending struct {
	SyncID    string
	Type      string
	CreatedAt time.Time
}

type Config struct {
	URL        string // ws endpoint, e.g. ws://host/ws
	Credential string
	RoomID     string

	BaseDelay         time.Duration // first reconnect delay; default 1s
	MaxDelay          time.Duration // backoff cap; default 30s
	MaxRetries        int           // consecutive failures before StateFailed; default 10
	HeartbeatInterval time.Duration // default 30s
	DialTimeout       time.Duration // default 5s

	Logger *zap.Logger

	// OnUpdate observes every applied view change. All local consumers hang
	// off this one subscription; none open their own.
	OnUpdate func(RoomView)
	// OnStateChange observes lifecycle transitions.
	OnStateChange func(ConnState)
	// OnReject observes command rejections (e.g. SlotTaken). The conflict is
	// surfaced as-is; the client never retries a nearby slot on its own.
	OnReject func(syncID, code, message string)
}

func (c *Config) defaults() {
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 10
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

type Client struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	state   ConnState
	view    RoomView
	pending map[string]Pending
	conn    *websocket.Conn
}

func New(cfg Config) *Client {
	cfg.defaults()
	return &Client{
		cfg:     cfg,
		logger:  cfg.Logger,
		state:   StateDisconnected,
		pending: make(map[string]Pending),
	}
}

func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) View() RoomView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

func (c *Client) PendingRequests() []Pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Pending, 0, len(c.pending))
	for _, p := range c.pending {
		out = append(out, p)
	}
	return out
}

// Backoff returns the delay before reconnect attempt n (0-based): base
// doubling per attempt, capped at max. With the defaults: 1s, 2s, 4s, 8s,
// 16s, 30s, 30s, …
func Backoff(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Run drives the connection until ctx is done or the retry budget is spent.
// A session that reaches Subscribed resets the backoff counter.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		c.setState(StateConnecting)
		subscribed, err := c.session(ctx)
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return ctx.Err()
		}
		if subscribed {
			attempt = 0
		}
		attempt++
		if attempt > c.cfg.MaxRetries {
			c.setState(StateFailed)
			return ErrRetriesExhausted
		}

		delay := Backoff(c.cfg.BaseDelay, c.cfg.MaxDelay, attempt-1)
		c.logger.Warn("connection lost, scheduling reconnect",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))
		c.setState(StateDisconnected)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// session runs one connection to completion. Returns whether it ever reached
// Subscribed (which is what resets backoff).
func (c *Client) session(ctx context.Context) (subscribed bool, err error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	conn, _, err := websocket.Dial(dialCtx, c.cfg.URL, nil)
	cancel()
	if err != nil {
		return false, err
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	sessCtx, sessCancel := context.WithCancel(ctx)
	defer sessCancel()

	c.mu.Lock()
	c.conn = conn
	// Anything still pending from the previous connection is superseded by
	// the snapshot this session will fetch.
	c.pending = make(map[string]Pending)
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	c.setState(StateAuthenticating)
	if err := c.write(sessCtx, types.ClientMessage{Type: "authenticate", Credential: c.cfg.Credential}); err != nil {
		return false, err
	}

	go c.heartbeatLoop(sessCtx)

	for {
		_, data, err := conn.Read(sessCtx)
		if err != nil {
			return subscribed, err
		}
		var msg types.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("bad frame from server", zap.Error(err))
			continue
		}
		reachedSubscribed, err := c.handle(sessCtx, msg)
		if err != nil {
			return subscribed, err
		}
		subscribed = subscribed || reachedSubscribed
	}
}

func (c *Client) handle(ctx context.Context, msg types.ServerMessage) (subscribed bool, err error) {
	switch msg.Type {
	case "authenticated":
		return false, c.write(ctx, types.ClientMessage{Type: "subscribe_room", RoomID: c.cfg.RoomID})

	case "error":
		code, text := "", ""
		if msg.Error != nil {
			code, text = msg.Error.Code, msg.Error.Message
		}
		if msg.SyncID != "" {
			c.resolvePending(msg.SyncID)
			if c.cfg.OnReject != nil {
				c.cfg.OnReject(msg.SyncID, code, text)
			}
			return false, nil
		}
		// A rejection without a sync id is fatal for the session
		// (unauthenticated, expired session).
		return false, errors.New("server error: " + code)

	default:
		return c.apply(ctx, msg), nil
	}
}

// apply is the reducer step: snapshots replace the view, in-order events
// advance it, a gap forces a resubscribe instead of guessing.
func (c *Client) apply(ctx context.Context, msg types.ServerMessage) (subscribed bool) {
	if msg.State == nil || msg.RoomID != c.cfg.RoomID {
		if msg.SyncID != "" {
			c.resolvePending(msg.SyncID)
		}
		return false
	}
	if msg.SyncID != "" {
		c.resolvePending(msg.SyncID)
	}

	next, applied, resync := Reduce(c.View(), msg)
	if resync {
		c.logger.Warn("version gap detected, resubscribing",
			zap.Int64("have", c.View().Version),
			zap.Int64("got", msg.Version))
		if err := c.write(ctx, types.ClientMessage{Type: "subscribe_room", RoomID: c.cfg.RoomID}); err != nil {
			c.logger.Warn("resubscribe failed", zap.Error(err))
		}
		return false
	}
	if !applied {
		return false
	}

	c.mu.Lock()
	c.view = next
	c.mu.Unlock()
	if msg.Type == "room_snapshot" {
		c.setState(StateSubscribed)
		subscribed = true
	}
	if c.cfg.OnUpdate != nil {
		c.cfg.OnUpdate(next)
	}
	return subscribed
}

// Reduce applies one server frame to a local view. Snapshots always replace.
// Events apply only in exact version order; duplicates (at-least-once
// delivery) are dropped, and anything past a gap demands a resync.
func Reduce(view RoomView, msg types.ServerMessage) (next RoomView, applied, resync bool) {
	if msg.State == nil {
		return view, false, false
	}
	if msg.Type == "room_snapshot" {
		return RoomView{Version: msg.Version, State: *msg.State}, true, false
	}
	switch {
	case msg.Version <= view.Version:
		return view, false, false // duplicate or stale
	case msg.Version == view.Version+1:
		return RoomView{Version: msg.Version, State: *msg.State}, true, false
	default:
		return view, false, true
	}
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.write(ctx, types.ClientMessage{Type: "heartbeat"}); err != nil {
				return
			}
		}
	}
}

// JoinSlot requests a slot; team/slot of 0 means no preference.
func (c *Client) JoinSlot(ctx context.Context, team, slot int) (string, error) {
	return c.command(ctx, types.ClientMessage{Type: "join_slot", RoomID: c.cfg.RoomID, Team: team, Slot: slot})
}

func (c *Client) MoveSlot(ctx context.Context, team, slot int) (string, error) {
	return c.command(ctx, types.ClientMessage{Type: "move_slot", RoomID: c.cfg.RoomID, Team: team, Slot: slot})
}

func (c *Client) LeaveSlot(ctx context.Context) (string, error) {
	return c.command(ctx, types.ClientMessage{Type: "leave_slot", RoomID: c.cfg.RoomID})
}

func (c *Client) command(ctx context.Context, msg types.ClientMessage) (string, error) {
	c.mu.Lock()
	if c.state != StateSubscribed || c.conn == nil {
		c.mu.Unlock()
		return "", ErrNotSubscribed
	}
	msg.SyncID = uuid.NewString()
	c.pending[msg.SyncID] = Pending{SyncID: msg.SyncID, Type: msg.Type, CreatedAt: time.Now()}
	c.mu.Unlock()

	if err := c.write(ctx, msg); err != nil {
		c.resolvePending(msg.SyncID)
		return "", err
	}
	return msg.SyncID, nil
}

func (c *Client) resolvePending(syncID string) {
	c.mu.Lock()
	delete(c.pending, syncID)
	c.mu.Unlock()
}

func (c *Client) write(ctx context.Context, msg types.ClientMessage) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotSubscribed
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, payload)
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed && c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(s)
	}
}
