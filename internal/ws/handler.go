package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/scrimspot/roomsync-backend/internal/auth"
	"github.com/scrimspot/roomsync-backend/internal/engine"
	"github.com/scrimspot/roomsync-backend/internal/hub"
	"github.com/scrimspot/roomsync-backend/internal/room"
	"github.com/scrimspot/roomsync-backend/internal/session"
	"github.com/scrimspot/roomsync-backend/internal/tournament"
	"github.com/scrimspot/roomsync-backend/internal/types"
)

const (
	// readTimeout is the transport-level backstop: clients heartbeat every
	// 30s, so a silent 90s means the peer is gone even if TCP says otherwise.
	readTimeout  = 90 * time.Second
	writeTimeout = 3 * time.Second
	submitWait   = 5 * time.Second
)

type Deps struct {
	Hub          *hub.Hub
	Registry     *session.Registry
	Verifier     *auth.Verifier
	Entitlements tournament.Entitlements
	Logger       *zap.Logger
}

func Handler(d Deps) http.HandlerFunc {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// In dev ONLY, you can loosen origin checks:
			// OriginPatterns: []string{"http://localhost:*", "http://127.0.0.1:*"},
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		c := &connection{
			deps:    d,
			conn:    conn,
			send:    make(chan types.ServerMessage, 16),
			updates: make(chan room.Update, 32),
			rooms:   make(map[string]*room.Room),
		}
		c.ctx, c.cancel = context.WithCancel(r.Context())
		defer c.teardown()

		go c.writeLoop()
		c.readLoop()
	}
}

// connection is the server side of one sync session. The reader goroutine
// owns all fields; the writer only consumes the two channels.
type connection struct {
	deps    Deps
	conn    *websocket.Conn
	ctx     context.Context
	cancel  context.CancelFunc
	send    chan types.ServerMessage
	updates chan room.Update
	rooms   map[string]*room.Room // subscriptions held by this connection
	sess    *session.Session
	claims  *auth.Claims
}

func (c *connection) teardown() {
	c.cancel()
	if c.sess != nil {
		for _, r := range c.rooms {
			r.Inbox() <- room.Unsubscribe{SessionID: c.sess.ID}
		}
		c.deps.Registry.Remove(c.sess.ID)
	}
}

func (c *connection) writeLoop() {
	for {
		var msg types.ServerMessage
		select {
		case <-c.ctx.Done():
			return
		case m := <-c.send:
			msg = m
		case upd := <-c.updates:
			msg = updateFrame(upd)
		}

		payload, err := json.Marshal(msg)
		if err != nil {
			c.deps.Logger.Error("marshal server message", zap.Error(err))
			continue
		}
		ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
		err = c.conn.Write(ctx, websocket.MessageText, payload)
		cancel()
		if err != nil {
			c.cancel()
			return
		}
	}
}

func updateFrame(upd room.Update) types.ServerMessage {
	state := upd.State
	if upd.Snapshot {
		return types.ServerMessage{
			Type:    "room_snapshot",
			RoomID:  upd.RoomID,
			Version: upd.Version,
			State:   &state,
		}
	}
	return types.ServerMessage{
		Type:     string(upd.Event.Type),
		RoomID:   upd.RoomID,
		Version:  upd.Version,
		UserID:   upd.Event.UserID,
		Team:     upd.Event.TeamNumber,
		Slot:     upd.Event.SlotNumber,
		FromTeam: upd.Event.FromTeam,
		FromSlot: upd.Event.FromSlot,
		State:    &state,
	}
}

func (c *connection) readLoop() {
	for {
		ctx, cancel := context.WithTimeout(c.ctx, readTimeout)
		_, data, err := c.conn.Read(ctx)
		cancel()
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			return
		}

		var cm types.ClientMessage
		if err := json.Unmarshal(data, &cm); err != nil {
			c.push(types.ServerMessage{Type: "error", Error: &types.ErrorBody{Code: types.CodeBadRequest, Message: "bad json"}})
			continue
		}

		if !c.handle(cm) {
			return
		}
	}
}

// handle processes one command; returning false closes the connection.
func (c *connection) handle(cm types.ClientMessage) bool {
	if cm.Type == "authenticate" {
		return c.authenticate(cm)
	}
	if c.sess == nil {
		// The first frame after connect must be the credential.
		c.push(types.ErrorMessage(cm.SyncID, auth.ErrUnauthenticated))
		return false
	}

	switch cm.Type {
	case "heartbeat":
		if !c.deps.Registry.Heartbeat(c.sess.ID) {
			// Registry already swept this session; force a reconnect.
			c.push(types.ErrorMessage(cm.SyncID, auth.ErrUnauthenticated))
			return false
		}
		return true

	case "subscribe_room":
		c.subscribe(cm)
		return true

	case "unsubscribe_room":
		if r, ok := c.rooms[cm.RoomID]; ok {
			r.Inbox() <- room.Unsubscribe{SessionID: c.sess.ID}
			delete(c.rooms, cm.RoomID)
			c.deps.Registry.Unsubscribe(c.sess.ID, cm.RoomID)
		}
		c.push(types.ServerMessage{Type: "unsubscribed", SyncID: cm.SyncID, RoomID: cm.RoomID})
		return true

	case "join_slot":
		c.submitEntitled(cm, engine.Command{
			Type: engine.CmdJoin, UserID: c.claims.UserID, Team: cm.Team, Slot: cm.Slot,
		})
		return true

	case "move_slot":
		c.submit(cm, engine.Command{
			Type: engine.CmdMove, UserID: c.claims.UserID, Team: cm.Team, Slot: cm.Slot,
		})
		return true

	case "leave_slot":
		c.submit(cm, engine.Command{Type: engine.CmdLeave, UserID: c.claims.UserID})
		return true

	default:
		c.push(types.ServerMessage{Type: "error", SyncID: cm.SyncID,
			Error: &types.ErrorBody{Code: types.CodeBadRequest, Message: "unknown type"}})
		return true
	}
}

func (c *connection) authenticate(cm types.ClientMessage) bool {
	claims, err := c.deps.Verifier.Verify(cm.Credential)
	if err != nil {
		c.push(types.ErrorMessage(cm.SyncID, err))
		return false
	}
	if c.sess != nil {
		// Re-authenticating an open connection keeps the existing session.
		c.push(types.ServerMessage{Type: "authenticated", SyncID: cm.SyncID, SessionID: c.sess.ID})
		return true
	}
	c.claims = claims
	c.sess = c.deps.Registry.Register(claims.UserID, claims.Platform, c.cancel)
	c.deps.Logger.Info("session authenticated",
		zap.String("session", c.sess.ID),
		zap.String("user", claims.UserID))
	c.push(types.ServerMessage{
		Type:      "authenticated",
		SyncID:    cm.SyncID,
		SessionID: c.sess.ID,
		Devices:   c.deps.Registry.DeviceCount(claims.UserID),
	})
	return true
}

func (c *connection) subscribe(cm types.ClientMessage) {
	if !c.entitled(cm.RoomID) {
		c.push(types.ErrorMessage(cm.SyncID, types.ErrUnauthorized))
		return
	}
	r := c.deps.Hub.Room(cm.RoomID)
	if r == nil {
		c.push(types.ErrorMessage(cm.SyncID, types.ErrRoomNotFound))
		return
	}
	if _, ok := c.rooms[cm.RoomID]; ok {
		// Resubscribe: drop the old registration first so the snapshot that
		// follows is the single point of truth.
		r.Inbox() <- room.Unsubscribe{SessionID: c.sess.ID}
	}
	c.rooms[cm.RoomID] = r
	c.deps.Registry.Subscribe(c.sess.ID, cm.RoomID)
	r.Inbox() <- room.Subscribe{SessionID: c.sess.ID, Outbox: c.updates, Kick: c.cancel}
}

// submitEntitled gates the command on the tournament subsystem's entitlement
// decision before it reaches the room.
func (c *connection) submitEntitled(cm types.ClientMessage, cmd engine.Command) {
	if !c.entitled(cm.RoomID) {
		c.push(types.ErrorMessage(cm.SyncID, types.ErrUnauthorized))
		return
	}
	c.submit(cm, cmd)
}

func (c *connection) submit(cm types.ClientMessage, cmd engine.Command) {
	r := c.deps.Hub.Room(cm.RoomID)
	if r == nil {
		c.push(types.ErrorMessage(cm.SyncID, types.ErrRoomNotFound))
		return
	}

	reply := make(chan room.Result, 1)
	r.Inbox() <- room.Submit{Cmd: cmd, Reply: reply}

	select {
	case res := <-reply:
		if res.Err != nil {
			c.push(types.ErrorMessage(cm.SyncID, res.Err))
			return
		}
		state := res.State
		c.push(types.ServerMessage{
			Type:    ackType(cmd.Type),
			SyncID:  cm.SyncID,
			RoomID:  cm.RoomID,
			Version: res.Version,
			UserID:  cmd.UserID,
			State:   &state,
		})
	case <-time.After(submitWait):
		c.deps.Logger.Error("room did not answer submit", zap.String("room", cm.RoomID))
		c.push(types.ServerMessage{Type: "error", SyncID: cm.SyncID,
			Error: &types.ErrorBody{Code: types.CodeBadRequest, Message: "room unavailable"}})
	case <-c.ctx.Done():
	}
}

func ackType(t engine.CommandType) string {
	switch t {
	case engine.CmdJoin:
		return "joined"
	case engine.CmdMove:
		return "moved"
	case engine.CmdLeave:
		return "left"
	case engine.CmdLock:
		return "locked"
	case engine.CmdReleaseCredentials:
		return "credentials_released"
	default:
		return "ack"
	}
}

func (c *connection) entitled(roomID string) bool {
	if c.claims.Operator {
		return true
	}
	ok, err := c.deps.Entitlements.IsEntitled(c.ctx, c.claims.UserID, roomID)
	if err != nil {
		c.deps.Logger.Warn("entitlement check failed", zap.String("room", roomID), zap.Error(err))
		return false
	}
	return ok
}

func (c *connection) push(msg types.ServerMessage) {
	select {
	case c.send <- msg:
	case <-c.ctx.Done():
	}
}
