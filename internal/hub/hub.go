package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/scrimspot/roomsync-backend/internal/engine"
	"github.com/scrimspot/roomsync-backend/internal/room"
)

type HubMsg interface{ isHubMsg() }

type CreateRoom struct {
	RoomID  string
	State   engine.State
	Version int64
	Reply   chan *room.Room
}

type GetRoom struct {
	RoomID string
	Reply  chan *room.Room
}

type EnsureRoom struct {
	RoomID  string
	State   engine.State // only used if creation happens
	Version int64
	Reply   chan *room.Room
}

type RemoveRoom struct {
	RoomID string
}

type ListRooms struct {
	Reply chan map[string]*room.Room
}

type ShutdownHub struct{}

func (CreateRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (EnsureRoom) isHubMsg()  {}
func (RemoveRoom) isHubMsg()  {}
func (ListRooms) isHubMsg()   {}
func (ShutdownHub) isHubMsg() {}

// Hub owns the roomID -> room actor map. Like the rooms themselves it is an
// actor: all map access happens on the hub goroutine.
type Hub struct {
	inbox    chan HubMsg
	rooms    map[string]*room.Room
	logger   *zap.Logger
	onCommit room.CommitHook
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewHub(parent context.Context, logger *zap.Logger, onCommit room.CommitHook) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		rooms:    make(map[string]*room.Room),
		logger:   logger,
		onCommit: onCommit,
		ctx:      ctx,
		cancel:   cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Room is a convenience wrapper over GetRoom for request-scoped callers.
func (h *Hub) Room(roomID string) *room.Room {
	reply := make(chan *room.Room, 1)
	h.inbox <- GetRoom{RoomID: roomID, Reply: reply}
	return <-reply
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				if r := h.rooms[msg.RoomID]; r != nil {
					msg.Reply <- r
					break
				}
				r := room.New(h.ctx, msg.State, msg.Version, h.logger, h.onCommit)
				h.rooms[msg.RoomID] = r
				h.logger.Info("room created", zap.String("room", msg.RoomID))
				msg.Reply <- r

			case GetRoom:
				msg.Reply <- h.rooms[msg.RoomID] // May be nil

			case EnsureRoom:
				if r := h.rooms[msg.RoomID]; r != nil {
					msg.Reply <- r
					break
				}
				r := room.New(h.ctx, msg.State, msg.Version, h.logger, h.onCommit)
				h.rooms[msg.RoomID] = r
				msg.Reply <- r

			case RemoveRoom:
				if r := h.rooms[msg.RoomID]; r != nil {
					r.Inbox() <- room.Shutdown{}
					delete(h.rooms, msg.RoomID)
					h.logger.Info("room removed", zap.String("room", msg.RoomID))
				}

			case ListRooms:
				out := make(map[string]*room.Room, len(h.rooms))
				for id, r := range h.rooms {
					out[id] = r
				}
				msg.Reply <- out

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) shutdown() {
	for _, r := range h.rooms {
		r.Inbox() <- room.Shutdown{}
	}
	clear(h.rooms)
	h.cancel()
}
