package types

import (
	"errors"

	"github.com/scrimspot/roomsync-backend/internal/auth"
	"github.com/scrimspot/roomsync-backend/internal/engine"
)

var ErrRoomNotFound = errors.New("room not found")
var ErrUnauthorized = errors.New("not entitled to this room")

// Client -> Server
type ClientMessage struct {
	Type       string `json:"type"` // authenticate | subscribe_room | unsubscribe_room | join_slot | move_slot | leave_slot | heartbeat
	SyncID     string `json:"sync_id,omitempty"`
	Credential string `json:"credential,omitempty"`
	RoomID     string `json:"room_id,omitempty"`
	Team       int    `json:"team,omitempty"`
	Slot       int    `json:"slot,omitempty"`
}

// Server -> Client
type ServerMessage struct {
	Type      string        `json:"type"` // authenticated | room_snapshot | joined | moved | left | locked | credentials_released | unsubscribed | error
	SyncID    string        `json:"sync_id,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	Devices   int           `json:"devices,omitempty"` // live sessions for this user, on authenticated
	RoomID    string        `json:"room_id,omitempty"`
	Version   int64         `json:"version,omitempty"`
	UserID    string        `json:"user_id,omitempty"`
	Team      int           `json:"team,omitempty"`
	Slot      int           `json:"slot,omitempty"`
	FromTeam  int           `json:"from_team,omitempty"`
	FromSlot  int           `json:"from_slot,omitempty"`
	State     *engine.State `json:"state,omitempty"`
	Error     *ErrorBody    `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	CodeRoomLocked      = "RoomLocked"
	CodeRoomFull        = "RoomFull"
	CodeAlreadyAssigned = "AlreadyAssigned"
	CodeSlotTaken       = "SlotTaken"
	CodeForbidden       = "Forbidden"
	CodeNotFound        = "NotFound"
	CodeUnauthenticated = "Unauthenticated"
	CodeUnauthorized    = "Unauthorized"
	CodeBadRequest      = "BadRequest"
)

// CodeFor maps an engine or transport error onto its wire code.
func CodeFor(err error) string {
	switch {
	case errors.Is(err, engine.ErrRoomLocked):
		return CodeRoomLocked
	case errors.Is(err, engine.ErrRoomFull):
		return CodeRoomFull
	case errors.Is(err, engine.ErrAlreadyAssigned):
		return CodeAlreadyAssigned
	case errors.Is(err, engine.ErrSlotTaken):
		return CodeSlotTaken
	case errors.Is(err, engine.ErrForbidden):
		return CodeForbidden
	case errors.Is(err, engine.ErrBadSlotRef):
		return CodeBadRequest
	case errors.Is(err, ErrRoomNotFound):
		return CodeNotFound
	case errors.Is(err, auth.ErrUnauthenticated):
		return CodeUnauthenticated
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	default:
		return CodeBadRequest
	}
}

// ErrorMessage builds the rejection frame for one failed command.
func ErrorMessage(syncID string, err error) ServerMessage {
	return ServerMessage{
		Type:   "error",
		SyncID: syncID,
		Error:  &ErrorBody{Code: CodeFor(err), Message: err.Error()},
	}
}
