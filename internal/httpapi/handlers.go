package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/scrimspot/roomsync-backend/internal/engine"
	"github.com/scrimspot/roomsync-backend/internal/hub"
	"github.com/scrimspot/roomsync-backend/internal/room"
	"github.com/scrimspot/roomsync-backend/internal/tournament"
)

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := 0; i < 6; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

type createRoomRequest struct {
	MaxTeams          int `json:"max_teams"`
	MaxPlayersPerTeam int `json:"max_players_per_team"`
}

// CreateRoom provisions one RoomState when a tournament is scheduled.
func CreateRoom(h *hub.Hub, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createRoomRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.MaxTeams < 1 || req.MaxPlayersPerTeam < 1 {
			http.Error(w, "max_teams and max_players_per_team must be positive", http.StatusBadRequest)
			return
		}

		var roomID string
		for {
			code, err := GenerateCode()
			if err != nil {
				http.Error(w, "failed to generate code", http.StatusInternalServerError)
				return
			}
			if h.Room(code) == nil {
				roomID = code
				break
			}
			logger.Warn("collision on room code, regenerating")
		}

		reply := make(chan *room.Room, 1)
		h.Inbox() <- hub.EnsureRoom{
			RoomID: roomID,
			State:  engine.NewState(roomID, req.MaxTeams, req.MaxPlayersPerTeam),
			Reply:  reply,
		}
		if <-reply == nil {
			http.Error(w, "failed to create room", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(struct {
			RoomID string `json:"room_id"`
		}{RoomID: roomID})
	}
}

type snapshotResponse struct {
	Version int64        `json:"version"`
	State   engine.State `json:"state"`
}

// GetRoom serves the current snapshot over plain HTTP for non-realtime
// consumers (admin screens, the tournament subsystem).
func GetRoom(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rm := h.Room(chi.URLParam(r, "roomID"))
		if rm == nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		reply := make(chan room.View, 1)
		rm.Inbox() <- room.GetView{Reply: reply}
		view := <-reply

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snapshotResponse{Version: view.Version, State: view.State})
	}
}

// LockRoom is the operator's manual freeze. The auto-lock tick uses the same
// idempotent command.
func LockRoom(h *hub.Hub) http.HandlerFunc {
	return submitHandler(h, func(r *http.Request) (engine.Command, error) {
		return engine.Command{Type: engine.CmdLock}, nil
	})
}

// ReleaseCredentials stores the match credentials and flips the visibility
// gate. Independent of lock state. Credentials come from the request body,
// or from the tournament subsystem when the body carries none.
func ReleaseCredentials(h *hub.Hub, source tournament.CredentialSource) http.HandlerFunc {
	return submitHandler(h, func(r *http.Request) (engine.Command, error) {
		var creds engine.Credentials
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if creds.RoomCode == "" && source != nil {
			fetched, err := source.GetCredentials(r.Context(), chi.URLParam(r, "roomID"))
			if err != nil {
				return engine.Command{}, err
			}
			creds = fetched
		}
		return engine.Command{Type: engine.CmdReleaseCredentials, Credentials: &creds}, nil
	})
}

// RemoveRoom archives a room after match completion.
func RemoveRoom(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomID")
		if h.Room(roomID) == nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		h.Inbox() <- hub.RemoveRoom{RoomID: roomID}
		w.WriteHeader(http.StatusNoContent)
	}
}

func submitHandler(h *hub.Hub, build func(*http.Request) (engine.Command, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rm := h.Room(chi.URLParam(r, "roomID"))
		if rm == nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		cmd, err := build(r)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		reply := make(chan room.Result, 1)
		rm.Inbox() <- room.Submit{Cmd: cmd, Reply: reply}
		res := <-reply
		if res.Err != nil {
			http.Error(w, res.Err.Error(), http.StatusConflict)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snapshotResponse{Version: res.Version, State: res.State})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
