package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/scrimspot/roomsync-backend/internal/auth"
	"github.com/scrimspot/roomsync-backend/internal/engine"
	"github.com/scrimspot/roomsync-backend/internal/hub"
	"github.com/scrimspot/roomsync-backend/internal/room"
	"github.com/scrimspot/roomsync-backend/internal/session"
	"github.com/scrimspot/roomsync-backend/internal/tournament"
	"github.com/scrimspot/roomsync-backend/internal/types"
)

func startServer(t *testing.T) (deps Deps, url string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	deps = Deps{
		Hub:          hub.NewHub(ctx, nil, nil),
		Registry:     session.NewRegistry(time.Minute, nil),
		Verifier:     auth.NewVerifier("test-secret"),
		Entitlements: &tournament.Static{}, // allow all
	}
	srv := httptest.NewServer(Handler(deps))
	t.Cleanup(srv.Close)
	return deps, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func createRoom(t *testing.T, h *hub.Hub, roomID string) *room.Room {
	t.Helper()
	reply := make(chan *room.Room, 1)
	h.Inbox() <- hub.CreateRoom{RoomID: roomID, State: engine.NewState(roomID, 2, 4), Reply: reply}
	return <-reply
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg types.ClientMessage) {
	t.Helper()
	payload, err := json.Marshal(msg)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, payload))
}

func recv(t *testing.T, conn *websocket.Conn) types.ServerMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg types.ServerMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

// recvType reads frames until one of the wanted type arrives; the ack and the
// broadcast for the same mutation may interleave in either order.
func recvType(t *testing.T, conn *websocket.Conn, wantType string) types.ServerMessage {
	t.Helper()
	for i := 0; i < 5; i++ {
		msg := recv(t, conn)
		if msg.Type == wantType {
			return msg
		}
	}
	t.Fatalf("never received %q", wantType)
	return types.ServerMessage{}
}

func TestHandler_AuthSubscribeJoinFlow(t *testing.T) {
	deps, url := startServer(t)
	createRoom(t, deps.Hub, "ROOM1")

	token, err := deps.Verifier.Sign("alice", "web", false, time.Minute)
	require.NoError(t, err)

	conn := dial(t, url)
	send(t, conn, types.ClientMessage{Type: "authenticate", Credential: token})
	authMsg := recv(t, conn)
	require.Equal(t, "authenticated", authMsg.Type)
	require.NotEmpty(t, authMsg.SessionID)
	require.Equal(t, 1, deps.Registry.DeviceCount("alice"))

	send(t, conn, types.ClientMessage{Type: "subscribe_room", RoomID: "ROOM1"})
	snap := recvType(t, conn, "room_snapshot")
	require.Equal(t, int64(0), snap.Version)
	require.NotNil(t, snap.State)

	send(t, conn, types.ClientMessage{Type: "join_slot", SyncID: "sync-1", RoomID: "ROOM1"})
	ack := recvType(t, conn, "joined")
	require.Equal(t, int64(1), ack.Version)
	require.True(t, ack.State.Seated("alice"))

	// A second device of the same user sees the occupied room on subscribe.
	conn2 := dial(t, url)
	send(t, conn2, types.ClientMessage{Type: "authenticate", Credential: token})
	_ = recvType(t, conn2, "authenticated")
	require.Equal(t, 2, deps.Registry.DeviceCount("alice"))

	send(t, conn2, types.ClientMessage{Type: "subscribe_room", RoomID: "ROOM1"})
	snap2 := recvType(t, conn2, "room_snapshot")
	require.Equal(t, int64(1), snap2.Version)
	require.True(t, snap2.State.Seated("alice"))
}

func TestHandler_BadCredentialClosesConnection(t *testing.T) {
	_, url := startServer(t)

	conn := dial(t, url)
	send(t, conn, types.ClientMessage{Type: "authenticate", Credential: "garbage"})

	msg := recv(t, conn)
	require.Equal(t, "error", msg.Type)
	require.Equal(t, types.CodeUnauthenticated, msg.Error.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err, "server should close after rejected credential")
}

func TestHandler_CommandBeforeAuthRejected(t *testing.T) {
	deps, url := startServer(t)
	createRoom(t, deps.Hub, "ROOM1")

	conn := dial(t, url)
	send(t, conn, types.ClientMessage{Type: "join_slot", RoomID: "ROOM1"})

	msg := recv(t, conn)
	require.Equal(t, "error", msg.Type)
	require.Equal(t, types.CodeUnauthenticated, msg.Error.Code)
}

func TestHandler_HeartbeatKeepsSessionAlive(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	deps := Deps{
		Hub:          hub.NewHub(ctx, nil, nil),
		Registry:     session.NewRegistry(100*time.Millisecond, nil),
		Verifier:     auth.NewVerifier("test-secret"),
		Entitlements: &tournament.Static{},
	}
	srv := httptest.NewServer(Handler(deps))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	token, err := deps.Verifier.Sign("alice", "web", false, time.Minute)
	require.NoError(t, err)

	conn := dial(t, url)
	send(t, conn, types.ClientMessage{Type: "authenticate", Credential: token})
	_ = recvType(t, conn, "authenticated")

	// Let the session go stale, then heartbeat over the wire. The reset must
	// land before the sweep, so the session survives it.
	time.Sleep(150 * time.Millisecond)
	send(t, conn, types.ClientMessage{Type: "heartbeat"})
	send(t, conn, types.ClientMessage{Type: "subscribe_room", SyncID: "s1", RoomID: "NOPE"})
	msg := recv(t, conn) // ordered frames: the heartbeat was processed first
	require.Equal(t, types.CodeNotFound, msg.Error.Code)

	require.Empty(t, deps.Registry.Sweep())
	require.Equal(t, 1, deps.Registry.Len())

	// Going silent past the window gets the session swept and the connection
	// torn down so the client reconnects.
	time.Sleep(150 * time.Millisecond)
	require.Len(t, deps.Registry.Sweep(), 1)

	rctx, rcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer rcancel()
	_, _, err = conn.Read(rctx)
	require.Error(t, err, "server should close after the session is swept")
}

func TestHandler_HeartbeatAfterSessionDroppedForcesReconnect(t *testing.T) {
	deps, url := startServer(t)

	token, err := deps.Verifier.Sign("alice", "web", false, time.Minute)
	require.NoError(t, err)

	conn := dial(t, url)
	send(t, conn, types.ClientMessage{Type: "authenticate", Credential: token})
	authMsg := recvType(t, conn, "authenticated")
	require.NotEmpty(t, authMsg.SessionID)

	deps.Registry.Remove(authMsg.SessionID)

	send(t, conn, types.ClientMessage{Type: "heartbeat", SyncID: "h1"})
	msg := recv(t, conn)
	require.Equal(t, "error", msg.Type)
	require.Equal(t, types.CodeUnauthenticated, msg.Error.Code)

	rctx, rcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer rcancel()
	_, _, err = conn.Read(rctx)
	require.Error(t, err, "server should close after heartbeat on a dead session")
}

func TestHandler_SubscribeUnknownRoom(t *testing.T) {
	deps, url := startServer(t)

	token, err := deps.Verifier.Sign("alice", "web", false, time.Minute)
	require.NoError(t, err)

	conn := dial(t, url)
	send(t, conn, types.ClientMessage{Type: "authenticate", Credential: token})
	_ = recvType(t, conn, "authenticated")

	send(t, conn, types.ClientMessage{Type: "subscribe_room", SyncID: "s1", RoomID: "NOPE"})
	msg := recv(t, conn)
	require.Equal(t, "error", msg.Type)
	require.Equal(t, types.CodeNotFound, msg.Error.Code)
}

func TestHandler_EntitlementGatesJoin(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	deps := Deps{
		Hub:      hub.NewHub(ctx, nil, nil),
		Registry: session.NewRegistry(time.Minute, nil),
		Verifier: auth.NewVerifier("test-secret"),
		Entitlements: &tournament.Static{
			Entitled: map[string]map[string]bool{"ROOM1": {"bob": true}},
		},
	}
	srv := httptest.NewServer(Handler(deps))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	createRoom(t, deps.Hub, "ROOM1")

	token, err := deps.Verifier.Sign("alice", "web", false, time.Minute)
	require.NoError(t, err)

	conn := dial(t, url)
	send(t, conn, types.ClientMessage{Type: "authenticate", Credential: token})
	_ = recvType(t, conn, "authenticated")

	send(t, conn, types.ClientMessage{Type: "join_slot", SyncID: "j1", RoomID: "ROOM1"})
	msg := recv(t, conn)
	require.Equal(t, "error", msg.Type)
	require.Equal(t, types.CodeUnauthorized, msg.Error.Code)
}
