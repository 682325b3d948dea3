package tournament

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scrimspot/roomsync-backend/internal/engine"
	"github.com/scrimspot/roomsync-backend/internal/hub"
	"github.com/scrimspot/roomsync-backend/internal/room"
)

func roomView(t *testing.T, r *room.Room) room.View {
	t.Helper()
	reply := make(chan room.View, 1)
	r.Inbox() <- room.GetView{Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for view")
		return room.View{}
	}
}

func TestAutoLocker_LocksOnlyDueRooms(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := hub.NewHub(ctx, nil, nil)
	reply := make(chan *room.Room, 1)
	h.Inbox() <- hub.CreateRoom{RoomID: "due", State: engine.NewState("due", 2, 4), Reply: reply}
	due := <-reply
	h.Inbox() <- hub.CreateRoom{RoomID: "later", State: engine.NewState("later", 2, 4), Reply: reply}
	later := <-reply

	now := time.Unix(1700000000, 0)
	scheds := &Static{Scheds: map[string]Schedule{
		"due":   {StartTime: now.Add(5 * time.Minute), LockLead: 10 * time.Minute},
		"later": {StartTime: now.Add(time.Hour), LockLead: 10 * time.Minute},
	}}

	al := NewAutoLocker(h, scheds, nil)
	al.now = func() time.Time { return now }

	al.Tick(ctx)

	require.Eventually(t, func() bool {
		reply := make(chan room.View, 1)
		due.Inbox() <- room.GetView{Reply: reply}
		select {
		case v := <-reply:
			return v.State.Locked
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, time.Second, 10*time.Millisecond, "due room should be locked")
	require.False(t, roomView(t, later).State.Locked, "room outside the lead must stay open")

	// A second tick is a no-op against the already-locked room.
	al.Tick(ctx)
	v := roomView(t, due)
	require.True(t, v.State.Locked)
	require.Equal(t, int64(1), v.Version, "re-firing the tick must not bump the version")
}
