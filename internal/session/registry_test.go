package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_MultiDevice(t *testing.T) {
	r := NewRegistry(time.Minute, nil)

	s1 := r.Register("alice", "web", nil)
	s2 := r.Register("alice", "ios", nil)
	r.Register("bob", "web", nil)

	assert.Equal(t, 2, r.DeviceCount("alice"))
	assert.Equal(t, 1, r.DeviceCount("bob"))
	assert.Equal(t, 3, r.Len())
	require.NotEqual(t, s1.ID, s2.ID)

	r.Remove(s1.ID)
	assert.Equal(t, 1, r.DeviceCount("alice"))

	r.Remove(s2.ID)
	assert.Equal(t, 0, r.DeviceCount("alice"))
}

func TestRegistry_SweepDropsOnlyStaleSessions(t *testing.T) {
	r := NewRegistry(30*time.Second, nil)

	base := time.Unix(1700000000, 0)
	r.now = func() time.Time { return base }

	expired := make(chan struct{}, 1)
	_, cancelStale := context.WithCancel(context.Background())
	stale := r.Register("alice", "web", func() {
		cancelStale()
		expired <- struct{}{}
	})
	fresh := r.Register("alice", "ios", nil)

	// 40s later only the session that heartbeated survives.
	r.now = func() time.Time { return base.Add(40 * time.Second) }
	require.True(t, r.Heartbeat(fresh.ID))

	dead := r.Sweep()
	require.Len(t, dead, 1)
	assert.Equal(t, stale.ID, dead[0].ID)
	assert.Equal(t, 1, r.DeviceCount("alice"))

	select {
	case <-expired:
	default:
		t.Fatal("expire hook not fired")
	}

	assert.False(t, r.Heartbeat(stale.ID), "expired session should not accept heartbeats")
}

func TestRegistry_SubscriptionBookkeeping(t *testing.T) {
	r := NewRegistry(time.Minute, nil)
	s := r.Register("alice", "web", nil)

	r.Subscribe(s.ID, "room-1")
	r.Subscribe(s.ID, "room-2")
	assert.True(t, s.Rooms["room-1"])
	assert.True(t, s.Rooms["room-2"])

	r.Unsubscribe(s.ID, "room-1")
	assert.False(t, s.Rooms["room-1"])
	assert.True(t, s.Rooms["room-2"])
}
