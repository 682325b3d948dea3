package tournament

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/scrimspot/roomsync-backend/internal/engine"
	"github.com/scrimspot/roomsync-backend/internal/hub"
	"github.com/scrimspot/roomsync-backend/internal/room"
)

// AutoLocker drives the scheduled freeze: on every tick it submits Lock to
// each room whose start time is within the lock lead. Lock is idempotent in
// the engine, so a tick firing twice (or racing a manual lock) is harmless.
type AutoLocker struct {
	hub    *hub.Hub
	scheds Schedules
	logger *zap.Logger
	now    func() time.Time
}

func NewAutoLocker(h *hub.Hub, scheds Schedules, logger *zap.Logger) *AutoLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AutoLocker{hub: h, scheds: scheds, logger: logger, now: time.Now}
}

func (a *AutoLocker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Tick(ctx)
		}
	}
}

// Tick scans every live room once. Exported so tests and operator tooling can
// fire it directly.
func (a *AutoLocker) Tick(ctx context.Context) {
	reply := make(chan map[string]*room.Room, 1)
	select {
	case a.hub.Inbox() <- hub.ListRooms{Reply: reply}:
	case <-ctx.Done():
		return
	}

	var rooms map[string]*room.Room
	select {
	case rooms = <-reply:
	case <-ctx.Done():
		return
	}

	now := a.now()
	for roomID, r := range rooms {
		sched, ok, err := a.scheds.GetSchedule(ctx, roomID)
		if err != nil {
			a.logger.Warn("schedule lookup failed", zap.String("room", roomID), zap.Error(err))
			continue
		}
		if !ok || now.Before(sched.StartTime.Add(-sched.LockLead)) {
			continue
		}
		r.Inbox() <- room.Submit{Cmd: engine.Command{Type: engine.CmdLock}}
		a.logger.Info("auto-lock submitted",
			zap.String("room", roomID),
			zap.Time("start", sched.StartTime))
	}
}
