package tournament

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/scrimspot/roomsync-backend/internal/engine"
	"github.com/scrimspot/roomsync-backend/internal/room"
)

// WithdrawalHook adapts the Withdrawals collaborator to the room commit
// stream: every accepted leave is reported so the payment side can refund.
// The call runs off the room goroutine so a slow collaborator never stalls
// fan-out.
func WithdrawalHook(w Withdrawals, logger *zap.Logger) room.CommitHook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(upd room.Update) {
		if upd.Event.Type != engine.EvtLeft {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := w.PlayerWithdrew(ctx, upd.RoomID, upd.Event.UserID); err != nil {
				logger.Warn("withdrawal hook failed",
					zap.String("room", upd.RoomID),
					zap.String("user", upd.Event.UserID),
					zap.Error(err))
			}
		}()
	}
}

// CombineHooks fans one commit out to several hooks in order.
func CombineHooks(hooks ...room.CommitHook) room.CommitHook {
	return func(upd room.Update) {
		for _, h := range hooks {
			if h != nil {
				h(upd)
			}
		}
	}
}
