package room

import (
	"context"

	"go.uber.org/zap"

	"github.com/scrimspot/roomsync-backend/internal/engine"
)

type Msg interface{ isRoomMsg() }

// Subscribe registers a session's outbox. The current snapshot is pushed
// immediately, so the subscriber's first Update is always at least as new as
// any event broadcast before the subscribe was processed.
type Subscribe struct {
	SessionID string
	Outbox    chan<- Update
	// Kick is called (from the room goroutine) when the subscriber is dropped
	// for not draining its outbox. May be nil.
	Kick func()
}

func (Subscribe) isRoomMsg() {}

type Unsubscribe struct{ SessionID string }

func (Unsubscribe) isRoomMsg() {}

// Submit carries one command through the single-writer path. Reply must be
// buffered; it receives exactly one Result.
type Submit struct {
	Cmd   engine.Command
	Reply chan<- Result
}

func (Submit) isRoomMsg() {}

type GetView struct {
	Reply chan<- View
}

func (GetView) isRoomMsg() {}

type Shutdown struct{}

func (Shutdown) isRoomMsg() {}

// Update is what subscribers receive: the subscribe-time snapshot
// (Snapshot=true, zero Event) or one accepted mutation with the full state
// after it.
type Update struct {
	RoomID   string
	Snapshot bool
	Version  int64
	Event    engine.Event
	State    engine.State
}

type Result struct {
	Version int64
	State   engine.State
	Err     error
}

type View struct {
	Version        int64
	NumSubscribers int
	State          engine.State
}

// CommitHook receives every committed mutation strictly after the in-memory
// commit and broadcast. Write-behind persistence and the tournament
// subsystem's withdrawal hook hang off it. It must not block.
type CommitHook func(Update)

// Room owns one RoomState. All mutation flows through its inbox, so commands
// for the same room never interleave; rooms run independently of each other.
type Room struct {
	inbox    chan Msg
	state    engine.State
	version  int64
	subs     map[string]subscriber
	onCommit CommitHook
	logger   *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

type subscriber struct {
	outbox chan<- Update
	kick   func()
}

func New(parent context.Context, initial engine.State, version int64, logger *zap.Logger, onCommit CommitHook) *Room {
	ctx, cancel := context.WithCancel(parent)
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Room{
		inbox:    make(chan Msg, 64),
		state:    initial,
		version:  version,
		subs:     make(map[string]subscriber),
		onCommit: onCommit,
		logger:   logger.With(zap.String("room", initial.RoomID)),
		ctx:      ctx,
		cancel:   cancel,
	}
	go r.loop()
	return r
}

func (r *Room) Inbox() chan<- Msg { return r.inbox }

func (r *Room) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Subscribe:
				sub := subscriber{outbox: msg.Outbox, kick: msg.Kick}
				r.subs[msg.SessionID] = sub
				r.send(msg.SessionID, sub, Update{
					RoomID:   r.state.RoomID,
					Snapshot: true,
					Version:  r.version,
					State:    r.state.Normalized(),
				})

			case Unsubscribe:
				delete(r.subs, msg.SessionID)

			case Submit:
				r.handleSubmit(msg)

			case GetView:
				msg.Reply <- View{
					Version:        r.version,
					NumSubscribers: len(r.subs),
					State:          r.state.Normalized(),
				}

			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) handleSubmit(msg Submit) {
	evt, next, err := engine.Apply(r.state, msg.Cmd)
	if err != nil {
		r.reply(msg.Reply, Result{Err: err})
		return
	}
	if evt.Type == "" {
		// Accepted no-op (idempotent lock/release): ack without a new version.
		r.reply(msg.Reply, Result{Version: r.version, State: r.state.Normalized()})
		return
	}

	r.state = next
	r.version++
	normalized := r.state.Normalized()
	upd := Update{
		RoomID:  r.state.RoomID,
		Version: r.version,
		Event:   evt,
		State:   normalized,
	}
	r.reply(msg.Reply, Result{Version: r.version, State: normalized})
	r.broadcast(upd)
	if r.onCommit != nil {
		r.onCommit(upd)
	}
}

func (r *Room) reply(ch chan<- Result, res Result) {
	if ch == nil {
		return
	}
	select {
	case ch <- res:
	default:
		r.logger.Warn("submit reply dropped, unbuffered or abandoned channel")
	}
}

func (r *Room) broadcast(upd Update) {
	for id, sub := range r.subs {
		r.send(id, sub, upd)
	}
}

// send delivers one update without ever blocking the room goroutine. A
// subscriber that cannot take it is dropped; its repair path is a fresh
// resubscribe snapshot, never replay.
func (r *Room) send(id string, sub subscriber, upd Update) {
	select {
	case sub.outbox <- upd:
	default:
		delete(r.subs, id)
		r.logger.Warn("dropping slow subscriber", zap.String("session", id))
		if sub.kick != nil {
			go sub.kick()
		}
	}
}

func (r *Room) shutdown() {
	for id := range r.subs {
		delete(r.subs, id)
	}
	r.cancel()
}
