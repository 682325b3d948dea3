package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session is one authenticated connection from one device. A user may hold
// any number of them concurrently; every session subscribed to a room
// receives that room's events independently.
type Session struct {
	ID            string
	UserID        string
	Platform      string // display/audit only, never authorization
	Rooms         map[string]bool
	LastHeartbeat time.Time

	// expire tears the connection down when the registry drops the session.
	expire context.CancelFunc
}

// Registry tracks live sessions by id and by user, and which rooms each
// session is subscribed to. Writes are under the mutex; the sweeper drops
// sessions whose heartbeat is older than the liveness window.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byUser   map[string]map[string]*Session
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewRegistry(timeout time.Duration, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		byUser:   make(map[string]map[string]*Session),
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
	}
}

// Register creates a session for an authenticated connection. expire is
// invoked when the session is removed for missing heartbeats; it may be nil.
func (r *Registry) Register(userID, platform string, expire context.CancelFunc) *Session {
	s := &Session{
		ID:            uuid.NewString(),
		UserID:        userID,
		Platform:      platform,
		Rooms:         make(map[string]bool),
		LastHeartbeat: r.now(),
		expire:        expire,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]*Session)
	}
	r.byUser[userID][s.ID] = s
	r.logger.Info("session registered",
		zap.String("session", s.ID),
		zap.String("user", userID),
		zap.String("platform", platform),
		zap.Int("devices", len(r.byUser[userID])))
	return s
}

func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(sessionID)
}

func (r *Registry) removeLocked(sessionID string) {
	s, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	delete(r.sessions, sessionID)
	if peers := r.byUser[s.UserID]; peers != nil {
		delete(peers, sessionID)
		if len(peers) == 0 {
			delete(r.byUser, s.UserID)
		}
	}
}

// Heartbeat resets the liveness timer. Unknown ids report false so the
// transport can tell the client its session is gone.
func (r *Registry) Heartbeat(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	s.LastHeartbeat = r.now()
	return true
}

func (r *Registry) Subscribe(sessionID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		s.Rooms[roomID] = true
	}
}

func (r *Registry) Unsubscribe(sessionID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		delete(s.Rooms, roomID)
	}
}

// DeviceCount reports how many live sessions a user holds.
func (r *Registry) DeviceCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep removes every session whose last heartbeat is older than the
// liveness window and fires each one's expire hook. Returns the dropped
// sessions.
func (r *Registry) Sweep() []*Session {
	cutoff := r.now().Add(-r.timeout)

	r.mu.Lock()
	var dead []*Session
	for id, s := range r.sessions {
		if s.LastHeartbeat.Before(cutoff) {
			dead = append(dead, s)
			r.removeLocked(id)
		}
	}
	r.mu.Unlock()

	for _, s := range dead {
		r.logger.Warn("session expired, no heartbeat",
			zap.String("session", s.ID),
			zap.String("user", s.UserID))
		if s.expire != nil {
			s.expire()
		}
	}
	return dead
}

// Run sweeps on an interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
