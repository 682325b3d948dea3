package tournament

import (
	"context"
	"time"

	"github.com/scrimspot/roomsync-backend/internal/engine"
)

// The tournament/payment subsystem owns registration, entitlement, scheduling
// and match credentials. This service only consumes those decisions.

type Schedule struct {
	StartTime time.Time
	LockLead  time.Duration // slots freeze at StartTime - LockLead
}

type Entitlements interface {
	IsEntitled(ctx context.Context, userID, roomID string) (bool, error)
}

type Schedules interface {
	GetSchedule(ctx context.Context, roomID string) (Schedule, bool, error)
}

type CredentialSource interface {
	GetCredentials(ctx context.Context, roomID string) (engine.Credentials, error)
}

// Withdrawals is the leave/refund hook: the payment side of the tournament
// subsystem is told whenever a seated player gives up their slot.
type Withdrawals interface {
	PlayerWithdrew(ctx context.Context, roomID, userID string) error
}

// Static is an in-process provider used in development and tests: everyone
// registered is entitled, schedules and credentials come from fixed maps.
type Static struct {
	Entitled    map[string]map[string]bool // roomID -> userID -> entitled; nil allows all
	Scheds      map[string]Schedule
	Credentials map[string]engine.Credentials
}

func (s *Static) IsEntitled(_ context.Context, userID, roomID string) (bool, error) {
	if s.Entitled == nil {
		return true, nil
	}
	return s.Entitled[roomID][userID], nil
}

func (s *Static) GetSchedule(_ context.Context, roomID string) (Schedule, bool, error) {
	sc, ok := s.Scheds[roomID]
	return sc, ok, nil
}

func (s *Static) GetCredentials(_ context.Context, roomID string) (engine.Credentials, error) {
	return s.Credentials[roomID], nil
}

func (s *Static) PlayerWithdrew(_ context.Context, _, _ string) error { return nil }
