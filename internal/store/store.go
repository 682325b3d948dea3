package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/scrimspot/roomsync-backend/internal/engine"
)

// RoomRecord is the durable snapshot of one room. A row outliving its room
// actor is the archive of a completed match.
type RoomRecord struct {
	RoomID    string `gorm:"primaryKey;column:room_id"`
	Version   int64  `gorm:"column:version"`
	Locked    bool   `gorm:"column:locked"`
	Snapshot  []byte `gorm:"column:snapshot;type:jsonb"`
	UpdatedAt time.Time
}

func (RoomRecord) TableName() string { return "room_states" }

type write struct {
	record RoomRecord
}

// Store persists committed room states strictly after the in-memory commit
// and broadcast: Enqueue never blocks the room's writer, and a full queue
// drops the write rather than stalling fan-out. The next commit re-enqueues
// the full state, so a dropped write costs nothing but recovery freshness.
type Store struct {
	db     *gorm.DB
	in     chan write
	logger *zap.Logger
}

func Open(dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&RoomRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{
		db:     db,
		in:     make(chan write, 256),
		logger: logger,
	}, nil
}

// Run consumes the write queue until ctx is done.
func (s *Store) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case w := <-s.in:
			s.flush(ctx, w.record)
		}
	}
}

func (s *Store) flush(ctx context.Context, rec RoomRecord) {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"version", "locked", "snapshot", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		s.logger.Error("persist room state",
			zap.String("room", rec.RoomID),
			zap.Int64("version", rec.Version),
			zap.Error(err))
	}
}

// Enqueue hands one committed state to the writer. Non-blocking.
func (s *Store) Enqueue(version int64, state engine.State) {
	snapshot, err := json.Marshal(state)
	if err != nil {
		s.logger.Error("marshal room state", zap.String("room", state.RoomID), zap.Error(err))
		return
	}
	select {
	case s.in <- write{record: RoomRecord{
		RoomID:    state.RoomID,
		Version:   version,
		Locked:    state.Locked,
		Snapshot:  snapshot,
		UpdatedAt: time.Now(),
	}}:
	default:
		s.logger.Warn("persist queue full, dropping write",
			zap.String("room", state.RoomID),
			zap.Int64("version", version))
	}
}

type RestoredRoom struct {
	Version int64
	State   engine.State
}

// LoadAll reads every persisted room for boot-time restore.
func (s *Store) LoadAll(ctx context.Context) ([]RestoredRoom, error) {
	var records []RoomRecord
	if err := s.db.WithContext(ctx).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("load rooms: %w", err)
	}

	rooms := make([]RestoredRoom, 0, len(records))
	for _, rec := range records {
		var state engine.State
		if err := json.Unmarshal(rec.Snapshot, &state); err != nil {
			s.logger.Error("corrupt room snapshot, skipping",
				zap.String("room", rec.RoomID), zap.Error(err))
			continue
		}
		rooms = append(rooms, RestoredRoom{Version: rec.Version, State: state})
	}
	return rooms, nil
}
