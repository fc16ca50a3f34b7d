package actionlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/DoyleJ11/poker-table-backend/internal/table"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/multierr"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Entry is one persisted table event. Betting actions are ordered by
// (Round, Seq) so an external rules engine can replay a round. Seating and
// ready events carry Round 0 and are ordered by ID only.
type Entry struct {
	ID        uint64 `gorm:"primaryKey"`
	Round     uint64 `gorm:"index:idx_round_seq"`
	Seq       uint64 `gorm:"index:idx_round_seq"`
	Type      string `gorm:"size:32;not null"`
	Player    string `gorm:"size:128"`
	Seat      int
	Amount    int64
	CreatedAt time.Time
}

func (Entry) TableName() string { return "action_log_entries" }

func FromEvent(e table.Event, at time.Time) Entry {
	return Entry{
		Round:     e.Round,
		Seq:       e.Seq,
		Type:      string(e.Type),
		Player:    e.Player,
		Seat:      e.Seat,
		Amount:    e.Amount,
		CreatedAt: at,
	}
}

// Sink persists batches of entries.
type Sink interface {
	Write(ctx context.Context, entries []Entry) error
}

type Store struct {
	db   *gorm.DB
	sql  *sql.DB
	pool *pgxpool.Pool
}

// Open connects to Postgres through a pgx pool and migrates the log table.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("gorm open: %w", err)
	}

	s, err := NewStore(ctx, db)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.sql = sqlDB
	s.pool = pool
	return s, nil
}

// NewStore uses an already opened gorm handle.
func NewStore(ctx context.Context, db *gorm.DB) (*Store, error) {
	if err := db.WithContext(ctx).AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrate action log: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Write(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&entries).Error
}

func (s *Store) Close() error {
	var err error
	if s.sql != nil {
		err = multierr.Append(err, s.sql.Close())
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}
