package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DoyleJ11/spellduel/internal/engine"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Challenge is the persisted row. Nested parts are stored as JSON columns.
type Challenge struct {
	ID           string               `gorm:"primaryKey;size:64"`
	CreatorID    string               `gorm:"size:64;not null;index"`
	Config       engine.Config        `gorm:"serializer:json;not null"`
	Status       string               `gorm:"size:20;not null;index"`
	Participants []engine.Participant `gorm:"serializer:json"`
	WinnerID     string               `gorm:"size:64"`
	CurrentRound int                  `gorm:"not null;default:0"`
	GameWords    []engine.RoundRecord `gorm:"serializer:json"`
	// milliseconds, stamped by the host rather than the database
	CreatedAt int64 `gorm:"autoCreateTime:false;index"`
	UpdatedAt int64 `gorm:"autoUpdateTime:false"`
}

func toRow(r engine.Room) Challenge {
	r = r.Clone()
	return Challenge{
		ID:           r.ID,
		CreatorID:    r.CreatorID,
		Config:       r.Config,
		Status:       string(r.Status),
		Participants: r.Participants,
		WinnerID:     r.WinnerID,
		CurrentRound: r.CurrentRound,
		GameWords:    r.GameWords,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func (c Challenge) room() engine.Room {
	return engine.Room{
		ID:           c.ID,
		CreatorID:    c.CreatorID,
		Config:       c.Config,
		Status:       engine.Status(c.Status),
		Participants: c.Participants,
		WinnerID:     c.WinnerID,
		CurrentRound: c.CurrentRound,
		GameWords:    c.GameWords,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

type GormStore struct {
	db *gorm.DB
}

// Open connects to postgres and migrates the schema.
func Open(dsn string, l *zap.Logger) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), Config(l))
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return NewGorm(db)
}

// NewGorm wraps an open connection and migrates the schema.
func NewGorm(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&Challenge{}); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Config is the gorm configuration every store connection uses.
func Config(l *zap.Logger) *gorm.Config {
	return &gorm.Config{Logger: gormLogger(l), TranslateError: true}
}

func gormLogger(l *zap.Logger) logger.Interface {
	return logger.New(
		zap.NewStdLog(l.Named("gorm")),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
}

func (s *GormStore) Create(ctx context.Context, room engine.Room) error {
	row := toRow(room)
	err := s.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrExists
	}
	return err
}

func (s *GormStore) Update(ctx context.Context, id string, f Fields) error {
	if f.Empty() {
		return nil
	}

	var row Challenge
	var cols []string
	if f.Status != nil {
		row.Status = string(*f.Status)
		cols = append(cols, "status")
	}
	if f.Participants != nil {
		row.Participants = f.Participants
		cols = append(cols, "participants")
	}
	if f.WinnerID != nil {
		row.WinnerID = *f.WinnerID
		cols = append(cols, "winner_id")
	}
	if f.CurrentRound != nil {
		row.CurrentRound = *f.CurrentRound
		cols = append(cols, "current_round")
	}
	if f.GameWords != nil {
		row.GameWords = f.GameWords
		cols = append(cols, "game_words")
	}
	if f.UpdatedAt != nil {
		row.UpdatedAt = *f.UpdatedAt
		cols = append(cols, "updated_at")
	}

	res := s.db.WithContext(ctx).Model(&Challenge{ID: id}).
		Where("status NOT IN ?", closedStatuses()).
		Select(cols).Updates(&row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var n int64
	if err := s.db.WithContext(ctx).Model(&Challenge{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrClosed
}

func (s *GormStore) Get(ctx context.Context, id string) (engine.Room, error) {
	var row Challenge
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return engine.Room{}, ErrNotFound
	}
	if err != nil {
		return engine.Room{}, err
	}
	return row.room(), nil
}

func (s *GormStore) List(ctx context.Context, statuses ...engine.Status) ([]engine.Room, error) {
	q := s.db.WithContext(ctx).Order("created_at desc").Order("id")
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, st := range statuses {
			names[i] = string(st)
		}
		q = q.Where("status IN ?", names)
	}
	var rows []Challenge
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]engine.Room, len(rows))
	for i, row := range rows {
		out[i] = row.room()
	}
	return out, nil
}
