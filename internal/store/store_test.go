package store

import (
	"context"
	"testing"

	"github.com/DoyleJ11/spellduel/internal/engine"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func sqliteStore(t *testing.T) Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), Config(zap.NewNop()))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// one connection keeps the in-memory database alive and shared
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	s, err := NewGorm(db)
	require.NoError(t, err)
	return s
}

func stores() map[string]func(*testing.T) Store {
	return map[string]func(*testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemory() },
		"gorm":   sqliteStore,
	}
}

func sample(id string, created int64) engine.Room {
	cfg := engine.Config{EntryStake: decimal.RequireFromString("2.50"), WordCount: 3}.WithDefaults()
	r := engine.NewRoom(id, cfg, engine.Participant{UserID: "host", Nickname: "Host"}, created)
	r.Participants = append(r.Participants, engine.Participant{UserID: "b", Nickname: "Bee", Role: engine.RoleMember, IsOnline: true})
	return r
}

func TestStore_RoundTrip(t *testing.T) {
	for name, open := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			room := sample("r1", 100)
			require.NoError(t, s.Create(ctx, room))

			got, err := s.Get(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, "host", got.CreatorID)
			assert.Equal(t, engine.StatusWaiting, got.Status)
			assert.Len(t, got.Participants, 2)
			assert.True(t, got.Config.EntryStake.Equal(decimal.RequireFromString("2.5")))
			assert.Equal(t, int64(100), got.CreatedAt)

			room.Status = engine.StatusFinished
			room.WinnerID = "b"
			room.CurrentRound = 3
			room.GameWords = []engine.RoundRecord{{Round: 1, Word: engine.Word{Text: "apple"}, Status: engine.RoundFinished, WinnerID: "b"}}
			room.UpdatedAt = 250
			require.NoError(t, s.Update(ctx, "r1", FieldsFromRoom(room)))

			got, err = s.Get(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, engine.StatusFinished, got.Status)
			assert.Equal(t, "b", got.WinnerID)
			assert.Equal(t, 3, got.CurrentRound)
			require.Len(t, got.GameWords, 1)
			assert.Equal(t, "apple", got.GameWords[0].Word.Text)
			assert.Equal(t, int64(250), got.UpdatedAt)
			assert.Equal(t, int64(100), got.CreatedAt)
		})
	}
}

func TestStore_PartialUpdateLeavesOtherFields(t *testing.T) {
	for name, open := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			require.NoError(t, s.Create(ctx, sample("r1", 1)))

			st := engine.StatusReady
			require.NoError(t, s.Update(ctx, "r1", Fields{Status: &st}))

			got, err := s.Get(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, engine.StatusReady, got.Status)
			assert.Len(t, got.Participants, 2)
		})
	}
}

func TestStore_NotFound(t *testing.T) {
	for name, open := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			_, err := s.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			st := engine.StatusCancelled
			assert.ErrorIs(t, s.Update(ctx, "missing", Fields{Status: &st}), ErrNotFound)
		})
	}
}

func TestStore_ClosedChallengeIsFinal(t *testing.T) {
	for name, open := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			require.NoError(t, s.Create(ctx, sample("r1", 1)))

			finished := engine.StatusFinished
			alice := "host"
			require.NoError(t, s.Update(ctx, "r1", Fields{Status: &finished, WinnerID: &alice}))

			bob := "b"
			assert.ErrorIs(t, s.Update(ctx, "r1", Fields{Status: &finished, WinnerID: &bob}), ErrClosed)
			waiting := engine.StatusWaiting
			assert.ErrorIs(t, s.Update(ctx, "r1", Fields{Status: &waiting}), ErrClosed)

			got, err := s.Get(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, engine.StatusFinished, got.Status)
			assert.Equal(t, "host", got.WinnerID)

			cancelled := sample("r2", 2)
			cancelled.Status = engine.StatusCancelled
			require.NoError(t, s.Create(ctx, cancelled))
			assert.ErrorIs(t, s.Update(ctx, "r2", Fields{WinnerID: &bob}), ErrClosed)

			assert.ErrorIs(t, s.Update(ctx, "missing", Fields{WinnerID: &bob}), ErrNotFound)
		})
	}
}

func TestStore_ListFiltersByStatus(t *testing.T) {
	for name, open := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			require.NoError(t, s.Create(ctx, sample("old", 1)))
			require.NoError(t, s.Create(ctx, sample("new", 2)))
			done := sample("done", 3)
			done.Status = engine.StatusFinished
			require.NoError(t, s.Create(ctx, done))

			waiting, err := s.List(ctx, engine.StatusWaiting)
			require.NoError(t, err)
			require.Len(t, waiting, 2)
			assert.Equal(t, "new", waiting[0].ID)
			assert.Equal(t, "old", waiting[1].ID)

			all, err := s.List(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 3)

			both, err := s.List(ctx, engine.StatusWaiting, engine.StatusFinished)
			require.NoError(t, err)
			assert.Len(t, both, 3)
		})
	}
}

func TestMemoryStore_DuplicateAndIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	room := sample("r1", 1)
	require.NoError(t, s.Create(ctx, room))
	assert.ErrorIs(t, s.Create(ctx, room), ErrExists)

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	got.Participants[0].Score = 99

	again, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Zero(t, again.Participants[0].Score)
}
