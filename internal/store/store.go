// Package store persists challenge snapshots. The host writes; everyone else
// only reads.
package store

import (
	"context"
	"errors"

	"github.com/DoyleJ11/spellduel/internal/engine"
)

var ErrNotFound = errors.New("challenge not found")
var ErrExists = errors.New("challenge already exists")

// ErrClosed rejects an update to a finished or cancelled challenge. The first
// closing write is final.
var ErrClosed = errors.New("challenge already closed")

type Store interface {
	Create(ctx context.Context, room engine.Room) error
	// Update fails with ErrClosed once the stored challenge is finished or
	// cancelled.
	Update(ctx context.Context, id string, f Fields) error
	Get(ctx context.Context, id string) (engine.Room, error)
	// List returns challenges in any of statuses, newest first. No statuses
	// means all of them.
	List(ctx context.Context, statuses ...engine.Status) ([]engine.Room, error)
}

// Fields is a partial update. Nil members are left untouched.
type Fields struct {
	Status       *engine.Status       `json:"status,omitempty"`
	Participants []engine.Participant `json:"participants,omitempty"`
	WinnerID     *string              `json:"winner_id,omitempty"`
	CurrentRound *int                 `json:"current_round,omitempty"`
	GameWords    []engine.RoundRecord `json:"game_words,omitempty"`
	UpdatedAt    *int64               `json:"updated_at,omitempty"`
}

// FieldsFromRoom captures every mutable part of r.
func FieldsFromRoom(r engine.Room) Fields {
	r = r.Clone()
	return Fields{
		Status:       &r.Status,
		Participants: r.Participants,
		WinnerID:     &r.WinnerID,
		CurrentRound: &r.CurrentRound,
		GameWords:    r.GameWords,
		UpdatedAt:    &r.UpdatedAt,
	}
}

func (f Fields) Empty() bool {
	return f.Status == nil && f.Participants == nil && f.WinnerID == nil &&
		f.CurrentRound == nil && f.GameWords == nil && f.UpdatedAt == nil
}

func closedStatuses() []string {
	return []string{string(engine.StatusFinished), string(engine.StatusCancelled)}
}

// Apply writes the set members of f onto r.
func (f Fields) Apply(r *engine.Room) {
	if f.Status != nil {
		r.Status = *f.Status
	}
	if f.Participants != nil {
		r.Participants = append([]engine.Participant(nil), f.Participants...)
	}
	if f.WinnerID != nil {
		r.WinnerID = *f.WinnerID
	}
	if f.CurrentRound != nil {
		r.CurrentRound = *f.CurrentRound
	}
	if f.GameWords != nil {
		r.GameWords = (engine.Room{GameWords: f.GameWords}).Clone().GameWords
	}
	if f.UpdatedAt != nil {
		r.UpdatedAt = *f.UpdatedAt
	}
}
