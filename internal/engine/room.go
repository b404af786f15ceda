package engine

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusReady      Status = "ready"
	StatusInProgress Status = "in_progress"
	StatusFinished   Status = "finished"
	StatusCancelled  Status = "cancelled"
)

// Closed reports whether the room can no longer change.
func (s Status) Closed() bool {
	return s == StatusFinished || s == StatusCancelled
}

type RoundStatus string

const (
	RoundPending  RoundStatus = "pending"
	RoundActive   RoundStatus = "active"
	RoundFinished RoundStatus = "finished"
)

type ParticipantRole string

const (
	RoleCreator ParticipantRole = "creator"
	RoleMember  ParticipantRole = "member"
)

type SelectionMode string

const (
	SelectRandom     SelectionMode = "random"
	SelectSequential SelectionMode = "sequential"
)

const (
	DefaultMaxParticipants = 4
	DefaultWordCount       = 5
	DefaultTimeLimitSec    = 30
)

var ErrInvalidConfig = errors.New("invalid challenge config")

type Config struct {
	MaxParticipants int             `json:"max_participants"`
	EntryStake      decimal.Decimal `json:"entry_stake"`
	WordCount       int             `json:"word_count"`
	TimeLimitSec    int             `json:"time_limit"`
	Difficulty      string          `json:"difficulty,omitempty"`
	SelectionMode   SelectionMode   `json:"selection_mode,omitempty"`
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.MaxParticipants == 0 {
		c.MaxParticipants = DefaultMaxParticipants
	}
	if c.WordCount == 0 {
		c.WordCount = DefaultWordCount
	}
	if c.TimeLimitSec == 0 {
		c.TimeLimitSec = DefaultTimeLimitSec
	}
	if c.SelectionMode == "" {
		c.SelectionMode = SelectRandom
	}
	return c
}

func (c Config) Validate() error {
	switch {
	case c.MaxParticipants < 2:
		return fmt.Errorf("%w: max participants must be at least 2, got %d", ErrInvalidConfig, c.MaxParticipants)
	case c.WordCount < 1:
		return fmt.Errorf("%w: word count must be positive, got %d", ErrInvalidConfig, c.WordCount)
	case c.TimeLimitSec < 1:
		return fmt.Errorf("%w: time limit must be positive, got %d", ErrInvalidConfig, c.TimeLimitSec)
	case c.EntryStake.IsNegative():
		return fmt.Errorf("%w: entry stake must not be negative", ErrInvalidConfig)
	}
	switch c.SelectionMode {
	case SelectRandom, SelectSequential:
	default:
		return fmt.Errorf("%w: unknown selection mode %q", ErrInvalidConfig, c.SelectionMode)
	}
	return nil
}

type Word struct {
	ID         string `json:"id"`
	Text       string `json:"word"`
	Difficulty string `json:"difficulty,omitempty"`
	Definition string `json:"definition,omitempty"`
}

type Participant struct {
	UserID    string          `json:"user_id"`
	Nickname  string          `json:"nickname"`
	AvatarURL string          `json:"avatar_url,omitempty"`
	Role      ParticipantRole `json:"role"`
	IsOnline  bool            `json:"is_online"`
	IsReady   bool            `json:"is_ready"`
	Score     int             `json:"score"`
	HasLeft   bool            `json:"has_left"`
	JoinedAt  int64           `json:"joined_at"`
}

// Eligible participants can still win: reachable and not gone for good.
func (p Participant) Eligible() bool {
	return p.IsOnline && !p.HasLeft
}

type AnswerResult struct {
	UserID      string `json:"user_id"`
	Answer      string `json:"answer"`
	Correct     bool   `json:"is_correct"`
	TimeTakenMs int64  `json:"time_taken_ms"`
	SubmittedAt int64  `json:"submitted_at"`
}

type RoundRecord struct {
	Round    int            `json:"round"`
	Word     Word           `json:"word"`
	Status   RoundStatus    `json:"status"`
	WinnerID string         `json:"winner_id,omitempty"`
	Results  []AnswerResult `json:"results,omitempty"`
}

func (r RoundRecord) answered(userID string) bool {
	for _, res := range r.Results {
		if res.UserID == userID {
			return true
		}
	}
	return false
}

type Score struct {
	UserID string `json:"user_id"`
	Score  int    `json:"score"`
}

// Room is the challenge as seen by one process. Only the host mutates the
// authoritative copy; followers hold a replica rebuilt from messages.
type Room struct {
	ID           string        `json:"id"`
	CreatorID    string        `json:"creator_id"`
	Config       Config        `json:"config"`
	Status       Status        `json:"status"`
	Participants []Participant `json:"participants"`
	WinnerID     string        `json:"winner_id,omitempty"`
	CurrentRound int           `json:"current_round"`
	GameWords    []RoundRecord `json:"game_words,omitempty"`
	CreatedAt    int64         `json:"created_at"`
	UpdatedAt    int64         `json:"updated_at"`
}

// NewRoom builds a waiting room owned by creator.
func NewRoom(id string, cfg Config, creator Participant, at int64) Room {
	creator.Role = RoleCreator
	creator.IsOnline = true
	creator.IsReady = true
	creator.JoinedAt = at
	return Room{
		ID:           id,
		CreatorID:    creator.UserID,
		Config:       cfg,
		Status:       StatusWaiting,
		Participants: []Participant{creator},
		CreatedAt:    at,
		UpdatedAt:    at,
	}
}

func (r *Room) Participant(userID string) (*Participant, bool) {
	for i := range r.Participants {
		if r.Participants[i].UserID == userID {
			return &r.Participants[i], true
		}
	}
	return nil, false
}

// Round returns the record for a 1-based round number.
func (r *Room) Round(n int) (*RoundRecord, bool) {
	if n < 1 || n > len(r.GameWords) {
		return nil, false
	}
	return &r.GameWords[n-1], true
}

// ActiveRound returns the round currently accepting answers.
func (r *Room) ActiveRound() (*RoundRecord, bool) {
	rec, ok := r.Round(r.CurrentRound)
	if !ok || rec.Status != RoundActive {
		return nil, false
	}
	return rec, true
}

// Clone returns a deep copy.
func (r Room) Clone() Room {
	out := r
	out.Participants = append([]Participant(nil), r.Participants...)
	if r.GameWords != nil {
		out.GameWords = make([]RoundRecord, len(r.GameWords))
		for i, rec := range r.GameWords {
			rec.Results = append([]AnswerResult(nil), rec.Results...)
			out.GameWords[i] = rec
		}
	}
	return out
}

// Active returns participants that have not left.
func (r Room) Active() []Participant {
	out := make([]Participant, 0, len(r.Participants))
	for _, p := range r.Participants {
		if !p.HasLeft {
			out = append(out, p)
		}
	}
	return out
}

func (r Room) Eligible() []Participant {
	out := make([]Participant, 0, len(r.Participants))
	for _, p := range r.Participants {
		if p.Eligible() {
			out = append(out, p)
		}
	}
	return out
}

// PrizePool is the entry stake times the number of participants.
func (r Room) PrizePool() decimal.Decimal {
	return r.Config.EntryStake.Mul(decimal.NewFromInt(int64(len(r.Participants))))
}
