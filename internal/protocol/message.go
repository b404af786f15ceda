package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DoyleJ11/spellduel/internal/engine"
	"github.com/shopspring/decimal"
)

var ErrEmptyPayload = errors.New("message has no payload")
var ErrUnknownType = errors.New("unknown message type")

type MessageType string

const (
	TypeJoin      MessageType = "join"
	TypeLeave     MessageType = "leave"
	TypeReady     MessageType = "ready"
	TypeStart     MessageType = "start"
	TypeWord      MessageType = "word"
	TypeAnswer    MessageType = "answer"
	TypeRoundEnd  MessageType = "round_end"
	TypeGameEnd   MessageType = "game_end"
	TypeSync      MessageType = "sync"
	TypeExitGame  MessageType = "exit_game"
	TypeHeartbeat MessageType = "heartbeat"
)

func (t MessageType) Valid() bool {
	switch t {
	case TypeJoin, TypeLeave, TypeReady, TypeStart, TypeWord, TypeAnswer,
		TypeRoundEnd, TypeGameEnd, TypeSync, TypeExitGame, TypeHeartbeat:
		return true
	}
	return false
}

// Message is the envelope every participant exchanges over the bus. Each one
// is self-contained; sync carries the whole room.
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	SenderID  string          `json:"sender_id"`
	Timestamp int64           `json:"timestamp"`
}

// NewMessage encodes data into an envelope stamped at the given time.
func NewMessage(t MessageType, senderID string, at time.Time, data any) (Message, error) {
	if !t.Valid() {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	m := Message{Type: t, SenderID: senderID, Timestamp: at.UnixMilli()}
	if data == nil {
		return m, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	m.Data = raw
	return m, nil
}

// Decode unpacks the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return ErrEmptyPayload
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

type JoinPayload struct {
	UserID           string `json:"user_id"`
	Nickname         string `json:"nickname"`
	AvatarURL        string `json:"avatar_url,omitempty"`
	TransportAddress string `json:"transport_address"`
}

type LeavePayload struct {
	UserID string `json:"user_id"`
}

type ReadyPayload struct {
	IsReady bool `json:"is_ready"`
}

type StartPayload struct {
	Words []engine.Word `json:"words"`
}

type WordPayload struct {
	Word      engine.Word `json:"word"`
	Round     int         `json:"round"`
	TimeLimit int         `json:"time_limit"`
}

type AnswerPayload struct {
	Answer      string `json:"answer"`
	TimeTakenMs int64  `json:"time_taken_ms"`
	Round       int    `json:"round"`
}

// RoundEndPayload also names the round so a late delivery cannot latch the
// wrong one.
type RoundEndPayload struct {
	Round         int                   `json:"round,omitempty"`
	WinnerID      *string               `json:"winner_id"`
	CorrectAnswer string                `json:"correct_answer"`
	Results       []engine.AnswerResult `json:"results"`
	Scores        []engine.Score        `json:"scores"`
}

type GameEndPayload struct {
	WinnerID    string               `json:"winner_id"`
	WinnerName  string               `json:"winner_name"`
	FinalScores []engine.Score       `json:"final_scores"`
	PrizePool   *decimal.Decimal     `json:"prize_pool,omitempty"`
	GameWords   []engine.RoundRecord `json:"game_words,omitempty"`
}

type ExitGamePayload struct {
	UserID string `json:"user_id"`
}

type HeartbeatPayload struct {
	Round       int   `json:"round,omitempty"`
	RemainingMs int64 `json:"remaining_ms,omitempty"`
}
