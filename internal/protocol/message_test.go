package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/DoyleJ11/spellduel/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageWireShape(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_123)
	msg, err := NewMessage(TypeAnswer, "u1", at, AnswerPayload{Answer: "rhythm", TimeTakenMs: 1500, Round: 2})
	require.NoError(t, err)

	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "answer",
		"data": {"answer": "rhythm", "time_taken_ms": 1500, "round": 2},
		"sender_id": "u1",
		"timestamp": 1700000000123
	}`, string(raw))
}

func TestRoundEndNullWinner(t *testing.T) {
	msg, err := NewMessage(TypeRoundEnd, "host", time.Now(), RoundEndPayload{CorrectAnswer: "cat", Results: []engine.AnswerResult{}, Scores: []engine.Score{}})
	require.NoError(t, err)
	assert.Contains(t, string(msg.Data), `"winner_id":null`)
}

func TestDecode(t *testing.T) {
	msg, err := NewMessage(TypeWord, "host", time.Now(), WordPayload{Word: engine.Word{ID: "w1", Text: "cat"}, Round: 1, TimeLimit: 30})
	require.NoError(t, err)

	var got WordPayload
	require.NoError(t, msg.Decode(&got))
	assert.Equal(t, "cat", got.Word.Text)
	assert.Equal(t, 30, got.TimeLimit)

	empty, err := NewMessage(TypeHeartbeat, "host", time.Now(), nil)
	require.NoError(t, err)
	assert.ErrorIs(t, empty.Decode(&got), ErrEmptyPayload)

	bad := Message{Type: TypeWord, Data: json.RawMessage(`{"round":"one"}`)}
	assert.Error(t, bad.Decode(&got))
}

func TestUnknownTypeRejected(t *testing.T) {
	_, err := NewMessage(MessageType("chat"), "u1", time.Now(), nil)
	assert.ErrorIs(t, err, ErrUnknownType)
}
