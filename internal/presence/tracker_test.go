package presence

import (
	"testing"

	"github.com/DoyleJ11/spellduel/internal/engine"
	"github.com/DoyleJ11/spellduel/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func room() engine.Room {
	r := engine.NewRoom("r1", engine.Config{}.WithDefaults(), engine.Participant{UserID: "host"}, 1)
	r.Participants = append(r.Participants,
		engine.Participant{UserID: "me", Role: engine.RoleMember, IsOnline: true, IsReady: true},
		engine.Participant{UserID: "other", Role: engine.RoleMember, IsOnline: true, IsReady: true},
	)
	return r
}

func participant(t *testing.T, r engine.Room, id string) engine.Participant {
	t.Helper()
	p, ok := r.Participant(id)
	require.True(t, ok, "participant %s", id)
	return *p
}

func TestSnapshotMarksAbsentOffline(t *testing.T) {
	r := room()
	tr := NewTracker("me")

	changed := tr.ApplySnapshot(&r, Snapshot{
		"host": {IsReady: false},
	})
	require.True(t, changed)

	host := participant(t, r, "host")
	assert.True(t, host.IsOnline)
	assert.True(t, host.IsReady, "creator is ready while online whatever it advertises")

	other := participant(t, r, "other")
	assert.False(t, other.IsOnline)
	assert.False(t, other.IsReady)
}

func TestSnapshotNeverTouchesLocalEntry(t *testing.T) {
	r := room()
	p, _ := r.Participant("me")
	p.IsReady = true

	tr := NewTracker("me")
	tr.ApplySnapshot(&r, Snapshot{"host": {}, "me": {IsReady: false}})

	me := participant(t, r, "me")
	assert.True(t, me.IsReady, "in-flight snapshot must not revert a local toggle")
	assert.True(t, me.IsOnline)

	tr.ApplyLeave(&r, "me")
	assert.True(t, participant(t, r, "me").IsOnline)
}

func TestLeaveForcesNotReady(t *testing.T) {
	r := room()
	tr := NewTracker("host")
	tr.ApplySnapshot(&r, Snapshot{"me": {IsReady: true}, "other": {IsReady: true}})
	require.True(t, participant(t, r, "other").IsReady)

	assert.True(t, tr.ApplyLeave(&r, "other"))
	other := participant(t, r, "other")
	assert.False(t, other.IsOnline)
	assert.False(t, other.IsReady)
	assert.False(t, tr.IsPresent("other"))

	// Coming back restores the advertised readiness.
	assert.True(t, tr.ApplyJoin(&r, "other", protocol.PresenceMeta{IsReady: false}))
	other = participant(t, r, "other")
	assert.True(t, other.IsOnline)
	assert.False(t, other.IsReady)
	assert.Equal(t, []string{"me", "other"}, tr.Present())
}

func TestUnknownAndDepartedParticipants(t *testing.T) {
	r := room()
	p, _ := r.Participant("other")
	p.HasLeft = true
	p.IsOnline = false
	p.IsReady = false

	tr := NewTracker("host")
	assert.False(t, tr.ApplyJoin(&r, "stranger", protocol.PresenceMeta{}))
	assert.False(t, tr.ApplyJoin(&r, "other", protocol.PresenceMeta{IsReady: true}), "has_left is sticky")
	assert.True(t, tr.IsPresent("stranger"))
}
