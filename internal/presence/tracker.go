// Package presence folds the transport's membership feed into a room.
//
// The tracker knows who is reachable on the channel; it does not know about
// rounds or scores. The local participant's entry is never touched here: its
// online and ready flags are owned by local actions, so a snapshot already in
// flight cannot revert a readiness toggle.
package presence

import (
	"maps"
	"slices"

	"github.com/DoyleJ11/spellduel/internal/engine"
	"github.com/DoyleJ11/spellduel/internal/protocol"
)

type Snapshot map[string]protocol.PresenceMeta

type Tracker struct {
	localID string
	present Snapshot
}

func NewTracker(localID string) *Tracker {
	return &Tracker{localID: localID, present: Snapshot{}}
}

// ApplySnapshot replaces the known membership and reports whether room changed.
func (t *Tracker) ApplySnapshot(room *engine.Room, snap Snapshot) bool {
	t.present = maps.Clone(snap)
	if t.present == nil {
		t.present = Snapshot{}
	}

	changed := false
	for i := range room.Participants {
		p := &room.Participants[i]
		if p.UserID == t.localID {
			continue
		}
		meta, online := t.present[p.UserID]
		changed = set(p, online, meta.IsReady) || changed
	}
	return changed
}

// ApplyJoin records one participant becoming reachable.
func (t *Tracker) ApplyJoin(room *engine.Room, key string, meta protocol.PresenceMeta) bool {
	t.present[key] = meta
	if key == t.localID {
		return false
	}
	p, ok := room.Participant(key)
	if !ok {
		return false
	}
	return set(p, true, meta.IsReady)
}

// ApplyLeave records one participant dropping off. Whoever drops is no longer
// ready.
func (t *Tracker) ApplyLeave(room *engine.Room, key string) bool {
	delete(t.present, key)
	if key == t.localID {
		return false
	}
	p, ok := room.Participant(key)
	if !ok {
		return false
	}
	return set(p, false, false)
}

func (t *Tracker) IsPresent(userID string) bool {
	_, ok := t.present[userID]
	return ok
}

// Present lists reachable participant ids in sorted order.
func (t *Tracker) Present() []string {
	return slices.Sorted(maps.Keys(t.present))
}

func set(p *engine.Participant, online, advertisedReady bool) bool {
	if p.HasLeft {
		online = false
	}
	ready := online && advertisedReady
	if p.Role == engine.RoleCreator {
		ready = online
	}
	if p.IsOnline == online && p.IsReady == ready {
		return false
	}
	p.IsOnline = online
	p.IsReady = ready
	return true
}
