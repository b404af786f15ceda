package engine

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func words(texts ...string) []Word {
	out := make([]Word, len(texts))
	for i, t := range texts {
		out[i] = Word{ID: t, Text: t}
	}
	return out
}

func newRoom(ids ...string) Room {
	r := NewRoom("room-1", Config{}.WithDefaults(), Participant{UserID: ids[0], Nickname: ids[0]}, 1)
	for _, id := range ids[1:] {
		r.Participants = append(r.Participants, Participant{UserID: id, Nickname: id, Role: RoleMember, IsOnline: true, IsReady: true})
	}
	if CanStart(r) {
		r.Status = StatusReady
	}
	return r
}

// inRound returns a room playing round 1 of the given words.
func inRound(t *testing.T, r Room, ws ...string) Room {
	t.Helper()
	_, r, err := Apply(r, Command{Type: CmdStartGame, Words: words(ws...)})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	_, r, err = Apply(r, Command{Type: CmdBeginRound, Round: 1})
	if err != nil {
		t.Fatalf("begin round: %v", err)
	}
	return r
}

func TestReadinessTransitions(t *testing.T) {
	r := NewRoom("room-1", Config{}.WithDefaults(), Participant{UserID: "a"}, 1)

	events, r, err := Apply(r, Command{Type: CmdAddParticipant, Participant: Participant{UserID: "b"}})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !ContainsEvent(events, EvtParticipantJoined) || r.Status != StatusWaiting {
		t.Fatalf("want joined and waiting, got %v %s", events, r.Status)
	}

	events, r, err = Apply(r, Command{Type: CmdSetReady, UserID: "b", Ready: true})
	if err != nil {
		t.Fatalf("ready: %v", err)
	}
	if r.Status != StatusReady || !ContainsEvent(events, EvtStatusChanged) {
		t.Fatalf("want ready, got %s", r.Status)
	}

	_, r, _ = Apply(r, Command{Type: CmdSetReady, UserID: "b", Ready: false})
	if r.Status != StatusWaiting {
		t.Fatalf("want back to waiting, got %s", r.Status)
	}
}

func TestCreatorReadinessIsImplicit(t *testing.T) {
	r := newRoom("a", "b")
	events, next, err := Apply(r, Command{Type: CmdSetReady, UserID: "a", Ready: false})
	if err != nil || len(events) != 0 {
		t.Fatalf("want silent no-op, got %v %v", events, err)
	}
	if p, _ := next.Participant("a"); !p.IsReady {
		t.Fatalf("creator must stay ready")
	}
}

func TestAddParticipantRejections(t *testing.T) {
	full := NewRoom("room-1", Config{MaxParticipants: 2}.WithDefaults(), Participant{UserID: "a"}, 1)
	full.Participants = append(full.Participants, Participant{UserID: "b", IsOnline: true})

	cases := []struct {
		name    string
		setup   Room
		wantErr error
	}{
		{name: "room full", setup: full, wantErr: ErrRoomFull},
		{name: "game in progress", setup: inRound(t, newRoom("a", "b"), "cat"), wantErr: ErrGameInProgress},
		{name: "closed room", setup: Room{Status: StatusFinished}, wantErr: ErrRoomClosed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, got, err := Apply(tc.setup, Command{Type: CmdAddParticipant, Participant: Participant{UserID: "z"}})
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("want %v, got %v", tc.wantErr, err)
			}
			if _, ok := got.Participant("z"); ok {
				t.Fatalf("rejected participant must not be added")
			}
		})
	}
}

func TestStartRequiresReadiness(t *testing.T) {
	r := newRoom("a", "b")
	r.Participants[1].IsReady = false
	r.Status = StatusReady // stale status must not be trusted

	_, got, err := Apply(r, Command{Type: CmdStartGame, Words: words("cat")})
	if !errors.Is(err, ErrCannotStart) {
		t.Fatalf("want ErrCannotStart, got %v", err)
	}
	if got.Status != StatusReady {
		t.Fatalf("state must not change on rejected start")
	}
}

func TestRoundLatchIgnoresLateAnswers(t *testing.T) {
	r := inRound(t, newRoom("a", "b", "c"), "apple", "pear")

	events, r, err := Apply(r, Command{Type: CmdSubmitAnswer, UserID: "b", Round: 1, Answer: "APPLE"})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	ended, ok := FindEvent(events, EvtRoundEnded)
	if !ok || ended.WinnerID != "b" {
		t.Fatalf("want round won by b, got %v", events)
	}

	for _, late := range []Command{
		{Type: CmdSubmitAnswer, UserID: "c", Round: 1, Answer: "apple"},
		{Type: CmdSubmitAnswer, UserID: "a", Round: 1, Answer: "apple"},
		{Type: CmdRoundTimeout, Round: 1},
	} {
		_, next, err := Apply(r, late)
		if !errors.Is(err, ErrRoundClosed) {
			t.Fatalf("want ErrRoundClosed, got %v", err)
		}
		if p, _ := next.Participant("c"); p.Score != 0 {
			t.Fatalf("late answer scored")
		}
	}
	if p, _ := r.Participant("b"); p.Score != 1 {
		t.Fatalf("winner must score exactly 1, got %d", p.Score)
	}
}

func TestStaleRoundRejected(t *testing.T) {
	r := inRound(t, newRoom("a", "b"), "apple", "pear")

	for _, round := range []int{0, 2, 7} {
		_, next, err := Apply(r, Command{Type: CmdSubmitAnswer, UserID: "b", Round: round, Answer: "apple"})
		if !errors.Is(err, ErrStaleRound) {
			t.Fatalf("round %d: want ErrStaleRound, got %v", round, err)
		}
		if len(next.GameWords[0].Results) != 0 {
			t.Fatalf("stale answer recorded")
		}
	}
}

func TestDuplicateAnswerRejected(t *testing.T) {
	r := inRound(t, newRoom("a", "b", "c"), "apple")
	_, r, _ = Apply(r, Command{Type: CmdSubmitAnswer, UserID: "b", Round: 1, Answer: "appel"})
	_, _, err := Apply(r, Command{Type: CmdSubmitAnswer, UserID: "b", Round: 1, Answer: "apple"})
	if !errors.Is(err, ErrAlreadyAnswered) {
		t.Fatalf("want ErrAlreadyAnswered, got %v", err)
	}
}

func TestRoundEndsWhenEveryoneAnswered(t *testing.T) {
	r := inRound(t, newRoom("a", "b"), "apple", "pear")
	_, r, _ = Apply(r, Command{Type: CmdSubmitAnswer, UserID: "a", Round: 1, Answer: "aple"})
	events, r, _ := Apply(r, Command{Type: CmdSubmitAnswer, UserID: "b", Round: 1, Answer: "appl"})

	ended, ok := FindEvent(events, EvtRoundEnded)
	if !ok || ended.WinnerID != "" {
		t.Fatalf("want round ended without winner, got %v", events)
	}
	if r.GameWords[0].Status != RoundFinished || r.Status != StatusInProgress {
		t.Fatalf("unexpected state %s / %s", r.GameWords[0].Status, r.Status)
	}
}

func TestTimeoutOnLastRoundEndsGame(t *testing.T) {
	r := inRound(t, newRoom("a", "b"), "apple")
	events, r, err := Apply(r, Command{Type: CmdRoundTimeout, Round: 1})
	if err != nil {
		t.Fatalf("timeout: %v", err)
	}
	if !ContainsEvent(events, EvtGameEnded) || r.Status != StatusFinished {
		t.Fatalf("want game ended, got %v", events)
	}
	if r.WinnerID != "a" {
		t.Fatalf("all-zero tie must favor creator, got %q", r.WinnerID)
	}
}

func TestBeginRoundOrdering(t *testing.T) {
	r := inRound(t, newRoom("a", "b"), "apple", "pear")

	if _, _, err := Apply(r, Command{Type: CmdBeginRound, Round: 2}); !errors.Is(err, ErrRoundOutOfOrder) {
		t.Fatalf("round 2 must wait for round 1 to finish, got %v", err)
	}
	_, r, _ = Apply(r, Command{Type: CmdRoundTimeout, Round: 1})
	if _, _, err := Apply(r, Command{Type: CmdBeginRound, Round: 3}); !errors.Is(err, ErrRoundOutOfOrder) {
		t.Fatalf("want ErrRoundOutOfOrder, got %v", err)
	}
	events, r, err := Apply(r, Command{Type: CmdBeginRound, Round: 2})
	if err != nil || !ContainsEvent(events, EvtRoundStarted) || r.CurrentRound != 2 {
		t.Fatalf("want round 2 started, got %v %v", events, err)
	}
}

func TestSelectWinner(t *testing.T) {
	cases := []struct {
		name   string
		scores map[string]int
		left   []string
		want   string
	}{
		{name: "tie favors creator", scores: map[string]int{"a": 3, "b": 3, "c": 1}, want: "a"},
		{name: "highest wins", scores: map[string]int{"a": 1, "b": 3, "c": 2}, want: "b"},
		{name: "non-creator tie takes lowest id", scores: map[string]int{"a": 0, "c": 2, "b": 2}, want: "b"},
		{name: "left participants excluded", scores: map[string]int{"a": 1, "b": 5, "c": 2}, left: []string{"b"}, want: "c"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRoom("a", "b", "c")
			for i := range r.Participants {
				p := &r.Participants[i]
				p.Score = tc.scores[p.UserID]
				for _, id := range tc.left {
					if id == p.UserID {
						p.HasLeft = true
					}
				}
			}
			if got := SelectWinner(r); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestHostExit(t *testing.T) {
	cases := []struct {
		name       string
		ids        []string
		offline    []string
		wantStatus Status
		wantWinner string
	}{
		{name: "one eligible remains and wins", ids: []string{"a", "b"}, wantStatus: StatusFinished, wantWinner: "b"},
		{name: "nobody remains", ids: []string{"a", "b"}, offline: []string{"b"}, wantStatus: StatusCancelled},
		{name: "several remain without authority", ids: []string{"a", "b", "c"}, wantStatus: StatusCancelled},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := inRound(t, newRoom(tc.ids...), "apple", "pear")
			for _, id := range tc.offline {
				p, _ := r.Participant(id)
				p.IsOnline = false
			}
			_, r, err := Apply(r, Command{Type: CmdExitGame, UserID: "a"})
			if err != nil {
				t.Fatalf("exit: %v", err)
			}
			if r.Status != tc.wantStatus || r.WinnerID != tc.wantWinner {
				t.Fatalf("got %s/%q, want %s/%q", r.Status, r.WinnerID, tc.wantStatus, tc.wantWinner)
			}
			if r.GameWords[0].Status != RoundFinished {
				t.Fatalf("active round must be latched when the game stops")
			}
			if p, _ := r.Participant("a"); !p.HasLeft {
				t.Fatalf("has_left must be set")
			}
		})
	}
}

func TestFollowerExitBelowQuorumEndsGame(t *testing.T) {
	r := inRound(t, newRoom("a", "b"), "apple", "pear")
	events, r, _ := Apply(r, Command{Type: CmdExitGame, UserID: "b"})
	if !ContainsEvent(events, EvtGameEnded) || r.WinnerID != "a" {
		t.Fatalf("want creator declared winner, got %v %q", events, r.WinnerID)
	}

	// Closed rooms are immutable.
	if _, _, err := Apply(r, Command{Type: CmdReconcile}); !errors.Is(err, ErrRoomClosed) {
		t.Fatalf("want ErrRoomClosed, got %v", err)
	}
}

func TestReconcileAfterDisconnect(t *testing.T) {
	r := inRound(t, newRoom("a", "b", "c"), "apple")
	_, r, _ = Apply(r, Command{Type: CmdSubmitAnswer, UserID: "a", Round: 1, Answer: "x"})
	_, r, _ = Apply(r, Command{Type: CmdSubmitAnswer, UserID: "b", Round: 1, Answer: "y"})

	p, _ := r.Participant("c")
	p.IsOnline = false
	events, r, _ := Apply(r, Command{Type: CmdReconcile})
	if !ContainsEvent(events, EvtRoundEnded) {
		t.Fatalf("round must end once every eligible participant answered, got %v", events)
	}
}

func TestLeaveBeforeStart(t *testing.T) {
	r := newRoom("a", "b")
	events, next, err := Apply(r, Command{Type: CmdRemoveParticipant, UserID: "b"})
	if err != nil || !ContainsEvent(events, EvtParticipantLeft) {
		t.Fatalf("unexpected %v %v", events, err)
	}
	if len(next.Participants) != 1 || next.Status != StatusWaiting {
		t.Fatalf("want only creator left and waiting, got %+v", next)
	}

	_, next, _ = Apply(r, Command{Type: CmdRemoveParticipant, UserID: "a"})
	if next.Status != StatusCancelled {
		t.Fatalf("creator leaving cancels the room, got %s", next.Status)
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	r := inRound(t, newRoom("a", "b", "c"), "apple")
	_, _, _ = Apply(r, Command{Type: CmdSubmitAnswer, UserID: "b", Round: 1, Answer: "apple"})
	if len(r.GameWords[0].Results) != 0 || r.Participants[1].Score != 0 {
		t.Fatalf("input room mutated")
	}
}

func TestMatches(t *testing.T) {
	cases := []struct {
		answer, target string
		want           bool
	}{
		{"Necessary", "necessary", true},
		{"  RHYTHM ", "rhythm", true},
		{"NAÏVE", "naïve", true},
		{"recieve", "receive", false},
		{"", "", false},
	}
	for _, tc := range cases {
		if got := Matches(tc.answer, tc.target); got != tc.want {
			t.Fatalf("Matches(%q, %q) = %v, want %v", tc.answer, tc.target, got, tc.want)
		}
	}
}

func TestPrizePool(t *testing.T) {
	r := newRoom("a", "b", "c")
	r.Config.EntryStake = decimal.RequireFromString("2.50")
	if got := r.PrizePool(); !got.Equal(decimal.RequireFromString("7.5")) {
		t.Fatalf("got %s", got)
	}
}

func TestMergeIsSelfSufficient(t *testing.T) {
	host := inRound(t, newRoom("a", "b", "c"), "apple", "pear")
	_, host, _ = Apply(host, Command{Type: CmdSubmitAnswer, UserID: "c", Round: 1, Answer: "apple"})
	host.Config.EntryStake = decimal.RequireFromString("5")

	stale := NewRoom("room-1", Config{}.WithDefaults(), Participant{UserID: "a"}, 1)
	stale.Participants = append(stale.Participants, Participant{UserID: "b", IsOnline: true, IsReady: false})

	// The follower receives the snapshot off the wire.
	raw, err := json.Marshal(host)
	if err != nil {
		t.Fatal(err)
	}
	var remote Room
	if err := json.Unmarshal(raw, &remote); err != nil {
		t.Fatal(err)
	}

	merged := Merge(stale, remote, "b")
	mine, _ := merged.Participant("b")
	if mine.IsReady {
		t.Fatalf("local readiness must be preserved")
	}

	// Modulo b's own flags the replica now equals the host's room.
	mine.IsReady = true
	got, _ := json.Marshal(merged)
	if string(got) != string(raw) {
		t.Fatalf("merged room differs from host:\n got %s\nwant %s", got, raw)
	}
}

func TestMergeKeepsClosedReplica(t *testing.T) {
	local := newRoom("a", "b")
	local.Status = StatusFinished
	remote := newRoom("a", "b")
	if got := Merge(local, remote, "b"); got.Status != StatusFinished {
		t.Fatalf("late snapshot reopened a finished room")
	}
}

func TestObserveRoundLatch(t *testing.T) {
	r := ObserveStart(newRoom("a", "b"), words("apple", "pear"))
	r, ok := ObserveRound(r, 1, Word{Text: "apple"})
	if !ok || r.CurrentRound != 1 {
		t.Fatalf("round 1 not observed")
	}
	r, ok = ObserveRoundEnd(r, 1, "b", nil, []Score{{UserID: "b", Score: 1}})
	if !ok {
		t.Fatalf("round end not observed")
	}
	if _, ok := ObserveRoundEnd(r, 1, "a", nil, []Score{{UserID: "a", Score: 1}}); ok {
		t.Fatalf("duplicate round_end must be ignored")
	}
	if _, ok := ObserveRound(r, 1, Word{Text: "apple"}); ok {
		t.Fatalf("finished round reopened")
	}

	// A word for round 2 arriving before we saw round 1 end still latches round 1.
	skipped := ObserveStart(newRoom("a", "b"), words("apple", "pear"))
	skipped, _ = ObserveRound(skipped, 1, Word{Text: "apple"})
	skipped, ok = ObserveRound(skipped, 2, Word{Text: "pear"})
	if !ok || skipped.GameWords[0].Status != RoundFinished {
		t.Fatalf("round 1 must be latched by round 2's word")
	}

	done := ObserveGameEnd(skipped, "b", []Score{{UserID: "b", Score: 2}}, nil)
	if done.Status != StatusFinished || done.GameWords[1].Status != RoundFinished {
		t.Fatalf("game end must close the replica")
	}
}
