package engine

import (
	"errors"
	"slices"
)

var ErrCannotStart = errors.New("cannot start: not every participant is ready")
var ErrRoomClosed = errors.New("room already finished")
var ErrRoomFull = errors.New("room is full")
var ErrGameInProgress = errors.New("game already in progress")
var ErrNotInProgress = errors.New("game not in progress")
var ErrUnknownParticipant = errors.New("unknown participant")
var ErrStaleRound = errors.New("stale round")
var ErrRoundClosed = errors.New("round already finished")
var ErrRoundOutOfOrder = errors.New("round out of order")
var ErrAlreadyAnswered = errors.New("already answered this round")
var ErrNoWords = errors.New("no words for game")
var ErrUnsupportedCommand = errors.New("unsupported command")

type CommandType string

const (
	CmdAddParticipant    CommandType = "AddParticipant"
	CmdRemoveParticipant CommandType = "RemoveParticipant"
	CmdSetReady          CommandType = "SetReady"
	CmdStartGame         CommandType = "StartGame"
	CmdBeginRound        CommandType = "BeginRound"
	CmdSubmitAnswer      CommandType = "SubmitAnswer"
	CmdRoundTimeout      CommandType = "RoundTimeout"
	CmdExitGame          CommandType = "ExitGame"
	CmdReconcile         CommandType = "Reconcile"
	CmdCancel            CommandType = "Cancel"
)

/*
	CmdAddParticipant    -> EvtParticipantJoined -> EvtStatusChanged (waiting <-> ready)
	CmdRemoveParticipant -> EvtParticipantLeft -> EvtStatusChanged, or the exit rules once in progress
	CmdSetReady          -> EvtReadinessChanged -> EvtStatusChanged
	CmdStartGame         -> EvtStatusChanged -> EvtGameStarted
	CmdBeginRound        -> EvtRoundStarted
	CmdSubmitAnswer      -> EvtAnswerRecorded -> EvtRoundEnded -> EvtGameEnded (after the last round)
	CmdRoundTimeout      -> EvtRoundEnded -> EvtGameEnded
	CmdExitGame          -> EvtParticipantLeft -> EvtGameEnded | EvtGameCancelled when fewer than two remain
	CmdReconcile         -> whatever membership changes imply (readiness or quorum)
*/

type Command struct {
	Type        CommandType
	UserID      string
	Participant Participant
	Ready       bool
	Words       []Word
	Round       int
	Answer      string
	TimeTakenMs int64
	At          int64
}

type EventType string

const (
	EvtParticipantJoined EventType = "ParticipantJoined"
	EvtParticipantLeft   EventType = "ParticipantLeft"
	EvtReadinessChanged  EventType = "ReadinessChanged"
	EvtStatusChanged     EventType = "StatusChanged"
	EvtGameStarted       EventType = "GameStarted"
	EvtRoundStarted      EventType = "RoundStarted"
	EvtAnswerRecorded    EventType = "AnswerRecorded"
	EvtRoundEnded        EventType = "RoundEnded"
	EvtGameEnded         EventType = "GameEnded"
	EvtGameCancelled     EventType = "GameCancelled"
)

type Event struct {
	Type     EventType
	UserID   string
	Round    int
	WinnerID string
	From     Status
	To       Status
}

// Apply validates cmd against s and returns the resulting events and state.
// s is never modified; on error the original state is returned unchanged.
func Apply(s Room, cmd Command) ([]Event, Room, error) {
	if s.Status.Closed() {
		return nil, s, ErrRoomClosed
	}

	next := s.Clone()
	var events []Event
	var err error

	switch cmd.Type {
	case CmdAddParticipant:
		events, err = addParticipant(&next, cmd)
	case CmdRemoveParticipant:
		events, err = removeParticipant(&next, cmd)
	case CmdSetReady:
		events, err = setReady(&next, cmd)
	case CmdStartGame:
		events, err = startGame(&next, cmd)
	case CmdBeginRound:
		events, err = beginRound(&next, cmd)
	case CmdSubmitAnswer:
		events, err = submitAnswer(&next, cmd)
	case CmdRoundTimeout:
		events, err = roundTimeout(&next, cmd)
	case CmdExitGame:
		events, err = exitGame(&next, cmd)
	case CmdReconcile:
		events = reconcile(&next)
	case CmdCancel:
		events = cancel(&next)
	default:
		err = ErrUnsupportedCommand
	}

	if err != nil {
		return nil, s, err
	}
	if len(events) > 0 && cmd.At > 0 {
		next.UpdatedAt = cmd.At
	}
	return events, next, nil
}

func addParticipant(r *Room, cmd Command) ([]Event, error) {
	if p, ok := r.Participant(cmd.Participant.UserID); ok {
		// Rejoin: only reachability changes, has_left stays sticky.
		if p.IsOnline || p.HasLeft {
			return nil, nil
		}
		p.IsOnline = true
		return append([]Event{{Type: EvtParticipantJoined, UserID: p.UserID}}, reconcile(r)...), nil
	}

	if r.Status == StatusInProgress {
		return nil, ErrGameInProgress
	}
	if len(r.Active()) >= r.Config.MaxParticipants {
		return nil, ErrRoomFull
	}

	p := cmd.Participant
	p.Role = RoleMember
	p.IsOnline = true
	p.IsReady = false
	p.Score = 0
	p.HasLeft = false
	if p.JoinedAt == 0 {
		p.JoinedAt = cmd.At
	}
	r.Participants = append(r.Participants, p)

	events := []Event{{Type: EvtParticipantJoined, UserID: p.UserID}}
	return append(events, evaluateReadiness(r)...), nil
}

func removeParticipant(r *Room, cmd Command) ([]Event, error) {
	if r.Status == StatusInProgress {
		return exitGame(r, cmd)
	}

	idx := slices.IndexFunc(r.Participants, func(p Participant) bool { return p.UserID == cmd.UserID })
	if idx < 0 {
		return nil, ErrUnknownParticipant
	}
	if cmd.UserID == r.CreatorID {
		return cancel(r), nil
	}

	r.Participants = slices.Delete(r.Participants, idx, idx+1)
	events := []Event{{Type: EvtParticipantLeft, UserID: cmd.UserID}}
	return append(events, evaluateReadiness(r)...), nil
}

func setReady(r *Room, cmd Command) ([]Event, error) {
	if r.Status == StatusInProgress {
		return nil, ErrGameInProgress
	}
	p, ok := r.Participant(cmd.UserID)
	if !ok || p.HasLeft {
		return nil, ErrUnknownParticipant
	}
	// The creator is implicitly ready for as long as it is present.
	if p.Role == RoleCreator || p.IsReady == cmd.Ready {
		return nil, nil
	}
	p.IsReady = cmd.Ready

	events := []Event{{Type: EvtReadinessChanged, UserID: p.UserID}}
	return append(events, evaluateReadiness(r)...), nil
}

func startGame(r *Room, cmd Command) ([]Event, error) {
	if r.Status != StatusReady || !CanStart(*r) {
		return nil, ErrCannotStart
	}
	if len(cmd.Words) == 0 {
		return nil, ErrNoWords
	}

	r.GameWords = make([]RoundRecord, len(cmd.Words))
	for i, w := range cmd.Words {
		r.GameWords[i] = RoundRecord{Round: i + 1, Word: w, Status: RoundPending}
	}
	r.CurrentRound = 0
	r.WinnerID = ""
	for i := range r.Participants {
		r.Participants[i].Score = 0
	}

	events := []Event{setStatus(r, StatusInProgress)}
	return append(events, Event{Type: EvtGameStarted}), nil
}

func beginRound(r *Room, cmd Command) ([]Event, error) {
	if r.Status != StatusInProgress {
		return nil, ErrNotInProgress
	}
	if cmd.Round != r.CurrentRound+1 {
		return nil, ErrRoundOutOfOrder
	}
	if prev, ok := r.Round(r.CurrentRound); ok && prev.Status != RoundFinished {
		return nil, ErrRoundOutOfOrder
	}
	rec, ok := r.Round(cmd.Round)
	if !ok {
		return nil, ErrRoundOutOfOrder
	}

	rec.Status = RoundActive
	r.CurrentRound = cmd.Round
	return []Event{{Type: EvtRoundStarted, Round: cmd.Round}}, nil
}

func submitAnswer(r *Room, cmd Command) ([]Event, error) {
	if r.Status != StatusInProgress {
		return nil, ErrNotInProgress
	}
	if cmd.Round != r.CurrentRound {
		return nil, ErrStaleRound
	}
	rec, ok := r.Round(cmd.Round)
	if !ok {
		return nil, ErrStaleRound
	}
	if rec.Status == RoundFinished {
		return nil, ErrRoundClosed
	}
	if rec.Status != RoundActive {
		return nil, ErrStaleRound
	}
	p, ok := r.Participant(cmd.UserID)
	if !ok || p.HasLeft {
		return nil, ErrUnknownParticipant
	}
	if rec.answered(cmd.UserID) {
		return nil, ErrAlreadyAnswered
	}

	correct := Matches(cmd.Answer, rec.Word.Text)
	rec.Results = append(rec.Results, AnswerResult{
		UserID:      cmd.UserID,
		Answer:      cmd.Answer,
		Correct:     correct,
		TimeTakenMs: cmd.TimeTakenMs,
		SubmittedAt: cmd.At,
	})
	events := []Event{{Type: EvtAnswerRecorded, UserID: cmd.UserID, Round: cmd.Round}}

	switch {
	case correct:
		events = append(events, finishRound(r, cmd.UserID)...)
	case allAnswered(*r, *rec):
		events = append(events, finishRound(r, "")...)
	}
	return events, nil
}

func roundTimeout(r *Room, cmd Command) ([]Event, error) {
	if r.Status != StatusInProgress {
		return nil, ErrNotInProgress
	}
	if cmd.Round != r.CurrentRound {
		return nil, ErrStaleRound
	}
	rec, ok := r.Round(cmd.Round)
	if !ok {
		return nil, ErrStaleRound
	}
	if rec.Status == RoundFinished {
		return nil, ErrRoundClosed
	}
	return finishRound(r, ""), nil
}

func exitGame(r *Room, cmd Command) ([]Event, error) {
	p, ok := r.Participant(cmd.UserID)
	if !ok {
		return nil, ErrUnknownParticipant
	}
	if p.HasLeft {
		return nil, nil
	}
	if r.Status != StatusInProgress {
		return removeParticipant(r, cmd)
	}

	p.HasLeft = true
	p.IsOnline = false
	p.IsReady = false
	events := []Event{{Type: EvtParticipantLeft, UserID: cmd.UserID}}
	return append(events, enforceQuorum(r)...), nil
}

// reconcile re-derives status after reachability changed underneath the room.
func reconcile(r *Room) []Event {
	switch r.Status {
	case StatusWaiting, StatusReady:
		return evaluateReadiness(r)
	case StatusInProgress:
		return enforceQuorum(r)
	}
	return nil
}

func cancel(r *Room) []Event {
	closeActiveRound(r)
	return []Event{setStatus(r, StatusCancelled), {Type: EvtGameCancelled}}
}

// enforceQuorum applies the exit rule: a game needs two eligible participants
// and a present creator. Otherwise the last eligible one wins, or nobody does.
func enforceQuorum(r *Room) []Event {
	eligible := r.Eligible()
	creatorGone := false
	if c, ok := r.Participant(r.CreatorID); ok && c.HasLeft {
		creatorGone = true
	}

	if !creatorGone && len(eligible) >= 2 {
		if rec, ok := r.ActiveRound(); ok && allAnswered(*r, *rec) {
			return finishRound(r, "")
		}
		return nil
	}

	if len(eligible) == 1 {
		return endGame(r, eligible[0].UserID)
	}
	closeActiveRound(r)
	return []Event{setStatus(r, StatusCancelled), {Type: EvtGameCancelled}}
}

func finishRound(r *Room, winnerID string) []Event {
	rec, ok := r.Round(r.CurrentRound)
	if !ok {
		return nil
	}
	rec.Status = RoundFinished
	rec.WinnerID = winnerID
	if winnerID != "" {
		if p, ok := r.Participant(winnerID); ok {
			p.Score++
		}
	}

	events := []Event{{Type: EvtRoundEnded, Round: rec.Round, WinnerID: winnerID}}
	if rec.Round == len(r.GameWords) {
		events = append(events, endGame(r, SelectWinner(*r))...)
	}
	return events
}

func endGame(r *Room, winnerID string) []Event {
	closeActiveRound(r)
	r.WinnerID = winnerID
	return []Event{setStatus(r, StatusFinished), {Type: EvtGameEnded, WinnerID: winnerID}}
}

// closeActiveRound latches a round that ends because the game does.
func closeActiveRound(r *Room) {
	if rec, ok := r.ActiveRound(); ok {
		rec.Status = RoundFinished
	}
}

func evaluateReadiness(r *Room) []Event {
	want := StatusWaiting
	if CanStart(*r) {
		want = StatusReady
	}
	if r.Status == want {
		return nil
	}
	return []Event{setStatus(r, want)}
}

func setStatus(r *Room, to Status) Event {
	from := r.Status
	r.Status = to
	return Event{Type: EvtStatusChanged, From: from, To: to}
}

func allAnswered(r Room, rec RoundRecord) bool {
	eligible := r.Eligible()
	if len(eligible) == 0 {
		return false
	}
	for _, p := range eligible {
		if !rec.answered(p.UserID) {
			return false
		}
	}
	return true
}
