package engine

// Followers never decide transitions; they fold the host's announcements into
// their replica. Every function here is idempotent so duplicated deliveries
// after a reconnect leave the replica unchanged.

// Merge replaces local with the host's snapshot. The local participant's own
// online/ready flags are owned locally and survive the merge, so a snapshot
// sent before a readiness toggle cannot revert it.
func Merge(local, remote Room, selfID string) Room {
	if local.ID != "" && local.ID != remote.ID {
		return local
	}
	if local.Status.Closed() && !remote.Status.Closed() {
		return local
	}

	out := remote.Clone()
	mine, ok := local.Participant(selfID)
	if !ok {
		return out
	}
	if p, ok := out.Participant(selfID); ok && !p.HasLeft {
		p.IsOnline = mine.IsOnline
		p.IsReady = mine.IsReady
	}
	return out
}

// ObserveStart installs the game's word sequence.
func ObserveStart(r Room, words []Word) Room {
	if r.Status.Closed() || (r.Status == StatusInProgress && len(r.GameWords) > 0) {
		return r
	}
	out := r.Clone()
	out.Status = StatusInProgress
	out.CurrentRound = 0
	out.WinnerID = ""
	out.GameWords = make([]RoundRecord, len(words))
	for i, w := range words {
		out.GameWords[i] = RoundRecord{Round: i + 1, Word: w, Status: RoundPending}
	}
	for i := range out.Participants {
		out.Participants[i].Score = 0
	}
	return out
}

// ObserveRound marks round as active. It reports false when the round is
// already latched or older than the one in play.
func ObserveRound(r Room, round int, word Word) (Room, bool) {
	if r.Status.Closed() || round < 1 || round < r.CurrentRound {
		return r, false
	}
	if rec, ok := r.Round(round); ok && rec.Status == RoundFinished {
		return r, false
	}

	out := r.Clone()
	out.Status = StatusInProgress
	for len(out.GameWords) < round {
		out.GameWords = append(out.GameWords, RoundRecord{Round: len(out.GameWords) + 1, Status: RoundPending})
	}
	// A round_end we never saw is implied by the next word.
	for i := 0; i < round-1; i++ {
		if out.GameWords[i].Status == RoundActive {
			out.GameWords[i].Status = RoundFinished
		}
	}
	rec := &out.GameWords[round-1]
	rec.Word = word
	rec.Status = RoundActive
	out.CurrentRound = round
	return out, true
}

// ObserveRoundEnd latches a round with the host's verdict. round 0 means the
// round currently in play.
func ObserveRoundEnd(r Room, round int, winnerID string, results []AnswerResult, scores []Score) (Room, bool) {
	if r.Status.Closed() {
		return r, false
	}
	if round == 0 {
		round = r.CurrentRound
	}
	rec, ok := r.Round(round)
	if !ok || rec.Status == RoundFinished {
		return r, false
	}

	out := r.Clone()
	rec, _ = out.Round(round)
	rec.Status = RoundFinished
	rec.WinnerID = winnerID
	rec.Results = append([]AnswerResult(nil), results...)
	applyScores(&out, scores)
	return out, true
}

// ObserveGameEnd closes the replica with the host's final result.
func ObserveGameEnd(r Room, winnerID string, scores []Score, words []RoundRecord) Room {
	if r.Status.Closed() {
		return r
	}
	out := r.Clone()
	if len(words) > 0 {
		out.GameWords = append([]RoundRecord(nil), words...)
	}
	closeActiveRound(&out)
	out.Status = StatusFinished
	out.WinnerID = winnerID
	applyScores(&out, scores)
	return out
}

func applyScores(r *Room, scores []Score) {
	for _, s := range scores {
		if p, ok := r.Participant(s.UserID); ok {
			p.Score = s.Score
		}
	}
}
