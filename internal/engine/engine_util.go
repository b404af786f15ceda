package engine

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

// CanStart reports whether the room satisfies the ready precondition: at
// least two participants, and every non-creator one ready and online.
func CanStart(r Room) bool {
	active := r.Active()
	if len(active) < 2 {
		return false
	}
	for _, p := range active {
		if p.Role == RoleCreator {
			continue
		}
		if !p.IsReady || !p.IsOnline {
			return false
		}
	}
	return true
}

// Matches compares an answer with the target word, ignoring case and
// surrounding whitespace.
func Matches(answer, target string) bool {
	fold := cases.Fold()
	a := fold.String(strings.TrimSpace(answer))
	return a != "" && a == fold.String(strings.TrimSpace(target))
}

// SelectWinner picks the highest scorer among participants that have not
// left. Ties go to the creator, then to the lowest user id.
func SelectWinner(r Room) string {
	best := -1
	var tied []string
	for _, p := range r.Participants {
		if p.HasLeft {
			continue
		}
		switch {
		case p.Score > best:
			best = p.Score
			tied = []string{p.UserID}
		case p.Score == best:
			tied = append(tied, p.UserID)
		}
	}
	if len(tied) == 0 {
		return ""
	}
	for _, id := range tied {
		if id == r.CreatorID {
			return id
		}
	}
	sort.Strings(tied)
	return tied[0]
}

// Scores lists every participant's score ordered by user id.
func (r Room) Scores() []Score {
	out := make([]Score, 0, len(r.Participants))
	for _, p := range r.Participants {
		out = append(out, Score{UserID: p.UserID, Score: p.Score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

func FindEvent(events []Event, eventType EventType) (Event, bool) {
	for _, event := range events {
		if event.Type == eventType {
			return event, true
		}
	}
	return Event{}, false
}
