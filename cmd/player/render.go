package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/DoyleJ11/spellduel/internal/bus"
	"github.com/DoyleJ11/spellduel/internal/engine"
	"github.com/DoyleJ11/spellduel/internal/lobby"
)

// renderer prints what changed between successive views.
type renderer struct {
	out  io.Writer
	self string

	status  engine.Status
	conn    bus.Status
	roster  string
	round   int
	settled int
	done    bool
}

func (r *renderer) render(v lobby.View) {
	if v.Room.ID == "" {
		return
	}
	if v.Connection != r.conn && r.conn != "" {
		fmt.Fprintf(r.out, "~ connection %s\n", v.Connection)
	}
	r.conn = v.Connection

	if v.Room.Status != r.status {
		r.status = v.Room.Status
		fmt.Fprintf(r.out, "~ room is %s\n", strings.ReplaceAll(string(v.Room.Status), "_", " "))
	}

	if roster := rosterLine(v.Room); roster != r.roster && !v.Room.Status.Closed() {
		r.roster = roster
		fmt.Fprintf(r.out, "  players: %s\n", roster)
	}

	if v.LastRound != nil && v.LastRound.Round > r.settled {
		r.settled = v.LastRound.Round
		winner := "nobody"
		if p, ok := v.Room.Participant(v.LastRound.WinnerID); ok {
			winner = p.Nickname
		}
		fmt.Fprintf(r.out, "  round %d: %s spelled %q first\n", v.LastRound.Round, winner, v.LastRound.Word.Text)
	}

	if v.CurrentWord != nil && v.Round != r.round {
		r.round = v.Round
		hint := v.CurrentWord.Definition
		if hint == "" {
			hint = "no definition"
		}
		fmt.Fprintf(r.out, "> round %d/%d: %d letters, %s (%s left)\n",
			v.Round, len(v.Room.GameWords), len([]rune(v.CurrentWord.Text)), hint, v.TimeRemaining.Round(time.Second))
	}

	if v.Room.Status.Closed() && !r.done {
		r.done = true
		r.summary(v.Room)
	}
}

func (r *renderer) summary(room engine.Room) {
	if room.Status == engine.StatusCancelled {
		fmt.Fprintln(r.out, "= game cancelled")
		return
	}
	name := "nobody"
	if p, ok := room.Participant(room.WinnerID); ok {
		name = p.Nickname
		if p.UserID == r.self {
			name += " (you)"
		}
	}
	fmt.Fprintf(r.out, "= winner: %s\n", name)
	for _, s := range room.Scores() {
		p, _ := room.Participant(s.UserID)
		fmt.Fprintf(r.out, "  %-16s %d\n", p.Nickname, s.Score)
	}
	if pool := room.PrizePool(); pool.IsPositive() {
		fmt.Fprintf(r.out, "  prize pool %s\n", pool.String())
	}
}

func (r *renderer) state(v lobby.View) {
	fmt.Fprintf(r.out, "room %s (%s), you are %s, %s\n", v.Room.ID, v.Room.Status, v.Role, v.Connection)
	fmt.Fprintf(r.out, "  players: %s\n", rosterLine(v.Room))
	if v.CurrentWord != nil {
		fmt.Fprintf(r.out, "  round %d in play, %s left\n", v.Round, v.TimeRemaining.Round(time.Second))
	}
}

func rosterLine(room engine.Room) string {
	parts := make([]string, 0, len(room.Participants))
	for _, p := range room.Participants {
		mark := ""
		switch {
		case p.HasLeft:
			mark = " (left)"
		case !p.IsOnline:
			mark = " (away)"
		case p.IsReady && room.Status != engine.StatusInProgress:
			mark = " (ready)"
		}
		parts = append(parts, fmt.Sprintf("%s%s", p.Nickname, mark))
	}
	return strings.Join(parts, ", ")
}
