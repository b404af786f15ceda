package lobby

import (
	"time"

	"github.com/DoyleJ11/spellduel/internal/engine"
	"go.uber.org/zap"
)

type timerKind int

const (
	timerTick timerKind = iota
	timerRound
	timerPause
	timerJoin
	timerHostWatch
	timerKinds
)

// arm (re)starts the timer of kind. A fire from an earlier arming is
// recognised by its generation and ignored.
func (l *Lobby) arm(kind timerKind, d time.Duration, round int) {
	l.disarm(kind)
	gen := l.gens[kind]
	l.timers[kind] = time.AfterFunc(d, func() {
		l.post(timerFired{kind: kind, gen: gen, round: round})
	})
}

func (l *Lobby) disarm(kind timerKind) {
	l.gens[kind]++
	if t := l.timers[kind]; t != nil {
		t.Stop()
		l.timers[kind] = nil
	}
}

func (l *Lobby) handleTimer(f timerFired) {
	if f.gen != l.gens[f.kind] || l.role == "" {
		return
	}
	l.timers[f.kind] = nil

	var err error
	switch f.kind {
	case timerTick:
		l.hostTick()
	case timerRound:
		_, err = l.apply(engine.Command{Type: engine.CmdRoundTimeout, Round: f.round})
	case timerPause:
		_, err = l.apply(engine.Command{Type: engine.CmdBeginRound, Round: f.round})
	case timerJoin:
		if l.pendingJoin != nil {
			l.failJoin(ErrCannotConnect)
		}
	case timerHostWatch:
		l.hostSilent()
		l.emit()
	}
	if err != nil {
		l.logger.Debug("timer", zap.Int("kind", int(f.kind)), zap.Int("round", f.round), zap.Error(err))
	}
}
