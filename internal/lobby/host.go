package lobby

import (
	"context"
	"errors"
	"time"

	"github.com/DoyleJ11/spellduel/internal/bus"
	"github.com/DoyleJ11/spellduel/internal/engine"
	"github.com/DoyleJ11/spellduel/internal/presence"
	"github.com/DoyleJ11/spellduel/internal/protocol"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func (l *Lobby) handleCreate(cfg engine.Config) roomResult {
	if l.role != "" {
		return roomResult{err: ErrInRoom}
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return roomResult{err: err}
	}

	room := engine.NewRoom(l.opts.NewID(), cfg, l.selfParticipant(), l.nowMs())
	l.becomeHost(room)
	if err := l.deps.Bus.Open(l.ctx, l.channel(), l.self.UserID); err != nil {
		_ = l.teardown()
		return roomResult{err: err}
	}
	_ = l.track()

	ctx, cancel := context.WithTimeout(l.ctx, l.opts.StoreTimeout)
	defer cancel()
	if err := l.deps.Store.Create(ctx, room.Clone()); err != nil {
		l.logger.Warn("store room", zap.String("room", room.ID), zap.Error(err))
	}

	l.arm(timerTick, l.opts.HeartbeatInterval, 0)
	l.logger.Info("room created", zap.String("room", room.ID))
	l.emit()
	return roomResult{room: room.Clone()}
}

// resumeHost takes the room back after the creator's process restarted.
// The round in play, if any, is dealt again with a fresh clock.
func (l *Lobby) resumeHost(stored engine.Room, reply chan roomResult) {
	if p, ok := stored.Participant(l.self.UserID); ok {
		p.IsOnline = true
		p.IsReady = true
	}
	l.becomeHost(stored)
	if err := l.deps.Bus.Open(l.ctx, l.channel(), l.self.UserID); err != nil {
		_ = l.teardown()
		reply <- roomResult{err: err}
		return
	}
	_ = l.track()

	if l.room.Status == engine.StatusInProgress {
		if rec, ok := l.room.ActiveRound(); ok {
			l.startRoundClock(*rec)
		} else if l.room.CurrentRound < len(l.room.GameWords) {
			l.arm(timerPause, l.opts.RoundPause, l.room.CurrentRound+1)
		}
	}
	l.publishSync()
	l.snap.queue(l.room.Clone())
	l.arm(timerTick, l.opts.HeartbeatInterval, 0)
	l.logger.Info("room resumed", zap.String("room", l.room.ID), zap.String("status", string(l.room.Status)))
	l.emit()
	reply <- roomResult{room: l.room.Clone()}
}

func (l *Lobby) becomeHost(room engine.Room) {
	l.role = RoleHost
	l.room = room
	l.tracker = presence.NewTracker(l.self.UserID)
	l.answered = map[int]bool{}
}

func (l *Lobby) handleStart() error {
	switch {
	case l.role == "":
		return ErrNoRoom
	case l.role != RoleHost:
		return ErrNotHost
	case l.room.Status != engine.StatusReady || !engine.CanStart(l.room):
		return engine.ErrCannotStart
	}

	ctx, cancel := context.WithTimeout(l.ctx, l.opts.StoreTimeout)
	defer cancel()
	picked, err := l.deps.Words.Pick(ctx, l.room.Config)
	if err != nil {
		return err
	}
	if _, err := l.apply(engine.Command{Type: engine.CmdStartGame, Words: picked}); err != nil {
		return err
	}
	if _, err := l.apply(engine.Command{Type: engine.CmdBeginRound, Round: 1}); err != nil {
		l.logger.Error("begin first round", zap.Error(err))
	}
	return nil
}

// apply runs cmd through the engine against the authoritative room and
// announces whatever it produced.
func (l *Lobby) apply(cmd engine.Command) ([]engine.Event, error) {
	cmd.At = l.nowMs()
	events, next, err := engine.Apply(l.room, cmd)
	if err != nil {
		return nil, err
	}
	l.room = next
	l.announce(events)
	return events, nil
}

func (l *Lobby) announce(events []engine.Event) {
	if len(events) == 0 {
		return
	}
	for _, ev := range events {
		switch ev.Type {
		case engine.EvtGameStarted:
			picked := make([]engine.Word, len(l.room.GameWords))
			for i, rec := range l.room.GameWords {
				picked[i] = rec.Word
			}
			_ = l.broadcast(protocol.TypeStart, protocol.StartPayload{Words: picked})

		case engine.EvtRoundStarted:
			if rec, ok := l.room.Round(ev.Round); ok {
				l.startRoundClock(*rec)
			}

		case engine.EvtRoundEnded:
			l.disarm(timerRound)
			_ = l.broadcast(protocol.TypeRoundEnd, l.roundEndPayload(ev))
			if !l.room.Status.Closed() && ev.Round < len(l.room.GameWords) {
				l.arm(timerPause, l.opts.RoundPause, ev.Round+1)
			}

		case engine.EvtGameEnded:
			_ = l.broadcast(protocol.TypeGameEnd, gameEndPayload(l.room))
			l.logger.Info("game finished", zap.String("room", l.room.ID), zap.String("winner", l.room.WinnerID))

		case engine.EvtGameCancelled:
			l.logger.Info("game cancelled", zap.String("room", l.room.ID))
		}
	}

	if l.room.Status.Closed() {
		l.disarm(timerRound)
		l.disarm(timerPause)
		go l.persistFinal(l.room.Clone())
	}
	l.publishSync()
	l.snap.queue(l.room.Clone())
	l.emit()
}

func (l *Lobby) startRoundClock(rec engine.RoundRecord) {
	limit := time.Duration(l.room.Config.TimeLimitSec) * time.Second
	l.roundStarted = l.opts.Now()
	l.roundDeadline = l.roundStarted.Add(limit)
	_ = l.broadcast(protocol.TypeWord, protocol.WordPayload{Word: rec.Word, Round: rec.Round, TimeLimit: l.room.Config.TimeLimitSec})
	l.arm(timerRound, limit, rec.Round)
}

func (l *Lobby) roundEndPayload(ev engine.Event) protocol.RoundEndPayload {
	p := protocol.RoundEndPayload{Round: ev.Round, Scores: l.room.Scores()}
	if ev.WinnerID != "" {
		winner := ev.WinnerID
		p.WinnerID = &winner
	}
	if rec, ok := l.room.Round(ev.Round); ok {
		p.CorrectAnswer = rec.Word.Text
		p.Results = rec.Results
	}
	return p
}

func gameEndPayload(r engine.Room) protocol.GameEndPayload {
	p := protocol.GameEndPayload{
		WinnerID:    r.WinnerID,
		FinalScores: r.Scores(),
		GameWords:   r.GameWords,
	}
	if w, ok := r.Participant(r.WinnerID); ok {
		p.WinnerName = w.Nickname
	}
	if pool := r.PrizePool(); pool.IsPositive() {
		p.PrizePool = &pool
	}
	return p
}

func (l *Lobby) publishSync() {
	l.lastSync = l.opts.Now()
	_ = l.broadcast(protocol.TypeSync, l.room)
}

// hostInbound turns a follower's intent into an engine command.
func (l *Lobby) hostInbound(m protocol.Message) {
	var (
		cmd engine.Command
		err error
	)
	switch m.Type {
	case protocol.TypeJoin:
		var p protocol.JoinPayload
		if err = m.Decode(&p); err != nil {
			break
		}
		cmd = engine.Command{Type: engine.CmdAddParticipant, Participant: engine.Participant{
			UserID:    m.SenderID,
			Nickname:  p.Nickname,
			AvatarURL: p.AvatarURL,
		}}

	case protocol.TypeLeave:
		cmd = engine.Command{Type: engine.CmdRemoveParticipant, UserID: m.SenderID}

	case protocol.TypeReady:
		var p protocol.ReadyPayload
		err = m.Decode(&p)
		cmd = engine.Command{Type: engine.CmdSetReady, UserID: m.SenderID, Ready: p.IsReady}

	case protocol.TypeAnswer:
		var p protocol.AnswerPayload
		err = m.Decode(&p)
		cmd = engine.Command{Type: engine.CmdSubmitAnswer, UserID: m.SenderID, Round: p.Round, Answer: p.Answer, TimeTakenMs: p.TimeTakenMs}

	case protocol.TypeExitGame:
		cmd = engine.Command{Type: engine.CmdExitGame, UserID: m.SenderID}

	default:
		return
	}
	if err != nil {
		l.logger.Debug("bad payload", zap.String("type", string(m.Type)), zap.String("from", m.SenderID), zap.Error(err))
		return
	}

	if l.room.Status.Closed() {
		err = engine.ErrRoomClosed
	} else {
		_, err = l.apply(cmd)
	}
	if err != nil {
		l.logger.Debug("command rejected", zap.String("type", string(cmd.Type)), zap.String("from", m.SenderID), zap.Error(err))
	}

	// A joiner always learns where it stands, admitted or not.
	if m.Type == protocol.TypeJoin {
		_ = l.sendTo(m.SenderID, protocol.TypeSync, l.room)
	}
}

// hostPresence folds reachability changes into the room. Any change is a
// membership change: it is re-evaluated, synced and stored.
func (l *Lobby) hostPresence(changed bool) {
	if !changed {
		return
	}
	events, err := l.apply(engine.Command{Type: engine.CmdReconcile})
	if err != nil {
		l.logger.Debug("reconcile", zap.Error(err))
		return
	}
	if len(events) == 0 {
		l.publishSync()
		l.snap.queue(l.room.Clone())
	}
}

func (l *Lobby) hostTick() {
	if l.room.Status.Closed() {
		return
	}
	hb := protocol.HeartbeatPayload{}
	if rec, ok := l.room.ActiveRound(); ok {
		hb.Round = rec.Round
		if left := l.roundDeadline.Sub(l.opts.Now()); left > 0 {
			hb.RemainingMs = left.Milliseconds()
		}
	}
	_ = l.broadcast(protocol.TypeHeartbeat, hb)
	if l.opts.Now().Sub(l.lastSync) >= l.opts.SyncInterval {
		l.publishSync()
	}
	l.arm(timerTick, l.opts.HeartbeatInterval, 0)
}

func (l *Lobby) handleLeave(exit bool) error {
	if l.role == "" {
		return ErrNoRoom
	}
	inGame := l.room.Status == engine.StatusInProgress
	if !l.room.Status.Closed() {
		switch l.role {
		case RoleHost:
			cmd := engine.Command{Type: engine.CmdRemoveParticipant, UserID: l.self.UserID}
			if inGame {
				cmd.Type = engine.CmdExitGame
			}
			if _, err := l.apply(cmd); err != nil {
				l.logger.Warn("leave", zap.Error(err))
			}
			if inGame {
				_ = l.broadcast(protocol.TypeExitGame, protocol.ExitGamePayload{UserID: l.self.UserID})
			}
		case RoleFollower:
			if inGame {
				_ = l.broadcast(protocol.TypeExitGame, protocol.ExitGamePayload{UserID: l.self.UserID})
			} else {
				_ = l.broadcast(protocol.TypeLeave, protocol.LeavePayload{UserID: l.self.UserID})
			}
		}
	}
	l.logger.Info("left room", zap.String("room", l.room.ID), zap.Bool("exit", exit && inGame))
	return l.teardown()
}

// teardown releases the subscription. It always completes; the returned
// error only reports what could not be released cleanly.
func (l *Lobby) teardown() error {
	for k := range l.timers {
		l.disarm(timerKind(k))
	}
	if l.pendingJoin != nil {
		l.pendingJoin <- roomResult{err: ErrClosed}
		l.pendingJoin = nil
	}

	var errs error
	ctx, cancel := context.WithTimeout(context.Background(), l.opts.SendTimeout)
	if err := l.deps.Bus.Untrack(ctx); err != nil && !errors.Is(err, bus.ErrNotConnected) {
		errs = multierr.Append(errs, err)
	}
	cancel()
	if err := l.deps.Bus.Close(); err != nil {
		errs = multierr.Append(errs, err)
	}

	l.role = ""
	l.tracker = nil
	l.answered = nil
	l.roundDeadline = time.Time{}
	l.emit()
	return errs
}

func (l *Lobby) handleReannounce() error {
	if l.role == "" {
		return bus.ErrNotOpen
	}
	err := l.track()
	if l.role == RoleHost {
		l.publishSync()
	}
	return err
}

func (l *Lobby) track() error {
	meta := protocol.PresenceMeta{
		Nickname:  l.self.Nickname,
		AvatarURL: l.self.AvatarURL,
		OnlineAt:  l.nowMs(),
	}
	if p, ok := l.room.Participant(l.self.UserID); ok {
		meta.IsReady = p.IsReady
		meta.Score = p.Score
	}
	ctx, cancel := context.WithTimeout(l.ctx, l.opts.SendTimeout)
	defer cancel()
	if err := l.deps.Bus.Track(ctx, meta); err != nil {
		l.logger.Debug("track presence", zap.Error(err))
		return err
	}
	return nil
}

func (l *Lobby) broadcast(t protocol.MessageType, data any) error {
	return l.send("", t, data)
}

func (l *Lobby) sendTo(userID string, t protocol.MessageType, data any) error {
	return l.send(userID, t, data)
}

// send is best effort: failures are logged and left to the periodic sync.
func (l *Lobby) send(to string, t protocol.MessageType, data any) error {
	m, err := protocol.NewMessage(t, l.self.UserID, l.opts.Now(), data)
	if err != nil {
		l.logger.Error("encode message", zap.String("type", string(t)), zap.Error(err))
		return err
	}
	ctx, cancel := context.WithTimeout(l.ctx, l.opts.SendTimeout)
	defer cancel()
	if to == "" {
		err = l.deps.Bus.Broadcast(ctx, m)
	} else {
		err = l.deps.Bus.SendTo(ctx, to, m)
	}
	if err != nil {
		l.logger.Debug("send failed", zap.String("type", string(t)), zap.String("to", to), zap.Error(err))
	}
	return err
}
