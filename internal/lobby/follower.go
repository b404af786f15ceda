package lobby

import (
	"context"
	"errors"
	"time"

	"github.com/DoyleJ11/spellduel/internal/bus"
	"github.com/DoyleJ11/spellduel/internal/engine"
	"github.com/DoyleJ11/spellduel/internal/presence"
	"github.com/DoyleJ11/spellduel/internal/protocol"
	"github.com/DoyleJ11/spellduel/internal/store"
	"go.uber.org/zap"
)

func (l *Lobby) handleJoin(id string, reply chan roomResult) {
	if l.role != "" {
		reply <- roomResult{err: ErrInRoom}
		return
	}

	ctx, cancel := context.WithTimeout(l.ctx, l.opts.StoreTimeout)
	stored, err := l.deps.Store.Get(ctx, id)
	cancel()
	switch {
	case errors.Is(err, store.ErrNotFound):
		reply <- roomResult{err: ErrRoomNotFound}
		return
	case err != nil:
		// The host's sync fills in everything else.
		l.logger.Warn("load room", zap.String("room", id), zap.Error(err))
		stored = engine.Room{ID: id}
	case stored.Status.Closed():
		reply <- roomResult{room: stored, err: ErrRoomFinished}
		return
	case stored.CreatorID == l.self.UserID:
		l.resumeHost(stored, reply)
		return
	}

	if stored.CreatorID != "" {
		if err := admissible(stored, l.self.UserID); err != nil {
			reply <- roomResult{room: stored, err: err}
			return
		}
	}

	if p, ok := stored.Participant(l.self.UserID); ok {
		p.IsOnline = true
	}
	l.role = RoleFollower
	l.room = stored
	l.lastSync = time.Time{}
	l.tracker = presence.NewTracker(l.self.UserID)
	l.answered = map[int]bool{}
	if err := l.deps.Bus.Open(l.ctx, l.channel(), l.self.UserID); err != nil {
		_ = l.teardown()
		reply <- roomResult{err: err}
		return
	}
	_ = l.track()
	_ = l.broadcast(protocol.TypeJoin, protocol.JoinPayload{
		UserID:           l.self.UserID,
		Nickname:         l.self.Nickname,
		AvatarURL:        l.self.AvatarURL,
		TransportAddress: protocol.RecipientTopic(l.self.UserID),
	})

	l.pendingJoin = reply
	l.arm(timerJoin, l.opts.JoinTimeout, 0)
	l.resolveJoin()
}

// admissible checks whether userID may enter r as it was last stored.
func admissible(r engine.Room, userID string) error {
	if p, ok := r.Participant(userID); ok {
		if p.HasLeft {
			return engine.ErrGameInProgress
		}
		return nil
	}
	switch {
	case r.Status == engine.StatusInProgress:
		return engine.ErrGameInProgress
	case len(r.Active()) >= r.Config.MaxParticipants:
		return ErrRoomFull
	}
	return nil
}

// resolveJoin answers a pending JoinRoom once the host's view decides it.
func (l *Lobby) resolveJoin() {
	if l.pendingJoin == nil || l.room.CreatorID == "" {
		return
	}
	// The stored copy already lists a returning member; only the host's
	// own sync counts as admission.
	if l.lastSync.IsZero() {
		return
	}

	var err error
	if p, ok := l.room.Participant(l.self.UserID); ok && !p.HasLeft {
		reply := l.pendingJoin
		l.pendingJoin = nil
		l.disarm(timerJoin)
		l.logger.Info("joined room", zap.String("room", l.room.ID))
		reply <- roomResult{room: l.room.Clone()}
		return
	}
	switch {
	case l.room.Status.Closed():
		err = ErrRoomFinished
	case l.room.Status == engine.StatusInProgress:
		err = engine.ErrGameInProgress
	case len(l.room.Active()) >= l.room.Config.MaxParticipants:
		err = ErrRoomFull
	default:
		// host has not seen our join yet
		return
	}
	l.failJoin(err)
}

func (l *Lobby) failJoin(err error) {
	reply := l.pendingJoin
	l.pendingJoin = nil
	room := l.room.Clone()
	_ = l.teardown()
	reply <- roomResult{room: room, err: err}
}

func (l *Lobby) handleInbound(channel string, m protocol.Message) {
	if l.role == "" || channel != l.channel() || m.SenderID == l.self.UserID {
		return
	}
	if l.role == RoleHost {
		l.hostInbound(m)
		return
	}
	l.followerInbound(m)
	l.emit()
}

// followerInbound folds the host's announcements into the replica. Nothing
// from other followers changes it.
func (l *Lobby) followerInbound(m protocol.Message) {
	creator := l.room.CreatorID
	if creator == "" && m.Type != protocol.TypeSync {
		return
	}
	if creator != "" && m.SenderID != creator {
		return
	}
	defer l.watchHost()

	var err error
	switch m.Type {
	case protocol.TypeSync:
		var remote engine.Room
		if err = m.Decode(&remote); err != nil {
			break
		}
		if remote.ID != l.room.ID || remote.CreatorID != m.SenderID {
			return
		}
		wasActive := l.room.CurrentRound
		l.room = engine.Merge(l.room, remote, l.self.UserID)
		l.lastSync = l.opts.Now()
		if rec, ok := l.room.ActiveRound(); ok && rec.Round != wasActive {
			l.roundStarted = l.opts.Now()
			l.roundDeadline = l.roundStarted.Add(time.Duration(l.room.Config.TimeLimitSec) * time.Second)
		}
		l.resolveJoin()

	case protocol.TypeStart:
		var p protocol.StartPayload
		if err = m.Decode(&p); err != nil {
			break
		}
		if l.room.Status != engine.StatusInProgress {
			l.answered = map[int]bool{}
		}
		l.room = engine.ObserveStart(l.room, p.Words)

	case protocol.TypeWord:
		var p protocol.WordPayload
		if err = m.Decode(&p); err != nil {
			break
		}
		if next, ok := engine.ObserveRound(l.room, p.Round, p.Word); ok {
			l.room = next
			l.roundStarted = l.opts.Now()
			l.roundDeadline = l.roundStarted.Add(time.Duration(p.TimeLimit) * time.Second)
		}

	case protocol.TypeRoundEnd:
		var p protocol.RoundEndPayload
		if err = m.Decode(&p); err != nil {
			break
		}
		winner := ""
		if p.WinnerID != nil {
			winner = *p.WinnerID
		}
		if next, ok := engine.ObserveRoundEnd(l.room, p.Round, winner, p.Results, p.Scores); ok {
			l.room = next
			l.roundDeadline = time.Time{}
		}

	case protocol.TypeGameEnd:
		var p protocol.GameEndPayload
		if err = m.Decode(&p); err != nil {
			break
		}
		l.room = engine.ObserveGameEnd(l.room, p.WinnerID, p.FinalScores, p.GameWords)
		l.roundDeadline = time.Time{}
		l.disarm(timerHostWatch)

	case protocol.TypeHeartbeat:
		var p protocol.HeartbeatPayload
		if err = m.Decode(&p); err != nil {
			break
		}
		if p.RemainingMs > 0 && p.Round == l.room.CurrentRound {
			l.roundDeadline = l.opts.Now().Add(time.Duration(p.RemainingMs) * time.Millisecond)
		}

	case protocol.TypeExitGame:
		l.authorityLost("host exited")
	}
	if err != nil {
		l.logger.Debug("bad payload", zap.String("type", string(m.Type)), zap.Error(err))
	}
}

// watchHost restarts the host-silence timer. It only runs while the local
// link is up: silence heard through a dead link says nothing about the host.
func (l *Lobby) watchHost() {
	if l.role != RoleFollower || l.room.Status.Closed() || l.deps.Bus.Status() != bus.StatusConnected {
		l.disarm(timerHostWatch)
		return
	}
	l.arm(timerHostWatch, l.opts.HostTimeout, 0)
}

// hostSilent fires after HostTimeout without a word from the host.
func (l *Lobby) hostSilent() {
	if l.room.Status != engine.StatusInProgress || l.deps.Bus.Status() != bus.StatusConnected {
		return
	}
	if l.adoptStoredResult() {
		return
	}
	l.authorityLost("host silent")
}

// adoptStoredResult takes the final room from the store when the host
// already recorded one.
func (l *Lobby) adoptStoredResult() bool {
	ctx, cancel := context.WithTimeout(l.ctx, l.opts.StoreTimeout)
	defer cancel()
	stored, err := l.deps.Store.Get(ctx, l.room.ID)
	if err != nil {
		l.logger.Debug("load room", zap.String("room", l.room.ID), zap.Error(err))
		return false
	}
	if !stored.Status.Closed() {
		return false
	}
	l.room = engine.Merge(l.room, stored, l.self.UserID)
	l.roundDeadline = time.Time{}
	l.disarm(timerHostWatch)
	l.logger.Info("host result adopted", zap.String("room", l.room.ID),
		zap.String("status", string(l.room.Status)), zap.String("winner", l.room.WinnerID))
	return true
}

// authorityLost settles a game whose host is gone: the follower applies the
// exit rule to its own replica. A follower left as sole winner records the
// result itself.
func (l *Lobby) authorityLost(reason string) {
	if l.room.Status != engine.StatusInProgress {
		return
	}
	_, next, err := engine.Apply(l.room, engine.Command{Type: engine.CmdExitGame, UserID: l.room.CreatorID, At: l.nowMs()})
	if err != nil {
		l.logger.Warn("settle without host", zap.Error(err))
		return
	}
	l.room = next
	l.roundDeadline = time.Time{}
	l.disarm(timerHostWatch)
	l.logger.Warn("host lost", zap.String("room", l.room.ID), zap.String("reason", reason),
		zap.String("status", string(l.room.Status)), zap.String("winner", l.room.WinnerID))

	if l.room.Status == engine.StatusFinished && l.room.WinnerID == l.self.UserID {
		go l.persistFinal(l.room.Clone())
	}
}

func (l *Lobby) handlePresence(ev bus.PresenceEvent) {
	if l.role == "" || ev.Channel != l.channel() {
		return
	}
	if l.room.Status.Closed() {
		// A member back from an outage learns how the room ended.
		if l.role == RoleHost && ev.Kind == bus.PresenceJoin && ev.Key != l.self.UserID {
			if _, ok := l.room.Participant(ev.Key); ok {
				_ = l.sendTo(ev.Key, protocol.TypeSync, l.room)
			}
		}
		return
	}
	var changed bool
	switch ev.Kind {
	case bus.PresenceSnapshot:
		changed = l.tracker.ApplySnapshot(&l.room, presence.Snapshot(ev.State))
	case bus.PresenceJoin:
		changed = l.tracker.ApplyJoin(&l.room, ev.Key, ev.Meta)
	case bus.PresenceLeave:
		changed = l.tracker.ApplyLeave(&l.room, ev.Key)
	}
	if l.role == RoleHost {
		l.hostPresence(changed)
		return
	}
	if changed {
		l.emit()
	}
}

func (l *Lobby) handleToggleReady() error {
	if l.role == "" {
		return ErrNoRoom
	}
	if l.room.Status != engine.StatusWaiting && l.room.Status != engine.StatusReady {
		return nil
	}
	p, ok := l.room.Participant(l.self.UserID)
	if !ok || p.Role == engine.RoleCreator {
		return nil
	}

	p.IsReady = !p.IsReady
	ready := p.IsReady
	l.emit()
	_ = l.track()
	return l.broadcast(protocol.TypeReady, protocol.ReadyPayload{IsReady: ready})
}

func (l *Lobby) handleAnswer(text string) error {
	if l.role == "" || l.room.Status != engine.StatusInProgress {
		return nil
	}
	rec, ok := l.room.ActiveRound()
	if !ok || l.answered[rec.Round] {
		return nil
	}
	for _, res := range rec.Results {
		if res.UserID == l.self.UserID {
			return nil
		}
	}

	round := rec.Round
	taken := l.opts.Now().Sub(l.roundStarted).Milliseconds()
	l.answered[round] = true
	if l.role == RoleHost {
		_, err := l.apply(engine.Command{
			Type:        engine.CmdSubmitAnswer,
			UserID:      l.self.UserID,
			Round:       round,
			Answer:      text,
			TimeTakenMs: taken,
		})
		if err != nil {
			l.logger.Debug("answer rejected", zap.Error(err))
		}
		return nil
	}
	l.emit()
	return l.broadcast(protocol.TypeAnswer, protocol.AnswerPayload{Answer: text, TimeTakenMs: taken, Round: round})
}
