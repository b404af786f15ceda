package lobby

import (
	"context"
	"errors"
	"sync"

	"github.com/DoyleJ11/spellduel/internal/engine"
	"github.com/DoyleJ11/spellduel/internal/store"
	"go.uber.org/zap"
)

// snapshotter holds the newest room waiting to be written. Older ones are
// overwritten, not queued.
type snapshotter struct {
	mu     sync.Mutex
	latest *engine.Room
	signal chan struct{}
}

func (s *snapshotter) queue(r engine.Room) {
	s.mu.Lock()
	s.latest = &r
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *snapshotter) take() (engine.Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return engine.Room{}, false
	}
	r := *s.latest
	s.latest = nil
	return r, true
}

func (l *Lobby) snapshotWorker() {
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-l.snap.signal:
			if r, ok := l.snap.take(); ok {
				l.writeSnapshot(r)
			}
		}
	}
}

func (l *Lobby) writeSnapshot(r engine.Room) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if l.saved[r.ID] {
		return
	}
	err := l.write(r)
	switch {
	case errors.Is(err, store.ErrClosed):
		l.saved[r.ID] = true
		l.logger.Debug("stored room already final", zap.String("room", r.ID))
	case err != nil:
		l.logger.Warn("store snapshot", zap.String("room", r.ID), zap.Error(err))
	}
}

// persistFinal records a closed room once. Every path that ends a game calls
// it; concurrent calls share one write and later ones find it done. A room
// some other process already closed in the store is left as it is.
func (l *Lobby) persistFinal(r engine.Room) {
	v, err, _ := l.final.Do(r.ID, func() (any, error) {
		l.writeMu.Lock()
		defer l.writeMu.Unlock()
		if l.saved[r.ID] {
			return false, nil
		}
		err := l.write(r)
		if err != nil && !errors.Is(err, store.ErrClosed) {
			return false, err
		}
		l.saved[r.ID] = true
		return err == nil, nil
	})
	switch {
	case err != nil:
		l.logger.Error("store final result", zap.String("room", r.ID), zap.Error(err))
	case v.(bool):
		l.logger.Info("final result stored", zap.String("room", r.ID), zap.String("status", string(r.Status)))
	default:
		l.logger.Info("final result already stored", zap.String("room", r.ID))
	}
}

func (l *Lobby) write(r engine.Room) error {
	ctx, cancel := context.WithTimeout(context.Background(), l.opts.StoreTimeout)
	defer cancel()
	err := l.deps.Store.Update(ctx, r.ID, store.FieldsFromRoom(r))
	if errors.Is(err, store.ErrNotFound) {
		err = l.deps.Store.Create(ctx, r)
	}
	return err
}
