package store

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/DoyleJ11/spellduel/internal/engine"
)

type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string]engine.Room
}

func NewMemory() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]engine.Room)}
}

func (s *MemoryStore) Create(_ context.Context, room engine.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room.ID]; ok {
		return ErrExists
	}
	s.rooms[room.ID] = room.Clone()
	return nil
}

func (s *MemoryStore) Update(_ context.Context, id string, f Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return ErrNotFound
	}
	if r.Status.Closed() {
		return ErrClosed
	}
	f.Apply(&r)
	s.rooms[id] = r
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (engine.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return engine.Room{}, ErrNotFound
	}
	return r.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context, statuses ...engine.Status) ([]engine.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]engine.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		if len(statuses) == 0 || slices.Contains(statuses, r.Status) {
			out = append(out, r.Clone())
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(rooms []engine.Room) {
	slices.SortFunc(rooms, func(a, b engine.Room) int {
		if c := cmp.Compare(b.CreatedAt, a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
