package repository

import (
	"context"
	"sync"
	"time"

	"gradeflow/internal/model"
)

// MemoryStore keeps sessions in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
	locks    *keyLocker
	closed   bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*model.Session),
		locks:    newKeyLocker(),
	}
}

func (s *MemoryStore) Create(_ context.Context, session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.sessions[session.ID]; ok {
		return ErrSessionExists
	}
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, fn UpdateFunc) (*model.Session, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(current); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	if _, ok := s.sessions[id]; !ok {
		return nil, ErrSessionNotFound
	}
	s.sessions[id] = current.Clone()
	return current, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}

// Sweep takes each victim's key lock, so it never interleaves with an Update
// of the same session.
func (s *MemoryStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return 0, ErrStoreClosed
	}
	var victims []string
	for id, session := range s.sessions {
		if session.ExpiresAt.Before(cutoff) {
			victims = append(victims, id)
		}
	}
	s.mu.RUnlock()

	removed := 0
	for _, id := range victims {
		if s.sweepOne(id, cutoff) {
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) sweepOne(id string, cutoff time.Time) bool {
	unlock := s.locks.Lock(id)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if s.closed || !ok || !session.ExpiresAt.Before(cutoff) {
		return false
	}
	delete(s.sessions, id)
	return true
}

func (s *MemoryStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
