package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"gradeflow/internal/model"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
	ErrStoreClosed     = errors.New("session store is closed")
)

// UpdateFunc mutates the copy it is given. Returning an error aborts the
// write and the error is passed back to the caller untouched.
type UpdateFunc func(session *model.Session) error

// SessionStore owns the canonical Session records. Every transition is one
// Update call: a read-modify-write that is serialized per session id, while
// different ids proceed independently. Returned sessions are copies.
type SessionStore interface {
	Create(ctx context.Context, session *model.Session) error
	Get(ctx context.Context, id string) (*model.Session, error)
	Update(ctx context.Context, id string, fn UpdateFunc) (*model.Session, error)
	Delete(ctx context.Context, id string) error
	// Sweep purges sessions whose expiry is before cutoff and reports how
	// many were removed.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// keyLocker hands out one mutex per key and forgets it when nobody holds it.
type keyLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocker() *keyLocker {
	return &keyLocker{locks: make(map[string]*keyLock)}
}

func (l *keyLocker) Lock(key string) (unlock func()) {
	l.mu.Lock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &keyLock{}
		l.locks[key] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.mu.Lock()
	return func() {
		lk.mu.Unlock()
		l.mu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

func encodeSession(session *model.Session) ([]byte, error) {
	data, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("marshal session failed: %w", err)
	}
	return data, nil
}

func decodeSession(data []byte) (*model.Session, error) {
	var session model.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session failed: %w", err)
	}
	return &session, nil
}
