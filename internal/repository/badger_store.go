package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"gradeflow/internal/model"
)

const (
	badgerKeyPrefix     = "session/"
	badgerMaxTxnRetries = 8
)

// BadgerStore keeps sessions in an embedded badger directory so they survive
// a restart without any external service.
type BadgerStore struct {
	db    *badger.DB
	locks *keyLocker
}

func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db, locks: newKeyLocker()}
}

func badgerKey(id string) []byte {
	return []byte(badgerKeyPrefix + id)
}

func readSession(txn *badger.Txn, id string) (*model.Session, error) {
	item, err := txn.Get(badgerKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("badger get session failed: %w", err)
	}
	var session *model.Session
	err = item.Value(func(val []byte) error {
		decoded, err := decodeSession(val)
		if err != nil {
			return err
		}
		session = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *BadgerStore) Create(_ context.Context, session *model.Session) error {
	data, err := encodeSession(session)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(badgerKey(session.ID))
		if err == nil {
			return ErrSessionExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("badger check session failed: %w", err)
		}
		return txn.Set(badgerKey(session.ID), data)
	})
}

func (s *BadgerStore) Get(_ context.Context, id string) (*model.Session, error) {
	var session *model.Session
	err := s.db.View(func(txn *badger.Txn) error {
		found, err := readSession(txn, id)
		if err != nil {
			return err
		}
		session = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *BadgerStore) Update(_ context.Context, id string, fn UpdateFunc) (*model.Session, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	for attempt := 0; attempt < badgerMaxTxnRetries; attempt++ {
		var updated *model.Session
		err := s.db.Update(func(txn *badger.Txn) error {
			session, err := readSession(txn, id)
			if err != nil {
				return err
			}
			if err := fn(session); err != nil {
				return err
			}
			data, err := encodeSession(session)
			if err != nil {
				return err
			}
			if err := txn.Set(badgerKey(id), data); err != nil {
				return fmt.Errorf("badger set session failed: %w", err)
			}
			updated = session
			return nil
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("badger update session %s: too much contention", id)
}

func (s *BadgerStore) Delete(_ context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(badgerKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrSessionNotFound
			}
			return fmt.Errorf("badger get session failed: %w", err)
		}
		return txn.Delete(badgerKey(id))
	})
}

func (s *BadgerStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	var expired []string
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(badgerKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				session, err := decodeSession(val)
				if err != nil {
					return err
				}
				if session.ExpiresAt.Before(cutoff) {
					expired = append(expired, session.ID)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("badger scan sessions failed: %w", err)
	}

	removed := 0
	for _, id := range expired {
		err := s.Delete(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *BadgerStore) Ping(context.Context) error {
	if s.db.IsClosed() {
		return ErrStoreClosed
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
