package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gradeflow/internal/model"
)

// sessionRecord is one row per session; the full Session is kept as JSON
// because sessions are only ever looked up by id.
type sessionRecord struct {
	ID        string    `gorm:"primaryKey;size:64"`
	Status    string    `gorm:"size:32;not null;index"`
	Payload   string    `gorm:"type:longtext;not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (sessionRecord) TableName() string {
	return "session_records"
}

func recordFromSession(session *model.Session) (*sessionRecord, error) {
	payload, err := encodeSession(session)
	if err != nil {
		return nil, err
	}
	return &sessionRecord{
		ID:        session.ID,
		Status:    string(session.Status),
		Payload:   string(payload),
		ExpiresAt: session.ExpiresAt.UTC(),
		CreatedAt: session.CreatedAt.UTC(),
		UpdatedAt: session.UpdatedAt.UTC(),
	}, nil
}

// SessionRepository stores sessions in MySQL or SQLite through gorm.
type SessionRepository struct {
	db       *gorm.DB
	locks    *keyLocker
	rowLocks bool
}

func NewSessionRepository(db *gorm.DB) (*SessionRepository, error) {
	if err := db.AutoMigrate(&sessionRecord{}); err != nil {
		return nil, fmt.Errorf("auto migrate session records failed: %w", err)
	}
	return &SessionRepository{
		db:       db,
		locks:    newKeyLocker(),
		rowLocks: db.Dialector.Name() == "mysql",
	}, nil
}

func (r *SessionRepository) Create(ctx context.Context, session *model.Session) error {
	record, err := recordFromSession(session)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&sessionRecord{}).Where("id = ?", session.ID).Count(&count).Error; err != nil {
			return fmt.Errorf("check session failed: %w", err)
		}
		if count > 0 {
			return ErrSessionExists
		}
		if err := tx.Create(record).Error; err != nil {
			return fmt.Errorf("create session failed: %w", err)
		}
		return nil
	})
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*model.Session, error) {
	var record sessionRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session failed: %w", err)
	}
	return decodeSession([]byte(record.Payload))
}

// Update serializes writers in this process with a key lock and across
// processes with a row lock (SELECT ... FOR UPDATE, MySQL only; SQLite
// serializes writers on its own).
func (r *SessionRepository) Update(ctx context.Context, id string, fn UpdateFunc) (*model.Session, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	var updated *model.Session
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx
		if r.rowLocks {
			query = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var record sessionRecord
		err := query.Where("id = ?", id).Take(&record).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			return fmt.Errorf("lock session failed: %w", err)
		}

		session, err := decodeSession([]byte(record.Payload))
		if err != nil {
			return err
		}
		if err := fn(session); err != nil {
			return err
		}

		next, err := recordFromSession(session)
		if err != nil {
			return err
		}
		if err := tx.Save(next).Error; err != nil {
			return fmt.Errorf("save session failed: %w", err)
		}
		updated = session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	unlock := r.locks.Lock(id)
	defer unlock()

	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&sessionRecord{})
	if res.Error != nil {
		return fmt.Errorf("delete session failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepository) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	res := r.db.WithContext(ctx).Where("expires_at < ?", cutoff.UTC()).Delete(&sessionRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("sweep sessions failed: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (r *SessionRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *SessionRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db failed: %w", err)
	}
	return sqlDB.Close()
}
