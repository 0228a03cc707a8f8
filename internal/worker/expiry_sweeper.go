package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"gradeflow/internal/metrics"
	"gradeflow/internal/repository"
)

// ExpirySweeper purges sessions whose expiry passed more than grace ago.
// Clients never depend on it; lazy expiry on read is what they observe.
type ExpirySweeper struct {
	store    repository.SessionStore
	schedule string
	grace    time.Duration
	now      func() time.Time

	cron *cron.Cron
}

func NewExpirySweeper(store repository.SessionStore, schedule string, grace time.Duration) *ExpirySweeper {
	return &ExpirySweeper{
		store:    store,
		schedule: schedule,
		grace:    grace,
		now:      time.Now,
	}
}

func (s *ExpirySweeper) Start() error {
	if s.cron != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.SweepOnce(ctx); err != nil {
			log.Printf("sweep expired sessions failed: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("parse sweep schedule %q failed: %w", s.schedule, err)
	}
	c.Start()
	s.cron = c
	return nil
}

func (s *ExpirySweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-s.grace)
	removed, err := s.store.Sweep(ctx, cutoff)
	if removed > 0 {
		metrics.RecordSwept(removed)
		log.Printf("swept %d expired sessions", removed)
	}
	return removed, err
}

func (s *ExpirySweeper) Close() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}
