package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"gradeflow/internal/ai"
	"gradeflow/internal/metrics"
	"gradeflow/internal/model"
	"gradeflow/internal/repository"
)

type AnswerScoringService interface {
	Score(ctx context.Context, req ai.ScoreRequest) (*ai.ScoreResult, error)
}

// estimateWeight is the EWMA weight given to the newest grading duration.
const estimateWeight = 0.3

// GradingOrchestrator runs the scoring call for one job and lands the session
// in exactly one terminal outcome. It never reuses a session copy from the
// triggering request; every write re-reads through the store.
type GradingOrchestrator struct {
	store   repository.SessionStore
	scorer  AnswerScoringService
	timeout time.Duration
	opts    options

	mu         sync.Mutex
	estimateMs float64
}

func NewGradingOrchestrator(
	store repository.SessionStore,
	scorer AnswerScoringService,
	timeout time.Duration,
	initialEstimate time.Duration,
	opts ...Option,
) *GradingOrchestrator {
	return &GradingOrchestrator{
		store:      store,
		scorer:     scorer,
		timeout:    timeout,
		opts:       buildOptions(opts),
		estimateMs: float64(initialEstimate.Milliseconds()),
	}
}

// Estimate returns the expected grading duration in milliseconds.
func (o *GradingOrchestrator) Estimate() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return int64(math.Round(o.estimateMs))
}

func (o *GradingOrchestrator) observe(elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.estimateMs = estimateWeight*float64(elapsed.Milliseconds()) + (1-estimateWeight)*o.estimateMs
}

// Run invokes the scorer once and records the outcome. A result that can no
// longer be applied (session gone, expired, or already terminal) is dropped
// and Run returns nil. Cancelling ctx does not abort a started job; only the
// grading timeout does.
func (o *GradingOrchestrator) Run(ctx context.Context, job model.GradingJob) error {
	ctx = context.WithoutCancel(ctx)
	current, err := o.store.Get(ctx, job.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			log.Printf("grading skipped for session %s: session not found", job.SessionID)
			return nil
		}
		return fmt.Errorf("load session %s failed: %w", job.SessionID, err)
	}
	if current.Status != model.StatusProcessingGrading || current.GradingResult != nil {
		log.Printf("grading skipped for session %s: status is %s", job.SessionID, current.Status)
		return nil
	}

	startedAt := o.opts.utcNow()
	wallStart := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	result, err := o.scorer.Score(runCtx, ai.ScoreRequest{
		SubjectText:   job.SubjectText,
		ReferenceText: job.ReferenceText,
		MaxScore:      job.MaxScore,
	})
	elapsed := time.Since(wallStart)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("grading timed out after %s: %w", o.timeout, err)
	}
	if err == nil {
		err = checkScore(result, job.MaxScore)
	}
	if err != nil {
		metrics.RecordGrading("failed", elapsed)
		return o.fail(ctx, job.SessionID, startedAt, err)
	}
	metrics.RecordGrading("completed", elapsed)
	o.observe(elapsed)

	_, err = o.store.Update(ctx, job.SessionID, func(s *model.Session) error {
		now := o.opts.utcNow()
		if err := writable(s, now); err != nil {
			return err
		}
		s.GradingResult = &model.GradingResult{
			ID:                   o.opts.newID(),
			SessionID:            s.ID,
			SubjectOCRResultID:   job.SubjectRef,
			ReferenceOCRResultID: job.ReferenceRef,
			Score:                result.Score,
			MaxScore:             job.MaxScore,
			FeedbackSummary:      result.FeedbackSummary,
			SuggestedMessage:     result.SuggestedMessage,
			RubricBreakdown:      result.Rubric,
			Confidence:           result.Confidence,
			ProcessingTimeMs:     elapsed.Milliseconds(),
			ModelIdentifier:      result.Model,
			GradedAt:             now,
		}
		s.AppendStep(model.CompletedStep(model.StepGradingComplete, startedAt, now, map[string]any{
			"score":    result.Score,
			"maxScore": job.MaxScore,
		}))
		return s.Transition(model.StatusGradingComplete, now)
	})
	return o.finish(job.SessionID, model.StatusGradingComplete, err)
}

// Fail records a grading failure for a session that is still waiting on its
// score, e.g. when the job could not be handed off.
func (o *GradingOrchestrator) Fail(ctx context.Context, sessionID string, cause error) error {
	return o.fail(ctx, sessionID, o.opts.utcNow(), cause)
}

func (o *GradingOrchestrator) fail(ctx context.Context, sessionID string, startedAt time.Time, cause error) error {
	log.Printf("grading failed for session %s: %v", sessionID, cause)
	_, err := o.store.Update(ctx, sessionID, func(s *model.Session) error {
		now := o.opts.utcNow()
		if err := writable(s, now); err != nil {
			return err
		}
		s.AppendStep(model.FailedStep(model.StepGradingFailed, startedAt, now, cause, nil))
		return s.Transition(model.StatusError, now)
	})
	return o.finish(sessionID, model.StatusError, err)
}

func (o *GradingOrchestrator) finish(sessionID string, target model.SessionStatus, err error) error {
	switch {
	case err == nil:
		metrics.RecordTransition(string(target))
		return nil
	case errors.Is(err, errSkipWrite), errors.Is(err, repository.ErrSessionNotFound):
		log.Printf("drop grading outcome for session %s: %v", sessionID, err)
		return nil
	default:
		return fmt.Errorf("write grading outcome for session %s failed: %w", sessionID, err)
	}
}

// writable holds the at-most-one terminal write rule.
func writable(s *model.Session, now time.Time) error {
	if s.Status != model.StatusProcessingGrading || s.GradingResult != nil {
		return fmt.Errorf("%w: status is %s", errSkipWrite, s.Status)
	}
	if s.IsExpiredAt(now) {
		return fmt.Errorf("%w: session expired", errSkipWrite)
	}
	return nil
}

func checkScore(result *ai.ScoreResult, maxScore float64) error {
	if result == nil {
		return errors.New("scoring service returned no result")
	}
	if math.IsNaN(result.Score) || result.Score < 0 || result.Score > maxScore {
		return fmt.Errorf("score %g outside [0, %g]", result.Score, maxScore)
	}
	return nil
}
