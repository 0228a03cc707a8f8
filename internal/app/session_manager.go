package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gradeflow/internal/ai"
	"gradeflow/internal/metrics"
	"gradeflow/internal/model"
	"gradeflow/internal/repository"
)

type TextExtractionService interface {
	Extract(ctx context.Context, req ai.ExtractRequest) (*ai.Extraction, error)
}

// GradingDispatcher hands an accepted job to whatever runs the orchestrator.
// Dispatch must not wait for the score.
type GradingDispatcher interface {
	Dispatch(ctx context.Context, job model.GradingJob) error
}

type ManagerConfig struct {
	TTL            time.Duration
	MaxImageBytes  int
	MaxScore       float64
	ExtractTimeout time.Duration
}

// SessionManager owns the session state machine. Every transition is a single
// store Update so writes to one session never interleave.
type SessionManager struct {
	store        repository.SessionStore
	extractor    TextExtractionService
	orchestrator *GradingOrchestrator
	dispatcher   GradingDispatcher
	cfg          ManagerConfig
	opts         options
}

type CreateSessionInput struct {
	UserAgent     string
	ClientVersion string
	Platform      string
}

type IngestScreenshotInput struct {
	SessionID string
	Role      model.AnswerRole
	ImageData string
}

type IngestResult struct {
	ScreenshotID    string
	OCRResult       *model.OCRResult
	SessionStatus   model.SessionStatus
	ReadyForGrading bool
}

type TriggerGradingInput struct {
	SessionID             string
	SubjectTextOverride   string
	ReferenceTextOverride string
}

type TriggerResult struct {
	GradingID                 string
	EstimatedCompletionTimeMs int64
	Status                    model.SessionStatus
}

func NewSessionManager(
	store repository.SessionStore,
	extractor TextExtractionService,
	orchestrator *GradingOrchestrator,
	dispatcher GradingDispatcher,
	cfg ManagerConfig,
	opts ...Option,
) *SessionManager {
	if cfg.ExtractTimeout <= 0 {
		cfg.ExtractTimeout = 60 * time.Second
	}
	return &SessionManager{
		store:        store,
		extractor:    extractor,
		orchestrator: orchestrator,
		dispatcher:   dispatcher,
		cfg:          cfg,
		opts:         buildOptions(opts),
	}
}

func (m *SessionManager) Create(ctx context.Context, input CreateSessionInput) (*model.Session, error) {
	userAgent := strings.TrimSpace(input.UserAgent)
	clientVersion := strings.TrimSpace(input.ClientVersion)
	if userAgent == "" || clientVersion == "" {
		return nil, fmt.Errorf("%w: userAgent and clientVersion are required", ErrValidation)
	}

	now := m.opts.utcNow()
	session := &model.Session{
		ID:     m.opts.newID(),
		Status: model.StatusInitialized,
		Client: model.ClientInfo{
			UserAgent:     userAgent,
			ClientVersion: clientVersion,
			Platform:      strings.TrimSpace(input.Platform),
		},
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(m.cfg.TTL),
		Screenshots: []model.Screenshot{},
		OCRResults:  []model.OCRResult{},
	}
	session.AppendStep(model.CompletedStep(model.StepSessionCreated, now, now, map[string]any{
		"clientVersion": clientVersion,
	}))
	if err := session.Transition(model.StatusAwaitingScreenshots, now); err != nil {
		return nil, err
	}

	if err := m.store.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session failed: %w", err)
	}
	metrics.RecordSessionCreated()
	metrics.RecordTransition(string(session.Status))
	return session, nil
}

// Get returns the session as a caller should see it. A session past its
// expiry is reported as Expired whatever its stored status, and the Expired
// transition is persisted once for sessions that had not finished.
func (m *SessionManager) Get(ctx context.Context, id string) (*model.Session, error) {
	session, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	now := m.opts.utcNow()
	if !session.IsExpiredAt(now) {
		return session, nil
	}

	if !session.Status.IsTerminal() {
		updated, err := m.store.Update(ctx, id, func(s *model.Session) error {
			if s.Status.IsTerminal() || !s.IsExpiredAt(now) {
				return errSkipWrite
			}
			return markExpired(s, now)
		})
		switch {
		case err == nil:
			metrics.RecordTransition(string(model.StatusExpired))
			session = updated
		case errors.Is(err, errSkipWrite):
		default:
			return nil, storeErr(err)
		}
	}

	view := session.Clone()
	view.Status = model.StatusExpired
	return view, nil
}

// Results fails with ErrSessionExpired once the session is past its expiry.
func (m *SessionManager) Results(ctx context.Context, id string) (*model.Session, error) {
	session, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status == model.StatusExpired {
		return nil, ErrSessionExpired
	}
	return session, nil
}

func (m *SessionManager) Delete(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return storeErr(err)
	}
	return nil
}

func (m *SessionManager) IngestScreenshot(ctx context.Context, input IngestScreenshotInput) (*IngestResult, error) {
	if !input.Role.Valid() {
		return nil, fmt.Errorf("%w: role must be %q or %q", ErrValidation, model.RoleSubject, model.RoleReference)
	}
	current, err := m.Get(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}
	if current.Status == model.StatusExpired {
		return nil, ErrSessionExpired
	}

	img, err := DecodeImageData(input.ImageData, m.cfg.MaxImageBytes)
	if err != nil {
		return nil, err
	}

	shot := model.Screenshot{
		ID:        m.opts.newID(),
		SessionID: input.SessionID,
		Role:      input.Role,
		Data:      img.Data,
		Format:    img.Format,
		SizeBytes: len(img.Data),
		Width:     img.Width,
		Height:    img.Height,
		Checksum:  img.Checksum,
	}
	_, err = m.mutate(ctx, input.SessionID, func(s *model.Session, now time.Time) error {
		if !acceptsUpload(s) {
			return fmt.Errorf("%w: cannot upload while %s", ErrInvalidState, s.Status)
		}
		shot.UploadedAt = now
		s.Screenshots = append(s.Screenshots, shot)
		s.AppendStep(model.CompletedStep(model.StepScreenshotReceived, now, now, map[string]any{
			"screenshotId": shot.ID,
			"role":         string(shot.Role),
			"format":       string(shot.Format),
			"sizeBytes":    shot.SizeBytes,
		}))
		return s.Transition(model.StatusProcessingOCR, now)
	})
	if err != nil {
		return nil, err
	}

	// The extraction and the writes after it belong to the session, not to
	// the caller's connection.
	extractCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.ExtractTimeout)
	defer cancel()

	startedAt := m.opts.utcNow()
	wallStart := time.Now()
	extraction, extractErr := m.extractor.Extract(extractCtx, ai.ExtractRequest{
		Role:   string(shot.Role),
		Format: string(shot.Format),
		Data:   shot.Data,
	})
	elapsed := time.Since(wallStart)

	if extractErr != nil {
		metrics.RecordOCR("failed", elapsed)
		log.Printf("extract screenshot %s of session %s failed: %v", shot.ID, shot.SessionID, extractErr)
		_, err := m.mutate(extractCtx, shot.SessionID, func(s *model.Session, now time.Time) error {
			s.AppendStep(model.FailedStep(model.StepOCRFailed, startedAt, now, extractErr, map[string]any{
				"screenshotId": shot.ID,
				"role":         string(shot.Role),
			}))
			if s.Status.IsTerminal() {
				return nil
			}
			return s.Transition(model.StatusError, now)
		})
		if err != nil {
			log.Printf("record ocr failure for session %s failed: %v", shot.SessionID, err)
		}
		return nil, fmt.Errorf("%w: text extraction: %v", ErrUpstream, extractErr)
	}
	metrics.RecordOCR("completed", elapsed)

	var ocr model.OCRResult
	updated, err := m.mutate(extractCtx, shot.SessionID, func(s *model.Session, now time.Time) error {
		ocr = model.OCRResult{
			ID:               m.opts.newID(),
			ScreenshotID:     shot.ID,
			SessionID:        s.ID,
			ExtractedText:    extraction.Text,
			Confidence:       extraction.Confidence,
			ProcessingTimeMs: elapsed.Milliseconds(),
			ModelIdentifier:  extraction.Model,
			ProcessedAt:      now,
		}
		s.OCRResults = append(s.OCRResults, ocr)
		s.AppendStep(model.CompletedStep(model.StepOCRComplete, startedAt, now, map[string]any{
			"screenshotId": shot.ID,
			"role":         string(shot.Role),
			"confidence":   extraction.Confidence,
		}))
		return settleAfterExtraction(s, now)
	})
	if err != nil {
		return nil, err
	}

	return &IngestResult{
		ScreenshotID:    shot.ID,
		OCRResult:       &ocr,
		SessionStatus:   updated.Status,
		ReadyForGrading: updated.Status == model.StatusOCRComplete,
	}, nil
}

func (m *SessionManager) TriggerGrading(ctx context.Context, input TriggerGradingInput) (*TriggerResult, error) {
	var job model.GradingJob
	updated, err := m.mutate(ctx, input.SessionID, func(s *model.Session, now time.Time) error {
		switch s.Status {
		case model.StatusOCRComplete:
		case model.StatusInitialized, model.StatusAwaitingScreenshots, model.StatusProcessingOCR:
			return ErrInsufficientScreenshots
		default:
			return fmt.Errorf("%w: cannot grade while %s", ErrInvalidState, s.Status)
		}

		subjectText, subjectRef, subjectSource, err := resolveText(s, model.RoleSubject, input.SubjectTextOverride)
		if err != nil {
			return err
		}
		referenceText, referenceRef, referenceSource, err := resolveText(s, model.RoleReference, input.ReferenceTextOverride)
		if err != nil {
			return err
		}

		job = model.GradingJob{
			SessionID:     s.ID,
			SubjectText:   subjectText,
			ReferenceText: referenceText,
			SubjectRef:    subjectRef,
			ReferenceRef:  referenceRef,
			MaxScore:      m.cfg.MaxScore,
			RequestedAt:   now,
		}
		s.AppendStep(model.ProcessingStep{
			Name:        model.StepGradingStarted,
			PhaseStatus: model.PhaseProcessing,
			StartedAt:   now,
			Detail: map[string]any{
				"subjectSource":        subjectSource,
				"referenceSource":      referenceSource,
				"subjectOcrResultId":   subjectRef,
				"referenceOcrResultId": referenceRef,
				"maxScore":             m.cfg.MaxScore,
			},
		})
		return s.Transition(model.StatusProcessingGrading, now)
	})
	if err != nil {
		return nil, err
	}

	estimate := m.orchestrator.Estimate()
	if err := m.dispatcher.Dispatch(ctx, job); err != nil {
		log.Printf("dispatch grading for session %s failed: %v", job.SessionID, err)
		if failErr := m.orchestrator.Fail(context.WithoutCancel(ctx), job.SessionID, fmt.Errorf("dispatch grading job: %w", err)); failErr != nil {
			log.Printf("record dispatch failure for session %s failed: %v", job.SessionID, failErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrGradingDispatch, err)
	}

	return &TriggerResult{
		GradingID:                 updated.ID,
		EstimatedCompletionTimeMs: estimate,
		Status:                    updated.Status,
	}, nil
}

// mutate runs one read-modify-write after lazy expiry. An expired session gets
// its Expired transition written instead of fn, and the call fails with
// ErrSessionExpired.
func (m *SessionManager) mutate(ctx context.Context, id string, fn func(s *model.Session, now time.Time) error) (*model.Session, error) {
	var expired bool
	var from model.SessionStatus
	updated, err := m.store.Update(ctx, id, func(s *model.Session) error {
		now := m.opts.utcNow()
		from = s.Status
		expired = s.IsExpiredAt(now)
		if expired {
			if s.Status.IsTerminal() {
				return errSkipWrite
			}
			return markExpired(s, now)
		}
		return fn(s, now)
	})
	if expired && (err == nil || errors.Is(err, errSkipWrite)) {
		if err == nil {
			metrics.RecordTransition(string(model.StatusExpired))
		}
		return nil, ErrSessionExpired
	}
	if err != nil {
		return nil, storeErr(err)
	}
	if updated.Status != from {
		metrics.RecordTransition(string(updated.Status))
	}
	return updated, nil
}

func markExpired(s *model.Session, now time.Time) error {
	s.AppendStep(model.CompletedStep(model.StepSessionExpired, s.ExpiresAt, now, map[string]any{
		"previousStatus": string(s.Status),
	}))
	return s.Transition(model.StatusExpired, now)
}

func acceptsUpload(s *model.Session) bool {
	switch s.Status {
	case model.StatusInitialized, model.StatusAwaitingScreenshots, model.StatusProcessingOCR, model.StatusOCRComplete:
		return true
	case model.StatusError:
		return !s.HasStep(model.StepGradingStarted)
	}
	return false
}

// settleAfterExtraction re-derives the status from the persisted record. A
// session with other screenshots still being extracted stays in
// ProcessingOCR; one that has already failed stays in Error.
func settleAfterExtraction(s *model.Session, now time.Time) error {
	if s.Status != model.StatusProcessingOCR {
		return nil
	}
	switch {
	case s.PendingExtractions() > 0:
		return nil
	case s.ReadyForGrading():
		return s.Transition(model.StatusOCRComplete, now)
	default:
		return s.Transition(model.StatusAwaitingScreenshots, now)
	}
}

func resolveText(s *model.Session, role model.AnswerRole, override string) (text, ref, source string, err error) {
	if trimmed := strings.TrimSpace(override); trimmed != "" {
		return trimmed, model.ManualOverrideRef, "override", nil
	}
	if ocr := s.LatestOCRResult(role); ocr != nil && strings.TrimSpace(ocr.ExtractedText) != "" {
		return ocr.ExtractedText, ocr.ID, "ocr", nil
	}
	return "", "", "", fmt.Errorf("%w: %s", ErrMissingText, role)
}

func storeErr(err error) error {
	if errors.Is(err, repository.ErrSessionNotFound) {
		return ErrSessionNotFound
	}
	return err
}
