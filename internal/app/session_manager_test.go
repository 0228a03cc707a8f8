package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gradeflow/internal/ai"
	"gradeflow/internal/model"
)

func TestCreate(t *testing.T) {
	env := newTestEnv(t)

	session := env.create(t)
	assert.Equal(t, model.StatusAwaitingScreenshots, session.Status)
	assert.True(t, session.ExpiresAt.After(session.CreatedAt))
	assert.Equal(t, 30*time.Minute, session.ExpiresAt.Sub(session.CreatedAt))
	assert.Equal(t, []string{model.StepSessionCreated}, stepNames(session))

	stored := env.stored(t, session.ID)
	assert.Equal(t, model.StatusAwaitingScreenshots, stored.Status)
}

func TestCreate_RequiresClientMetadata(t *testing.T) {
	env := newTestEnv(t)

	for _, input := range []CreateSessionInput{
		{ClientVersion: "1.0"},
		{UserAgent: "ua"},
		{UserAgent: "  ", ClientVersion: "1.0"},
	} {
		_, err := env.mgr.Create(context.Background(), input)
		assert.ErrorIs(t, err, ErrValidation)
	}
}

func TestFullFlowToGradingComplete(t *testing.T) {
	env := newTestEnv(t)
	session := env.create(t)

	first := env.upload(t, session.ID, model.RoleSubject)
	assert.Equal(t, model.StatusAwaitingScreenshots, first.SessionStatus)
	assert.False(t, first.ReadyForGrading)
	require.NotNil(t, first.OCRResult)
	assert.Equal(t, "subject answer text", first.OCRResult.ExtractedText)
	assert.Equal(t, first.ScreenshotID, first.OCRResult.ScreenshotID)

	second := env.upload(t, session.ID, model.RoleReference)
	assert.Equal(t, model.StatusOCRComplete, second.SessionStatus)
	assert.True(t, second.ReadyForGrading)

	trigger, err := env.mgr.TriggerGrading(context.Background(), TriggerGradingInput{SessionID: session.ID})
	require.NoError(t, err)
	assert.Equal(t, session.ID, trigger.GradingID)
	assert.Equal(t, model.StatusProcessingGrading, trigger.Status)
	assert.Equal(t, int64(15000), trigger.EstimatedCompletionTimeMs)

	require.Eventually(t, func() bool {
		s, err := env.mgr.Get(context.Background(), session.ID)
		return err == nil && s.Status == model.StatusGradingComplete
	}, 2*time.Second, 5*time.Millisecond)

	result, err := env.mgr.Results(context.Background(), session.ID)
	require.NoError(t, err)
	require.NotNil(t, result.GradingResult)
	assert.GreaterOrEqual(t, result.GradingResult.Score, 0.0)
	assert.LessOrEqual(t, result.GradingResult.Score, 10.0)
	assert.Equal(t, 10.0, result.GradingResult.MaxScore)
	assert.Equal(t, second.OCRResult.ID, result.GradingResult.ReferenceOCRResultID)
	assert.Equal(t, first.OCRResult.ID, result.GradingResult.SubjectOCRResultID)
	assert.Equal(t, []string{
		model.StepSessionCreated,
		model.StepScreenshotReceived,
		model.StepOCRComplete,
		model.StepScreenshotReceived,
		model.StepOCRComplete,
		model.StepGradingStarted,
		model.StepGradingComplete,
	}, stepNames(result))

	reqs := env.scorer.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "subject answer text", reqs[0].SubjectText)
	assert.Equal(t, "reference answer text", reqs[0].ReferenceText)
}

func TestTriggerBeforeBothExtracted(t *testing.T) {
	env := newTestEnv(t)
	session := env.create(t)

	_, err := env.mgr.TriggerGrading(context.Background(), TriggerGradingInput{SessionID: session.ID})
	assert.ErrorIs(t, err, ErrInsufficientScreenshots)

	env.upload(t, session.ID, model.RoleSubject)
	_, err = env.mgr.TriggerGrading(context.Background(), TriggerGradingInput{SessionID: session.ID})
	assert.ErrorIs(t, err, ErrInsufficientScreenshots)
	assert.Equal(t, model.StatusAwaitingScreenshots, env.stored(t, session.ID).Status)
}

func TestUploadAfterExpiry(t *testing.T) {
	env := newTestEnv(t)
	session := env.create(t)
	env.clock.Advance(31 * time.Minute)

	_, err := env.mgr.IngestScreenshot(context.Background(), IngestScreenshotInput{
		SessionID: session.ID, Role: model.RoleSubject, ImageData: pngDataURI(t),
	})
	assert.ErrorIs(t, err, ErrSessionExpired)

	stored := env.stored(t, session.ID)
	assert.Equal(t, model.StatusExpired, stored.Status)
	assert.Equal(t, model.StepSessionExpired, stored.LastStep().Name)
	assert.Empty(t, stored.Screenshots)
}

func TestScorerFailureEndsInError(t *testing.T) {
	env := newTestEnv(t)
	env.scorer.fn = func(context.Context, ai.ScoreRequest) (*ai.ScoreResult, error) {
		return nil, errors.New("model overloaded")
	}
	session := env.ready(t)

	_, err := env.mgr.TriggerGrading(context.Background(), TriggerGradingInput{SessionID: session.ID})
	require.NoError(t, err)
	env.dispatcher.wg.Wait()

	result, err := env.mgr.Results(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, result.Status)
	assert.Nil(t, result.GradingResult)
	last := result.LastStep()
	require.NotNil(t, last)
	assert.Equal(t, model.StepGradingFailed, last.Name)
	assert.Equal(t, model.PhaseFailed, last.PhaseStatus)
	assert.Contains(t, last.Error, "model overloaded")
}

func TestTriggerTwice(t *testing.T) {
	env := newTestEnv(t)
	release := make(chan struct{})
	env.scorer.fn = func(ctx context.Context, req ai.ScoreRequest) (*ai.ScoreResult, error) {
		<-release
		return &ai.ScoreResult{Score: 4, MaxScore: req.MaxScore}, nil
	}
	session := env.ready(t)

	_, err := env.mgr.TriggerGrading(context.Background(), TriggerGradingInput{SessionID: session.ID})
	require.NoError(t, err)

	_, err = env.mgr.TriggerGrading(context.Background(), TriggerGradingInput{SessionID: session.ID})
	assert.ErrorIs(t, err, ErrInvalidState)

	close(release)
	env.dispatcher.wg.Wait()

	_, err = env.mgr.TriggerGrading(context.Background(), TriggerGradingInput{SessionID: session.ID})
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Len(t, env.scorer.requests(), 1)
}

func TestUploadRejectedOnceGradingStarted(t *testing.T) {
	env := newTestEnv(t)
	release := make(chan struct{})
	env.scorer.fn = func(ctx context.Context, req ai.ScoreRequest) (*ai.ScoreResult, error) {
		<-release
		return nil, errors.New("nope")
	}
	session := env.ready(t)
	_, err := env.mgr.TriggerGrading(context.Background(), TriggerGradingInput{SessionID: session.ID})
	require.NoError(t, err)

	_, err = env.mgr.IngestScreenshot(context.Background(), IngestScreenshotInput{
		SessionID: session.ID, Role: model.RoleSubject, ImageData: pngDataURI(t),
	})
	assert.ErrorIs(t, err, ErrInvalidState)

	close(release)
	env.dispatcher.wg.Wait()

	// Grading failures are final for the session.
	_, err = env.mgr.IngestScreenshot(context.Background(), IngestScreenshotInput{
		SessionID: session.ID, Role: model.RoleSubject, ImageData: pngDataURI(t),
	})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestOverridesAndMissingText(t *testing.T) {
	env := newTestEnv(t)
	env.extractor.fn = func(_ context.Context, req ai.ExtractRequest) (*ai.Extraction, error) {
		if req.Role == string(model.RoleSubject) {
			return &ai.Extraction{Text: "   ", Confidence: 0.1, Model: "fake-ocr"}, nil
		}
		return &ai.Extraction{Text: "reference text", Confidence: 0.9, Model: "fake-ocr"}, nil
	}
	session := env.ready(t)

	_, err := env.mgr.TriggerGrading(context.Background(), TriggerGradingInput{SessionID: session.ID})
	assert.ErrorIs(t, err, ErrMissingText)
	assert.Equal(t, model.StatusOCRComplete, env.stored(t, session.ID).Status)

	_, err = env.mgr.TriggerGrading(context.Background(), TriggerGradingInput{
		SessionID:           session.ID,
		SubjectTextOverride: "typed by hand",
	})
	require.NoError(t, err)
	env.dispatcher.wg.Wait()

	reqs := env.scorer.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "typed by hand", reqs[0].SubjectText)
	assert.Equal(t, "reference text", reqs[0].ReferenceText)

	stored := env.stored(t, session.ID)
	require.NotNil(t, stored.GradingResult)
	assert.Equal(t, model.ManualOverrideRef, stored.GradingResult.SubjectOCRResultID)

	var started *model.ProcessingStep
	for i := range stored.History {
		if stored.History[i].Name == model.StepGradingStarted {
			started = &stored.History[i]
		}
	}
	require.NotNil(t, started)
	assert.Equal(t, "override", started.Detail["subjectSource"])
	assert.Equal(t, "ocr", started.Detail["referenceSource"])
}

func TestOCRFailureThenReupload(t *testing.T) {
	env := newTestEnv(t)
	fail := true
	var mu sync.Mutex
	env.extractor.fn = func(_ context.Context, req ai.ExtractRequest) (*ai.Extraction, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			fail = false
			return nil, errors.New("vision endpoint down")
		}
		return &ai.Extraction{Text: req.Role + " text", Confidence: 0.7, Model: "fake-ocr"}, nil
	}
	session := env.create(t)

	_, err := env.mgr.IngestScreenshot(context.Background(), IngestScreenshotInput{
		SessionID: session.ID, Role: model.RoleSubject, ImageData: pngDataURI(t),
	})
	assert.ErrorIs(t, err, ErrUpstream)

	stored := env.stored(t, session.ID)
	assert.Equal(t, model.StatusError, stored.Status)
	assert.Equal(t, model.StepOCRFailed, stored.LastStep().Name)
	assert.Contains(t, stored.LastStep().Error, "vision endpoint down")
	assert.Len(t, stored.Screenshots, 1)
	assert.Empty(t, stored.OCRResults)

	res := env.upload(t, session.ID, model.RoleSubject)
	assert.Equal(t, model.StatusAwaitingScreenshots, res.SessionStatus)
	res = env.upload(t, session.ID, model.RoleReference)
	assert.Equal(t, model.StatusOCRComplete, res.SessionStatus)
}

func TestConcurrentUploadsReachOCRComplete(t *testing.T) {
	env := newTestEnv(t)
	var arrived sync.WaitGroup
	arrived.Add(2)
	env.extractor.fn = func(_ context.Context, req ai.ExtractRequest) (*ai.Extraction, error) {
		arrived.Done()
		arrived.Wait()
		return &ai.Extraction{Text: req.Role + " text", Confidence: 0.9, Model: "fake-ocr"}, nil
	}
	session := env.create(t)

	var wg sync.WaitGroup
	results := make([]*IngestResult, 2)
	for i, role := range []model.AnswerRole{model.RoleSubject, model.RoleReference} {
		wg.Add(1)
		go func(i int, role model.AnswerRole) {
			defer wg.Done()
			res, err := env.mgr.IngestScreenshot(context.Background(), IngestScreenshotInput{
				SessionID: session.ID, Role: role, ImageData: pngDataURI(t),
			})
			if assert.NoError(t, err) {
				results[i] = res
			}
		}(i, role)
	}
	wg.Wait()

	stored := env.stored(t, session.ID)
	assert.Equal(t, model.StatusOCRComplete, stored.Status)
	assert.Len(t, stored.OCRResults, 2)

	var ready int
	for _, res := range results {
		if res != nil && res.ReadyForGrading {
			ready++
		}
	}
	assert.Equal(t, 1, ready)
}

func TestIngestValidation(t *testing.T) {
	env := newTestEnv(t)
	session := env.create(t)

	_, err := env.mgr.IngestScreenshot(context.Background(), IngestScreenshotInput{
		SessionID: session.ID, Role: "grader", ImageData: pngDataURI(t),
	})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.mgr.IngestScreenshot(context.Background(), IngestScreenshotInput{
		SessionID: "missing", Role: model.RoleSubject, ImageData: pngDataURI(t),
	})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = env.mgr.IngestScreenshot(context.Background(), IngestScreenshotInput{
		SessionID: session.ID, Role: model.RoleSubject, ImageData: "data:image/bmp;base64,AAAA",
	})
	assert.ErrorIs(t, err, ErrInvalidFormat)
	assert.Zero(t, env.extractor.calls)
	assert.Equal(t, model.StatusAwaitingScreenshots, env.stored(t, session.ID).Status)
}

func TestExpiryReportsExpiredForTerminalSessions(t *testing.T) {
	env := newTestEnv(t)
	session := env.ready(t)
	_, err := env.mgr.TriggerGrading(context.Background(), TriggerGradingInput{SessionID: session.ID})
	require.NoError(t, err)
	env.dispatcher.wg.Wait()
	require.Equal(t, model.StatusGradingComplete, env.stored(t, session.ID).Status)

	env.clock.Advance(time.Hour)

	for i := 0; i < 3; i++ {
		view, err := env.mgr.Get(context.Background(), session.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusExpired, view.Status)
	}
	_, err = env.mgr.Results(context.Background(), session.ID)
	assert.ErrorIs(t, err, ErrSessionExpired)

	_, err = env.mgr.TriggerGrading(context.Background(), TriggerGradingInput{SessionID: session.ID})
	assert.ErrorIs(t, err, ErrSessionExpired)

	// The finished record keeps its audit trail.
	stored := env.stored(t, session.ID)
	assert.Equal(t, model.StatusGradingComplete, stored.Status)
	assert.NotNil(t, stored.GradingResult)
}

func TestExpiryPersistedOnceForInFlightSession(t *testing.T) {
	env := newTestEnv(t)
	session := env.create(t)
	env.upload(t, session.ID, model.RoleSubject)
	env.clock.Advance(31 * time.Minute)

	for i := 0; i < 3; i++ {
		view, err := env.mgr.Get(context.Background(), session.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusExpired, view.Status)
	}

	stored := env.stored(t, session.ID)
	assert.Equal(t, model.StatusExpired, stored.Status)
	expiredSteps := 0
	for _, step := range stored.History {
		if step.Name == model.StepSessionExpired {
			expiredSteps++
		}
	}
	assert.Equal(t, 1, expiredSteps)
}

func TestDispatchFailureMarksError(t *testing.T) {
	env := newTestEnv(t)
	session := env.ready(t)
	env.mgr.dispatcher = failingDispatcher{err: errors.New("broker unreachable")}

	_, err := env.mgr.TriggerGrading(context.Background(), TriggerGradingInput{SessionID: session.ID})
	assert.ErrorIs(t, err, ErrGradingDispatch)

	stored := env.stored(t, session.ID)
	assert.Equal(t, model.StatusError, stored.Status)
	assert.Equal(t, model.StepGradingFailed, stored.LastStep().Name)
	assert.Contains(t, stored.LastStep().Error, "broker unreachable")
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t)
	session := env.create(t)

	require.NoError(t, env.mgr.Delete(context.Background(), session.ID))
	_, err := env.mgr.Get(context.Background(), session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, env.mgr.Delete(context.Background(), session.ID), ErrSessionNotFound)
}
