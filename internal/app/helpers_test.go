package app

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gradeflow/internal/ai"
	"gradeflow/internal/model"
	"gradeflow/internal/repository"
)

const webpDataURI = "data:image/webp;base64,UklGRhoAAABXRUJQVlA4TA0AAAAvAAAAEAcQERGIiP4HAA=="

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func pngDataURI(t *testing.T) string {
	t.Helper()
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t, 4, 3))
}

func jpegDataURI(t *testing.T, tag string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return "data:image/" + tag + ";base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeExtractor struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, req ai.ExtractRequest) (*ai.Extraction, error)
}

func (f *fakeExtractor) Extract(ctx context.Context, req ai.ExtractRequest) (*ai.Extraction, error) {
	f.mu.Lock()
	f.calls++
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return &ai.Extraction{Text: req.Role + " answer text", Confidence: 0.9, Model: "fake-ocr"}, nil
}

type fakeScorer struct {
	mu    sync.Mutex
	calls []ai.ScoreRequest
	fn    func(ctx context.Context, req ai.ScoreRequest) (*ai.ScoreResult, error)
}

func (f *fakeScorer) Score(ctx context.Context, req ai.ScoreRequest) (*ai.ScoreResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return &ai.ScoreResult{
		Score:            7,
		MaxScore:         req.MaxScore,
		FeedbackSummary:  "solid",
		SuggestedMessage: "Good job",
		Rubric:           []model.RubricItem{{Criterion: "method", PointsAwarded: 7, PointsPossible: 10}},
		Confidence:       0.8,
		Model:            "fake-grader",
	}, nil
}

func (f *fakeScorer) requests() []ai.ScoreRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ai.ScoreRequest(nil), f.calls...)
}

// goDispatcher runs the orchestrator on its own goroutine like the
// in-process dispatcher does.
type goDispatcher struct {
	orch *GradingOrchestrator
	wg   sync.WaitGroup
}

func (d *goDispatcher) Dispatch(_ context.Context, job model.GradingJob) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		_ = d.orch.Run(context.Background(), job)
	}()
	return nil
}

type failingDispatcher struct{ err error }

func (d failingDispatcher) Dispatch(context.Context, model.GradingJob) error {
	return d.err
}

type testEnv struct {
	store      *repository.MemoryStore
	clock      *fakeClock
	extractor  *fakeExtractor
	scorer     *fakeScorer
	orch       *GradingOrchestrator
	dispatcher *goDispatcher
	mgr        *SessionManager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:     repository.NewMemoryStore(),
		clock:     newFakeClock(),
		extractor: &fakeExtractor{},
		scorer:    &fakeScorer{},
	}
	env.orch = NewGradingOrchestrator(env.store, env.scorer, 5*time.Second, 15*time.Second, WithClock(env.clock.Now))
	env.dispatcher = &goDispatcher{orch: env.orch}
	env.mgr = NewSessionManager(env.store, env.extractor, env.orch, env.dispatcher, ManagerConfig{
		TTL:           30 * time.Minute,
		MaxImageBytes: 1 << 20,
		MaxScore:      10,
	}, WithClock(env.clock.Now))
	t.Cleanup(func() { env.dispatcher.wg.Wait() })
	return env
}

func (e *testEnv) create(t *testing.T) *model.Session {
	t.Helper()
	session, err := e.mgr.Create(context.Background(), CreateSessionInput{UserAgent: "test-agent", ClientVersion: "1.0.0"})
	require.NoError(t, err)
	return session
}

func (e *testEnv) upload(t *testing.T, id string, role model.AnswerRole) *IngestResult {
	t.Helper()
	res, err := e.mgr.IngestScreenshot(context.Background(), IngestScreenshotInput{SessionID: id, Role: role, ImageData: pngDataURI(t)})
	require.NoError(t, err)
	return res
}

func (e *testEnv) ready(t *testing.T) *model.Session {
	t.Helper()
	session := e.create(t)
	e.upload(t, session.ID, model.RoleSubject)
	res := e.upload(t, session.ID, model.RoleReference)
	require.Equal(t, model.StatusOCRComplete, res.SessionStatus)
	return session
}

func (e *testEnv) stored(t *testing.T, id string) *model.Session {
	t.Helper()
	session, err := e.store.Get(context.Background(), id)
	require.NoError(t, err)
	return session
}

func stepNames(s *model.Session) []string {
	names := make([]string, 0, len(s.History))
	for _, step := range s.History {
		names = append(names, step.Name)
	}
	return names
}
