package main

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gradeflow/internal/ai"
	"gradeflow/internal/app"
	"gradeflow/internal/bootstrap"
	"gradeflow/internal/config"
	"gradeflow/internal/repository"
	httptransport "gradeflow/internal/transport/http"
	"gradeflow/internal/worker"
)

type echoExtractor struct{}

func (echoExtractor) Extract(_ context.Context, req ai.ExtractRequest) (*ai.Extraction, error) {
	return &ai.Extraction{Text: "the " + req.Role + " answer", Confidence: 0.9, Model: "echo"}, nil
}

type fixedScorer struct{}

func (fixedScorer) Score(_ context.Context, req ai.ScoreRequest) (*ai.ScoreResult, error) {
	return &ai.ScoreResult{Score: 9, MaxScore: req.MaxScore, FeedbackSummary: "close match", Confidence: 0.7, Model: "fixed"}, nil
}

func startServer(t *testing.T) (*httptest.Server, repository.SessionStore) {
	t.Helper()
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "none.toml"))
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.App.GinMode = gin.TestMode
	cfg.Auth.APIKey = "cli-key"

	store := repository.NewMemoryStore()
	orch := app.NewGradingOrchestrator(store, fixedScorer{}, 5*time.Second, time.Second)
	dispatcher := worker.NewInProcessDispatcher(orch, 2)
	manager := app.NewSessionManager(store, echoExtractor{}, orch, dispatcher, app.ManagerConfig{
		TTL:           cfg.SessionTTL(),
		MaxImageBytes: cfg.Session.MaxImageBytes,
		MaxScore:      cfg.Grading.MaxScore,
	})
	srv := httptest.NewServer(httptransport.NewRouter(&bootstrap.App{
		Config:    cfg,
		Store:     store,
		Manager:   manager,
		StartedAt: time.Now(),
	}))
	t.Cleanup(func() {
		srv.Close()
		dispatcher.Close()
	})
	return srv, store
}

func writePNG(t *testing.T, dir, name string) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 3, 3))))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "gradectl dev")
}

func TestRootCmdHasSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range newRootCmd().Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"token", "create", "upload", "grade", "status", "results", "delete", "run"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestRunCmdGradesEndToEnd(t *testing.T) {
	srv, store := startServer(t)
	dir := t.TempDir()
	subject := writePNG(t, dir, "subject.png")
	reference := writePNG(t, dir, "reference.png")

	out, err := runCLI(t, "run", subject, reference,
		"--server", srv.URL, "--key", "cli-key", "--poll-interval", "10ms", "--max-attempts", "100")
	require.NoError(t, err, out)

	assert.Contains(t, out, "text: the subject answer")
	assert.Contains(t, out, "ready: true")
	assert.Contains(t, out, "grading_complete")
	assert.Contains(t, out, "score 9.0 / 10.0")
	assert.Contains(t, out, "feedback: close match")

	// run deletes its session unless --keep is given.
	purged, err := store.Sweep(context.Background(), time.Now().Add(24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, purged)
}

func TestStatusCmdReportsAPIError(t *testing.T) {
	srv, _ := startServer(t)

	out, err := runCLI(t, "status", "missing", "--server", srv.URL, "--key", "cli-key")
	require.Error(t, err)
	assert.Contains(t, out, "SESSION_NOT_FOUND")
}

func TestUploadCmdRequiresArgs(t *testing.T) {
	_, err := runCLI(t, "upload", "only-one")
	assert.Error(t, err)
}
