package control

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seealln/seealln/internal/capture"
	"github.com/seealln/seealln/internal/config"
	"github.com/seealln/seealln/internal/domain"
	"github.com/seealln/seealln/internal/guardrail"
	"github.com/seealln/seealln/internal/perception"
	"github.com/seealln/seealln/internal/policy"
	"github.com/seealln/seealln/internal/usecase"
	"github.com/seealln/seealln/internal/watchdog"
)

// mockGrabber implements domain.ScreenGrabber for testing
type mockGrabber struct{}

func (mockGrabber) Grab(region domain.Region) (*domain.Frame, error) {
	return &domain.Frame{
		CapturedAt: time.Now(),
		Region:     region,
		Width:      region.W,
		Height:     region.H,
		Stride:     region.W * 4,
		Pixels:     make([]byte, region.W*region.H*4),
	}, nil
}

func (mockGrabber) DisplayBounds() (domain.Region, error) {
	return domain.Region{W: 1920, H: 1080}, nil
}

// mockEngine implements domain.OCREngine for testing
type mockEngine struct{}

func (mockEngine) Recognize(ctx context.Context, frame *domain.Frame) ([]domain.OCRToken, error) {
	return nil, nil
}

func (mockEngine) Available() bool { return true }

// mockInjector implements domain.InputInjector for testing
type mockInjector struct{}

func (mockInjector) MoveMouse(x, y int) error          { return nil }
func (mockInjector) Click(x, y int, button string) error { return nil }
func (mockInjector) KeyTap(key string) error           { return nil }

type testServer struct {
	srv   *Server
	cap   *capture.Service
	guard *guardrail.Layer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	cfg := config.Default()
	region := domain.Region{X: 0, Y: 0, W: 64, H: 48}

	capSvc := capture.NewService(cfg.Capture, region, mockGrabber{}, logger)
	t.Cleanup(capSvc.Close)

	guard := guardrail.NewLayer(cfg.Guardrail, region, nil, logger)
	t.Cleanup(guard.Shutdown)

	adapter := perception.NewAdapter(mockEngine{},
		cfg.Executor.ConfidenceFloor(), cfg.Executor.MatchThreshold(), logger)
	exec := usecase.NewExecutor(capSvc, adapter, guard, guard.Kill(), mockInjector{},
		policy.NewRegistry(nil), cfg.Executor, logger)
	wd := watchdog.NewSupervisor(cfg.Watchdog, capSvc, logger)

	return &testServer{
		srv:   NewServer(cfg, capSvc, exec, guard, wd, nil, logger),
		cap:   capSvc,
		guard: guard,
	}
}

func (ts *testServer) do(method, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRootEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["ok"])
}

func TestUnknownPathIs404(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProxiedRequestsRejected(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/health", "", map[string]string{
		"X-Forwarded-For": "203.0.113.7",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHealthReportsDeadCaptureBeforeFirstFrame(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "ARMED", body["kill_switch"])
	capSection := body["capture"].(map[string]any)
	assert.Equal(t, false, capSection["alive"])
}

func TestHealthAliveWhileCapturing(t *testing.T) {
	ts := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ts.cap.Run(ctx) //nolint:errcheck

	deadline := time.Now().Add(3 * time.Second)
	for ts.cap.LastHeartbeat().IsZero() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	rec := ts.do(http.MethodGet, "/health", "", nil)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["ok"])
}

func TestSnapshotBeforeFirstFrame(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodGet, "/snapshot.jpg", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSnapshotServesJPEG(t *testing.T) {
	ts := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ts.cap.Run(ctx) //nolint:errcheck

	deadline := time.Now().Add(3 * time.Second)
	for ts.cap.LastHeartbeat().IsZero() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	rec := ts.do(http.MethodGet, "/snapshot.jpg", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Body.Bytes())
}

func TestStreamServesMultipart(t *testing.T) {
	ts := newTestServer(t)

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go ts.cap.Run(runCtx) //nolint:errcheck

	reqCtx, cancelReq := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancelReq()
	req := httptest.NewRequest(http.MethodGet, "/stream?fps=99&q=999", nil).WithContext(reqCtx)
	rec := httptest.NewRecorder()

	ts.srv.Handler().ServeHTTP(rec, req)

	assert.Contains(t, rec.Header().Get("Content-Type"), "multipart/x-mixed-replace")
	assert.Contains(t, rec.Body.String(), "--frame")
	assert.Contains(t, rec.Body.String(), "image/jpeg")
}

func TestIntentUnknownName(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodPost, "/intent/open_settings", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIntentRequiresPost(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodGet, "/intent/next_email", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestIntentFailsWithoutFrames(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/intent/next_email", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(domain.StatusFailed), decodeBody(t, rec)["status"])
}

func TestKillAndResetFlow(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/safety/kill", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ts.guard.Kill().Triggered())

	// Reset requires the explicit confirm header.
	rec = ts.do(http.MethodPost, "/safety/reset", "", nil)
	assert.Equal(t, http.StatusPreconditionRequired, rec.Code)
	assert.True(t, ts.guard.Kill().Triggered())

	rec = ts.do(http.MethodPost, "/safety/reset", "", map[string]string{
		"X-Seealln-Confirm": "yes",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, ts.guard.Kill().Triggered())
}

func TestSafetyStatus(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/safety/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ARMED", body["kill_switch"])
	assert.Equal(t, float64(0), body["pending_gates"])
}

func TestWatchdogResetOnlyFromFailed(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/watchdog/reset", "", map[string]string{
		"X-Seealln-Confirm": "yes",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGatesListAndResolve(t *testing.T) {
	ts := newTestServer(t)

	gate := ts.guard.Gates().Propose(domain.ActionStep{
		Kind:        domain.ActionClick,
		X:           10,
		Y:           10,
		Sensitivity: domain.SensitivitySensitive,
		Intent:      "capture_batch",
	})

	rec := ts.do(http.MethodGet, "/gates", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	gates := decodeBody(t, rec)["gates"].([]any)
	require.Len(t, gates, 1)

	rec = ts.do(http.MethodPost, "/gates/resolve", `{"id":"`+gate.ID+`","approve":true}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Already settled: a second resolve conflicts.
	rec = ts.do(http.MethodPost, "/gates/resolve", `{"id":"`+gate.ID+`","approve":false}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGatesResolveAll(t *testing.T) {
	ts := newTestServer(t)
	ts.guard.Gates().Propose(domain.ActionStep{Kind: domain.ActionKeyPress, Key: "down"})
	ts.guard.Gates().Propose(domain.ActionStep{Kind: domain.ActionClick, X: 5, Y: 5})

	rec := ts.do(http.MethodPost, "/gates/resolve", `{"all":true,"approve":false}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decodeBody(t, rec)["resolved"])
	assert.Empty(t, ts.guard.Gates().Pending())
}

func TestGatesResolveBadRequest(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/gates/resolve", "{not json", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, "/gates/resolve", `{"approve":true}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
