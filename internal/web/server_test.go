package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kelindar/event"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pmicvib/internal/vibrator"
)

type memPort struct {
	mu  sync.Mutex
	reg byte
}

func (p *memPort) ReadRegister(uint16) (byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reg, nil
}

func (p *memPort) WriteRegister(_ uint16, v byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reg = v
	return nil
}

type testEnv struct {
	dev     *vibrator.Device
	history *History
	ts      *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	reg := prometheus.NewRegistry()
	disp := event.NewDispatcher()
	dev, err := vibrator.New(&memPort{}, vibrator.Config{DefaultLevelMV: 3100, MaxTimeout: 15 * time.Second},
		vibrator.WithMetrics(vibrator.NewMetrics(reg)),
		vibrator.WithEvents(disp),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.Close(context.Background()) })

	history := NewHistory(10)
	t.Cleanup(history.Attach(disp))

	logs := NewLogBuffer(10)
	_, _ = logs.Write([]byte("vibrator ready\n"))

	ts := httptest.NewServer(Handler(dev, history, logs, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	t.Cleanup(ts.Close)
	return &testEnv{dev: dev, history: history, ts: ts}
}

func (e *testEnv) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(e.ts.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.ts.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAPIVibrator_Snapshot(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/api/vibrator")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var snap vibrator.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.False(t, snap.On)
	assert.Equal(t, 3100, snap.LevelMV)
}

func TestAPIVibrator_Enable(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/vibrator/enable", `{"ms":5000}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var snap vibrator.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.True(t, snap.On)
	assert.Greater(t, snap.RemainingMS, int64(0))

	env.dev.Flush()
	require.Eventually(t, func() bool { return len(env.history.Recent(0)) >= 1 }, time.Second, 5*time.Millisecond)
	last := env.history.Recent(1)[0]
	assert.True(t, last.On)
	require.NotNil(t, last.Register)

	resp = env.post(t, "/api/vibrator/enable", `{"ms":0}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, time.Duration(0), env.dev.RemainingTime())
}

func TestAPIVibrator_EnableRejectsBadBody(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusBadRequest, env.post(t, "/api/vibrator/enable", `{"seconds":1}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, env.post(t, "/api/vibrator/enable", `nope`).StatusCode)

	resp := env.get(t, "/api/vibrator/enable")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, http.MethodPost, resp.Header.Get("Allow"))
}

func TestAPIVibrator_Level(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/vibrator/level", `{"mv":2000}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body levelBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 2000, body.MV)

	// Out of range clamps to the maximum.
	env.post(t, "/api/vibrator/level", `{"mv":9000}`)
	resp = env.get(t, "/api/vibrator/level")
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 3100, body.MV)

	assert.Equal(t, http.StatusMethodNotAllowed, env.post(t, "/api/vibrator", `{}`).StatusCode)
}

func TestAPIVibrator_SuspendResume(t *testing.T) {
	env := newTestEnv(t)
	env.post(t, "/api/vibrator/enable", `{"ms":5000}`)

	require.Equal(t, http.StatusOK, env.post(t, "/api/vibrator/suspend", ``).StatusCode)
	snap := env.dev.Snapshot()
	assert.False(t, snap.On)
	assert.True(t, snap.Suspended)

	require.Equal(t, http.StatusOK, env.post(t, "/api/vibrator/resume", ``).StatusCode)
	assert.False(t, env.dev.Snapshot().Suspended)

	require.NoError(t, env.dev.Close(context.Background()))
	assert.Equal(t, http.StatusServiceUnavailable, env.post(t, "/api/vibrator/suspend", ``).StatusCode)
}

func TestAPILogsAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/api/logs?tail=5")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var logs LogsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&logs))
	assert.Equal(t, []string{"vibrator ready"}, logs.Lines)

	assert.Equal(t, http.StatusBadRequest, env.get(t, "/api/logs?tail=0").StatusCode)

	env.dev.Enable(time.Second)
	env.dev.Flush()
	resp = env.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sb strings.Builder
	_, _ = io.Copy(&sb, resp.Body)
	assert.Contains(t, sb.String(), "pmicvib_enable_requests_total 1")
}

func TestAPIAbout(t *testing.T) {
	env := newTestEnv(t)
	resp := env.get(t, "/api/about")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var about aboutResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&about))
	assert.Equal(t, "pmicvib", about.Service)
}

func TestAPIVibrator_EnableHugeDurationClamps(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/vibrator/enable", `{"ms":9223372036855}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var snap vibrator.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.True(t, snap.On)
	assert.InDelta(t, (15 * time.Second).Milliseconds(), snap.RemainingMS, 1000)
}

func TestAPIVibrator_EnableRejectsNegative(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusBadRequest, env.post(t, "/api/vibrator/enable", `{"ms":-5}`).StatusCode)
	assert.False(t, env.dev.Snapshot().On)
}
