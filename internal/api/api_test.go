package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/bmsmon/internal/api"
	"codeberg.org/mutker/bmsmon/internal/errors"
	"codeberg.org/mutker/bmsmon/internal/session"
	"codeberg.org/mutker/bmsmon/internal/simulator"
	"codeberg.org/mutker/bmsmon/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	mu       sync.Mutex
	state    session.State
	startErr error
	stopErr  error
	starts   int
	stops    int
}

func (f *fakeController) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.state = session.Running
	return nil
}

func (f *fakeController) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	if f.stopErr != nil {
		return f.stopErr
	}
	f.state = session.Idle
	return nil
}

func (f *fakeController) State() session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

type fakeHistory struct {
	snapshots []telemetry.Snapshot
	limit     int
	err       error
}

func (f *fakeHistory) Recent(_ context.Context, limit int) ([]telemetry.Snapshot, error) {
	f.limit = limit
	return f.snapshots, f.err
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

type statusBody struct {
	State     string     `json:"state"`
	Seq       uint64     `json:"seq"`
	UpdatedAt *time.Time `json:"updated_at"`
}

func TestStartStop(t *testing.T) {
	ctrl := &fakeController{}
	h := api.New(ctrl, telemetry.NewStore()).Handler()

	rec := do(t, h, http.MethodPost, "/api/session/start")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "running", decode[statusBody](t, rec).State)

	rec = do(t, h, http.MethodPost, "/api/session/stop")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "idle", decode[statusBody](t, rec).State)

	assert.Equal(t, 1, ctrl.starts)
	assert.Equal(t, 1, ctrl.stops)
}

func TestStartFailure(t *testing.T) {
	ctrl := &fakeController{startErr: errors.New().New(session.ErrConnectFailed)}
	h := api.New(ctrl, telemetry.NewStore()).Handler()

	rec := do(t, h, http.MethodPost, "/api/session/start")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	body := decode[map[string]string](t, rec)
	assert.Equal(t, string(session.ErrConnectFailed), body["error"])
	assert.NotEmpty(t, body["message"])
}

func TestStopTimeout(t *testing.T) {
	ctrl := &fakeController{stopErr: errors.New().New(session.ErrStopTimeout)}
	h := api.New(ctrl, telemetry.NewStore()).Handler()

	rec := do(t, h, http.MethodPost, "/api/session/stop")
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, string(session.ErrStopTimeout), decode[map[string]string](t, rec)["error"])
}

func TestMethodsAreEnforced(t *testing.T) {
	h := api.New(&fakeController{}, telemetry.NewStore()).Handler()

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/api/session/start").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodPost, "/api/snapshot").Code)
}

func TestSnapshot(t *testing.T) {
	store := telemetry.NewStore()
	h := api.New(&fakeController{}, store).Handler()

	rec := do(t, h, http.MethodGet, "/api/snapshot")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	status := decode[statusBody](t, do(t, h, http.MethodGet, "/api/session"))
	assert.Zero(t, status.Seq)
	assert.Nil(t, status.UpdatedAt)

	store.Publish(telemetry.Snapshot{SOC: telemetry.Float(77), Voltage: 52.1, Timestamp: time.Now()})

	rec = do(t, h, http.MethodGet, "/api/snapshot")
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[telemetry.Snapshot](t, rec)
	require.NotNil(t, snap.SOC)
	assert.Equal(t, 77.0, *snap.SOC)
	assert.Equal(t, 52.1, snap.Voltage)

	status = decode[statusBody](t, do(t, h, http.MethodGet, "/api/session"))
	assert.Equal(t, uint64(1), status.Seq)
	assert.NotNil(t, status.UpdatedAt)
}

func TestHistory(t *testing.T) {
	hist := &fakeHistory{snapshots: []telemetry.Snapshot{{Voltage: 51}, {Voltage: 50}}}
	h := api.New(&fakeController{}, telemetry.NewStore(), api.WithHistory(hist)).Handler()

	rec := do(t, h, http.MethodGet, "/api/history?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]telemetry.Snapshot](t, rec), 2)
	assert.Equal(t, 2, hist.limit)

	do(t, h, http.MethodGet, "/api/history")
	assert.Equal(t, api.DefaultHistoryLimit, hist.limit)

	for _, bad := range []string{"0", "-1", "abc", "100000"} {
		rec = do(t, h, http.MethodGet, "/api/history?limit="+bad)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}

	hist.snapshots = nil
	rec = do(t, h, http.MethodGet, "/api/history")
	assert.JSONEq(t, "[]", rec.Body.String())

	hist.err = errors.New().New(errors.ErrOperationFailed)
	rec = do(t, h, http.MethodGet, "/api/history")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHistoryDisabled(t *testing.T) {
	h := api.New(&fakeController{}, telemetry.NewStore()).Handler()
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/history").Code)
}

func TestHealthAndMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("bms_voltage_volts 52"))
	})
	h := api.New(&fakeController{}, telemetry.NewStore(), api.WithMetrics(metrics)).Handler()

	rec := do(t, h, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = do(t, h, http.MethodGet, "/metrics")
	assert.Equal(t, "bms_voltage_volts 52", rec.Body.String())
}

func TestSessionOverHTTP(t *testing.T) {
	src, err := simulator.New(simulator.Config{Cells: 4, Seed: 9}, nil)
	require.NoError(t, err)

	store := telemetry.NewStore()
	ctrl := session.New(src, store, session.WithInterval(5*time.Millisecond))
	srv := httptest.NewServer(api.New(ctrl, store).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/session/start", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The session keeps polling after the start request has completed.
	require.Eventually(t, func() bool {
		return store.Meta().Seq >= 3
	}, 2*time.Second, 5*time.Millisecond)

	resp, err = http.Get(srv.URL + "/api/snapshot")
	require.NoError(t, err)
	var snap telemetry.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	resp.Body.Close()
	assert.Len(t, snap.CellVoltages, 4)

	resp, err = http.Post(srv.URL+"/api/session/stop", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, session.Idle, ctrl.State())
	assert.Equal(t, 0, src.Open())
}
