package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/hyperbaric_controller/internal/alarm"
	"github.com/relabs-tech/hyperbaric_controller/internal/session"
	"github.com/relabs-tech/hyperbaric_controller/internal/tuning"
)

type fakeEngine struct {
	mu   sync.Mutex
	snap *session.Snapshot
	got  []session.Command
	do   func(session.Command) (session.Result, error)
}

func (f *fakeEngine) Snapshot() *session.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeEngine) Do(_ context.Context, cmd session.Command) (session.Result, error) {
	f.mu.Lock()
	f.got = append(f.got, cmd)
	do := f.do
	f.mu.Unlock()
	if do != nil {
		return do(cmd)
	}
	return session.Result{Type: session.ReplyAck, Command: cmd.Name()}, nil
}

func (f *fakeEngine) commands() []session.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]session.Command(nil), f.got...)
}

type fakeTuning struct {
	status  tuning.Status
	last    *tuning.Session
	history []tuning.Session
	err     error
}

func (f fakeTuning) Status() tuning.Status { return f.status }

func (f fakeTuning) Last() (tuning.Session, bool) {
	if f.last == nil {
		return tuning.Session{}, false
	}
	return *f.last, true
}

func (f fakeTuning) History(context.Context, int) ([]tuning.Session, error) {
	return f.history, f.err
}

type fakeAlarms struct {
	list []alarm.Record
	err  error
	n    int
}

func (f *fakeAlarms) Alarms(_ context.Context, n int) ([]alarm.Record, error) {
	f.n = n
	return f.list, f.err
}

func readySnapshot() *session.Snapshot {
	return &session.Snapshot{
		At:         time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Phase:      session.Running,
		Elapsed:    42,
		SessionID:  uuid.New(),
		ProfileLen: 5400,
		DoorSensor: 1,
		DoorClosed: true,
		TargetFsw:  12.5,
		DisplayFsw: 12.4,
	}
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatusWaitsForFirstSnapshot(t *testing.T) {
	eng := &fakeEngine{}
	r := NewRouter(logr.Discard(), WebConfig{Engine: eng})

	rec := doRequest(t, r, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	eng.snap = readySnapshot()
	rec = doRequest(t, r, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "running", got["status"])
	assert.Equal(t, 42.0, got["elapsed"])
}

func TestProfileNotFoundWithoutProfile(t *testing.T) {
	r := NewRouter(logr.Discard(), WebConfig{Engine: &fakeEngine{snap: readySnapshot()}})
	rec := doRequest(t, r, http.MethodGet, "/api/profile", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCommandEndpoint(t *testing.T) {
	eng := &fakeEngine{}
	r := NewRouter(logr.Discard(), WebConfig{Engine: eng})

	t.Run("accepted", func(t *testing.T) {
		rec := doRequest(t, r, http.MethodPost, "/api/commands", `{"type":"alarmClear"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		var res session.Result
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.Equal(t, session.ReplyAck, res.Type)
		assert.Equal(t, "alarmClear", res.Command)
	})

	t.Run("unknown", func(t *testing.T) {
		rec := doRequest(t, r, http.MethodPost, "/api/commands", `{"type":"launchRocket"}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		var res session.Result
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.Equal(t, session.ReplyRejected, res.Type)
		assert.Contains(t, res.Reason, "unknown command")
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := doRequest(t, r, http.MethodPost, "/api/commands", `{`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejected", func(t *testing.T) {
		eng.do = func(cmd session.Command) (session.Result, error) {
			err := fmt.Errorf("%w: session is not running", session.ErrRejected)
			return session.Rejected(cmd.Name(), err), err
		}
		defer func() { eng.do = nil }()

		rec := doRequest(t, r, http.MethodPost, "/api/commands", `{"type":"sessionPause"}`)
		require.Equal(t, http.StatusConflict, rec.Code)
		var res session.Result
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.Equal(t, session.ReplyRejected, res.Type)
		assert.Equal(t, "sessionPause", res.Command)
	})

	t.Run("engine stopped", func(t *testing.T) {
		eng.do = func(session.Command) (session.Result, error) { return session.Result{}, session.ErrStopped }
		defer func() { eng.do = nil }()

		rec := doRequest(t, r, http.MethodPost, "/api/commands", `{"type":"alarmClear"}`)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("get not allowed", func(t *testing.T) {
		rec := doRequest(t, r, http.MethodGet, "/api/commands", "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestTuningEndpointsRunThroughEngine(t *testing.T) {
	eng := &fakeEngine{}
	last := &tuning.Session{ID: uuid.New()}
	r := NewRouter(logr.Discard(), WebConfig{
		Engine: eng,
		Tuning: fakeTuning{status: tuning.Status{Collecting: true, Samples: 12}, last: last},
	})

	for _, path := range []string{"/api/tuning/start", "/api/tuning/stop", "/api/tuning/apply"} {
		rec := doRequest(t, r, http.MethodPost, path, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
	assert.Equal(t, []session.Command{session.TuningStart{}, session.TuningStop{}, session.TuningApply{}}, eng.commands())

	rec := doRequest(t, r, http.MethodGet, "/api/tuning/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, true, got["isCollecting"])
	assert.Equal(t, 12.0, got["dataPointCount"])
	assert.Contains(t, got, "lastSession")

	rec = doRequest(t, r, http.MethodGet, "/api/tuning/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestOptionalEndpointsWithoutBackends(t *testing.T) {
	r := NewRouter(logr.Discard(), WebConfig{Engine: &fakeEngine{snap: readySnapshot()}})

	assert.Equal(t, http.StatusNotFound, doRequest(t, r, http.MethodGet, "/api/tuning/status", "").Code)
	assert.Equal(t, http.StatusNotFound, doRequest(t, r, http.MethodGet, "/api/sessions", "").Code)
	assert.Equal(t, http.StatusNotFound, doRequest(t, r, http.MethodGet, "/metrics", "").Code)
}

func TestAlarmsPreferCacheAndFallBackToBoard(t *testing.T) {
	snap := readySnapshot()
	snap.Alarms = []alarm.Record{{Kind: alarm.KindDeviation, Message: "live"}}
	cache := &fakeAlarms{list: []alarm.Record{{Kind: alarm.KindDeviation, Message: "cached"}}}
	r := NewRouter(logr.Discard(), WebConfig{Engine: &fakeEngine{snap: snap}, Alarms: cache})

	rec := doRequest(t, r, http.MethodGet, "/api/alarms?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cached")
	assert.Equal(t, 5, cache.n)

	cache.err = errors.New("redis down")
	rec = doRequest(t, r, http.MethodGet, "/api/alarms", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "live")
	assert.Equal(t, 50, cache.n)
}

func TestPanelIsPNG(t *testing.T) {
	r := NewRouter(logr.Discard(), WebConfig{Engine: &fakeEngine{snap: readySnapshot()}})
	rec := doRequest(t, r, http.MethodGet, "/api/panel.png", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, panelWidth, img.Bounds().Dx())
	assert.Equal(t, panelHeight, img.Bounds().Dy())
}

func TestMetricsExposed(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "chamber_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	r := NewRouter(logr.Discard(), WebConfig{Engine: &fakeEngine{}, Gatherer: reg})
	rec := doRequest(t, r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chamber_test_total 1")
}

func TestLimitParam(t *testing.T) {
	for query, want := range map[string]int{"": 10, "limit=3": 3, "limit=-1": 10, "limit=x": 10} {
		req := httptest.NewRequest(http.MethodGet, "/?"+query, nil)
		assert.Equal(t, want, limitParam(req, 10), query)
	}
}
