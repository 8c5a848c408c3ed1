package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/hyperbaric_controller/internal/alarm"
	"github.com/relabs-tech/hyperbaric_controller/internal/control"
	"github.com/relabs-tech/hyperbaric_controller/internal/sensors"
	"github.com/relabs-tech/hyperbaric_controller/internal/session"
	"github.com/relabs-tech/hyperbaric_controller/internal/tuning"
)

// fakeDB is a database/sql driver that records statements and answers
// queries from a queue.
type fakeDB struct {
	mu       sync.Mutex
	execs    []call
	results  []*fakeRows
	affected int64
}

type call struct {
	query string
	args  []driver.Value
}

func (f *fakeDB) Connect(context.Context) (driver.Conn, error) { return &fakeConn{db: f}, nil }
func (f *fakeDB) Driver() driver.Driver                        { return fakeDriver{f} }

func (f *fakeDB) last() call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.execs[len(f.execs)-1]
}

type fakeDriver struct{ db *fakeDB }

func (d fakeDriver) Open(string) (driver.Conn, error) { return &fakeConn{db: d.db}, nil }

type fakeConn struct{ db *fakeDB }

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return &fakeStmt{db: c.db, query: query}, nil
}
func (c *fakeConn) Close() error              { return nil }
func (c *fakeConn) Begin() (driver.Tx, error) { return nil, errors.New("no transactions") }

type fakeStmt struct {
	db    *fakeDB
	query string
}

func (s *fakeStmt) Close() error  { return nil }
func (s *fakeStmt) NumInput() int { return -1 }

func (s *fakeStmt) Exec(args []driver.Value) (driver.Result, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.execs = append(s.db.execs, call{query: s.query, args: args})
	return driver.RowsAffected(s.db.affected), nil
}

func (s *fakeStmt) Query(args []driver.Value) (driver.Rows, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.execs = append(s.db.execs, call{query: s.query, args: args})
	if len(s.db.results) == 0 {
		return &fakeRows{}, nil
	}
	r := s.db.results[0]
	s.db.results = s.db.results[1:]
	return r, nil
}

type fakeRows struct {
	cols []string
	rows [][]driver.Value
}

func (r *fakeRows) Columns() []string { return r.cols }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if len(r.rows) == 0 {
		return io.EOF
	}
	copy(dest, r.rows[0])
	r.rows = r.rows[1:]
	return nil
}

func newRepo(t *testing.T) (*Repository, *fakeDB) {
	f := &fakeDB{affected: 1}
	db := sql.OpenDB(f)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db), f
}

func TestRepositoryRecordsSessions(t *testing.T) {
	repo, f := newRepo(t)
	var _ session.Recorder = repo
	var _ tuning.Repository = repo
	ctx := context.Background()

	id := uuid.New()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, repo.StartSession(ctx, session.Record{
		ID: id, StartedAt: start, Depth: 1.4, Speed: 2, TotalMinutes: 90,
		DescentMinutes: 14, AscentMinutes: 14, Status: session.RecordStarted,
	}))
	c := f.last()
	assert.Contains(t, c.query, "INSERT INTO sessions")
	assert.Equal(t, []driver.Value{id.String(), start, 1.4, int64(2), 90.0, 14.0, 14.0, "started"}, c.args)

	require.NoError(t, repo.LogSensors(ctx, session.SensorLog{
		SessionID: id,
		At:        start,
		Elapsed:   7,
		Reading:   sensors.Reading{PressureBar: 1.1, O2Percent: 21, TemperatureC: 24, HumidityPct: 50},
		TargetFsw: 12,
		Comp:      30,
	}))
	c = f.last()
	assert.Contains(t, c.query, "session_sensor_logs")
	assert.Equal(t, int64(7), c.args[2])
	assert.Equal(t, 1.1, c.args[3])

	require.NoError(t, repo.EndSession(ctx, id, session.RecordCompleted, start.Add(time.Hour)))
	f.affected = 0
	assert.Error(t, repo.EndSession(ctx, uuid.New(), session.RecordStopped, start))
}

func TestRepositorySettingsRow(t *testing.T) {
	repo, f := newRepo(t)
	ctx := context.Background()

	_, _, err := repo.LoadSettings(ctx)
	assert.ErrorIs(t, err, ErrNoSettings)

	require.NoError(t, repo.SaveSettings(ctx, session.Settings{Depth: 2, TotalMinutes: 110, Speed: 3}))
	assert.Contains(t, f.last().query, "ON CONFLICT (id)")

	require.NoError(t, repo.SaveGains(ctx, control.DefaultGains))
	var saved control.Gains
	require.NoError(t, json.Unmarshal([]byte(f.last().args[1].(string)), &saved))
	assert.Equal(t, control.DefaultGains, saved)

	gains, _ := json.Marshal(control.Gains{CompOffset: 10, CompGain: 9, CompDepth: 100, DecompOffset: 14, DecompGain: 6, DecompDepth: 100})
	f.results = append(f.results, &fakeRows{
		cols: []string{"depth", "total_duration", "speed", "gains"},
		rows: [][]driver.Value{{2.0, 110.0, int64(3), gains}},
	})
	s, g, err := repo.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.Settings{Depth: 2, TotalMinutes: 110, Speed: 3}, s)
	require.NotNil(t, g)
	assert.Equal(t, 9.0, g.CompGain)

	f.results = append(f.results, &fakeRows{
		cols: []string{"depth", "total_duration", "speed", "gains"},
		rows: [][]driver.Value{{nil, nil, nil, gains}},
	})
	s, _, err = repo.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.DefaultSettings, s)
}

func TestRepositoryTuningSessions(t *testing.T) {
	repo, f := newRepo(t)
	ctx := context.Background()
	id := uuid.New()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, repo.CreateTuningSession(ctx, &tuning.Session{
		ID: id, StartedAt: start, Status: tuning.StatusCollecting, Used: control.DefaultGains,
	}))

	require.NoError(t, repo.CompleteTuningSession(ctx, &tuning.Session{ID: id, Status: tuning.StatusFailed, Error: "insufficient tuning data"}))
	c := f.last()
	assert.Nil(t, c.args[3])
	assert.Nil(t, c.args[4])
	assert.Equal(t, "insufficient tuning data", c.args[5])

	used, _ := json.Marshal(control.DefaultGains)
	rec, _ := json.Marshal(tuning.Recommendation{Suggested: control.DefaultGains, Score: 81, HasChanges: true})
	f.results = append(f.results, &fakeRows{
		cols: []string{"id", "started_at", "ended_at", "status", "target_depth", "target_duration",
			"used_params", "analysis", "recommendation", "error", "approved", "approved_at"},
		rows: [][]driver.Value{
			{id.String(), start, start.Add(time.Hour), "completed", 1.4, 90.0, used, nil, rec, nil, true, start.Add(2 * time.Hour)},
			{uuid.NewString(), start, nil, "collecting", nil, nil, used, nil, nil, nil, false, nil},
		},
	})
	history, err := repo.TuningHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.Equal(t, id, history[0].ID)
	require.NotNil(t, history[0].EndedAt)
	assert.Equal(t, start.Add(time.Hour), *history[0].EndedAt)
	require.NotNil(t, history[0].Recommendation)
	assert.Equal(t, 81.0, history[0].Recommendation.Score)
	assert.True(t, history[0].Approved)
	assert.Nil(t, history[0].Analysis)

	assert.Nil(t, history[1].EndedAt)
	assert.Nil(t, history[1].ApprovedAt)
	assert.Equal(t, control.DefaultGains, history[1].Used)
	assert.Equal(t, int64(10), f.last().args[0])
}

type inline struct {
	mu   sync.Mutex
	errs map[string]error
}

func (e *inline) Go(name string, fn func(ctx context.Context) error) {
	err := fn(context.Background())
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.errs == nil {
		e.errs = map[string]error{}
	}
	e.errs[name] = err
}

func TestCacheReportsUnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	exec := &inline{}
	c := newCache(client, CacheConfig{Prefix: "room1"}, exec)
	defer c.Close()

	c.PublishSnapshot(&session.Snapshot{Phase: session.Running})
	c.PublishAlarm(alarm.Record{Kind: alarm.KindHighO2})
	assert.Error(t, exec.errs["redis snapshot"])
	assert.Error(t, exec.errs["redis alarm"])

	_, err := c.Latest(context.Background())
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotCached))
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "room1:snapshot", snapshotKey("room1"))
	assert.True(t, strings.HasSuffix(alarmsKey("room1"), ":alarms"))
}
