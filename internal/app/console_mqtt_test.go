package app

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/hyperbaric_controller/internal/alarm"
	"github.com/relabs-tech/hyperbaric_controller/internal/telemetry"
)

func TestFormatTelemetry(t *testing.T) {
	snap := readySnapshot()
	snap.Reading.PressureBar = 1.25
	snap.Reading.O2Percent = 21

	sensorsPayload, err := json.Marshal(telemetry.SensorsOf(snap))
	require.NoError(t, err)
	line, err := formatTelemetry(telemetry.TopicSensors, sensorsPayload)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "[SENS]"))
	assert.Contains(t, line, "P= 1.25bar")
	assert.Contains(t, line, "O2= 21.0%")

	sessionPayload, err := json.Marshal(telemetry.SessionOf(snap))
	require.NoError(t, err)
	line, err = formatTelemetry(telemetry.TopicSession, sessionPayload)
	require.NoError(t, err)
	assert.Contains(t, line, "running")
	assert.Contains(t, line, "t=42/5400")

	chamberPayload, err := json.Marshal(telemetry.ChamberOf(snap))
	require.NoError(t, err)
	line, err = formatTelemetry(telemetry.TopicChamber, chamberPayload)
	require.NoError(t, err)
	assert.Contains(t, line, "door=closed")
	assert.Contains(t, line, "not ready")

	alarmPayload, err := json.Marshal(alarm.Record{Kind: alarm.KindDeviation, Message: "Pressure deviation", RaisedAt: snap.At})
	require.NoError(t, err)
	line, err = formatTelemetry(telemetry.TopicAlarm, alarmPayload)
	require.NoError(t, err)
	assert.Equal(t, "[ALRM] 10:00:00 deviation: Pressure deviation", line)

	line, err = formatTelemetry(telemetry.TopicStatus, []byte("online"))
	require.NoError(t, err)
	assert.Equal(t, "[LINK] controller online", line)

	_, err = formatTelemetry(telemetry.TopicValves, []byte("{"))
	assert.Error(t, err)
}

func TestConsoleThrottlesPeriodicTopics(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(logr.Discard(), &out, "chamber", time.Second)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	valves := []byte(`{"compValve":10,"decompValve":0,"ventilation":{"mode":0,"intensity":0}}`)
	c.Handle("chamber/valves", valves)
	c.Handle("chamber/valves", valves)
	c.Handle("chamber/status", []byte("offline"))
	c.Handle("chamber/status", []byte("online"))
	now = now.Add(time.Second)
	c.Handle("chamber/valves", valves)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "[VALV] comp= 10.0"))
	assert.Equal(t, "[LINK] controller offline", lines[1])
	assert.Equal(t, "[LINK] controller online", lines[2])
	assert.True(t, strings.HasPrefix(lines[3], "[VALV]"))
}

func TestDoorState(t *testing.T) {
	assert.Equal(t, "unknown", doorState(-1, false))
	assert.Equal(t, "closed", doorState(1, true))
	assert.Equal(t, "open", doorState(0, false))
}
