package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/hyperbaric_controller/internal/alarm"
	"github.com/relabs-tech/hyperbaric_controller/internal/session"
)

type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func startHub(t *testing.T, eng Commander) (*Hub, *websocket.Conn) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(logr.Discard(), eng)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	return hub, conn
}

func readMessage(t *testing.T, conn *websocket.Conn) inbound {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg inbound
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHubRepliesToCommands(t *testing.T) {
	eng := &fakeEngine{}
	_, conn := startHub(t, eng)

	require.NoError(t, conn.WriteJSON(session.Envelope{Type: "fan", Data: json.RawMessage(`{"speed":2}`)}))
	msg := readMessage(t, conn)
	require.Equal(t, MessageReply, msg.Type)

	var res session.Result
	require.NoError(t, json.Unmarshal(msg.Data, &res))
	assert.Equal(t, session.ReplyAck, res.Type)
	assert.Equal(t, "fan", res.Command)

	got := eng.commands()
	require.Len(t, got, 1)
	assert.IsType(t, session.Fan{}, got[0])
}

func TestHubRejectsUnknownCommands(t *testing.T) {
	eng := &fakeEngine{}
	_, conn := startHub(t, eng)

	require.NoError(t, conn.WriteJSON(session.Envelope{Type: "openAirlock"}))
	msg := readMessage(t, conn)

	var res session.Result
	require.NoError(t, json.Unmarshal(msg.Data, &res))
	assert.Equal(t, session.ReplyRejected, res.Type)
	assert.Equal(t, "openAirlock", res.Command)
	assert.Empty(t, eng.commands())
}

func TestHubBroadcastsStatusAndAlarms(t *testing.T) {
	hub, conn := startHub(t, &fakeEngine{})

	hub.PublishSnapshot(readySnapshot())
	msg := readMessage(t, conn)
	assert.Equal(t, MessageStatus, msg.Type)
	assert.Contains(t, string(msg.Data), `"status":"running"`)

	hub.PublishAlarm(alarm.Record{Kind: alarm.KindDeviation, Message: "Pressure deviation"})
	msg = readMessage(t, conn)
	assert.Equal(t, MessageAlarm, msg.Type)
	assert.Contains(t, string(msg.Data), "Pressure deviation")
}

func TestHubForgetsClosedClients(t *testing.T) {
	hub, conn := startHub(t, &fakeEngine{})
	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestExecuteFillsCommandName(t *testing.T) {
	eng := &fakeEngine{do: func(session.Command) (session.Result, error) {
		return session.Result{Type: session.ReplySessionPaused}, nil
	}}
	res := Execute(context.Background(), eng, session.Envelope{Type: "sessionPause"})
	assert.Equal(t, session.ReplySessionPaused, res.Type)
	assert.Equal(t, "sessionPause", res.Command)
}
