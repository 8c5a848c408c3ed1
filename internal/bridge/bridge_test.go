package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/relabs-tech/hyperbaric_controller/internal/session"
)

func signalingServer(t *testing.T) (*httptest.Server, <-chan Message) {
	t.Helper()
	got := make(chan Message, 16)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			got <- msg
		}
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func next(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return Message{}
	}
}

func TestSendRegistersOnceAndForwardsDirectives(t *testing.T) {
	srv, got := signalingServer(t)
	c := New(zapr.NewLogger(zaptest.NewLogger(t)), Config{
		URL:  "ws" + strings.TrimPrefix(srv.URL, "http"),
		MyID: "server-1",
		ToID: "raspi-1",
	})
	defer c.Close()

	require.NoError(t, c.Send(context.Background(), session.DirectiveStartSession))
	require.NoError(t, c.Send(context.Background(), session.DirectivePutOnMask))
	assert.True(t, c.Connected())

	assert.Equal(t, Message{Type: "register", ID: "server-1"}, next(t, got))
	assert.Equal(t, Message{Type: "command", From: "server-1", To: "raspi-1", Command: "start_session"}, next(t, got))
	assert.Equal(t, Message{Type: "command", From: "server-1", To: "raspi-1", Command: "puton_mask"}, next(t, got))
}

func TestSendWithoutServer(t *testing.T) {
	c := New(logr.Discard(), Config{})
	assert.ErrorIs(t, c.Send(context.Background(), session.DirectiveEndSession), ErrNoServer)

	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	c = New(logr.Discard(), Config{URL: url, Timeout: 500 * time.Millisecond})
	assert.Error(t, c.Send(context.Background(), session.DirectiveEndSession))
	assert.False(t, c.Connected())
}
