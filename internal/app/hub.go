// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/hyperbaric_controller/internal/alarm"
	"github.com/relabs-tech/hyperbaric_controller/internal/session"
)

// Commander is the part of the session engine the operator surfaces use.
type Commander interface {
	Snapshot() *session.Snapshot
	Do(ctx context.Context, cmd session.Command) (session.Result, error)
}

// Outbound message types on the operator channel.
const (
	MessageStatus = "status"
	MessageAlarm  = "alarm"
	MessageReply  = "reply"
)

// Outbound is one message pushed to operator clients.
type Outbound struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	commandTimeout = 10 * time.Second
	sendBuffer     = 32
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // operator panels are served from other hosts on the chamber LAN
	},
}

// Hub is the operator command channel. Clients send command envelopes and
// receive replies, status snapshots and alarms. It is a session sink.
type Hub struct {
	logger logr.Logger
	cmd    Commander

	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*client]bool
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func NewHub(logger logr.Logger, cmd Commander) *Hub {
	return &Hub{
		logger:     logger,
		cmd:        cmd,
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 64),
		done:       make(chan struct{}),
		clients:    make(map[*client]bool),
	}
}

// Run serves registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.V(1).Info("operator connected", "remote", c.conn.RemoteAddr().String())

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.V(1).Info("operator disconnected", "remote", c.conn.RemoteAddr().String())

		case message := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Clients returns the number of connected operators.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) PublishSnapshot(s *session.Snapshot) {
	h.push(Outbound{Type: MessageStatus, Data: s})
}

func (h *Hub) PublishAlarm(r alarm.Record) {
	h.push(Outbound{Type: MessageAlarm, Data: r})
}

func (h *Hub) push(msg Outbound) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error(err, "operator message not encoded", "type", msg.Type)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.V(1).Info("operator broadcast full, dropping", "type", msg.Type)
	}
}

// ServeWS upgrades the request and attaches an operator client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error(err, "websocket upgrade failed")
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}
	go c.writePump()
	c.readPump()
}

// Execute decodes and runs one envelope. Rejections come back as a
// commandRejected result, never as a transport error.
func Execute(ctx context.Context, cmd Commander, env session.Envelope) session.Result {
	c, err := session.Decode(env)
	if err != nil {
		return session.Rejected(env.Type, err)
	}
	res, err := cmd.Do(ctx, c)
	if err != nil {
		if res.Type == "" {
			res = session.Rejected(env.Type, err)
		}
		return res
	}
	if res.Command == "" {
		res.Command = env.Type
	}
	return res
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env session.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Error(err, "operator read failed")
			}
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		res := Execute(ctx, c.hub.cmd, env)
		cancel()
		if res.Type == session.ReplyRejected {
			c.hub.logger.Info("command rejected", "command", env.Type, "reason", res.Reason)
		}

		data, err := json.Marshal(Outbound{Type: MessageReply, Data: res})
		if err != nil {
			c.hub.logger.Error(err, "reply not encoded", "command", env.Type)
			continue
		}
		if !c.trySend(data) {
			return
		}
	}
}

// trySend queues data unless the hub already closed the client.
func (c *client) trySend(data []byte) bool {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
