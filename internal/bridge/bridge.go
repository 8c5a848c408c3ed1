// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package bridge sends mask and door directives to the signaling server
// that relays them to the in-chamber unit.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/hyperbaric_controller/internal/session"
)

// Config addresses the signaling server and the two peers.
type Config struct {
	URL string
	// MyID names this controller, ToID the in-chamber unit.
	MyID    string
	ToID    string
	Timeout time.Duration
}

// Message is the envelope exchanged with the signaling server.
type Message struct {
	Type    string `json:"type"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	ID      string `json:"id,omitempty"`
	Command string `json:"command,omitempty"`
}

const (
	typeRegister = "register"
	typeCommand  = "command"
)

var ErrNoServer = errors.New("bridge: no signaling url configured")

// Client keeps one websocket to the signaling server and redials it lazily
// after a failure.
type Client struct {
	logger logr.Logger
	cfg    Config
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

func New(logger logr.Logger, cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &Client{
		logger: logger,
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.Timeout},
	}
}

// Send delivers d once. A failed write drops the connection so the next
// directive redials; nothing is retried here.
func (c *Client) Send(ctx context.Context, d session.Directive) error {
	if c.cfg.URL == "" {
		return ErrNoServer
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	msg := Message{Type: typeCommand, From: c.cfg.MyID, To: c.cfg.ToID, Command: string(d)}
	if err := c.write(conn, msg); err != nil {
		c.drop(conn)
		return fmt.Errorf("bridge send %s: %w", d, err)
	}
	c.logger.Info("directive sent", "command", string(d), "to", c.cfg.ToID)
	return nil
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("bridge dial %s: %w", c.cfg.URL, err)
	}
	if err := c.write(conn, Message{Type: typeRegister, ID: c.cfg.MyID}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bridge register: %w", err)
	}
	c.conn = conn
	go c.drain(conn)
	return conn, nil
}

func (c *Client) write(conn *websocket.Conn, msg Message) error {
	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.Timeout)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

// drain reads replies so control frames are processed; replies are only logged.
func (c *Client) drain(conn *websocket.Conn) {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			c.drop(conn)
			c.mu.Unlock()
			return
		}
		c.logger.V(1).Info("bridge reply", "type", msg.Type, "from", msg.From, "command", msg.Command)
	}
}

// drop must be called with mu held.
func (c *Client) drop(conn *websocket.Conn) {
	conn.Close()
	if c.conn == conn {
		c.conn = nil
	}
}

// Connected reports whether a connection is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	conn := c.conn
	c.conn = nil
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(c.cfg.Timeout))
	return conn.Close()
}
