// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package plc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"github.com/go-logr/logr"
	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/hyperbaric_controller/internal/session"
)

// SerialConfig selects the gateway serial port.
type SerialConfig struct {
	PortName string
	BaudRate uint
}

// OpenSerial opens the gateway link 8N1.
func OpenSerial(cfg SerialConfig) (io.ReadWriteCloser, error) {
	opts := serial.OpenOptions{
		PortName:              cfg.PortName,
		BaudRate:              cfg.BaudRate,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}
	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open plc serial %s: %w", cfg.PortName, err)
	}
	return port, nil
}

// Gateway reads PLC frames from a link and serializes writes to it.
type Gateway struct {
	logger logr.Logger
	port   io.ReadWriteCloser
	parser *nmea.SentenceParser
	stale  time.Duration
	now    func() time.Time

	wmu       sync.Mutex
	lastFrame atomic.Int64
	frames    atomic.Uint64
	closeOnce sync.Once
}

// NewGateway wraps an open link. A link is considered down when no frame
// arrived within stale.
func NewGateway(logger logr.Logger, port io.ReadWriteCloser, stale time.Duration) *Gateway {
	if stale <= 0 {
		stale = 3 * time.Second
	}
	return &Gateway{
		logger: logger,
		port:   port,
		parser: NewParser(),
		stale:  stale,
		now:    time.Now,
	}
}

// Run reads sentences until ctx is done or the link fails, handing each frame
// to deliver. A read failure delivers an empty frame first so the engine sees
// the communication fault.
func (g *Gateway) Run(ctx context.Context, deliver func(session.Frame)) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = g.Close()
		case <-stop:
		}
	}()

	reader := bufio.NewReader(g.port)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			deliver(session.Frame{})
			return fmt.Errorf("plc read: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "$") {
			continue
		}

		sentence, err := g.parser.Parse(line)
		if err != nil {
			g.logger.V(1).Info("dropping malformed sentence", "line", line, "error", err.Error())
			continue
		}
		f, ok := sentence.(FrameSentence)
		if !ok {
			continue
		}
		g.lastFrame.Store(g.now().UnixNano())
		if g.frames.Add(1) == 1 {
			g.logger.Info("first plc frame received", "values", len(f.Values))
		}
		deliver(session.Frame(f.Values))
	}
}

// Watch delivers an empty frame every interval while the link is stale.
func (g *Gateway) Watch(ctx context.Context, interval time.Duration, deliver func(session.Frame)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !g.Connected() {
				deliver(session.Frame{})
			}
		}
	}
}

// Connected reports whether a frame arrived within the stale window.
func (g *Gateway) Connected() bool {
	last := g.lastFrame.Load()
	return last != 0 && g.now().Sub(time.Unix(0, last)) <= g.stale
}

// Frames is the number of frames received.
func (g *Gateway) Frames() uint64 { return g.frames.Load() }

func (g *Gateway) WriteBit(register string, on bool) error {
	return g.write(EncodeBit(register, on))
}

func (g *Gateway) WriteRegister(register string, value int) error {
	return g.write(EncodeRegister(register, value))
}

func (g *Gateway) write(sentence string) error {
	g.wmu.Lock()
	defer g.wmu.Unlock()
	if _, err := io.WriteString(g.port, sentence); err != nil {
		return fmt.Errorf("plc write %q: %w", strings.TrimSpace(sentence), err)
	}
	return nil
}

// RunLiveBit writes the live bit every interval while the link is up.
func (g *Gateway) RunLiveBit(ctx context.Context, register string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !g.Connected() {
				continue
			}
			if err := g.WriteBit(register, true); err != nil {
				g.logger.Error(err, "live bit write failed", "register", register)
			}
		}
	}
}

func (g *Gateway) Close() error {
	var err error
	g.closeOnce.Do(func() {
		err = g.port.Close()
		if errors.Is(err, io.ErrClosedPipe) {
			err = nil
		}
	})
	return err
}
