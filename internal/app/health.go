// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/go-logr/logr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/relabs-tech/hyperbaric_controller/internal/session"
)

// Health service names.
const (
	HealthEngine = "chamber.Engine"
	HealthPLC    = "chamber.PLC"
)

// Probes report component liveness to the health monitor.
type Probes struct {
	Snapshot func() *session.Snapshot
	// Connected reports the PLC link; nil means always connected.
	Connected func() bool
	// MaxAge is how old the last snapshot may be before the engine is unhealthy.
	MaxAge time.Duration
	Now    func() time.Time
}

// HealthMonitor keeps a gRPC health server in step with the probes.
type HealthMonitor struct {
	logger logr.Logger
	server *health.Server
	probes Probes
}

func NewHealthMonitor(logger logr.Logger, probes Probes) *HealthMonitor {
	if probes.MaxAge <= 0 {
		probes.MaxAge = 5 * time.Second
	}
	if probes.Now == nil {
		probes.Now = time.Now
	}
	m := &HealthMonitor{logger: logger, server: health.NewServer(), probes: probes}
	m.server.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	m.update()
	return m
}

func (m *HealthMonitor) Server() grpc_health_v1.HealthServer { return m.server }

func (m *HealthMonitor) update() {
	engine := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if s := m.probes.Snapshot(); s != nil && m.probes.Now().Sub(s.At) <= m.probes.MaxAge {
		engine = grpc_health_v1.HealthCheckResponse_SERVING
	}
	m.server.SetServingStatus(HealthEngine, engine)

	plc := grpc_health_v1.HealthCheckResponse_SERVING
	if m.probes.Connected != nil && !m.probes.Connected() {
		plc = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	m.server.SetServingStatus(HealthPLC, plc)
}

// Watch refreshes the statuses every interval until ctx is done.
func (m *HealthMonitor) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.server.Shutdown()
			return
		case <-ticker.C:
			m.update()
		}
	}
}

// Serve runs the gRPC health service on addr until ctx is done.
func (m *HealthMonitor) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("health listen %s: %w", addr, err)
	}
	srv := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, m.server)

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()
	m.logger.Info("grpc health listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && ctx.Err() == nil {
		return fmt.Errorf("health serve: %w", err)
	}
	return nil
}
