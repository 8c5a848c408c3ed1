// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-logr/logr"

	"github.com/relabs-tech/hyperbaric_controller/internal/alarm"
	"github.com/relabs-tech/hyperbaric_controller/internal/session"
)

// PublisherConfig selects the broker and topic layout.
type PublisherConfig struct {
	Broker   string
	ClientID string
	Prefix   string
	QoS      byte
	// Timeout bounds connect and each publish acknowledgement.
	Timeout time.Duration
}

// Publisher publishes snapshots and alarms to MQTT. Publishing never blocks
// the caller: acknowledgements are awaited on a separate goroutine.
type Publisher struct {
	logger  logr.Logger
	client  mqtt.Client
	topics  map[string]string
	qos     byte
	timeout time.Duration
	onError func(topic string, err error)
}

// Connect dials the broker. The status topic carries a retained "offline"
// will and is set "online" once connected.
func Connect(logger logr.Logger, cfg PublisherConfig, onError func(string, error)) (*Publisher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	topics := Topics(cfg.Prefix)
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.Timeout).
		SetWill(topics[TopicStatus], "offline", 1, true).
		SetOnConnectHandler(func(c mqtt.Client) {
			c.Publish(topics[TopicStatus], 1, true, "online")
			logger.Info("mqtt connected", "broker", cfg.Broker)
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Error(err, "mqtt connection lost", "broker", cfg.Broker)
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("mqtt connect %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}
	return newPublisher(logger, client, cfg, onError), nil
}

func newPublisher(logger logr.Logger, client mqtt.Client, cfg PublisherConfig, onError func(string, error)) *Publisher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Publisher{
		logger:  logger,
		client:  client,
		topics:  Topics(cfg.Prefix),
		qos:     cfg.QoS,
		timeout: cfg.Timeout,
		onError: onError,
	}
}

// PublishSnapshot sends the per-concern payloads and the full snapshot.
func (p *Publisher) PublishSnapshot(s *session.Snapshot) {
	p.publish(TopicSensors, SensorsOf(s), false)
	p.publish(TopicSession, SessionOf(s), false)
	p.publish(TopicChamber, ChamberOf(s), true)
	p.publish(TopicValves, ValvesOf(s), false)
	p.publish(TopicAll, s, true)
}

func (p *Publisher) PublishAlarm(r alarm.Record) {
	p.publish(TopicAlarm, r, false)
}

func (p *Publisher) publish(name string, v any, retained bool) {
	topic := p.topics[name]
	payload, err := json.Marshal(v)
	if err != nil {
		p.fail(topic, fmt.Errorf("marshal %s: %w", name, err))
		return
	}
	token := p.client.Publish(topic, p.qos, retained, payload)
	go func() {
		if !token.WaitTimeout(p.timeout) {
			p.fail(topic, fmt.Errorf("publish %s: timed out", topic))
			return
		}
		if err := token.Error(); err != nil {
			p.fail(topic, err)
		}
	}()
}

func (p *Publisher) fail(topic string, err error) {
	p.logger.V(1).Info("mqtt publish failed", "topic", topic, "error", err.Error())
	if p.onError != nil {
		p.onError(topic, err)
	}
}

// Close marks the controller offline and disconnects.
func (p *Publisher) Close() {
	if t := p.client.Publish(p.topics[TopicStatus], 1, true, "offline"); t.WaitTimeout(p.timeout) && t.Error() != nil {
		p.logger.Error(t.Error(), "mqtt offline status not published")
	}
	p.client.Disconnect(250)
}
