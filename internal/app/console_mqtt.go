package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-logr/logr"

	"github.com/relabs-tech/hyperbaric_controller/internal/alarm"
	"github.com/relabs-tech/hyperbaric_controller/internal/config"
	"github.com/relabs-tech/hyperbaric_controller/internal/telemetry"
)

// consoleSession mirrors telemetry.Session with the phase as text.
type consoleSession struct {
	Status         string  `json:"status"`
	Elapsed        int     `json:"elapsed"`
	ProfileLength  int     `json:"profileLength"`
	Manual         bool    `json:"manual"`
	Target         float64 `json:"target"`
	Fsw            float64 `json:"fsw"`
	Error          float64 `json:"error"`
	AvgError       float64 `json:"avgError"`
	Trend          string  `json:"trend"`
	Gas            string  `json:"gas"`
	FswPerMinute   float64 `json:"pressRateFswPerMin"`
	DeviationCount int     `json:"deviationCount"`
}

// Console prints the telemetry topics, one line per message. Periodic topics
// are throttled to one line per interval; alarms always print.
type Console struct {
	logger   logr.Logger
	out      io.Writer
	topics   map[string]string
	interval time.Duration

	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

func NewConsole(logger logr.Logger, out io.Writer, prefix string, interval time.Duration) *Console {
	return &Console{
		logger:   logger,
		out:      out,
		topics:   telemetry.Topics(prefix),
		interval: interval,
		last:     make(map[string]time.Time),
		now:      time.Now,
	}
}

// RunConsoleMQTT subscribes to the telemetry of the configured broker and
// prints it until ctx is done.
func RunConsoleMQTT(ctx context.Context, logger logr.Logger, out io.Writer) error {
	cfg := config.Get()
	c := NewConsole(logger, out, cfg.MQTTTopicPrefix, time.Duration(cfg.ConsoleLogInterval)*time.Millisecond)

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect %s: %w", cfg.MQTTBroker, token.Error())
	}
	defer client.Disconnect(250)
	logger.Info("console connected", "broker", cfg.MQTTBroker)

	for _, name := range []string{
		telemetry.TopicSensors,
		telemetry.TopicSession,
		telemetry.TopicChamber,
		telemetry.TopicValves,
		telemetry.TopicAlarm,
		telemetry.TopicStatus,
	} {
		topic := c.topics[name]
		token := client.Subscribe(topic, cfg.MQTTQoS, func(_ mqtt.Client, msg mqtt.Message) {
			c.Handle(msg.Topic(), msg.Payload())
		})
		token.Wait()
		if token.Error() != nil {
			return fmt.Errorf("subscribe %s: %w", topic, token.Error())
		}
		logger.Info("console subscribed", "topic", topic)
	}

	<-ctx.Done()
	logger.Info("console shutting down")
	return nil
}

// Handle formats one message and writes it unless throttled.
func (c *Console) Handle(topic string, payload []byte) {
	name := strings.TrimPrefix(topic, strings.TrimSuffix(c.topics[telemetry.TopicStatus], telemetry.TopicStatus))
	if name != telemetry.TopicAlarm && name != telemetry.TopicStatus && c.throttled(name) {
		return
	}
	line, err := formatTelemetry(name, payload)
	if err != nil {
		c.logger.Error(err, "console payload not decoded", "topic", topic)
		return
	}
	if line != "" {
		fmt.Fprintln(c.out, line)
	}
}

func (c *Console) throttled(name string) bool {
	if c.interval <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if last, ok := c.last[name]; ok && now.Sub(last) < c.interval {
		return true
	}
	c.last[name] = now
	return false
}

func formatTelemetry(name string, payload []byte) (string, error) {
	switch name {
	case telemetry.TopicSensors:
		var s telemetry.Sensors
		if err := json.Unmarshal(payload, &s); err != nil {
			return "", err
		}
		return fmt.Sprintf("[SENS] P=%5.2fbar %6.2ffsw  O2=%5.1f%% (raw %.0f)  T=%5.1fC  RH=%5.1f%%",
			s.Pressure, s.Fsw, s.O2, s.O2Raw, s.Temperature, s.Humidity), nil

	case telemetry.TopicSession:
		var s consoleSession
		if err := json.Unmarshal(payload, &s); err != nil {
			return "", err
		}
		mode := "auto"
		if s.Manual {
			mode = "manual"
		}
		return fmt.Sprintf("[SESS] %-9s %s t=%d/%d target=%6.2f fsw=%6.2f err=%+5.2f avg=%+5.2f %s %s rate=%+5.2ffsw/min dev=%d",
			s.Status, mode, s.Elapsed, s.ProfileLength, s.Target, s.Fsw, s.Error, s.AvgError, s.Trend, s.Gas, s.FswPerMinute, s.DeviationCount), nil

	case telemetry.TopicChamber:
		var s telemetry.Chamber
		if err := json.Unmarshal(payload, &s); err != nil {
			return "", err
		}
		ready := "ready"
		if !s.Ready {
			ready = "not ready: " + s.Reason
		}
		return fmt.Sprintf("[CHMB] %s  door=%s status=%d fan=%d drain=%t",
			ready, doorState(s.DoorSensor, s.DoorClosed), s.StatusWord, s.Fan, s.Drain), nil

	case telemetry.TopicValves:
		var s telemetry.Valves
		if err := json.Unmarshal(payload, &s); err != nil {
			return "", err
		}
		return fmt.Sprintf("[VALV] comp=%5.1f decomp=%5.1f vent=%d@%.0f",
			s.Comp, s.Decomp, s.Ventilation.Mode, s.Ventilation.Intensity), nil

	case telemetry.TopicAlarm:
		var r alarm.Record
		if err := json.Unmarshal(payload, &r); err != nil {
			return "", err
		}
		return fmt.Sprintf("[ALRM] %s %s: %s", r.RaisedAt.Format(time.TimeOnly), r.Kind, r.Message), nil

	case telemetry.TopicStatus:
		return "[LINK] controller " + string(payload), nil
	}
	return "", nil
}

func doorState(sensor int, closed bool) string {
	switch {
	case sensor < 0:
		return "unknown"
	case closed:
		return "closed"
	}
	return "open"
}
