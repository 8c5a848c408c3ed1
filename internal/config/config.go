package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/relabs-tech/hyperbaric_controller/internal/sensors"
)

// Config holds the process configuration of chamberd.
type Config struct {
	// Chamber hardware description (YAML)
	ChamberFile string

	// PLC gateway
	PLCSerialPort   string
	PLCBaudRate     int
	PLCStaleTimeout time.Duration
	LiveBitInterval time.Duration
	DemoMode        bool
	TickInterval    time.Duration
	// RegisterDebug exposes raw PLC writes on the web API for commissioning.
	RegisterDebug bool

	// MQTT
	MQTTBroker             string
	MQTTClientIDController string
	MQTTClientIDConsole    string
	MQTTTopicPrefix        string
	MQTTQoS                byte

	// Mask bridge
	BridgeURL     string
	BridgeMyID    string
	BridgeToID    string
	BridgeTimeout time.Duration

	// Servers
	WebServerPort int
	GRPCPort      int

	// Storage; empty disables the store
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PostgresDSN   string

	// Sensor pipeline
	Alphas sensors.Alphas
	Faults sensors.FaultThresholds

	// Alarm level overrides; zero keeps the chamber file values
	O2AlarmPercent       float64
	HumidityAlarmPercent float64

	// Console
	ConsoleLogInterval int // milliseconds
}

// Package-level unexported variables for the singleton:
//   - globalConfig is only set by InitGlobal and read through Get.
//   - configOnce makes InitGlobal run once.
//   - configMu guards globalConfig for concurrent readers.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Defaults returns the values used for keys missing from the file.
func Defaults() *Config {
	return &Config{
		ChamberFile:            "chamber.yaml",
		PLCBaudRate:            115200,
		PLCStaleTimeout:        3 * time.Second,
		LiveBitInterval:        3 * time.Second,
		TickInterval:           time.Second,
		MQTTClientIDController: "chamberd",
		MQTTClientIDConsole:    "chamberd-console",
		MQTTTopicPrefix:        "chamber",
		MQTTQoS:                1,
		BridgeMyID:             "server-1",
		BridgeToID:             "raspi-1",
		BridgeTimeout:          2 * time.Second,
		WebServerPort:          8080,
		GRPCPort:               9090,
		Alphas:                 sensors.DefaultAlphas,
		Faults:                 sensors.DefaultFaultThresholds,
		ConsoleLogInterval:     1000,
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()
	return Parse(file)
}

// Parse reads KEY=VALUE lines over the defaults. Blank lines and lines
// starting with # are skipped.
func Parse(r io.Reader) (*Config, error) {
	cfg := Defaults()
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseInt(key, value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

func parseFloat(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

// parseMillis reads a millisecond count.
func parseMillis(key, value string) (time.Duration, error) {
	v, err := parseInt(key, value)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, v)
	}
	return time.Duration(v) * time.Millisecond, nil
}

func parseAlpha(key, value string) (float64, error) {
	v, err := parseFloat(key, value)
	if err != nil {
		return 0, err
	}
	if v <= 0 || v > 1 {
		return 0, fmt.Errorf("%s must be in (0,1], got %g", key, v)
	}
	return v, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	case "CHAMBER_FILE":
		c.ChamberFile = value

	// PLC gateway
	case "PLC_SERIAL_PORT":
		c.PLCSerialPort = value
	case "PLC_BAUD_RATE":
		c.PLCBaudRate, err = parseInt(key, value)
	case "PLC_STALE_TIMEOUT_MS":
		c.PLCStaleTimeout, err = parseMillis(key, value)
	case "LIVE_BIT_INTERVAL_MS":
		c.LiveBitInterval, err = parseMillis(key, value)
	case "TICK_INTERVAL_MS":
		c.TickInterval, err = parseMillis(key, value)
	case "DEMO_MODE":
		c.DemoMode, err = strconv.ParseBool(value)
		if err != nil {
			err = fmt.Errorf("invalid DEMO_MODE %q: %w", value, err)
		}
	case "PLC_REGISTER_DEBUG":
		c.RegisterDebug, err = strconv.ParseBool(value)
		if err != nil {
			err = fmt.Errorf("invalid PLC_REGISTER_DEBUG %q: %w", value, err)
		}

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_CONTROLLER":
		c.MQTTClientIDController = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_TOPIC_PREFIX":
		c.MQTTTopicPrefix = strings.TrimSuffix(value, "/")
	case "MQTT_QOS":
		qos, perr := parseInt(key, value)
		if perr != nil {
			return perr
		}
		if qos < 0 || qos > 2 {
			return fmt.Errorf("MQTT_QOS must be 0-2, got %d", qos)
		}
		c.MQTTQoS = byte(qos)

	// Mask bridge
	case "BRIDGE_URL":
		c.BridgeURL = value
	case "BRIDGE_MY_ID":
		c.BridgeMyID = value
	case "BRIDGE_TO_ID":
		c.BridgeToID = value
	case "BRIDGE_TIMEOUT_MS":
		c.BridgeTimeout, err = parseMillis(key, value)

	// Servers
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value)
	case "GRPC_PORT":
		c.GRPCPort, err = parseInt(key, value)

	// Storage
	case "REDIS_ADDR":
		c.RedisAddr = value
	case "REDIS_PASSWORD":
		c.RedisPassword = value
	case "REDIS_DB":
		c.RedisDB, err = parseInt(key, value)
	case "POSTGRES_DSN":
		c.PostgresDSN = value

	// Sensor pipeline
	case "FILTER_ALPHA_PRESSURE":
		c.Alphas.Pressure, err = parseAlpha(key, value)
	case "FILTER_ALPHA_O2":
		c.Alphas.O2, err = parseAlpha(key, value)
	case "FILTER_ALPHA_TEMPERATURE":
		c.Alphas.Temperature, err = parseAlpha(key, value)
	case "FILTER_ALPHA_HUMIDITY":
		c.Alphas.Humidity, err = parseAlpha(key, value)
	case "FAULT_RAW_PRESSURE":
		c.Faults.Pressure, err = parseFloat(key, value)
	case "FAULT_RAW_TEMPERATURE":
		c.Faults.Temperature, err = parseFloat(key, value)
	case "FAULT_RAW_HUMIDITY":
		c.Faults.Humidity, err = parseFloat(key, value)

	// Alarm levels
	case "O2_ALARM_PERCENT":
		c.O2AlarmPercent, err = parseFloat(key, value)
	case "HUMIDITY_ALARM_PERCENT":
		c.HumidityAlarmPercent, err = parseFloat(key, value)

	case "CONSOLE_LOG_INTERVAL":
		c.ConsoleLogInterval, err = parseInt(key, value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if !c.DemoMode && c.PLCSerialPort == "" {
		return fmt.Errorf("PLC_SERIAL_PORT is required unless DEMO_MODE=true")
	}
	if c.PLCBaudRate <= 0 {
		return fmt.Errorf("PLC_BAUD_RATE must be positive")
	}
	if c.MQTTTopicPrefix == "" {
		return fmt.Errorf("MQTT_TOPIC_PREFIX is required")
	}
	if c.ConsoleLogInterval <= 0 {
		return fmt.Errorf("CONSOLE_LOG_INTERVAL must be positive")
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Only the first call loads the file.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance, or nil before InitGlobal.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
