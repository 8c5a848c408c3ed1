package sensors

import (
	"fmt"
	"math"
	"sync"
)

// RawSample holds the analog counts of one PLC frame. Missing channels are NaN.
type RawSample struct {
	Pressure    float64
	O2          float64
	Temperature float64
	Humidity    float64
}

// Reading is the conditioned output of the pipeline.
type Reading struct {
	PressureBar  float64 `json:"pressure"`
	O2Percent    float64 `json:"o2"`
	TemperatureC float64 `json:"temperature"`
	HumidityPct  float64 `json:"humidity"`
	O2Raw        float64 `json:"o2RawValue"`
}

// Alphas are the per-channel smoothing factors.
type Alphas struct {
	Pressure    float64
	O2          float64
	Temperature float64
	Humidity    float64
}

// DefaultAlphas matches the tuning used on the chambers in service.
var DefaultAlphas = Alphas{Pressure: 0.35, O2: 0.2, Temperature: 0.25, Humidity: 0.25}

// FaultThresholds are minimum raw counts below which a sensor is considered broken.
type FaultThresholds struct {
	Pressure    float64
	Temperature float64
	Humidity    float64
}

// DefaultFaultThresholds are the raw floors of the 4-20 mA inputs.
var DefaultFaultThresholds = FaultThresholds{Pressure: 2000, Temperature: 2000, Humidity: 2000}

// Readiness texts reported to the operator.
const (
	ReadyText              = "Chamber is ready"
	PressureFaultText      = "Pressure sensor problem"
	TemperatureFaultText   = "Temperature sensor problem"
	HumidityFaultText      = "Humidity sensor problem"
	CommunicationFaultText = "Chamber communication problem. Please contact support."
)

// Readiness is advisory chamber state derived from raw counts.
type Readiness struct {
	Ready  bool   `json:"ready"`
	Reason string `json:"reason"`
}

// CheckReadiness compares raw counts (not engineering values) against the fault floors.
// The first failing sensor in pressure, temperature, humidity order wins.
func CheckReadiness(raw RawSample, th FaultThresholds) Readiness {
	switch {
	case below(raw.Pressure, th.Pressure):
		return Readiness{Reason: PressureFaultText}
	case below(raw.Temperature, th.Temperature):
		return Readiness{Reason: TemperatureFaultText}
	case below(raw.Humidity, th.Humidity):
		return Readiness{Reason: HumidityFaultText}
	}
	return Readiness{Ready: true, Reason: ReadyText}
}

// CommunicationFault is the readiness reported for short or missing frames.
func CommunicationFault() Readiness {
	return Readiness{Reason: CommunicationFaultText}
}

func below(v, floor float64) bool {
	return math.IsNaN(v) || v < floor
}

// PipelineConfig wires calibrations, filters and the O2 model together.
type PipelineConfig struct {
	Pressure    Calibration
	Temperature Calibration
	Humidity    Calibration
	O2Decimals  int
	Alphas      Alphas
	O2          *O2Model
}

// Pipeline converts, calibrates and smooths raw samples. Filter state persists
// across sessions. Safe for concurrent use.
type Pipeline struct {
	mu sync.Mutex

	cfg PipelineConfig

	pressure    *Filter
	o2          *Filter
	temperature *Filter
	humidity    *Filter

	last Reading
}

// NewPipeline validates the calibrations and builds one filter per channel.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	for _, c := range []Calibration{cfg.Pressure, cfg.Temperature, cfg.Humidity} {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}
	if cfg.O2 == nil {
		return nil, fmt.Errorf("o2 model is required")
	}

	p := &Pipeline{cfg: cfg}
	var err error
	if p.pressure, err = NewFilter(cfg.Alphas.Pressure, cfg.Pressure.Decimals); err != nil {
		return nil, fmt.Errorf("pressure filter: %w", err)
	}
	if p.o2, err = NewFilter(cfg.Alphas.O2, cfg.O2Decimals); err != nil {
		return nil, fmt.Errorf("o2 filter: %w", err)
	}
	if p.temperature, err = NewFilter(cfg.Alphas.Temperature, cfg.Temperature.Decimals); err != nil {
		return nil, fmt.Errorf("temperature filter: %w", err)
	}
	if p.humidity, err = NewFilter(cfg.Alphas.Humidity, cfg.Humidity.Decimals); err != nil {
		return nil, fmt.Errorf("humidity filter: %w", err)
	}
	return p, nil
}

// Process conditions one raw sample. Missing channels keep their previous filtered value.
func (p *Pipeline) Process(raw RawSample) Reading {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := Reading{
		PressureBar:  p.pressure.Update(convertOrNaN(p.cfg.Pressure, raw.Pressure)),
		TemperatureC: p.temperature.Update(convertOrNaN(p.cfg.Temperature, raw.Temperature)),
		HumidityPct:  p.humidity.Update(convertOrNaN(p.cfg.Humidity, raw.Humidity)),
		O2Raw:        raw.O2,
	}

	o2 := math.NaN()
	if !math.IsNaN(raw.O2) {
		o2 = p.cfg.O2.Percentage(raw.O2)
	} else {
		r.O2Raw = p.last.O2Raw
	}
	r.O2Percent = p.o2.Update(o2)

	p.last = r
	return r
}

// Last returns the most recent reading.
func (p *Pipeline) Last() Reading {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// SetO2Model swaps the O2 calibration; the O2 filter keeps its state.
func (p *Pipeline) SetO2Model(m *O2Model) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.O2 = m
}

// O2Model returns the active O2 calibration.
func (p *Pipeline) O2Model() *O2Model {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.O2
}

func convertOrNaN(c Calibration, raw float64) float64 {
	if math.IsNaN(raw) {
		return raw
	}
	return Convert(c, raw)
}
