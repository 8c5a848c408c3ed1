package sensors

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/hyperbaric_controller/internal/chamber"
)

var pressureCal = Calibration{Name: "pressure", EngLower: 0, EngUpper: 3, AnalogLower: 2000, AnalogUpper: 16383, Decimals: 3}

func TestConvert(t *testing.T) {
	assert.Equal(t, 0.0, Convert(pressureCal, 2000))
	assert.Equal(t, 3.0, Convert(pressureCal, 16383))
	assert.InDelta(t, 1.5, Convert(pressureCal, 9191.5), 1e-9)

	// Below the analog floor is reported, not clamped.
	assert.Less(t, Convert(pressureCal, 1000), 0.0)
}

func TestLinearConversionValveRange(t *testing.T) {
	// Valve degrees to actuator counts.
	assert.Equal(t, 2500.0, LinearConversion(2500, 16383, 0, 90, 0, 0))
	assert.Equal(t, 16383.0, LinearConversion(2500, 16383, 0, 90, 90, 0))
	assert.Equal(t, 2500.0, LinearConversion(2500, 16383, 5, 5, 40, 0))
}

func TestCalibrationValidate(t *testing.T) {
	bad := pressureCal
	bad.AnalogUpper = bad.AnalogLower
	err := bad.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, chamber.ErrConfiguration))

	assert.NoError(t, pressureCal.Validate())
}

func TestFilterSeedsWithFirstSample(t *testing.T) {
	f, err := NewFilter(0.35, 2)
	require.NoError(t, err)

	assert.Equal(t, 1.23, f.Update(1.234))
	_, ok := f.Last()
	assert.True(t, ok)
}

func TestFilterConvergesWithoutOvershoot(t *testing.T) {
	for _, tc := range []struct {
		name   string
		seed   float64
		target float64
	}{
		{"rising", 0, 2.5},
		{"falling", 2.5, 0.2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f, err := NewFilter(0.2, 3)
			require.NoError(t, err)
			prev := f.Update(tc.seed)
			for i := 0; i < 200; i++ {
				y := f.Update(tc.target)
				if tc.target > tc.seed {
					assert.GreaterOrEqual(t, y, prev)
					assert.LessOrEqual(t, y, tc.target)
				} else {
					assert.LessOrEqual(t, y, prev)
					assert.GreaterOrEqual(t, y, tc.target)
				}
				prev = y
			}
			assert.InDelta(t, tc.target, prev, 0.01)
		})
	}
}

func TestFilterIgnoresNonFinite(t *testing.T) {
	f, err := NewFilter(0.5, 1)
	require.NoError(t, err)

	assert.Equal(t, 0.0, f.Update(math.NaN()))
	f.Update(4)
	assert.Equal(t, 4.0, f.Update(math.NaN()))
	assert.Equal(t, 4.0, f.Update(math.Inf(1)))
}

func TestNewFilterRejectsAlpha(t *testing.T) {
	for _, a := range []float64{0, -0.1, 1.5, math.NaN()} {
		_, err := NewFilter(a, 2)
		assert.ErrorIs(t, err, chamber.ErrConfiguration, "alpha %v", a)
	}
}

func TestO2ModelReproducesPoints(t *testing.T) {
	sets := [][3]CalPoint{
		{{0, 0}, {8000, 21}, {8000.0 / 21 * 100, 100}},
		{{1200, 0.5}, {7900, 20.9}, {31000, 98}},
		{{-50, 1}, {60, 3}, {300, 7}},
	}
	for _, pts := range sets {
		m, err := NewO2Model(pts[0], pts[1], pts[2])
		require.NoError(t, err)
		for _, p := range pts {
			assert.InDelta(t, p.Actual, m.Percentage(p.Raw), 1e-6)
		}
	}
}

func TestO2ModelAirRaw(t *testing.T) {
	m, err := NewO2Model(CalPoint{Raw: 4600, Actual: 100}, CalPoint{Raw: 0, Actual: 0}, CalPoint{Raw: 860, Actual: 21})
	require.NoError(t, err)
	assert.Equal(t, 860.0, m.AirRaw())

	m, err = NewO2ModelFromAirPoint(8000)
	require.NoError(t, err)
	assert.Equal(t, 8000.0, m.AirRaw())
}

func TestO2ModelRejectsDuplicateRaw(t *testing.T) {
	_, err := NewO2Model(CalPoint{1, 0}, CalPoint{1, 21}, CalPoint{5, 100})
	assert.ErrorIs(t, err, chamber.ErrConfiguration)
}

func TestO2ModelLinear(t *testing.T) {
	m, err := NewO2ModelFromAirPoint(8400)
	require.NoError(t, err)

	assert.InDelta(t, 10.5, m.Linear(4200), 1e-9)
	assert.InDelta(t, 21, m.Linear(8400), 1e-9)
	// Points slice on the model is left in its original order.
	assert.Equal(t, 0.0, m.Points[0].Raw)
}

func TestCheckReadiness(t *testing.T) {
	th := DefaultFaultThresholds
	ok := RawSample{Pressure: 4000, Temperature: 5000, Humidity: 5000}

	assert.Equal(t, Readiness{Ready: true, Reason: ReadyText}, CheckReadiness(ok, th))

	bad := ok
	bad.Temperature = 100
	bad.Humidity = 100
	assert.Equal(t, TemperatureFaultText, CheckReadiness(bad, th).Reason)

	bad.Pressure = 1999
	assert.Equal(t, PressureFaultText, CheckReadiness(bad, th).Reason)

	floor := ok
	floor.Temperature = 1999
	assert.Equal(t, TemperatureFaultText, CheckReadiness(floor, th).Reason)
	floor.Temperature = 2000
	floor.Humidity = 1999
	assert.Equal(t, HumidityFaultText, CheckReadiness(floor, th).Reason)
	floor.Humidity = 2000
	assert.True(t, CheckReadiness(floor, th).Ready)

	missing := ok
	missing.Humidity = math.NaN()
	assert.Equal(t, HumidityFaultText, CheckReadiness(missing, th).Reason)
}

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	m, err := NewO2ModelFromAirPoint(8000)
	require.NoError(t, err)
	p, err := NewPipeline(PipelineConfig{
		Pressure:    pressureCal,
		Temperature: Calibration{Name: "temperature", EngLower: 0, EngUpper: 50, AnalogLower: 800, AnalogUpper: 16383, Decimals: 1},
		Humidity:    Calibration{Name: "humidity", EngLower: 0, EngUpper: 100, AnalogLower: 800, AnalogUpper: 16383, Decimals: 1},
		O2Decimals:  1,
		Alphas:      DefaultAlphas,
		O2:          m,
	})
	require.NoError(t, err)
	return p
}

func TestPipelineProcess(t *testing.T) {
	p := newTestPipeline(t)

	r := p.Process(RawSample{Pressure: 2000, O2: 8000, Temperature: 800, Humidity: 800})
	assert.Equal(t, 0.0, r.PressureBar)
	assert.InDelta(t, 21.0, r.O2Percent, 1e-9)
	assert.Equal(t, 8000.0, r.O2Raw)

	// A frame missing O2 keeps the filtered O2 and the last raw count.
	r = p.Process(RawSample{Pressure: 16383, O2: math.NaN(), Temperature: 800, Humidity: 800})
	assert.InDelta(t, 21.0, r.O2Percent, 1e-9)
	assert.Equal(t, 8000.0, r.O2Raw)
	assert.InDelta(t, 1.05, r.PressureBar, 1e-9)
	assert.Equal(t, r, p.Last())
}

func TestPipelineSetO2Model(t *testing.T) {
	p := newTestPipeline(t)
	m, err := NewO2ModelFromAirPoint(9000)
	require.NoError(t, err)
	p.SetO2Model(m)
	assert.Same(t, m, p.O2Model())
}
