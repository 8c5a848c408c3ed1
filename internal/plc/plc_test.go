package plc

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/relabs-tech/hyperbaric_controller/internal/sensors"
	"github.com/relabs-tech/hyperbaric_controller/internal/session"
)

func TestFrameRoundTrip(t *testing.T) {
	line := EncodeFrame([]float64{7, 10450, 8000, 0, 6000.5, 9000})
	assert.True(t, strings.HasPrefix(line, "$PHBFR,7,10450,8000,0,6000.5,9000*"))
	assert.True(t, strings.HasSuffix(line, "\r\n"))

	s, err := NewParser().Parse(strings.TrimSpace(line))
	require.NoError(t, err)
	f, ok := s.(FrameSentence)
	require.True(t, ok)
	assert.Equal(t, []float64{7, 10450, 8000, 0, 6000.5, 9000}, f.Values)
}

func TestParserRejectsBadChecksum(t *testing.T) {
	line := strings.TrimSpace(EncodeFrame([]float64{1, 2}))
	bad := line[:len(line)-2] + "00"
	if bad == line {
		bad = line[:len(line)-2] + "FF"
	}
	_, err := NewParser().Parse(bad)
	assert.Error(t, err)
}

func TestWriteSentences(t *testing.T) {
	p := NewParser()

	s, err := p.Parse(strings.TrimSpace(EncodeBit("M0100", true)))
	require.NoError(t, err)
	w := s.(WriteSentence)
	assert.True(t, w.Bit())
	assert.Equal(t, "M0100", w.Register)
	assert.Equal(t, int64(1), w.Value)

	s, err = p.Parse(strings.TrimSpace(EncodeRegister("R01001", 9442)))
	require.NoError(t, err)
	w = s.(WriteSentence)
	assert.False(t, w.Bit())
	assert.Equal(t, "R01001", w.Register)
	assert.Equal(t, int64(9442), w.Value)
}

func TestValveCounts(t *testing.T) {
	r := DefaultRegisters
	assert.Equal(t, 2500, ValveCounts(r.DecompAnalogLower, r.ValveAnalogUpper, 0))
	assert.Equal(t, 16383, ValveCounts(r.DecompAnalogLower, r.ValveAnalogUpper, 90))
	assert.Equal(t, 9442, ValveCounts(r.DecompAnalogLower, r.ValveAnalogUpper, 45))
	assert.Equal(t, 16383, ValveCounts(r.DecompAnalogLower, r.ValveAnalogUpper, 140))
	assert.Equal(t, 2500, ValveCounts(r.DecompAnalogLower, r.ValveAnalogUpper, -3))
	assert.Equal(t, 10192, ValveCounts(r.CompAnalogLower, r.ValveAnalogUpper, 44.6))

	assert.InDelta(t, 45, ValveAngle(r.DecompAnalogLower, r.ValveAnalogUpper, 9442), 0.1)
}

type write struct {
	register string
	bit      bool
	value    int
}

type recordingWriter struct {
	mu     sync.Mutex
	writes []write
}

func (w *recordingWriter) WriteBit(register string, on bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	v := 0
	if on {
		v = 1
	}
	w.writes = append(w.writes, write{register: register, bit: true, value: v})
	return nil
}

func (w *recordingWriter) WriteRegister(register string, value int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, write{register: register, value: value})
	return nil
}

func TestActuatorRegisterMap(t *testing.T) {
	w := &recordingWriter{}
	a := NewActuator(w, DefaultRegisters)
	var _ session.Actuator = a

	require.NoError(t, a.CompValve(45))
	require.NoError(t, a.DecompValve(45))
	require.NoError(t, a.Door(true))
	require.NoError(t, a.Door(false))
	require.NoError(t, a.Buzzer(true))
	require.NoError(t, a.OxygenValve(true))
	require.NoError(t, a.SessionStartBit(true))
	require.NoError(t, a.Fan(2))
	require.NoError(t, a.DoorControl("close", true))
	require.NoError(t, a.ResetAlarmLatch())

	assert.Equal(t, []write{
		{register: "R01000", value: 10192},
		{register: "R01001", value: 9442},
		{register: "M0100", bit: true, value: 1},
		{register: "M0100", bit: true, value: 0},
		{register: "M0101", bit: true, value: 1},
		{register: "M0110", bit: true, value: 1},
		{register: "M0120", bit: true, value: 1},
		{register: "R01700", value: 70},
		{register: "M0301", bit: true, value: 1},
		{register: "M0400", bit: true, value: 0},
	}, w.writes)

	assert.Error(t, a.Fan(5))
	assert.Error(t, a.DoorControl("up", true))
}

// link is a fake serial port: reads come from a pipe, writes are captured.
type link struct {
	*io.PipeReader
	mu  sync.Mutex
	out bytes.Buffer
}

func (l *link) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Write(p)
}

func (l *link) written() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.String()
}

func TestGatewayReadsFramesAndReportsLinkLoss(t *testing.T) {
	pr, pw := io.Pipe()
	l := &link{PipeReader: pr}
	g := NewGateway(zapr.NewLogger(zaptest.NewLogger(t)), l, time.Minute)
	assert.False(t, g.Connected())

	frames := make(chan session.Frame, 4)
	errCh := make(chan error, 1)
	go func() { errCh <- g.Run(context.Background(), func(f session.Frame) { frames <- f }) }()

	_, err := io.WriteString(pw, "garbage\r\n$GPXXX,1*00\r\n"+EncodeFrame([]float64{1, 1400, 8000}))
	require.NoError(t, err)

	select {
	case f := <-frames:
		assert.Equal(t, session.Frame{1, 1400, 8000}, f)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
	}
	assert.True(t, g.Connected())
	assert.Equal(t, uint64(1), g.Frames())

	require.NoError(t, g.WriteBit("M0121", true))
	require.NoError(t, g.WriteRegister("R01700", 50))
	assert.Equal(t, EncodeBit("M0121", true)+EncodeRegister("R01700", 50), l.written())

	require.NoError(t, pw.Close())
	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("gateway did not stop")
	}
	assert.False(t, (<-frames).Valid())
}

func TestGatewayStopsOnCancel(t *testing.T) {
	pr, _ := io.Pipe()
	g := NewGateway(logr.Discard(), &link{PipeReader: pr}, 0)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- g.Run(ctx, func(session.Frame) {}) }()
	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("gateway did not stop")
	}
}

func TestDemoPlantFollowsValveWrites(t *testing.T) {
	cfg := DefaultPlant
	cfg.Interval = time.Hour
	cfg.Pressure = sensors.Calibration{Name: "pressure", EngUpper: 5, AnalogLower: 4000, AnalogUpper: 20000, Decimals: 2}
	cfg.Temperature = sensors.Calibration{Name: "temperature", EngUpper: 50, AnalogLower: 4000, AnalogUpper: 20000, Decimals: 1}
	cfg.Humidity = sensors.Calibration{Name: "humidity", EngUpper: 100, AnalogLower: 4000, AnalogUpper: 20000, Decimals: 1}
	d := NewDemoPlant(logr.Discard(), cfg)
	defer d.Close()

	a := NewActuator(NewGateway(logr.Discard(), d, 0), cfg.Registers)
	require.NoError(t, a.CompValve(90))
	for i := 0; i < 10; i++ {
		d.Step(1)
	}
	filled := d.Pressure()
	assert.Greater(t, filled, 0.5)

	f := d.Frame()
	assert.InDelta(t, filled, sensors.Convert(cfg.Pressure, f[session.FramePressure]), 0.01)
	assert.Equal(t, 8000.0, f[session.FrameO2])
	assert.Equal(t, 1.0, f[session.FrameDoor])

	require.NoError(t, a.CompValve(0))
	require.NoError(t, a.DecompValve(90))
	d.Step(5)
	assert.Less(t, d.Pressure(), filled)

	require.NoError(t, a.Door(false))
	assert.Equal(t, 0.0, d.Frame()[session.FrameDoor])
}
