package app

import (
	"bytes"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/hyperbaric_controller/internal/alarm"
	"github.com/relabs-tech/hyperbaric_controller/internal/control"
	"github.com/relabs-tech/hyperbaric_controller/internal/sensors"
)

func TestPanelBackground(t *testing.T) {
	assert.Equal(t, panelWaiting, RenderPanel(nil).RGBAAt(0, 0))

	s := readySnapshot()
	assert.Equal(t, panelFault, RenderPanel(s).RGBAAt(0, 0))

	s.Readiness = sensors.Readiness{Ready: true}
	assert.Equal(t, panelReady, RenderPanel(s).RGBAAt(0, 0))

	s.Alarms = []alarm.Record{{Kind: alarm.KindDeviation, Message: "Pressure deviation"}}
	assert.Equal(t, panelAlarm, RenderPanel(s).RGBAAt(0, 0))
}

func TestPanelLines(t *testing.T) {
	assert.Equal(t, []string{"Chamber", "Waiting..."}, panelLines(nil))

	s := readySnapshot()
	s.Ventilation = control.Ventilation{Mode: 2, Intensity: 35}
	lines := panelLines(s)
	assert.True(t, strings.HasPrefix(lines[0], "running"))
	assert.Contains(t, lines[0], "vent 2")
	assert.Contains(t, strings.Join(lines, "\n"), "Door closed")

	for i := 0; i < 20; i++ {
		s.Alarms = append(s.Alarms, alarm.Record{Message: "alarm"})
	}
	assert.Len(t, panelLines(s), panelHeight/lineHeight-1)
}

func TestPanelDrawsText(t *testing.T) {
	img := RenderPanel(readySnapshot())
	bg := img.RGBAAt(0, 0)
	lit := 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if img.RGBAAt(x, y) != bg {
				lit++
			}
		}
	}
	assert.Greater(t, lit, 100)

	var buf bytes.Buffer
	require.NoError(t, WritePanelPNG(&buf, readySnapshot()))
	_, err := png.Decode(&buf)
	require.NoError(t, err)
}

func TestModeText(t *testing.T) {
	s := readySnapshot()
	assert.Equal(t, "auto", modeText(s))
	s.Manual = true
	assert.Equal(t, "manual", modeText(s))
	s.Ventilation = control.Ventilation{Mode: 1}
	assert.Equal(t, "vent 1", modeText(s))
}
