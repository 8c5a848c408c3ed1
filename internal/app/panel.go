package app

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/relabs-tech/hyperbaric_controller/internal/session"
)

const (
	panelWidth  = 320
	panelHeight = 168
	lineHeight  = 14
)

var (
	panelReady   = color.RGBA{R: 0x10, G: 0x30, B: 0x18, A: 0xff}
	panelFault   = color.RGBA{R: 0x40, G: 0x30, B: 0x08, A: 0xff}
	panelAlarm   = color.RGBA{R: 0x50, G: 0x08, B: 0x08, A: 0xff}
	panelText    = color.RGBA{R: 0xe8, G: 0xe8, B: 0xe8, A: 0xff}
	panelWaiting = color.RGBA{R: 0x20, G: 0x20, B: 0x20, A: 0xff}
)

// RenderPanel draws the chamber status as a small text panel. The background
// is red with active alarms, amber when the chamber is not ready.
func RenderPanel(s *session.Snapshot) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, panelWidth, panelHeight))

	bg := panelWaiting
	switch {
	case s == nil:
	case len(s.Alarms) > 0:
		bg = panelAlarm
	case !s.Readiness.Ready:
		bg = panelFault
	default:
		bg = panelReady
	}
	draw.Draw(img, img.Bounds(), &image.Uniform{C: bg}, image.Point{}, draw.Src)

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{C: panelText},
		Face: basicfont.Face7x13,
	}
	for i, line := range panelLines(s) {
		drawer.Dot = fixed.P(6, lineHeight*(i+1))
		drawer.DrawString(line)
	}
	return img
}

func panelLines(s *session.Snapshot) []string {
	if s == nil {
		return []string{"Chamber", "Waiting..."}
	}
	lines := []string{
		fmt.Sprintf("%-9s %5d / %5d s  %s", s.Phase, s.Elapsed, s.ProfileLen, modeText(s)),
		fmt.Sprintf("Target %6.1f fsw   Fsw %6.1f", s.TargetFsw, s.DisplayFsw),
		fmt.Sprintf("Error  %6.2f  avg %6.2f  %s", s.Error, s.AvgError, s.Trend),
		fmt.Sprintf("P %5.2f bar  rate %6.2f fsw/min", s.Reading.PressureBar, s.FswPerMinute),
		fmt.Sprintf("O2 %5.1f%%  T %5.1fC  RH %5.1f%%", s.Reading.O2Percent, s.Reading.TemperatureC, s.Reading.HumidityPct),
		fmt.Sprintf("Comp %5.1f  Decomp %5.1f  Fan %d", s.Comp, s.Decomp, s.Fan),
		fmt.Sprintf("Door %s  Gas %s", doorState(s.DoorSensor, s.DoorClosed), s.Gas),
		s.Readiness.Reason,
	}
	for _, a := range s.Alarms {
		lines = append(lines, "! "+a.Message)
	}
	if limit := panelHeight/lineHeight - 1; len(lines) > limit {
		lines = lines[:limit]
	}
	return lines
}

func modeText(s *session.Snapshot) string {
	switch {
	case s.Ventilation.Active():
		return fmt.Sprintf("vent %d", s.Ventilation.Mode)
	case s.Manual:
		return "manual"
	}
	return "auto"
}

// WritePanelPNG renders s and encodes it as PNG.
func WritePanelPNG(w io.Writer, s *session.Snapshot) error {
	return png.Encode(w, RenderPanel(s))
}
