package profile

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/hyperbaric_controller/internal/chamber"
)

func newPlanner(t *testing.T) *Planner {
	t.Helper()
	p, err := NewPlanner(DefaultConfig())
	require.NoError(t, err)
	return p
}

func expand(t *testing.T, depth, total float64, speed int) *Profile {
	t.Helper()
	_, prof, err := newPlanner(t).Expand(depth, total, speed)
	require.NoError(t, err)
	return prof
}

func middleMinutes(pl Plan) float64 {
	var sum float64
	for _, s := range pl.Segments[1 : len(pl.Segments)-1] {
		sum += s.Minutes
	}
	return sum
}

func assertStrictlyIncreasing(t *testing.T, prof *Profile) {
	t.Helper()
	for i, pt := range prof.Points() {
		require.Equal(t, i+1, pt.Time, "time index at %d", i)
	}
}

func TestPlanShortTreatmentIsSingleOxygenBlock(t *testing.T) {
	pl, err := newPlanner(t).Plan(1.4, 60, 1)
	require.NoError(t, err)

	assert.Equal(t, 28.0, pl.DescentMinutes)
	assert.Equal(t, 28.0, pl.AscentMinutes)
	assert.Equal(t, 4.0, pl.TreatmentMinutes)
	assert.Equal(t, []Segment{
		{Minutes: 28, Depth: 1.4, Gas: GasAir},
		{Minutes: 4, Depth: 1.4, Gas: GasOxygen},
		{Minutes: 28, Depth: 0, Gas: GasAir},
	}, pl.Segments)
}

func TestAlternate(t *testing.T) {
	assert.Equal(t, []Block{
		{Minutes: 20, Gas: GasOxygen},
		{Minutes: 5, Gas: GasAir},
		{Minutes: 15, Gas: GasOxygen},
	}, Alternate(40, 20, 5))

	assert.Equal(t, []Block{
		{Minutes: 20, Gas: GasOxygen},
		{Minutes: 3, Gas: GasAir},
	}, Alternate(23, 20, 5))

	assert.Empty(t, Alternate(0, 20, 5))
}

func TestPlanLengthMatchesTotal(t *testing.T) {
	p := newPlanner(t)
	for _, depth := range []float64{0.5, 1, 1.4, 2} {
		for _, total := range []float64{60, 80, 90, 110, 120} {
			for speed := 1; speed <= 3; speed++ {
				pl, prof, err := p.Expand(depth, total, speed)
				if err != nil {
					assert.ErrorIs(t, err, chamber.ErrConfiguration)
					continue
				}
				assert.Equal(t, int(total)*60, prof.Len(), "depth %v total %v speed %d", depth, total, speed)
				assert.Equal(t, pl.TreatmentMinutes, middleMinutes(pl))
				assert.Equal(t, total-pl.DescentMinutes-pl.AscentMinutes, pl.TreatmentMinutes)

				last, ok := prof.Last()
				require.True(t, ok)
				assert.Equal(t, 0.0, last.Depth)
				assert.Equal(t, StepAscent, last.Step)
			}
		}
	}
}

func TestPlanRejectsNonPositiveTreatment(t *testing.T) {
	_, err := newPlanner(t).Plan(2, 60, 1)
	assert.ErrorIs(t, err, chamber.ErrConfiguration)

	_, err = newPlanner(t).Plan(1, 60, 9)
	assert.ErrorIs(t, err, chamber.ErrConfiguration)
}

func TestPlanOverrides(t *testing.T) {
	p := newPlanner(t)

	pl, err := p.Plan(0.5, 80, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 20, 5, 20, 5, 20, 5}, minutesOf(pl.Segments))

	pl, err = p.Plan(1, 80, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 15, 5, 20, 5, 15, 10}, minutesOf(pl.Segments))

	// Override length does not fit the treatment: generic alternation.
	pl, err = p.Plan(1, 80, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{20, 20, 5, 15, 20}, minutesOf(pl.Segments))
}

func minutesOf(segs []Segment) []float64 {
	out := make([]float64, len(segs))
	for i, s := range segs {
		out[i] = s.Minutes
	}
	return out
}

func TestExpandRampsAndSteps(t *testing.T) {
	prof := expand(t, 1, 60, 2)
	require.Equal(t, BySecond, prof.Kind())
	assertStrictlyIncreasing(t, prof)

	pts := prof.Points()
	assert.Equal(t, 0.0017, pts[0].Depth)
	assert.Equal(t, 1.0, pts[599].Depth)
	assert.Equal(t, StepDescent, pts[599].Step)
	assert.Equal(t, StepTreatment, pts[600].Step)
	assert.Equal(t, GasOxygen, pts[600].Gas)
	assert.Equal(t, GasAir, pts[1800].Gas)
	assert.Equal(t, StepAscent, pts[3000].Step)
}

func TestResumeDuringDescentConverges(t *testing.T) {
	prof := expand(t, 1, 60, 2)

	require.NoError(t, prof.Resume(300, 360, 0.5, 0.48))
	assertStrictlyIncreasing(t, prof)
	assert.Equal(t, 3600, prof.Len())

	pts := prof.Points()
	for i := 300; i < 360; i++ {
		assert.Equal(t, 0.5, pts[i].Depth)
		assert.Equal(t, GasAir, pts[i].Gas)
	}
	// Slope 0.0017 bar/s over 0.52 bar.
	assert.InDelta(t, 1.0, pts[360+305].Depth, 1e-4)
	assert.Less(t, pts[360+304].Depth, 1.0)
	assert.Equal(t, StepTreatment, pts[666].Step)
}

func TestResumeDuringTreatmentConverges(t *testing.T) {
	prof := expand(t, 1, 60, 2)

	require.NoError(t, prof.Resume(1200, 1260, 0.98, 0.9))
	pts := prof.Points()
	assert.Equal(t, 0.98, pts[1259].Depth)
	assert.InDelta(t, 1.0, pts[1260+58].Depth, 1e-4)
	assert.Less(t, pts[1260+57].Depth, 1.0)
}

func TestResumeDuringAscentEndsAtSurface(t *testing.T) {
	prof := expand(t, 1, 60, 2)

	require.NoError(t, prof.Resume(3300, 3400, 0.5, 0.5))
	last, ok := prof.Last()
	require.True(t, ok)
	assert.Equal(t, 0.0, last.Depth)
	assert.Equal(t, 3600, prof.Len())
}

// assertSmooth checks that the setpoint moves by at most maxStep bar per second from second from on.
func assertSmooth(t *testing.T, prof *Profile, from int, maxStep float64) {
	t.Helper()
	pts := prof.Points()
	for i := from + 1; i < len(pts); i++ {
		require.LessOrEqual(t, math.Abs(pts[i].Depth-pts[i-1].Depth), maxStep,
			"setpoint jump between second %d (%v) and %d (%v)", i-1, pts[i-1].Depth, i, pts[i].Depth)
	}
}

func TestResumeAboveCurveDuringDescentHoldsTarget(t *testing.T) {
	prof := expand(t, 1.4, 60, 2)
	require.Equal(t, StepDescent, prof.Points()[839].Step)

	require.NoError(t, prof.Resume(300, 330, 1.0, 1.0))
	assert.Equal(t, 3600, prof.Len())
	assertSmooth(t, prof, 329, 0.002)

	pts := prof.Points()
	assert.Greater(t, pts[330].Depth, 1.0)
	for i := 566; i < 840; i++ {
		require.Equal(t, 1.4, pts[i].Depth, "second %d", i)
		require.Equal(t, StepDescent, pts[i].Step)
	}
	assert.Equal(t, StepTreatment, pts[840].Step)
}

func TestResumeAboveTargetDuringTreatment(t *testing.T) {
	prof := expand(t, 1.4, 60, 2)

	require.NoError(t, prof.Resume(1000, 1010, 1.42, 1.42))
	assertSmooth(t, prof, 1009, 0.002)

	pts := prof.Points()
	assert.Less(t, pts[1010].Depth, 1.42)
	for i := 1030; i < 2000; i++ {
		require.Equal(t, 1.4, pts[i].Depth, "second %d", i)
	}
	assert.Equal(t, GasOxygen, pts[1010].Gas)
}

func TestResumeBelowCurveDuringAscentStaysAtSurface(t *testing.T) {
	prof := expand(t, 1.4, 60, 2)
	require.Equal(t, StepAscent, prof.Points()[3000].Step)

	require.NoError(t, prof.Resume(3000, 3010, 0.6, 0.6))
	assertSmooth(t, prof, 3009, 0.002)

	pts := prof.Points()
	for i := 3400; i < len(pts); i++ {
		require.Equal(t, 0.0, pts[i].Depth, "second %d", i)
	}
}

func TestResumeRejectsOutOfRange(t *testing.T) {
	prof := expand(t, 1, 60, 2)
	assert.Error(t, prof.Resume(prof.Len()-1, prof.Len(), 0, 0))
	assert.Error(t, prof.Resume(10, 5, 0, 0))

	plan, err := newPlanner(t).Plan(1, 60, 2)
	require.NoError(t, err)
	assert.ErrorIs(t, plan.Profile().Resume(1, 2, 0, 0), chamber.ErrConfiguration)
}

func TestRampToZeroTruncates(t *testing.T) {
	prof := expand(t, 1, 60, 2)

	require.NoError(t, prof.RampToZero(1500, 1.23, 3))
	assert.Equal(t, 1500+300, prof.Len())
	assertStrictlyIncreasing(t, prof)

	last, ok := prof.Last()
	require.True(t, ok)
	assert.Equal(t, 0.0, last.Depth)

	pts := prof.Points()
	for i := 1501; i < prof.Len(); i++ {
		assert.LessOrEqual(t, pts[i].Depth, pts[i-1].Depth)
	}
	assert.Equal(t, StepTreatment, pts[1500].Step)
}

func TestRampToZeroAtSurface(t *testing.T) {
	prof := expand(t, 1, 60, 2)

	require.NoError(t, prof.RampToZero(100, 0, 1))
	assert.Equal(t, 101, prof.Len())
	last, _ := prof.Last()
	assert.Equal(t, Point{Time: 101, Depth: 0, Gas: GasAir, Step: StepDescent}, last)

	// Past the end the ramp is appended.
	require.NoError(t, prof.RampToZero(500, 0.1, 1))
	assert.Equal(t, 101+60, prof.Len())
	assertStrictlyIncreasing(t, prof)
}

func TestUpdateTreatmentDepth(t *testing.T) {
	prof := expand(t, 1, 60, 2)
	require.True(t, prof.UpdateTreatmentDepth(1.2))
	for _, pt := range prof.Points() {
		if pt.Step == StepTreatment {
			require.Equal(t, 1.2, pt.Depth)
		}
	}
	assert.Equal(t, 1.0, prof.Points()[599].Depth)

	pl, err := newPlanner(t).Plan(1, 60, 2)
	require.NoError(t, err)
	minutes := pl.Profile()
	require.True(t, minutes.UpdateTreatmentDepth(1.5))
	segs := minutes.Segments()
	assert.Equal(t, 1.0, segs[0].Depth)
	assert.Equal(t, 1.5, segs[1].Depth)
	assert.Equal(t, 1.5, segs[len(segs)-2].Depth)
	assert.Equal(t, 0.0, segs[len(segs)-1].Depth)

	assert.False(t, NewByMinute([]Segment{{Minutes: 1}, {Minutes: 1}}).UpdateTreatmentDepth(2))
	assert.False(t, NewBySecond(nil).UpdateTreatmentDepth(2))
}

func TestUpdateTreatmentDurationByMinute(t *testing.T) {
	pl, err := newPlanner(t).Plan(1, 60, 2)
	require.NoError(t, err)

	longer := pl.Profile()
	require.True(t, longer.UpdateTreatmentDuration(10, 10, 70))
	assert.Equal(t, []float64{10, 20, 5, 25, 10}, minutesOf(longer.Segments()))

	shorter := pl.Profile()
	require.True(t, shorter.UpdateTreatmentDuration(10, 10, 30))
	assert.Equal(t, []float64{10, 10, 10}, minutesOf(shorter.Segments()))

	assert.False(t, pl.Profile().UpdateTreatmentDuration(10, 10, 20))
}

func TestUpdateTreatmentDurationBySecond(t *testing.T) {
	prof := expand(t, 1, 60, 2)
	require.True(t, prof.UpdateTreatmentDuration(10, 10, 70))

	assert.Equal(t, 4200, prof.Len())
	assertStrictlyIncreasing(t, prof)
	pts := prof.Points()
	assert.Equal(t, GasOxygen, pts[600+2999].Gas)
	assert.Equal(t, StepTreatment, pts[600+2999].Step)
	assert.Equal(t, StepAscent, pts[3600].Step)
	last, _ := prof.Last()
	assert.Equal(t, 0.0, last.Depth)
}

func TestUpdateDiveAndExitDurations(t *testing.T) {
	prof := expand(t, 1, 60, 2)
	require.True(t, prof.UpdateDiveAndExitDurations(5, 15, 60))

	assert.Equal(t, 3600, prof.Len())
	assertStrictlyIncreasing(t, prof)
	var descent, ascent int
	for _, pt := range prof.Points() {
		switch pt.Step {
		case StepDescent:
			descent++
		case StepAscent:
			ascent++
		}
	}
	assert.Equal(t, 300, descent)
	assert.Equal(t, 900, ascent)
	assert.Equal(t, 1.0, prof.Points()[299].Depth)

	pl, err := newPlanner(t).Plan(1, 60, 2)
	require.NoError(t, err)
	minutes := pl.Profile()
	require.True(t, minutes.UpdateDiveAndExitDurations(5, 15, 60))
	assert.Equal(t, []float64{5, 20, 5, 15, 15}, minutesOf(minutes.Segments()))

	assert.False(t, prof.UpdateDiveAndExitDurations(30, 30, 60))
}
