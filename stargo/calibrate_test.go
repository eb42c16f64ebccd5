package stargo

import (
	"context"
	"errors"
	"testing"
	"time"
)

// Deterministic calibration: the simulator advances one Step per
// position query, so with CalMeasure == Step the measured rate equals
// the modeled rate exactly (up to count quantization).  The rates are
// chosen so each displacement is a whole number of encoder counts.
func TestCalibrateAgainstSimulator(t *testing.T) {
	sim := NewSim()
	sim.Step = 20 * time.Millisecond
	sim.Rates = [2][4]float64{
		{0.18, 1.8, 18, 90},
		{0.18, 1.8, 18, 90},
	}
	m := simMount(sim)
	m.CalSettle = 5 * time.Millisecond
	m.CalMeasure = sim.Step
	if err := m.SetZoom(2); err != nil {
		t.Fatal(err)
	}

	if err := m.Calibrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	prof := m.Profile()
	if !prof.Complete() {
		t.Fatalf("profile incomplete after calibration: %+v", prof)
	}
	for ax := range prof {
		for lvl := range prof[ax] {
			got, want := prof[ax][lvl], sim.Rates[ax][lvl]
			if d := got - want; d > 1e-9 || d < -1e-9 {
				t.Errorf("axis %v level %d: %v deg/s, want %v",
					Axis(ax), lvl+1, got, want)
			}
		}
	}
	if sim.Motor[0] != 0 || sim.Motor[1] != 0 {
		t.Error("motors left running after calibration")
	}
	if sim.Zoom != 2 {
		t.Errorf("zoom = %d, want the pre-calibration level 2 restored", sim.Zoom)
	}
	if m.calibrating {
		t.Error("calibrating flag left set")
	}
}

// The level restored after calibration comes from the controller's own
// status report, not just the last commanded level, so a mount that was
// never issued a speed change still returns to where it was.
func TestCalibrateRestoresReportedZoom(t *testing.T) {
	sim := NewSim()
	sim.Step = 20 * time.Millisecond
	sim.Rates = [2][4]float64{
		{0.18, 1.8, 18, 90},
		{0.18, 1.8, 18, 90},
	}
	m := simMount(sim)
	m.CalSettle = 5 * time.Millisecond
	m.CalMeasure = sim.Step
	// learn the active level from the Z1 report; no SetZoom call
	if err := m.Poll(); err != nil {
		t.Fatal(err)
	}
	if err := m.Calibrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if sim.Zoom != 2 {
		t.Errorf("zoom = %d, want the controller-reported level 2 restored", sim.Zoom)
	}
}

// A level where an axis does not move is discarded, not stored as zero
// confidence garbage.
func TestCalibrateDiscardsStalledLevel(t *testing.T) {
	sim := NewSim()
	sim.Step = 20 * time.Millisecond
	sim.Rates = [2][4]float64{
		{0.18, 1.8, 18, 90},
		{0.18, 0, 18, 90}, // DEC stalls at level 2
	}
	m := simMount(sim)
	m.CalSettle = time.Millisecond
	m.CalMeasure = sim.Step

	if err := m.Calibrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	prof := m.Profile()
	if prof.Complete() {
		t.Error("stalled level produced a complete profile")
	}
	if prof[AxisRA][1] != 0 || prof[AxisDec][1] != 0 {
		t.Errorf("stalled level stored rates (%v, %v)", prof[AxisRA][1], prof[AxisDec][1])
	}
	if prof[AxisRA][0] == 0 || prof[AxisRA][2] == 0 {
		t.Error("healthy levels not stored")
	}
}

func TestCalibrateCanceled(t *testing.T) {
	sim := NewSim()
	m := simMount(sim)
	m.CalSettle = 50 * time.Millisecond
	m.CalMeasure = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.Calibrate(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if m.calibrating {
		t.Error("calibrating flag left set after cancellation")
	}
	if sim.Motor[0] != 0 || sim.Motor[1] != 0 {
		t.Error("motors left running after cancellation")
	}
}

func TestCalibrateRefusedDuringShift(t *testing.T) {
	m := simMount(NewSim())
	m.targets[AxisRA] = ShiftTarget{Active: true}
	if err := m.Calibrate(context.Background()); !errors.Is(err, ErrShiftActive) {
		t.Errorf("want ErrShiftActive, got %v", err)
	}
}
