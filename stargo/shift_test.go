package stargo

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/openastro/stargo/astro"
	"github.com/openastro/stargo/comm"
)

var testProfile = SlewProfile{
	{0.002, 0.01, 0.4, 4.0},
	{0.002, 0.01, 0.4, 4.0},
}

func TestShiftRequiresCalibration(t *testing.T) {
	m := newTestMount(&scriptConn{})
	if err := m.Shift(1, 0); !errors.Is(err, ErrNotCalibrated) {
		t.Errorf("want ErrNotCalibrated, got %v", err)
	}
}

func TestShiftPreconditions(t *testing.T) {
	m := newTestMount(&scriptConn{})
	m.SetProfile(testProfile)
	m.targets[AxisDec] = ShiftTarget{Active: true}
	if err := m.Shift(1, 0); !errors.Is(err, ErrShiftActive) {
		t.Errorf("want ErrShiftActive, got %v", err)
	}
	m.targets[AxisDec] = ShiftTarget{}
	m.calibrating = true
	if err := m.Shift(1, 0); !errors.Is(err, ErrCalibrating) {
		t.Errorf("want ErrCalibrating, got %v", err)
	}
}

func TestShiftTargetsWrapAndClamp(t *testing.T) {
	m := newTestMount(&scriptConn{})
	m.SetProfile(testProfile)
	m.pos = DerivedPosition{RADeg: 359, DecDeg: 89}
	if err := m.Shift(2, 5); err != nil {
		t.Fatal(err)
	}
	if got := m.targets[AxisRA].TargetDeg; !near(got, 1) {
		t.Errorf("RA target = %v, want 1 (wrapped)", got)
	}
	if got := m.targets[AxisDec].TargetDeg; got != 90 {
		t.Errorf("DEC target = %v, want 90 (clamped)", got)
	}
}

func TestShiftZeroDeltaLeavesAxisInactive(t *testing.T) {
	m := newTestMount(&scriptConn{})
	m.SetProfile(testProfile)
	if err := m.Shift(0, 1); err != nil {
		t.Fatal(err)
	}
	if m.targets[AxisRA].Active {
		t.Error("RA axis activated for a zero delta")
	}
	if !m.targets[AxisDec].Active {
		t.Error("DEC axis not activated")
	}
}

func TestSelectZoom(t *testing.T) {
	cases := []struct {
		errDeg float64
		want   int
	}{
		// 1 deg at 0.4 deg/s is 2.5 ticks out, above the 2-tick
		// margin; at 4.0 deg/s it is 0.25 ticks, inside it
		{1.0, 3},
		{100, 4},
		{0.025, 2},
		// even the slowest level lands inside the margin
		{0.003, 1},
		{0.0001, 1},
	}
	for _, c := range cases {
		m := newTestMount(&scriptConn{})
		m.SetProfile(testProfile)
		m.targets[AxisRA] = ShiftTarget{Active: true, TargetDeg: c.errDeg}
		if got := m.selectZoom(1.0); got != c.want {
			t.Errorf("error %v deg: selectZoom = %d, want %d", c.errDeg, got, c.want)
		}
	}
}

func TestSelectZoomUsesWorstAxis(t *testing.T) {
	m := newTestMount(&scriptConn{})
	m.SetProfile(testProfile)
	// RA is nearly there, DEC is far; the far axis dominates
	m.targets[AxisRA] = ShiftTarget{Active: true, TargetDeg: 0.02}
	m.targets[AxisDec] = ShiftTarget{Active: true, TargetDeg: 50}
	if got := m.selectZoom(1.0); got != 4 {
		t.Errorf("selectZoom = %d, want 4", got)
	}
}

func TestOvershootStopsAxis(t *testing.T) {
	sc := &scriptConn{}
	m := newTestMount(sc)
	m.SetProfile(testProfile)
	m.pos = DerivedPosition{RADeg: 10.2}
	m.targets[AxisRA] = ShiftTarget{Active: true, TargetDeg: 10.0, PrevDelta: 0.1}
	m.state.set(OpGetMotors, datums(1, 0), time.Now())
	if err := m.updateShift(); err != nil {
		t.Fatal(err)
	}
	sent := sc.sent()
	if len(sent) != 2 || sent[0] != "Qw" || sent[1] != "Qe" {
		t.Errorf("sent %v, want both RA stops", sent)
	}
	if !m.targets[AxisRA].Active {
		t.Error("overshoot must stop the motor, not abandon the target")
	}
}

func TestProximityStopsAxis(t *testing.T) {
	sc := &scriptConn{}
	m := newTestMount(sc)
	m.SetProfile(testProfile)
	m.zoom = 4
	// at 4 deg/s and 1 s ticks anything inside 8 deg stops
	m.pos = DerivedPosition{RADeg: 0}
	m.targets[AxisRA] = ShiftTarget{Active: true, TargetDeg: 5}
	m.state.set(OpGetMotors, datums(1, 0), time.Now())
	if err := m.updateShift(); err != nil {
		t.Fatal(err)
	}
	sent := sc.sent()
	if len(sent) != 2 || sent[0] != "Qw" || sent[1] != "Qe" {
		t.Errorf("sent %v, want both RA stops", sent)
	}
}

func TestMoveClampsPulse(t *testing.T) {
	sc := &scriptConn{}
	m := newTestMount(sc)
	if err := m.Move(AxisRA, true, 20*time.Second); err != nil {
		t.Fatal(err)
	}
	sent := sc.sent()
	if len(sent) != 1 || sent[0] != "Mge9999" {
		t.Errorf("sent %v, want [Mge9999]", sent)
	}
}

func TestMoveContinuous(t *testing.T) {
	sc := &scriptConn{}
	m := newTestMount(sc)
	if err := m.Move(AxisDec, false, 0); err != nil {
		t.Fatal(err)
	}
	sent := sc.sent()
	if len(sent) != 1 || sent[0] != "Ms" {
		t.Errorf("sent %v, want [Ms]", sent)
	}
}

func TestMoveRefusedDuringShift(t *testing.T) {
	m := newTestMount(&scriptConn{})
	m.targets[AxisRA] = ShiftTarget{Active: true}
	if err := m.Move(AxisRA, true, 0); !errors.Is(err, ErrShiftActive) {
		t.Errorf("want ErrShiftActive, got %v", err)
	}
}

func TestStopAxisStopsBothDirections(t *testing.T) {
	sc := &scriptConn{}
	m := newTestMount(sc)
	if err := m.StopAxis(AxisDec); err != nil {
		t.Fatal(err)
	}
	sent := sc.sent()
	if len(sent) != 2 || sent[0] != "Qs" || sent[1] != "Qn" {
		t.Errorf("sent %v, want [Qs Qn]", sent)
	}
}

func simMount(sim *Sim) *Mount {
	conn := comm.Wrap(sim)
	conn.ReplyBudget = 100 * time.Millisecond
	conn.QuietWindow = time.Millisecond
	m := NewMount(conn)
	m.Tick = time.Second
	return m
}

// Drive a full closed-loop shift against the simulator: one modeled
// second per poll, motor speeds equal to the calibrated profile.  The
// shift must converge to within the finest level's per-tick resolution
// and restore the speed level it started at.
func TestShiftConvergesAgainstSimulator(t *testing.T) {
	sim := NewSim()
	sim.Rates = [2][4]float64(testProfile)
	m := simMount(sim)
	m.SetProfile(testProfile)

	if err := m.Poll(); err != nil {
		t.Fatal(err)
	}
	if err := m.Shift(1.0, -0.5); err != nil {
		t.Fatal(err)
	}
	startZoom := sim.Zoom

	converged := false
	for i := 0; i < 300; i++ {
		if err := m.Poll(); err != nil {
			t.Fatal(err)
		}
		if !m.Shifting() {
			converged = true
			break
		}
	}
	if !converged {
		t.Fatal("shift did not converge within 300 ticks")
	}

	res := testProfile[AxisRA][0] * m.Tick.Seconds()
	pos := m.Position()
	if got := math.Abs(pos.RADeg - 1.0); got >= 2*res {
		t.Errorf("RA error %v deg after convergence", got)
	}
	if got := math.Abs(pos.DecDeg + 0.5); got >= 2*res {
		t.Errorf("DEC error %v deg after convergence", got)
	}
	if sim.Motor[0] != 0 || sim.Motor[1] != 0 {
		t.Error("motors still running after convergence")
	}
	if sim.Zoom != startZoom {
		t.Errorf("zoom = %d after shift, want %d restored", sim.Zoom, startZoom)
	}
}

// A shift through the RA zero point must take the short way around.
func TestShiftAcrossWrapAgainstSimulator(t *testing.T) {
	sim := NewSim()
	sim.Rates = [2][4]float64(testProfile)
	sim.RADeg = 359.5
	m := simMount(sim)
	m.SetProfile(testProfile)

	if err := m.Poll(); err != nil {
		t.Fatal(err)
	}
	if err := m.Shift(1.0, 0); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 300 && m.Shifting(); i++ {
		if err := m.Poll(); err != nil {
			t.Fatal(err)
		}
	}
	if m.Shifting() {
		t.Fatal("shift did not converge")
	}
	pos := m.Position()
	res := testProfile[AxisRA][0] * m.Tick.Seconds()
	if got := math.Abs(astro.WrapDelta(pos.RADeg, 0.5)); got >= 2*res {
		t.Errorf("RA error %v deg, position %v", got, pos.RADeg)
	}
}

func TestStopAbortsShift(t *testing.T) {
	sim := NewSim()
	sim.Rates = [2][4]float64(testProfile)
	m := simMount(sim)
	m.SetProfile(testProfile)
	if err := m.Shift(5, 0); err != nil {
		t.Fatal(err)
	}
	if err := m.Stop(); err != nil {
		t.Fatal(err)
	}
	if m.Shifting() {
		t.Error("shift survived Stop")
	}
}
