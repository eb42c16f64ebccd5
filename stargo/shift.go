package stargo

import (
	"errors"
	"log"
	"math"
	"time"

	"github.com/openastro/stargo/astro"
)

// Axis indexes the two mount axes.
type Axis int

// The mount axes.
const (
	AxisRA Axis = iota
	AxisDec
)

func (a Axis) String() string {
	if a == AxisRA {
		return "RA"
	}
	return "DEC"
}

// zoomLevels is the number of discrete slew-speed presets.
const zoomLevels = 4

var (
	// ErrNotCalibrated is generated when a shift is requested before
	// Calibrate has populated the slew profile.
	ErrNotCalibrated = errors.New("slew profile is uncalibrated, run calibration first")

	// ErrShiftActive is generated when a motion request conflicts with
	// a shift already in progress.
	ErrShiftActive = errors.New("a shift is already in progress")

	// ErrCalibrating is generated when a motion request conflicts with
	// a calibration in progress.
	ErrCalibrating = errors.New("calibration is in progress")
)

// SlewProfile holds the calibrated angular speed, deg/s, of each axis at
// each of the four zoom levels, slowest first.  All-zero entries mean
// uncalibrated; shifts refuse to run until every entry is measured.
type SlewProfile [2][zoomLevels]float64

// Complete reports whether every axis/level pair has been measured.
func (p SlewProfile) Complete() bool {
	for ax := range p {
		for lvl := range p[ax] {
			if p[ax][lvl] <= 0 {
				return false
			}
		}
	}
	return true
}

// ShiftTarget is one axis's closed-loop move state: the absolute target
// angle, the previous tick's signed error (for overshoot detection), and
// the zoom level active when the shift began (restored on completion).
type ShiftTarget struct {
	Active    bool
	TargetDeg float64
	PrevDelta float64
	StartZoom int
}

// zoomCmds maps speed level to the operation selecting it.
var zoomCmds = [zoomLevels + 1]string{
	"", "set_speed_guide", "set_speed_center", "set_speed_find", "set_speed_max",
}

// slew command names per axis and direction of increasing coordinate.
// Eastward slew increases RA; northward slew increases DEC.
var (
	startCmds = [2][2]string{
		{"start_slew_west", "start_slew_east"},
		{"start_slew_south", "start_slew_north"},
	}
	stopCmds = [2][2]string{
		{"stop_west", "stop_east"},
		{"stop_south", "stop_north"},
	}
	pulseCmds = [2][2]string{
		{"set_pulse_west", "set_pulse_east"},
		{"set_pulse_north", "set_pulse_south"},
	}
)

func dirIndex(positive bool) int {
	if positive {
		return 1
	}
	return 0
}

// Profile returns a copy of the calibrated slew profile.
func (m *Mount) Profile() SlewProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profile
}

// SetProfile installs a slew profile directly, e.g. one persisted from a
// previous calibration run.
func (m *Mount) SetProfile(p SlewProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profile = p
}

// SetZoom commands one of the four speed levels.
func (m *Mount) SetZoom(level int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setZoom(level)
}

func (m *Mount) setZoom(level int) error {
	if level < 1 || level > zoomLevels {
		return errors.New("zoom level must be 1..4")
	}
	if err := m.queue([]Cmd{C(zoomCmds[level])}); err != nil {
		return err
	}
	m.zoom = level
	return nil
}

// Move is an open-loop jog: a fixed-duration pulse when pulse > 0
// (clamped to MaxPulse, not rejected), otherwise a continuous slew at
// the current speed until StopAxis.
func (m *Mount) Move(axis Axis, positive bool, pulse time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shiftActive() {
		return ErrShiftActive
	}
	if m.calibrating {
		return ErrCalibrating
	}
	if pulse > 0 {
		if pulse > m.MaxPulse {
			pulse = m.MaxPulse
		}
		ms := int(pulse / time.Millisecond)
		return m.queue([]Cmd{C(pulseCmds[axis][dirIndex(positive)], ms)})
	}
	return m.queue([]Cmd{C(startCmds[axis][dirIndex(positive)])})
}

// StopAxis halts motion on one axis in both directions.
func (m *Mount) StopAxis(axis Axis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopAxis(axis)
}

func (m *Mount) stopAxis(axis Axis) error {
	return m.queue([]Cmd{C(stopCmds[axis][0]), C(stopCmds[axis][1])})
}

// Shift starts a closed-loop relative move of dRA/dDec degrees from the
// current derived position.  The target DEC is clamped to [-90,+90] and
// RA wrapped into [0,360).  At most one shift runs at a time, and the
// slew profile must be calibrated; convergence is then driven by
// updateShift on every poll tick.
func (m *Mount) Shift(dRA, dDec float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.profile.Complete() {
		log.Print("shift refused: uncalibrated slew profile")
		return ErrNotCalibrated
	}
	if m.shiftActive() {
		log.Print("shift refused: shift already in progress")
		return ErrShiftActive
	}
	if m.calibrating {
		log.Print("shift refused: calibration in progress")
		return ErrCalibrating
	}
	zoom := m.zoomLevel()
	if dRA != 0 {
		m.targets[AxisRA] = ShiftTarget{
			Active:    true,
			TargetDeg: astro.Wrap360(m.pos.RADeg + dRA),
			StartZoom: zoom,
		}
	}
	if dDec != 0 {
		m.targets[AxisDec] = ShiftTarget{
			Active:    true,
			TargetDeg: astro.ClampDec(m.pos.DecDeg + dDec),
			StartZoom: zoom,
		}
	}
	log.Printf("shift started: targets RA %.4f DEC %.4f",
		m.targets[AxisRA].TargetDeg, m.targets[AxisDec].TargetDeg)
	return nil
}

// ShiftTo runs a shift to absolute coordinates.
func (m *Mount) ShiftTo(t Target) error {
	pos := m.Position()
	return m.Shift(astro.WrapDelta(pos.RADeg, t.RADeg), astro.ClampDec(t.DecDeg)-pos.DecDeg)
}

// Shifting reports whether a closed-loop shift is running.
func (m *Mount) Shifting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shiftActive()
}

func (m *Mount) shiftActive() bool {
	return m.targets[AxisRA].Active || m.targets[AxisDec].Active
}

// shiftDelta is the signed error from current position to target for an
// axis.  RA wraps, DEC does not.
func (m *Mount) shiftDelta(axis Axis) float64 {
	if axis == AxisRA {
		return astro.WrapDelta(m.pos.RADeg, m.targets[axis].TargetDeg)
	}
	return m.targets[axis].TargetDeg - m.pos.DecDeg
}

// updateShift is the per-tick step of the closed-loop move.  Called with
// the lock held, once per status poll.
//
// Per axis: a running motor is stopped when the error magnitude grew
// since last tick (overshoot: we passed the target) or when the target
// is within two ticks' displacement at the current speed.  When all
// motors are idle the fastest zoom level whose remaining ETA still
// exceeds a two-tick margin is selected (slow near the target, fast far
// from it), and idle axes with errors above the level's per-tick
// resolution are started toward the target.  The shift completes only
// when both motors are idle and both errors are below the finest level's
// resolution, which keeps a decelerating axis from being declared
// converged early.
func (m *Mount) updateShift() error {
	if !m.shiftActive() {
		return nil
	}
	tick := m.Tick.Seconds()
	zoom := m.zoomLevel()
	if zoom < 1 {
		zoom = 1
	}
	raMotor, decMotor := m.motorStates()
	motors := [2]bool{raMotor != 0, decMotor != 0}
	stopped := false

	for ax := range m.targets {
		tgt := &m.targets[ax]
		if !tgt.Active {
			continue
		}
		delta := m.shiftDelta(Axis(ax))
		if motors[ax] {
			switch {
			case tgt.PrevDelta != 0 && math.Abs(delta) > math.Abs(tgt.PrevDelta):
				// sign flip or divergence: we passed the target
				log.Printf("%v overshoot: error %.5f grew from %.5f, stopping",
					Axis(ax), delta, tgt.PrevDelta)
				if err := m.stopAxis(Axis(ax)); err != nil {
					return err
				}
				stopped = true
			case math.Abs(delta) <= 2*m.profile[ax][zoom-1]*tick:
				if err := m.stopAxis(Axis(ax)); err != nil {
					return err
				}
				stopped = true
			}
		}
		tgt.PrevDelta = delta
	}

	// convergence: both motors idle and both errors inside the finest
	// level's resolution
	if !motors[AxisRA] && !motors[AxisDec] && !stopped {
		done := true
		for ax := range m.targets {
			if !m.targets[ax].Active {
				continue
			}
			if math.Abs(m.shiftDelta(Axis(ax))) >= m.profile[ax][0]*tick {
				done = false
				break
			}
		}
		if done {
			restore := 0
			for ax := range m.targets {
				if m.targets[ax].Active && m.targets[ax].StartZoom > 0 {
					restore = m.targets[ax].StartZoom
				}
				m.targets[ax] = ShiftTarget{}
			}
			log.Printf("shift converged at RA %.4f DEC %.4f", m.pos.RADeg, m.pos.DecDeg)
			if restore > 0 && restore != m.zoomLevel() {
				return m.setZoom(restore)
			}
			return nil
		}
	}

	// speed reselection and restarts only happen with both axes settled;
	// a stop issued this tick means we are mid-transition
	if stopped || motors[AxisRA] || motors[AxisDec] {
		return nil
	}

	sel := m.selectZoom(tick)
	if sel == 0 {
		return nil
	}
	if sel != zoom {
		return m.setZoom(sel)
	}
	for ax := range m.targets {
		if !m.targets[ax].Active {
			continue
		}
		delta := m.shiftDelta(Axis(ax))
		// strict: an error of exactly one tick's resolution still gets
		// one more step, otherwise it would never converge
		if math.Abs(delta) < m.profile[ax][sel-1]*tick {
			continue
		}
		if err := m.queue([]Cmd{C(startCmds[ax][dirIndex(delta > 0)])}); err != nil {
			return err
		}
		m.targets[ax].PrevDelta = delta
	}
	return nil
}

// selectZoom picks the fastest level whose remaining ETA, for the worse
// of the two axes, stays above a two-tick margin.  When even the slowest
// level would land inside the margin it returns level 1.
func (m *Mount) selectZoom(tick float64) int {
	for lvl := zoomLevels; lvl >= 1; lvl-- {
		eta := 0.0
		any := false
		for ax := range m.targets {
			if !m.targets[ax].Active {
				continue
			}
			speed := m.profile[ax][lvl-1]
			if speed <= 0 {
				continue
			}
			any = true
			if e := math.Abs(m.shiftDelta(Axis(ax))) / speed; e > eta {
				eta = e
			}
		}
		if !any {
			return 0
		}
		if eta >= 2*tick {
			return lvl
		}
	}
	return 1
}
