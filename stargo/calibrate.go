package stargo

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/openastro/stargo/astro"
)

// negligibleRate is the deg/s threshold below which a calibration sample
// is considered a stalled or disconnected axis rather than a
// measurement.
const negligibleRate = 1e-6

// Calibrate measures the real angular speed of both axes at each of the
// four zoom levels and stores the results in the slew profile.  For each
// level it slews both axes, waits CalSettle to let the motors reach
// speed, samples position, slews for CalMeasure, samples again, and
// takes delta-position over delta-time.  A level is stored only when
// both axes show non-negligible motion, so a stalled axis cannot poison
// the profile.  The zoom level active before the call is restored.
//
// Stop cancels an in-progress calibration, as does the context.
func (m *Mount) Calibrate(ctx context.Context) error {
	m.mu.Lock()
	if m.shiftActive() {
		m.mu.Unlock()
		return ErrShiftActive
	}
	if m.calibrating {
		m.mu.Unlock()
		return ErrCalibrating
	}
	m.calibrating = true
	// zoomLevel prefers the controller's Z1 report over the last
	// commanded level, so a level active before this session ever
	// touched the speed is still restored
	restore := m.zoomLevel()
	m.mu.Unlock()

	err := m.calibrateLevels(ctx)

	m.mu.Lock()
	interrupted := !m.calibrating // Stop() was called underneath us
	m.calibrating = false
	if restore >= 1 {
		if zerr := m.setZoom(restore); zerr != nil && err == nil {
			err = zerr
		}
	}
	m.mu.Unlock()
	if err == nil && interrupted {
		err = context.Canceled
	}
	return err
}

func (m *Mount) calibrateLevels(ctx context.Context) error {
	for lvl := 1; lvl <= zoomLevels; lvl++ {
		rates, err := m.calibrateLevel(ctx, lvl)
		if err != nil {
			return err
		}
		if rates == nil {
			continue
		}
		m.mu.Lock()
		m.profile[AxisRA][lvl-1] = rates[AxisRA]
		m.profile[AxisDec][lvl-1] = rates[AxisDec]
		m.mu.Unlock()
		log.Printf("calibrated level %d: RA %.6f deg/s, DEC %.6f deg/s",
			lvl, rates[AxisRA], rates[AxisDec])
	}
	return nil
}

// calibrateLevel measures one zoom level on both axes simultaneously.
// Returns nil rates (no error) when either axis shows negligible motion.
func (m *Mount) calibrateLevel(ctx context.Context, lvl int) (*[2]float64, error) {
	abort := func(err error) (*[2]float64, error) {
		m.Stop()
		return nil, err
	}
	if err := m.runLocked(func() error {
		if !m.calibrating {
			return context.Canceled
		}
		if err := m.queue([]Cmd{C(OpStopAll)}); err != nil {
			return err
		}
		if err := m.setZoom(lvl); err != nil {
			return err
		}
		return m.queue([]Cmd{
			C(startCmds[AxisRA][1]),
			C(startCmds[AxisDec][1]),
		})
	}); err != nil {
		return abort(err)
	}

	if err := sleepCtx(ctx, m.CalSettle); err != nil {
		return abort(err)
	}
	p1, err := m.samplePosition()
	if err != nil {
		return abort(err)
	}
	if err := sleepCtx(ctx, m.CalMeasure); err != nil {
		return abort(err)
	}
	p2, err := m.samplePosition()
	if err != nil {
		return abort(err)
	}
	if err := m.runLocked(func() error {
		if !m.calibrating {
			return context.Canceled
		}
		return m.queue([]Cmd{C(OpStopAll)})
	}); err != nil {
		return abort(err)
	}

	dt := m.CalMeasure.Seconds()
	raRate := math.Abs(astro.WrapDelta(p1.RADeg, p2.RADeg)) / dt
	decRate := math.Abs(p2.DecDeg-p1.DecDeg) / dt
	if raRate < negligibleRate || decRate < negligibleRate {
		log.Printf("level %d calibration discarded: RA %.8f deg/s, DEC %.8f deg/s (axis stalled?)",
			lvl, raRate, decRate)
		return nil, nil
	}
	return &[2]float64{raRate, decRate}, nil
}

// samplePosition polls the axis readout and returns the derived
// position.
func (m *Mount) samplePosition() (DerivedPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.queue([]Cmd{C(OpGetRADec)}); err != nil {
		return DerivedPosition{}, err
	}
	return m.pos, nil
}

// runLocked runs fn with the session lock held.
func (m *Mount) runLocked(fn func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
