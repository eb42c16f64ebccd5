// Package motion exposes a telescope mount session over HTTP: pointing,
// jogs, closed-loop shifts, calibration and the raw-command escape hatch.
package motion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/openastro/stargo/server"
	"github.com/openastro/stargo/server/middleware/locker"
	"github.com/openastro/stargo/stargo"
	"goji.io/pat"
)

// Controller is the set of mount session methods the HTTP layer binds.
// *stargo.Mount satisfies it; tests substitute fakes.
type Controller interface {
	Identify() (stargo.Identity, error)
	Snapshot() stargo.Snapshot
	Position() stargo.DerivedPosition
	LocalSidereal(time.Time) float64

	Goto(stargo.Target) error
	Sync() error
	Shift(dRA, dDec float64) error
	ShiftTo(stargo.Target) error
	Shifting() bool

	Move(stargo.Axis, bool, time.Duration) error
	StopAxis(stargo.Axis) error
	Stop() error

	Tracking(bool) error
	TrackingMode(string) error
	Park() error
	Unpark() error
	Home() error
	SetParkPos() error
	SetHomePos() error
	MeridianFlip(bool) error

	SetZoom(int) error
	Profile() stargo.SlewProfile
	SetProfile(stargo.SlewProfile)
	Calibrate(context.Context) error

	Raw(string) (string, error)
}

// ShiftT is the JSON body of a relative shift request, degrees on each
// axis.
type ShiftT struct {
	DRADeg  float64 `json:"dRaDeg"`
	DDecDeg float64 `json:"dDecDeg"`
}

// JogT is the JSON body of a jog request.  PulseMs zero means slew until
// the axis is stopped.
type JogT struct {
	Positive bool `json:"positive"`
	PulseMs  int  `json:"pulseMs"`
}

// HTTPWrapper wraps a mount controller with an HTTP route table.
type HTTPWrapper struct {
	Controller

	// Lock guards motion routes during calibration; nil disables
	// lockout.
	Lock *locker.Locker

	RouteTable server.RouteTable
}

// NewHTTPWrapper returns a new HTTP wrapper with the route table
// pre-configured.
func NewHTTPWrapper(c Controller, lock *locker.Locker) *HTTPWrapper {
	w := &HTTPWrapper{Controller: c, Lock: lock}
	rt := server.RouteTable{
		// telemetry
		pat.Get("/status"):   w.GetStatus,
		pat.Get("/identity"): w.GetIdentity,
		pat.Get("/position"): w.GetPosition,
		pat.Get("/lst"): server.GetFloat(func() (float64, error) {
			return c.LocalSidereal(time.Now()), nil
		}),

		// pointing
		pat.Post("/goto"):     w.Goto,
		pat.Post("/sync"):     w.Sync,
		pat.Post("/shift"):    w.Shift,
		pat.Post("/shift-to"): w.ShiftTo,
		pat.Get("/shifting"): server.GetBool(func() (bool, error) {
			return c.Shifting(), nil
		}),

		// manual motion
		pat.Post("/axis/:axis/jog"):  w.Jog,
		pat.Post("/axis/:axis/stop"): w.StopAxis,
		pat.Post("/stop"):            w.Stop,

		// tracking and fixed positions
		pat.Post("/tracking"):      server.SetBool(c.Tracking),
		pat.Post("/tracking-mode"): server.SetString(c.TrackingMode),
		pat.Post("/park"):          simple(c.Park),
		pat.Post("/unpark"):        simple(c.Unpark),
		pat.Post("/home"):          simple(c.Home),
		pat.Post("/park-here"):     simple(c.SetParkPos),
		pat.Post("/home-here"):     simple(c.SetHomePos),
		pat.Post("/meridian-flip"): server.SetBool(c.MeridianFlip),

		// speeds and calibration
		pat.Post("/zoom"):      server.SetInt(c.SetZoom),
		pat.Get("/profile"):    w.GetProfile,
		pat.Post("/profile"):   w.SetProfile,
		pat.Post("/calibrate"): w.Calibrate,

		// escape hatch
		pat.Post("/raw"): w.Raw,
	}
	w.RouteTable = rt
	return w
}

// RT satisfies server.HTTPer.
func (h *HTTPWrapper) RT() server.RouteTable {
	return h.RouteTable
}

func simple(fcn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fcn(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func respondJSON(w http.ResponseWriter, obj interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(obj); err != nil {
		log.Printf("encoding response: %v", err)
	}
}

// GetStatus returns the mount status snapshot.
func (h *HTTPWrapper) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, h.Controller.Snapshot())
}

// GetIdentity returns the controller product and firmware strings.
func (h *HTTPWrapper) GetIdentity(w http.ResponseWriter, r *http.Request) {
	id, err := h.Controller.Identify()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, id)
}

// GetPosition returns the derived position in degrees with rates.
func (h *HTTPWrapper) GetPosition(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, h.Controller.Position())
}

// Goto starts a full-speed slew to the target in the request body.
func (h *HTTPWrapper) Goto(w http.ResponseWriter, r *http.Request) {
	t := stargo.Target{}
	err := json.NewDecoder(r.Body).Decode(&t)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Controller.Goto(t); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Sync declares the current pointing to be the current target.
func (h *HTTPWrapper) Sync(w http.ResponseWriter, r *http.Request) {
	if err := h.Controller.Sync(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Shift starts a closed-loop relative move.
func (h *HTTPWrapper) Shift(w http.ResponseWriter, r *http.Request) {
	s := ShiftT{}
	err := json.NewDecoder(r.Body).Decode(&s)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Controller.Shift(s.DRADeg, s.DDecDeg); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ShiftTo starts a closed-loop move to absolute coordinates.
func (h *HTTPWrapper) ShiftTo(w http.ResponseWriter, r *http.Request) {
	t := stargo.Target{}
	err := json.NewDecoder(r.Body).Decode(&t)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Controller.ShiftTo(t); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func axisParam(r *http.Request) (stargo.Axis, error) {
	switch pat.Param(r, "axis") {
	case "ra":
		return stargo.AxisRA, nil
	case "dec":
		return stargo.AxisDec, nil
	}
	return 0, fmt.Errorf("axis must be ra or dec, got %q", pat.Param(r, "axis"))
}

// Jog starts a manual move on one axis, pulsed or continuous.
func (h *HTTPWrapper) Jog(w http.ResponseWriter, r *http.Request) {
	axis, err := axisParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	j := JogT{}
	err = json.NewDecoder(r.Body).Decode(&j)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	pulse := time.Duration(j.PulseMs) * time.Millisecond
	if err := h.Controller.Move(axis, j.Positive, pulse); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// StopAxis halts one axis.
func (h *HTTPWrapper) StopAxis(w http.ResponseWriter, r *http.Request) {
	axis, err := axisParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Controller.StopAxis(axis); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Stop aborts all motion, shifts and calibration included.
func (h *HTTPWrapper) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.Controller.Stop(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetProfile returns the calibrated slew profile.
func (h *HTTPWrapper) GetProfile(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, h.Controller.Profile())
}

// SetProfile installs a slew profile, e.g. one persisted from an earlier
// calibration.
func (h *HTTPWrapper) SetProfile(w http.ResponseWriter, r *http.Request) {
	p := stargo.SlewProfile{}
	err := json.NewDecoder(r.Body).Decode(&p)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.Controller.SetProfile(p)
	w.WriteHeader(http.StatusOK)
}

// Calibrate starts a calibration run in the background and replies 202.
// Motion routes are locked for the duration when a locker is configured;
// POST /stop aborts the run.
func (h *HTTPWrapper) Calibrate(w http.ResponseWriter, r *http.Request) {
	if h.Lock != nil {
		if h.Lock.Locked() {
			http.Error(w, "calibration already in progress", http.StatusConflict)
			return
		}
		h.Lock.Lock()
	}
	go func() {
		if h.Lock != nil {
			defer h.Lock.Unlock()
		}
		if err := h.Controller.Calibrate(context.Background()); err != nil {
			log.Printf("calibration: %v", err)
			return
		}
		log.Printf("calibration finished: profile %+v", h.Controller.Profile())
	}()
	w.WriteHeader(http.StatusAccepted)
}

// Raw sends one raw command body to the controller and returns the raw
// reply text.  Do not include the ':' prefix or '#' terminator.
func (h *HTTPWrapper) Raw(w http.ResponseWriter, r *http.Request) {
	s := server.StrT{}
	err := json.NewDecoder(r.Body).Decode(&s)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp, err := h.Controller.Raw(s.Str)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	b := append([]byte(resp), '\n')
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}
