package stargo

import (
	"fmt"
	"time"

	"github.com/openastro/stargo/astro"
)

// MountStatus is the coarse state of the mount, inferred purely from
// polled fields; the controller pushes nothing except the occasional
// unsolicited Z1 line.
type MountStatus int

// Mount states.
const (
	StatusInit MountStatus = iota
	StatusStopped
	StatusTracking
	StatusMoving
	StatusSlewing
	StatusHome
	StatusParked
	StatusParking
)

func (s MountStatus) String() string {
	switch s {
	case StatusInit:
		return "INIT"
	case StatusStopped:
		return "STOPPED"
	case StatusTracking:
		return "TRACKING"
	case StatusMoving:
		return "MOVING"
	case StatusSlewing:
		return "SLEWING"
	case StatusHome:
		return "HOME"
	case StatusParked:
		return "PARKED"
	case StatusParking:
		return "PARKING"
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(s))
}

// State is the last-decoded value of every operation that has had at
// least one successful correlation.  The original control program grew
// record fields dynamically per command name; here the map is keyed by
// the fixed op-name constants and unknown/custom operations simply land
// in the same map under their literal names.
//
// State carries no lock of its own: it is mutated only by the
// correlation engine while the owning Mount's lock is held.
type State struct {
	values  map[string][]Datum
	updated map[string]time.Time
}

// NewState returns an empty State.
func NewState() *State {
	return &State{
		values:  map[string][]Datum{},
		updated: map[string]time.Time{},
	}
}

func (s *State) set(name string, data []Datum, at time.Time) {
	s.values[name] = data
	s.updated[name] = at
}

// Get returns the decoded data for an operation name, if any reply for
// it has ever been correlated.
func (s *State) Get(name string) ([]Datum, bool) {
	v, ok := s.values[name]
	return v, ok
}

// Has reports whether the operation has a decoded value.
func (s *State) Has(name string) bool {
	_, ok := s.values[name]
	return ok
}

// UpdatedAt returns when the operation's value last changed.
func (s *State) UpdatedAt(name string) (time.Time, bool) {
	t, ok := s.updated[name]
	return t, ok
}

// Int returns field idx of the operation's decoded data as an int64.
func (s *State) Int(name string, idx int) (int64, bool) {
	v, ok := s.values[name]
	if !ok || idx >= len(v) {
		return 0, false
	}
	return v[idx].Int(), true
}

// Char returns field idx of the operation's decoded data as a byte.
func (s *State) Char(name string, idx int) (byte, bool) {
	v, ok := s.values[name]
	if !ok || idx >= len(v) || v[idx].K != KindChar {
		return 0, false
	}
	return v[idx].C, true
}

// DerivedPosition caches the scalars the motion controller works in,
// refreshed on every successful status poll.
type DerivedPosition struct {
	RADeg   float64   `json:"raDeg"`
	DecDeg  float64   `json:"decDeg"`
	RARate  float64   `json:"raRate"`  // deg/s, from consecutive polls
	DecRate float64   `json:"decRate"` // deg/s
	At      time.Time `json:"at"`
}

// Snapshot is the read-only status document handed to telemetry
// consumers after every poll.
type Snapshot struct {
	Status    string  `json:"status"`
	RA        string  `json:"ra"`
	Dec       string  `json:"dec"`
	RADeg     float64 `json:"raDeg"`
	DecDeg    float64 `json:"decDeg"`
	MotorRA   int     `json:"motorRA"`
	MotorDec  int     `json:"motorDec"`
	Tracking  bool    `json:"tracking"`
	Zoom      int     `json:"zoom"`
	Target    string  `json:"target"`
	Shifting  bool    `json:"shifting"`
	UpdatedAt string  `json:"updatedAt"`
}

// formatRA renders degrees as the HH:MM:SS string consumers display.
func formatRA(deg float64) string {
	h, m, s := astro.HoursToHMS(astro.DegToHours(astro.Wrap360(deg)))
	return fmt.Sprintf("%02d:%02d:%02.0f", h, m, s)
}

// formatDec renders degrees as the sDD*MM:SS string consumers display.
func formatDec(deg float64) string {
	sign, d, m, s := astro.DegToDMS(deg)
	c := byte('+')
	if sign < 0 {
		c = '-'
	}
	return fmt.Sprintf("%c%02d*%02d:%02.0f", c, d, m, s)
}
