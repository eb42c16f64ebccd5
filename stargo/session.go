/*Package stargo drives an Avalon StarGo-class telescope mount controller
over its LX200-derived ASCII protocol.

The protocol is unframed and half duplex: commands go out as
":<body>#" strings, replies come back as '#'-terminated fragments that
may be concatenated, reordered, or spontaneous.  The Mount type owns the
connection and runs a correlation engine that matches received fragments
against the scan patterns of outstanding requests; decoded values land
in a per-operation state map that the motion layer and telemetry
consumers read.

All mount access funnels through one Mount instance and one lock.  The
physical link cannot interleave two command batches, so neither does the
code.
*/
package stargo

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/openastro/stargo/astro"
	"github.com/openastro/stargo/comm"
)

const (
	// fragmentRetries is how many reads an unmatched fragment survives
	// before being dropped.  Bounds buffer growth under sustained
	// protocol mismatch (firmware drift and the like).
	fragmentRetries = 3

	// pendingWindow is how long a request waits for a reply before
	// being abandoned.
	pendingWindow = 10 * time.Second

	// countsPerRev is the axis encoder scale of the X590 readout.
	countsPerRev = 1e6
)

var (
	// ErrUnknownOperation is generated when a command name is not in
	// the registry.
	ErrUnknownOperation = errors.New("operation not in command registry")

	// ErrNoTarget is generated when Sync is called before any target
	// has been set.
	ErrNoTarget = errors.New("no goto target has been set, refusing to sync")
)

// Cmd pairs an operation name with its positional arguments.
type Cmd struct {
	Name string
	Args []interface{}
}

// C builds a Cmd; it exists to keep Write call sites short.
func C(name string, args ...interface{}) Cmd {
	return Cmd{Name: name, Args: args}
}

// pendingRequest is an in-flight command awaiting its reply.
type pendingRequest struct {
	op     Operation
	pat    Pattern
	sentAt time.Time
}

// fragment is a received token not yet matched to any request.
type fragment struct {
	text  string
	reads int
}

// Target is a pre-resolved pointing target.  Resolving a catalog name to
// coordinates is a collaborator concern; the session only consumes the
// record.
type Target struct {
	RADeg  float64 `json:"raDeg"`
	DecDeg float64 `json:"decDeg"`
	Name   string  `json:"name"`
}

// Site is the observing location, supplied by configuration or an
// external geolocation collaborator.
type Site struct {
	LatitudeDeg  float64 `json:"latitude"`
	LongitudeDeg float64 `json:"longitude"`
	UTCOffset    float64 `json:"utcOffset"`
}

// Identity describes the controller firmware.
type Identity struct {
	Product      string `json:"product"`
	Firmware     string `json:"firmware"`
	FirmwareDate string `json:"firmwareDate"`
}

// Mount is a session with one mount controller.  It owns the connection,
// the pending-request list, the unmatched-fragment buffer and the
// decoded state; every method serializes on the internal lock, which
// preserves the single-writer discipline the half-duplex link demands.
type Mount struct {
	mu   sync.Mutex
	conn *comm.Conn

	state     *State
	pending   []pendingRequest
	unmatched []fragment

	pos        DerivedPosition
	gotoActive bool
	haveTarget bool
	targetName string

	// Site is pushed to the controller by Start and feeds the LST
	// computation.
	Site Site

	// motion controller state, see shift.go and calibrate.go
	profile     SlewProfile
	targets     [2]ShiftTarget
	calibrating bool
	zoom        int // last commanded speed level, 1..4; 0 unknown

	// Tick is the status poll period the shift controller plans
	// against.
	Tick time.Duration

	// MaxPulse clamps jog pulse durations; the wire format carries
	// four digits of milliseconds.
	MaxPulse time.Duration

	// CalSettle and CalMeasure are the calibration intervals: time to
	// let the axis reach speed, then time over which rate is measured.
	CalSettle  time.Duration
	CalMeasure time.Duration
}

// NewMount returns a session over the given connection with default
// timing.
func NewMount(conn *comm.Conn) *Mount {
	return &Mount{
		conn:       conn,
		state:      NewState(),
		Tick:       time.Second,
		MaxPulse:   9999 * time.Millisecond,
		CalSettle:  time.Second,
		CalMeasure: 4 * time.Second,
	}
}

// Open establishes the connection to the controller.
func (m *Mount) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn.Open()
}

// Close tears the connection down.
func (m *Mount) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn.Close()
}

// Write encodes and transmits each command in order.  Unknown operations
// and argument mismatches are logged and skipped (the rest of the batch
// proceeds); transport errors abort and are fatal to the session.
func (m *Mount) Write(cmds ...Cmd) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.write(cmds)
}

// Read blocks until reply bytes arrive or the budget elapses, then runs
// correlation over everything buffered.
func (m *Mount) Read() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read()
}

// Queue is the composition write-then-read.
func (m *Mount) Queue(cmds ...Cmd) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue(cmds)
}

func (m *Mount) write(cmds []Cmd) error {
	for _, cmd := range cmds {
		op, ok := Lookup(cmd.Name)
		if !ok {
			log.Printf("skipping unknown operation %q", cmd.Name)
			metricEncodeErrors.Inc()
			continue
		}
		frame, err := Encode(op, cmd.Args...)
		if err != nil {
			log.Printf("skipping %s: %v", op.Name, err)
			metricEncodeErrors.Inc()
			continue
		}
		if err := m.conn.Send([]byte(frame)); err != nil {
			return fmt.Errorf("sending %s: %w", op.Name, err)
		}
		metricCommandsSent.Inc()
		if op.Recv != "" {
			pat, _ := RecvPattern(op.Name)
			m.pending = append(m.pending, pendingRequest{op: op, pat: pat, sentAt: time.Now()})
		}
	}
	return nil
}

func (m *Mount) read() error {
	raw, err := m.conn.Recv()
	now := time.Now()
	if err != nil {
		m.prunePending(now)
		return err
	}
	for _, f := range Fragments(raw) {
		m.unmatched = append(m.unmatched, fragment{text: f})
	}
	m.correlate(now)
	m.prunePending(now)
	m.refreshDerived(now)
	return nil
}

// queue writes the batch and reads replies back if any are expected.
func (m *Mount) queue(cmds []Cmd) error {
	before := len(m.pending)
	if err := m.write(cmds); err != nil {
		return err
	}
	added := len(m.pending) > before
	if !added && len(m.unmatched) == 0 {
		// nothing to wait for
		return nil
	}
	err := m.read()
	if !added && errors.Is(err, comm.ErrNoReply) {
		// the batch expected no replies; the read only serviced stale
		// unmatched fragments, so a quiet line is not a failure
		return nil
	}
	return err
}

// correlate resolves the N:M problem of outstanding requests against
// received fragments: each undecoded fragment is tried against the
// pending list in submission order, first structural match wins.
// Fragments matching nothing are retained for a bounded number of
// future reads.
func (m *Mount) correlate(now time.Time) {
	z1 := patterns[OpGetStatus]
	keep := m.unmatched[:0]
	for _, f := range m.unmatched {
		if m.matchPending(f.text, now) {
			metricRepliesCorrelated.Inc()
			continue
		}
		// The controller emits its Z1 status line spontaneously.
		// Recognize the signature even without a pending request,
		// standing in for the request it answers, or it would sit in
		// the buffer shadowing genuine replies.
		if data, ok := z1.Match(f.text); ok {
			m.state.set(OpGetStatus, data, now)
			metricUnsolicited.Inc()
			continue
		}
		f.reads++
		if f.reads > fragmentRetries {
			log.Printf("dropping unmatched fragment %q after %d reads", f.text, f.reads)
			metricFragmentsDropped.Inc()
			continue
		}
		keep = append(keep, f)
	}
	m.unmatched = keep
}

func (m *Mount) matchPending(text string, now time.Time) bool {
	for i, p := range m.pending {
		data, ok := p.pat.Match(text)
		if !ok {
			continue
		}
		m.state.set(p.op.Name, data, now)
		m.pending = append(m.pending[:i], m.pending[i+1:]...)
		return true
	}
	return false
}

// prunePending abandons requests that have waited past the window, so a
// reply that never comes cannot grow the list without bound.
func (m *Mount) prunePending(now time.Time) {
	keep := m.pending[:0]
	for _, p := range m.pending {
		if now.Sub(p.sentAt) > pendingWindow {
			log.Printf("abandoning request %s, no reply in %v", p.op.Name, pendingWindow)
			metricRequestsStranded.Inc()
			continue
		}
		keep = append(keep, p)
	}
	m.pending = keep
}

// refreshDerived recomputes the cached position scalars when a fresh
// X590 readout has landed.
func (m *Mount) refreshDerived(now time.Time) {
	at, ok := m.state.UpdatedAt(OpGetRADec)
	if !ok || !at.After(m.pos.At) {
		return
	}
	raCounts, _ := m.state.Int(OpGetRADec, 0)
	decCounts, _ := m.state.Int(OpGetRADec, 1)
	next := DerivedPosition{
		RADeg:  astro.Wrap360(float64(raCounts) * 360 / countsPerRev),
		DecDeg: float64(decCounts) * 360 / countsPerRev,
		At:     at,
	}
	if !m.pos.At.IsZero() {
		if dt := at.Sub(m.pos.At).Seconds(); dt > 0 {
			next.RARate = astro.WrapDelta(m.pos.RADeg, next.RADeg) / dt
			next.DecRate = (next.DecDeg - m.pos.DecDeg) / dt
		}
	}
	m.pos = next
}

// PollLevel selects which declarative op list a status poll requires.
type PollLevel int

// Poll levels.
const (
	PollBasic PollLevel = iota
	PollFull
)

// pollOps is the declarative "required fields" list per poll level; keys
// missing from the state after the batch produce exactly one retry
// batch.
var pollOps = map[PollLevel][]string{
	PollBasic: {OpGetRADec, OpGetStatus, OpGetMotors},
	PollFull: {OpGetRADec, OpGetStatus, OpGetMotors, OpGetPark,
		OpGetPierSide, OpGetAlignment, OpGetLST},
}

// GetStatus round-trips the poll batch for the level and re-requests any
// operation that has never produced a value, deterministically and once.
func (m *Mount) GetStatus(level PollLevel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getStatus(level)
}

func (m *Mount) getStatus(level PollLevel) error {
	required := pollOps[level]
	batch := make([]Cmd, len(required))
	for i, name := range required {
		batch[i] = C(name)
	}
	if err := m.queue(batch); err != nil {
		return err
	}
	var retry []Cmd
	for _, name := range required {
		if !m.state.Has(name) {
			retry = append(retry, C(name))
		}
	}
	if len(retry) == 0 {
		return nil
	}
	return m.queue(retry)
}

// Poll performs one driver tick: a basic status poll followed by the
// shift controller update.
func (m *Mount) Poll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	metricPolls.Inc()
	if err := m.getStatus(PollBasic); err != nil {
		return err
	}
	return m.updateShift()
}

// Identify reads the controller's product and firmware strings.
func (m *Mount) Identify() (Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.queue([]Cmd{C(OpGetProduct), C(OpGetFirmware), C(OpGetFirmwareDate)})
	id := Identity{
		Product:      m.stateString(OpGetProduct),
		Firmware:     m.stateString(OpGetFirmware),
		FirmwareDate: m.stateString(OpGetFirmwareDate),
	}
	return id, err
}

func (m *Mount) stateString(name string) string {
	v, ok := m.state.Get(name)
	if !ok || len(v) == 0 {
		return ""
	}
	return v[0].String()
}

// Start brings the controller to a tracking-ready state: all motion
// stopped, site and clock pushed, sidereal rate selected, then tracking
// enabled.  The ordering matches firmware expectations; the rate must be
// set before the enable or the first tracking tick runs at the prior
// rate.
func (m *Mount) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.queue([]Cmd{C(OpStopAll)}); err != nil {
		return err
	}
	if err := m.queue(m.siteCmds(time.Now())); err != nil {
		return err
	}
	return m.queue([]Cmd{C("set_tracking_sidereal"), C(OpTrackingOn)})
}

// siteCmds renders the site and clock push batch.
func (m *Mount) siteCmds(now time.Time) []Cmd {
	lon := astro.Split(m.Site.LongitudeDeg)
	lat := astro.Split(m.Site.LatitudeDeg)
	return []Cmd{
		C("set_longitude", signChar(m.Site.LongitudeDeg), lon.Whole, lon.Minute),
		C("set_latitude", signChar(m.Site.LatitudeDeg), lat.Whole, lat.Minute),
		C("set_utc_offset", m.Site.UTCOffset),
		C("set_local_time", now.Hour(), now.Minute(), now.Second()),
		C("set_date", int(now.Month()), now.Day(), now.Year()%100),
	}
}

// Stop aborts all motion.  It is safe at any time: shift targets and any
// in-progress calibration are cleared before the hardware aborts go out.
func (m *Mount) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stop()
}

func (m *Mount) stop() error {
	m.targets[AxisRA] = ShiftTarget{}
	m.targets[AxisDec] = ShiftTarget{}
	m.calibrating = false
	m.gotoActive = false
	return m.queue([]Cmd{C(OpStopAll), C(OpTrackingOff)})
}

// Tracking enables or disables sidereal tracking.
func (m *Mount) Tracking(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if on {
		return m.queue([]Cmd{C(OpTrackingOn)})
	}
	return m.queue([]Cmd{C(OpTrackingOff)})
}

// TrackingMode selects the tracking rate: sidereal, solar or lunar.
func (m *Mount) TrackingMode(mode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := "set_tracking_" + mode
	if _, ok := Lookup(name); !ok {
		return fmt.Errorf("unknown tracking mode %q", mode)
	}
	return m.queue([]Cmd{C(name)})
}

// Park sends the mount to its park position; Unpark releases it.
func (m *Mount) Park() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue([]Cmd{C(OpPark)})
}

// Unpark releases the mount from park.
func (m *Mount) Unpark() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue([]Cmd{C(OpUnpark)})
}

// Home slews to the home position.
func (m *Mount) Home() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue([]Cmd{C(OpHome)})
}

// SetParkPos defines the current pointing as the park position.
func (m *Mount) SetParkPos() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue([]Cmd{C("set_park_pos")})
}

// SetHomePos defines the current pointing as the home position.
func (m *Mount) SetHomePos() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue([]Cmd{C("set_home_pos")})
}

// MeridianFlip enables or disables the automatic meridian flip.
func (m *Mount) MeridianFlip(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if on {
		return m.queue([]Cmd{C("meridian_flip_on")})
	}
	return m.queue([]Cmd{C("meridian_flip_off")})
}

// Sync tells the controller that it is pointing exactly at the current
// target.  Refused until a target exists; syncing on garbage coordinates
// corrupts the alignment model.
func (m *Mount) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.haveTarget {
		log.Print("sync refused: no target set")
		return ErrNoTarget
	}
	return m.queue([]Cmd{C(OpSync)})
}

// Goto sets the target coordinates and starts a full-speed slew to them.
// Refused while a shift is running; the two would fight over the motors.
func (m *Mount) Goto(target Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shiftActive() {
		log.Print("goto refused: shift in progress")
		return ErrShiftActive
	}
	target.DecDeg = astro.ClampDec(target.DecDeg)
	target.RADeg = astro.Wrap360(target.RADeg)
	if err := m.queue(targetCmds(target)); err != nil {
		return err
	}
	m.haveTarget = true
	m.targetName = target.Name
	if err := m.queue([]Cmd{C(OpGoto)}); err != nil {
		return err
	}
	if ack, ok := m.state.Int(OpGoto, 0); ok && ack != 0 {
		return fmt.Errorf("controller rejected goto with code %d", ack)
	}
	m.gotoActive = true
	return nil
}

// targetCmds renders set_ra/set_dec for a target.
func targetCmds(t Target) []Cmd {
	rh, rm, rs := roundSexa(astro.HoursToHMS(astro.DegToHours(t.RADeg)))
	rh %= 24
	sx := astro.Split(t.DecDeg)
	dd, dm, ds := roundSexa(sx.Whole, sx.Minute, sx.Second)
	return []Cmd{
		C(OpSetRA, rh, rm, rs),
		C(OpSetDec, signChar(t.DecDeg), dd, dm, ds),
	}
}

// signChar renders the sign of an angle as its own wire byte.  The sign
// cannot ride on the whole-degrees field: for values in (-1, 0) that
// field is zero and a %+d render would silently flip the angle positive.
func signChar(v float64) byte {
	if v < 0 {
		return '-'
	}
	return '+'
}

// roundSexa rounds the seconds field to an integer, carrying into the
// minute and whole fields so 29.9999 renders as 30 rather than 29.
func roundSexa(w, m int, s float64) (int, int, int) {
	si := int(s + 0.5)
	if si == 60 {
		si = 0
		m++
	}
	if m == 60 {
		m = 0
		w++
	}
	return w, m, si
}

// motorStates returns the per-axis motor activity, preferring the
// dedicated readout and falling back to the Z1 bitmask.
func (m *Mount) motorStates() (ra, dec int) {
	if v, ok := m.state.Get(OpGetMotors); ok && len(v) == 2 {
		return int(v[0].Int()), int(v[1].Int())
	}
	if v, ok := m.state.Get(OpGetStatus); ok && len(v) == 3 {
		mask := v[0].Int()
		return int(mask & 1), int(mask >> 1 & 1)
	}
	return 0, 0
}

func (m *Mount) trackingOn() bool {
	v, ok := m.state.Int(OpGetStatus, 1)
	return ok && v != 0
}

// zoomLevel returns the active speed level, preferring the controller's
// own report over the last commanded value.
func (m *Mount) zoomLevel() int {
	if v, ok := m.state.Int(OpGetStatus, 2); ok && v >= 1 && v <= 4 {
		return int(v)
	}
	return m.zoom
}

// status infers the coarse mount state from polled fields only.
func (m *Mount) status() MountStatus {
	if !m.state.Has(OpGetRADec) && !m.state.Has(OpGetStatus) && !m.state.Has(OpGetPark) {
		return StatusInit
	}
	if c, ok := m.state.Char(OpGetPark, 0); ok {
		switch c {
		case '2':
			return StatusParked
		case '1':
			return StatusParking
		case 'B':
			return StatusHome
		case 'A':
			return StatusSlewing
		}
	}
	ra, dec := m.motorStates()
	moving := ra != 0 || dec != 0
	if m.gotoActive {
		if moving {
			return StatusSlewing
		}
		m.gotoActive = false
	}
	if moving {
		return StatusMoving
	}
	if m.trackingOn() {
		return StatusTracking
	}
	return StatusStopped
}

// Snapshot returns the telemetry document for status consumers.
func (m *Mount) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	ra, dec := m.motorStates()
	return Snapshot{
		Status:    m.status().String(),
		RA:        formatRA(m.pos.RADeg),
		Dec:       formatDec(m.pos.DecDeg),
		RADeg:     m.pos.RADeg,
		DecDeg:    m.pos.DecDeg,
		MotorRA:   ra,
		MotorDec:  dec,
		Tracking:  m.trackingOn(),
		Zoom:      m.zoomLevel(),
		Target:    m.targetName,
		Shifting:  m.shiftActive(),
		UpdatedAt: m.pos.At.Format(time.RFC3339Nano),
	}
}

// Position returns the cached derived position.
func (m *Mount) Position() DerivedPosition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos
}

// Decoded returns the decoded values for an operation name.  Exposed for
// collaborators that poll custom operations.
func (m *Mount) Decoded(name string) ([]Datum, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Get(name)
}

// Raw transmits one pre-formed command body (without ':' and '#') and
// returns whatever the controller answers within the budget.  Escape
// hatch for debugging; bypasses the registry and correlation.
func (m *Mount) Raw(body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.conn.Send([]byte(":" + body + "#")); err != nil {
		return "", err
	}
	resp, err := m.conn.Recv()
	if err == comm.ErrNoReply {
		return "", nil
	}
	return string(resp), err
}

// LocalSidereal returns the local sidereal time in hours for the
// configured site at the given moment.
func (m *Mount) LocalSidereal(at time.Time) float64 {
	return astro.LST(at, m.Site.LongitudeDeg)
}
