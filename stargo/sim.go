package stargo

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// Sim is an in-process model of a StarGo-class controller speaking the
// wire protocol over an io.ReadWriteCloser.  It exists so the session,
// shift and calibration logic can be exercised without hardware: wire it
// up with comm.Wrap(sim).
//
// Time is deterministic rather than wall-clock: the model advances by
// Step every time the position readout is queried, which makes
// convergence tests exact.  Axis rates per speed level are parametric.
type Sim struct {
	mu  sync.Mutex
	buf bytes.Buffer

	// Step is the model time advanced per position query.
	Step time.Duration

	// Rates is the modeled angular speed per axis and level, deg/s.
	Rates [2][4]float64

	// RADeg / DecDeg are the current modeled position.
	RADeg, DecDeg float64

	// Motor direction per axis: -1, 0, +1 toward decreasing/idle/
	// increasing coordinate.
	Motor [2]int

	// Zoom is the active speed level 1..4.
	Zoom int

	// Tracking and Park model the controller's auxiliary state.
	Tracking bool
	Park     byte

	targetRA, targetDec float64

	// Commands logs every frame body received, for assertions.
	Commands []string
}

// NewSim returns a simulator with sane defaults.
func NewSim() *Sim {
	return &Sim{
		Step: time.Second,
		Rates: [2][4]float64{
			{0.002, 0.01, 0.4, 4.0},
			{0.002, 0.01, 0.4, 4.0},
		},
		Zoom: 2,
		Park: '0',
	}
}

// Write parses one or more ":<body>#" frames and queues replies.
func (s *Sim) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, frame := range strings.Split(string(p), "#") {
		frame = strings.TrimSpace(frame)
		if frame == "" {
			continue
		}
		frame = strings.TrimPrefix(frame, ":")
		s.Commands = append(s.Commands, frame)
		s.handle(frame)
	}
	return len(p), nil
}

// Read pops queued reply bytes; (0, nil) when idle, like a serial port
// read timeout.
func (s *Sim) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf.Len() == 0 {
		return 0, nil
	}
	return s.buf.Read(p)
}

// Close implements io.Closer.
func (s *Sim) Close() error { return nil }

func (s *Sim) reply(format string, args ...interface{}) {
	fmt.Fprintf(&s.buf, format+"#", args...)
}

// EmitStatus pushes an unsolicited Z1 line into the stream, as the real
// controller does spontaneously.
func (s *Sim) EmitStatus() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replyStatus()
}

func (s *Sim) replyStatus() {
	mask := 0
	if s.Motor[0] != 0 {
		mask |= 1
	}
	if s.Motor[1] != 0 {
		mask |= 2
	}
	track := 0
	if s.Tracking {
		track = 1
	}
	s.reply("Z1%d%d%d", mask, track, s.Zoom)
}

// advance steps the modeled position by Step at the current motor
// directions and speed level.
func (s *Sim) advance() {
	dt := s.Step.Seconds()
	for ax := 0; ax < 2; ax++ {
		if s.Motor[ax] == 0 {
			continue
		}
		d := float64(s.Motor[ax]) * s.Rates[ax][s.Zoom-1] * dt
		if ax == 0 {
			s.RADeg = wrapSim(s.RADeg + d)
		} else {
			s.DecDeg += d
			if s.DecDeg > 90 {
				s.DecDeg = 90
			}
			if s.DecDeg < -90 {
				s.DecDeg = -90
			}
		}
	}
}

func wrapSim(deg float64) float64 {
	for deg < 0 {
		deg += 360
	}
	for deg >= 360 {
		deg -= 360
	}
	return deg
}

func (s *Sim) handle(cmd string) {
	switch cmd {
	// single token: reply splitting treats whitespace as a fragment
	// boundary, so multi-word strings would shear apart
	case "GVP":
		s.reply("StarGoSim")
	case "GVN":
		s.reply("1.0")
	case "GVD":
		s.reply("01012026")
	case "X590":
		s.advance()
		s.reply("RD%08d%+06d",
			int(math.Round(s.RADeg/360*countsPerRev)),
			int(math.Round(s.DecDeg/360*countsPerRev)))
	case "X34":
		s.reply("m%d%d", motorDigit(s.Motor[0]), motorDigit(s.Motor[1]))
	case "X3C":
		s.replyStatus()
	case "X38":
		s.reply("p%c", s.Park)
	case "GW":
		s.reply("PT2")
	case "GS":
		s.reply("12:34:56")
	case "X39":
		s.reply("PE")
	case "Q":
		s.Motor[0], s.Motor[1] = 0, 0
	case "Qe", "Qw":
		s.Motor[0] = 0
	case "Qn", "Qs":
		s.Motor[1] = 0
	case "Me":
		s.Motor[0] = 1
	case "Mw":
		s.Motor[0] = -1
	case "Mn":
		s.Motor[1] = 1
	case "Ms":
		s.Motor[1] = -1
	case "RG":
		s.Zoom = 1
	case "RC":
		s.Zoom = 2
	case "RM":
		s.Zoom = 3
	case "RS":
		s.Zoom = 4
	case "TQ", "TS", "TL":
		// rate selection, no reply
	case "X122":
		s.Tracking = true
	case "X120":
		s.Tracking = false
	case "X362":
		s.Park = '2'
		s.Motor[0], s.Motor[1] = 0, 0
		s.reply("p2")
	case "X370":
		s.Park = '0'
		s.reply("p0")
	case "X361":
		s.Park = 'B'
		s.reply("pB")
	case "X352", "X351":
		s.reply("1")
	case "MS":
		// instant goto; convergence dynamics are exercised by shifts
		s.RADeg = s.targetRA
		s.DecDeg = s.targetDec
		s.reply("0")
	case "CM":
		s.reply("Synced")
	default:
		s.handlePrefixed(cmd)
	}
}

func (s *Sim) handlePrefixed(cmd string) {
	switch {
	case strings.HasPrefix(cmd, "Sr "):
		var h, m, sec int
		if _, err := fmt.Sscanf(cmd, "Sr %d:%d:%d", &h, &m, &sec); err == nil {
			s.targetRA = wrapSim((float64(h) + float64(m)/60 + float64(sec)/3600) * 15)
			s.reply("1")
		} else {
			s.reply("0")
		}
	case strings.HasPrefix(cmd, "Sd "):
		var d, m, sec int
		if _, err := fmt.Sscanf(cmd, "Sd %d*%d:%d", &d, &m, &sec); err == nil {
			sign := 1.0
			if strings.HasPrefix(strings.TrimPrefix(cmd, "Sd "), "-") {
				sign = -1
			}
			mag := float64(abs(d)) + float64(m)/60 + float64(sec)/3600
			s.targetDec = sign * mag
			s.reply("1")
		} else {
			s.reply("0")
		}
	case strings.HasPrefix(cmd, "Sg "), strings.HasPrefix(cmd, "St "),
		strings.HasPrefix(cmd, "SG "), strings.HasPrefix(cmd, "SL "),
		strings.HasPrefix(cmd, "SC "):
		s.reply("1")
	case strings.HasPrefix(cmd, "Mg"):
		// pulse: apply the guide-rate displacement immediately
		if len(cmd) < 3 {
			return
		}
		var ms int
		fmt.Sscanf(cmd[3:], "%d", &ms)
		d := s.Rates[0][0] * float64(ms) / 1000
		switch cmd[2] {
		case 'e':
			s.RADeg = wrapSim(s.RADeg + d)
		case 'w':
			s.RADeg = wrapSim(s.RADeg - d)
		case 'n':
			s.DecDeg += s.Rates[1][0] * float64(ms) / 1000
		case 's':
			s.DecDeg -= s.Rates[1][0] * float64(ms) / 1000
		}
	}
}

func motorDigit(dir int) int {
	if dir != 0 {
		return 1
	}
	return 0
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
