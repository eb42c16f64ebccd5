// Command stargosrv exposes an Avalon StarGo-class mount controller over
// HTTP: pointing, shifts, calibration, a status websocket and Prometheus
// metrics.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"goji.io"
	"goji.io/pat"
	"golang.org/x/sync/errgroup"
	yml "gopkg.in/yaml.v2"

	"github.com/openastro/stargo/comm"
	"github.com/openastro/stargo/motion"
	"github.com/openastro/stargo/server"
	"github.com/openastro/stargo/server/middleware/locker"
	"github.com/openastro/stargo/stargo"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "stargosrv.yml"
	k              = koanf.New(".")
)

// Config holds the initialization parameters for the server.  It is to be
// populated from the yaml file over the built-in defaults.
type Config struct {
	// Addr is the address the HTTP server listens at
	Addr string `koanf:"addr"`

	// MountAddr is the controller address: a device path for RS232 or
	// host:port for a TCP serial server
	MountAddr string `koanf:"mountaddr"`

	// Serial selects RS232 (true) or TCP (false)
	Serial bool `koanf:"serial"`

	// Baud is the serial line rate
	Baud int `koanf:"baud"`

	// Simulate replaces the hardware link with the built-in simulator
	Simulate bool `koanf:"simulate"`

	// Latitude and Longitude are the site coordinates in degrees, east
	// and north positive
	Latitude  float64 `koanf:"latitude"`
	Longitude float64 `koanf:"longitude"`

	// UTCOffset is the site clock offset pushed to the controller
	UTCOffset float64 `koanf:"utcoffset"`

	// PollMs is the status poll period in milliseconds
	PollMs int `koanf:"pollms"`

	// Autostart pushes site and clock and enables sidereal tracking on
	// boot
	Autostart bool `koanf:"autostart"`
}

func setupconfig() {
	k.Load(structs.Provider(Config{
		Addr:      ":8800",
		MountAddr: "/dev/ttyUSB0",
		Serial:    true,
		Baud:      9600,
		Latitude:  34.2,
		Longitude: -118.17,
		PollMs:    1000,
	}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `stargosrv drives an Avalon StarGo-class telescope mount and exposes
an HTTP interface to it, so clients can point, jog, shift and calibrate
the mount from any language with an HTTP library.

Usage:
	stargosrv <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `stargosrv is configured via its .yaml file (see mkconf).

The controller may be attached over RS232 (serial: true, mountaddr a
device path) or a TCP serial server (serial: false, mountaddr host:port).
With simulate: true no hardware is needed; the built-in protocol
simulator stands in for the mount.

Routes of note, all JSON unless stated:
	GET  /status         mount snapshot
	GET  /position       derived position, degrees, with rates
	POST /goto           {"raDeg": .., "decDeg": .., "name": ..}
	POST /shift          {"dRaDeg": .., "dDecDeg": ..}
	POST /axis/ra/jog    {"positive": true, "pulseMs": 500}
	POST /calibrate      starts a calibration run, 202; motion routes
	                     return 423 until it finishes
	POST /stop           abort everything
	GET  /ws             websocket status stream, one snapshot per poll
	GET  /metrics        Prometheus metrics
	GET  /endpoints      the full route list`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("stargosrv version %v\n", Version)
}

func run() {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}

	var conn *comm.Conn
	if c.Simulate {
		log.Println("simulate: true, using the built-in protocol simulator")
		conn = comm.Wrap(stargo.NewSim())
	} else {
		conn = comm.NewConn(c.MountAddr, c.Serial, c.Baud)
	}
	m := stargo.NewMount(conn)
	m.Site = stargo.Site{
		LatitudeDeg:  c.Latitude,
		LongitudeDeg: c.Longitude,
		UTCOffset:    c.UTCOffset,
	}
	if c.PollMs > 0 {
		m.Tick = time.Duration(c.PollMs) * time.Millisecond
	}
	if !c.Simulate {
		if err := m.Open(); err != nil {
			log.Fatalf("connecting to mount at %s: %v", c.MountAddr, err)
		}
	}
	id, err := m.Identify()
	if err != nil {
		log.Printf("identify: %v", err)
	}
	log.Printf("connected to %s, firmware %s (%s)", id.Product, id.Firmware, id.FirmwareDate)
	if c.Autostart {
		if err := m.Start(); err != nil {
			log.Fatalf("starting tracking: %v", err)
		}
	}

	hub := motion.NewStatusHub()
	lock := locker.New()
	lock.DoNotProtect = append(lock.DoNotProtect, "ws", "metrics", "stop")
	wrapper := motion.NewHTTPWrapper(m, lock)
	locker.Inject(wrapper, lock)

	mux := goji.NewMux()
	mux.Use(lock.Check)
	mux.Use(server.NoCache)
	wrapper.RT().Bind(mux)
	mux.HandleFunc(pat.Get("/ws"), hub.ServeWS)
	mux.Handle(pat.Get("/metrics"), promhttp.Handler())

	g, ctx := errgroup.WithContext(context.Background())
	poller := &stargo.Poller{Mount: m, Callback: hub.Publish}
	g.Go(func() error { return poller.Run(ctx) })
	g.Go(func() error {
		log.Println("now listening for requests at", c.Addr)
		return http.ListenAndServe(c.Addr, mux)
	})
	log.Fatal(g.Wait())
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	switch strings.ToLower(args[1]) {
	case "help":
		help()
	case "mkconf":
		mkconf()
	case "conf":
		printconf()
	case "run":
		run()
	case "version":
		pversion()
	default:
		log.Fatal("unknown command")
	}
}
