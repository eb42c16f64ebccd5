// Command stargocal measures the real slew speed of both mount axes at
// each speed level and prints the resulting profile as YAML, suitable
// for POSTing to a running stargosrv at /profile.
//
// The run takes a few minutes and moves the mount; do it with the scope
// parked clear of obstructions.  Ctrl-C aborts and stops all motion.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/theckman/yacspin"
	yml "gopkg.in/yaml.v2"

	"github.com/openastro/stargo/comm"
	"github.com/openastro/stargo/stargo"
)

func main() {
	var (
		addr    = flag.String("addr", "/dev/ttyUSB0", "mount address, device path or host:port")
		serial  = flag.Bool("serial", true, "RS232 (true) or TCP serial server (false)")
		baud    = flag.Int("baud", 9600, "serial line rate")
		settle  = flag.Duration("settle", time.Second, "time for an axis to reach speed before sampling")
		measure = flag.Duration("measure", 4*time.Second, "time over which each speed is measured")
		sim     = flag.Bool("sim", false, "use the built-in simulator instead of hardware")
	)
	flag.Parse()

	var conn *comm.Conn
	if *sim {
		conn = comm.Wrap(stargo.NewSim())
	} else {
		conn = comm.NewConn(*addr, *serial, *baud)
	}
	m := stargo.NewMount(conn)
	m.CalSettle = *settle
	m.CalMeasure = *measure
	if !*sim {
		if err := m.Open(); err != nil {
			log.Fatalf("connecting to mount at %s: %v", *addr, err)
		}
	}
	id, err := m.Identify()
	if err != nil {
		log.Fatalf("mount not answering: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		cancel()
		m.Stop()
	}()

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            fmt.Sprintf(" calibrating %s", id.Product),
		Message:           "measuring axis speeds at each level",
		StopCharacter:     "+",
		StopMessage:       "calibration complete",
		StopFailCharacter: "x",
		StopFailMessage:   "calibration aborted",
	})
	if err != nil {
		log.Fatal(err)
	}
	spinner.Start()

	if err := m.Calibrate(ctx); err != nil {
		spinner.StopFail()
		log.Fatal(err)
	}
	spinner.Stop()

	profile := m.Profile()
	if !profile.Complete() {
		log.Println("warning: some levels were discarded (stalled axis?), profile incomplete")
	}
	if err := yml.NewEncoder(os.Stdout).Encode(profile); err != nil {
		log.Fatal(err)
	}
}
