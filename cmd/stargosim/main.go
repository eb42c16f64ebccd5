// Command stargosim serves the protocol simulator over TCP, standing in
// for a mount attached to a serial server.  Point stargosrv at it with
// serial: false to exercise the full stack without hardware.
package main

import (
	"flag"
	"log"
	"net"
	"time"

	"github.com/openastro/stargo/stargo"
)

func main() {
	var (
		addr = flag.String("addr", ":7422", "address to listen at")
		push = flag.Duration("push", 0, "period of unsolicited status lines, 0 disables")
	)
	flag.Parse()

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatal(err)
	}
	log.Println("simulated mount listening at", *addr)
	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Fatal(err)
		}
		log.Println("client connected:", conn.RemoteAddr())
		go serve(conn, *push)
	}
}

// serve bridges one TCP client to a fresh simulator instance.
func serve(conn net.Conn, push time.Duration) {
	defer conn.Close()
	sim := stargo.NewSim()
	// wall-clock pacing: one modeled second per real second
	sim.Step = time.Second

	done := make(chan struct{})
	defer close(done)
	if push > 0 {
		go func() {
			t := time.NewTicker(push)
			defer t.Stop()
			for {
				select {
				case <-done:
					return
				case <-t.C:
					sim.EmitStatus()
				}
			}
		}()
	}
	// single flusher owns all writes to the socket so unsolicited
	// status lines go out without waiting for the next command
	go func() {
		buf := make([]byte, 256)
		t := time.NewTicker(10 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				for {
					m, _ := sim.Read(buf)
					if m == 0 {
						break
					}
					if _, err := conn.Write(buf[:m]); err != nil {
						return
					}
				}
			}
		}
	}()

	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			log.Println("client gone:", err)
			return
		}
		if n > 0 {
			sim.Write(buf[:n])
		}
	}
}
