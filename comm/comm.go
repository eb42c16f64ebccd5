/*Package comm provides the byte-level link to a mount controller.

The controller speaks an unframed ASCII protocol over a half-duplex serial
line: commands are ':'-prefixed, '#'-terminated strings, and replies are
'#'-terminated strings that may arrive concatenated or out of order.
Because of that, Recv does not scan for a single terminator the way a
line-oriented device wrapper would; it drains whatever the controller has
to say until the line goes quiet, and leaves framing to the caller.

The same Conn works over RS232 (tarm/serial) or a TCP serial server
(digi portserver and the like).
*/
package comm

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	// ErrNotConnected is generated when Send or Recv is called before Open.
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrNoReply is generated when the reply budget elapses without a byte.
	ErrNoReply = errors.New("no bytes received within the reply budget")
)

const (
	// DefaultReplyBudget bounds how long Recv waits for the first byte
	// and the total drain time.
	DefaultReplyBudget = 2 * time.Second

	// DefaultQuietWindow is how long the line must be silent before a
	// partially received reply is considered complete.
	DefaultQuietWindow = 50 * time.Millisecond
)

// Conn is a connection to a mount controller.  It is not safe for
// concurrent use; the session owning it must serialize access (the link
// is half duplex, so concurrent batches are meaningless anyway).
type Conn struct {
	// Addr is a filesystem path for serial devices (/dev/ttyUSB0) or a
	// host:port for TCP attached devices.
	Addr string

	// IsSerial selects RS232 (true) or TCP (false).
	IsSerial bool

	// Baud is the serial line rate; ignored for TCP.
	Baud int

	// ReplyBudget and QuietWindow tune Recv; zero values use the defaults.
	ReplyBudget time.Duration
	QuietWindow time.Duration

	conn io.ReadWriteCloser
}

// NewConn returns a Conn with default timing for the given address.
func NewConn(addr string, serial bool, baud int) *Conn {
	return &Conn{
		Addr:        addr,
		IsSerial:    serial,
		Baud:        baud,
		ReplyBudget: DefaultReplyBudget,
		QuietWindow: DefaultQuietWindow,
	}
}

// Wrap returns a Conn over an existing ReadWriteCloser.  Used by tests and
// the simulator.
func Wrap(rwc io.ReadWriteCloser) *Conn {
	return &Conn{
		conn:        rwc,
		ReplyBudget: DefaultReplyBudget,
		QuietWindow: DefaultQuietWindow,
	}
}

func (c *Conn) serialConf() *serial.Config {
	baud := c.Baud
	if baud == 0 {
		baud = 9600
	}
	return &serial.Config{
		Name:        c.Addr,
		Baud:        baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: c.quiet(),
	}
}

func (c *Conn) quiet() time.Duration {
	if c.QuietWindow == 0 {
		return DefaultQuietWindow
	}
	return c.QuietWindow
}

func (c *Conn) budget() time.Duration {
	if c.ReplyBudget == 0 {
		return DefaultReplyBudget
	}
	return c.ReplyBudget
}

// Open establishes the connection.  Connection attempts are retried with
// exponential backoff; the controller's USB serial bridge tends to reject
// the first open after a replug.
func (c *Conn) Open() error {
	wasTimeout := false
	op := func() error {
		err := c.open()
		if err != nil {
			errS := strings.ToLower(err.Error())
			if strings.Contains(errS, "refused") {
				return err
			}
			wasTimeout = true
			return nil
		}
		return nil
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err == nil && !wasTimeout {
		return nil
	}
	if wasTimeout {
		return fmt.Errorf("connection timeout to %s", c.Addr)
	}
	return err
}

func (c *Conn) open() error {
	var (
		conn io.ReadWriteCloser
		err  error
	)
	if c.IsSerial {
		conn, err = serial.OpenPort(c.serialConf())
	} else {
		conn, err = TCPSetup(c.Addr, 3*time.Second)
	}
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

// Close closes the connection, nil-ing the underlying conn on success.
func (c *Conn) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	if err == nil {
		c.conn = nil
	}
	return err
}

// Connected reports whether the connection is open.
func (c *Conn) Connected() bool {
	return c.conn != nil
}

// Send writes one pre-framed command to the controller.  Frames carry
// their own ':' prefix and '#' terminator, so nothing is appended.
func (c *Conn) Send(b []byte) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	_, err := c.conn.Write(b)
	return err
}

// Recv drains the controller's reply stream.  It blocks until at least one
// byte arrives or the reply budget elapses (ErrNoReply), then keeps reading
// until the line is quiet.  The returned bytes may hold zero or more
// '#'-terminated fragments in any order; the caller correlates them.
func (c *Conn) Recv() ([]byte, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	var (
		acc      []byte
		deadline = time.Now().Add(c.budget())
		tmp      = make([]byte, 256)
	)
	for time.Now().Before(deadline) {
		if nc, ok := c.conn.(net.Conn); ok {
			nc.SetReadDeadline(time.Now().Add(c.quiet()))
		}
		n, err := c.conn.Read(tmp)
		if n > 0 {
			acc = append(acc, tmp[:n]...)
			continue
		}
		// n == 0: serial read timeout (nil error) or TCP deadline
		if err != nil && !isTimeout(err) && err != io.EOF {
			return acc, err
		}
		if len(acc) > 0 || err == io.EOF {
			break
		}
		// in-memory conns return (0, nil) without blocking; don't spin
		time.Sleep(time.Millisecond)
	}
	if len(acc) == 0 {
		return nil, ErrNoReply
	}
	return acc, nil
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

// TCPSetup opens a new TCP connection with a bounded dial time.
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, timeout)
}
