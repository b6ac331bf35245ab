package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"go.bug.st/serial"
)

// Kind names a transport medium.
type Kind string

const (
	KindSerial Kind = "serial"
	KindTCP    Kind = "tcp"
	KindUnix   Kind = "unix"
)

const (
	defaultBaudRate       = 57600
	defaultReadTimeout    = time.Second
	defaultConnectTimeout = 10 * time.Second
)

// Conn is one open medium. Read returns (0, nil) when its timeout expires
// with nothing received.
type Conn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Dialer opens fresh connections to a fixed target.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
	String() string
}

// DialOptions carries medium settings shared by all dialers.
type DialOptions struct {
	BaudRate       int
	ReadTimeout    time.Duration
	ConnectTimeout time.Duration
}

// NewDialer returns the dialer for kind. address is a device path for
// serial, host:port for tcp and a filesystem path for unix.
func NewDialer(kind Kind, address string, opts DialOptions) (Dialer, error) {
	if address == "" {
		return nil, fmt.Errorf("%w: empty address for %s", ErrConnect, kind)
	}
	switch kind {
	case KindSerial:
		return &SerialDialer{Port: address, BaudRate: opts.BaudRate, ReadTimeout: opts.ReadTimeout}, nil
	case KindTCP, KindUnix:
		return &SocketDialer{
			Network:        string(kind),
			Address:        address,
			ConnectTimeout: opts.ConnectTimeout,
			ReadTimeout:    opts.ReadTimeout,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// ParseURL builds a dialer from "serial:///dev/ttyACM0?baud=57600",
// "tcp://host:6332" or "unix:///run/brewlink/dev.sock".
func ParseURL(raw string, opts DialOptions) (Dialer, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch Kind(u.Scheme) {
	case KindSerial:
		if b := u.Query().Get("baud"); b != "" {
			baud, err := strconv.Atoi(b)
			if err != nil {
				return nil, fmt.Errorf("invalid baud %q: %w", b, err)
			}
			opts.BaudRate = baud
		}
		return NewDialer(KindSerial, u.Path, opts)
	case KindTCP:
		return NewDialer(KindTCP, u.Host, opts)
	case KindUnix:
		return NewDialer(KindUnix, u.Path, opts)
	default:
		return nil, fmt.Errorf("%w: scheme %q (use serial, tcp or unix)", ErrUnknownKind, u.Scheme)
	}
}

// SerialDialer opens a serial device.
type SerialDialer struct {
	Port        string
	BaudRate    int
	ReadTimeout time.Duration
}

// Dial opens the port. serial.Open is not cancellable, so ctx is only
// checked before the attempt.
func (d *SerialDialer) Dial(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	baud := d.BaudRate
	if baud == 0 {
		baud = defaultBaudRate
	}
	port, err := serial.Open(d.Port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Port, err)
	}

	timeout := d.ReadTimeout
	if timeout == 0 {
		timeout = defaultReadTimeout
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close() //nolint:errcheck // error path
		return nil, fmt.Errorf("set read timeout on %s: %w", d.Port, err)
	}
	return port, nil
}

func (d *SerialDialer) String() string { return "serial://" + d.Port }

// SocketDialer connects a TCP or Unix stream socket.
type SocketDialer struct {
	Network        string
	Address        string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// Dial connects within ConnectTimeout.
func (d *SocketDialer) Dial(ctx context.Context) (Conn, error) {
	timeout := d.ConnectTimeout
	if timeout == 0 {
		timeout = defaultConnectTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, d.Network, d.Address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d, err)
	}

	readTimeout := d.ReadTimeout
	if readTimeout == 0 {
		readTimeout = defaultReadTimeout
	}
	return &socketConn{Conn: conn, readTimeout: readTimeout}, nil
}

func (d *SocketDialer) String() string { return d.Network + "://" + d.Address }

// socketConn gives a net.Conn the serial read contract: a read deadline
// that expires with no data yields (0, nil).
type socketConn struct {
	net.Conn
	readTimeout time.Duration
}

func (c *socketConn) Read(p []byte) (int, error) {
	if err := c.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return 0, err
	}
	n, err := c.Conn.Read(p)
	if isTimeout(err) {
		return n, nil
	}
	return n, err
}

func (c *socketConn) Write(p []byte) (int, error) {
	if err := c.SetWriteDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(p)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
