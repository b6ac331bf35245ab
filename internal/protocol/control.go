package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ControlBufferSize is the most a control message may carry.
const ControlBufferSize = 4096

const (
	socketDirPermissions = 0750
	controlReadTimeout   = 2 * time.Second
)

// Control message types understood by workers.
const (
	CtlStopScript    = "stopScript"
	CtlQuit          = "quit"
	CtlSetParameters = "setParameters"
	CtlSetBeer       = "setBeer"
	CtlSetFridge     = "setFridge"
	CtlSetOff        = "setOff"
	CtlLCD           = "lcd"
	CtlRaw           = "raw"
)

// ControlMessage is one "type=body" message.
type ControlMessage struct {
	Type string
	Body string
}

func (m ControlMessage) String() string {
	if m.Body == "" {
		return m.Type
	}
	return m.Type + "=" + m.Body
}

// ParseControlMessage splits on the first '=' only, so the body may itself
// contain '='. A message without '=' is all type.
func ParseControlMessage(data []byte) ControlMessage {
	s := strings.TrimRight(string(data), "\r\n")
	typ, body, _ := strings.Cut(s, "=")
	return ControlMessage{Type: typ, Body: body}
}

// ControlHandler receives parsed control messages.
type ControlHandler func(ControlMessage)

// ControlListener serves a worker's local control socket.
type ControlListener struct {
	path   string
	ln     net.Listener
	logger Logger

	closeOnce sync.Once
}

// ListenControl binds a Unix socket at path, replacing a stale one left
// by a previous worker.
func ListenControl(path string) (*ControlListener, error) {
	if err := os.MkdirAll(filepath.Dir(path), socketDirPermissions); err != nil {
		return nil, fmt.Errorf("creating socket directory: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("removing stale socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", path, err)
	}
	return &ControlListener{path: path, ln: ln, logger: noopLogger{}}, nil
}

// SetLogger sets the logger for accept errors.
func (l *ControlListener) SetLogger(logger Logger) {
	if logger != nil {
		l.logger = logger
	}
}

// Path returns the socket path.
func (l *ControlListener) Path() string { return l.path }

// Serve accepts connections until ctx is done or the listener is closed.
// Each connection is read once on its own goroutine, up to
// ControlBufferSize bytes, and handed to handle. No reply is written.
// handle may be called concurrently, and messages from separate
// connections carry no ordering. Serve returns once in-flight reads end.
func (l *ControlListener) Serve(ctx context.Context, handle ControlHandler) error {
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.logger.Warn("control socket accept failed", "path", l.path, "error", err)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			l.serveConn(ctx, conn, handle)
		}()
	}
}

// serveConn reads one message from conn. A silent peer holds only its own
// connection until the read deadline or cancellation.
func (l *ControlListener) serveConn(ctx context.Context, conn net.Conn, handle ControlHandler) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	msg, ok := readControl(conn)
	conn.Close() //nolint:errcheck // one message per connection
	if !ok || ctx.Err() != nil {
		return
	}
	handle(msg)
}

func readControl(conn net.Conn) (ControlMessage, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(controlReadTimeout)) //nolint:errcheck // best effort
	buf := make([]byte, ControlBufferSize)
	n, _ := conn.Read(buf) //nolint:errcheck // a short read with EOF is still a message
	if n == 0 {
		return ControlMessage{}, false
	}
	return ParseControlMessage(buf[:n]), true
}

// Close stops the listener and removes the socket file.
func (l *ControlListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.ln.Close()
		_ = os.Remove(l.path) //nolint:errcheck // already gone is fine
	})
	return err
}

// SendControl delivers one message to the socket at path.
func SendControl(ctx context.Context, path string, msg ControlMessage) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", path, err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(msg.String())); err != nil {
		return fmt.Errorf("writing control message: %w", err)
	}
	return nil
}
