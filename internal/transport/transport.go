package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultRetryLimit is the retry ceiling when Options.RetryLimit is zero.
	DefaultRetryLimit = 10

	defaultRetryDelay = time.Second
	maxReadChunk      = 4096
)

// Logger is the logging interface used by Transport.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Transport.
type Options struct {
	// RetryLimit is the number of consecutive failures tolerated.
	RetryLimit int

	// RetryDelay is the pause before reopening a broken medium.
	RetryDelay time.Duration

	// OnReconnect is called after each successful reopen.
	OnReconnect func()

	Logger Logger
}

// Transport is a reconnecting channel over one Dialer. Operations are
// serialised; Close may be called concurrently from any goroutine.
type Transport struct {
	dialer Dialer
	opts   Options
	logger Logger

	// opMu serialises Read, ReadLine, Write and Open.
	opMu    sync.Mutex
	retries int
	partial []byte

	connMu sync.Mutex
	conn   Conn

	lost      atomic.Bool
	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// New returns an unopened Transport.
func New(d Dialer, opts Options) *Transport {
	if opts.RetryLimit <= 0 {
		opts.RetryLimit = DefaultRetryLimit
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Transport{
		dialer: d,
		opts:   opts,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// String names the target.
func (t *Transport) String() string { return t.dialer.String() }

// Open dials the medium once. It does not retry: the caller decides how
// to back off. Opening an open Transport is a no-op.
func (t *Transport) Open(ctx context.Context) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	if err := t.usable(); err != nil {
		return err
	}
	if t.current() != nil {
		return nil
	}
	return t.dial(ctx)
}

// Read returns up to maxBytes. It returns (nil, nil) when the read timeout
// expires with nothing received.
func (t *Transport) Read(ctx context.Context, maxBytes int) ([]byte, error) {
	if maxBytes <= 0 || maxBytes > maxReadChunk {
		maxBytes = maxReadChunk
	}

	t.opMu.Lock()
	defer t.opMu.Unlock()

	buf := make([]byte, maxBytes)
	var n int
	err := t.do(ctx, "read", func(c Conn) error {
		var err error
		n, err = c.Read(buf)
		return err
	})
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	return buf[:n], nil
}

// ReadLine reads single bytes until term is seen and returns the line
// including term. Timeouts between bytes are not errors; ReadLine keeps
// waiting until ctx is done, and returns ctx.Err() then. Bytes received so
// far are kept for the next call, so a line split across calls is not lost.
func (t *Transport) ReadLine(ctx context.Context, term byte) ([]byte, error) {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	one := make([]byte, 1)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var n int
		err := t.do(ctx, "read", func(c Conn) error {
			var err error
			n, err = c.Read(one)
			return err
		})
		if err != nil {
			return nil, err
		}
		if n == 0 {
			continue
		}

		t.partial = append(t.partial, one[0])
		if one[0] == term {
			line := t.partial
			t.partial = nil
			return line, nil
		}
	}
}

// Write writes all of p and returns the byte count.
func (t *Transport) Write(ctx context.Context, p []byte) (int, error) {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	var n int
	err := t.do(ctx, "write", func(c Conn) error {
		var err error
		n, err = c.Write(p)
		if err == nil && n < len(p) {
			err = fmt.Errorf("short write: %d of %d bytes", n, len(p))
		}
		return err
	})
	if err != nil {
		if errors.Is(err, ErrConnectionLost) {
			return n, fmt.Errorf("%w: %w", ErrWrite, err)
		}
		return n, err
	}
	return n, nil
}

// Close closes the medium. It is idempotent and safe to call while
// another goroutine is inside a retry.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		close(t.done)
		err = t.dropConn()
	})
	return err
}

// Alive reports whether the medium is open and the Transport usable.
func (t *Transport) Alive() bool {
	return t.usable() == nil && t.current() != nil
}

// Lost reports whether the retry ceiling was reached.
func (t *Transport) Lost() bool { return t.lost.Load() }

// do runs op against the current connection, reconnecting and retrying on
// failure until it succeeds or the retry ceiling is reached.
func (t *Transport) do(ctx context.Context, what string, op func(Conn) error) error {
	for {
		if err := t.usable(); err != nil {
			return err
		}

		conn := t.current()
		var err error
		if conn == nil {
			if err = t.dial(ctx); err == nil {
				if t.retries > 0 && t.opts.OnReconnect != nil {
					t.opts.OnReconnect()
				}
				continue
			}
		} else if err = op(conn); err == nil {
			t.retries = 0
			return nil
		}

		if t.closed.Load() {
			return ErrClosed
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		t.retries++
		t.dropConn() //nolint:errcheck // the handle is already broken
		t.partial = nil

		if t.retries >= t.opts.RetryLimit {
			t.lost.Store(true)
			t.logger.Error("retry limit reached, giving up",
				"target", t.dialer.String(), "op", what, "retries", t.retries, "error", err)
			return fmt.Errorf("%w: %s %s after %d attempts: %w",
				ErrConnectionLost, what, t.dialer, t.retries, err)
		}

		t.logger.Warn("transport operation failed, reconnecting",
			"target", t.dialer.String(), "op", what, "attempt", t.retries, "error", err)

		if err := t.pause(ctx); err != nil {
			return err
		}
	}
}

func (t *Transport) dial(ctx context.Context) error {
	conn, err := t.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnect, t.dialer, err)
	}

	t.connMu.Lock()
	defer t.connMu.Unlock()
	if t.closed.Load() {
		conn.Close() //nolint:errcheck // closed while dialling
		return ErrClosed
	}
	t.conn = conn
	t.logger.Debug("transport opened", "target", t.dialer.String())
	return nil
}

func (t *Transport) pause(ctx context.Context) error {
	timer := time.NewTimer(t.opts.RetryDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-t.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) usable() error {
	if t.closed.Load() {
		return ErrClosed
	}
	if t.lost.Load() {
		return ErrConnectionLost
	}
	return nil
}

func (t *Transport) current() Conn {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	return t.conn
}

func (t *Transport) dropConn() error {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}
