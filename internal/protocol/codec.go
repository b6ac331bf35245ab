package protocol

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrTimeout means an expected reply did not arrive in time.
var ErrTimeout = errors.New("protocol: reply timeout")

const (
	lineTerminator = '\n'
	commandSuffix  = "\r\n"

	// maxBacklog bounds lines held back while waiting for a reply.
	maxBacklog = 64
)

// LineIO is the part of a transport the codec needs.
type LineIO interface {
	ReadLine(ctx context.Context, term byte) ([]byte, error)
	Write(ctx context.Context, p []byte) (int, error)
}

// Codec reads and writes controller messages over a LineIO. It is not
// safe for concurrent use; one worker goroutine owns it.
type Codec struct {
	io LineIO

	// backlog holds lines read while waiting for a specific reply.
	backlog []Message
}

// NewCodec returns a codec over io.
func NewCodec(io LineIO) *Codec {
	return &Codec{io: io}
}

// Send writes cmd followed by "\r\n".
func (c *Codec) Send(ctx context.Context, cmd Command) error {
	if _, err := c.io.Write(ctx, []byte(string(cmd)+commandSuffix)); err != nil {
		return fmt.Errorf("sending %q: %w", truncate(string(cmd)), err)
	}
	return nil
}

// Next returns the next message, held-back lines first. It blocks until a
// line arrives or ctx is done.
func (c *Codec) Next(ctx context.Context) (Message, error) {
	if len(c.backlog) > 0 {
		m := c.backlog[0]
		c.backlog = c.backlog[1:]
		return m, nil
	}
	line, err := c.io.ReadLine(ctx, lineTerminator)
	if err != nil {
		return Message{}, err
	}
	return ParseLine(string(line)), nil
}

// Poll is Next bounded by timeout. ok is false when nothing arrived.
func (c *Codec) Poll(ctx context.Context, timeout time.Duration) (Message, bool, error) {
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	m, err := c.Next(pollCtx)
	switch {
	case err == nil:
		return m, true, nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return Message{}, false, nil
	default:
		return Message{}, false, err
	}
}

// RequestVersion sends the version command and waits up to timeout for a
// reply ending in '}', or for a legacy bare version. Lines that are not a
// version reply are kept for Next. When no reply arrives it returns
// EmptyVersion and an error wrapping ErrTimeout; transport errors are
// returned as they are.
func (c *Codec) RequestVersion(ctx context.Context, timeout time.Duration) (ControllerVersion, error) {
	if err := c.Send(ctx, CmdVersion); err != nil {
		return EmptyVersion(), err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		line, err := c.io.ReadLine(waitCtx, lineTerminator)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return EmptyVersion(), fmt.Errorf("%w: no version reply within %s", ErrTimeout, timeout)
			}
			return EmptyVersion(), err
		}

		text := strings.TrimRight(string(line), "\r\n")
		if v, ok := versionReply(text); ok {
			return v, nil
		}
		c.hold(ParseLine(text))
	}
}

func versionReply(text string) (ControllerVersion, bool) {
	switch {
	case strings.HasPrefix(text, "N:"), strings.HasSuffix(text, "}") && strings.Contains(text, `"v"`):
		v := ParseVersion(text)
		return v, v.Known()
	case !strings.ContainsAny(text, ":{} "):
		v := ParseVersion(text)
		return v, v.Known()
	default:
		return ControllerVersion{}, false
	}
}

func (c *Codec) hold(m Message) {
	if len(c.backlog) >= maxBacklog {
		c.backlog = c.backlog[1:]
	}
	c.backlog = append(c.backlog, m)
}

func truncate(s string) string {
	const limit = 32
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
