package worker

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/brewlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/brewlink/internal/transport"
)

// fakeController answers commands the way firmware does.
type fakeController struct {
	mu      sync.Mutex
	out     []byte
	inbuf   []byte
	written []string
	closed  bool

	// version is the reply to "n"; empty means no reply.
	version string

	// failWhenDrained makes reads fail once out is empty.
	failWhenDrained bool
}

func newController(version string) *fakeController {
	return &fakeController{version: version}
}

func (c *fakeController) Read(p []byte) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, net.ErrClosed
	}
	if len(c.out) == 0 {
		fail := c.failWhenDrained
		c.mu.Unlock()
		if fail {
			return 0, errors.New("device unplugged")
		}
		time.Sleep(2 * time.Millisecond)
		return 0, nil
	}
	n := copy(p, c.out)
	c.out = c.out[n:]
	c.mu.Unlock()
	return n, nil
}

func (c *fakeController) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, net.ErrClosed
	}
	c.inbuf = append(c.inbuf, p...)
	for {
		i := strings.Index(string(c.inbuf), "\r\n")
		if i < 0 {
			break
		}
		line := string(c.inbuf[:i])
		c.inbuf = c.inbuf[i+2:]
		c.written = append(c.written, line)
		c.respond(line)
	}
	return len(p), nil
}

func (c *fakeController) respond(cmd string) {
	switch cmd {
	case "n":
		if c.version != "" {
			c.out = append(c.out, "N:"+c.version+"\n"...)
		}
	case "t":
		c.out = append(c.out, `T:{"BeerTemp":20.5,"FridgeTemp":4.1,"State":1}`+"\n"...)
	case "l":
		c.out = append(c.out, `L:["Mode   Beer Const.","Beer  20.5  20.0 C"]`+"\n"...)
	}
}

func (c *fakeController) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeController) push(line string) {
	c.mu.Lock()
	c.out = append(c.out, line+"\n"...)
	c.mu.Unlock()
}

func (c *fakeController) commands() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.written...)
}

func (c *fakeController) sent(cmd string) bool {
	for _, w := range c.commands() {
		if w == cmd {
			return true
		}
	}
	return false
}

func (c *fakeController) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeDialer fails the first failFirst dials, then hands out conns in
// order, repeating the last one.
type fakeDialer struct {
	mu        sync.Mutex
	conns     []*fakeController
	failFirst int
	dials     int
}

func (d *fakeDialer) Dial(context.Context) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dials <= d.failFirst {
		return nil, errors.New("connection refused")
	}
	idx := min(d.dials-d.failFirst-1, len(d.conns)-1)
	return d.conns[idx], nil
}

func (d *fakeDialer) String() string { return "fake://controller" }

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type fakeRecorder struct {
	mu              sync.Mutex
	firmware        string
	settings        map[string]any
	settingsVersion string
	leftovers       map[string]any
}

func (r *fakeRecorder) RecordFirmware(_ context.Context, _ string, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.firmware = version
	return nil
}

func (r *fakeRecorder) RecordSettings(_ context.Context, _ string, settings map[string]any, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = settings
	r.settingsVersion = version
	return nil
}

func (r *fakeRecorder) RecordLeftovers(_ context.Context, _ string, leftovers map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leftovers = leftovers
	return nil
}

func (r *fakeRecorder) snapshot() fakeRecorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fakeRecorder{
		firmware:        r.firmware,
		settings:        r.settings,
		settingsVersion: r.settingsVersion,
		leftovers:       r.leftovers,
	}
}

type fakeSink struct {
	mu          sync.Mutex
	rows        []LogRow
	annotations []string
	err         error
}

func (s *fakeSink) WriteRows(_ context.Context, _ string, rows []LogRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.rows = append(s.rows, rows...)
	return nil
}

func (s *fakeSink) Annotate(_ context.Context, _ string, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.annotations = append(s.annotations, text)
	return s.err
}

func (s *fakeSink) rowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *fakeSink) allRows() []LogRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LogRow(nil), s.rows...)
}

type fakeStatus struct {
	mu     sync.Mutex
	states []State
}

func (s *fakeStatus) PublishStatus(_ context.Context, st Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, st.State)
	return nil
}

func (s *fakeStatus) seen() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]State(nil), s.states...)
}

type fakeSubscriber struct {
	mu           sync.Mutex
	handlers     map[string]mqtt.MessageHandler
	unsubscribed []string
}

func (s *fakeSubscriber) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers == nil {
		s.handlers = map[string]mqtt.MessageHandler{}
	}
	s.handlers[topic] = handler
	return nil
}

func (s *fakeSubscriber) Unsubscribe(topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribed = append(s.unsubscribed, topic)
	return nil
}

func (s *fakeSubscriber) handler(topic string) mqtt.MessageHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handlers[topic]
}
