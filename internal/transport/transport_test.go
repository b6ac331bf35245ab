package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn serves scripted reads. An empty script reads as a timeout.
type fakeConn struct {
	mu       sync.Mutex
	reads    [][]byte
	readErr  error
	writeErr error
	written  []byte
	closed   bool
}

func (c *fakeConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, io.ErrClosedPipe
	}
	if c.readErr != nil {
		return 0, c.readErr
	}
	if len(c.reads) == 0 {
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	n := copy(p, c.reads[0])
	c.reads[0] = c.reads[0][n:]
	if len(c.reads[0]) == 0 {
		c.reads = c.reads[1:]
	}
	return n, nil
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.written = append(c.written, p...)
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// fakeDialer hands out conns from next, or fails with dialErr.
type fakeDialer struct {
	mu      sync.Mutex
	next    func() *fakeConn
	dialErr error
	dials   int
}

func (d *fakeDialer) Dial(context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return d.next(), nil
}

func (d *fakeDialer) String() string { return "fake://test" }

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func fastOptions(limit int) Options {
	return Options{RetryLimit: limit, RetryDelay: time.Millisecond}
}

func TestOpen_ConnectError(t *testing.T) {
	d := &fakeDialer{dialErr: errors.New("no such device")}
	tr := New(d, fastOptions(3))

	err := tr.Open(context.Background())
	require.ErrorIs(t, err, ErrConnect)
	assert.Equal(t, 1, d.Dials(), "Open must not retry")
	assert.False(t, tr.Alive())
	assert.False(t, tr.Lost())
}

func TestOpen_Idempotent(t *testing.T) {
	d := &fakeDialer{next: func() *fakeConn { return &fakeConn{} }}
	tr := New(d, fastOptions(3))

	require.NoError(t, tr.Open(context.Background()))
	require.NoError(t, tr.Open(context.Background()))
	assert.Equal(t, 1, d.Dials())
	assert.True(t, tr.Alive())
}

func TestRead_TimeoutIsNoData(t *testing.T) {
	d := &fakeDialer{next: func() *fakeConn { return &fakeConn{} }}
	tr := New(d, fastOptions(3))
	require.NoError(t, tr.Open(context.Background()))

	data, err := tr.Read(context.Background(), 16)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestReadLine_AssemblesAcrossChunks(t *testing.T) {
	conn := &fakeConn{reads: [][]byte{[]byte("T:{\"Be"), []byte("erTemp\":20}\r\nN:")}}
	d := &fakeDialer{next: func() *fakeConn { return conn }}
	tr := New(d, fastOptions(3))
	require.NoError(t, tr.Open(context.Background()))

	line, err := tr.ReadLine(context.Background(), '\n')
	require.NoError(t, err)
	assert.Equal(t, "T:{\"BeerTemp\":20}\r\n", string(line))
}

func TestReadLine_KeepsPartialOnDeadline(t *testing.T) {
	conn := &fakeConn{reads: [][]byte{[]byte("hel")}}
	d := &fakeDialer{next: func() *fakeConn { return conn }}
	tr := New(d, fastOptions(3))
	require.NoError(t, tr.Open(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := tr.ReadLine(ctx, '\n')
	require.ErrorIs(t, err, context.DeadlineExceeded)

	conn.mu.Lock()
	conn.reads = append(conn.reads, []byte("lo\n"))
	conn.mu.Unlock()

	line, err := tr.ReadLine(context.Background(), '\n')
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(line))
}

func TestWrite_ReconnectsAndRetriesSameOperation(t *testing.T) {
	first := &fakeConn{writeErr: errors.New("broken pipe")}
	second := &fakeConn{}
	conns := []*fakeConn{first, second}
	d := &fakeDialer{next: func() *fakeConn {
		c := conns[0]
		conns = conns[1:]
		return c
	}}

	reconnects := 0
	opts := fastOptions(5)
	opts.OnReconnect = func() { reconnects++ }
	tr := New(d, opts)
	require.NoError(t, tr.Open(context.Background()))

	n, err := tr.Write(context.Background(), []byte("t\r\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "t\r\n", string(second.written))
	assert.True(t, first.closed, "broken handle closed")
	assert.Equal(t, 1, reconnects)
	assert.Equal(t, 2, d.Dials())
}

func TestWrite_RetryCeiling(t *testing.T) {
	const limit = 4
	var conns []*fakeConn
	d := &fakeDialer{next: func() *fakeConn {
		c := &fakeConn{writeErr: errors.New("EIO")}
		conns = append(conns, c)
		return c
	}}
	tr := New(d, fastOptions(limit))
	require.NoError(t, tr.Open(context.Background()))

	_, err := tr.Write(context.Background(), []byte("x"))
	require.ErrorIs(t, err, ErrConnectionLost)
	require.ErrorIs(t, err, ErrWrite)
	assert.True(t, tr.Lost())
	assert.False(t, tr.Alive())
	assert.Len(t, conns, limit, "exactly %d attempts", limit)

	// Terminal: no further attempts.
	_, err = tr.Write(context.Background(), []byte("x"))
	require.ErrorIs(t, err, ErrConnectionLost)
	_, err = tr.Read(context.Background(), 1)
	require.ErrorIs(t, err, ErrConnectionLost)
	require.ErrorIs(t, tr.Open(context.Background()), ErrConnectionLost)
	assert.Len(t, conns, limit)
}

func TestRead_DialFailuresCountTowardCeiling(t *testing.T) {
	d := &fakeDialer{dialErr: errors.New("refused")}
	tr := New(d, fastOptions(3))

	_, err := tr.Read(context.Background(), 1)
	require.ErrorIs(t, err, ErrConnectionLost)
	assert.Equal(t, 3, d.Dials())
}

func TestSuccessResetsRetryCount(t *testing.T) {
	d := &fakeDialer{next: func() *fakeConn {
		return &fakeConn{reads: [][]byte{[]byte("ok")}}
	}}
	tr := New(d, fastOptions(2))
	require.NoError(t, tr.Open(context.Background()))

	// Each round breaks the handle once; with a ceiling of 2 the second
	// round would be fatal if the first failure were still counted.
	for i := 0; i < 5; i++ {
		tr.connMu.Lock()
		tr.conn = &fakeConn{readErr: io.EOF}
		tr.connMu.Unlock()

		data, err := tr.Read(context.Background(), 2)
		require.NoError(t, err, "read %d", i)
		assert.Equal(t, "ok", string(data))
	}
	assert.False(t, tr.Lost())
}

func TestClose_IdempotentAndTerminal(t *testing.T) {
	conn := &fakeConn{}
	d := &fakeDialer{next: func() *fakeConn { return conn }}
	tr := New(d, fastOptions(3))
	require.NoError(t, tr.Open(context.Background()))

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.True(t, conn.closed)

	_, err := tr.Write(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, tr.Open(context.Background()), ErrClosed)
}

func TestClose_DuringRetry(t *testing.T) {
	d := &fakeDialer{dialErr: errors.New("refused")}
	tr := New(d, Options{RetryLimit: 1000, RetryDelay: 10 * time.Millisecond})

	errCh := make(chan error, 1)
	go func() {
		_, err := tr.Read(context.Background(), 1)
		errCh <- err
	}()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, tr.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Read did not return after Close")
	}
}

func TestRead_ContextCancelledDuringRetry(t *testing.T) {
	d := &fakeDialer{dialErr: errors.New("refused")}
	tr := New(d, Options{RetryLimit: 1000, RetryDelay: 50 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := tr.Read(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, tr.Lost())
}

func TestNew_Defaults(t *testing.T) {
	tr := New(&fakeDialer{}, Options{})
	assert.Equal(t, DefaultRetryLimit, tr.opts.RetryLimit)
	assert.Equal(t, "fake://test", tr.String())
}
