package supervisor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/nerrad567/brewlink/internal/process"
	"github.com/nerrad567/brewlink/internal/registry"
	"github.com/nerrad567/brewlink/internal/telemetry"
)

// ProcessSpawner runs each worker as a child process:
//
//	<Binary> <Args...> worker --device <id>
type ProcessSpawner struct {
	Binary string

	// Args come before the worker subcommand, e.g. --config.
	Args []string

	// Output receives each line the child writes. Nil logs lines at
	// debug level.
	Output func(deviceID, stream, line string)

	Logger Logger
}

// Spawn starts the child.
func (p *ProcessSpawner) Spawn(_ context.Context, dev *registry.DeviceConfig) (Handle, error) {
	logger := p.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	args := append(append([]string(nil), p.Args...), "worker", "--device", dev.ID)
	output := p.Output
	if output == nil {
		output = func(id, stream, line string) {
			logger.Debug("worker output", "device_id", id, "stream", stream, "line", line)
		}
	}

	h, err := process.StartWithLogger(process.Config{
		Name:   "worker " + dev.ID,
		Binary: p.Binary,
		Args:   args,
		OnOutput: func(stream, line string) {
			output(dev.ID, stream, line)
		},
	}, logger)
	if err != nil {
		return nil, err
	}
	return &processHandle{Handle: h, id: dev.ID, revision: dev.Revision}, nil
}

type processHandle struct {
	*process.Handle
	id       string
	revision int64
}

func (h *processHandle) DeviceID() string { return h.id }
func (h *processHandle) Revision() int64  { return h.revision }

// Runner is an in-process worker.
type Runner interface {
	Run(ctx context.Context) error
	Stop()
}

// GoroutineSpawner runs each worker on a goroutine in this process.
type GoroutineSpawner struct {
	// New builds the runner for a device.
	New func(ctx context.Context, dev *registry.DeviceConfig) (Runner, error)

	Reporter telemetry.Reporter
	Logger   Logger
}

// Spawn builds the runner and starts it. A panic in the runner ends that
// worker only and is reported.
func (g *GoroutineSpawner) Spawn(ctx context.Context, dev *registry.DeviceConfig) (Handle, error) {
	r, err := g.New(ctx, dev)
	if err != nil {
		return nil, err
	}
	reporter := g.Reporter
	if reporter == nil {
		reporter = telemetry.Nop{}
	}
	logger := g.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	// Workers outlive the reconcile cycle that started them
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &goroutineHandle{
		id:       dev.ID,
		revision: dev.Revision,
		runner:   r,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go func() {
		defer close(h.done)
		defer cancel()
		defer func() {
			if p := recover(); p != nil {
				err := fmt.Errorf("worker panic: %v", p)
				logger.Error("worker panicked", "device_id", dev.ID, "panic", p, "stack", string(debug.Stack()))
				reporter.ReportError(context.Background(), telemetry.Source{DeviceID: dev.ID, Op: "run"}, err)
				h.setErr(err)
			}
		}()
		h.setErr(r.Run(runCtx))
	}()
	return h, nil
}

type goroutineHandle struct {
	id       string
	revision int64
	runner   Runner
	cancel   context.CancelFunc
	done     chan struct{}

	mu  sync.Mutex
	err error
}

func (h *goroutineHandle) DeviceID() string { return h.id }
func (h *goroutineHandle) Revision() int64  { return h.revision }

func (h *goroutineHandle) IsAlive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Stop asks the runner to stop, then cancels its context if it is still
// running halfway through timeout. A goroutine cannot be killed, so
// ErrStopTimeout is returned if it outlives the timeout.
func (h *goroutineHandle) Stop(timeout time.Duration) error {
	h.runner.Stop()

	grace := time.NewTimer(timeout / 2)
	defer grace.Stop()
	select {
	case <-h.done:
		return nil
	case <-grace.C:
		h.cancel()
	}

	rest := time.NewTimer(timeout - timeout/2)
	defer rest.Stop()
	select {
	case <-h.done:
		return nil
	case <-rest.C:
		return fmt.Errorf("%w: %s after %s", ErrStopTimeout, h.id, timeout)
	}
}

func (h *goroutineHandle) Join(ctx context.Context) error {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *goroutineHandle) setErr(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
}
