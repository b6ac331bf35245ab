package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/brewlink/internal/registry"
	"github.com/nerrad567/brewlink/internal/telemetry"
	"github.com/nerrad567/brewlink/internal/transport"
)

type fakeRegistry struct {
	mu      sync.Mutex
	active  []string
	devices map[string]*registry.DeviceConfig
	listErr error
}

func newFakeRegistry(ids ...string) *fakeRegistry {
	r := &fakeRegistry{devices: map[string]*registry.DeviceConfig{}}
	for _, id := range ids {
		r.add(id)
	}
	return r
}

func (r *fakeRegistry) add(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = append(r.active, id)
	r.devices[id] = &registry.DeviceConfig{
		ID: id, Active: true, Transport: transport.KindUnix, SocketPath: "/tmp/" + id, Revision: 1,
	}
}

func (r *fakeRegistry) setActive(ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = ids
}

func (r *fakeRegistry) bump(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[id].Revision++
}

func (r *fakeRegistry) ListActiveDeviceIDs(context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	return append([]string(nil), r.active...), nil
}

func (r *fakeRegistry) LoadDeviceConfig(_ context.Context, id string) (*registry.DeviceConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dev, ok := r.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", registry.ErrNotFound, id)
	}
	cp := *dev
	return &cp, nil
}

type fakeHandle struct {
	id       string
	revision int64
	alive    atomic.Bool
	stops    atomic.Int32
	stopErr  error

	// stuck keeps the handle alive through Stop.
	stuck bool
}

func (h *fakeHandle) DeviceID() string { return h.id }
func (h *fakeHandle) Revision() int64  { return h.revision }
func (h *fakeHandle) IsAlive() bool    { return h.alive.Load() }

func (h *fakeHandle) Stop(time.Duration) error {
	h.stops.Add(1)
	if !h.stuck {
		h.alive.Store(false)
	}
	return h.stopErr
}

func (h *fakeHandle) Join(context.Context) error { return nil }

type fakeSpawner struct {
	mu      sync.Mutex
	spawned []*fakeHandle
	fail    map[string]bool
}

func (s *fakeSpawner) Spawn(_ context.Context, dev *registry.DeviceConfig) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[dev.ID] {
		return nil, errors.New("serial port busy")
	}
	h := &fakeHandle{id: dev.ID, revision: dev.Revision}
	h.alive.Store(true)
	s.spawned = append(s.spawned, h)
	return h, nil
}

func (s *fakeSpawner) count(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, h := range s.spawned {
		if h.id == id {
			n++
		}
	}
	return n
}

func (s *fakeSpawner) latest(id string) *fakeHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.spawned) - 1; i >= 0; i-- {
		if s.spawned[i].id == id {
			return s.spawned[i]
		}
	}
	return nil
}

type fakeReporter struct {
	mu      sync.Mutex
	sources []telemetry.Source
}

func (r *fakeReporter) ReportError(_ context.Context, src telemetry.Source, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append(r.sources, src)
}

func (r *fakeReporter) seen() []telemetry.Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]telemetry.Source(nil), r.sources...)
}

type harness struct {
	sup      *Supervisor
	reg      *fakeRegistry
	spawner  *fakeSpawner
	reporter *fakeReporter
	metrics  *Metrics
	settles  atomic.Int32
}

func newHarness(ids ...string) *harness {
	h := &harness{
		reg:      newFakeRegistry(ids...),
		spawner:  &fakeSpawner{fail: map[string]bool{}},
		reporter: &fakeReporter{},
		metrics:  NewMetrics(prometheus.NewRegistry()),
	}
	h.sup = New(h.reg, h.spawner, Options{
		PollInterval:   time.Millisecond,
		SettleInterval: time.Second,
		StopTimeout:    time.Second,
		Reporter:       h.reporter,
		Metrics:        h.metrics,
	})
	h.sup.sleep = func(ctx context.Context, d time.Duration) error {
		if d == time.Second {
			h.settles.Add(1)
		}
		return ctx.Err()
	}
	return h
}

func TestRunOnce_ConvergesToActiveSet(t *testing.T) {
	h := newHarness("a", "b", "c")

	require.NoError(t, h.sup.RunOnce(context.Background()))
	assert.Equal(t, []string{"a", "b", "c"}, h.sup.Tracked())
	assert.Equal(t, int32(2), h.settles.Load(), "settle between spawns, not before the first")
	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.Spawns))
	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.Tracked))

	// A stable list spawns nothing more
	require.NoError(t, h.sup.RunOnce(context.Background()))
	assert.Equal(t, 1, h.spawner.count("b"))
	assert.Equal(t, int32(2), h.settles.Load())
}

func TestRunOnce_DeadWorkerRespawnedNextCycle(t *testing.T) {
	h := newHarness("a", "b")
	ctx := context.Background()
	require.NoError(t, h.sup.RunOnce(ctx))

	h.spawner.latest("b").alive.Store(false)

	require.NoError(t, h.sup.RunOnce(ctx))
	assert.Equal(t, []string{"a"}, h.sup.Tracked())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Reaped))

	require.NoError(t, h.sup.RunOnce(ctx))
	assert.Equal(t, []string{"a", "b"}, h.sup.Tracked())
	assert.Equal(t, 2, h.spawner.count("b"))
}

func TestRunOnce_RemovedDeviceNeverRestarted(t *testing.T) {
	h := newHarness("a", "b")
	ctx := context.Background()
	require.NoError(t, h.sup.RunOnce(ctx))
	b := h.spawner.latest("b")

	h.reg.setActive("a")
	for range 3 {
		require.NoError(t, h.sup.RunOnce(ctx))
	}

	assert.Equal(t, []string{"a"}, h.sup.Tracked())
	assert.Equal(t, int32(1), b.stops.Load())
	assert.Equal(t, 1, h.spawner.count("b"))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Stopped.WithLabelValues(reasonInactive)))
}

func TestRunOnce_DeadAndRemovedIsDropped(t *testing.T) {
	h := newHarness("a", "b")
	ctx := context.Background()
	require.NoError(t, h.sup.RunOnce(ctx))

	h.spawner.latest("b").alive.Store(false)
	h.reg.setActive("a")
	require.NoError(t, h.sup.RunOnce(ctx))
	require.NoError(t, h.sup.RunOnce(ctx))

	assert.Equal(t, []string{"a"}, h.sup.Tracked())
	assert.Equal(t, 1, h.spawner.count("b"))
}

func TestRunOnce_RevisionChangeRestartsWorker(t *testing.T) {
	h := newHarness("a")
	ctx := context.Background()
	require.NoError(t, h.sup.RunOnce(ctx))
	first := h.spawner.latest("a")

	h.reg.bump("a")
	require.NoError(t, h.sup.RunOnce(ctx))
	assert.Empty(t, h.sup.Tracked())
	assert.Equal(t, int32(1), first.stops.Load())

	require.NoError(t, h.sup.RunOnce(ctx))
	assert.Equal(t, []string{"a"}, h.sup.Tracked())
	assert.Equal(t, int64(2), h.spawner.latest("a").revision)
}

func TestRunOnce_StuckWorkerBlocksRespawn(t *testing.T) {
	h := newHarness("a")
	ctx := context.Background()
	require.NoError(t, h.sup.RunOnce(ctx))
	first := h.spawner.latest("a")
	first.stuck = true
	first.stopErr = ErrStopTimeout

	h.reg.bump("a")
	for range 3 {
		require.NoError(t, h.sup.RunOnce(ctx))
		assert.Equal(t, []string{"a"}, h.sup.Tracked())
		assert.Equal(t, 1, h.spawner.count("a"))
	}
	assert.Equal(t, int32(1), first.stops.Load(), "a draining worker is not stopped again")

	// Once it exits it is reaped, then respawned on the following cycle
	first.alive.Store(false)
	require.NoError(t, h.sup.RunOnce(ctx))
	assert.Empty(t, h.sup.Tracked())
	require.NoError(t, h.sup.RunOnce(ctx))
	assert.Equal(t, []string{"a"}, h.sup.Tracked())
	assert.Equal(t, 2, h.spawner.count("a"))
	assert.Equal(t, int64(2), h.spawner.latest("a").revision)
}

func TestRunOnce_StuckInactiveWorkerIsHeld(t *testing.T) {
	h := newHarness("a")
	ctx := context.Background()
	require.NoError(t, h.sup.RunOnce(ctx))
	first := h.spawner.latest("a")
	first.stuck = true
	first.stopErr = ErrStopTimeout

	h.reg.setActive()
	require.NoError(t, h.sup.RunOnce(ctx))
	assert.Equal(t, []string{"a"}, h.sup.Tracked())

	// Reactivated while still draining: no second worker
	h.reg.setActive("a")
	require.NoError(t, h.sup.RunOnce(ctx))
	assert.Equal(t, 1, h.spawner.count("a"))
	assert.Equal(t, int32(1), first.stops.Load())
}

// stubbornRunner ignores both Stop and cancellation until released.
type stubbornRunner struct {
	live    *atomic.Int32
	release chan struct{}
}

func (r stubbornRunner) Run(context.Context) error {
	r.live.Add(1)
	defer r.live.Add(-1)
	<-r.release
	return nil
}

func (stubbornRunner) Stop() {}

func TestRunOnce_GoroutineWorkerNeverDuplicated(t *testing.T) {
	var live atomic.Int32
	release := make(chan struct{})
	defer close(release)

	reg := newFakeRegistry("a")
	sp := &GoroutineSpawner{
		New: func(context.Context, *registry.DeviceConfig) (Runner, error) {
			return stubbornRunner{live: &live, release: release}, nil
		},
	}
	sup := New(reg, sp, Options{PollInterval: time.Millisecond, StopTimeout: 20 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, sup.RunOnce(ctx))
	require.Eventually(t, func() bool { return live.Load() == 1 }, time.Second, time.Millisecond)

	reg.bump("a")
	require.NoError(t, sup.RunOnce(ctx))
	require.NoError(t, sup.RunOnce(ctx))

	assert.Equal(t, []string{"a"}, sup.Tracked())
	assert.Equal(t, int32(1), live.Load(), "one live worker per device")
}

func TestRunOnce_SpawnFailureIsIsolated(t *testing.T) {
	h := newHarness("a", "b", "c")
	h.spawner.fail["b"] = true

	require.NoError(t, h.sup.RunOnce(context.Background()))
	assert.Equal(t, []string{"a", "c"}, h.sup.Tracked())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SpawnFailures))
	assert.Equal(t, []telemetry.Source{{DeviceID: "b", Op: "spawn"}}, h.reporter.seen())

	// Retried on the next cycle
	delete(h.spawner.fail, "b")
	require.NoError(t, h.sup.RunOnce(context.Background()))
	assert.Equal(t, []string{"a", "b", "c"}, h.sup.Tracked())
}

func TestRunOnce_MissingConfigIsReported(t *testing.T) {
	h := newHarness("a")
	h.reg.setActive("a", "ghost")

	require.NoError(t, h.sup.RunOnce(context.Background()))
	assert.Equal(t, []string{"a"}, h.sup.Tracked())
	assert.Equal(t, []telemetry.Source{{DeviceID: "ghost", Op: "load config"}}, h.reporter.seen())
}

func TestRunOnce_ListErrorKeepsWorkers(t *testing.T) {
	h := newHarness("a")
	ctx := context.Background()
	require.NoError(t, h.sup.RunOnce(ctx))

	h.reg.listErr = errors.New("database is locked")
	err := h.sup.RunOnce(ctx)
	require.Error(t, err)
	assert.Equal(t, []string{"a"}, h.sup.Tracked())
	assert.Equal(t, []telemetry.Source{{Op: "list devices"}}, h.reporter.seen())
}

func TestShutdown_StopsAll(t *testing.T) {
	h := newHarness("a", "b")
	require.NoError(t, h.sup.RunOnce(context.Background()))

	h.spawner.latest("a").stopErr = ErrStopTimeout
	h.spawner.latest("a").stuck = true
	h.sup.Shutdown()

	assert.Empty(t, h.sup.Tracked())
	assert.Equal(t, int32(1), h.spawner.latest("a").stops.Load())
	assert.Equal(t, int32(1), h.spawner.latest("b").stops.Load())
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.Tracked))
	assert.Contains(t, h.reporter.seen(), telemetry.Source{DeviceID: "a", Op: "stop"})
}

func TestRun_StopsWorkersOnCancel(t *testing.T) {
	h := newHarness("a")
	h.sup.sleep = sleepCtx

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.sup.Run(ctx) }()

	require.Eventually(t, func() bool { return len(h.sup.Tracked()) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Empty(t, h.sup.Tracked())
	assert.False(t, h.spawner.latest("a").IsAlive())
}

func TestNew_Defaults(t *testing.T) {
	s := New(newFakeRegistry(), &fakeSpawner{}, Options{SettleInterval: -1})
	assert.Equal(t, 5*time.Second, s.opts.PollInterval)
	assert.Equal(t, time.Duration(0), s.opts.SettleInterval)
	assert.Equal(t, 10*time.Second, s.opts.StopTimeout)
	assert.NotNil(t, s.opts.Reporter)
	assert.NotNil(t, s.opts.Metrics)
}
