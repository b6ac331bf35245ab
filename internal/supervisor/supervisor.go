package supervisor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/brewlink/internal/registry"
	"github.com/nerrad567/brewlink/internal/telemetry"
)

// Stop reasons recorded in metrics.
const (
	reasonInactive = "inactive"
	reasonRevision = "revision"
	reasonShutdown = "shutdown"
)

// Logger is the logging interface used by Supervisor.
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

// Options tunes the reconciliation loop.
type Options struct {
	PollInterval   time.Duration
	SettleInterval time.Duration
	StopTimeout    time.Duration

	Reporter telemetry.Reporter
	Metrics  *Metrics
	Logger   Logger
}

// Supervisor reconciles workers against the registry's active devices.
type Supervisor struct {
	registry registry.Registry
	spawner  Spawner
	opts     Options
	logger   Logger

	// sleep waits for d or ctx; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	// mu guards workers against Tracked readers. Only the loop writes.
	mu      sync.RWMutex
	workers map[string]Handle

	// draining holds tracked workers that outlived a stop. They block a
	// respawn until reap sees them exit.
	draining map[string]bool
}

// New returns a supervisor. Zero durations fall back to 5s poll, 5s
// settle and 10s stop timeout.
func New(reg registry.Registry, spawner Spawner, opts Options) *Supervisor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.SettleInterval < 0 {
		opts.SettleInterval = 0
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 10 * time.Second
	}
	if opts.Reporter == nil {
		opts.Reporter = telemetry.Nop{}
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Supervisor{
		registry: reg,
		spawner:  spawner,
		opts:     opts,
		logger:   logger,
		sleep:    sleepCtx,
		workers:  make(map[string]Handle),
		draining: make(map[string]bool),
	}
}

// Run reconciles every poll interval until ctx is done, then stops all
// workers.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("supervisor started",
		"poll_interval", s.opts.PollInterval,
		"settle_interval", s.opts.SettleInterval,
	)
	defer s.Shutdown()

	for {
		if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("reconciliation cycle failed", "error", err)
		}
		if err := s.sleep(ctx, s.opts.PollInterval); err != nil {
			s.logger.Info("supervisor stopping")
			return nil
		}
	}
}

// RunOnce performs one reconciliation cycle. It returns an error only
// when the active device list could not be read; failures for single
// devices are reported and skipped.
func (s *Supervisor) RunOnce(ctx context.Context) error {
	reaped := s.reap()

	ids, err := s.registry.ListActiveDeviceIDs(ctx)
	if err != nil {
		err = fmt.Errorf("listing active devices: %w", err)
		s.report(ctx, "", "list devices", err)
		return err
	}
	active := make(map[string]bool, len(ids))
	for _, id := range ids {
		active[id] = true
	}

	for _, id := range s.trackedIDs() {
		if !active[id] && !s.isDraining(id) {
			s.stop(id, reasonInactive)
		}
	}

	spawned := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return nil
		}
		if reaped[id] || s.isDraining(id) {
			continue
		}

		dev, err := s.registry.LoadDeviceConfig(ctx, id)
		if err != nil {
			s.report(ctx, id, "load config", err)
			if errors.Is(err, registry.ErrNotFound) {
				s.stop(id, reasonInactive)
			}
			continue
		}

		if h, ok := s.handle(id); ok {
			if h.Revision() != dev.Revision {
				s.logger.Info("device config changed, restarting worker",
					"device_id", id, "from", h.Revision(), "to", dev.Revision)
				s.stop(id, reasonRevision)
			}
			continue
		}

		if spawned > 0 && s.opts.SettleInterval > 0 {
			if err := s.sleep(ctx, s.opts.SettleInterval); err != nil {
				return nil
			}
		}
		spawned++
		s.spawn(ctx, dev)
	}

	s.opts.Metrics.Tracked.Set(float64(len(s.trackedIDs())))
	return nil
}

// Tracked returns the IDs with a tracked worker, sorted.
func (s *Supervisor) Tracked() []string {
	return s.trackedIDs()
}

// Shutdown stops every tracked worker in parallel, each bounded by the
// stop timeout, waits for them, and then untracks everything.
func (s *Supervisor) Shutdown() {
	ids := s.trackedIDs()
	if len(ids) == 0 {
		return
	}
	s.logger.Info("stopping workers", "count", len(ids))

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			s.stop(id, reasonShutdown)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // stop never returns an error

	// Nothing reaps after shutdown, so stuck workers are abandoned here
	s.mu.Lock()
	for id := range s.workers {
		s.logger.Error("abandoning worker that did not stop", "device_id", id)
	}
	clear(s.workers)
	clear(s.draining)
	s.mu.Unlock()
	s.opts.Metrics.Tracked.Set(0)
}

// reap drops workers that have exited and returns their IDs.
func (s *Supervisor) reap() map[string]bool {
	reaped := map[string]bool{}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, h := range s.workers {
		if h.IsAlive() {
			continue
		}
		delete(s.workers, id)
		delete(s.draining, id)
		reaped[id] = true
		s.opts.Metrics.Reaped.Inc()
		s.logger.Warn("worker exited", "device_id", id)
	}
	return reaped
}

func (s *Supervisor) spawn(ctx context.Context, dev *registry.DeviceConfig) {
	h, err := s.spawner.Spawn(ctx, dev)
	if err != nil {
		s.opts.Metrics.SpawnFailures.Inc()
		s.logger.Error("failed to start worker", "device_id", dev.ID, "error", err)
		s.report(ctx, dev.ID, "spawn", err)
		return
	}

	s.mu.Lock()
	s.workers[dev.ID] = h
	s.mu.Unlock()

	s.opts.Metrics.Spawns.Inc()
	s.logger.Info("worker started", "device_id", dev.ID, "revision", dev.Revision)
}

// stop stops and untracks id if it is tracked. A worker still alive
// after a failed stop stays tracked as draining.
func (s *Supervisor) stop(id, reason string) {
	h, ok := s.handle(id)
	if !ok {
		return
	}
	if err := h.Stop(s.opts.StopTimeout); err != nil {
		s.logger.Error("worker did not stop cleanly", "device_id", id, "error", err)
		s.report(context.Background(), id, "stop", err)
		if h.IsAlive() {
			s.mu.Lock()
			s.draining[id] = true
			s.mu.Unlock()
			s.logger.Warn("worker still running, holding device until it exits", "device_id", id)
			return
		}
	}

	s.mu.Lock()
	delete(s.workers, id)
	delete(s.draining, id)
	s.mu.Unlock()

	s.opts.Metrics.Stopped.WithLabelValues(reason).Inc()
	s.logger.Info("worker stopped", "device_id", id, "reason", reason)
}

func (s *Supervisor) isDraining(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.draining[id]
}

func (s *Supervisor) handle(id string) (Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.workers[id]
	return h, ok
}

func (s *Supervisor) trackedIDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

func (s *Supervisor) report(ctx context.Context, id, op string, err error) {
	s.opts.Reporter.ReportError(ctx, telemetry.Source{DeviceID: id, Op: op}, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
