package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	psprocess "github.com/shirou/gopsutil/v3/process"
)

// Status represents the current state of a child.
type Status string

const (
	StatusRunning Status = "running"
	StatusExited  Status = "exited"
)

// maxLineSize bounds a single captured output line.
const maxLineSize = 64 * 1024

// ErrNotRunning is returned by Usage once the child has exited.
var ErrNotRunning = errors.New("process: not running")

// Config describes the child to start.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the path to the executable.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// Env are additional environment variables (key=value format) on top
	// of the parent's environment.
	Env []string

	// WorkDir is the working directory. Empty inherits the parent's.
	WorkDir string

	// OnOutput receives each stdout/stderr line. It is called from capture
	// goroutines and must not block for long.
	OnOutput func(stream, line string)

	// OnExit is called once after the child has been reaped.
	OnExit func(err error)
}

// Logger defines the logging interface for handles.
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

// Handle is a started child process.
type Handle struct {
	config Config
	logger Logger
	cmd    *exec.Cmd

	startTime time.Time
	done      chan struct{}

	mu      sync.RWMutex
	exitErr error
	endTime time.Time
}

// Start launches the child. The child is not tied to a context; use Stop
// to end it.
func Start(cfg Config) (*Handle, error) {
	return StartWithLogger(cfg, noopLogger{})
}

// StartWithLogger is Start with lifecycle logging.
func StartWithLogger(cfg Config, logger Logger) (*Handle, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	logger.Info("starting process",
		"name", cfg.Name,
		"binary", cfg.Binary,
		"args", cfg.Args,
	)

	cmd := exec.Command(cfg.Binary, cfg.Args...) //nolint:gosec // binary is our own executable path

	// Own process group so Stop reaches grandchildren too
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if cfg.Env != nil {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}
	if cfg.WorkDir != "" {
		cmd.Dir = cfg.WorkDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", cfg.Name, err)
	}

	h := &Handle{
		config:    cfg,
		logger:    logger,
		cmd:       cmd,
		startTime: time.Now(),
		done:      make(chan struct{}),
	}

	var capture sync.WaitGroup
	capture.Add(2)
	go h.captureOutput(&capture, "stdout", stdout)
	go h.captureOutput(&capture, "stderr", stderr)
	go h.wait(&capture)

	logger.Info("process started", "name", cfg.Name, "pid", cmd.Process.Pid)
	return h, nil
}

// captureOutput forwards each line of r to OnOutput.
func (h *Handle) captureOutput(wg *sync.WaitGroup, stream string, r io.Reader) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 4096), maxLineSize)
	for scanner.Scan() {
		if h.config.OnOutput != nil {
			h.config.OnOutput(stream, scanner.Text())
		}
	}
	if err := scanner.Err(); err != nil {
		h.logger.Debug("output stream closed", "name", h.config.Name, "stream", stream, "error", err)
	}
}

// wait reaps the child after its pipes drain.
func (h *Handle) wait(capture *sync.WaitGroup) {
	// Pipes must be fully read before Wait closes them
	capture.Wait()
	err := h.cmd.Wait()

	h.mu.Lock()
	h.exitErr = err
	h.endTime = time.Now()
	h.mu.Unlock()
	close(h.done)

	if err != nil {
		h.logger.Warn("process exited", "name", h.config.Name, "error", err)
	} else {
		h.logger.Info("process exited", "name", h.config.Name)
	}
	if h.config.OnExit != nil {
		h.config.OnExit(err)
	}
}

// Name returns the configured name.
func (h *Handle) Name() string { return h.config.Name }

// PID returns the child's process ID.
func (h *Handle) PID() int { return h.cmd.Process.Pid }

// Done is closed once the child has been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// IsAlive reports whether the child has not yet exited.
func (h *Handle) IsAlive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Status returns the current state.
func (h *Handle) Status() Status {
	if h.IsAlive() {
		return StatusRunning
	}
	return StatusExited
}

// ExitErr returns the error from Wait, or nil while running or after a
// clean exit.
func (h *Handle) ExitErr() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.exitErr
}

// Join blocks until the child exits or ctx is done.
func (h *Handle) Join(ctx context.Context) error {
	select {
	case <-h.done:
		return h.ExitErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop sends SIGTERM to the child's process group and waits up to
// timeout, then sends SIGKILL. It is safe to call on an exited child and
// from several goroutines.
func (h *Handle) Stop(timeout time.Duration) error {
	if !h.IsAlive() {
		return nil
	}

	pid := h.cmd.Process.Pid
	h.logger.Info("stopping process", "name", h.config.Name, "pid", pid)

	// Negative PID signals the whole group created via Setpgid
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		h.logger.Warn("failed to send SIGTERM to process group", "name", h.config.Name, "error", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.done:
		h.logger.Info("process stopped gracefully", "name", h.config.Name)
		return nil
	case <-timer.C:
		h.logger.Warn("graceful shutdown timeout, sending SIGKILL",
			"name", h.config.Name,
			"timeout", timeout,
		)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing process group %s: %w", h.config.Name, err)
	}
	<-h.done
	h.logger.Info("process killed", "name", h.config.Name)
	return nil
}

// Uptime returns how long the child has run, up to its exit.
func (h *Handle) Uptime() time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.endTime.IsZero() {
		return h.endTime.Sub(h.startTime)
	}
	return time.Since(h.startTime)
}

// Usage is a resource snapshot of a running child.
type Usage struct {
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
	NumFDs     int32   `json:"num_fds"`
}

// Usage samples the child's CPU, memory and open files.
func (h *Handle) Usage(ctx context.Context) (Usage, error) {
	if !h.IsAlive() {
		return Usage{}, ErrNotRunning
	}
	// #nosec G115 -- PIDs fit in int32 on supported platforms
	p, err := psprocess.NewProcessWithContext(ctx, int32(h.cmd.Process.Pid))
	if err != nil {
		return Usage{}, fmt.Errorf("inspecting %s: %w", h.config.Name, err)
	}

	var u Usage
	if u.CPUPercent, err = p.CPUPercentWithContext(ctx); err != nil {
		return Usage{}, fmt.Errorf("reading cpu for %s: %w", h.config.Name, err)
	}
	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return Usage{}, fmt.Errorf("reading memory for %s: %w", h.config.Name, err)
	}
	u.RSSBytes = mem.RSS

	// Open file counts are not readable everywhere; leave zero on failure
	if n, err := p.NumFDsWithContext(ctx); err == nil {
		u.NumFDs = n
	}
	return u, nil
}

// Stats returns statistics about the child.
type Stats struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	PID       int           `json:"pid"`
	Uptime    time.Duration `json:"uptime"`
	LastError string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the child.
func (h *Handle) Stats() Stats {
	stats := Stats{
		Name:   h.config.Name,
		Status: h.Status(),
		PID:    h.PID(),
		Uptime: h.Uptime(),
	}
	if err := h.ExitErr(); err != nil {
		stats.LastError = err.Error()
	}
	return stats
}
