package logging

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/nerrad567/brewlink/internal/infrastructure/config"
)

// serviceName is attached to every record.
const serviceName = "brewlink"

// Logger wraps slog.Logger with brewlink-specific helpers.
//
// All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New creates a new Logger writing to the configured output.
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}

	return NewWithWriter(output, cfg, version)
}

// NewWithWriter creates a Logger that writes to w, ignoring cfg.Output.
//
// Worker subprocesses use this with os.Stderr so the supervisor can capture
// their records separately from protocol traffic.
func NewWithWriter(w io.Writer, cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})

	return &Logger{
		Logger: slog.New(handler),
	}
}

// parseLevel converts a string log level to slog.Level.
//
// Supported levels: debug, info, warn, error
// Defaults to info if unrecognised.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a new Logger with additional default attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// ForDevice returns a child logger tagged with the device identifier.
func (l *Logger) ForDevice(deviceID string) *Logger {
	return l.With("device_id", deviceID)
}

// ForComponent returns a child logger tagged with a component name, e.g.
// "supervisor" or "api".
func (l *Logger) ForComponent(name string) *Logger {
	return l.With("component", name)
}

// relayDropped are keys the relaying logger already carries.
var relayDropped = map[string]bool{
	slog.TimeKey:    true,
	slog.LevelKey:   true,
	slog.MessageKey: true,
	"service":       true,
	"version":       true,
	"device_id":     true,
}

// Relay re-emits one line written by a worker process. JSON records keep
// their level, message and attributes; anything else is logged at debug
// as raw output.
func (l *Logger) Relay(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	var rec map[string]any
	if !strings.HasPrefix(line, "{") || json.Unmarshal([]byte(line), &rec) != nil {
		l.Debug("worker output", "line", line)
		return
	}

	level, _ := rec[slog.LevelKey].(string) //nolint:errcheck // missing level is info
	msg, _ := rec[slog.MessageKey].(string) //nolint:errcheck // missing message is empty

	keys := make([]string, 0, len(rec))
	for k := range rec {
		if !relayDropped[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	args := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		args = append(args, k, rec[k])
	}

	l.Log(context.Background(), parseLevel(level), msg, args...)
}
