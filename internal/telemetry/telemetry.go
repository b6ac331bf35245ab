package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Source says where an error was raised. DeviceID is empty for errors not
// tied to one controller.
type Source struct {
	DeviceID string
	Op       string
}

// Event is the published form of a reported error.
type Event struct {
	ID       string    `json:"id"`
	DeviceID string    `json:"device_id,omitempty"`
	Op       string    `json:"op"`
	Error    string    `json:"error"`
	Time     time.Time `json:"time"`
}

// Reporter accepts error reports.
type Reporter interface {
	ReportError(ctx context.Context, src Source, err error)
}

// Logger is the logging interface used by reporters.
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

// NewEvent stamps err with a fresh ID and the current time.
func NewEvent(src Source, err error) Event {
	msg := "<nil>"
	if err != nil {
		msg = err.Error()
	}
	return Event{
		ID:       uuid.NewString(),
		DeviceID: src.DeviceID,
		Op:       src.Op,
		Error:    msg,
		Time:     time.Now().UTC(),
	}
}

// Nop discards every report.
type Nop struct{}

func (Nop) ReportError(context.Context, Source, error) {}

// LogReporter writes reports to a logger at error level.
type LogReporter struct {
	logger Logger
}

// NewLogReporter returns a reporter writing to logger.
func NewLogReporter(logger Logger) *LogReporter {
	if logger == nil {
		logger = noopLogger{}
	}
	return &LogReporter{logger: logger}
}

func (r *LogReporter) ReportError(_ context.Context, src Source, err error) {
	if err == nil {
		return
	}
	r.logger.Error("error reported",
		"device_id", src.DeviceID,
		"op", src.Op,
		"error", err,
	)
}

// Multi fans a report out to several reporters.
type Multi []Reporter

func (m Multi) ReportError(ctx context.Context, src Source, err error) {
	for _, r := range m {
		if r != nil {
			r.ReportError(ctx, src, err)
		}
	}
}
