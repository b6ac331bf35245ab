package telemetry

import (
	"context"
	"sync"

	"github.com/nerrad567/brewlink/internal/infrastructure/mqtt"
)

const defaultQueueSize = 256

// Publisher is the part of the MQTT client the reporter needs.
type Publisher interface {
	PublishJSON(topic string, v any) error
}

// MQTTReporter publishes events to brewlink/device/<id>/errors, or to
// brewlink/system/errors when no device is named. Publishing happens on
// a background goroutine.
type MQTTReporter struct {
	pub    Publisher
	logger Logger
	queue  chan Event

	mu      sync.Mutex
	closed  bool
	dropped int

	done chan struct{}
}

// NewMQTTReporter starts a reporter. queueSize <= 0 uses a default.
func NewMQTTReporter(pub Publisher, queueSize int) *MQTTReporter {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	r := &MQTTReporter{
		pub:    pub,
		logger: noopLogger{},
		queue:  make(chan Event, queueSize),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// SetLogger sets the logger for publish failures. Call before reporting.
func (r *MQTTReporter) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// ReportError queues the event, dropping it when the queue is full or the
// reporter is closed.
func (r *MQTTReporter) ReportError(_ context.Context, src Source, err error) {
	if err == nil {
		return
	}
	ev := NewEvent(src, err)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- ev:
	default:
		r.dropped++
	}
}

// Dropped returns how many events were discarded on a full queue.
func (r *MQTTReporter) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close stops accepting events and waits for queued ones to be published.
func (r *MQTTReporter) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done
}

func (r *MQTTReporter) run() {
	defer close(r.done)
	for ev := range r.queue {
		if err := r.pub.PublishJSON(topicFor(ev), ev); err != nil {
			r.logger.Warn("publishing error event failed", "event_id", ev.ID, "error", err)
		}
	}
}

func topicFor(ev Event) string {
	if ev.DeviceID == "" {
		return mqtt.Topics{}.SystemErrors()
	}
	return mqtt.Topics{}.DeviceErrors(ev.DeviceID)
}
