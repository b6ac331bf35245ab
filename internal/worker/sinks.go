package worker

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/brewlink/internal/infrastructure/influxdb"
	"github.com/nerrad567/brewlink/internal/infrastructure/mqtt"
)

// LogRow is one temperature row reported by the controller.
type LogRow struct {
	Time   time.Time      `json:"time"`
	Fields map[string]any `json:"fields"`
}

// LogSink stores controller log rows and annotations. A failed WriteRows
// leaves the rows pending for the next flush.
type LogSink interface {
	WriteRows(ctx context.Context, deviceID string, rows []LogRow) error
	Annotate(ctx context.Context, deviceID, text string) error
}

// Status is the retained state a worker publishes.
type Status struct {
	DeviceID   string    `json:"device_id"`
	State      State     `json:"state"`
	Firmware   string    `json:"firmware,omitempty"`
	Board      string    `json:"board,omitempty"`
	LCD        []string  `json:"lcd,omitempty"`
	Reconnects int       `json:"reconnects"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// StatusPublisher receives state changes.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, status Status) error
}

// InfluxSink writes rows to InfluxDB.
type InfluxSink struct {
	client *influxdb.Client
}

// NewInfluxSink wraps a connected client.
func NewInfluxSink(client *influxdb.Client) *InfluxSink {
	return &InfluxSink{client: client}
}

func (s *InfluxSink) WriteRows(_ context.Context, deviceID string, rows []LogRow) error {
	if !s.client.IsConnected() {
		return influxdb.ErrNotConnected
	}
	for _, row := range rows {
		s.client.WriteLogRow(deviceID, row.Fields, row.Time)
	}
	return nil
}

func (s *InfluxSink) Annotate(_ context.Context, deviceID, text string) error {
	if !s.client.IsConnected() {
		return influxdb.ErrNotConnected
	}
	s.client.WriteAnnotation(deviceID, text, time.Now())
	return nil
}

// Publisher is the part of the MQTT client the worker uses.
type Publisher interface {
	PublishJSON(topic string, v any) error
	PublishRetained(topic string, payload []byte) error
}

// MQTTSink publishes rows to brewlink/device/<id>/log and status to
// brewlink/device/<id>/status.
type MQTTSink struct {
	pub Publisher
}

// NewMQTTSink wraps a publisher.
func NewMQTTSink(pub Publisher) *MQTTSink {
	return &MQTTSink{pub: pub}
}

func (s *MQTTSink) WriteRows(_ context.Context, deviceID string, rows []LogRow) error {
	return s.pub.PublishJSON(mqtt.Topics{}.DeviceLog(deviceID), rows)
}

func (s *MQTTSink) Annotate(_ context.Context, deviceID, text string) error {
	return s.pub.PublishJSON(mqtt.Topics{}.DeviceLog(deviceID), map[string]string{"annotation": text})
}

func (s *MQTTSink) PublishStatus(_ context.Context, status Status) error {
	data, err := marshalStatus(status)
	if err != nil {
		return err
	}
	return s.pub.PublishRetained(mqtt.Topics{}.DeviceStatus(status.DeviceID), data)
}

// MultiSink writes to every sink and joins their errors. Rows stay
// pending if any sink fails, so a sink may see a row twice.
type MultiSink []LogSink

func (m MultiSink) WriteRows(ctx context.Context, deviceID string, rows []LogRow) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.WriteRows(ctx, deviceID, rows))
	}
	return errors.Join(errs...)
}

func (m MultiSink) Annotate(ctx context.Context, deviceID, text string) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Annotate(ctx, deviceID, text))
	}
	return errors.Join(errs...)
}

// MultiStatus fans a status out to every publisher.
type MultiStatus []StatusPublisher

func (m MultiStatus) PublishStatus(ctx context.Context, status Status) error {
	var errs []error
	for _, p := range m {
		errs = append(errs, p.PublishStatus(ctx, status))
	}
	return errors.Join(errs...)
}
