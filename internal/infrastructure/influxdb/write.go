package influxdb

import (
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const (
	measurementLog        = "controller_log"
	measurementAnnotation = "controller_annotation"
)

// WriteLogRow queues one controller log row. Numeric values become float
// fields, strings and booleans are kept as they are, and nulls are
// skipped. Rows with no usable field are dropped.
func (c *Client) WriteLogRow(deviceID string, row map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	if p := logRowPoint(deviceID, row, at); p != nil {
		c.writeAPI.WritePoint(p)
	}
}

// WriteAnnotation queues a free-text annotation for a device.
func (c *Client) WriteAnnotation(deviceID, text string, at time.Time) {
	if !c.IsConnected() || strings.TrimSpace(text) == "" {
		return
	}
	c.writeAPI.WritePoint(annotationPoint(deviceID, text, at))
}

func logRowPoint(deviceID string, row map[string]any, at time.Time) *write.Point {
	fields := make(map[string]any, len(row))
	for k, v := range row {
		switch val := v.(type) {
		case nil:
		case float64:
			fields[k] = val
		case float32:
			fields[k] = float64(val)
		case int:
			fields[k] = float64(val)
		case int64:
			fields[k] = float64(val)
		case string, bool:
			fields[k] = val
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return write.NewPoint(measurementLog, map[string]string{"device_id": deviceID}, fields, at)
}

func annotationPoint(deviceID, text string, at time.Time) *write.Point {
	return write.NewPoint(measurementAnnotation,
		map[string]string{"device_id": deviceID},
		map[string]any{"text": text},
		at)
}
