package worker

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the worker counters. One set is shared by all workers in a
// process; series are labelled by device.
type Metrics struct {
	Reconnects      *prometheus.CounterVec
	TransportReopen *prometheus.CounterVec
	LogRows         *prometheus.CounterVec
	State           *prometheus.GaugeVec
}

// NewMetrics registers the worker metrics with reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "brewlink_worker_reconnects_total",
			Help: "Times a worker entered Reconnecting after losing its controller.",
		}, []string{"device_id"}),
		TransportReopen: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "brewlink_worker_transport_reopens_total",
			Help: "Times the transport reopened its medium below the retry ceiling.",
		}, []string{"device_id"}),
		LogRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "brewlink_worker_log_rows_total",
			Help: "Controller log rows received.",
		}, []string{"device_id"}),
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "brewlink_worker_running",
			Help: "1 while the worker has a live controller link.",
		}, []string{"device_id"}),
	}
	if reg != nil {
		reg.MustRegister(m.Reconnects, m.TransportReopen, m.LogRows, m.State)
	}
	return m
}
