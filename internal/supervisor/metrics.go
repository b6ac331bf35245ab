package supervisor

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the supervisor's Prometheus series.
type Metrics struct {
	Tracked       prometheus.Gauge
	Spawns        prometheus.Counter
	SpawnFailures prometheus.Counter
	Reaped        prometheus.Counter
	Stopped       *prometheus.CounterVec
}

// NewMetrics registers the supervisor metrics with reg. A nil reg leaves
// them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Tracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "brewlink_supervisor_tracked_workers",
			Help: "Workers currently tracked by the supervisor.",
		}),
		Spawns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "brewlink_supervisor_spawns_total",
			Help: "Workers started.",
		}),
		SpawnFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "brewlink_supervisor_spawn_failures_total",
			Help: "Worker starts that failed.",
		}),
		Reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "brewlink_supervisor_reaped_total",
			Help: "Workers found dead and removed.",
		}),
		Stopped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "brewlink_supervisor_stopped_total",
			Help: "Workers stopped by the supervisor, by reason.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.Tracked, m.Spawns, m.SpawnFailures, m.Reaped, m.Stopped)
	}
	return m
}
