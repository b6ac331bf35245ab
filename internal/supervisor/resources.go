package supervisor

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/brewlink/internal/process"
)

// collectTimeout bounds one resource sample across all workers.
const collectTimeout = 2 * time.Second

// ResourceReporter is implemented by handles backed by an OS process.
type ResourceReporter interface {
	Usage(ctx context.Context) (process.Usage, error)
	Stats() process.Stats
}

// Resources is a resource sample of one worker process.
type Resources struct {
	PID    int           `json:"pid"`
	Uptime time.Duration `json:"uptime"`
	process.Usage
}

// Resources samples every tracked worker that runs as a process. Workers
// that exit mid-sample are left out.
func (s *Supervisor) Resources(ctx context.Context) map[string]Resources {
	s.mu.RLock()
	reporters := make(map[string]ResourceReporter, len(s.workers))
	for id, h := range s.workers {
		if r, ok := h.(ResourceReporter); ok {
			reporters[id] = r
		}
	}
	s.mu.RUnlock()

	out := make(map[string]Resources, len(reporters))
	for id, r := range reporters {
		u, err := r.Usage(ctx)
		if err != nil {
			s.logger.Debug("sampling worker resources failed", "device_id", id, "error", err)
			continue
		}
		st := r.Stats()
		out[id] = Resources{PID: st.PID, Uptime: st.Uptime, Usage: u}
	}
	return out
}

type resourceCollector struct {
	sup *Supervisor

	cpu    *prometheus.Desc
	rss    *prometheus.Desc
	fds    *prometheus.Desc
	uptime *prometheus.Desc
}

// ResourceCollector exports per-worker process usage, sampled on scrape.
func (s *Supervisor) ResourceCollector() prometheus.Collector {
	labels := []string{"device_id"}
	return &resourceCollector{
		sup: s,
		cpu: prometheus.NewDesc("brewlink_worker_process_cpu_percent",
			"CPU use of the worker process.", labels, nil),
		rss: prometheus.NewDesc("brewlink_worker_process_resident_memory_bytes",
			"Resident memory of the worker process.", labels, nil),
		fds: prometheus.NewDesc("brewlink_worker_process_open_fds",
			"Open file descriptors of the worker process.", labels, nil),
		uptime: prometheus.NewDesc("brewlink_worker_process_uptime_seconds",
			"Time since the worker process started.", labels, nil),
	}
}

func (c *resourceCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cpu
	ch <- c.rss
	ch <- c.fds
	ch <- c.uptime
}

func (c *resourceCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()

	for id, r := range c.sup.Resources(ctx) {
		ch <- prometheus.MustNewConstMetric(c.cpu, prometheus.GaugeValue, r.CPUPercent, id)
		ch <- prometheus.MustNewConstMetric(c.rss, prometheus.GaugeValue, float64(r.RSSBytes), id)
		ch <- prometheus.MustNewConstMetric(c.fds, prometheus.GaugeValue, float64(r.NumFDs), id)
		ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue, r.Uptime.Seconds(), id)
	}
}
