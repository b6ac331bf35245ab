package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/brewlink/internal/registry"
	"github.com/nerrad567/brewlink/internal/supervisor"
	"github.com/nerrad567/brewlink/internal/worker"
)

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.observe)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "no such route")
	})

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Get("/{id}", s.handleGetDevice)
		})

		r.Get("/workers", s.handleListWorkers)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// deviceView is the JSON form of a registry record.
type deviceView struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Active          bool           `json:"active"`
	Transport       string         `json:"transport"`
	Address         string         `json:"address"`
	FirmwareVersion string         `json:"firmware_version,omitempty"`
	Settings        map[string]any `json:"settings"`
	SettingsVersion string         `json:"settings_version,omitempty"`
	Leftovers       map[string]any `json:"leftovers"`
	Revision        int64          `json:"revision"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func newDeviceView(d *registry.DeviceConfig) deviceView {
	return deviceView{
		ID:              d.ID,
		Name:            d.Name,
		Active:          d.Active,
		Transport:       string(d.Transport),
		Address:         d.Address(),
		FirmwareVersion: d.FirmwareVersion,
		Settings:        d.Settings,
		SettingsVersion: d.SettingsVersion,
		Leftovers:       d.Leftovers,
		Revision:        d.Revision,
		UpdatedAt:       d.UpdatedAt,
	}
}

// workerView pairs a tracked device with its last reported status and,
// for process workers, its resource usage.
type workerView struct {
	DeviceID  string                `json:"device_id"`
	Status    *worker.Status        `json:"status,omitempty"`
	Resources *supervisor.Resources `json:"resources,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"workers": len(s.workers.Tracked()),
	})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.devices.ListDevices(r.Context())
	if err != nil {
		s.logger.Error("listing devices failed", "error", err, "request_id", requestID(r.Context()))
		writeError(w, http.StatusInternalServerError, "failed to list devices")
		return
	}
	views := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, newDeviceView(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": views,
		"count":   len(views),
	})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := s.devices.LoadDeviceConfig(r.Context(), id)
	if errors.Is(err, registry.ErrNotFound) {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	if err != nil {
		s.logger.Error("loading device failed", "device_id", id, "error", err, "request_id", requestID(r.Context()))
		writeError(w, http.StatusInternalServerError, "failed to load device")
		return
	}
	writeJSON(w, http.StatusOK, newDeviceView(d))
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	statuses := s.hub.Statuses()
	var usage map[string]supervisor.Resources
	if s.usage != nil {
		usage = s.usage.Resources(r.Context())
	}
	ids := s.workers.Tracked()
	views := make([]workerView, 0, len(ids))
	for _, id := range ids {
		v := workerView{DeviceID: id}
		if st, ok := statuses[id]; ok {
			v.Status = &st
		}
		if u, ok := usage[id]; ok {
			v.Resources = &u
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workers": views,
		"count":   len(views),
	})
}
