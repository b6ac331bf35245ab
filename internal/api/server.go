package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/brewlink/internal/infrastructure/config"
	"github.com/nerrad567/brewlink/internal/infrastructure/logging"
	"github.com/nerrad567/brewlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/brewlink/internal/registry"
	"github.com/nerrad567/brewlink/internal/supervisor"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceStore is the registry view the API reads.
type DeviceStore interface {
	ListDevices(ctx context.Context) ([]*registry.DeviceConfig, error)
	LoadDeviceConfig(ctx context.Context, id string) (*registry.DeviceConfig, error)
}

// WorkerSource reports which devices have a live worker.
type WorkerSource interface {
	Tracked() []string
}

// ResourceSource samples process usage of tracked workers.
type ResourceSource interface {
	Resources(ctx context.Context) map[string]supervisor.Resources
}

// StatusSubscriber delivers worker status published by other processes.
type StatusSubscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Logger  *logging.Logger
	Devices DeviceStore
	Workers WorkerSource

	// Resources adds process usage to /api/v1/workers. Optional.
	Resources ResourceSource

	// Gatherer backs /metrics. Nil leaves the route out.
	Gatherer prometheus.Gatherer

	// Hub is shared with in-process workers. Nil creates one.
	Hub *Hub

	// MQTT relays retained worker status into the hub. Leave nil when
	// workers already publish to Hub directly.
	MQTT StatusSubscriber

	Version string
}

// Server is the status HTTP server.
type Server struct {
	cfg      config.APIConfig
	logger   *logging.Logger
	devices  DeviceStore
	workers  WorkerSource
	usage    ResourceSource
	gatherer prometheus.Gatherer
	mqtt     StatusSubscriber
	version  string
	hub      *Hub

	server *http.Server
	addr   string
	cancel context.CancelFunc
}

// New creates a server. It does not listen until Start.
func New(cfg config.APIConfig, deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device store is required")
	}
	if deps.Workers == nil {
		return nil, fmt.Errorf("worker source is required")
	}
	hub := deps.Hub
	if hub == nil {
		hub = NewHub(cfg.WebSocket, deps.Logger)
	}
	return &Server{
		cfg:      cfg,
		logger:   deps.Logger,
		devices:  deps.Devices,
		workers:  deps.Workers,
		usage:    deps.Resources,
		gatherer: deps.Gatherer,
		mqtt:     deps.MQTT,
		version:  deps.Version,
		hub:      hub,
	}, nil
}

// Start binds the listener and serves in the background. Bind errors are
// returned here.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	if err := s.subscribeStatusRelay(srvCtx); err != nil {
		s.logger.Warn("failed to subscribe to worker status for websocket relay", "error", err)
	}

	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}
	s.addr = ln.Addr().String()

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server listening", "address", s.addr)
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string { return s.addr }

// Hub returns the status hub.
func (s *Server) Hub() *Hub { return s.hub }

// Close gracefully shuts down the API server.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
