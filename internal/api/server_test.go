package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/brewlink/internal/infrastructure/config"
	"github.com/nerrad567/brewlink/internal/infrastructure/logging"
	"github.com/nerrad567/brewlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/brewlink/internal/process"
	"github.com/nerrad567/brewlink/internal/registry"
	"github.com/nerrad567/brewlink/internal/supervisor"
	"github.com/nerrad567/brewlink/internal/transport"
	"github.com/nerrad567/brewlink/internal/worker"
)

type fakeDevices struct {
	devices []*registry.DeviceConfig
	err     error
}

func (f *fakeDevices) ListDevices(context.Context) ([]*registry.DeviceConfig, error) {
	return f.devices, f.err
}

func (f *fakeDevices) LoadDeviceConfig(_ context.Context, id string) (*registry.DeviceConfig, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, d := range f.devices {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", registry.ErrNotFound, id)
}

type fakeWorkers []string

func (f fakeWorkers) Tracked() []string { return f }

type fakeSubscriber struct {
	mu       sync.Mutex
	topic    string
	handler  mqtt.MessageHandler
}

func (f *fakeSubscriber) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topic = topic
	f.handler = handler
	return nil
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")
}

func testConfig() config.APIConfig {
	return config.APIConfig{
		Listen:       "127.0.0.1:0",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  5 * time.Second,
		WebSocket: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30 * time.Second,
			PongTimeout:    10 * time.Second,
		},
	}
}

func testDevices() *fakeDevices {
	return &fakeDevices{devices: []*registry.DeviceConfig{{
		ID:              "ferm-1",
		Name:            "Fermenter",
		Active:          true,
		Transport:       transport.KindSerial,
		Port:            "/dev/ttyACM0",
		FirmwareVersion: "0.4.0",
		Settings:        map[string]any{"tempFormat": "C"},
		Leftovers:       map[string]any{},
		Revision:        3,
	}}}
}

func testServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = testLogger()
	}
	if deps.Devices == nil {
		deps.Devices = testDevices()
	}
	if deps.Workers == nil {
		deps.Workers = fakeWorkers{"ferm-1"}
	}
	deps.Version = "test"
	srv, err := New(testConfig(), deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	return rec
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(testConfig(), Deps{}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(testConfig(), Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without device store should fail")
	}
	if _, err := New(testConfig(), Deps{Logger: testLogger(), Devices: &fakeDevices{}}); err == nil {
		t.Error("New() without worker source should fail")
	}
}

func TestHealth(t *testing.T) {
	srv := testServer(t, Deps{})
	rec := get(t, srv, "/api/v1/health")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["status"] != "ok" || body["version"] != "test" || body["workers"] != 1.0 {
		t.Errorf("body = %v", body)
	}
}

func TestRequestID(t *testing.T) {
	srv := testServer(t, Deps{})

	rec := get(t, srv, "/api/v1/health")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID should be generated")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-id")
	rec = httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "client-id" {
		t.Errorf("X-Request-ID = %q, want client-id", got)
	}
}

func TestObserve_RecoversPanic(t *testing.T) {
	srv := testServer(t, Deps{})
	h := srv.observe(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID missing on recovered response")
	}
}

func TestWriteError_Codes(t *testing.T) {
	tests := []struct {
		status int
		code   string
	}{
		{http.StatusNotFound, ErrCodeNotFound},
		{http.StatusInternalServerError, ErrCodeInternal},
		{http.StatusServiceUnavailable, ErrCodeInternal},
		{http.StatusBadRequest, "bad_request"},
		{http.StatusMethodNotAllowed, "method_not_allowed"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeError(rec, tt.status, "x")
		var e Error
		if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if e.Code != tt.code || e.Status != tt.status {
			t.Errorf("writeError(%d) = %+v, want code %q", tt.status, e, tt.code)
		}
	}
}

func TestUnknownRoute(t *testing.T) {
	srv := testServer(t, Deps{})
	rec := get(t, srv, "/api/v1/nope")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestListDevices(t *testing.T) {
	srv := testServer(t, Deps{})
	rec := get(t, srv, "/api/v1/devices")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body struct {
		Devices []deviceView `json:"devices"`
		Count   int          `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.Count != 1 || len(body.Devices) != 1 {
		t.Fatalf("count = %d, want 1", body.Count)
	}
	d := body.Devices[0]
	if d.ID != "ferm-1" || d.Address != "/dev/ttyACM0" || d.Revision != 3 || d.Transport != "serial" {
		t.Errorf("device = %+v", d)
	}
}

func TestListDevices_StoreError(t *testing.T) {
	srv := testServer(t, Deps{Devices: &fakeDevices{err: fmt.Errorf("disk gone")}})
	rec := get(t, srv, "/api/v1/devices")

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if strings.Contains(rec.Body.String(), "disk gone") {
		t.Error("internal error detail leaked to client")
	}
}

func TestGetDevice(t *testing.T) {
	srv := testServer(t, Deps{})

	rec := get(t, srv, "/api/v1/devices/ferm-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var d deviceView
	if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if d.FirmwareVersion != "0.4.0" || d.Settings["tempFormat"] != "C" {
		t.Errorf("device = %+v", d)
	}

	rec = get(t, srv, "/api/v1/devices/ghost")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	var e Error
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if e.Code != ErrCodeNotFound {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeNotFound)
	}
}

func TestListWorkers(t *testing.T) {
	srv := testServer(t, Deps{Workers: fakeWorkers{"ferm-1", "ferm-2"}})
	if err := srv.Hub().PublishStatus(context.Background(), worker.Status{
		DeviceID: "ferm-1",
		State:    worker.StateRunning,
		Firmware: "0.4.0",
	}); err != nil {
		t.Fatalf("PublishStatus: %v", err)
	}

	rec := get(t, srv, "/api/v1/workers")
	var body struct {
		Workers []workerView `json:"workers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(body.Workers) != 2 {
		t.Fatalf("workers = %d, want 2", len(body.Workers))
	}
	if body.Workers[0].Status == nil || body.Workers[0].Status.State != worker.StateRunning {
		t.Errorf("ferm-1 status = %+v, want running", body.Workers[0].Status)
	}
	if body.Workers[1].Status != nil {
		t.Errorf("ferm-2 status = %+v, want none", body.Workers[1].Status)
	}
}

type fakeResources map[string]supervisor.Resources

func (f fakeResources) Resources(context.Context) map[string]supervisor.Resources { return f }

func TestListWorkers_Resources(t *testing.T) {
	srv := testServer(t, Deps{
		Workers: fakeWorkers{"ferm-1", "ferm-2"},
		Resources: fakeResources{
			"ferm-1": {PID: 4242, Usage: process.Usage{RSSBytes: 1 << 20, NumFDs: 9}},
		},
	})

	rec := get(t, srv, "/api/v1/workers")
	var body struct {
		Workers []workerView `json:"workers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(body.Workers) != 2 {
		t.Fatalf("workers = %d, want 2", len(body.Workers))
	}
	res := body.Workers[0].Resources
	if res == nil || res.PID != 4242 || res.RSSBytes != 1<<20 || res.NumFDs != 9 {
		t.Errorf("ferm-1 resources = %+v, want pid 4242, 1MiB rss, 9 fds", res)
	}
	if body.Workers[1].Resources != nil {
		t.Errorf("ferm-2 resources = %+v, want none", body.Workers[1].Resources)
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "brewlink_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	srv := testServer(t, Deps{Gatherer: reg})
	rec := get(t, srv, "/metrics")
	if !strings.Contains(rec.Body.String(), "brewlink_test_total 1") {
		t.Errorf("metrics body missing counter:\n%s", rec.Body.String())
	}

	srv = testServer(t, Deps{})
	if rec := get(t, srv, "/metrics"); rec.Code != http.StatusNotFound {
		t.Errorf("status without gatherer = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestStartClose(t *testing.T) {
	srv := testServer(t, Deps{})
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	body, _ := io.ReadAll(resp.Body) //nolint:errcheck // checked via content below
	resp.Body.Close()
	if !strings.Contains(string(body), `"ok"`) {
		t.Errorf("body = %s", body)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

func TestStart_BadAddress(t *testing.T) {
	cfg := testConfig()
	cfg.Listen = "256.0.0.1:bad"
	srv, err := New(cfg, Deps{Logger: testLogger(), Devices: &fakeDevices{}, Workers: fakeWorkers{}})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := srv.Start(context.Background()); err == nil {
		t.Error("Start() should fail on a bad address")
	}
}

func TestCloseBeforeStart(t *testing.T) {
	srv := testServer(t, Deps{})
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

func TestStatusRelay(t *testing.T) {
	sub := &fakeSubscriber{}
	srv := testServer(t, Deps{MQTT: sub})
	if err := srv.subscribeStatusRelay(context.Background()); err != nil {
		t.Fatalf("subscribeStatusRelay: %v", err)
	}
	if sub.topic != "brewlink/device/+/status" {
		t.Errorf("topic = %q", sub.topic)
	}

	payload := []byte(`{"device_id":"ferm-1","state":"reconnecting","reconnects":2}`)
	if err := sub.handler("brewlink/device/ferm-1/status", payload); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if err := sub.handler("brewlink/device/x/status", []byte("not json")); err != nil {
		t.Errorf("bad payload should be dropped, got %v", err)
	}

	st, ok := srv.Hub().Statuses()["ferm-1"]
	if !ok || st.State != worker.StateReconnecting || st.Reconnects != 2 {
		t.Errorf("status = %+v, ok = %v", st, ok)
	}
	if len(srv.Hub().Statuses()) != 1 {
		t.Errorf("statuses = %v, want only ferm-1", srv.Hub().Statuses())
	}
}

func TestWebSocket_StatusFeed(t *testing.T) {
	srv := testServer(t, Deps{})
	hub := srv.Hub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	// Known before the client connects; replayed on subscribe
	if err := hub.PublishStatus(ctx, worker.Status{DeviceID: "ferm-1", State: worker.StateRunning}); err != nil {
		t.Fatalf("PublishStatus: %v", err)
	}

	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	resp.Body.Close()
	defer conn.Close()

	read := func() WSMessage {
		t.Helper()
		//nolint:errcheck // test deadline
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		return msg
	}

	if err := conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "1",
		Payload: WSSubscribePayload{Channels: []string{ChannelWorkerStatus}},
	}); err != nil {
		t.Fatalf("write: %v", err)
	}

	if msg := read(); msg.Type != WSTypeResponse || msg.ID != "1" {
		t.Fatalf("first message = %+v, want subscribe response", msg)
	}
	if msg := read(); msg.Type != WSTypeEvent || msg.EventType != ChannelWorkerStatus {
		t.Fatalf("replay = %+v, want status event", msg)
	}

	if err := hub.PublishStatus(ctx, worker.Status{DeviceID: "ferm-1", State: worker.StateReconnecting}); err != nil {
		t.Fatalf("PublishStatus: %v", err)
	}
	msg := read()
	payload, _ := msg.Payload.(map[string]any) //nolint:errcheck // checked below
	if payload["state"] != string(worker.StateReconnecting) {
		t.Errorf("event payload = %v, want reconnecting", msg.Payload)
	}

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "2"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := read(); msg.Type != WSTypePong || msg.ID != "2" {
		t.Errorf("ping reply = %+v, want pong", msg)
	}

	if err := conn.WriteJSON(WSMessage{Type: "bogus", ID: "3"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := read(); msg.Type != WSTypeError {
		t.Errorf("bogus reply = %+v, want error", msg)
	}
}

func TestHub_UnsubscribedClientGetsNothing(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, testLogger())
	client := &WSClient{hub: hub, send: make(chan []byte, 1), subscriptions: map[string]struct{}{}}
	hub.Register(client)

	hub.Broadcast(ChannelWorkerStatus, "x")
	if len(client.send) != 0 {
		t.Error("unsubscribed client received a broadcast")
	}

	client.subscriptions[ChannelWorkerStatus] = struct{}{}
	hub.Broadcast(ChannelWorkerStatus, "x")
	hub.Broadcast(ChannelWorkerStatus, "y") // buffer full, dropped
	if len(client.send) != 1 {
		t.Errorf("send buffer = %d, want 1", len(client.send))
	}

	hub.Unregister(client)
	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
	}
}
