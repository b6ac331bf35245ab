package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/brewlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/brewlink/internal/migrate"
	"github.com/nerrad567/brewlink/internal/protocol"
	"github.com/nerrad567/brewlink/internal/registry"
	"github.com/nerrad567/brewlink/internal/telemetry"
	"github.com/nerrad567/brewlink/internal/transport"
)

const (
	commandQueueSize = 16
	reportTimeout    = 5 * time.Second
)

// Logger is the logging interface used by Worker.
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

// CommandSubscriber delivers remote commands, e.g. the MQTT client.
type CommandSubscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Deps are a worker's collaborators. Only the device is required; nil
// fields disable the matching feature.
type Deps struct {
	Recorder registry.Recorder
	Sink     LogSink
	Status   StatusPublisher
	Commands CommandSubscriber
	Reporter telemetry.Reporter
	Metrics  *Metrics
	Logger   Logger

	// Rules defaults to migrate.DefaultRules.
	Rules []migrate.Rule

	// Dialer overrides the one built from the device config.
	Dialer transport.Dialer
}

// Worker maintains the link to one controller.
type Worker struct {
	dev    *registry.DeviceConfig
	cfg    Config
	deps   Deps
	dialer transport.Dialer
	logger Logger

	commands chan protocol.ControlMessage
	stopCh   chan struct{}
	stopOnce sync.Once

	// Owned by the run loop.
	storedVersion migrate.Version
	migrated      bool
	pending       []LogRow

	mu         sync.RWMutex
	state      State
	version    protocol.ControllerVersion
	lcd        []string
	reconnects int
}

// New checks dev and prepares a worker. Configuration problems wrap
// registry.ErrInvalidConfig.
func New(dev *registry.DeviceConfig, cfg Config, deps Deps) (*Worker, error) {
	if dev == nil {
		return nil, fmt.Errorf("%w: no device", registry.ErrInvalidConfig)
	}
	if err := dev.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	if deps.Reporter == nil {
		deps.Reporter = telemetry.Nop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(nil)
	}
	if deps.Rules == nil {
		deps.Rules = migrate.DefaultRules()
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	dialer := deps.Dialer
	if dialer == nil {
		opts := cfg.Dial
		if dev.BaudRate > 0 {
			opts.BaudRate = dev.BaudRate
		}
		var err error
		if dialer, err = transport.NewDialer(dev.Transport, dev.Address(), opts); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", registry.ErrInvalidConfig, dev.ID, err)
		}
	}

	return &Worker{
		dev:      dev,
		cfg:      cfg,
		deps:     deps,
		dialer:   dialer,
		logger:   logger,
		commands: make(chan protocol.ControlMessage, commandQueueSize),
		stopCh:   make(chan struct{}),
		state:    StateStarting,
		version:  protocol.EmptyVersion(),
	}, nil
}

// ID returns the device ID.
func (w *Worker) ID() string { return w.dev.ID }

// Revision returns the config revision the worker was built from.
func (w *Worker) Revision() int64 { return w.dev.Revision }

// State returns the current lifecycle stage.
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Version returns the firmware version from the last handshake.
func (w *Worker) Version() protocol.ControllerVersion {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.version
}

// LCD returns the last LCD contents reported by the controller.
func (w *Worker) LCD() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.lcd...)
}

// Reconnects returns how many times the worker entered Reconnecting.
func (w *Worker) Reconnects() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.reconnects
}

// Stop asks Run to return. It does not wait.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// Submit queues a control message for the run loop. Quit messages stop
// the worker directly. It returns false when the queue is full.
func (w *Worker) Submit(msg protocol.ControlMessage) bool {
	if msg.Type == protocol.CtlQuit || msg.Type == protocol.CtlStopScript {
		w.logger.Info("stop requested", "device_id", w.dev.ID, "via", msg.Type)
		w.Stop()
		return true
	}
	select {
	case w.commands <- msg:
		return true
	default:
		w.logger.Warn("command queue full, dropping", "device_id", w.dev.ID, "type", msg.Type)
		return false
	}
}

// Run drives the worker until ctx is done or Stop is called. The
// transport is closed before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	w.storedVersion = migrate.ParseVersionOrLowest(w.dev.SettingsVersion)
	w.publishStatus()

	g, gctx := errgroup.WithContext(ctx)

	if dir := w.cfg.ControlSocketDir; dir != "" {
		ln, err := protocol.ListenControl(filepath.Join(dir, w.dev.ID+".sock"))
		if err != nil {
			w.logger.Warn("control socket unavailable", "device_id", w.dev.ID, "error", err)
			w.report(ctx, "control socket", err)
		} else {
			ln.SetLogger(w.logger)
			g.Go(func() error {
				return ln.Serve(gctx, func(m protocol.ControlMessage) { w.Submit(m) })
			})
		}
	}

	if sub := w.deps.Commands; sub != nil {
		topic := mqtt.Topics{}.DeviceCommand(w.dev.ID)
		err := sub.Subscribe(topic, 1, func(_ string, payload []byte) error {
			w.Submit(protocol.ParseControlMessage(payload))
			return nil
		})
		if err != nil {
			w.logger.Warn("command topic unavailable", "device_id", w.dev.ID, "topic", topic, "error", err)
		} else {
			defer sub.Unsubscribe(topic) //nolint:errcheck // best effort on shutdown
		}
	}

	g.Go(func() error {
		defer cancel()
		w.loop(gctx)
		return nil
	})
	return g.Wait()
}

// loop alternates between connecting and running sessions until ctx ends.
func (w *Worker) loop(ctx context.Context) {
	next := StateConnecting
	for {
		w.setState(next)

		tr, err := w.connect(ctx)
		if err != nil {
			w.setState(StateStopping)
			break
		}

		w.setState(StateRunning)
		err = w.session(ctx, tr)

		if ctx.Err() != nil {
			w.setState(StateStopping)
			tr.Close() //nolint:errcheck // shutting down
			break
		}
		tr.Close() //nolint:errcheck // replaced below

		w.mu.Lock()
		w.reconnects++
		w.mu.Unlock()
		w.deps.Metrics.Reconnects.WithLabelValues(w.dev.ID).Inc()

		w.logger.Warn("controller link lost, reconnecting", "device_id", w.dev.ID, "error", err)
		if !errors.Is(err, transport.ErrConnectionLost) {
			w.report(ctx, "session", err)
		}
		next = StateReconnecting
	}

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()
	w.flush(flushCtx)
	w.setState(StateTerminated)
}

// connect opens a fresh transport, backing off between failed attempts.
func (w *Worker) connect(ctx context.Context) (*transport.Transport, error) {
	delay := w.cfg.ReconnectDelay
	for {
		tr := transport.New(w.dialer, transport.Options{
			RetryLimit: w.cfg.RetryLimit,
			RetryDelay: w.cfg.RetryDelay,
			OnReconnect: func() {
				w.deps.Metrics.TransportReopen.WithLabelValues(w.dev.ID).Inc()
				w.logger.Info("transport reopened", "device_id", w.dev.ID)
			},
			Logger: w.logger,
		})

		err := tr.Open(ctx)
		if err == nil {
			w.logger.Info("connected to controller", "device_id", w.dev.ID, "target", tr.String())
			return tr, nil
		}
		tr.Close() //nolint:errcheck // never opened

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		w.logger.Warn("cannot reach controller, retrying",
			"device_id", w.dev.ID,
			"target", w.dialer.String(),
			"delay", delay,
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		delay = min(delay*2, w.cfg.MaxReconnectDelay)
	}
}

// session runs the handshake and the steady read loop on one transport.
// It returns when the transport gives up or ctx ends.
func (w *Worker) session(ctx context.Context, tr *transport.Transport) error {
	codec := protocol.NewCodec(tr)
	if err := w.handshake(ctx, codec); err != nil {
		return err
	}

	heartbeat := time.NewTicker(w.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		select {
		case msg := <-w.commands:
			if err := w.execute(ctx, codec, msg); err != nil {
				return err
			}
			continue
		case <-heartbeat.C:
			if err := codec.Send(ctx, protocol.CmdTemperatures); err != nil {
				return err
			}
			if err := codec.Send(ctx, protocol.CmdLCD); err != nil {
				return err
			}
			w.flush(ctx)
			continue
		default:
		}

		msg, ok, err := codec.Poll(ctx, w.cfg.PollTimeout)
		if err != nil {
			return err
		}
		if ok {
			w.dispatch(ctx, msg)
		}
	}
}

// handshake asks for the firmware version and restores settings when the
// firmware changed since they were saved. A missing reply is not fatal.
func (w *Worker) handshake(ctx context.Context, codec *protocol.Codec) error {
	v, err := codec.RequestVersion(ctx, w.cfg.VersionTimeout)
	switch {
	case errors.Is(err, protocol.ErrTimeout):
		w.logger.Warn("no version reply, continuing without firmware info", "device_id", w.dev.ID)
	case err != nil:
		return err
	}

	w.mu.Lock()
	w.version = v
	w.mu.Unlock()

	if !v.Known() {
		return nil
	}
	w.logger.Info("controller version", "device_id", w.dev.ID, "version", v.String())

	if firmware := v.Version.String(); firmware != w.dev.FirmwareVersion && w.deps.Recorder != nil {
		if err := w.deps.Recorder.RecordFirmware(ctx, w.dev.ID, firmware); err != nil {
			w.report(ctx, "record firmware", err)
		}
	}
	return w.restoreSettings(ctx, codec, v)
}

// restoreSettings migrates saved settings to the running firmware. It
// runs at most once per worker.
func (w *Worker) restoreSettings(ctx context.Context, codec *protocol.Codec, v protocol.ControllerVersion) error {
	if w.migrated || len(w.dev.Settings) == 0 {
		return nil
	}
	if w.dev.SettingsVersion != "" && w.storedVersion.Compare(v.Version) == 0 {
		w.migrated = true
		return nil
	}

	res := migrate.Migrate(w.deps.Rules, w.dev.Settings, w.storedVersion, v.Version)
	if len(res.Restored) > 0 {
		payload, err := res.Restored.MarshalJSON()
		if err != nil {
			return fmt.Errorf("encoding restored settings: %w", err)
		}
		if err := codec.Send(ctx, protocol.ApplySettings(payload)); err != nil {
			return err
		}
	}
	w.migrated = true

	w.logger.Info("settings migrated",
		"device_id", w.dev.ID,
		"from", w.storedVersion.String(),
		"to", v.Version.String(),
		"restored", res.Restored.Keys(),
		"leftover", len(res.Leftover),
	)

	if rec := w.deps.Recorder; rec != nil {
		if err := rec.RecordSettings(ctx, w.dev.ID, res.Restored.Map(), v.Version.String()); err != nil {
			w.report(ctx, "record settings", err)
		}
		if err := rec.RecordLeftovers(ctx, w.dev.ID, res.Leftover); err != nil {
			w.report(ctx, "record leftovers", err)
		}
	}
	return nil
}

// execute runs one queued control message. Only transport errors are
// returned; bad messages are logged and dropped.
func (w *Worker) execute(ctx context.Context, codec *protocol.Codec, msg protocol.ControlMessage) error {
	cmds, stop, err := translate(msg)
	if err != nil {
		w.logger.Warn("ignoring control message", "device_id", w.dev.ID, "message", msg.String(), "error", err)
		return nil
	}
	if stop {
		w.Stop()
		return nil
	}
	for _, cmd := range cmds {
		if err := codec.Send(ctx, cmd); err != nil {
			return err
		}
	}
	w.logger.Debug("control message executed", "device_id", w.dev.ID, "type", msg.Type)
	return nil
}

// dispatch handles one incoming controller message.
func (w *Worker) dispatch(ctx context.Context, msg protocol.Message) {
	switch msg.Kind {
	case protocol.KindTemperatures:
		var fields map[string]any
		if err := msg.Decode(&fields); err != nil {
			w.logger.Debug("unreadable log row", "device_id", w.dev.ID, "line", msg.Raw)
			return
		}
		w.deps.Metrics.LogRows.WithLabelValues(w.dev.ID).Inc()
		if len(w.pending) >= maxPendingRows {
			w.pending = w.pending[1:]
		}
		w.pending = append(w.pending, LogRow{Time: time.Now().UTC(), Fields: fields})
		if len(w.pending) >= w.cfg.LogFlushRows {
			w.flush(ctx)
		}

	case protocol.KindAnnotation, protocol.KindDebug:
		text := annotationText(msg.Payload)
		w.logger.Info("controller annotation", "device_id", w.dev.ID, "kind", msg.Kind.String(), "text", text)
		if msg.Kind == protocol.KindAnnotation && w.deps.Sink != nil {
			if err := w.deps.Sink.Annotate(ctx, w.dev.ID, text); err != nil {
				w.logger.Warn("annotation not stored", "device_id", w.dev.ID, "error", err)
			}
		}

	case protocol.KindLCD:
		var lines []string
		if err := msg.Decode(&lines); err != nil {
			return
		}
		w.mu.Lock()
		w.lcd = lines
		w.mu.Unlock()

	case protocol.KindVersion:
		w.mu.Lock()
		w.version = protocol.ParseVersion(msg.Raw)
		w.mu.Unlock()

	case protocol.KindSettings, protocol.KindConstants, protocol.KindVariables:
		w.logger.Debug("controller settings", "device_id", w.dev.ID, "kind", msg.Kind.String(), "payload", string(msg.Payload))

	default:
		w.logger.Debug("controller output", "device_id", w.dev.ID, "line", msg.Raw)
	}
}

// flush hands pending rows to the sink. Rows stay pending on failure.
func (w *Worker) flush(ctx context.Context) {
	if len(w.pending) == 0 {
		return
	}
	if w.deps.Sink == nil {
		w.pending = nil
		return
	}
	if err := w.deps.Sink.WriteRows(ctx, w.dev.ID, w.pending); err != nil {
		w.logger.Warn("log rows not stored", "device_id", w.dev.ID, "pending", len(w.pending), "error", err)
		return
	}
	w.pending = nil
}

// Pending returns the number of unflushed rows. It is only meaningful
// while the worker is not running.
func (w *Worker) Pending() int { return len(w.pending) }

func (w *Worker) setState(s State) {
	w.mu.Lock()
	prev := w.state
	w.state = s
	w.mu.Unlock()

	running := 0.0
	if s.Connected() {
		running = 1
	}
	w.deps.Metrics.State.WithLabelValues(w.dev.ID).Set(running)

	if prev != s {
		w.logger.Debug("worker state", "device_id", w.dev.ID, "from", string(prev), "to", string(s))
		w.publishStatus()
	}
}

func (w *Worker) publishStatus() {
	if w.deps.Status == nil {
		return
	}
	w.mu.RLock()
	st := Status{
		DeviceID:   w.dev.ID,
		State:      w.state,
		LCD:        append([]string(nil), w.lcd...),
		Reconnects: w.reconnects,
		UpdatedAt:  time.Now().UTC(),
	}
	if w.version.Known() {
		st.Firmware = w.version.Version.String()
		st.Board = w.version.Board.Name()
	}
	w.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()
	if err := w.deps.Status.PublishStatus(ctx, st); err != nil {
		w.logger.Debug("status not published", "device_id", w.dev.ID, "error", err)
	}
}

func (w *Worker) report(ctx context.Context, op string, err error) {
	w.deps.Reporter.ReportError(ctx, telemetry.Source{DeviceID: w.dev.ID, Op: op}, err)
}

func annotationText(payload json.RawMessage) string {
	var s string
	if err := json.Unmarshal(payload, &s); err == nil {
		return s
	}
	return string(payload)
}

func marshalStatus(st Status) ([]byte, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encoding status: %w", err)
	}
	return data, nil
}
