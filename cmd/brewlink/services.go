package main

import (
	"context"
	"errors"
	"fmt"

	_ "github.com/nerrad567/brewlink/migrations"

	"github.com/nerrad567/brewlink/internal/infrastructure/config"
	"github.com/nerrad567/brewlink/internal/infrastructure/database"
	"github.com/nerrad567/brewlink/internal/infrastructure/influxdb"
	"github.com/nerrad567/brewlink/internal/infrastructure/logging"
	"github.com/nerrad567/brewlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/brewlink/internal/migrate"
	"github.com/nerrad567/brewlink/internal/registry"
	"github.com/nerrad567/brewlink/internal/telemetry"
	"github.com/nerrad567/brewlink/internal/worker"
)

// loadConfig reads the config file named by the flag, the environment or
// the default path.
func loadConfig(flag string) (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath(flag))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// openDatabase opens the registry database, applying the schema when
// migrate is set.
func openDatabase(ctx context.Context, cfg *config.Config, migrate bool) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if migrate {
		if err := db.Migrate(ctx); err != nil {
			db.Close() //nolint:errcheck // already failing
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}
	return db, nil
}

// services are the optional outside connections. Each one that fails to
// connect is logged and left nil.
type services struct {
	log          *logging.Logger
	mqtt         *mqtt.Client
	influx       *influxdb.Client
	mqttReporter *telemetry.MQTTReporter
	reporter     telemetry.Reporter
}

func openServices(ctx context.Context, cfg *config.Config, log *logging.Logger, clientID string) *services {
	s := &services{log: log}
	reporters := telemetry.Multi{telemetry.NewLogReporter(log)}

	if cfg.MQTT.Enabled {
		client, err := mqtt.ConnectAs(cfg.MQTT, clientID)
		if err != nil {
			log.Warn("MQTT unavailable, continuing without it", "error", err)
		} else {
			client.SetLogger(log)
			s.mqtt = client
			s.mqttReporter = telemetry.NewMQTTReporter(client, 0)
			s.mqttReporter.SetLogger(log)
			reporters = append(reporters, s.mqttReporter)
			log.Info("MQTT connected",
				"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
				"client_id", clientID,
			)
		}
	}

	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Debug("InfluxDB disabled")
	case err != nil:
		log.Warn("InfluxDB unavailable, continuing without it", "error", err)
	default:
		client.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		s.influx = client
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	s.reporter = reporters
	return s
}

// workerDeps wires the services into a worker. hub, when set, also
// receives status changes.
func (s *services) workerDeps(
	rec registry.Recorder,
	rules []migrate.Rule,
	metrics *worker.Metrics,
	hub worker.StatusPublisher,
	log *logging.Logger,
) worker.Deps {
	deps := worker.Deps{
		Recorder: rec,
		Reporter: s.reporter,
		Rules:    rules,
		Metrics:  metrics,
		Logger:   log,
	}

	var sinks worker.MultiSink
	var statuses worker.MultiStatus
	if s.influx != nil {
		sinks = append(sinks, worker.NewInfluxSink(s.influx))
	}
	if s.mqtt != nil {
		mqttSink := worker.NewMQTTSink(s.mqtt)
		sinks = append(sinks, mqttSink)
		statuses = append(statuses, mqttSink)
		deps.Commands = s.mqtt
	}
	if hub != nil {
		statuses = append(statuses, hub)
	}
	if len(statuses) > 0 {
		deps.Status = statuses
	}
	switch len(sinks) {
	case 0:
	case 1:
		deps.Sink = sinks[0]
	default:
		deps.Sink = sinks
	}
	return deps
}

func (s *services) close() {
	if s.mqttReporter != nil {
		s.mqttReporter.Close()
	}
	if s.influx != nil {
		if err := s.influx.Close(); err != nil {
			s.log.Error("error closing InfluxDB", "error", err)
		}
	}
	if s.mqtt != nil {
		if err := s.mqtt.Close(); err != nil {
			s.log.Error("error closing MQTT", "error", err)
		}
	}
}

// loadRules returns the configured rule table, or the built-in one.
func loadRules(path string) ([]migrate.Rule, error) {
	if path == "" {
		return migrate.DefaultRules(), nil
	}
	rules, err := migrate.LoadRules(path)
	if err != nil {
		return nil, fmt.Errorf("loading migration rules: %w", err)
	}
	return rules, nil
}
