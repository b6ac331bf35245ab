package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/nerrad567/brewlink/internal/api"
	"github.com/nerrad567/brewlink/internal/infrastructure/config"
	"github.com/nerrad567/brewlink/internal/infrastructure/logging"
	"github.com/nerrad567/brewlink/internal/registry"
	"github.com/nerrad567/brewlink/internal/supervisor"
	"github.com/nerrad567/brewlink/internal/worker"
)

func newSuperviseCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "supervise",
		Short: "Run the supervisor until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSupervisor(cmd.Context(), flags)
		},
	}
}

// runSupervisor contains the daemon logic and returns on shutdown.
func runSupervisor(ctx context.Context, flags *rootFlags) error {
	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return err
	}
	log := logging.New(cfg.Logging, version)
	log.Info("starting brewlink supervisor", "version", version, "commit", commit, "build_date", date)

	db, err := openDatabase(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)
	reg := registry.NewSQLiteRegistry(db.DB)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc := openServices(ctx, cfg, log, cfg.MQTT.Broker.ClientID)
	defer svc.close()

	hub := api.NewHub(cfg.API.WebSocket, log)
	spawner, err := newSpawner(cfg, flags, svc, reg, promReg, hub, log)
	if err != nil {
		return err
	}

	sup := supervisor.New(reg, spawner, supervisor.Options{
		PollInterval:   cfg.Supervisor.PollInterval,
		SettleInterval: cfg.Supervisor.SettleInterval,
		StopTimeout:    cfg.Supervisor.StopTimeout,
		Reporter:       svc.reporter,
		Metrics:        supervisor.NewMetrics(promReg),
		Logger:         log.ForComponent("supervisor"),
	})
	promReg.MustRegister(sup.ResourceCollector())

	if cfg.API.Listen != "" {
		deps := api.Deps{
			Logger:    log.ForComponent("api"),
			Devices:   reg,
			Workers:   sup,
			Resources: sup,
			Gatherer:  promReg,
			Hub:       hub,
			Version:   version,
		}
		// In-process workers publish to the hub directly
		if svc.mqtt != nil && cfg.Supervisor.Isolation == "process" {
			deps.MQTT = svc.mqtt
		}
		srv, err := api.New(cfg.API, deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if err := sup.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor: %w", err)
	}
	log.Info("brewlink supervisor stopped")
	return nil
}

// newSpawner picks process or goroutine isolation.
func newSpawner(
	cfg *config.Config,
	flags *rootFlags,
	svc *services,
	reg *registry.SQLiteRegistry,
	promReg prometheus.Registerer,
	hub *api.Hub,
	log *logging.Logger,
) (supervisor.Spawner, error) {
	if cfg.Supervisor.Isolation == "goroutine" {
		rules, err := loadRules(cfg.Migration.RulesFile)
		if err != nil {
			return nil, err
		}
		metrics := worker.NewMetrics(promReg)
		return &supervisor.GoroutineSpawner{
			New: func(_ context.Context, dev *registry.DeviceConfig) (supervisor.Runner, error) {
				deps := svc.workerDeps(reg, rules, metrics, hub, log.ForDevice(dev.ID))
				w, err := worker.New(dev, worker.FromConfig(cfg, dev.Transport), deps)
				if err != nil {
					return nil, err
				}
				return w, nil
			},
			Reporter: svc.reporter,
			Logger:   log,
		}, nil
	}

	binary, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locating brewlink binary: %w", err)
	}
	var args []string
	if flags.configPath != "" {
		args = append(args, "--config", flags.configPath)
	}
	return &supervisor.ProcessSpawner{
		Binary: binary,
		Args:   args,
		Output: func(id, _, line string) {
			log.ForDevice(id).Relay(line)
		},
		Logger: log,
	}, nil
}
