package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/brewlink/internal/infrastructure/logging"
	"github.com/nerrad567/brewlink/internal/registry"
	"github.com/nerrad567/brewlink/internal/worker"
)

func newWorkerCmd(flags *rootFlags) *cobra.Command {
	var deviceID string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the link to one device",
		Long:  "worker maintains one controller link until interrupted. The supervisor spawns it; running it by hand is useful for debugging.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd.Context(), flags, deviceID)
		},
	}
	cmd.Flags().StringVar(&deviceID, "device", "", "device ID to run")
	_ = cmd.MarkFlagRequired("device") //nolint:errcheck // flag exists
	return cmd
}

func runWorker(ctx context.Context, flags *rootFlags, deviceID string) error {
	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return err
	}
	// Stdout belongs to the supervisor's capture; records go to stderr
	log := logging.NewWithWriter(os.Stderr, cfg.Logging, version).ForDevice(deviceID)

	db, err := openDatabase(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	reg := registry.NewSQLiteRegistry(db.DB)

	dev, err := reg.LoadDeviceConfig(ctx, deviceID)
	if err != nil {
		return err
	}
	rules, err := loadRules(cfg.Migration.RulesFile)
	if err != nil {
		return err
	}

	svc := openServices(ctx, cfg, log, fmt.Sprintf("%s-%s", cfg.MQTT.Broker.ClientID, deviceID))
	defer svc.close()

	w, err := worker.New(dev, worker.FromConfig(cfg, dev.Transport), svc.workerDeps(reg, rules, nil, nil, log))
	if err != nil {
		return err
	}

	log.Info("worker starting", "address", dev.Address(), "revision", dev.Revision)
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("worker %s: %w", deviceID, err)
	}
	log.Info("worker stopped", "reconnects", w.Reconnects())
	return nil
}
