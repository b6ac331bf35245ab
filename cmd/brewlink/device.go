package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nerrad567/brewlink/internal/registry"
	"github.com/nerrad567/brewlink/internal/transport"
)

func newDeviceCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Manage the device registry",
	}
	cmd.AddCommand(
		newDeviceAddCmd(flags),
		newDeviceListCmd(flags),
		newDeviceActiveCmd(flags, "enable", true),
		newDeviceActiveCmd(flags, "disable", false),
		newDeviceRemoveCmd(flags),
	)
	return cmd
}

// withRegistry opens the migrated registry for one command.
func withRegistry(ctx context.Context, flags *rootFlags, fn func(*registry.SQLiteRegistry) error) error {
	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return err
	}
	db, err := openDatabase(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // read-mostly command
	return fn(registry.NewSQLiteRegistry(db.DB))
}

func newDeviceAddCmd(flags *rootFlags) *cobra.Command {
	dev := &registry.DeviceConfig{Active: true}
	var kind string
	var inactive bool

	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Add a device or replace its link settings",
		Long:  "add stores a device. Replacing an existing device bumps its revision, which restarts its worker.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dev.ID = args[0]
			dev.Transport = transport.Kind(kind)
			dev.Active = !inactive
			return withRegistry(cmd.Context(), flags, func(r *registry.SQLiteRegistry) error {
				// Keep what workers recorded on earlier revisions
				if old, err := r.LoadDeviceConfig(cmd.Context(), dev.ID); err == nil {
					dev.FirmwareVersion = old.FirmwareVersion
					dev.Settings = old.Settings
					dev.SettingsVersion = old.SettingsVersion
					dev.Leftovers = old.Leftovers
				}
				if err := r.Upsert(cmd.Context(), dev); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "device %s saved (%s %s)\n", dev.ID, dev.Transport, dev.Address())
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&dev.Name, "name", "", "display name")
	f.StringVar(&kind, "transport", string(transport.KindSerial), "serial, tcp or unix")
	f.StringVar(&dev.Port, "port", "", "serial device path")
	f.IntVar(&dev.BaudRate, "baud", 0, "serial baud rate (default from config)")
	f.StringVar(&dev.Host, "host", "", "tcp host")
	f.IntVar(&dev.TCPPort, "tcp-port", 0, "tcp port")
	f.StringVar(&dev.SocketPath, "socket", "", "unix socket path")
	f.BoolVar(&inactive, "inactive", false, "store the device without starting a worker")
	return cmd
}

func newDeviceListCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRegistry(cmd.Context(), flags, func(r *registry.SQLiteRegistry) error {
				devices, err := r.ListDevices(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tACTIVE\tTRANSPORT\tADDRESS\tFIRMWARE\tREVISION")
				for _, d := range devices {
					fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\t%s\t%d\n",
						d.ID, d.Name, d.Active, d.Transport, d.Address(), d.FirmwareVersion, d.Revision)
				}
				return tw.Flush()
			})
		},
	}
}

func newDeviceActiveCmd(flags *rootFlags, use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: fmt.Sprintf("Mark a device %sd", use),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), flags, func(r *registry.SQLiteRegistry) error {
				if err := r.SetActive(cmd.Context(), args[0], active); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "device %s %sd\n", args[0], use)
				return nil
			})
		},
	}
}

func newDeviceRemoveCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), flags, func(r *registry.SQLiteRegistry) error {
				if err := r.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "device %s removed\n", args[0])
				return nil
			})
		},
	}
}
