// Command brewlink supervises temperature controller links.
//
//	brewlink supervise                 run the supervisor daemon
//	brewlink worker --device <id>      run one device link (spawned by supervise)
//	brewlink migrate ...               dry-run a settings migration
//	brewlink device ...                manage the device registry
//	brewlink version                   print build information
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configEnv         = "BREWLINK_CONFIG"
)

func main() {
	// Cancel on Ctrl+C and on SIGTERM from a supervising parent
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "brewlink",
		Short:         "Supervise temperature controller links",
		Long:          "brewlink keeps one worker per active controller and restarts workers as devices come and go.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "",
		"config file (default $"+configEnv+" or "+defaultConfigPath+")")

	cmd.AddCommand(
		newSuperviseCmd(flags),
		newWorkerCmd(flags),
		newMigrateCmd(),
		newDeviceCmd(flags),
		newVersionCmd(),
	)
	return cmd
}

// resolveConfigPath picks the flag, then the environment, then the default.
func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv(configEnv); env != "" {
		return env
	}
	return defaultConfigPath
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "brewlink %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
