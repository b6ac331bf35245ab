package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/brewlink/internal/migrate"
)

type migrateFlags struct {
	settings string
	from     string
	to       string
	rules    string
}

// migrateOutput is what the migrate command prints.
type migrateOutput struct {
	Restored migrate.Settings `json:"restored"`
	Leftover map[string]any   `json:"leftover"`
}

func newMigrateCmd() *cobra.Command {
	f := &migrateFlags{}
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Show how saved settings carry over between firmware versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(f.settings)
			if err != nil {
				return fmt.Errorf("reading settings: %w", err)
			}
			var old map[string]any
			if err := json.Unmarshal(data, &old); err != nil {
				return fmt.Errorf("parsing settings: %w", err)
			}
			rules, err := loadRules(f.rules)
			if err != nil {
				return err
			}

			res := migrate.MigrateStrings(rules, old, f.from, f.to)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(migrateOutput{Restored: res.Restored, Leftover: res.Leftover})
		},
	}
	cmd.Flags().StringVar(&f.settings, "settings", "", "JSON file holding the saved settings")
	cmd.Flags().StringVar(&f.from, "from", "", "firmware version the settings were saved under")
	cmd.Flags().StringVar(&f.to, "to", "", "firmware version to migrate to")
	cmd.Flags().StringVar(&f.rules, "rules", "", "YAML rule table (default built-in)")
	for _, name := range []string{"settings", "from", "to"} {
		_ = cmd.MarkFlagRequired(name) //nolint:errcheck // flag exists
	}
	return cmd
}
