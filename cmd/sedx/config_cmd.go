package main

import (
	"github.com/spf13/cobra"

	"sedx/pkg/config"
	"sedx/pkg/core"
)

// newConfigCmd shows the fully-merged configuration (defaults,
// project-local .sedxrc.toml, user config file, environment) the rest
// of the CLI would use for this invocation.
func newConfigCmd(stdio *core.Stdio) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective sedx configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load("")
			if err != nil {
				return err
			}
			stdio.Printf("backup_dir            = %s\n", cfg.BackupDir)
			stdio.Printf("flavor                = %s\n", cfg.Flavor)
			stdio.Printf("diff_context          = %d\n", cfg.DiffContext)
			stdio.Printf("no_context            = %t\n", cfg.NoContext)
			stdio.Printf("prune_max_age_days    = %d\n", cfg.PruneMaxAgeDays)
			stdio.Printf("prune_max_count       = %d\n", cfg.PruneMaxCount)
			stdio.Printf("streaming_threshold   = %d\n", cfg.StreamingThreshold)
			stdio.Printf("user config file      = %s\n", config.UserConfigPath())
			return nil
		},
	}
}
