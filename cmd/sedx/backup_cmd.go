package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"sedx/pkg/backup"
	"sedx/pkg/config"
	"sedx/pkg/core"
	"sedx/pkg/sandbox"
)

// openLedger resolves the ledger directory (an explicit --backup-dir
// override, or the configured one) and confines every fs.* call these
// management commands make to that directory plus the current working
// directory, since a restore's target path comes from the backup
// record itself and isn't known ahead of time — unlike the root
// command, which already has its file list in hand.
func openLedger(dirOverride string) (*backup.Ledger, error) {
	dir := dirOverride
	if dir == "" {
		cfg, err := config.Load("")
		if err != nil {
			return nil, err
		}
		dir = cfg.BackupDir
	}
	if err := sandbox.Init(&sandbox.Config{
		AllowedPaths: []sandbox.PathRule{
			{Path: dir, Permission: sandbox.PermRead | sandbox.PermWrite},
		},
		AllowCwd:      true,
		CwdPermission: sandbox.PermRead | sandbox.PermWrite,
	}); err != nil {
		return nil, err
	}
	return backup.Open(dir)
}

func newBackupCmd(stdio *core.Stdio) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Inspect and manage the backup ledger",
	}
	cmd.PersistentFlags().StringVar(&dir, "backup-dir", "", "override the backup ledger directory")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every backup record, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := openLedger(dir)
			if err != nil {
				return err
			}
			records, err := ledger.List()
			if err != nil {
				return err
			}
			for _, r := range records {
				printRecord(stdio, r)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show ID",
		Short: "Show one backup record's detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := openLedger(dir)
			if err != nil {
				return err
			}
			rec, err := ledger.Show(args[0])
			if err != nil {
				return err
			}
			printRecord(stdio, rec)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "restore ID",
		Short: "Restore a file from a backup record, by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := openLedger(dir)
			if err != nil {
				return err
			}
			rec, err := ledger.Restore(args[0])
			if err != nil {
				return err
			}
			stdio.Printf("restored %s from %s\n", rec.Path, rec.ID)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove ID",
		Short: "Permanently delete a backup record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := openLedger(dir)
			if err != nil {
				return err
			}
			if err := ledger.Remove(args[0]); err != nil {
				return err
			}
			stdio.Printf("removed %s\n", args[0])
			return nil
		},
	})

	var maxAgeDays int
	var maxCount int
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove backups outside the retention policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := openLedger(dir)
			if err != nil {
				return err
			}
			policy := backup.Policy{MaxCount: maxCount}
			if maxAgeDays > 0 {
				policy.MaxAge = time.Duration(maxAgeDays) * 24 * time.Hour
			}
			if policy.MaxAge == 0 && policy.MaxCount == 0 {
				cfg, err := config.Load("")
				if err != nil {
					return err
				}
				policy = cfg.PrunePolicy()
			}
			if policy.MaxAge == 0 && policy.MaxCount == 0 {
				return errors.New("prune requires --max-age-days and/or --max-count, or prune_max_age_days/prune_max_count in the configuration; the default policy keeps everything")
			}
			removed, err := ledger.Prune(policy)
			if err != nil {
				return err
			}
			for _, id := range removed {
				stdio.Printf("pruned %s\n", id)
			}
			return nil
		},
	}
	pruneCmd.Flags().IntVar(&maxAgeDays, "max-age-days", 0, "remove backups older than this many days")
	pruneCmd.Flags().IntVar(&maxCount, "max-count", 0, "keep only the N most recent backups")
	cmd.AddCommand(pruneCmd)

	return cmd
}

func printRecord(stdio *core.Stdio, r *backup.Record) {
	stdio.Printf("%s  %s  %8d bytes  %s\n", r.ID, r.Path, r.Size, time.Unix(r.TimestampUnix, 0).Format(time.RFC3339))
	if r.Invocation != "" {
		stdio.Printf("    %s\n", r.Invocation)
	}
}
