package main

import (
	"github.com/spf13/cobra"

	"sedx/pkg/core"
)

// newRollbackCmd is a thin convenience alias for `backup restore`: the
// spec's §6 CLI surface names `rollback <ID>` as its own subcommand,
// distinct from the `backup` command tree.
func newRollbackCmd(stdio *core.Stdio) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "rollback ID",
		Short: "Restore a file to a prior backup, by ID",
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
	}
	cmd.Flags().StringVar(&dir, "backup-dir", "", "override the backup ledger directory")
	return cmd
}

// newHistoryCmd lists every backup record, same data as `backup list`
// under the name the spec's CLI surface gives it directly.
func newHistoryCmd(stdio *core.Stdio) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show every backup record, newest first",
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
	}
	cmd.Flags().StringVar(&dir, "backup-dir", "", "override the backup ledger directory")
	return cmd
}

// newStatusCmd reports the ledger directory and how many records live
// in it, a quick sanity check before a rollback or prune.
func newStatusCmd(stdio *core.Stdio) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the backup ledger's location and size",
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := openLedger(dir)
			if err != nil {
				return err
			}
			records, err := ledger.List()
			if err != nil {
				return err
			}
			stdio.Printf("ledger: %s\n", ledger.Dir())
			stdio.Printf("records: %d\n", len(records))
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "backup-dir", "", "override the backup ledger directory")
	return cmd
}
