// Package txn coordinates the per-file write transaction: dry-run
// preview, interactive confirmation, backup, atomic replace, and
// restore-on-failure. It is the thing that stands between a VM run and
// the target file actually changing on disk.
package txn

import (
	"fmt"

	"sedx/pkg/backup"
	"sedx/pkg/core"
	"sedx/pkg/core/fs"
)

// ConfirmFunc asks the user whether to apply the shown diff to path. It
// is only ever called when Options.Interactive is set and the run
// actually changed something.
type ConfirmFunc func(path, diff string) (bool, error)

// Options configures one Apply call.
type Options struct {
	DryRun      bool
	Interactive bool
	NoBackup    bool
	Context     int  // lines of diff context; ignored when NoContext
	NoContext   bool // render only changed lines, no surrounding context
}

// Outcome reports what Apply did to one file.
type Outcome struct {
	Path     string
	Changed  bool
	Applied  bool // the file was actually rewritten
	Skipped  bool // dry-run, or the user declined
	Diff     string
	BackupID string
}

// Runner applies transformed content to files under the transaction
// discipline described above, using ledger for backups.
type Runner struct {
	ledger  *backup.Ledger
	confirm ConfirmFunc
}

// New returns a Runner. confirm may be nil if Interactive is never set.
func New(ledger *backup.Ledger, confirm ConfirmFunc) *Runner {
	return &Runner{ledger: ledger, confirm: confirm}
}

// Apply runs transform against the current content of path and decides,
// per opts, whether and how to commit the result:
//
//  1. dry-run: diff only, file untouched, no backup.
//  2. interactive: diff shown, confirm hook gates the write.
//  3. otherwise: backup then atomic replace.
//
// On any failure once a backup has been created, Apply attempts to
// restore that backup before returning the error.
func (r *Runner) Apply(path, invocation string, opts Options, transform func(original []byte) ([]byte, error)) (*Outcome, error) {
	original, err := fs.ReadFile(path)
	if err != nil {
		return nil, &core.IoError{Path: path, Op: "read", Err: err}
	}

	updated, err := transform(original)
	if err != nil {
		return nil, err
	}

	out := &Outcome{Path: path}
	out.Changed = string(updated) != string(original)

	context := opts.Context
	if opts.NoContext {
		context = -1
	} else if context == 0 {
		context = DefaultContext
	}
	out.Diff = unifiedDiff(path, path, string(original), string(updated), context)

	if !out.Changed {
		out.Skipped = true
		return out, nil
	}

	if opts.DryRun {
		out.Skipped = true
		return out, nil
	}

	if opts.Interactive {
		if r.confirm == nil {
			return nil, fmt.Errorf("interactive mode requires a confirmation hook")
		}
		ok, err := r.confirm(path, out.Diff)
		if err != nil {
			return nil, err
		}
		if !ok {
			out.Skipped = true
			return out, nil
		}
	}

	var backupID string
	if !opts.NoBackup {
		rec, err := r.ledger.Create(path, invocation)
		if err != nil {
			return nil, err
		}
		backupID = rec.ID
		out.BackupID = rec.ID
	}

	if err := fs.AtomicWriteFile(path, updated, 0644); err != nil {
		if backupID != "" {
			if _, restoreErr := r.ledger.Restore(backupID); restoreErr != nil {
				return nil, fmt.Errorf("write failed (%w) and restore from backup %s also failed: %v", err, backupID, restoreErr)
			}
		}
		return nil, &core.IoError{Path: path, Op: "write", Err: err}
	}

	out.Applied = true
	return out, nil
}
