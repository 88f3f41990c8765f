package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"sedx/pkg/config"
	"sedx/pkg/core"
	"sedx/pkg/engine"
	"sedx/pkg/regexflavor"
	"sedx/pkg/sandbox"
	"sedx/pkg/txn"
)

// lastExitCode carries a successful run's exit code (e.g. from q N/Q N)
// out of cobra's RunE, which only distinguishes "error" from "no
// error" — it cannot itself express "succeeded, but exit 7".
var lastExitCode int

type rootFlags struct {
	exprs       []string
	scriptFiles []string
	ere         bool
	bre         bool
	quiet       bool
	dryRun      bool
	interactive bool
	context     int
	noContext   bool
	noBackup    bool
	backupDir   string
	streaming   bool
	noStreaming bool
}

func newRootCmd(stdio *core.Stdio) *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:           "sedx [SCRIPT] [FILES...]",
		Short:         "A stream editor with transactional, backed-up in-place edits",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoot(stdio, &flags, args)
		},
	}

	f := cmd.Flags()
	f.StringArrayVarP(&flags.exprs, "expression", "e", nil, "add the script EXPR to the commands to run")
	f.StringArrayVarP(&flags.scriptFiles, "file", "f", nil, "add the contents of FILE to the commands to run")
	f.BoolVarP(&flags.ere, "ere", "E", false, "use extended regular expressions")
	f.BoolVarP(&flags.bre, "bre", "B", false, "use basic regular expressions")
	f.BoolVarP(&flags.quiet, "quiet", "n", false, "suppress automatic printing of the pattern space")
	f.BoolVar(&flags.quiet, "silent", false, "alias for --quiet")
	f.BoolVarP(&flags.dryRun, "dry-run", "d", false, "preview changes as a diff, touch nothing")
	f.BoolVarP(&flags.interactive, "interactive", "i", false, "confirm each file's changes before writing")
	f.IntVar(&flags.context, "context", 0, "lines of diff context (default 3); 0 selects the configured default, not zero lines, and values are not range-checked")
	f.BoolVar(&flags.noContext, "no-context", false, "show only changed lines in diffs")
	f.BoolVar(&flags.noContext, "nc", false, "alias for --no-context")
	f.BoolVar(&flags.noBackup, "no-backup", false, "do not create a backup before writing")
	f.BoolVar(&flags.noBackup, "force", false, "alias for --no-backup")
	f.StringVar(&flags.backupDir, "backup-dir", "", "override the backup ledger directory")
	f.BoolVar(&flags.streaming, "streaming", false, "force streaming (non-buffered) input reads")
	f.BoolVar(&flags.noStreaming, "no-streaming", false, "force whole-file buffered input reads")

	cmd.AddCommand(newRollbackCmd(stdio))
	cmd.AddCommand(newHistoryCmd(stdio))
	cmd.AddCommand(newStatusCmd(stdio))
	cmd.AddCommand(newBackupCmd(stdio))
	cmd.AddCommand(newConfigCmd(stdio))

	return cmd
}

func runRoot(stdio *core.Stdio, flags *rootFlags, args []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}

	if flags.ere && flags.bre {
		lastExitCode = core.ExitScriptError
		return &core.ScriptError{Message: "-E/--ere and -B/--bre are mutually exclusive"}
	}

	flavor := parseFlavor(cfg.Flavor)
	if flags.ere {
		flavor = regexflavor.ERE
	}
	if flags.bre {
		flavor = regexflavor.BRE
	}

	var scriptParts []string
	scriptParts = append(scriptParts, flags.exprs...)
	for _, path := range flags.scriptFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return &core.IoError{Path: path, Op: "read", Err: err}
		}
		scriptParts = append(scriptParts, string(data))
	}

	files := args
	if len(scriptParts) == 0 {
		if len(args) == 0 {
			return errors.New("missing script or file operand")
		}
		scriptParts = []string{args[0]}
		files = args[1:]
	}

	backupDir := flags.backupDir
	if backupDir == "" {
		backupDir = cfg.BackupDir
	}
	diffContext := flags.context
	if diffContext == 0 {
		diffContext = cfg.DiffContext
	}

	logger := zerolog.New(stdio.Err).With().Timestamp().Logger().Level(zerolog.WarnLevel)

	if err := initSandbox(backupDir, files); err != nil {
		return err
	}

	eng, err := engine.New(engine.Options{
		Flavor:         flavor,
		Quiet:          flags.quiet,
		DryRun:         flags.dryRun,
		Interactive:    flags.interactive,
		NoBackup:       flags.noBackup,
		BackupDir:      backupDir,
		DiffContext:    diffContext,
		NoContext:      flags.noContext || cfg.NoContext,
		ForceStreaming: flags.streaming,
		ForceBuffered:  flags.noStreaming,
		Logger:         logger,
		Confirm:        confirmFunc(stdio),
	})
	if err != nil {
		return err
	}

	prog, err := eng.Parse(strings.Join(scriptParts, "\n"))
	if err != nil {
		lastExitCode = core.ExitScriptError
		return err
	}

	if len(files) == 0 {
		report, err := eng.RunStream(prog, stdio.In, stdio.Out)
		if err != nil {
			return err
		}
		lastExitCode = report.ExitCode
		return nil
	}

	invocation := "sedx " + strings.Join(os.Args[1:], " ")
	report, err := eng.RunFiles(prog, files, invocation)
	if err != nil {
		return err
	}
	for _, outcome := range report.Outcomes {
		printOutcome(stdio, outcome)
	}
	lastExitCode = report.ExitCode
	return nil
}

// printOutcome reports one file's transaction result on stderr, so
// stdout stays reserved for the non-transactional stdin/stdout
// pipeline. A dry-run or declined file gets its diff shown; an applied
// one gets a one-line confirmation with its backup ID.
func printOutcome(stdio *core.Stdio, outcome *txn.Outcome) {
	switch {
	case outcome.Applied:
		fmt.Fprintf(stdio.Err, "%s: rewritten (backup %s)\n", outcome.Path, outcome.BackupID)
	case outcome.Skipped && outcome.Changed:
		if outcome.Diff != "" {
			fmt.Fprint(stdio.Err, outcome.Diff)
		}
		fmt.Fprintf(stdio.Err, "%s: not written (dry-run or declined)\n", outcome.Path)
	case !outcome.Changed:
		fmt.Fprintf(stdio.Err, "%s: unchanged\n", outcome.Path)
	}
}

// confirmFunc prompts on stdio.Err (so the diff and the prompt stay out
// of any piped stdout) and reads a y/n answer from stdio.In. When
// stdio.In isn't a terminal, it declines rather than blocking forever.
func confirmFunc(stdio *core.Stdio) func(path, diff string) (bool, error) {
	return func(path, diff string) (bool, error) {
		fmt.Fprintln(stdio.Err, diff)
		if f, ok := stdio.In.(*os.File); ok && !term.IsTerminal(int(f.Fd())) {
			fmt.Fprintf(stdio.Err, "%s: not a terminal, skipping\n", path)
			return false, nil
		}
		fmt.Fprintf(stdio.Err, "Apply changes to %s? [y/N] ", path)
		reader := bufio.NewReader(stdio.In)
		line, err := reader.ReadString('\n')
		if err != nil {
			return false, nil
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes", nil
	}
}

// initSandbox confines every fs.* call the run makes (through
// pkg/core/fs, which forwards to pkg/sandbox) to the backup ledger
// directory plus the directories of the files actually named on the
// command line — exactly the paths a sedx invocation reads from or
// writes to. The stdin/stdout pipeline still goes through this with
// just the backup directory rule, since Engine.New always opens the
// ledger even when no file is rewritten.
func initSandbox(backupDir string, files []string) error {
	cfg := &sandbox.Config{
		AllowedPaths: []sandbox.PathRule{
			{Path: backupDir, Permission: sandbox.PermRead | sandbox.PermWrite},
		},
	}
	for _, f := range files {
		cfg.AllowedPaths = append(cfg.AllowedPaths, sandbox.PathRule{
			Path:       filepath.Dir(f),
			Permission: sandbox.PermRead | sandbox.PermWrite,
		})
	}
	return sandbox.Init(cfg)
}

func parseFlavor(name string) regexflavor.Flavor {
	if f, ok := regexflavor.ParseFlavor(name); ok {
		return f
	}
	return regexflavor.PCRE
}

func exitCodeFromError(err error) int {
	var scriptErr *core.ScriptError
	var regexErr *core.RegexError
	var backupErr *core.BackupError
	switch {
	case errors.As(err, &scriptErr), errors.As(err, &regexErr):
		return core.ExitScriptError
	case errors.As(err, &backupErr):
		return core.ExitBackupError
	default:
		return core.ExitFailure
	}
}
