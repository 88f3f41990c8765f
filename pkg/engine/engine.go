// Package engine is the facade that ties the parser, VM, streaming
// input layer, backup ledger and transaction wrapper together into the
// two shapes a caller actually needs: run over stdin/stdout, or run
// transactionally over a list of files. Everything outside this
// package that drives it — flag parsing, the confirmation prompt, diff
// colorization — is an external collaborator per the engine's own
// scope: this package exposes the programmatic hooks, never prompts or
// renders anything itself.
package engine

import (
	"bufio"
	"io"

	"github.com/rs/zerolog"

	"sedx/pkg/backup"
	"sedx/pkg/core"
	"sedx/pkg/regexflavor"
	"sedx/pkg/script"
	"sedx/pkg/stream"
	"sedx/pkg/txn"
	"sedx/pkg/vm"
)

// Options configures an Engine. The zero value is usable: PCRE flavor,
// verbose autoprint, default streaming threshold, a disabled logger,
// and backups on.
type Options struct {
	Flavor             regexflavor.Flavor
	Quiet              bool
	DryRun             bool
	Interactive        bool
	NoBackup           bool
	BackupDir          string
	DiffContext        int
	NoContext          bool
	ForceStreaming     bool
	ForceBuffered      bool
	StreamingThreshold int64
	Logger             zerolog.Logger
	Confirm            txn.ConfirmFunc
}

// Engine runs a parsed script.Program against inputs, either as a
// straight stdin-to-stdout filter or transactionally against files on
// disk.
type Engine struct {
	opts   Options
	ledger *backup.Ledger
	runner *txn.Runner
}

// New constructs an Engine, opening (and creating if needed) the
// backup ledger directory named in opts.
func New(opts Options) (*Engine, error) {
	ledger, err := backup.Open(opts.BackupDir)
	if err != nil {
		return nil, err
	}
	return &Engine{
		opts:   opts,
		ledger: ledger,
		runner: txn.New(ledger, opts.Confirm),
	}, nil
}

// Ledger exposes the backup ledger backing this Engine. The CLI's
// rollback/history/status/backup subcommands open the ledger themselves
// and do not go through an Engine.
func (e *Engine) Ledger() *backup.Ledger { return e.ledger }

// Parse compiles script source under the Engine's configured flavor.
func (e *Engine) Parse(src string) (*script.Program, error) {
	return script.Parse(src, script.Options{Flavor: e.opts.Flavor})
}

// RunReport describes the overall outcome of one invocation across
// every file (or the single stdin/stdout stream).
type RunReport struct {
	ExitCode int
	Outcomes []*txn.Outcome // empty for the stdin/stdout path
}

// RunStream executes prog once over in, writing to out, with no
// backup, diff, or file replacement involved: the stdin/stdout
// pipeline described in §6, where "no backup or rename path is
// exercised."
func (e *Engine) RunStream(prog *script.Program, in io.Reader, out io.Writer) (RunReport, error) {
	mode := stream.Select(-1, e.opts.ForceStreaming, e.opts.ForceBuffered)
	var src stream.Source
	var err error
	if mode == stream.ModeBuffered {
		src, err = stream.NewBufferedSource([]string{"-"}, in)
	} else {
		src, err = stream.NewStreamingSource([]string{"-"}, in)
	}
	if err != nil {
		return RunReport{ExitCode: core.ExitFailure}, err
	}

	e.opts.Logger.Debug().Str("mode", modeName(mode)).Msg("engine: running stdin/stdout pipeline")

	m := vm.New(prog, e.opts.Quiet)
	defer m.Close()
	w := bufio.NewWriter(out)
	res, err := m.Run(src, w)
	if err != nil {
		return RunReport{ExitCode: core.ExitFailure}, err
	}
	if err := w.Flush(); err != nil {
		return RunReport{ExitCode: core.ExitFailure}, err
	}
	return RunReport{ExitCode: exitCodeFor(res)}, nil
}

// RunFiles executes prog transactionally over each path in paths: dry
// run, interactive confirm, backup, atomic replace, per pkg/txn. It
// stops at the first file whose transform fails with an error other
// than one already reported through the returned outcomes.
//
// Streaming mode selection does not apply here: the transaction
// wrapper needs the whole original file in memory to diff it before
// deciding whether to write anything, so the per-file transform always
// runs buffered. ForceStreaming/ForceBuffered govern RunStream's
// stdin/stdout pipeline, which has no diff step to serve; its input size
// is not known up front, so StreamingThreshold is not consulted there
// either and it runs buffered unless streaming is forced.
//
// Each file gets its own vm.Machine, so hold space, the line counter and
// range state start fresh for every file and do not carry over from one
// file to the next.
func (e *Engine) RunFiles(prog *script.Program, paths []string, invocation string) (RunReport, error) {
	report := RunReport{ExitCode: core.ExitSuccess}

	for _, path := range paths {
		var runRes vm.Result
		txnOpts := txn.Options{
			DryRun:      e.opts.DryRun,
			Interactive: e.opts.Interactive,
			NoBackup:    e.opts.NoBackup,
			Context:     e.opts.DiffContext,
			NoContext:   e.opts.NoContext,
		}

		outcome, err := e.runner.Apply(path, invocation, txnOpts, func(original []byte) ([]byte, error) {
			src := stream.NewBufferedSourceFromBytes(path, original)
			m := vm.New(prog, e.opts.Quiet)
			defer m.Close()
			var buf writerBuffer
			w := bufio.NewWriter(&buf)
			res, err := m.Run(src, w)
			if err != nil {
				return nil, err
			}
			if err := w.Flush(); err != nil {
				return nil, err
			}
			runRes = res
			return buf.Bytes(), nil
		})
		if err != nil {
			e.opts.Logger.Error().Err(err).Str("path", path).Msg("engine: transaction failed")
			return RunReport{ExitCode: core.ExitFailure, Outcomes: report.Outcomes}, err
		}

		report.Outcomes = append(report.Outcomes, outcome)
		if outcome.Applied {
			e.opts.Logger.Info().Str("path", path).Str("backup_id", outcome.BackupID).Msg("engine: file rewritten")
		}
		if code := exitCodeFor(runRes); code != core.ExitSuccess {
			report.ExitCode = code
		}
	}

	return report, nil
}

func exitCodeFor(res vm.Result) int {
	if res.HasExitCode && res.ExitCode > 0 {
		return res.ExitCode
	}
	return core.ExitSuccess
}

func modeName(m stream.Mode) string {
	if m == stream.ModeStreaming {
		return "streaming"
	}
	return "buffered"
}

// writerBuffer is a minimal io.Writer collecting bytes, avoiding a
// bytes.Buffer import purely for this one internal use.
type writerBuffer struct {
	data []byte
}

func (b *writerBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *writerBuffer) Bytes() []byte { return b.data }
