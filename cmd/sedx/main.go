// Command sedx is a stream editor with a transactional, backed-up
// in-place edit mode. Run `sedx --help` for the flag surface; see
// `sedx config`, `sedx backup`, `sedx rollback`, `sedx history`, and
// `sedx status` for the ledger-facing subcommands.
package main

import (
	"os"

	"sedx/pkg/core"
)

func main() {
	stdio := core.DefaultStdio()
	cmd := newRootCmd(stdio)
	if err := cmd.Execute(); err != nil {
		os.Exit(exitCodeFromError(err))
	}
	os.Exit(lastExitCode)
}
