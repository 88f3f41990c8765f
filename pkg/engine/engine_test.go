package engine_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sedx/pkg/engine"
	"sedx/pkg/regexflavor"
)

func newEngine(t *testing.T, opts engine.Options) *engine.Engine {
	t.Helper()
	if opts.BackupDir == "" {
		opts.BackupDir = t.TempDir()
	}
	e, err := engine.New(opts)
	require.NoError(t, err)
	return e
}

func TestRunStreamSubstitutes(t *testing.T) {
	e := newEngine(t, engine.Options{Flavor: regexflavor.ERE})
	prog, err := e.Parse("s/foo/bar/")
	require.NoError(t, err)

	var out bytes.Buffer
	report, err := e.RunStream(prog, strings.NewReader("foo\nbaz\n"), &out)
	require.NoError(t, err)
	assert.Equal(t, 0, report.ExitCode)
	assert.Equal(t, "bar\nbaz\n", out.String())
}

func TestRunFilesWritesAndBacksUp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("foo\n"), 0644))

	e := newEngine(t, engine.Options{Flavor: regexflavor.ERE})
	prog, err := e.Parse("s/foo/bar/")
	require.NoError(t, err)

	report, err := e.RunFiles(prog, []string{path}, "sedx s/foo/bar/ file.txt")
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	assert.True(t, report.Outcomes[0].Applied)
	assert.NotEmpty(t, report.Outcomes[0].BackupID)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "bar\n", string(data))
}

func TestRunFilesDryRunLeavesFileUntouched(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("foo\n"), 0644))

	e := newEngine(t, engine.Options{Flavor: regexflavor.ERE, DryRun: true})
	prog, err := e.Parse("s/foo/bar/")
	require.NoError(t, err)

	report, err := e.RunFiles(prog, []string{path}, "sedx -d s/foo/bar/ file.txt")
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	assert.False(t, report.Outcomes[0].Applied)
	assert.Contains(t, report.Outcomes[0].Diff, "-foo")
	assert.Contains(t, report.Outcomes[0].Diff, "+bar")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "foo\n", string(data))
}

func TestRunFilesHonorsQuitExitCode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\nc\n"), 0644))

	e := newEngine(t, engine.Options{Flavor: regexflavor.ERE})
	prog, err := e.Parse("2q7")
	require.NoError(t, err)

	report, err := e.RunFiles(prog, []string{path}, "sedx 2q7 file.txt")
	require.NoError(t, err)
	assert.Equal(t, 7, report.ExitCode)
}
