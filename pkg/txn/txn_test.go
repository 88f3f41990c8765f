package txn_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sedx/pkg/backup"
	"sedx/pkg/txn"
)

func setup(t *testing.T, content string) (*txn.Runner, string) {
	t.Helper()
	ledger, err := backup.Open(t.TempDir())
	require.NoError(t, err)
	dir := t.TempDir()
	path := filepath.Join(dir, "target.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return txn.New(ledger, nil), path
}

func upper(original []byte) ([]byte, error) {
	return bytes.ToUpper(original), nil
}

func identity(original []byte) ([]byte, error) {
	return original, nil
}

func TestApplyWritesAndBacksUp(t *testing.T) {
	r, path := setup(t, "hello\n")

	out, err := r.Apply(path, "sedx y/a-z/A-Z/ target.txt", txn.Options{}, upper)
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.True(t, out.Changed)
	assert.NotEmpty(t, out.BackupID)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "HELLO\n", string(data))
}

func TestApplyDryRunLeavesFileUntouched(t *testing.T) {
	r, path := setup(t, "hello\n")

	out, err := r.Apply(path, "sedx -d y/a-z/A-Z/ target.txt", txn.Options{DryRun: true}, upper)
	require.NoError(t, err)
	assert.False(t, out.Applied)
	assert.True(t, out.Skipped)
	assert.Contains(t, out.Diff, "-hello")
	assert.Contains(t, out.Diff, "+HELLO")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestApplyNoopSkipsBackup(t *testing.T) {
	r, path := setup(t, "hello\n")

	out, err := r.Apply(path, "sedx s/zzz/yyy/ target.txt", txn.Options{}, identity)
	require.NoError(t, err)
	assert.False(t, out.Changed)
	assert.True(t, out.Skipped)
	assert.Empty(t, out.BackupID)
}

func TestApplyNoBackupStillWrites(t *testing.T) {
	r, path := setup(t, "hello\n")

	out, err := r.Apply(path, "sedx --force y/a-z/A-Z/ target.txt", txn.Options{NoBackup: true}, upper)
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Empty(t, out.BackupID)
}

func TestApplyInteractiveDeclineLeavesFileUntouched(t *testing.T) {
	ledger, err := backup.Open(t.TempDir())
	require.NoError(t, err)
	dir := t.TempDir()
	path := filepath.Join(dir, "target.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello\n"), 0644))

	r := txn.New(ledger, func(p, diff string) (bool, error) { return false, nil })
	out, err := r.Apply(path, "sedx -i y/a-z/A-Z/ target.txt", txn.Options{Interactive: true}, upper)
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.False(t, out.Applied)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestApplyInteractiveAcceptWrites(t *testing.T) {
	ledger, err := backup.Open(t.TempDir())
	require.NoError(t, err)
	dir := t.TempDir()
	path := filepath.Join(dir, "target.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello\n"), 0644))

	r := txn.New(ledger, func(p, diff string) (bool, error) { return true, nil })
	out, err := r.Apply(path, "sedx -i y/a-z/A-Z/ target.txt", txn.Options{Interactive: true}, upper)
	require.NoError(t, err)
	assert.True(t, out.Applied)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "HELLO\n", string(data))
}

func TestApplyNoContextOmitsSurroundingLines(t *testing.T) {
	r, path := setup(t, "a\nb\nc\nd\ne\n")

	changeB := func(original []byte) ([]byte, error) {
		return bytes.Replace(original, []byte("b\n"), []byte("B\n"), 1), nil
	}

	out, err := r.Apply(path, "sedx -d --no-context s/b/B/ target.txt", txn.Options{DryRun: true, NoContext: true}, changeB)
	require.NoError(t, err)
	assert.NotContains(t, out.Diff, " a\n")
	assert.Contains(t, out.Diff, "-b")
	assert.Contains(t, out.Diff, "+B")
}
