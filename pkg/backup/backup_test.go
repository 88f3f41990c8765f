package backup_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sedx/pkg/backup"
)

func newLedger(t *testing.T) *backup.Ledger {
	t.Helper()
	l, err := backup.Open(t.TempDir())
	require.NoError(t, err)
	return l
}

func writeTarget(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "target.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestCreateAndShow(t *testing.T) {
	l := newLedger(t)
	dir := t.TempDir()
	target := writeTarget(t, dir, "hello\n")

	rec, err := l.Create(target, "sedx -i s/hello/world/ target.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(len("hello\n")), rec.Size)
	assert.NotEmpty(t, rec.SHA256)
	assert.Regexp(t, `^\d{8}-\d{6}-[0-9a-f]{8}$`, rec.ID)

	got, err := l.Show(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.SHA256, got.SHA256)
}

func TestListNewestFirst(t *testing.T) {
	l := newLedger(t)
	dir := t.TempDir()
	target := writeTarget(t, dir, "v1\n")

	first, err := l.Create(target, "edit 1")
	require.NoError(t, err)
	time.Sleep(time.Second) // IDs are second-granularity
	require.NoError(t, os.WriteFile(target, []byte("v2\n"), 0644))
	second, err := l.Create(target, "edit 2")
	require.NoError(t, err)

	records, err := l.List()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, second.ID, records[0].ID)
	assert.Equal(t, first.ID, records[1].ID)
}

func TestRestoreRoundTrips(t *testing.T) {
	l := newLedger(t)
	dir := t.TempDir()
	target := writeTarget(t, dir, "original\n")

	rec, err := l.Create(target, "before edit")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(target, []byte("mutated\n"), 0644))

	restored, err := l.Restore(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, restored.ID)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "original\n", string(data))

	// The pre-restore state itself was backed up.
	records, err := l.List()
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestRemoveDropsBackupFromList(t *testing.T) {
	l := newLedger(t)
	dir := t.TempDir()
	target := writeTarget(t, dir, "content\n")

	rec, err := l.Create(target, "edit")
	require.NoError(t, err)

	require.NoError(t, l.Remove(rec.ID))

	_, err = l.Show(rec.ID)
	assert.Error(t, err)

	records, err := l.List()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestPruneByMaxCount(t *testing.T) {
	l := newLedger(t)
	dir := t.TempDir()
	target := writeTarget(t, dir, "v0\n")

	var ids []string
	for i := 0; i < 3; i++ {
		rec, err := l.Create(target, "edit")
		require.NoError(t, err)
		ids = append(ids, rec.ID)
		time.Sleep(time.Second)
		require.NoError(t, os.WriteFile(target, []byte("v\n"), 0644))
	}

	removed, err := l.Prune(backup.Policy{MaxCount: 1})
	require.NoError(t, err)
	assert.ElementsMatch(t, ids[:2], removed)

	records, err := l.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, ids[2], records[0].ID)
}

func TestPruneZeroPolicyKeepsEverything(t *testing.T) {
	l := newLedger(t)
	dir := t.TempDir()
	target := writeTarget(t, dir, "v0\n")
	_, err := l.Create(target, "edit")
	require.NoError(t, err)

	removed, err := l.Prune(backup.Policy{})
	require.NoError(t, err)
	assert.Empty(t, removed)

	records, err := l.List()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestShowMissingIDErrors(t *testing.T) {
	l := newLedger(t)
	_, err := l.Show("20260101-000000-deadbeef")
	assert.Error(t, err)
}

func TestDefaultDirHonorsEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SEDX_BACKUP_DIR", dir)
	assert.Equal(t, dir, backup.DefaultDir())
}
