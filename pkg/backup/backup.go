// Package backup implements the backup ledger: one snapshot directory
// per timestamped backup ID plus an append-only index, consulted by the
// transaction wrapper before every in-place edit and by the rollback
// CLI surface afterward.
package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"sedx/pkg/core"
	"sedx/pkg/core/fs"
)

// Record is one backup ledger entry. Field names match the meta.json
// wire format: id, path, snapshot, size, sha256, timestamp_unix,
// invocation.
type Record struct {
	ID            string `json:"id"`
	Path          string `json:"path"`
	Snapshot      string `json:"snapshot"`
	Size          int64  `json:"size"`
	SHA256        string `json:"sha256"`
	TimestampUnix int64  `json:"timestamp_unix"`
	Invocation    string `json:"invocation"`
}

// Policy configures Prune's retention rule. The zero value keeps every
// backup forever: the source left the default retention policy
// unspecified, so "keep everything" is the safe default and age/count
// limits are opt-in.
type Policy struct {
	MaxAge   time.Duration // 0 means no age limit
	MaxCount int           // 0 means no count limit
}

// Ledger manages the on-disk backup directory: one subdirectory per
// record (snapshot.bin + meta.json) plus an append-only index.log.
type Ledger struct {
	dir string
}

// DefaultDir resolves the ledger directory per $SEDX_BACKUP_DIR, falling
// back to ~/.sedx/backups.
func DefaultDir() string {
	if d := os.Getenv("SEDX_BACKUP_DIR"); d != "" {
		return d
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sedx/backups"
	}
	return filepath.Join(home, ".sedx", "backups")
}

// Open returns a Ledger rooted at dir, creating it if necessary. Pass ""
// to use DefaultDir.
func Open(dir string) (*Ledger, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, &core.BackupError{Op: "open", Message: err.Error()}
	}
	return &Ledger{dir: dir}, nil
}

// Dir returns the ledger's root directory.
func (l *Ledger) Dir() string { return l.dir }

func (l *Ledger) indexPath() string { return filepath.Join(l.dir, "index.log") }
func (l *Ledger) lockPath() string  { return filepath.Join(l.dir, "index.log.lock") }

// lock acquires the exclusive advisory lock on index.log.lock via
// O_EXCL creation, polling briefly on contention. This is a portable
// substitute for a blocking file lock syscall: the index append it
// guards is a few bytes, so real contention is short-lived.
func (l *Ledger) lock() (func(), error) {
	path := l.lockPath()
	deadline := time.Now().Add(5 * time.Second)
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			f.Close()
			return func() { os.Remove(path) }, nil
		}
		if !os.IsExist(err) {
			return nil, &core.BackupError{Op: "lock", Message: err.Error()}
		}
		if time.Now().After(deadline) {
			return nil, &core.BackupError{Op: "lock", Message: "timed out waiting for index.log.lock"}
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// Create snapshots path into a fresh backup record: the snapshot is
// fsynced, then meta.json, then the index.log append, in that order.
// Only once Create returns successfully may the caller mutate path.
func (l *Ledger) Create(path, invocation string) (*Record, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &core.BackupError{Op: "create", Message: err.Error()}
	}
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, &core.IoError{Path: path, Op: "read", Err: err}
	}

	now := time.Now().UTC()
	id := newID(now)
	recDir := filepath.Join(l.dir, id)
	if err := fs.MkdirAll(recDir, 0755); err != nil {
		return nil, &core.BackupError{ID: id, Op: "create", Message: err.Error()}
	}

	snapPath := filepath.Join(recDir, "snapshot.bin")
	if err := writeFileFsync(snapPath, data); err != nil {
		return nil, &core.BackupError{ID: id, Op: "create", Message: err.Error()}
	}

	sum := sha256.Sum256(data)
	rec := &Record{
		ID:            id,
		Path:          abs,
		Snapshot:      snapPath,
		Size:          int64(len(data)),
		SHA256:        hex.EncodeToString(sum[:]),
		TimestampUnix: now.Unix(),
		Invocation:    invocation,
	}

	metaBytes, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, &core.BackupError{ID: id, Op: "create", Message: err.Error()}
	}
	if err := writeFileFsync(filepath.Join(recDir, "meta.json"), metaBytes); err != nil {
		return nil, &core.BackupError{ID: id, Op: "create", Message: err.Error()}
	}

	unlock, err := l.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()
	if err := appendIndexFsync(l.indexPath(), id); err != nil {
		return nil, &core.BackupError{ID: id, Op: "create", Message: err.Error()}
	}

	return rec, nil
}

// List returns every record in the index, newest first, silently
// skipping any ID whose meta.json or snapshot is missing or unreadable.
// Remove writes no tombstone: a removed backup's ID stays in index.log
// and is skipped here because its directory is gone.
func (l *Ledger) List() ([]*Record, error) {
	data, err := fs.ReadFile(l.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &core.BackupError{Op: "list", Message: err.Error()}
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	seen := make(map[string]bool, len(lines))
	var records []*Record
	for i := len(lines) - 1; i >= 0; i-- {
		id := strings.TrimSpace(lines[i])
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if rec, err := l.Show(id); err == nil {
			records = append(records, rec)
		}
	}
	return records, nil
}

// Show returns the meta record for id.
func (l *Ledger) Show(id string) (*Record, error) {
	metaPath := filepath.Join(l.dir, id, "meta.json")
	data, err := fs.ReadFile(metaPath)
	if err != nil {
		return nil, &core.BackupError{ID: id, Op: "show", Message: "no such backup"}
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, &core.BackupError{ID: id, Op: "show", Message: "corrupt meta.json"}
	}
	if _, err := fs.Stat(rec.Snapshot); err != nil {
		return nil, &core.BackupError{ID: id, Op: "show", Message: "missing snapshot"}
	}
	return &rec, nil
}

// Restore copies id's snapshot back over its recorded original path,
// atomically. A fresh "pre-restore" backup of the file's current
// content is taken first (when the file still exists), so a restore is
// itself reversible through the same ledger.
func (l *Ledger) Restore(id string) (*Record, error) {
	rec, err := l.Show(id)
	if err != nil {
		return nil, err
	}
	if _, statErr := fs.Stat(rec.Path); statErr == nil {
		if _, err := l.Create(rec.Path, "rollback "+id); err != nil {
			return nil, err
		}
	}
	data, err := fs.ReadFile(rec.Snapshot)
	if err != nil {
		return nil, &core.BackupError{ID: id, Op: "restore", Message: err.Error()}
	}
	if err := fs.AtomicWriteFile(rec.Path, data, 0644); err != nil {
		return nil, &core.BackupError{ID: id, Op: "restore", Message: err.Error()}
	}
	return rec, nil
}

// Remove deletes a backup's directory. The index stays append-only;
// List simply skips IDs whose directory is gone.
func (l *Ledger) Remove(id string) error {
	dir := filepath.Join(l.dir, id)
	if _, err := fs.Stat(dir); err != nil {
		return &core.BackupError{ID: id, Op: "remove", Message: "no such backup"}
	}
	if err := fs.RemoveAll(dir); err != nil {
		return &core.BackupError{ID: id, Op: "remove", Message: err.Error()}
	}
	return nil
}

// Prune removes backups outside policy, oldest first, and returns the
// IDs it removed. The zero Policy keeps everything.
func (l *Ledger) Prune(policy Policy) ([]string, error) {
	records, err := l.List()
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].TimestampUnix < records[j].TimestampUnix })

	marked := map[string]bool{}
	var toRemove []*Record
	if policy.MaxAge > 0 {
		cutoff := time.Now().Add(-policy.MaxAge).Unix()
		for _, r := range records {
			if r.TimestampUnix < cutoff {
				toRemove = append(toRemove, r)
				marked[r.ID] = true
			}
		}
	}
	if policy.MaxCount > 0 && len(records) > policy.MaxCount {
		for _, r := range records[:len(records)-policy.MaxCount] {
			if !marked[r.ID] {
				toRemove = append(toRemove, r)
				marked[r.ID] = true
			}
		}
	}

	var removed []string
	for _, r := range toRemove {
		if err := l.Remove(r.ID); err != nil {
			return removed, err
		}
		removed = append(removed, r.ID)
	}
	return removed, nil
}

func newID(t time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return t.Format("20060102-150405") + "-" + suffix
}

func writeFileFsync(path string, data []byte) error {
	f, err := fs.Create(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func appendIndexFsync(path, id string) error {
	f, err := fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(id + "\n"); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
