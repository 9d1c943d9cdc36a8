// Package localfile implements a Backend backed by one JSON snapshot file
// per stack on a local (or afero-abstracted) filesystem, plus a
// lockfile-per-stack advisory lock. Grounded on
// internal/command/clistate.LocalState (read/write/lock/unlock over a
// single state file) generalized from that file's direct *os.File use to
// github.com/spf13/afero so tests can swap in an in-memory filesystem, with
// the actual advisory locking still done against a real OS file via the
// internal/flock package (fcntl locks have no meaning against an in-memory
// file).
package localfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"

	"github.com/cloudrt/cloudrt/internal/backend"
	"github.com/cloudrt/cloudrt/internal/flock"
	"github.com/cloudrt/cloudrt/internal/rterrors"
)

// Backend persists one snapshot file and one audit-log file per stack under
// Dir, and takes its advisory lock against Dir/<stack>.lock.
type Backend struct {
	Dir string
	Fs  afero.Fs

	mu       sync.Mutex
	lockFile *os.File
	lockID   string
	lockHeld map[string]bool
}

// New constructs a localfile backend rooted at dir, using fs for the
// snapshot/audit data files. Pass afero.NewOsFs() for real use and
// afero.NewMemMapFs() in tests; the lock itself always goes through a real
// OS file at dir/<stack>.lock regardless of fs.
func New(dir string, fs afero.Fs) *Backend {
	if expanded, err := homedir.Expand(dir); err == nil {
		dir = expanded
	}
	return &Backend{Dir: dir, Fs: fs, lockHeld: map[string]bool{}}
}

func (b *Backend) snapshotPath(stack string) string { return filepath.Join(b.Dir, stack+".json") }
func (b *Backend) auditPath(stack string) string    { return filepath.Join(b.Dir, stack+".audit.jsonl") }
func (b *Backend) lockPath(stack string) string     { return filepath.Join(b.Dir, stack+".lock") }

func (b *Backend) Read(_ context.Context, stack string) (backend.Snapshot, error) {
	data, err := afero.ReadFile(b.Fs, b.snapshotPath(stack))
	if err != nil {
		if os.IsNotExist(err) {
			return backend.Snapshot{Stack: stack}, nil
		}
		return backend.Snapshot{}, rterrors.BackendOperationFailed("read", err)
	}
	var snap backend.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return backend.Snapshot{}, rterrors.BackendOperationFailed("read", err)
	}
	return snap, nil
}

func (b *Backend) Write(_ context.Context, stack, lockID string, snap backend.Snapshot) error {
	b.mu.Lock()
	held := b.lockHeld[stack] && b.lockID == lockID
	b.mu.Unlock()
	if !held {
		return rterrors.LockLost(stack)
	}

	if err := b.Fs.MkdirAll(b.Dir, 0o755); err != nil {
		return rterrors.BackendOperationFailed("write", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return rterrors.BackendOperationFailed("write", err)
	}
	// Write to a temp file and rename over the target for a durable,
	// all-or-nothing write even if the process crashes mid-write.
	tmp := b.snapshotPath(stack) + ".tmp"
	if err := afero.WriteFile(b.Fs, tmp, data, 0o644); err != nil {
		return rterrors.BackendOperationFailed("write", err)
	}
	if err := b.Fs.Rename(tmp, b.snapshotPath(stack)); err != nil {
		return rterrors.BackendOperationFailed("write", err)
	}
	return nil
}

func (b *Backend) Lock(_ context.Context, stack, holder string, ttl time.Duration) (backend.LockInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lockHeld[stack] {
		// flock is per process, so a second holder in this process would
		// otherwise succeed.
		return backend.LockInfo{}, rterrors.LockAcquisitionFailed(stack, holder)
	}
	if err := os.MkdirAll(b.Dir, 0o755); err != nil {
		return backend.LockInfo{}, rterrors.BackendOperationFailed("lock", err)
	}
	f, err := os.OpenFile(b.lockPath(stack), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return backend.LockInfo{}, rterrors.BackendOperationFailed("lock", err)
	}
	if err := flock.Lock(f); err != nil {
		f.Close()
		return backend.LockInfo{}, rterrors.LockAcquisitionFailed(stack, holder)
	}

	now := time.Now()
	info := backend.LockInfo{ID: fmt.Sprintf("%s-%d", holder, now.UnixNano()), Holder: holder, AcquiredAt: now, ExpiresAt: now.Add(ttl)}
	b.lockFile = f
	b.lockID = info.ID
	b.lockHeld[stack] = true
	return info, nil
}

func (b *Backend) Renew(_ context.Context, stack, lockID string, ttl time.Duration) (backend.LockInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.lockHeld[stack] || b.lockID != lockID {
		return backend.LockInfo{}, rterrors.LockLost(stack)
	}
	return backend.LockInfo{ID: lockID, ExpiresAt: time.Now().Add(ttl)}, nil
}

func (b *Backend) Unlock(_ context.Context, stack, lockID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.lockHeld[stack] || b.lockID != lockID {
		return nil
	}
	var err error
	if b.lockFile != nil {
		err = flock.Unlock(b.lockFile)
		b.lockFile.Close()
		b.lockFile = nil
	}
	delete(b.lockHeld, stack)
	b.lockID = ""
	return err
}

func (b *Backend) AppendAudit(_ context.Context, stack string, entry backend.AuditEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return rterrors.BackendOperationFailed("audit", err)
	}
	f, err := b.Fs.OpenFile(b.auditPath(stack), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return rterrors.BackendOperationFailed("audit", err)
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	if err != nil {
		return rterrors.BackendOperationFailed("audit", err)
	}
	return nil
}
