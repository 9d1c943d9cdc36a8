// Package memory implements an in-process reference Backend, used by tests
// and by single-process demo runs: the same read/lock/write/unlock shape as
// the filesystem-backed backend, minus the filesystem, using
// mitchellh/copystructure to guarantee a caller mutating a returned
// Snapshot can never corrupt the backend's copy.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mitchellh/copystructure"

	"github.com/cloudrt/cloudrt/internal/backend"
	"github.com/cloudrt/cloudrt/internal/rterrors"
)

type stackState struct {
	snapshot backend.Snapshot
	lock     *backend.LockInfo
	audit    []backend.AuditEntry
}

// Backend is a Backend implementation that lives entirely in process
// memory; state does not survive process restart.
type Backend struct {
	mu     sync.Mutex
	stacks map[string]*stackState
}

// New constructs an empty memory backend.
func New() *Backend {
	return &Backend{stacks: map[string]*stackState{}}
}

func (b *Backend) stack(name string) *stackState {
	s, ok := b.stacks[name]
	if !ok {
		s = &stackState{}
		b.stacks[name] = s
	}
	return s
}

func deepCopy[T any](v T) (T, error) {
	cp, err := copystructure.Copy(v)
	if err != nil {
		var zero T
		return zero, err
	}
	return cp.(T), nil
}

func (b *Backend) Read(_ context.Context, stack string) (backend.Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap, err := deepCopy(b.stack(stack).snapshot)
	if err != nil {
		return backend.Snapshot{}, rterrors.BackendOperationFailed("read", err)
	}
	return snap, nil
}

func (b *Backend) Write(_ context.Context, stack, lockID string, snap backend.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stack(stack)
	if s.lock == nil || s.lock.ID != lockID {
		return rterrors.LockLost(stack)
	}
	cp, err := deepCopy(snap)
	if err != nil {
		return rterrors.BackendOperationFailed("write", err)
	}
	if cp.Serial <= s.snapshot.Serial && s.snapshot.Serial != 0 {
		cp.Serial = s.snapshot.Serial + 1
	}
	s.snapshot = cp
	return nil
}

func (b *Backend) Lock(_ context.Context, stack, holder string, ttl time.Duration) (backend.LockInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stack(stack)
	now := time.Now()
	if s.lock != nil && s.lock.ExpiresAt.After(now) {
		return backend.LockInfo{}, rterrors.LockAcquisitionFailed(stack, s.lock.Holder)
	}
	info := backend.LockInfo{ID: holder + "-" + now.Format(time.RFC3339Nano), Holder: holder, AcquiredAt: now, ExpiresAt: now.Add(ttl)}
	s.lock = &info
	return info, nil
}

func (b *Backend) Renew(_ context.Context, stack, lockID string, ttl time.Duration) (backend.LockInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stack(stack)
	if s.lock == nil || s.lock.ID != lockID || s.lock.ExpiresAt.Before(time.Now()) {
		return backend.LockInfo{}, rterrors.LockLost(stack)
	}
	s.lock.ExpiresAt = time.Now().Add(ttl)
	return *s.lock, nil
}

func (b *Backend) Unlock(_ context.Context, stack, lockID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stack(stack)
	if s.lock == nil || s.lock.ID != lockID {
		return nil // already gone: tolerated, matching LocalState.Unlock
	}
	s.lock = nil
	return nil
}

func (b *Backend) AppendAudit(_ context.Context, stack string, entry backend.AuditEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stack(stack)
	s.audit = append(s.audit, entry)
	return nil
}

// Audit returns a copy of every audit entry recorded for stack, used by
// tests asserting on the audit trail.
func (b *Backend) Audit(stack string) []backend.AuditEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stack(stack)
	out := make([]backend.AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}
