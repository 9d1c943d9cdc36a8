// Package statemachine implements the per-stack deployment lifecycle:
// PENDING/APPLYING/DEPLOYED/FAILED/ROLLED_BACK transitions, checkpointing,
// lock auto-renewal, and crash recovery. A small, explicit transition table
// guards a deployment's in-progress state, generalized from a single
// Applying/Complete/Failed shape to the full five-state machine this
// lifecycle requires, plus a lock-holding pattern for the renewal timer.
package statemachine

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	version "github.com/hashicorp/go-version"

	"github.com/cloudrt/cloudrt/internal/backend"
	"github.com/cloudrt/cloudrt/internal/idgen"
	"github.com/cloudrt/cloudrt/internal/logging"
	"github.com/cloudrt/cloudrt/internal/retry"
	"github.com/cloudrt/cloudrt/internal/rterrors"
)

// RuntimeVersion is this build's convergence-format version, stamped onto
// every snapshot so a future incompatible runtime can refuse to touch state
// it doesn't understand, the same role a terraform_version field plays in
// a Terraform-style state file.
var RuntimeVersion = version.Must(version.NewVersion("1.0.0"))

// Phase is one of the deployment lifecycle's five states.
type Phase string

const (
	Pending    Phase = "PENDING"
	Applying   Phase = "APPLYING"
	Deployed   Phase = "DEPLOYED"
	Failed     Phase = "FAILED"
	RolledBack Phase = "ROLLED_BACK"
)

var validTransitions = map[Phase]map[Phase]bool{
	Pending:  {Applying: true},
	Applying: {Deployed: true, Failed: true, RolledBack: true},
	Failed:   {RolledBack: true},
}

// RecoveryInfo is exposed for a stack found APPLYING at startup: the
// caller gets the checkpoint and node list so it may either resume the
// interrupted deployment or roll it back.
type RecoveryInfo struct {
	Checkpoint string
	Nodes      []backend.NodeRecord
}

// Machine drives one stack's deployment lifecycle against a Backend: state
// transitions, checkpointing, lock renewal, and audit entries.
type Machine struct {
	Backend     backend.Backend
	Stack       string
	RetryPolicy retry.Policy
	LockTTL     time.Duration
	Logger      hclog.Logger

	mu      sync.Mutex
	phase   Phase
	lockID  string
	cancel  context.CancelFunc
	renewWG sync.WaitGroup
}

// New constructs a Machine for stack against a backend, with sensible
// defaults for retry policy and lock TTL if the caller leaves them zero.
func New(b backend.Backend, stack string) *Machine {
	return &Machine{
		Backend:     b,
		Stack:       stack,
		RetryPolicy: retry.DefaultPolicy,
		LockTTL:     30 * time.Second,
		Logger:      logging.For("statemachine"),
	}
}

// Recover loads the persisted snapshot for the stack and, if its phase is
// APPLYING, returns RecoveryInfo describing where it was interrupted so the
// caller can decide to resume or roll back.
func (m *Machine) Recover(ctx context.Context) (*RecoveryInfo, error) {
	var snap backend.Snapshot
	err := retry.Do(ctx, m.RetryPolicy, func() error {
		s, err := m.Backend.Read(ctx, m.Stack)
		if err != nil {
			return err
		}
		snap = s
		return nil
	})
	if err != nil {
		return nil, rterrors.BackendOperationFailed("recover", err)
	}

	if snap.RuntimeVersion != "" {
		persisted, err := version.NewVersion(snap.RuntimeVersion)
		if err != nil || persisted.GreaterThan(RuntimeVersion) {
			return nil, rterrors.ValidationFailed(
				"stack " + m.Stack + " was last converged by a newer runtime (" + snap.RuntimeVersion + ") than this one (" + RuntimeVersion.String() + ")")
		}
	}

	m.mu.Lock()
	if snap.Phase == "" {
		m.phase = Pending
	} else {
		m.phase = Phase(snap.Phase)
	}
	m.mu.Unlock()

	if m.phase != Applying {
		return nil, nil
	}
	return &RecoveryInfo{Checkpoint: snap.Checkpoint, Nodes: snap.Nodes}, nil
}

// StartDeployment acquires the stack lock, transitions PENDING -> APPLYING,
// persists that transition, and starts the lock's auto-renewal timer (at
// TTL/2). A stack whose previous deployment finished (DEPLOYED, FAILED or
// ROLLED_BACK) starts its new deployment at PENDING.
func (m *Machine) StartDeployment(ctx context.Context, holder string) error {
	m.mu.Lock()
	if m.phase == "" || m.phase == Deployed || m.phase == Failed || m.phase == RolledBack {
		m.phase = Pending
	}
	if !validTransitions[m.phase][Applying] {
		phase := m.phase
		m.mu.Unlock()
		return rterrors.InvalidStateTransition(string(phase), string(Applying))
	}
	m.mu.Unlock()

	// Lock acquisition is never retried: lock holder collisions fail fast
	// rather than silently waiting out another holder.
	info, err := m.Backend.Lock(ctx, m.Stack, holder, m.LockTTL)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.lockID = info.ID
	m.phase = Applying
	m.mu.Unlock()

	if err := m.persist(ctx, backend.Snapshot{Stack: m.Stack, Phase: string(Applying)}); err != nil {
		_ = m.Backend.Unlock(ctx, m.Stack, info.ID)
		return err
	}
	m.appendAudit(ctx, "start_deployment", holder)
	m.startRenewal(ctx, holder)
	return nil
}

// Checkpoint persists progress after one node has deployed.
func (m *Machine) Checkpoint(ctx context.Context, snap backend.Snapshot, checkpoint string) error {
	snap.Stack = m.Stack
	snap.Phase = string(Applying)
	snap.Checkpoint = checkpoint
	return m.persist(ctx, snap)
}

// CompleteDeployment transitions APPLYING -> DEPLOYED, persists the final
// snapshot, stops lock renewal, and releases the lock.
func (m *Machine) CompleteDeployment(ctx context.Context, snap backend.Snapshot) error {
	return m.finish(ctx, Deployed, snap)
}

// FailDeployment transitions APPLYING -> FAILED, recording cause in the
// audit log.
func (m *Machine) FailDeployment(ctx context.Context, snap backend.Snapshot, cause error) error {
	m.appendAudit(ctx, "fail_deployment", cause.Error())
	return m.finish(ctx, Failed, snap)
}

// Rollback transitions APPLYING or FAILED -> ROLLED_BACK.
func (m *Machine) Rollback(ctx context.Context, snap backend.Snapshot) error {
	return m.finish(ctx, RolledBack, snap)
}

func (m *Machine) finish(ctx context.Context, to Phase, snap backend.Snapshot) error {
	m.mu.Lock()
	from := m.phase
	if !validTransitions[from][to] {
		m.mu.Unlock()
		return rterrors.InvalidStateTransition(string(from), string(to))
	}
	m.phase = to
	lockID := m.lockID
	m.mu.Unlock()

	snap.Stack = m.Stack
	snap.Phase = string(to)
	if err := m.persist(ctx, snap); err != nil {
		return err
	}
	m.stopRenewal()
	if lockID != "" {
		_ = m.Backend.Unlock(ctx, m.Stack, lockID)
	}
	return nil
}

func (m *Machine) persist(ctx context.Context, snap backend.Snapshot) error {
	m.mu.Lock()
	lockID := m.lockID
	m.mu.Unlock()
	snap.RuntimeVersion = RuntimeVersion.String()
	return retry.Do(ctx, m.RetryPolicy, func() error {
		return m.Backend.Write(ctx, m.Stack, lockID, snap)
	})
}

func (m *Machine) appendAudit(ctx context.Context, kind, detail string) {
	err := m.Backend.AppendAudit(ctx, m.Stack, backend.AuditEntry{
		ID: idgen.AuditID(), Stack: m.Stack, At: time.Now(), Kind: kind, Detail: detail,
	})
	if err != nil {
		// Best-effort: a failure to append an audit entry never blocks
		// deployment.
		m.Logger.Warn("audit append failed", "stack", m.Stack, "kind", kind, "error", err)
	}
}

// startRenewal launches the background goroutine that renews the stack
// lock at TTL/2. If a renewal fails, the goroutine logs the error and stops
// renewing; the deployment in progress is not aborted.
func (m *Machine) startRenewal(ctx context.Context, holder string) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	m.renewWG.Add(1)
	go func() {
		defer m.renewWG.Done()
		ticker := time.NewTicker(m.LockTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.mu.Lock()
				lockID := m.lockID
				m.mu.Unlock()
				if lockID == "" {
					return
				}
				if _, err := m.Backend.Renew(ctx, m.Stack, lockID, m.LockTTL); err != nil {
					m.Logger.Error("lock renewal failed, renewal stopped", "stack", m.Stack, "error", err)
					return
				}
			}
		}
	}()
}

func (m *Machine) stopRenewal() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.renewWG.Wait()
}

// Phase returns the machine's current lifecycle phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}
