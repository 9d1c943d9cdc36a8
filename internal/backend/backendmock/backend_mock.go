// Package backendmock is a hand-authored stand-in for what
// `mockgen -source=internal/backend/contract.go` would generate: a
// go.uber.org/mock/gomock mock of the Backend interface, used by
// statemachine tests that need to control exactly when a backend call
// fails (e.g. to exercise internal/retry's transient-error handling)
// without a real in-memory or filesystem backend's behavior getting in the
// way. Kept by hand rather than code-generated because this module never
// invokes the Go toolchain (so `go run go.uber.org/mock/mockgen` cannot run
// here); the shape mirrors mockgen's generated recorder pattern exactly.
package backendmock

import (
	"context"
	"reflect"
	"time"

	"go.uber.org/mock/gomock"

	"github.com/cloudrt/cloudrt/internal/backend"
)

// MockBackend is a mock of the backend.Backend interface.
type MockBackend struct {
	ctrl     *gomock.Controller
	recorder *MockBackendMockRecorder
}

// MockBackendMockRecorder is the recorder for MockBackend.
type MockBackendMockRecorder struct {
	mock *MockBackend
}

// NewMockBackend constructs a new mock.
func NewMockBackend(ctrl *gomock.Controller) *MockBackend {
	m := &MockBackend{ctrl: ctrl}
	m.recorder = &MockBackendMockRecorder{m}
	return m
}

// EXPECT returns the recorder used to set up call expectations.
func (m *MockBackend) EXPECT() *MockBackendMockRecorder {
	return m.recorder
}

func (m *MockBackend) Read(ctx context.Context, stack string) (backend.Snapshot, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Read", ctx, stack)
	snap, _ := ret[0].(backend.Snapshot)
	err, _ := ret[1].(error)
	return snap, err
}

func (mr *MockBackendMockRecorder) Read(ctx, stack any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Read", reflect.TypeOf((*MockBackend)(nil).Read), ctx, stack)
}

func (m *MockBackend) Write(ctx context.Context, stack, lockID string, snap backend.Snapshot) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Write", ctx, stack, lockID, snap)
	err, _ := ret[0].(error)
	return err
}

func (mr *MockBackendMockRecorder) Write(ctx, stack, lockID, snap any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Write", reflect.TypeOf((*MockBackend)(nil).Write), ctx, stack, lockID, snap)
}

func (m *MockBackend) Lock(ctx context.Context, stack, holder string, ttl time.Duration) (backend.LockInfo, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Lock", ctx, stack, holder, ttl)
	info, _ := ret[0].(backend.LockInfo)
	err, _ := ret[1].(error)
	return info, err
}

func (mr *MockBackendMockRecorder) Lock(ctx, stack, holder, ttl any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Lock", reflect.TypeOf((*MockBackend)(nil).Lock), ctx, stack, holder, ttl)
}

func (m *MockBackend) Renew(ctx context.Context, stack, lockID string, ttl time.Duration) (backend.LockInfo, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Renew", ctx, stack, lockID, ttl)
	info, _ := ret[0].(backend.LockInfo)
	err, _ := ret[1].(error)
	return info, err
}

func (mr *MockBackendMockRecorder) Renew(ctx, stack, lockID, ttl any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Renew", reflect.TypeOf((*MockBackend)(nil).Renew), ctx, stack, lockID, ttl)
}

func (m *MockBackend) Unlock(ctx context.Context, stack, lockID string) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Unlock", ctx, stack, lockID)
	err, _ := ret[0].(error)
	return err
}

func (mr *MockBackendMockRecorder) Unlock(ctx, stack, lockID any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Unlock", reflect.TypeOf((*MockBackend)(nil).Unlock), ctx, stack, lockID)
}

func (m *MockBackend) AppendAudit(ctx context.Context, stack string, entry backend.AuditEntry) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "AppendAudit", ctx, stack, entry)
	err, _ := ret[0].(error)
	return err
}

func (mr *MockBackendMockRecorder) AppendAudit(ctx, stack, entry any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "AppendAudit", reflect.TypeOf((*MockBackend)(nil).AppendAudit), ctx, stack, entry)
}

var _ backend.Backend = (*MockBackend)(nil)
