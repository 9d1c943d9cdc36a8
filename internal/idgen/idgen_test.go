package idgen

import (
	"testing"

	"github.com/cloudrt/cloudrt/internal/addr"
)

func TestNodeIDIsDeterministic(t *testing.T) {
	p := addr.Path{addr.NewKeyedSegment("Bucket", "primary")}
	a := NodeID(p)
	b := NodeID(p)
	if a != b {
		t.Fatalf("expected NodeID to be a pure function of the path, got %q and %q", a, b)
	}
}

func TestNodeIDDiffersAcrossPaths(t *testing.T) {
	a := NodeID(addr.Path{addr.NewKeyedSegment("Bucket", "primary")})
	b := NodeID(addr.Path{addr.NewKeyedSegment("Bucket", "secondary")})
	if a == b {
		t.Fatalf("expected distinct paths to hash to distinct node ids, both were %q", a)
	}
}

func TestLockHolderIsUniquePerCall(t *testing.T) {
	a := LockHolder()
	b := LockHolder()
	if a == "" || b == "" {
		t.Fatalf("expected non-empty lock holder ids")
	}
	if a == b {
		t.Fatalf("expected two successive LockHolder calls to mint distinct ids")
	}
}

func TestAuditIDIsUniquePerCall(t *testing.T) {
	a := AuditID()
	b := AuditID()
	if a == b {
		t.Fatalf("expected two successive AuditID calls to mint distinct ids")
	}
}
