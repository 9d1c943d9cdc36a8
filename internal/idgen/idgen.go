// Package idgen derives deterministic node ids from paths, since a node's
// id must be a pure function of its path, and mints the random identifiers
// (lock holders, audit entries) that must be unique but need not be
// deterministic.
package idgen

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
	hashiuuid "github.com/hashicorp/go-uuid"

	"github.com/cloudrt/cloudrt/internal/addr"
)

// NodeID is a pure function of a path: same path, same id, forever. Using a
// content hash rather than the raw path string keeps ids a fixed, storage
// friendly shape while remaining fully deterministic.
func NodeID(p addr.Path) string {
	sum := sha256.Sum256([]byte(p.String()))
	return "node-" + hex.EncodeToString(sum[:])[:24]
}

// LockHolder mints a random identifier for one deployment attempt's lock
// ownership, via hashicorp/go-uuid.
func LockHolder() string {
	id, err := hashiuuid.GenerateUUID()
	if err != nil {
		// GenerateUUID only fails if the system CSPRNG is unavailable; a
		// process in that state cannot safely coordinate a distributed lock
		// either way, so we surface a fixed sentinel instead of panicking.
		return "holder-unavailable"
	}
	return id
}

// AuditID mints a correlation id for one audit-log entry or change-set.
func AuditID() string {
	return uuid.New().String()
}
