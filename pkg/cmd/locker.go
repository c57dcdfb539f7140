package cmd

import (
	"github.com/lumahr/approvalflow/pkg/locker"
)

// NewLocker selects the per-instance locker. A redis:// URL enables the
// distributed lock for multi-replica deployments; otherwise decisions are
// serialized in-process.
func NewLocker(lockURL string) locker.Locker {
	if lockURL == "" {
		return locker.NewMemoryLocker()
	}

	l, err := locker.NewRedisLocker(lockURL)
	if err != nil {
		panic("failed to initialize redis locker: " + err.Error())
	}

	return l
}
