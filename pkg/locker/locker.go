// Package locker provides the per-instance mutual-exclusion scope that
// serializes decisions: at most one in-flight transition per instance. The
// memory implementation covers a single process; the redis implementation
// covers multi-node deployments.
package locker

import "context"

// UnlockFunc releases a held lock. It must be called exactly once, on every
// exit path of the guarded section.
type UnlockFunc func()

type Locker interface {
	// Acquire blocks until the lock for the key is held or the context is
	// done. The returned UnlockFunc releases it.
	Acquire(ctx context.Context, key string) (UnlockFunc, error)
}
