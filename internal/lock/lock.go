// Package lock declares the mutual exclusion used to keep a single send loop
// per campaign across processes.
package lock

import (
	"context"
	"errors"
)

// ErrLockLost is returned by Extend when another owner holds the key.
var ErrLockLost = errors.New("lock no longer owned")

// Locker hands out named leases.
type Locker interface {
	// Acquire returns ok=false without error when the key is already held.
	Acquire(ctx context.Context, key string) (lease Lease, ok bool, err error)
}

// Lease is a held lock.
type Lease interface {
	Extend(ctx context.Context) error
	Release(ctx context.Context) error
}
