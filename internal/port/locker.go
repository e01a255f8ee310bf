package port

import "context"

// Locker provides per-key mutual exclusion with a bounded wait. When the key
// cannot be obtained in time Acquire fails with domain.ErrConflict.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
