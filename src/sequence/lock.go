package sequence

import "context"

// CallLock serializes the whole request-build-sign-send-receive sequence for
// one credential scope. Exchanges that validate a per-credential request
// counter reject any interleaving, so the holder keeps the lock across the
// network call, not just across Next().
type CallLock struct {
	sem chan struct{}
}

func NewCallLock() *CallLock {
	return &CallLock{sem: make(chan struct{}, 1)}
}

// Acquire blocks until the lock is held or ctx expires. The wait is always
// bounded by the surrounding call's deadline.
func (l *CallLock) Acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees the lock. Must only be called by the current holder.
func (l *CallLock) Release() {
	<-l.sem
}
