package orchestrator

import "context"

// NoopStrategy is the default when no decision layer is plugged in: the
// core still reconciles, enforces caps and serves the operator surface, it
// just never opens positions on its own.
type NoopStrategy struct{}

func (NoopStrategy) Decide(ctx context.Context, accountID uint, exchange string) ([]Intent, error) {
	return nil, nil
}
