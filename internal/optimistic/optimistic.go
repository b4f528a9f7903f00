// Package optimistic applies a local update before a remote mutation and
// restores a snapshot when the mutation fails.
package optimistic

import "context"

// Mutation describes one optimistic update over local state of type S
// whose remote operation yields R.
type Mutation[S, R any] struct {
	// Snapshot captures the state to restore on failure
	Snapshot func() S
	// Apply performs the local update
	Apply func()
	// Remote performs the real operation
	Remote func(ctx context.Context) (R, error)
	// Rollback restores the snapshot
	Rollback func(S)
	// Settled runs after a successful remote call (invalidate, refetch)
	Settled func(R)
}

// Mutate runs snapshot, apply, remote, then settled or rollback
func Mutate[S, R any](ctx context.Context, m Mutation[S, R]) (R, error) {
	var snap S
	if m.Snapshot != nil {
		snap = m.Snapshot()
	}
	if m.Apply != nil {
		m.Apply()
	}

	res, err := m.Remote(ctx)
	if err != nil {
		if m.Rollback != nil {
			m.Rollback(snap)
		}
		var zero R
		return zero, err
	}

	if m.Settled != nil {
		m.Settled(res)
	}
	return res, nil
}
