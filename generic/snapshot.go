package generic

import (
	"context"
	"errors"
)

// =============================================================================
// SNAPSHOT - Frozen view of everything one toggle can touch
// =============================================================================

// Snapshot captures the balances, reaction state and counters around one
// (actor, target) pair. Two snapshots taken before and after a rejected
// toggle must be equal.
type Snapshot struct {
	Actor    Account
	Owner    Account
	Platform Account
	Target   Target
	State    ReactionState
}

// TakeSnapshot reads the pair's current state from the store.
func TakeSnapshot(ctx context.Context, s Store, actor AccountID, ref TargetRef, platform AccountID) (Snapshot, error) {
	var snap Snapshot
	var err error

	if snap.Target, err = s.Target(ctx, ref); err != nil {
		return snap, err
	}
	if snap.Actor, err = s.Account(ctx, actor); err != nil {
		return snap, err
	}
	if snap.Owner, err = s.Account(ctx, snap.Target.OwnerID); err != nil && !errors.Is(err, ErrAccountNotFound) {
		return snap, err
	}
	if snap.Platform, err = s.Account(ctx, platform); err != nil {
		return snap, err
	}
	snap.State, err = s.Reaction(ctx, actor, ref)
	return snap, err
}

// Equal compares the values that matter, ignoring timestamps.
func (s Snapshot) Equal(o Snapshot) bool {
	return s.Actor.Balance.Equal(o.Actor.Balance) &&
		s.Owner.Balance.Equal(o.Owner.Balance) &&
		s.Platform.Balance.Equal(o.Platform.Balance) &&
		s.Target.LikeCount == o.Target.LikeCount &&
		s.Target.DislikeCount == o.Target.DislikeCount &&
		s.State == o.State
}
