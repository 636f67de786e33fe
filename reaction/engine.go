/*
engine.go - The reaction engine

PURPOSE:
  Single entry point for like/dislike toggles on every target type. Replaces
  per-controller copies of the same accounting with one parameterized
  implementation.

FLOW (per ApplyReaction):
  1. Acquire the (actor, target) pair lock
  2. Open a pair-scoped store transaction (WithPair)
  3. Load target, lock actor/owner/platform rows in id order, check
     self-reaction policy
  4. Load current reaction, plan the transition
  5. Check the actor's balance against the required cost
  6. Apply actor / owner / platform legs, reaction state, counters, journal
  7. Commit; on any error everything rolls back

RETRIES:
  A datastore concurrency conflict re-runs the whole toggle once. The
  retry re-reads state, so it applies the toggle to whatever is current.

OWNER PENALTY FLOOR:
  A dislike debits the owner. If the owner holds less than the penalty, the
  debit is clamped to what they hold; balances never go negative and the
  actor is not blocked by someone else's balance.
*/
package reaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/nuxni/reaction-engine/generic"
	"github.com/nuxni/reaction-engine/lock"
	"github.com/nuxni/reaction-engine/logger"
	"github.com/nuxni/reaction-engine/metrics"
	"github.com/nuxni/reaction-engine/telemetry"
)

// Config wires the engine's collaborators.
type Config struct {
	// PlatformAccount receives the platform leg of every toggle.
	PlatformAccount generic.AccountID

	// Policies defaults to NewPolicySet() when nil.
	Policies *PolicySet

	// Locker defaults to an in-process lock.Local when nil.
	Locker lock.Locker
}

// Engine applies reaction toggles.
type Engine struct {
	store    generic.TxStore
	platform generic.AccountID
	policies *PolicySet
	locker   lock.Locker
	now      func() time.Time
}

// Result is the outcome of a committed toggle.
type Result struct {
	Target          generic.Target
	Previous        State
	State           State
	Transition      Transition
	ActorBalance    generic.Amount
	OwnerBalance    generic.Amount
	PlatformBalance generic.Amount
	Entries         []generic.Entry
}

func NewEngine(store generic.TxStore, cfg Config) *Engine {
	if cfg.Policies == nil {
		cfg.Policies = NewPolicySet()
	}
	if cfg.Locker == nil {
		cfg.Locker = lock.NewLocal()
	}
	return &Engine{
		store:    store,
		platform: cfg.PlatformAccount,
		policies: cfg.Policies,
		locker:   cfg.Locker,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Policies exposes the live policy set.
func (e *Engine) Policies() *PolicySet { return e.policies }

// PlatformAccount returns the injected platform account ID.
func (e *Engine) PlatformAccount() generic.AccountID { return e.platform }

// VerifyPlatform checks that the platform account exists. Call once at startup.
func (e *Engine) VerifyPlatform(ctx context.Context) error {
	if e.platform == "" {
		return errors.New("platform account is not configured")
	}
	if _, err := e.store.Account(ctx, e.platform); err != nil {
		return fmt.Errorf("platform account %s: %w", e.platform, err)
	}
	return nil
}

// ReactionState returns the actor's current reaction on a target.
func (e *Engine) ReactionState(ctx context.Context, actor generic.AccountID, ref generic.TargetRef) (State, error) {
	if _, err := e.store.Target(ctx, ref); err != nil {
		return None, err
	}
	return e.store.Reaction(ctx, actor, ref)
}

// ApplyReaction toggles action for actor on ref.
func (e *Engine) ApplyReaction(ctx context.Context, actor generic.AccountID, ref generic.TargetRef, action Action) (*Result, error) {
	if ref.Type == nil {
		return nil, generic.ErrUnknownTargetType
	}
	typeID := ref.Type.TypeID()
	m := metrics.Get()
	start := time.Now()
	defer func() {
		m.ApplyDuration.WithLabelValues(typeID).Observe(time.Since(start).Seconds())
	}()

	ctx, span := telemetry.Tracer().Start(ctx, "reaction.ApplyReaction")
	defer span.End()
	span.SetAttributes(
		attribute.String("pp.actor", string(actor)),
		attribute.String("pp.target", ref.Key()),
		attribute.String("pp.action", string(action)),
	)

	if _, err := ParseAction(string(action)); err != nil {
		return nil, err
	}

	unlock, err := e.locker.Lock(ctx, lock.PairKey(string(actor), ref.Key()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", generic.ErrConcurrencyConflict, err)
	}
	defer unlock()

	res, err := e.apply(ctx, actor, ref, action)
	if err != nil && generic.IsRetryable(err) {
		m.ConflictRetries.Inc()
		logger.Log.Debug("retrying reaction after conflict",
			zap.String("actor", string(actor)),
			zap.String("target", ref.Key()),
			zap.Error(err),
		)
		res, err = e.apply(ctx, actor, ref, action)
	}

	if err != nil {
		m.ReactionsRejected.WithLabelValues(typeID, rejectReason(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	m.ReactionsApplied.WithLabelValues(typeID, res.Transition.Name).Inc()
	m.PointsMoved.WithLabelValues("actor").Add(absFloat(res.Transition.Leg.Actor))
	m.PointsMoved.WithLabelValues("platform").Add(absFloat(res.Transition.Leg.Platform))
	for _, entry := range res.Entries {
		if entry.Kind == generic.EntryReactionReward || entry.Kind == generic.EntryReactionPenalty {
			m.PointsMoved.WithLabelValues("owner").Add(absFloat(entry.Delta))
		}
	}
	span.SetAttributes(attribute.String("pp.transition", res.Transition.Name))

	logger.Log.Info("reaction applied",
		zap.String("actor", string(actor)),
		zap.String("target", ref.Key()),
		zap.String("transition", res.Transition.Name),
		zap.Int64("likes", res.Target.LikeCount),
		zap.Int64("dislikes", res.Target.DislikeCount),
		zap.String("actor_balance", res.ActorBalance.String()),
	)
	return res, nil
}

func (e *Engine) apply(ctx context.Context, actor generic.AccountID, ref generic.TargetRef, action Action) (*Result, error) {
	var res *Result
	err := e.store.WithPair(ctx, actor, ref, func(s generic.Store) error {
		target, err := s.Target(ctx, ref)
		if err != nil {
			return err
		}
		if l, ok := s.(generic.AccountLocker); ok {
			if err := l.LockAccounts(ctx, generic.LockOrder(actor, target.OwnerID, e.platform)...); err != nil {
				return err
			}
		}

		policy := e.policies.For(ref.Type)
		if actor == target.OwnerID && policy.SelfReaction == SelfForbid {
			return fmt.Errorf("%w on %s", generic.ErrSelfReaction, ref)
		}

		current, err := s.Reaction(ctx, actor, ref)
		if err != nil {
			return err
		}

		tr, err := Plan(current, action, policy.Costs)
		if err != nil {
			return err
		}

		available, err := s.Balance(ctx, actor)
		if err != nil {
			return err
		}
		if available.LessThan(tr.Required) {
			return &generic.InsufficientBalanceError{
				AccountID: actor,
				Required:  tr.Required,
				Available: available,
			}
		}

		entries, err := e.applyLegs(ctx, s, actor, target, tr)
		if err != nil {
			return err
		}

		if err := s.SetReaction(ctx, actor, ref, tr.To); err != nil {
			return err
		}
		if err := s.AdjustCounters(ctx, ref, tr.LikeDelta, tr.DislikeDelta); err != nil {
			return err
		}
		if err := s.AppendEntries(ctx, entries); err != nil {
			return err
		}

		res = &Result{
			Previous:   current,
			State:      tr.To,
			Transition: tr,
			Entries:    entries,
		}
		if res.Target, err = s.Target(ctx, ref); err != nil {
			return err
		}
		if res.ActorBalance, err = s.Balance(ctx, actor); err != nil {
			return err
		}
		if res.OwnerBalance, err = s.Balance(ctx, target.OwnerID); err != nil {
			return err
		}
		res.PlatformBalance, err = s.Balance(ctx, e.platform)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// applyLegs moves the points of one transition in order: actor, owner,
// platform. Legs on the same account compose.
func (e *Engine) applyLegs(ctx context.Context, s generic.Store, actor generic.AccountID, target generic.Target, tr Transition) ([]generic.Entry, error) {
	now := e.now()
	var entries []generic.Entry
	record := func(account generic.AccountID, delta generic.Amount, kind generic.EntryKind) {
		entries = append(entries, generic.Entry{
			ID:         generic.NewEntryID(),
			AccountID:  account,
			Delta:      delta,
			Kind:       kind,
			Target:     target.Ref,
			ActorID:    actor,
			Transition: tr.Name,
			CreatedAt:  now,
		})
	}

	if !tr.Leg.Actor.IsZero() {
		if err := move(ctx, s, actor, tr.Leg.Actor); err != nil {
			return nil, err
		}
		record(actor, tr.Leg.Actor, generic.EntryReactionCharge)
	}

	switch {
	case tr.Leg.Owner.IsPositive():
		if err := s.Credit(ctx, target.OwnerID, tr.Leg.Owner); err != nil {
			return nil, err
		}
		record(target.OwnerID, tr.Leg.Owner, generic.EntryReactionReward)
	case tr.Leg.Owner.IsNegative():
		held, err := s.Balance(ctx, target.OwnerID)
		if err != nil {
			return nil, err
		}
		penalty := tr.Leg.Owner.Abs().Min(held)
		if penalty.IsPositive() {
			if err := s.Debit(ctx, target.OwnerID, penalty); err != nil {
				return nil, err
			}
			record(target.OwnerID, penalty.Neg(), generic.EntryReactionPenalty)
		}
	}

	if !tr.Leg.Platform.IsZero() {
		if err := move(ctx, s, e.platform, tr.Leg.Platform); err != nil {
			return nil, err
		}
		record(e.platform, tr.Leg.Platform, generic.EntryPlatformFee)
	}
	return entries, nil
}

func move(ctx context.Context, s generic.Store, id generic.AccountID, delta generic.Amount) error {
	if delta.IsNegative() {
		return s.Debit(ctx, id, delta.Abs())
	}
	return s.Credit(ctx, id, delta)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, generic.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, generic.ErrSelfReaction):
		return "self_reaction"
	case generic.IsNotFound(err):
		return "not_found"
	case errors.Is(err, generic.ErrConcurrencyConflict):
		return "conflict"
	case errors.Is(err, generic.ErrInvalidReaction):
		return "invalid"
	default:
		return "error"
	}
}

func absFloat(a generic.Amount) float64 {
	f, _ := a.Abs().Value.Float64()
	return f
}
