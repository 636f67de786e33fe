/*
transition.go - The reaction transition table

PURPOSE:
  Turns (current state, requested action) into the new state, the balance
  deltas for actor / owner / platform, the counter deltas, and the balance
  the actor must hold before the toggle is allowed.

DEFAULT TABLE (A = actor, O = owner, P = platform):

  current   requested  new       A     O     P    counters
  none      like       liked     -24   +12   +12  like +1
  liked     like       none      -12    0    +12  like -1
  none      dislike    disliked  -12   -12   +24  dislike +1
  disliked  dislike    none      -12    0    +12  dislike -1
  disliked  like       liked     -24   +12   +12  dislike -1, like +1
  liked     dislike    disliked  -12   -12   +24  like -1, dislike +1

REQUIRED BALANCE:
  The actor must hold the cost of the transition's own actor leg. For a
  switch, that is the forward cost of the NEW reaction (like 24, dislike 12),
  not the net of removing the old one and adding the new one. A policy that
  prices the switch leg above the forward leg raises the requirement to the
  switch leg, so the check never passes a debit that would then fail.
  Nothing is refunded when a reaction is removed or switched.

VALID SCHEDULES:
  In every leg the actor pays (A <= 0), the platform earns (P >= 0) and
  O + P <= -A: a toggle may burn points, never create them.
*/
package reaction

import (
	"fmt"

	"github.com/nuxni/reaction-engine/generic"
)

// Leg holds the signed balance deltas of one transition.
type Leg struct {
	Actor    generic.Amount
	Owner    generic.Amount
	Platform generic.Amount
}

func leg(actor, owner, platform int64) Leg {
	return Leg{
		Actor:    generic.Points(actor),
		Owner:    generic.Points(owner),
		Platform: generic.Points(platform),
	}
}

// CostSchedule parameterizes the transition table.
type CostSchedule struct {
	Like          Leg // none -> liked
	Unlike        Leg // liked -> none
	Dislike       Leg // none -> disliked
	Undislike     Leg // disliked -> none
	DislikeToLike Leg // disliked -> liked
	LikeToDislike Leg // liked -> disliked
}

// DefaultCosts returns the platform's standard point costs.
func DefaultCosts() CostSchedule {
	return CostSchedule{
		Like:          leg(-24, 12, 12),
		Unlike:        leg(-12, 0, 12),
		Dislike:       leg(-12, -12, 24),
		Undislike:     leg(-12, 0, 12),
		DislikeToLike: leg(-24, 12, 12),
		LikeToDislike: leg(-12, -12, 24),
	}
}

// Validate checks that actors only pay, the platform only earns, and no leg
// pays out more than the actor puts in.
func (c CostSchedule) Validate() error {
	legs := map[string]Leg{
		"like":            c.Like,
		"unlike":          c.Unlike,
		"dislike":         c.Dislike,
		"undislike":       c.Undislike,
		"dislike_to_like": c.DislikeToLike,
		"like_to_dislike": c.LikeToDislike,
	}
	for name, l := range legs {
		if l.Actor.IsPositive() {
			return fmt.Errorf("%s: actor delta must not be positive, got %s", name, l.Actor)
		}
		if l.Platform.IsNegative() {
			return fmt.Errorf("%s: platform delta must not be negative, got %s", name, l.Platform)
		}
		if paidOut := l.Owner.Add(l.Platform); paidOut.GreaterThan(l.Actor.Neg()) {
			return fmt.Errorf("%s: owner and platform receive %s but the actor pays %s", name, paidOut, l.Actor.Neg())
		}
	}
	return nil
}

// Transition is one planned row of the table.
type Transition struct {
	Name         string
	From         State
	To           State
	Leg          Leg
	Required     generic.Amount
	LikeDelta    int64
	DislikeDelta int64
}

// Plan looks up the transition for a toggle.
func Plan(current State, action Action, costs CostSchedule) (Transition, error) {
	switch action {
	case Like:
		switch current {
		case None:
			return Transition{Name: "like", From: None, To: Liked, Leg: costs.Like,
				Required: costs.Like.Actor.Neg(), LikeDelta: 1}, nil
		case Liked:
			return Transition{Name: "unlike", From: Liked, To: None, Leg: costs.Unlike,
				Required: costs.Unlike.Actor.Neg(), LikeDelta: -1}, nil
		case Disliked:
			return Transition{Name: "dislike_to_like", From: Disliked, To: Liked, Leg: costs.DislikeToLike,
				Required: switchRequired(costs.Like, costs.DislikeToLike), LikeDelta: 1, DislikeDelta: -1}, nil
		}
	case Dislike:
		switch current {
		case None:
			return Transition{Name: "dislike", From: None, To: Disliked, Leg: costs.Dislike,
				Required: costs.Dislike.Actor.Neg(), DislikeDelta: 1}, nil
		case Disliked:
			return Transition{Name: "undislike", From: Disliked, To: None, Leg: costs.Undislike,
				Required: costs.Undislike.Actor.Neg(), DislikeDelta: -1}, nil
		case Liked:
			return Transition{Name: "like_to_dislike", From: Liked, To: Disliked, Leg: costs.LikeToDislike,
				Required: switchRequired(costs.Dislike, costs.LikeToDislike), LikeDelta: -1, DislikeDelta: 1}, nil
		}
	default:
		return Transition{}, fmt.Errorf("%w: action %q", generic.ErrInvalidReaction, action)
	}
	return Transition{}, fmt.Errorf("%w: state %q", generic.ErrInvalidReaction, current)
}

// switchRequired is the forward cost of the new reaction, or the switch
// leg's own cost when that is higher.
func switchRequired(forward, switchLeg Leg) generic.Amount {
	required := forward.Actor.Neg()
	if own := switchLeg.Actor.Neg(); own.GreaterThan(required) {
		return own
	}
	return required
}
