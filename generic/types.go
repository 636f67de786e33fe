/*
Package generic provides the core points-ledger vocabulary.

PURPOSE:
  This package contains domain-agnostic types shared by the reaction engine,
  the stores and the API. It knows about accounts, balances, reactable
  targets and journal entries, but nothing about what a "like" costs.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A point quantity ("pp"), always whole points
  - AccountID / TargetRef: Type-safe identifiers
  - Account / Target: Stored records the engine reads and mutates
  - Entry: An immutable journal record of one balance movement

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal so arithmetic never drifts
  2. Type Safety: Distinct ID types prevent mixing accounts and targets
  3. Auditability: Every balance change has a journal entry

USAGE:
  cost := generic.Points(24)
  entry := generic.Entry{
      AccountID: "42",
      Delta:     cost.Neg(),
      Kind:      generic.EntryReactionCharge,
  }

SEE ALSO:
  - store.go: Persistence interfaces
  - ledger.go: Journal replay
  - errors.go: Error taxonomy
*/
package generic

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Point quantity
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const UnitPoints Unit = "pp"

// Points returns a whole-point amount.
func Points(n int64) Amount {
	return Amount{Value: decimal.NewFromInt(n), Unit: UnitPoints}
}

// ZeroPoints is the additive identity.
func ZeroPoints() Amount { return Points(0) }

// ParseAmount parses a decimal string into a point amount.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if !d.Equal(d.Truncate(0)) {
		return Amount{}, fmt.Errorf("invalid amount %q: points are whole numbers", s)
	}
	return Amount{Value: d, Unit: UnitPoints}, nil
}

func (a Amount) Add(b Amount) Amount       { return Amount{Value: a.Value.Add(b.Value), Unit: UnitPoints} }
func (a Amount) Sub(b Amount) Amount       { return Amount{Value: a.Value.Sub(b.Value), Unit: UnitPoints} }
func (a Amount) Neg() Amount               { return Amount{Value: a.Value.Neg(), Unit: UnitPoints} }
func (a Amount) Abs() Amount               { return Amount{Value: a.Value.Abs(), Unit: UnitPoints} }
func (a Amount) IsNegative() bool          { return a.Value.IsNegative() }
func (a Amount) IsZero() bool              { return a.Value.IsZero() }
func (a Amount) IsPositive() bool          { return a.Value.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool    { return a.Value.LessThan(b.Value) }
func (a Amount) Equal(b Amount) bool       { return a.Value.Equal(b.Value) }
func (a Amount) Int64() int64              { return a.Value.IntPart() }
func (a Amount) String() string            { return a.Value.String() }

func (a Amount) Min(b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type EntryID string

// TargetType identifies what kind of entity is being reacted to.
// This is an interface so domain packages define their own concrete types;
// the generic package has no knowledge of posts or lessons.
type TargetType interface {
	// TypeID returns the unique identifier for this target type.
	TypeID() string

	// TypeDomain returns which domain this target type belongs to.
	TypeDomain() string
}

// TargetRef addresses one reactable entity.
type TargetRef struct {
	Type TargetType
	ID   string
}

func (r TargetRef) String() string {
	if r.Type == nil {
		return "?/" + r.ID
	}
	return r.Type.TypeID() + "/" + r.ID
}

// Key returns a stable string key for maps and locks.
func (r TargetRef) Key() string { return r.String() }

// =============================================================================
// RECORDS
// =============================================================================

type Account struct {
	ID        AccountID
	Name      string
	Balance   Amount
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Target struct {
	Ref          TargetRef
	OwnerID      AccountID
	LikeCount    int64
	DislikeCount int64
	CreatedAt    time.Time
}

// =============================================================================
// JOURNAL ENTRY - Immutable record of one balance movement
// =============================================================================

type EntryKind string

const (
	EntryOpening         EntryKind = "opening"          // Initial balance when the account is opened
	EntryReactionCharge  EntryKind = "reaction_charge"  // Actor pays for a reaction toggle
	EntryReactionReward  EntryKind = "reaction_reward"  // Owner earns from a like
	EntryReactionPenalty EntryKind = "reaction_penalty" // Owner loses from a dislike
	EntryPlatformFee     EntryKind = "platform_fee"     // Platform cut of a toggle
)

type Entry struct {
	ID         EntryID
	AccountID  AccountID
	Delta      Amount
	Kind       EntryKind
	Target     TargetRef
	ActorID    AccountID
	Transition string
	CreatedAt  time.Time
}
